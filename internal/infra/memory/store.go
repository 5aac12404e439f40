package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	authDomain "infodigest/internal/domain/auth"
	dm "infodigest/internal/domain/monitoring"
	ds "infodigest/internal/domain/scoring"
	authinfra "infodigest/internal/infrastructure/auth"
	"infodigest/internal/infrastructure/notify"
)

// Store 為無資料庫模式使用的記憶體儲存，實作監控引擎與 HTTP 層
// 需要的全部 repository 介面，主要供開發與測試。
type Store struct {
	mu        sync.RWMutex
	users     map[string]authDomain.User
	rules     map[string]dm.Rule
	focus     map[string]dm.FocusItem
	snapshots map[string]dm.MarketSnapshot
	bars      map[string][]dm.PriceBar
	news      map[string]dm.NewsItem
	contexts  map[string]ds.UserContext // userID|symbol
	devices   map[string][]string
	triggers  []dm.TriggerEvent
	pushLogs  []notify.DeliveryLog
	idSeq     int64
	nowFunc   func() time.Time
}

// NewStore 建立新的記憶體 Store 實例。
func NewStore() *Store {
	return &Store{
		users:     make(map[string]authDomain.User),
		rules:     make(map[string]dm.Rule),
		focus:     make(map[string]dm.FocusItem),
		snapshots: make(map[string]dm.MarketSnapshot),
		bars:      make(map[string][]dm.PriceBar),
		news:      make(map[string]dm.NewsItem),
		contexts:  make(map[string]ds.UserContext),
		devices:   make(map[string][]string),
		nowFunc:   time.Now,
	}
}

// ID generator (simple incremental).
func (s *Store) nextID() string {
	s.idSeq++
	return fmt.Sprintf("id-%d", s.idSeq)
}

// SeedUsers 建立預設帳號供登入測試。
func (s *Store) SeedUsers() {
	hash := func(p string) string {
		h, err := authinfra.HashPassword(p)
		if err != nil {
			return p
		}
		return h
	}
	s.addUser("admin@example.com", hash("password123"), "Admin", authDomain.RoleAdmin)
	s.addUser("user@example.com", hash("password123"), "User", authDomain.RoleUser)
}

func (s *Store) addUser(email, password, name string, role authDomain.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	s.users[id] = authDomain.User{
		ID:       id,
		Email:    email,
		Name:     name,
		Role:     role,
		Status:   authDomain.StatusActive,
		Password: password,
	}
}

// UserRepository impl
// FindByEmail 依 email 查詢使用者。
func (s *Store) FindByEmail(_ context.Context, email string) (authDomain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return authDomain.User{}, fmt.Errorf("user not found")
}

// FindByID 依 ID 查詢使用者。
func (s *Store) FindByID(_ context.Context, id string) (authDomain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return authDomain.User{}, fmt.Errorf("user not found")
	}
	return u, nil
}

// RuleRepository impl

// InsertRule 寫入規則；ID 留空時自動配號。
func (s *Store) InsertRule(rule dm.Rule) dm.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == "" {
		rule.ID = s.nextID()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = s.nowFunc()
	}
	s.rules[rule.ID] = rule
	return rule
}

// CreateRule 新增規則。
func (s *Store) CreateRule(_ context.Context, rule dm.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule %s already exists", rule.ID)
	}
	s.rules[rule.ID] = rule
	return nil
}

// ListActiveRules 回傳啟用中的規則，依優先度高者在前。
func (s *Store) ListActiveRules(_ context.Context) ([]dm.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []dm.Rule
	for _, r := range s.rules {
		if r.Status == dm.StatusActive {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListRulesByUser 回傳使用者的全部規則，新的在前。
func (s *Store) ListRulesByUser(_ context.Context, userID string) ([]dm.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []dm.Rule
	for _, r := range s.rules {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetRule 依 ID 查詢規則。
func (s *Store) GetRule(_ context.Context, id string) (dm.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return dm.Rule{}, fmt.Errorf("rule not found")
	}
	return r, nil
}

// UpdateRuleStatus 更新規則狀態，僅允許本人操作。
func (s *Store) UpdateRuleStatus(_ context.Context, id, userID string, status dm.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok || r.UserID != userID {
		return fmt.Errorf("rule not found")
	}
	r.Status = status
	s.rules[id] = r
	return nil
}

// DeleteRule 刪除規則，僅允許本人操作。
func (s *Store) DeleteRule(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok || r.UserID != userID {
		return fmt.Errorf("rule not found")
	}
	delete(s.rules, id)
	return nil
}

// RecordTrigger 記錄觸發並更新規則統計。
func (s *Store) RecordTrigger(_ context.Context, ev dm.TriggerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, ev)
	if r, ok := s.rules[ev.RuleID]; ok {
		at := ev.At
		r.LastTriggeredAt = &at
		r.TriggerCount++
		s.rules[ev.RuleID] = r
	}
	return nil
}

// Triggers 回傳全部觸發紀錄（測試用）。
func (s *Store) Triggers() []dm.TriggerEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]dm.TriggerEvent, len(s.triggers))
	copy(out, s.triggers)
	return out
}

// InsertFocus 寫入臨時關注；ID 留空時自動配號。
func (s *Store) InsertFocus(item dm.FocusItem) dm.FocusItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		item.ID = s.nextID()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.nowFunc()
	}
	if item.Status == "" {
		item.Status = dm.FocusMonitoring
	}
	s.focus[item.ID] = item
	return item
}

// CreateFocus 新增臨時關注。
func (s *Store) CreateFocus(_ context.Context, item dm.FocusItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.focus[item.ID]; exists {
		return fmt.Errorf("focus %s already exists", item.ID)
	}
	s.focus[item.ID] = item
	return nil
}

// ListActiveFocus 回傳監控中的臨時關注。
func (s *Store) ListActiveFocus(_ context.Context) ([]dm.FocusItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []dm.FocusItem
	for _, f := range s.focus {
		if f.Status == dm.FocusMonitoring {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListFocusByUser 回傳使用者的全部臨時關注，新的在前。
func (s *Store) ListFocusByUser(_ context.Context, userID string) ([]dm.FocusItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []dm.FocusItem
	for _, f := range s.focus {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CancelFocus 將臨時關注標記為已完成，僅允許本人操作。
func (s *Store) CancelFocus(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.focus[id]
	if !ok || f.UserID != userID || f.Status != dm.FocusMonitoring {
		return fmt.Errorf("focus not found")
	}
	f.Status = dm.FocusCompleted
	s.focus[id] = f
	return nil
}

// ExpireFocusItem 將單一臨時關注標記為過期。
func (s *Store) ExpireFocusItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.focus[id]
	if !ok {
		return fmt.Errorf("focus not found")
	}
	f.Status = dm.FocusExpired
	s.focus[id] = f
	return nil
}

// MarkExpiredFocus 將全部到期的臨時關注標記為過期。
func (s *Store) MarkExpiredFocus(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, f := range s.focus {
		if f.Status == dm.FocusMonitoring && f.Expired(now) {
			f.Status = dm.FocusExpired
			s.focus[id] = f
			n++
		}
	}
	return n, nil
}

// SnapshotSource impl

// SetSnapshot 設定標的快照（測試與種子資料用）。
func (s *Store) SetSnapshot(symbol string, snap dm.MarketSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.Symbol = symbol
	s.snapshots[symbol] = snap
}

// GetSnapshot 回傳標的快照；無資料時回傳僅含代號的空快照。
func (s *Store) GetSnapshot(_ context.Context, symbol string) (dm.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[symbol]
	if !ok {
		return dm.MarketSnapshot{Symbol: symbol, FetchedAt: s.nowFunc()}, nil
	}
	snap.FetchedAt = s.nowFunc()
	return snap, nil
}

// SetBars 設定標的歷史 K 線（由舊到新）。
func (s *Store) SetBars(symbol string, bars []dm.PriceBar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars[symbol] = bars
}

// ListSymbols 回傳有 K 線資料的標的。
func (s *Store) ListSymbols(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for symbol := range s.bars {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out, nil
}

// RecentBars 回傳標的最近 limit 筆 K 線，由舊到新。
func (s *Store) RecentBars(_ context.Context, symbol string, limit int) ([]dm.PriceBar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bars := s.bars[symbol]
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	out := make([]dm.PriceBar, len(bars))
	copy(out, bars)
	return out, nil
}

// SaveTechnicals 將技術指標併入標的快照。
func (s *Store) SaveTechnicals(_ context.Context, symbol string, tech dm.Technicals) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshots[symbol]
	snap.Symbol = symbol
	snap.Technical = &tech
	s.snapshots[symbol] = snap
	return nil
}

// NewsSource impl

// InsertNews 寫入新聞事件；ID 留空時自動配號。
func (s *Store) InsertNews(item dm.NewsItem) dm.NewsItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		item.ID = s.nextID()
	}
	s.news[item.ID] = item
	return item
}

// RecentNews 回傳標的在時間窗內的新聞，新的在前。
func (s *Store) RecentNews(_ context.Context, symbol string, window time.Duration) ([]dm.NewsItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.nowFunc().Add(-window)
	var out []dm.NewsItem
	for _, n := range s.news {
		if n.PublishedAt.Before(cutoff) {
			continue
		}
		for _, sym := range n.Symbols {
			if sym == symbol {
				out = append(out, n)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	return out, nil
}

// UnprocessedEvents 回傳尚未處理且重要性達標的事件。
func (s *Store) UnprocessedEvents(_ context.Context, minImportance float64, limit int) ([]dm.NewsItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []dm.NewsItem
	for _, n := range s.news {
		if !n.Processed && n.ImportanceScore >= minImportance {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ImportanceScore != out[j].ImportanceScore {
			return out[i].ImportanceScore > out[j].ImportanceScore
		}
		return out[i].PublishedAt.After(out[j].PublishedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkEventProcessed 將事件標記為已處理。
func (s *Store) MarkEventProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.news[id]
	if !ok {
		return fmt.Errorf("news not found")
	}
	n.Processed = true
	s.news[id] = n
	return nil
}

// UserContextSource impl

// SetUserContext 設定使用者與標的的關聯。
func (s *Store) SetUserContext(userID, symbol string, uc ds.UserContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[userID+"|"+symbol] = uc
}

// UsersForSymbol 回傳與標的有持倉或自選關聯的使用者。
func (s *Store) UsersForSymbol(_ context.Context, symbol string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for key, uc := range s.contexts {
		if !uc.InPortfolio && !uc.InWatchlist {
			continue
		}
		sep := -1
		for i := range key {
			if key[i] == '|' {
				sep = i
				break
			}
		}
		if sep > 0 && key[sep+1:] == symbol {
			out = append(out, key[:sep])
		}
	}
	sort.Strings(out)
	return out, nil
}

// Context 回傳使用者與標的的關聯。
func (s *Store) Context(_ context.Context, userID, symbol string) (ds.UserContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contexts[userID+"|"+symbol], nil
}

// DeviceSource impl

// AddDevice 註冊使用者的推播裝置。
func (s *Store) AddDevice(userID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[userID] = append(s.devices[userID], token)
}

// DeviceTokens 回傳使用者的推播裝置。
func (s *Store) DeviceTokens(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.devices[userID]))
	copy(out, s.devices[userID])
	return out, nil
}

// InsertPushLog 寫入推播紀錄。
func (s *Store) InsertPushLog(_ context.Context, entry notify.DeliveryLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushLogs = append(s.pushLogs, entry)
	return nil
}

// PushLogs 回傳全部推播紀錄（測試用）。
func (s *Store) PushLogs() []notify.DeliveryLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]notify.DeliveryLog, len(s.pushLogs))
	copy(out, s.pushLogs)
	return out
}
