package monitoring

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	appnotif "infodigest/internal/application/notification"
	appscoring "infodigest/internal/application/scoring"
	dm "infodigest/internal/domain/monitoring"
	dn "infodigest/internal/domain/notification"
	ds "infodigest/internal/domain/scoring"
)

// SnapshotSource 提供單一標的的最新市場快照。
type SnapshotSource interface {
	GetSnapshot(ctx context.Context, symbol string) (dm.MarketSnapshot, error)
}

// NewsSource 提供新聞事件查詢與處理標記。
type NewsSource interface {
	RecentNews(ctx context.Context, symbol string, window time.Duration) ([]dm.NewsItem, error)
	UnprocessedEvents(ctx context.Context, minImportance float64, limit int) ([]dm.NewsItem, error)
	MarkEventProcessed(ctx context.Context, id string) error
}

// RuleRepository 提供監控規則與臨時關注的讀取與狀態更新。
type RuleRepository interface {
	ListActiveRules(ctx context.Context) ([]dm.Rule, error)
	ListActiveFocus(ctx context.Context) ([]dm.FocusItem, error)
	RecordTrigger(ctx context.Context, ev dm.TriggerEvent) error
	ExpireFocusItem(ctx context.Context, id string) error
	MarkExpiredFocus(ctx context.Context, now time.Time) (int, error)
}

// UserContextSource 提供標的與使用者的關聯查詢。
type UserContextSource interface {
	UsersForSymbol(ctx context.Context, symbol string) ([]string, error)
	Context(ctx context.Context, userID, symbol string) (ds.UserContext, error)
}

// Scorer 計算事件重要性分數。
type Scorer interface {
	Score(in appscoring.Input) ds.Result
}

// Enqueuer 接收監控循環產生的通知。
type Enqueuer interface {
	Enqueue(n dn.Notification) appnotif.EnqueueResult
}

// Config 為監控引擎參數，零值欄位於 NewEngine 套用預設。
type Config struct {
	CheckInterval      time.Duration // 預設 60s
	FetchTimeout       time.Duration // 單次資料查詢逾時，預設 10s
	EventMinImportance float64       // 市場事件掃描門檻，預設 80
	EventBatchLimit    int           // 每輪處理的事件數上限，預設 10
}

func (c *Config) applyDefaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 60 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.EventMinImportance <= 0 {
		c.EventMinImportance = 80
	}
	if c.EventBatchLimit <= 0 {
		c.EventBatchLimit = 10
	}
}

// CycleStats 為單輪監控循環的統計。
type CycleStats struct {
	StrategiesChecked int           `json:"strategiesChecked"`
	Triggers          int           `json:"triggers"`
	FocusChecked      int           `json:"focusChecked"`
	FocusAlerts       int           `json:"focusAlerts"`
	FocusExpired      int           `json:"focusExpired"`
	EventsProcessed   int           `json:"eventsProcessed"`
	Enqueued          int           `json:"enqueued"`
	Duration          time.Duration `json:"-"`
}

// EngineStatus 為引擎當前狀態。
type EngineStatus struct {
	Active       bool       `json:"active"`
	Running      bool       `json:"cycleRunning"`
	CycleCount   int        `json:"cycleCount"`
	LastRunAt    *time.Time `json:"lastRunAt,omitempty"`
	LastDuration string     `json:"lastDuration,omitempty"`
	LastStats    CycleStats `json:"lastStats"`
}

// Engine 為監控引擎：定期掃描策略規則、臨時關注與市場事件，
// 命中者轉為通知送入佇列。
type Engine struct {
	cfg        Config
	rules      RuleRepository
	snapshots  SnapshotSource
	news       NewsSource
	users      UserContextSource
	scorer     Scorer
	queue      Enqueuer
	evaluators *EvaluatorSet
	nowFunc    func() time.Time

	mu         sync.Mutex
	active     bool
	running    bool
	cycleCount int
	lastRunAt  time.Time
	lastStats  CycleStats
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// NewEngine 建立監控引擎。
func NewEngine(cfg Config, rules RuleRepository, snapshots SnapshotSource, news NewsSource,
	users UserContextSource, scorer Scorer, queue Enqueuer) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:        cfg,
		rules:      rules,
		snapshots:  snapshots,
		news:       news,
		users:      users,
		scorer:     scorer,
		queue:      queue,
		evaluators: NewEvaluatorSet(),
		nowFunc:    time.Now,
	}
}

// Start 啟動監控循環：啟動時先跑一輪，之後依 CheckInterval 定期執行。
func (e *Engine) Start() {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return
	}
	e.active = true
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	stop, done := e.stopCh, e.doneCh
	e.mu.Unlock()

	log.Printf("[Engine] started check_interval=%s", e.cfg.CheckInterval)
	go func() {
		defer close(done)
		e.runCycle(context.Background())
		ticker := time.NewTicker(e.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.runCycle(context.Background())
			case <-stop:
				return
			}
		}
	}()
}

// Stop 停止監控循環並等待進行中的一輪結束。
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	e.active = false
	stop, done := e.stopCh, e.doneCh
	e.mu.Unlock()

	close(stop)
	<-done
	log.Printf("[Engine] stopped")
}

// RunCycleOnce 立即執行一輪監控循環；已有循環進行中時回傳錯誤。
func (e *Engine) RunCycleOnce(ctx context.Context) (CycleStats, error) {
	stats, ran := e.runCycle(ctx)
	if !ran {
		return CycleStats{}, fmt.Errorf("monitoring cycle already running")
	}
	return stats, nil
}

// Status 回傳引擎狀態。
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := EngineStatus{
		Active:     e.active,
		Running:    e.running,
		CycleCount: e.cycleCount,
		LastStats:  e.lastStats,
	}
	if !e.lastRunAt.IsZero() {
		at := e.lastRunAt
		st.LastRunAt = &at
		st.LastDuration = e.lastStats.Duration.String()
	}
	return st
}

// runCycle 執行一輪循環；與其他輪互斥，重疊時跳過並回傳 false。
func (e *Engine) runCycle(ctx context.Context) (CycleStats, bool) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		log.Printf("[Engine] cycle overlap, skipping")
		return CycleStats{}, false
	}
	e.running = true
	e.mu.Unlock()

	start := e.nowFunc()
	cycle := &cycleRun{engine: e, snapshots: make(map[string]*dm.MarketSnapshot)}
	stats := cycle.run(ctx)
	stats.Duration = e.nowFunc().Sub(start)

	e.mu.Lock()
	e.running = false
	e.cycleCount++
	e.lastRunAt = start
	e.lastStats = stats
	e.mu.Unlock()

	log.Printf("[Engine] cycle done duration=%s strategies=%d triggers=%d focus=%d events=%d enqueued=%d",
		stats.Duration, stats.StrategiesChecked, stats.Triggers, stats.FocusChecked,
		stats.EventsProcessed, stats.Enqueued)
	return stats, true
}

// cycleRun 承載單輪循環的暫態：同輪內同標的快照只取一次。
type cycleRun struct {
	engine    *Engine
	snapshots map[string]*dm.MarketSnapshot
	stats     CycleStats
}

func (c *cycleRun) run(ctx context.Context) CycleStats {
	c.sweepExpiredFocus(ctx)
	c.checkStrategies(ctx)
	c.checkFocusItems(ctx)
	c.processMarketEvents(ctx)
	return c.stats
}

// snapshot 取得標的快照，同輪內快取；失敗回傳 nil。
func (c *cycleRun) snapshot(ctx context.Context, symbol string) *dm.MarketSnapshot {
	if snap, ok := c.snapshots[symbol]; ok {
		return snap
	}
	fetchCtx, cancel := context.WithTimeout(ctx, c.engine.cfg.FetchTimeout)
	defer cancel()
	snap, err := c.engine.snapshots.GetSnapshot(fetchCtx, symbol)
	if err != nil {
		log.Printf("[Engine] snapshot fetch failed symbol=%s err=%v", symbol, err)
		c.snapshots[symbol] = nil
		return nil
	}
	c.snapshots[symbol] = &snap
	return &snap
}

func (c *cycleRun) recentNews(ctx context.Context, symbol string) []dm.NewsItem {
	fetchCtx, cancel := context.WithTimeout(ctx, c.engine.cfg.FetchTimeout)
	defer cancel()
	news, err := c.engine.news.RecentNews(fetchCtx, symbol, newsWindow)
	if err != nil {
		log.Printf("[Engine] news fetch failed symbol=%s err=%v", symbol, err)
		return nil
	}
	return news
}

// sweepExpiredFocus 將所有已過期的臨時關注標記為 expired。
func (c *cycleRun) sweepExpiredFocus(ctx context.Context) {
	n, err := c.engine.rules.MarkExpiredFocus(ctx, c.engine.nowFunc())
	if err != nil {
		log.Printf("[Engine] expire sweep failed err=%v", err)
		return
	}
	if n > 0 {
		log.Printf("[Engine] expired focus items count=%d", n)
		c.stats.FocusExpired += n
	}
}

// checkStrategies 評估全部啟用中的策略規則。單一規則出錯只記錄，
// 不中斷其他規則。
func (c *cycleRun) checkStrategies(ctx context.Context) {
	rules, err := c.engine.rules.ListActiveRules(ctx)
	if err != nil {
		log.Printf("[Engine] list rules failed err=%v", err)
		return
	}

	seen := make(map[string]bool, len(rules))
	for _, rule := range rules {
		if seen[rule.ID] {
			continue
		}
		seen[rule.ID] = true
		c.stats.StrategiesChecked++
		c.checkStrategy(ctx, rule)
	}
}

func (c *cycleRun) checkStrategy(ctx context.Context, rule dm.Rule) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Engine] strategy check panic rule_id=%s err=%v", rule.ID, r)
		}
	}()

	in := EvalInput{Rule: rule, Now: c.engine.nowFunc()}
	if rule.Symbol != "" {
		snap := c.snapshot(ctx, rule.Symbol)
		if snap != nil {
			in.Snapshot = *snap
		}
	}
	if rule.Kind == dm.KindNews {
		in.News = c.recentNews(ctx, rule.Symbol)
	}

	matched, reason := c.engine.evaluators.Evaluate(in)
	if !matched {
		return
	}
	c.stats.Triggers++

	ev := dm.TriggerEvent{
		RuleID:   rule.ID,
		UserID:   rule.UserID,
		Symbol:   rule.Symbol,
		Reason:   reason,
		Snapshot: in.Snapshot,
		At:       in.Now,
	}
	// 觸發紀錄為盡力而為，寫入失敗不影響通知。
	if err := c.engine.rules.RecordTrigger(ctx, ev); err != nil {
		log.Printf("[Engine] record trigger failed rule_id=%s err=%v", rule.ID, err)
	}

	priority := rule.EffectivePriority()
	if in.Snapshot.Price != nil {
		change := math.Abs(in.Snapshot.Price.ChangePercent)
		if change > 5 {
			priority += 30
		} else if change > 3 {
			priority += 15
		}
	}
	if priority > 100 {
		priority = 100
	}

	name := rule.Name
	if name == "" {
		name = rule.Symbol
	}
	c.enqueue(dn.Notification{
		UserID:    rule.UserID,
		Type:      dn.TypeStrategyTrigger,
		Title:     fmt.Sprintf("策略觸發：%s", name),
		Message:   reason,
		Priority:  priority,
		DedupeKey: dn.DedupeKey(rule.UserID, dn.TypeStrategyTrigger, rule.Symbol, rule.ID),
		Payload:   map[string]any{"ruleId": rule.ID, "symbol": rule.Symbol, "reason": reason},
		CreatedAt: in.Now,
	})
}

// checkFocusItems 評估臨時關注：大幅波動、重要新聞與接近目標價。
func (c *cycleRun) checkFocusItems(ctx context.Context) {
	items, err := c.engine.rules.ListActiveFocus(ctx)
	if err != nil {
		log.Printf("[Engine] list focus failed err=%v", err)
		return
	}
	now := c.engine.nowFunc()

	for _, item := range items {
		if item.Expired(now) {
			if err := c.engine.rules.ExpireFocusItem(ctx, item.ID); err != nil {
				log.Printf("[Engine] expire focus failed focus_id=%s err=%v", item.ID, err)
			} else {
				c.stats.FocusExpired++
			}
			continue
		}
		c.stats.FocusChecked++
		for _, symbol := range item.Targets {
			c.checkFocusTarget(ctx, item, symbol, now)
		}
	}
}

func (c *cycleRun) checkFocusTarget(ctx context.Context, item dm.FocusItem, symbol string, now time.Time) {
	snap := c.snapshot(ctx, symbol)

	if snap != nil && snap.Price != nil {
		change := snap.Price.ChangePercent
		if math.Abs(change) > 3 {
			priority := 70.0
			if math.Abs(change) > 5 {
				priority = 90
			}
			c.focusAlert(item, symbol, priority, now,
				fmt.Sprintf("%s 漲跌幅達 %.2f%%", symbol, change), "move")
		}

		for _, point := range item.FocusPoints {
			if point.Type != dm.FocusPointPriceLevel || point.Price == nil || *point.Price <= 0 {
				continue
			}
			threshold := 0.02
			if point.Threshold != nil && *point.Threshold > 0 {
				threshold = *point.Threshold
			}
			if math.Abs(snap.Price.Close-*point.Price)/(*point.Price) <= threshold {
				c.focusAlert(item, symbol, 75, now,
					fmt.Sprintf("%s 接近關注價位 $%.2f，當前 $%.2f", symbol, *point.Price, snap.Price.Close), "price_level")
			}
		}
	}

	for _, news := range c.recentNews(ctx, symbol) {
		if news.ImportanceScore >= 70 {
			c.focusAlert(item, symbol, news.ImportanceScore+10, now,
				fmt.Sprintf("%s 重要新聞：%s", symbol, news.Title), "news:"+news.ID)
		}
	}
}

func (c *cycleRun) focusAlert(item dm.FocusItem, symbol string, priority float64, now time.Time, message, kind string) {
	if priority > 100 {
		priority = 100
	}
	c.stats.FocusAlerts++
	c.enqueue(dn.Notification{
		UserID:    item.UserID,
		Type:      dn.TypeFocusAlert,
		Title:     fmt.Sprintf("關注提醒：%s", item.Title),
		Message:   message,
		Priority:  priority,
		DedupeKey: dn.DedupeKey(item.UserID, dn.TypeFocusAlert, symbol, item.ID+":"+kind),
		Payload:   map[string]any{"focusId": item.ID, "symbol": symbol},
		CreatedAt: now,
	})
}

// processMarketEvents 將未處理的高重要性新聞事件推播給相關使用者，
// 依個人化分數過濾後標記為已處理。
func (c *cycleRun) processMarketEvents(ctx context.Context) {
	events, err := c.engine.news.UnprocessedEvents(ctx, c.engine.cfg.EventMinImportance, c.engine.cfg.EventBatchLimit)
	if err != nil {
		log.Printf("[Engine] list events failed err=%v", err)
		return
	}
	now := c.engine.nowFunc()

	for _, event := range events {
		for _, symbol := range event.Symbols {
			users, err := c.engine.users.UsersForSymbol(ctx, symbol)
			if err != nil {
				log.Printf("[Engine] users lookup failed symbol=%s err=%v", symbol, err)
				continue
			}
			for _, userID := range users {
				c.notifyMarketEvent(ctx, event, symbol, userID, now)
			}
		}
		if err := c.engine.news.MarkEventProcessed(ctx, event.ID); err != nil {
			log.Printf("[Engine] mark event processed failed event_id=%s err=%v", event.ID, err)
		}
		c.stats.EventsProcessed++
	}
}

func (c *cycleRun) notifyMarketEvent(ctx context.Context, event dm.NewsItem, symbol, userID string, now time.Time) {
	uc, err := c.engine.users.Context(ctx, userID, symbol)
	if err != nil {
		log.Printf("[Engine] user context failed user_id=%s symbol=%s err=%v", userID, symbol, err)
		return
	}

	in := appscoring.Input{News: []dm.NewsItem{event}, User: uc}
	if snap := c.snapshot(ctx, symbol); snap != nil {
		in.Snapshot = *snap
	} else {
		in.Snapshot = dm.MarketSnapshot{Symbol: symbol}
	}
	result := c.engine.scorer.Score(in)
	if result.Total < 40 {
		return
	}

	priority := result.Total
	if uc.InPortfolio {
		priority += 10
	}
	if priority > 100 {
		priority = 100
	}

	c.enqueue(dn.Notification{
		UserID:    userID,
		Type:      dn.TypeMarketEvent,
		Title:     fmt.Sprintf("市場事件：%s", symbol),
		Message:   event.Title,
		Priority:  priority,
		DedupeKey: dn.DedupeKey(userID, dn.TypeMarketEvent, symbol, event.ID),
		Payload:   map[string]any{"eventId": event.ID, "symbol": symbol, "score": result.Total, "level": string(result.Level)},
		CreatedAt: now,
	})
}

func (c *cycleRun) enqueue(n dn.Notification) {
	res := c.engine.queue.Enqueue(n)
	if res.Accepted {
		c.stats.Enqueued++
	}
}
