package monitoring

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	appnotif "infodigest/internal/application/notification"
	appscoring "infodigest/internal/application/scoring"
	dm "infodigest/internal/domain/monitoring"
	dn "infodigest/internal/domain/notification"
	ds "infodigest/internal/domain/scoring"
)

type fakeRules struct {
	rules       []dm.Rule
	focus       []dm.FocusItem
	triggers    []dm.TriggerEvent
	expiredIDs  []string
	triggerErr  error
	markExpired int
}

func (f *fakeRules) ListActiveRules(context.Context) ([]dm.Rule, error)      { return f.rules, nil }
func (f *fakeRules) ListActiveFocus(context.Context) ([]dm.FocusItem, error) { return f.focus, nil }
func (f *fakeRules) RecordTrigger(_ context.Context, ev dm.TriggerEvent) error {
	if f.triggerErr != nil {
		return f.triggerErr
	}
	f.triggers = append(f.triggers, ev)
	return nil
}
func (f *fakeRules) ExpireFocusItem(_ context.Context, id string) error {
	f.expiredIDs = append(f.expiredIDs, id)
	return nil
}
func (f *fakeRules) MarkExpiredFocus(context.Context, time.Time) (int, error) {
	return f.markExpired, nil
}

type fakeSnapshots struct {
	snaps map[string]dm.MarketSnapshot
	calls int
}

func (f *fakeSnapshots) GetSnapshot(_ context.Context, symbol string) (dm.MarketSnapshot, error) {
	f.calls++
	snap, ok := f.snaps[symbol]
	if !ok {
		return dm.MarketSnapshot{}, errors.New("no data")
	}
	return snap, nil
}

type fakeNews struct {
	recent    map[string][]dm.NewsItem
	events    []dm.NewsItem
	processed []string
}

func (f *fakeNews) RecentNews(_ context.Context, symbol string, _ time.Duration) ([]dm.NewsItem, error) {
	return f.recent[symbol], nil
}
func (f *fakeNews) UnprocessedEvents(_ context.Context, minImportance float64, limit int) ([]dm.NewsItem, error) {
	var out []dm.NewsItem
	for _, ev := range f.events {
		if ev.ImportanceScore >= minImportance && len(out) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}
func (f *fakeNews) MarkEventProcessed(_ context.Context, id string) error {
	f.processed = append(f.processed, id)
	return nil
}

type fakeUsers struct {
	bySymbol map[string][]string
	contexts map[string]ds.UserContext // key: userID|symbol
}

func (f *fakeUsers) UsersForSymbol(_ context.Context, symbol string) ([]string, error) {
	return f.bySymbol[symbol], nil
}
func (f *fakeUsers) Context(_ context.Context, userID, symbol string) (ds.UserContext, error) {
	return f.contexts[userID+"|"+symbol], nil
}

// captureQueue 收下全部通知，不去重。
type captureQueue struct {
	notifications []dn.Notification
}

func (c *captureQueue) Enqueue(n dn.Notification) appnotif.EnqueueResult {
	c.notifications = append(c.notifications, n)
	return appnotif.EnqueueResult{Accepted: true, NotificationID: n.ID}
}

type nopDeliverer struct{}

func (nopDeliverer) Deliver(context.Context, dn.Notification) error { return nil }

func newTestEngine(rules *fakeRules, snaps *fakeSnapshots, news *fakeNews, users *fakeUsers, queue Enqueuer) *Engine {
	if snaps == nil {
		snaps = &fakeSnapshots{}
	}
	if news == nil {
		news = &fakeNews{}
	}
	if users == nil {
		users = &fakeUsers{}
	}
	return NewEngine(Config{}, rules, snaps, news, users, appscoring.NewScorer(), queue)
}

func priceRule(id, user, symbol string, above float64) dm.Rule {
	return dm.Rule{
		ID: id, UserID: user, Name: symbol + " 突破", Symbol: symbol, Kind: dm.KindPrice,
		Conditions: dm.Conditions{PriceAbove: f64(above)},
		Status:     dm.StatusActive,
	}
}

func TestEngine_StrategyTrigger(t *testing.T) {
	rules := &fakeRules{rules: []dm.Rule{priceRule("r1", "u1", "NVDA", 900)}}
	snaps := &fakeSnapshots{snaps: map[string]dm.MarketSnapshot{
		"NVDA": snapshotWithClose(905),
	}}
	queue := &captureQueue{}
	eng := newTestEngine(rules, snaps, nil, nil, queue)

	stats, err := eng.RunCycleOnce(context.Background())
	if err != nil {
		t.Fatalf("RunCycleOnce: %v", err)
	}
	if stats.Triggers != 1 {
		t.Fatalf("triggers = %d, want 1", stats.Triggers)
	}
	if len(rules.triggers) != 1 {
		t.Fatalf("recorded triggers = %d, want 1", len(rules.triggers))
	}
	if len(queue.notifications) != 1 {
		t.Fatalf("enqueued = %d, want 1", len(queue.notifications))
	}
	n := queue.notifications[0]
	if n.Type != dn.TypeStrategyTrigger || n.UserID != "u1" {
		t.Errorf("notification = %+v", n)
	}
	if !strings.Contains(n.Message, "900") {
		t.Errorf("message should mention threshold, got %q", n.Message)
	}
	if n.Priority != 50 {
		t.Errorf("priority = %v, want default 50", n.Priority)
	}
}

func TestEngine_TriggerPriorityBoost(t *testing.T) {
	snap := snapshotWithClose(905)
	snap.Price.ChangePercent = 6.2
	rules := &fakeRules{rules: []dm.Rule{priceRule("r1", "u1", "NVDA", 900)}}
	queue := &captureQueue{}
	eng := newTestEngine(rules, &fakeSnapshots{snaps: map[string]dm.MarketSnapshot{"NVDA": snap}}, nil, nil, queue)

	if _, err := eng.RunCycleOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(queue.notifications) != 1 {
		t.Fatalf("enqueued = %d, want 1", len(queue.notifications))
	}
	if got := queue.notifications[0].Priority; got != 80 {
		t.Errorf("priority = %v, want 80 (50 + 30 for >5%% move)", got)
	}
}

func TestEngine_RuleErrorIsolation(t *testing.T) {
	// 第一條規則的標的查無快照，第二條仍應照常評估。
	rules := &fakeRules{rules: []dm.Rule{
		priceRule("r1", "u1", "MISSING", 10),
		priceRule("r2", "u1", "NVDA", 900),
	}}
	snaps := &fakeSnapshots{snaps: map[string]dm.MarketSnapshot{"NVDA": snapshotWithClose(905)}}
	queue := &captureQueue{}
	eng := newTestEngine(rules, snaps, nil, nil, queue)

	stats, err := eng.RunCycleOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.StrategiesChecked != 2 {
		t.Errorf("strategies checked = %d, want 2", stats.StrategiesChecked)
	}
	if stats.Triggers != 1 {
		t.Errorf("triggers = %d, want 1", stats.Triggers)
	}
}

func TestEngine_RecordTriggerFailureStillNotifies(t *testing.T) {
	rules := &fakeRules{
		rules:      []dm.Rule{priceRule("r1", "u1", "NVDA", 900)},
		triggerErr: errors.New("db down"),
	}
	queue := &captureQueue{}
	eng := newTestEngine(rules, &fakeSnapshots{snaps: map[string]dm.MarketSnapshot{"NVDA": snapshotWithClose(905)}}, nil, nil, queue)

	if _, err := eng.RunCycleOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(queue.notifications) != 1 {
		t.Errorf("notification should be enqueued despite trigger log failure, got %d", len(queue.notifications))
	}
}

func TestEngine_DuplicateRuleIDsCheckedOnce(t *testing.T) {
	rule := priceRule("r1", "u1", "NVDA", 900)
	rules := &fakeRules{rules: []dm.Rule{rule, rule}}
	queue := &captureQueue{}
	eng := newTestEngine(rules, &fakeSnapshots{snaps: map[string]dm.MarketSnapshot{"NVDA": snapshotWithClose(905)}}, nil, nil, queue)

	stats, err := eng.RunCycleOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.StrategiesChecked != 1 {
		t.Errorf("strategies checked = %d, want 1", stats.StrategiesChecked)
	}
}

func TestEngine_CycleIdempotence(t *testing.T) {
	// 兩輪相同市況只產生一筆通知：去重鍵擋下第二輪。
	rules := &fakeRules{rules: []dm.Rule{priceRule("r1", "u1", "NVDA", 900)}}
	snaps := &fakeSnapshots{snaps: map[string]dm.MarketSnapshot{"NVDA": snapshotWithClose(905)}}
	queue := appnotif.NewQueue(appnotif.Config{}, nopDeliverer{})
	eng := newTestEngine(rules, snaps, nil, nil, queue)

	if _, err := eng.RunCycleOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.RunCycleOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	st := queue.GetStatus()
	if st.Pending != 1 {
		t.Errorf("pending = %d, want 1 (second cycle deduplicated)", st.Pending)
	}
	if st.Deduped != 1 {
		t.Errorf("deduplicated = %d, want 1", st.Deduped)
	}
}

func TestEngine_FocusAlerts(t *testing.T) {
	now := time.Now()
	snap := snapshotWithClose(100)
	snap.Price.ChangePercent = 4.1

	rules := &fakeRules{focus: []dm.FocusItem{
		{
			ID: "f1", UserID: "u1", Title: "財報週觀察", Targets: []string{"TSLA"},
			Status: dm.FocusMonitoring, ExpiresAt: now.Add(time.Hour),
		},
		{
			ID: "f2", UserID: "u1", Title: "已過期", Targets: []string{"TSLA"},
			Status: dm.FocusMonitoring, ExpiresAt: now.Add(-time.Hour),
		},
	}}
	snaps := &fakeSnapshots{snaps: map[string]dm.MarketSnapshot{"TSLA": snap}}
	queue := &captureQueue{}
	eng := newTestEngine(rules, snaps, nil, nil, queue)

	stats, err := eng.RunCycleOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.FocusChecked != 1 {
		t.Errorf("focus checked = %d, want 1 (expired item skipped)", stats.FocusChecked)
	}
	if len(rules.expiredIDs) != 1 || rules.expiredIDs[0] != "f2" {
		t.Errorf("expired ids = %v, want [f2]", rules.expiredIDs)
	}
	if len(queue.notifications) != 1 {
		t.Fatalf("enqueued = %d, want 1", len(queue.notifications))
	}
	n := queue.notifications[0]
	if n.Type != dn.TypeFocusAlert || n.Priority != 70 {
		t.Errorf("notification = type %s priority %v, want focus_alert / 70", n.Type, n.Priority)
	}
}

func TestEngine_FocusPriceLevel(t *testing.T) {
	now := time.Now()
	snap := snapshotWithClose(199)

	rules := &fakeRules{focus: []dm.FocusItem{{
		ID: "f1", UserID: "u1", Title: "接近支撐", Targets: []string{"TSLA"},
		FocusPoints: []dm.FocusPoint{{Type: dm.FocusPointPriceLevel, Price: f64(200)}},
		Status:      dm.FocusMonitoring, ExpiresAt: now.Add(time.Hour),
	}}}
	snaps := &fakeSnapshots{snaps: map[string]dm.MarketSnapshot{"TSLA": snap}}
	queue := &captureQueue{}
	eng := newTestEngine(rules, snaps, nil, nil, queue)

	if _, err := eng.RunCycleOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(queue.notifications) != 1 {
		t.Fatalf("enqueued = %d, want 1", len(queue.notifications))
	}
	if got := queue.notifications[0].Priority; got != 75 {
		t.Errorf("priority = %v, want 75", got)
	}
}

func TestEngine_MarketEvents(t *testing.T) {
	// 3% 的波動讓事件分數落在門檻附近：有持倉者過門檻，無關聯者被濾掉。
	snap := snapshotWithClose(100)
	snap.Price.ChangePercent = 3

	news := &fakeNews{events: []dm.NewsItem{
		{ID: "e1", Title: "NVDA 財報大幅優於預期", Symbols: []string{"NVDA"}, ImportanceScore: 85, PublishedAt: time.Now()},
		{ID: "e2", Title: "次要消息", Symbols: []string{"NVDA"}, ImportanceScore: 50, PublishedAt: time.Now()},
	}}
	users := &fakeUsers{
		bySymbol: map[string][]string{"NVDA": {"u1", "u2"}},
		contexts: map[string]ds.UserContext{
			"u1|NVDA": {InPortfolio: true, PositionWeight: 0.2},
			// u2 與標的無任何關聯，個人化分數不足。
		},
	}
	snaps := &fakeSnapshots{snaps: map[string]dm.MarketSnapshot{"NVDA": snap}}
	queue := &captureQueue{}
	eng := newTestEngine(&fakeRules{}, snaps, news, users, queue)

	stats, err := eng.RunCycleOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.EventsProcessed != 1 {
		t.Errorf("events processed = %d, want 1 (importance gate)", stats.EventsProcessed)
	}
	if len(news.processed) != 1 || news.processed[0] != "e1" {
		t.Errorf("processed = %v, want [e1]", news.processed)
	}
	if len(queue.notifications) != 1 {
		t.Fatalf("enqueued = %d, want 1 (u2 filtered by score)", len(queue.notifications))
	}
	if got := queue.notifications[0].UserID; got != "u1" {
		t.Errorf("notified user = %s, want u1", got)
	}
}

func TestEngine_OverlapRejected(t *testing.T) {
	eng := newTestEngine(&fakeRules{}, nil, nil, nil, &captureQueue{})
	eng.mu.Lock()
	eng.running = true
	eng.mu.Unlock()

	if _, err := eng.RunCycleOnce(context.Background()); err == nil {
		t.Fatal("expected error while another cycle is running")
	}
}

func TestEngine_Status(t *testing.T) {
	eng := newTestEngine(&fakeRules{}, nil, nil, nil, &captureQueue{})

	st := eng.Status()
	if st.Active || st.CycleCount != 0 {
		t.Fatalf("fresh status = %+v", st)
	}

	if _, err := eng.RunCycleOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	st = eng.Status()
	if st.CycleCount != 1 || st.LastRunAt == nil {
		t.Errorf("status after cycle = %+v", st)
	}
}
