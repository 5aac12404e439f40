package notification

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	dn "infodigest/internal/domain/notification"
)

// Deliverer 負責將單筆通知實際送達使用者裝置。
type Deliverer interface {
	Deliver(ctx context.Context, n dn.Notification) error
}

// Config 為佇列參數，零值欄位於 NewQueue 套用預設。
type Config struct {
	DrainInterval time.Duration // 預設 5s
	BatchSize     int           // 每次出隊上限，預設 10
	DedupeWindow  time.Duration // 去重時間窗，預設 300s
	MaxAttempts   int           // 送達重試上限，預設 3
	MaxSize       int           // 佇列容量，0 為不限
}

func (c *Config) applyDefaults() {
	if c.DrainInterval <= 0 {
		c.DrainInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.DedupeWindow <= 0 {
		c.DedupeWindow = 300 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
}

// EnqueueResult 為入隊結果；被拒絕時 Reason 說明原因。
type EnqueueResult struct {
	Accepted       bool   `json:"accepted"`
	Reason         string `json:"reason,omitempty"`
	NotificationID string `json:"notificationId,omitempty"`
	QueuePosition  int    `json:"queuePosition,omitempty"`
}

// Status 為佇列當前狀態快照。
type Status struct {
	Active    bool `json:"active"`
	Pending   int  `json:"pending"`
	Delivered int  `json:"delivered"`
	Deduped   int  `json:"deduplicated"`
	Discarded int  `json:"discarded"`
	Evicted   int  `json:"evicted"`
}

// Queue 為記憶體內的通知佇列：高優先度先送、同鍵去重、失敗重試。
// 通知只存在於記憶體，送達或重試耗盡後即移除。
type Queue struct {
	cfg       Config
	deliverer Deliverer

	mu    sync.Mutex
	items []dn.Notification
	// sent 記錄各去重鍵最後一次成功送達時間，過期項目於存取時懶清。
	sent map[string]time.Time

	active  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	nowFunc func() time.Time

	delivered int
	deduped   int
	discarded int
	evicted   int
}

// NewQueue 建立通知佇列。
func NewQueue(cfg Config, deliverer Deliverer) *Queue {
	cfg.applyDefaults()
	return &Queue{
		cfg:       cfg,
		deliverer: deliverer,
		sent:      make(map[string]time.Time),
		nowFunc:   time.Now,
	}
}

// Enqueue 將通知排入佇列。去重鍵在時間窗內已送出、或佇列中已有
// 同鍵通知時拒絕；佇列已滿且優先度不高於現有最低者時拒絕。
func (q *Queue) Enqueue(n dn.Notification) EnqueueResult {
	if n.UserID == "" || n.Title == "" {
		return EnqueueResult{Reason: "invalid"}
	}
	now := q.nowFunc()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if n.DedupeKey != "" {
		q.gcSentLocked(now)
		if _, ok := q.sent[n.DedupeKey]; ok {
			q.deduped++
			return EnqueueResult{Reason: "duplicate"}
		}
		for _, pending := range q.items {
			if pending.DedupeKey == n.DedupeKey {
				q.deduped++
				return EnqueueResult{Reason: "duplicate"}
			}
		}
	}

	if q.cfg.MaxSize > 0 && len(q.items) >= q.cfg.MaxSize {
		q.sortLocked()
		lowest := len(q.items) - 1
		if n.Priority <= q.items[lowest].Priority {
			return EnqueueResult{Reason: "queue_full"}
		}
		log.Printf("[Queue] evict notification id=%s priority=%.0f", q.items[lowest].ID, q.items[lowest].Priority)
		q.items = q.items[:lowest]
		q.evicted++
	}

	q.items = append(q.items, n)
	q.sortLocked()
	pos := 0
	for i := range q.items {
		if q.items[i].ID == n.ID {
			pos = i + 1
			break
		}
	}
	return EnqueueResult{Accepted: true, NotificationID: n.ID, QueuePosition: pos}
}

// Start 啟動背景出隊迴圈。
func (q *Queue) Start() {
	q.mu.Lock()
	if q.active {
		q.mu.Unlock()
		return
	}
	q.active = true
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})
	stop, done := q.stopCh, q.doneCh
	q.mu.Unlock()

	log.Printf("[Queue] started drain_interval=%s batch_size=%d", q.cfg.DrainInterval, q.cfg.BatchSize)
	go func() {
		defer close(done)
		ticker := time.NewTicker(q.cfg.DrainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				q.Drain(context.Background())
			case <-stop:
				return
			}
		}
	}()
}

// Stop 停止出隊迴圈並等待當前批次結束。
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.active {
		q.mu.Unlock()
		return
	}
	q.active = false
	stop, done := q.stopCh, q.doneCh
	q.mu.Unlock()

	close(stop)
	<-done
	log.Printf("[Queue] stopped")
}

// Drain 取出優先度最高的一批通知並逐筆送達。送達失敗者在重試
// 次數內重新入隊，耗盡後丟棄並記錄。
func (q *Queue) Drain(ctx context.Context) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	q.sortLocked()
	n := q.cfg.BatchSize
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := make([]dn.Notification, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	q.mu.Unlock()

	for _, item := range batch {
		if err := q.deliverer.Deliver(ctx, item); err != nil {
			item.Attempts++
			if item.Attempts < q.cfg.MaxAttempts {
				log.Printf("[Queue] deliver failed, retrying id=%s user_id=%s attempt=%d err=%v",
					item.ID, item.UserID, item.Attempts, err)
				q.mu.Lock()
				q.items = append(q.items, item)
				q.mu.Unlock()
			} else {
				log.Printf("[Queue] deliver failed permanently id=%s user_id=%s attempts=%d err=%v",
					item.ID, item.UserID, item.Attempts, err)
				q.mu.Lock()
				q.discarded++
				q.mu.Unlock()
			}
			continue
		}
		q.mu.Lock()
		q.delivered++
		if item.DedupeKey != "" {
			q.sent[item.DedupeKey] = q.nowFunc()
		}
		q.mu.Unlock()
	}
}

// GetStatus 回傳佇列狀態。
func (q *Queue) GetStatus() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{
		Active:    q.active,
		Pending:   len(q.items),
		Delivered: q.delivered,
		Deduped:   q.deduped,
		Discarded: q.discarded,
		Evicted:   q.evicted,
	}
}

// PendingForUser 回傳指定使用者的待送通知，依出隊順序排列。
func (q *Queue) PendingForUser(userID string) []dn.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sortLocked()
	var out []dn.Notification
	for _, item := range q.items {
		if item.UserID == userID {
			out = append(out, item)
		}
	}
	return out
}

// Clear 清空佇列並回傳移除筆數。
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// sortLocked 依優先度高者在前，同優先度依建立時間先進先出。
func (q *Queue) sortLocked() {
	sort.SliceStable(q.items, func(i, j int) bool {
		if q.items[i].Priority != q.items[j].Priority {
			return q.items[i].Priority > q.items[j].Priority
		}
		return q.items[i].CreatedAt.Before(q.items[j].CreatedAt)
	})
}

// gcSentLocked 清除時間窗外的去重紀錄。
func (q *Queue) gcSentLocked(now time.Time) {
	for key, at := range q.sent {
		if now.Sub(at) > q.cfg.DedupeWindow {
			delete(q.sent, key)
		}
	}
}
