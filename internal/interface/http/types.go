package httpapi

import (
	"time"

	dm "infodigest/internal/domain/monitoring"
	dn "infodigest/internal/domain/notification"
)

// ruleView 為策略規則的 API 表示。
type ruleView struct {
	ID              string        `json:"id"`
	Name            string        `json:"name,omitempty"`
	Symbol          string        `json:"symbol,omitempty"`
	Kind            string        `json:"kind"`
	Conditions      dm.Conditions `json:"conditions"`
	Priority        int           `json:"priority"`
	Status          string        `json:"status"`
	TriggerCount    int           `json:"triggerCount"`
	LastTriggeredAt *time.Time    `json:"lastTriggeredAt,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
}

func toRuleView(r dm.Rule) ruleView {
	return ruleView{
		ID:              r.ID,
		Name:            r.Name,
		Symbol:          r.Symbol,
		Kind:            string(r.Kind),
		Conditions:      r.Conditions,
		Priority:        r.Priority,
		Status:          string(r.Status),
		TriggerCount:    r.TriggerCount,
		LastTriggeredAt: r.LastTriggeredAt,
		CreatedAt:       r.CreatedAt,
	}
}

func toRuleViews(rules []dm.Rule) []ruleView {
	out := make([]ruleView, 0, len(rules))
	for _, r := range rules {
		out = append(out, toRuleView(r))
	}
	return out
}

// focusView 為臨時關注的 API 表示。
type focusView struct {
	ID          string          `json:"id"`
	Title       string          `json:"title,omitempty"`
	Targets     []string        `json:"targets"`
	FocusPoints []dm.FocusPoint `json:"focusPoints,omitempty"`
	Status      string          `json:"status"`
	ExpiresAt   time.Time       `json:"expiresAt"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func toFocusView(f dm.FocusItem) focusView {
	return focusView{
		ID:          f.ID,
		Title:       f.Title,
		Targets:     f.Targets,
		FocusPoints: f.FocusPoints,
		Status:      string(f.Status),
		ExpiresAt:   f.ExpiresAt,
		CreatedAt:   f.CreatedAt,
	}
}

func toFocusViews(items []dm.FocusItem) []focusView {
	out := make([]focusView, 0, len(items))
	for _, f := range items {
		out = append(out, toFocusView(f))
	}
	return out
}

// snapshotView 為策略試跑時回傳的市場快照摘要。
type snapshotView struct {
	Symbol        string     `json:"symbol"`
	Close         *float64   `json:"close,omitempty"`
	ChangePercent *float64   `json:"changePercent,omitempty"`
	HasTechnicals bool       `json:"hasTechnicals"`
	FetchedAt     *time.Time `json:"fetchedAt,omitempty"`
}

func toSnapshotView(s dm.MarketSnapshot) snapshotView {
	v := snapshotView{Symbol: s.Symbol, HasTechnicals: s.Technical != nil}
	if s.Price != nil {
		close, change := s.Price.Close, s.Price.ChangePercent
		v.Close = &close
		v.ChangePercent = &change
	}
	if !s.FetchedAt.IsZero() {
		at := s.FetchedAt
		v.FetchedAt = &at
	}
	return v
}

// notificationView 為待送通知的 API 表示。
type notificationView struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message,omitempty"`
	Priority  float64        `json:"priority"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

func toNotificationViews(items []dn.Notification) []notificationView {
	out := make([]notificationView, 0, len(items))
	for _, n := range items {
		out = append(out, notificationView{
			ID:        n.ID,
			Type:      string(n.Type),
			Title:     n.Title,
			Message:   n.Message,
			Priority:  n.Priority,
			Payload:   n.Payload,
			CreatedAt: n.CreatedAt,
		})
	}
	return out
}
