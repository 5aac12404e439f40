package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	dm "infodigest/internal/domain/monitoring"
)

// MonitoringRepo 提供監控策略、臨時關注與觸發紀錄的存取。
type MonitoringRepo struct {
	db *sql.DB
}

// NewMonitoringRepo 建立 MonitoringRepo。
func NewMonitoringRepo(db *sql.DB) *MonitoringRepo {
	return &MonitoringRepo{db: db}
}

const ruleColumns = `id, user_id, name, symbol, condition_type, conditions, priority, status, last_triggered_at, trigger_count, created_at`

func scanRule(scanner interface{ Scan(dest ...any) error }) (dm.Rule, error) {
	var r dm.Rule
	var conditions []byte
	var lastTriggered sql.NullTime
	if err := scanner.Scan(&r.ID, &r.UserID, &r.Name, &r.Symbol, &r.Kind, &conditions,
		&r.Priority, &r.Status, &lastTriggered, &r.TriggerCount, &r.CreatedAt); err != nil {
		return dm.Rule{}, err
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
			return dm.Rule{}, fmt.Errorf("unmarshal conditions for rule %s: %w", r.ID, err)
		}
	}
	if lastTriggered.Valid {
		at := lastTriggered.Time
		r.LastTriggeredAt = &at
	}
	return r, nil
}

// ListActiveRules 回傳全部啟用中的策略，依優先度高者在前。
func (r *MonitoringRepo) ListActiveRules(ctx context.Context) ([]dm.Rule, error) {
	q := `
SELECT ` + ruleColumns + `
FROM strategies
WHERE status = 'active'
ORDER BY priority DESC, created_at DESC, id;
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dm.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// ListRulesByUser 回傳使用者的全部策略（含停用），新的在前。
func (r *MonitoringRepo) ListRulesByUser(ctx context.Context, userID string) ([]dm.Rule, error) {
	q := `
SELECT ` + ruleColumns + `
FROM strategies
WHERE user_id = $1
ORDER BY created_at DESC, id;
`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dm.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// GetRule 依 ID 查詢單一策略。
func (r *MonitoringRepo) GetRule(ctx context.Context, id string) (dm.Rule, error) {
	q := `
SELECT ` + ruleColumns + `
FROM strategies
WHERE id = $1
LIMIT 1;
`
	return scanRule(r.db.QueryRowContext(ctx, q, id))
}

// CreateRule 新增策略。
func (r *MonitoringRepo) CreateRule(ctx context.Context, rule dm.Rule) error {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("marshal conditions: %w", err)
	}
	const q = `
INSERT INTO strategies (id, user_id, name, symbol, condition_type, conditions, priority, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`
	_, err = r.db.ExecContext(ctx, q, rule.ID, rule.UserID, rule.Name, rule.Symbol,
		rule.Kind, conditions, rule.Priority, rule.Status, rule.CreatedAt)
	return err
}

// UpdateRuleStatus 更新策略狀態，僅允許本人操作。
func (r *MonitoringRepo) UpdateRuleStatus(ctx context.Context, id, userID string, status dm.Status) error {
	const q = `
UPDATE strategies SET status = $3
WHERE id = $1 AND user_id = $2;
`
	res, err := r.db.ExecContext(ctx, q, id, userID, status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteRule 刪除策略，僅允許本人操作。
func (r *MonitoringRepo) DeleteRule(ctx context.Context, id, userID string) error {
	const q = `DELETE FROM strategies WHERE id = $1 AND user_id = $2;`
	res, err := r.db.ExecContext(ctx, q, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecordTrigger 寫入觸發紀錄並更新策略的觸發統計。
func (r *MonitoringRepo) RecordTrigger(ctx context.Context, ev dm.TriggerEvent) error {
	snapshot, err := json.Marshal(ev.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const insertQ = `
INSERT INTO strategy_triggers (strategy_id, user_id, symbol, reason, snapshot, triggered_at)
VALUES ($1, $2, $3, $4, $5, $6);
`
	if _, err := tx.ExecContext(ctx, insertQ, ev.RuleID, ev.UserID, ev.Symbol, ev.Reason, snapshot, ev.At); err != nil {
		return err
	}

	const updateQ = `
UPDATE strategies SET last_triggered_at = $2, trigger_count = trigger_count + 1
WHERE id = $1;
`
	if _, err := tx.ExecContext(ctx, updateQ, ev.RuleID, ev.At); err != nil {
		return err
	}

	return tx.Commit()
}

const focusColumns = `id, user_id, title, targets, focus_points, status, expires_at, created_at`

func scanFocus(scanner interface{ Scan(dest ...any) error }) (dm.FocusItem, error) {
	var f dm.FocusItem
	var points []byte
	if err := scanner.Scan(&f.ID, &f.UserID, &f.Title, pq.Array(&f.Targets), &points,
		&f.Status, &f.ExpiresAt, &f.CreatedAt); err != nil {
		return dm.FocusItem{}, err
	}
	if len(points) > 0 {
		if err := json.Unmarshal(points, &f.FocusPoints); err != nil {
			return dm.FocusItem{}, fmt.Errorf("unmarshal focus points for %s: %w", f.ID, err)
		}
	}
	return f, nil
}

// ListActiveFocus 回傳全部監控中的臨時關注。
func (r *MonitoringRepo) ListActiveFocus(ctx context.Context) ([]dm.FocusItem, error) {
	q := `
SELECT ` + focusColumns + `
FROM temporary_focus
WHERE status = 'monitoring'
ORDER BY created_at, id;
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dm.FocusItem
	for rows.Next() {
		item, err := scanFocus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ListFocusByUser 回傳使用者的全部臨時關注，新的在前。
func (r *MonitoringRepo) ListFocusByUser(ctx context.Context, userID string) ([]dm.FocusItem, error) {
	q := `
SELECT ` + focusColumns + `
FROM temporary_focus
WHERE user_id = $1
ORDER BY created_at DESC, id;
`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dm.FocusItem
	for rows.Next() {
		item, err := scanFocus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// CreateFocus 新增臨時關注。
func (r *MonitoringRepo) CreateFocus(ctx context.Context, item dm.FocusItem) error {
	points, err := json.Marshal(item.FocusPoints)
	if err != nil {
		return fmt.Errorf("marshal focus points: %w", err)
	}
	const q = `
INSERT INTO temporary_focus (id, user_id, title, targets, focus_points, status, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	_, err = r.db.ExecContext(ctx, q, item.ID, item.UserID, item.Title,
		pq.Array(item.Targets), points, item.Status, item.ExpiresAt, item.CreatedAt)
	return err
}

// CancelFocus 將臨時關注標記為已完成，僅允許本人操作。
func (r *MonitoringRepo) CancelFocus(ctx context.Context, id, userID string) error {
	const q = `
UPDATE temporary_focus SET status = 'completed'
WHERE id = $1 AND user_id = $2 AND status = 'monitoring';
`
	res, err := r.db.ExecContext(ctx, q, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ExpireFocusItem 將單一臨時關注標記為過期。
func (r *MonitoringRepo) ExpireFocusItem(ctx context.Context, id string) error {
	const q = `
UPDATE temporary_focus SET status = 'expired'
WHERE id = $1 AND status = 'monitoring';
`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// MarkExpiredFocus 將所有到期的臨時關注標記為過期，回傳筆數。
func (r *MonitoringRepo) MarkExpiredFocus(ctx context.Context, now time.Time) (int, error) {
	const q = `
UPDATE temporary_focus SET status = 'expired'
WHERE status = 'monitoring' AND expires_at < $1;
`
	res, err := r.db.ExecContext(ctx, q, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
