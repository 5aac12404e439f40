package postgres

import (
	"context"
	"database/sql"

	ds "infodigest/internal/domain/scoring"
	"infodigest/internal/infrastructure/notify"
)

// UserContextRepo 提供使用者與標的關聯、裝置與推播紀錄的存取。
type UserContextRepo struct {
	db *sql.DB
}

// NewUserContextRepo 建立 UserContextRepo。
func NewUserContextRepo(db *sql.DB) *UserContextRepo {
	return &UserContextRepo{db: db}
}

// UsersForSymbol 回傳持倉或自選清單含該標的的使用者。
func (r *UserContextRepo) UsersForSymbol(ctx context.Context, symbol string) ([]string, error) {
	const q = `
SELECT user_id FROM portfolios WHERE symbol = $1
UNION
SELECT user_id FROM watchlists WHERE symbol = $1
ORDER BY user_id;
`
	rows, err := r.db.QueryContext(ctx, q, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Context 回傳使用者與標的的關聯（持倉、自選、臨時關注、持倉比重）。
func (r *UserContextRepo) Context(ctx context.Context, userID, symbol string) (ds.UserContext, error) {
	const q = `
SELECT
	COALESCE((SELECT position_weight FROM portfolios WHERE user_id = $1 AND symbol = $2), -1) AS position_weight,
	EXISTS(SELECT 1 FROM watchlists WHERE user_id = $1 AND symbol = $2) AS in_watchlist,
	EXISTS(SELECT 1 FROM temporary_focus WHERE user_id = $1 AND status = 'monitoring' AND $2 = ANY(targets)) AS in_focus;
`
	var weight float64
	var uc ds.UserContext
	if err := r.db.QueryRowContext(ctx, q, userID, symbol).Scan(&weight, &uc.InWatchlist, &uc.InTemporaryFocus); err != nil {
		return ds.UserContext{}, err
	}
	if weight >= 0 {
		uc.InPortfolio = true
		uc.PositionWeight = weight
	}
	return uc, nil
}

// DeviceTokens 回傳使用者已註冊的推播裝置。
func (r *UserContextRepo) DeviceTokens(ctx context.Context, userID string) ([]string, error) {
	const q = `
SELECT device_token FROM devices
WHERE user_id = $1 AND enabled = TRUE
ORDER BY registered_at;
`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		out = append(out, token)
	}
	return out, rows.Err()
}

// InsertPushLog 寫入一筆推播紀錄。
func (r *UserContextRepo) InsertPushLog(ctx context.Context, entry notify.DeliveryLog) error {
	const q = `
INSERT INTO push_logs (notification_id, user_id, type, title, priority, devices, succeeded, error, sent_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`
	_, err := r.db.ExecContext(ctx, q, entry.NotificationID, entry.UserID, entry.Type,
		entry.Title, entry.Priority, entry.Devices, entry.Succeeded, entry.Error, entry.SentAt)
	return err
}
