package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	dm "infodigest/internal/domain/monitoring"
)

// NewsRepo 提供新聞事件的存取。
type NewsRepo struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// NewNewsRepo 建立 NewsRepo。
func NewNewsRepo(db *sql.DB) *NewsRepo {
	return &NewsRepo{db: db, nowFunc: time.Now}
}

const newsColumns = `id, title, symbols, sectors, category, importance_score, url, published_at, processed`

func scanNews(scanner interface{ Scan(dest ...any) error }) (dm.NewsItem, error) {
	var n dm.NewsItem
	if err := scanner.Scan(&n.ID, &n.Title, pq.Array(&n.Symbols), pq.Array(&n.Sectors),
		&n.Category, &n.ImportanceScore, &n.URL, &n.PublishedAt, &n.Processed); err != nil {
		return dm.NewsItem{}, err
	}
	return n, nil
}

// RecentNews 回傳標的在時間窗內的新聞，新的在前。
func (r *NewsRepo) RecentNews(ctx context.Context, symbol string, window time.Duration) ([]dm.NewsItem, error) {
	q := `
SELECT ` + newsColumns + `
FROM news_events
WHERE $1 = ANY(symbols) AND published_at >= $2
ORDER BY published_at DESC;
`
	cutoff := r.nowFunc().Add(-window)
	rows, err := r.db.QueryContext(ctx, q, symbol, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dm.NewsItem
	for rows.Next() {
		item, err := scanNews(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// UnprocessedEvents 回傳尚未處理且重要性達標的事件，重要性高者在前。
func (r *NewsRepo) UnprocessedEvents(ctx context.Context, minImportance float64, limit int) ([]dm.NewsItem, error) {
	q := `
SELECT ` + newsColumns + `
FROM news_events
WHERE processed = FALSE AND importance_score >= $1
ORDER BY importance_score DESC, published_at DESC
LIMIT $2;
`
	rows, err := r.db.QueryContext(ctx, q, minImportance, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dm.NewsItem
	for rows.Next() {
		item, err := scanNews(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// MarkEventProcessed 將事件標記為已處理。
func (r *NewsRepo) MarkEventProcessed(ctx context.Context, id string) error {
	const q = `UPDATE news_events SET processed = TRUE WHERE id = $1;`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}
