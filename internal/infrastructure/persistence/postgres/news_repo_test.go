package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func TestNewsRepo_RecentNews(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	repo := NewNewsRepo(db)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "title", "symbols", "sectors", "category",
		"importance_score", "url", "published_at", "processed"}).
		AddRow("n-1", "財報優於預期", pq.Array([]string{"NVDA"}), pq.Array([]string{"semiconductor"}),
			"earnings", 85.0, "https://example.com/n1", now, false)

	mock.ExpectQuery("SELECT (.+) FROM news_events").
		WithArgs("NVDA", sqlmock.AnyArg()).
		WillReturnRows(rows)

	news, err := repo.RecentNews(context.Background(), "NVDA", 24*time.Hour)
	if err != nil {
		t.Fatalf("RecentNews failed: %v", err)
	}
	if len(news) != 1 || news[0].ImportanceScore != 85 {
		t.Errorf("unexpected news: %+v", news)
	}
	if len(news[0].Symbols) != 1 || news[0].Symbols[0] != "NVDA" {
		t.Errorf("symbols not scanned: %v", news[0].Symbols)
	}
}

func TestNewsRepo_UnprocessedEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	repo := NewNewsRepo(db)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "title", "symbols", "sectors", "category",
		"importance_score", "url", "published_at", "processed"}).
		AddRow("n-1", "重大事件", pq.Array([]string{"NVDA"}), pq.Array([]string{}), "macro", 90.0, "", now, false)

	mock.ExpectQuery("SELECT (.+) FROM news_events").
		WithArgs(80.0, 10).
		WillReturnRows(rows)

	events, err := repo.UnprocessedEvents(context.Background(), 80, 10)
	if err != nil {
		t.Fatalf("UnprocessedEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].ID != "n-1" {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestNewsRepo_MarkEventProcessed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	repo := NewNewsRepo(db)

	mock.ExpectExec("UPDATE news_events").
		WithArgs("n-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkEventProcessed(context.Background(), "n-1"); err != nil {
		t.Fatalf("MarkEventProcessed failed: %v", err)
	}
}
