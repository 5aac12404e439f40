package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	dm "infodigest/internal/domain/monitoring"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestMarketRepo_GetSnapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	repo := NewMarketRepo(db)
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM prices").
		WithArgs("NVDA").
		WillReturnRows(sqlmock.NewRows([]string{"symbol", "open", "high", "low", "close", "volume", "change_percent", "ts"}).
			AddRow("NVDA", 900.0, 910.0, 895.0, 905.0, 50000.0, 1.2, now))
	mock.ExpectQuery("SELECT close FROM prices").
		WithArgs("NVDA").
		WillReturnRows(sqlmock.NewRows([]string{"close"}).AddRow(894.0))
	mock.ExpectQuery("SELECT (.+) FROM technical_indicators").
		WithArgs("NVDA").
		WillReturnRows(sqlmock.NewRows([]string{"sma20", "sma50", "rsi", "macd_histogram",
			"bollinger_upper", "bollinger_lower", "atr", "volume_avg20", "calculated_at"}).
			AddRow(890.0, 870.0, 65.0, 0.4, 915.0, 860.0, nil, 45000.0, now))

	snap, err := repo.GetSnapshot(context.Background(), "NVDA")
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if snap.Price == nil || snap.Price.Close != 905 {
		t.Errorf("price = %+v", snap.Price)
	}
	if snap.PrevClose == nil || *snap.PrevClose != 894 {
		t.Errorf("prev close = %v", snap.PrevClose)
	}
	if snap.Technical == nil || snap.Technical.RSI == nil || *snap.Technical.RSI != 65 {
		t.Errorf("technicals = %+v", snap.Technical)
	}
	if snap.Technical.ATR != nil {
		t.Error("NULL atr column should map to nil")
	}
}

func TestMarketRepo_GetSnapshot_NoData(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	repo := NewMarketRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM prices").
		WithArgs("UNKNOWN").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM technical_indicators").
		WithArgs("UNKNOWN").
		WillReturnError(sql.ErrNoRows)

	snap, err := repo.GetSnapshot(context.Background(), "UNKNOWN")
	if err != nil {
		t.Fatalf("missing data should not error: %v", err)
	}
	if snap.Price != nil || snap.Technical != nil {
		t.Errorf("expected empty snapshot, got %+v", snap)
	}
}

func TestMarketRepo_RecentBars_OldestFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	repo := NewMarketRepo(db)
	now := time.Now()

	// 查詢依 ts DESC 回傳，介面輸出由舊到新。
	rows := sqlmock.NewRows([]string{"symbol", "open", "high", "low", "close", "volume", "change_percent", "ts"}).
		AddRow("NVDA", 0.0, 0.0, 0.0, 905.0, 0.0, 0.0, now).
		AddRow("NVDA", 0.0, 0.0, 0.0, 894.0, 0.0, 0.0, now.Add(-24*time.Hour))

	mock.ExpectQuery("SELECT (.+) FROM prices").
		WithArgs("NVDA", 60).
		WillReturnRows(rows)

	bars, err := repo.RecentBars(context.Background(), "NVDA", 60)
	if err != nil {
		t.Fatalf("RecentBars failed: %v", err)
	}
	if len(bars) != 2 || bars[0].Close != 894 || bars[1].Close != 905 {
		t.Errorf("bars not reversed to chronological order: %+v", bars)
	}
}

func TestMarketRepo_SaveTechnicals(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	repo := NewMarketRepo(db)
	rsi := 65.0
	tech := dm.Technicals{RSI: &rsi, CalculatedAt: time.Now()}

	mock.ExpectExec("INSERT INTO technical_indicators").
		WithArgs("NVDA", nil, nil, 65.0, nil, nil, nil, nil, nil, tech.CalculatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.SaveTechnicals(context.Background(), "NVDA", tech); err != nil {
		t.Fatalf("SaveTechnicals failed: %v", err)
	}
}
