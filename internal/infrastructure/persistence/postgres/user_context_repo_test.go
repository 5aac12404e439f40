package postgres

import (
	"context"
	"testing"
	"time"

	"infodigest/internal/infrastructure/notify"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestUserContextRepo_UsersForSymbol(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	repo := NewUserContextRepo(db)

	rows := sqlmock.NewRows([]string{"user_id"}).AddRow("u-1").AddRow("u-2")
	mock.ExpectQuery("SELECT user_id FROM portfolios").
		WithArgs("NVDA").
		WillReturnRows(rows)

	users, err := repo.UsersForSymbol(context.Background(), "NVDA")
	if err != nil {
		t.Fatalf("UsersForSymbol failed: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("expected 2 users, got %v", users)
	}
}

func TestUserContextRepo_Context(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	repo := NewUserContextRepo(db)

	mock.ExpectQuery("SELECT").
		WithArgs("u-1", "NVDA").
		WillReturnRows(sqlmock.NewRows([]string{"position_weight", "in_watchlist", "in_focus"}).
			AddRow(0.15, true, false))

	uc, err := repo.Context(context.Background(), "u-1", "NVDA")
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	if !uc.InPortfolio || uc.PositionWeight != 0.15 || !uc.InWatchlist || uc.InTemporaryFocus {
		t.Errorf("unexpected context: %+v", uc)
	}
}

func TestUserContextRepo_Context_NoHolding(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	repo := NewUserContextRepo(db)

	// 無持倉時哨兵值 -1 不應視為持倉。
	mock.ExpectQuery("SELECT").
		WithArgs("u-2", "NVDA").
		WillReturnRows(sqlmock.NewRows([]string{"position_weight", "in_watchlist", "in_focus"}).
			AddRow(-1.0, false, true))

	uc, err := repo.Context(context.Background(), "u-2", "NVDA")
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	if uc.InPortfolio || uc.PositionWeight != 0 {
		t.Errorf("expected no holding, got %+v", uc)
	}
	if !uc.InTemporaryFocus {
		t.Error("expected temporary focus flag")
	}
}

func TestUserContextRepo_DeviceTokens(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	repo := NewUserContextRepo(db)

	rows := sqlmock.NewRows([]string{"device_token"}).AddRow("tok-1").AddRow("tok-2")
	mock.ExpectQuery("SELECT device_token FROM devices").
		WithArgs("u-1").
		WillReturnRows(rows)

	tokens, err := repo.DeviceTokens(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("DeviceTokens failed: %v", err)
	}
	if len(tokens) != 2 || tokens[0] != "tok-1" {
		t.Errorf("unexpected tokens: %v", tokens)
	}
}

func TestUserContextRepo_InsertPushLog(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	repo := NewUserContextRepo(db)
	entry := notify.DeliveryLog{
		NotificationID: "n-1", UserID: "u-1", Type: "strategy_trigger",
		Title: "策略觸發", Priority: 80, Devices: 2, Succeeded: 2, SentAt: time.Now(),
	}

	mock.ExpectExec("INSERT INTO push_logs").
		WithArgs(entry.NotificationID, entry.UserID, entry.Type, entry.Title,
			entry.Priority, entry.Devices, entry.Succeeded, entry.Error, entry.SentAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.InsertPushLog(context.Background(), entry); err != nil {
		t.Fatalf("InsertPushLog failed: %v", err)
	}
}
