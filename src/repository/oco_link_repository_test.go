package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"tradeexecutor/src/model"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestOCOLinkRepositoryListActive(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &OCOLinkRepository{db: mockDB}

	createdAt := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "signal_id", "symbol", "tp_order_id", "sl_order_id", "status", "created_at", "updated_at"}).
		AddRow(uint(1), "sig-1", "BTCUSDT", "100", "101", "ACTIVE", createdAt, createdAt).
		AddRow(uint(2), "sig-2", "ETHUSDT", "200", "201", "ACTIVE", createdAt, createdAt)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "oco_links" WHERE status = $1 ORDER BY id ASC LIMIT $2`)).
		WithArgs(model.OCOStatusActive, 50).
		WillReturnRows(rows)

	links, err := repo.ListActive(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error listing active links: %v", err)
	}

	if len(links) != 2 {
		t.Fatalf("expected 2 active links, got %d", len(links))
	}
	if links[0].SignalID != "sig-1" || links[1].SignalID != "sig-2" {
		t.Fatalf("links not returned oldest first: %+v", links)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestOCOLinkRepositoryHasActiveForSymbol(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &OCOLinkRepository{db: mockDB}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "oco_links" WHERE status = $1 AND symbol = $2`)).
		WithArgs(model.OCOStatusActive, "BTCUSDT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	has, err := repo.HasActiveForSymbol(context.Background(), "btcusdt")
	if err != nil {
		t.Fatalf("unexpected error checking active link: %v", err)
	}
	if !has {
		t.Fatal("expected an active link for BTCUSDT")
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "oco_links" WHERE status = $1 AND symbol = $2`)).
		WithArgs(model.OCOStatusActive, "ETHUSDT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	has, err = repo.HasActiveForSymbol(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatalf("unexpected error checking active link: %v", err)
	}
	if has {
		t.Fatal("expected no active link for ETHUSDT")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestOCOLinkRepositorySetStatusOnlyTransitionsActiveRows(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &OCOLinkRepository{db: mockDB}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "oco_links" SET "status"=$1,"updated_at"=$2 WHERE id = $3 AND status = $4`)).
		WithArgs(model.OCOStatusClosedTP, sqlmock.AnyArg(), uint(7), model.OCOStatusActive).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.SetStatus(context.Background(), 7, model.OCOStatusClosedTP); err != nil {
		t.Fatalf("unexpected error setting status: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		sqlDB.Close()
		t.Fatalf("failed to open gorm DB with sqlmock: %v", err)
	}

	return gdb, mock
}
