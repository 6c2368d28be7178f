package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/vibast-solutions/ms-go-mailer/app/entity"
)

func TestDeliveryHistoryRepositoryRecord(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	repo := NewDeliveryHistoryRepository(db)

	mock.ExpectExec("INSERT INTO delivery_history").
		WithArgs("J1", "1-0", "welcome", "a@x.com", entity.DeliveryStatusSent, 0, "msg-1", nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := repo.Record(context.Background(), entity.DeliveryRecord{
		JobID:     "J1",
		EntryID:   "1-0",
		EmailType: "welcome",
		Recipient: "a@x.com",
		Status:    entity.DeliveryStatusSent,
		MessageID: "msg-1",
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	mock.ExpectExec("INSERT INTO delivery_history").
		WithArgs("J2", "2-0", "welcome", "b@x.com", entity.DeliveryStatusDeadLettered, 3, nil, "smtp down").
		WillReturnError(errors.New("deadlock"))
	err = repo.Record(context.Background(), entity.DeliveryRecord{
		JobID:      "J2",
		EntryID:    "2-0",
		EmailType:  "welcome",
		Recipient:  "b@x.com",
		Status:     entity.DeliveryStatusDeadLettered,
		RetryCount: 3,
		Error:      "smtp down",
	})
	if err == nil {
		t.Fatalf("expected insert error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeliveryHistoryRepositoryListByJobID(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	repo := NewDeliveryHistoryRepository(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"job_id", "entry_id", "email_type", "recipient", "status", "retry_count", "message_id", "error", "created_at"}).
		AddRow("J1", "1-0", "welcome", "a@x.com", entity.DeliveryStatusRetried, 0, nil, "timeout", now).
		AddRow("J1", "2-0", "welcome", "a@x.com", entity.DeliveryStatusSent, 1, "msg-1", nil, now)
	mock.ExpectQuery("SELECT job_id, entry_id").
		WithArgs("J1").
		WillReturnRows(rows)

	entries, err := repo.ListByJobID(context.Background(), "J1")
	if err != nil {
		t.Fatalf("ListByJobID: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Status != entity.DeliveryStatusRetried || entries[0].Error != "timeout" || entries[0].MessageID != "" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].RetryCount != 1 || entries[1].MessageID != "msg-1" {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeliveryHistoryRepositoryEnsureSchema(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS delivery_history").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := NewDeliveryHistoryRepository(db).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
