package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vibast-solutions/ms-go-mailer/app/entity"
)

const schema = `
	CREATE TABLE IF NOT EXISTS delivery_history (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		job_id VARCHAR(64) NOT NULL,
		entry_id VARCHAR(64) NOT NULL,
		email_type VARCHAR(64) NOT NULL,
		recipient VARCHAR(320) NOT NULL,
		status SMALLINT NOT NULL,
		retry_count INT NOT NULL,
		message_id VARCHAR(255) NULL,
		error TEXT NULL,
		created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		KEY idx_delivery_history_job (job_id)
	)
`

// DeliveryEntry is a stored disposition with its timestamp.
type DeliveryEntry struct {
	entity.DeliveryRecord
	CreatedAt time.Time
}

type DeliveryHistoryRepository struct {
	db *sql.DB
}

// NewDeliveryHistoryRepository constructs a repository backed by MySQL.
func NewDeliveryHistoryRepository(db *sql.DB) *DeliveryHistoryRepository {
	return &DeliveryHistoryRepository{db: db}
}

// EnsureSchema creates the delivery_history table if it is missing.
func (r *DeliveryHistoryRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create delivery_history: %w", err)
	}
	return nil
}

// Record inserts one disposition.
func (r *DeliveryHistoryRepository) Record(ctx context.Context, record entity.DeliveryRecord) error {
	const query = `
		INSERT INTO delivery_history (job_id, entry_id, email_type, recipient, status, retry_count, message_id, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		record.JobID,
		record.EntryID,
		record.EmailType,
		record.Recipient,
		record.Status,
		record.RetryCount,
		nullString(record.MessageID),
		nullString(record.Error),
	)
	if err != nil {
		return fmt.Errorf("insert delivery_history for job %s: %w", record.JobID, err)
	}
	return nil
}

// ListByJobID returns every disposition recorded for a job, oldest first.
func (r *DeliveryHistoryRepository) ListByJobID(ctx context.Context, jobID string) ([]DeliveryEntry, error) {
	const query = `
		SELECT job_id, entry_id, email_type, recipient, status, retry_count, message_id, error, created_at
		FROM delivery_history
		WHERE job_id = ?
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("query delivery_history for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var entries []DeliveryEntry
	for rows.Next() {
		var (
			entry     DeliveryEntry
			messageID sql.NullString
			errText   sql.NullString
		)
		if err := rows.Scan(
			&entry.JobID,
			&entry.EntryID,
			&entry.EmailType,
			&entry.Recipient,
			&entry.Status,
			&entry.RetryCount,
			&messageID,
			&errText,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery_history: %w", err)
		}
		entry.MessageID = messageID.String
		entry.Error = errText.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
