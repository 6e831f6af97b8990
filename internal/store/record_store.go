package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nvasko/push-delivery-system/internal/domain"
)

// DeliveryRecordInsert holds data for appending one send-attempt record.
type DeliveryRecordInsert struct {
	QueueItemID      string
	UserID           string
	NotificationType string
	Title            string
	Body             string
	DeviceToken      string
	Attempt          int
	Outcome          string
	ErrorMessage     string
	Metadata         map[string]string
}

// InsertDeliveryRecord appends one record per (item, token, attempt).
// The unique index makes re-recording the same attempt after a crash a
// no-op, so a replayed cycle never double-counts a send.
func (s *PostgresStore) InsertDeliveryRecord(ctx context.Context, rec DeliveryRecordInsert) error {
	var errMsg *string
	if rec.ErrorMessage != "" {
		errMsg = &rec.ErrorMessage
	}
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO delivery_records (queue_item_id, user_id, notification_type, title, body, device_token, attempt, outcome, error_message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (queue_item_id, device_token, attempt) DO NOTHING
	`, rec.QueueItemID, rec.UserID, rec.NotificationType, rec.Title, rec.Body,
		rec.DeviceToken, rec.Attempt, rec.Outcome, errMsg, metadata)
	if err != nil {
		return fmt.Errorf("inserting delivery record: %w", err)
	}
	return nil
}

const recordColumns = `id, queue_item_id, user_id, notification_type, title, body,
	device_token, attempt, outcome, error_message, metadata, sent_at`

// ListDeliveryRecords returns delivery records with optional filtering.
func (s *PostgresStore) ListDeliveryRecords(ctx context.Context, queueItemID, userID, outcome string, limit int) ([]domain.DeliveryRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM delivery_records`
	args := []interface{}{}
	argIdx := 1
	conditions := []string{}

	if queueItemID != "" {
		conditions = append(conditions, fmt.Sprintf("queue_item_id = $%d", argIdx))
		args = append(args, queueItemID)
		argIdx++
	}
	if userID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
		args = append(args, userID)
		argIdx++
	}
	if outcome != "" {
		conditions = append(conditions, fmt.Sprintf("outcome = $%d", argIdx))
		args = append(args, outcome)
		argIdx++
	}

	if len(conditions) > 0 {
		query += " WHERE "
		for i, c := range conditions {
			if i > 0 {
				query += " AND "
			}
			query += c
		}
	}

	query += " ORDER BY sent_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying delivery records: %w", err)
	}
	defer rows.Close()

	var records []domain.DeliveryRecord
	for rows.Next() {
		var r domain.DeliveryRecord
		err := rows.Scan(
			&r.ID, &r.QueueItemID, &r.UserID, &r.NotificationType, &r.Title, &r.Body,
			&r.DeviceToken, &r.Attempt, &r.Outcome, &r.ErrorMessage, &r.Metadata, &r.SentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery record: %w", err)
		}
		records = append(records, r)
	}

	if records == nil {
		records = []domain.DeliveryRecord{}
	}

	return records, nil
}

// GetDeliveryRecord returns a single delivery record by ID, or nil if absent.
func (s *PostgresStore) GetDeliveryRecord(ctx context.Context, id string) (*domain.DeliveryRecord, error) {
	var r domain.DeliveryRecord
	err := s.pool.QueryRow(ctx, `
		SELECT `+recordColumns+` FROM delivery_records WHERE id = $1
	`, id).Scan(
		&r.ID, &r.QueueItemID, &r.UserID, &r.NotificationType, &r.Title, &r.Body,
		&r.DeviceToken, &r.Attempt, &r.Outcome, &r.ErrorMessage, &r.Metadata, &r.SentAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying delivery record: %w", err)
	}
	return &r, nil
}

// QueueStats holds aggregated queue and delivery statistics.
type QueueStats struct {
	Pending         int     `json:"pending"`
	InFlight        int     `json:"in_flight"`
	Sent            int     `json:"sent"`
	Failed          int     `json:"failed"`
	DeadLettered    int     `json:"dead_lettered"`
	TotalAttempts   int     `json:"total_attempts"`
	AttemptsOK      int     `json:"attempts_ok"`
	AttemptsError   int     `json:"attempts_error"`
	SuccessRate     float64 `json:"success_rate"`
	OldestPendingAt *string `json:"oldest_pending_at,omitempty"`
}

// GetQueueStats returns aggregated statistics for monitoring.
func (s *PostgresStore) GetQueueStats(ctx context.Context) (*QueueStats, error) {
	var stats QueueStats

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'in_flight') AS in_flight,
			COUNT(*) FILTER (WHERE status = 'sent') AS sent,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'dead_lettered') AS dead_lettered
		FROM notification_queue
	`).Scan(&stats.Pending, &stats.InFlight, &stats.Sent, &stats.Failed, &stats.DeadLettered)
	if err != nil {
		return nil, fmt.Errorf("querying queue stats: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE outcome = 'ok') AS ok,
			COUNT(*) FILTER (WHERE outcome = 'error') AS error
		FROM delivery_records
	`).Scan(&stats.TotalAttempts, &stats.AttemptsOK, &stats.AttemptsError)
	if err != nil {
		return nil, fmt.Errorf("querying attempt stats: %w", err)
	}

	if stats.TotalAttempts > 0 {
		stats.SuccessRate = float64(stats.AttemptsOK) / float64(stats.TotalAttempts) * 100
	}

	var oldest *time.Time
	err = s.pool.QueryRow(ctx, `
		SELECT MIN(created_at) FROM notification_queue WHERE status = 'pending'
	`).Scan(&oldest)
	if err != nil {
		return nil, fmt.Errorf("querying oldest pending: %w", err)
	}
	if oldest != nil {
		formatted := oldest.Format(time.RFC3339)
		stats.OldestPendingAt = &formatted
	}

	return &stats, nil
}
