package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nvasko/push-delivery-system/internal/domain"
)

const queueItemColumns = `id, user_id, notification_type, title, body, data, priority, status,
	retry_count, max_retries, next_retry_at, last_error, created_at, updated_at`

func scanQueueItem(row pgx.Row) (*domain.NotificationQueueItem, error) {
	var item domain.NotificationQueueItem
	err := row.Scan(
		&item.ID, &item.UserID, &item.NotificationType, &item.Title, &item.Body,
		&item.Data, &item.Priority, &item.Status, &item.RetryCount, &item.MaxRetries,
		&item.NextRetryAt, &item.LastError, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Enqueue inserts a new pending queue item. This is the sole producer
// contract: everything upstream creates work through this path.
func (s *PostgresStore) Enqueue(ctx context.Context, req domain.EnqueueRequest, defaultMaxRetries int) (*domain.NotificationQueueItem, error) {
	priority := 100
	if req.Priority != nil {
		priority = *req.Priority
	}
	maxRetries := defaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	data := req.Data
	if data == nil {
		data = map[string]string{}
	}

	item, err := scanQueueItem(s.pool.QueryRow(ctx, `
		INSERT INTO notification_queue (id, user_id, notification_type, title, body, data, priority, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+queueItemColumns,
		uuid.New().String(), req.UserID, req.NotificationType, req.Title, req.Body, data, priority, maxRetries,
	))
	if err != nil {
		return nil, fmt.Errorf("inserting queue item: %w", err)
	}
	return item, nil
}

// FetchPending returns up to limit pending items ordered by priority
// ascending then creation time (stable FIFO within a priority band).
// Read-only: claiming is a separate step.
func (s *PostgresStore) FetchPending(ctx context.Context, limit int) ([]domain.NotificationQueueItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+queueItemColumns+`
		FROM notification_queue
		WHERE status = 'pending'
		ORDER BY priority ASC, created_at ASC, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying pending items: %w", err)
	}
	defer rows.Close()

	var items []domain.NotificationQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning queue item: %w", err)
		}
		items = append(items, *item)
	}

	if items == nil {
		items = []domain.NotificationQueueItem{}
	}

	return items, nil
}

// Claim transitions the given items from pending to in_flight and returns
// the ids actually claimed. The status guard makes the claim all-or-nothing
// per item: an id already taken by an overlapping cycle is simply absent
// from the result.
func (s *PostgresStore) Claim(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		UPDATE notification_queue
		SET status = 'in_flight', updated_at = NOW()
		WHERE id = ANY($1) AND status = 'pending'
		RETURNING id
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("claiming queue items: %w", err)
	}
	defer rows.Close()

	claimed := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning claimed id: %w", err)
		}
		claimed = append(claimed, id)
	}

	return claimed, nil
}

// MarkOutcome conditionally advances an in_flight item. A stale writer
// finishing after the item was already advanced by a faster attempt hits
// the status guard and the update is a silent no-op.
func (s *PostgresStore) MarkOutcome(ctx context.Context, id string, status domain.QueueStatus, retryCount int, nextRetryAt *time.Time, lastError string) error {
	var lastErr *string
	if lastError != "" {
		lastErr = &lastError
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = $2, retry_count = $3, next_retry_at = $4, last_error = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'in_flight'
	`, id, status, retryCount, nextRetryAt, lastErr)
	if err != nil {
		return fmt.Errorf("marking outcome for %s: %w", id, err)
	}
	return nil
}

// SweepDueRetries moves failed items whose backoff has elapsed back to
// pending. This is the only path by which a failed item re-enters the
// fetch pool; swept items become eligible on the next cycle, not this one.
func (s *PostgresStore) SweepDueRetries(ctx context.Context, limit int) (int, error) {
	result, err := s.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = 'pending', next_retry_at = NULL, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM notification_queue
			WHERE status = 'failed'
			  AND next_retry_at <= NOW()
			  AND retry_count < max_retries
			ORDER BY next_retry_at ASC
			LIMIT $1
		)
	`, limit)
	if err != nil {
		return 0, fmt.Errorf("sweeping due retries: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// ReleaseStaleClaims returns in_flight items older than the staleness
// threshold to pending. Recovers items stranded by a crashed or cancelled
// cycle; retry_count is untouched since no outcome was recorded for them.
func (s *PostgresStore) ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int, error) {
	result, err := s.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'in_flight'
		  AND updated_at < NOW() - $1::interval
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("releasing stale claims: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// GetQueueItem returns a single queue item by ID, or nil if absent.
func (s *PostgresStore) GetQueueItem(ctx context.Context, id string) (*domain.NotificationQueueItem, error) {
	item, err := scanQueueItem(s.pool.QueryRow(ctx, `
		SELECT `+queueItemColumns+` FROM notification_queue WHERE id = $1
	`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying queue item: %w", err)
	}
	return item, nil
}

// ListQueueItems returns queue items with optional filtering.
func (s *PostgresStore) ListQueueItems(ctx context.Context, userID string, status domain.QueueStatus, limit int) ([]domain.NotificationQueueItem, error) {
	query := `SELECT ` + queueItemColumns + ` FROM notification_queue`
	args := []interface{}{}
	argIdx := 1
	conditions := []string{}

	if userID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
		args = append(args, userID)
		argIdx++
	}
	if status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, status)
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

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying queue items: %w", err)
	}
	defer rows.Close()

	var items []domain.NotificationQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning queue item: %w", err)
		}
		items = append(items, *item)
	}

	if items == nil {
		items = []domain.NotificationQueueItem{}
	}

	return items, nil
}

// RequeueDeadLetter resets a dead-lettered item to pending with a fresh
// retry budget. Operator redrive: the processor itself never does this.
func (s *PostgresStore) RequeueDeadLetter(ctx context.Context, id string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = 'pending', retry_count = 0, next_retry_at = NULL, last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'dead_lettered'
	`, id)
	if err != nil {
		return fmt.Errorf("requeuing dead letter: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("item not found or not dead-lettered")
	}
	return nil
}
