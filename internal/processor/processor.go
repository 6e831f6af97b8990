// Package processor runs one bounded delivery cycle over the
// notification queue: fetch, claim, resolve tokens, dispatch, record,
// decide, sweep. It is invoked on an external cadence and holds no
// long-running state.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nvasko/push-delivery-system/internal/domain"
	"github.com/nvasko/push-delivery-system/internal/gateway"
	"github.com/nvasko/push-delivery-system/internal/store"
)

// QueueStore is the durable queue the processor drains. It is the single
// source of truth for item state; every mutation is a conditional
// single-item update keyed on expected prior status.
type QueueStore interface {
	FetchPending(ctx context.Context, limit int) ([]domain.NotificationQueueItem, error)
	Claim(ctx context.Context, ids []string) ([]string, error)
	MarkOutcome(ctx context.Context, id string, status domain.QueueStatus, retryCount int, nextRetryAt *time.Time, lastError string) error
	SweepDueRetries(ctx context.Context, limit int) (int, error)
	ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int, error)
}

// TokenDirectory resolves recipients to device tokens.
type TokenDirectory interface {
	ResolveTokens(ctx context.Context, userIDs []string) (map[string][]string, error)
	ReportInvalidToken(ctx context.Context, userID, token string)
}

// PushGateway dispatches one batch and reports per-token outcomes.
type PushGateway interface {
	Send(ctx context.Context, batch []gateway.Message) ([]gateway.Outcome, error)
}

// Recorder appends to the delivery audit log.
type Recorder interface {
	InsertDeliveryRecord(ctx context.Context, rec store.DeliveryRecordInsert) error
}

// Config holds the per-cycle processing knobs.
type Config struct {
	FetchLimit     int
	SweepLimit     int
	Concurrency    int
	ClaimStaleness time.Duration
	Backoff        BackoffPolicy
}

// Summary is the aggregate result of one cycle, returned to the
// scheduler. Item-level failures are part of a successful cycle.
type Summary struct {
	Processed        int `json:"processed"`
	Sent             int `json:"sent"`
	Failed           int `json:"failed"`
	DeadLettered     int `json:"dead_lettered"`
	RequeuedForRetry int `json:"requeued_for_retry"`
	StaleReleased    int `json:"stale_released"`
}

// Processor composes the queue, directory, gateway and recorder into one
// processing cycle.
type Processor struct {
	store     QueueStore
	directory TokenDirectory
	gateway   PushGateway
	recorder  Recorder
	cfg       Config
	logger    *slog.Logger
}

func New(queueStore QueueStore, directory TokenDirectory, pushGateway PushGateway, recorder Recorder, cfg Config, logger *slog.Logger) *Processor {
	return &Processor{
		store:     queueStore,
		directory: directory,
		gateway:   pushGateway,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run executes one processing cycle. Only infrastructure failures (the
// queue store unreachable) return an error; per-item failures are
// recorded, rescheduled and reflected in the summary.
func (p *Processor) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	var summary Summary

	released, err := p.store.ReleaseStaleClaims(ctx, p.cfg.ClaimStaleness)
	if err != nil {
		recordCycle("error", time.Since(start))
		return Summary{}, fmt.Errorf("releasing stale claims: %w", err)
	}
	summary.StaleReleased = released
	if released > 0 {
		p.logger.Warn("released stale in-flight items", "count", released)
	}

	items, err := p.store.FetchPending(ctx, p.cfg.FetchLimit)
	if err != nil {
		recordCycle("error", time.Since(start))
		return Summary{}, fmt.Errorf("fetching pending items: %w", err)
	}

	if len(items) == 0 {
		// Zero work is a normal outcome; the sweep still runs so failed
		// items come due even when the pending pool is empty.
		if err := p.sweep(ctx, &summary); err != nil {
			recordCycle("error", time.Since(start))
			return Summary{}, err
		}
		recordCycle("ok", time.Since(start))
		return summary, nil
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}

	claimedIDs, err := p.store.Claim(ctx, ids)
	if err != nil {
		recordCycle("error", time.Since(start))
		return Summary{}, fmt.Errorf("claiming items: %w", err)
	}

	claimedSet := make(map[string]bool, len(claimedIDs))
	for _, id := range claimedIDs {
		claimedSet[id] = true
	}

	// Group claimed items by recipient, preserving fetch order. Items
	// that lost the claim race belong to an overlapping cycle.
	groups := make(map[string][]domain.NotificationQueueItem)
	var order []string
	for _, item := range items {
		if !claimedSet[item.ID] {
			continue
		}
		if _, ok := groups[item.UserID]; !ok {
			order = append(order, item.UserID)
		}
		groups[item.UserID] = append(groups[item.UserID], item)
		summary.Processed++
	}

	tokensByUser, err := p.directory.ResolveTokens(ctx, order)
	if err != nil {
		// Directory trouble mid-cycle is an item-level failure: every
		// claimed item takes the transient path and the cycle completes.
		p.logger.Error("token resolution failed", "error", err)
		now := time.Now()
		for _, userID := range order {
			for _, item := range groups[userID] {
				d := Decide(now, p.cfg.Backoff, item.RetryCount, item.MaxRetries, gateway.OutcomeTransient)
				p.mark(ctx, item, d, fmt.Sprintf("resolving tokens: %v", err))
				summary.bump(d.Status)
			}
		}
		if err := p.sweep(ctx, &summary); err != nil {
			recordCycle("error", time.Since(start))
			return Summary{}, err
		}
		p.finish(start, summary)
		return summary, nil
	}

	// User groups share no mutable state except the store, so dispatch
	// them on a bounded pool.
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, userID := range order {
		wg.Add(1)
		sem <- struct{}{}
		go func(userID string, groupItems []domain.NotificationQueueItem) {
			defer wg.Done()
			defer func() { <-sem }()

			counts := p.processGroup(ctx, userID, groupItems, tokensByUser[userID])

			mu.Lock()
			summary.Sent += counts.sent
			summary.Failed += counts.failed
			summary.DeadLettered += counts.deadLettered
			mu.Unlock()
		}(userID, groups[userID])
	}
	wg.Wait()

	if err := p.sweep(ctx, &summary); err != nil {
		recordCycle("error", time.Since(start))
		return Summary{}, err
	}

	p.finish(start, summary)
	return summary, nil
}

func (p *Processor) finish(start time.Time, summary Summary) {
	recordCycle("ok", time.Since(start))
	recordItems("sent", summary.Sent)
	recordItems("failed", summary.Failed)
	recordItems("dead_lettered", summary.DeadLettered)

	p.logger.Info("processing cycle complete",
		"processed", summary.Processed,
		"sent", summary.Sent,
		"failed", summary.Failed,
		"dead_lettered", summary.DeadLettered,
		"requeued_for_retry", summary.RequeuedForRetry,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// sweep requeues failed items whose backoff has elapsed, making them
// eligible for the next invocation rather than this one.
func (p *Processor) sweep(ctx context.Context, summary *Summary) error {
	requeued, err := p.store.SweepDueRetries(ctx, p.cfg.SweepLimit)
	if err != nil {
		return fmt.Errorf("sweeping due retries: %w", err)
	}
	summary.RequeuedForRetry = requeued
	recordRequeued(requeued)
	return nil
}

type groupCounts struct {
	sent         int
	failed       int
	deadLettered int
}

func (c *groupCounts) bump(status domain.QueueStatus) {
	switch status {
	case domain.StatusSent:
		c.sent++
	case domain.StatusFailed:
		c.failed++
	case domain.StatusDeadLettered:
		c.deadLettered++
	}
}

func (s *Summary) bump(status domain.QueueStatus) {
	switch status {
	case domain.StatusSent:
		s.Sent++
	case domain.StatusFailed:
		s.Failed++
	case domain.StatusDeadLettered:
		s.DeadLettered++
	}
}

// processGroup delivers all claimed items for one recipient.
func (p *Processor) processGroup(ctx context.Context, userID string, items []domain.NotificationQueueItem, tokens []string) groupCounts {
	var counts groupCounts
	now := time.Now()

	if len(tokens) == 0 {
		// No device to reach. The user may register one later, so this is
		// the transient variant: scheduled for retry, no gateway call.
		for _, item := range items {
			d := Decide(now, p.cfg.Backoff, item.RetryCount, item.MaxRetries, gateway.OutcomeTransient)
			p.mark(ctx, item, d, "no active device tokens")
			counts.bump(d.Status)
		}
		return counts
	}

	// One message per item × token.
	type ref struct {
		itemIdx int
		token   string
	}
	batch := make([]gateway.Message, 0, len(items)*len(tokens))
	refs := make([]ref, 0, cap(batch))
	for i, item := range items {
		for _, token := range tokens {
			batch = append(batch, gateway.Message{
				Token: token,
				Title: item.Title,
				Body:  item.Body,
				Data:  item.Data,
			})
			refs = append(refs, ref{itemIdx: i, token: token})
		}
	}

	outcomes, err := p.gateway.Send(ctx, batch)
	if err != nil {
		p.logger.Error("gateway send failed", "user_id", userID, "error", err)
		for _, item := range items {
			d := Decide(now, p.cfg.Backoff, item.RetryCount, item.MaxRetries, gateway.OutcomeTransient)
			p.mark(ctx, item, d, fmt.Sprintf("gateway: %v", err))
			counts.bump(d.Status)
		}
		return counts
	}

	type itemAgg struct {
		transient bool
		delivered bool
		lastError string
	}
	aggs := make([]itemAgg, len(items))
	reportedInvalid := make(map[string]bool)

	for k, out := range outcomes {
		r := refs[k]
		item := items[r.itemIdx]

		recOutcome := domain.RecordOutcomeOK
		switch out.Status {
		case gateway.OutcomeDelivered:
			aggs[r.itemIdx].delivered = true
		case gateway.OutcomeInvalidToken:
			recOutcome = domain.RecordOutcomeError
			aggs[r.itemIdx].lastError = out.Error
			if !reportedInvalid[r.token] {
				reportedInvalid[r.token] = true
				p.directory.ReportInvalidToken(ctx, userID, r.token)
			}
		case gateway.OutcomeTransient:
			recOutcome = domain.RecordOutcomeError
			aggs[r.itemIdx].transient = true
			aggs[r.itemIdx].lastError = out.Error
		}

		err := p.recorder.InsertDeliveryRecord(ctx, store.DeliveryRecordInsert{
			QueueItemID:      item.ID,
			UserID:           item.UserID,
			NotificationType: item.NotificationType,
			Title:            item.Title,
			Body:             item.Body,
			DeviceToken:      r.token,
			Attempt:          item.RetryCount,
			Outcome:          recOutcome,
			ErrorMessage:     out.Error,
		})
		if err != nil {
			p.logger.Error("failed to record delivery attempt",
				"queue_item_id", item.ID,
				"error", err,
			)
		}
	}

	// Aggregate per item: any transient token failure keeps the item on
	// the retry path; otherwise one delivery counts as sent; an item
	// whose every token is invalid dead-letters immediately.
	for i, item := range items {
		a := aggs[i]
		var outcome gateway.OutcomeStatus
		switch {
		case a.transient:
			outcome = gateway.OutcomeTransient
		case a.delivered:
			outcome = gateway.OutcomeDelivered
		default:
			outcome = gateway.OutcomeInvalidToken
		}

		d := Decide(now, p.cfg.Backoff, item.RetryCount, item.MaxRetries, outcome)
		p.mark(ctx, item, d, a.lastError)
		counts.bump(d.Status)
	}

	return counts
}

func (p *Processor) mark(ctx context.Context, item domain.NotificationQueueItem, d Decision, lastError string) {
	if d.Status == domain.StatusSent {
		lastError = ""
	}
	if err := p.store.MarkOutcome(ctx, item.ID, d.Status, d.RetryCount, d.NextRetryAt, lastError); err != nil {
		p.logger.Error("failed to mark outcome",
			"queue_item_id", item.ID,
			"status", d.Status,
			"error", err,
		)
		return
	}

	switch d.Status {
	case domain.StatusSent:
		p.logger.Info("notification sent",
			"queue_item_id", item.ID,
			"user_id", item.UserID,
			"type", item.NotificationType,
			"attempt", item.RetryCount,
		)
	case domain.StatusFailed:
		p.logger.Warn("notification failed, retry scheduled",
			"queue_item_id", item.ID,
			"user_id", item.UserID,
			"retry_count", d.RetryCount,
			"next_retry_at", d.NextRetryAt,
			"error", lastError,
		)
	case domain.StatusDeadLettered:
		p.logger.Warn("notification dead-lettered",
			"queue_item_id", item.ID,
			"user_id", item.UserID,
			"retry_count", d.RetryCount,
			"error", lastError,
		)
	}
}
