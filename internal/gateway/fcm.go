// Package gateway sends notification batches to the external push
// service. Vendor-specific error codes are mapped to a three-way outcome
// here; nothing FCM-specific leaks past this boundary.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// Message is one (token, title, body, data) tuple to dispatch.
type Message struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

// OutcomeStatus is the gateway-agnostic result for a single token.
type OutcomeStatus string

const (
	OutcomeDelivered    OutcomeStatus = "delivered"
	OutcomeInvalidToken OutcomeStatus = "invalid_token"
	OutcomeTransient    OutcomeStatus = "transient_error"
)

// Outcome is the per-token send result. Error is populated for the two
// failure statuses.
type Outcome struct {
	Status OutcomeStatus
	Error  string
}

// FCM caps SendEach batches at 500 messages.
const maxBatchSize = 500

// sender is the slice of *messaging.Client the gateway uses.
type sender interface {
	SendEach(ctx context.Context, messages []*messaging.Message) (*messaging.BatchResponse, error)
}

// FCMClient dispatches batches through Firebase Cloud Messaging. It never
// retries internally; retry policy lives one layer up so the decision
// stays centralized and testable.
type FCMClient struct {
	sender  sender
	timeout time.Duration
	logger  *slog.Logger
}

// NewFCMClient initializes the Firebase app and messaging client. An
// empty credentialsFile falls back to application default credentials.
func NewFCMClient(ctx context.Context, credentialsFile string, timeout time.Duration, logger *slog.Logger) (*FCMClient, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing firebase app: %w", err)
	}

	mc, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing messaging client: %w", err)
	}

	return &FCMClient{
		sender:  mc,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Send dispatches the batch and returns one outcome per message, aligned
// by index. Oversized batches are chunked to the gateway limit. A failed
// or timed-out chunk call yields a transient outcome for every token in
// that chunk; a single bad token never fails its batch.
func (c *FCMClient) Send(ctx context.Context, batch []Message) ([]Outcome, error) {
	outcomes := make([]Outcome, len(batch))

	for start := 0; start < len(batch); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(batch) {
			end = len(batch)
		}
		chunk := batch[start:end]

		messages := make([]*messaging.Message, len(chunk))
		for i, m := range chunk {
			messages[i] = &messaging.Message{
				Token: m.Token,
				Notification: &messaging.Notification{
					Title: m.Title,
					Body:  m.Body,
				},
				Data: m.Data,
			}
		}

		chunkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.sender.SendEach(chunkCtx, messages)
		cancel()

		if err != nil {
			c.logger.Warn("push gateway batch call failed",
				"batch_size", len(chunk),
				"error", err,
			)
			for i := range chunk {
				outcomes[start+i] = Outcome{Status: OutcomeTransient, Error: err.Error()}
			}
			continue
		}

		for i, r := range resp.Responses {
			outcomes[start+i] = classify(r)
		}
	}

	return outcomes, nil
}

// classify maps one FCM send response onto the three-way outcome.
// Unregistered and sender-mismatch tokens will never become valid by
// waiting; everything else is worth a retry.
func classify(r *messaging.SendResponse) Outcome {
	if r.Success {
		return Outcome{Status: OutcomeDelivered}
	}

	err := r.Error
	if err == nil {
		return Outcome{Status: OutcomeTransient, Error: "send failed without error detail"}
	}

	if messaging.IsUnregistered(err) || messaging.IsSenderIDMismatch(err) {
		return Outcome{Status: OutcomeInvalidToken, Error: err.Error()}
	}

	return Outcome{Status: OutcomeTransient, Error: err.Error()}
}
