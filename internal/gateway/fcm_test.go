package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
)

type fakeSender struct {
	calls     [][]*messaging.Message
	respond   func(messages []*messaging.Message) (*messaging.BatchResponse, error)
	callCount int
}

func (f *fakeSender) SendEach(_ context.Context, messages []*messaging.Message) (*messaging.BatchResponse, error) {
	f.callCount++
	f.calls = append(f.calls, messages)
	if f.respond != nil {
		return f.respond(messages)
	}
	return allSuccess(messages), nil
}

func allSuccess(messages []*messaging.Message) *messaging.BatchResponse {
	responses := make([]*messaging.SendResponse, len(messages))
	for i := range messages {
		responses[i] = &messaging.SendResponse{Success: true, MessageID: fmt.Sprintf("msg-%d", i)}
	}
	return &messaging.BatchResponse{SuccessCount: len(messages), Responses: responses}
}

func newTestClient(s *fakeSender) *FCMClient {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return &FCMClient{sender: s, timeout: 5 * time.Second, logger: logger}
}

func testBatch(n int) []Message {
	batch := make([]Message, n)
	for i := range batch {
		batch[i] = Message{
			Token: fmt.Sprintf("token-%d", i),
			Title: "Review due",
			Body:  "You have cards waiting",
		}
	}
	return batch
}

func TestSend_AllDelivered(t *testing.T) {
	s := &fakeSender{}
	c := newTestClient(s)

	outcomes, err := c.Send(context.Background(), testBatch(3))
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if len(outcomes) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(outcomes))
	}
	for i, out := range outcomes {
		if out.Status != OutcomeDelivered {
			t.Errorf("outcome[%d] = %s, want %s", i, out.Status, OutcomeDelivered)
		}
	}
}

func TestSend_ChunksOversizedBatches(t *testing.T) {
	s := &fakeSender{}
	c := newTestClient(s)

	// 500 + 500 + 201
	outcomes, err := c.Send(context.Background(), testBatch(1201))
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if len(outcomes) != 1201 {
		t.Fatalf("got %d outcomes, want 1201", len(outcomes))
	}
	if s.callCount != 3 {
		t.Fatalf("gateway called %d times, want 3", s.callCount)
	}
	if len(s.calls[0]) != 500 || len(s.calls[1]) != 500 || len(s.calls[2]) != 201 {
		t.Errorf("chunk sizes = %d/%d/%d, want 500/500/201",
			len(s.calls[0]), len(s.calls[1]), len(s.calls[2]))
	}
}

func TestSend_ChunkCallFailureIsTransientForWholeChunk(t *testing.T) {
	s := &fakeSender{
		respond: func(messages []*messaging.Message) (*messaging.BatchResponse, error) {
			return nil, errors.New("deadline exceeded")
		},
	}
	c := newTestClient(s)

	outcomes, err := c.Send(context.Background(), testBatch(4))
	if err != nil {
		t.Fatalf("Send returned error: %v, want nil (chunk failure is per-token transient)", err)
	}

	for i, out := range outcomes {
		if out.Status != OutcomeTransient {
			t.Errorf("outcome[%d] = %s, want %s", i, out.Status, OutcomeTransient)
		}
		if out.Error == "" {
			t.Errorf("outcome[%d] has empty error", i)
		}
	}
}

func TestSend_FailedChunkDoesNotPoisonLaterChunks(t *testing.T) {
	s := &fakeSender{}
	s.respond = func(messages []*messaging.Message) (*messaging.BatchResponse, error) {
		if s.callCount == 1 {
			return nil, errors.New("unavailable")
		}
		return allSuccess(messages), nil
	}
	c := newTestClient(s)

	outcomes, err := c.Send(context.Background(), testBatch(501))
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	for i := 0; i < 500; i++ {
		if outcomes[i].Status != OutcomeTransient {
			t.Fatalf("outcome[%d] = %s, want %s", i, outcomes[i].Status, OutcomeTransient)
		}
	}
	if outcomes[500].Status != OutcomeDelivered {
		t.Errorf("outcome[500] = %s, want %s", outcomes[500].Status, OutcomeDelivered)
	}
}

func TestSend_MixedPerTokenResults(t *testing.T) {
	s := &fakeSender{
		respond: func(messages []*messaging.Message) (*messaging.BatchResponse, error) {
			responses := []*messaging.SendResponse{
				{Success: true, MessageID: "msg-0"},
				{Success: false, Error: errors.New("internal error")},
				{Success: true, MessageID: "msg-2"},
			}
			return &messaging.BatchResponse{SuccessCount: 2, FailureCount: 1, Responses: responses}, nil
		},
	}
	c := newTestClient(s)

	outcomes, err := c.Send(context.Background(), testBatch(3))
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	want := []OutcomeStatus{OutcomeDelivered, OutcomeTransient, OutcomeDelivered}
	for i, status := range want {
		if outcomes[i].Status != status {
			t.Errorf("outcome[%d] = %s, want %s", i, outcomes[i].Status, status)
		}
	}
}

func TestClassify_SuccessIsDelivered(t *testing.T) {
	out := classify(&messaging.SendResponse{Success: true, MessageID: "msg-1"})
	if out.Status != OutcomeDelivered {
		t.Errorf("status = %s, want %s", out.Status, OutcomeDelivered)
	}
}

func TestClassify_GenericErrorIsTransient(t *testing.T) {
	out := classify(&messaging.SendResponse{Success: false, Error: errors.New("quota exceeded")})
	if out.Status != OutcomeTransient {
		t.Errorf("status = %s, want %s", out.Status, OutcomeTransient)
	}
	if out.Error != "quota exceeded" {
		t.Errorf("error = %q, want original error text", out.Error)
	}
}

func TestClassify_FailureWithoutDetailIsTransient(t *testing.T) {
	out := classify(&messaging.SendResponse{Success: false})
	if out.Status != OutcomeTransient {
		t.Errorf("status = %s, want %s", out.Status, OutcomeTransient)
	}
	if out.Error == "" {
		t.Error("expected a placeholder error message")
	}
}
