package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-lifecycle/internal/billing"
	"github.com/example/ride-lifecycle/internal/events"
	"github.com/example/ride-lifecycle/internal/models"
)

type flakyLedger struct {
	failures int
	settled  []string
}

func (f *flakyLedger) Settle(ctx context.Context, ride models.Ride) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	f.settled = append(f.settled, ride.ID)
	return nil
}

// fakeSource replays queued messages and records commits; once drained
// it cancels the loop.
type fakeSource struct {
	msgs    []kafka.Message
	commits []int64
	cancel  context.CancelFunc
}

func (f *fakeSource) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) == 0 {
		f.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeSource) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.commits = append(f.commits, m.Offset)
	}
	return nil
}

func completedMessage(t *testing.T, rideID string, offset int64) kafka.Message {
	t.Helper()
	b, err := json.Marshal(events.NewEnvelope(events.RideCompleted, models.Ride{
		ID:         rideID,
		CustomerID: "c1",
		DriverID:   "d1",
		Price:      10,
	}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return kafka.Message{Offset: offset, Value: b}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSettleWithRetryBlocksOnSameMessage(t *testing.T) {
	ledger := &flakyLedger{failures: 2}
	settler := &billing.Settler{Store: ledger, Logger: discardLogger()}
	m := completedMessage(t, "r1", 7)

	if err := settleWithRetry(context.Background(), settler, m, time.Millisecond, discardLogger()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(ledger.settled) != 1 || ledger.settled[0] != "r1" {
		t.Fatalf("message not settled after retries: %v", ledger.settled)
	}
}

func TestSettleWithRetryStopsOnCancel(t *testing.T) {
	ledger := &flakyLedger{failures: 1 << 30}
	settler := &billing.Settler{Store: ledger, Logger: discardLogger()}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := settleWithRetry(ctx, settler, completedMessage(t, "r1", 0), time.Millisecond, discardLogger())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if len(ledger.settled) != 0 {
		t.Fatal("settled despite permanent failure")
	}
}

func TestRunCommitsEachMessageAfterSettlement(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{
		msgs:   []kafka.Message{completedMessage(t, "r1", 4), completedMessage(t, "r2", 5)},
		cancel: cancel,
	}
	ledger := &flakyLedger{}
	settler := &billing.Settler{Store: ledger, Logger: discardLogger()}

	run(ctx, src, settler, discardLogger())

	if len(ledger.settled) != 2 || ledger.settled[0] != "r1" || ledger.settled[1] != "r2" {
		t.Fatalf("settlements out of order: %v", ledger.settled)
	}
	if len(src.commits) != 2 || src.commits[0] != 4 || src.commits[1] != 5 {
		t.Fatalf("commits wrong: %v", src.commits)
	}
}

func TestRunDoesNotCommitPastFailedMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{
		msgs:   []kafka.Message{completedMessage(t, "r1", 4), completedMessage(t, "r2", 5)},
		cancel: cancel,
	}
	// r1 keeps failing; cancel while it retries. Nothing may commit,
	// since committing offset 5 would acknowledge offset 4 as well.
	ledger := &flakyLedger{failures: 1 << 30}
	settler := &billing.Settler{Store: ledger, Logger: discardLogger()}
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	run(ctx, src, settler, discardLogger())

	if len(src.commits) != 0 {
		t.Fatalf("committed past an unsettled message: %v", src.commits)
	}
}
