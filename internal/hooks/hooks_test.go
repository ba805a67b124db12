package hooks_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/evetabi/dealdesk/internal/domain"
	"github.com/evetabi/dealdesk/internal/hooks"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// recordingTasks counts invocations and can be told to fail or panic.
type recordingTasks struct {
	mu     sync.Mutex
	calls  int
	fail   bool
	panics bool
	done   chan struct{}
}

func (r *recordingTasks) OnDealClosed(_ context.Context, _ uuid.UUID, _ decimal.Decimal) error {
	r.mu.Lock()
	r.calls++
	fail, panics := r.fail, r.panics
	r.mu.Unlock()
	defer func() { r.done <- struct{}{} }()

	if panics {
		panic("task hook exploded")
	}
	if fail {
		return errors.New("task service down")
	}
	return nil
}

func closedDeal() *domain.Deal {
	profit := decimal.NewFromFloat(49.75)
	return &domain.Deal{
		ID:     1,
		UserID: uuid.New(),
		Symbol: "BTCUSDT",
		Status: domain.DealStatusClosed,
		Profit: &profit,
	}
}

func wait(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("hook was never invoked")
	}
}

// TestDispatcher_DealClosedInvokesTaskHook: the happy path reaches the
// collaborator with the settled profit.
func TestDispatcher_DealClosedInvokesTaskHook(t *testing.T) {
	tasks := &recordingTasks{done: make(chan struct{}, 4)}
	d := hooks.NewDispatcher(tasks, nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	d.DealClosed(closedDeal())
	wait(t, tasks.done)

	tasks.mu.Lock()
	defer tasks.mu.Unlock()
	if tasks.calls != 1 {
		t.Errorf("task hook calls = %d, want 1", tasks.calls)
	}
}

// TestDispatcher_HookFailureIsSwallowed: a failing collaborator is logged and
// dropped; DealClosed itself never blocks or errors.
func TestDispatcher_HookFailureIsSwallowed(t *testing.T) {
	tasks := &recordingTasks{fail: true, done: make(chan struct{}, 4)}
	d := hooks.NewDispatcher(tasks, nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	d.DealClosed(closedDeal())
	wait(t, tasks.done)
}

// TestDispatcher_HookPanicIsRecovered: a panicking collaborator must not take
// the process down.
func TestDispatcher_HookPanicIsRecovered(t *testing.T) {
	tasks := &recordingTasks{panics: true, done: make(chan struct{}, 4)}
	d := hooks.NewDispatcher(tasks, nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	d.DealClosed(closedDeal())
	wait(t, tasks.done)

	// Give the recover deferral a moment; reaching here without a crash is
	// the assertion.
	time.Sleep(20 * time.Millisecond)
}

// TestDispatcher_NilCollaboratorsAreSkipped: an all-nil dispatcher is valid
// and inert.
func TestDispatcher_NilCollaboratorsAreSkipped(t *testing.T) {
	d := hooks.NewDispatcher(nil, nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.DealOpened(closedDeal())
	d.DealClosed(closedDeal())
	time.Sleep(20 * time.Millisecond)
}
