package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/evetabi/dealdesk/internal/config"
	"github.com/evetabi/dealdesk/internal/domain"
	"github.com/evetabi/dealdesk/internal/ws"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ── Fakes ─────────────────────────────────────────────────────────────────────

type closeCall struct {
	dealID    int64
	reason    domain.CloseReason
	triggered domain.TriggeredBy
}

type fakeCloser struct {
	mu     sync.Mutex
	calls  []closeCall
	errFor map[int64]error // per-deal error, nil = success
}

func (f *fakeCloser) CloseAtMarket(_ context.Context, dealID int64, _ uuid.UUID, reason domain.CloseReason, triggeredBy domain.TriggeredBy) (*domain.CloseDealResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, closeCall{dealID, reason, triggeredBy})
	if err := f.errFor[dealID]; err != nil {
		return nil, err
	}
	return &domain.CloseDealResult{DealID: dealID, Reason: reason}, nil
}

func (f *fakeCloser) callsFor(dealID int64) []closeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []closeCall
	for _, c := range f.calls {
		if c.dealID == dealID {
			out = append(out, c)
		}
	}
	return out
}

// fakeDeals serves open deals from memory, filtering GetExpiredOpen by the
// cutoff the way the store's partial-index scan does.
type fakeDeals struct {
	open    []*domain.Deal
	symbols []string
}

func (f *fakeDeals) GetExpiredOpen(_ context.Context, cutoff time.Time) ([]*domain.Deal, error) {
	var out []*domain.Deal
	for _, d := range f.open {
		if d.IsOpen() && d.OpenedAt.Before(cutoff) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDeals) OpenSymbols(_ context.Context) ([]string, error) {
	return f.symbols, nil
}

type fakeCache map[string]decimal.Decimal

func (f fakeCache) Cached(symbol string) (decimal.Decimal, bool) {
	p, ok := f[symbol]
	return p, ok
}

type fakeHub struct {
	mu   sync.Mutex
	msgs []ws.PriceUpdateMessage
}

func (f *fakeHub) BroadcastPriceUpdate(msg ws.PriceUpdateMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func testScheduler(closer MarketCloser, deals DealSource, prices PriceCache, hub WsHub) *Scheduler {
	cfg := &config.Config{
		Deal: config.DealConfig{
			HoldLimit:     48 * time.Hour,
			SweepInterval: 2 * time.Minute,
		},
	}
	return NewScheduler(closer, deals, prices, hub, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func openDealAgedBy(id int64, age time.Duration) *domain.Deal {
	return &domain.Deal{
		ID:       id,
		UserID:   uuid.New(),
		Symbol:   "BTCUSDT",
		Status:   domain.DealStatusOpen,
		OpenedAt: time.Now().UTC().Add(-age),
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

// TestSweepExpired_ClosesOverdueDeal: a deal held for 49 hours is closed on
// the next sweep as an auto-liquidation on behalf of its owner; a fresh deal
// is left alone.
func TestSweepExpired_ClosesOverdueDeal(t *testing.T) {
	closer := &fakeCloser{}
	deals := &fakeDeals{open: []*domain.Deal{
		openDealAgedBy(1, 49*time.Hour),
		openDealAgedBy(2, time.Hour),
	}}
	s := testScheduler(closer, deals, fakeCache{}, nil)

	s.sweepExpired(context.Background())

	overdue := closer.callsFor(1)
	if len(overdue) != 1 {
		t.Fatalf("overdue deal close attempts = %d, want 1", len(overdue))
	}
	if overdue[0].reason != domain.CloseReasonExpiry {
		t.Errorf("close reason = %s, want %s", overdue[0].reason, domain.CloseReasonExpiry)
	}
	if overdue[0].triggered != domain.TriggeredBySweeper {
		t.Errorf("triggered by = %s, want %s", overdue[0].triggered, domain.TriggeredBySweeper)
	}
	if fresh := closer.callsFor(2); len(fresh) != 0 {
		t.Errorf("fresh deal must not be swept, got %d close attempts", len(fresh))
	}
}

// TestSweepExpired_FailuresAreIsolated: one deal losing the settlement race
// and another without a usable price must not stop the rest of the batch, and
// the price-less deal is retried on the following sweep.
func TestSweepExpired_FailuresAreIsolated(t *testing.T) {
	closer := &fakeCloser{errFor: map[int64]error{
		1: domain.ErrDealAlreadyClosed,
		2: domain.ErrPriceUnavailable,
	}}
	deals := &fakeDeals{open: []*domain.Deal{
		openDealAgedBy(1, 50*time.Hour),
		openDealAgedBy(2, 50*time.Hour),
		openDealAgedBy(3, 50*time.Hour),
	}}
	s := testScheduler(closer, deals, fakeCache{}, nil)

	s.sweepExpired(context.Background())
	if got := len(closer.callsFor(3)); got != 1 {
		t.Errorf("healthy deal close attempts = %d, want 1", got)
	}

	// The deal without a price stayed open; the next sweep picks it up again.
	s.sweepExpired(context.Background())
	if got := len(closer.callsFor(2)); got != 2 {
		t.Errorf("price-less deal close attempts after two sweeps = %d, want 2", got)
	}
}

// TestBroadcastPrices: only symbols with a warm cache entry are pushed.
func TestBroadcastPrices(t *testing.T) {
	hub := &fakeHub{}
	deals := &fakeDeals{symbols: []string{"BTCUSDT", "ETHUSDT"}}
	cache := fakeCache{"BTCUSDT": decimal.NewFromInt(91000)}
	s := testScheduler(&fakeCloser{}, deals, cache, hub)

	s.broadcastPrices(context.Background())

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if len(hub.msgs) != 1 {
		t.Fatalf("broadcast messages = %d, want 1 (cold symbols skipped)", len(hub.msgs))
	}
	msg := hub.msgs[0]
	if msg.Type != ws.MsgTypePriceUpdate || msg.Symbol != "BTCUSDT" {
		t.Errorf("unexpected broadcast %+v", msg)
	}
	if !msg.Price.Equal(decimal.NewFromInt(91000)) {
		t.Errorf("broadcast price = %s, want 91000", msg.Price)
	}
}
