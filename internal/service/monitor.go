package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/evetabi/dealdesk/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// closeTimeout bounds each monitor-triggered settlement attempt.
const closeTimeout = 5 * time.Second

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces injected into Monitor to avoid import cycles
// ──────────────────────────────────────────────────────────────────────────────

// DealCloser is the minimal interface the Monitor needs from DealService.
// The monitor only proposes closures; the settlement engine owns the state
// transition.
type DealCloser interface {
	Close(ctx context.Context, dealID int64, userID uuid.UUID, closePrice decimal.Decimal, reason domain.CloseReason, triggeredBy domain.TriggeredBy) (*domain.CloseDealResult, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Monitor
// ──────────────────────────────────────────────────────────────────────────────

// monitorEntry is one watched deal. A copy of the trigger terms, not the
// authoritative record — the deal store is the source of truth.
type monitorEntry struct {
	dealID     int64
	userID     uuid.UUID
	symbol     string
	direction  domain.Direction
	takeProfit *decimal.Decimal
	stopLoss   *decimal.Decimal
}

// Monitor holds the ephemeral index of open deals carrying TP/SL triggers
// and evaluates them against every price tick. Registration and removal are
// idempotent because both race with concurrent closures.
type Monitor struct {
	mu       sync.RWMutex
	byDeal   map[int64]*monitorEntry
	bySymbol map[string]map[int64]*monitorEntry

	closer DealCloser // injected after DealService is built
	logger *slog.Logger
}

// NewMonitor creates an empty Monitor.
func NewMonitor(logger *slog.Logger) *Monitor {
	return &Monitor{
		byDeal:   make(map[int64]*monitorEntry),
		bySymbol: make(map[string]map[int64]*monitorEntry),
		logger:   logger,
	}
}

// SetCloser injects the settlement engine dependency post-construction.
func (m *Monitor) SetCloser(c DealCloser) { m.closer = c }

// Register starts watching a deal's TP/SL triggers. Registering a deal that
// is already watched, or one without triggers, is a no-op.
func (m *Monitor) Register(d *domain.Deal) {
	if !d.HasTriggers() {
		return
	}
	symbol := strings.ToUpper(d.Symbol)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byDeal[d.ID]; ok {
		return
	}
	e := &monitorEntry{
		dealID:     d.ID,
		userID:     d.UserID,
		symbol:     symbol,
		direction:  d.Direction,
		takeProfit: d.TakeProfit,
		stopLoss:   d.StopLoss,
	}
	m.byDeal[d.ID] = e
	if m.bySymbol[symbol] == nil {
		m.bySymbol[symbol] = make(map[int64]*monitorEntry)
	}
	m.bySymbol[symbol][d.ID] = e
}

// Unregister stops watching a deal. Removing an absent deal is a no-op.
func (m *Monitor) Unregister(dealID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(dealID)
}

// removeLocked reports whether it actually removed the entry, so concurrent
// ticks that collected the same deal can tell which one owns its settlement.
func (m *Monitor) removeLocked(dealID int64) bool {
	e, ok := m.byDeal[dealID]
	if !ok {
		return false
	}
	delete(m.byDeal, dealID)
	if deals := m.bySymbol[e.symbol]; deals != nil {
		delete(deals, dealID)
		if len(deals) == 0 {
			delete(m.bySymbol, e.symbol)
		}
	}
	return true
}

// Tracked reports whether a deal is currently watched.
func (m *Monitor) Tracked(dealID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byDeal[dealID]
	return ok
}

// Seed bulk-registers deals loaded from the deal store at startup.
func (m *Monitor) Seed(deals []*domain.Deal) {
	for _, d := range deals {
		m.Register(d)
	}
	m.logger.Info("order monitor seeded", "watched", len(m.byDeal))
}

// ──────────────────────────────────────────────────────────────────────────────
// Tick evaluation
// ──────────────────────────────────────────────────────────────────────────────

// OnTick evaluates every watched deal on the updated symbol. Take-profit is
// checked before stop-loss; on a gapping price that satisfies both, TP wins.
// Triggered closures run on their own goroutines so one slow settlement does
// not delay the rest of the scan.
func (m *Monitor) OnTick(symbol string, price decimal.Decimal) {
	symbol = strings.ToUpper(symbol)

	m.mu.RLock()
	deals := m.bySymbol[symbol]
	triggered := make([]*monitorEntry, 0, 2)
	reasons := make([]domain.CloseReason, 0, 2)
	for _, e := range deals {
		if reason, ok := e.evaluate(price); ok {
			triggered = append(triggered, e)
			reasons = append(reasons, reason)
		}
	}
	m.mu.RUnlock()

	if len(triggered) == 0 {
		return
	}

	// Remove before closing so the next tick cannot fire the same deal again
	// while its settlement is in flight. Two ticks can scan the same entry
	// under overlapping read locks; only the one whose removal succeeds
	// dispatches the settlement.
	m.mu.Lock()
	won := triggered[:0]
	wonReasons := reasons[:0]
	for i, e := range triggered {
		if m.removeLocked(e.dealID) {
			won = append(won, e)
			wonReasons = append(wonReasons, reasons[i])
		}
	}
	m.mu.Unlock()

	for i, e := range won {
		go m.propose(e, price, wonReasons[i])
	}
}

// evaluate returns the close reason a price implies for this entry, if any.
func (e *monitorEntry) evaluate(price decimal.Decimal) (domain.CloseReason, bool) {
	if e.takeProfit != nil {
		hit := (e.direction == domain.DirectionUp && price.GreaterThanOrEqual(*e.takeProfit)) ||
			(e.direction == domain.DirectionDown && price.LessThanOrEqual(*e.takeProfit))
		if hit {
			return domain.CloseReasonTakeProfit, true
		}
	}
	if e.stopLoss != nil {
		hit := (e.direction == domain.DirectionUp && price.LessThanOrEqual(*e.stopLoss)) ||
			(e.direction == domain.DirectionDown && price.GreaterThanOrEqual(*e.stopLoss))
		if hit {
			return domain.CloseReasonStopLoss, true
		}
	}
	return "", false
}

// propose asks the settlement engine to close a triggered deal. A lost race
// (AlreadyClosed) is dropped; any other failure re-registers the entry so a
// later tick retries.
func (m *Monitor) propose(e *monitorEntry, price decimal.Decimal, reason domain.CloseReason) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	_, err := m.closer.Close(ctx, e.dealID, e.userID, price, reason, domain.TriggeredByMonitor)
	if err == nil {
		m.logger.Info("trigger closed deal",
			"deal", e.dealID, "symbol", e.symbol, "reason", string(reason), "price", price.String())
		return
	}
	if errors.Is(err, domain.ErrDealAlreadyClosed) {
		m.logger.Debug("trigger lost settlement race", "deal", e.dealID)
		return
	}

	m.logger.Warn("trigger close failed, rearming", "deal", e.dealID, "err", err)
	m.mu.Lock()
	if _, ok := m.byDeal[e.dealID]; !ok {
		m.byDeal[e.dealID] = e
		if m.bySymbol[e.symbol] == nil {
			m.bySymbol[e.symbol] = make(map[int64]*monitorEntry)
		}
		m.bySymbol[e.symbol][e.dealID] = e
	}
	m.mu.Unlock()
}
