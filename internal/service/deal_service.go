package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/evetabi/dealdesk/internal/config"
	"github.com/evetabi/dealdesk/internal/domain"
	"github.com/evetabi/dealdesk/internal/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Collaborator interfaces
// ──────────────────────────────────────────────────────────────────────────────

// PriceSource answers spot-price queries. Implemented by PriceService.
type PriceSource interface {
	Latest(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// SymbolSubscriber keeps the live stream tracking a symbol. Implemented by
// feed.Stream.
type SymbolSubscriber interface {
	Subscribe(symbol string) error
}

// TriggerIndex is the order monitor surface the service needs: register a
// deal's triggers after open, drop them on close.
type TriggerIndex interface {
	Register(d *domain.Deal)
	Unregister(dealID int64)
}

// Events receives post-commit lifecycle notifications. Implemented by
// hooks.Dispatcher.
type Events interface {
	DealOpened(deal *domain.Deal)
	DealClosed(deal *domain.Deal)
}

// ──────────────────────────────────────────────────────────────────────────────
// DealService
// ──────────────────────────────────────────────────────────────────────────────

// DealService owns the deal lifecycle: funding and opening, and the single
// settlement path every closure trigger (user, monitor, sweeper) funnels
// into. All money movement happens inside one database transaction per
// operation, with the user's ledger row locked first.
type DealService struct {
	db       *sqlx.DB
	deals    *repository.DealRepository
	balances *repository.BalanceRepository
	prices   PriceSource
	stream   SymbolSubscriber
	monitor  TriggerIndex
	events   Events
	logger   *slog.Logger

	commissionRate decimal.Decimal
}

// NewDealService creates a DealService. stream, monitor and events may be nil
// in tests.
func NewDealService(
	db *sqlx.DB,
	deals *repository.DealRepository,
	balances *repository.BalanceRepository,
	prices PriceSource,
	stream SymbolSubscriber,
	monitor TriggerIndex,
	events Events,
	cfg *config.Config,
	logger *slog.Logger,
) *DealService {
	return &DealService{
		db:             db,
		deals:          deals,
		balances:       balances,
		prices:         prices,
		stream:         stream,
		monitor:        monitor,
		events:         events,
		logger:         logger,
		commissionRate: decimal.NewFromFloat(cfg.Deal.CommissionRate),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Open
// ──────────────────────────────────────────────────────────────────────────────

// Open creates a new leveraged deal at the current market price.
//
// Funding order inside the transaction: lock the ledger row, auto-replenish
// freeBalance up to 30% of total funds if the stake does not fit, then check
// again. A stake that still does not fit fails with ErrInsufficientFunds and
// nothing is written.
func (s *DealService) Open(ctx context.Context, req *domain.OpenDealRequest) (*domain.Deal, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	symbol := strings.ToUpper(req.Symbol)

	if s.stream != nil {
		if err := s.stream.Subscribe(symbol); err != nil {
			s.logger.Warn("stream subscribe failed, monitor relies on reconnect", "symbol", symbol, "err", err)
		}
	}

	openPrice, err := s.prices.Latest(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("deal_service.Open: %s: %w", symbol, domain.ErrSymbolUnavailable)
	}
	if err := validateTriggers(req, openPrice); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("deal_service.Open: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	bal, err := s.balances.GetForUpdate(ctx, tx, req.UserID)
	if err != nil {
		return nil, err
	}

	free := bal.FreeBalance
	if free.LessThan(req.Amount) {
		move := domain.ReplenishMove(bal.Balance, free)
		if move.IsPositive() {
			if err := s.balances.Replenish(ctx, tx, req.UserID, move); err != nil {
				return nil, err
			}
			if err := s.balances.LogTransaction(ctx, tx, &domain.Transaction{
				ID:            uuid.New(),
				UserID:        req.UserID,
				Type:          domain.TxReplenish,
				Amount:        move,
				BalanceBefore: free,
				BalanceAfter:  free.Add(move),
				Description:   "auto-replenish to 30% of total funds",
				CreatedAt:     time.Now().UTC(),
			}); err != nil {
				return nil, err
			}
			free = free.Add(move)
		}
	}
	if free.LessThan(req.Amount) {
		return nil, domain.ErrInsufficientFunds
	}

	deal := &domain.Deal{
		UserID:     req.UserID,
		Symbol:     symbol,
		Direction:  req.Direction,
		Amount:     req.Amount,
		Multiplier: req.Multiplier,
		OpenPrice:  openPrice,
		TakeProfit: req.TakeProfit,
		StopLoss:   req.StopLoss,
		Status:     domain.DealStatusOpen,
		OpenedAt:   time.Now().UTC(),
	}
	deal.ID, err = s.deals.Create(ctx, tx, deal)
	if err != nil {
		return nil, err
	}

	if err := s.balances.DebitFree(ctx, tx, req.UserID, req.Amount); err != nil {
		return nil, err
	}
	if err := s.balances.IncrementTradeCount(ctx, tx, req.UserID); err != nil {
		return nil, err
	}
	if err := s.balances.LogTransaction(ctx, tx, &domain.Transaction{
		ID:            uuid.New(),
		UserID:        req.UserID,
		Type:          domain.TxDealOpen,
		Amount:        req.Amount.Neg(),
		BalanceBefore: free,
		BalanceAfter:  free.Sub(req.Amount),
		DealID:        &deal.ID,
		Description:   fmt.Sprintf("open %s %s x%d", symbol, deal.Direction, deal.Multiplier),
		CreatedAt:     deal.OpenedAt,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("deal_service.Open: commit: %w", err)
	}

	if s.monitor != nil {
		s.monitor.Register(deal)
	}
	if s.events != nil {
		s.events.DealOpened(deal)
	}
	s.logger.Info("deal opened",
		"deal", deal.ID, "user", deal.UserID, "symbol", symbol,
		"direction", string(deal.Direction), "amount", deal.Amount.String(),
		"multiplier", deal.Multiplier, "open_price", openPrice.String())

	return deal, nil
}

// validateTriggers rejects TP/SL thresholds that would fire immediately or on
// the wrong side of the open price.
func validateTriggers(req *domain.OpenDealRequest, openPrice decimal.Decimal) error {
	if req.TakeProfit != nil {
		tp := *req.TakeProfit
		if (req.Direction == domain.DirectionUp && !tp.GreaterThan(openPrice)) ||
			(req.Direction == domain.DirectionDown && !tp.LessThan(openPrice)) {
			return fmt.Errorf("take profit %s vs open %s: %w", tp, openPrice, domain.ErrInvalidTrigger)
		}
	}
	if req.StopLoss != nil {
		sl := *req.StopLoss
		if (req.Direction == domain.DirectionUp && !sl.LessThan(openPrice)) ||
			(req.Direction == domain.DirectionDown && !sl.GreaterThan(openPrice)) {
			return fmt.Errorf("stop loss %s vs open %s: %w", sl, openPrice, domain.ErrInvalidTrigger)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Close — the single settlement path
// ──────────────────────────────────────────────────────────────────────────────

// Close settles an open deal at closePrice. Every trigger source calls this
// same method; the conditional update in the deal store guarantees only one
// caller wins, and losers get ErrDealAlreadyClosed with no money moved.
//
// Ownership is enforced only for user-triggered closes; the monitor and the
// sweeper act on behalf of the owner.
func (s *DealService) Close(ctx context.Context, dealID int64, userID uuid.UUID, closePrice decimal.Decimal, reason domain.CloseReason, triggeredBy domain.TriggeredBy) (*domain.CloseDealResult, error) {
	deal, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if triggeredBy == domain.TriggeredByUser && deal.UserID != userID {
		return nil, domain.ErrUnauthorized
	}
	if !deal.IsOpen() {
		return nil, domain.ErrDealAlreadyClosed
	}
	if !closePrice.IsPositive() {
		return nil, fmt.Errorf("deal_service.Close: close price %s: %w", closePrice, domain.ErrPriceUnavailable)
	}

	pl := domain.ComputeProfit(deal.Amount, deal.Multiplier, deal.Direction, deal.OpenPrice, closePrice, s.commissionRate)
	closedAt := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("deal_service.Close: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	bal, err := s.balances.GetForUpdate(ctx, tx, deal.UserID)
	if err != nil {
		return nil, err
	}

	if err := s.deals.Close(ctx, tx, dealID, closePrice, pl.Profit, reason, closedAt); err != nil {
		// Lost the settlement race; another trigger already won. No money
		// moves on this path.
		return nil, err
	}

	credit := deal.Amount.Add(pl.Profit)
	if err := s.balances.CreditFree(ctx, tx, deal.UserID, credit); err != nil {
		return nil, err
	}
	if err := s.balances.LogTransaction(ctx, tx, &domain.Transaction{
		ID:            uuid.New(),
		UserID:        deal.UserID,
		Type:          domain.TxDealClose,
		Amount:        credit,
		BalanceBefore: bal.FreeBalance,
		BalanceAfter:  bal.FreeBalance.Add(credit),
		DealID:        &dealID,
		Description:   fmt.Sprintf("close %s (%s by %s), profit %s", deal.Symbol, reason, triggeredBy, pl.Profit),
		CreatedAt:     closedAt,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("deal_service.Close: commit: %w", err)
	}

	// Drop the trigger entry only once the status flip is durable. A failed
	// settlement must leave the deal armed; a late trigger that fires after
	// the commit just loses the conditional update.
	if s.monitor != nil {
		s.monitor.Unregister(dealID)
	}

	deal.Status = domain.DealStatusClosed
	deal.ClosedAt = &closedAt
	deal.ClosePrice = &closePrice
	deal.Profit = &pl.Profit
	deal.CloseReason = &reason

	if s.events != nil {
		s.events.DealClosed(deal)
	}
	s.logger.Info("deal closed",
		"deal", dealID, "user", deal.UserID, "symbol", deal.Symbol,
		"reason", string(reason), "trigger", string(triggeredBy),
		"close_price", closePrice.String(), "profit", pl.Profit.String())

	return &domain.CloseDealResult{
		DealID:     dealID,
		Profit:     pl.Profit,
		ClosePrice: closePrice,
		ClosedAt:   closedAt,
		Reason:     reason,
	}, nil
}

// CloseAtMarket fetches the current price for the deal's symbol and settles
// at it. Used by the manual close endpoint and the expiry sweeper.
func (s *DealService) CloseAtMarket(ctx context.Context, dealID int64, userID uuid.UUID, reason domain.CloseReason, triggeredBy domain.TriggeredBy) (*domain.CloseDealResult, error) {
	deal, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if triggeredBy == domain.TriggeredByUser && deal.UserID != userID {
		return nil, domain.ErrUnauthorized
	}
	if !deal.IsOpen() {
		return nil, domain.ErrDealAlreadyClosed
	}

	price, err := s.prices.Latest(ctx, deal.Symbol)
	if err != nil {
		return nil, err
	}
	return s.Close(ctx, dealID, userID, price, reason, triggeredBy)
}

// ──────────────────────────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────────────────────────

// GetDeal returns a single deal, enforcing ownership.
func (s *DealService) GetDeal(ctx context.Context, dealID int64, userID uuid.UUID) (*domain.Deal, error) {
	deal, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.UserID != userID {
		return nil, domain.ErrUnauthorized
	}
	return deal, nil
}

// ListDeals returns the user's deal history, newest first.
func (s *DealService) ListDeals(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Deal, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.deals.GetByUserID(ctx, userID, limit, offset)
}

// GetBalance returns the user's ledger record.
func (s *DealService) GetBalance(ctx context.Context, userID uuid.UUID) (*domain.Balance, error) {
	return s.balances.GetByUserID(ctx, userID)
}

// ListTransactions returns the user's audit history, newest first.
func (s *DealService) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.balances.GetTransactions(ctx, userID, limit, offset)
}

// ──────────────────────────────────────────────────────────────────────────────
// Startup
// ──────────────────────────────────────────────────────────────────────────────

// Restore rebuilds ephemeral state after a restart: reseeds the order monitor
// from open deals with triggers and resubscribes the price stream to every
// symbol with open exposure.
func (s *DealService) Restore(ctx context.Context) error {
	deals, err := s.deals.GetOpenWithTriggers(ctx)
	if err != nil {
		return fmt.Errorf("deal_service.Restore: %w", err)
	}
	if seeder, ok := s.monitor.(interface{ Seed([]*domain.Deal) }); ok {
		seeder.Seed(deals)
	} else if s.monitor != nil {
		for _, d := range deals {
			s.monitor.Register(d)
		}
	}

	if s.stream == nil {
		return nil
	}
	symbols, err := s.deals.OpenSymbols(ctx)
	if err != nil {
		return fmt.Errorf("deal_service.Restore: %w", err)
	}
	var firstErr error
	for _, sym := range symbols {
		if err := s.stream.Subscribe(sym); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil && !errors.Is(firstErr, context.Canceled) {
		s.logger.Warn("stream resubscribe incomplete", "err", firstErr)
	}
	return nil
}
