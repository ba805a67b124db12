// Package scheduler manages the two background goroutines of the deal
// lifecycle:
//  1. sweepLoop          – force-closes deals held past the hold limit.
//  2. priceBroadcastLoop – pushes live prices for open symbols to WS clients.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/evetabi/dealdesk/internal/config"
	"github.com/evetabi/dealdesk/internal/domain"
	"github.com/evetabi/dealdesk/internal/ws"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Collaborator interfaces — minimally required from the wired services
// ──────────────────────────────────────────────────────────────────────────────

// MarketCloser settles a deal at the current market price. Implemented by
// service.DealService.
type MarketCloser interface {
	CloseAtMarket(ctx context.Context, dealID int64, userID uuid.UUID, reason domain.CloseReason, triggeredBy domain.TriggeredBy) (*domain.CloseDealResult, error)
}

// DealSource is the slice of the deal store the loops scan. Implemented by
// repository.DealRepository.
type DealSource interface {
	GetExpiredOpen(ctx context.Context, cutoff time.Time) ([]*domain.Deal, error)
	OpenSymbols(ctx context.Context) ([]string, error)
}

// PriceCache serves the last observed price without a network round trip.
// Implemented by service.PriceService.
type PriceCache interface {
	Cached(symbol string) (decimal.Decimal, bool)
}

// WsHub defines the broadcast operation the Scheduler needs from the WebSocket
// hub.  Declared here so the scheduler package does not depend on the hub
// implementation.
type WsHub interface {
	BroadcastPriceUpdate(msg ws.PriceUpdateMessage)
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler runs the deal lifecycle background goroutines.  Call Start(ctx)
// once from main(); cancel the context to shut it down gracefully.
type Scheduler struct {
	closer MarketCloser
	deals  DealSource
	prices PriceCache
	hub    WsHub
	cfg    *config.Config
	logger *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	closer MarketCloser,
	deals DealSource,
	prices PriceCache,
	hub WsHub,
	cfg *config.Config,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		closer: closer,
		deals:  deals,
		prices: prices,
		hub:    hub,
		cfg:    cfg,
		logger: logger,
	}
}

// Start launches the background goroutines.  It returns immediately; all
// loops run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.sweepLoop(ctx)
	go s.priceBroadcastLoop(ctx)
	s.logger.Info("scheduler started",
		"sweep_interval", s.cfg.Deal.SweepInterval, "hold_limit", s.cfg.Deal.HoldLimit)
}

// ──────────────────────────────────────────────────────────────────────────────
// sweepLoop
// ──────────────────────────────────────────────────────────────────────────────

// sweepLoop periodically force-closes every deal held longer than the hold
// limit.  The closure funnels through the same settlement path as every
// other trigger, so a sweep racing a user or monitor close is harmless.
func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer s.recoverAndLog("sweepLoop")

	ticker := time.NewTicker(s.cfg.Deal.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweepLoop: shutting down")
			return
		case <-ticker.C:
			s.sweepExpired(ctx)
		}
	}
}

// sweepExpired closes every overdue deal, isolating failures per deal so one
// bad settlement never blocks the rest of the batch.
func (s *Scheduler) sweepExpired(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.Deal.HoldLimit)
	deals, err := s.deals.GetExpiredOpen(ctx, cutoff)
	if err != nil {
		s.logger.Error("sweepLoop: load expired deals", "err", err)
		return
	}
	if len(deals) == 0 {
		return
	}
	s.logger.Info("sweepLoop: closing overdue deals", "count", len(deals), "cutoff", cutoff)

	for _, d := range deals {
		_, err := s.closer.CloseAtMarket(ctx, d.ID, d.UserID,
			domain.CloseReasonExpiry, domain.TriggeredBySweeper)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrDealAlreadyClosed):
			// Another trigger won the race; nothing to do.
		case errors.Is(err, domain.ErrPriceUnavailable):
			// No usable price right now; the deal stays open and the next
			// sweep retries it.
			s.logger.Warn("sweepLoop: price unavailable, will retry", "deal", d.ID, "symbol", d.Symbol)
		default:
			s.logger.Error("sweepLoop: force close failed", "deal", d.ID, "err", err)
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// priceBroadcastLoop
// ──────────────────────────────────────────────────────────────────────────────

// priceBroadcastLoop pushes the cached price of every symbol with open
// exposure to all connected WS clients once a second.
func (s *Scheduler) priceBroadcastLoop(ctx context.Context) {
	defer s.recoverAndLog("priceBroadcastLoop")

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("priceBroadcastLoop: shutting down")
			return
		case <-ticker.C:
			s.broadcastPrices(ctx)
		}
	}
}

// broadcastPrices is the inner body of priceBroadcastLoop, extracted so that
// the defer/recover in the loop catches panics correctly.
func (s *Scheduler) broadcastPrices(ctx context.Context) {
	if s.hub == nil {
		return
	}
	symbols, err := s.deals.OpenSymbols(ctx)
	if err != nil {
		s.logger.Warn("priceBroadcastLoop: load open symbols", "err", err)
		return
	}

	now := time.Now().UTC()
	for _, symbol := range symbols {
		price, ok := s.prices.Cached(symbol)
		if !ok {
			// Cache is cold for this symbol; the stream or the next REST
			// fetch will warm it.
			continue
		}
		s.hub.BroadcastPriceUpdate(ws.PriceUpdateMessage{
			Type:      ws.MsgTypePriceUpdate,
			Symbol:    symbol,
			Price:     price,
			Timestamp: now,
		})
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred inside each goroutine to catch unexpected panics,
// log them, and allow the scheduler to continue running.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop",
			"loop", loop, "panic", r)
	}
}
