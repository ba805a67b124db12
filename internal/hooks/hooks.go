// Package hooks declares the downstream collaborator contracts the settlement
// engine calls into (task progress, reward tiers, notifications, analytics)
// and the best-effort dispatcher that runs them after the financial write
// commits. Hook failures are logged, never propagated: by the time a hook
// runs, the settlement is already authoritative.
package hooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/evetabi/dealdesk/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Collaborator contracts (implemented by external services)
// ──────────────────────────────────────────────────────────────────────────────

// TaskHooks advances gamified progress counters (daily trades, accumulated
// profit) when a deal settles.
type TaskHooks interface {
	OnDealClosed(ctx context.Context, userID uuid.UUID, profit decimal.Decimal) error
}

// RewardHooks re-evaluates tiered bonus eligibility after a balance change.
type RewardHooks interface {
	OnBalanceChanged(ctx context.Context, userID uuid.UUID) error
}

// Notifier delivers user-facing trade notifications.
type Notifier interface {
	DealOpened(userID uuid.UUID, dealID int64, symbol string, amount decimal.Decimal, direction domain.Direction)
	DealClosed(userID uuid.UUID, dealID int64, symbol string, profit decimal.Decimal)
}

// AnalyticsSync mirrors settled deals into the reporting store.
type AnalyticsSync interface {
	RecordDeal(ctx context.Context, deal *domain.Deal) error
}

// ──────────────────────────────────────────────────────────────────────────────
// Dispatcher
// ──────────────────────────────────────────────────────────────────────────────

const hookTimeout = 5 * time.Second

// Dispatcher fans settlement events out to the downstream hooks on worker
// goroutines. Every call is fire-and-forget with its own timeout and panic
// recovery; any nil collaborator is simply skipped.
type Dispatcher struct {
	tasks     TaskHooks
	rewards   RewardHooks
	notifier  Notifier
	analytics AnalyticsSync
	logger    *slog.Logger
}

// NewDispatcher builds a Dispatcher. Any collaborator may be nil.
func NewDispatcher(tasks TaskHooks, rewards RewardHooks, notifier Notifier, analytics AnalyticsSync, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		tasks:     tasks,
		rewards:   rewards,
		notifier:  notifier,
		analytics: analytics,
		logger:    logger,
	}
}

// DealOpened dispatches the "trade opened" notification.
func (d *Dispatcher) DealOpened(deal *domain.Deal) {
	go d.run("notify_deal_opened", func(context.Context) error {
		if d.notifier != nil {
			d.notifier.DealOpened(deal.UserID, deal.ID, deal.Symbol, deal.Amount, deal.Direction)
		}
		return nil
	})
}

// DealClosed dispatches every post-settlement hook for a closed deal. The
// deal snapshot must already carry its close fields.
func (d *Dispatcher) DealClosed(deal *domain.Deal) {
	profit := decimal.Zero
	if deal.Profit != nil {
		profit = *deal.Profit
	}

	go d.run("task_progress", func(ctx context.Context) error {
		if d.tasks == nil {
			return nil
		}
		return d.tasks.OnDealClosed(ctx, deal.UserID, profit)
	})
	go d.run("reward_tiers", func(ctx context.Context) error {
		if d.rewards == nil {
			return nil
		}
		return d.rewards.OnBalanceChanged(ctx, deal.UserID)
	})
	go d.run("notify_deal_closed", func(context.Context) error {
		if d.notifier != nil {
			d.notifier.DealClosed(deal.UserID, deal.ID, deal.Symbol, profit)
		}
		return nil
	})
	go d.run("analytics_sync", func(ctx context.Context) error {
		if d.analytics == nil {
			return nil
		}
		return d.analytics.RecordDeal(ctx, deal)
	})
}

// run executes one hook with timeout and panic recovery; errors degrade
// observability only and are recorded at warn level.
func (d *Dispatcher) run(name string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("hook panicked", "hook", name, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		d.logger.Warn("hook failed", "hook", name, "err", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Logging defaults
// ──────────────────────────────────────────────────────────────────────────────

// LogCollaborators is a stand-in implementation of every collaborator
// contract that records the event and does nothing else. Used until the real
// external services are wired in, and in tests.
type LogCollaborators struct {
	Logger *slog.Logger
}

func (l *LogCollaborators) OnDealClosed(_ context.Context, userID uuid.UUID, profit decimal.Decimal) error {
	l.Logger.Debug("task progress hook", "user", userID, "profit", profit.String())
	return nil
}

func (l *LogCollaborators) OnBalanceChanged(_ context.Context, userID uuid.UUID) error {
	l.Logger.Debug("reward tier hook", "user", userID)
	return nil
}

func (l *LogCollaborators) RecordDeal(_ context.Context, deal *domain.Deal) error {
	l.Logger.Debug("analytics sync hook", "deal", deal.ID, "status", deal.Status)
	return nil
}
