package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/dealdesk/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// DealRepository handles all database operations for Deals. It is the
// authoritative record of deal state; the order monitor index is only a
// cache rebuilt from it.
type DealRepository struct {
	db *sqlx.DB
}

// NewDealRepository creates a new DealRepository.
func NewDealRepository(db *sqlx.DB) *DealRepository {
	return &DealRepository{db: db}
}

// Create inserts a new open deal inside an existing transaction and returns
// its generated id.
func (r *DealRepository) Create(ctx context.Context, tx *sqlx.Tx, d *domain.Deal) (int64, error) {
	var id int64
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO deals
			(user_id, symbol, direction, amount, multiplier, open_price, take_profit, stop_loss, status, opened_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		d.UserID, d.Symbol, string(d.Direction), d.Amount, d.Multiplier,
		d.OpenPrice, d.TakeProfit, d.StopLoss, string(d.Status), d.OpenedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("deal_repo.Create: %w", err)
	}
	return id, nil
}

// GetByID fetches a deal by its primary key.
func (r *DealRepository) GetByID(ctx context.Context, id int64) (*domain.Deal, error) {
	var d domain.Deal
	err := r.db.GetContext(ctx, &d, `SELECT * FROM deals WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDealNotFound
		}
		return nil, fmt.Errorf("deal_repo.GetByID: %w", err)
	}
	return &d, nil
}

// Close performs the conditional open→closed transition inside a transaction.
// The WHERE status='open' guard makes the transition exactly-once: whichever
// caller lands first wins, every other caller gets ErrDealAlreadyClosed.
func (r *DealRepository) Close(ctx context.Context, tx *sqlx.Tx, id int64, closePrice, profit decimal.Decimal, reason domain.CloseReason, closedAt time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE deals
		SET status       = 'closed',
		    close_price  = $1,
		    profit       = $2,
		    close_reason = $3,
		    closed_at    = $4
		WHERE id = $5 AND status = 'open'`,
		closePrice, profit, string(reason), closedAt, id)
	if err != nil {
		return fmt.Errorf("deal_repo.Close: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrDealAlreadyClosed
	}
	return nil
}

// GetByUserID returns a user's deal history, newest first, paginated.
func (r *DealRepository) GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Deal, error) {
	var deals []*domain.Deal
	err := r.db.SelectContext(ctx, &deals,
		`SELECT * FROM deals WHERE user_id = $1 ORDER BY opened_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("deal_repo.GetByUserID: %w", err)
	}
	return deals, nil
}

// GetExpiredOpen returns every deal still open whose opening time is before
// cutoff. Used by the expiry sweeper; results may race with concurrent
// closures, which the conditional Close resolves.
func (r *DealRepository) GetExpiredOpen(ctx context.Context, cutoff time.Time) ([]*domain.Deal, error) {
	var deals []*domain.Deal
	err := r.db.SelectContext(ctx, &deals,
		`SELECT * FROM deals WHERE status = 'open' AND opened_at < $1 ORDER BY opened_at ASC`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("deal_repo.GetExpiredOpen: %w", err)
	}
	return deals, nil
}

// GetOpenWithTriggers returns all open deals carrying at least one TP/SL
// threshold. Used to seed the order monitor index at startup.
func (r *DealRepository) GetOpenWithTriggers(ctx context.Context) ([]*domain.Deal, error) {
	var deals []*domain.Deal
	err := r.db.SelectContext(ctx, &deals, `
		SELECT * FROM deals
		WHERE status = 'open'
		  AND (take_profit IS NOT NULL OR stop_loss IS NOT NULL)
		ORDER BY opened_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("deal_repo.GetOpenWithTriggers: %w", err)
	}
	return deals, nil
}

// OpenSymbols returns the distinct symbols of all open deals, so the price
// stream can resubscribe after a restart.
func (r *DealRepository) OpenSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	err := r.db.SelectContext(ctx, &symbols,
		`SELECT DISTINCT symbol FROM deals WHERE status = 'open'`)
	if err != nil {
		return nil, fmt.Errorf("deal_repo.OpenSymbols: %w", err)
	}
	return symbols, nil
}
