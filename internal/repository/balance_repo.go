package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/dealdesk/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// BalanceRepository handles all database operations for the per-user balance
// ledger and its audit trail. Only deal-open and deal-close flows mutate the
// free_balance column.
type BalanceRepository struct {
	db *sqlx.DB
}

// NewBalanceRepository creates a new BalanceRepository.
func NewBalanceRepository(db *sqlx.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// GetByUserID fetches the ledger record belonging to a specific user.
func (r *BalanceRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Balance, error) {
	var b domain.Balance
	err := r.db.GetContext(ctx, &b, `SELECT * FROM balances WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBalanceNotFound
		}
		return nil, fmt.Errorf("balance_repo.GetByUserID: %w", err)
	}
	return &b, nil
}

// GetForUpdate locks the user's ledger row and returns it. Callers must hold
// an open transaction; the lock is released at commit/rollback.
func (r *BalanceRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (*domain.Balance, error) {
	var b domain.Balance
	err := tx.GetContext(ctx, &b, `SELECT * FROM balances WHERE user_id = $1 FOR UPDATE`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBalanceNotFound
		}
		return nil, fmt.Errorf("balance_repo.GetForUpdate: %w", err)
	}
	return &b, nil
}

// Replenish moves amount from balance into free_balance inside a transaction.
// The row must already be locked by GetForUpdate.
func (r *BalanceRepository) Replenish(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE balances
		SET balance      = balance - $1,
		    free_balance = free_balance + $1,
		    updated_at   = now()
		WHERE user_id = $2`,
		amount, userID)
	if err != nil {
		return fmt.Errorf("balance_repo.Replenish: %w", err)
	}
	return nil
}

// DebitFree subtracts amount from free_balance inside a transaction. The row
// must already be locked and the funding check performed by the caller.
func (r *BalanceRepository) DebitFree(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE balances SET free_balance = free_balance - $1, updated_at = now() WHERE user_id = $2`,
		amount, userID)
	if err != nil {
		return fmt.Errorf("balance_repo.DebitFree: %w", err)
	}
	return nil
}

// CreditFree adds amount to free_balance inside a transaction. The amount may
// be smaller than the original stake on a losing deal; free_balance is not
// floored at zero.
func (r *BalanceRepository) CreditFree(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE balances SET free_balance = free_balance + $1, updated_at = now() WHERE user_id = $2`,
		amount, userID)
	if err != nil {
		return fmt.Errorf("balance_repo.CreditFree: %w", err)
	}
	return nil
}

// IncrementTradeCount bumps the user's lifetime trade counter.
func (r *BalanceRepository) IncrementTradeCount(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE balances SET trades_count = trades_count + 1, updated_at = now() WHERE user_id = $1`,
		userID)
	if err != nil {
		return fmt.Errorf("balance_repo.IncrementTradeCount: %w", err)
	}
	return nil
}

// LogTransaction inserts an audit record into balance_transactions inside a
// transaction.
func (r *BalanceRepository) LogTransaction(ctx context.Context, tx *sqlx.Tx, txn *domain.Transaction) error {
	query := `
		INSERT INTO balance_transactions
			(id, user_id, type, amount, balance_before, balance_after, deal_id, description, created_at)
		VALUES
			(:id, :user_id, :type, :amount, :balance_before, :balance_after, :deal_id, :description, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, txn); err != nil {
		return fmt.Errorf("balance_repo.LogTransaction: %w", err)
	}
	return nil
}

// GetTransactions returns paginated audit history for a user, newest first.
func (r *BalanceRepository) GetTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Transaction, error) {
	var txns []*domain.Transaction
	err := r.db.SelectContext(ctx, &txns, `
		SELECT * FROM balance_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("balance_repo.GetTransactions: %w", err)
	}
	return txns, nil
}
