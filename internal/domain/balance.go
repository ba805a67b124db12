package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Balance
// ──────────────────────────────────────────────────────────────────────────────

// ReplenishRatio is the share of a user's total funds that the auto-replenish
// policy tops freeBalance up to when it cannot cover a new deal (30 %).
var ReplenishRatio = decimal.NewFromFloat(0.30)

// Balance is the per-user accounting record. Balance holds funds not
// committed to trading; FreeBalance is the pool deals are opened from and
// settled into. FreeBalance may go negative relative to risk on a losing
// deal — the ledger records the realised loss, it does not clamp at zero.
type Balance struct {
	UserID      uuid.UUID       `json:"user_id"      db:"user_id"`
	Balance     decimal.Decimal `json:"balance"      db:"balance"`
	FreeBalance decimal.Decimal `json:"free_balance" db:"free_balance"`
	TradesCount int             `json:"trades_count" db:"trades_count"`
	CreatedAt   time.Time       `json:"created_at"   db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"   db:"updated_at"`
}

// ReplenishMove computes how much should move from balance into freeBalance
// so that freeBalance holds at least ReplenishRatio of the user's total
// funds. Returns zero when freeBalance already meets the target or nothing
// is left to move.
//
// The moved amount is floored to CashScale (the balance column keeps cents);
// the caller credits the same figure into freeBalance at MoneyScale.
func ReplenishMove(balance, freeBalance decimal.Decimal) decimal.Decimal {
	target := balance.Add(freeBalance).Mul(ReplenishRatio)
	if !target.GreaterThan(freeBalance) {
		return decimal.Zero
	}
	move := target.Sub(freeBalance)
	if move.GreaterThan(balance) {
		move = balance
	}
	move = move.RoundDown(CashScale)
	if move.IsNegative() {
		return decimal.Zero
	}
	return move
}

// ──────────────────────────────────────────────────────────────────────────────
// Transaction audit trail
// ──────────────────────────────────────────────────────────────────────────────

// TransactionType labels a balance_transactions audit row.
type TransactionType string

const (
	TxDealOpen  TransactionType = "deal_open"  // freeBalance debit at open
	TxDealClose TransactionType = "deal_close" // amount + profit credit at close
	TxReplenish TransactionType = "replenish"  // balance → freeBalance auto-move
)

// Transaction is an immutable audit record of a single freeBalance mutation,
// written inside the same database transaction as the mutation itself.
type Transaction struct {
	ID            uuid.UUID       `json:"id"             db:"id"`
	UserID        uuid.UUID       `json:"user_id"        db:"user_id"`
	Type          TransactionType `json:"type"           db:"type"`
	Amount        decimal.Decimal `json:"amount"         db:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"  db:"balance_after"`
	DealID        *int64          `json:"deal_id"        db:"deal_id"`
	Description   string          `json:"description"    db:"description"`
	CreatedAt     time.Time       `json:"created_at"     db:"created_at"`
}
