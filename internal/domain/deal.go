package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// Direction is the side of a leveraged deal: a bet on price going up (long)
// or down (short).
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// IsValid reports whether the direction is one of the two known sides.
func (d Direction) IsValid() bool {
	return d == DirectionUp || d == DirectionDown
}

// DealStatus represents the lifecycle state of a deal. A deal transitions
// open → closed exactly once; there are no other states.
type DealStatus string

const (
	DealStatusOpen   DealStatus = "open"
	DealStatusClosed DealStatus = "closed"
)

// CloseReason records why a deal was closed.
type CloseReason string

const (
	CloseReasonManual     CloseReason = "manual"
	CloseReasonTakeProfit CloseReason = "take_profit"
	CloseReasonStopLoss   CloseReason = "stop_loss"
	CloseReasonExpiry     CloseReason = "auto_liquidation"
)

// TriggeredBy records which actor proposed the closure.
type TriggeredBy string

const (
	TriggeredByUser    TriggeredBy = "user"
	TriggeredByMonitor TriggeredBy = "monitor"
	TriggeredBySweeper TriggeredBy = "sweeper"
)

const (
	// MinMultiplier and MaxMultiplier bound the accepted leverage range.
	MinMultiplier = 1
	MaxMultiplier = 100
)

// MoneyScale is the decimal scale used for freeBalance and profit columns
// (DECIMAL(30,8)); CashScale matches the balance column (DECIMAL(18,2)).
const (
	MoneyScale int32 = 8
	CashScale  int32 = 2
)

// ──────────────────────────────────────────────────────────────────────────────
// Deal
// ──────────────────────────────────────────────────────────────────────────────

// Deal is a simulated leveraged position. OpenPrice and the terms are fixed
// at creation; ClosePrice, Profit, ClosedAt and CloseReason are set atomically
// with the status flip and never change afterwards.
type Deal struct {
	ID          int64            `json:"id"           db:"id"`
	UserID      uuid.UUID        `json:"user_id"      db:"user_id"`
	Symbol      string           `json:"symbol"       db:"symbol"`
	Direction   Direction        `json:"direction"    db:"direction"`
	Amount      decimal.Decimal  `json:"amount"       db:"amount"`
	Multiplier  int              `json:"multiplier"   db:"multiplier"`
	OpenPrice   decimal.Decimal  `json:"open_price"   db:"open_price"`
	TakeProfit  *decimal.Decimal `json:"take_profit"  db:"take_profit"`
	StopLoss    *decimal.Decimal `json:"stop_loss"    db:"stop_loss"`
	Status      DealStatus       `json:"status"       db:"status"`
	OpenedAt    time.Time        `json:"opened_at"    db:"opened_at"`
	ClosedAt    *time.Time       `json:"closed_at"    db:"closed_at"`
	ClosePrice  *decimal.Decimal `json:"close_price"  db:"close_price"`
	Profit      *decimal.Decimal `json:"profit"       db:"profit"`
	CloseReason *CloseReason     `json:"close_reason" db:"close_reason"`
}

// IsOpen returns true while the deal can still be closed.
func (d *Deal) IsOpen() bool {
	return d.Status == DealStatusOpen
}

// HasTriggers reports whether the deal carries at least one TP/SL threshold
// and therefore needs to be watched by the order monitor.
func (d *Deal) HasTriggers() bool {
	return d.TakeProfit != nil || d.StopLoss != nil
}

// ──────────────────────────────────────────────────────────────────────────────
// P&L
// ──────────────────────────────────────────────────────────────────────────────

// ProfitBreakdown is the result of settling a deal at a given close price.
type ProfitBreakdown struct {
	Volume      decimal.Decimal // amount × multiplier (notional)
	GrossProfit decimal.Decimal // signed, before commission
	Commission  decimal.Decimal // always positive, charged on every closure
	Profit      decimal.Decimal // GrossProfit − Commission
}

// ComputeProfit settles a deal's P&L at closePrice.
//
//	volume      = amount × multiplier
//	priceChange = (closePrice − openPrice) / openPrice
//	gross       = volume × priceChange        (direction = up)
//	              volume × (−priceChange)     (direction = down)
//	commission  = volume × commissionRate
//	profit      = gross − commission
//
// Pure arithmetic, no I/O; safe to recompute if a settlement race is lost.
// The final profit is floored to MoneyScale to match the persisted column.
func ComputeProfit(amount decimal.Decimal, multiplier int, direction Direction, openPrice, closePrice, commissionRate decimal.Decimal) ProfitBreakdown {
	volume := amount.Mul(decimal.NewFromInt(int64(multiplier)))
	priceChange := closePrice.Sub(openPrice).Div(openPrice)

	gross := volume.Mul(priceChange)
	if direction == DirectionDown {
		gross = gross.Neg()
	}
	commission := volume.Mul(commissionRate)

	return ProfitBreakdown{
		Volume:      volume,
		GrossProfit: gross,
		Commission:  commission,
		Profit:      gross.Sub(commission).RoundDown(MoneyScale),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Value objects
// ──────────────────────────────────────────────────────────────────────────────

// OpenDealRequest carries the validated inputs for opening a deal.
type OpenDealRequest struct {
	UserID     uuid.UUID
	Symbol     string
	Direction  Direction
	Amount     decimal.Decimal
	Multiplier int
	TakeProfit *decimal.Decimal
	StopLoss   *decimal.Decimal
}

// Validate rejects structurally invalid requests before any side effect.
func (r *OpenDealRequest) Validate() error {
	if r.Symbol == "" {
		return ErrSymbolUnavailable
	}
	if !r.Direction.IsValid() {
		return ErrInvalidDirection
	}
	if !r.Amount.GreaterThan(decimal.Zero) {
		return ErrInvalidAmount
	}
	if r.Multiplier < MinMultiplier || r.Multiplier > MaxMultiplier {
		return ErrInvalidMultiplier
	}
	if r.TakeProfit != nil && !r.TakeProfit.GreaterThan(decimal.Zero) {
		return ErrInvalidTrigger
	}
	if r.StopLoss != nil && !r.StopLoss.GreaterThan(decimal.Zero) {
		return ErrInvalidTrigger
	}
	return nil
}

// CloseDealResult is returned by the settlement engine after a successful
// (or benign already-closed) settlement.
type CloseDealResult struct {
	DealID     int64           `json:"deal_id"`
	Profit     decimal.Decimal `json:"profit"`
	ClosePrice decimal.Decimal `json:"close_price"`
	ClosedAt   time.Time       `json:"closed_at"`
	Reason     CloseReason     `json:"reason"`
}

// DealResponse is the API-safe view of a deal.
type DealResponse struct {
	ID          int64            `json:"id"`
	Symbol      string           `json:"symbol"`
	Direction   Direction        `json:"direction"`
	Amount      decimal.Decimal  `json:"amount"`
	Multiplier  int              `json:"multiplier"`
	OpenPrice   decimal.Decimal  `json:"open_price"`
	TakeProfit  *decimal.Decimal `json:"take_profit,omitempty"`
	StopLoss    *decimal.Decimal `json:"stop_loss,omitempty"`
	Status      DealStatus       `json:"status"`
	OpenedAt    time.Time        `json:"opened_at"`
	ClosedAt    *time.Time       `json:"closed_at,omitempty"`
	ClosePrice  *decimal.Decimal `json:"close_price,omitempty"`
	Profit      *decimal.Decimal `json:"profit,omitempty"`
	CloseReason *CloseReason     `json:"close_reason,omitempty"`
}

// ToResponse converts a Deal to its API response form.
func (d *Deal) ToResponse() DealResponse {
	return DealResponse{
		ID:          d.ID,
		Symbol:      d.Symbol,
		Direction:   d.Direction,
		Amount:      d.Amount,
		Multiplier:  d.Multiplier,
		OpenPrice:   d.OpenPrice,
		TakeProfit:  d.TakeProfit,
		StopLoss:    d.StopLoss,
		Status:      d.Status,
		OpenedAt:    d.OpenedAt,
		ClosedAt:    d.ClosedAt,
		ClosePrice:  d.ClosePrice,
		Profit:      d.Profit,
		CloseReason: d.CloseReason,
	}
}
