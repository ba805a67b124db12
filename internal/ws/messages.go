// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs pushed to connected clients.
package ws

import (
	"time"

	"github.com/evetabi/dealdesk/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypePriceUpdate MsgType = "price_update"
	MsgTypeDealOpened  MsgType = "deal_opened"
	MsgTypeDealClosed  MsgType = "deal_closed"
)

// ──────────────────────────────────────────────────────────────────────────────
// PriceUpdateMessage — pushed on every broadcast tick, per symbol.
// ──────────────────────────────────────────────────────────────────────────────

// PriceUpdateMessage carries the latest weighted price for one symbol.
type PriceUpdateMessage struct {
	Type      MsgType         `json:"type"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Deal lifecycle messages
// ──────────────────────────────────────────────────────────────────────────────

// DealOpenedMessage notifies the owning user that their deal is live.
type DealOpenedMessage struct {
	Type      MsgType          `json:"type"`
	UserID    uuid.UUID        `json:"user_id"`
	DealID    int64            `json:"deal_id"`
	Symbol    string           `json:"symbol"`
	Direction domain.Direction `json:"direction"`
	Amount    decimal.Decimal  `json:"amount"`
	Timestamp time.Time        `json:"timestamp"`
}

// DealClosedMessage notifies the owning user of a settlement and its P&L.
type DealClosedMessage struct {
	Type      MsgType         `json:"type"`
	UserID    uuid.UUID       `json:"user_id"`
	DealID    int64           `json:"deal_id"`
	Symbol    string          `json:"symbol"`
	Profit    decimal.Decimal `json:"profit"`
	Timestamp time.Time       `json:"timestamp"`
}
