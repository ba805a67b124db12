package domain_test

import (
	"errors"
	"testing"

	"github.com/evetabi/dealdesk/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var commission5bps = decimal.NewFromFloat(0.0005)

// TestComputeProfit_LongWin validates the settlement maths for a winning long.
// No I/O — pure arithmetic.
//
//	Scenario:
//	  amount = 100, multiplier = 5  → volume = 500
//	  open = 100, close = 110       → priceChange = +10%
//	  gross      = 500 × 0.10       = 50
//	  commission = 500 × 0.0005     = 0.25
//	  profit     = 50 − 0.25        = 49.75
func TestComputeProfit_LongWin(t *testing.T) {
	pl := domain.ComputeProfit(
		decimal.NewFromInt(100), 5, domain.DirectionUp,
		decimal.NewFromInt(100), decimal.NewFromInt(110), commission5bps)

	if !pl.Volume.Equal(decimal.NewFromInt(500)) {
		t.Errorf("volume = %s, want 500", pl.Volume)
	}
	if !pl.GrossProfit.Equal(decimal.NewFromInt(50)) {
		t.Errorf("gross = %s, want 50", pl.GrossProfit)
	}
	if !pl.Commission.Equal(decimal.NewFromFloat(0.25)) {
		t.Errorf("commission = %s, want 0.25", pl.Commission)
	}
	if !pl.Profit.Equal(decimal.NewFromFloat(49.75)) {
		t.Errorf("profit = %s, want 49.75", pl.Profit)
	}
}

// TestComputeProfit_DirectionInverts confirms a short position books the
// mirrored gross on the same price move, with commission still charged.
//
//	Same numbers as the long case, direction = down:
//	  gross  = −50
//	  profit = −50 − 0.25 = −50.25
func TestComputeProfit_DirectionInverts(t *testing.T) {
	pl := domain.ComputeProfit(
		decimal.NewFromInt(100), 5, domain.DirectionDown,
		decimal.NewFromInt(100), decimal.NewFromInt(110), commission5bps)

	if !pl.GrossProfit.Equal(decimal.NewFromInt(-50)) {
		t.Errorf("gross = %s, want -50", pl.GrossProfit)
	}
	if !pl.Profit.Equal(decimal.NewFromFloat(-50.25)) {
		t.Errorf("profit = %s, want -50.25", pl.Profit)
	}
}

// TestComputeProfit_FlatPriceChargesCommission: closing at the open price
// still costs the fee, so the net is always negative on a flat market.
func TestComputeProfit_FlatPriceChargesCommission(t *testing.T) {
	pl := domain.ComputeProfit(
		decimal.NewFromInt(200), 10, domain.DirectionUp,
		decimal.NewFromInt(87000), decimal.NewFromInt(87000), commission5bps)

	if !pl.GrossProfit.IsZero() {
		t.Errorf("gross = %s, want 0", pl.GrossProfit)
	}
	// commission = 2000 × 0.0005 = 1
	if !pl.Profit.Equal(decimal.NewFromInt(-1)) {
		t.Errorf("profit = %s, want -1", pl.Profit)
	}
}

// TestComputeProfit_ScaleFloor confirms the persisted profit is floored to 8
// decimal places instead of carrying an unbounded repeating fraction.
//
//	open = 3, close = 4, amount = 1, multiplier = 1:
//	  priceChange = 1/3, gross = 0.333…, commission = 0.0005
//	  profit = 0.332833… → floored to 0.33283333
func TestComputeProfit_ScaleFloor(t *testing.T) {
	pl := domain.ComputeProfit(
		decimal.NewFromInt(1), 1, domain.DirectionUp,
		decimal.NewFromInt(3), decimal.NewFromInt(4), commission5bps)

	want := decimal.RequireFromString("0.33283333")
	if !pl.Profit.Equal(want) {
		t.Errorf("profit = %s, want %s", pl.Profit, want)
	}
}

// TestOpenDealRequest_Validate covers the structural validation gate.
func TestOpenDealRequest_Validate(t *testing.T) {
	valid := func() *domain.OpenDealRequest {
		return &domain.OpenDealRequest{
			UserID:     uuid.New(),
			Symbol:     "BTCUSDT",
			Direction:  domain.DirectionUp,
			Amount:     decimal.NewFromInt(100),
			Multiplier: 10,
		}
	}

	cases := []struct {
		name    string
		mutate  func(r *domain.OpenDealRequest)
		wantErr error
	}{
		{"ok", func(r *domain.OpenDealRequest) {}, nil},
		{"empty symbol", func(r *domain.OpenDealRequest) { r.Symbol = "" }, domain.ErrSymbolUnavailable},
		{"bad direction", func(r *domain.OpenDealRequest) { r.Direction = "sideways" }, domain.ErrInvalidDirection},
		{"zero amount", func(r *domain.OpenDealRequest) { r.Amount = decimal.Zero }, domain.ErrInvalidAmount},
		{"negative amount", func(r *domain.OpenDealRequest) { r.Amount = decimal.NewFromInt(-5) }, domain.ErrInvalidAmount},
		{"multiplier too low", func(r *domain.OpenDealRequest) { r.Multiplier = 0 }, domain.ErrInvalidMultiplier},
		{"multiplier too high", func(r *domain.OpenDealRequest) { r.Multiplier = 101 }, domain.ErrInvalidMultiplier},
		{"negative take profit", func(r *domain.OpenDealRequest) {
			tp := decimal.NewFromInt(-1)
			r.TakeProfit = &tp
		}, domain.ErrInvalidTrigger},
		{"zero stop loss", func(r *domain.OpenDealRequest) {
			sl := decimal.Zero
			r.StopLoss = &sl
		}, domain.ErrInvalidTrigger},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid()
			tc.mutate(req)
			err := req.Validate()
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

// TestDeal_HasTriggers checks the monitor registration predicate.
func TestDeal_HasTriggers(t *testing.T) {
	d := &domain.Deal{}
	if d.HasTriggers() {
		t.Error("deal with no thresholds should not have triggers")
	}
	tp := decimal.NewFromInt(90000)
	d.TakeProfit = &tp
	if !d.HasTriggers() {
		t.Error("deal with take profit should have triggers")
	}
}
