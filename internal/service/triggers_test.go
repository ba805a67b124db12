package service

import (
	"errors"
	"testing"

	"github.com/evetabi/dealdesk/internal/domain"
	"github.com/shopspring/decimal"
)

// TestValidateTriggers: a take profit must sit on the profitable side of the
// open price and a stop loss on the losing side, otherwise the first tick
// would close the deal immediately.
func TestValidateTriggers(t *testing.T) {
	open := decimal.NewFromInt(90000)

	cases := []struct {
		name    string
		dir     domain.Direction
		tp, sl  string
		wantErr bool
	}{
		{"long, tp above open", domain.DirectionUp, "95000", "", false},
		{"long, sl below open", domain.DirectionUp, "", "85000", false},
		{"long, both well placed", domain.DirectionUp, "95000", "85000", false},
		{"long, tp at open", domain.DirectionUp, "90000", "", true},
		{"long, tp below open", domain.DirectionUp, "89000", "", true},
		{"long, sl above open", domain.DirectionUp, "", "91000", true},
		{"short, tp below open", domain.DirectionDown, "85000", "", false},
		{"short, sl above open", domain.DirectionDown, "", "95000", false},
		{"short, tp above open", domain.DirectionDown, "91000", "", true},
		{"short, sl below open", domain.DirectionDown, "", "89000", true},
		{"no thresholds", domain.DirectionUp, "", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := &domain.OpenDealRequest{Direction: tc.dir}
			if tc.tp != "" {
				v := decimal.RequireFromString(tc.tp)
				req.TakeProfit = &v
			}
			if tc.sl != "" {
				v := decimal.RequireFromString(tc.sl)
				req.StopLoss = &v
			}

			err := validateTriggers(req, open)
			if tc.wantErr {
				if !errors.Is(err, domain.ErrInvalidTrigger) {
					t.Errorf("validateTriggers() = %v, want ErrInvalidTrigger", err)
				}
			} else if err != nil {
				t.Errorf("validateTriggers() = %v, want nil", err)
			}
		})
	}
}
