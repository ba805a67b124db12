package domain_test

import (
	"fmt"
	"testing"

	"github.com/evetabi/dealdesk/internal/domain"
)

// TestErrorPredicates pins the HTTP-mapping classes each sentinel belongs to,
// including wrapped errors the way services return them.
func TestErrorPredicates(t *testing.T) {
	cases := []struct {
		err                             error
		validation, notFound, transient bool
	}{
		{domain.ErrInvalidAmount, true, false, false},
		{domain.ErrInvalidMultiplier, true, false, false},
		{domain.ErrInvalidDirection, true, false, false},
		{domain.ErrInvalidTrigger, true, false, false},
		{domain.ErrDealNotFound, false, true, false},
		{domain.ErrBalanceNotFound, false, true, false},
		{domain.ErrPriceUnavailable, false, false, true},
		{domain.ErrSymbolUnavailable, false, false, true},
		{domain.ErrInsufficientFunds, false, false, false},
		{domain.ErrDealAlreadyClosed, false, false, false},
		{domain.ErrUnauthorized, false, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			wrapped := fmt.Errorf("deal_service.Open: %w", tc.err)
			if got := domain.IsValidation(wrapped); got != tc.validation {
				t.Errorf("IsValidation = %v, want %v", got, tc.validation)
			}
			if got := domain.IsNotFound(wrapped); got != tc.notFound {
				t.Errorf("IsNotFound = %v, want %v", got, tc.notFound)
			}
			if got := domain.IsTransient(wrapped); got != tc.transient {
				t.Errorf("IsTransient = %v, want %v", got, tc.transient)
			}
		})
	}
}
