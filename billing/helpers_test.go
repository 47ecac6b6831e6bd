package billing_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-ledger/billing"
	"github.com/warp/billing-ledger/billing/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func d(s string) billing.Date { return billing.MustParseDate(s) }

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newTestService returns a service over a fresh memory store with today fixed.
func newTestService(today string) (*billing.Service, *store.Memory) {
	mem := store.NewMemory()
	svc := billing.NewService(mem, billing.FixedClock(d(today)))
	return svc, mem
}

// standardInput is the pricing used across scenarios: base 100 covers one
// state and five employees, overage 20/state and 5/employee.
func standardInput(name string, freq billing.Frequency, start string) billing.ClientInput {
	return billing.ClientInput{
		Name:      name,
		Frequency: freq,
		Schedule:  billing.Schedule{PayStartDate: d(start)},
		Rates: billing.Rates{
			BaseFee:        money("100"),
			AddStateFee:    money("20"),
			AddEmployeeFee: money("5"),
		},
		StatesInBase:      1,
		EmployeesInBase:   5,
		SurchargeEnabled:  true,
		SurchargeFee:      money("10"),
		EscalationMode:    billing.EscalationPercent,
		EscalationPercent: money("5"),
	}
}

func mustCreateClient(t *testing.T, svc *billing.Service, in billing.ClientInput) *billing.Client {
	t.Helper()
	c, err := svc.CreateClient(context.Background(), in)
	require.NoError(t, err)
	return c
}

func regularDraft(processing string, states, employees int) billing.PeriodDraft {
	return billing.PeriodDraft{
		PeriodType:     billing.PeriodRegular,
		ProcessingDate: d(processing),
		Usage:          billing.Usage{StatesProcessed: states, EmployeesProcessed: employees},
	}
}
