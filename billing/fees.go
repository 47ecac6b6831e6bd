package billing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// RATES
// =============================================================================

// Rates are the three per-period prices that escalate together.
type Rates struct {
	BaseFee        decimal.Decimal
	AddStateFee    decimal.Decimal
	AddEmployeeFee decimal.Decimal
}

// Round returns the rates rounded to cents.
func (r Rates) Round() Rates {
	return Rates{
		BaseFee:        RoundMoney(r.BaseFee),
		AddStateFee:    RoundMoney(r.AddStateFee),
		AddEmployeeFee: RoundMoney(r.AddEmployeeFee),
	}
}

// IncreaseBy applies a percentage increase to every rate.
func (r Rates) IncreaseBy(pct decimal.Decimal) Rates {
	return Rates{
		BaseFee:        PercentIncrease(r.BaseFee, pct),
		AddStateFee:    PercentIncrease(r.AddStateFee, pct),
		AddEmployeeFee: PercentIncrease(r.AddEmployeeFee, pct),
	}
}

var hundred = decimal.NewFromInt(100)

// PercentIncrease returns round(v * (1 + pct/100), 2).
func PercentIncrease(v, pct decimal.Decimal) decimal.Decimal {
	return RoundMoney(v.Mul(decimal.NewFromInt(1).Add(pct.Div(hundred))))
}

// =============================================================================
// ESCALATION - Scheduled future price bump
// =============================================================================

type EscalationMode string

const (
	EscalationPercent EscalationMode = "percent"
	EscalationManual  EscalationMode = "manual"
)

func (m EscalationMode) Valid() bool { return m == EscalationPercent || m == EscalationManual }

// Escalation is the next price change. Future is precomputed so that reports
// and the rollover never need to recalculate it.
type Escalation struct {
	Mode          EscalationMode
	Percent       decimal.Decimal
	EffectiveDate Date
	Future        Rates
}

// ComputeFutureFees returns the rates that take effect on the escalation date.
// In percent mode every current rate grows by pct; in manual mode the
// operator's overrides are used as given, rounded to cents.
func ComputeFutureFees(mode EscalationMode, pct decimal.Decimal, current, manual Rates) Rates {
	if mode == EscalationManual {
		return manual.Round()
	}
	return current.IncreaseBy(pct)
}

// =============================================================================
// FEE SCHEDULE - Live pricing owned by a client
// =============================================================================

type FeeSchedule struct {
	Rates
	StatesInBase     int
	EmployeesInBase  int
	SurchargeEnabled bool
	SurchargeFee     decimal.Decimal
	Escalation       Escalation
}

// Snapshot freezes the pricing a period is billed at.
func (f FeeSchedule) Snapshot(freq Frequency) BilledFeeSnapshot {
	return BilledFeeSnapshot{
		Frequency:        freq,
		Rates:            f.Rates.Round(),
		StatesInBase:     f.StatesInBase,
		EmployeesInBase:  f.EmployeesInBase,
		SurchargeEnabled: f.SurchargeEnabled,
		SurchargeFee:     RoundMoney(f.SurchargeFee),
	}
}

// Promote makes the scheduled rates current and schedules the next
// escalation one year out. The next future rates are always computed from
// Percent, so a manual override does not survive a rollover.
func (f FeeSchedule) Promote() FeeSchedule {
	out := f
	out.Rates = f.Escalation.Future.Round()
	out.Escalation = Escalation{
		Mode:          EscalationPercent,
		Percent:       f.Escalation.Percent,
		EffectiveDate: PlusOneYear(f.Escalation.EffectiveDate),
		Future:        out.Rates.IncreaseBy(f.Escalation.Percent),
	}
	return out
}

// =============================================================================
// BILLED FEE SNAPSHOT - Frozen pricing on a transaction
// =============================================================================

// BilledFeeSnapshot is immutable once attached to a transaction; an edit
// replaces it wholesale.
type BilledFeeSnapshot struct {
	Frequency Frequency
	Rates
	StatesInBase     int
	EmployeesInBase  int
	SurchargeEnabled bool
	SurchargeFee     decimal.Decimal
}
