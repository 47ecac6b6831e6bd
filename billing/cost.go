package billing

import "github.com/shopspring/decimal"

// ComputeCost prices one period from a frozen snapshot.
//
// Usage at or under the base allotment earns no credit: overage is clamped at
// zero. The surcharge overage is measured against StatesInBase as well; there
// is no separate "already registered" baseline.
func ComputeCost(s BilledFeeSnapshot, u Usage) decimal.Decimal {
	extraStates := overage(u.StatesProcessed, s.StatesInBase)
	extraEmployees := overage(u.EmployeesProcessed, s.EmployeesInBase)

	cost := s.BaseFee.
		Add(s.AddStateFee.Mul(extraStates)).
		Add(s.AddEmployeeFee.Mul(extraEmployees))

	if u.SurchargeInvoked && s.SurchargeEnabled {
		cost = cost.Add(s.SurchargeFee.Mul(overage(u.StatesSurcharged, s.StatesInBase)))
	}
	return RoundMoney(cost)
}

func overage(used, included int) decimal.Decimal {
	if used <= included {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(used - included))
}
