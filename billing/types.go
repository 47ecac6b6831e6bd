/*
Package billing is the pay-period scheduling and fee-calculation engine.

PURPOSE:
  A payroll service bills each client once per pay period. This package
  decides when periods start and end, what a period costs, when a client's
  prices escalate, and how much each client still owes. It is pure
  computation over typed records plus the current date; persistence sits
  behind the Store interface.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal amounts rounded to cents at the point of computation
  - Client: a billing account with a live FeeSchedule and a pay schedule
  - Transaction: one billed pay period with a frozen BilledFeeSnapshot
  - User: an operator who may be assigned clients

DESIGN PRINCIPLES:
  1. Snapshot pricing: a transaction's cost comes only from the snapshot it
     carries, never from the client's live fees
  2. Precision: decimal.Decimal everywhere money appears
  3. Validate, then write: every check runs before the first store call
  4. Injected time: "today" always comes from a Clock

USAGE:
  svc := billing.NewService(store, billing.SystemClock{})
  res, err := svc.CreatePeriod(ctx, clientID, billing.PeriodDraft{...})
  if billing.IsValidation(err) {
      for _, msg := range err.(billing.ValidationErrors) { ... }
  }

SEE ALSO:
  - period.go: calendar arithmetic
  - fees.go: fee schedule, snapshot and escalation
  - cost.go: per-period cost
  - lifecycle.go: create/edit/skip periods
  - rollover.go: daily fee escalation
  - receivables.go: balances, collections and reports
*/
package billing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// Money is rounded to this many decimal places wherever it is produced.
const MoneyPlaces = 2

// RoundMoney rounds half away from zero to cents.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(MoneyPlaces) }

// MoneyFromFloat converts an operator-entered float to cents.
func MoneyFromFloat(f float64) decimal.Decimal { return RoundMoney(decimal.NewFromFloat(f)) }

// MoneyFromCents rebuilds an amount stored as integer cents.
func MoneyFromCents(c int64) decimal.Decimal { return decimal.New(c, -MoneyPlaces) }

// Cents converts an amount to integer cents for storage.
func Cents(d decimal.Decimal) int64 { return RoundMoney(d).Shift(MoneyPlaces).IntPart() }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClientID int64
type TransactionID int64
type UserID int64

// =============================================================================
// CLIENT
// =============================================================================

// Schedule is the client's standing pay calendar: the start of the next
// regular period and, when tracked, its processing and pay dates.
type Schedule struct {
	PayStartDate   Date `json:"pay_start_date"`
	ProcessingDate Date `json:"processing_date"`
	PayDate        Date `json:"pay_date"`
}

// Shift moves every set date by n days.
func (s Schedule) Shift(n int) Schedule {
	out := Schedule{PayStartDate: s.PayStartDate.AddDays(n)}
	if !s.ProcessingDate.IsZero() {
		out.ProcessingDate = s.ProcessingDate.AddDays(n)
	}
	if !s.PayDate.IsZero() {
		out.PayDate = s.PayDate.AddDays(n)
	}
	return out
}

// Client is a billing account. Clients are never deleted; Terminated is a
// soft delete.
type Client struct {
	ID             ClientID
	Name           string
	Frequency      Frequency
	Schedule       Schedule
	Fees           FeeSchedule
	AssignedUserID *UserID
	Terminated     bool
}

// =============================================================================
// TRANSACTION - One billed pay period
// =============================================================================

type PeriodType string

const (
	PeriodRegular    PeriodType = "regular"
	PeriodAdditional PeriodType = "additional"
)

func (t PeriodType) Valid() bool { return t == PeriodRegular || t == PeriodAdditional }

// Usage is what the client consumed in one period.
type Usage struct {
	EmployeesProcessed int  `json:"employees_processed"`
	StatesProcessed    int  `json:"states_processed"`
	SurchargeInvoked   bool `json:"surcharge_invoked"`
	StatesSurcharged   int  `json:"states_surcharged"`
}

// Collection records what has been received against a transaction.
type Collection struct {
	Collected   decimal.Decimal
	Description string
	Date        Date
}

type Transaction struct {
	ID             TransactionID
	ClientID       ClientID
	PeriodType     PeriodType
	Snapshot       BilledFeeSnapshot
	Period         Period
	ProcessingDate Date
	PayDate        Date
	Usage          Usage
	Cost           decimal.Decimal
	Collection     Collection
	NetAmount      decimal.Decimal
}

// NetOf is the receivable left on a transaction.
func NetOf(cost, collected decimal.Decimal) decimal.Decimal {
	return RoundMoney(cost.Sub(collected))
}

// =============================================================================
// USER
// =============================================================================

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User is an operator. Permanent users cannot be deleted.
type User struct {
	ID           UserID
	Name         string
	Role         Role
	Email        string
	PasswordHash string
	Permanent    bool
}
