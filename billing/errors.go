/*
errors.go - Centralized error types for the billing engine

ERROR CATEGORIES:
  1. Validation errors - operator-correctable input problems, always a batch
  2. Integrity errors - unknown ids, illegal calendar input reaching arithmetic
  3. Business-rule denials - terminate with a balance, reactivate with a
     stale escalation date

Callers branch with errors.Is / errors.As or the Is* helpers below. Every
message is written for the operator, never an internal fault string.
*/
package billing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")

	ErrClientNotFound      = errors.New("client not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrUserNotFound        = errors.New("user not found")

	// ErrIllegalPeriodStart is returned by calendar arithmetic when asked to
	// advance from a day that cannot start a period of that frequency.
	ErrIllegalPeriodStart = errors.New("illegal period start")

	ErrClientTerminated = errors.New("client is terminated")
	ErrClientActive     = errors.New("client is not terminated")
	ErrPermanentUser    = errors.New("user is permanent and cannot be deleted")

	ErrOutstandingBalance       = errors.New("outstanding balance")
	ErrReactivationDateRequired = errors.New("fee increase effective date must be moved into the future")
)

// =============================================================================
// VALIDATION ERRORS - Collected, never short-circuited
// =============================================================================

// ValidationErrors is the full list of problems found in one submission.
type ValidationErrors []string

func (v ValidationErrors) Error() string {
	return "Please fix the following: " + strings.Join(v, " ")
}

func (v ValidationErrors) Unwrap() error { return ErrValidation }

// Add appends a formatted message.
func (v *ValidationErrors) Add(format string, args ...any) {
	*v = append(*v, fmt.Sprintf(format, args...))
}

// AddMsg appends msg as is.
func (v *ValidationErrors) AddMsg(msg string) {
	*v = append(*v, msg)
}

// Err returns nil when nothing was collected.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// =============================================================================
// BUSINESS-RULE DENIALS
// =============================================================================

// OutstandingBalanceError blocks termination while the client owes money.
type OutstandingBalanceError struct {
	ClientID   ClientID
	ClientName string
	Net        decimal.Decimal
}

func (e *OutstandingBalanceError) Error() string {
	return fmt.Sprintf("%s cannot be terminated due to an outstanding balance of %s",
		e.ClientName, FormatUSD(e.Net))
}

func (e *OutstandingBalanceError) Unwrap() error { return ErrOutstandingBalance }

// ReactivationDateError asks the caller to supply a corrected future
// escalation date before the client can be reactivated.
type ReactivationDateError struct {
	ClientID      ClientID
	ClientName    string
	EffectiveDate Date
	MustBeAfter   Date
}

func (e *ReactivationDateError) Error() string {
	return fmt.Sprintf("%s must have a fee increase effective date after %s (currently %s)",
		e.ClientName, e.MustBeAfter, e.EffectiveDate)
}

func (e *ReactivationDateError) Unwrap() error { return ErrReactivationDateRequired }

var usd = message.NewPrinter(language.AmericanEnglish)

// FormatUSD renders an amount as $1,234.56.
func FormatUSD(d decimal.Decimal) string {
	f, _ := RoundMoney(d).Float64()
	if f < 0 {
		return usd.Sprintf("-$%.2f", -f)
	}
	return usd.Sprintf("$%.2f", f)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true for operator-correctable input errors.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrUserNotFound)
}

// IsDenied returns true for business-rule denials.
func IsDenied(err error) bool {
	return errors.Is(err, ErrOutstandingBalance) ||
		errors.Is(err, ErrReactivationDateRequired) ||
		errors.Is(err, ErrClientTerminated) ||
		errors.Is(err, ErrClientActive) ||
		errors.Is(err, ErrPermanentUser)
}

// Messages flattens an error into operator-facing lines.
func Messages(err error) []string {
	var v ValidationErrors
	if errors.As(err, &v) {
		return []string(v)
	}
	return []string{err.Error()}
}
