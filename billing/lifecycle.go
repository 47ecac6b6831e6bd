/*
lifecycle.go - Pay-period submission, edit and skip

PURPOSE:
  Turns an operator's period submission into a persisted Transaction and
  moves the client's standing schedule forward.

STATE MACHINE:
  PeriodDraft ──validate──▶ validatedPeriod ──persist──▶ Transaction

  A draft only becomes a validatedPeriod through validateDraft/validateEdit,
  and only a validatedPeriod is ever written. Edits re-enter the same path
  against the existing row.

ORDERING:
  validate → compute cost → persist transaction → (regular) advance client
  schedule → return. The two writes share one store transaction.

REGULAR vs ADDITIONAL:
  regular:    start is the client's PayStartDate, end is derived from the
              frequency, the client schedule advances one period
  additional: operator supplies start and end, the schedule is untouched

SEE ALSO:
  - period.go: RegularPeriod, AdvanceStart
  - cost.go: ComputeCost
*/
package billing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INPUTS AND RESULTS
// =============================================================================

// PeriodDraft is an unvalidated period submission. Start and End are read
// only for additional periods.
type PeriodDraft struct {
	PeriodType     PeriodType
	Start          Date
	End            Date
	ProcessingDate Date
	PayDate        Date
	Usage          Usage
}

// PricingOverride replaces the editable part of a transaction's snapshot.
type PricingOverride struct {
	BaseFee         decimal.Decimal
	AddStateFee     decimal.Decimal
	AddEmployeeFee  decimal.Decimal
	StatesInBase    int
	EmployeesInBase int
}

// PeriodEdit is an unvalidated edit. Start and End are read only for
// additional periods; nil Pricing keeps the stored snapshot.
type PeriodEdit struct {
	Start          Date
	End            Date
	ProcessingDate Date
	PayDate        Date
	Usage          Usage
	Pricing        *PricingOverride
}

type PeriodResult struct {
	Transaction Transaction
	// NextSchedule is the client's schedule after a regular submission.
	NextSchedule *Schedule
}

// PeriodPreview is what the operator sees before submitting a regular period.
type PeriodPreview struct {
	ClientID  ClientID
	Frequency Frequency
	Period    Period
	NextStart Date
	Schedule  Schedule
}

type validatedPeriod struct {
	periodType PeriodType
	snapshot   BilledFeeSnapshot
	period     Period
	nextStart  Date
	processing Date
	pay        Date
	usage      Usage
}

// =============================================================================
// OPERATIONS
// =============================================================================

// PreviewRegularPeriod derives the next regular period for a client.
func (s *Service) PreviewRegularPeriod(ctx context.Context, clientID ClientID) (*PeriodPreview, error) {
	client, err := s.Store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	period, next, err := RegularPeriod(client.Schedule.PayStartDate, client.Frequency)
	if err != nil {
		return nil, err
	}
	return &PeriodPreview{
		ClientID:  client.ID,
		Frequency: client.Frequency,
		Period:    period,
		NextStart: next,
		Schedule:  client.Schedule,
	}, nil
}

// CreatePeriod validates and bills one pay period.
func (s *Service) CreatePeriod(ctx context.Context, clientID ClientID, d PeriodDraft) (*PeriodResult, error) {
	client, err := s.Store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client.Terminated {
		return nil, fmt.Errorf("create period for %q: %w", client.Name, ErrClientTerminated)
	}

	v, err := s.validateDraft(client, d)
	if err != nil {
		return nil, err
	}

	cost := ComputeCost(v.snapshot, v.usage)
	tx := Transaction{
		ClientID:       client.ID,
		PeriodType:     v.periodType,
		Snapshot:       v.snapshot,
		Period:         v.period,
		ProcessingDate: v.processing,
		PayDate:        v.pay,
		Usage:          v.usage,
		Cost:           cost,
		NetAmount:      NetOf(cost, decimal.Zero),
	}

	var next *Schedule
	if v.periodType == PeriodRegular {
		delta := DaysBetween(v.period.Start, v.nextStart)
		sched := Schedule{PayStartDate: v.nextStart, ProcessingDate: v.processing.AddDays(delta)}
		if !v.pay.IsZero() {
			sched.PayDate = v.pay.AddDays(delta)
		}
		next = &sched
	}

	err = s.Store.WithTx(ctx, func(st Store) error {
		id, err := st.InsertTransaction(ctx, tx)
		if err != nil {
			return err
		}
		tx.ID = id
		if next != nil {
			return st.UpdateClientSchedule(ctx, client.ID, *next)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist %s period for client %d: %w", v.periodType, client.ID, err)
	}

	s.log().Info("period created",
		"client_id", client.ID, "transaction_id", tx.ID, "type", tx.PeriodType,
		"period", tx.Period.String(), "cost", tx.Cost.StringFixed(MoneyPlaces))
	return &PeriodResult{Transaction: tx, NextSchedule: next}, nil
}

// EditPeriod re-validates a stored period with new values and recomputes its
// cost from the (possibly overridden) snapshot. The period type never changes
// and regular period dates stay as billed.
func (s *Service) EditPeriod(ctx context.Context, txID TransactionID, e PeriodEdit) (*Transaction, error) {
	tx, err := s.Store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}

	v, err := s.validateEdit(tx, e)
	if err != nil {
		return nil, err
	}

	updated := *tx
	updated.Snapshot = v.snapshot
	updated.Period = v.period
	updated.ProcessingDate = v.processing
	updated.PayDate = v.pay
	updated.Usage = v.usage
	updated.Cost = ComputeCost(v.snapshot, v.usage)
	updated.NetAmount = NetOf(updated.Cost, tx.Collection.Collected)

	if err := s.Store.UpdateTransaction(ctx, updated); err != nil {
		return nil, fmt.Errorf("update transaction %d: %w", txID, err)
	}
	s.log().Info("period edited", "transaction_id", txID, "cost", updated.Cost.StringFixed(MoneyPlaces))
	return &updated, nil
}

// SkipPeriod advances a client's schedule by one period without billing.
func (s *Service) SkipPeriod(ctx context.Context, clientID ClientID) (*Schedule, error) {
	client, err := s.Store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client.Terminated {
		return nil, fmt.Errorf("skip period for %q: %w", client.Name, ErrClientTerminated)
	}

	start := client.Schedule.PayStartDate
	if ok, reason := ValidatePeriodStart(client.Frequency, start); !ok {
		return nil, ValidationErrors{reason}
	}
	next, err := AdvanceStart(start, client.Frequency)
	if err != nil {
		return nil, err
	}

	sched := client.Schedule.Shift(DaysBetween(start, next))
	if err := s.Store.UpdateClientSchedule(ctx, client.ID, sched); err != nil {
		return nil, fmt.Errorf("skip period for client %d: %w", client.ID, err)
	}
	s.log().Info("period skipped", "client_id", client.ID, "next_start", sched.PayStartDate.String())
	return &sched, nil
}

// =============================================================================
// VALIDATION
// =============================================================================

func (s *Service) validateDraft(client *Client, d PeriodDraft) (*validatedPeriod, error) {
	var errs ValidationErrors
	v := &validatedPeriod{
		periodType: d.PeriodType,
		snapshot:   client.Fees.Snapshot(client.Frequency),
		processing: d.ProcessingDate,
		pay:        d.PayDate,
	}

	switch d.PeriodType {
	case PeriodRegular:
		v.period.Start = client.Schedule.PayStartDate
		if ok, reason := ValidatePeriodStart(client.Frequency, v.period.Start); !ok {
			errs.AddMsg(reason)
		} else {
			period, next, err := RegularPeriod(v.period.Start, client.Frequency)
			if err != nil {
				errs.AddMsg(err.Error())
			}
			v.period, v.nextStart = period, next
		}
	case PeriodAdditional:
		v.period = Period{Start: d.Start, End: d.End}
		validateAdditionalDates(&errs, client.Frequency, v.period)
	default:
		errs.Add("Period type must be regular or additional.")
	}

	s.validateProcessing(&errs, v.period, v.processing, v.pay)
	v.usage = validateUsage(&errs, v.snapshot, d.Usage)

	if err := errs.Err(); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) validateEdit(tx *Transaction, e PeriodEdit) (*validatedPeriod, error) {
	var errs ValidationErrors
	v := &validatedPeriod{
		periodType: tx.PeriodType,
		snapshot:   tx.Snapshot,
		processing: e.ProcessingDate,
		pay:        e.PayDate,
	}

	if e.Pricing != nil {
		p := e.Pricing
		validatePositive(&errs, "Base fee", p.BaseFee)
		validatePositive(&errs, "Additional state fee", p.AddStateFee)
		validatePositive(&errs, "Additional employee fee", p.AddEmployeeFee)
		validateNonNegative(&errs, "Number of states in base fee", p.StatesInBase)
		validateNonNegative(&errs, "Number of employees in base fee", p.EmployeesInBase)
		v.snapshot.Rates = Rates{BaseFee: p.BaseFee, AddStateFee: p.AddStateFee, AddEmployeeFee: p.AddEmployeeFee}.Round()
		v.snapshot.StatesInBase = p.StatesInBase
		v.snapshot.EmployeesInBase = p.EmployeesInBase
	}

	if tx.PeriodType == PeriodRegular {
		v.period = tx.Period
	} else {
		v.period = Period{Start: e.Start, End: e.End}
		validateAdditionalDates(&errs, tx.Snapshot.Frequency, v.period)
	}

	s.validateProcessing(&errs, v.period, v.processing, v.pay)
	v.usage = validateUsage(&errs, v.snapshot, e.Usage)

	if err := errs.Err(); err != nil {
		return nil, err
	}
	return v, nil
}

func validateAdditionalDates(errs *ValidationErrors, freq Frequency, p Period) {
	if p.Start.IsZero() {
		errs.Add("Period start date is required.")
	} else if ok, reason := ValidatePeriodStart(freq, p.Start); !ok {
		errs.AddMsg(reason)
	}
	switch {
	case p.End.IsZero():
		errs.Add("Period end date is required.")
	case !p.Start.IsZero() && !p.End.After(p.Start):
		errs.Add("Period end date should be after period start date.")
	}
}

func (s *Service) validateProcessing(errs *ValidationErrors, p Period, processing, pay Date) {
	anchor, label := p.End, "end"
	if s.ProcessingAnchor == AnchorPeriodStart {
		anchor, label = p.Start, "start"
	}
	switch {
	case processing.IsZero():
		errs.Add("Processing date is required.")
	case !anchor.IsZero() && processing.Before(anchor):
		errs.Add("Processing date must be on/after the period %s date.", label)
	}
	if !pay.IsZero() && !processing.IsZero() && pay.Before(processing) {
		errs.Add("Pay date must be on/after the processing date.")
	}
}

// validateUsage checks usage counts and drops a surcharge the snapshot does
// not allow.
func validateUsage(errs *ValidationErrors, snap BilledFeeSnapshot, u Usage) Usage {
	if u.EmployeesProcessed <= 0 {
		errs.Add("Number of employees processed must be > 0.")
	}
	if u.StatesProcessed <= 0 {
		errs.Add("Number of states processed must be > 0.")
	}
	if !snap.SurchargeEnabled || !u.SurchargeInvoked {
		u.SurchargeInvoked = false
		u.StatesSurcharged = 0
		return u
	}
	if u.StatesSurcharged <= 0 {
		errs.Add("Number of states surcharged must be > 0 when the surcharge is invoked.")
	}
	return u
}

func validatePositive(errs *ValidationErrors, field string, d decimal.Decimal) {
	if !d.IsPositive() {
		errs.Add("%s must be a number > 0.", field)
	}
}

func validateNonNegative(errs *ValidationErrors, field string, n int) {
	if n < 0 {
		errs.Add("%s must be a number >= 0.", field)
	}
}
