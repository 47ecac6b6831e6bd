package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ClientInput is an operator's create or edit form for a client.
type ClientInput struct {
	Name      string
	Frequency Frequency
	Schedule  Schedule

	Rates            Rates
	StatesInBase     int
	EmployeesInBase  int
	SurchargeEnabled bool
	SurchargeFee     decimal.Decimal

	EscalationMode    EscalationMode
	EscalationPercent decimal.Decimal
	// ManualFuture is read only in manual mode.
	ManualFuture Rates
	// EffectiveDate defaults to one year after the start on create.
	EffectiveDate Date

	AssignedUserID *UserID
}

// =============================================================================
// CREATE / EDIT
// =============================================================================

// CreateClient validates the form and inserts a new active client.
func (s *Service) CreateClient(ctx context.Context, in ClientInput) (*Client, error) {
	in.Frequency = in.Frequency.Canonical()
	if in.EffectiveDate.IsZero() && !in.Schedule.PayStartDate.IsZero() {
		in.EffectiveDate = PlusOneYear(in.Schedule.PayStartDate)
	}
	if in.EscalationMode == "" {
		in.EscalationMode = EscalationPercent
	}

	var errs ValidationErrors
	s.validateClientInput(&errs, in)
	if in.AssignedUserID != nil {
		s.checkUser(ctx, &errs, *in.AssignedUserID)
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	c := Client{
		Name:           strings.TrimSpace(in.Name),
		Frequency:      in.Frequency,
		Schedule:       in.Schedule,
		Fees:           feesFromInput(in),
		AssignedUserID: in.AssignedUserID,
	}
	id, err := s.Store.InsertClient(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("insert client %q: %w", c.Name, err)
	}
	c.ID = id
	s.log().Info("client created", "client_id", id, "name", c.Name, "frequency", c.Frequency)
	return &c, nil
}

// UpdateClient replaces a client's configuration. The new start date must
// come after every period already billed.
func (s *Service) UpdateClient(ctx context.Context, id ClientID, in ClientInput) (*Client, error) {
	existing, err := s.Store.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Terminated {
		return nil, fmt.Errorf("edit %q: %w", existing.Name, ErrClientTerminated)
	}
	in.Frequency = in.Frequency.Canonical()
	if in.EscalationMode == "" {
		in.EscalationMode = existing.Fees.Escalation.Mode
	}
	if in.EffectiveDate.IsZero() {
		in.EffectiveDate = existing.Fees.Escalation.EffectiveDate
	}

	var errs ValidationErrors
	latest, ok, err := s.Store.LatestPeriodEnd(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("latest period end for client %d: %w", id, err)
	}
	if ok && !in.Schedule.PayStartDate.IsZero() && !in.Schedule.PayStartDate.After(latest) {
		errs.Add("Pay start date must be after the latest pay end date (%s).", latest)
	}
	s.validateClientInput(&errs, in)
	if in.AssignedUserID != nil {
		s.checkUser(ctx, &errs, *in.AssignedUserID)
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	c := *existing
	c.Name = strings.TrimSpace(in.Name)
	c.Frequency = in.Frequency
	c.Schedule = in.Schedule
	c.Fees = feesFromInput(in)
	if in.AssignedUserID != nil {
		c.AssignedUserID = in.AssignedUserID
	}
	if err := s.Store.UpdateClient(ctx, c); err != nil {
		return nil, fmt.Errorf("update client %d: %w", id, err)
	}
	s.log().Info("client updated", "client_id", id)
	return &c, nil
}

func (s *Service) validateClientInput(errs *ValidationErrors, in ClientInput) {
	if strings.TrimSpace(in.Name) == "" {
		errs.Add("Client Name is required.")
	}

	start := in.Schedule.PayStartDate
	switch {
	case !in.Frequency.Valid():
		errs.Add("Pay frequency must be one of weekly, biweekly, semi-monthly, monthly.")
	case start.IsZero():
		errs.Add("Pay start date is required.")
	default:
		if ok, reason := ValidatePeriodStart(in.Frequency, start); !ok {
			errs.AddMsg(reason)
		}
	}
	sched := in.Schedule
	if !sched.PayDate.IsZero() && !sched.ProcessingDate.IsZero() && sched.PayDate.Before(sched.ProcessingDate) {
		errs.Add("Pay date must be on/after the processing date.")
	}

	validatePositive(errs, "Base fee", in.Rates.BaseFee)
	validateNonNegative(errs, "Number of states in base fee", in.StatesInBase)
	validateNonNegative(errs, "Number of employees in base fee", in.EmployeesInBase)
	validatePositive(errs, "Additional state fee", in.Rates.AddStateFee)
	validatePositive(errs, "Additional employee fee", in.Rates.AddEmployeeFee)
	if in.SurchargeEnabled {
		validatePositive(errs, "Help fee", in.SurchargeFee)
	}

	switch in.EscalationMode {
	case EscalationPercent:
		validatePositive(errs, "Fee increase %", in.EscalationPercent)
	case EscalationManual:
		validatePositive(errs, "Increased base fee", in.ManualFuture.BaseFee)
		validatePositive(errs, "Increased additional state fee", in.ManualFuture.AddStateFee)
		validatePositive(errs, "Increased additional employee fee", in.ManualFuture.AddEmployeeFee)
		if in.EscalationPercent.IsNegative() {
			errs.AddMsg("Fee increase % must be a number >= 0.")
		}
	default:
		errs.Add("Fee increase mode must be percent or manual.")
	}

	switch {
	case in.EffectiveDate.IsZero():
		errs.Add("Fee increase effective date is required.")
	case !in.EffectiveDate.After(s.today()):
		errs.Add("Fee increase effective date must be after today's date.")
	}
}

func (s *Service) checkUser(ctx context.Context, errs *ValidationErrors, id UserID) {
	if _, err := s.Store.GetUser(ctx, id); err != nil {
		errs.Add("Assigned user %d does not exist.", id)
	}
}

func feesFromInput(in ClientInput) FeeSchedule {
	current := in.Rates.Round()
	return FeeSchedule{
		Rates:            current,
		StatesInBase:     in.StatesInBase,
		EmployeesInBase:  in.EmployeesInBase,
		SurchargeEnabled: in.SurchargeEnabled,
		SurchargeFee:     RoundMoney(in.SurchargeFee),
		Escalation: Escalation{
			Mode:          in.EscalationMode,
			Percent:       in.EscalationPercent,
			EffectiveDate: in.EffectiveDate,
			Future:        ComputeFutureFees(in.EscalationMode, in.EscalationPercent, current, in.ManualFuture),
		},
	}
}

// =============================================================================
// TERMINATE / REACTIVATE
// =============================================================================

// Terminate soft-deletes a client. It is denied while the client still owes
// money; a denial leaves the client untouched.
func (s *Service) Terminate(ctx context.Context, id ClientID) (*Client, error) {
	c, err := s.Store.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Terminated {
		return nil, fmt.Errorf("terminate %q: %w", c.Name, ErrClientTerminated)
	}

	net, err := s.ClientNetAmount(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.canTerminate(net) {
		s.log().Warn("termination denied", "client_id", id, "net", net.StringFixed(MoneyPlaces))
		return nil, &OutstandingBalanceError{ClientID: id, ClientName: c.Name, Net: net}
	}

	if err := s.Store.SetClientTerminated(ctx, id, true); err != nil {
		return nil, fmt.Errorf("terminate client %d: %w", id, err)
	}
	c.Terminated = true
	s.log().Info("client terminated", "client_id", id)
	return c, nil
}

func (s *Service) canTerminate(net decimal.Decimal) bool {
	if s.StrictTermination {
		return net.IsZero()
	}
	return !net.IsPositive()
}

// Reactivate clears the terminated flag. When the stored escalation date is
// no longer in the future a corrected date must be supplied; it is written
// together with the flag.
func (s *Service) Reactivate(ctx context.Context, id ClientID, newEffective *Date) (*Client, error) {
	c, err := s.Store.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Terminated {
		return nil, fmt.Errorf("reactivate %q: %w", c.Name, ErrClientActive)
	}

	cutoff := s.today().AddDays(s.ReactivationLeadDays)
	effective := c.Fees.Escalation.EffectiveDate
	if newEffective != nil {
		if !newEffective.After(cutoff) {
			return nil, ValidationErrors{fmt.Sprintf("Effective date must be after %s.", cutoff)}
		}
		effective = *newEffective
	} else if !effective.After(cutoff) {
		return nil, &ReactivationDateError{
			ClientID:      id,
			ClientName:    c.Name,
			EffectiveDate: effective,
			MustBeAfter:   cutoff,
		}
	}

	err = s.Store.WithTx(ctx, func(st Store) error {
		if !effective.Equal(c.Fees.Escalation.EffectiveDate) {
			if err := st.UpdateClientEffectiveDate(ctx, id, effective); err != nil {
				return err
			}
		}
		return st.SetClientTerminated(ctx, id, false)
	})
	if err != nil {
		return nil, fmt.Errorf("reactivate client %d: %w", id, err)
	}

	c.Terminated = false
	c.Fees.Escalation.EffectiveDate = effective
	s.log().Info("client reactivated", "client_id", id, "effective_date", effective.String())
	return c, nil
}

// =============================================================================
// READS AND ASSIGNMENT
// =============================================================================

// AssignUser sets or clears (nil) the operator responsible for a client.
func (s *Service) AssignUser(ctx context.Context, id ClientID, user *UserID) error {
	if _, err := s.Store.GetClient(ctx, id); err != nil {
		return err
	}
	if user != nil {
		if _, err := s.Store.GetUser(ctx, *user); err != nil {
			return err
		}
	}
	if err := s.Store.AssignClientUser(ctx, id, user); err != nil {
		return fmt.Errorf("assign user to client %d: %w", id, err)
	}
	return nil
}

func (s *Service) GetClient(ctx context.Context, id ClientID) (*Client, error) {
	return s.Store.GetClient(ctx, id)
}

func (s *Service) ListClients(ctx context.Context, terminated bool) ([]Client, error) {
	return s.Store.ListClients(ctx, terminated)
}

func (s *Service) GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error) {
	return s.Store.GetTransaction(ctx, id)
}

// ListTransactions returns a client's periods, newest processing date first.
func (s *Service) ListTransactions(ctx context.Context, id ClientID) ([]Transaction, error) {
	if _, err := s.Store.GetClient(ctx, id); err != nil {
		return nil, err
	}
	return s.Store.ListTransactions(ctx, id)
}
