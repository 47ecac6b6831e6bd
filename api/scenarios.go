/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates the store with realistic clients, billed periods and
	collections. Every loader goes through billing.Service, so demo data
	obeys the same validation and pricing as operator input. Dates are
	relative to the service clock's "today".

AVAILABLE SCENARIOS:

	single-client:       One semi-monthly client, three billed periods
	mixed-frequencies:   One client per pay frequency
	rollover-due:        A fee increase effective today, ready for rollover
	outstanding-balance: Unpaid client, overpaid client, terminated client

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "rollover-due"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: shared helpers
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-ledger/billing"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-client",
		Name:        "Single Client",
		Description: "Semi-monthly client with three billed periods, the first one collected",
	},
	{
		ID:          "mixed-frequencies",
		Name:        "Mixed Frequencies",
		Description: "Weekly, biweekly, semi-monthly and monthly clients side by side",
	},
	{
		ID:          "rollover-due",
		Name:        "Rollover Due",
		Description: "Fee increase effective today; run the rollover to promote it",
	},
	{
		ID:          "outstanding-balance",
		Name:        "Outstanding Balance",
		Description: "One client owes money, one is overpaid, one is terminated",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}

	loaders := map[string]func(context.Context) error{
		"single-client":       h.loadSingleClientScenario,
		"mixed-frequencies":   h.loadMixedFrequenciesScenario,
		"rollover-due":        h.loadRolloverDueScenario,
		"outstanding-balance": h.loadOutstandingBalanceScenario,
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}
	if h.Resetter == nil {
		writeError(w, http.StatusNotImplemented, "Scenarios are not available for this store", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	h.currentScenario = ""
	if err := h.Resetter.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears every record.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if h.Resetter == nil {
		writeError(w, http.StatusNotImplemented, "Reset is not available for this store", nil)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Resetter.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadSingleClientScenario(ctx context.Context) error {
	if _, err := h.seedAdmin(ctx); err != nil {
		return err
	}
	today := h.Service.Clock.Today()
	start := billing.NewDate(today.Year(), today.Month()-2, 1)

	c, err := h.Service.CreateClient(ctx, demoClient("Acme Payroll", billing.FrequencySemiMonthly, start))
	if err != nil {
		return err
	}
	var txs []billing.Transaction
	for _, usage := range []billing.Usage{
		{StatesProcessed: 3, EmployeesProcessed: 8},
		{StatesProcessed: 2, EmployeesProcessed: 9},
		{StatesProcessed: 3, EmployeesProcessed: 12, SurchargeInvoked: true, StatesSurcharged: 1},
	} {
		tx, err := h.billRegular(ctx, c.ID, usage)
		if err != nil {
			return err
		}
		txs = append(txs, *tx)
	}
	return h.collectInFull(ctx, c.ID, txs[0])
}

func (h *Handler) loadMixedFrequenciesScenario(ctx context.Context) error {
	if _, err := h.seedAdmin(ctx); err != nil {
		return err
	}
	today := h.Service.Clock.Today()
	starts := []struct {
		name  string
		freq  billing.Frequency
		start billing.Date
	}{
		{"Bluebird Bakery", billing.FrequencyWeekly, today.AddDays(-28)},
		{"Cobalt Logistics", billing.FrequencyBiweekly, today.AddDays(-42)},
		{"Delta Dental Group", billing.FrequencySemiMonthly, billing.NewDate(today.Year(), today.Month()-1, 16)},
		{"Evergreen Farms", billing.FrequencyMonthly, billing.NewDate(today.Year(), today.Month()-2, 1)},
	}
	for i, s := range starts {
		c, err := h.Service.CreateClient(ctx, demoClient(s.name, s.freq, s.start))
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		tx, err := h.billRegular(ctx, c.ID, billing.Usage{StatesProcessed: 1 + i, EmployeesProcessed: 4 + 2*i})
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		if i%2 == 0 {
			if err := h.collectInFull(ctx, c.ID, *tx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Handler) loadRolloverDueScenario(ctx context.Context) error {
	if _, err := h.seedAdmin(ctx); err != nil {
		return err
	}
	today := h.Service.Clock.Today()
	in := demoClient("Foxtrot Media", billing.FrequencyMonthly, billing.NewDate(today.Year(), today.Month()-1, 1))
	c, err := h.Service.CreateClient(ctx, in)
	if err != nil {
		return err
	}
	if _, err := h.billRegular(ctx, c.ID, billing.Usage{StatesProcessed: 2, EmployeesProcessed: 6}); err != nil {
		return err
	}
	// Operator input cannot pick today as an effective date; demo data can.
	return h.Service.Store.UpdateClientEffectiveDate(ctx, c.ID, today)
}

func (h *Handler) loadOutstandingBalanceScenario(ctx context.Context) error {
	admin, err := h.seedAdmin(ctx)
	if err != nil {
		return err
	}
	today := h.Service.Clock.Today()
	start := today.AddDays(-21)

	owes, err := h.Service.CreateClient(ctx, demoClient("Granite Builders", billing.FrequencyWeekly, start))
	if err != nil {
		return err
	}
	if err := h.Service.AssignUser(ctx, owes.ID, &admin.ID); err != nil {
		return err
	}
	first, err := h.billRegular(ctx, owes.ID, billing.Usage{StatesProcessed: 3, EmployeesProcessed: 8})
	if err != nil {
		return err
	}
	if _, err := h.billRegular(ctx, owes.ID, billing.Usage{StatesProcessed: 1, EmployeesProcessed: 5}); err != nil {
		return err
	}
	if _, err := h.Service.UpdateCollectionFields(ctx, owes.ID, []billing.CollectionEdit{{
		TransactionID: first.ID,
		Collected:     decimal.NewFromInt(50),
		Description:   "Partial ACH",
		Date:          first.ProcessingDate.AddDays(5).String(),
	}}); err != nil {
		return err
	}

	overpaid, err := h.Service.CreateClient(ctx, demoClient("Harbor Cafe", billing.FrequencyWeekly, start))
	if err != nil {
		return err
	}
	tx, err := h.billRegular(ctx, overpaid.ID, billing.Usage{StatesProcessed: 1, EmployeesProcessed: 3})
	if err != nil {
		return err
	}
	if _, err := h.Service.UpdateCollectionFields(ctx, overpaid.ID, []billing.CollectionEdit{{
		TransactionID: tx.ID,
		Collected:     tx.Cost.Add(decimal.NewFromInt(20)),
		Description:   "Check #1042",
		Date:          tx.ProcessingDate.AddDays(2).String(),
	}}); err != nil {
		return err
	}

	closed, err := h.Service.CreateClient(ctx, demoClient("Iris Studio", billing.FrequencyBiweekly, start))
	if err != nil {
		return err
	}
	_, err = h.Service.Terminate(ctx, closed.ID)
	return err
}

// =============================================================================
// LOADER HELPERS
// =============================================================================

func demoClient(name string, freq billing.Frequency, start billing.Date) billing.ClientInput {
	return billing.ClientInput{
		Name:      name,
		Frequency: freq,
		Schedule:  billing.Schedule{PayStartDate: start},
		Rates: billing.Rates{
			BaseFee:        decimal.NewFromInt(100),
			AddStateFee:    decimal.NewFromInt(20),
			AddEmployeeFee: decimal.NewFromInt(5),
		},
		StatesInBase:      1,
		EmployeesInBase:   5,
		SurchargeEnabled:  true,
		SurchargeFee:      decimal.NewFromInt(15),
		EscalationMode:    billing.EscalationPercent,
		EscalationPercent: decimal.NewFromInt(5),
	}
}

func (h *Handler) seedAdmin(ctx context.Context) (*billing.User, error) {
	return h.Service.CreateUser(ctx, billing.UserInput{
		Name:      "Admin",
		Role:      billing.RoleAdmin,
		Email:     "admin@example.com",
		Password:  "change-me-now",
		Permanent: true,
	})
}

// billRegular bills the client's next regular period, processed on its last
// day and paid three days later.
func (h *Handler) billRegular(ctx context.Context, id billing.ClientID, usage billing.Usage) (*billing.Transaction, error) {
	p, err := h.Service.PreviewRegularPeriod(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := h.Service.CreatePeriod(ctx, id, billing.PeriodDraft{
		PeriodType:     billing.PeriodRegular,
		ProcessingDate: p.Period.End,
		PayDate:        p.Period.End.AddDays(3),
		Usage:          usage,
	})
	if err != nil {
		return nil, err
	}
	return &res.Transaction, nil
}

func (h *Handler) collectInFull(ctx context.Context, id billing.ClientID, tx billing.Transaction) error {
	_, err := h.Service.UpdateCollectionFields(ctx, id, []billing.CollectionEdit{{
		TransactionID: tx.ID,
		Collected:     tx.Cost,
		Description:   "ACH",
		Date:          tx.ProcessingDate.AddDays(5).String(),
	}})
	return err
}
