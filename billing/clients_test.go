package billing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-ledger/billing"
)

func TestCreateClient_Defaults(t *testing.T) {
	svc, _ := newTestService("2025-01-10")
	c := mustCreateClient(t, svc, standardInput("  Acme  ", billing.FrequencySemiMonthly, "2025-03-16"))

	assert.Equal(t, "Acme", c.Name)
	assert.False(t, c.Terminated)
	assert.Equal(t, billing.PlusOneYear(d("2025-03-16")), c.Fees.Escalation.EffectiveDate)
	assert.Equal(t, billing.EscalationPercent, c.Fees.Escalation.Mode)
	assert.Equal(t, "105.00", c.Fees.Escalation.Future.BaseFee.StringFixed(2))
}

func TestCreateClient_ManualFutureFees(t *testing.T) {
	svc, _ := newTestService("2025-01-10")
	in := standardInput("Acme", billing.FrequencyWeekly, "2025-03-03")
	in.EscalationMode = billing.EscalationManual
	in.ManualFuture = billing.Rates{BaseFee: money("130"), AddStateFee: money("22"), AddEmployeeFee: money("6")}

	c := mustCreateClient(t, svc, in)
	assert.Equal(t, "130", c.Fees.Escalation.Future.BaseFee.String())
	assert.Equal(t, billing.EscalationManual, c.Fees.Escalation.Mode)
}

func TestCreateClient_ManualModeNegativePercent(t *testing.T) {
	svc, _ := newTestService("2025-01-10")
	in := standardInput("Acme", billing.FrequencyWeekly, "2025-03-03")
	in.EscalationMode = billing.EscalationManual
	in.ManualFuture = billing.Rates{BaseFee: money("130"), AddStateFee: money("22"), AddEmployeeFee: money("6")}
	in.EscalationPercent = money("-1")

	_, err := svc.CreateClient(context.Background(), in)
	require.Error(t, err)
	assert.Equal(t, []string{"Fee increase % must be a number >= 0."}, billing.Messages(err))
}

func TestCreateClient_LegacyFrequencySpelling(t *testing.T) {
	svc, _ := newTestService("2025-01-10")

	// GIVEN: a form still using the old name for biweekly
	c := mustCreateClient(t, svc, standardInput("Acme", billing.Frequency("semi-weekly"), "2025-03-05"))

	// THEN: it is stored and billed as biweekly
	assert.Equal(t, billing.FrequencyBiweekly, c.Frequency)
	res, err := svc.CreatePeriod(context.Background(), c.ID, regularDraft("2025-03-18", 1, 1))
	require.NoError(t, err)
	assert.Equal(t, d("2025-03-18"), res.Transaction.Period.End)
}

func TestCreateClient_ValidationBatch(t *testing.T) {
	svc, mem := newTestService("2025-01-10")
	in := billing.ClientInput{
		Frequency:      billing.FrequencyMonthly,
		Schedule:       billing.Schedule{PayStartDate: d("2025-03-16")},
		EscalationMode: billing.EscalationPercent,
		StatesInBase:   -1,
	}

	_, err := svc.CreateClient(context.Background(), in)
	require.Error(t, err)
	msgs := billing.Messages(err)
	assert.Contains(t, msgs, "Client Name is required.")
	assert.Contains(t, msgs, "Period start date must be the 1st.")
	assert.Contains(t, msgs, "Base fee must be a number > 0.")
	assert.Contains(t, msgs, "Number of states in base fee must be a number >= 0.")
	assert.Contains(t, msgs, "Fee increase % must be a number > 0.")

	clients, _ := mem.ListClients(context.Background(), false)
	assert.Empty(t, clients)
}

func TestCreateClient_EffectiveDateMustBeFuture(t *testing.T) {
	svc, _ := newTestService("2025-06-01")
	// start + 365 days is still in the past
	_, err := svc.CreateClient(context.Background(), standardInput("Acme", billing.FrequencyWeekly, "2024-01-01"))
	require.Error(t, err)
	assert.Contains(t, billing.Messages(err), "Fee increase effective date must be after today's date.")
}

func TestUpdateClient_StartMustFollowLatestBilledPeriod(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService("2025-01-10")
	in := standardInput("Acme", billing.FrequencyMonthly, "2025-03-01")
	c := mustCreateClient(t, svc, in)
	_, err := svc.CreatePeriod(ctx, c.ID, regularDraft("2025-04-01", 1, 1))
	require.NoError(t, err)

	in.Schedule.PayStartDate = d("2025-03-01")
	_, err = svc.UpdateClient(ctx, c.ID, in)
	require.Error(t, err)
	assert.Contains(t, billing.Messages(err), "Pay start date must be after the latest pay end date (2025-03-31).")
}

// =============================================================================
// TERMINATION
// =============================================================================

func TestTerminate_DeniedWithOutstandingBalance(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService("2025-01-10")
	c := mustCreateClient(t, svc, standardInput("Acme", billing.FrequencyWeekly, "2025-03-03"))

	// GIVEN: a 100.00 period with 50.00 collected
	res, err := svc.CreatePeriod(ctx, c.ID, regularDraft("2025-03-10", 1, 1))
	require.NoError(t, err)
	_, err = svc.UpdateCollectionFields(ctx, c.ID, []billing.CollectionEdit{
		{TransactionID: res.Transaction.ID, Collected: money("50")},
	})
	require.NoError(t, err)

	// WHEN
	_, err = svc.Terminate(ctx, c.ID)

	// THEN: denied with the balance and nothing changes
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrOutstandingBalance)
	assert.True(t, billing.IsDenied(err))
	var obe *billing.OutstandingBalanceError
	require.True(t, errors.As(err, &obe))
	assert.Equal(t, "50.00", obe.Net.StringFixed(2))
	assert.Contains(t, err.Error(), "outstanding balance of $50.00")

	stored, _ := mem.GetClient(ctx, c.ID)
	assert.False(t, stored.Terminated)
}

func TestTerminate_AllowedWhenOverpaid(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService("2025-01-10")
	c := mustCreateClient(t, svc, standardInput("Acme", billing.FrequencyWeekly, "2025-03-03"))
	res, err := svc.CreatePeriod(ctx, c.ID, regularDraft("2025-03-10", 1, 1))
	require.NoError(t, err)
	_, err = svc.UpdateCollectionFields(ctx, c.ID, []billing.CollectionEdit{
		{TransactionID: res.Transaction.ID, Collected: money("120")},
	})
	require.NoError(t, err)

	got, err := svc.Terminate(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.Terminated)
}

func TestTerminate_StrictModeRequiresZero(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService("2025-01-10")
	svc.StrictTermination = true
	c := mustCreateClient(t, svc, standardInput("Acme", billing.FrequencyWeekly, "2025-03-03"))
	res, err := svc.CreatePeriod(ctx, c.ID, regularDraft("2025-03-10", 1, 1))
	require.NoError(t, err)
	_, err = svc.UpdateCollectionFields(ctx, c.ID, []billing.CollectionEdit{
		{TransactionID: res.Transaction.ID, Collected: money("120")},
	})
	require.NoError(t, err)

	_, err = svc.Terminate(ctx, c.ID)
	assert.ErrorIs(t, err, billing.ErrOutstandingBalance)
	assert.Contains(t, err.Error(), "-$20.00")
}

// =============================================================================
// REACTIVATION
// =============================================================================

func TestReactivate_PastEffectiveDateDenied(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService("2025-01-10")
	c := mustCreateClient(t, svc, standardInput("Acme", billing.FrequencyWeekly, "2025-01-06"))
	_, err := svc.Terminate(ctx, c.ID)
	require.NoError(t, err)

	// GIVEN: the escalation date has passed while terminated
	svc.Clock = billing.FixedClock(d("2026-02-01"))

	// WHEN: reactivation is attempted without a new date
	_, err = svc.Reactivate(ctx, c.ID, nil)

	// THEN: denied, still terminated
	assert.ErrorIs(t, err, billing.ErrReactivationDateRequired)
	var rde *billing.ReactivationDateError
	require.True(t, errors.As(err, &rde))
	assert.Equal(t, d("2026-01-06"), rde.EffectiveDate)
	stored, _ := mem.GetClient(ctx, c.ID)
	assert.True(t, stored.Terminated)

	// AND: a past correction is rejected as validation
	past := d("2026-01-31")
	_, err = svc.Reactivate(ctx, c.ID, &past)
	assert.True(t, billing.IsValidation(err))

	// AND: a future correction reactivates with the new date
	future := d("2026-03-01")
	got, err := svc.Reactivate(ctx, c.ID, &future)
	require.NoError(t, err)
	assert.False(t, got.Terminated)
	stored, _ = mem.GetClient(ctx, c.ID)
	assert.False(t, stored.Terminated)
	assert.Equal(t, future, stored.Fees.Escalation.EffectiveDate)
}

func TestReactivate_LeadDays(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService("2025-01-10")
	in := standardInput("Acme", billing.FrequencyWeekly, "2025-01-06")
	in.EffectiveDate = d("2025-01-20")
	c := mustCreateClient(t, svc, in)
	_, err := svc.Terminate(ctx, c.ID)
	require.NoError(t, err)

	svc.ReactivationLeadDays = 15
	_, err = svc.Reactivate(ctx, c.ID, nil)
	assert.ErrorIs(t, err, billing.ErrReactivationDateRequired)

	svc.ReactivationLeadDays = 0
	got, err := svc.Reactivate(ctx, c.ID, nil)
	require.NoError(t, err)
	assert.False(t, got.Terminated)
}

func TestReactivate_ActiveClientRefused(t *testing.T) {
	svc, _ := newTestService("2025-01-10")
	c := mustCreateClient(t, svc, standardInput("Acme", billing.FrequencyWeekly, "2025-01-06"))
	_, err := svc.Reactivate(context.Background(), c.ID, nil)
	assert.ErrorIs(t, err, billing.ErrClientActive)
}

func TestAssignUser(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService("2025-01-10")
	c := mustCreateClient(t, svc, standardInput("Acme", billing.FrequencyWeekly, "2025-01-06"))
	u, err := svc.CreateUser(ctx, billing.UserInput{Name: "Dana", Role: billing.RoleUser, Email: "dana@example.com"})
	require.NoError(t, err)

	require.NoError(t, svc.AssignUser(ctx, c.ID, &u.ID))
	stored, _ := mem.GetClient(ctx, c.ID)
	require.NotNil(t, stored.AssignedUserID)
	assert.Equal(t, u.ID, *stored.AssignedUserID)

	missing := billing.UserID(99)
	assert.ErrorIs(t, svc.AssignUser(ctx, c.ID, &missing), billing.ErrUserNotFound)
}
