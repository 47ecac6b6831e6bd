package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-ledger/billing"
)

func TestCreatePeriod_RegularAdvancesSchedule(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService("2025-01-10")

	// GIVEN: a semi-monthly client starting on the 1st
	in := standardInput("Acme", billing.FrequencySemiMonthly, "2025-03-01")
	c := mustCreateClient(t, svc, in)

	// WHEN: the regular period is submitted with processing on the 18th, pay on the 20th
	draft := regularDraft("2025-03-18", 3, 8)
	draft.PayDate = d("2025-03-20")
	res, err := svc.CreatePeriod(ctx, c.ID, draft)
	require.NoError(t, err)

	// THEN: the period is [1st, 15th] and costs 155
	tx := res.Transaction
	assert.Equal(t, d("2025-03-01"), tx.Period.Start)
	assert.Equal(t, d("2025-03-15"), tx.Period.End)
	assert.Equal(t, "155.00", tx.Cost.StringFixed(2))
	assert.True(t, tx.NetAmount.Equal(tx.Cost))

	// AND: the schedule moves 15 days forward
	require.NotNil(t, res.NextSchedule)
	assert.Equal(t, d("2025-03-16"), res.NextSchedule.PayStartDate)
	assert.Equal(t, d("2025-04-02"), res.NextSchedule.ProcessingDate)
	assert.Equal(t, d("2025-04-04"), res.NextSchedule.PayDate)

	stored, _ := mem.GetClient(ctx, c.ID)
	assert.Equal(t, *res.NextSchedule, stored.Schedule)
}

func TestCreatePeriod_AdditionalLeavesScheduleAlone(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService("2025-01-10")
	c := mustCreateClient(t, svc, standardInput("Acme", billing.FrequencyWeekly, "2025-03-03"))

	res, err := svc.CreatePeriod(ctx, c.ID, billing.PeriodDraft{
		PeriodType:     billing.PeriodAdditional,
		Start:          d("2025-03-05"),
		End:            d("2025-03-06"),
		ProcessingDate: d("2025-03-07"),
		Usage:          billing.Usage{StatesProcessed: 1, EmployeesProcessed: 1},
	})
	require.NoError(t, err)

	assert.Nil(t, res.NextSchedule)
	assert.Equal(t, billing.PeriodAdditional, res.Transaction.PeriodType)
	stored, _ := mem.GetClient(ctx, c.ID)
	assert.Equal(t, d("2025-03-03"), stored.Schedule.PayStartDate)
}

func TestCreatePeriod_CollectsEveryValidationError(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService("2025-01-10")
	c := mustCreateClient(t, svc, standardInput("Acme", billing.FrequencySemiMonthly, "2025-03-01"))

	// GIVEN: end before start, no processing date, zero usage
	_, err := svc.CreatePeriod(ctx, c.ID, billing.PeriodDraft{
		PeriodType: billing.PeriodAdditional,
		Start:      d("2025-03-16"),
		End:        d("2025-03-10"),
		Usage:      billing.Usage{SurchargeInvoked: true},
	})

	// THEN: all problems are reported together
	require.Error(t, err)
	assert.True(t, billing.IsValidation(err))
	msgs := billing.Messages(err)
	assert.Contains(t, msgs, "Period end date should be after period start date.")
	assert.Contains(t, msgs, "Processing date is required.")
	assert.Contains(t, msgs, "Number of employees processed must be > 0.")
	assert.Contains(t, msgs, "Number of states processed must be > 0.")
	assert.Contains(t, msgs, "Number of states surcharged must be > 0 when the surcharge is invoked.")

	// AND: nothing was written
	txs, _ := mem.ListTransactions(ctx, c.ID)
	assert.Empty(t, txs)
}

func TestCreatePeriod_ProcessingAnchor(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService("2025-01-10")
	c := mustCreateClient(t, svc, standardInput("Acme", billing.FrequencyMonthly, "2025-03-01"))

	// processing mid-period fails against the period end
	_, err := svc.CreatePeriod(ctx, c.ID, regularDraft("2025-03-20", 1, 1))
	require.Error(t, err)
	assert.Contains(t, billing.Messages(err), "Processing date must be on/after the period end date.")

	// but passes when anchored to the start
	svc.ProcessingAnchor = billing.AnchorPeriodStart
	_, err = svc.CreatePeriod(ctx, c.ID, regularDraft("2025-03-20", 1, 1))
	require.NoError(t, err)
}

func TestCreatePeriod_PayDateBeforeProcessingRejected(t *testing.T) {
	svc, _ := newTestService("2025-01-10")
	c := mustCreateClient(t, svc, standardInput("Acme", billing.FrequencyWeekly, "2025-03-03"))

	draft := regularDraft("2025-03-12", 1, 1)
	draft.PayDate = d("2025-03-11")
	_, err := svc.CreatePeriod(context.Background(), c.ID, draft)
	require.Error(t, err)
	assert.Equal(t, []string{"Pay date must be on/after the processing date."}, billing.Messages(err))
}

func TestCreatePeriod_SurchargeIgnoredWhenClientDisabled(t *testing.T) {
	svc, _ := newTestService("2025-01-10")
	in := standardInput("Acme", billing.FrequencyWeekly, "2025-03-03")
	in.SurchargeEnabled = false
	c := mustCreateClient(t, svc, in)

	draft := regularDraft("2025-03-10", 1, 1)
	draft.Usage.SurchargeInvoked = true
	res, err := svc.CreatePeriod(context.Background(), c.ID, draft)
	require.NoError(t, err)
	assert.False(t, res.Transaction.Usage.SurchargeInvoked)
	assert.Equal(t, "100.00", res.Transaction.Cost.StringFixed(2))
}

func TestCreatePeriod_TerminatedClientRefused(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService("2025-01-10")
	c := mustCreateClient(t, svc, standardInput("Acme", billing.FrequencyWeekly, "2025-03-03"))
	_, err := svc.Terminate(ctx, c.ID)
	require.NoError(t, err)

	_, err = svc.CreatePeriod(ctx, c.ID, regularDraft("2025-03-10", 1, 1))
	assert.ErrorIs(t, err, billing.ErrClientTerminated)
}

func TestCreatePeriod_UnknownClient(t *testing.T) {
	svc, _ := newTestService("2025-01-10")
	_, err := svc.CreatePeriod(context.Background(), 42, regularDraft("2025-03-10", 1, 1))
	assert.True(t, billing.IsNotFound(err))
}

// Cost comes from the snapshot, never from the client's live fees.
func TestCreatePeriod_SnapshotSurvivesFeeChange(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService("2025-01-10")
	in := standardInput("Acme", billing.FrequencyMonthly, "2025-03-01")
	c := mustCreateClient(t, svc, in)

	res, err := svc.CreatePeriod(ctx, c.ID, regularDraft("2025-04-01", 3, 8))
	require.NoError(t, err)

	in.Schedule.PayStartDate = d("2025-04-01")
	in.Rates.BaseFee = money("500")
	_, err = svc.UpdateClient(ctx, c.ID, in)
	require.NoError(t, err)

	tx, err := svc.GetTransaction(ctx, res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, "100", tx.Snapshot.BaseFee.String())
	assert.Equal(t, "155.00", tx.Cost.StringFixed(2))
}

func TestEditPeriod_RecomputesFromOverriddenSnapshot(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService("2025-01-10")
	c := mustCreateClient(t, svc, standardInput("Acme", billing.FrequencySemiMonthly, "2025-03-01"))
	res, err := svc.CreatePeriod(ctx, c.ID, regularDraft("2025-03-15", 3, 8))
	require.NoError(t, err)

	_, err = svc.UpdateCollectionFields(ctx, c.ID, []billing.CollectionEdit{
		{TransactionID: res.Transaction.ID, Collected: money("50")},
	})
	require.NoError(t, err)

	// WHEN: base fee is overridden to 80 and usage corrected to 2 states
	edited, err := svc.EditPeriod(ctx, res.Transaction.ID, billing.PeriodEdit{
		ProcessingDate: d("2025-03-17"),
		Usage:          billing.Usage{StatesProcessed: 2, EmployeesProcessed: 8},
		Pricing: &billing.PricingOverride{
			BaseFee: money("80"), AddStateFee: money("20"), AddEmployeeFee: money("5"),
			StatesInBase: 1, EmployeesInBase: 5,
		},
	})
	require.NoError(t, err)

	// THEN: 80 + 20 + 15, net keeps the collected amount
	assert.Equal(t, "115.00", edited.Cost.StringFixed(2))
	assert.Equal(t, "65.00", edited.NetAmount.StringFixed(2))
	assert.Equal(t, billing.PeriodRegular, edited.PeriodType)
	assert.Equal(t, d("2025-03-15"), edited.Period.End)
	assert.Equal(t, d("2025-03-17"), edited.ProcessingDate)
}

func TestEditPeriod_InvalidOverrideRejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService("2025-01-10")
	c := mustCreateClient(t, svc, standardInput("Acme", billing.FrequencyWeekly, "2025-03-03"))
	res, err := svc.CreatePeriod(ctx, c.ID, regularDraft("2025-03-10", 1, 1))
	require.NoError(t, err)

	_, err = svc.EditPeriod(ctx, res.Transaction.ID, billing.PeriodEdit{
		ProcessingDate: d("2025-03-10"),
		Usage:          billing.Usage{StatesProcessed: 1, EmployeesProcessed: 1},
		Pricing:        &billing.PricingOverride{BaseFee: money("0"), AddStateFee: money("1"), AddEmployeeFee: money("1"), StatesInBase: -1},
	})
	require.Error(t, err)
	msgs := billing.Messages(err)
	assert.Contains(t, msgs, "Base fee must be a number > 0.")
	assert.Contains(t, msgs, "Number of states in base fee must be a number >= 0.")

	tx, _ := svc.GetTransaction(ctx, res.Transaction.ID)
	assert.Equal(t, "100.00", tx.Cost.StringFixed(2))
}

func TestSkipPeriod_ShiftsWholeSchedule(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService("2025-01-10")
	in := standardInput("Acme", billing.FrequencyBiweekly, "2025-03-03")
	in.Schedule.ProcessingDate = d("2025-03-17")
	in.Schedule.PayDate = d("2025-03-19")
	c := mustCreateClient(t, svc, in)

	sched, err := svc.SkipPeriod(ctx, c.ID)
	require.NoError(t, err)

	assert.Equal(t, d("2025-03-17"), sched.PayStartDate)
	assert.Equal(t, d("2025-03-31"), sched.ProcessingDate)
	assert.Equal(t, d("2025-04-02"), sched.PayDate)
	txs, _ := mem.ListTransactions(ctx, c.ID)
	assert.Empty(t, txs)
}

func TestPreviewRegularPeriod(t *testing.T) {
	svc, _ := newTestService("2025-01-10")
	c := mustCreateClient(t, svc, standardInput("Acme", billing.FrequencyMonthly, "2025-02-01"))

	p, err := svc.PreviewRegularPeriod(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, d("2025-02-28"), p.Period.End)
	assert.Equal(t, d("2025-03-01"), p.NextStart)
}

// The store rolls back the transaction insert when the schedule update fails.
func TestCreatePeriod_RollbackOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService("2025-01-10")
	c := mustCreateClient(t, svc, standardInput("Acme", billing.FrequencyWeekly, "2025-03-03"))

	svc.Store = &failingScheduleStore{TxStore: mem}
	_, err := svc.CreatePeriod(ctx, c.ID, regularDraft("2025-03-10", 1, 1))
	require.Error(t, err)

	txs, _ := mem.ListTransactions(ctx, c.ID)
	assert.Empty(t, txs)
	stored, _ := mem.GetClient(ctx, c.ID)
	assert.Equal(t, d("2025-03-03"), stored.Schedule.PayStartDate)
}

type failingScheduleStore struct {
	billing.TxStore
}

func (f *failingScheduleStore) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	return f.TxStore.WithTx(ctx, func(st billing.Store) error {
		return fn(&failingScheduleView{Store: st})
	})
}

type failingScheduleView struct {
	billing.Store
}

func (failingScheduleView) UpdateClientSchedule(context.Context, billing.ClientID, billing.Schedule) error {
	return assert.AnError
}
