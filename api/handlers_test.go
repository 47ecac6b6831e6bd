/*
handlers_test.go - HTTP tests for the billing API

Tests run the full router against an in-memory SQLite store with a fixed
clock (2025-06-15).
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-ledger/billing"
	"github.com/warp/billing-ledger/store/sqlite"
)

var testToday = billing.MustParseDate("2025-06-15")

func setupTestServer(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := billing.NewService(store, billing.FixedClock(testToday))
	h := NewHandler(svc, store)
	return h, NewRouter(h, RouterOptions{})
}

func do(t *testing.T, srv http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func acmeRequest() map[string]any {
	return map[string]any{
		"name":               "Acme",
		"frequency":          "semi-monthly",
		"pay_start_date":     "2025-03-01",
		"rates":              map[string]any{"base_fee": 100, "add_state_fee": 20, "add_employee_fee": 5},
		"states_in_base":     1,
		"employees_in_base":  5,
		"escalation_mode":    "percent",
		"escalation_percent": 5,
	}
}

func createAcme(t *testing.T, srv http.Handler) ClientDTO {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/clients", acmeRequest())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[ClientDTO](t, rec)
}

func billFirstPeriod(t *testing.T, srv http.Handler, id billing.ClientID) PeriodResultDTO {
	t.Helper()
	rec := do(t, srv, http.MethodPost, clientPath(id, "/periods"), map[string]any{
		"period_type":     "regular",
		"processing_date": "2025-03-15",
		"pay_date":        "2025-03-20",
		"usage":           map[string]any{"states_processed": 3, "employees_processed": 8},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[PeriodResultDTO](t, rec)
}

func clientPath(id billing.ClientID, suffix string) string {
	return "/api/clients/" + strconv.FormatInt(int64(id), 10) + suffix
}

// =============================================================================
// CLIENTS AND PERIODS
// =============================================================================

func TestCreateClient_AndGet(t *testing.T) {
	_, srv := setupTestServer(t)
	c := createAcme(t, srv)

	assert.Equal(t, "Acme", c.Name)
	assert.Equal(t, billing.FrequencySemiMonthly, c.Frequency)
	assert.Equal(t, "105.00", c.FutureRates.BaseFee)
	assert.Equal(t, billing.MustParseDate("2026-03-01"), c.EffectiveDate)

	rec := do(t, srv, http.MethodGet, clientPath(c.ID, ""), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, c.ID, decodeBody[ClientDTO](t, rec).ID)
}

func TestCreateClient_ValidationListsEveryMessage(t *testing.T) {
	_, srv := setupTestServer(t)
	req := acmeRequest()
	req["name"] = ""
	req["pay_start_date"] = "2025-03-02"

	rec := do(t, srv, http.MethodPost, "/api/clients", req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Contains(t, resp.Errors, "Client Name is required.")
	assert.Len(t, resp.Errors, 2)
}

func TestGetClient_NotFoundAndBadID(t *testing.T) {
	_, srv := setupTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/clients/42", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/clients/abc", nil).Code)
}

func TestCreatePeriod_PricesFromSnapshot(t *testing.T) {
	_, srv := setupTestServer(t)
	c := createAcme(t, srv)

	res := billFirstPeriod(t, srv, c.ID)

	assert.Equal(t, "155.00", res.Transaction.Cost)
	assert.Equal(t, "155.00", res.Transaction.NetAmount)
	assert.Equal(t, billing.MustParseDate("2025-03-15"), res.Transaction.End)
	require.NotNil(t, res.NextSchedule)
	assert.Equal(t, billing.MustParseDate("2025-03-16"), res.NextSchedule.PayStartDate)

	rec := do(t, srv, http.MethodGet, clientPath(c.ID, "/periods/preview"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	preview := decodeBody[PreviewDTO](t, rec)
	assert.Equal(t, billing.MustParseDate("2025-03-31"), preview.End)
}

func TestCreatePeriod_ShapeErrors(t *testing.T) {
	_, srv := setupTestServer(t)
	c := createAcme(t, srv)

	rec := do(t, srv, http.MethodPost, clientPath(c.ID, "/periods"), map[string]any{"period_type": "bonus"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, []string{"period_type must be one of: regular, additional."}, resp.Errors)
}

func TestEditTransaction_Reprices(t *testing.T) {
	_, srv := setupTestServer(t)
	c := createAcme(t, srv)
	res := billFirstPeriod(t, srv, c.ID)

	rec := do(t, srv, http.MethodPut, "/api/transactions/"+strconv.FormatInt(int64(res.Transaction.ID), 10), map[string]any{
		"processing_date": "2025-03-15",
		"usage":           map[string]any{"states_processed": 1, "employees_processed": 5},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "100.00", decodeBody[TransactionDTO](t, rec).Cost)
}

// =============================================================================
// TERMINATION AND COLLECTIONS
// =============================================================================

func TestTerminate_ConflictUntilCollected(t *testing.T) {
	_, srv := setupTestServer(t)
	c := createAcme(t, srv)
	res := billFirstPeriod(t, srv, c.ID)

	// GIVEN: 155.00 owed
	rec := do(t, srv, http.MethodPost, clientPath(c.ID, "/terminate"), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, rec).Details, "$155.00")

	// WHEN: a batch with one malformed date is submitted
	rec = do(t, srv, http.MethodPut, clientPath(c.ID, "/collections"), []map[string]any{
		{"transaction_id": res.Transaction.ID, "collected": "155.00", "date": "03/20/2025"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// THEN: nothing was written
	rec = do(t, srv, http.MethodGet, clientPath(c.ID, "/balance"), nil)
	assert.Equal(t, "155.00", decodeBody[BalanceDTO](t, rec).NetAmount)

	// WHEN: the full amount is collected
	rec = do(t, srv, http.MethodPut, clientPath(c.ID, "/collections"), []map[string]any{
		{"transaction_id": res.Transaction.ID, "collected": "155.00", "description": "ACH", "date": "2025-03-20"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rows := decodeBody[[]CollectionRowDTO](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, "0.00", rows[0].NetAmount)

	// THEN: termination succeeds and the client moves to the archive
	rec = do(t, srv, http.MethodPost, clientPath(c.ID, "/terminate"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodGet, "/api/clients?terminated=true", nil)
	assert.Len(t, decodeBody[[]ClientDTO](t, rec), 1)
}

func TestReactivate_RequiresFutureDate(t *testing.T) {
	h, srv := setupTestServer(t)
	c := createAcme(t, srv)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, clientPath(c.ID, "/terminate"), nil).Code)

	// GIVEN: the escalation date has passed
	h.Service.Clock = billing.FixedClock(billing.MustParseDate("2026-04-01"))

	rec := do(t, srv, http.MethodPost, clientPath(c.ID, "/reactivate"), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, srv, http.MethodPost, clientPath(c.ID, "/reactivate"), map[string]any{"effective_date": "2026-05-01"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[ClientDTO](t, rec)
	assert.False(t, got.Terminated)
	assert.Equal(t, billing.MustParseDate("2026-05-01"), got.EffectiveDate)
}

func TestReactivate_ChunkedBody(t *testing.T) {
	_, srv := setupTestServer(t)
	c := createAcme(t, srv)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, clientPath(c.ID, "/terminate"), nil).Code)

	// GIVEN: an empty body without a Content-Length
	req := httptest.NewRequest(http.MethodPost, clientPath(c.ID, "/reactivate"), io.NopCloser(strings.NewReader("")))
	require.Equal(t, int64(-1), req.ContentLength)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	// THEN: it counts as no body
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decodeBody[ClientDTO](t, rec).Terminated)
}

// =============================================================================
// REPORTS
// =============================================================================

func TestReports_IgnoreCallerCancellation(t *testing.T) {
	_, srv := setupTestServer(t)
	c := createAcme(t, srv)
	billFirstPeriod(t, srv, c.ID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, path := range []string{
		"/api/reports/receivables",
		"/api/reports/collections?from=2025-03-01&to=2025-03-31",
		"/api/reports/fee-increases?when=future",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestReports(t *testing.T) {
	_, srv := setupTestServer(t)
	c := createAcme(t, srv)
	billFirstPeriod(t, srv, c.ID)

	rec := do(t, srv, http.MethodGet, "/api/reports/receivables", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	totals := decodeBody[[]TotalsDTO](t, rec)
	require.Len(t, totals, 1)
	assert.Equal(t, "155.00", totals[0].Net)

	rec = do(t, srv, http.MethodGet, "/api/reports/collections?from=2025-03-01&to=2025-03-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]TotalsDTO](t, rec), 1)

	rec = do(t, srv, http.MethodGet, "/api/reports/collections", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"Start date is required.", "End date is required."}, decodeBody[ErrorResponse](t, rec).Errors)

	rec = do(t, srv, http.MethodGet, "/api/reports/collections?from=yesterday&to=2025-03-31", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/reports/fee-increases?when=future", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decodeBody[[]FeeIncreaseDTO](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, "105.00", rows[0].Rates.BaseFee)

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/reports/fee-increases?when=soon", nil).Code)
}

// =============================================================================
// ADMIN AND USERS
// =============================================================================

func TestRollover_RunAndStatus(t *testing.T) {
	_, srv := setupTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/admin/rollover", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decodeBody[RolloverStatusDTO](t, rec).LastRun)

	rec = do(t, srv, http.MethodPost, "/api/admin/rollover", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[billing.RolloverResult](t, rec).Ran)

	rec = do(t, srv, http.MethodPost, "/api/admin/rollover", nil)
	assert.False(t, decodeBody[billing.RolloverResult](t, rec).Ran)

	rec = do(t, srv, http.MethodGet, "/api/admin/rollover", nil)
	status := decodeBody[RolloverStatusDTO](t, rec)
	require.NotNil(t, status.LastRun)
	assert.Equal(t, testToday, *status.LastRun)
}

type fakeQueue struct{ calls int }

func (q *fakeQueue) EnqueueRollover(ctx context.Context, trigger string) (*asynq.TaskInfo, error) {
	q.calls++
	return &asynq.TaskInfo{ID: "task-1", Queue: "default"}, nil
}

func TestRollover_AsyncEnqueues(t *testing.T) {
	h, srv := setupTestServer(t)
	q := &fakeQueue{}
	h.Queue = q

	rec := do(t, srv, http.MethodPost, "/api/admin/rollover?async=true", nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, q.calls)
	_, ok, _ := h.Service.LastRollover(context.Background())
	assert.False(t, ok)
}

func TestUsers_CreateUpdateDelete(t *testing.T) {
	_, srv := setupTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/users", map[string]any{
		"name": "Root", "role": "admin", "email": "root@example.com", "password": "long enough", "permanent": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	root := decodeBody[UserDTO](t, rec)

	rec = do(t, srv, http.MethodPut, "/api/users", []map[string]any{
		{"id": root.ID, "name": "", "role": "admin", "email": "root@example.com"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"Row 1: Name is required."}, decodeBody[ErrorResponse](t, rec).Errors)

	rec = do(t, srv, http.MethodDelete, "/api/users/"+strconv.FormatInt(int64(root.ID), 10), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/users", nil)
	users := decodeBody[[]UserDTO](t, rec)
	require.Len(t, users, 1)
	assert.Equal(t, "Root", users[0].Name)
}

func TestHealthz(t *testing.T) {
	_, srv := setupTestServer(t)
	rec := do(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
