package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-ledger/billing"
)

func TestLoadScenario_All(t *testing.T) {
	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			_, srv := setupTestServer(t)

			rec := do(t, srv, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": s.ID})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			rec = do(t, srv, http.MethodGet, "/api/scenarios/current", nil)
			assert.Equal(t, s.ID, decodeBody[ScenarioDTO](t, rec).ID)

			rec = do(t, srv, http.MethodGet, "/api/users", nil)
			assert.Len(t, decodeBody[[]UserDTO](t, rec), 1)
		})
	}
}

func TestLoadScenario_ReplacesPreviousData(t *testing.T) {
	_, srv := setupTestServer(t)

	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/scenarios/load",
		map[string]string{"scenario_id": "mixed-frequencies"}).Code)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/scenarios/load",
		map[string]string{"scenario_id": "single-client"}).Code)

	rec := do(t, srv, http.MethodGet, "/api/clients", nil)
	clients := decodeBody[[]ClientDTO](t, rec)
	require.Len(t, clients, 1)
	assert.Equal(t, "Acme Payroll", clients[0].Name)

	rec = do(t, srv, http.MethodGet, clientPath(clients[0].ID, "/periods"), nil)
	assert.Len(t, decodeBody[[]TransactionDTO](t, rec), 3)
}

func TestLoadScenario_Unknown(t *testing.T) {
	_, srv := setupTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/scenarios/load", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"scenario_id is required."}, decodeBody[ErrorResponse](t, rec).Errors)
}

func TestRolloverDueScenario_PromotesFees(t *testing.T) {
	h, srv := setupTestServer(t)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/scenarios/load",
		map[string]string{"scenario_id": "rollover-due"}).Code)

	res, err := h.Service.RunRollover(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Clients, 1)

	c, err := h.Service.GetClient(context.Background(), res.Clients[0])
	require.NoError(t, err)
	assert.Equal(t, "105.00", c.Fees.Rates.BaseFee.StringFixed(billing.MoneyPlaces))
	assert.True(t, c.Fees.Escalation.EffectiveDate.After(testToday))
}

func TestOutstandingBalanceScenario(t *testing.T) {
	h, srv := setupTestServer(t)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/scenarios/load",
		map[string]string{"scenario_id": "outstanding-balance"}).Code)

	rec := do(t, srv, http.MethodGet, "/api/reports/receivables", nil)
	byName := map[string]string{}
	for _, row := range decodeBody[[]TotalsDTO](t, rec) {
		byName[row.ClientName] = row.Net
	}
	assert.Equal(t, "-20.00", byName["Harbor Cafe"])

	clients, err := h.Service.ListClients(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "Iris Studio", clients[0].Name)
}

func TestResetDatabase(t *testing.T) {
	_, srv := setupTestServer(t)
	createAcme(t, srv)

	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/scenarios/reset", nil).Code)

	rec := do(t, srv, http.MethodGet, "/api/clients", nil)
	assert.Empty(t, decodeBody[[]ClientDTO](t, rec))
}

func TestScenarios_NoResetter(t *testing.T) {
	h, _ := setupTestServer(t)
	h.Resetter = nil
	srv := NewRouter(h, RouterOptions{})

	rec := do(t, srv, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "single-client"})
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
