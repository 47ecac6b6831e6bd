/*
handlers.go - HTTP API handlers for the billing ledger

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every rule to billing.Service.

ENDPOINTS:
  Clients:
    GET    /api/clients                     List (terminated=true for the archive)
    POST   /api/clients                     Create
    GET    /api/clients/{id}                Get
    PUT    /api/clients/{id}                Edit
    POST   /api/clients/{id}/terminate      Terminate (409 with balance)
    POST   /api/clients/{id}/reactivate     Reactivate (409 asks for a new date)
    PUT    /api/clients/{id}/user           Assign operator

  Periods:
    GET    /api/clients/{id}/periods         History, newest first
    GET    /api/clients/{id}/periods/preview Next regular period
    POST   /api/clients/{id}/periods         Bill a period
    POST   /api/clients/{id}/skip            Skip the next regular period
    GET    /api/transactions/{id}            Get
    PUT    /api/transactions/{id}            Edit

  Receivables:
    GET    /api/clients/{id}/balance         Net receivable
    GET    /api/clients/{id}/collections     Collection rows
    PUT    /api/clients/{id}/collections     Batch collection edit
    GET    /api/reports/receivables          Per-client totals
    GET    /api/reports/collections          Totals by processing range
    GET    /api/reports/fee-increases        Past or future escalations

  Admin:
    POST   /api/admin/rollover               Run (or enqueue) the fee rollover
    GET    /api/admin/rollover               Last rollover date

ERROR HANDLING:
  Errors are returned as ErrorResponse with:
  - 400: Validation errors (every message in "errors"), malformed input
  - 404: Client, transaction or user not found
  - 409: Business-rule denial (balance owed, stale escalation date,
         terminated client, permanent user)
  - 503: No rollover marker configured, queue unavailable
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo data loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/singleflight"

	"github.com/warp/billing-ledger/billing"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter wipes a store for demo scenarios.
type Resetter interface {
	Reset(ctx context.Context) error
}

// RolloverQueue hands the rollover to a background worker.
type RolloverQueue interface {
	EnqueueRollover(ctx context.Context, trigger string) (*asynq.TaskInfo, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service   *billing.Service
	Resetter  Resetter
	Scheduler *RolloverScheduler
	Queue     RolloverQueue
	Logger    *slog.Logger

	// Concurrent identical report requests share one store read.
	reports singleflight.Group

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. resetter may be nil when scenarios are not
// offered.
func NewHandler(svc *billing.Service, resetter Resetter) *Handler {
	return &Handler{Service: svc, Resetter: resetter, Logger: slog.Default()}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

// ListClients returns active clients, or terminated ones with ?terminated=true.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	terminated, _ := strconv.ParseBool(r.URL.Query().Get("terminated"))
	clients, err := h.Service.ListClients(r.Context(), terminated)
	if err != nil {
		h.writeServiceError(w, "Failed to list clients", err)
		return
	}
	dtos := make([]ClientDTO, len(clients))
	for i, c := range clients {
		dtos[i] = toClientDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id, ok := clientIDParam(w, r)
	if !ok {
		return
	}
	c, err := h.Service.GetClient(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Failed to get client", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(*c))
}

func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req ClientRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Service.CreateClient(r.Context(), req.input())
	if err != nil {
		h.writeServiceError(w, "Failed to create client", err)
		return
	}
	writeJSON(w, http.StatusCreated, toClientDTO(*c))
}

func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	id, ok := clientIDParam(w, r)
	if !ok {
		return
	}
	var req ClientRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Service.UpdateClient(r.Context(), id, req.input())
	if err != nil {
		h.writeServiceError(w, "Failed to update client", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(*c))
}

func (req ClientRequest) input() billing.ClientInput {
	freq := billing.Frequency(req.Frequency)
	if parsed, err := billing.ParseFrequency(req.Frequency); err == nil {
		freq = parsed
	}
	return billing.ClientInput{
		Name:      req.Name,
		Frequency: freq,
		Schedule: billing.Schedule{
			PayStartDate:   req.PayStartDate,
			ProcessingDate: req.ProcessingDate,
			PayDate:        req.PayDate,
		},
		Rates:             req.Rates.rates(),
		StatesInBase:      req.StatesInBase,
		EmployeesInBase:   req.EmployeesInBase,
		SurchargeEnabled:  req.SurchargeEnabled,
		SurchargeFee:      req.SurchargeFee,
		EscalationMode:    billing.EscalationMode(req.EscalationMode),
		EscalationPercent: req.EscalationPercent,
		ManualFuture:      req.FutureRates.rates(),
		EffectiveDate:     req.EffectiveDate,
		AssignedUserID:    req.AssignedUserID,
	}
}

// TerminateClient answers 409 with the formatted balance when money is owed.
func (h *Handler) TerminateClient(w http.ResponseWriter, r *http.Request) {
	id, ok := clientIDParam(w, r)
	if !ok {
		return
	}
	c, err := h.Service.Terminate(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Client cannot be terminated", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(*c))
}

// ReactivateClient accepts an optional corrected escalation date.
func (h *Handler) ReactivateClient(w http.ResponseWriter, r *http.Request) {
	id, ok := clientIDParam(w, r)
	if !ok {
		return
	}
	var req ReactivateRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	c, err := h.Service.Reactivate(r.Context(), id, req.EffectiveDate)
	if err != nil {
		h.writeServiceError(w, "Client cannot be reactivated", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(*c))
}

func (h *Handler) AssignClientUser(w http.ResponseWriter, r *http.Request) {
	id, ok := clientIDParam(w, r)
	if !ok {
		return
	}
	var req AssignUserRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.Service.AssignUser(r.Context(), id, req.UserID); err != nil {
		h.writeServiceError(w, "Failed to assign user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PERIOD HANDLERS
// =============================================================================

func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	id, ok := clientIDParam(w, r)
	if !ok {
		return
	}
	txs, err := h.Service.ListTransactions(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Failed to list periods", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

func (h *Handler) PreviewPeriod(w http.ResponseWriter, r *http.Request) {
	id, ok := clientIDParam(w, r)
	if !ok {
		return
	}
	p, err := h.Service.PreviewRegularPeriod(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Failed to preview period", err)
		return
	}
	writeJSON(w, http.StatusOK, PreviewDTO{
		Frequency: p.Frequency,
		Start:     p.Period.Start,
		End:       p.Period.End,
		NextStart: p.NextStart,
		Schedule:  p.Schedule,
	})
}

func (h *Handler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	id, ok := clientIDParam(w, r)
	if !ok {
		return
	}
	var req PeriodRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Service.CreatePeriod(r.Context(), id, billing.PeriodDraft{
		PeriodType:     billing.PeriodType(req.PeriodType),
		Start:          req.Start,
		End:            req.End,
		ProcessingDate: req.ProcessingDate,
		PayDate:        req.PayDate,
		Usage:          req.Usage,
	})
	if err != nil {
		h.writeServiceError(w, "Failed to create period", err)
		return
	}
	writeJSON(w, http.StatusCreated, PeriodResultDTO{
		Transaction:  toTransactionDTO(res.Transaction),
		NextSchedule: res.NextSchedule,
	})
}

func (h *Handler) SkipPeriod(w http.ResponseWriter, r *http.Request) {
	id, ok := clientIDParam(w, r)
	if !ok {
		return
	}
	sched, err := h.Service.SkipPeriod(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Failed to skip period", err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "Invalid transaction id")
	if !ok {
		return
	}
	tx, err := h.Service.GetTransaction(r.Context(), billing.TransactionID(id))
	if err != nil {
		h.writeServiceError(w, "Failed to get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// EditTransaction re-validates and re-prices a billed period.
func (h *Handler) EditTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "Invalid transaction id")
	if !ok {
		return
	}
	var req PeriodEditRequest
	if !decode(w, r, &req) {
		return
	}
	edit := billing.PeriodEdit{
		Start:          req.Start,
		End:            req.End,
		ProcessingDate: req.ProcessingDate,
		PayDate:        req.PayDate,
		Usage:          req.Usage,
	}
	if p := req.Pricing; p != nil {
		edit.Pricing = &billing.PricingOverride{
			BaseFee:         p.BaseFee,
			AddStateFee:     p.AddStateFee,
			AddEmployeeFee:  p.AddEmployeeFee,
			StatesInBase:    p.StatesInBase,
			EmployeesInBase: p.EmployeesInBase,
		}
	}
	tx, err := h.Service.EditPeriod(r.Context(), billing.TransactionID(id), edit)
	if err != nil {
		h.writeServiceError(w, "Failed to edit period", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// =============================================================================
// RECEIVABLES HANDLERS
// =============================================================================

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := clientIDParam(w, r)
	if !ok {
		return
	}
	net, err := h.Service.ClientNetAmount(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{ClientID: id, NetAmount: money(net)})
}

func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
	id, ok := clientIDParam(w, r)
	if !ok {
		return
	}
	txs, err := h.Service.ListTransactions(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Failed to list collections", err)
		return
	}
	writeJSON(w, http.StatusOK, toCollectionRows(txs))
}

func toCollectionRows(txs []billing.Transaction) []CollectionRowDTO {
	rows := make([]CollectionRowDTO, len(txs))
	for i, tx := range txs {
		rows[i] = CollectionRowDTO{
			TransactionID:  tx.ID,
			ProcessingDate: tx.ProcessingDate,
			Cost:           money(tx.Cost),
			Collected:      money(tx.Collection.Collected),
			Description:    tx.Collection.Description,
			Date:           tx.Collection.Date,
			NetAmount:      money(tx.NetAmount),
		}
	}
	return rows
}

// UpdateCollections applies a whole batch or nothing.
func (h *Handler) UpdateCollections(w http.ResponseWriter, r *http.Request) {
	id, ok := clientIDParam(w, r)
	if !ok {
		return
	}
	var req []CollectionEditRequest
	if !decode(w, r, &req) {
		return
	}
	edits := make([]billing.CollectionEdit, len(req))
	for i, e := range req {
		edits[i] = billing.CollectionEdit{
			TransactionID: e.TransactionID,
			Collected:     e.Collected,
			Description:   e.Description,
			Date:          e.Date,
		}
	}
	txs, err := h.Service.UpdateCollectionFields(r.Context(), id, edits)
	if err != nil {
		h.writeServiceError(w, "Failed to update collections", err)
		return
	}
	writeJSON(w, http.StatusOK, toCollectionRows(txs))
}

func (h *Handler) ReceivablesReport(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	v, err, _ := h.reports.Do("receivables", func() (any, error) {
		return h.Service.PaymentAggregates(ctx)
	})
	if err != nil {
		h.writeServiceError(w, "Failed to build receivables report", err)
		return
	}
	writeJSON(w, http.StatusOK, toTotalsDTOs(v.([]billing.ClientTotals)))
}

func (h *Handler) CollectionsReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var errs billing.ValidationErrors
	from := queryDate(&errs, q.Get("from"), "Start date")
	to := queryDate(&errs, q.Get("to"), "End date")
	if err := errs.Err(); err != nil {
		h.writeServiceError(w, "Invalid date range", err)
		return
	}

	key := fmt.Sprintf("collections:%s:%s", from, to)
	ctx := context.WithoutCancel(r.Context())
	v, err, _ := h.reports.Do(key, func() (any, error) {
		return h.Service.CollectionsOverview(ctx, from, to)
	})
	if err != nil {
		h.writeServiceError(w, "Failed to build collections report", err)
		return
	}
	writeJSON(w, http.StatusOK, toTotalsDTOs(v.([]billing.ClientTotals)))
}

func (h *Handler) FeeIncreaseReport(w http.ResponseWriter, r *http.Request) {
	when := billing.FeeIncreaseWhen(r.URL.Query().Get("when"))
	ctx := context.WithoutCancel(r.Context())
	v, err, _ := h.reports.Do("fee-increases:"+string(when), func() (any, error) {
		return h.Service.FeeIncreaseReport(ctx, when)
	})
	if err != nil {
		h.writeServiceError(w, "Failed to build fee increase report", err)
		return
	}
	rows := v.([]billing.FeeIncreaseRow)
	dtos := make([]FeeIncreaseDTO, len(rows))
	for i, row := range rows {
		dtos[i] = FeeIncreaseDTO{
			ClientID:      row.ClientID,
			ClientName:    row.ClientName,
			EffectiveDate: row.EffectiveDate,
			Rates:         toRatesDTO(row.Rates),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerRollover runs the rollover inline, or enqueues it for the worker
// with ?async=true when a queue is configured.
func (h *Handler) TriggerRollover(w http.ResponseWriter, r *http.Request) {
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async && h.Queue != nil {
		info, err := h.Queue.EnqueueRollover(r.Context(), "api")
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "Failed to enqueue rollover", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": info.ID, "queue": info.Queue})
		return
	}

	var (
		res *billing.RolloverResult
		err error
	)
	if h.Scheduler != nil {
		res, err = h.Scheduler.RunNow(r.Context())
	} else {
		res, err = h.Service.RunRollover(r.Context())
	}
	if err != nil {
		h.writeServiceError(w, "Rollover failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) GetRolloverStatus(w http.ResponseWriter, r *http.Request) {
	last, ok, err := h.Service.LastRollover(r.Context())
	if err != nil {
		h.writeServiceError(w, "Failed to read rollover status", err)
		return
	}
	var dto RolloverStatusDTO
	if ok {
		dto.LastRun = &last
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// USER HANDLERS
// =============================================================================

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.ListUsers(r.Context())
	if err != nil {
		h.writeServiceError(w, "Failed to list users", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTOs(users))
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := h.Service.CreateUser(r.Context(), req.input())
	if err != nil {
		h.writeServiceError(w, "Failed to create user", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(*u))
}

// UpdateUsers saves an edited user grid in one batch.
func (h *Handler) UpdateUsers(w http.ResponseWriter, r *http.Request) {
	var req []UserRequest
	if !decode(w, r, &req) {
		return
	}
	edits := make([]billing.UserInput, len(req))
	for i, u := range req {
		edits[i] = u.input()
	}
	users, err := h.Service.UpdateUsers(r.Context(), edits)
	if err != nil {
		h.writeServiceError(w, "Failed to update users", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTOs(users))
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "Invalid user id")
	if !ok {
		return
	}
	if err := h.Service.DeleteUser(r.Context(), billing.UserID(id)); err != nil {
		h.writeServiceError(w, "Failed to delete user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toUserDTOs(users []billing.User) []UserDTO {
	out := make([]UserDTO, len(users))
	for i, u := range users {
		out[i] = toUserDTO(u)
	}
	return out
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps engine errors onto HTTP status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, message string, err error) {
	switch {
	case billing.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Errors: billing.Messages(err)})
	case billing.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case billing.IsDenied(err):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, billing.ErrNoRolloverMarker):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		h.logger().Error(message, slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// decode reads a JSON body and checks its validator tags. It writes the
// 400 itself and reports false on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}

	var err error
	rv := reflect.Indirect(reflect.ValueOf(v))
	switch rv.Kind() {
	case reflect.Struct:
		err = validate.Struct(v)
	case reflect.Slice:
		err = validate.Var(rv.Interface(), "dive")
	}
	if err == nil {
		return true
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	var msgs billing.ValidationErrors
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			msgs.Add("%s is required.", fe.Field())
		case "oneof":
			msgs.Add("%s must be one of: %s.", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
		default:
			msgs.Add("%s is invalid.", fe.Field())
		}
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Errors: msgs})
	return false
}

// decodeOptional is decode for bodies that may be empty, including chunked
// requests without a Content-Length.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return decode(w, r, v)
}

func idParam(w http.ResponseWriter, r *http.Request, message string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, message, err)
		return 0, false
	}
	return id, true
}

func clientIDParam(w http.ResponseWriter, r *http.Request) (billing.ClientID, bool) {
	id, ok := idParam(w, r, "Invalid client id")
	return billing.ClientID(id), ok
}

// queryDate parses an optional YYYY-MM-DD query value; a missing value is
// left for the service to report.
func queryDate(errs *billing.ValidationErrors, s, label string) billing.Date {
	if s == "" {
		return billing.Date{}
	}
	d, err := billing.ParseDate(s)
	if err != nil {
		errs.Add("%s %q is not a valid date (use YYYY-MM-DD).", label, s)
	}
	return d
}
