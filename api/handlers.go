/*
handlers.go - HTTP API handlers for the church treasury

PURPOSE:
  Exposes the treasury services via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the ledger, report and closing
  services. Handlers never touch the store directly except for /healthz.

ENDPOINTS:
  Churches:
    GET    /api/churches                    List visible churches
    POST   /api/churches                    Register a church (admin)

  Funds:
    GET    /api/funds                       List funds (?inactive=true)
    POST   /api/funds                       Create fund (admin)
    GET    /api/funds/{id}                  Fund details
    DELETE /api/funds/{id}                  Delete an unused fund (admin)
    POST   /api/funds/{id}/deactivate       Deactivate fund (admin)
    POST   /api/funds/{id}/reconcile        Rebuild balance from rows (admin)
    GET    /api/funds/{id}/ledger           Running-balance view (?from=&to=, both days included)
    GET    /api/funds/{id}/ledger.xlsx      Same view as a workbook

  Transactions:
    GET    /api/transactions                List (?fund_id=&church_id=&report_id=&from=&to=&year=&month=)
                                            from/to are dates, both days included
    POST   /api/transactions                Create
    POST   /api/transactions/bulk           Create many, per-item errors
    GET    /api/transactions/{id}           Get
    PUT    /api/transactions/{id}           Patch
    DELETE /api/transactions/{id}           Delete

  Reports and monthly ledgers: see reports.go

REQUEST FLOW:
  1. Read the caller identity put in the context by the auth middleware
  2. Decode and shape-check the body (validator tags)
  3. Call the service; it checks rights before business rules
  4. Serialize response, or map the error kind to a status

ERROR HANDLING:
  - 400: treasury validation errors, malformed bodies
  - 401: missing or invalid token (middleware)
  - 403: authorization errors
  - 404: not found
  - 409: conflicts (duplicate fund name, report period, ledger month)
  - 500: everything else; details are logged, never returned

SEE ALSO:
  - dto.go: Request/response data structures
  - reports.go: Report and monthly ledger handlers
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/church-treasury/auth"
	"github.com/warp/church-treasury/closing"
	"github.com/warp/church-treasury/export"
	"github.com/warp/church-treasury/ledger"
	"github.com/warp/church-treasury/report"
	"github.com/warp/church-treasury/treasury"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Churches     *report.Churches
	Funds        *ledger.Funds
	Transactions *ledger.Transactions
	Reports      *report.Service
	Closing      *closing.Service
	Store        Pinger

	logger   *zap.Logger
	validate *validator.Validate
}

// NewHandler creates a handler. Validation errors name fields by their JSON tag.
func NewHandler(churches *report.Churches, funds *ledger.Funds, txs *ledger.Transactions,
	reports *report.Service, closings *closing.Service, store Pinger, logger *zap.Logger) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		Churches:     churches,
		Funds:        funds,
		Transactions: txs,
		Reports:      reports,
		Closing:      closings,
		Store:        store,
		logger:       logger,
		validate:     v,
	}
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// CHURCH HANDLERS
// =============================================================================

func (h *Handler) ListChurches(w http.ResponseWriter, r *http.Request) {
	churches, err := h.Churches.List(r.Context(), caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]ChurchDTO, len(churches))
	for i, c := range churches {
		dtos[i] = toChurchDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateChurch(w http.ResponseWriter, r *http.Request) {
	var req CreateChurchRequest
	if !h.decode(w, r, &req) {
		return
	}
	church, err := h.Churches.Create(r.Context(), caller(r), report.ChurchInput{
		ID:         treasury.ChurchID(req.ID),
		Name:       req.Name,
		City:       req.City,
		PastorName: req.PastorName,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChurchDTO(*church))
}

// =============================================================================
// FUND HANDLERS
// =============================================================================

func (h *Handler) ListFunds(w http.ResponseWriter, r *http.Request) {
	inactive, _ := strconv.ParseBool(r.URL.Query().Get("inactive"))
	funds, err := h.Funds.List(r.Context(), inactive)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]FundDTO, len(funds))
	for i, f := range funds {
		dtos[i] = toFundDTO(f)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateFund(w http.ResponseWriter, r *http.Request) {
	var req CreateFundRequest
	if !h.decode(w, r, &req) {
		return
	}
	fund, err := h.Funds.Create(r.Context(), caller(r), ledger.CreateFundInput{
		Name:        req.Name,
		Type:        treasury.FundType(req.Type),
		Description: req.Description,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFundDTO(*fund))
}

func (h *Handler) GetFund(w http.ResponseWriter, r *http.Request) {
	fund, err := h.Funds.Get(r.Context(), treasury.FundID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFundDTO(*fund))
}

func (h *Handler) DeleteFund(w http.ResponseWriter, r *http.Request) {
	if err := h.Funds.Delete(r.Context(), caller(r), treasury.FundID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeactivateFund(w http.ResponseWriter, r *http.Request) {
	fund, err := h.Funds.Deactivate(r.Context(), caller(r), treasury.FundID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFundDTO(*fund))
}

// ReconcileFund rebuilds a fund's stored balance from its rows.
func (h *Handler) ReconcileFund(w http.ResponseWriter, r *http.Request) {
	if err := caller(r).RequireAdmin(); err != nil {
		h.fail(w, r, err)
		return
	}
	id := treasury.FundID(chi.URLParam(r, "id"))
	if _, err := h.Funds.Get(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.Funds.Reconcile(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconcileDTO(result))
}

func (h *Handler) FundLedger(w http.ResponseWriter, r *http.Request) {
	view, ok := h.ledgerView(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toLedgerViewDTO(view))
}

// FundLedgerXLSX streams the ledger view as an Excel workbook.
func (h *Handler) FundLedgerXLSX(w http.ResponseWriter, r *http.Request) {
	view, ok := h.ledgerView(w, r)
	if !ok {
		return
	}
	wb, err := export.LedgerWorkbook(view)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer wb.Close()

	filename := fmt.Sprintf("libro-%s.xlsx", view.Fund.ID)
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if err := wb.Write(w); err != nil {
		h.logger.Error("write workbook", zap.String("fund_id", string(view.Fund.ID)), zap.Error(err))
	}
}

func (h *Handler) ledgerView(w http.ResponseWriter, r *http.Request) (*ledger.View, bool) {
	q := r.URL.Query()
	from, err := optionalDate("from", q.Get("from"))
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	to, err := throughDate(q.Get("to"))
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	view, err := h.Transactions.LedgerView(r.Context(), caller(r), treasury.FundID(chi.URLParam(r, "id")), from, to)
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return view, true
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.ListFilter{
		FundID:   treasury.FundID(q.Get("fund_id")),
		ChurchID: treasury.ChurchID(q.Get("church_id")),
		ReportID: treasury.ReportID(q.Get("report_id")),
	}
	var err error
	if filter.From, err = optionalDate("from", q.Get("from")); err != nil {
		h.fail(w, r, err)
		return
	}
	if filter.To, err = throughDate(q.Get("to")); err != nil {
		h.fail(w, r, err)
		return
	}
	if q.Get("year") != "" || q.Get("month") != "" {
		year, err := queryInt(q.Get("year"), "year")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		month, err := queryInt(q.Get("month"), "month")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		p := treasury.NewPeriod(year, month)
		filter.Period = &p
	}

	txs, err := h.Transactions.List(r.Context(), caller(r), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := h.Transactions.Create(r.Context(), caller(r), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(*tx))
}

// BulkCreateTransactions creates each item independently. The response is
// 200 even when some items fail; Success tells whether all of them passed.
func (h *Handler) BulkCreateTransactions(w http.ResponseWriter, r *http.Request) {
	var req BulkTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	inputs := make([]ledger.CreateInput, len(req.Items))
	for i, item := range req.Items {
		inputs[i] = item.input()
	}
	result, err := h.Transactions.BulkCreate(r.Context(), caller(r), inputs)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := BulkResultDTO{
		Success: result.Success,
		Created: toTransactionDTOs(result.Created),
		Errors:  make([]BulkErrorDTO, len(result.Errors)),
	}
	for i, e := range result.Errors {
		resp.Errors[i] = BulkErrorDTO{Index: e.Index, Input: req.Items[e.Index], Error: e.Message}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Transactions.Get(r.Context(), caller(r), treasury.TransactionID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req UpdateTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := h.Transactions.Update(r.Context(), caller(r), treasury.TransactionID(chi.URLParam(r, "id")), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := h.Transactions.Delete(r.Context(), caller(r), treasury.TransactionID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

// caller returns the identity set by the auth middleware. Routes are only
// reachable through that middleware, so a missing identity is the zero
// value, which fails every role check.
func caller(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

// decode reads a JSON body into dst and runs its validator tags. On failure
// it writes a 400 and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "Cuerpo de la solicitud inválido", Kind: treasury.KindValidation.String()})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			field := fe.Field()
			writeError(w, http.StatusBadRequest, ErrorResponse{
				Error: fmt.Sprintf("Valor inválido para %s (%s)", field, fe.Tag()),
				Kind:  treasury.KindValidation.String(),
				Field: field,
			})
			return false
		}
		h.fail(w, r, err)
		return false
	}
	return true
}

// fail maps a service error to a status. Client errors carry their
// message; anything else is logged and hidden behind a generic one.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var te *treasury.Error
	if errors.As(err, &te) {
		writeError(w, statusFor(te.Kind), ErrorResponse{Error: te.Message, Kind: te.Kind.String(), Field: te.Field})
		return
	}
	h.logger.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "Error interno del servidor"})
}

func statusFor(kind treasury.Kind) int {
	switch kind {
	case treasury.KindNotFound:
		return http.StatusNotFound
	case treasury.KindValidation:
		return http.StatusBadRequest
	case treasury.KindAuthorization:
		return http.StatusForbidden
	case treasury.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	writeJSON(w, status, resp)
}

func optionalDate(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := treasury.ParseDate(field, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// throughDate parses the "to" query value. The day it names is included,
// so the returned bound is the start of the following day.
func throughDate(s string) (*time.Time, error) {
	t, err := optionalDate("to", s)
	if err != nil || t == nil {
		return t, err
	}
	next := t.AddDate(0, 0, 1)
	return &next, nil
}

func queryInt(s, field string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, treasury.Validation(field, "%s debe ser un número entero", field)
	}
	return n, nil
}
