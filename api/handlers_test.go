/*
handlers_test.go - HTTP tests for the API

Tests for:
- Authentication and the error kind -> status mapping
- Report create / submit / approve over HTTP
- Bulk transaction creation with per-item errors
- Ledger export and monthly ledger opening
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/warp/church-treasury/auth"
	"github.com/warp/church-treasury/closing"
	"github.com/warp/church-treasury/export"
	"github.com/warp/church-treasury/ledger"
	"github.com/warp/church-treasury/observability"
	"github.com/warp/church-treasury/report"
	"github.com/warp/church-treasury/store/sqlite"
	"github.com/warp/church-treasury/treasury"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	adminID     = auth.Identity{UserID: "u-admin", Role: auth.RoleAdmin}
	treasurerID = auth.Identity{UserID: "u-tes", Role: auth.RoleTreasurer, ChurchID: "c-1"}
	pastorID    = auth.Identity{UserID: "u-pas", Role: auth.RolePastor, ChurchID: "c-1"}
	outsiderID  = auth.Identity{UserID: "u-out", Role: auth.RoleTreasurer, ChurchID: "c-2"}
)

type testServer struct {
	router   *chi.Mux
	provider *auth.JWTProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	logger := zap.NewNop()
	m := observability.NewMetrics()
	funds := ledger.NewFunds(s, logger, m)
	txs := ledger.NewTransactions(s, logger, m)
	gen := report.NewGenerator(funds, txs, false, logger)
	churches := report.NewChurches(s)
	reports := report.NewService(s, gen, report.Config{}, logger, m)
	closings := closing.NewService(s, logger)

	for _, id := range []treasury.ChurchID{"c-1", "c-2"} {
		_, err := churches.Create(context.Background(), adminID, report.ChurchInput{ID: id, Name: "Iglesia " + string(id)})
		require.NoError(t, err)
	}

	h := NewHandler(churches, funds, txs, reports, closings, s, logger)
	provider := auth.NewJWTProvider("test-secret", "church-treasury", time.Hour)
	router := NewRouter(h, RouterOptions{
		Auth:        provider,
		Logger:      logger,
		Metrics:     m,
		CORSOrigins: []string{"*"},
	})
	return &testServer{router: router, provider: provider}
}

func (ts *testServer) token(t *testing.T, id auth.Identity) string {
	t.Helper()
	tok, err := ts.provider.Issue(id)
	require.NoError(t, err)
	return tok
}

// do sends body (marshalled unless it is already a string) as id. A zero
// identity sends no Authorization header.
func (ts *testServer) do(t *testing.T, id auth.Identity, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if id.UserID != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, id))
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (ts *testServer) createFund(t *testing.T, name string) FundDTO {
	t.Helper()
	rec := ts.do(t, adminID, http.MethodPost, "/api/funds", map[string]string{"name": name, "type": "general"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[FundDTO](t, rec)
}

func marchReportBody() map[string]any {
	return map[string]any{
		"church_id": "c-1",
		"year":      2025,
		"month":     3,
		"inputs":    map[string]any{"diezmos": "900000", "ofrendas": "100000"},
		"deposito":  map[string]any{"fecha": "2025-03-31", "monto": "100000", "foto": "deposito.jpg"},
	}
}

// =============================================================================
// AUTH AND ERROR MAPPING
// =============================================================================

func TestHealthAndMetricsNeedNoToken(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, auth.Identity{}, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, auth.Identity{}, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "treasury_http_request_duration_seconds")
}

func TestAPIRejectsMissingOrForeignToken(t *testing.T) {
	ts := newTestServer(t)

	// No token
	rec := ts.do(t, auth.Identity{}, http.MethodGet, "/api/funds", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Token signed with another secret
	other := auth.NewJWTProvider("other-secret", "church-treasury", time.Hour)
	tok, err := other.Issue(adminID)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/funds", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateFundStatusMapping(t *testing.T) {
	ts := newTestServer(t)

	// GIVEN: a treasurer is not allowed to create funds
	rec := ts.do(t, treasurerID, http.MethodPost, "/api/funds", map[string]string{"name": "Caja", "type": "general"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "authorization", decodeBody[ErrorResponse](t, rec).Kind)

	// WHEN: the admin creates it twice
	ts.createFund(t, "Caja")
	rec = ts.do(t, adminID, http.MethodPost, "/api/funds", map[string]string{"name": " Caja ", "type": "general"})

	// THEN: the second one conflicts on the trimmed name
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Empty name is a validation error naming the field
	rec = ts.do(t, adminID, http.MethodPost, "/api/funds", map[string]string{"name": "", "type": "general"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "name", decodeBody[ErrorResponse](t, rec).Field)
}

func TestRequestShapeValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, adminID, http.MethodPost, "/api/funds", `{"name": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, adminID, http.MethodPost, "/api/funds", map[string]string{"name": strings.Repeat("x", 121), "type": "general"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "name", decodeBody[ErrorResponse](t, rec).Field)

	rec = ts.do(t, treasurerID, http.MethodPost, "/api/ledgers/entries", map[string]string{"kind": "transfer"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "kind", decodeBody[ErrorResponse](t, rec).Field)
}

func TestUnknownFundIsNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, treasurerID, http.MethodGet, "/api/funds/nope", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody[ErrorResponse](t, rec).Kind)
}

// =============================================================================
// REPORT FLOW
// =============================================================================

func TestReportLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	// GIVEN: a treasurer files the March report
	rec := ts.do(t, treasurerID, http.MethodPost, "/api/reports", marchReportBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[ReportDTO](t, rec)
	assert.Equal(t, "pendiente", created.Status)
	assert.Equal(t, "100000", created.Totals.NationalFund.String())

	// A second report for the same period conflicts
	rec = ts.do(t, treasurerID, http.MethodPost, "/api/reports", marchReportBody())
	assert.Equal(t, http.StatusConflict, rec.Code)

	// WHEN: it is submitted and approved
	rec = ts.do(t, pastorID, http.MethodPost, "/api/reports/"+created.ID+"/submit", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "enviado", decodeBody[ReportDTO](t, rec).Status)

	rec = ts.do(t, pastorID, http.MethodPost, "/api/reports/"+created.ID+"/approve", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, treasurerID, http.MethodPost, "/api/reports/"+created.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decodeBody[ReportDTO](t, rec)

	// THEN: the report is approved and four rows reference it
	assert.Equal(t, "aprobado", approved.Status)
	assert.True(t, approved.TransactionsGenerated)

	rec = ts.do(t, adminID, http.MethodGet, "/api/transactions?report_id="+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decodeBody[[]TransactionDTO](t, rec)
	require.Len(t, rows, 4)
	for _, row := range rows {
		assert.Equal(t, "system", row.CreatedBy)
		assert.Equal(t, "2025-03-31", row.Date)
	}

	// Other churches cannot see it
	rec = ts.do(t, outsiderID, http.MethodGet, "/api/reports/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRejectRequiresReason(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, adminID, http.MethodPost, "/api/reports", marchReportBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeBody[ReportDTO](t, rec).ID

	rec = ts.do(t, treasurerID, http.MethodPost, "/api/reports/"+id+"/reject", map[string]string{"motivo": ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "motivo", decodeBody[ErrorResponse](t, rec).Field)

	rec = ts.do(t, treasurerID, http.MethodPost, "/api/reports/"+id+"/reject", map[string]string{"motivo": "Falta comprobante"})
	require.Equal(t, http.StatusOK, rec.Code)
	rejected := decodeBody[ReportDTO](t, rec)
	assert.Equal(t, "rechazado", rejected.Status)
	assert.Equal(t, "Falta comprobante", rejected.RejectionReason)
}

func TestPreviewReport(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, pastorID, http.MethodPost, "/api/reports/preview",
		map[string]any{"diezmos": "900000", "ofrendas": "100000"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	totals := decodeBody[report.Totals](t, rec)
	assert.Equal(t, "1000000", totals.TotalIncome.String())
	assert.Equal(t, "100000", totals.NationalFund.String())
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestBulkCreateReportsItemErrors(t *testing.T) {
	ts := newTestServer(t)
	fund := ts.createFund(t, "Caja Chica")

	item := func(amount string) map[string]any {
		return map[string]any{"date": "2025-03-10", "fund_id": fund.ID, "concept": "Ofrenda especial", "amount_in": amount}
	}

	// WHEN: three valid items and one negative amount
	rec := ts.do(t, treasurerID, http.MethodPost, "/api/transactions/bulk", map[string]any{
		"items": []any{item("10"), item("20"), item("-5"), item("30")},
	})

	// THEN
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeBody[BulkResultDTO](t, rec)
	assert.False(t, result.Success)
	assert.Len(t, result.Created, 3)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 2, result.Errors[0].Index)
	assert.Equal(t, "-5", result.Errors[0].Input.AmountIn.String())

	rec = ts.do(t, treasurerID, http.MethodGet, "/api/funds/"+fund.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "60", decodeBody[FundDTO](t, rec).CurrentBalance.String())
}

func TestDeleteTransactionRebuildsBalance(t *testing.T) {
	ts := newTestServer(t)
	fund := ts.createFund(t, "Caja Chica")

	var ids []string
	for _, amount := range []string{"10", "20", "30", "40", "50"} {
		rec := ts.do(t, treasurerID, http.MethodPost, "/api/transactions", map[string]any{
			"date": "2025-03-10", "fund_id": fund.ID, "concept": "Ingreso", "amount_in": amount,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		ids = append(ids, decodeBody[TransactionDTO](t, rec).ID)
	}

	rec := ts.do(t, treasurerID, http.MethodDelete, "/api/transactions/"+ids[2], nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = ts.do(t, treasurerID, http.MethodGet, "/api/funds/"+fund.ID+"/ledger", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[LedgerViewDTO](t, rec)
	assert.Len(t, view.Rows, 4)
	assert.Equal(t, "120", view.Closing.String())
	assert.Equal(t, "120", view.Fund.CurrentBalance.String())
}

func TestDateRangeIncludesLastDay(t *testing.T) {
	ts := newTestServer(t)
	fund := ts.createFund(t, "Caja Chica")

	// GIVEN: rows on the first and last day of March and on April 1st
	for date, amount := range map[string]string{"2025-03-01": "10", "2025-03-31": "20", "2025-04-01": "40"} {
		rec := ts.do(t, treasurerID, http.MethodPost, "/api/transactions", map[string]any{
			"date": date, "fund_id": fund.ID, "concept": "Ingreso", "amount_in": amount,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	// WHEN: asking for March by its first and last day
	rec := ts.do(t, treasurerID, http.MethodGet, "/api/funds/"+fund.ID+"/ledger?from=2025-03-01&to=2025-03-31", nil)

	// THEN: the 31st is in, April is out
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decodeBody[LedgerViewDTO](t, rec)
	assert.Len(t, view.Rows, 2)
	assert.Equal(t, "30", view.Closing.String())

	rec = ts.do(t, treasurerID, http.MethodGet, "/api/transactions?fund_id="+fund.ID+"&from=2025-03-01&to=2025-03-31", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decodeBody[[]TransactionDTO](t, rec), 2)
}

func TestLedgerXLSXDownload(t *testing.T) {
	ts := newTestServer(t)
	fund := ts.createFund(t, "Caja Chica")
	rec := ts.do(t, treasurerID, http.MethodPost, "/api/transactions", map[string]any{
		"date": "2025-03-10", "fund_id": fund.ID, "concept": "Ingreso", "amount_in": "75",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, treasurerID, http.MethodGet, "/api/funds/"+fund.ID+"/ledger.xlsx", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, export.ContentType, rec.Header().Get("Content-Type"))
	f, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer f.Close()
	v, err := f.GetCellValue("Libro", "B1")
	require.NoError(t, err)
	assert.Equal(t, "Caja Chica", v)
}

// =============================================================================
// MONTHLY LEDGERS
// =============================================================================

func TestOpenLedgerOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]any{"church_id": "c-1", "year": 2025, "month": 3}

	rec := ts.do(t, treasurerID, http.MethodPost, "/api/ledgers", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	l := decodeBody[MonthlyLedgerDTO](t, rec)
	assert.Equal(t, "open", l.Status)

	rec = ts.do(t, treasurerID, http.MethodPost, "/api/ledgers", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, treasurerID, http.MethodPost, "/api/ledgers/"+l.ID+"/close", map[string]string{"notes": "ok"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "closed", decodeBody[MonthlyLedgerDTO](t, rec).Status)

	rec = ts.do(t, outsiderID, http.MethodGet, "/api/ledgers/"+l.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
