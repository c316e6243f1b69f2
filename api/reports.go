/*
reports.go - Monthly report and monthly ledger handlers

ENDPOINTS:
  Reports:
    GET    /api/reports                     List (?church_id=&year=&month=&status=)
    POST   /api/reports                     Create
    POST   /api/reports/preview             Compute totals without saving
    GET    /api/reports/{id}                Get
    PUT    /api/reports/{id}                Edit (amounts patch and metadata)
    DELETE /api/reports/{id}                Delete, purging generated rows (admin)
    POST   /api/reports/{id}/submit         pendiente/rechazado -> enviado
    POST   /api/reports/{id}/approve        -> aprobado, generates ledger rows
    POST   /api/reports/{id}/reject         -> rechazado (requires "motivo")

  Monthly ledgers:
    GET    /api/ledgers                     List (?church_id=)
    POST   /api/ledgers                     Open a month
    GET    /api/ledgers/{id}                Get
    POST   /api/ledgers/{id}/close          open -> closed
    POST   /api/ledgers/{id}/reconcile      closed -> reconciled (admin)
    GET    /api/ledgers/entries             List entries (?church_id=&year=&month=)
    POST   /api/ledgers/entries             Add entry
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/church-treasury/closing"
	"github.com/warp/church-treasury/report"
	"github.com/warp/church-treasury/treasury"
)

// =============================================================================
// REPORT HANDLERS
// =============================================================================

func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := report.Filter{
		ChurchID: treasury.ChurchID(q.Get("church_id")),
		Status:   report.Status(q.Get("status")),
	}
	if s := q.Get("year"); s != "" {
		year, err := queryInt(s, "year")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		filter.Year = year
	}
	if s := q.Get("month"); s != "" {
		month, err := queryInt(s, "month")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		filter.Month = month
	}

	reports, err := h.Reports.List(r.Context(), caller(r), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]ReportDTO, len(reports))
	for i, rep := range reports {
		dtos[i] = toReportDTO(rep)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	var req CreateReportRequest
	if !h.decode(w, r, &req) {
		return
	}
	rep, err := h.Reports.Create(r.Context(), caller(r), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReportDTO(*rep))
}

// PreviewReport returns the derived totals for a set of inputs.
func (h *Handler) PreviewReport(w http.ResponseWriter, r *http.Request) {
	var in report.RawInputs
	if !h.decode(w, r, &in) {
		return
	}
	totals, err := h.Reports.Preview(in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Reports.Get(r.Context(), caller(r), reportID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(*rep))
}

func (h *Handler) EditReport(w http.ResponseWriter, r *http.Request) {
	var req EditReportRequest
	if !h.decode(w, r, &req) {
		return
	}
	rep, err := h.Reports.Edit(r.Context(), caller(r), reportID(r), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(*rep))
}

func (h *Handler) DeleteReport(w http.ResponseWriter, r *http.Request) {
	if err := h.Reports.Delete(r.Context(), caller(r), reportID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Reports.Submit(r.Context(), caller(r), reportID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(*rep))
}

// ApproveReport approves and generates ledger rows. When generation fails
// the report stays approved, the error is returned, and a later approve
// retries the generation.
func (h *Handler) ApproveReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Reports.Approve(r.Context(), caller(r), reportID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(*rep))
}

func (h *Handler) RejectReport(w http.ResponseWriter, r *http.Request) {
	var req RejectReportRequest
	if !h.decode(w, r, &req) {
		return
	}
	rep, err := h.Reports.Reject(r.Context(), caller(r), reportID(r), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(*rep))
}

func reportID(r *http.Request) treasury.ReportID {
	return treasury.ReportID(chi.URLParam(r, "id"))
}

// =============================================================================
// MONTHLY LEDGER HANDLERS
// =============================================================================

func (h *Handler) ListLedgers(w http.ResponseWriter, r *http.Request) {
	ledgers, err := h.Closing.List(r.Context(), caller(r), treasury.ChurchID(r.URL.Query().Get("church_id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]MonthlyLedgerDTO, len(ledgers))
	for i, l := range ledgers {
		dtos[i] = toLedgerDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) OpenLedger(w http.ResponseWriter, r *http.Request) {
	var req OpenLedgerRequest
	if !h.decode(w, r, &req) {
		return
	}
	l, err := h.Closing.Open(r.Context(), caller(r), treasury.ChurchID(req.ChurchID), req.Year, req.Month)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLedgerDTO(*l))
}

func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	l, err := h.Closing.Get(r.Context(), caller(r), ledgerID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerDTO(*l))
}

func (h *Handler) CloseLedger(w http.ResponseWriter, r *http.Request) {
	var req CloseLedgerRequest
	if !h.decode(w, r, &req) {
		return
	}
	l, err := h.Closing.Close(r.Context(), caller(r), ledgerID(r), req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerDTO(*l))
}

func (h *Handler) ReconcileLedger(w http.ResponseWriter, r *http.Request) {
	l, err := h.Closing.Reconcile(r.Context(), caller(r), ledgerID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerDTO(*l))
}

func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
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
	entries, err := h.Closing.ListEntries(r.Context(), caller(r), treasury.ChurchID(q.Get("church_id")), year, month)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) AddEntry(w http.ResponseWriter, r *http.Request) {
	var req EntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := h.Closing.AddEntry(r.Context(), caller(r), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

func ledgerID(r *http.Request) closing.LedgerID {
	return closing.LedgerID(chi.URLParam(r, "id"))
}
