package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Simplici0/quickbuild/internal/estimate"
	"github.com/Simplici0/quickbuild/internal/lock"
	"github.com/Simplici0/quickbuild/internal/pricing"
	"github.com/Simplici0/quickbuild/internal/proposal"
	"github.com/Simplici0/quickbuild/internal/storage"
)

const summaryTimeout = 60 * time.Second

type estimatesViewData struct {
	baseViewData
	Query     string
	Estimates []estimate.Summary
}

type bundleView struct {
	Name   string
	Active bool
}

type estimateViewData struct {
	baseViewData
	Record             estimate.Record
	Breakdown          pricing.Breakdown
	Bundles            []bundleView
	ProfitPercent      float64
	ContingencyPercent float64
}

type estimateJSON struct {
	ID                 int64             `json:"id"`
	Name               string            `json:"name"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	Areas              []pricing.Area    `json:"areas"`
	DetectedBundles    []string          `json:"detected_bundles"`
	ActiveBundles      []string          `json:"active_bundles"`
	ProfitPercent      float64           `json:"profit_percentage"`
	ContingencyPercent float64           `json:"contingency_percentage"`
	Totals             pricing.Totals    `json:"totals"`
	Breakdown          pricing.Breakdown `json:"breakdown"`
}

func estimatePath(id int64) string {
	return "/estimates/" + strconv.FormatInt(id, 10)
}

func parseEstimateID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *server) handleEstimatesList(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	list, err := s.estimates.List(r.Context(), query)
	if err != nil {
		s.log.Error("list estimates", "error", err)
		http.Error(w, "failed to load estimates", http.StatusInternalServerError)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, list)
		return
	}
	s.renderTemplate(w, "estimates.html", estimatesViewData{
		baseViewData: messagesFrom(r),
		Query:        query,
		Estimates:    list,
	})
}

func (s *server) handleEstimateDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := parseEstimateID(r)
	if !ok {
		http.Error(w, "invalid estimate id", http.StatusBadRequest)
		return
	}

	rec, b, err := s.estimates.Breakdown(r.Context(), id)
	if errors.Is(err, estimate.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.log.Error("load estimate", "estimate_id", id, "error", err)
		http.Error(w, "failed to load estimate", http.StatusInternalServerError)
		return
	}

	est := rec.Estimate
	profit := est.ProfitPercent.Or(pricing.DefaultProfitPercent)
	contingency := est.ContingencyPercent.Or(pricing.DefaultContingencyPercent)

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, estimateJSON{
			ID:                 est.ID,
			Name:               est.Name,
			CreatedAt:          rec.CreatedAt,
			UpdatedAt:          rec.UpdatedAt,
			Areas:              est.Areas,
			DetectedBundles:    est.DetectedBundles,
			ActiveBundles:      est.ActiveBundles,
			ProfitPercent:      profit,
			ContingencyPercent: contingency,
			Totals:             est.Totals,
			Breakdown:          b,
		})
		return
	}

	bundles := make([]bundleView, 0, len(est.DetectedBundles))
	for _, name := range est.DetectedBundles {
		bundles = append(bundles, bundleView{Name: name, Active: est.IsActive(name)})
	}
	s.renderTemplate(w, "estimate.html", estimateViewData{
		baseViewData:       messagesFrom(r),
		Record:             rec,
		Breakdown:          b,
		Bundles:            bundles,
		ProfitPercent:      profit,
		ContingencyPercent: contingency,
	})
}

func (s *server) handleBundleToggle(w http.ResponseWriter, r *http.Request) {
	id, ok := parseEstimateID(r)
	if !ok {
		http.Error(w, "invalid estimate id", http.StatusBadRequest)
		return
	}
	bundle, err := s.parseToggleForm(r)
	if err != nil {
		redirectWithMessage(w, r, estimatePath(id), "error", err.Error())
		return
	}

	if _, err := s.estimates.ToggleBundle(r.Context(), id, bundle); err != nil {
		s.mutationFailed(w, r, id, "toggle bundle", err)
		return
	}
	http.Redirect(w, r, estimatePath(id), http.StatusSeeOther)
}

func (s *server) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseEstimateID(r)
	if !ok {
		http.Error(w, "invalid estimate id", http.StatusBadRequest)
		return
	}
	profit, contingency, err := s.parseSettingsForm(r)
	if err != nil {
		redirectWithMessage(w, r, estimatePath(id), "error", "Invalid percentage values: "+err.Error())
		return
	}

	if _, err := s.estimates.UpdateSettings(r.Context(), id, profit, contingency); err != nil {
		s.mutationFailed(w, r, id, "update settings", err)
		return
	}
	redirectWithMessage(w, r, estimatePath(id), "success", "Settings updated successfully!")
}

func (s *server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseEstimateID(r)
	if !ok {
		http.Error(w, "invalid estimate id", http.StatusBadRequest)
		return
	}
	if _, err := s.estimates.Recalculate(r.Context(), id); err != nil {
		s.mutationFailed(w, r, id, "recalculate", err)
		return
	}
	redirectWithMessage(w, r, estimatePath(id), "success", "Totals recalculated.")
}

func (s *server) handleEstimateDuplicate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseEstimateID(r)
	if !ok {
		http.Error(w, "invalid estimate id", http.StatusBadRequest)
		return
	}
	rec, err := s.estimates.Duplicate(r.Context(), id)
	if err != nil {
		s.mutationFailed(w, r, id, "duplicate", err)
		return
	}
	redirectWithMessage(w, r, estimatePath(rec.Estimate.ID), "success", "Estimate duplicated successfully!")
}

func (s *server) handleEstimateDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseEstimateID(r)
	if !ok {
		http.Error(w, "invalid estimate id", http.StatusBadRequest)
		return
	}
	rec, err := s.estimates.Delete(r.Context(), id)
	if err != nil {
		s.mutationFailed(w, r, id, "delete", err)
		return
	}
	if err := storage.DeleteAll(r.Context(), s.files, rec.Keys()...); err != nil {
		s.log.Warn("delete estimate artifacts", "estimate_id", id, "error", err)
	}
	redirectWithMessage(w, r, "/estimates", "success", "Estimate deleted successfully!")
}

// mutationFailed maps service errors to responses. Expected failures go back
// to the estimate page with a message; the prior totals are untouched.
func (s *server) mutationFailed(w http.ResponseWriter, r *http.Request, id int64, op string, err error) {
	switch {
	case errors.Is(err, estimate.ErrNotFound):
		http.NotFound(w, r)
	case errors.Is(err, estimate.ErrUnknownBundle):
		redirectWithMessage(w, r, estimatePath(id), "error", "Unknown bundle.")
	case errors.Is(err, pricing.ErrComputation):
		s.log.Warn("recompute rejected", "estimate_id", id, "op", op, "error", err)
		redirectWithMessage(w, r, estimatePath(id), "error", "Failed to calculate estimate totals. Nothing was changed.")
	case errors.Is(err, lock.ErrBusy):
		redirectWithMessage(w, r, estimatePath(id), "error", "The estimate is being updated. Please try again.")
	default:
		s.log.Error("estimate mutation failed", "estimate_id", id, "op", op, "error", err)
		http.Error(w, "failed to "+op, http.StatusInternalServerError)
	}
}

func (s *server) loadDocument(w http.ResponseWriter, r *http.Request) (proposal.Document, bool) {
	id, ok := parseEstimateID(r)
	if !ok {
		http.Error(w, "invalid estimate id", http.StatusBadRequest)
		return proposal.Document{}, false
	}
	rec, b, err := s.estimates.Breakdown(r.Context(), id)
	if errors.Is(err, estimate.ErrNotFound) {
		http.NotFound(w, r)
		return proposal.Document{}, false
	}
	if err != nil {
		s.log.Error("load estimate", "estimate_id", id, "error", err)
		http.Error(w, "failed to load estimate", http.StatusInternalServerError)
		return proposal.Document{}, false
	}
	return proposal.Document{Estimate: rec.Estimate, Breakdown: b, Date: s.now()}, true
}

func (s *server) handleProposalPDF(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.loadDocument(w, r)
	if !ok {
		return
	}

	// The proposal is still produced when the summary cannot be generated.
	if s.analyzer != nil {
		ctx, cancel := context.WithTimeout(r.Context(), summaryTimeout)
		summary, err := s.analyzer.ProposalSummary(ctx, doc.Estimate)
		cancel()
		if err != nil {
			s.log.Warn("proposal summary unavailable", "estimate_id", doc.Estimate.ID, "error", err)
		}
		doc.Summary = summary
	}

	var buf bytes.Buffer
	if err := proposal.PDF(&buf, doc); err != nil {
		s.log.Error("render proposal", "estimate_id", doc.Estimate.ID, "error", err)
		redirectWithMessage(w, r, estimatePath(doc.Estimate.ID), "error", "Error generating PDF proposal.")
		return
	}
	sendAttachment(w, "application/pdf", downloadName("proposal", doc.Estimate.Name, doc.Date, "pdf"), buf.Bytes())
}

func (s *server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.loadDocument(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := proposal.Workbook(&buf, doc); err != nil {
		s.log.Error("render workbook", "estimate_id", doc.Estimate.ID, "error", err)
		redirectWithMessage(w, r, estimatePath(doc.Estimate.ID), "error", "Error generating spreadsheet export.")
		return
	}
	sendAttachment(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		downloadName("estimate", doc.Estimate.Name, doc.Date, "xlsx"), buf.Bytes())
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// downloadName builds e.g. "proposal_Kitchen_remodel_20260402.pdf".
func downloadName(prefix, name string, date time.Time, ext string) string {
	clean := strings.Trim(unsafeFilename.ReplaceAllString(name, "_"), "_")
	if clean == "" {
		clean = "estimate"
	}
	return prefix + "_" + clean + "_" + date.Format("20060102") + "." + ext
}

func sendAttachment(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
