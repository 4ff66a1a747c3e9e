package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/wonny/folio/internal/allocation"
	"github.com/wonny/folio/internal/contracts"
	"github.com/wonny/folio/internal/portfolio"
	"github.com/wonny/folio/internal/staging"
	"github.com/wonny/folio/internal/weights"
	"github.com/wonny/folio/pkg/logger"
)

// PortfolioHandler handles portfolio API endpoints
// ⭐ SSOT: every portfolio write over HTTP goes through portfolio.Service
type PortfolioHandler struct {
	service *portfolio.Service
	staging *staging.Buffer
	logger  *logger.Logger
}

// NewPortfolioHandler creates a new portfolio handler
func NewPortfolioHandler(service *portfolio.Service, buffer *staging.Buffer, log *logger.Logger) *PortfolioHandler {
	return &PortfolioHandler{
		service: service,
		staging: buffer,
		logger:  log,
	}
}

// CreatePortfolioRequest is the body of POST /api/portfolios
type CreatePortfolioRequest struct {
	Name    string            `json:"name"`
	Tickers contracts.Tickers `json:"tickers"`
	// FromStaging takes the tickers from the session's "new" staging buffer
	FromStaging bool `json:"from_staging"`
}

// CommitRequest is the body of POST /api/portfolios/{id}/versions
type CommitRequest struct {
	Tickers     contracts.Tickers `json:"tickers"`
	FromStaging bool              `json:"from_staging"`
	Title       string            `json:"title"`
	Notes       string            `json:"notes"`
	Overwrite   bool              `json:"overwrite"`
}

// CopyRequest is the body of POST /api/portfolios/{id}/copy.
// Allocations, when present, replace the source's set. Both the list form and
// the legacy name-keyed form ({"Cash": 10} or {"Cash": {"weight": 10, "enabled": false}})
// are accepted.
type CopyRequest struct {
	Name        string          `json:"name"`
	Allocations json.RawMessage `json:"allocations,omitempty"`
}

// List returns every portfolio
// GET /api/portfolios
func (h *PortfolioHandler) List(w http.ResponseWriter, r *http.Request) {
	portfolios, err := h.service.ListPortfolios(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to list portfolios")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    portfolios,
	})
}

// Create creates a portfolio with its first version
// POST /api/portfolios
func (h *PortfolioHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreatePortfolioRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	key := stagingKey(r, staging.ModeNew, "")
	if req.FromStaging {
		staged, err := h.staging.Get(ctx, key)
		if err != nil {
			respondServiceError(w, h.logger, err, "Failed to read staged tickers")
			return
		}
		req.Tickers = staged
	}

	p, err := h.service.CreatePortfolio(ctx, req.Name, req.Tickers)
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to create portfolio")
		return
	}

	if req.FromStaging {
		h.clearStaging(r, key)
	}
	respondJSON(w, http.StatusCreated, p)
}

// Get returns the effective view of a portfolio
// GET /api/portfolios/{id}?version=n&format=text
func (h *PortfolioHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var versionNumber *int
	if s := r.URL.Query().Get("version"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "Invalid 'version' (expected a positive integer)")
			return
		}
		versionNumber = &n
	}

	view, err := h.service.View(r.Context(), id, versionNumber)
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to load portfolio view")
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if err := portfolio.Render(w, view); err != nil {
			h.logger.WithError(err).Warn("Failed to render portfolio view")
		}
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// Delete removes a portfolio and everything it owns
// DELETE /api/portfolios/{id}
func (h *PortfolioHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.service.DeletePortfolio(r.Context(), id); err != nil {
		respondServiceError(w, h.logger, err, "Failed to delete portfolio")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Copy duplicates a portfolio
// POST /api/portfolios/{id}/copy
func (h *PortfolioHandler) Copy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req CopyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var allocs []contracts.Allocation
	if len(req.Allocations) > 0 {
		parsed, err := weights.ParseAllocations(req.Allocations)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid allocations")
			return
		}
		// "null" keeps the source's set
		if parsed != nil {
			allocs = parsed
		}
	}

	p, err := h.service.CopyPortfolioWithAllocations(r.Context(), id, req.Name, allocs)
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to copy portfolio")
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

// Versions lists the version history, newest first
// GET /api/portfolios/{id}/versions
func (h *PortfolioHandler) Versions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	versions, err := h.service.Versions(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to list versions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    versions,
	})
}

// Version returns one version
// GET /api/portfolios/{id}/versions/{n}
func (h *PortfolioHandler) Version(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	n, err := strconv.Atoi(vars["n"])
	if err != nil || n < 1 {
		respondError(w, http.StatusBadRequest, "Invalid version number")
		return
	}

	v, err := h.service.VersionAt(r.Context(), vars["id"], n)
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to load version")
		return
	}
	if v == nil {
		respondError(w, http.StatusNotFound, "Version not found")
		return
	}
	respondJSON(w, http.StatusOK, v)
}

// Commit records a new ticker list as a version, or rewrites the latest one
// POST /api/portfolios/{id}/versions
func (h *PortfolioHandler) Commit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	var req CommitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	key := stagingKey(r, staging.ModeEdit, id)
	if req.FromStaging {
		staged, err := h.staging.Get(ctx, key)
		if err != nil {
			respondServiceError(w, h.logger, err, "Failed to read staged tickers")
			return
		}
		req.Tickers = staged
	}

	v, err := h.service.CommitTickers(ctx, id, req.Tickers, portfolio.CommitOptions{
		Title:     req.Title,
		Notes:     req.Notes,
		Overwrite: req.Overwrite,
	})
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to commit tickers")
		return
	}

	if req.FromStaging {
		h.clearStaging(r, key)
	}

	status := http.StatusCreated
	if req.Overwrite {
		status = http.StatusOK
	}
	respondJSON(w, status, v)
}

// UpdateAllocations toggles, removes or adds an allocation
// PATCH /api/portfolios/{id}/allocations
func (h *PortfolioHandler) UpdateAllocations(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var m allocation.Mutation
	if err := decodeJSON(r, &m); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	allocs, err := h.service.UpdateAllocations(r.Context(), id, m)
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to update allocations")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    allocs,
	})
}

// UpdateCapOptions toggles, removes, clears or adds cap options
// PATCH /api/portfolios/{id}/cap-options
func (h *PortfolioHandler) UpdateCapOptions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var m portfolio.CapMutation
	if err := decodeJSON(r, &m); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	options, err := h.service.UpdateCapOptions(r.Context(), id, m)
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to update cap options")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    options,
	})
}

// ActivateCapOption makes one option the active one
// POST /api/portfolios/{id}/cap-options/{optionID}/activate
func (h *PortfolioHandler) ActivateCapOption(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	optionID, err := strconv.ParseInt(vars["optionID"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid option id")
		return
	}

	if err := h.service.Activate(r.Context(), vars["id"], optionID); err != nil {
		respondServiceError(w, h.logger, err, "Failed to activate cap option")
		return
	}

	options, err := h.service.CapOptions(r.Context(), vars["id"])
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to list cap options")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    options,
	})
}

// ApplyCap runs cap-and-redistribute and records the result as a version
// POST /api/portfolios/{id}/cap-options/apply
func (h *PortfolioHandler) ApplyCap(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req portfolio.CapApply
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	v, err := h.service.ApplyCapAndRedistribute(r.Context(), id, req)
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to apply cap and redistribute")
		return
	}
	respondJSON(w, http.StatusCreated, v)
}

func (h *PortfolioHandler) clearStaging(r *http.Request, key staging.Key) {
	if err := h.staging.Clear(r.Context(), key); err != nil {
		h.logger.WithError(err).WithField("key", key.String()).Warn("Failed to clear staging buffer")
	}
}
