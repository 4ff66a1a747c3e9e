package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/folio/internal/contracts"
	"github.com/wonny/folio/internal/staging"
	"github.com/wonny/folio/pkg/logger"
)

// StagingHandler exposes the pending-edit buffer.
// The buffer is addressed by the session header, the {mode} path segment
// and an optional ?portfolio_id= query parameter.
type StagingHandler struct {
	buffer *staging.Buffer
	logger *logger.Logger
}

// NewStagingHandler creates a new staging handler
func NewStagingHandler(buffer *staging.Buffer, log *logger.Logger) *StagingHandler {
	return &StagingHandler{
		buffer: buffer,
		logger: log,
	}
}

func (h *StagingHandler) key(r *http.Request) staging.Key {
	return stagingKey(r, mux.Vars(r)["mode"], r.URL.Query().Get("portfolio_id"))
}

// Get returns the staged tickers
// GET /api/staging/{mode}
func (h *StagingHandler) Get(w http.ResponseWriter, r *http.Request) {
	tickers, err := h.buffer.Get(r.Context(), h.key(r))
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to read staging buffer")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    tickers,
	})
}

// Put replaces the staged tickers
// PUT /api/staging/{mode}
func (h *StagingHandler) Put(w http.ResponseWriter, r *http.Request) {
	var tickers contracts.Tickers
	if err := decodeJSON(r, &tickers); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.buffer.Put(r.Context(), h.key(r), tickers); err != nil {
		respondServiceError(w, h.logger, err, "Failed to write staging buffer")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    tickers,
	})
}

// Add appends one ticker
// POST /api/staging/{mode}/tickers
func (h *StagingHandler) Add(w http.ResponseWriter, r *http.Request) {
	var t contracts.Ticker
	if err := decodeJSON(r, &t); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tickers, err := h.buffer.Add(r.Context(), h.key(r), t)
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to add staged ticker")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    tickers,
	})
}

// Remove drops one ticker
// DELETE /api/staging/{mode}/tickers/{symbol}
func (h *StagingHandler) Remove(w http.ResponseWriter, r *http.Request) {
	tickers, err := h.buffer.Remove(r.Context(), h.key(r), mux.Vars(r)["symbol"])
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to remove staged ticker")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    tickers,
	})
}

// Clear discards the pending edit
// DELETE /api/staging/{mode}
func (h *StagingHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.buffer.Clear(r.Context(), h.key(r)); err != nil {
		respondServiceError(w, h.logger, err, "Failed to clear staging buffer")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
