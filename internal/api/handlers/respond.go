package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/wonny/folio/internal/contracts"
	"github.com/wonny/folio/internal/mathengine"
	"github.com/wonny/folio/internal/portfolio"
	"github.com/wonny/folio/internal/staging"
	"github.com/wonny/folio/pkg/logger"
)

// SessionHeader identifies the browser session that owns a staging buffer
const SessionHeader = "X-Session-ID"

const defaultSession = "anonymous"

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondServiceError maps a service failure to a status code.
// Clients get a generic message; the detail goes to the log only.
func respondServiceError(w http.ResponseWriter, log *logger.Logger, err error, action string) {
	var verrs *contracts.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  "Validation failed",
			"errors": verrs.Errors,
		})
	case errors.Is(err, portfolio.ErrPortfolioNotFound):
		respondError(w, http.StatusNotFound, "Portfolio not found")
	case errors.Is(err, contracts.ErrNotFound):
		respondError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, mathengine.ErrEngine):
		log.WithError(err).Error(action)
		respondError(w, http.StatusServiceUnavailable, "Weight calculation is unavailable, please try again")
	default:
		log.WithError(err).Error(action)
		respondError(w, http.StatusInternalServerError, "Could not complete the request, please try again")
	}
}

// decodeJSON reads the request body into dest; an empty body leaves dest untouched
func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func stagingKey(r *http.Request, mode, portfolioID string) staging.Key {
	session := strings.TrimSpace(r.Header.Get(SessionHeader))
	if session == "" {
		session = defaultSession
	}
	return staging.Key{Session: session, Mode: mode, PortfolioID: portfolioID}
}
