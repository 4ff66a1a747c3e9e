package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"

	"github.com/wonny/folio/internal/api/handlers"
	"github.com/wonny/folio/pkg/logger"
)

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: routes are registered here and nowhere else
func NewRouter(portfolioHandler *handlers.PortfolioHandler, stagingHandler *handlers.StagingHandler, corsOrigins []string, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	// Portfolios
	api.HandleFunc("/portfolios", portfolioHandler.List).Methods("GET")
	api.HandleFunc("/portfolios", portfolioHandler.Create).Methods("POST")
	api.HandleFunc("/portfolios/{id}", portfolioHandler.Get).Methods("GET")
	api.HandleFunc("/portfolios/{id}", portfolioHandler.Delete).Methods("DELETE")
	api.HandleFunc("/portfolios/{id}/copy", portfolioHandler.Copy).Methods("POST")

	// Versions
	api.HandleFunc("/portfolios/{id}/versions", portfolioHandler.Versions).Methods("GET")
	api.HandleFunc("/portfolios/{id}/versions", portfolioHandler.Commit).Methods("POST")
	api.HandleFunc("/portfolios/{id}/versions/{n:[0-9]+}", portfolioHandler.Version).Methods("GET")

	// Weight adjustments
	api.HandleFunc("/portfolios/{id}/allocations", portfolioHandler.UpdateAllocations).Methods("PATCH")
	api.HandleFunc("/portfolios/{id}/cap-options", portfolioHandler.UpdateCapOptions).Methods("PATCH")
	api.HandleFunc("/portfolios/{id}/cap-options/apply", portfolioHandler.ApplyCap).Methods("POST")
	api.HandleFunc("/portfolios/{id}/cap-options/{optionID:[0-9]+}/activate", portfolioHandler.ActivateCapOption).Methods("POST")

	// Staging buffer
	api.HandleFunc("/staging/{mode}", stagingHandler.Get).Methods("GET")
	api.HandleFunc("/staging/{mode}", stagingHandler.Put).Methods("PUT")
	api.HandleFunc("/staging/{mode}", stagingHandler.Clear).Methods("DELETE")
	api.HandleFunc("/staging/{mode}/tickers", stagingHandler.Add).Methods("POST")
	api.HandleFunc("/staging/{mode}/tickers/{symbol}", stagingHandler.Remove).Methods("DELETE")

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	// CORS wraps the router so preflight requests never reach route matching
	return cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", handlers.SessionHeader},
		MaxAge:         300,
	})(r)
}

// healthCheckHandler returns server health status
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "folio-api",
	})
}

// statusRecorder captures the status code for the request log
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
