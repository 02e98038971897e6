package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/tendant/record-files/pkg/recordfiles"
)

// APIKeyMiddleware resolves the caller identity. A request carrying one of
// keys, as "Authorization: Bearer <key>" or "X-API-Key", runs as the system
// identity; a request without a key runs as the anonymous identity. An
// unknown key is rejected.
func APIKeyMiddleware(keys []string) func(http.Handler) http.Handler {
	digests := make([][sha256.Size]byte, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			digests = append(digests, sha256.Sum256([]byte(k)))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := apiKey(r)
			identity := recordfiles.AnonymousIdentity()
			if presented != "" {
				if !matchKey(digests, presented) {
					render.Status(r, http.StatusUnauthorized)
					render.JSON(w, r, ErrorResponse{Error: ErrorBody{
						Code:      "unauthorized",
						Message:   "Invalid API key",
						RequestID: middleware.GetReqID(r.Context()),
					}})
					return
				}
				identity = recordfiles.SystemIdentity()
			}
			next.ServeHTTP(w, r.WithContext(recordfiles.ContextWithIdentity(r.Context(), identity)))
		})
	}
}

func apiKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return r.Header.Get("X-API-Key")
}

func matchKey(digests [][sha256.Size]byte, key string) bool {
	sum := sha256.Sum256([]byte(key))
	found := 0
	for _, d := range digests {
		found |= subtle.ConstantTimeCompare(d[:], sum[:])
	}
	return found == 1
}

// LoggingMiddleware logs HTTP requests and responses
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.InfoContext(r.Context(), "HTTP request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}

// NewRouter assembles the records API with the standard middleware stack.
func NewRouter(service recordfiles.Service, apiBaseURL string, apiKeys []string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(logger))
	r.Use(APIKeyMiddleware(apiKeys))
	r.Mount("/records", NewRecordsHandler(service, apiBaseURL, logger).Routes())
	return r
}
