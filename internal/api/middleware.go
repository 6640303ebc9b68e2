package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/tao-dividends/internal/errors"
	"github.com/tao-dividends/internal/logging"
)

// HTTPObserver records served requests
type HTTPObserver interface {
	ObserveHTTP(route, method string, status int, duration time.Duration)
}

// LoggingMiddleware logs HTTP requests and reports them to observer, which may be nil.
func LoggingMiddleware(logger *logging.Logger, observer HTTPObserver) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Create a response writer wrapper to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			route := routeTemplate(r)

			logger.WithFields(map[string]interface{}{
				"method":     r.Method,
				"path":       r.URL.Path,
				"route":      route,
				"status":     wrapped.statusCode,
				"durationMs": duration.Milliseconds(),
				"remoteAddr": r.RemoteAddr,
			}).Info("http request")

			if observer != nil {
				observer.ObserveHTTP(route, r.Method, wrapped.statusCode, duration)
			}
		})
	}
}

// routeTemplate returns the matched mux path template, keeping metric label cardinality bounded
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecoveryMiddleware recovers from panics and returns 500 error.
func RecoveryMiddleware(logger *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					err := apperrors.NewInternalError("panic while serving request", fmt.Errorf("%v", rec))
					logger.WithField("path", r.URL.Path).WithError(err).Error("panic while serving request")
					respondCategorized(w, err)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORSMiddleware adds CORS headers to responses.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// BearerAuthMiddleware rejects requests whose Authorization header does not
// carry token as a bearer credential.
func BearerAuthMiddleware(token string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			scheme, credential, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || credential == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				respondCategorized(w, apperrors.NewUnauthorizedError("Missing bearer token"))
				return
			}
			if token == "" || subtle.ConstantTimeCompare([]byte(credential), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				respondCategorized(w, apperrors.NewUnauthorizedError("Invalid authentication token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
