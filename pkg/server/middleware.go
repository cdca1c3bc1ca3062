package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rzbill/cruise/pkg/log"
)

const (
	// AuthorizationHeader carries the API key.
	AuthorizationHeader = "Authorization"

	// APIKeyPrefix is the prefix for API key values in the Authorization header.
	APIKeyPrefix = "Bearer "
)

// requestLogger logs every request once it is served.
func requestLogger(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []log.Field{
				log.Str("method", r.Method),
				log.Str("path", r.URL.Path),
				log.Int("status", status),
				log.Duration("duration", time.Since(start)),
				log.RequestID(middleware.GetReqID(r.Context())),
				log.Str("remote_addr", r.RemoteAddr),
			}
			if status >= http.StatusInternalServerError {
				logger.Warn("HTTP Request", fields...)
				return
			}
			logger.Debug("HTTP Request", fields...)
		})
	}
}

// apiKey rejects requests without one of apiKeys as bearer token.
func apiKey(apiKeys []string, logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(apiKeys) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get(AuthorizationHeader)
			if header == "" {
				logger.Warn("Missing Authorization header", log.Str("path", r.URL.Path))
				writeError(w, http.StatusUnauthorized, "Unauthorized: Missing API key")
				return
			}
			if !strings.HasPrefix(header, APIKeyPrefix) {
				logger.Warn("Invalid Authorization header format", log.Str("path", r.URL.Path))
				writeError(w, http.StatusUnauthorized, "Unauthorized: Invalid Authorization format")
				return
			}

			given := []byte(strings.TrimPrefix(header, APIKeyPrefix))
			for _, key := range apiKeys {
				if subtle.ConstantTimeCompare(given, []byte(key)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			logger.Warn("Invalid API key", log.Str("path", r.URL.Path))
			writeError(w, http.StatusUnauthorized, "Unauthorized: Invalid API key")
		})
	}
}
