// Package middleware provides HTTP middleware shared by the view API and the dev backend.
package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSOptions describes what cross-origin dashboards may do.
type CORSOptions struct {
	Origins []string
	Methods []string
	Headers []string
	MaxAge  int
}

// ViewCORS allows the dashboard to read the live API and follow its SSE
// stream. EventSource resends Last-Event-ID when it reconnects.
func ViewCORS(origins []string) CORSOptions {
	return CORSOptions{
		Origins: origins,
		Methods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		Headers: []string{"Content-Type", "Last-Event-ID", "Cache-Control"},
		MaxAge:  600,
	}
}

// ProducerCORS allows Bearer-authenticated calls to the dev backend,
// including dropping push sessions.
func ProducerCORS(origins []string) CORSOptions {
	return CORSOptions{
		Origins: origins,
		Methods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		Headers: []string{"Content-Type", "Authorization", "X-Session-ID"},
		MaxAge:  600,
	}
}

// CORS returns middleware that answers preflights and sets CORS headers
// for allowed origins.
func CORS(opts CORSOptions) func(http.Handler) http.Handler {
	methods := strings.Join(opts.Methods, ", ")
	headers := strings.Join(opts.Headers, ", ")
	wildcard := slices.Contains(opts.Origins, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			explicit := origin != "" && slices.Contains(opts.Origins, origin)

			if origin != "" && (wildcard || explicit) {
				w.Header().Add("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", methods)
				w.Header().Set("Access-Control-Allow-Headers", headers)
				if opts.MaxAge > 0 {
					w.Header().Set("Access-Control-Max-Age", strconv.Itoa(opts.MaxAge))
				}
				// Credentials only for explicit origins, never a wildcard echo.
				if explicit {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
