// Package server adds CORS headers for browser clients of the HTTP routes.
package server

import (
	"net/http"
	"strings"
)

var (
	corsAllowMethods = strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
	}, ", ")
	corsAllowHeaders = "Origin, Content-Type, Accept, Authorization"
)

// CORS wraps next so browser pages served from an allowed origin can call the
// JSON routes. Allowed origins are the same list the WebSocket upgrade
// checks. Preflight requests from those origins are answered directly;
// everything else passes through, without CORS headers when the origin is
// not allowed.
func (r *Relay) CORS(next http.Handler) http.Handler {
	return corsHandler(r.origins, next)
}

func corsHandler(policy originPolicy, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		if origin == "" || !policy.allows(req) {
			next.ServeHTTP(w, req)
			return
		}

		h := w.Header()
		h.Add("Vary", "Origin")
		if policy.allowAll {
			h.Set("Access-Control-Allow-Origin", "*")
		} else {
			h.Set("Access-Control-Allow-Origin", origin)
		}

		if req.Method == http.MethodOptions && req.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, req)
	})
}
