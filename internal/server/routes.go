// Package server wires HTTP handlers into a ServeMux for the relay via routing
// helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with the relay routes:
// liveness, health counters, the WebSocket endpoint and the test page.
func SetupRoutes(relay *Relay) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", RootHandler)
	mux.HandleFunc("GET /healthz", relay.HealthHandler)
	mux.HandleFunc("/ws/{room_id}/{user_id}", relay.ServeWS)
	mux.HandleFunc("GET /test", TestPageHandler)
	return mux
}
