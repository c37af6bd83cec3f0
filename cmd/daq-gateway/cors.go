package main

import (
	"net/http"

	"github.com/gorilla/handlers"
)

// withCORS wraps h with a permissive CORS policy (spec's SUPPLEMENTED
// FEATURES §1: a browser-hosted dashboard calling the control API from a
// different origin than the fan-out websocket).
func withCORS(h http.Handler) http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(h)
}
