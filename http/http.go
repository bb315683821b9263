// Package http adapts the x402 payment gate to net/http.
//
// It provides the facilitator HTTP client used by resource servers, a
// net/http middleware that guards handlers with a PaymentGate, and a
// RoundTripper that lets a paying agent answer 402 challenges
// transparently.
package http

import (
	"encoding/json"
	"net/http"
)

// writeJSON writes v as the JSON body with status
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
