// Package api defines the wire types shared by recache's HTTP surface.
// See doc.go for complete package documentation.
package api

import (
	"encoding/json"
	"net/http"
)

// ValueResponse is the body returned for a successful cache read.
//
// The value is re-encoded as JSON, so computations whose results must
// travel over the read server should produce JSON-friendly values
// (numbers, strings, maps, slices, structs with exported fields).
//
// Example:
//
//	{"key": "time/now", "value": "2026-08-01T10:30:00Z"}
type ValueResponse struct {
	// Value is the cached value as last computed.
	Value any `json:"value"`

	// Key echoes the requested key.
	Key string `json:"key"`
}

// KeysResponse lists the keys currently present in the store.
//
// Registered keys whose first computation has not succeeded yet, or whose
// entry has expired, are absent from the listing.
type KeysResponse struct {
	// Keys is the snapshot of present keys, in no particular order.
	Keys []string `json:"keys"`
}

// StatsResponse reports store statistics for monitoring.
type StatsResponse struct {
	// Keys is the number of entries currently stored.
	Keys int `json:"keys"`
}

// ErrorResponse is the body returned for failed cache reads.
//
// The error field carries one of the cache's runtime error kinds
// ("timeout", "not_registered") rather than free-form text, so clients
// can switch on it.
type ErrorResponse struct {
	// Error is the machine-readable error kind.
	Error string `json:"error"`
}

// WriteJSON encodes v as the response body with the given status code.
//
// Encoding failures after the header is written cannot be reported to the
// client; they are swallowed here and left to the caller's access logs.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
