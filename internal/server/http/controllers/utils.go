package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/hari-yahoo/CourseStatus/internal/queue"
)

// Helper functions for common HTTP responses

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeStoreError maps queue unavailability to 503 and anything else to 500.
func writeStoreError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, queue.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "Queue unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, message)
}

// writeJSON writes a JSON response with the given data.
func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// parseLimit parses a limit string and returns a valid limit value.
//
// Returns 0 for empty strings or invalid values.
func parseLimit(limitStr string) int {
	if limitStr == "" {
		return 0
	}
	if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
		return limit
	}
	return 0
}
