package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/ykst615/learn-zhihu-api/internal/logger"
)

var logg = logger.New()

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondJSON writes data as JSON with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logg.Error("http", "Failed to encode JSON response", err)
	}
}

// RespondError writes {"error": msg} with the given status code.
func RespondError(w http.ResponseWriter, status int, msg string) {
	RespondJSON(w, status, ErrorResponse{Error: msg})
}
