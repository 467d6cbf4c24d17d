package handler

import (
	"encoding/json"
	"net/http"

	"github.com/attaboy/payment-orchestrator/internal/domain"
)

// envelope is the tagged-union response body spec.md §6 requires: every
// RPC response is either a success payload or a structured error, never both.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *errorBody  `json:"error,omitempty"`
}

type errorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// RespondOK writes a success envelope with the given status code.
func RespondOK(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

// RespondError writes an error envelope, detecting *domain.AppError for
// the status code and taxonomy-stable code; anything else surfaces as an
// opaque INTERNAL error.
func RespondError(w http.ResponseWriter, err error) {
	if appErr, ok := err.(*domain.AppError); ok {
		w.WriteHeader(appErr.Status)
		json.NewEncoder(w).Encode(envelope{Success: false, Error: &errorBody{
			Code:    appErr.Code,
			Message: appErr.Message,
		}})
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: &errorBody{
		Code:    "INTERNAL",
		Message: "internal server error",
	}})
}

// DecodeJSON reads and decodes a JSON request body into dst.
func DecodeJSON(r *http.Request, dst interface{}) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
