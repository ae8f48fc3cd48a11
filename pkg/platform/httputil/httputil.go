package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "ssogate/pkg/domain-errors"
)

// ErrorResponse is the JSON error envelope shared by every endpoint.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates err into the error envelope. Errors without a domain
// code are reported as internal errors, and internal errors never echo their
// message.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeInternal
	desc := ""
	if de, ok := dErrors.As(err); ok {
		code = de.Code
		desc = de.Message
	}
	status := dErrors.HTTPStatus(code)
	if status == http.StatusInternalServerError {
		code = dErrors.CodeInternal
		desc = ""
	}
	WriteJSON(w, status, ErrorResponse{Error: string(code), ErrorDescription: desc})
}
