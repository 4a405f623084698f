// Package httpapi is the thin HTTP layer in front of the core engine:
// request decoding, the signed-request envelope, rate limiting, and JSON
// responses. It deliberately contains no business logic — every handler
// delegates to a services package and translates the result or
// *apperr.Error into a response.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/agentmarket/engine/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

type errorBody struct {
	Detail string `json:"detail"`
}

// writeError maps err to the status code and detail string §7 requires. Any
// error that is not an *apperr.Error is treated as an unclassified internal
// failure and never leaks its message to the caller.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if apperr.As(err, &appErr) {
		writeJSON(w, appErr.HTTPStatus(), errorBody{Detail: appErr.Detail})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "internal error"})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("malformed request body: " + err.Error())
	}
	return nil
}
