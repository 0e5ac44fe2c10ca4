package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rendis/mcvault/pkg/schema"
)

// maxBodyBytes caps every request body.
const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the {ok:false, error, code} body.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, schema.ErrorResponse{OK: false, Error: msg, Code: code})
}

// writeVaultError maps err to its HTTP status. Internal failures are
// reported generically.
func writeVaultError(w http.ResponseWriter, err error) {
	var verr *schema.VaultError
	if !errors.As(err, &verr) {
		writeError(w, http.StatusInternalServerError, "", "internal error")
		return
	}
	status := statusFor(verr.Code)
	msg := verr.Message
	if status >= http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, verr.Code, msg)
}

// statusFor returns the HTTP status for an error code.
func statusFor(code string) int {
	switch code {
	case schema.ErrCodeValidation:
		return http.StatusBadRequest
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict, schema.ErrCodeConfiguration:
		return http.StatusConflict
	case schema.ErrCodeAuthorization:
		return http.StatusUnauthorized
	case schema.ErrCodeForbidden, schema.ErrCodeDisabled:
		return http.StatusForbidden
	case schema.ErrCodeTransport:
		return http.StatusBadGateway
	case schema.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// readBody reads a bounded request body.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "failed to read request body").WithCause(err)
	}
	if len(body) > maxBodyBytes {
		return nil, schema.NewError(schema.ErrCodeValidation, "request body too large")
	}
	return body, nil
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// decodeJSON unmarshals raw into v as a VALIDATION_ERROR on failure.
func decodeJSON(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid JSON body").WithCause(err)
	}
	return nil
}
