package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hivematrix/helm/pkg/types"
)

// maxBodyBytes caps request bodies. Log batches are the largest legal
// payload and stay far below this.
const maxBodyBytes = 4 << 20

// errorBody is the wire shape of every failure response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response with a status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps a domain error onto {error, message} with the
// matching HTTP status. The error field carries the machine-readable
// kind; message is for humans.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{
		Error:   types.ErrorKind(err),
		Message: err.Error(),
	})
}

// statusFor translates sentinel errors into HTTP statuses. Anything
// unmapped is an internal error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, types.ErrPortInUse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, types.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, types.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON request body into dst. Malformed bodies map
// to invalid input so writeError turns them into 400s.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("malformed JSON body: %v: %w", err, types.ErrInvalidInput)
	}
	return nil
}
