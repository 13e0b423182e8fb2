package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/quay/zlog"

	"github.com/oasishq/oasis"
	"github.com/oasishq/oasis/datastore"
)

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// listResponse is the envelope for paginated collections.
type listResponse[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
}

// statusForKind maps the error taxonomy onto HTTP status codes.
func statusForKind(k oasis.ErrorKind) int {
	switch k {
	case oasis.ErrValidation:
		return http.StatusBadRequest
	case oasis.ErrUnauthorized:
		return http.StatusUnauthorized
	case oasis.ErrForbidden:
		return http.StatusForbidden
	case oasis.ErrNotFound:
		return http.StatusNotFound
	case oasis.ErrConflict:
		return http.StatusConflict
	case oasis.ErrStorageUnavailable:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError translates a service error into an HTTP response. This is the
// single point where the error taxonomy meets status codes; handlers pass
// errors through untouched.
//
// Anything that maps to a 5xx gets its full chain logged and a generic body,
// so internals never leak to callers.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	resp := &errorResponse{
		Code:    string(oasis.ErrInternal),
		Message: "internal server error",
	}
	status := http.StatusInternalServerError
	var oe *oasis.Error
	if errors.As(err, &oe) && oe.Kind != "" {
		status = statusForKind(oe.Kind)
		if status < http.StatusInternalServerError {
			resp.Code = string(oe.Kind)
			if oe.Code != "" {
				resp.Code = oe.Code
			}
			resp.Message = oe.Message
		}
	}
	if status >= http.StatusInternalServerError {
		zlog.Error(ctx).
			Err(err).
			Msg("request failed")
	}
	writeJSON(ctx, w, status, resp)
}

// writeJSON marshals v as the response body. Marshal failures after the
// header has been written can only be logged.
func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Warn(ctx).
			Err(err).
			Msg("failed to encode response body")
	}
}

// decodeJSON reads the request body into v. Oversized bodies surface with a
// distinct code so clients can tell truncation from malformed JSON.
func decodeJSON(r *http.Request, v interface{}) error {
	const op = `httptransport/decodeJSON`
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &oasis.Error{
				Op:      op,
				Kind:    oasis.ErrValidation,
				Code:    "body_too_large",
				Message: "request body exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes",
			}
		}
		return &oasis.Error{
			Op:      op,
			Kind:    oasis.ErrValidation,
			Message: "malformed request body: " + err.Error(),
			Inner:   err,
		}
	}
	return nil
}

// pageFrom reads limit and offset query parameters. Non-numeric values are
// treated as absent; the store clamps the rest.
func pageFrom(r *http.Request) datastore.Page {
	var p datastore.Page
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.Offset = n
		}
	}
	return p
}
