package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/errors"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// errorEnvelope is the pkg/httputil error body every ShareUpTime service
// writes.
type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// statusErrors rebuilds the caller-facing AppError for the statuses whose
// meaning survives a hop.
var statusErrors = map[int]func(message string) *apperrors.AppError{
	http.StatusBadRequest:   apperrors.InvalidInput,
	http.StatusUnauthorized: apperrors.Unauthorized,
	http.StatusForbidden:    apperrors.Forbidden,
	http.StatusNotFound: func(message string) *apperrors.AppError {
		return &apperrors.AppError{Code: "NOT_FOUND", Message: message, Status: http.StatusNotFound, Err: apperrors.ErrNotFound}
	},
	http.StatusConflict:           apperrors.Conflict,
	http.StatusServiceUnavailable: apperrors.ServiceUnavailable,
}

// ParseResponseError turns a non-2xx response from service into an error and
// closes the body. An error envelope in a 4xx or 503 answer becomes an
// *apperrors.AppError carrying the same status; any other answer becomes a
// plain error naming the service and status.
func ParseResponseError(resp *http.Response, service string) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("%s answered %d, reading body: %w", service, resp.StatusCode, err)
	}

	var env errorEnvelope
	if json.Unmarshal(body, &env) != nil || env.Error == nil {
		return fmt.Errorf("%s answered %d: %s", service, resp.StatusCode, body)
	}
	message := service + ": " + env.Error.Message

	if build, ok := statusErrors[resp.StatusCode]; ok {
		return build(message)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%s answered %d (%s): %s", service, resp.StatusCode, env.Error.Code, env.Error.Message)
	}
	return &apperrors.AppError{Code: env.Error.Code, Message: message, Status: resp.StatusCode}
}
