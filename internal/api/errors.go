// Package api provides an HTTP client for the job platform API: request
// construction, bearer credential attachment through a pluggable
// Authenticator, the retry-once-after-renewal discipline, and error
// classification.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, api.ErrNotFound) to check.
var (
	ErrBadRequest    = errors.New("api: bad request")
	ErrUnauthorized  = errors.New("api: unauthorized")
	ErrForbidden     = errors.New("api: forbidden")
	ErrNotFound      = errors.New("api: not found")
	ErrConflict      = errors.New("api: conflict")
	ErrUnprocessable = errors.New("api: unprocessable entity")
	ErrThrottled     = errors.New("api: throttled")
	ErrServerError   = errors.New("api: server error")
)

var (
	// ErrNotAuthenticated is returned before any network I/O when an
	// authenticated request is attempted without an access credential.
	ErrNotAuthenticated = errors.New("api: not authenticated")

	// ErrNetwork wraps transport-level failures (DNS, connection refused,
	// TLS, reset). These are never retried.
	ErrNetwork = errors.New("api: network error")

	// ErrValidation is the parent of every client-side precondition failure.
	// Such failures never reach the network.
	ErrValidation = errors.New("validation failed")
)

// APIError wraps a sentinel error with HTTP status code, request ID,
// and the server's human-readable message.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string // server "detail" verbatim when present, else the raw body
	Err        error  // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("api: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Message returns the human-readable server message carried by err, or
// err.Error() when err is not an *APIError.
func Message(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}

	return err.Error()
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes with no dedicated sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnprocessableEntity:
		return ErrUnprocessable
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// errorBody mirrors the server's error envelope. detail is either a string
// or, for request validation failures, a list of {loc, msg, type} entries.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

type validationEntry struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

// errorMessage extracts the server's message from an error response body.
func errorMessage(code int, body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return http.StatusText(code)
	}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || len(eb.Detail) == 0 {
		return trimmed
	}

	var detail string
	if err := json.Unmarshal(eb.Detail, &detail); err == nil {
		return detail
	}

	var entries []validationEntry
	if err := json.Unmarshal(eb.Detail, &entries); err == nil && len(entries) > 0 {
		msgs := make([]string, 0, len(entries))

		for _, e := range entries {
			if field := lastLoc(e.Loc); field != "" {
				msgs = append(msgs, field+": "+e.Msg)
				continue
			}

			msgs = append(msgs, e.Msg)
		}

		return strings.Join(msgs, "; ")
	}

	return trimmed
}

// lastLoc returns the final string element of a validation location path,
// e.g. ["body", "password"] -> "password".
func lastLoc(loc []any) string {
	for i := len(loc) - 1; i >= 0; i-- {
		if s, ok := loc[i].(string); ok {
			return s
		}
	}

	return ""
}
