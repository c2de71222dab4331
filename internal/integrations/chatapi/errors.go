package chatapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

type ErrorKind string

const (
	ErrorNotFound      ErrorKind = "NOT_FOUND"
	ErrorValidation    ErrorKind = "VALIDATION_ERROR"
	ErrorAuth          ErrorKind = "AUTH_ERROR"
	ErrorTransport     ErrorKind = "TRANSPORT_ERROR"
	ErrorUnknownServer ErrorKind = "UNKNOWN_SERVER_ERROR"
)

const authFailedMessage = "Authentication failed. Please check your API credentials."

// Error is a normalized API failure. Error() returns a message fit for display.
type Error struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// HTTPStatusCode returns the backend status, or 0 when no response was received.
func (e *Error) HTTPStatusCode() int {
	return e.StatusCode
}

// KindOf reports the kind of a normalized API error.
func KindOf(err error) (ErrorKind, bool) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return "", false
	}
	return apiErr.Kind, true
}

func IsNotFound(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == ErrorNotFound
}

func IsValidation(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == ErrorValidation
}

func IsAuth(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == ErrorAuth
}

// HTTPStatusError captures non-2xx responses from the chat backend.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	URL        string
	Body       []byte
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("chatapi: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// statusLine renders "<code> <reason phrase>", preferring the phrase the
// server sent over the canonical one.
func (e *HTTPStatusError) statusLine() string {
	code := strconv.Itoa(e.StatusCode)
	reason := strings.TrimSpace(strings.TrimPrefix(e.Status, code))
	if reason == "" {
		reason = http.StatusText(e.StatusCode)
	}
	if reason == "" {
		return code
	}
	return code + " " + reason
}

// decodeError marks a 2xx response whose body could not be decoded.
type decodeError struct {
	err error
}

func (e *decodeError) Error() string {
	return "chatapi: decode response: " + e.err.Error()
}

func (e *decodeError) Unwrap() error {
	return e.err
}

// credentialsError marks a failure to resolve the bearer token.
type credentialsError struct {
	err error
}

func (e *credentialsError) Error() string {
	return "chatapi: resolve credentials: " + e.err.Error()
}

func (e *credentialsError) Unwrap() error {
	return e.err
}

// statusRule overrides the message for one status code of one operation.
type statusRule struct {
	status  int
	kind    ErrorKind
	message func(body []byte) string
}

func notFoundRule(conversationID int) statusRule {
	return statusRule{
		status: http.StatusNotFound,
		kind:   ErrorNotFound,
		message: func([]byte) string {
			return fmt.Sprintf("Conversation %d not found", conversationID)
		},
	}
}

var invalidRequestRule = statusRule{
	status: http.StatusBadRequest,
	kind:   ErrorValidation,
	message: func(body []byte) string {
		return "Invalid request: " + payloadJSON(body)
	},
}

var authFailedRule = statusRule{
	status: http.StatusUnauthorized,
	kind:   ErrorAuth,
	message: func([]byte) string {
		return authFailedMessage
	},
}

// normalize converts a request failure into an *Error. Operation-specific
// rules win; otherwise the message is the backend "error" field, then the
// "detail" field, then the status line, then the transport error, then
// fallback.
func normalize(op, fallback string, err error, rules ...statusRule) *Error {
	out := &Error{Op: op, Err: err}

	var statusErr *HTTPStatusError
	var decErr *decodeError
	var credErr *credentialsError
	switch {
	case errors.As(err, &statusErr):
		out.StatusCode = statusErr.StatusCode
		for _, r := range rules {
			if r.status == statusErr.StatusCode {
				out.Kind = r.kind
				out.Message = r.message(statusErr.Body)
				return out
			}
		}
		out.Kind = kindForStatus(statusErr.StatusCode)
		out.Message = bodyMessage(statusErr.Body)
		if out.Message == "" {
			out.Message = statusErr.statusLine()
		}
	case errors.As(err, &decErr):
		out.Kind = ErrorUnknownServer
		out.Message = fallback + ": invalid response body"
	case errors.As(err, &credErr):
		out.Kind = ErrorAuth
		out.Message = "Failed to resolve API credentials: " + credErr.err.Error()
	default:
		out.Kind = ErrorTransport
		if err != nil {
			out.Message = err.Error()
		}
	}
	if out.Message == "" {
		out.Message = fallback
	}
	return out
}

func kindForStatus(status int) ErrorKind {
	switch status {
	case http.StatusNotFound:
		return ErrorNotFound
	case http.StatusBadRequest:
		return ErrorValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrorAuth
	default:
		return ErrorUnknownServer
	}
}

// bodyMessage extracts the "error" field, then the "detail" field, from a JSON
// error body. Non-string values are ignored.
func bodyMessage(body []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"error", "detail"} {
		if s, ok := fields[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// payloadJSON serializes a validation payload for display. JSON bodies are
// compacted; anything else is rendered as a JSON string.
func payloadJSON(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err == nil {
			return buf.String()
		}
	}
	quoted, _ := json.Marshal(string(body))
	return string(quoted)
}
