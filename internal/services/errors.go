package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// ErrorKind categorizes a remote failure independently of the provider.
type ErrorKind string

const (
	KindQuotaExceeded      ErrorKind = "quota_exceeded"
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindInvalidInput       ErrorKind = "invalid_input"
	KindTransient          ErrorKind = "transient"
	KindUnknown            ErrorKind = "unknown"
)

var kindMessages = map[ErrorKind]string{
	KindQuotaExceeded:      "the AI service quota has been exceeded, please wait before trying again",
	KindInvalidCredentials: "the AI service rejected the configured credentials",
	KindInvalidInput:       "the request was rejected by the AI service (invalid input or safety filter)",
	KindTransient:          "could not reach the AI service, please check the connection and try again",
	KindUnknown:            "the AI service returned an unexpected response",
}

// ServiceError is the only error shape returned by the remote clients.
type ServiceError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, kindMessages[e.Kind])
}

func (e *ServiceError) Unwrap() error { return e.Err }

// statusError records a non-2xx answer from a REST provider.
type statusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Status, e.Body)
}

// integrityError marks a response that arrived but could not be used.
func integrityError(op string, format string, args ...any) error {
	return &ServiceError{Op: op, Kind: KindUnknown, Err: fmt.Errorf(format, args...)}
}

// Classify wraps err into a ServiceError for op. Cancellation passes through
// untouched; errors that are already classified keep their kind.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return &ServiceError{Op: op, Kind: se.Kind, Err: se.Err}
	}
	return &ServiceError{Op: op, Kind: kindOf(err), Err: err}
}

func kindOf(err error) ErrorKind {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return kindForStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return kindForStatus(reqErr.HTTPStatusCode)
	}
	var stErr *statusError
	if errors.As(err, &stErr) {
		return kindForStatus(stErr.Status)
	}
	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) && genaiErr.Code != 0 {
		return kindForStatus(genaiErr.Code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	// Fallback for failures that only surface as text, such as a failed
	// operation's error message.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "quota") || strings.Contains(msg, "429"):
		return KindQuotaExceeded
	case strings.Contains(msg, "api key") || strings.Contains(msg, "permission_denied") || strings.Contains(msg, "unauthenticated"):
		return KindInvalidCredentials
	case strings.Contains(msg, "invalid_argument") || strings.Contains(msg, "safety") || strings.Contains(msg, "blocked"):
		return KindInvalidInput
	case strings.Contains(msg, "unavailable") || strings.Contains(msg, "connection"):
		return KindTransient
	}
	return KindUnknown
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindQuotaExceeded
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindInvalidCredentials
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindInvalidInput
	case status >= 500:
		return KindTransient
	}
	return KindUnknown
}
