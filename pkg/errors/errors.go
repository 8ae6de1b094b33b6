package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
)

// Error codes
const (
	CodeAPIError      = "API_ERROR"
	CodeValidation    = "VALIDATION_ERROR"
	CodeCache         = "CACHE_ERROR"
	CodeMalformed     = "MALFORMED_RECORD"
	CodeMissingField  = "MISSING_FIELD"
	CodeTransport     = "TRANSPORT_ERROR"
	CodeHTTPStatus    = "HTTP_STATUS"
	CodeRequestFailed = "REQUEST_FAILED"
	CodeEmptyCorpus   = "EMPTY_CORPUS"
)

const (
	upstreamRateLimit = -412
	statusRateLimited = http.StatusPreconditionFailed
)

type DanmakuError struct {
	Message    string
	Code       string
	StatusCode int
	Context    map[string]any
	Cause      error
}

func (e *DanmakuError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *DanmakuError) Unwrap() error {
	return e.Cause
}

// APIError is a JSON envelope from the platform whose code field is non-zero.
type APIError struct {
	*DanmakuError
	Endpoint     string
	UpstreamCode int
}

func NewAPIError(message, endpoint string, upstreamCode int) *APIError {
	return &APIError{
		DanmakuError: &DanmakuError{
			Message:    message,
			Code:       CodeAPIError,
			StatusCode: http.StatusOK,
			Context: map[string]any{
				"endpoint":      endpoint,
				"upstream_code": upstreamCode,
			},
		},
		Endpoint:     endpoint,
		UpstreamCode: upstreamCode,
	}
}

func (e *APIError) IsRateLimited() bool {
	return e.UpstreamCode == upstreamRateLimit
}

type ValidationError struct {
	*DanmakuError
	Field string
	Value interface{}
}

func NewValidationError(message, field string, value interface{}) *ValidationError {
	return &ValidationError{
		DanmakuError: &DanmakuError{
			Message:    message,
			Code:       CodeValidation,
			StatusCode: 400,
			Context: map[string]any{
				"field": field,
				"value": value,
			},
		},
		Field: field,
		Value: value,
	}
}

type CacheError struct {
	*DanmakuError
	Operation string
	Key       string
}

func NewCacheError(message, operation, key string, cause error) *CacheError {
	return &CacheError{
		DanmakuError: &DanmakuError{
			Message:    message,
			Code:       CodeCache,
			StatusCode: 500,
			Context: map[string]any{
				"operation": operation,
				"key":       key,
			},
			Cause: cause,
		},
		Operation: operation,
		Key:       key,
	}
}

// MalformedRecordError reports a comment attribute string that does not
// follow the documented field layout.
type MalformedRecordError struct {
	*DanmakuError
	Raw        string
	FieldCount int
}

func NewMalformedRecordError(message, raw string, fieldCount int, cause error) *MalformedRecordError {
	return &MalformedRecordError{
		DanmakuError: &DanmakuError{
			Message: message,
			Code:    CodeMalformed,
			Context: map[string]any{
				"raw":         raw,
				"field_count": fieldCount,
			},
			Cause: cause,
		},
		Raw:        raw,
		FieldCount: fieldCount,
	}
}

type MissingFieldError struct {
	*DanmakuError
	Field string
}

func NewMissingFieldError(field string) *MissingFieldError {
	return &MissingFieldError{
		DanmakuError: &DanmakuError{
			Message: fmt.Sprintf("payload missing required field %q", field),
			Code:    CodeMissingField,
			Context: map[string]any{"field": field},
		},
		Field: field,
	}
}

// TransportError covers connection failures and timeouts.
type TransportError struct {
	*DanmakuError
	URL string
}

func NewTransportError(rawURL string, cause error) *TransportError {
	return &TransportError{
		DanmakuError: &DanmakuError{
			Message: fmt.Sprintf("transport failure for %s", rawURL),
			Code:    CodeTransport,
			Context: map[string]any{"url": rawURL},
			Cause:   cause,
		},
		URL: rawURL,
	}
}

type HTTPStatusError struct {
	*DanmakuError
	URL string
}

func NewHTTPStatusError(statusCode int, rawURL string) *HTTPStatusError {
	return &HTTPStatusError{
		DanmakuError: &DanmakuError{
			Message:    fmt.Sprintf("HTTP %d when requesting %s", statusCode, rawURL),
			Code:       CodeHTTPStatus,
			StatusCode: statusCode,
			Context:    map[string]any{"url": rawURL},
		},
		URL: rawURL,
	}
}

// IsRateLimited reports whether the platform's abuse defense rejected the request.
func (e *HTTPStatusError) IsRateLimited() bool {
	return e.StatusCode == statusRateLimited
}

// RequestError is returned once every attempt for a logical request failed.
// Cause holds the failure of the final attempt.
type RequestError struct {
	*DanmakuError
	Endpoint string
	Params   url.Values
	Attempts int
}

func NewRequestError(endpoint string, params url.Values, attempts int, cause error) *RequestError {
	encoded := ""
	if params != nil {
		encoded = params.Encode()
	}
	return &RequestError{
		DanmakuError: &DanmakuError{
			Message: fmt.Sprintf("request to %s failed after %d attempts (params: %s)", endpoint, attempts, encoded),
			Code:    CodeRequestFailed,
			Context: map[string]any{
				"endpoint": endpoint,
				"params":   encoded,
				"attempts": attempts,
			},
			Cause: cause,
		},
		Endpoint: endpoint,
		Params:   params,
		Attempts: attempts,
	}
}

type EmptyCorpusError struct {
	*DanmakuError
	Stage string
}

func NewEmptyCorpusError(stage, message string) *EmptyCorpusError {
	return &EmptyCorpusError{
		DanmakuError: &DanmakuError{
			Message: message,
			Code:    CodeEmptyCorpus,
			Context: map[string]any{"stage": stage},
		},
		Stage: stage,
	}
}

// Is and As forward to the standard library so callers importing this
// package as "errors" keep the usual helpers.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}

func New(text string) error {
	return stderrors.New(text)
}

// IsRateLimited reports whether err, or anything it wraps, is an HTTP 412
// response or an upstream -412 envelope.
func IsRateLimited(err error) bool {
	var statusErr *HTTPStatusError
	if stderrors.As(err, &statusErr) && statusErr.IsRateLimited() {
		return true
	}
	var apiErr *APIError
	return stderrors.As(err, &apiErr) && apiErr.IsRateLimited()
}

// IsRetryable reports whether a single attempt failure should be retried.
func IsRetryable(err error) bool {
	var transportErr *TransportError
	if stderrors.As(err, &transportErr) {
		return true
	}
	var statusErr *HTTPStatusError
	return stderrors.As(err, &statusErr)
}

func IsEmptyCorpus(err error) bool {
	var corpusErr *EmptyCorpusError
	return stderrors.As(err, &corpusErr)
}

// RateLimitURL returns the URL of the first rate-limited response in the chain.
func RateLimitURL(err error) string {
	var statusErr *HTTPStatusError
	if stderrors.As(err, &statusErr) {
		return statusErr.URL
	}
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.Endpoint
	}
	return ""
}
