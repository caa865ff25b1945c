package providers

import (
	"fmt"
)

// ValidationError reports missing or malformed caller input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func Invalidf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

type UnsupportedProviderError struct {
	Provider string
	Reserved bool
}

func (e *UnsupportedProviderError) Error() string {
	if e.Reserved {
		return fmt.Sprintf("provider %q is not implemented yet", e.Provider)
	}
	return fmt.Sprintf("unsupported provider %q", e.Provider)
}

// ProviderHTTPError is a non-2xx answer from the provider.
type ProviderHTTPError struct {
	Provider string
	Status   int
	Message  string
}

func (e *ProviderHTTPError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.Status, e.Message)
}

// ProviderNetworkError is a transport failure: DNS, timeout, refused
// connection, or a request the transport would not send.
type ProviderNetworkError struct {
	Provider string
	Cause    error
}

func (e *ProviderNetworkError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Provider, e.Cause)
}

func (e *ProviderNetworkError) Unwrap() error { return e.Cause }

// ResponseTooLargeError is a 2xx answer whose body exceeds the read limit.
// The body is discarded rather than passed on truncated.
type ResponseTooLargeError struct {
	Provider string
	Limit    int64
}

func (e *ResponseTooLargeError) Error() string {
	return fmt.Sprintf("%s response exceeds %d bytes", e.Provider, e.Limit)
}

// ExtractionError means the provider answered but not in the expected shape.
type ExtractionError struct {
	Provider string
	Shape    string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("could not extract %s reply from response: %s", e.Provider, e.Shape)
}
