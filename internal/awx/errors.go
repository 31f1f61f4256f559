package awx

import "fmt"

// AuthError indicates the controller rejected the credentials (401) or the
// authenticated user lacks access (403). Both block the operation the same way.
type AuthError struct {
	Detail string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("awx authentication error: %s", e.Detail)
}

// NotFoundError indicates a 404 from the controller, or that every recovery
// path for the requested data came up empty.
type NotFoundError struct {
	Endpoint string
	Detail   string
}

func (e *NotFoundError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("awx resource not found: %s - %s", e.Endpoint, e.Detail)
	}
	return fmt.Sprintf("awx resource not found: %s", e.Endpoint)
}

// ConnectionError wraps a network-level failure (connect refused, DNS,
// timeout). These are the only errors the client retries.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to reach awx at %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// APIError is any other application-level failure (>=400) from the
// controller. Deterministic, never retried.
type APIError struct {
	StatusCode int
	Endpoint   string
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("awx api error %d on %s: %s", e.StatusCode, e.Endpoint, e.Detail)
}
