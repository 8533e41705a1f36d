package domain

import "fmt"

// Error types for consistent error handling across the engine.
//
// Two channels exist on purpose: fatal setup failures (no connection,
// expired token) surface as typed errors that abort a run, while
// per-transaction failures are caught, logged and skipped.

// ErrorCode identifies a failure class on the gateway boundary.
type ErrorCode string

const (
	CodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	CodeTokenExpired       ErrorCode = "TOKEN_EXPIRED"
	CodeNoConnection       ErrorCode = "NO_CONNECTION"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeRateLimited        ErrorCode = "RATE_LIMITED"
)

// ErrAuth indicates a fatal authentication problem for a (bank, company)
// pairing: missing connection, expired token, rejected credentials.
type ErrAuth struct {
	Code     ErrorCode
	BankCode string
}

func (e *ErrAuth) Error() string {
	return fmt.Sprintf("auth error [%s]: %s", e.BankCode, e.Code)
}

// ErrTransport indicates a transient transport failure against a bank API.
type ErrTransport struct {
	Code     ErrorCode // TIMEOUT or SERVICE_UNAVAILABLE
	BankCode string
	Status   int
}

func (e *ErrTransport) Error() string {
	return fmt.Sprintf("transport error [%s]: %s (status %d)", e.BankCode, e.Code, e.Status)
}

// ErrRateLimited indicates the bank quota was exceeded.
type ErrRateLimited struct {
	BankCode string
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limited by bank %s", e.BankCode)
}

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrValidation indicates a value outside configured bounds (bad amount,
// unknown currency).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrPersistence indicates an unexpected storage failure, typically while
// posting a payment. Callers treat it as soft: log and continue the batch.
type ErrPersistence struct {
	Op  string
	Err error
}

func (e *ErrPersistence) Error() string {
	return fmt.Sprintf("persistence error [%s]: %v", e.Op, e.Err)
}

func (e *ErrPersistence) Unwrap() error {
	return e.Err
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}
