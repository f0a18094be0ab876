package billing

import (
	"errors"
	"fmt"

	"github.com/academy/backend/internal/domain/shared"
)

// Error codes of the billing error taxonomy
const (
	CodeGatewayUnavailable = "GATEWAY_UNAVAILABLE"
	CodeGatewayRejected    = "GATEWAY_REJECTED"
	CodePreconditionFailed = "PRECONDITION_FAILED"
	CodeNotFound           = "NOT_FOUND"
	CodeIntegrityViolation = "INTEGRITY_VIOLATION"
	CodeConcurrentUpdate   = "CONCURRENCY_CONFLICT"
	CodeInvalidInput       = "INVALID_INPUT"
)

// Transport-level gateway errors. Adapters wrap these with fmt.Errorf("%w: ...")
// so callers can branch with errors.Is.
var (
	ErrGatewayUnavailable = errors.New("paysam: gateway unavailable")
	ErrGatewayRejected    = errors.New("paysam: gateway rejected request")
)

// NewPreconditionFailed reports that the current state does not permit a transition
func NewPreconditionFailed(format string, args ...any) *shared.DomainError {
	return shared.NewDomainError(CodePreconditionFailed, fmt.Sprintf(format, args...))
}

// NewIntegrityViolation reports a request that would break a ledger invariant
func NewIntegrityViolation(format string, args ...any) *shared.DomainError {
	return shared.NewDomainError(CodeIntegrityViolation, fmt.Sprintf(format, args...))
}

// NewNotFound reports a missing charge or bill
func NewNotFound(format string, args ...any) *shared.DomainError {
	return shared.NewDomainError(CodeNotFound, fmt.Sprintf(format, args...))
}

// NewConcurrentUpdate reports that the row changed between validation and write
func NewConcurrentUpdate(format string, args ...any) *shared.DomainError {
	return shared.NewDomainError(CodeConcurrentUpdate, fmt.Sprintf(format, args...))
}

// NewInvalidInput reports a malformed request
func NewInvalidInput(format string, args ...any) *shared.DomainError {
	return shared.NewDomainError(CodeInvalidInput, fmt.Sprintf(format, args...))
}

// TranslateGatewayError converts an adapter error into a staff-facing domain
// error. The raw error stays reachable through Unwrap.
func TranslateGatewayError(op string, err error) error {
	if err == nil {
		return nil
	}
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, ErrGatewayRejected) {
		return shared.WrapDomainError(CodeGatewayRejected,
			fmt.Sprintf("payment gateway rejected %s; check payer details and retry manually", op), err)
	}
	return shared.WrapDomainError(CodeGatewayUnavailable,
		fmt.Sprintf("payment gateway is unavailable for %s; retry later", op), err)
}

// IsRetryable reports whether err is a transient gateway failure
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable)
}

// HasCode reports whether err is a domain error with the given code
func HasCode(err error, code string) bool {
	var domainErr *shared.DomainError
	return errors.As(err, &domainErr) && domainErr.Code == code
}
