package types

import "fmt"

// Category groups error codes by how the caller should react.
type Category string

const (
	// CategoryValidation errors are recoverable by resubmitting corrected input.
	CategoryValidation Category = "VALIDATION"
	// CategoryAuthorization errors are hard rejections and must not be retried.
	CategoryAuthorization Category = "AUTHORIZATION"
	// CategoryConservation errors indicate an attempted double-spend and are
	// always rejected without partial application.
	CategoryConservation Category = "CONSERVATION"
	// CategoryConcurrency errors are expected under load; callers retry with backoff.
	CategoryConcurrency Category = "CONCURRENCY"
	// CategoryNotFound errors indicate a missing record.
	CategoryNotFound Category = "NOT_FOUND"
)

// Error is a domain error with a stable machine-readable code.
type Error struct {
	Code     string
	Category Category
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithMessage returns a copy of the error carrying additional detail.
// The code and category are preserved so clients can still dispatch on them.
func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	return &Error{
		Code:     e.Code,
		Category: e.Category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Is makes errors.Is match on the stable code rather than the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Validation errors
var (
	ErrStaleSubmission = &Error{Code: "STALE_SUBMISSION", Category: CategoryValidation,
		Message: "reading timestamp is not newer than the last accepted reading"}
	ErrFutureReading = &Error{Code: "FUTURE_READING", Category: CategoryValidation,
		Message: "reading timestamp is too far in the future"}
	ErrRateLimited = &Error{Code: "RATE_LIMITED", Category: CategoryValidation,
		Message: "reading submitted before the minimum interval elapsed"}
	ErrOutOfRange = &Error{Code: "OUT_OF_RANGE", Category: CategoryValidation,
		Message: "reading delta exceeds the configured ceiling"}
	ErrAnomalousRatio = &Error{Code: "ANOMALOUS_RATIO", Category: CategoryValidation,
		Message: "production to consumption ratio exceeds the configured maximum"}
	ErrInvalidPrice = &Error{Code: "INVALID_PRICE", Category: CategoryValidation,
		Message: "limit price must be greater than zero"}
	ErrInvalidQuantity = &Error{Code: "INVALID_QUANTITY", Category: CategoryValidation,
		Message: "quantity must be greater than zero"}
	ErrInvalidSignature = &Error{Code: "INVALID_SIGNATURE", Category: CategoryValidation,
		Message: "reading authenticator does not verify"}
	ErrAmountOverflow = &Error{Code: "AMOUNT_OVERFLOW", Category: CategoryValidation,
		Message: "arithmetic would overflow the fixed-precision range"}
	ErrDeviceInactive = &Error{Code: "DEVICE_INACTIVE", Category: CategoryValidation,
		Message: "device is not active"}
	ErrBelowMinimumAmount = &Error{Code: "BELOW_MINIMUM_AMOUNT", Category: CategoryValidation,
		Message: "amount is below the configured minimum"}
	ErrExceedsMaximumAmount = &Error{Code: "EXCEEDS_MAXIMUM_AMOUNT", Category: CategoryValidation,
		Message: "amount exceeds the configured maximum"}
	ErrCertificateExpired = &Error{Code: "CERTIFICATE_EXPIRED", Category: CategoryValidation,
		Message: "certificate validity period has elapsed"}
)

// Authorization errors
var (
	ErrUnauthorizedCaller = &Error{Code: "UNAUTHORIZED_CALLER", Category: CategoryAuthorization,
		Message: "caller is not authorized for this operation"}
	ErrUnauthorizedSubmitter = &Error{Code: "UNAUTHORIZED_SUBMITTER", Category: CategoryAuthorization,
		Message: "submitter is not in the authorized set"}
	ErrCertificateNotActive = &Error{Code: "CERTIFICATE_NOT_ACTIVE", Category: CategoryAuthorization,
		Message: "certificate is not in active status"}
)

// Conservation errors
var (
	ErrInsufficientUnclaimedGeneration = &Error{Code: "INSUFFICIENT_UNCLAIMED_GENERATION", Category: CategoryConservation,
		Message: "claim exceeds the device's unclaimed net generation"}
	ErrInsufficientBalance = &Error{Code: "INSUFFICIENT_BALANCE", Category: CategoryConservation,
		Message: "amount exceeds the account balance"}
	ErrInsufficientEscrow = &Error{Code: "INSUFFICIENT_ESCROW", Category: CategoryConservation,
		Message: "amount exceeds the escrowed quantity"}
)

// Trading errors
var (
	ErrSelfTrade = &Error{Code: "SELF_TRADE", Category: CategoryValidation,
		Message: "bid and ask are owned by the same account"}
	ErrPriceIncompatible = &Error{Code: "PRICE_INCOMPATIBLE", Category: CategoryValidation,
		Message: "bid limit price is below the ask limit price"}
	ErrAlreadyTerminal = &Error{Code: "ALREADY_TERMINAL", Category: CategoryValidation,
		Message: "order is already in a terminal state"}
	ErrOrderExpired = &Error{Code: "ORDER_EXPIRED", Category: CategoryValidation,
		Message: "order has passed its expiry time"}
	ErrInvalidStatus = &Error{Code: "INVALID_STATUS", Category: CategoryValidation,
		Message: "record is not in a status that permits this transition"}
)

// Concurrency and lookup errors
var (
	ErrWriteConflict = &Error{Code: "WRITE_CONFLICT", Category: CategoryConcurrency,
		Message: "record was modified by a concurrent transition, retry"}
	ErrNotFound = &Error{Code: "NOT_FOUND", Category: CategoryNotFound,
		Message: "record not found"}
)
