package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/referral-dashboard/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserRejected represents a declined wallet prompt (recoverable, re-offer the action)
	CategoryUserRejected ErrorCategory = "user_rejected"
	// CategoryWrongNetwork represents a chain mismatch (recoverable via switch or logout)
	CategoryWrongNetwork ErrorCategory = "wrong_network"
	// CategoryReadFailed represents a single unreachable data source
	CategoryReadFailed ErrorCategory = "read_failed"
	// CategoryNoConfirmationEvent represents a mined transaction without its expected event
	CategoryNoConfirmationEvent ErrorCategory = "no_confirmation_event"
	// CategoryProviderUnavailable represents a missing wallet provider
	CategoryProviderUnavailable ErrorCategory = "provider_unavailable"
	// CategoryNotConnected represents an action that needs a connected session
	CategoryNotConnected ErrorCategory = "not_connected"
	// CategoryTransactionFailed represents a write that could not be submitted or reverted
	CategoryTransactionFailed ErrorCategory = "transaction_failed"
	// CategoryValidation represents invalid input or on-chain values
	CategoryValidation ErrorCategory = "validation"
	// CategoryInternal represents unexpected internal errors
	CategoryInternal ErrorCategory = "internal"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Session errors

// NewUserRejectedError creates an error for a declined wallet prompt
func NewUserRejectedError(action string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserRejected,
		StatusCode: http.StatusConflict,
		Code:       "USER_REJECTED",
		Message:    fmt.Sprintf("user rejected %s", action),
		Cause:      cause,
		Details: map[string]interface{}{
			"action": action,
		},
	}
}

// NewNoAccountsError creates an error for a provider that exposes no accounts
func NewNoAccountsError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserRejected,
		StatusCode: http.StatusConflict,
		Code:       "NO_ACCOUNTS",
		Message:    "wallet did not authorize any account",
	}
}

// NewRequestPendingError creates an error for a wallet prompt that is already open
func NewRequestPendingError(action string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserRejected,
		StatusCode: http.StatusConflict,
		Code:       "REQUEST_PENDING",
		Message:    fmt.Sprintf("a %s request is already pending, check your wallet", action),
		Cause:      cause,
		Details: map[string]interface{}{
			"action": action,
		},
	}
}

// NewWrongNetworkError creates a chain mismatch error
func NewWrongNetworkError(chainID uint64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryWrongNetwork,
		StatusCode: http.StatusConflict,
		Code:       "WRONG_NETWORK",
		Message:    fmt.Sprintf("chain %d is not supported, switch to a supported network", chainID),
		Details: map[string]interface{}{
			"chainId": chainID,
		},
	}
}

// NewChainNotAddedError creates an error for a switch target the wallet does not know
func NewChainNotAddedError(chainID uint64, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryWrongNetwork,
		StatusCode: http.StatusConflict,
		Code:       "CHAIN_NOT_ADDED",
		Message:    fmt.Sprintf("chain %d is not configured in the wallet", chainID),
		Cause:      cause,
		Details: map[string]interface{}{
			"chainId": chainID,
		},
	}
}

// NewNotConnectedError creates an error for actions requiring a connected session
func NewNotConnectedError(status types.SessionStatus) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotConnected,
		StatusCode: http.StatusPreconditionFailed,
		Code:       "NOT_CONNECTED",
		Message:    "wallet session is not connected",
		Details: map[string]interface{}{
			"status": status,
		},
	}
}

// NewProviderUnavailableError creates an error for a wallet that was never discovered
func NewProviderUnavailableError(cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProviderUnavailable,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "PROVIDER_UNAVAILABLE",
		Message:    "no wallet provider detected, install or unlock a wallet",
		Cause:      cause,
	}
}

// NewStaleSnapshotError creates an error for a snapshot superseded by a session change
func NewStaleSnapshotError(generation uint64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotConnected,
		StatusCode: http.StatusConflict,
		Code:       "STALE_SNAPSHOT",
		Message:    "session changed while the dashboard was loading",
		Details: map[string]interface{}{
			"generation": generation,
		},
	}
}

// Read errors

// NewReadFailedError wraps a failed read-only contract call
func NewReadFailedError(method string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryReadFailed,
		StatusCode: http.StatusBadGateway,
		Code:       "READ_FAILED",
		Message:    fmt.Sprintf("contract read %s failed", method),
		Cause:      cause,
		Details: map[string]interface{}{
			"method": method,
		},
	}
}

// NewInvalidValueError creates an error for an on-chain value outside its valid range
func NewInvalidValueError(method, field string, value interface{}) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryReadFailed,
		StatusCode: http.StatusBadGateway,
		Code:       "INVALID_VALUE",
		Message:    fmt.Sprintf("contract read %s returned invalid %s: %v", method, field, value),
		Details: map[string]interface{}{
			"method": method,
			"field":  field,
			"value":  fmt.Sprint(value),
		},
	}
}

// Write errors

// NewTransactionFailedError creates an error for a write that failed before or during mining
func NewTransactionFailedError(method string, reason string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTransactionFailed,
		StatusCode: http.StatusBadGateway,
		Code:       "TRANSACTION_FAILED",
		Message:    fmt.Sprintf("%s transaction failed: %s", method, reason),
		Cause:      cause,
		Details: map[string]interface{}{
			"method": method,
		},
	}
}

// NewNoConfirmationEventError creates an error for a mined transaction missing its event.
// The transaction hash is always included because the value has already been spent.
func NewNoConfirmationEventError(method, event, txHash string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNoConfirmationEvent,
		StatusCode: http.StatusBadGateway,
		Code:       "NO_CONFIRMATION_EVENT",
		Message: fmt.Sprintf("%s transaction %s was mined without emitting %s; the registration fee was spent, contact support before retrying",
			method, txHash, event),
		Details: map[string]interface{}{
			"method": method,
			"event":  event,
			"txHash": txHash,
		},
	}
}

// Input errors

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInternal,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategoryInternal,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

// CategoryOf returns the category of err, or an empty category for nil
func CategoryOf(err error) ErrorCategory {
	if catErr := Categorize(err); catErr != nil {
		return catErr.Category
	}
	return ""
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsUserRejected reports whether err is a declined wallet prompt
func IsUserRejected(err error) bool {
	return err != nil && CategoryOf(err) == CategoryUserRejected
}

// IsWrongNetwork reports whether err is a chain mismatch
func IsWrongNetwork(err error) bool {
	return err != nil && CategoryOf(err) == CategoryWrongNetwork
}

// IsReadFailed reports whether err is a failed read
func IsReadFailed(err error) bool {
	return err != nil && CategoryOf(err) == CategoryReadFailed
}

// IsNoConfirmationEvent reports whether err is a mined transaction missing its event
func IsNoConfirmationEvent(err error) bool {
	return err != nil && CategoryOf(err) == CategoryNoConfirmationEvent
}

// IsProviderUnavailable reports whether err is a missing wallet provider
func IsProviderUnavailable(err error) bool {
	return err != nil && CategoryOf(err) == CategoryProviderUnavailable
}

// HasCode reports whether err carries the given error code
func HasCode(err error, code string) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Code == code
}

// ChainIDOf extracts the observed chain id from a wrong network error
func ChainIDOf(err error) (uint64, bool) {
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) || catErr.Details == nil {
		return 0, false
	}
	id, ok := catErr.Details["chainId"].(uint64)
	return id, ok
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
