// Package errors defines the categorized error taxonomy of the vault ledger.
//
// Every ledger failure is a *CategorizedError carrying a stable Code. Callers match
// failures with errors.Is against the exported sentinels, which compare by Code only,
// so details and causes attached at the failure site do not affect matching.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/yield-vault/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents rejected input; nothing was mutated
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents unknown vaults or strategies
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents operations incompatible with current ledger state
	CategoryConflict ErrorCategory = "conflict"
	// CategoryProvider represents failures of an external strategy unit
	CategoryProvider ErrorCategory = "provider"
	// CategoryIntegrity represents protocol violations reported by a strategy unit
	CategoryIntegrity ErrorCategory = "integrity"
	// CategorySystem represents internal errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents cache errors
	CategoryCache ErrorCategory = "cache"
	// CategoryRateLimit represents rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
)

// Error codes
const (
	CodeInvalidAmount                = "INVALID_AMOUNT"
	CodeDepositLimitExceeded         = "DEPOSIT_LIMIT_EXCEEDED"
	CodeUnknownStrategy              = "UNKNOWN_STRATEGY"
	CodeDebtRatioExceedsCeiling      = "DEBT_RATIO_EXCEEDS_CEILING"
	CodeSlippageExceeded             = "SLIPPAGE_EXCEEDED"
	CodeStrategyUnresponsive         = "STRATEGY_UNRESPONSIVE"
	CodeInconsistentLoss             = "INCONSISTENT_LOSS"
	CodeMigrationTargetAlreadyActive = "MIGRATION_TARGET_ALREADY_ACTIVE"
	CodeVaultShutDown                = "VAULT_SHUT_DOWN"
	CodeStrategyBusy                 = "STRATEGY_BUSY"
	CodeStrategyCapacityReached      = "STRATEGY_CAPACITY_REACHED"
	CodeStrategyAlreadyRegistered    = "STRATEGY_ALREADY_REGISTERED"
	CodeStrategyNotActive            = "STRATEGY_NOT_ACTIVE"
	CodeStrategyHasDebt              = "STRATEGY_HAS_DEBT"
	CodeInsufficientFunds            = "INSUFFICIENT_FUNDS"
	CodeVaultNotFound                = "VAULT_NOT_FOUND"
	CodeRateLimitExceeded            = "RATE_LIMIT_EXCEEDED"
	CodeInternalError                = "INTERNAL_ERROR"
	CodeDatabaseError                = "DATABASE_ERROR"
	CodeCacheError                   = "CACHE_ERROR"
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

// Is matches any *CategorizedError with the same code
func (e *CategorizedError) Is(target error) bool {
	t, ok := target.(*CategorizedError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Sentinels for errors.Is matching.
var (
	ErrInvalidAmount                = &CategorizedError{Code: CodeInvalidAmount}
	ErrDepositLimitExceeded         = &CategorizedError{Code: CodeDepositLimitExceeded}
	ErrUnknownStrategy              = &CategorizedError{Code: CodeUnknownStrategy}
	ErrDebtRatioExceedsCeiling      = &CategorizedError{Code: CodeDebtRatioExceedsCeiling}
	ErrSlippageExceeded             = &CategorizedError{Code: CodeSlippageExceeded}
	ErrStrategyUnresponsive         = &CategorizedError{Code: CodeStrategyUnresponsive}
	ErrInconsistentLoss             = &CategorizedError{Code: CodeInconsistentLoss}
	ErrMigrationTargetAlreadyActive = &CategorizedError{Code: CodeMigrationTargetAlreadyActive}
	ErrVaultShutDown                = &CategorizedError{Code: CodeVaultShutDown}
	ErrStrategyBusy                 = &CategorizedError{Code: CodeStrategyBusy}
	ErrStrategyCapacityReached      = &CategorizedError{Code: CodeStrategyCapacityReached}
	ErrStrategyAlreadyRegistered    = &CategorizedError{Code: CodeStrategyAlreadyRegistered}
	ErrStrategyNotActive            = &CategorizedError{Code: CodeStrategyNotActive}
	ErrStrategyHasDebt              = &CategorizedError{Code: CodeStrategyHasDebt}
	ErrInsufficientFunds            = &CategorizedError{Code: CodeInsufficientFunds}
	ErrVaultNotFound                = &CategorizedError{Code: CodeVaultNotFound}
)

// Validation errors (400)

// NewInvalidAmountError creates an invalid amount error
func NewInvalidAmountError(field string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidAmount,
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		Details: map[string]interface{}{
			"field":  field,
			"reason": reason,
		},
	}
}

// NewDepositLimitExceededError creates a deposit limit error
func NewDepositLimitExceededError(limit, wouldBe string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeDepositLimitExceeded,
		Message:    fmt.Sprintf("deposit would raise total assets to %s, above the limit of %s", wouldBe, limit),
		Details: map[string]interface{}{
			"depositLimit": limit,
			"totalAssets":  wouldBe,
		},
	}
}

// NewDebtRatioExceedsCeilingError creates a debt ratio ceiling error
func NewDebtRatioExceedsCeilingError(requested, total uint64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeDebtRatioExceedsCeiling,
		Message:    fmt.Sprintf("debt ratio sum would be %d bps, above %d", total, types.MaxBPS),
		Details: map[string]interface{}{
			"requested": requested,
			"total":     total,
		},
	}
}

// Not found errors (404)

// NewUnknownStrategyError creates an unknown strategy error
func NewUnknownStrategyError(id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeUnknownStrategy,
		Message:    fmt.Sprintf("strategy not registered: %s", id),
		Details: map[string]interface{}{
			"strategy": id,
		},
	}
}

// NewVaultNotFoundError creates a vault not found error
func NewVaultNotFoundError(id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeVaultNotFound,
		Message:    fmt.Sprintf("vault not found: %s", id),
		Details: map[string]interface{}{
			"vault": id,
		},
	}
}

// Conflict errors (409)

// NewVaultShutDownError creates a vault shut down error
func NewVaultShutDownError(id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeVaultShutDown,
		Message:    fmt.Sprintf("vault %s is in emergency shutdown", id),
		Details: map[string]interface{}{
			"vault": id,
		},
	}
}

// NewMigrationTargetAlreadyActiveError creates a migration target error
func NewMigrationTargetAlreadyActiveError(id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeMigrationTargetAlreadyActive,
		Message:    fmt.Sprintf("migration target already registered: %s", id),
		Details: map[string]interface{}{
			"strategy": id,
		},
	}
}

// NewStrategyBusyError creates an error for a harvest already in progress
func NewStrategyBusyError(id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeStrategyBusy,
		Message:    fmt.Sprintf("harvest already in progress for strategy %s", id),
		Details: map[string]interface{}{
			"strategy": id,
		},
	}
}

// NewStrategyCapacityReachedError creates a capacity error
func NewStrategyCapacityReachedError(limit int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeStrategyCapacityReached,
		Message:    fmt.Sprintf("vault already holds the maximum of %d strategies", limit),
		Details: map[string]interface{}{
			"limit": limit,
		},
	}
}

// NewStrategyAlreadyRegisteredError creates a duplicate strategy error
func NewStrategyAlreadyRegisteredError(id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeStrategyAlreadyRegistered,
		Message:    fmt.Sprintf("strategy already registered: %s", id),
		Details: map[string]interface{}{
			"strategy": id,
		},
	}
}

// NewStrategyNotActiveError creates an error for operations that need an active handle
func NewStrategyNotActiveError(id string, status types.StrategyStatus) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeStrategyNotActive,
		Message:    fmt.Sprintf("strategy %s is %s", id, status),
		Details: map[string]interface{}{
			"strategy": id,
			"status":   status,
		},
	}
}

// NewStrategyHasDebtError creates an error for removing a handle with outstanding debt
func NewStrategyHasDebtError(id string, debt string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeStrategyHasDebt,
		Message:    fmt.Sprintf("strategy %s still owes %s", id, debt),
		Details: map[string]interface{}{
			"strategy":    id,
			"currentDebt": debt,
		},
	}
}

// NewInsufficientFundsError creates a value transfer error
func NewInsufficientFundsError(holder, balance, amount string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeInsufficientFunds,
		Message:    fmt.Sprintf("%s holds %s, cannot move %s", holder, balance, amount),
		Details: map[string]interface{}{
			"holder":  holder,
			"balance": balance,
			"amount":  amount,
		},
	}
}

// NewSlippageExceededError creates a withdrawal loss error.
// The realized loss stays applied to the touched strategies.
func NewSlippageExceededError(loss, owed string, maxLossBPS uint64, touched []string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeSlippageExceeded,
		Message:    fmt.Sprintf("realized loss %s on %s exceeds %d bps", loss, owed, maxLossBPS),
		Details: map[string]interface{}{
			"realizedLoss":      loss,
			"amountOwed":        owed,
			"maxLossBps":        maxLossBPS,
			"touchedStrategies": touched,
		},
	}
}

// Strategy unit errors

// NewStrategyUnresponsiveError creates an error for a failed or timed out strategy call
func NewStrategyUnresponsiveError(id string, call string, cause error) *CategorizedError {
	status := http.StatusBadGateway
	if errors.Is(cause, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: status,
		Code:       CodeStrategyUnresponsive,
		Message:    fmt.Sprintf("strategy %s failed during %s", id, call),
		Cause:      cause,
		Details: map[string]interface{}{
			"strategy": id,
			"call":     call,
		},
	}
}

// NewInconsistentLossError creates an error for a loss larger than the strategy's debt
func NewInconsistentLossError(id, reported, debt string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryIntegrity,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeInconsistentLoss,
		Message:    fmt.Sprintf("strategy %s reported loss %s above its debt %s", id, reported, debt),
		Details: map[string]interface{}{
			"strategy":     id,
			"reportedLoss": reported,
			"currentDebt":  debt,
		},
	}
}

// System errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternalError,
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeDatabaseError,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeCacheError,
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeRateLimitExceeded,
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if errors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

var categoryByCode = map[string]ErrorCategory{
	CodeInvalidAmount:                CategoryValidation,
	CodeDepositLimitExceeded:         CategoryValidation,
	CodeDebtRatioExceedsCeiling:      CategoryValidation,
	CodeUnknownStrategy:              CategoryNotFound,
	CodeVaultNotFound:                CategoryNotFound,
	CodeSlippageExceeded:             CategoryConflict,
	CodeMigrationTargetAlreadyActive: CategoryConflict,
	CodeVaultShutDown:                CategoryConflict,
	CodeStrategyBusy:                 CategoryConflict,
	CodeStrategyCapacityReached:      CategoryConflict,
	CodeStrategyAlreadyRegistered:    CategoryConflict,
	CodeStrategyNotActive:            CategoryConflict,
	CodeStrategyHasDebt:              CategoryConflict,
	CodeInsufficientFunds:            CategoryConflict,
	CodeStrategyUnresponsive:         CategoryProvider,
	CodeInconsistentLoss:             CategoryIntegrity,
	CodeDatabaseError:                CategoryDatabase,
	CodeCacheError:                   CategoryCache,
	CodeRateLimitExceeded:            CategoryRateLimit,
}

// FromServiceError rebuilds a categorized error from its wire form, so a client
// can match remote failures with errors.Is and IsRetryable.
func FromServiceError(se types.ServiceError, statusCode int) *CategorizedError {
	category, ok := categoryByCode[se.Code]
	if !ok {
		category = CategorySystem
		if statusCode >= 400 && statusCode < 500 {
			category = CategoryValidation
		}
	}
	return &CategorizedError{
		Category:   category,
		StatusCode: statusCode,
		Code:       se.Code,
		Message:    se.Message,
		Details:    se.Details,
	}
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryProvider, CategoryDatabase, CategoryCache:
		return true
	case CategoryConflict:
		// a busy handle frees up once the running harvest finishes
		return catErr.Code == CodeStrategyBusy
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}

// IsSystemError determines if an error is a system error (5xx)
func IsSystemError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 500
}
