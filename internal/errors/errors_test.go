package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yield-vault/internal/types"
)

func TestCategorizedError_IsMatchesByCode(t *testing.T) {
	err := NewStrategyBusyError("0x01")
	wrapped := fmt.Errorf("harvest: %w", err)

	assert.ErrorIs(t, wrapped, ErrStrategyBusy)
	assert.NotErrorIs(t, wrapped, ErrStrategyUnresponsive)
}

func TestCategorizedError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewStrategyUnresponsiveError("0x01", "divest", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestStrategyUnresponsive_StatusByCause(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway,
		NewStrategyUnresponsiveError("0x01", "invest", errors.New("boom")).StatusCode)
	assert.Equal(t, http.StatusGatewayTimeout,
		NewStrategyUnresponsiveError("0x01", "invest", fmt.Errorf("call: %w", context.DeadlineExceeded)).StatusCode)
}

func TestHTTPStatusByCategory(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid amount", NewInvalidAmountError("amount", "zero"), http.StatusBadRequest},
		{"deposit limit", NewDepositLimitExceededError("10", "11"), http.StatusBadRequest},
		{"ratio ceiling", NewDebtRatioExceedsCeilingError(5000, 12000), http.StatusBadRequest},
		{"unknown strategy", NewUnknownStrategyError("0x01"), http.StatusNotFound},
		{"vault not found", NewVaultNotFoundError("0x02"), http.StatusNotFound},
		{"shut down", NewVaultShutDownError("0x02"), http.StatusConflict},
		{"slippage", NewSlippageExceededError("5", "100", 1, []string{"0x01"}), http.StatusConflict},
		{"has debt", NewStrategyHasDebtError("0x01", "7"), http.StatusConflict},
		{"inconsistent loss", NewInconsistentLossError("0x01", "9", "5"), http.StatusUnprocessableEntity},
		{"database", NewDatabaseError("save", errors.New("down")), http.StatusInternalServerError},
		{"plain error", errors.New("unexpected"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetHTTPStatusCode(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewStrategyUnresponsiveError("0x01", "report", errors.New("x"))))
	assert.True(t, IsRetryable(NewDatabaseError("save", errors.New("x"))))
	assert.True(t, IsRetryable(NewCacheError("get", errors.New("x"))))
	assert.True(t, IsRetryable(NewStrategyBusyError("0x01")))

	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(NewInvalidAmountError("shares", "zero")))
	assert.False(t, IsRetryable(NewInconsistentLossError("0x01", "2", "1")))
	assert.False(t, IsRetryable(NewVaultShutDownError("0x02")))
}

func TestCategorize(t *testing.T) {
	assert.Nil(t, Categorize(nil))

	original := NewUnknownStrategyError("0x01")
	assert.Same(t, original, Categorize(fmt.Errorf("wrap: %w", original)))

	svc := Categorize(&types.ServiceError{Code: "CUSTOM", Message: "custom"})
	assert.Equal(t, "CUSTOM", svc.Code)

	plain := Categorize(errors.New("boom"))
	assert.Equal(t, CodeInternalError, plain.Code)
	assert.True(t, IsSystemError(plain))
	assert.False(t, IsUserError(plain))
}

func TestToServiceError(t *testing.T) {
	err := NewSlippageExceededError("5", "100", 1, []string{"0x01"})
	svc := err.ToServiceError()

	assert.Equal(t, CodeSlippageExceeded, svc.Code)
	assert.Equal(t, []string{"0x01"}, svc.Details["touchedStrategies"])
}

func TestFromServiceError(t *testing.T) {
	busy := FromServiceError(types.ServiceError{Code: CodeStrategyBusy, Message: "busy"}, http.StatusConflict)
	assert.ErrorIs(t, busy, ErrStrategyBusy)
	assert.True(t, IsRetryable(busy))

	down := FromServiceError(*NewStrategyUnresponsiveError("0x01", "report", nil).ToServiceError(), http.StatusBadGateway)
	assert.Equal(t, CategoryProvider, down.Category)
	assert.True(t, IsRetryable(down))

	unknown := FromServiceError(types.ServiceError{Code: "TEAPOT"}, http.StatusTeapot)
	assert.Equal(t, CategoryValidation, unknown.Category)
	assert.False(t, IsRetryable(unknown))
}
