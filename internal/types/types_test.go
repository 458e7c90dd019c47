package types

import (
	"testing"
)

func TestStrategyStatus_IsValid(t *testing.T) {
	tests := []struct {
		status StrategyStatus
		want   bool
	}{
		{StrategyActive, true},
		{StrategyRevoked, true},
		{StrategyMigrated, true},
		{StrategyRemoved, true},
		{StrategyStatus("paused"), false},
		{StrategyStatus(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsValid(); got != tt.want {
				t.Errorf("IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServiceError_Error(t *testing.T) {
	err := &ServiceError{Code: "VAULT_NOT_FOUND", Message: "vault not found"}
	if err.Error() != "vault not found" {
		t.Errorf("Error() = %q, want %q", err.Error(), "vault not found")
	}
}
