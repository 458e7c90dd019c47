package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"

	apperrors "github.com/yield-vault/internal/errors"
)

const (
	defaultReportLimit = 50
	maxReportLimit     = 1000
)

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

// pathAddress reads an address route variable, answering 400 when it is malformed
func pathAddress(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	addr, err := parseAddress(name, mux.Vars(r)[name])
	if err != nil {
		invalidInput(w, err.Error())
		return common.Address{}, false
	}
	return addr, true
}

// parseAmount parses a positive base-10 amount
func parseAmount(field, s string) (*uint256.Int, error) {
	if s == "" {
		return nil, apperrors.NewInvalidAmountError(field, "required")
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, apperrors.NewInvalidAmountError(field, "not a base-10 integer")
	}
	if v.IsZero() {
		return nil, apperrors.NewInvalidAmountError(field, "must be positive")
	}
	return v, nil
}

// optionalAmount parses s, returning nil for an empty value
func optionalAmount(field, s string) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, apperrors.NewInvalidAmountError(field, "not a base-10 integer")
	}
	return v, nil
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return defaultReportLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > maxReportLimit {
		n = maxReportLimit
	}
	return n, nil
}
