package rpc

import (
	"errors"
	"net/http"

	"investpool/native/loan"
	"investpool/native/vault"
)

// errorCode is the stable machine-readable identifier carried in error
// responses.
func errorCode(err error) string {
	switch {
	case errors.Is(err, vault.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, vault.ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, vault.ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, vault.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, loan.ErrCollateralMismatch):
		return "collateral_mismatch"
	case errors.Is(err, loan.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, loan.ErrInvalidStateTransition):
		return "invalid_state_transition"
	case errors.Is(err, loan.ErrInsufficientPayment):
		return "insufficient_payment"
	case errors.Is(err, loan.ErrNotWithdrawn):
		return "not_withdrawn"
	case errors.Is(err, loan.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

// statusFromError maps ledger sentinels onto HTTP status codes.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, vault.ErrInvalidAmount),
		errors.Is(err, loan.ErrCollateralMismatch):
		return http.StatusBadRequest
	case errors.Is(err, loan.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, loan.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, loan.ErrInvalidStateTransition),
		errors.Is(err, loan.ErrNotWithdrawn):
		return http.StatusConflict
	case errors.Is(err, vault.ErrInsufficientShares),
		errors.Is(err, vault.ErrInsufficientLiquidity),
		errors.Is(err, vault.ErrInsufficientBalance),
		errors.Is(err, loan.ErrInsufficientPayment):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
