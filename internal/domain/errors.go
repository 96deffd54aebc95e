// Package domain holds the types shared by every engine in the core:
// the rejection taxonomy and the token generators.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Code categorizes a rejection.
//
// Every code is recoverable at the call boundary: the caller may wait,
// retry, or re-establish. There is no fatal error class inside the
// core; store or clock outages surface as plain wrapped errors, never
// as a Code.
type Code string

const (
	// CodeInvalidSession indicates an unknown or already-destroyed session id.
	CodeInvalidSession Code = "INVALID_SESSION"

	// CodeSpeedLimitExceeded indicates a checkpoint attempted before the
	// minimum loop time elapsed.
	CodeSpeedLimitExceeded Code = "SPEED_LIMIT_EXCEEDED"

	// CodeInsufficientBalance indicates a stake or conversion exceeding
	// the available liquid funds.
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"

	// CodeInvalidAmount indicates a non-positive amount.
	CodeInvalidAmount Code = "INVALID_AMOUNT"

	// CodeTierClosed indicates an attempt to convert under a tier that
	// is not the single ACTIVE tier at call time.
	CodeTierClosed Code = "TIER_CLOSED"

	// CodeAlreadyClosed indicates an unstake on a withdrawn position.
	CodeAlreadyClosed Code = "ALREADY_CLOSED"

	// CodeUnknownPool indicates a stake against a pool id not present
	// in the vault tier table.
	CodeUnknownPool Code = "UNKNOWN_POOL"

	// CodeUnknownStake indicates an operation on a stake id that was
	// never created.
	CodeUnknownStake Code = "UNKNOWN_STAKE"

	// CodeInvalidState indicates a session command issued out of order
	// (for example acknowledging presence while no ad break is open).
	CodeInvalidState Code = "INVALID_STATE"
)

// Error is a typed rejection returned by the engines.
//
// Error carries structured fields for diagnostics; the presentation
// layer switches on Code, not on the message text.
type Error struct {
	// Code identifies the rejection category.
	Code Code

	// Message is a human-readable description.
	Message string

	// SessionID identifies the affected session (session rejections).
	SessionID string

	// StakeID identifies the affected position (staking rejections).
	StakeID string

	// Details contains additional context.
	Details map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.SessionID != "":
		return fmt.Sprintf("%s: %s (session=%s)", e.Code, e.Message, e.SessionID)
	case e.StakeID != "":
		return fmt.Sprintf("%s: %s (stake=%s)", e.Code, e.Message, e.StakeID)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// ErrCode extracts the rejection code from err.
// Uses errors.As to handle wrapped errors.
func ErrCode(err error) (Code, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Code, true
	}
	return "", false
}

// IsCode reports whether err carries the given rejection code.
func IsCode(err error, code Code) bool {
	c, ok := ErrCode(err)
	return ok && c == code
}

// IsSpeedLimit reports whether err is a speed-limit rejection.
func IsSpeedLimit(err error) bool { return IsCode(err, CodeSpeedLimitExceeded) }

// IsInvalidSession reports whether err is an invalid-session rejection.
func IsInvalidSession(err error) bool { return IsCode(err, CodeInvalidSession) }

// IsInsufficientBalance reports whether err is a balance rejection.
func IsInsufficientBalance(err error) bool { return IsCode(err, CodeInsufficientBalance) }

// NewInvalidSession creates a rejection for an unknown or destroyed session id.
func NewInvalidSession(sessionID string) *Error {
	return &Error{
		Code:      CodeInvalidSession,
		Message:   "session does not exist or has been destroyed",
		SessionID: sessionID,
	}
}

// NewSpeedLimit creates a rejection for a checkpoint attempted too soon.
func NewSpeedLimit(sessionID string, elapsed, minimum time.Duration) *Error {
	return &Error{
		Code:      CodeSpeedLimitExceeded,
		Message:   fmt.Sprintf("checkpoint attempted after %s, minimum loop time is %s", elapsed, minimum),
		SessionID: sessionID,
		Details: map[string]string{
			"elapsed": elapsed.String(),
			"minimum": minimum.String(),
		},
	}
}

// NewInsufficientBalance creates a rejection for a debit exceeding funds.
func NewInsufficientBalance(userID string, requested float64) *Error {
	return &Error{
		Code:    CodeInsufficientBalance,
		Message: fmt.Sprintf("liquid balance of user %s is below %.6f", userID, requested),
		Details: map[string]string{
			"user":      userID,
			"requested": fmt.Sprintf("%.6f", requested),
		},
	}
}

// NewInvalidAmount creates a rejection for a non-positive amount.
func NewInvalidAmount(amount float64) *Error {
	return &Error{
		Code:    CodeInvalidAmount,
		Message: fmt.Sprintf("amount must be positive, got %.6f", amount),
	}
}

// NewTierClosed creates a rejection for a conversion under a non-active tier.
func NewTierClosed(tier string) *Error {
	return &Error{
		Code:    CodeTierClosed,
		Message: fmt.Sprintf("conversion tier %s is not active", tier),
		Details: map[string]string{"tier": tier},
	}
}

// NewAlreadyClosed creates a rejection for an unstake on a closed position.
func NewAlreadyClosed(stakeID string) *Error {
	return &Error{
		Code:    CodeAlreadyClosed,
		Message: "position is already withdrawn",
		StakeID: stakeID,
	}
}

// NewUnknownPool creates a rejection for a stake against an unknown vault tier.
func NewUnknownPool(poolID string) *Error {
	return &Error{
		Code:    CodeUnknownPool,
		Message: fmt.Sprintf("vault pool %s does not exist", poolID),
		Details: map[string]string{"pool": poolID},
	}
}

// NewUnknownStake creates a rejection for an unknown stake id.
func NewUnknownStake(stakeID string) *Error {
	return &Error{
		Code:    CodeUnknownStake,
		Message: "stake position does not exist",
		StakeID: stakeID,
	}
}

// NewInvalidState creates a rejection for an out-of-order session command.
func NewInvalidState(sessionID, state, op string) *Error {
	return &Error{
		Code:      CodeInvalidState,
		Message:   fmt.Sprintf("%s is not valid while the session is in state %s", op, state),
		SessionID: sessionID,
		Details: map[string]string{
			"state": state,
			"op":    op,
		},
	}
}
