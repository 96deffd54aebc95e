package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Message(t *testing.T) {
	err := NewSpeedLimit("sess-1", time.Second, 175*time.Second)
	assert.Contains(t, err.Error(), "SPEED_LIMIT_EXCEEDED")
	assert.Contains(t, err.Error(), "sess-1")

	err = NewAlreadyClosed("stk-9")
	assert.Contains(t, err.Error(), "ALREADY_CLOSED")
	assert.Contains(t, err.Error(), "stk-9")

	err = NewInvalidAmount(-5)
	assert.Contains(t, err.Error(), "INVALID_AMOUNT")
}

func TestErrCode_Wrapped(t *testing.T) {
	// Codes survive fmt.Errorf wrapping at package boundaries.
	inner := NewInvalidSession("sess-2")
	wrapped := fmt.Errorf("checkpoint: %w", inner)

	code, ok := ErrCode(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidSession, code)

	assert.True(t, IsInvalidSession(wrapped))
	assert.False(t, IsSpeedLimit(wrapped))
}

func TestErrCode_PlainError(t *testing.T) {
	_, ok := ErrCode(fmt.Errorf("disk on fire"))
	assert.False(t, ok)
	assert.False(t, IsCode(fmt.Errorf("disk on fire"), CodeInvalidSession))
}

func TestNewSpeedLimit_Details(t *testing.T) {
	err := NewSpeedLimit("sess-1", time.Second, 175*time.Second)
	assert.Equal(t, "1s", err.Details["elapsed"])
	assert.Equal(t, "2m55s", err.Details["minimum"])
}
