package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permafrost-labs/glacier/internal/domain"
)

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "bad path", nil)))
	assert.Equal(t, ExitRejected, GetExitCode(domain.NewInvalidAmount(-1)))
	assert.Equal(t, ExitCommandError, GetExitCode(errors.New("plain")))
}

func TestFormatterJSONEnvelope(t *testing.T) {
	buf := &bytes.Buffer{}
	f := NewOutputFormatter("json", buf, false)

	done, err := f.JSON(map[string]interface{}{"answer": 42})
	require.NoError(t, err)
	assert.True(t, done)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestFormatterTextPassthrough(t *testing.T) {
	buf := &bytes.Buffer{}
	f := NewOutputFormatter("text", buf, false)

	done, err := f.JSON(map[string]interface{}{"answer": 42})
	require.NoError(t, err)
	assert.False(t, done)
	assert.Empty(t, buf.String())
}

func TestFormatterRejection(t *testing.T) {
	buf := &bytes.Buffer{}
	f := NewOutputFormatter("text", buf, true)

	derr := domain.NewSpeedLimit("s1", 0, 0)
	err := f.Rejection(derr)
	assert.Same(t, derr, err.(*domain.Error))
	assert.Contains(t, buf.String(), "SPEED_LIMIT_EXCEEDED")
}

func TestFormatterAmountGrouping(t *testing.T) {
	f := NewOutputFormatter("text", &bytes.Buffer{}, false)
	assert.Equal(t, "2,500.000000", f.Amount(2500))
	assert.Equal(t, "0.007200", f.Amount(0.0072))
}
