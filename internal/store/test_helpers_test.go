package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// openTestStore creates a fresh in-memory store for test isolation.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
