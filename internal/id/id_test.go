package id

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewIsUniqueAndValid(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		v := New()
		require.True(t, Valid(v), "expected valid uuid, got %q", v)
		require.NotContains(t, seen, v, "duplicate id")
		seen[v] = struct{}{}
	}
}

func TestValidRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "job-fallback-id", "../../etc/passwd"} {
		require.False(t, Valid(in), "expected %q to be invalid", in)
	}
}
