package wbase

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeRowTabSeparates(t *testing.T) {
	got := encodeRow([]any{int64(1), "abc", nil})
	require.Equal(t, "1\tabc\t<nil>\n", string(got))
}

func TestContainsAny(t *testing.T) {
	require.True(t, containsAny("Error 1146: Table 'x' doesn't exist", "1146"))
	require.True(t, containsAny("no such table", "doesn't exist", "no such table"))
	require.False(t, containsAny("connection reset", "1146", "doesn't exist"))
}
