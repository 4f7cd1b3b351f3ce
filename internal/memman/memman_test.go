package memman

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrepareISEmptyForNoLock(t *testing.T) {
	m := New(1000, nil)
	h, err := m.Prepare(1, []TableRef{{DB: "d", Table: "t", Intent: NoLock}})
	require.NoError(t, err)
	require.Equal(t, ISEmpty, h)
}

func TestPrepareExhaustion(t *testing.T) {
	m := New(10, func(string, string) int64 { return 100 })
	_, err := m.Prepare(1, []TableRef{{DB: "d", Table: "t", Intent: Required, SizeByte: 100}})
	require.Error(t, err)
}

func TestRequiredDemotesDuplicateRequired(t *testing.T) {
	m := New(1000, nil)
	h, err := m.Prepare(1, []TableRef{
		{DB: "d", Table: "t", Intent: Required, SizeByte: 10},
		{DB: "d", Table: "t", Intent: Required, SizeByte: 10},
	})
	require.NoError(t, err)
	locked, bytes, found := m.Status(h)
	require.True(t, found)
	require.False(t, locked)
	require.Equal(t, int64(10), bytes)
}

func TestLockAndUnlock(t *testing.T) {
	m := New(1000, func(string, string) int64 { return 50 })
	h, err := m.Prepare(1, []TableRef{{DB: "d", Table: "t", Intent: Required, SizeByte: 50}})
	require.NoError(t, err)

	res, err := m.Lock(h, true)
	require.NoError(t, err)
	require.Equal(t, LockOK, res)

	locked, bytes, found := m.Status(h)
	require.True(t, found)
	require.True(t, locked)
	require.Equal(t, int64(50), bytes)

	m.Unlock(h)
	_, _, found = m.Status(h)
	require.False(t, found)

	stats := m.Statistics()
	require.Equal(t, int64(0), stats.BytesLocked)
	require.Equal(t, int64(0), stats.BytesReserved)
}

func TestFlexiblePartialLock(t *testing.T) {
	m := New(100, func(string, string) int64 { return 100 })
	h, err := m.Prepare(1, []TableRef{
		{DB: "d", Table: "required", Intent: Required, SizeByte: 80},
		{DB: "d", Table: "flex", Intent: Flexible, SizeByte: 100},
	})
	require.NoError(t, err)

	res, err := m.Lock(h, false)
	require.NoError(t, err)
	require.Equal(t, LockPartial, res)
}
