package gc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/stretchr/testify/require"
)

func TestCollectQueryRemovesTrackedDir(t *testing.T) {
	root := t.TempDir()
	c := New(root)
	c.Track(1, 2)
	dir := filepath.Join(root, ids.QU(1, 2))
	require.NoError(t, os.MkdirAll(dir, 0o755))

	require.NoError(t, c.CollectQuery(1))
	_, err := os.Stat(dir)
	require.True(t, os.IsNotExist(err))
}

func TestCollectAllRemovesEverything(t *testing.T) {
	root := t.TempDir()
	c := New(root)
	c.Track(1, 1)
	c.Track(2, 1)
	require.NoError(t, os.MkdirAll(filepath.Join(root, ids.QU(1, 1)), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ids.QU(2, 1)), 0o755))

	require.NoError(t, c.CollectAll())
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSweepOrphansOnMissingRoot(t *testing.T) {
	require.NoError(t, SweepOrphans(filepath.Join(t.TempDir(), "missing")))
}
