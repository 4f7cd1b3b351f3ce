package chunkname

import (
	"testing"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/stretchr/testify/require"
)

func TestSubstitute(t *testing.T) {
	tmpl := "SELECT * FROM Object_CHUNK_TAG JOIN Subchunks_CHUNK_TAG.Object_CHUNK_TAG_SUBCHUNK_TAG"
	got := Substitute(tmpl, 6630, 12)
	require.Equal(t, "SELECT * FROM Object_6630 JOIN Subchunks_6630.Object_6630_12", got)
}

func TestSubstituteNoSubChunk(t *testing.T) {
	tmpl := "SELECT COUNT(*) FROM Object_CHUNK_TAG"
	got := Substitute(tmpl, 6630, ids.NoSubChunk)
	require.Equal(t, "SELECT COUNT(*) FROM Object_6630", got)
}

func TestPhysicalNames(t *testing.T) {
	require.Equal(t, "Object_6630", ChunkTable("Object", 6630))
	require.Equal(t, "Subchunks_6630.Object_6630_12", SubChunkTable("Object", 6630, 12))
	require.Equal(t, "ObjectSelfOverlap_6630", SelfOverlapTable("Object", 6630))
	require.Equal(t, "ObjectFullOverlap_6630", FullOverlapTable("Object", 6630))
}

func TestIsDummy(t *testing.T) {
	require.True(t, IsDummy(ids.DummyChunkID))
	require.False(t, IsDummy(6630))
}
