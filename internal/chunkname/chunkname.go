// Package chunkname implements C1: replacing the CHUNK_TAG/SUBCHUNK_TAG
// placeholders in stored query templates and forming the physical table
// names spec.md §6 defines (chunk tables, sub-chunk tables, overlap
// variants, and the dummy chunk).
package chunkname

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/qserv/qserv-go/internal/ids"
)

// Exact-match substitution tokens (spec.md §6).
const (
	ChunkTag    = "CHUNK_TAG"
	SubChunkTag = "SUBCHUNK_TAG"
)

// Substitute replaces CHUNK_TAG and SUBCHUNK_TAG in template with the given
// coordinates. subchunk == ids.NoSubChunk leaves any SUBCHUNK_TAG in the
// template untouched; templates for non-subchunked tasks must not contain
// SUBCHUNK_TAG. Both replacements are plain string replaces.
func Substitute(template string, chunk ids.ChunkID, subchunk ids.SubChunkID) string {
	out := strings.ReplaceAll(template, ChunkTag, strconv.FormatInt(int64(chunk), 10))
	if subchunk != ids.NoSubChunk {
		out = strings.ReplaceAll(out, SubChunkTag, strconv.FormatInt(int64(subchunk), 10))
	}
	return out
}

// ChunkTable returns the physical chunk-table name: <Base>_<chunkId>.
func ChunkTable(base string, chunk ids.ChunkID) string {
	return fmt.Sprintf("%s_%d", base, chunk)
}

// SubChunkTable returns the fully-qualified sub-chunk table name:
// Subchunks_<chunkId>.<Base>_<chunkId>_<subchunkId>.
func SubChunkTable(base string, chunk ids.ChunkID, subchunk ids.SubChunkID) string {
	return fmt.Sprintf("Subchunks_%d.%s_%d_%d", chunk, base, chunk, subchunk)
}

// SelfOverlapTable returns <Base>SelfOverlap_<chunkId>.
func SelfOverlapTable(base string, chunk ids.ChunkID) string {
	return fmt.Sprintf("%sSelfOverlap_%d", base, chunk)
}

// FullOverlapTable returns <Base>FullOverlap_<chunkId>.
func FullOverlapTable(base string, chunk ids.ChunkID) string {
	return fmt.Sprintf("%sFullOverlap_%d", base, chunk)
}

// IsDummy reports whether chunk is the sentinel dummy chunk that must be
// present on every worker to keep per-chunk task sets uniform.
func IsDummy(chunk ids.ChunkID) bool {
	return chunk == ids.DummyChunkID
}
