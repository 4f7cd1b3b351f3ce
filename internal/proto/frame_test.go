package proto

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	msg := NewResultMessage(1, 10, 2, 100, 1, 0, time.Unix(0, 0))
	msg.RowCount = 3
	content := []byte("row1\nrow2\nrow3\n")
	f := NewFrame(msg, content)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, f))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, content, got.Content)
	require.Equal(t, int64(3), got.Msg.RowCount)
	require.Equal(t, int64(1), got.Msg.QueryID)
}

func TestReadFrameDetectsCorruption(t *testing.T) {
	msg := NewResultMessage(1, 10, 2, 100, 1, 0, time.Unix(0, 0))
	f := NewFrame(msg, []byte("hello"))

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, f))

	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xFF

	_, err := ReadFrame(bytes.NewReader(corrupted))
	require.Error(t, err)
}

func TestReadFrameEOF(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	require.Error(t, err)
}
