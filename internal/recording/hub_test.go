package recording

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubWriterBeforeReader(t *testing.T) {
	hub := NewHub()
	w, err := hub.Writer("s1")
	require.NoError(t, err)

	r, err := hub.Open(context.Background(), "s1")
	require.NoError(t, err)

	go func() {
		_, _ = w.Write([]byte("pcm"))
	}()
	buf := make([]byte, 3)
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, "pcm", string(buf))

	require.NoError(t, r.Close())
	_, err = w.Write([]byte("x"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestHubClose(t *testing.T) {
	hub := NewHub()
	r, err := hub.Open(context.Background(), "s1")
	require.NoError(t, err)

	hub.Close()
	_, err = r.Read(make([]byte, 1))
	assert.Error(t, err)

	_, err = hub.Writer("s2")
	assert.ErrorIs(t, err, ErrHubClosed)
}
