package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalUploaderWritesObject(t *testing.T) {
	root := t.TempDir()
	u := LocalUploader{Root: root}

	path, err := u.Upload(context.Background(), "recordings/s1/merged.pcm", "audio/L16", strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "recordings", "s1", "merged.pcm"), path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(b))
}

func TestLocalUploaderStaysUnderRoot(t *testing.T) {
	root := t.TempDir()
	u := LocalUploader{Root: root}

	path, err := u.Upload(context.Background(), "../../etc/x", "", strings.NewReader("x"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, root))
}

func TestLocalUploaderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := LocalUploader{Root: t.TempDir()}.Upload(ctx, "a", "", strings.NewReader("x"))
	assert.ErrorIs(t, err, context.Canceled)
}
