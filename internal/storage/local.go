package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// LocalUploader copies objects under Root. Used when no bucket is configured.
type LocalUploader struct {
	Root string
}

func (u LocalUploader) Upload(ctx context.Context, objectName string, _ string, r io.Reader) (string, error) {
	// rooted Clean drops any leading ".." so the object stays under Root
	dst := filepath.Join(u.Root, filepath.Clean("/"+objectName))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}

	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, readerWithContext{ctx, r}); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return dst, nil
}

type readerWithContext struct {
	ctx context.Context
	r   io.Reader
}

func (r readerWithContext) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
