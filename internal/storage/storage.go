package storage

import (
	"context"
	"io"
)

// Uploader persists an object and returns where it ended up, either a
// gs:// URI or a local path depending on the backend.
type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (storedPath string, err error)
}
