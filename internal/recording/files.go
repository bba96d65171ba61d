package recording

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ListChunks returns the chunk files of dir in creation order. A missing
// directory means no audio was recorded.
func ListChunks(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	suffix := "." + ext
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "chunk_") || !strings.HasSuffix(name, suffix) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	// zero-padded indexes sort lexically
	sort.Strings(out)
	return out, nil
}
