// Package photo handles photos taken during a guided walk: storing them,
// analyzing them and turning the analysis into per-item updates.
package photo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/heic": "heic",
	"image/heif": "heif",
}

// DiskStore keeps photos under a base directory, one folder per session
type DiskStore struct {
	dir string
	now func() time.Time
}

// NewDiskStore creates a store rooted at dir
func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir, now: time.Now}
}

// Save writes the image to <dir>/<session>/<unixnano>_<item>.<ext> and
// returns the path
func (s *DiskStore) Save(sessionID, itemID string, image []byte, mime string) (string, error) {
	ext, ok := extensions[strings.ToLower(mime)]
	if !ok {
		return "", fmt.Errorf("unsupported image type: %q", mime)
	}
	if len(image) == 0 {
		return "", fmt.Errorf("empty image")
	}

	dir := filepath.Join(s.dir, safeName(sessionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create photo directory: %w", err)
	}

	name := fmt.Sprintf("%d_%s.%s", s.now().UnixNano(), safeName(itemID), ext)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, image, 0o644); err != nil {
		return "", fmt.Errorf("failed to write photo: %w", err)
	}

	return path, nil
}

// safeName keeps identifiers from escaping the photo directory
func safeName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
