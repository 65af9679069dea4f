package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNoFile indicates the upload carried no file or an empty filename.
var ErrNoFile = errors.New("no file provided")

// Store persists uploaded images and resolves them back for later reads.
// Implementations are append-only; stored objects are never rewritten.
type Store interface {
	// Save writes the upload under a fresh storage name and returns a
	// reference usable with Open.
	Save(ctx context.Context, filename string, content io.Reader) (string, error)
	// Open resolves a reference produced by Save.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// storageName builds the name an upload is stored under. The sortable
// timestamp prefix keeps directory listings chronological; the uuid component
// makes the name unique even for identical filenames within the same second.
func storageName(filename string, now time.Time) string {
	base := filepath.Base(strings.TrimSpace(filename))
	return fmt.Sprintf("%s_%s_%s", now.UTC().Format("20060102_150405"), uuid.NewString()[:8], base)
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}
