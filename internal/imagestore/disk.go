package imagestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DiskStore writes uploads into a designated directory on local disk.
type DiskStore struct {
	dir    string
	logger *zap.Logger
}

// NewDiskStore creates the upload directory if needed and returns a store
// rooted at it.
func NewDiskStore(dir string, logger *zap.Logger) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	return &DiskStore{dir: dir, logger: logger.Named("imagestore.disk")}, nil
}

// Save streams the upload to disk and returns the storage name as reference.
func (s *DiskStore) Save(ctx context.Context, filename string, content io.Reader) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", ErrNoFile
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := storageName(filename, time.Now())
	path := filepath.Join(s.dir, name)

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}

	if _, err := io.Copy(out, content); err != nil {
		out.Close()
		os.Remove(path)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close %s: %w", path, err)
	}

	s.logger.Debug("stored upload", zap.String("ref", name))
	return name, nil
}

// Open resolves a reference returned by Save.
func (s *DiskStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// References are bare storage names; reject anything pointing outside
	// the upload directory.
	if ref == "" || filepath.Base(ref) != ref {
		return nil, fmt.Errorf("invalid image reference %q", ref)
	}
	return os.Open(filepath.Join(s.dir, ref))
}
