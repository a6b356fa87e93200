// Package blobs stores original image files on the local filesystem under
// a single flat directory, addressed by the stored filename.
package blobs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/lensquery/lensquery/internal/domain"
)

// Store is a flat-directory blob store.
type Store struct {
	dir string
}

// New creates the storage directory if needed and returns the store.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

// Save writes the blob under filename and returns its absolute path.
func (s *Store) Save(filename string, data []byte) (string, error) {
	path, err := s.path(filename)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob %s: %w", filename, err)
	}
	return path, nil
}

// Read returns the blob bytes, or domain.ErrNotFound for a missing file.
func (s *Store) Read(filename string) ([]byte, error) {
	path, err := s.path(filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", filename, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", filename, err)
	}
	return data, nil
}

// Remove deletes the blob. Removing a missing file is not an error.
func (s *Store) Remove(filename string) error {
	path, err := s.path(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove blob %s: %w", filename, err)
	}
	return nil
}

// path rejects names that would escape the storage directory.
func (s *Store) path(filename string) (string, error) {
	if filename == "" || strings.Contains(filename, "/") || strings.Contains(filename, "\\") ||
		filename == "." || filename == ".." {
		return "", fmt.Errorf("blob name %q: %w", filename, domain.ErrInvalidArgument)
	}
	return filepath.Join(s.dir, filename), nil
}
