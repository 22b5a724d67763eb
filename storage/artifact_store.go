package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"orka-vector-api/core/models"
)

// ArtifactExt is the extension of every export artifact
const ArtifactExt = ".gpkg"

var dataIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ArtifactStore manages export artifacts named <dataID>.gpkg under one directory
type ArtifactStore struct {
	root string
}

// NewArtifactStore creates the artifact directory if needed
func NewArtifactStore(root string) (*ArtifactStore, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: artifact directory not set", models.ErrInvalidConfiguration)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &ArtifactStore{root: root}, nil
}

// Root returns the artifact directory
func (s *ArtifactStore) Root() string {
	return s.root
}

// Path returns where the artifact for dataID lives
func (s *ArtifactStore) Path(dataID string) (string, error) {
	if !dataIDPattern.MatchString(dataID) {
		return "", fmt.Errorf("%w: data id %q", models.ErrInvalidProperties, dataID)
	}
	return filepath.Join(s.root, dataID+ArtifactExt), nil
}

// Exists reports whether the artifact for dataID is on disk
func (s *ArtifactStore) Exists(dataID string) bool {
	path, err := s.Path(dataID)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Open opens the artifact for reading
func (s *ArtifactStore) Open(dataID string) (*os.File, error) {
	path, err := s.Path(dataID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("artifact %s: %w", dataID, models.ErrNotFound)
	}
	return f, err
}

// Remove deletes the artifact. A missing artifact is not an error.
func (s *ArtifactStore) Remove(dataID string) error {
	path, err := s.Path(dataID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove artifact %s: %w", dataID, err)
	}
	return nil
}
