package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// SaveAsset writes data to blobs/<sha256(bytes)>[.ext], skipping the
// write entirely if the blob already exists (two pages sharing the same
// image, say). It returns the blob's filename, which a page record
// stores under its Assets map.
func (s *Store) SaveAsset(jobID string, data []byte, ext string) (string, error) {
	dir, ok := s.dirFor(jobID)
	if !ok {
		return "", fmt.Errorf("store: unknown job %q", jobID)
	}

	sum := sha256.Sum256(data)
	name := hex.EncodeToString(sum[:])
	if ext != "" {
		name += "." + ext
	}

	path := filepath.Join(dir, "blobs", name)
	if _, err := os.Stat(path); err == nil {
		return name, nil
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("store: write blob: %w", err)
	}
	return name, nil
}

// GetAsset reads a previously saved blob by its filename.
func (s *Store) GetAsset(jobID, blobFile string) ([]byte, error) {
	dir, ok := s.dirFor(jobID)
	if !ok {
		return nil, fmt.Errorf("store: unknown job %q", jobID)
	}
	return os.ReadFile(filepath.Join(dir, "blobs", blobFile))
}
