package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Security errors
var (
	ErrPathTraversal = errors.New("path traversal detected")
	ErrFileNotFound  = errors.New("file not found")
	ErrFileTooLarge  = errors.New("file exceeds size limit")
	ErrNotIncoming   = errors.New("artifact is not in the incoming area")
)

// MaxArtifactSize is the maximum allowed artifact size (25 MB)
const MaxArtifactSize = 25 * 1024 * 1024

// Archive areas under the base path.
const (
	IncomingDir  = "incoming"
	ProcessedDir = "processed"
)

// Archive keeps raw artifacts on disk. New artifacts land in the incoming
// area and move to the processed area once the pipeline is done with them.
type Archive interface {
	// Store writes a raw artifact to the incoming area and returns its
	// path relative to the archive root.
	Store(raw []byte) (string, error)
	// MarkProcessed moves an incoming artifact to the processed area and
	// returns its new relative path.
	MarkProcessed(path string) (string, error)
	Get(path string) (io.ReadCloser, error)
	Delete(path string) error
}

// localArchive implements Archive using local filesystem
type localArchive struct {
	basePath string
}

// NewLocalArchive creates the archive areas under basePath.
func NewLocalArchive(basePath string) (Archive, error) {
	for _, dir := range []string{IncomingDir, ProcessedDir} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}
	return &localArchive{basePath: basePath}, nil
}

// validatePath ensures path is within basePath (prevents traversal)
func (s *localArchive) validatePath(filePath string) (string, error) {
	cleanPath := filepath.Clean(filePath)

	if filepath.IsAbs(cleanPath) {
		return "", ErrPathTraversal
	}
	if strings.Contains(cleanPath, "..") {
		return "", ErrPathTraversal
	}

	absPath, err := filepath.Abs(filepath.Join(s.basePath, cleanPath))
	if err != nil {
		return "", fmt.Errorf("invalid file path: %w", err)
	}
	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}

	// Security check: ensure file is within allowed directory
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) &&
		absPath != absBase {
		return "", ErrPathTraversal
	}

	return absPath, nil
}

// ValidateSize rejects artifacts above MaxArtifactSize.
func ValidateSize(size int64) error {
	if size > MaxArtifactSize {
		return ErrFileTooLarge
	}
	return nil
}

// Store writes the artifact under a fresh UUID name. The file appears
// atomically: it is written to a temporary name and renamed into place.
func (s *localArchive) Store(raw []byte) (string, error) {
	if err := ValidateSize(int64(len(raw))); err != nil {
		return "", err
	}

	name := uuid.New().String() + ".eml"
	// Fan out by the first 2 chars of the UUID
	relPath := filepath.Join(IncomingDir, name[:2], name)
	fullPath := filepath.Join(s.basePath, relPath)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("failed to create subdirectory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to place file: %w", err)
	}

	return filepath.ToSlash(relPath), nil
}

// MarkProcessed moves the artifact from incoming/ to the same relative
// location under processed/. Already processed paths are returned as is.
func (s *localArchive) MarkProcessed(path string) (string, error) {
	cleanPath := filepath.ToSlash(filepath.Clean(path))
	if strings.HasPrefix(cleanPath, ProcessedDir+"/") {
		if _, err := s.validatePath(cleanPath); err != nil {
			return "", err
		}
		return cleanPath, nil
	}
	if !strings.HasPrefix(cleanPath, IncomingDir+"/") {
		return "", ErrNotIncoming
	}

	src, err := s.validatePath(cleanPath)
	if err != nil {
		return "", err
	}

	relDest := ProcessedDir + strings.TrimPrefix(cleanPath, IncomingDir)
	dest, err := s.validatePath(relDest)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return "", fmt.Errorf("failed to create subdirectory: %w", err)
	}
	if err := os.Rename(src, dest); err != nil {
		if os.IsNotExist(err) {
			return "", ErrFileNotFound
		}
		return "", fmt.Errorf("failed to move file: %w", err)
	}

	return relDest, nil
}

// Get retrieves an artifact by its path
func (s *localArchive) Get(filePath string) (io.ReadCloser, error) {
	fullPath, err := s.validatePath(filePath)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Delete removes an artifact by its path
func (s *localArchive) Delete(filePath string) error {
	fullPath, err := s.validatePath(filePath)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			// File already doesn't exist, not an error
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}
