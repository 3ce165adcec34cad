// Package storage keeps template PDF bytes on the local filesystem. The
// registry stores only the path; bytes are loaded transiently at render time.
package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

var pdfMagic = []byte("%PDF-")

// TemplateStore defines the interface for template byte storage.
type TemplateStore interface {
	// Save writes PDF content for a template id and returns its path.
	Save(id string, content []byte) (string, error)

	// Load reads the bytes back for a previously saved path.
	Load(path string) ([]byte, error)

	// Remove deletes the stored bytes. Missing files are not an error.
	Remove(path string) error
}

// LocalTemplateStore implements TemplateStore on the local filesystem.
type LocalTemplateStore struct {
	baseDir string
	logger  *zap.Logger
}

// NewLocalTemplateStore creates the base directory if needed.
func NewLocalTemplateStore(baseDir string, logger *zap.Logger) (*LocalTemplateStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create template directory: %w", err)
	}
	return &LocalTemplateStore{
		baseDir: baseDir,
		logger:  logger,
	}, nil
}

// IsPDF reports whether content starts with the PDF file header.
func IsPDF(content []byte) bool {
	return bytes.HasPrefix(content, pdfMagic)
}

// Save stores template bytes under <baseDir>/<id>.pdf. Content must be a PDF.
func (s *LocalTemplateStore) Save(id string, content []byte) (string, error) {
	if !IsPDF(content) {
		return "", fmt.Errorf("content is not a PDF file")
	}

	name := sanitizeFileName(id) + ".pdf"
	fullPath := filepath.Join(s.baseDir, name)
	if err := s.validatePath(fullPath); err != nil {
		return "", err
	}

	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		s.logger.Error("Failed to write template file",
			zap.String("path", fullPath),
			zap.Error(err))
		return "", fmt.Errorf("failed to write template file: %w", err)
	}

	s.logger.Debug("Template file saved",
		zap.String("path", fullPath),
		zap.Int("size_bytes", len(content)))
	return fullPath, nil
}

// Load reads template bytes from a path previously returned by Save.
func (s *LocalTemplateStore) Load(path string) ([]byte, error) {
	if err := s.validatePath(path); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}
	return content, nil
}

// Remove deletes a stored template file.
func (s *LocalTemplateStore) Remove(path string) error {
	if err := s.validatePath(path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove template file: %w", err)
	}
	return nil
}

// validatePath rejects paths that escape the base directory.
func (s *LocalTemplateStore) validatePath(fullPath string) error {
	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return fmt.Errorf("path escapes template directory: %s", fullPath)
	}
	return nil
}

// sanitizeFileName strips separators and traversal sequences from an id.
func sanitizeFileName(id string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")
	return replacer.Replace(id)
}
