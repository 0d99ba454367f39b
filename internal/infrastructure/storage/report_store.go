package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/garyjia/procurement-approval/internal/application/port"
	"go.uber.org/zap"
)

// LocalReportStore implements port.ReportStore on the local filesystem
type LocalReportStore struct {
	baseDir string
	logger  *zap.Logger
}

// NewLocalReportStore creates a store rooted at baseDir
func NewLocalReportStore(baseDir string, logger *zap.Logger) *LocalReportStore {
	return &LocalReportStore{
		baseDir: baseDir,
		logger:  logger,
	}
}

// Save writes content to name relative to the base directory
func (s *LocalReportStore) Save(ctx context.Context, name string, content []byte) (string, error) {
	fullPath, err := s.resolve(name)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		s.logger.Error("Failed to create report directory",
			zap.String("path", fullPath),
			zap.Error(err))
		return "", fmt.Errorf("failed to create directories: %w", err)
	}

	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		s.logger.Error("Failed to write report",
			zap.String("path", fullPath),
			zap.Error(err))
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	s.logger.Debug("Report saved",
		zap.String("path", fullPath),
		zap.Int("size", len(content)))
	return fullPath, nil
}

// Read returns a previously saved report
func (s *LocalReportStore) Read(ctx context.Context, name string) ([]byte, error) {
	fullPath, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	return content, nil
}

// resolve joins name onto the base directory and rejects paths escaping it
func (s *LocalReportStore) resolve(name string) (string, error) {
	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(s.baseDir, name))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory: %s", name)
	}
	return absPath, nil
}

var _ port.ReportStore = (*LocalReportStore)(nil)
