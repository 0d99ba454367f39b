package port

import "context"

// ReportStore archives generated reports
type ReportStore interface {
	// Save writes content under name and returns the stored path
	Save(ctx context.Context, name string, content []byte) (string, error)
	Read(ctx context.Context, name string) ([]byte, error)
}
