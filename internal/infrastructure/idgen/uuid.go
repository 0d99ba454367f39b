package idgen

import (
	"github.com/google/uuid"

	"github.com/garyjia/procurement-approval/internal/domain/approval"
)

// UUIDGenerator produces random v4 UUIDs, optionally prefixed ("req-<uuid>")
type UUIDGenerator struct{}

// NewUUIDGenerator creates a new UUIDGenerator
func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

// Generate returns a new identifier
func (g *UUIDGenerator) Generate(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

var _ approval.IDGenerator = (*UUIDGenerator)(nil)
