package store

import (
	"fmt"

	"github.com/altuslabsxyz/ccbuilder/internal/repository"
	"github.com/altuslabsxyz/ccbuilder/pkg/compiler"
)

// ConflictError is returned when a success record is registered for a key
// that already holds a different record. This is a consistency violation,
// not a retryable condition.
type ConflictError struct {
	Project compiler.Project
	Commit  repository.Commit
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting store entry for %s %s: %s", e.Project, e.Commit, e.Message)
}
