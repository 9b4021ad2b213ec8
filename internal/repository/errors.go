package repository

import "fmt"

// RepositoryError is returned when a git query fails, e.g. an invalid
// revision or a detached history.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s failed: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}
