package cleanup

import "fmt"

// ConfigurationError indicates invalid cleanup configuration. It is fatal at
// startup, before any deletion is attempted.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid cleanup configuration: %s: %s", e.Field, e.Reason)
}

// SelectionError indicates the candidate listing itself failed. It is fatal
// to the run and flips the reported status to failed.
type SelectionError struct {
	Err error
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("failed to select candidate tokens: %v", e.Err)
}

func (e *SelectionError) Unwrap() error { return e.Err }

// ClassificationError indicates liveness could not be determined for one
// candidate. The candidate is left in place and retried on the next run.
type ClassificationError struct {
	TokenID string
	Err     error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("failed to classify token %s: %v", e.TokenID, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// CascadeError indicates the deletion for one candidate failed, whether the
// full orphan cascade or the token-only delete of a live candidate. The
// candidate is counted and the run continues.
type CascadeError struct {
	TokenID string
	Err     error
}

func (e *CascadeError) Error() string {
	return fmt.Sprintf("failed to delete token %s: %v", e.TokenID, e.Err)
}

func (e *CascadeError) Unwrap() error { return e.Err }
