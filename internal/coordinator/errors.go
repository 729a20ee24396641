package coordinator

import "fmt"

// ValidationError rejects an edit before any network call or cache mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SubmissionError wraps a failure from the submit collaborator. The affected
// field has already been rolled back by the time the caller sees it.
type SubmissionError struct {
	RecordID string
	Field    string
	Err      error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %s of record %s: %v", e.Field, e.RecordID, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// SideEffectError reports that a mandatory transition side effect failed, so
// the status change was never committed.
type SideEffectError struct {
	RecordID string
	Err      error
}

func (e *SideEffectError) Error() string {
	return fmt.Sprintf("completion document for record %s: %v", e.RecordID, e.Err)
}

func (e *SideEffectError) Unwrap() error { return e.Err }
