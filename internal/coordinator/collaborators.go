package coordinator

import (
	"context"

	"daily-work-tracker/internal/models"
)

// Submitter delivers a field patch to the server and returns the canonical
// record reflecting all server-computed derived fields.
type Submitter interface {
	Submit(ctx context.Context, recordID string, patch models.Patch) (models.WorkItem, error)
}

// DocumentCapturer runs the scanned-document flow required before a work item
// may be committed as completed. It returns a reference to the stored file.
type DocumentCapturer interface {
	CaptureAndUpload(ctx context.Context, recordID, contextLabel string) (string, error)
}

// NotifyKind classifies a notification surfaced to the user.
type NotifyKind string

const (
	NotifyPending NotifyKind = "pending"
	NotifySuccess NotifyKind = "success"
	NotifyError   NotifyKind = "error"
)

// Notifier surfaces submission lifecycle events. The coordinator calls it but
// never renders anything itself.
type Notifier interface {
	Notify(ctx context.Context, kind NotifyKind, message string)
}
