package status

import (
	"time"

	"daily-work-tracker/internal/models"
)

// Machine computes the field patch a status transition produces. It never
// mutates a record itself; the caller applies the patch through the cache and
// submits it.
type Machine struct {
	// ReopenClearsTimes controls whether moving a completed item back to new
	// wipes its completion and submission timestamps. Matches the historical
	// behavior when true; see REOPEN_CLEARS_TIMES.
	ReopenClearsTimes bool
	Now               func() time.Time
}

func NewMachine(reopenClearsTimes bool) *Machine {
	return &Machine{ReopenClearsTimes: reopenClearsTimes, Now: time.Now}
}

func (m *Machine) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

// Transition returns the patch for moving item to next. The patch always
// contains the status fields; derived fields are added per transition:
//
//	completed:*  — completion/submission time stamped if currently unset
//	resubmission — resubmission count incremented
//	new          — completion/submission time cleared (policy-gated)
//	emergency    — status only
func (m *Machine) Transition(item models.WorkItem, next Status) (models.Patch, error) {
	if _, err := Parse(next.String()); err != nil {
		return nil, err
	}

	patch := models.Patch{
		models.FieldStatus: next.Base,
	}
	if next.IsCompleted() {
		patch[models.FieldInspectionResult] = next.Result
	} else {
		patch[models.FieldInspectionResult] = nil
	}

	switch {
	case next.IsCompleted():
		now := m.now()
		if item.CompletionTime == nil {
			patch[models.FieldCompletionTime] = now
		}
		if item.SubmissionTime == nil {
			patch[models.FieldSubmissionTime] = now
		}
	case next == Resubmission:
		patch[models.FieldResubmissionCount] = item.ResubmissionCount + 1
	case next == New:
		if m.ReopenClearsTimes {
			patch[models.FieldCompletionTime] = nil
			patch[models.FieldSubmissionTime] = nil
		}
	}
	return patch, nil
}

// RequiresDocument reports whether entering next on an item of the given
// category must first capture and upload a scanned document. Exempt
// categories skip the capture flow entirely.
func RequiresDocument(next Status, category string, exemptCategories []string) bool {
	if !next.IsCompleted() {
		return false
	}
	for _, c := range exemptCategories {
		if c == category {
			return false
		}
	}
	return true
}
