// Package status encodes the work item status workflow: which statuses exist,
// how composite completed statuses are represented, and which derived fields
// each transition touches.
package status

import (
	"fmt"
	"strings"

	"daily-work-tracker/internal/models"
)

// Separator joins a base status and its inspection result in the wire form,
// e.g. "completed:pass".
const Separator = ":"

// Status is the tagged form of a work item status. Result is set only when
// Base is completed.
type Status struct {
	Base   string
	Result string
}

var (
	New           = Status{Base: models.StatusNew}
	Resubmission  = Status{Base: models.StatusResubmission}
	Emergency     = Status{Base: models.StatusEmergency}
	CompletedPass = Status{Base: models.StatusCompleted, Result: models.InspectionPass}
	CompletedFail = Status{Base: models.StatusCompleted, Result: models.InspectionFail}
)

// All enumerates every legal status. The workflow has no terminal states;
// any status is reachable from any other by explicit user action.
var All = []Status{New, Resubmission, Emergency, CompletedPass, CompletedFail}

// Parse splits a wire status into its tagged form. A bare "completed" without
// a result is rejected: the result discriminator must come either from the
// composite string or via Normalize.
func Parse(s string) (Status, error) {
	base, result, found := strings.Cut(s, Separator)
	st := Status{Base: base, Result: result}
	switch base {
	case models.StatusNew, models.StatusResubmission, models.StatusEmergency:
		if found {
			return Status{}, fmt.Errorf("status %q does not take a result", base)
		}
		return st, nil
	case models.StatusCompleted:
		if result != models.InspectionPass && result != models.InspectionFail {
			return Status{}, fmt.Errorf("completed status requires a pass/fail result, got %q", s)
		}
		return st, nil
	}
	return Status{}, fmt.Errorf("unknown status %q", s)
}

// Normalize maps a stored status plus a separately stored inspection result
// to the tagged form, so both encodings of "completed" compare equal. The
// status may already be composite; the attribute is then ignored.
func Normalize(stored string, inspectionResult *string) (Status, error) {
	if stored == models.StatusCompleted {
		if inspectionResult == nil {
			return Status{}, fmt.Errorf("completed status is missing its inspection result")
		}
		return Parse(stored + Separator + *inspectionResult)
	}
	return Parse(stored)
}

// Of returns the tagged status of a work item record.
func Of(item models.WorkItem) (Status, error) {
	return Normalize(item.Status, item.InspectionResult)
}

// IsCompleted reports whether the status carries an inspection result.
func (s Status) IsCompleted() bool {
	return s.Base == models.StatusCompleted
}

// String renders the wire form.
func (s Status) String() string {
	if s.Result == "" {
		return s.Base
	}
	return s.Base + Separator + s.Result
}
