package models

import (
	"time"
)

// Base work item statuses persisted in Postgres. Completed items carry an
// inspection result alongside the base status.
const (
	StatusNew          = "new"
	StatusResubmission = "resubmission"
	StatusEmergency    = "emergency"
	StatusCompleted    = "completed"
)

// Inspection results attached to completed work items.
const (
	InspectionPass = "pass"
	InspectionFail = "fail"
)

// WorkItem is a single row of the daily work table.
type WorkItem struct {
	ID                string     `json:"id"`
	Category          string     `json:"category"`
	Status            string     `json:"status"`
	InspectionResult  *string    `json:"inspection_result,omitempty"`
	InchargeID        string     `json:"incharge_id"`
	AssignedID        *string    `json:"assigned_id,omitempty"`
	CompletionTime    *time.Time `json:"completion_time,omitempty"`
	SubmissionTime    *time.Time `json:"submission_time,omitempty"`
	ResubmissionCount int        `json:"resubmission_count"`
	Description       string     `json:"description"`
	Location          string     `json:"location"`
	DocumentRef       *string    `json:"document_ref,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// User is a read-only directory entry. HierarchyLevel is ascending seniority:
// lower value means more senior.
type User struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	DepartmentID   string  `json:"department_id"`
	HierarchyLevel int     `json:"hierarchy_level"`
	ReportsToID    *string `json:"reports_to_id,omitempty"`
}

// Patch is a partial update to a work item, keyed by JSON field name.
type Patch map[string]any

// Clone returns a copy so optimistic edits never alias the cached record's
// pointer fields.
func (w WorkItem) Clone() WorkItem {
	c := w
	c.InspectionResult = cloneStr(w.InspectionResult)
	c.AssignedID = cloneStr(w.AssignedID)
	c.DocumentRef = cloneStr(w.DocumentRef)
	c.CompletionTime = cloneTime(w.CompletionTime)
	c.SubmissionTime = cloneTime(w.SubmissionTime)
	return c
}

// FieldChange is an audit row recording one reconciled field mutation.
type FieldChange struct {
	ItemID   string    `json:"item_id"`
	Field    string    `json:"field"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
