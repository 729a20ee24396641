package models

import (
	"fmt"
	"time"
)

// Mutable field names accepted in a Patch. These match the JSON tags on
// WorkItem so the same names travel from the coordinator to the wire.
const (
	FieldStatus            = "status"
	FieldInspectionResult  = "inspection_result"
	FieldAssignedID        = "assigned_id"
	FieldCompletionTime    = "completion_time"
	FieldSubmissionTime    = "submission_time"
	FieldResubmissionCount = "resubmission_count"
	FieldDescription       = "description"
	FieldLocation          = "location"
	FieldDocumentRef       = "document_ref"
)

// FieldValue reads one mutable field by name.
func (w WorkItem) FieldValue(field string) (any, error) {
	switch field {
	case FieldStatus:
		return w.Status, nil
	case FieldInspectionResult:
		return cloneStr(w.InspectionResult), nil
	case FieldAssignedID:
		return cloneStr(w.AssignedID), nil
	case FieldCompletionTime:
		return cloneTime(w.CompletionTime), nil
	case FieldSubmissionTime:
		return cloneTime(w.SubmissionTime), nil
	case FieldResubmissionCount:
		return w.ResubmissionCount, nil
	case FieldDescription:
		return w.Description, nil
	case FieldLocation:
		return w.Location, nil
	case FieldDocumentRef:
		return cloneStr(w.DocumentRef), nil
	}
	return nil, fmt.Errorf("unknown work item field %q", field)
}

// SetField writes one mutable field by name. Nullable fields accept nil.
func (w *WorkItem) SetField(field string, value any) error {
	switch field {
	case FieldStatus:
		s, ok := value.(string)
		if !ok {
			return typeErr(field, value)
		}
		w.Status = s
	case FieldInspectionResult:
		p, err := asStrPtr(field, value)
		if err != nil {
			return err
		}
		w.InspectionResult = p
	case FieldAssignedID:
		p, err := asStrPtr(field, value)
		if err != nil {
			return err
		}
		w.AssignedID = p
	case FieldCompletionTime:
		p, err := asTimePtr(field, value)
		if err != nil {
			return err
		}
		w.CompletionTime = p
	case FieldSubmissionTime:
		p, err := asTimePtr(field, value)
		if err != nil {
			return err
		}
		w.SubmissionTime = p
	case FieldResubmissionCount:
		n, ok := value.(int)
		if !ok {
			return typeErr(field, value)
		}
		w.ResubmissionCount = n
	case FieldDescription:
		s, ok := value.(string)
		if !ok {
			return typeErr(field, value)
		}
		w.Description = s
	case FieldLocation:
		s, ok := value.(string)
		if !ok {
			return typeErr(field, value)
		}
		w.Location = s
	case FieldDocumentRef:
		p, err := asStrPtr(field, value)
		if err != nil {
			return err
		}
		w.DocumentRef = p
	default:
		return fmt.Errorf("unknown work item field %q", field)
	}
	return nil
}

// ApplyPatch writes every field in the patch, failing on the first unknown
// field or mistyped value without applying the rest.
func (w *WorkItem) ApplyPatch(patch Patch) error {
	staged := w.Clone()
	for field, value := range patch {
		if err := staged.SetField(field, value); err != nil {
			return err
		}
	}
	*w = staged
	return nil
}

func asStrPtr(field string, value any) (*string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return &v, nil
	case *string:
		return cloneStr(v), nil
	}
	return nil, typeErr(field, value)
}

func asTimePtr(field string, value any) (*time.Time, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &v, nil
	case *time.Time:
		return cloneTime(v), nil
	}
	return nil, typeErr(field, value)
}

func typeErr(field string, value any) error {
	return fmt.Errorf("field %s: unsupported value type %T", field, value)
}
