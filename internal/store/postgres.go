package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"daily-work-tracker/internal/models"
	"daily-work-tracker/internal/status"
)

// ErrNotFound reports a missing work item or user.
var ErrNotFound = errors.New("not found")

// ErrInvalidPatch reports a patch the server refuses to apply.
var ErrInvalidPatch = errors.New("invalid patch")

// Store wraps pgxpool for Postgres persistence of the work table.
type Store struct {
	pool    *pgxpool.Pool
	machine *status.Machine
}

// New creates a pooled connection to Postgres. The status machine is the
// server's authority for transition side effects.
func New(ctx context.Context, dsn string, machine *status.Machine) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if machine == nil {
		machine = status.NewMachine(true)
	}
	return &Store{pool: pool, machine: machine}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateWorkItemParams collects inputs required to insert a work item.
type CreateWorkItemParams struct {
	Category    string
	InchargeID  string
	Description string
	Location    string
}

// CreateWorkItem inserts a work item in status new.
func (s *Store) CreateWorkItem(ctx context.Context, p CreateWorkItemParams) (models.WorkItem, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO work_items (id, category, status, incharge_id, description, location, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, id, p.Category, models.StatusNew, p.InchargeID, p.Description, p.Location, now)
	if err != nil {
		return models.WorkItem{}, fmt.Errorf("insert work item: %w", err)
	}
	return s.GetWorkItem(ctx, id)
}

const workItemColumns = `id, category, status, inspection_result, incharge_id, assigned_id,
	completion_time, submission_time, resubmission_count, description, location, document_ref,
	created_at, updated_at`

// GetWorkItem fetches one work item by id.
func (s *Store) GetWorkItem(ctx context.Context, id string) (models.WorkItem, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id = $1`, id)
	return scanWorkItem(row)
}

// ListWorkItems returns the whole table ordered by creation time.
func (s *Store) ListWorkItems(ctx context.Context) ([]models.WorkItem, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+workItemColumns+` FROM work_items ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query work items: %w", err)
	}
	defer rows.Close()

	var out []models.WorkItem
	for rows.Next() {
		it, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ApplyPatch applies one client patch inside a transaction and returns the
// canonical record. Status transitions are recomputed server-side through the
// state machine: client guesses for derived fields are ignored, except the
// document reference produced by the capture flow.
func (s *Store) ApplyPatch(ctx context.Context, id string, patch models.Patch) (models.WorkItem, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.WorkItem{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	row := tx.QueryRow(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id = $1 FOR UPDATE`, id)
	item, err := scanWorkItem(row)
	if err != nil {
		return models.WorkItem{}, err
	}

	effective, err := s.effectivePatch(ctx, tx, item, patch)
	if err != nil {
		return models.WorkItem{}, err
	}

	updated := item.Clone()
	if err := updated.ApplyPatch(effective); err != nil {
		return models.WorkItem{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	updated.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx, `
		UPDATE work_items SET
			status = $2, inspection_result = $3, assigned_id = $4,
			completion_time = $5, submission_time = $6, resubmission_count = $7,
			description = $8, location = $9, document_ref = $10, updated_at = $11
		WHERE id = $1
	`, id, updated.Status, updated.InspectionResult, updated.AssignedID,
		updated.CompletionTime, updated.SubmissionTime, updated.ResubmissionCount,
		updated.Description, updated.Location, updated.DocumentRef, updated.UpdatedAt)
	if err != nil {
		return models.WorkItem{}, fmt.Errorf("update work item: %w", err)
	}

	for field := range effective {
		_, err = tx.Exec(ctx, `
			INSERT INTO field_changes (item_id, field, detail, ts) VALUES ($1, $2, $3, NOW())
		`, id, field, fmt.Sprintf("%v -> %v", fieldOrNull(item, field), fieldOrNull(updated, field)))
		if err != nil {
			return models.WorkItem{}, fmt.Errorf("insert field change: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.WorkItem{}, fmt.Errorf("commit: %w", err)
	}
	return updated, nil
}

// effectivePatch resolves the authoritative patch: status transitions go
// through the machine, assignments are re-validated against the directory.
func (s *Store) effectivePatch(ctx context.Context, tx pgx.Tx, item models.WorkItem, patch models.Patch) (models.Patch, error) {
	effective := models.Patch{}
	for field, value := range patch {
		switch field {
		case models.FieldStatus:
			base, _ := value.(string)
			var result *string
			if r, ok := patch[models.FieldInspectionResult]; ok {
				if rs, ok := r.(string); ok {
					result = &rs
				}
			}
			next, err := status.Normalize(base, result)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
			}
			derived, err := s.machine.Transition(item, next)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
			}
			for f, v := range derived {
				effective[f] = v
			}
		case models.FieldInspectionResult, models.FieldCompletionTime,
			models.FieldSubmissionTime, models.FieldResubmissionCount:
			// Server-computed; only meaningful alongside a status change,
			// where the machine supplies them.
			if _, ok := patch[models.FieldStatus]; !ok {
				return nil, fmt.Errorf("%w: field %s is server-computed", ErrInvalidPatch, field)
			}
		case models.FieldAssignedID:
			assigned, err := normalizeID(value)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
			}
			if assigned != nil {
				if err := s.validateAssignment(ctx, tx, item, *assigned); err != nil {
					return nil, err
				}
			}
			effective[field] = assigned
		case models.FieldDescription, models.FieldLocation, models.FieldDocumentRef:
			effective[field] = value
		default:
			return nil, fmt.Errorf("%w: unknown field %s", ErrInvalidPatch, field)
		}
	}
	return effective, nil
}

// validateAssignment enforces that the assignee reports to the work item's
// incharge at assignment time.
func (s *Store) validateAssignment(ctx context.Context, tx pgx.Tx, item models.WorkItem, assignedID string) error {
	var reportsTo pgtype.Text
	err := tx.QueryRow(ctx, `SELECT reports_to_id FROM users WHERE id = $1`, assignedID).Scan(&reportsTo)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: assigned user %s does not exist", ErrInvalidPatch, assignedID)
	}
	if err != nil {
		return fmt.Errorf("query assigned user: %w", err)
	}
	if !reportsTo.Valid || reportsTo.String != item.InchargeID {
		return fmt.Errorf("%w: user %s does not report to %s", ErrInvalidPatch, assignedID, item.InchargeID)
	}
	return nil
}

// CreateUser inserts or updates a directory entry.
func (s *Store) CreateUser(ctx context.Context, u models.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name, department_id, hierarchy_level, reports_to_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = $2, department_id = $3, hierarchy_level = $4, reports_to_id = $5
	`, u.ID, u.Name, u.DepartmentID, u.HierarchyLevel, u.ReportsToID)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// ListUsers returns the directory snapshot served to clients.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, department_id, hierarchy_level, reports_to_id FROM users ORDER BY hierarchy_level, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		var u models.User
		var reportsTo pgtype.Text
		if err := rows.Scan(&u.ID, &u.Name, &u.DepartmentID, &u.HierarchyLevel, &reportsTo); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.ReportsToID = textPtr(reportsTo)
		out = append(out, u)
	}
	return out, rows.Err()
}

// FieldHistory returns the audit trail for one work item.
func (s *Store) FieldHistory(ctx context.Context, itemID string) ([]models.FieldChange, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT item_id, field, detail, ts FROM field_changes WHERE item_id = $1 ORDER BY ts, id
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query field changes: %w", err)
	}
	defer rows.Close()

	var out []models.FieldChange
	for rows.Next() {
		var fc models.FieldChange
		if err := rows.Scan(&fc.ItemID, &fc.Field, &fc.Detail, &fc.Recorded); err != nil {
			return nil, fmt.Errorf("scan field change: %w", err)
		}
		out = append(out, fc)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (models.WorkItem, error) {
	var it models.WorkItem
	var inspection, assigned, docRef pgtype.Text
	var completion, submission pgtype.Timestamptz

	err := row.Scan(&it.ID, &it.Category, &it.Status, &inspection, &it.InchargeID, &assigned,
		&completion, &submission, &it.ResubmissionCount, &it.Description, &it.Location, &docRef,
		&it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WorkItem{}, ErrNotFound
	}
	if err != nil {
		return models.WorkItem{}, fmt.Errorf("scan work item: %w", err)
	}

	it.InspectionResult = textPtr(inspection)
	it.AssignedID = textPtr(assigned)
	it.DocumentRef = textPtr(docRef)
	it.CompletionTime = timePtr(completion)
	it.SubmissionTime = timePtr(submission)
	return it, nil
}

func normalizeID(value any) (*string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return &v, nil
	case *string:
		return v, nil
	}
	return nil, fmt.Errorf("unsupported id value %T", value)
}

func fieldOrNull(item models.WorkItem, field string) any {
	v, err := item.FieldValue(field)
	if err != nil {
		return "?"
	}
	switch p := v.(type) {
	case *string:
		if p == nil {
			return "null"
		}
		return *p
	case *time.Time:
		if p == nil {
			return "null"
		}
		return p.UTC().Format(time.RFC3339)
	}
	return v
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}
