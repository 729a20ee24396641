// Package coordinator turns bursts of user edits to the daily work table into
// a minimal, correctly ordered stream of server submissions, applying each
// edit optimistically and reconciling or rolling back when the server answers.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"daily-work-tracker/internal/cache"
	"daily-work-tracker/internal/eligibility"
	"daily-work-tracker/internal/models"
	"daily-work-tracker/internal/status"
	"daily-work-tracker/internal/telemetry"
)

type editKey struct {
	recordID string
	field    string
}

// pendingEdit is one debounced proposal. prior is the cache value before the
// first proposal of the window, kept for rollback.
type pendingEdit struct {
	timer *time.Timer
	patch models.Patch
	prior map[string]any
}

// submission is the one-value slot held while an earlier submission for the
// same key is still in flight.
type submission struct {
	patch models.Patch
	prior map[string]any
}

// Coordinator owns the pending debounce timers and the per-key in-flight
// bookkeeping for one view of the work table. Create one per view and Close
// it on teardown; Close cancels every outstanding timer on every exit path.
type Coordinator struct {
	submitter Submitter
	docs      DocumentCapturer
	notifier  Notifier
	cache     *cache.RecordCache
	machine   *status.Machine

	// ExemptCategories complete without the scanned-document flow.
	exemptCategories []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	pending  map[editKey]*pendingEdit
	inflight map[editKey]bool
	queued   map[editKey]*submission
}

// Options collects the collaborators and policy knobs a Coordinator needs.
type Options struct {
	Submitter        Submitter
	Documents        DocumentCapturer
	Notifier         Notifier
	Cache            *cache.RecordCache
	Machine          *status.Machine
	ExemptCategories []string
}

// New builds a coordinator bound to one view's cache. The returned value must
// be Closed when the view is torn down.
func New(opts Options) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	m := opts.Machine
	if m == nil {
		m = status.NewMachine(true)
	}
	return &Coordinator{
		submitter:        opts.Submitter,
		docs:             opts.Documents,
		notifier:         opts.Notifier,
		cache:            opts.Cache,
		machine:          m,
		exemptCategories: opts.ExemptCategories,
		ctx:              ctx,
		cancel:           cancel,
		pending:          make(map[editKey]*pendingEdit),
		inflight:         make(map[editKey]bool),
		queued:           make(map[editKey]*submission),
	}
}

// Propose records value as the pending value for (recordID, field), applies it
// to the cache immediately, and (re)starts the debounce timer. Only the most
// recent value of a window is ever submitted; earlier values are discarded.
func (c *Coordinator) Propose(recordID, field string, value any, delay time.Duration) error {
	key := editKey{recordID: recordID, field: field}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("coordinator is closed")
	}

	prior, hasPrior := c.priorFor(key)
	if !hasPrior {
		rec, ok := c.cache.Get(recordID)
		if !ok {
			return &ValidationError{Field: field, Reason: "record not loaded"}
		}
		v, err := rec.FieldValue(field)
		if err != nil {
			return &ValidationError{Field: field, Reason: err.Error()}
		}
		prior = v
	}

	if err := c.cache.ApplyLocal(recordID, models.Patch{field: value}); err != nil {
		return &ValidationError{Field: field, Reason: err.Error()}
	}

	if pe, ok := c.pending[key]; ok {
		// Window already open: replace the value, keep the original prior.
		pe.timer.Stop()
		telemetry.CoalescedTotal.Inc()
		pe.patch[field] = value
		pe.timer = time.AfterFunc(delay, func() { c.fire(key) })
		return nil
	}
	telemetry.PendingEditsGauge.Inc()
	c.pending[key] = &pendingEdit{
		patch: models.Patch{field: value},
		prior: map[string]any{field: prior},
		timer: time.AfterFunc(delay, func() { c.fire(key) }),
	}
	return nil
}

// CommitNow submits a discrete edit with no debounce, cancelling any pending
// timer for the same key first.
func (c *Coordinator) CommitNow(recordID, field string, value any) error {
	rec, ok := c.cache.Get(recordID)
	if !ok {
		return &ValidationError{Field: field, Reason: "record not loaded"}
	}
	prior, err := rec.FieldValue(field)
	if err != nil {
		return &ValidationError{Field: field, Reason: err.Error()}
	}
	patch := models.Patch{field: value}
	if err := c.cache.ApplyLocal(recordID, patch); err != nil {
		return &ValidationError{Field: field, Reason: err.Error()}
	}
	return c.enqueue(editKey{recordID: recordID, field: field}, patch, map[string]any{field: prior})
}

// ChangeStatus runs the status workflow: the mandatory document side effect
// first for non-exempt completions, then the derived-field patch from the
// state machine, applied optimistically and submitted immediately.
func (c *Coordinator) ChangeStatus(recordID string, next status.Status) error {
	item, ok := c.cache.Get(recordID)
	if !ok {
		return &ValidationError{Field: models.FieldStatus, Reason: "record not loaded"}
	}

	patch, err := c.machine.Transition(item, next)
	if err != nil {
		return &ValidationError{Field: models.FieldStatus, Reason: err.Error()}
	}

	// The capture must succeed before any state becomes visible: a record may
	// never claim completion without its artifact.
	if status.RequiresDocument(next, item.Category, c.exemptCategories) {
		if c.docs == nil {
			return &SideEffectError{RecordID: recordID, Err: fmt.Errorf("no document capturer configured")}
		}
		ref, err := c.docs.CaptureAndUpload(c.ctx, recordID, next.String())
		if err != nil {
			se := &SideEffectError{RecordID: recordID, Err: err}
			c.notify(NotifyError, se.Error())
			return se
		}
		telemetry.DocumentsUploaded.Inc()
		patch[models.FieldDocumentRef] = ref
	}

	prior := make(map[string]any, len(patch))
	for field := range patch {
		v, err := item.FieldValue(field)
		if err != nil {
			return &ValidationError{Field: field, Reason: err.Error()}
		}
		prior[field] = v
	}

	if err := c.cache.ApplyLocal(recordID, patch); err != nil {
		return &ValidationError{Field: models.FieldStatus, Reason: err.Error()}
	}
	return c.enqueue(editKey{recordID: recordID, field: models.FieldStatus}, patch, prior)
}

// CommitAssignment validates the manager selection against the eligibility
// rules before committing it. managerID nil clears the assignment.
func (c *Coordinator) CommitAssignment(recordID string, managerID *string, subject models.User, directory []models.User) error {
	if managerID != nil {
		current := ""
		if subject.ReportsToID != nil {
			current = *subject.ReportsToID
		}
		if !eligibility.IsEligible(subject, directory, current, *managerID) {
			return &ValidationError{Field: models.FieldAssignedID, Reason: fmt.Sprintf("user %s is not an eligible manager for %s", *managerID, subject.ID)}
		}
	}
	return c.CommitNow(recordID, models.FieldAssignedID, managerID)
}

// Close cancels every pending timer and in-flight submission. Safe to call
// more than once; after Close, Propose and CommitNow fail.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for key, pe := range c.pending {
		pe.timer.Stop()
		delete(c.pending, key)
		telemetry.PendingEditsGauge.Dec()
	}
	c.queued = make(map[editKey]*submission)
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// fire runs when a debounce timer expires: the latest value moves from the
// pending window into the submission pipeline.
func (c *Coordinator) fire(key editKey) {
	c.mu.Lock()
	pe, ok := c.pending[key]
	if !ok || c.closed {
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	telemetry.PendingEditsGauge.Dec()
	c.mu.Unlock()

	_ = c.enqueue(key, pe.patch, pe.prior)
}

// enqueue serializes submissions per key: while one is in flight, at most one
// replacement value waits in the slot, and it is dispatched only after the
// in-flight call settles. Two submissions for the same key never overlap.
func (c *Coordinator) enqueue(key editKey, patch models.Patch, prior map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("coordinator is closed")
	}
	if existing, ok := c.pending[key]; ok {
		// A CommitNow supersedes a still-waiting debounced value.
		existing.timer.Stop()
		delete(c.pending, key)
		telemetry.PendingEditsGauge.Dec()
		// The window's prior predates this patch's snapshot; keep it so a
		// rollback lands on pre-burst state.
		for f, p := range existing.prior {
			prior[f] = p
		}
	}
	if c.inflight[key] {
		if held, ok := c.queued[key]; ok {
			// Keep the earliest priors so a rollback lands on pre-burst state.
			for f, p := range held.prior {
				prior[f] = p
			}
		}
		c.queued[key] = &submission{patch: patch, prior: prior}
		return nil
	}
	c.inflight[key] = true
	c.wg.Add(1)
	go c.dispatch(key, patch, prior)
	return nil
}

func (c *Coordinator) dispatch(key editKey, patch models.Patch, prior map[string]any) {
	defer c.wg.Done()
	for {
		c.notify(NotifyPending, fmt.Sprintf("saving %s", key.field))
		telemetry.SubmissionsTotal.Inc()
		telemetry.InFlightGauge.Inc()
		canonical, err := c.submitter.Submit(c.ctx, key.recordID, patch)
		telemetry.InFlightGauge.Dec()

		if err != nil {
			telemetry.SubmissionFailures.Inc()
			c.rollback(key.recordID, prior)
			se := &SubmissionError{RecordID: key.recordID, Field: key.field, Err: err}
			c.notify(NotifyError, se.Error())
		} else {
			c.cache.Reconcile(key.recordID, canonical)
			c.notify(NotifySuccess, fmt.Sprintf("%s saved", key.field))
		}

		c.mu.Lock()
		next, ok := c.queued[key]
		if !ok || c.closed {
			delete(c.inflight, key)
			c.mu.Unlock()
			return
		}
		delete(c.queued, key)
		c.mu.Unlock()
		patch, prior = next.patch, next.prior
	}
}

// rollback repaints prior values after a failed submission. A field with a
// newer pending or queued edit is left alone: that edit carries the earliest
// prior for the field, so its own settle path converges the cache.
func (c *Coordinator) rollback(recordID string, prior map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for field, p := range prior {
		k := editKey{recordID: recordID, field: field}
		if _, ok := c.pending[k]; ok {
			continue
		}
		if _, ok := c.queued[k]; ok {
			continue
		}
		if err := c.cache.Rollback(recordID, field, p); err == nil {
			telemetry.RollbacksTotal.Inc()
		}
	}
}

func (c *Coordinator) notify(kind NotifyKind, message string) {
	if c.notifier != nil {
		c.notifier.Notify(c.ctx, kind, message)
	}
}

// priorFor reads the earliest recorded prior for a key across the pending
// window and the held slot, if any. Caller holds c.mu.
func (c *Coordinator) priorFor(key editKey) (any, bool) {
	if pe, ok := c.pending[key]; ok {
		if p, ok := pe.prior[key.field]; ok {
			return p, true
		}
	}
	if held, ok := c.queued[key]; ok {
		if p, ok := held.prior[key.field]; ok {
			return p, true
		}
	}
	return nil, false
}
