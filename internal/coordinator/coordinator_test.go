package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"daily-work-tracker/internal/cache"
	"daily-work-tracker/internal/models"
	"daily-work-tracker/internal/status"
)

type submitCall struct {
	recordID string
	patch    models.Patch
}

// fakeSubmitter answers with the patch applied to its base record. gate, when
// set, blocks each call until a value is received, to probe in-flight
// behavior.
type fakeSubmitter struct {
	mu          sync.Mutex
	calls       []submitCall
	inflight    int
	maxInflight int
	err         error
	gate        chan struct{}
	base        map[string]models.WorkItem
}

func (f *fakeSubmitter) Submit(_ context.Context, recordID string, patch models.Patch) (models.WorkItem, error) {
	f.mu.Lock()
	f.calls = append(f.calls, submitCall{recordID: recordID, patch: patch})
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	gate := f.gate
	err := f.err
	item := f.base[recordID].Clone()
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()

	if err != nil {
		return models.WorkItem{}, err
	}
	if applyErr := item.ApplyPatch(patch); applyErr != nil {
		return models.WorkItem{}, applyErr
	}
	item.UpdatedAt = time.Now().UTC()
	return item, nil
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSubmitter) lastCall() submitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeNotifier struct {
	mu    sync.Mutex
	kinds []NotifyKind
}

func (f *fakeNotifier) Notify(_ context.Context, kind NotifyKind, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
}

func (f *fakeNotifier) saw(kind NotifyKind) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

type fakeCapturer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeCapturer) CaptureAndUpload(_ context.Context, recordID, label string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("s3://docs/%s/%s.jpg", recordID, label), nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func baseItem() models.WorkItem {
	return models.WorkItem{
		ID:          "w1",
		Category:    "electrical",
		Status:      models.StatusNew,
		InchargeID:  "boss",
		Description: "fix pump",
		Location:    "Site 7",
	}
}

func harness(t *testing.T) (*Coordinator, *fakeSubmitter, *fakeNotifier, *fakeCapturer, *cache.RecordCache) {
	t.Helper()
	item := baseItem()
	sub := &fakeSubmitter{base: map[string]models.WorkItem{"w1": item}}
	not := &fakeNotifier{}
	cap := &fakeCapturer{}
	rc := cache.New()
	rc.Load([]models.WorkItem{item})

	machine := status.NewMachine(true)
	machine.Now = func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }

	c := New(Options{
		Submitter:        sub,
		Documents:        cap,
		Notifier:         not,
		Cache:            rc,
		Machine:          machine,
		ExemptCategories: []string{"inspection-exempt"},
	})
	t.Cleanup(c.Close)
	return c, sub, not, cap, rc
}

func TestDebounceCoalescesToLastValue(t *testing.T) {
	c, sub, _, _, rc := harness(t)

	if err := c.Propose("w1", models.FieldLocation, "Site 7", 80*time.Millisecond); err != nil {
		t.Fatalf("propose: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := c.Propose("w1", models.FieldLocation, "Site 7B", 80*time.Millisecond); err != nil {
		t.Fatalf("propose: %v", err)
	}

	// The optimistic value shows before any submission.
	got, _ := rc.Get("w1")
	if got.Location != "Site 7B" {
		t.Fatalf("expected optimistic value Site 7B, got %q", got.Location)
	}
	if sub.callCount() != 0 {
		t.Fatal("nothing should be submitted inside the debounce window")
	}

	waitFor(t, func() bool { return sub.callCount() == 1 })
	call := sub.lastCall()
	if call.patch[models.FieldLocation] != "Site 7B" {
		t.Fatalf("only the last proposed value may be submitted, got %v", call.patch)
	}

	// No further submission may follow for the settled window.
	time.Sleep(150 * time.Millisecond)
	if sub.callCount() != 1 {
		t.Fatalf("expected exactly one submission, got %d", sub.callCount())
	}
}

func TestCloseCancelsPendingEdits(t *testing.T) {
	c, sub, _, _, _ := harness(t)

	_ = c.Propose("w1", models.FieldDescription, "a", 50*time.Millisecond)
	_ = c.Propose("w1", models.FieldLocation, "b", 50*time.Millisecond)
	c.Close()

	time.Sleep(120 * time.Millisecond)
	if n := sub.callCount(); n != 0 {
		t.Fatalf("teardown must cancel all pending edits, got %d submissions", n)
	}

	if err := c.Propose("w1", models.FieldLocation, "c", time.Millisecond); err == nil {
		t.Fatal("propose after close must fail")
	}
}

func TestCommitNowBypassesDebounce(t *testing.T) {
	c, sub, not, _, rc := harness(t)

	if err := c.CommitNow("w1", models.FieldDescription, "replace pump"); err != nil {
		t.Fatalf("commit now: %v", err)
	}
	waitFor(t, func() bool { return sub.callCount() == 1 })
	waitFor(t, func() bool { return not.saw(NotifySuccess) })

	got, _ := rc.Get("w1")
	if got.Description != "replace pump" {
		t.Fatalf("expected reconciled description, got %q", got.Description)
	}
}

func TestCommitNowSupersedesPendingDebounce(t *testing.T) {
	c, sub, _, _, _ := harness(t)

	_ = c.Propose("w1", models.FieldLocation, "Site 8", 200*time.Millisecond)
	if err := c.CommitNow("w1", models.FieldLocation, "Site 9"); err != nil {
		t.Fatalf("commit now: %v", err)
	}

	waitFor(t, func() bool { return sub.callCount() == 1 })
	time.Sleep(250 * time.Millisecond)
	if sub.callCount() != 1 {
		t.Fatalf("debounced value must be superseded, got %d submissions", sub.callCount())
	}
	if sub.lastCall().patch[models.FieldLocation] != "Site 9" {
		t.Fatalf("expected Site 9, got %v", sub.lastCall().patch)
	}
}

func TestSubmissionFailureRollsBackAndNotifies(t *testing.T) {
	c, sub, not, _, rc := harness(t)
	sub.mu.Lock()
	sub.err = errors.New("boom")
	sub.mu.Unlock()

	_ = c.Propose("w1", models.FieldLocation, "Site 9", 10*time.Millisecond)
	waitFor(t, func() bool { return not.saw(NotifyError) })

	waitFor(t, func() bool {
		got, _ := rc.Get("w1")
		return got.Location == "Site 7"
	})
	got, _ := rc.Get("w1")
	if got.Description != "fix pump" {
		t.Fatal("rollback must not touch sibling fields")
	}
}

func TestInFlightSubmissionsAreSerializedPerKey(t *testing.T) {
	c, sub, _, _, _ := harness(t)
	gate := make(chan struct{})
	sub.mu.Lock()
	sub.gate = gate
	sub.mu.Unlock()

	if err := c.CommitNow("w1", models.FieldLocation, "Site 8"); err != nil {
		t.Fatalf("commit now: %v", err)
	}
	waitFor(t, func() bool { return sub.callCount() == 1 })

	// Two more values arrive while the first call is in flight: they collapse
	// into the single slot, latest wins.
	if err := c.CommitNow("w1", models.FieldLocation, "Site 9"); err != nil {
		t.Fatalf("commit now: %v", err)
	}
	if err := c.CommitNow("w1", models.FieldLocation, "Site 10"); err != nil {
		t.Fatalf("commit now: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if sub.callCount() != 1 {
		t.Fatalf("no second submission may start while one is in flight, got %d", sub.callCount())
	}

	gate <- struct{}{}
	waitFor(t, func() bool { return sub.callCount() == 2 })
	gate <- struct{}{}
	waitFor(t, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		return sub.inflight == 0
	})

	if sub.maxInflight != 1 {
		t.Fatalf("submissions for one key overlapped: max in flight %d", sub.maxInflight)
	}
	if sub.lastCall().patch[models.FieldLocation] != "Site 10" {
		t.Fatalf("held slot must carry the latest value, got %v", sub.lastCall().patch)
	}

	time.Sleep(50 * time.Millisecond)
	if sub.callCount() != 2 {
		t.Fatalf("expected exactly two submissions, got %d", sub.callCount())
	}
}

func TestChangeStatusCompletedCapturesDocumentFirst(t *testing.T) {
	c, sub, _, cap, rc := harness(t)

	if err := c.ChangeStatus("w1", status.CompletedPass); err != nil {
		t.Fatalf("change status: %v", err)
	}
	if cap.calls != 1 {
		t.Fatalf("expected one document capture, got %d", cap.calls)
	}
	waitFor(t, func() bool { return sub.callCount() == 1 })

	patch := sub.lastCall().patch
	if patch[models.FieldStatus] != models.StatusCompleted {
		t.Fatalf("expected completed status in patch, got %v", patch)
	}
	if patch[models.FieldDocumentRef] == nil {
		t.Fatal("completion patch must carry the document reference")
	}
	if patch[models.FieldCompletionTime] == nil || patch[models.FieldSubmissionTime] == nil {
		t.Fatal("completion patch must stamp both timestamps")
	}

	waitFor(t, func() bool {
		got, _ := rc.Get("w1")
		return got.Status == models.StatusCompleted
	})
	got, _ := rc.Get("w1")
	if got.InspectionResult == nil || *got.InspectionResult != models.InspectionPass {
		t.Fatalf("expected pass result, got %+v", got.InspectionResult)
	}
}

func TestChangeStatusExemptCategorySkipsCapture(t *testing.T) {
	c, sub, _, cap, rc := harness(t)
	item := baseItem()
	item.ID = "w2"
	item.Category = "inspection-exempt"
	sub.mu.Lock()
	sub.base["w2"] = item
	sub.mu.Unlock()
	rc.Load([]models.WorkItem{baseItem(), item})

	if err := c.ChangeStatus("w2", status.CompletedFail); err != nil {
		t.Fatalf("change status: %v", err)
	}
	if cap.calls != 0 {
		t.Fatal("exempt category must not trigger the document flow")
	}
	waitFor(t, func() bool { return sub.callCount() == 1 })
}

func TestChangeStatusDocumentFailureBlocksCommit(t *testing.T) {
	c, sub, not, cap, rc := harness(t)
	cap.err = errors.New("scanner unplugged")

	err := c.ChangeStatus("w1", status.CompletedPass)
	var se *SideEffectError
	if !errors.As(err, &se) {
		t.Fatalf("expected SideEffectError, got %v", err)
	}

	got, _ := rc.Get("w1")
	if got.Status != models.StatusNew {
		t.Fatal("failed capture must leave the status untouched")
	}
	time.Sleep(50 * time.Millisecond)
	if sub.callCount() != 0 {
		t.Fatal("failed capture must prevent any submission")
	}
	if !not.saw(NotifyError) {
		t.Fatal("the user must see the side effect failure")
	}
}

func TestChangeStatusResubmissionIncrements(t *testing.T) {
	c, sub, _, _, _ := harness(t)

	if err := c.ChangeStatus("w1", status.Resubmission); err != nil {
		t.Fatalf("change status: %v", err)
	}
	waitFor(t, func() bool { return sub.callCount() == 1 })
	if sub.lastCall().patch[models.FieldResubmissionCount] != 1 {
		t.Fatalf("expected resubmission count 1, got %v", sub.lastCall().patch)
	}
}

func TestCommitAssignmentValidatesEligibility(t *testing.T) {
	c, sub, _, _, rc := harness(t)

	subject := models.User{ID: "A", DepartmentID: "X", HierarchyLevel: 3}
	senior := models.User{ID: "B", DepartmentID: "X", HierarchyLevel: 2}
	outsider := models.User{ID: "C", DepartmentID: "Y", HierarchyLevel: 1}
	junior := models.User{ID: "E", DepartmentID: "X", HierarchyLevel: 7}
	directory := []models.User{subject, senior, outsider, junior}

	managerID := "E"
	err := c.CommitAssignment("w1", &managerID, subject, directory)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if sub.callCount() != 0 {
		t.Fatal("invalid assignment must never reach the network")
	}
	got, _ := rc.Get("w1")
	if got.AssignedID != nil {
		t.Fatal("invalid assignment must not touch the cache")
	}

	managerID = "B"
	if err := c.CommitAssignment("w1", &managerID, subject, directory); err != nil {
		t.Fatalf("valid assignment rejected: %v", err)
	}
	waitFor(t, func() bool { return sub.callCount() == 1 })
}

func TestFailureRollbackSkipsNewerPendingEdit(t *testing.T) {
	c, sub, not, _, rc := harness(t)
	gate := make(chan struct{})
	sub.mu.Lock()
	sub.gate = gate
	sub.err = errors.New("boom")
	sub.mu.Unlock()

	if err := c.CommitNow("w1", models.FieldLocation, "Site 8"); err != nil {
		t.Fatalf("commit now: %v", err)
	}
	waitFor(t, func() bool { return sub.callCount() == 1 })

	// A newer value opens a debounce window while the first call is in flight.
	if err := c.Propose("w1", models.FieldLocation, "Site 9", time.Hour); err != nil {
		t.Fatalf("propose: %v", err)
	}

	gate <- struct{}{}
	waitFor(t, func() bool { return not.saw(NotifyError) })

	got, _ := rc.Get("w1")
	if got.Location != "Site 9" {
		t.Fatalf("failed submission must not repaint over a newer pending value, got %q", got.Location)
	}
}

func TestFailureRollbackSkipsQueuedSlot(t *testing.T) {
	c, sub, not, _, rc := harness(t)
	gate := make(chan struct{})
	sub.mu.Lock()
	sub.gate = gate
	sub.err = errors.New("boom")
	sub.mu.Unlock()

	if err := c.CommitNow("w1", models.FieldLocation, "Site 8"); err != nil {
		t.Fatalf("commit now: %v", err)
	}
	waitFor(t, func() bool { return sub.callCount() == 1 })

	// The replacement value lands in the slot; only the second call succeeds.
	if err := c.CommitNow("w1", models.FieldLocation, "Site 9"); err != nil {
		t.Fatalf("commit now: %v", err)
	}
	sub.mu.Lock()
	sub.err = nil
	sub.mu.Unlock()

	gate <- struct{}{}
	waitFor(t, func() bool { return not.saw(NotifyError) })
	got, _ := rc.Get("w1")
	if got.Location != "Site 9" {
		t.Fatalf("failed submission must not repaint over the held slot, got %q", got.Location)
	}

	gate <- struct{}{}
	waitFor(t, func() bool { return not.saw(NotifySuccess) })
	got, _ = rc.Get("w1")
	if got.Location != "Site 9" {
		t.Fatalf("expected reconciled value Site 9, got %q", got.Location)
	}
}
