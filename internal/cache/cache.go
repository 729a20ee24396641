// Package cache holds the in-memory mirror of the work item list that the UI
// renders from. Local edits land here immediately; the server's canonical
// record always wins on reconciliation.
package cache

import (
	"fmt"
	"sort"
	"sync"

	"daily-work-tracker/internal/models"
)

// RecordCache is the single mutable shared resource of the client core. All
// mutations go through ApplyLocal, Reconcile, or Rollback; rendering code only
// reads. A mutex keeps the guarantees intact if callers run on real threads.
type RecordCache struct {
	mu      sync.RWMutex
	records map[string]models.WorkItem
}

func New() *RecordCache {
	return &RecordCache{records: make(map[string]models.WorkItem)}
}

// Load replaces the cache contents with a fresh page of server records.
func (c *RecordCache) Load(items []models.WorkItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[string]models.WorkItem, len(items))
	for _, it := range items {
		c.records[it.ID] = it.Clone()
	}
}

// Get returns a copy of one record.
func (c *RecordCache) Get(recordID string) (models.WorkItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.records[recordID]
	if !ok {
		return models.WorkItem{}, false
	}
	return it.Clone(), true
}

// List returns copies of all records ordered by ID, for rendering.
func (c *RecordCache) List() []models.WorkItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.WorkItem, 0, len(c.records))
	for _, it := range c.records {
		out = append(out, it.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ApplyLocal merges a partial update into the record before any network
// confirmation. A later ApplyLocal for the same field supersedes the earlier
// one; there is never more than one pending value per (record, field).
func (c *RecordCache) ApplyLocal(recordID string, patch models.Patch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.records[recordID]
	if !ok {
		return fmt.Errorf("record %s not in cache", recordID)
	}
	if err := it.ApplyPatch(patch); err != nil {
		return err
	}
	c.records[recordID] = it
	return nil
}

// Reconcile replaces the local record with the server's canonical version.
// Server-computed fields overwrite any optimistic guess.
func (c *RecordCache) Reconcile(recordID string, canonical models.WorkItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[recordID] = canonical.Clone()
}

// Rollback restores a single field to its pre-edit value, leaving sibling
// fields of the same record untouched.
func (c *RecordCache) Rollback(recordID, field string, prior any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.records[recordID]
	if !ok {
		return fmt.Errorf("record %s not in cache", recordID)
	}
	if err := it.SetField(field, prior); err != nil {
		return err
	}
	c.records[recordID] = it
	return nil
}
