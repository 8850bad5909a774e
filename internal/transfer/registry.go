package transfer

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned by registry lookups for unknown transfer ids.
var ErrNotFound = errors.New("transfer not found")

// Registry is the owned store of every known transfer. All mutation goes
// through its methods, so each entry has a single writer (the engine
// goroutine that created it) and readers always see consistent copies.
type Registry struct {
	mu        sync.RWMutex
	transfers map[string]*Transfer
}

func NewRegistry() *Registry {
	return &Registry{transfers: make(map[string]*Transfer)}
}

// Add registers a transfer before its first byte is written.
func (r *Registry) Add(t *Transfer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.StartedAt.IsZero() {
		t.StartedAt = time.Now()
	}
	t.Status = StatusDownloading
	r.transfers[t.ID] = t
}

// Get returns a copy of the transfer with the given id.
func (r *Registry) Get(id string) (Transfer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.transfers[id]
	if !ok {
		return Transfer{}, ErrNotFound
	}
	return *t, nil
}

// SetProgress records the latest byte count, percent and speed for an
// in-flight transfer. Unknown ids are ignored.
func (r *Registry) SetProgress(id string, downloaded int64, percent int, speed string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.transfers[id]
	if !ok || t.Status != StatusDownloading {
		return
	}
	t.Downloaded = downloaded
	t.Progress = percent
	t.Speed = speed
}

// Completion carries the final state applied when a transfer completes.
type Completion struct {
	Size       int64
	PublishURL string
	BrowseURL  string
	Source     string
	Warning    string
}

// Complete marks the transfer completed and records the publish outcome.
// The final size is authoritative: Downloaded is aligned to it.
func (r *Registry) Complete(id string, c Completion) (Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.transfers[id]
	if !ok {
		return Transfer{}, ErrNotFound
	}

	t.Status = StatusCompleted
	t.Size = c.Size
	t.Downloaded = c.Size
	t.Progress = 100
	t.PublishURL = c.PublishURL
	t.BrowseURL = c.BrowseURL
	t.Source = c.Source
	t.Warning = c.Warning
	t.CompletedAt = time.Now()

	return *t, nil
}

// Fail removes the transfer from the registry and returns its final record
// with the failure message applied.
func (r *Registry) Fail(id string, msg string) (Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.transfers[id]
	if !ok {
		return Transfer{}, ErrNotFound
	}

	t.Status = StatusFailed
	t.Error = msg
	t.CompletedAt = time.Now()
	delete(r.transfers, id)

	return *t, nil
}

// Snapshot returns copies of every known transfer, oldest first.
func (r *Registry) Snapshot() []Transfer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Transfer, 0, len(r.transfers))
	for _, t := range r.transfers {
		list = append(list, *t)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].StartedAt.Equal(list[j].StartedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].StartedAt.Before(list[j].StartedAt)
	})

	return list
}

// Len reports the number of known transfers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.transfers)
}

// IsActiveFile reports whether any in-flight transfer writes to the given
// stored name. The retention sweeper must not touch such files.
func (r *Registry) IsActiveFile(storedName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.transfers {
		if t.Filename == storedName && t.Status.IsActive() {
			return true
		}
	}
	return false
}

// DropByFilename removes any entry whose stored name matches. Used by the
// retention sweeper after it deletes a file.
func (r *Registry) DropByFilename(storedName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, t := range r.transfers {
		if t.Filename == storedName {
			delete(r.transfers, id)
		}
	}
}

// PruneCompletedBefore drops completed transfers that finished before the
// cutoff and returns the removed records.
func (r *Registry) PruneCompletedBefore(cutoff time.Time) []Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pruned []Transfer
	for id, t := range r.transfers {
		if t.Status == StatusCompleted && t.CompletedAt.Before(cutoff) {
			pruned = append(pruned, *t)
			delete(r.transfers, id)
		}
	}
	return pruned
}
