package event

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rdleal/intervalst/interval"
)

// Signal is an external update recorded by the stub.
type Signal struct {
	EventId int64
	Reason  string
}

// RepositoryStub is an in-memory Repository. Transactions are serialized
// as a whole, which stands in for the per-uid locks of the real store.
type RepositoryStub struct {
	txMu sync.Mutex

	mu      sync.RWMutex
	events  map[int64]Event
	signals []Signal
	nextId  int64

	// overrides indexes override intervals per master; interval keys map to
	// the ids sharing that exact interval.
	overrides map[string]*interval.SearchTree[string, time.Time]
	intervals map[string]map[string][]int64
}

func NewRepositoryStub() *RepositoryStub {
	r := &RepositoryStub{
		events: make(map[int64]Event),
		nextId: 1,
	}
	r.rebuildIndex()
	return r
}

func (r *RepositoryStub) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	originalEvents := make(map[int64]Event, len(r.events))
	for k, v := range r.events {
		originalEvents[k] = v
	}
	originalSignals := slices.Clone(r.signals)
	originalNextId := r.nextId
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.events = originalEvents
		r.signals = originalSignals
		r.nextId = originalNextId
		r.rebuildIndex()
		r.mu.Unlock()
		return err
	}
	return nil
}

// LockUids is a no-op: WithTransaction already holds the store-wide lock.
func (r *RepositoryStub) LockUids(ctx context.Context, namespaceId int, uids []string) error {
	return nil
}

func (r *RepositoryStub) FindByUids(ctx context.Context, namespaceId int, filter CalendarFilter, uids []string) ([]Event, error) {
	return r.find(namespaceId, filter, func(e Event) bool { return slices.Contains(uids, e.Uid) }), nil
}

func (r *RepositoryStub) FindByPublicIds(ctx context.Context, namespaceId int, filter CalendarFilter, publicIds []string) ([]Event, error) {
	return r.find(namespaceId, filter, func(e Event) bool { return slices.Contains(publicIds, e.PublicId) }), nil
}

func (r *RepositoryStub) GetByPublicId(ctx context.Context, namespaceId int, publicId string) (Event, error) {
	found := r.find(namespaceId, CalendarFilter{}, func(e Event) bool { return e.PublicId == publicId })
	if len(found) == 0 {
		return Event{}, ErrEventNotFound
	}
	return found[0], nil
}

func (r *RepositoryStub) find(namespaceId int, filter CalendarFilter, match func(Event) bool) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Event
	for _, e := range r.events {
		if e.NamespaceId == namespaceId && filter.matches(e.CalendarId) && match(e) {
			result = append(result, cloneEvent(e))
		}
	}
	slices.SortFunc(result, func(a, b Event) int { return int(a.Id - b.Id) })
	return result
}

func (r *RepositoryStub) GetOverrides(ctx context.Context, namespaceId int, masterUid string, window *Window) ([]Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	master := masterKey(namespaceId, masterUid)
	var ids []int64
	if window == nil {
		for _, intervalIds := range r.intervals[master] {
			ids = append(ids, intervalIds...)
		}
	} else if tree, ok := r.overrides[master]; ok {
		keys, _ := tree.AllIntersections(window.Start, window.End)
		for _, key := range keys {
			ids = append(ids, r.intervals[master][key]...)
		}
	}

	var result []Event
	for _, id := range ids {
		e := r.events[id]
		if window != nil && (e.Start.Before(window.Start) || e.End.After(window.End)) {
			continue
		}
		result = append(result, cloneEvent(e))
	}
	slices.SortFunc(result, func(a, b Event) int { return a.Start.Compare(b.Start) })
	return result, nil
}

func (r *RepositoryStub) Upsert(ctx context.Context, e Event) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.Kind == nil {
		e.Kind = Plain{}
	}
	if e.Id == 0 {
		e.Id = r.nextId
		r.nextId++
	} else {
		previous, ok := r.events[e.Id]
		if !ok || previous.NamespaceId != e.NamespaceId {
			return Event{}, ErrEventNotFound
		}
		r.unindex(previous)
	}
	e = cloneEvent(e)
	r.events[e.Id] = e
	if err := r.index(e); err != nil {
		return Event{}, err
	}
	return cloneEvent(e), nil
}

func (r *RepositoryStub) SignalExternalUpdate(ctx context.Context, e Event, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, Signal{EventId: e.Id, Reason: reason})
	return nil
}

// Signals returns the external updates recorded so far.
func (r *RepositoryStub) Signals() []Signal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.signals)
}

// Events returns every stored event ordered by id.
func (r *RepositoryStub) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		result = append(result, cloneEvent(e))
	}
	slices.SortFunc(result, func(a, b Event) int { return int(a.Id - b.Id) })
	return result
}

func (r *RepositoryStub) index(e Event) error {
	override, ok := e.Kind.(Override)
	if !ok {
		return nil
	}
	master := masterKey(e.NamespaceId, override.MasterUid)
	tree, ok := r.overrides[master]
	if !ok {
		tree = interval.NewSearchTree[string](func(x, y time.Time) int { return x.Compare(y) })
		r.overrides[master] = tree
		r.intervals[master] = make(map[string][]int64)
	}
	key := intervalKey(e.Start, e.End)
	if len(r.intervals[master][key]) == 0 {
		if err := tree.Insert(e.Start, e.End, key); err != nil {
			return fmt.Errorf("failed to index override %s: %w", e.Uid, err)
		}
	}
	r.intervals[master][key] = append(r.intervals[master][key], e.Id)
	return nil
}

func (r *RepositoryStub) unindex(e Event) {
	override, ok := e.Kind.(Override)
	if !ok {
		return
	}
	master := masterKey(e.NamespaceId, override.MasterUid)
	key := intervalKey(e.Start, e.End)
	ids := slices.DeleteFunc(r.intervals[master][key], func(id int64) bool { return id == e.Id })
	if len(ids) > 0 {
		r.intervals[master][key] = ids
		return
	}
	delete(r.intervals[master], key)
	if tree, ok := r.overrides[master]; ok {
		_ = tree.Delete(e.Start, e.End)
	}
}

func (r *RepositoryStub) rebuildIndex() {
	r.overrides = make(map[string]*interval.SearchTree[string, time.Time])
	r.intervals = make(map[string]map[string][]int64)
	for _, e := range r.events {
		_ = r.index(e)
	}
}

func masterKey(namespaceId int, masterUid string) string {
	return fmt.Sprintf("%d:%s", namespaceId, masterUid)
}

func intervalKey(start, end time.Time) string {
	return start.UTC().Format(time.RFC3339Nano) + "|" + end.UTC().Format(time.RFC3339Nano)
}

func cloneEvent(e Event) Event {
	e.Details = cloneDetails(e.Details)
	if r, ok := e.Kind.(Recurring); ok && r.Until != nil {
		until := *r.Until
		r.Until = &until
		e.Kind = r
	}
	return e
}
