package testutil

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/pimsync/internal/model"
	"github.com/roach88/pimsync/internal/store"
)

// Op names a Store method for fault injection and call logs.
type Op string

const (
	OpList          Op = "list"
	OpGet           Op = "get"
	OpCreate        Op = "create"
	OpUpdate        Op = "update"
	OpDelete        Op = "delete"
	OpListInstances Op = "list_instances"
)

// Fault makes matching calls fail. An empty ID matches any item. Times is
// the number of calls to fail; zero or less fails every matching call.
type Fault struct {
	Op    Op
	ID    string
	Err   error
	Times int
}

type fault struct {
	Fault
	left    int
	forever bool
}

// Call is one logged Store call.
type Call struct {
	Op  Op
	ID  string
	Err error
}

// MemoryStore is an in-memory store.Store for tests.
//
// It behaves like a remote service: series overrides are held with the
// master but List and Get return masters without them, so callers must use
// ListInstances to see overrides. Faults injected with Inject fail calls
// before they touch state.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type MemoryStore struct {
	mu         sync.Mutex
	name       string
	items      map[string]*model.Item
	now        func() time.Time
	seq        int
	maxPayload int
	faults     []*fault
	calls      []Call
	hook       func(op Op, id string)
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock sets the timestamp source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithMemoryMaxPayload makes writes larger than n bytes fail with
// store.ErrPayloadTooLarge.
func WithMemoryMaxPayload(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxPayload = n }
}

// WithMemoryHook calls fn on every call that passes the context check,
// before faults apply. fn runs with the store locked and must not call it.
func WithMemoryHook(fn func(op Op, id string)) MemoryOption {
	return func(s *MemoryStore) { s.hook = fn }
}

// NewMemoryStore creates an empty store. Generated IDs are name-001,
// name-002 and so on.
func NewMemoryStore(name string, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		name:  name,
		items: make(map[string]*model.Item),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.Store = (*MemoryStore)(nil)

// Put seeds an item as-is. A missing ID is generated and a missing Version
// defaults to "1".
func (s *MemoryStore) Put(it model.Item) model.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it.ID == "" {
		it.ID = s.nextID()
	}
	if it.Version == "" {
		it.Version = "1"
	}
	s.items[it.ID] = it.Clone()
	return *it.Clone()
}

// Inject adds a fault.
func (s *MemoryStore) Inject(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, &fault{Fault: f, left: f.Times, forever: f.Times <= 0})
}

// ClearFaults removes every fault.
func (s *MemoryStore) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = nil
}

// Items returns every stored item, overrides included, ordered by ID.
func (s *MemoryStore) Items() []model.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Item, 0, len(s.items))
	for _, id := range s.sortedIDs() {
		out = append(out, *s.items[id].Clone())
	}
	return out
}

// Item returns one stored item with its overrides, or nil.
func (s *MemoryStore) Item(id string) *model.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[id].Clone()
}

// Len returns the number of stored items.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Calls returns the call log.
func (s *MemoryStore) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount counts logged calls of op, failed ones included.
func (s *MemoryStore) CallCount(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// List implements store.Store with keyset pagination on ID.
func (s *MemoryStore) List(ctx context.Context, filter store.Filter, pageToken string) (store.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpList, ""); err != nil {
		return store.Page{}, err
	}

	size := filter.PageSize
	if size <= 0 {
		size = 100
	}
	var page store.Page
	for _, id := range s.sortedIDs() {
		if id <= pageToken {
			continue
		}
		it := s.items[id]
		ok, err := store.InWindow(it, filter)
		if err != nil {
			return store.Page{}, fmt.Errorf("%s: list: %w", s.name, err)
		}
		if !ok {
			continue
		}
		if len(page.Items) == size {
			page.NextPageToken = page.Items[size-1].ID
			break
		}
		page.Items = append(page.Items, remoteView(it))
	}
	return page, nil
}

// Get implements store.Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpGet, id); err != nil {
		return nil, err
	}
	it, ok := s.items[id]
	if !ok {
		return nil, nil
	}
	v := remoteView(it)
	return &v, nil
}

// Create implements store.Store.
func (s *MemoryStore) Create(ctx context.Context, item model.Item) (model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpCreate, item.ID); err != nil {
		return model.Item{}, err
	}
	if err := s.checkPayload(&item); err != nil {
		return model.Item{}, err
	}
	it := item.Clone()
	it.ID = s.nextID()
	it.Version = "1"
	now := s.now()
	it.Created = now
	it.Modified = now
	s.items[it.ID] = it
	return remoteView(it), nil
}

// Update implements store.Store.
func (s *MemoryStore) Update(ctx context.Context, item model.Item, expectedVersion string) (model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpUpdate, item.ID); err != nil {
		return model.Item{}, err
	}
	cur, ok := s.items[item.ID]
	if !ok {
		return model.Item{}, fmt.Errorf("%s: update %s: %w", s.name, item.ID, store.ErrNotFound)
	}
	if expectedVersion != "" && expectedVersion != cur.Version {
		return model.Item{}, fmt.Errorf("%s: update %s at version %s, have %s: %w",
			s.name, item.ID, expectedVersion, cur.Version, store.ErrVersionConflict)
	}
	if err := s.checkPayload(&item); err != nil {
		return model.Item{}, err
	}
	v, _ := strconv.Atoi(cur.Version)
	it := item.Clone()
	it.Version = strconv.Itoa(v + 1)
	it.Created = cur.Created
	it.Modified = s.now()
	s.items[it.ID] = it
	return remoteView(it), nil
}

// Delete implements store.Store.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpDelete, id); err != nil {
		return err
	}
	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("%s: delete %s: %w", s.name, id, store.ErrNotFound)
	}
	delete(s.items, id)
	return nil
}

// ListInstances implements store.Store.
func (s *MemoryStore) ListInstances(ctx context.Context, recurringID string, window store.TimeRange, includeDeleted bool) ([]model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpListInstances, recurringID); err != nil {
		return nil, err
	}
	it, ok := s.items[recurringID]
	if !ok {
		return nil, fmt.Errorf("%s: instances of %s: %w", s.name, recurringID, store.ErrNotFound)
	}
	return store.ExpandInstances(it, window, includeDeleted)
}

// enter logs the call and returns an injected fault, if any. Callers hold mu.
func (s *MemoryStore) enter(ctx context.Context, op Op, id string) error {
	if err := ctx.Err(); err != nil {
		s.calls = append(s.calls, Call{Op: op, ID: id, Err: err})
		return err
	}
	if s.hook != nil {
		s.hook(op, id)
	}
	for _, f := range s.faults {
		if f.Op != op || (f.ID != "" && f.ID != id) {
			continue
		}
		if !f.forever {
			if f.left == 0 {
				continue
			}
			f.left--
		}
		err := fmt.Errorf("%s: %s %s: %w", s.name, op, id, f.Err)
		s.calls = append(s.calls, Call{Op: op, ID: id, Err: err})
		return err
	}
	s.calls = append(s.calls, Call{Op: op, ID: id})
	return nil
}

func (s *MemoryStore) checkPayload(it *model.Item) error {
	if s.maxPayload > 0 && model.PayloadSize(it) > s.maxPayload {
		return fmt.Errorf("%s: %d bytes over limit %d: %w", s.name, model.PayloadSize(it), s.maxPayload, store.ErrPayloadTooLarge)
	}
	return nil
}

func (s *MemoryStore) nextID() string {
	for {
		s.seq++
		id := fmt.Sprintf("%s-%03d", s.name, s.seq)
		if _, taken := s.items[id]; !taken {
			return id
		}
	}
}

func (s *MemoryStore) sortedIDs() []string {
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// remoteView is what a caller sees: a copy without series overrides.
func remoteView(it *model.Item) model.Item {
	c := it.Clone()
	if c.Series != nil {
		c.Series.Instances = nil
	}
	return *c
}
