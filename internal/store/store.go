// Package store is the observable recipient collection. Every consumer holds
// its own Store handle; handles share one persistence.Adapter and one
// bus.Bus so a change made through any handle reaches all of them.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"eduitraya/internal/bus"
	"eduitraya/internal/core"
	"eduitraya/internal/log"
	"eduitraya/internal/persistence"
)

// errNotFound aborts a Mutate without writing; it never leaves this package.
var errNotFound = errors.New("recipient not found")

// Observer is called with a copy of the collection after every successful
// mutation or refresh.
type Observer func([]core.Recipient)

type Store struct {
	adapter *persistence.Adapter
	bus     *bus.Bus
	origin  string
	logger  *log.Logger

	// op serialises mutations and refreshes of this handle so the cache
	// always reflects the latest write this handle has seen.
	op sync.Mutex

	// notifyMu orders observer deliveries so the last one always carries
	// the cache as it stands after the last write.
	notifyMu sync.Mutex

	mu        sync.RWMutex
	cache     []core.Recipient
	observers map[int64]Observer
	nextObs   int64

	unsubscribe func()
}

// Option customises a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger.WithComponent(log.ComponentStore)
		}
	}
}

// WithOrigin sets the id this handle stamps on the events it publishes.
func WithOrigin(origin string) Option {
	return func(s *Store) {
		if origin != "" {
			s.origin = origin
		}
	}
}

// New opens a handle: it loads the persisted list and starts listening on
// b for changes made elsewhere.
func New(ctx context.Context, adapter *persistence.Adapter, b *bus.Bus, opts ...Option) *Store {
	s := &Store{
		adapter:   adapter,
		bus:       b,
		origin:    uuid.NewString(),
		logger:    log.Discard(),
		observers: map[int64]Observer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = adapter.Load(ctx)
	s.unsubscribe = b.Subscribe(s.handle)
	return s
}

// Origin returns the handle id carried by the events it publishes.
func (s *Store) Origin() string { return s.origin }

// Add checks the required fields, stamps a fresh id and timestamp, appends
// the record and broadcasts the change.
func (s *Store) Add(ctx context.Context, in core.RecipientInput) (core.Recipient, error) {
	if err := in.CheckRequired(); err != nil {
		return core.Recipient{}, err
	}
	rec := s.adapter.Stamp(in)

	s.op.Lock()
	next, err := s.adapter.Mutate(ctx, func(list []core.Recipient) ([]core.Recipient, error) {
		return append(list, rec), nil
	})
	if err != nil {
		s.op.Unlock()
		s.logFailure(ctx, log.OpAdd, err)
		return core.Recipient{}, fmt.Errorf("add recipient: %w", err)
	}
	s.setCache(next)
	s.op.Unlock()

	s.logger.InfoContext(ctx, "Recipient added",
		log.NewFields().
			WithOperation(log.OpAdd).
			WithRecipient(rec.ID, rec.Name, rec.Amount.Cents).ToSlice()...)
	s.changed()
	return rec, nil
}

// Update merges patch into the record with the given id. It returns false,
// and touches nothing, when no such record exists.
func (s *Store) Update(ctx context.Context, id string, patch core.RecipientPatch) (core.Recipient, bool, error) {
	var updated core.Recipient

	s.op.Lock()
	next, err := s.adapter.Mutate(ctx, func(list []core.Recipient) ([]core.Recipient, error) {
		i := indexOf(list, id)
		if i < 0 {
			return nil, errNotFound
		}
		merged := patch.Apply(list[i])
		check := core.RecipientInput{Name: merged.Name, Amount: merged.Amount, Note: merged.Note}
		if err := check.CheckRequired(); err != nil {
			return nil, err
		}
		out := make([]core.Recipient, len(list))
		copy(out, list)
		out[i] = merged
		updated = merged
		return out, nil
	})
	if errors.Is(err, errNotFound) {
		s.op.Unlock()
		s.logger.DebugContext(ctx, "Update skipped, recipient not found",
			log.FieldRecipientID, id)
		return core.Recipient{}, false, nil
	}
	if err != nil {
		s.op.Unlock()
		s.logFailure(ctx, log.OpUpdate, err)
		return core.Recipient{}, true, fmt.Errorf("update recipient: %w", err)
	}
	s.setCache(next)
	s.op.Unlock()

	s.logger.InfoContext(ctx, "Recipient updated",
		log.NewFields().
			WithOperation(log.OpUpdate).
			WithRecipient(updated.ID, updated.Name, updated.Amount.Cents).ToSlice()...)
	s.changed()
	return updated, true, nil
}

// Remove deletes the record with the given id and reports whether one was
// removed. Nothing is written or broadcast when it was not there.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	s.op.Lock()
	next, err := s.adapter.Mutate(ctx, func(list []core.Recipient) ([]core.Recipient, error) {
		i := indexOf(list, id)
		if i < 0 {
			return nil, errNotFound
		}
		out := make([]core.Recipient, 0, len(list)-1)
		out = append(out, list[:i]...)
		return append(out, list[i+1:]...), nil
	})
	if errors.Is(err, errNotFound) {
		s.op.Unlock()
		return false, nil
	}
	if err != nil {
		s.op.Unlock()
		s.logFailure(ctx, log.OpRemove, err)
		return false, fmt.Errorf("remove recipient: %w", err)
	}
	s.setCache(next)
	s.op.Unlock()

	s.logger.InfoContext(ctx, "Recipient removed",
		log.FieldOperation, log.OpRemove,
		log.FieldRecipientID, id)
	s.changed()
	return true, nil
}

// ClearAll removes every record. Calling it on an empty collection is fine.
func (s *Store) ClearAll(ctx context.Context) error {
	s.op.Lock()
	if err := s.adapter.Clear(ctx); err != nil {
		s.op.Unlock()
		s.logFailure(ctx, log.OpClear, err)
		return fmt.Errorf("clear recipients: %w", err)
	}
	empty := []core.Recipient{}
	s.setCache(empty)
	s.op.Unlock()

	s.logger.InfoContext(ctx, "All recipients cleared", log.FieldOperation, log.OpClear)
	s.changed()
	return nil
}

// Restore replaces the whole collection with list, which must already have
// passed backup validation.
func (s *Store) Restore(ctx context.Context, list []core.Recipient) error {
	replacement := make([]core.Recipient, len(list))
	copy(replacement, list)

	s.op.Lock()
	next, err := s.adapter.Mutate(ctx, func([]core.Recipient) ([]core.Recipient, error) {
		return replacement, nil
	})
	if err != nil {
		s.op.Unlock()
		s.logFailure(ctx, log.OpRestore, err)
		return fmt.Errorf("restore recipients: %w", err)
	}
	s.setCache(next)
	s.op.Unlock()

	s.logger.InfoContext(ctx, "Recipients restored",
		log.NewFields().WithOperation(log.OpRestore).WithCount(len(next)).ToSlice()...)
	s.changed()
	return nil
}

// Refresh re-reads the collection from persistence and notifies observers.
// It does not broadcast.
func (s *Store) Refresh(ctx context.Context) {
	s.op.Lock()
	list := s.adapter.Load(ctx)
	s.setCache(list)
	s.op.Unlock()

	s.logger.DebugContext(ctx, "Recipients refreshed",
		log.FieldOperation, log.OpRefresh,
		log.FieldRecipientCount, len(list))
	s.notify()
}

// Recipients returns a copy of the cached collection in insertion order.
func (s *Store) Recipients() []core.Recipient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Recipient, len(s.cache))
	copy(out, s.cache)
	return out
}

// Snapshot is Recipients under the name exporters use.
func (s *Store) Snapshot() []core.Recipient { return s.Recipients() }

// Len returns the number of cached records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// Find returns the cached record with the given id.
func (s *Store) Find(id string) (core.Recipient, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := indexOf(s.cache, id); i >= 0 {
		return s.cache[i], true
	}
	return core.Recipient{}, false
}

// Observe registers fn and returns a function that removes it.
func (s *Store) Observe(fn Observer) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextObs++
	id := s.nextObs
	s.observers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// Close detaches the handle from the bus and drops its observers.
func (s *Store) Close() {
	s.unsubscribe()
	s.mu.Lock()
	s.observers = map[int64]Observer{}
	s.mu.Unlock()
}

func (s *Store) handle(e bus.Event) {
	if e.Key != "" && e.Key != s.adapter.Key() {
		return
	}
	// Our own writes already updated the cache.
	if e.Origin == s.origin {
		return
	}
	s.Refresh(context.Background())
}

func (s *Store) setCache(list []core.Recipient) {
	s.mu.Lock()
	s.cache = list
	s.mu.Unlock()
}

// changed notifies observers and broadcasts. No store lock is held here.
func (s *Store) changed() {
	s.notify()
	s.bus.Publish(bus.Event{
		Key:    s.adapter.Key(),
		Source: bus.Local,
		Origin: s.origin,
	})
}

// notify delivers the current cache, not the list a caller wrote, so a
// delivery that lost the race to a newer write still ends on fresh data.
func (s *Store) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.RLock()
	list := s.cache
	observers := make([]Observer, 0, len(s.observers))
	ids := make([]int64, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		observers = append(observers, s.observers[id])
	}
	s.mu.RUnlock()

	for _, fn := range observers {
		snapshot := make([]core.Recipient, len(list))
		copy(snapshot, list)
		fn(snapshot)
	}
}

func (s *Store) logFailure(ctx context.Context, op string, err error) {
	fields := log.NewFields().WithOperation(op).WithError(err)
	if errors.Is(err, core.ErrEmptyName) || errors.Is(err, core.ErrEmptyNote) || errors.Is(err, core.ErrInvalidAmount) {
		s.logger.WarnContext(ctx, "Recipient rejected", fields.WithErrorType(log.ErrorTypeValidation).ToSlice()...)
		return
	}
	s.logger.ErrorContext(ctx, "Recipient mutation failed", fields.WithErrorType(log.ErrorTypeStorage).ToSlice()...)
}

func indexOf(list []core.Recipient, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}
