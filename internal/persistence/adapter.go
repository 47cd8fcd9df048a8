// Package persistence keeps the recipient list in one storage slot as a JSON
// array. It is the only code that reads or writes that slot.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"eduitraya/internal/core"
	"eduitraya/internal/log"
	"eduitraya/internal/storage"
)

// DefaultKey is the slot key the recipient list lives under.
const DefaultKey = "eduitraya-recipients"

// ErrMalformed marks a stored payload that is not a JSON recipient array.
var ErrMalformed = errors.New("malformed recipients payload")

// Adapter reads and writes the persisted recipient list. One Adapter is
// shared by every store handle in a process; its mutex makes each
// read-modify-write of the collection atomic.
type Adapter struct {
	mu     sync.Mutex
	slot   storage.Slot
	key    string
	logger *log.Logger
	now    func() time.Time
	newID  func() string
}

// Option customises an Adapter.
type Option func(*Adapter)

// WithKey overrides the slot key.
func WithKey(key string) Option {
	return func(a *Adapter) {
		if key != "" {
			a.key = key
		}
	}
}

// WithLogger sets the logger used for storage failures.
func WithLogger(logger *log.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger.WithComponent(log.ComponentPersistence)
		}
	}
}

// WithClock replaces time.Now for stamping new records.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(newID func() string) Option {
	return func(a *Adapter) {
		if newID != nil {
			a.newID = newID
		}
	}
}

func New(slot storage.Slot, opts ...Option) *Adapter {
	a := &Adapter{
		slot:   slot,
		key:    DefaultKey,
		logger: log.Discard(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Key returns the slot key.
func (a *Adapter) Key() string { return a.key }

// Backend returns the slot backend name.
func (a *Adapter) Backend() string { return a.slot.Name() }

// Load returns the persisted list. A missing, unreadable or malformed
// payload yields an empty list; the failure is logged, not returned.
func (a *Adapter) Load(ctx context.Context) []core.Recipient {
	list, err := a.read(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "Failed to read recipients, treating as empty",
			log.NewFields().
				WithOperation(log.OpLoad).
				WithStorage(a.slot.Name(), a.key).
				WithErrorType(log.ErrorTypeStorage).
				WithError(err).ToSlice()...)
		return []core.Recipient{}
	}
	return list
}

// SaveAll replaces the whole persisted payload with list.
func (a *Adapter) SaveAll(ctx context.Context, list []core.Recipient) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.write(ctx, list)
}

// Clear removes the persisted payload entirely.
func (a *Adapter) Clear(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.slot.Remove(ctx, a.key); err != nil {
		a.logWriteFailure(ctx, log.OpClear, err)
		return fmt.Errorf("clear recipients: %w", err)
	}
	return nil
}

// Mutate runs fn against the latest persisted list and saves what it
// returns, all under the adapter lock. If fn returns an error nothing is
// written. The saved list is returned.
func (a *Adapter) Mutate(ctx context.Context, fn func([]core.Recipient) ([]core.Recipient, error)) ([]core.Recipient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.read(ctx)
	switch {
	case errors.Is(err, ErrMalformed):
		// Same policy as Load: an unparsable payload counts as empty and is
		// overwritten by this write.
		a.logger.WarnContext(ctx, "Discarding malformed recipients payload",
			log.FieldStorageKey, a.key, log.FieldError, err.Error())
		current = []core.Recipient{}
	case err != nil:
		a.logWriteFailure(ctx, log.OpLoad, err)
		return nil, fmt.Errorf("load recipients: %w", err)
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if err := a.write(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Stamp turns form input into a new record with a fresh id and timestamp.
func (a *Adapter) Stamp(in core.RecipientInput) core.Recipient {
	in = in.Normalize()
	return core.Recipient{
		ID:        a.newID(),
		Name:      in.Name,
		Amount:    in.Amount,
		Note:      in.Note,
		DuitnowID: in.DuitnowID,
		DateAdded: a.now().UTC(),
	}
}

// Version returns the slot revision; it changes on every write, including
// writes by other processes.
func (a *Adapter) Version(ctx context.Context) (string, error) {
	return a.slot.Revision(ctx, a.key)
}

func (a *Adapter) read(ctx context.Context) ([]core.Recipient, error) {
	data, ok, err := a.slot.Get(ctx, a.key)
	if err != nil {
		return nil, err
	}
	if !ok || len(data) == 0 {
		return []core.Recipient{}, nil
	}
	var list []core.Recipient
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if list == nil {
		list = []core.Recipient{}
	}
	return list, nil
}

func (a *Adapter) write(ctx context.Context, list []core.Recipient) error {
	if list == nil {
		list = []core.Recipient{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		a.logWriteFailure(ctx, log.OpSave, err)
		return fmt.Errorf("encode recipients: %w", err)
	}
	if err := a.slot.Set(ctx, a.key, data); err != nil {
		a.logWriteFailure(ctx, log.OpSave, err)
		return fmt.Errorf("save recipients: %w", err)
	}
	a.logger.DebugContext(ctx, "Recipients saved",
		log.FieldRecipientCount, len(list),
		log.FieldStorageKey, a.key)
	return nil
}

func (a *Adapter) logWriteFailure(ctx context.Context, op string, err error) {
	a.logger.ErrorContext(ctx, "Failed to write recipients",
		log.NewFields().
			WithOperation(op).
			WithStorage(a.slot.Name(), a.key).
			WithErrorType(log.ErrorTypeStorage).
			WithError(err).ToSlice()...)
}
