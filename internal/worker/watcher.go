// Package worker runs background loops for long lived processes.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"eduitraya/internal/bus"
	"eduitraya/internal/log"
)

// MinInterval bounds how often the slot is polled.
const MinInterval = 100 * time.Millisecond

// VersionSource exposes the revision of the watched slot key.
// *persistence.Adapter implements it.
type VersionSource interface {
	Key() string
	Version(ctx context.Context) (string, error)
}

// SlotWatcher polls the slot revision and publishes an External event when
// another process has written it. It is the file and sqlite counterpart of a
// browser's storage event.
type SlotWatcher struct {
	src      VersionSource
	bus      *bus.Bus
	interval time.Duration
	logger   *log.Logger

	mu   sync.Mutex
	last string
	seen bool
}

func NewSlotWatcher(src VersionSource, b *bus.Bus, interval time.Duration, logger *log.Logger) *SlotWatcher {
	if interval < MinInterval {
		interval = MinInterval
	}
	return &SlotWatcher{
		src:      src,
		bus:      b,
		interval: interval,
		logger:   log.OrDiscard(logger).WithComponent(log.ComponentWorker),
	}
}

// Run polls until ctx is cancelled. Local changes move the baseline so they
// are not reported back as external ones.
func (w *SlotWatcher) Run(ctx context.Context) error {
	unsubscribe := w.bus.Subscribe(func(e bus.Event) {
		if e.Source == bus.Local {
			w.rebase(ctx)
		}
	})
	defer unsubscribe()

	w.rebase(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.InfoContext(ctx, "Slot watcher started",
		log.FieldStorageKey, w.src.Key(),
		"interval", w.interval.String())

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "Slot watcher stopped", log.FieldOperation, log.OpShutdown)
			return nil
		case <-ticker.C:
			if _, err := w.Check(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.ErrorContext(ctx, "Slot poll failed",
					log.NewFields().
						WithOperation(log.OpWatch).
						WithErrorType(log.ErrorTypeStorage).
						WithError(err).ToSlice()...)
			}
		}
	}
}

// Check compares the current revision with the last one seen and publishes
// when it moved. The first call only records the baseline.
func (w *SlotWatcher) Check(ctx context.Context) (bool, error) {
	v, err := w.src.Version(ctx)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	changed := w.seen && v != w.last
	w.last, w.seen = v, true
	w.mu.Unlock()

	if changed {
		w.logger.DebugContext(ctx, "External change detected",
			log.FieldStorageKey, w.src.Key(),
			log.FieldVersion, v)
		w.bus.Publish(bus.Event{Key: w.src.Key(), Source: bus.External})
	}
	return changed, nil
}

func (w *SlotWatcher) rebase(ctx context.Context) {
	v, err := w.src.Version(ctx)
	if err != nil {
		return
	}
	w.mu.Lock()
	w.last, w.seen = v, true
	w.mu.Unlock()
}
