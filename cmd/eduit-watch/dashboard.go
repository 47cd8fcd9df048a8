package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"eduitraya/internal/core"
	"eduitraya/internal/log"
	"eduitraya/internal/stats"
	"eduitraya/internal/views"
)

const clearScreen = "\033[H\033[2J"

// dashboard redraws the stats view whenever the list changes. Redraws are
// serialised because observers fire from the relay, the watcher and the
// refresh ticker.
type dashboard struct {
	mu     sync.Mutex
	w      io.Writer
	clear  bool
	now    func() time.Time
	logger *log.Logger
	last   []core.Recipient
	draws  int
}

func newDashboard(w io.Writer, clear bool, logger *log.Logger) *dashboard {
	return &dashboard{
		w:      w,
		clear:  clear,
		now:    time.Now,
		logger: log.OrDiscard(logger),
	}
}

// update is a store.Observer.
func (d *dashboard) update(list []core.Recipient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = list
	d.draw()
}

// run redraws every interval so relative times stay current.
func (d *dashboard) run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.mu.Lock()
			d.draw()
			d.mu.Unlock()
		}
	}
}

func (d *dashboard) draw() {
	now := d.now()
	if d.clear {
		fmt.Fprint(d.w, clearScreen)
	}
	if err := views.Dashboard(d.w, stats.Summarize(d.last, now), now); err != nil {
		d.logger.Error("Failed to render dashboard", log.FieldError, err.Error())
		return
	}
	fmt.Fprintf(d.w, "\nUpdated %s. Press Ctrl+C to quit.\n", now.Local().Format("15:04:05"))
	d.draws++
}
