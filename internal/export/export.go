// Package export renders recipient snapshots as CSV, spreadsheet and PDF
// documents. It never touches the store; callers hand it a snapshot.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"eduitraya/internal/core"
	"eduitraya/internal/log"
)

// Format names an export file type; it doubles as the file extension.
type Format string

const (
	CSV  Format = "csv"
	XLSX Format = "xlsx"
	PDF  Format = "pdf"
)

var ErrUnknownFormat = errors.New("unknown export format")

// Sink renders a table in one format.
type Sink interface {
	Format() Format
	Write(w io.Writer, t Table) error
}

// ParseFormat maps a user supplied name to a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case CSV, XLSX, PDF:
		return f, nil
	case "excel":
		return XLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// ContentType is the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case CSV:
		return "text/csv"
	case XLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case PDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// FileName is the default export file name for the given day.
func FileName(f Format, now time.Time) string {
	return "eduit-raya-" + now.Format(time.DateOnly) + "." + string(f)
}

// Exporter dispatches snapshots to the registered sinks.
type Exporter struct {
	sinks  map[Format]Sink
	logger *log.Logger
	now    func() time.Time
}

// Option customises an Exporter.
type Option func(*Exporter)

func WithLogger(logger *log.Logger) Option {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger.WithComponent(log.ComponentExport)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSink registers or replaces the sink for its format.
func WithSink(s Sink) Option {
	return func(e *Exporter) { e.sinks[s.Format()] = s }
}

// New returns an Exporter with the CSV, XLSX and PDF sinks registered.
func New(opts ...Option) *Exporter {
	e := &Exporter{
		sinks:  map[Format]Sink{},
		logger: log.Discard(),
		now:    time.Now,
	}
	for _, s := range []Sink{CSVSink{}, XLSXSink{}, PDFSink{}} {
		e.sinks[s.Format()] = s
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Write renders list in format f to w.
func (e *Exporter) Write(w io.Writer, f Format, list []core.Recipient) error {
	sink, ok := e.sinks[f]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
	return sink.Write(w, NewTable(list, e.now()))
}

// ExportFile writes list to dir under the default file name for f and
// returns the path.
func (e *Exporter) ExportFile(ctx context.Context, dir string, f Format, list []core.Recipient) (string, error) {
	paths, err := e.ExportAll(ctx, dir, list, f)
	if err != nil {
		return "", err
	}
	return paths[0], nil
}

// ExportAll writes list in every given format concurrently. All sinks see
// the same snapshot and export date. Paths are returned in format order.
func (e *Exporter) ExportAll(ctx context.Context, dir string, list []core.Recipient, formats ...Format) ([]string, error) {
	if len(formats) == 0 {
		formats = []Format{CSV, XLSX, PDF}
	}
	for _, f := range formats {
		if _, ok := e.sinks[f]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	table := NewTable(list, e.now())
	paths := make([]string, len(formats))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range formats {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			path := filepath.Join(dir, FileName(f, table.ExportDate))
			if err := writeFile(path, func(w io.Writer) error {
				return e.sinks[f].Write(w, table)
			}); err != nil {
				e.logger.ErrorContext(ctx, "Export failed",
					log.NewFields().
						WithOperation(log.OpExport).
						WithErrorType(log.ErrorTypeStorage).
						WithError(err).ToSlice()...)
				return fmt.Errorf("export %s: %w", f, err)
			}
			paths[i] = path
			e.logger.InfoContext(ctx, "Export written",
				log.FieldFormat, string(f),
				log.FieldPath, path,
				log.FieldRecipientCount, table.Count(),
				log.FieldDuration, time.Since(start).Milliseconds())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// writeFile renders into a temp file next to path and renames it into
// place, so a failed export never leaves a truncated document behind.
func writeFile(path string, render func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := render(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
