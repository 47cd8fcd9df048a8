package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"eduitraya/internal/amqp"
	"eduitraya/internal/backend"
	"eduitraya/internal/bus"
	"eduitraya/internal/cache"
	"eduitraya/internal/config"
	"eduitraya/internal/export"
	"eduitraya/internal/export/gsheet"
	"eduitraya/internal/log"
	"eduitraya/internal/offsite"
	"eduitraya/internal/persistence"
	"eduitraya/internal/qr"
	"eduitraya/internal/store"
	"eduitraya/internal/worker"
)

const (
	qrCacheSize = 64
	qrCacheTTL  = 10 * time.Minute
)

// App bundles the process-wide pieces: one slot, one adapter, one bus and
// the store handle the command works through. Extra handles can be opened
// with NewHandle; they all see each other's changes.
type App struct {
	Config  *config.Config
	Logger  *log.Logger
	Adapter *persistence.Adapter
	Bus     *bus.Bus
	Store   *store.Store

	// Origin identifies this process on the AMQP exchange.
	Origin string

	backend *backend.BackendResult
}

// Open builds the backend selected by cfg and opens the first store handle.
func Open(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	logger = log.OrDiscard(logger)

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, fmt.Errorf("create backend: %w", err)
	}

	adapter := persistence.New(res.Slot,
		persistence.WithKey(cfg.StorageKey),
		persistence.WithLogger(logger))
	b := bus.New()

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Adapter: adapter,
		Bus:     b,
		Origin:  uuid.NewString(),
		backend: res,
	}
	app.Store = app.NewHandle(ctx)

	logger.DebugContext(ctx, "Application opened",
		log.NewFields().
			WithOperation(log.OpStartup).
			WithStorage(res.Slot.Name(), adapter.Key()).
			WithCount(app.Store.Len()).ToSlice()...)
	return app, nil
}

// NewHandle opens another store handle on the shared adapter and bus.
func (a *App) NewHandle(ctx context.Context) *store.Store {
	return store.New(ctx, a.Adapter, a.Bus, store.WithLogger(a.Logger))
}

// Relay returns the AMQP relay, or nil when AMQP_URL is unset.
func (a *App) Relay() *amqp.Relay {
	if !a.Config.AMQPEnabled() {
		return nil
	}
	return amqp.NewRelay(a.Config.AMQPURL, a.Config.AMQPExchange, a.Bus,
		amqp.WithLogger(a.Logger),
		amqp.WithOrigin(a.Origin))
}

// Watcher returns a slot watcher polling at the configured interval.
func (a *App) Watcher() *worker.SlotWatcher {
	return worker.NewSlotWatcher(a.Adapter, a.Bus, a.Config.WatchInterval, a.Logger)
}

// Exporter returns an exporter with the CSV, XLSX and PDF sinks.
func (a *App) Exporter() *export.Exporter {
	return export.New(export.WithLogger(a.Logger))
}

// QR returns a generator whose PNGs are memoized in an LRU cache.
func (a *App) QR(captions bool) *qr.Generator {
	enc := qr.NewCachedEncoder(qr.DefaultEncoder(), cache.NewLRU[[]byte](qrCacheSize, qrCacheTTL))
	opts := []qr.Option{qr.WithLogger(a.Logger)}
	if captions {
		opts = append(opts, qr.WithCaptions())
	}
	return qr.NewGenerator(enc, opts...)
}

// SheetsPublisher authenticates with Google Sheets. It returns
// gsheet.ErrNotConfigured when no spreadsheet is configured.
func (a *App) SheetsPublisher(ctx context.Context) (*gsheet.Publisher, error) {
	if !a.Config.SheetsEnabled() {
		return nil, gsheet.ErrNotConfigured
	}
	return gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   a.Config.GoogleSpreadsheetID,
		SheetName:       a.Config.GoogleSheetName,
		CredentialsJSON: a.Config.GoogleServiceAccountJSON,
		CredentialsFile: a.Config.GoogleServiceAccountFile,
	}, a.Logger)
}

// Offsite connects to the configured S3 bucket. It returns
// offsite.ErrNotConfigured when S3_BUCKET is unset.
func (a *App) Offsite(ctx context.Context) (*offsite.Store, error) {
	if !a.Config.OffsiteEnabled() {
		return nil, offsite.ErrNotConfigured
	}
	return offsite.New(ctx, offsite.Config{
		Bucket:    a.Config.S3Bucket,
		Region:    a.Config.S3Region,
		Endpoint:  a.Config.S3Endpoint,
		Prefix:    a.Config.S3Prefix,
		PathStyle: a.Config.S3PathStyle,
	}, a.Logger)
}

// Close detaches the store handle and releases the backend.
func (a *App) Close() error {
	if a.Store != nil {
		a.Store.Close()
	}
	return a.backend.Close()
}
