// Command eduit-watch shows a live dashboard of the gift list. It follows
// changes made by other eduit processes through the storage slot and,
// when AMQP_URL is set, through the message broker.
package main

import (
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"

	"eduitraya/internal/cli"
	"eduitraya/internal/log"
	"eduitraya/internal/metrics"
)

const (
	redrawInterval  = time.Minute
	shutdownTimeout = 10 * time.Second
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	logger.Info("Starting eduit-watch", log.FieldOperation, log.OpStartup)

	cfg := cli.LoadAndValidateConfig(logger)

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, nil)

	app, err := cli.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open storage",
			log.NewFields().
				WithOperation(log.OpStartup).
				WithErrorType(log.ErrorTypeStorage).
				WithError(err).ToSlice()...)
		os.Exit(1)
	}
	defer app.Close()

	m := metrics.New()
	m.Record(app.Store.Recipients())
	stopCounting := m.CountChanges(app.Bus)
	defer stopCounting()
	stopRecording := app.Store.Observe(m.Record)
	defer stopRecording()

	dash := newDashboard(os.Stdout, isatty.IsTerminal(os.Stdout.Fd()), logger)
	stopDrawing := app.Store.Observe(dash.update)
	defer stopDrawing()
	dash.update(app.Store.Recipients())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.Watcher().Run(gctx) })
	g.Go(func() error { return dash.run(gctx, redrawInterval) })

	if relay := app.Relay(); relay != nil {
		logger.Info("Cross-process relay enabled", "exchange", cfg.AMQPExchange)
		g.Go(func() error { return relay.Run(gctx) })
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	if cfg.MetricsAddr != "" {
		g.Go(func() error { return m.Serve(gctx, cfg.MetricsAddr, logger) })
	}

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped",
			log.NewFields().
				WithOperation(log.OpShutdown).
				WithErrorType(log.ErrorTypeInternal).
				WithError(err).ToSlice()...)
		app.Close()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("eduit-watch stopped", log.FieldOperation, log.OpShutdown)
}
