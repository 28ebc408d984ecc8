// Package server initializes and runs the identity server: it wires the
// document store, the notifier, the identity service and the authorization
// gate, and handles graceful shutdown.
package server

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dkarpov/studenthub/internal/logging"
	"github.com/dkarpov/studenthub/internal/server/authz"
	"github.com/dkarpov/studenthub/internal/server/config"
	"github.com/dkarpov/studenthub/internal/server/docstore"
	"github.com/dkarpov/studenthub/internal/server/httpapi"
	"github.com/dkarpov/studenthub/internal/server/identity"
	"github.com/dkarpov/studenthub/internal/server/notifier"
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	identities *identity.Service
	gate       *authz.Gate
}

func NewApp(cfg *config.Config) (*App, error) {
	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	store := docstore.NewFileStore(cfg.DataFile)

	var n notifier.Notifier
	if cfg.KafkaBroker != "" {
		n = notifier.NewKafkaNotifier(cfg.KafkaBroker, cfg.KafkaTopic)
	} else {
		n = notifier.NewLogNotifier(logger)
	}

	identities := identity.NewService(store, n, logger, cfg)
	gate := authz.NewGate(identities, cfg)

	return &App{config: cfg, logger: logger, identities: identities, gate: gate}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewServer(app.config.EndpointAddrHTTP, app.logger, app.identities, app.gate, prometheus.NewRegistry())

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()
}
