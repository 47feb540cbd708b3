package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"paykiosk/pkg/config"
	"paykiosk/pkg/crypto"
	"paykiosk/pkg/errors"
	"paykiosk/pkg/gateway"
	"paykiosk/pkg/handlers"
	"paykiosk/pkg/logging"
	"paykiosk/pkg/models"
	"paykiosk/pkg/reader"
	"paykiosk/pkg/session"
)

const shutdownTimeout = 5 * time.Second

// App wires the kiosk components together
type App struct {
	config     *config.Config
	logger     *zap.Logger
	codec      *crypto.Codec
	reader     reader.CardReader
	gateway    *gateway.Client
	controller *session.Controller
	server     *http.Server
}

// NewApp builds every component from cfg. Nothing runs until Run.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	codec, err := crypto.NewCodecFromConfig(cfg.Codec.Cipher, cfg.Codec.DecodeMode, cfg.Codec.Salt, cfg.Codec.Iterations)
	if err != nil {
		return nil, err
	}

	rd, err := openReader(cfg, codec, logger)
	if err != nil {
		return nil, err
	}

	gw := gateway.New(cfg.Gateway, logging.Named(logger, "gateway"))

	ctl := session.New(gw, codec, rd, session.Options{
		PIN:                cfg.Session.PIN,
		WelcomeDelay:       cfg.Session.WelcomeDelay,
		ResultDisplayDelay: cfg.Session.ResultDisplayDelay,
		PromptTimeout:      cfg.Session.PromptTimeout,
		Logger:             logging.Named(logger, "session"),
	})

	api := handlers.NewAPIHandlers(ctl, logging.Named(logger, "api"))
	router := handlers.NewRouter(api, handlers.RouterOptions{
		SharedKey:     cfg.API.SharedKey,
		RatePerSecond: cfg.API.RatePerSecond,
		RateBurst:     cfg.API.RateBurst,
	})

	return &App{
		config:     cfg,
		logger:     logger,
		codec:      codec,
		reader:     rd,
		gateway:    gw,
		controller: ctl,
		server: &http.Server{
			Addr:              cfg.API.Listen,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// openReader picks the reader variant. The simulated card carries the
// stub credentials sealed with the configured PIN.
func openReader(cfg *config.Config, codec *crypto.Codec, logger *zap.Logger) (reader.CardReader, error) {
	sealed, err := codec.SealSecret(reader.StubSecret, cfg.Session.PIN)
	if err != nil {
		return nil, err
	}
	stub := reader.SimulatedOptions{
		UID: reader.StubUID,
		Blocks: map[int]models.Block{
			models.BlockCardNumber: codec.EncodeField(reader.StubCardNumber),
			models.BlockSecret:     sealed,
		},
	}
	return reader.New(cfg.Reader, stub, logging.Named(logger, "reader")), nil
}

// Run serves the control API and drives the controller until ctx ends
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.controller.Run(ctx); err != nil {
			a.logger.Error("session controller failed", zap.Error(err))
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("control API listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down gracefully")
	case err, ok := <-serveErr:
		if ok {
			runErr = errors.Wrap(err, errors.ErrTypeApp, "API_LISTEN_FAILED", "control API stopped").
				WithContext("addr", a.server.Addr)
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("control API shutdown", zap.Error(err))
	}

	cancel()
	wg.Wait()

	if err := a.reader.Close(); err != nil {
		a.logger.Warn("closing card reader", zap.Error(err))
	}
	return runErr
}
