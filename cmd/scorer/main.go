package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"loan-risk/internal/api"
	"loan-risk/internal/bootstrap"
	"loan-risk/internal/cfg"
	"loan-risk/internal/dashboard"
	"loan-risk/internal/loan"
	"loan-risk/internal/metrics"
	"loan-risk/internal/ml"
	"loan-risk/internal/scoring"

	"github.com/rs/zerolog/log"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	bootstrap.SetupLogging(c.LogLevel, c.LogFormat)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	schema, err := bootstrap.Schema(c)
	if err != nil {
		log.Fatal().Err(err).Msg("schema load failed")
	}

	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	codec, engine, err := bootstrap.Model(startCtx, c, schema, mw)
	if err != nil {
		startCancel()
		log.Fatal().Err(err).Msg("model load failed")
	}
	history, err := bootstrap.History(startCtx, c, schema)
	if err != nil {
		startCancel()
		log.Fatal().Err(err).Msg("history store initialization failed")
	}
	defer history.Close()
	access, err := bootstrap.Gate(startCtx, c)
	startCancel()
	if err != nil {
		log.Fatal().Err(err).Msg("access gate initialization failed")
	}
	defer access.Close()

	var svc *scoring.Service
	hub := dashboard.NewHub(func(ctx context.Context) (loan.Summary, error) {
		return svc.Snapshot(ctx)
	})
	hub.OnClientsChanged(func(n int) { mw.DashboardClientsSet(float64(n)) })

	svc, err = scoring.NewService(scoring.Config{
		Gate:      access.Gate,
		Codec:     codec,
		Model:     engine,
		History:   history,
		Profile:   schema.Name,
		Columns:   schema.Fields(),
		Publisher: hub,
		Metrics:   mw,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("scoring service initialization failed")
	}

	apiConfig := api.Config{
		Service:        svc,
		Gate:           access.Gate,
		Live:           http.HandlerFunc(hub.ServeWS),
		Metrics:        mw,
		RequestTimeout: c.RequestTimeout,
		SecureCookies:  c.CookieSecure,
		Info: api.Info{
			ModelVersion: engine.Metadata().Version,
			ModelKind:    string(engine.Metadata().Kind),
			Profile:      schema.Name,
			History:      c.HistoryBackend,
		},
	}
	if access.Sessions != nil {
		apiConfig.Sessions = access.Sessions
	}
	server, err := api.NewServer(apiConfig, c.ListenPort)
	if err != nil {
		log.Fatal().Err(err).Msg("api server initialization failed")
	}

	if err := hub.Start(); err != nil {
		log.Fatal().Err(err).Msg("dashboard hub start failed")
	}

	var wg sync.WaitGroup
	startAPIServer(&wg, server, cancel)
	modelServer := startModelServer(&wg, c, engine, cancel)

	log.Info().
		Int("port", c.ListenPort).
		Str("profile", schema.Name).
		Str("model", engine.Metadata().Version).
		Str("history", c.HistoryBackend).
		Msg("Loan risk scorer started")

	waitForShutdown(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api server shutdown failed")
	}
	if modelServer != nil {
		if err := modelServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("model server shutdown failed")
		}
	}
	svc.Close()
	hub.Stop()
	cancel()
	waitForGoroutines(&wg)
}

// startAPIServer serves the API until shutdown. A listen failure cancels the
// process context.
func startAPIServer(wg *sync.WaitGroup, server *api.Server, cancel context.CancelFunc) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("api server failed")
			cancel()
		}
	}()
}

// startModelServer exposes the loaded model to other scorers when
// MODEL_SERVER_PORT is set.
func startModelServer(wg *sync.WaitGroup, c cfg.Settings, engine *ml.Engine, cancel context.CancelFunc) *ml.ModelServer {
	if c.ModelServerPort == 0 {
		return nil
	}
	ms := ml.NewModelServer(engine, c.ModelServerPort, c.ModelTimeout)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ms.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("model server failed")
			cancel()
		}
	}()
	return ms
}

// waitForShutdown blocks until a signal arrives or ctx is cancelled.
func waitForShutdown(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}
	log.Info().Msg("shutting down gracefully...")
}

func waitForGoroutines(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all goroutines stopped")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}
