package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"roadsafety/internal/alert"
	"roadsafety/internal/config"
	"roadsafety/internal/hazard"
	"roadsafety/internal/logger"
	"roadsafety/internal/metrics"
	"roadsafety/internal/route"
	"roadsafety/internal/service"
	"roadsafety/internal/service/ai"
	"roadsafety/internal/service/camera"
	"roadsafety/internal/service/pipeline"
	"roadsafety/internal/service/websocket"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// alertEventBuffer is the queue length of each alert subscriber.
const alertEventBuffer = 16

type App struct {
	config     *config.Config
	logger     *logger.Logger
	metrics    *metrics.Metrics
	board      *alert.Board
	detector   *ai.DetectorService
	manager    *service.Manager
	hubService *websocket.HubService
	server     *http.Server
}

// NewApp loads configuration, the detection model and every service. A model
// that cannot be loaded fails startup.
func NewApp() (*App, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	if !cfg.EnvFileLoaded {
		log.Warning("No .env file found, using environment variables and defaults")
	}

	m := metrics.New()

	detector, err := ai.NewDetectorService(cfg, log)
	if err != nil {
		log.Error("Failed to load detection model: %v", err)
		return nil, multierr.Append(fmt.Errorf("failed to load detection model: %w", err), log.Close())
	}
	detector.OnInference(m.UpdateInferenceLatency)

	board := alert.NewBoard(alertEventBuffer)
	vocabulary := hazard.NewVocabulary(cfg.HazardClasses)
	open := camera.Opener(cfg.CaptureWidth, cfg.CaptureHeight, log)

	manager := service.NewManager(func(cam int) service.Runner {
		return pipeline.New(pipeline.Options{
			Camera:      cam,
			Open:        open,
			Detector:    detector,
			Renderer:    detector,
			Vocabulary:  vocabulary,
			Board:       board,
			Metrics:     m,
			Logger:      log,
			MaxFailures: cfg.MaxReadFailures,
			RetryDelay:  cfg.ReadRetryDelay,
		})
	}, cfg.StreamBuffer, m, log)

	hub := websocket.NewHubService(log)

	router := route.SetupRoutes(route.Deps{
		Config:  cfg,
		Logger:  log,
		Metrics: m,
		Board:   board,
		Cameras: camera.NewEnumerator(cfg.MaxCameraProbe, nil, manager, log),
		Feeds:   manager,
		Hub:     hub,
	})

	return &App{
		config:     cfg,
		logger:     log,
		metrics:    m,
		board:      board,
		detector:   detector,
		manager:    manager,
		hubService: hub,
		server: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves HTTP until ctx is cancelled or the server fails, then stops every
// camera feed and shuts the server down.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.hubService.Run(ctx)
	})
	g.Go(func() error {
		return a.hubService.ForwardAlerts(ctx, a.board)
	})
	g.Go(func() error {
		a.logger.Info("🚀 Road Safety Detection")
		a.logger.Info("📍 URL: http://localhost:%d", a.config.Port)
		a.logger.Info("🤖 AI Model: %s", a.config.ModelPath)
		a.logger.Info("🐾 Hazards: %v", a.config.HazardClasses)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("🛑 Shutting down")

		// Ending the feeds closes every open video stream.
		a.manager.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close releases the model and the log files.
func (a *App) Close() error {
	return multierr.Combine(
		a.detector.Close(),
		a.logger.Close(),
	)
}
