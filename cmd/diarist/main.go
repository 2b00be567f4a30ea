package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/snarg/diarist"
	"github.com/snarg/diarist/internal/api"
	"github.com/snarg/diarist/internal/config"
	"github.com/snarg/diarist/internal/diarization"
	"github.com/snarg/diarist/internal/ingest"
	"github.com/snarg/diarist/internal/metrics"
	"github.com/snarg/diarist/internal/mqttclient"
	"github.com/snarg/diarist/internal/pipeline"
	"github.com/snarg/diarist/internal/storage"
	"github.com/snarg/diarist/internal/transcribe"
)

var version = "dev"

func main() {
	startTime := time.Now()

	// CLI flags
	var overrides config.Overrides
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.UploadDir, "upload-dir", "", "Directory for uploaded recordings (overrides UPLOAD_DIR)")
	flag.StringVar(&overrides.WatchDir, "watch-dir", "", "Inbox directory to watch for recordings (overrides WATCH_DIR)")
	flag.Parse()

	if *showVersion {
		fmt.Println("diarist", version)
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("diarist starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Audio storage
	storeLog := log.With().Str("component", "storage").Logger()
	store, err := storage.New(cfg.S3, cfg.UploadDir, storeLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize audio storage")
	}
	log.Info().Str("type", store.Type()).Msg("audio storage ready")

	var background []storage.BackgroundService
	if local, ok := store.(*storage.LocalStore); ok && cfg.UploadRetention > 0 {
		background = append(background, storage.NewUploadPruner(local.Dir(), cfg.UploadRetention, storeLog))
	}

	// Speech-to-text
	stt, err := transcribe.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize transcription provider")
	}
	log.Info().
		Str("provider", stt.Name()).
		Str("model", stt.Model()).
		Str("preferred_language", cfg.PreferredLanguage).
		Msg("transcription provider ready")

	// Diarization: a backend that fails its startup probe is dropped and the
	// server runs in alternating fallback mode.
	diarLog := log.With().Str("component", "diarization").Logger()
	diarizer, err := diarization.New(cfg, diarLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize diarization backend")
	}
	diarStatus := "not_configured"
	if diarizer != nil {
		checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := diarizer.Check(checkCtx)
		cancel()
		if err != nil {
			diarLog.Warn().Err(err).Str("backend", diarizer.Name()).Msg("diarization unavailable, speakers will alternate")
			diarizer = nil
			diarStatus = "unavailable"
		} else {
			diarLog.Info().Str("backend", diarizer.Name()).Msg("diarization ready")
			diarStatus = "ok"
		}
	} else {
		diarLog.Warn().Msg("diarization disabled, speakers will alternate")
	}

	proc := pipeline.NewProcessor(pipeline.ProcessorOptions{
		Store:             store,
		STT:               stt,
		Diarizer:          diarizer,
		Preprocess:        cfg.PreprocessAudio,
		PreferredLanguage: cfg.PreferredLanguage,
		Temperature:       cfg.WhisperTemperature,
		Log:               log.With().Str("component", "pipeline").Logger(),
	})

	// MQTT job events (optional)
	var mqtt *mqttclient.Client
	var notify pipeline.DoneFunc
	if cfg.MQTT.Enabled() {
		mqttLog := log.With().Str("component", "mqtt").Logger()
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			Log:       mqttLog,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
		notify = mqttclient.NewJobNotifier(mqtt, cfg.MQTT.TopicPrefix, mqttLog)
	}

	// Async job queue
	pool := pipeline.NewWorkerPool(pipeline.WorkerPoolOptions{
		Runner:    proc,
		Workers:   cfg.JobWorkers,
		QueueSize: cfg.JobQueueSize,
		Retention: cfg.JobRetention,
		Notify:    notify,
		Log:       log,
	})
	pool.Start()
	prometheus.MustRegister(metrics.NewCollector(pool))

	// Watch folder (optional)
	var watcher *ingest.FileWatcher
	if cfg.WatchDir != "" {
		watcher = ingest.NewFileWatcher(ingest.WatcherOptions{
			Dir:       cfg.WatchDir,
			OutputDir: cfg.WatchOutputDir,
			Backfill:  cfg.WatchBackfill,
			Queue:     pool,
			Log:       log,
		})
		if err := watcher.Start(); err != nil {
			log.Fatal().Err(err).Str("watch_dir", cfg.WatchDir).Msg("failed to start file watcher")
		}
	}

	for _, svc := range background {
		svc.Start()
	}

	// HTTP Server
	webFS, err := fs.Sub(diarist.WebFiles, "web")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load embedded web files")
	}
	health := api.HealthOptions{
		STT:         api.STTInfo{Provider: stt.Name(), Model: stt.Model()},
		Diarization: diarStatus,
		StorageType: store.Type(),
		Jobs:        pool,
		Version:     version,
		StartTime:   startTime,
	}
	if mqtt != nil {
		health.MQTT = mqtt
	}
	if watcher != nil {
		health.Watcher = watcher
	}

	srv := api.NewServer(api.ServerOptions{
		Config:    cfg,
		Processor: proc,
		Jobs:      pool,
		Health:    api.NewHealthHandler(health),
		WebFS:     webFS,
		Log:       log.With().Str("component", "http").Logger(),
	})

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if watcher != nil {
		watcher.Stop()
	}
	for _, svc := range background {
		svc.Stop()
	}
	pool.Stop()

	log.Info().Msg("diarist stopped")
}
