// Package app wires configuration into the running components shared by the
// API server and the CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"finvoice-go/internal/api"
	"finvoice-go/internal/audio"
	"finvoice-go/internal/config"
	"finvoice-go/internal/diagnostics"
	"finvoice-go/internal/extractor"
	"finvoice-go/internal/logger"
	"finvoice-go/internal/pipeline"
	"finvoice-go/internal/queue"
	"finvoice-go/internal/store"
	"finvoice-go/internal/transcription"
	"finvoice-go/internal/types"
	"finvoice-go/internal/worker"
)

type App struct {
	Config       *config.Config
	Store        store.JobStore
	Queue        queue.Queue
	Orchestrator *pipeline.Orchestrator
	Pool         *worker.Pool
	Checker      *diagnostics.Checker

	db  *pgxpool.Pool
	log *logger.Logger
}

// New builds every component from cfg. With DATABASE_URL set the store and
// queue live in Postgres; otherwise both are in memory.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, log: log}

	if cfg.Database.URL != "" {
		db, err := store.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return nil, err
		}
		pgStore := store.NewPostgres(db)
		pgQueue := queue.NewPostgres(db, cfg.Worker.Lease)
		if err := pgStore.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate store: %w", err)
		}
		if err := pgQueue.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate queue: %w", err)
		}
		a.db, a.Store, a.Queue = db, pgStore, pgQueue
		log.Info("using postgres store and queue")
	} else {
		a.Store = store.NewMemory()
		a.Queue = queue.NewMemory(cfg.Worker.Lease)
		log.Warn("DATABASE_URL not set, jobs are kept in memory")
	}

	runner := audio.ExecRunner{}
	a.Orchestrator = pipeline.New(pipeline.Deps{
		Store:       a.Store,
		Converter:   audio.NewConverter(cfg.Audio.FFmpegPath, cfg.Audio.ToolTimeout, runner, log),
		Denoiser:    audio.NewDenoiser(cfg.Audio.FFmpegPath, cfg.Audio.ToolTimeout, runner, log),
		Transcriber: newTranscriber(cfg.Transcription, cfg.Audio.ToolTimeout, runner, log),
		Extractor: extractor.NewLLMExtractor(
			extractor.NewCompleter(ctx, cfg.Extraction, log),
			extractor.Options{Temperature: cfg.Extraction.Temperature, Redact: cfg.Extraction.Redact},
			log,
		),
	}, pipeline.Options{
		WorkDir:      cfg.Audio.WorkDir,
		StepAttempts: cfg.Worker.StepAttempts,
		NewBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}, log)

	a.Pool = worker.NewPool(a.Queue, a.Orchestrator, a.Store, worker.Options{
		Concurrency: map[types.Kind]int{
			types.KindAudio:    cfg.Worker.Concurrency(types.KindAudio),
			types.KindDocument: cfg.Worker.Concurrency(types.KindDocument),
		},
		Window:        cfg.Worker.Window,
		RetryDelay:    cfg.Worker.RetryDelay,
		MaxDeliveries: cfg.Worker.MaxDeliveries,
	}, log)

	if a.db != nil {
		a.Checker = diagnostics.NewChecker(a.db)
	} else {
		a.Checker = diagnostics.NewChecker(nil)
	}
	return a, nil
}

func newTranscriber(cfg config.TranscriptionConfig, toolTimeout time.Duration, runner audio.Runner, log *logger.Logger) transcription.Transcriber {
	var backends []transcription.Backend
	for _, name := range cfg.Backends {
		switch name {
		case "remote":
			backends = append(backends, transcription.NewRemote(transcription.RemoteOptions{
				BaseURL:    cfg.HFBaseURL,
				Token:      cfg.HFToken,
				Models:     cfg.Models,
				WarmupWait: cfg.WarmupWait,
				Timeout:    cfg.Timeout,
			}, log))
		case "local":
			backends = append(backends, transcription.NewLocal(transcription.LocalOptions{
				WhisperPath: cfg.WhisperPath,
				ModelPath:   cfg.WhisperModel,
				Timeout:     toolTimeout,
				Runner:      runner,
			}, log))
		}
	}
	return transcription.NewChain(log, backends...)
}

// Diagnose runs the dependency checks against the loaded configuration.
func (a *App) Diagnose(ctx context.Context) diagnostics.Report {
	return a.Checker.Run(ctx, a.Config)
}

func (a *App) Server() *api.Server {
	return api.NewServer(a.Store, a.Queue, a.Orchestrator, a.Diagnose, a.log)
}

func (a *App) Close() {
	if a.db != nil {
		a.db.Close()
	}
}
