package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"finvoice-go/internal/app"
	"finvoice-go/internal/config"
	"finvoice-go/internal/diagnostics"
	"finvoice-go/internal/logger"
	"finvoice-go/internal/types"
	"finvoice-go/internal/workbook"
)

func newApp(ctx context.Context, cmd *cli.Command) (*app.App, *logger.Logger, error) {
	cfg, err := config.Load(cmd.String("env"))
	if err != nil {
		return nil, nil, err
	}
	log := logger.NewWithOptions(logger.Options{
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
		Output:      os.Stderr,
	})
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return a, log, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireArg(cmd *cli.Command, name string) (string, error) {
	arg := strings.TrimSpace(cmd.Args().First())
	if arg == "" {
		return "", fmt.Errorf("missing %s argument", name)
	}
	return arg, nil
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	a, log, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	log.WithField("service", "finvoice").Info("starting service")
	return a.Serve(ctx)
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	path, err := requireArg(cmd, "file")
	if err != nil {
		return err
	}
	path, err = filepath.Abs(path)
	if err != nil {
		return err
	}

	kind := types.Kind(strings.ToLower(cmd.String("kind")))
	if kind == "" {
		kind = workbook.KindFor(path)
	}
	if !kind.Valid() {
		return fmt.Errorf("unknown kind %q", kind)
	}
	id := cmd.String("id")
	if id == "" {
		id = uuid.NewString()
	}

	a, _, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	job, runErr := a.Orchestrator.Run(ctx, types.Submission{
		JobID:        id,
		Kind:         kind,
		SourcePath:   path,
		LanguageHint: strings.ToLower(cmd.String("lang")),
	})
	if job.ID != "" {
		if err := printJSON(job); err != nil {
			return err
		}
	}
	return runErr
}

func importAction(ctx context.Context, cmd *cli.Command) error {
	path, err := requireArg(cmd, "manifest")
	if err != nil {
		return err
	}
	a, log, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	subs, err := workbook.ImportManifest(path, log)
	if err != nil {
		return err
	}

	var ids []string
	var failed int
	for _, sub := range subs {
		id, err := a.Submit(ctx, sub)
		if err != nil {
			failed++
			log.WithField("job_id", sub.JobID).WithError(err).Warn("row not submitted")
			continue
		}
		ids = append(ids, id)
	}
	fmt.Printf("submitted %d jobs (%d rejected)\n", len(ids), failed)

	if !cmd.Bool("wait") {
		if a.Config.Database.URL == "" {
			log.Warn("in-memory queue: jobs are lost when this process exits; use --wait or set DATABASE_URL")
		}
		return nil
	}

	a.Pool.Start(ctx)
	jobs, waitErr := a.Wait(ctx, ids, time.Second)
	if err := a.Pool.Stop(context.WithoutCancel(ctx)); err != nil {
		log.WithError(err).Warn("workers interrupted")
	}
	if waitErr != nil {
		return waitErr
	}
	completed := 0
	for _, j := range jobs {
		if j.Status == types.StatusCompleted {
			completed++
		}
	}
	fmt.Printf("completed %d, failed %d\n", completed, len(jobs)-completed)
	return nil
}

func exportAction(ctx context.Context, cmd *cli.Command) error {
	path, err := requireArg(cmd, "output")
	if err != nil {
		return err
	}
	a, _, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs, err := a.Store.ListJobs(ctx, types.ListFilter{Status: types.JobStatus(strings.ToUpper(cmd.String("status")))})
	if err != nil {
		return err
	}
	if err := workbook.Export(path, jobs); err != nil {
		return err
	}
	fmt.Printf("exported %d jobs to %s\n", len(jobs), path)
	return nil
}

func statusAction(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "job-id")
	if err != nil {
		return err
	}
	a, _, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.Store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s: %w", id, types.ErrJobNotFound)
	}
	return printJSON(job)
}

func reprocessAction(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "job-id")
	if err != nil {
		return err
	}
	a, _, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	job, runErr := a.Orchestrator.Reprocess(ctx, id)
	if job.ID != "" {
		if err := printJSON(job); err != nil {
			return err
		}
	}
	return runErr
}

func doctorAction(ctx context.Context, cmd *cli.Command) error {
	a, _, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	report := a.Diagnose(ctx)
	for _, item := range report.Items {
		fmt.Printf("[%s] %-20s %s\n", strings.ToUpper(string(item.Status)), item.Name, item.Message)
		if item.Hint != "" && item.Status != diagnostics.StatusPass {
			fmt.Printf("       %s\n", item.Hint)
		}
	}
	if report.HasFailures {
		return errors.New("diagnostics reported failures")
	}
	return nil
}
