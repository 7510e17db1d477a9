package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"finvoice-go/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envFlag := &cli.StringFlag{
		Name:  "env",
		Usage: "environment file",
		Value: ".env",
	}

	cmd := &cli.Command{
		Name:  "finvoice",
		Usage: "financial call intake: transcription, extraction and insights",
		Flags: []cli.Flag{envFlag},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and the workers",
				Action: serveAction,
			},
			{
				Name:      "run",
				Usage:     "process one file synchronously and print the job",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "job id (generated when empty)"},
					&cli.StringFlag{Name: "kind", Usage: "audio or document (guessed from the extension when empty)"},
					&cli.StringFlag{Name: "lang", Usage: "language hint, e.g. en"},
				},
				Action: runAction,
			},
			{
				Name:      "import",
				Usage:     "submit every row of an xlsx manifest",
				ArgsUsage: "<manifest.xlsx>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "wait", Usage: "process the jobs in this process and wait for them"},
				},
				Action: importAction,
			},
			{
				Name:      "export",
				Usage:     "write jobs and a summary sheet to an xlsx file",
				ArgsUsage: "<results.xlsx>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "only jobs with this status"},
				},
				Action: exportAction,
			},
			{
				Name:      "status",
				Usage:     "print a job",
				ArgsUsage: "<job-id>",
				Action:    statusAction,
			},
			{
				Name:      "reprocess",
				Usage:     "run a finished job again",
				ArgsUsage: "<job-id>",
				Action:    reprocessAction,
			},
			{
				Name:   "doctor",
				Usage:  "check tools, credentials and storage",
				Action: doctorAction,
			},
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.New().WithError(err).Fatal("command failed")
	}
}
