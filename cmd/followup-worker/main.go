// Package main provides the follow-up worker that advances due executions.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/followup/pkg/cmd"
	"github.com/dukex/followup/pkg/log"
	"github.com/dukex/followup/pkg/sources/queue"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	_ "go.uber.org/automaxprocs"
)

func main() {
	cmd.LoadDotEnv()

	app := &cli.Command{
		Name:                  "followup-worker",
		Usage:                 "Advance due follow-up executions and consume trigger requests",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			newRunCommand(),
		},
	}

	err := app.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("followup-worker").Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newRunCommand() *cli.Command {
	flags := append(cmd.CommonFlags(),
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "How often due executions are polled",
			Value:   30 * time.Second,
			Sources: cli.EnvVars("POLL_INTERVAL"),
		},
		&cli.IntFlag{
			Name:    "batch-size",
			Usage:   "Maximum due executions advanced per poll",
			Value:   100,
			Sources: cli.EnvVars("BATCH_SIZE"),
		},
		&cli.IntFlag{
			Name:    "concurrency",
			Usage:   "Maximum executions advanced in parallel",
			Value:   8,
			Sources: cli.EnvVars("CONCURRENCY"),
		},
		&cli.DurationFlag{
			Name:    "stall-timeout",
			Usage:   "RUNNING executions not updated for this long are resumed; 0 disables recovery",
			Value:   15 * time.Minute,
			Sources: cli.EnvVars("STALL_TIMEOUT"),
		},
		&cli.StringFlag{
			Name:    "redis-queue",
			Usage:   "Redis list to consume trigger requests from; empty disables it",
			Sources: cli.EnvVars("REDIS_QUEUE"),
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Redis address",
			Value:   "localhost:6379",
			Sources: cli.EnvVars("REDIS_ADDR"),
		},
		&cli.StringFlag{
			Name:    "redis-password",
			Usage:   "Redis password",
			Sources: cli.EnvVars("REDIS_PASSWORD"),
		},
		&cli.StringFlag{
			Name:    "redis-db",
			Usage:   "Redis database number",
			Value:   "0",
			Sources: cli.EnvVars("REDIS_DB"),
		},
	)

	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the worker",
		Flags:   flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-file"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("followup-worker").With("worker_id", workerID)
			logger.InfoContext(ctx, "Initializing follow-up worker")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runtime, err := cmd.NewRuntime(ctx, command, "followup-worker", logger)
			if err != nil {
				return err
			}

			defer func() {
				err := runtime.Close(context.Background())
				if err != nil {
					logger.Error("Failed to close runtime", "error", err)
				}
			}()

			worker := NewWorker(workerID, runtime.Engine, runtime.EventBus, logger, WorkerOptions{
				PollInterval: command.Duration("poll-interval"),
				BatchSize:    int(command.Int("batch-size")),
				Concurrency:  int(command.Int("concurrency")),
				StallTimeout: command.Duration("stall-timeout"),
			})

			err = worker.Start(ctx)
			if err != nil {
				return err
			}

			if name := command.String("redis-queue"); name != "" {
				consumer, err := queue.NewConsumer(name, queue.Connection{
					Addr:     command.String("redis-addr"),
					Password: command.String("redis-password"),
					DB:       command.String("redis-db"),
				}, logger)
				if err != nil {
					return err
				}

				err = consumer.Start(ctx, worker.TriggerRequested)
				if err != nil {
					return err
				}

				defer func() {
					_ = consumer.Stop(context.Background())
				}()
			}

			logger.InfoContext(ctx, "Worker started successfully")

			<-ctx.Done()

			worker.Stop(context.Background())

			return nil
		},
	}
}
