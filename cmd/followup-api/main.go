// Package main provides the follow-up API server.
package main

import (
	"context"
	"os"

	"github.com/dukex/followup/pkg/cmd"
	"github.com/dukex/followup/pkg/log"
	cli "github.com/urfave/cli/v3"
	_ "go.uber.org/automaxprocs"
)

const defaultPort = 9091

func main() {
	envFile := cmd.LoadDotEnv()

	app := &cli.Command{
		Name:                  "followup-api",
		Usage:                 "Author follow-up workflows and trigger executions over HTTP",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			newServeCommand(),
			newSeedCommand(),
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			if envFile != "" {
				log.WithModule("followup-api").DebugContext(ctx, "Loaded environment file", "file", envFile)
			}

			return ctx, nil
		},
	}

	err := app.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("followup-api").Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newServeCommand() *cli.Command {
	flags := append(cmd.CommonFlags(),
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:    "jwt-secret",
			Usage:   "HS256 secret for admin tokens; empty disables auth",
			Sources: cli.EnvVars("JWT_SECRET"),
		},
	)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the HTTP API",
		Flags:   flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-file"))

			logger := log.WithModule("followup-api")
			logger.InfoContext(ctx, "Initializing follow-up API")

			runtime, err := cmd.NewRuntime(ctx, command, "followup-api", logger)
			if err != nil {
				return err
			}

			defer func() {
				err := runtime.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
				}
			}()

			secret := command.String("jwt-secret")
			if secret == "" {
				logger.WarnContext(ctx, "JWT secret not set, admin endpoints are open")
			}

			api, err := NewAPI(logger, runtime.Persistence, runtime.Engine, secret)
			if err != nil {
				return err
			}

			return api.Start(int(command.Int("port")))
		},
	}
}

func newSeedCommand() *cli.Command {
	flags := append(cmd.CommonFlags(),
		&cli.BoolFlag{
			Name:  "activate",
			Usage: "Activate the predefined workflows after creating them",
		},
	)

	return &cli.Command{
		Name:  "seed",
		Usage: "Create the predefined workflows that do not exist yet",
		Flags: flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-file"))

			logger := log.WithModule("followup-seed")

			runtime, err := cmd.NewRuntime(ctx, command, "followup-api", logger)
			if err != nil {
				return err
			}

			defer func() {
				err := runtime.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
				}
			}()

			service, err := newWorkflowService(runtime.Persistence)
			if err != nil {
				return err
			}

			results, err := service.Seed(ctx, command.Bool("activate"))
			if err != nil {
				return err
			}

			for _, result := range results {
				logger.InfoContext(ctx, "Seeded workflow", "key", result.Key, "id", result.ID, "created", result.Created)
			}

			return nil
		},
	}
}
