package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/followup/pkg/config"
	"github.com/dukex/followup/pkg/engine"
	"github.com/dukex/followup/pkg/eventbus"
	"github.com/dukex/followup/pkg/otelhelper"
	"github.com/dukex/followup/pkg/persistence"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

// LoadDotEnv loads the first .env file found in paths. Variables already set win.
func LoadDotEnv(paths ...string) string {
	if len(paths) == 0 {
		paths = []string{".env", "../.env"}
	}

	for _, p := range paths {
		if err := godotenv.Load(p); err == nil {
			return p
		}
	}

	return ""
}

// CommonFlags are the flags shared by every binary.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Persistence URL (memory://, file://path, postgres://..., mongodb://...)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Config file with channel credentials, templates and retry defaults",
			Sources: cli.EnvVars("FOLLOWUP_CONFIG"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces through OTLP HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
		&cli.FloatFlag{
			Name:    "trace-sample-ratio",
			Usage:   "Fraction of root traces exported when tracing is enabled",
			Value:   1.0,
			Sources: cli.EnvVars("TRACE_SAMPLE_RATIO"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-file",
			Usage:   "Also write logs to this rotated file",
			Sources: cli.EnvVars("LOG_FILE"),
		},
	}
}

// Runtime holds the components every binary builds from CommonFlags.
type Runtime struct {
	Config      *config.Config
	Persistence persistence.Persistence
	EventBus    eventbus.EventBus
	Engine      *engine.Engine

	logger         *slog.Logger
	shutdownTracer func(context.Context) error
}

// NewRuntime wires config, persistence, event bus, tracing and the engine for serviceName.
func NewRuntime(ctx context.Context, command *cli.Command, serviceName string, logger *slog.Logger) (*Runtime, error) {
	cfg, err := config.Load(command.String("config"))
	if err != nil {
		return nil, err
	}

	if cfg.File != "" {
		logger.InfoContext(ctx, "Loaded config file", "file", cfg.File)
	}

	r := &Runtime{Config: cfg, logger: logger}

	var tracer trace.Tracer

	if command.Bool("tracing") {
		tracer, r.shutdownTracer, err = otelhelper.NewTracer(ctx, serviceName, command.Float("trace-sample-ratio"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
	}

	r.Persistence, err = NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, errors.Join(err, r.Close(ctx))
	}

	r.EventBus, err = NewEventBus(command.String("event-bus"), serviceName, command.String("kafka-brokers"), logger)
	if err != nil {
		return nil, errors.Join(err, r.Close(ctx))
	}

	r.Engine, err = NewEngine(cfg, r.Persistence, r.EventBus, tracer, logger)
	if err != nil {
		return nil, errors.Join(err, r.Close(ctx))
	}

	return r, nil
}

// Close releases everything NewRuntime opened.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error

	if r.EventBus != nil {
		if err := r.EventBus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event bus: %w", err))
		}
	}

	if r.Persistence != nil {
		if err := r.Persistence.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close persistence: %w", err))
		}
	}

	if r.shutdownTracer != nil {
		if err := r.shutdownTracer(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer: %w", err))
		}
	}

	return errors.Join(errs...)
}
