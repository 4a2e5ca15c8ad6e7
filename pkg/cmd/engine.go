// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/dukex/followup/pkg/actions"
	"github.com/dukex/followup/pkg/channels/chat"
	"github.com/dukex/followup/pkg/channels/email"
	"github.com/dukex/followup/pkg/channels/notification"
	"github.com/dukex/followup/pkg/config"
	"github.com/dukex/followup/pkg/engine"
	"github.com/dukex/followup/pkg/eventbus"
	"github.com/dukex/followup/pkg/persistence"
	"github.com/dukex/followup/pkg/protocol"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
)

// NewSenders builds the channel senders enabled by cfg. Notifications always go through the event bus.
func NewSenders(cfg *config.Config, publisher eventbus.EventPublisher, logger *slog.Logger) protocol.Senders {
	senders := protocol.Senders{
		Notification: notification.NewSender(publisher),
	}

	if cfg.Email.Enabled() {
		senders.Email = email.NewSender(cfg.Email, logger)
	} else {
		logger.Warn("email channel disabled, no SMTP host configured")
	}

	if cfg.Chat.Enabled() {
		senders.Chat = chat.NewSender(cfg.Chat, logger)
	} else {
		logger.Warn("chat channel disabled, no provider credentials configured")
	}

	return senders
}

// NewEngine wires the action executor and the engine around store and bus.
func NewEngine(
	cfg *config.Config,
	store persistence.Persistence,
	bus eventbus.EventPublisher,
	tracer trace.Tracer,
	logger *slog.Logger,
) (*engine.Engine, error) {
	clock := clockwork.NewRealClock()

	executor := actions.NewExecutor(
		NewSenders(cfg, bus, logger),
		store.EntityRepository(),
		clock,
		logger,
		actions.WithTemplates(cfg.Templates),
		actions.WithActionTimeout(cfg.Engine.ActionTimeout),
		actions.WithWebhookTimeout(cfg.Engine.WebhookTimeout),
	)

	opts := []engine.Option{
		engine.WithClock(clock),
		engine.WithPublisher(bus),
		engine.WithDefaultRetryPolicy(cfg.Retry.Policy()),
		engine.WithProgramCacheSize(cfg.Engine.ProgramCacheSize),
	}

	if tracer != nil {
		opts = append(opts, engine.WithTracer(tracer))
	}

	return engine.New(store, executor, logger, opts...)
}
