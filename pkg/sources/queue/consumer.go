// Package queue consumes trigger requests pushed onto a Redis list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/dukex/followup/pkg/events"
	redis "github.com/redis/go-redis/v9"
)

const (
	defaultAddr    = "localhost:6379"
	popTimeout     = time.Second
	failureBackoff = time.Second
)

var ErrInvalidMessage = errors.New("invalid trigger message")

// Handler receives one decoded trigger request.
type Handler func(ctx context.Context, request events.TriggerRequested) error

// Connection selects the Redis server. Zero values mean localhost:6379, database 0.
type Connection struct {
	Addr     string
	Password string
	DB       string
}

// Consumer pops JSON trigger requests from a Redis list with BLPOP.
type Consumer struct {
	Queue      string
	Connection Connection

	client  redis.UniversalClient
	handler Handler
	logger  *slog.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewConsumer(queue string, connection Connection, logger *slog.Logger) (*Consumer, error) {
	if queue == "" {
		return nil, errors.New("queue name is required")
	}

	return &Consumer{
		Queue:      queue,
		Connection: connection,
		stopCh:     make(chan struct{}),
		logger: logger.With(
			"module", "queue_consumer",
			"queue", queue,
		),
	}, nil
}

// Start connects to Redis and consumes in the background until Stop or ctx is done.
func (c *Consumer) Start(ctx context.Context, handler Handler) error {
	c.handler = handler

	err := c.initializeClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize queue client: %w", err)
	}

	c.wg.Add(1)

	go c.consume(ctx)

	return nil
}

func (c *Consumer) initializeClient(ctx context.Context) error {
	addr := c.Connection.Addr
	if addr == "" {
		addr = defaultAddr
	}

	db := 0

	if c.Connection.DB != "" {
		var err error
		if db, err = strconv.Atoi(c.Connection.DB); err != nil {
			return fmt.Errorf("invalid db value: %w", err)
		}
	}

	c.client = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: c.Connection.Password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.client.Ping(pingCtx).Err()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c.logger.InfoContext(ctx, "Connected to Redis", "addr", addr, "db", db)

	return nil
}

func (c *Consumer) consume(ctx context.Context) {
	defer c.wg.Done()

	c.logger.InfoContext(ctx, "Starting queue consumer")

	for {
		select {
		case <-c.stopCh:
			c.logger.InfoContext(ctx, "Queue consumer stopped")

			return
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Context cancelled, stopping queue consumer")

			return
		default:
			err := c.processMessage(ctx)
			if err != nil {
				c.logger.ErrorContext(ctx, "Error processing message", "error", err)
				time.Sleep(failureBackoff)
			}
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context) error {
	result, err := c.client.BLPop(ctx, popTimeout, c.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	request, err := Decode([]byte(result[1]))
	if err != nil {
		c.logger.WarnContext(ctx, "Dropping malformed trigger message", "error", err)

		return nil
	}

	err = c.handler(ctx, request)
	if err != nil {
		c.logger.ErrorContext(ctx, "Trigger request failed",
			"entity_type", request.EntityType,
			"entity_id", request.EntityID,
			"error", err)
	}

	return nil
}

// Decode parses a queued message. trigger_type, entity_type and entity_id are required.
func Decode(payload []byte) (events.TriggerRequested, error) {
	var request events.TriggerRequested

	err := json.Unmarshal(payload, &request)
	if err != nil {
		return request, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch {
	case request.TriggerType == "":
		return request, fmt.Errorf("%w: trigger_type is required", ErrInvalidMessage)
	case request.EntityType == "":
		return request, fmt.Errorf("%w: entity_type is required", ErrInvalidMessage)
	case request.EntityID == "":
		return request, fmt.Errorf("%w: entity_id is required", ErrInvalidMessage)
	}

	if !request.EntityType.IsValid() {
		return request, fmt.Errorf("%w: unknown entity_type %q", ErrInvalidMessage, request.EntityType)
	}

	if !request.TriggerType.IsValid() {
		return request, fmt.Errorf("%w: unknown trigger_type %q", ErrInvalidMessage, request.TriggerType)
	}

	if request.Type == "" {
		request.Type = events.TriggerRequestedEvent
	}

	if request.Timestamp.IsZero() {
		request.Timestamp = time.Now().UTC()
	}

	return request, nil
}

func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.InfoContext(ctx, "Stopping queue consumer")

	close(c.stopCh)
	c.wg.Wait()

	if c.client != nil {
		err := c.client.Close()
		if err != nil {
			c.logger.ErrorContext(ctx, "Error closing Redis client", "error", err)
		}
	}

	return nil
}
