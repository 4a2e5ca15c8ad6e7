package engine

import (
	"time"

	"github.com/dukex/followup/pkg/models"
	"github.com/sethvargo/go-retry"
)

// retryDelay returns the wait before attempt number cfg.RetryCount (1-based).
func retryDelay(cfg models.RetryConfig) time.Duration {
	base := time.Duration(cfg.RetryDelayMinutes) * time.Minute
	if base <= 0 || cfg.RetryCount <= 0 {
		return 0
	}

	var backoff retry.Backoff

	switch cfg.Strategy {
	case models.BackoffExponential:
		backoff = retry.NewExponential(base)
	default:
		backoff = retry.NewConstant(base)
	}

	if cfg.MaxDelayMinutes > 0 {
		backoff = retry.WithCappedDuration(time.Duration(cfg.MaxDelayMinutes)*time.Minute, backoff)
	}

	var delay time.Duration

	for range cfg.RetryCount {
		next, stop := backoff.Next()
		if stop {
			break
		}

		delay = next
	}

	return delay
}
