package engine

import (
	"testing"
	"time"

	"github.com/dukex/followup/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		name string
		cfg  models.RetryConfig
		want time.Duration
	}{
		{
			name: "constant",
			cfg:  models.RetryConfig{RetryCount: 3, RetryDelayMinutes: 5, Strategy: models.BackoffConstant},
			want: 5 * time.Minute,
		},
		{
			name: "unset strategy is constant",
			cfg:  models.RetryConfig{RetryCount: 2, RetryDelayMinutes: 5},
			want: 5 * time.Minute,
		},
		{
			name: "exponential first retry",
			cfg:  models.RetryConfig{RetryCount: 1, RetryDelayMinutes: 15, Strategy: models.BackoffExponential},
			want: 15 * time.Minute,
		},
		{
			name: "exponential third retry",
			cfg:  models.RetryConfig{RetryCount: 3, RetryDelayMinutes: 15, Strategy: models.BackoffExponential},
			want: 60 * time.Minute,
		},
		{
			name: "exponential capped",
			cfg: models.RetryConfig{
				RetryCount: 6, RetryDelayMinutes: 15, Strategy: models.BackoffExponential, MaxDelayMinutes: 240,
			},
			want: 240 * time.Minute,
		},
		{
			name: "zero delay retries immediately",
			cfg:  models.RetryConfig{RetryCount: 1},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryDelay(tt.cfg))
		})
	}
}
