package models

// BackoffStrategy selects how retry delays grow between attempts.
type BackoffStrategy string

const (
	BackoffConstant    BackoffStrategy = "constant"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy is the authored execution-level retry policy for transient failures.
type RetryPolicy struct {
	MaxRetries        int             `json:"max_retries"         validate:"min=0"`
	RetryDelayMinutes int             `json:"retry_delay_minutes" validate:"min=0"`
	Strategy          BackoffStrategy `json:"strategy,omitempty"`
	MaxDelayMinutes   int             `json:"max_delay_minutes,omitempty"`
}

// RetryConfig is the retry bookkeeping carried by an execution.
// RetryCount is scoped to the instruction currently being retried.
type RetryConfig struct {
	RetryCount        int             `json:"retry_count"`
	MaxRetries        int             `json:"max_retries"`
	RetryDelayMinutes int             `json:"retry_delay_minutes"`
	Strategy          BackoffStrategy `json:"strategy,omitempty"`
	MaxDelayMinutes   int             `json:"max_delay_minutes,omitempty"`
}

// Exhausted reports whether no retry attempt is left.
func (r RetryConfig) Exhausted() bool {
	return r.RetryCount >= r.MaxRetries
}

// NewRetryConfig seeds execution bookkeeping from a policy.
func NewRetryConfig(policy RetryPolicy) RetryConfig {
	return RetryConfig{
		MaxRetries:        policy.MaxRetries,
		RetryDelayMinutes: policy.RetryDelayMinutes,
		Strategy:          policy.Strategy,
		MaxDelayMinutes:   policy.MaxDelayMinutes,
	}
}
