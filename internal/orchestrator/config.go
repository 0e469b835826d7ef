package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/plangate/internal/config"
	"github.com/fyrsmithlabs/plangate/internal/retry"
)

// Config controls retry and dispatch policy.
type Config struct {
	// MaxAttempts bounds worker invocations per task
	MaxAttempts int `json:"max_attempts"`

	// StrictMode escalates or fails exhausted tasks instead of force-accepting them
	StrictMode bool `json:"strict_mode"`

	// WorkerPoolSize bounds concurrent tasks within a stage
	WorkerPoolSize int `json:"worker_pool_size"`

	// PerCallTimeout bounds each worker call and each oracle call
	PerCallTimeout time.Duration `json:"per_call_timeout"`

	// DispatchRate limits task dispatch in tasks per second; 0 disables
	DispatchRate float64 `json:"dispatch_rate,omitempty"`

	// RetryBackoff is the initial wait between attempts; 0 disables
	RetryBackoff time.Duration `json:"retry_backoff,omitempty"`

	// RetryExecutionFailures retries worker and oracle errors with the same payload
	RetryExecutionFailures bool `json:"retry_execution_failures,omitempty"`
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    retry.DefaultMaxAttempts,
		StrictMode:     false,
		WorkerPoolSize: 4,
		PerCallTimeout: 5 * time.Minute,
	}
}

// FromAppConfig maps the coordinator section of the application config.
func FromAppConfig(c config.CoordinatorConfig) Config {
	return Config{
		MaxAttempts:            c.MaxAttempts,
		StrictMode:             c.StrictMode,
		WorkerPoolSize:         c.WorkerPoolSize,
		PerCallTimeout:         c.PerCallTimeout.Duration(),
		DispatchRate:           c.DispatchRate,
		RetryBackoff:           c.RetryBackoff.Duration(),
		RetryExecutionFailures: c.RetryExecutionFailures,
	}
}

// Validate checks the policy.
func (c Config) Validate() error {
	var errs []error
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be >= 1, got %d", c.MaxAttempts))
	}
	if c.WorkerPoolSize < 1 {
		errs = append(errs, fmt.Errorf("worker_pool_size must be >= 1, got %d", c.WorkerPoolSize))
	}
	if c.PerCallTimeout <= 0 {
		errs = append(errs, errors.New("per_call_timeout must be > 0"))
	}
	if c.DispatchRate < 0 {
		errs = append(errs, fmt.Errorf("dispatch_rate must be >= 0, got %g", c.DispatchRate))
	}
	if c.RetryBackoff < 0 {
		errs = append(errs, errors.New("retry_backoff must be >= 0"))
	}
	return errors.Join(errs...)
}
