// Package connection tracks whether the service is authenticated against
// each ERP provider. A Monitor is a small state machine driven by triggers;
// a Session owns one monitor per provider for the life of the process.
package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ledgerlink-reconciliation-service/pkg/errors"
	"ledgerlink-reconciliation-service/pkg/logger"
)

// State of a provider connection
type State string

const (
	StateUnknown         State = "unknown"
	StateChecking        State = "checking"
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
	StateError           State = "error"
)

// Trigger is an event that may cause a connection check
type Trigger string

const (
	TriggerMount                 Trigger = "mount"
	TriggerManualRetry           Trigger = "manual_retry"
	TriggerPeriodicPoll          Trigger = "periodic_poll"
	TriggerTokenRefreshSucceeded Trigger = "token_refresh_succeeded"
	TriggerTokenRefreshFailed    Trigger = "token_refresh_failed"
)

// ParseTrigger validates a trigger name
func ParseTrigger(s string) (Trigger, error) {
	switch t := Trigger(s); t {
	case TriggerMount, TriggerManualRetry, TriggerPeriodicPoll,
		TriggerTokenRefreshSucceeded, TriggerTokenRefreshFailed:
		return t, nil
	}
	return "", errors.InvalidConfigurationError("trigger", s, nil)
}

// Checker asks a provider whether the current credentials are accepted.
// A nil error with false means the provider answered and rejected them.
type Checker interface {
	Check(ctx context.Context) (bool, error)
}

// CheckerFunc adapts a function to Checker
type CheckerFunc func(ctx context.Context) (bool, error)

// Check calls f
func (f CheckerFunc) Check(ctx context.Context) (bool, error) {
	return f(ctx)
}

// MonitorConfig holds the debounce and retry settings of a monitor
type MonitorConfig struct {
	// MinRecheckInterval suppresses periodic polls that arrive this soon
	// after the previous check
	MinRecheckInterval time.Duration `json:"min_recheck_interval" mapstructure:"min_recheck_interval"`
	PollInterval       time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	CheckTimeout       time.Duration `json:"check_timeout" mapstructure:"check_timeout"`
	MaxRetries         uint64        `json:"max_retries" mapstructure:"max_retries"`
	InitialBackoff     time.Duration `json:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff         time.Duration `json:"max_backoff" mapstructure:"max_backoff"`
}

// DefaultMonitorConfig returns the default monitor settings
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		MinRecheckInterval: 30 * time.Second,
		PollInterval:       5 * time.Minute,
		CheckTimeout:       10 * time.Second,
		MaxRetries:         3,
		InitialBackoff:     200 * time.Millisecond,
		MaxBackoff:         5 * time.Second,
	}
}

// Validate checks the monitor settings
func (c *MonitorConfig) Validate() error {
	if c.MinRecheckInterval < 0 {
		return errors.InvalidConfigurationError("min_recheck_interval", c.MinRecheckInterval, fmt.Errorf("cannot be negative"))
	}
	if c.PollInterval < 0 {
		return errors.InvalidConfigurationError("poll_interval", c.PollInterval, fmt.Errorf("cannot be negative"))
	}
	if c.CheckTimeout <= 0 {
		return errors.InvalidConfigurationError("check_timeout", c.CheckTimeout, fmt.Errorf("must be positive"))
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		return errors.InvalidConfigurationError("initial_backoff", c.InitialBackoff,
			fmt.Errorf("must be positive and not exceed max_backoff %s", c.MaxBackoff))
	}
	return nil
}

// Clone returns a copy of the config
func (c *MonitorConfig) Clone() *MonitorConfig {
	clone := *c
	return &clone
}

// Status is a snapshot of a monitor
type Status struct {
	Provider    string    `json:"provider"`
	State       State     `json:"state"`
	LastTrigger Trigger   `json:"lastTrigger,omitempty"`
	LastChecked time.Time `json:"lastChecked,omitempty"`
	Attempts    int       `json:"attempts,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Monitor owns the connection state of one provider
type Monitor struct {
	provider string
	checker  Checker
	config   *MonitorConfig
	logger   logger.Logger
	now      func() time.Time

	// checkMu serializes checks; mu guards status
	checkMu sync.Mutex
	mu      sync.RWMutex
	status  Status
}

// MonitorOption customizes a Monitor
type MonitorOption func(*Monitor)

// WithClock replaces the monitor's time source
func WithClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a monitor in the unknown state
func NewMonitor(provider string, checker Checker, config *MonitorConfig, log logger.Logger, opts ...MonitorOption) (*Monitor, error) {
	if provider == "" {
		return nil, errors.InvalidConfigurationError("provider", provider, fmt.Errorf("provider name is required"))
	}
	if checker == nil {
		return nil, errors.InvalidConfigurationError("checker", nil, fmt.Errorf("a checker is required for %s", provider))
	}
	if config == nil {
		config = DefaultMonitorConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	m := &Monitor{
		provider: provider,
		checker:  checker,
		config:   config.Clone(),
		logger:   log.WithComponent("connection").WithField("provider", provider),
		now:      time.Now,
		status:   Status{Provider: provider, State: StateUnknown},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Provider returns the provider name
func (m *Monitor) Provider() string {
	return m.provider
}

// Status returns the current snapshot
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// ShouldCheck reports whether a trigger warrants a fresh check right now.
// Mount and manual retry always check. Periodic polls are skipped while a
// check is running or within MinRecheckInterval of the previous one.
func (m *Monitor) ShouldCheck(trigger Trigger) bool {
	switch trigger {
	case TriggerMount, TriggerManualRetry:
		return true
	case TriggerPeriodicPoll:
		s := m.Status()
		if s.State == StateChecking {
			return false
		}
		if s.LastChecked.IsZero() {
			return true
		}
		return m.now().Sub(s.LastChecked) >= m.config.MinRecheckInterval
	default:
		return false
	}
}

// Handle applies a trigger and returns the resulting status. Token refresh
// outcomes set the state directly; other triggers run a check when
// ShouldCheck allows it.
func (m *Monitor) Handle(ctx context.Context, trigger Trigger) Status {
	switch trigger {
	case TriggerTokenRefreshSucceeded:
		return m.set(trigger, StateAuthenticated, 0, nil)
	case TriggerTokenRefreshFailed:
		return m.set(trigger, StateUnauthenticated, 0,
			errors.ConnectionError(errors.CodeUnauthenticated, m.provider, fmt.Errorf("token refresh failed")))
	}

	if !m.ShouldCheck(trigger) {
		m.logger.WithField("trigger", trigger).Debug("Skipping connection check")
		return m.Status()
	}
	return m.check(ctx, trigger)
}

func (m *Monitor) check(ctx context.Context, trigger Trigger) Status {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	m.mu.Lock()
	m.status.State = StateChecking
	m.status.LastTrigger = trigger
	m.mu.Unlock()

	attempts := 0
	var authenticated bool
	operation := func() error {
		attempts++
		cctx, cancel := context.WithTimeout(ctx, m.config.CheckTimeout)
		defer cancel()

		ok, err := m.checker.Check(cctx)
		if err != nil {
			m.logger.WithFields(logger.Fields{
				"trigger": trigger,
				"attempt": attempts,
			}).WithError(err).Debug("Connection check attempt failed")
			return err
		}
		authenticated = ok
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(m.newBackOff(), m.config.MaxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if ctx.Err() != nil {
			err = errors.InternalError(errors.CodeCancelled, "connection_check", ctx.Err())
		} else {
			err = errors.ConnectionError(errors.CodeConnectionFailed, m.provider, err)
		}
		m.logger.WithField("attempts", attempts).WithError(err).Warn("Connection check failed")
		return m.set(trigger, StateError, attempts, err)
	}

	if !authenticated {
		return m.set(trigger, StateUnauthenticated, attempts,
			errors.ConnectionError(errors.CodeUnauthenticated, m.provider, nil))
	}
	return m.set(trigger, StateAuthenticated, attempts, nil)
}

func (m *Monitor) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.config.InitialBackoff
	b.MaxInterval = m.config.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (m *Monitor) set(trigger Trigger, state State, attempts int, err error) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.status.State = state
	m.status.LastTrigger = trigger
	m.status.LastChecked = m.now()
	m.status.Attempts = attempts
	m.status.Error = ""
	if err != nil {
		m.status.Error = err.Error()
	}

	m.logger.WithFields(logger.Fields{
		"trigger":  trigger,
		"state":    state,
		"attempts": attempts,
	}).Info("Connection state updated")
	return m.status
}

// Run polls the provider every PollInterval until ctx is done. A zero
// PollInterval disables polling.
func (m *Monitor) Run(ctx context.Context) {
	if m.config.PollInterval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Handle(ctx, TriggerPeriodicPoll)
		}
	}
}
