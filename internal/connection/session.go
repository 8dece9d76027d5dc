package connection

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sourcegraph/conc"

	"ledgerlink-reconciliation-service/pkg/errors"
	"ledgerlink-reconciliation-service/pkg/logger"
)

// Session owns one monitor per provider. Register providers, call Init once
// to mount them and start polling, and Teardown to stop.
type Session struct {
	mu       sync.RWMutex
	monitors map[string]*Monitor
	logger   logger.Logger

	cancel  context.CancelFunc
	pollers *conc.WaitGroup
}

// NewSession creates an empty session
func NewSession(log logger.Logger) *Session {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Session{
		monitors: make(map[string]*Monitor),
		logger:   log.WithComponent("connection_session"),
	}
}

// Register adds a monitor. Providers must be registered before Init.
func (s *Session) Register(m *Monitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return errors.New(errors.CategoryConfiguration, errors.CodeConfigConflict,
			fmt.Sprintf("cannot register %s after the session started", m.Provider()))
	}
	if _, ok := s.monitors[m.Provider()]; ok {
		return errors.New(errors.CategoryConfiguration, errors.CodeConfigConflict,
			fmt.Sprintf("provider %s is already registered", m.Provider()))
	}
	s.monitors[m.Provider()] = m
	return nil
}

// Init mounts every monitor and starts their poll loops. It returns once
// each mount check has finished.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return errors.New(errors.CategoryConfiguration, errors.CodeConfigConflict, "connection session already initialised")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.pollers = conc.NewWaitGroup()
	monitors := s.sorted()
	s.mu.Unlock()

	var mounts conc.WaitGroup
	for _, m := range monitors {
		mounts.Go(func() {
			status := m.Handle(ctx, TriggerMount)
			s.logger.WithFields(logger.Fields{
				"provider": status.Provider,
				"state":    status.State,
			}).Info("Connection mounted")
		})
	}
	mounts.Wait()

	for _, m := range monitors {
		s.pollers.Go(func() { m.Run(runCtx) })
	}
	return ctx.Err()
}

// Teardown stops every poll loop and waits for them to exit
func (s *Session) Teardown() {
	s.mu.Lock()
	cancel, pollers := s.cancel, s.pollers
	s.cancel, s.pollers = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	pollers.Wait()
	s.logger.Debug("Connection session stopped")
}

// Monitor returns the monitor of a provider
func (s *Session) Monitor(provider string) (*Monitor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.monitors[provider]
	return m, ok
}

// Status returns the status of a provider
func (s *Session) Status(provider string) (Status, error) {
	m, ok := s.Monitor(provider)
	if !ok {
		return Status{}, errors.New(errors.CategoryConnection, errors.CodeConnectionFailed,
			fmt.Sprintf("unknown provider %q", provider)).
			WithContext("provider", provider).
			WithSuggestion("configure the provider under connections")
	}
	return m.Status(), nil
}

// Trigger applies a trigger to one provider
func (s *Session) Trigger(ctx context.Context, provider string, trigger Trigger) (Status, error) {
	m, ok := s.Monitor(provider)
	if !ok {
		return s.Status(provider)
	}
	return m.Handle(ctx, trigger), nil
}

// Statuses returns every provider's status ordered by provider name
func (s *Session) Statuses() []Status {
	s.mu.RLock()
	monitors := s.sorted()
	s.mu.RUnlock()

	statuses := make([]Status, len(monitors))
	for i, m := range monitors {
		statuses[i] = m.Status()
	}
	return statuses
}

// sorted requires s.mu
func (s *Session) sorted() []*Monitor {
	monitors := make([]*Monitor, 0, len(s.monitors))
	for _, m := range s.monitors {
		monitors = append(monitors, m)
	}
	sort.Slice(monitors, func(i, j int) bool {
		return monitors[i].Provider() < monitors[j].Provider()
	})
	return monitors
}
