package connection

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerlink-reconciliation-service/pkg/errors"
	"ledgerlink-reconciliation-service/pkg/logger"
)

func fastConfig() *MonitorConfig {
	return &MonitorConfig{
		MinRecheckInterval: time.Minute,
		CheckTimeout:       time.Second,
		MaxRetries:         2,
		InitialBackoff:     time.Millisecond,
		MaxBackoff:         2 * time.Millisecond,
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scriptedChecker returns the queued results in order, repeating the last
type scriptedChecker struct {
	mu      sync.Mutex
	results []result
	calls   int32
}

type result struct {
	ok  bool
	err error
}

func (s *scriptedChecker) Check(context.Context) (bool, error) {
	atomic.AddInt32(&s.calls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return r.ok, r.err
}

func (s *scriptedChecker) Calls() int {
	return int(atomic.LoadInt32(&s.calls))
}

func newTestMonitor(t *testing.T, checker Checker, clock *fakeClock) *Monitor {
	t.Helper()
	m, err := NewMonitor("xero", checker, fastConfig(), logger.Discard(), WithClock(clock.Now))
	require.NoError(t, err)
	return m
}

func TestNewMonitor_Validation(t *testing.T) {
	ok := CheckerFunc(func(context.Context) (bool, error) { return true, nil })

	_, err := NewMonitor("", ok, nil, logger.Discard())
	assert.True(t, errors.IsInvalidConfiguration(err))

	_, err = NewMonitor("xero", nil, nil, logger.Discard())
	assert.True(t, errors.IsInvalidConfiguration(err))

	bad := fastConfig()
	bad.CheckTimeout = 0
	_, err = NewMonitor("xero", ok, bad, logger.Discard())
	assert.True(t, errors.IsInvalidConfiguration(err))

	m, err := NewMonitor("xero", ok, nil, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, StateUnknown, m.Status().State)
	assert.Equal(t, "xero", m.Status().Provider)
}

func TestMonitor_Transitions(t *testing.T) {
	tests := []struct {
		name     string
		results  []result
		trigger  Trigger
		want     State
		attempts int
	}{
		{"mount authenticated", []result{{ok: true}}, TriggerMount, StateAuthenticated, 1},
		{"mount rejected", []result{{ok: false}}, TriggerMount, StateUnauthenticated, 1},
		{"transient then authenticated", []result{{err: fmt.Errorf("timeout")}, {ok: true}}, TriggerManualRetry, StateAuthenticated, 2},
		{"retries exhausted", []result{{err: fmt.Errorf("bad gateway")}}, TriggerManualRetry, StateError, 3},
		{"first poll checks", []result{{ok: true}}, TriggerPeriodicPoll, StateAuthenticated, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &scriptedChecker{results: tt.results}
			clock := &fakeClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
			m := newTestMonitor(t, checker, clock)

			status := m.Handle(context.Background(), tt.trigger)

			assert.Equal(t, tt.want, status.State)
			assert.Equal(t, tt.attempts, status.Attempts)
			assert.Equal(t, tt.attempts, checker.Calls())
			assert.Equal(t, tt.trigger, status.LastTrigger)
			assert.Equal(t, clock.Now(), status.LastChecked)
			if tt.want == StateAuthenticated {
				assert.Empty(t, status.Error)
			} else {
				assert.NotEmpty(t, status.Error)
			}
		})
	}
}

func TestMonitor_TokenRefreshSetsStateWithoutChecking(t *testing.T) {
	checker := &scriptedChecker{results: []result{{ok: false}}}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	m := newTestMonitor(t, checker, clock)

	status := m.Handle(context.Background(), TriggerTokenRefreshSucceeded)
	assert.Equal(t, StateAuthenticated, status.State)

	status = m.Handle(context.Background(), TriggerTokenRefreshFailed)
	assert.Equal(t, StateUnauthenticated, status.State)
	assert.Contains(t, status.Error, "not authenticated with xero")

	assert.Zero(t, checker.Calls())
}

func TestMonitor_PeriodicPollDebounce(t *testing.T) {
	checker := &scriptedChecker{results: []result{{ok: true}}}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	m := newTestMonitor(t, checker, clock)
	ctx := context.Background()

	m.Handle(ctx, TriggerMount)
	require.Equal(t, 1, checker.Calls())

	clock.Advance(30 * time.Second)
	assert.False(t, m.ShouldCheck(TriggerPeriodicPoll))
	m.Handle(ctx, TriggerPeriodicPoll)
	assert.Equal(t, 1, checker.Calls(), "poll inside the recheck interval should be skipped")

	assert.True(t, m.ShouldCheck(TriggerManualRetry))
	m.Handle(ctx, TriggerManualRetry)
	assert.Equal(t, 2, checker.Calls(), "manual retry always checks")

	clock.Advance(time.Minute)
	m.Handle(ctx, TriggerPeriodicPoll)
	assert.Equal(t, 3, checker.Calls())
}

func TestMonitor_CancelledContext(t *testing.T) {
	checker := &scriptedChecker{results: []result{{err: fmt.Errorf("unreachable")}}}
	clock := &fakeClock{now: time.Now()}
	m := newTestMonitor(t, checker, clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	status := m.Handle(ctx, TriggerMount)
	assert.Equal(t, StateError, status.State)
	assert.Contains(t, status.Error, "cancelled")
}

func TestParseTrigger(t *testing.T) {
	for _, name := range []string{"mount", "manual_retry", "periodic_poll", "token_refresh_succeeded", "token_refresh_failed"} {
		trigger, err := ParseTrigger(name)
		require.NoError(t, err)
		assert.Equal(t, Trigger(name), trigger)
	}
	_, err := ParseTrigger("reboot")
	assert.True(t, errors.IsInvalidConfiguration(err))
}

func TestHTTPChecker(t *testing.T) {
	const url = "https://api.xero.test/connections/status"

	tests := []struct {
		status  int
		want    bool
		wantErr bool
	}{
		{http.StatusOK, true, false},
		{http.StatusUnauthorized, false, false},
		{http.StatusForbidden, false, false},
		{http.StatusInternalServerError, false, true},
		{http.StatusTooManyRequests, false, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			client := &http.Client{}
			httpmock.ActivateNonDefault(client)
			defer httpmock.DeactivateAndReset()

			httpmock.RegisterResponder(http.MethodGet, url, func(req *http.Request) (*http.Response, error) {
				assert.Equal(t, "Bearer token-123", req.Header.Get("Authorization"))
				return httpmock.NewStringResponse(tt.status, `{}`), nil
			})

			checker, err := NewHTTPChecker(url, "token-123", client)
			require.NoError(t, err)

			ok, err := checker.Check(context.Background())
			assert.Equal(t, tt.want, ok)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, 1, httpmock.GetTotalCallCount())
		})
	}
}

func TestHTTPChecker_DrivesMonitor(t *testing.T) {
	const url = "https://api.coupa.test/status"
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, url,
		httpmock.ResponderFromMultipleResponses([]*http.Response{
			httpmock.NewStringResponse(http.StatusBadGateway, ""),
			httpmock.NewStringResponse(http.StatusForbidden, ""),
		}))

	checker, err := NewHTTPChecker(url, "", client)
	require.NoError(t, err)
	m, err := NewMonitor("coupa", checker, fastConfig(), logger.Discard())
	require.NoError(t, err)

	status := m.Handle(context.Background(), TriggerMount)

	assert.Equal(t, StateUnauthenticated, status.State)
	assert.Equal(t, 2, status.Attempts)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestNewHTTPChecker_RequiresURL(t *testing.T) {
	_, err := NewHTTPChecker(" ", "", nil)
	assert.True(t, errors.IsInvalidConfiguration(err))
}
