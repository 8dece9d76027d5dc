package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerlink-reconciliation-service/internal/connection"
	"ledgerlink-reconciliation-service/internal/reconciler"
	"ledgerlink-reconciliation-service/pkg/errors"
	"ledgerlink-reconciliation-service/pkg/logger"
)

var processedAt = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

type TestRequest struct {
	Payload  interface{}
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
}

func SetUpTestRequest(t *testing.T, s TestRequest) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	switch p := s.Payload.(type) {
	case nil:
	case string:
		body.WriteString(p)
	default:
		require.NoError(t, json.NewEncoder(&body).Encode(p))
	}

	req := httptest.NewRequest(s.Method, s.Route, &body)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	if s.Response != nil && strings.HasPrefix(resp.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), s.Response))
	}
	return resp
}

func setupRouter(t *testing.T, session *connection.Session, config *Config) *gin.Engine {
	t.Helper()
	service, err := reconciler.NewService(reconciler.DefaultConfig(), nil, logger.Discard())
	require.NoError(t, err)

	a, err := NewAPI(service, session, config, logger.Discard(),
		WithClock(func() time.Time { return processedAt }),
		WithIDGenerator(func() string { return "7d1f4c2e-9a40-4b8e-8f43-2d6c1b5a0e11" }),
	)
	require.NoError(t, err)
	return a.Router()
}

func validPayload() map[string]interface{} {
	return map[string]interface{}{
		"customerId": "acme",
		"receivables": map[string]interface{}{
			"records": []map[string]interface{}{
				{"transactionNumber": "INV-001", "transactionType": "invoice", "amount": "100.00", "issueDate": "2024-01-10", "status": "authorised", "sourceSystem": "xero"},
				{"transactionNumber": "INV-003", "transactionType": "invoice", "amount": "999.00", "issueDate": "2024-03-01", "status": "authorised", "sourceSystem": "xero"},
			},
		},
		"uploadedRows": []map[string]interface{}{
			{"Transaction #": "BILL-1", "Amount": 100.00, "Date": "10/01/2024", "Reference": "INV-001", "Contact": "Acme"},
			{"Transaction #": "BILL-3", "Amount": "77.00", "Date": "20/02/2024", "Reference": "XYZ-9", "Contact": "Acme"},
		},
		"dateFormat": "DD/MM/YYYY",
	}
}

type envelope struct {
	ReconciliationID string    `json:"reconciliationId"`
	ProcessedAt      time.Time `json:"processedAt"`
	Results          struct {
		PerfectMatches []struct {
			Confidence int `json:"confidence"`
			Receivable struct {
				TransactionNumber string `json:"transactionNumber"`
			} `json:"receivable"`
			Payable struct {
				TransactionNumber string `json:"transactionNumber"`
			} `json:"payable"`
		} `json:"perfectMatches"`
		UnmatchedItems struct {
			Company1 []struct {
				TransactionNumber string `json:"transactionNumber"`
			} `json:"company1"`
			Company2 []struct {
				TransactionNumber string `json:"transactionNumber"`
			} `json:"company2"`
		} `json:"unmatchedItems"`
		Warnings []map[string]interface{} `json:"warnings"`
	} `json:"results"`
}

type errorBody struct {
	Error map[string]interface{} `json:"error"`
}

func TestReconcile(t *testing.T) {
	router := setupRouter(t, nil, nil)

	var response envelope
	resp := SetUpTestRequest(t, TestRequest{
		Payload:  validPayload(),
		Router:   router,
		Response: &response,
		Method:   http.MethodPost,
		Route:    "/reconciliations",
	})

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "7d1f4c2e-9a40-4b8e-8f43-2d6c1b5a0e11", response.ReconciliationID)
	assert.True(t, processedAt.Equal(response.ProcessedAt))

	require.Len(t, response.Results.PerfectMatches, 1)
	match := response.Results.PerfectMatches[0]
	assert.Equal(t, "INV-001", match.Receivable.TransactionNumber)
	assert.Equal(t, "BILL-1", match.Payable.TransactionNumber)
	assert.Equal(t, 100, match.Confidence)

	require.Len(t, response.Results.UnmatchedItems.Company1, 1)
	assert.Equal(t, "INV-003", response.Results.UnmatchedItems.Company1[0].TransactionNumber)
	require.Len(t, response.Results.UnmatchedItems.Company2, 1)
	assert.Equal(t, "BILL-3", response.Results.UnmatchedItems.Company2[0].TransactionNumber)
	assert.Empty(t, response.Results.Warnings)
}

func TestReconcile_Errors(t *testing.T) {
	router := setupRouter(t, nil, nil)

	tests := []struct {
		name     string
		mutate   func(p map[string]interface{})
		raw      string
		status   int
		wantCode errors.ErrorCode
		wantKey  string
	}{
		{
			name:     "malformed json",
			raw:      `{"customerId": `,
			status:   http.StatusBadRequest,
			wantCode: errors.CodeInvalidFormat,
		},
		{
			name:    "missing customer",
			mutate:  func(p map[string]interface{}) { delete(p, "customerId") },
			status:  http.StatusBadRequest,
			wantKey: "customerId",
		},
		{
			name:    "unknown date format",
			mutate:  func(p map[string]interface{}) { p["dateFormat"] = "YYYYMMDD" },
			status:  http.StatusBadRequest,
			wantKey: "dateFormat",
		},
		{
			name:    "uploaded rows without date format",
			mutate:  func(p map[string]interface{}) { delete(p, "dateFormat") },
			status:  http.StatusBadRequest,
			wantKey: "dateFormat",
		},
		{
			name: "unknown source",
			mutate: func(p map[string]interface{}) {
				p["receivables"].(map[string]interface{})["source"] = "sap"
			},
			status:  http.StatusBadRequest,
			wantKey: "receivables",
		},
		{
			name: "every uploaded row invalid",
			mutate: func(p map[string]interface{}) {
				p["uploadedRows"] = []map[string]interface{}{
					{"Transaction #": "BILL-9", "Amount": "n/a", "Date": "10/01/2024"},
				}
			},
			status:   http.StatusUnprocessableEntity,
			wantCode: errors.CodeEmptyInput,
		},
		{
			name:     "no payables",
			mutate:   func(p map[string]interface{}) { delete(p, "uploadedRows") },
			status:   http.StatusUnprocessableEntity,
			wantCode: errors.CodeEmptyInput,
		},
		{
			name:     "historical data without a store",
			mutate:   func(p map[string]interface{}) { p["useHistoricalData"] = true },
			status:   http.StatusBadRequest,
			wantCode: errors.CodeInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var payload interface{} = tt.raw
			if tt.raw == "" {
				p := validPayload()
				tt.mutate(p)
				payload = p
			}

			var response errorBody
			resp := SetUpTestRequest(t, TestRequest{
				Payload:  payload,
				Router:   router,
				Response: &response,
				Method:   http.MethodPost,
				Route:    "/reconciliations",
			})

			assert.Equal(t, tt.status, resp.Code, resp.Body.String())
			if tt.wantCode != "" {
				assert.Equal(t, string(tt.wantCode), response.Error["code"])
			}
			if tt.wantKey != "" {
				assert.Contains(t, response.Error, tt.wantKey)
			}
		})
	}
}

func TestReconcile_EmptyInputNamesSide(t *testing.T) {
	router := setupRouter(t, nil, nil)
	p := validPayload()
	delete(p, "uploadedRows")

	var response errorBody
	resp := SetUpTestRequest(t, TestRequest{Payload: p, Router: router, Response: &response, Method: http.MethodPost, Route: "/reconciliations"})

	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	ctx, ok := response.Error["context"].(map[string]interface{})
	require.True(t, ok, "error context missing: %v", response.Error)
	assert.Equal(t, "payable", ctx["side"])
}

func TestExport(t *testing.T) {
	router := setupRouter(t, nil, nil)

	resp := SetUpTestRequest(t, TestRequest{
		Payload: validPayload(),
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/reconciliations/export?category=perfect_matches&prefix=acme",
	})

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="acme_perfect_matches_2024-03-01.csv"`, resp.Header().Get("Content-Disposition"))
	assert.Equal(t, "7d1f4c2e-9a40-4b8e-8f43-2d6c1b5a0e11", resp.Header().Get("X-Reconciliation-Id"))

	lines := strings.Split(resp.Body.String(), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], `"Transaction #","Issue Date","Receivable Amount"`))
	assert.True(t, strings.HasPrefix(lines[1], `"INV-001","10/01/2024","100.00","BILL-1"`))
}

func TestExport_DefaultsAndErrors(t *testing.T) {
	router := setupRouter(t, nil, nil)

	resp := SetUpTestRequest(t, TestRequest{
		Payload: validPayload(),
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/reconciliations/export?category=unmatched_payables",
	})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Header().Get("Content-Disposition"), "reconciliation_unmatched_payables_2024-03-01.csv")
	assert.Contains(t, resp.Body.String(), `"BILL-3"`)

	var response errorBody
	resp = SetUpTestRequest(t, TestRequest{
		Payload:  validPayload(),
		Router:   router,
		Response: &response,
		Method:   http.MethodPost,
		Route:    "/reconciliations/export?category=everything",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, string(errors.CodeInvalidConfig), response.Error["code"])
}

func TestConnections(t *testing.T) {
	session := connection.NewSession(logger.Discard())
	calls := 0
	monitor, err := connection.NewMonitor("xero", connection.CheckerFunc(func(context.Context) (bool, error) {
		calls++
		return true, nil
	}), nil, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, session.Register(monitor))

	router := setupRouter(t, session, nil)

	var status connection.Status
	resp := SetUpTestRequest(t, TestRequest{Router: router, Response: &status, Method: http.MethodGet, Route: "/connections/xero/status"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, connection.StateUnknown, status.State)
	assert.Zero(t, calls)

	resp = SetUpTestRequest(t, TestRequest{Router: router, Response: &status, Method: http.MethodPost, Route: "/connections/xero/retry"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, connection.StateAuthenticated, status.State)
	assert.Equal(t, connection.TriggerManualRetry, status.LastTrigger)
	assert.Equal(t, 1, calls)

	var list struct {
		Connections []connection.Status `json:"connections"`
	}
	resp = SetUpTestRequest(t, TestRequest{Router: router, Response: &list, Method: http.MethodGet, Route: "/connections"})
	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, list.Connections, 1)
	assert.Equal(t, "xero", list.Connections[0].Provider)

	resp = SetUpTestRequest(t, TestRequest{Router: router, Method: http.MethodGet, Route: "/connections/netsuite/status"})
	assert.Equal(t, http.StatusNotFound, resp.Code)
	resp = SetUpTestRequest(t, TestRequest{Router: router, Method: http.MethodPost, Route: "/connections/netsuite/retry"})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestConnectionEvent(t *testing.T) {
	session := connection.NewSession(logger.Discard())
	calls := 0
	monitor, err := connection.NewMonitor("xero", connection.CheckerFunc(func(context.Context) (bool, error) {
		calls++
		return true, nil
	}), nil, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, session.Register(monitor))

	router := setupRouter(t, session, nil)

	var status connection.Status
	resp := SetUpTestRequest(t, TestRequest{Router: router, Response: &status, Method: http.MethodPost, Route: "/connections/xero/events/token_refresh_failed"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, connection.StateUnauthenticated, status.State)
	assert.Equal(t, connection.TriggerTokenRefreshFailed, status.LastTrigger)
	assert.NotEmpty(t, status.Error)

	status = connection.Status{}
	resp = SetUpTestRequest(t, TestRequest{Router: router, Response: &status, Method: http.MethodPost, Route: "/connections/xero/events/token_refresh_succeeded"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, connection.StateAuthenticated, status.State)
	assert.Empty(t, status.Error)
	assert.Zero(t, calls)

	var response errorBody
	resp = SetUpTestRequest(t, TestRequest{Router: router, Response: &response, Method: http.MethodPost, Route: "/connections/xero/events/reboot"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, string(errors.CodeInvalidConfig), response.Error["code"])

	response = errorBody{}
	resp = SetUpTestRequest(t, TestRequest{Router: router, Response: &response, Method: http.MethodPost, Route: "/connections/netsuite/events/manual_retry"})
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, string(errors.CodeMissingConfig), response.Error["code"])
	assert.Contains(t, response.Error["message"], "netsuite")
}

func TestConnections_WithoutSession(t *testing.T) {
	router := setupRouter(t, nil, nil)

	resp := SetUpTestRequest(t, TestRequest{Router: router, Method: http.MethodGet, Route: "/connections/xero/status"})
	assert.Equal(t, http.StatusNotFound, resp.Code)

	var list struct {
		Connections []connection.Status `json:"connections"`
	}
	resp = SetUpTestRequest(t, TestRequest{Router: router, Response: &list, Method: http.MethodGet, Route: "/connections"})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.NotNil(t, list.Connections)
	assert.Empty(t, list.Connections)
}

func TestHealth(t *testing.T) {
	router := setupRouter(t, nil, nil)

	var body map[string]interface{}
	resp := SetUpTestRequest(t, TestRequest{Router: router, Response: &body, Method: http.MethodGet, Route: "/health"})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["historyEnabled"])
}

func TestRateLimit(t *testing.T) {
	config := DefaultConfig()
	config.RateLimit = RateLimitConfig{RequestsPerSecond: 1, Burst: 1, CleanupInterval: time.Minute}
	router := setupRouter(t, nil, config)

	first := SetUpTestRequest(t, TestRequest{Router: router, Method: http.MethodGet, Route: "/health"})
	second := SetUpTestRequest(t, TestRequest{Router: router, Method: http.MethodGet, Route: "/health"})

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		valid  bool
	}{
		{"default", func(c *Config) {}, true},
		{"missing address", func(c *Config) { c.Address = "" }, false},
		{"zero body limit", func(c *Config) { c.MaxBodyBytes = 0 }, false},
		{"negative rate", func(c *Config) { c.RateLimit.RequestsPerSecond = -1 }, false},
		{"rate without burst", func(c *Config) { c.RateLimit.RequestsPerSecond = 5 }, false},
		{"rate with burst", func(c *Config) { c.RateLimit.RequestsPerSecond = 5; c.RateLimit.Burst = 10 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.IsInvalidConfiguration(err), "got %v", err)
			}
		})
	}
}

func TestNewAPI_RequiresService(t *testing.T) {
	_, err := NewAPI(nil, nil, nil, logger.Discard())
	assert.True(t, errors.IsInvalidConfiguration(err))
}
