package connection

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ledgerlink-reconciliation-service/pkg/errors"
)

// HTTPChecker asks an ERP status endpoint whether the stored token is valid.
// 200 means authenticated, 401 and 403 mean unauthenticated and anything
// else is a transient error.
type HTTPChecker struct {
	URL    string
	Token  string
	Header map[string]string
	Client *http.Client
}

// NewHTTPChecker creates a checker for a status URL
func NewHTTPChecker(url, token string, client *http.Client) (*HTTPChecker, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.InvalidConfigurationError("status_url", url, fmt.Errorf("status url is required"))
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPChecker{URL: url, Token: token, Client: client}, nil
}

// Check calls the status endpoint once
func (c *HTTPChecker) Check(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	for k, v := range c.Header {
		req.Header.Set(k, v)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return false, nil
	default:
		return false, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}
}
