// Package client provides an HTTP client for the stepscaler service.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/HatiCode/stepscaler/pkg/policyfile"
	"github.com/HatiCode/stepscaler/pkg/storage"
)

// CooldownHeader carries the seconds left in the cooldown window on
// /decision/current responses.
const CooldownHeader = "X-Stepscaler-Cooldown-Remaining"

// ErrNotFound is returned when the service has no decision yet.
var ErrNotFound = errors.New("not found")

// ScalerClient talks to a running scaler. Safe for concurrent use.
type ScalerClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewScalerClient returns a client for baseURL (e.g. "http://localhost:8082")
// with a 5 second request timeout.
func NewScalerClient(baseURL string) *ScalerClient {
	return NewScalerClientWithTimeout(baseURL, 5*time.Second)
}

func NewScalerClientWithTimeout(baseURL string, timeout time.Duration) *ScalerClient {
	return &ScalerClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// DecisionResult is the latest decision plus the cooldown left at the time
// it was served.
type DecisionResult struct {
	Decision          storage.Decision
	CooldownRemaining time.Duration
}

// GetDecision fetches the latest decision for service.
func (c *ScalerClient) GetDecision(ctx context.Context, service string) (*DecisionResult, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}

	resp, err := c.get(ctx, "/decision/current", url.Values{"service": {service}})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("decision for service %q: %w", service, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var d storage.Decision
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	result := &DecisionResult{Decision: d}
	if v := resp.Header.Get(CooldownHeader); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s header %q", CooldownHeader, v)
		}
		result.CooldownRemaining = time.Duration(secs * float64(time.Second))
	}
	return result, nil
}

// GetPolicy fetches the policy the scaler is running with.
func (c *ScalerClient) GetPolicy(ctx context.Context) (policyfile.Document, error) {
	resp, err := c.get(ctx, "/policy", nil)
	if err != nil {
		return policyfile.Document{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return policyfile.Document{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	var doc policyfile.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return policyfile.Document{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return doc, nil
}

func (c *ScalerClient) get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}
