package geotab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fleet-etl/pkg/config"
	"github.com/sirupsen/logrus"
)

// Client is a JSON-RPC client for the MyGeotab-style vehicle tracking API.
// It authenticates lazily, caches session credentials and re-authenticates
// once when the server reports an expired session.
type Client struct {
	httpClient *http.Client
	cfg        *config.GeotabConfig
	logger     *logrus.Entry

	mu          sync.Mutex
	endpoint    string
	credentials *Credentials
	lastCall    time.Time
}

// APIError is a structured error returned by the remote API
type APIError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Errors  []struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("geotab API error: %s: %s", e.Errors[0].Name, e.Errors[0].Message)
	}
	return fmt.Sprintf("geotab API error: %s", e.Message)
}

// sessionExpired reports whether the error means the cached session is no longer valid
func (e *APIError) sessionExpired() bool {
	for _, inner := range e.Errors {
		if inner.Name == "InvalidUserException" || inner.Name == "SessionExpiredException" {
			return true
		}
	}
	return false
}

// NewClient creates a new API client
func NewClient(cfg *config.GeotabConfig, logger *logrus.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cfg:      cfg,
		endpoint: strings.TrimRight(cfg.Server, "/") + "/apiv1",
		logger:   logger.WithField("component", "geotab"),
	}
}

// Authenticate establishes a session with the remote API
func (c *Client) Authenticate(ctx context.Context) error {
	var result struct {
		Credentials Credentials `json:"credentials"`
		Path        string      `json:"path"`
	}

	err := c.call(ctx, "Authenticate", map[string]interface{}{
		"database": c.cfg.Database,
		"userName": c.cfg.Username,
		"password": c.cfg.Password,
	}, &result)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	c.mu.Lock()
	c.credentials = &result.Credentials
	// The server may redirect the session to another federation node
	if result.Path != "" && result.Path != "ThisServer" {
		c.endpoint = "https://" + strings.TrimRight(result.Path, "/") + "/apiv1"
	}
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"database": result.Credentials.Database,
		"user":     result.Credentials.UserName,
	}).Debug("Authenticated")

	return nil
}

// GetTrips fetches trips with an end time at or after from, up to limit records.
// The server returning fewer than limit records signals exhaustion.
func (c *Client) GetTrips(ctx context.Context, from time.Time, limit int) ([]Trip, error) {
	raws, err := c.get(ctx, "Trip", searchFrom(from), limit)
	if err != nil {
		return nil, err
	}

	trips := make([]Trip, 0, len(raws))
	for _, raw := range raws {
		var t Trip
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("failed to decode trip: %w", err)
		}
		t.Raw = raw
		trips = append(trips, t)
	}
	return trips, nil
}

// GetFaults fetches fault-data events recorded at or after from
func (c *Client) GetFaults(ctx context.Context, from time.Time, limit int) ([]Fault, error) {
	raws, err := c.get(ctx, "FaultData", searchFrom(from), limit)
	if err != nil {
		return nil, err
	}

	faults := make([]Fault, 0, len(raws))
	for _, raw := range raws {
		var f Fault
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("failed to decode fault: %w", err)
		}
		f.Raw = raw
		faults = append(faults, f)
	}
	return faults, nil
}

// GetDevices fetches all devices
func (c *Client) GetDevices(ctx context.Context, limit int) ([]Device, error) {
	raws, err := c.get(ctx, "Device", nil, limit)
	if err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(raws))
	for _, raw := range raws {
		var d Device
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("failed to decode device: %w", err)
		}
		d.Raw = raw
		devices = append(devices, d)
	}
	return devices, nil
}

// GetUsers fetches all users
func (c *Client) GetUsers(ctx context.Context, limit int) ([]User, error) {
	raws, err := c.get(ctx, "User", nil, limit)
	if err != nil {
		return nil, err
	}

	users := make([]User, 0, len(raws))
	for _, raw := range raws {
		var u User
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, fmt.Errorf("failed to decode user: %w", err)
		}
		u.Raw = raw
		users = append(users, u)
	}
	return users, nil
}

// GetZones fetches all zones
func (c *Client) GetZones(ctx context.Context) ([]Zone, error) {
	raws, err := c.get(ctx, "Zone", nil, 0)
	if err != nil {
		return nil, err
	}

	zones := make([]Zone, 0, len(raws))
	for _, raw := range raws {
		var z Zone
		if err := json.Unmarshal(raw, &z); err != nil {
			return nil, fmt.Errorf("failed to decode zone: %w", err)
		}
		z.Raw = raw
		zones = append(zones, z)
	}
	return zones, nil
}

// GetRules fetches all exception rules
func (c *Client) GetRules(ctx context.Context) ([]Rule, error) {
	raws, err := c.get(ctx, "Rule", nil, 0)
	if err != nil {
		return nil, err
	}

	rules := make([]Rule, 0, len(raws))
	for _, raw := range raws {
		var r Rule
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("failed to decode rule: %w", err)
		}
		r.Raw = raw
		rules = append(rules, r)
	}
	return rules, nil
}

// searchFrom builds the fromDate search filter
func searchFrom(from time.Time) map[string]interface{} {
	return map[string]interface{}{
		"fromDate": from.UTC().Format(time.RFC3339),
	}
}

// get performs a credentialed Get call, authenticating on first use and
// retrying once after re-authentication when the session has expired
func (c *Client) get(ctx context.Context, typeName string, search map[string]interface{}, limit int) ([]json.RawMessage, error) {
	c.mu.Lock()
	creds := c.credentials
	c.mu.Unlock()

	if creds == nil {
		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
	}

	raws, err := c.doGet(ctx, typeName, search, limit)

	if apiErr, ok := err.(*APIError); ok && apiErr.sessionExpired() {
		c.logger.Debug("Session expired, re-authenticating")
		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
		raws, err = c.doGet(ctx, typeName, search, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("Get %s failed: %w", typeName, err)
	}

	c.logger.WithFields(logrus.Fields{
		"typeName": typeName,
		"count":    len(raws),
	}).Debug("Fetched records")

	return raws, nil
}

func (c *Client) doGet(ctx context.Context, typeName string, search map[string]interface{}, limit int) ([]json.RawMessage, error) {
	c.mu.Lock()
	creds := c.credentials
	c.mu.Unlock()

	params := map[string]interface{}{
		"typeName":    typeName,
		"credentials": creds,
	}
	if search != nil {
		params["search"] = search
	}
	if limit > 0 {
		params["resultsLimit"] = limit
	}

	var result []json.RawMessage
	if err := c.call(ctx, "Get", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// call performs one JSON-RPC request against the API endpoint
func (c *Client) call(ctx context.Context, method string, params map[string]interface{}, out interface{}) error {
	c.enforceRateLimit()

	body, err := json.Marshal(map[string]interface{}{
		"method": method,
		"params": params,
	})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	c.mu.Lock()
	endpoint := c.endpoint
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: status=%d, body=%s", resp.StatusCode, string(respBody))
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *APIError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if envelope.Error != nil {
		return envelope.Error
	}

	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}

	return nil
}

// enforceRateLimit spaces out calls to stay under the API rate limit
func (c *Client) enforceRateLimit() {
	if c.cfg.RateLimit <= 0 {
		return
	}

	c.mu.Lock()
	elapsed := time.Since(c.lastCall)
	wait := c.cfg.RateLimit - elapsed
	c.lastCall = time.Now().Add(wait)
	c.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}
}
