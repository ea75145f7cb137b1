package appdynamics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/perfscope/monitor/config"
)

const (
	defaultTimeout = 30 * time.Second
	maxAttempts    = 3
	retryDelay     = 2 * time.Second
)

// Client talks to an AppDynamics-compatible controller over its REST API.
type Client struct {
	baseURL    string
	authUser   string
	password   string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        logrus.FieldLogger
}

// NewClient creates a controller client from source configuration.
// Controller authentication uses the user@account basic auth form.
func NewClient(cfg *config.AppDynamicsConfig, log logrus.FieldLogger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.ControllerURL, "/"),
		authUser:   fmt.Sprintf("%s@%s", cfg.User, cfg.Account),
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		log:        log.WithField("component", "appdynamics"),
	}
}

// ListApplications returns all applications known to the controller.
func (c *Client) ListApplications(ctx context.Context) ([]Application, error) {
	var apps []Application
	path := "/controller/rest/applications"
	if err := c.getJSON(ctx, path, nil, &apps); err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	return apps, nil
}

// ListTiers returns the tiers of an application.
func (c *Client) ListTiers(ctx context.Context, application string) ([]Tier, error) {
	var tiers []Tier
	path := fmt.Sprintf("/controller/rest/applications/%s/tiers", url.PathEscape(application))
	if err := c.getJSON(ctx, path, nil, &tiers); err != nil {
		return nil, fmt.Errorf("failed to list tiers for %s: %w", application, err)
	}
	return tiers, nil
}

// ListNodes returns the nodes of a tier within an application.
func (c *Client) ListNodes(ctx context.Context, application, tier string) ([]Node, error) {
	var nodes []Node
	path := fmt.Sprintf("/controller/rest/applications/%s/tiers/%s/nodes",
		url.PathEscape(application), url.PathEscape(tier))
	if err := c.getJSON(ctx, path, nil, &nodes); err != nil {
		return nil, fmt.Errorf("failed to list nodes for %s/%s: %w", application, tier, err)
	}
	return nodes, nil
}

// GetMetricData queries the metric-data endpoint for a metric path over
// [start, end). Wildcards in the path are expanded by the controller, so a
// single call can return several series.
func (c *Client) GetMetricData(ctx context.Context, application, metricPath string, start, end time.Time, rollup bool) ([]MetricData, error) {
	params := url.Values{}
	params.Set("metric-path", metricPath)
	params.Set("time-range-type", "BETWEEN_TIMES")
	params.Set("start-time", strconv.FormatInt(start.UnixMilli(), 10))
	params.Set("end-time", strconv.FormatInt(end.UnixMilli(), 10))
	params.Set("rollup", strconv.FormatBool(rollup))

	var data []MetricData
	path := fmt.Sprintf("/controller/rest/applications/%s/metric-data", url.PathEscape(application))
	if err := c.getJSON(ctx, path, params, &data); err != nil {
		return nil, fmt.Errorf("failed to get metric data for %q: %w", metricPath, err)
	}
	return data, nil
}

// getJSON performs a rate-limited GET with bounded retries on transport
// errors and 5xx responses.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("output", "JSON")
	endpoint := c.baseURL + path + "?" + params.Encode()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		body, retryable, err := c.doRequest(ctx, endpoint)
		if err == nil {
			return json.Unmarshal(body, out)
		}
		lastErr = err
		if !retryable {
			return err
		}

		c.log.WithError(err).WithFields(logrus.Fields{
			"path":    path,
			"attempt": attempt,
		}).Warn("Controller request failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
	}

	return fmt.Errorf("controller request failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) doRequest(ctx context.Context, endpoint string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.authUser, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("controller returned %d: %s", resp.StatusCode, truncate(body, 200))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("controller returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	return body, false, nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
