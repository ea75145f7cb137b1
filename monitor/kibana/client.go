package kibana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/perfscope/monitor/config"
)

const defaultTimeout = 30 * time.Second

// Client issues _search queries against an Elasticsearch-compatible
// log-analytics backend, either directly or through a Kibana proxy.
type Client struct {
	baseURL    string
	index      string
	username   string
	password   string
	httpClient *http.Client
	log        logrus.FieldLogger
}

// NewClient creates a search client from source configuration.
func NewClient(cfg *config.KibanaConfig, log logrus.FieldLogger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		index:      cfg.Index,
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        log.WithField("component", "kibana"),
	}
}

// CountErrors counts documents matching the query string within the window.
func (c *Client) CountErrors(ctx context.Context, query string, start, end time.Time) (int64, error) {
	body := map[string]interface{}{
		"size":             0,
		"track_total_hits": true,
		"query":            windowedQuery(query, start, end),
	}

	resp, err := c.search(ctx, body)
	if err != nil {
		return 0, fmt.Errorf("error count query failed: %w", err)
	}
	return resp.Hits.Total.Value, nil
}

// GetResponseTimeStats aggregates the response-time field over documents
// matching the query string within the window.
func (c *Client) GetResponseTimeStats(ctx context.Context, field, query string, start, end time.Time) (*ResponseTimeStats, error) {
	body := map[string]interface{}{
		"size":  0,
		"query": windowedQuery(query, start, end),
		"aggs": map[string]interface{}{
			"rt_stats": map[string]interface{}{
				"stats": map[string]interface{}{"field": field},
			},
			"rt_percentiles": map[string]interface{}{
				"percentiles": map[string]interface{}{
					"field":    field,
					"percents": []float64{50, 95, 99},
				},
			},
		},
	}

	resp, err := c.search(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("response time query failed: %w", err)
	}

	var stats StatsAggregation
	if raw, ok := resp.Aggregations["rt_stats"]; ok {
		if err := json.Unmarshal(raw, &stats); err != nil {
			return nil, fmt.Errorf("failed to parse stats aggregation: %w", err)
		}
	}

	var pct PercentilesAggregation
	if raw, ok := resp.Aggregations["rt_percentiles"]; ok {
		if err := json.Unmarshal(raw, &pct); err != nil {
			return nil, fmt.Errorf("failed to parse percentiles aggregation: %w", err)
		}
	}

	return &ResponseTimeStats{
		Count: stats.Count,
		Avg:   stats.Avg,
		Max:   stats.Max,
		P50:   pct.Values["50.0"],
		P95:   pct.Values["95.0"],
		P99:   pct.Values["99.0"],
	}, nil
}

// EndpointStats aggregates the response-time field per endpoint value over
// documents matching the query string within the window.
func (c *Client) EndpointStats(ctx context.Context, endpointField, responseTimeField, query string, start, end time.Time, size int) ([]EndpointBucket, error) {
	if size <= 0 {
		size = 20
	}

	body := map[string]interface{}{
		"size":  0,
		"query": windowedQuery(query, start, end),
		"aggs": map[string]interface{}{
			"endpoints": map[string]interface{}{
				"terms": map[string]interface{}{
					"field": endpointField + ".keyword",
					"size":  size,
				},
				"aggs": map[string]interface{}{
					"rt_avg": map[string]interface{}{
						"avg": map[string]interface{}{"field": responseTimeField},
					},
					"rt_max": map[string]interface{}{
						"max": map[string]interface{}{"field": responseTimeField},
					},
					"rt_p95": map[string]interface{}{
						"percentiles": map[string]interface{}{
							"field":    responseTimeField,
							"percents": []float64{95},
						},
					},
				},
			},
		},
	}

	resp, err := c.search(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("endpoint stats query failed: %w", err)
	}

	var agg endpointsAggregation
	if raw, ok := resp.Aggregations["endpoints"]; ok {
		if err := json.Unmarshal(raw, &agg); err != nil {
			return nil, fmt.Errorf("failed to parse endpoints aggregation: %w", err)
		}
	}

	buckets := make([]EndpointBucket, 0, len(agg.Buckets))
	for _, b := range agg.Buckets {
		buckets = append(buckets, EndpointBucket{
			Endpoint: b.Key,
			Count:    b.DocCount,
			Avg:      b.RTAvg.Value,
			P95:      b.RTP95.Values["95.0"],
			Max:      b.RTMax.Value,
		})
	}
	return buckets, nil
}

// TopErrorMessages returns the most frequent values of the message field
// among documents matching the query string within the window.
func (c *Client) TopErrorMessages(ctx context.Context, field, query string, start, end time.Time, size int) ([]TermsBucket, error) {
	if size <= 0 {
		size = 10
	}

	body := map[string]interface{}{
		"size":  0,
		"query": windowedQuery(query, start, end),
		"aggs": map[string]interface{}{
			"messages": map[string]interface{}{
				"terms": map[string]interface{}{
					"field": field + ".keyword",
					"size":  size,
				},
			},
		},
	}

	resp, err := c.search(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("top errors query failed: %w", err)
	}

	var terms TermsAggregation
	if raw, ok := resp.Aggregations["messages"]; ok {
		if err := json.Unmarshal(raw, &terms); err != nil {
			return nil, fmt.Errorf("failed to parse terms aggregation: %w", err)
		}
	}
	return terms.Buckets, nil
}

// search executes one _search request against the configured index.
func (c *Client) search(ctx context.Context, body map[string]interface{}) (*SearchResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/_search", c.baseURL, url.PathEscape(c.index))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var sr SearchResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	if len(sr.Error) > 0 {
		return nil, fmt.Errorf("search error: %s", truncate(sr.Error, 200))
	}
	if sr.TimedOut {
		c.log.Warn("Search timed out on the backend, results may be partial")
	}

	return &sr, nil
}

// windowedQuery combines a query string with a half-open @timestamp range.
func windowedQuery(query string, start, end time.Time) map[string]interface{} {
	filters := []interface{}{
		map[string]interface{}{
			"range": map[string]interface{}{
				"@timestamp": map[string]interface{}{
					"gte": start.UTC().Format(time.RFC3339),
					"lt":  end.UTC().Format(time.RFC3339),
				},
			},
		},
	}
	if query != "" {
		filters = append(filters, map[string]interface{}{
			"query_string": map[string]interface{}{"query": query},
		})
	}
	return map[string]interface{}{
		"bool": map[string]interface{}{"filter": filters},
	}
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
