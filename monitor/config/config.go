package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MonitorConfig is the top-level configuration for one monitored test run.
type MonitorConfig struct {
	TestName     string   `yaml:"test_name"`
	Description  string   `yaml:"description"`
	Environment  string   `yaml:"environment"`
	TargetURL    string   `yaml:"target_url"`
	VirtualUsers int      `yaml:"virtual_users"`
	TargetRPS    int      `yaml:"target_rps"`
	Duration     string   `yaml:"duration"`
	Interval     string   `yaml:"interval"`
	Tags         []string `yaml:"tags"`
	// DegradedThreshold is the number of consecutive failed polls after
	// which a source is marked degraded for the rest of the run.
	DegradedThreshold int `yaml:"degraded_threshold"`

	Sources SourcesConfig `yaml:"sources"`
}

// SourcesConfig groups the configuration of every metric source.
type SourcesConfig struct {
	AppDynamics AppDynamicsConfig `yaml:"appdynamics"`
	Kibana      KibanaConfig      `yaml:"kibana"`
	Prometheus  PrometheusConfig  `yaml:"prometheus"`
	Host        HostConfig        `yaml:"host"`
}

// AppDynamicsConfig configures the APM controller source.
type AppDynamicsConfig struct {
	Enabled         bool     `yaml:"enabled"`
	ControllerURL   string   `yaml:"controller_url"`
	Account         string   `yaml:"account"`
	User            string   `yaml:"user"`
	Password        string   `yaml:"password"`
	Application     string   `yaml:"application"`
	Tiers           []string `yaml:"tiers"`
	Rollup          bool     `yaml:"rollup"`
	RequestsPerSec  float64  `yaml:"requests_per_second"`
	CollectJVM      bool     `yaml:"collect_jvm"`
	CollectHardware bool     `yaml:"collect_hardware"`
}

// KibanaConfig configures the log-analytics search source. ErrorQuery scopes
// the error count, ResponseTimeQuery scopes the response-time aggregations,
// and a non-empty EndpointField switches the source to per-endpoint rows.
type KibanaConfig struct {
	Enabled           bool   `yaml:"enabled"`
	URL               string `yaml:"url"`
	Index             string `yaml:"index"`
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	ErrorQuery        string `yaml:"error_query"`
	ResponseTimeQuery string `yaml:"response_time_query"`
	ResponseTimeField string `yaml:"response_time_field"`
	MessageField      string `yaml:"message_field"`
	EndpointField     string `yaml:"endpoint_field"`
}

// PrometheusQuery is one instant query mapped into metric rows.
type PrometheusQuery struct {
	Name  string `yaml:"name"`
	Query string `yaml:"query"`
	// Kind selects the target table: "application" or "api".
	Kind string `yaml:"kind"`
	// Metric selects the column the query value feeds: calls_per_min,
	// avg_response_ms, errors_per_min, or (api only) p95_response_ms.
	Metric string `yaml:"metric"`
}

// PrometheusConfig configures the optional Prometheus source.
type PrometheusConfig struct {
	Enabled  bool              `yaml:"enabled"`
	URL      string            `yaml:"url"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Queries  []PrometheusQuery `yaml:"queries"`
}

// HostConfig enables local host sampling for machines without an APM agent.
type HostConfig struct {
	Enabled bool   `yaml:"enabled"`
	Tier    string `yaml:"tier"`
}

// DefaultMonitorConfig returns a monitor configuration with defaults applied.
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		Environment:       "staging",
		Duration:          "30m",
		Interval:          "30s",
		DegradedThreshold: 5,
		Sources: SourcesConfig{
			AppDynamics: AppDynamicsConfig{
				Rollup:          true,
				RequestsPerSec:  5,
				CollectJVM:      true,
				CollectHardware: true,
			},
			Kibana: KibanaConfig{
				ErrorQuery:        "level:ERROR",
				ResponseTimeField: "response_time_ms",
				MessageField:      "message",
			},
			Host: HostConfig{Tier: "local"},
		},
	}
}

// LoadMonitorConfig loads a monitor configuration from a YAML file,
// substituting environment variable references before parsing.
func LoadMonitorConfig(path string) (*MonitorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read monitor config file: %w", err)
	}

	substituted, err := SubstituteEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to substitute environment variables: %w", err)
	}

	cfg := DefaultMonitorConfig()
	if err := yaml.Unmarshal([]byte(substituted), cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal monitor config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid monitor configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for completeness and consistency.
func (c *MonitorConfig) Validate() error {
	if c.TestName == "" {
		return fmt.Errorf("test_name is required")
	}

	if _, err := time.ParseDuration(c.Interval); err != nil {
		return fmt.Errorf("invalid interval %q: %w", c.Interval, err)
	}
	if c.Duration != "" {
		if _, err := time.ParseDuration(c.Duration); err != nil {
			return fmt.Errorf("invalid duration %q: %w", c.Duration, err)
		}
	}

	if c.DegradedThreshold <= 0 {
		return fmt.Errorf("degraded_threshold must be greater than 0")
	}

	if !c.Sources.AppDynamics.Enabled && !c.Sources.Kibana.Enabled &&
		!c.Sources.Prometheus.Enabled && !c.Sources.Host.Enabled {
		return fmt.Errorf("at least one metric source must be enabled")
	}

	if c.Sources.AppDynamics.Enabled {
		if err := c.Sources.AppDynamics.Validate(); err != nil {
			return fmt.Errorf("invalid appdynamics configuration: %w", err)
		}
	}
	if c.Sources.Kibana.Enabled {
		if err := c.Sources.Kibana.Validate(); err != nil {
			return fmt.Errorf("invalid kibana configuration: %w", err)
		}
	}
	if c.Sources.Prometheus.Enabled {
		if err := c.Sources.Prometheus.Validate(); err != nil {
			return fmt.Errorf("invalid prometheus configuration: %w", err)
		}
	}

	return nil
}

// CollectionInterval returns the parsed collection interval. Validate must
// have succeeded first.
func (c *MonitorConfig) CollectionInterval() time.Duration {
	d, err := time.ParseDuration(c.Interval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// RunDuration returns the parsed run duration, or zero when the run should
// continue until cancelled.
func (c *MonitorConfig) RunDuration() time.Duration {
	if c.Duration == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Duration)
	if err != nil {
		return 0
	}
	return d
}

// Validate checks the AppDynamics source configuration.
func (c *AppDynamicsConfig) Validate() error {
	if c.ControllerURL == "" {
		return fmt.Errorf("controller_url is required")
	}
	if _, err := url.Parse(c.ControllerURL); err != nil {
		return fmt.Errorf("invalid controller_url: %w", err)
	}
	if c.Account == "" {
		return fmt.Errorf("account is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Application == "" {
		return fmt.Errorf("application is required")
	}
	if c.RequestsPerSec <= 0 {
		return fmt.Errorf("requests_per_second must be greater than 0")
	}
	return nil
}

// Validate checks the Kibana source configuration.
func (c *KibanaConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	if c.Index == "" {
		return fmt.Errorf("index is required")
	}
	if c.ResponseTimeField == "" {
		return fmt.Errorf("response_time_field is required")
	}
	return nil
}

// Validate checks the Prometheus source configuration.
func (c *PrometheusConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	if len(c.Queries) == 0 {
		return fmt.Errorf("at least one query is required")
	}
	for i, q := range c.Queries {
		if q.Name == "" {
			return fmt.Errorf("query %d: name is required", i)
		}
		if q.Query == "" {
			return fmt.Errorf("query %q: query expression is required", q.Name)
		}
		if q.Kind != "application" && q.Kind != "api" {
			return fmt.Errorf("query %q: kind must be \"application\" or \"api\"", q.Name)
		}
		switch q.Metric {
		case "calls_per_min", "avg_response_ms", "errors_per_min":
		case "p95_response_ms":
			if q.Kind != "api" {
				return fmt.Errorf("query %q: p95_response_ms requires kind \"api\"", q.Name)
			}
		default:
			return fmt.Errorf("query %q: unknown metric %q", q.Name, q.Metric)
		}
	}
	return nil
}
