package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/r-heap47/eipmon/internal/cluster"
	"github.com/r-heap47/eipmon/internal/history"
	"github.com/r-heap47/eipmon/internal/models"
	pkgerrors "github.com/r-heap47/eipmon/internal/pkg/errors"
	"github.com/r-heap47/eipmon/internal/pkg/logger"
	"github.com/r-heap47/eipmon/internal/stats"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = ":8080"
	defaultGRPCAddr        = ":9090"
	defaultShutdownTimeout = 5 * time.Second
	defaultPollInterval    = 30 * time.Second
	defaultFetchTimeout    = 20 * time.Second
	defaultStaleAfter      = 5 * time.Minute
)

// Duration wraps time.Duration to support YAML unmarshalling from strings like "5s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}

	d.Duration = parsed

	return nil
}

// Config is the top-level application configuration.
type Config struct {
	Log        logger.Config    `yaml:"log"`
	HTTP       HTTPConfig       `yaml:"http"`
	GRPC       GRPCConfig       `yaml:"grpc"`
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
	Monitor    MonitorConfig    `yaml:"monitor"`
}

// HTTPConfig holds the metrics and health endpoint settings.
type HTTPConfig struct {
	Addr            string   `yaml:"addr"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// GRPCConfig holds the grpc health endpoint settings.
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// KubernetesConfig holds cluster access settings.
type KubernetesConfig struct {
	// Kubeconfig is optional, in-cluster config is used when empty
	Kubeconfig   string `yaml:"kubeconfig"`
	NodeSelector string `yaml:"node_selector"`
}

// MonitorConfig holds collection timing and scoring settings.
type MonitorConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
	FetchTimeout Duration `yaml:"fetch_timeout"`
	StaleAfter   Duration `yaml:"stale_after"`
	TrendWindow  Duration `yaml:"trend_window"`

	NodeCapacity          int            `yaml:"node_capacity"`
	NodeCapacityOverrides map[string]int `yaml:"node_capacity_overrides"`

	APIHistorySize            int          `yaml:"api_history_size"`
	StabilityPenaltyPerChange float64      `yaml:"stability_penalty_per_change"`
	Health                    HealthConfig `yaml:"health"`
}

// HealthConfig holds the health score weights. Defaults apply only when the whole section is omitted.
type HealthConfig struct {
	SaturationThresholdPercent float64 `yaml:"saturation_threshold_percent"`
	SaturationMaxPenalty       float64 `yaml:"saturation_max_penalty"`
	CPICErrorPenalty           float64 `yaml:"cpic_error_penalty"`
	CPICErrorPenaltyCap        float64 `yaml:"cpic_error_penalty_cap"`
	NodeErrorPenalty           float64 `yaml:"node_error_penalty"`
	NodeErrorPenaltyCap        float64 `yaml:"node_error_penalty_cap"`
}

// LookupFunc - environment lookup, os.LookupEnv in production
type LookupFunc func(key string) (string, bool)

// Default returns configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()

	return cfg
}

// Load reads the YAML config file at the given path, applies defaults and
// environment overrides and validates the result. An empty path means defaults only.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment
func LoadWithEnv(path string, lookup LookupFunc) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path) // nolint: gosec
		if err != nil {
			return nil, fmt.Errorf("os.ReadFile: %w", err)
		}

		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%w: yaml.Unmarshal: %w", pkgerrors.ErrConfig, err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, fmt.Errorf("%w: %w", pkgerrors.ErrConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = zerolog.InfoLevel.String()
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = defaultHTTPAddr
	}
	if c.HTTP.ShutdownTimeout.Duration == 0 {
		c.HTTP.ShutdownTimeout.Duration = defaultShutdownTimeout
	}

	if c.GRPC.Addr == "" {
		c.GRPC.Addr = defaultGRPCAddr
	}

	if c.Kubernetes.NodeSelector == "" {
		c.Kubernetes.NodeSelector = cluster.DefaultNodeSelector
	}

	m := &c.Monitor
	if m.PollInterval.Duration == 0 {
		m.PollInterval.Duration = defaultPollInterval
	}
	if m.FetchTimeout.Duration == 0 {
		m.FetchTimeout.Duration = defaultFetchTimeout
	}
	if m.StaleAfter.Duration == 0 {
		m.StaleAfter.Duration = defaultStaleAfter
	}
	if m.TrendWindow.Duration == 0 {
		m.TrendWindow.Duration = stats.DefaultTrendWindow
	}
	if m.NodeCapacity == 0 {
		m.NodeCapacity = models.DefaultNodeCapacity
	}
	if m.APIHistorySize == 0 {
		m.APIHistorySize = history.DefaultAPIHistorySize
	}
	if m.StabilityPenaltyPerChange == 0 {
		m.StabilityPenaltyPerChange = stats.DefaultStabilityPenaltyPerChange
	}
	if m.Health == (HealthConfig{}) {
		m.Health = HealthConfig(stats.DefaultHealthPolicy())
	}
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	errs := &configErrors{}

	if v, ok := lookup("SCRAPE_INTERVAL"); ok && v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			errs.add(fmt.Errorf("SCRAPE_INTERVAL: %w", err))
		} else {
			c.Monitor.PollInterval.Duration = time.Duration(seconds) * time.Second
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs.add(fmt.Errorf("PORT: %w", err))
		} else {
			c.HTTP.Addr = ":" + strconv.Itoa(port)
		}
	}

	if v, ok := lookup("NODE_CAPACITY"); ok && v != "" {
		capacity, err := strconv.Atoi(v)
		if err != nil {
			errs.add(fmt.Errorf("NODE_CAPACITY: %w", err))
		} else {
			c.Monitor.NodeCapacity = capacity
		}
	}

	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = strings.ToLower(v)
	}

	if v, ok := lookup("KUBECONFIG"); ok && v != "" && c.Kubernetes.Kubeconfig == "" {
		c.Kubernetes.Kubeconfig = v
	}

	if errs.hasErrors() {
		return errs
	}

	return nil
}

// Validate reports every violation at once, wrapped into errors.ErrConfig
func (c *Config) Validate() error {
	errs := &configErrors{}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs.add(fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Output != "stdout" && c.Log.Output != "stderr" {
		errs.add(fmt.Errorf("log.output must be stdout or stderr, got %q", c.Log.Output))
	}

	if c.HTTP.Addr == "" {
		errs.add(errors.New("http.addr is required"))
	}
	if c.HTTP.ShutdownTimeout.Duration < 0 {
		errs.add(errors.New("http.shutdown_timeout must not be negative"))
	}

	m := c.Monitor
	if m.PollInterval.Duration <= 0 {
		errs.add(errors.New("monitor.poll_interval must be positive"))
	}
	if m.FetchTimeout.Duration <= 0 {
		errs.add(errors.New("monitor.fetch_timeout must be positive"))
	}
	if m.StaleAfter.Duration < m.PollInterval.Duration {
		errs.add(fmt.Errorf("monitor.stale_after (%s) must not be shorter than monitor.poll_interval (%s)", m.StaleAfter, m.PollInterval))
	}
	if m.TrendWindow.Duration <= 0 {
		errs.add(errors.New("monitor.trend_window must be positive"))
	}
	if m.NodeCapacity <= 0 {
		errs.add(errors.New("monitor.node_capacity must be positive"))
	}
	for node, capacity := range m.NodeCapacityOverrides {
		if capacity <= 0 {
			errs.add(fmt.Errorf("monitor.node_capacity_overrides[%s] must be positive", node))
		}
	}
	if m.APIHistorySize <= 0 {
		errs.add(errors.New("monitor.api_history_size must be positive"))
	}
	if m.StabilityPenaltyPerChange < 0 {
		errs.add(errors.New("monitor.stability_penalty_per_change must not be negative"))
	}

	h := m.Health
	if h.SaturationThresholdPercent <= 0 || h.SaturationThresholdPercent > 100 {
		errs.add(errors.New("monitor.health.saturation_threshold_percent must be in (0, 100]"))
	}
	for _, p := range []struct {
		name  string
		value float64
	}{
		{"saturation_max_penalty", h.SaturationMaxPenalty},
		{"cpic_error_penalty", h.CPICErrorPenalty},
		{"cpic_error_penalty_cap", h.CPICErrorPenaltyCap},
		{"node_error_penalty", h.NodeErrorPenalty},
		{"node_error_penalty_cap", h.NodeErrorPenaltyCap},
	} {
		if p.value < 0 || p.value > 100 {
			errs.add(fmt.Errorf("monitor.health.%s must be in [0, 100]", p.name))
		}
	}

	if errs.hasErrors() {
		return fmt.Errorf("%w: %w", pkgerrors.ErrConfig, errs)
	}

	return nil
}

// Policy returns the snapshot computation tunables
func (c *Config) Policy() stats.Policy {
	return stats.Policy{
		Capacity: models.CapacityPolicy{
			Default:   c.Monitor.NodeCapacity,
			Overrides: c.Monitor.NodeCapacityOverrides,
		},
		TrendWindow:               c.Monitor.TrendWindow.Duration,
		StabilityPenaltyPerChange: c.Monitor.StabilityPenaltyPerChange,
		Health:                    stats.HealthPolicy(c.Monitor.Health),
	}
}

// configErrors aggregates multiple configuration errors
type configErrors struct {
	errors []error
}

func (ce *configErrors) add(err error) {
	if err != nil {
		ce.errors = append(ce.errors, err)
	}
}

func (ce *configErrors) hasErrors() bool {
	return len(ce.errors) > 0
}

func (ce *configErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration errors:")
	for _, err := range ce.errors {
		sb.WriteString("\n  - ")
		sb.WriteString(err.Error())
	}

	return sb.String()
}

func (ce *configErrors) Unwrap() []error {
	return ce.errors
}
