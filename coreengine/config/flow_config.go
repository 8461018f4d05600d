// Package config provides the liveness flow configuration.
//
// Configuration is resolved in three layers:
//   - DefaultFlowConfig
//   - an optional YAML file (${VAR} references are expanded)
//   - LIVENESS_* environment variables
//
// The result is checked with Validate before use.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeeves-cluster-organization/livenessflow/commbus"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/liveness"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/localizer"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/watchdog"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "LIVENESS_"

// FlowConfig holds the settings of the liveness relay and its runs.
type FlowConfig struct {
	// Backend. DefaultRegion is the session region when the backend
	// returns none.
	BackendURL     string        `yaml:"backend_url" json:"backend_url"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	DefaultRegion  string        `yaml:"default_region" json:"default_region"`

	// Identity. IdentityPoolParameter names an SSM parameter holding the
	// pool id. It is read in the session region on the first run, and only
	// when IdentityPoolID is empty.
	IdentityPoolID        string `yaml:"identity_pool_id" json:"identity_pool_id"`
	IdentityPoolParameter string `yaml:"identity_pool_parameter" json:"identity_pool_parameter"`

	// Watchdogs
	InactivityDelay time.Duration `yaml:"inactivity_delay" json:"inactivity_delay"`
	CountdownBudget int           `yaml:"countdown_budget" json:"countdown_budget"`
	Tick            time.Duration `yaml:"tick" json:"tick"`

	// Localization
	Locale string             `yaml:"locale" json:"locale"`
	Rules  []localizer.Phrase `yaml:"rules" json:"rules,omitempty"`

	// Parent bridge
	AllowedOrigins []string      `yaml:"allowed_origins" json:"allowed_origins"`
	InitRate       float64       `yaml:"init_rate" json:"init_rate"`
	InitBurst      int           `yaml:"init_burst" json:"init_burst"`
	InitTimeout    time.Duration `yaml:"init_timeout" json:"init_timeout"`

	// Relay
	ListenAddr      string        `yaml:"listen_addr" json:"listen_addr"`
	RunRetention    time.Duration `yaml:"run_retention" json:"run_retention"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`

	// Observability
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	LogLevel     string `yaml:"log_level" json:"log_level"`
}

// DefaultFlowConfig returns a FlowConfig with default values.
func DefaultFlowConfig() *FlowConfig {
	return &FlowConfig{
		BackendURL:     "http://localhost:3000",
		RequestTimeout: 15 * time.Second,
		DefaultRegion:  liveness.DefaultRegion,

		InactivityDelay: watchdog.DefaultInactivityDelay,
		CountdownBudget: watchdog.DefaultCountdownBudget,
		Tick:            watchdog.DefaultTick,

		Locale: "es",

		InitRate:    5,
		InitBurst:   10,
		InitTimeout: commbus.DefaultQueryTimeout,

		ListenAddr:      ":8080",
		RunRetention:    10 * time.Minute,
		CleanupInterval: time.Minute,

		LogLevel: "info",
	}
}

// Load reads a YAML file over the defaults. A missing file yields the
// defaults unchanged; an empty path skips the file entirely.
func Load(path string) (*FlowConfig, error) {
	cfg := DefaultFlowConfig()
	if path == "" {
		return cfg, nil
	}

	// #nosec G304 -- path comes from the command line
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(expandEnvVars(string(data)))
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// LookupFunc reads an environment variable.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from LIVENESS_* variables read through lookup
// (os.LookupEnv when nil). Unset variables leave fields untouched.
func (c *FlowConfig) ApplyEnv(lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	var errs []string
	str := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}

	str("BACKEND_URL", &c.BackendURL)
	dur("REQUEST_TIMEOUT", &c.RequestTimeout)
	str("REGION", &c.DefaultRegion)
	str("IDENTITY_POOL_ID", &c.IdentityPoolID)
	str("IDENTITY_POOL_PARAMETER", &c.IdentityPoolParameter)
	dur("INACTIVITY_DELAY", &c.InactivityDelay)
	integer("COUNTDOWN_BUDGET", &c.CountdownBudget)
	dur("TICK", &c.Tick)
	str("LOCALE", &c.Locale)
	if v, ok := get("ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(v)
	}
	if v, ok := get("INIT_RATE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%sINIT_RATE: %v", EnvPrefix, err))
		} else {
			c.InitRate = f
		}
	}
	integer("INIT_BURST", &c.InitBurst)
	dur("INIT_TIMEOUT", &c.InitTimeout)
	str("LISTEN_ADDR", &c.ListenAddr)
	dur("RUN_RETENTION", &c.RunRetention)
	dur("CLEANUP_INTERVAL", &c.CleanupInterval)
	str("OTLP_ENDPOINT", &c.OTLPEndpoint)
	str("LOG_LEVEL", &c.LogLevel)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the configuration.
func (c *FlowConfig) Validate() error {
	var errs []string

	if strings.TrimSpace(c.BackendURL) == "" {
		errs = append(errs, "backend_url is required")
	} else if !strings.HasPrefix(c.BackendURL, "http://") && !strings.HasPrefix(c.BackendURL, "https://") {
		errs = append(errs, "backend_url must be an http(s) URL")
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, "request_timeout must be positive")
	}
	if c.InactivityDelay <= 0 {
		errs = append(errs, "inactivity_delay must be positive")
	}
	if c.CountdownBudget < 1 {
		errs = append(errs, "countdown_budget must be at least 1")
	}
	if c.Tick <= 0 {
		errs = append(errs, "tick must be positive")
	}
	if c.InitRate < 0 {
		errs = append(errs, "init_rate must not be negative")
	}
	if c.InitRate > 0 && c.InitBurst < 1 {
		errs = append(errs, "init_burst must be at least 1 when init_rate is set")
	}
	if c.RunRetention <= 0 {
		errs = append(errs, "run_retention must be positive")
	}
	if c.CleanupInterval <= 0 {
		errs = append(errs, "cleanup_interval must be positive")
	}
	for i, p := range c.Rules {
		if _, err := p.Compile(); err != nil {
			errs = append(errs, fmt.Sprintf("rules[%d]: %v", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// LocalizerRules returns the compiled rules for the configured locale,
// configured phrases first.
func (c *FlowConfig) LocalizerRules() ([]localizer.Rule, error) {
	return localizer.RulesFor(c.Locale, c.Rules)
}

// GatewayConfig returns the inbound bridge settings.
func (c *FlowConfig) GatewayConfig() commbus.GatewayConfig {
	return commbus.GatewayConfig{
		AllowedOrigins: c.AllowedOrigins,
		RatePerSecond:  c.InitRate,
		Burst:          c.InitBurst,
		Timeout:        c.InitTimeout,
	}
}

// ToMap converts config to a map for logging.
func (c *FlowConfig) ToMap() map[string]any {
	return map[string]any{
		"backend_url":             c.BackendURL,
		"request_timeout":         c.RequestTimeout.String(),
		"default_region":          c.DefaultRegion,
		"identity_pool_id":        c.IdentityPoolID,
		"identity_pool_parameter": c.IdentityPoolParameter,
		"inactivity_delay":        c.InactivityDelay.String(),
		"countdown_budget":        c.CountdownBudget,
		"tick":                    c.Tick.String(),
		"locale":                  c.Locale,
		"rules":                   len(c.Rules),
		"allowed_origins":         c.AllowedOrigins,
		"init_rate":               c.InitRate,
		"init_burst":              c.InitBurst,
		"init_timeout":            c.InitTimeout.String(),
		"listen_addr":             c.ListenAddr,
		"run_retention":           c.RunRetention.String(),
		"cleanup_interval":        c.CleanupInterval.String(),
		"otlp_endpoint":           c.OTLPEndpoint,
		"log_level":               c.LogLevel,
	}
}
