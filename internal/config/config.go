// Package config loads the warpreq YAML configuration and turns it into the
// settings of the request manager, the retry layer and the HTTP transport.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/warpdl/warpreq/common"
	"github.com/warpdl/warpreq/pkg/logger"
	"github.com/warpdl/warpreq/pkg/reqlib"
	"github.com/warpdl/warpreq/pkg/retry"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Manager   ManagerConfig   `yaml:"manager"`
	Retry     RetryConfig     `yaml:"retry"`
	Transport TransportConfig `yaml:"transport"`
	History   HistoryConfig   `yaml:"history"`
	Log       LogConfig       `yaml:"log"`
}

type ManagerConfig struct {
	MaxConcurrentRequests  int           `yaml:"max_concurrent_requests"`
	AllowConcurrencyGrowth bool          `yaml:"allow_concurrency_growth"`
	Cooperative            bool          `yaml:"cooperative"` // no worker goroutine; the host calls Tick
	ActiveSleep            time.Duration `yaml:"active_sleep"`
	IdleSleep              time.Duration `yaml:"idle_sleep"`
	FlushSleep             time.Duration `yaml:"flush_sleep"`
	StartRate              float64       `yaml:"start_rate"` // attempts started per second, 0 is unlimited
	StartBurst             int           `yaml:"start_burst"`
	Flush                  FlushProfiles `yaml:"flush"`
}

type FlushProfiles struct {
	Default   FlushLimits `yaml:"default"`
	Shutdown  FlushLimits `yaml:"shutdown"`
	FullFlush FlushLimits `yaml:"full_flush"`
}

// FlushLimits are soft and hard budgets; negative values are unbounded.
type FlushLimits struct {
	Soft time.Duration `yaml:"soft"`
	Hard time.Duration `yaml:"hard"`
}

type RetryConfig struct {
	MaxRetries                   *int          `yaml:"max_retries"`
	MaxRetriesForConnectionError *int          `yaml:"max_retries_for_connection_error"`
	RelativeTimeout              time.Duration `yaml:"relative_timeout"`
	RetryableCodes               []int         `yaml:"retryable_codes,omitempty"`
	RetryableVerbs               []string      `yaml:"retryable_verbs,omitempty"`
	Domains                      []string      `yaml:"domains,omitempty"`
	Backoff                      BackoffConfig `yaml:"backoff"`
}

type BackoffConfig struct {
	Base           float64       `yaml:"base"`
	ExponentBias   float64       `yaml:"exponent_bias"`
	MinCoefficient float64       `yaml:"min_coefficient"`
	MaxCoefficient float64       `yaml:"max_coefficient"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type TransportConfig struct {
	Proxy      string        `yaml:"proxy"`
	Timeout    time.Duration `yaml:"timeout"`
	SpeedLimit string        `yaml:"speed_limit"` // e.g. "512KB", empty is unlimited
	UserAgent  string        `yaml:"user_agent"`
}

type HistoryConfig struct {
	Disabled bool   `yaml:"disabled"`
	Path     string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "warpreq"
	historyFileName  = "history.db"
	configFileName   = "config.yaml"
)

// DefaultPath is the file used when neither a flag nor WARPREQ_CONFIG
// names one.
func DefaultPath() string {
	return filepath.Join(common.ConfigDir(), configFileName)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}

// Load reads and validates the YAML file at path.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFromEnv loads the file named by WARPREQ_CONFIG. When it is unset the
// file at DefaultPath is used if present, otherwise the defaults.
func LoadFromEnv(fs afero.Fs) (*Config, error) {
	path := os.Getenv(common.ConfigEnv)
	if path == "" {
		path = DefaultPath()
		if ok, _ := afero.Exists(fs, path); !ok {
			return Default(), nil
		}
	}
	return Load(fs, path)
}

// Encode renders c as YAML.
func (c *Config) Encode() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}

// Save writes c as YAML to path, creating parent directories.
func Save(fs afero.Fs, path string, c *Config) error {
	data, err := c.Encode()
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	return afero.WriteFile(fs, path, data, 0o644)
}

func (c *Config) setDefaults() {
	m := &c.Manager
	if m.MaxConcurrentRequests == 0 {
		m.MaxConcurrentRequests = reqlib.DefaultMaxConcurrentRequests
	}
	if m.ActiveSleep == 0 {
		m.ActiveSleep = reqlib.DefaultActiveSleep
	}
	if m.IdleSleep == 0 {
		m.IdleSleep = reqlib.DefaultIdleSleep
	}
	if m.FlushSleep == 0 {
		m.FlushSleep = reqlib.DefaultFlushSleepInterval
	}
	defFlush := reqlib.DefaultFlushConfig()
	setFlushDefault(&m.Flush.Default, defFlush.Default)
	setFlushDefault(&m.Flush.Shutdown, defFlush.Shutdown)
	setFlushDefault(&m.Flush.FullFlush, defFlush.Full)

	r := &c.Retry
	def := retry.DefaultPolicy()
	if r.MaxRetries == nil {
		r.MaxRetries = retry.Limit(*def.MaxRetries)
	}
	if r.RetryableCodes == nil {
		r.RetryableCodes = def.RetryableResponseCodes
	}
	if r.Backoff == (BackoffConfig{}) {
		r.Backoff = BackoffConfig(def.Backoff)
	}

	if c.Transport.Timeout == 0 {
		c.Transport.Timeout = DefaultTimeout
	}
	if c.Transport.UserAgent == "" {
		c.Transport.UserAgent = DefaultUserAgent
	}
	if c.History.Path == "" {
		c.History.Path = filepath.Join(common.ConfigDir(), historyFileName)
	}
	if c.Log.Level == "" {
		c.Log.Level = logger.LevelInfo.String()
	}
}

func setFlushDefault(l *FlushLimits, def reqlib.FlushLimits) {
	if l.Soft == 0 && l.Hard == 0 {
		l.Soft, l.Hard = def.Soft, def.Hard
	}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate reports the first invalid setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	m := c.Manager
	if m.MaxConcurrentRequests < 0 {
		return invalid("manager.max_concurrent_requests must be positive")
	}
	if m.ActiveSleep < 0 || m.IdleSleep < 0 || m.FlushSleep < 0 {
		return invalid("manager sleep intervals must not be negative")
	}
	if m.IdleSleep < m.ActiveSleep {
		return invalid("manager.idle_sleep (%s) is shorter than active_sleep (%s)", m.IdleSleep, m.ActiveSleep)
	}
	if m.StartRate < 0 || m.StartBurst < 0 {
		return invalid("manager.start_rate and start_burst must not be negative")
	}
	for name, l := range map[string]FlushLimits{
		"default":    m.Flush.Default,
		"shutdown":   m.Flush.Shutdown,
		"full_flush": m.Flush.FullFlush,
	} {
		if l.Soft >= 0 && l.Hard >= 0 && l.Soft > l.Hard && name != "shutdown" {
			return invalid("manager.flush.%s: soft limit %s exceeds hard limit %s", name, l.Soft, l.Hard)
		}
	}

	r := c.Retry
	if *r.MaxRetries < 0 {
		return invalid("retry.max_retries must not be negative")
	}
	if r.MaxRetriesForConnectionError != nil && *r.MaxRetriesForConnectionError < 0 {
		return invalid("retry.max_retries_for_connection_error must not be negative")
	}
	if r.RelativeTimeout < 0 {
		return invalid("retry.relative_timeout must not be negative")
	}
	for _, code := range r.RetryableCodes {
		if code < 100 || code > 599 {
			return invalid("retry.retryable_codes: %d is not an HTTP status code", code)
		}
	}
	for _, v := range r.RetryableVerbs {
		if strings.TrimSpace(v) == "" {
			return invalid("retry.retryable_verbs contains an empty verb")
		}
	}
	if r.Backoff.MaxBackoff < 0 {
		return invalid("retry.backoff.max_backoff must not be negative")
	}

	t := c.Transport
	if t.Timeout < 0 {
		return invalid("transport.timeout must not be negative")
	}
	if t.Proxy != "" {
		if _, err := reqlib.ParseProxyURL(t.Proxy); err != nil {
			return invalid("transport.proxy: %v", err)
		}
	}
	if t.SpeedLimit != "" {
		if _, err := reqlib.ParseSpeedLimit(t.SpeedLimit); err != nil {
			return invalid("transport.speed_limit: %v", err)
		}
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level: %v", err)
	}
	return nil
}

// WorkerConfig converts the manager section for reqlib.
func (m ManagerConfig) WorkerConfig() reqlib.WorkerConfig {
	return reqlib.WorkerConfig{
		MaxConcurrentRequests:  m.MaxConcurrentRequests,
		AllowConcurrencyGrowth: m.AllowConcurrencyGrowth,
		Cooperative:            m.Cooperative,
		ActiveSleep:            m.ActiveSleep,
		IdleSleep:              m.IdleSleep,
		StartRate:              m.StartRate,
		StartBurst:             m.StartBurst,
	}
}

// FlushConfig converts the flush profiles for reqlib.
func (m ManagerConfig) FlushConfig() reqlib.FlushConfig {
	return reqlib.FlushConfig{
		Default:       reqlib.FlushLimits(m.Flush.Default),
		Shutdown:      reqlib.FlushLimits(m.Flush.Shutdown),
		Full:          reqlib.FlushLimits(m.Flush.FullFlush),
		SleepInterval: m.FlushSleep,
	}
}

// Policy converts the retry section into the process-wide retry defaults.
func (r RetryConfig) Policy() retry.Policy {
	p := retry.Policy{
		MaxRetries:                   r.MaxRetries,
		MaxRetriesForConnectionError: r.MaxRetriesForConnectionError,
		RelativeTimeout:              r.RelativeTimeout,
		RetryableResponseCodes:       r.RetryableCodes,
		RetryableVerbs:               r.RetryableVerbs,
		Backoff:                      retry.BackoffCurve(r.Backoff),
	}
	if len(r.Domains) > 0 {
		p.Domains = retry.NewDomains(r.Domains...)
	}
	return p
}

// HTTPTransportOpts builds the options of the real HTTP transport.
func (t TransportConfig) HTTPTransportOpts() (reqlib.HTTPTransportOpts, error) {
	client, err := reqlib.NewHTTPClient(t.Proxy, t.Timeout)
	if err != nil {
		return reqlib.HTTPTransportOpts{}, err
	}
	var limit int64
	if t.SpeedLimit != "" {
		if limit, err = reqlib.ParseSpeedLimit(t.SpeedLimit); err != nil {
			return reqlib.HTTPTransportOpts{}, err
		}
	}
	return reqlib.HTTPTransportOpts{Client: client, SpeedLimit: limit, Header: http.Header{"User-Agent": {t.UserAgent}}}, nil
}
