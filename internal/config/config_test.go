package config

import (
	"net/http"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpdl/warpreq/common"
	"github.com/warpdl/warpreq/pkg/reqlib"
	"github.com/warpdl/warpreq/pkg/retry"
)

func writeConfig(t *testing.T, body string) (afero.Fs, string) {
	t.Helper()
	fs := afero.NewMemMapFs()
	path := "/etc/warpreq/config.yaml"
	require.NoError(t, afero.WriteFile(fs, path, []byte(body), 0o644))
	return fs, path
}

func TestDefault(t *testing.T) {
	t.Setenv(common.ConfigDirEnv, "/state")
	c := Default()
	require.NoError(t, c.Validate())

	assert.Equal(t, reqlib.DefaultMaxConcurrentRequests, c.Manager.MaxConcurrentRequests)
	assert.Equal(t, reqlib.DefaultActiveSleep, c.Manager.ActiveSleep)
	assert.Equal(t, FlushLimits{Soft: 2 * time.Second, Hard: 4 * time.Second}, c.Manager.Flush.Shutdown)
	assert.Equal(t, FlushLimits{Soft: -1, Hard: -1}, c.Manager.Flush.FullFlush)
	assert.Equal(t, 3, *c.Retry.MaxRetries)
	assert.Equal(t, retry.DefaultBackoffCurve(), retry.BackoffCurve(c.Retry.Backoff))
	assert.Equal(t, DefaultTimeout, c.Transport.Timeout)
	assert.Equal(t, "/state/history.db", c.History.Path)
	assert.Equal(t, "info", c.Log.Level)
}

func TestLoad(t *testing.T) {
	fs, path := writeConfig(t, `
manager:
  max_concurrent_requests: 4
  cooperative: true
  active_sleep: 2ms
  idle_sleep: 20ms
  start_rate: 10
  flush:
    shutdown:
      soft: 500ms
      hard: 1s
retry:
  max_retries: 0
  max_retries_for_connection_error: 2
  relative_timeout: 30s
  retryable_codes: [503]
  retryable_verbs: [GET, PUT]
  domains: [a.example, b.example]
  backoff:
    base: 3
    exponent_bias: 0
    min_coefficient: 1
    max_coefficient: 1
    max_backoff: 10s
transport:
  proxy: socks5://127.0.0.1:1080
  speed_limit: 1MB
history:
  path: /tmp/h.db
log:
  level: debug
`)
	c, err := Load(fs, path)
	require.NoError(t, err)

	w := c.Manager.WorkerConfig()
	assert.Equal(t, 4, w.MaxConcurrentRequests)
	assert.True(t, w.Cooperative)
	assert.Equal(t, 2*time.Millisecond, w.ActiveSleep)
	assert.Equal(t, 10.0, w.StartRate)

	f := c.Manager.FlushConfig()
	assert.Equal(t, reqlib.FlushLimits{Soft: 500 * time.Millisecond, Hard: time.Second}, f.Shutdown)
	assert.Equal(t, reqlib.FlushLimits{Soft: 2 * time.Second, Hard: 4 * time.Second}, f.Default)

	p := c.Retry.Policy()
	require.NotNil(t, p.MaxRetries)
	assert.Equal(t, 0, *p.MaxRetries)
	require.NotNil(t, p.MaxRetriesForConnectionError)
	assert.Equal(t, 2, *p.MaxRetriesForConnectionError)
	assert.Equal(t, 30*time.Second, p.RelativeTimeout)
	assert.Equal(t, []int{503}, p.RetryableResponseCodes)
	assert.Equal(t, []string{"GET", "PUT"}, p.RetryableVerbs)
	require.NotNil(t, p.Domains)
	assert.Equal(t, []string{"a.example", "b.example"}, p.Domains.Hosts())
	assert.Equal(t, 3.0, p.Backoff.Base)
	assert.Equal(t, 10*time.Second, p.Backoff.MaxBackoff)

	assert.Equal(t, "/tmp/h.db", c.History.Path)
	assert.Equal(t, "debug", c.Log.Level)

	opts, err := c.Transport.HTTPTransportOpts()
	require.NoError(t, err)
	assert.Equal(t, int64(1000*1000), opts.SpeedLimit)
	assert.Equal(t, DefaultUserAgent, opts.Header.Get("User-Agent"))
	assert.Equal(t, DefaultTimeout, opts.Client.Timeout)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative concurrency", "manager:\n  max_concurrent_requests: -1\n"},
		{"idle shorter than active", "manager:\n  active_sleep: 50ms\n  idle_sleep: 10ms\n"},
		{"soft above hard", "manager:\n  flush:\n    default:\n      soft: 5s\n      hard: 1s\n"},
		{"negative retries", "retry:\n  max_retries: -1\n"},
		{"bad status code", "retry:\n  retryable_codes: [42]\n"},
		{"empty verb", "retry:\n  retryable_verbs: [\"\"]\n"},
		{"bad proxy", "transport:\n  proxy: ftp://host\n"},
		{"bad speed limit", "transport:\n  speed_limit: fast\n"},
		{"bad log level", "log:\n  level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, path := writeConfig(t, tt.body)
			_, err := Load(fs, path)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_ShutdownSoftAboveHardIsNormalizedLater(t *testing.T) {
	fs, path := writeConfig(t, "manager:\n  flush:\n    shutdown:\n      soft: 5s\n      hard: 1s\n")
	c, err := Load(fs, path)
	require.NoError(t, err)

	l := c.Manager.FlushConfig().Limits(reqlib.FlushShutdown, 5*time.Millisecond)
	assert.Less(t, l.Soft, l.Hard)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(afero.NewMemMapFs(), "/missing.yaml")
	assert.Error(t, err)

	fs, path := writeConfig(t, "manager: [not, a, map]\n")
	_, err = Load(fs, path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestLoadFromEnv(t *testing.T) {
	fs, path := writeConfig(t, "manager:\n  max_concurrent_requests: 2\n")

	t.Setenv(common.ConfigEnv, "")
	c, err := LoadFromEnv(fs)
	require.NoError(t, err)
	assert.Equal(t, reqlib.DefaultMaxConcurrentRequests, c.Manager.MaxConcurrentRequests)

	t.Setenv(common.ConfigEnv, path)
	c, err = LoadFromEnv(fs)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Manager.MaxConcurrentRequests)
}

func TestLoadFromEnv_DefaultPath(t *testing.T) {
	t.Setenv(common.ConfigEnv, "")
	t.Setenv(common.ConfigDirEnv, "/state")
	fs := afero.NewMemMapFs()
	c := Default()
	c.Manager.MaxConcurrentRequests = 7
	require.NoError(t, Save(fs, DefaultPath(), c))

	got, err := LoadFromEnv(fs)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Manager.MaxConcurrentRequests)
	assert.Equal(t, "/state/config.yaml", DefaultPath())
}

func TestSaveRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := Default()
	c.Retry.RetryableVerbs = []string{http.MethodGet}
	c.Transport.Proxy = "http://proxy.local:3128"

	require.NoError(t, Save(fs, "/home/u/.config/warpreq/config.yaml", c))
	got, err := Load(fs, "/home/u/.config/warpreq/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, c, got)
}
