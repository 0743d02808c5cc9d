package reqlib

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// ProxyConfig holds the parsed proxy configuration.
type ProxyConfig struct {
	Scheme   string
	Host     string
	Username string
	Password string
}

// URL returns the proxy URL as a string.
func (p *ProxyConfig) URL() string {
	var sb strings.Builder
	sb.WriteString(p.Scheme)
	sb.WriteString("://")
	if p.Username != "" {
		sb.WriteString(p.Username)
		if p.Password != "" {
			sb.WriteString(":")
			sb.WriteString(p.Password)
		}
		sb.WriteString("@")
	}
	sb.WriteString(p.Host)
	return sb.String()
}

var (
	ErrEmptyProxyURL     = errors.New("proxy URL cannot be empty")
	ErrUnsupportedScheme = errors.New("unsupported proxy scheme")
	ErrInvalidProxyURL   = errors.New("invalid proxy URL")
)

var supportedSchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"socks5": true,
}

// ParseProxyURL parses and validates a proxy URL string.
func ParseProxyURL(proxyURL string) (*ProxyConfig, error) {
	if proxyURL == "" {
		return nil, ErrEmptyProxyURL
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, ErrInvalidProxyURL
	}
	if !supportedSchemes[parsed.Scheme] {
		return nil, ErrUnsupportedScheme
	}

	config := &ProxyConfig{
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
	}
	if parsed.User != nil {
		config.Username = parsed.User.Username()
		config.Password, _ = parsed.User.Password()
	}
	return config, nil
}

// NewHTTPClient creates the client used by the HTTP transport.
// An empty proxyURL falls back to the proxy environment variables
// (HTTP_PROXY, HTTPS_PROXY, NO_PROXY). timeout of zero means none; request
// deadlines are enforced per request regardless.
func NewHTTPClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxyURL == "" {
		transport.Proxy = http.ProxyFromEnvironment
		return &http.Client{Transport: transport, Timeout: timeout}, nil
	}

	cfg, err := ParseProxyURL(proxyURL)
	if err != nil {
		return nil, err
	}

	if cfg.Scheme == "socks5" {
		var auth *proxy.Auth
		if cfg.Username != "" {
			auth = &proxy.Auth{
				User:     cfg.Username,
				Password: cfg.Password,
			}
		}
		dialer, err := proxy.SOCKS5("tcp", cfg.Host, auth, proxy.Direct)
		if err != nil {
			return nil, err
		}
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	} else {
		u, _ := url.Parse(cfg.URL())
		transport.Proxy = http.ProxyURL(u)
	}

	return &http.Client{Transport: transport, Timeout: timeout}, nil
}
