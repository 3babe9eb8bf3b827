// Package network performs the worker's outbound fetches.
package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cryguy/swkit/internal/core"
)

// Defaults for Config.
const (
	DefaultTimeout          = 30 * time.Second
	DefaultMaxResponseBytes = 32 << 20 // 32 MB
	maxRedirects            = 20
)

// ErrResponseTooLarge is returned when a body exceeds MaxResponseBytes.
var ErrResponseTooLarge = errors.New("response body exceeds limit")

// forbiddenRequestHeaders are controlled by the transport or could be used
// for header smuggling, so they are never forwarded.
var forbiddenRequestHeaders = map[string]bool{
	"host":                true,
	"transfer-encoding":   true,
	"connection":          true,
	"keep-alive":          true,
	"upgrade":             true,
	"proxy-authorization": true,
	"proxy-connection":    true,
	"te":                  true,
	"trailer":             true,
	"x-forwarded-for":     true,
	"x-forwarded-host":    true,
	"x-forwarded-proto":   true,
	"x-real-ip":           true,
}

// hopHeaders are stripped from responses before they are returned or cached.
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Connection",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Config controls the outbound client.
type Config struct {
	// Upstream, when set, is the origin every request is sent to. The path
	// and query of the intercepted URL are kept.
	Upstream         string
	Timeout          time.Duration
	MaxResponseBytes int64
	// AllowPrivate disables the private address guard. Needed when the
	// upstream lives on loopback or a private network.
	AllowPrivate bool
}

// Client is a core.Fetcher backed by net/http.
type Client struct {
	cfg      Config
	upstream *url.URL
	http     *http.Client
}

// New builds a Client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}

	c := &Client{cfg: cfg}
	if cfg.Upstream != "" {
		u, err := url.Parse(cfg.Upstream)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid upstream %q", cfg.Upstream)
		}
		c.upstream = u
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.AllowPrivate {
		transport.DialContext = ssrfSafeDialContext
	}
	c.http = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects")
			}
			if !cfg.AllowPrivate && isPrivateHostname(req.URL.String()) {
				return fmt.Errorf("redirect to private IP address is not allowed")
			}
			return nil
		},
	}
	return c, nil
}

// Fetch sends req to the network. Any transport failure is returned as an
// error; HTTP error statuses are returned as normal responses.
func (c *Client) Fetch(ctx context.Context, req *core.Request) (*core.Response, error) {
	target, err := c.target(req.URL)
	if err != nil {
		return nil, err
	}
	if !c.cfg.AllowPrivate && isPrivateHostname(target) {
		return nil, fmt.Errorf("fetch to private IP addresses is not allowed")
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	for k, vals := range req.Headers {
		if forbiddenRequestHeaders[strings.ToLower(k)] {
			continue
		}
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: reading body: %w", req.URL, err)
	}
	if int64(len(data)) > c.cfg.MaxResponseBytes {
		return nil, fmt.Errorf("fetch %s: %w", req.URL, ErrResponseTooLarge)
	}

	headers := resp.Header.Clone()
	for _, h := range hopHeaders {
		headers.Del(h)
	}
	if enc := headers.Get("Content-Encoding"); enc != "" {
		decoded, err := decodeBody(enc, data, c.cfg.MaxResponseBytes)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
		}
		data = decoded
		headers.Del("Content-Encoding")
		headers.Del("Content-Length")
	}

	return &core.Response{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Headers:    headers,
		Body:       data,
		URL:        req.URL,
		Type:       core.ResponseBasic,
	}, nil
}

// target rewrites rawURL onto the upstream origin when one is configured.
func (c *Client) target(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("fetch: invalid url %q: %w", rawURL, err)
	}
	u.Fragment = ""
	if c.upstream != nil {
		u.Scheme = c.upstream.Scheme
		u.Host = c.upstream.Host
		if p := strings.TrimSuffix(c.upstream.Path, "/"); p != "" {
			u.Path = p + u.Path
		}
	}
	return u.String(), nil
}

// isPrivateHostname is a fast, non-resolving pre-check. The real guard is
// ssrfSafeDialContext at connect time.
func isPrivateHostname(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	hostname := u.Hostname()
	if hostname == "" {
		return true
	}
	lower := strings.ToLower(hostname)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return isPrivateIP(ip)
	}
	return false
}

// ssrfSafeDialContext resolves DNS and validates the resolved IP at connect
// time, which closes the DNS rebinding window left by the hostname check.
func ssrfSafeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("DNS lookup failed for %s: %w", host, err)
	}
	for _, ip := range ips {
		if isPrivateIP(ip.IP) {
			continue
		}
		dialer := &net.Dialer{}
		return dialer.DialContext(ctx, network, net.JoinHostPort(ip.IP.String(), port))
	}
	return nil, fmt.Errorf("fetch to private IP addresses is not allowed")
}

var privateRanges []*net.IPNet

func init() {
	for _, cidr := range []string{
		"0.0.0.0/8",
		"10.0.0.0/8",
		"100.64.0.0/10",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"172.16.0.0/12",
		"192.0.0.0/24",
		"192.0.2.0/24",
		"192.168.0.0/16",
		"198.18.0.0/15",
		"198.51.100.0/24",
		"203.0.113.0/24",
		"240.0.0.0/4",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	} {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("invalid CIDR: " + cidr)
		}
		privateRanges = append(privateRanges, n)
	}
}

func isPrivateIP(ip net.IP) bool {
	for _, n := range privateRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
