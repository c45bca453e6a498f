// Package transport provides the HTTP plumbing the connection package sits
// on top of: a configurable *http.Client plus small request/response
// helpers. NetworkSettings covers connect/read timeouts, an optional proxy
// selector, an optional HTTP authenticator, a configurable root CA pool, and
// a gzip toggle.
package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"runtime"
	"time"
)

const (
	version       = "0.1.0"
	userAgentBase = "acme-go-core"
	defaultLocale = "en-us"
)

// NetworkSettings configures the HTTP transport used for every exchange with
// an ACME server. The zero value is usable and applies the package's
// defaults (30s connect/read timeouts, system proxy, no extra
// authentication, gzip enabled).
type NetworkSettings struct {
	// ConnectTimeout bounds establishing the TCP/TLS connection. Zero means
	// DefaultConnectTimeout.
	ConnectTimeout time.Duration
	// ReadTimeout bounds the full request/response round trip. Zero means
	// DefaultReadTimeout.
	ReadTimeout time.Duration
	// Proxy selects a proxy per request, as http.Transport.Proxy. Nil means
	// http.ProxyFromEnvironment.
	Proxy func(*http.Request) (*url.URL, error)
	// Authenticator, if non-nil, adds caller-specific authentication (e.g.
	// mutual TLS client certs via a custom DialTLS, or an Authorization
	// header injector). See chainedRoundTripper for when it wraps the base
	// transport and when it replaces it.
	Authenticator http.RoundTripper
	// GZIP controls whether an "Accept-Encoding: gzip" header is sent and the
	// response transparently inflated. Defaults to true (enabled).
	GZIP *bool
	// RootCAs, if non-nil, overrides the system trust roots used for HTTPS
	// connections to the ACME server. This exists for talking to CAs with a
	// private/test root (e.g. Pebble).
	RootCAs *x509.CertPool
	// Locale is sent as Accept-Language on every request.
	Locale string
}

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultReadTimeout    = 30 * time.Second
)

func (s NetworkSettings) gzipEnabled() bool {
	return s.GZIP == nil || *s.GZIP
}

// Client wraps an *http.Client configured from NetworkSettings and provides
// the raw GET/POST/HEAD helpers the connection package builds signed
// exchanges on top of.
type Client struct {
	httpClient *http.Client
	settings   NetworkSettings
}

// New builds a Client from the given settings.
func New(settings NetworkSettings) *Client {
	connectTimeout := settings.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	readTimeout := settings.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	dialer := &net.Dialer{Timeout: connectTimeout}
	proxy := settings.Proxy
	if proxy == nil {
		proxy = http.ProxyFromEnvironment
	}

	var rt http.RoundTripper = &http.Transport{
		Proxy:              proxy,
		DialContext:        dialer.DialContext,
		DisableCompression: !settings.gzipEnabled(),
		TLSClientConfig: &tls.Config{
			RootCAs: settings.RootCAs,
		},
	}
	if settings.Authenticator != nil {
		rt = &chainedRoundTripper{first: settings.Authenticator, next: rt}
	}

	return &Client{
		httpClient: &http.Client{
			Transport: rt,
			Timeout:   readTimeout,
		},
		settings: settings,
	}
}

// chainedRoundTripper routes requests through an Authenticator. An
// Authenticator that also implements RoundTripWithNext wraps the base
// transport: it is handed the configured transport as next, so the dialer,
// proxy and RootCAs stay in effect. A plain http.RoundTripper replaces the
// base transport: its own RoundTrip handles the request and the configured
// dialer, proxy, RootCAs and compression setting are not used.
type chainedRoundTripper struct {
	first http.RoundTripper
	next  http.RoundTripper
}

func (c *chainedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if rt, ok := c.first.(interface {
		RoundTripWithNext(*http.Request, http.RoundTripper) (*http.Response, error)
	}); ok {
		return rt.RoundTripWithNext(req, c.next)
	}
	return c.first.RoundTrip(req)
}

// Response bundles the raw body bytes alongside the *http.Response so
// callers can read headers after the body has already been drained.
type Response struct {
	HTTP *http.Response
	Body []byte
}

func (c *Client) do(req *http.Request) (*Response, error) {
	ua := fmt.Sprintf("%s/%s (%s; %s)", userAgentBase, version, runtime.GOOS, runtime.GOARCH)
	req.Header.Set("User-Agent", ua)

	locale := c.settings.Locale
	if locale == "" {
		locale = defaultLocale
	}
	req.Header.Set("Accept-Language", locale)

	if c.settings.gzipEnabled() && req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	bodyReader := io.Reader(resp.Body)
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, gzErr := gzip.NewReader(resp.Body)
		if gzErr != nil {
			return nil, &NetworkError{Err: gzErr}
		}
		defer gz.Close()
		bodyReader = gz
	}

	body, err := io.ReadAll(bodyReader)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	return &Response{HTTP: resp, Body: body}, nil
}

// NetworkError wraps a transport-layer failure (DNS, TCP, TLS, timeout).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("transport: network error: %s", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// Get issues a plain GET request.
func (c *Client) Get(ctx context.Context, url string, ifModifiedSince string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if ifModifiedSince != "" {
		req.Header.Set("If-Modified-Since", ifModifiedSince)
	}
	return c.do(req)
}

// Head issues a HEAD request, used for the newNonce endpoint.
func (c *Client) Head(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// PostJOSE POSTs a JWS body with the ACME-mandated content type.
func (c *Client) PostJOSE(ctx context.Context, url string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/jose+json")
	return c.do(req)
}
