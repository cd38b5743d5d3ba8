package pinning

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	// defaultTimeout caps the whole request; callers override per client or
	// cancel per call through the context.
	defaultTimeout = 30 * time.Second

	// hstsMaxAge is one year, the preload-list minimum.
	hstsMaxAge = 31536000
)

// hardeningHeaders are attached to every outbound request and expected,
// advisorily, on every response.
var hardeningHeaders = []string{
	"Strict-Transport-Security",
	"X-Content-Type-Options",
	"X-Frame-Options",
	"X-XSS-Protection",
}

// Client performs outbound HTTPS requests to the remote gateway with
// certificate-pin verification wired into the TLS handshake. Pinning runs
// in addition to standard chain validation, defending against a
// compromised or coerced certificate authority.
type Client struct {
	http    *http.Client
	pins    *PinStore
	logger  *slog.Logger
	rootCAs *x509.CertPool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the structured logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithTimeout overrides the default 30s request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// WithRootCAs replaces the system trust roots; used by tests and by
// deployments with a private CA.
func WithRootCAs(pool *x509.CertPool) ClientOption {
	return func(c *Client) { c.rootCAs = pool }
}

// NewClient builds a pinned HTTPS client over the given pin store.
func NewClient(pins *PinStore, opts ...ClientOption) *Client {
	c := &Client{
		pins:   pins,
		logger: slog.Default(),
	}
	c.http = &http.Client{Timeout: defaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	c.http.Transport = &http.Transport{
		DialTLSContext:      c.dialTLS,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return c
}

// Get performs a pinned HTTPS GET.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil)
}

// Post performs a pinned HTTPS POST with a JSON body.
func (c *Client) Post(ctx context.Context, rawURL string, body io.Reader) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, rawURL, body)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body io.Reader) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" {
		// Rejected before any network access.
		return nil, fmt.Errorf("%w: %s", ErrInsecureURL, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Strict-Transport-Security",
		fmt.Sprintf("max-age=%d; includeSubDomains; preload", hstsMaxAge))
	req.Header.Set("X-Content-Type-Options", "nosniff")
	req.Header.Set("X-Frame-Options", "DENY")
	req.Header.Set("X-XSS-Protection", "1; mode=block")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	if err := c.verifyResponseSecurity(ctx, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// verifyResponseSecurity confirms the response arrived over https and warns
// about missing hardening headers. The remote server's header hygiene is
// advisory; only the scheme check is fatal.
func (c *Client) verifyResponseSecurity(ctx context.Context, resp *http.Response) error {
	if resp.Request.URL.Scheme != "https" {
		return fmt.Errorf("%w: response served over %s", ErrInsecureResponse, resp.Request.URL.Scheme)
	}
	for _, header := range hardeningHeaders {
		if resp.Header.Get(header) == "" {
			c.logger.WarnContext(ctx, "response missing hardening header",
				"header", header, "host", resp.Request.URL.Host)
		}
	}
	return nil
}

// dialTLS establishes the TLS connection with pin verification hooked into
// the handshake, so a mismatched certificate aborts before any request
// bytes are sent.
func (c *Client) dialTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	cfg := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS13,
		RootCAs:    c.rootCAs,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return c.verifyPeer(host, rawCerts)
		},
	}
	dialer := &tls.Dialer{Config: cfg}
	return dialer.DialContext(ctx, network, addr)
}

// verifyPeer checks the leaf certificate against the domain's pins.
// Domains without a provisioned pin rely on chain validation alone.
func (c *Client) verifyPeer(host string, rawCerts [][]byte) error {
	if _, ok := c.pins.Pin(host); !ok {
		return nil
	}
	if len(rawCerts) == 0 {
		return fmt.Errorf("%w: %s presented no certificate", ErrPinVerification, host)
	}
	_, err := c.pins.VerifyPin(host, rawCerts[0])
	return err
}
