package remote

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/focusgate/focusgate/internal/metrics"
	"github.com/focusgate/focusgate/internal/token"
	"github.com/rs/zerolog"
)

// ClientConfig holds parameters for constructing the remote HTTP client.
type ClientConfig struct {
	BaseURL    string
	Subject    string        // token subject identifying this controller
	TokenTTL   time.Duration // issued token lifetime
	VerifyTLS  bool
	CACertPath string
	Timeout    time.Duration
	Debug      bool
}

// httpClient implements Client over HTTPS with Bearer session tokens.
type httpClient struct {
	cfg    ClientConfig
	http   *http.Client
	signer *token.Signer
	log    zerolog.Logger

	mu       sync.Mutex
	cached   string
	cachedAt time.Time
}

// NewClient constructs a remote service client. The signer must already
// hold the signing secret; an absent secret fails long before this point.
func NewClient(cfg ClientConfig, signer *token.Signer, log zerolog.Logger) (Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: !cfg.VerifyTLS, //nolint:gosec // user-opted-in
	}
	if cfg.CACertPath != "" {
		pem, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("read CA cert %s: %w", cfg.CACertPath, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no valid certificates in %s", cfg.CACertPath)
		}
		tlsCfg.RootCAs = pool
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsCfg,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &httpClient{
		cfg: cfg,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		signer: signer,
		log:    log,
	}, nil
}

// bearer returns a cached session token, re-issuing when the cached one is
// past half its lifetime so a request never carries a token about to expire.
func (c *httpClient) bearer() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != "" && time.Since(c.cachedAt) < c.cfg.TokenTTL/2 {
		return c.cached, nil
	}
	tok, err := c.signer.Issue(c.cfg.Subject, c.cfg.TokenTTL)
	if err != nil {
		return "", fmt.Errorf("issue session token: %w", err)
	}
	c.cached = tok
	c.cachedAt = time.Now()
	return tok, nil
}

// apiDo executes an HTTP request, handling auth, metrics, and typed error translation.
func (c *httpClient) apiDo(ctx context.Context, req *http.Request, endpoint string) (*http.Response, error) {
	tok, err := c.bearer()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	start := time.Now()
	if c.cfg.Debug {
		c.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("remote api request")
	}

	resp, err := c.http.Do(req.WithContext(ctx))
	elapsed := time.Since(start)

	if err != nil {
		metrics.RemoteCalls.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}

	statusLabel := fmt.Sprintf("%dxx", resp.StatusCode/100)
	metrics.RemoteCalls.WithLabelValues(endpoint, statusLabel).Inc()
	metrics.RemoteDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())

	if c.cfg.Debug {
		c.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).
			Int("status", resp.StatusCode).Dur("elapsed", elapsed).Msg("remote api response")
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		_ = resp.Body.Close()
		// Drop the cached token so the next call re-issues.
		c.mu.Lock()
		c.cached = ""
		c.mu.Unlock()
		return nil, &ErrUnauthorized{Msg: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	case http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, &ErrNotFound{}
	}
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("remote %s returned HTTP %d: %s", endpoint, resp.StatusCode, snippet)
	}
	return resp, nil
}

func (c *httpClient) getJSON(ctx context.Context, path, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.apiDo(ctx, req, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func (c *httpClient) Categories(ctx context.Context) ([]CategoryEntry, error) {
	var entries []CategoryEntry
	if err := c.getJSON(ctx, "/v1/categories", "categories", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *httpClient) Blocked(ctx context.Context) ([]string, error) {
	var domains []string
	if err := c.getJSON(ctx, "/v1/blocked", "blocked", &domains); err != nil {
		return nil, err
	}
	return domains, nil
}

func (c *httpClient) AddBlocked(ctx context.Context, domain string) error {
	path := "/v1/blocked/" + url.PathEscape(domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.apiDo(ctx, req, "blocked_add")
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (c *httpClient) RemoveBlocked(ctx context.Context, domain string) error {
	path := "/v1/blocked/" + url.PathEscape(domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.apiDo(ctx, req, "blocked_remove")
	if err != nil {
		// Removing an already-absent entry converges to the same state.
		var notFound *ErrNotFound
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return resp.Body.Close()
}

func (c *httpClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/ping", nil)
	if err != nil {
		return err
	}
	resp, err := c.apiDo(ctx, req, "ping")
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
