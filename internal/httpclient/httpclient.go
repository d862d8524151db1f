// Package httpclient implements the per-account HTTP handle that POSTs the
// built protobuf request to the AI stream endpoint and classifies the
// response. Each handle is owned by its account and never shared across
// accounts.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/lofyer/warp-multiproxy-go/internal/account"
	"github.com/lofyer/warp-multiproxy-go/internal/session"
)

const aiURL = session.AIURL

// quotaPhrases are the upstream error-body substrings that mean the
// account's monthly AI quota is exhausted. The upstream never returns a
// structured quota error, so this is a literal string check.
var quotaPhrases = []string{"No remaining quota", "No AI requests remaining"}

// Outcome is the closed set of results a single upstream POST can produce;
// the dispatcher's retry loop switches on this instead of parsing errors.
type Outcome int

const (
	Ok Outcome = iota
	Transient
	Account403
	Account429
	QuotaExhausted
	Fatal
)

// BreakerConfig mirrors config.CircuitConfig without importing the config
// package, keeping httpclient's dependency surface one-way.
type BreakerConfig struct {
	Enabled          bool
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Client owns the shared transport used to reach the AI stream endpoint.
type Client struct {
	http       *http.Client
	breakerCfg BreakerConfig
}

// New builds a Client. insecureTLS disables certificate verification, for
// the WARP_INSECURE_TLS escape hatch.
func New(timeout time.Duration, insecureTLS bool, breaker BreakerConfig) *Client {
	transport := &http.Transport{}
	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		http:       &http.Client{Transport: transport, Timeout: timeout},
		breakerCfg: breaker,
	}
}

// Breaker constructs the per-account circuit breaker this client's callers
// attach via Account.AttachBreaker; repeated 5xx series (not already
// classified as 403/429/quota) trips it without touching durable status.
func (c *Client) Breaker(accountName string) *gobreaker.CircuitBreaker {
	if !c.breakerCfg.Enabled {
		return nil
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        accountName,
		MaxRequests: 1,
		Timeout:     c.breakerCfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.breakerCfg.FailureThreshold
		},
	})
}

// Send POSTs body to the AI stream endpoint for acc and returns the raw
// response body reader on Ok; the caller is responsible for closing it.
// Every other outcome still requires the caller to update acc's durable
// status.
func (c *Client) Send(ctx context.Context, acc *account.Account, body []byte) (io.ReadCloser, Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, aiURL, bytes.NewReader(body))
	if err != nil {
		return nil, Fatal, err
	}
	req.Header.Set("x-warp-client-id", "warp-app")
	req.Header.Set("accept", "text/event-stream")
	req.Header.Set("content-type", "application/x-protobuf")
	req.Header.Set("x-warp-client-version", "v0.2026.01.14.08.15.stable_04")
	req.Header.Set("x-warp-os-category", "macOS")
	req.Header.Set("x-warp-os-name", "macOS")
	req.Header.Set("x-warp-os-version", "26.3")
	req.Header.Set("authorization", "Bearer "+acc.AccessToken)
	req.Header.Set("accept-encoding", "identity")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, Transient, fmt.Errorf("%w: %v", session.ErrTransient, err)
	}

	if resp.StatusCode == http.StatusOK {
		return resp.Body, Ok, nil
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	errMsg := string(bodyBytes)

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nil, Account403, fmt.Errorf("upstream 403: %s", errMsg)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, Account429, fmt.Errorf("upstream 429: %s", errMsg)
	case containsQuotaPhrase(errMsg):
		return nil, QuotaExhausted, fmt.Errorf("upstream quota exhausted: %s", errMsg)
	default:
		return nil, Fatal, fmt.Errorf("upstream HTTP %d: %s", resp.StatusCode, errMsg)
	}
}

func containsQuotaPhrase(body string) bool {
	for _, p := range quotaPhrases {
		if strings.Contains(body, p) {
			return true
		}
	}
	return false
}
