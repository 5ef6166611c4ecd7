package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"
)

const (
	DefaultBaseURL = "https://api.paystack.co"
	defaultTimeout = 15 * time.Second
)

// Config holds Paystack API configuration
type Config struct {
	BaseURL   string
	SecretKey string
	PublicKey string
	Currency  string
	Timeout   time.Duration
}

// Client talks to the Paystack transaction API with the server-side
// secret key. It is safe for concurrent use.
type Client struct {
	config Config
	http   *http.Client
}

// APIError is a non-2xx answer or a {"status": false} body.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paystack api error: status=%d message=%s", e.StatusCode, e.Message)
}

// NotFound reports whether Paystack does not know the reference.
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Unauthorized reports whether Paystack rejected the secret key.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// NewClient creates a Paystack client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Currency == "" {
		cfg.Currency = "NGN"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}
}

// PublicKey is handed to the browser for the inline widget.
func (c *Client) PublicKey() string { return c.config.PublicKey }

// Currency the client charges in.
func (c *Client) Currency() string { return c.config.Currency }

// Configured reports whether a secret key is set. Without one nothing can
// be initialized or verified.
func (c *Client) Configured() bool { return strings.TrimSpace(c.config.SecretKey) != "" }

// Initialize starts a transaction and returns the hosted checkout URL.
func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (*InitializeData, error) {
	if req.AmountKobo <= 0 {
		return nil, fmt.Errorf("paystack validation error: amount must be > 0")
	}
	if strings.TrimSpace(req.Email) == "" {
		return nil, fmt.Errorf("paystack validation error: email is required")
	}
	if strings.TrimSpace(req.Reference) == "" {
		return nil, fmt.Errorf("paystack validation error: reference is required")
	}
	if req.Currency == "" {
		req.Currency = c.config.Currency
	}

	var env envelope[InitializeData]
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", req, &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// Verify fetches the authoritative state of a transaction.
func (c *Client) Verify(ctx context.Context, reference string) (*Transaction, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, fmt.Errorf("paystack validation error: reference is required")
	}

	var env envelope[Transaction]
	if err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, in interface{}, out interface{ ok() (bool, string) }) error {
	if c == nil || c.http == nil {
		return fmt.Errorf("paystack request error: client is nil")
	}
	if strings.TrimSpace(c.config.SecretKey) == "" {
		return fmt.Errorf("paystack config error: secret key is empty")
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("paystack request error: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("paystack request error: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.SecretKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyRequestError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("paystack read error: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		var probe struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &probe) == nil && probe.Message != "" {
			msg = probe.Message
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("paystack decode error: %w", err)
	}
	if ok, msg := out.ok(); !ok {
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return nil
}

func classifyRequestError(ctx context.Context, err error) error {
	if isTimeoutError(ctx, err) {
		return fmt.Errorf("paystack timeout: %w", err)
	}
	if isNetworkError(err) {
		return fmt.Errorf("paystack network error: %w", err)
	}
	return fmt.Errorf("paystack request error: %w", err)
}

func isTimeoutError(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetworkError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}
