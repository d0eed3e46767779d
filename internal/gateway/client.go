// Package gateway talks to the university ERP: the course catalog it reads and the
// enrollment and registration records it creates.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/noah-isme/erp-registration-api/pkg/config"
	appErrors "github.com/noah-isme/erp-registration-api/pkg/errors"
	"github.com/noah-isme/erp-registration-api/pkg/middleware/requestid"
)

// Conflict codes the ERP uses when a course has no seats left.
var capacityCodes = map[string]struct{}{
	"CAPACITY_FULL": {},
	"COURSE_FULL":   {},
}

const maxErrorBody = 4 << 10

// remoteError is the error body returned by the ERP.
type remoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client performs JSON requests against the ERP REST API. Reads are retried with
// exponential backoff; writes are sent exactly once.
type Client struct {
	baseURL    string
	http       *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the transport, mainly for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient builds a client from config. When client credentials are configured the
// transport fetches and refreshes bearer tokens on its own.
func NewClient(cfg config.ERPConfig, logger *zap.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	hc := &http.Client{Timeout: timeout}
	if cfg.ClientID != "" && cfg.TokenURL != "" {
		creds := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		hc = creds.Client(context.Background())
		hc.Timeout = timeout
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		http:       hc,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Get fetches path and decodes the JSON body into dest.
func (c *Client) Get(ctx context.Context, path string, dest interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return appErrors.Wrap(err, appErrors.ErrRemoteUnavailable.Code, appErrors.ErrRemoteUnavailable.Status, "request cancelled")
		}

		body, retryable, err := c.do(ctx, http.MethodGet, path, nil)
		if err == nil {
			if err := json.Unmarshal(body, dest); err != nil {
				return appErrors.Wrap(fmt.Errorf("decode %s: %w", path, err), appErrors.ErrRemoteUnavailable.Code, appErrors.ErrRemoteUnavailable.Status, "unexpected ERP response")
			}
			return nil
		}
		if !retryable {
			return err
		}
		lastErr = err

		if attempt < c.maxRetries {
			delay := c.retryDelay * time.Duration(1<<attempt)
			c.logger.Warn("erp request failed, retrying",
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return appErrors.Wrap(ctx.Err(), appErrors.ErrRemoteUnavailable.Code, appErrors.ErrRemoteUnavailable.Status, "request cancelled during retry wait")
			}
		}
	}
	return lastErr
}

// Post sends payload once and decodes the JSON response into dest.
func (c *Client) Post(ctx context.Context, path string, payload, dest interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	body, _, err := c.do(ctx, http.MethodPost, path, raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return appErrors.Wrap(fmt.Errorf("decode %s: %w", path, err), appErrors.ErrRemoteUnavailable.Code, appErrors.ErrRemoteUnavailable.Status, "unexpected ERP response")
	}
	return nil
}

// do sends one request. The boolean reports whether the failure is worth retrying.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, bool, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, false, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := requestid.FromContext(ctx); id != "" {
		req.Header.Set(requestid.Header, id)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, appErrors.Wrap(fmt.Errorf("%s %s: %w", method, path, err), appErrors.ErrRemoteUnavailable.Code, appErrors.ErrRemoteUnavailable.Status, appErrors.ErrRemoteUnavailable.Message)
	}
	defer resp.Body.Close()

	c.logger.Debug("erp request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, true, appErrors.Wrap(fmt.Errorf("read %s: %w", path, err), appErrors.ErrRemoteUnavailable.Code, appErrors.ErrRemoteUnavailable.Status, appErrors.ErrRemoteUnavailable.Message)
		}
		return body, false, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, retryableStatus(resp.StatusCode), decodeRemoteError(resp.StatusCode, body)
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func decodeRemoteError(status int, body []byte) error {
	var remote remoteError
	_ = json.Unmarshal(body, &remote)
	message := strings.TrimSpace(remote.Message)
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = http.StatusText(status)
	}
	cause := fmt.Errorf("erp responded %d %s: %s", status, remote.Code, message)

	switch {
	case status == http.StatusConflict && isCapacityCode(remote.Code):
		return appErrors.Wrap(cause, appErrors.ErrCapacityConflict.Code, appErrors.ErrCapacityConflict.Status, message)
	case status == http.StatusNotFound:
		return appErrors.Wrap(cause, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, message)
	case retryableStatus(status):
		return appErrors.Wrap(cause, appErrors.ErrRemoteUnavailable.Code, appErrors.ErrRemoteUnavailable.Status, message)
	default:
		return appErrors.Wrap(cause, appErrors.ErrRemoteRejected.Code, appErrors.ErrRemoteRejected.Status, message)
	}
}

func isCapacityCode(code string) bool {
	_, ok := capacityCodes[strings.ToUpper(strings.TrimSpace(code))]
	return ok
}
