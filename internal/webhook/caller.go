// Package webhook performs outbound WEBHOOK job delivery: HMAC request
// signing, bounded retries with exponential backoff, and a DB-backed
// per-destination circuit breaker with only two states (CLOSED, OPEN) —
// there is deliberately no HALF_OPEN probe; an OPEN destination only
// recovers once a call succeeds again after an operator reset, since the
// prototype this was ported from treats time-based recovery as out of
// scope.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sooh59599/zoohub/internal/domain/circuit"
)

type CallError struct {
	Message      string
	StatusCode   int
	ResponseText string
}

func (e *CallError) Error() string { return e.Message }

type CircuitStore interface {
	Get(ctx context.Context, key string) (circuit.Entry, error)
	RecordSuccess(ctx context.Context, key string) error
	RecordFailure(ctx context.Context, key string, threshold int) (circuit.Entry, error)
}

type Config struct {
	Timeout          time.Duration
	MaxRetries       int
	BackoffBase      time.Duration
	SigningSecret    string
	SignatureHeader  string
	TimestampHeader  string
	SignatureAlg     string
	FailureThreshold int
}

type Caller struct {
	cfg      Config
	client   *http.Client
	circuits CircuitStore
}

func NewCaller(cfg Config, circuits CircuitStore) *Caller {
	return &Caller{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		circuits: circuits,
	}
}

// KeyFromURL reduces a destination URL to its host[:port], the
// granularity the circuit breaker trips at.
func KeyFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

// Call delivers one webhook request, honoring the circuit breaker and
// making up to cfg.MaxRetries attempts in total (at least one) on
// transport/non-2xx failures, with base*2^(attempt-1) backoff between them. Returns (statusCode, responseBody) on
// success, or *CallError / circuit.ErrOpen on failure.
func (c *Caller) Call(ctx context.Context, method, rawURL string, body any, headers map[string]string, idempotencyKey string) (int, string, error) {
	key := KeyFromURL(rawURL)

	entry, err := c.circuits.Get(ctx, key)
	if err != nil {
		return 0, "", fmt.Errorf("circuit lookup: %w", err)
	}
	if entry.State == circuit.StateOpen {
		return 0, "", circuit.ErrOpen{Key: key}
	}

	hdrs := make(map[string]string, len(headers)+3)
	for k, v := range headers {
		hdrs[k] = v
	}
	if _, ok := hdrs["Content-Type"]; !ok {
		hdrs["Content-Type"] = "application/json"
	}
	if idempotencyKey != "" {
		if _, ok := hdrs["Idempotency-Key"]; !ok {
			hdrs["Idempotency-Key"] = idempotencyKey
		}
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := Sign(c.cfg.SigningSecret, c.cfg.SignatureAlg, ts, body)
	if err != nil {
		return 0, "", err
	}
	if sig != "" {
		hdrs[c.cfg.TimestampHeader] = ts
		hdrs[c.cfg.SignatureHeader] = c.cfg.SignatureAlg + "=" + sig
	}

	var bodyBytes []byte
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return 0, "", err
		}
	}

	maxRetries := c.cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		status, respText, callErr := c.attempt(ctx, method, rawURL, bodyBytes, hdrs)
		if callErr == nil {
			if recErr := c.circuits.RecordSuccess(ctx, key); recErr != nil {
				return status, respText, recErr
			}
			return status, respText, nil
		}
		lastErr = callErr

		if attempt < maxRetries {
			backoff := c.cfg.BackoffBase * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return 0, "", ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}

		if _, recErr := c.circuits.RecordFailure(ctx, key, c.cfg.FailureThreshold); recErr != nil {
			return 0, "", recErr
		}
		return 0, "", lastErr
	}

	return 0, "", lastErr
}

func (c *Caller) attempt(ctx context.Context, method, rawURL string, body []byte, headers map[string]string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return 0, "", &CallError{Message: err.Error()}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", &CallError{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", &CallError{Message: err.Error(), StatusCode: resp.StatusCode}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, string(respBody), nil
	}
	return 0, "", &CallError{
		Message:      fmt.Sprintf("HTTP %d", resp.StatusCode),
		StatusCode:   resp.StatusCode,
		ResponseText: string(respBody),
	}
}
