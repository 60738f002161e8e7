// Package cloud talks to the durable remote memory API. The HTTP client adds
// retries with exponential backoff for transient failures and a circuit
// breaker that sheds load when the remote end is persistently unhealthy.
//
// When no credential is configured, an in-memory substitute with the same
// interface stands in (see demo.go); nothing else in the system branches on
// that.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/sony/gobreaker"

	"github.com/hybridmem/mcp-memory/internal/memory"
)

// Store is the cloud memory API surface used by the engine.
type Store interface {
	// AddMemory persists new content and returns the created records.
	AddMemory(ctx context.Context, userID string, input memory.WriteInput, metadata map[string]any) ([]memory.Memory, error)
	// Search returns up to limit memories relevant to query.
	Search(ctx context.Context, userID, query string, limit int) ([]memory.Memory, error)
	// Get fetches a single memory by id. Returns ErrNotFound when absent.
	Get(ctx context.Context, userID, id string) (*memory.Memory, error)
	// ListAll enumerates the user's memories, newest first.
	ListAll(ctx context.Context, userID string, limit int) ([]memory.Memory, error)
	// Delete removes a memory. Deleting an absent id is not an error.
	Delete(ctx context.Context, userID, id string) error
	// Healthy reports whether the store is currently usable.
	Healthy(ctx context.Context) bool
}

const (
	defaultTimeout = 30 * time.Second
	maxRetries     = 3
	retryBaseDelay = 200 * time.Millisecond
	userAgent      = "mcp-memory-go"
)

// HTTPClient implements Store against the remote memory API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPLogger sets the logger.
func WithHTTPLogger(logger *slog.Logger) HTTPOption {
	return func(c *HTTPClient) { c.logger = logger }
}

// WithHTTPTransport overrides the underlying http.Client (tests).
func WithHTTPTransport(client *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.http = client }
}

// NewHTTPClient builds a client for the remote memory API.
func NewHTTPClient(baseURL, apiKey string, opts ...HTTPOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL cannot be empty")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("apiKey cannot be empty")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	c := &HTTPClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: http.DefaultTransport,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	// The single authoritative place that attaches the credential.
	c.http.Transport = &authTransport{base: c.http.Transport, apiKey: apiKey}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cloud-memory-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Caller mistakes (4xx) must not open the breaker.
			return err == nil || !IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("cloud circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return c, nil
}

// authTransport adds the Authorization header and a default User-Agent on
// every request.
type authTransport struct {
	base   http.RoundTripper
	apiKey string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+t.apiKey)
	if cloned.Header.Get("User-Agent") == "" {
		cloned.Header.Set("User-Agent", userAgent)
	}
	return t.base.RoundTrip(cloned)
}

type addRequest struct {
	UserID   string           `json:"user_id"`
	Content  string           `json:"content,omitempty"`
	Messages []memory.Message `json:"messages,omitempty"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

type searchRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
	Limit  int    `json:"limit"`
}

func (c *HTTPClient) AddMemory(ctx context.Context, userID string, input memory.WriteInput, metadata map[string]any) ([]memory.Memory, error) {
	body := addRequest{UserID: userID, Content: input.Content, Messages: input.Messages, Metadata: metadata}
	raw, err := c.do(ctx, http.MethodPost, "/memories", nil, body)
	if err != nil {
		return nil, err
	}
	return normalizeMemories(raw)
}

func (c *HTTPClient) Search(ctx context.Context, userID, query string, limit int) ([]memory.Memory, error) {
	body := searchRequest{UserID: userID, Query: query, Limit: limit}
	raw, err := c.do(ctx, http.MethodPost, "/memories/search", nil, body)
	if err != nil {
		return nil, err
	}
	return normalizeMemories(raw)
}

func (c *HTTPClient) Get(ctx context.Context, userID, id string) (*memory.Memory, error) {
	q := url.Values{"user_id": {userID}}
	raw, err := c.do(ctx, http.MethodGet, "/memories/"+url.PathEscape(id), q, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var m memory.Memory
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &APIError{Kind: KindServer, Message: fmt.Sprintf("malformed memory payload: %v", err)}
	}
	return &m, nil
}

func (c *HTTPClient) ListAll(ctx context.Context, userID string, limit int) ([]memory.Memory, error) {
	q := url.Values{"user_id": {userID}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	raw, err := c.do(ctx, http.MethodGet, "/memories", q, nil)
	if err != nil {
		return nil, err
	}
	return normalizeMemories(raw)
}

func (c *HTTPClient) Delete(ctx context.Context, userID, id string) error {
	q := url.Values{"user_id": {userID}}
	_, err := c.do(ctx, http.MethodDelete, "/memories/"+url.PathEscape(id), q, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// Healthy reports whether the breaker currently admits requests.
func (c *HTTPClient) Healthy(ctx context.Context) bool {
	return c.breaker.State() != gobreaker.StateOpen
}

// do performs one API call through the circuit breaker, retrying transient
// failures with exponential backoff. At most maxRetries retries are made.
func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	var raw json.RawMessage
	err := retry.Do(
		func() error {
			result, err := c.breaker.Execute(func() (interface{}, error) {
				return c.roundTrip(ctx, method, path, query, payload)
			})
			if err != nil {
				if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
					return &APIError{Kind: KindNetwork, Message: "circuit breaker open"}
				}
				return err
			}
			raw = result.(json.RawMessage)
			return nil
		},
		retry.Attempts(maxRetries+1),
		retry.Delay(retryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(5*time.Second),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if ctx.Err() != nil {
				return false
			}
			return IsRetryable(err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// roundTrip performs a single HTTP exchange and classifies the outcome.
func (c *HTTPClient) roundTrip(ctx context.Context, method, path string, query url.Values, payload []byte) (json.RawMessage, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, &APIError{Kind: KindClient, Message: err.Error()}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &APIError{Kind: KindNetwork, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &APIError{Kind: KindNetwork, Message: err.Error()}
	}

	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, &APIError{Kind: classifyStatus(resp.StatusCode), StatusCode: resp.StatusCode, Message: msg}
	}

	return json.RawMessage(data), nil
}

// normalizeMemories accepts the three remote response shapes — a bare array,
// {"results": [...]}, or {"memories": [...]} — and returns a flat slice.
func normalizeMemories(raw json.RawMessage) ([]memory.Memory, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var list []memory.Memory
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var wrapped struct {
		Results  []memory.Memory `json:"results"`
		Memories []memory.Memory `json:"memories"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, &APIError{Kind: KindServer, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	if wrapped.Results != nil {
		return wrapped.Results, nil
	}
	return wrapped.Memories, nil
}
