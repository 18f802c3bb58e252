package toolpool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/albertlabs/composer/config"
	"github.com/albertlabs/composer/internal/tlsutil"
	"github.com/albertlabs/composer/types"
)

// Client talks to the external tool pool over its HTTP API. It implements
// types.ToolExecutor and is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	maxRetries int
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a tool pool client from configuration. The underlying HTTP
// client uses the hardened TLS defaults.
func New(cfg config.ToolPoolConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, types.NewError(types.ErrValidation, "tool pool base URL is empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, types.Errorf(types.ErrValidation, "invalid tool pool base URL %q", cfg.BaseURL).WithCause(err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		httpClient: tlsutil.SecureHTTPClient(timeout),
		logger:     logger.With(zap.String("component", "toolpool")),
	}, nil
}

// NewWithHTTPClient creates a client with a caller-supplied http.Client.
func NewWithHTTPClient(cfg config.ToolPoolConfig, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	c, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		c.httpClient = httpClient
	}
	return c, nil
}

type searchResponse struct {
	Tools []types.ToolDescriptor `json:"tools"`
}

type executeRequest struct {
	Params map[string]any `json:"params"`
}

type executeResponse struct {
	Result map[string]any `json:"result"`
}

type errorEnvelope struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

// SearchTools queries the catalog for tools matching a natural-language query.
func (c *Client) SearchTools(ctx context.Context, query string, limit int) ([]types.ToolDescriptor, error) {
	if limit <= 0 {
		limit = 10
	}
	q := url.Values{}
	q.Set("query", query)
	q.Set("limit", strconv.Itoa(limit))

	var out searchResponse
	if err := c.do(ctx, http.MethodGet, "/v1/tools/search?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

// ExecuteTool invokes a tool and returns its decoded result.
func (c *Client) ExecuteTool(ctx context.Context, ref types.ToolRef, params map[string]any) (map[string]any, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	body := executeRequest{Params: params}
	var out executeResponse
	if err := c.do(ctx, http.MethodPost, c.toolPath(ref)+"/execute", body, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// PublishTool registers a composition-backed tool in the catalog.
func (c *Client) PublishTool(ctx context.Context, desc types.ToolDescriptor) error {
	if err := desc.Ref.Validate(); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, c.toolPath(desc.Ref), desc, nil)
}

// UnpublishTool withdraws a previously published catalog entry. Missing
// entries are treated as already withdrawn.
func (c *Client) UnpublishTool(ctx context.Context, ref types.ToolRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	err := c.do(ctx, http.MethodDelete, c.toolPath(ref), nil, nil)
	if err != nil {
		var te *types.Error
		if errors.As(err, &te) && te.Code == types.ErrCompositionNotFound {
			return nil
		}
	}
	return err
}

// Ping checks that the tool pool is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) toolPath(ref types.ToolRef) string {
	return "/v1/tools/" + url.PathEscape(ref.ServerID) + "/" + url.PathEscape(ref.ToolID)
}

// do performs one API call with retries on transport errors and retryable
// statuses. Response bodies decode into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return types.NewError(types.ErrInternal, "failed to encode tool pool request").WithCause(err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return c.contextError(ctx)
			case <-time.After(backoff(attempt)):
			}
		}

		err := c.doOnce(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !types.IsRetryable(err) {
			return err
		}
		c.logger.Debug("retrying tool pool call",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return types.NewError(types.ErrInternal, "failed to build tool pool request").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return c.contextError(ctx)
		}
		return types.NewError(types.ErrToolExecution, "tool pool unreachable").
			WithCause(err).
			WithRetryable(true)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return types.NewError(types.ErrToolExecution, "failed to read tool pool response").
			WithCause(err).
			WithRetryable(true)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return types.NewError(types.ErrToolExecution, "malformed tool pool response").WithCause(err)
		}
		return nil
	}
	return c.statusError(resp.StatusCode, data)
}

// statusError maps an API error response onto the error taxonomy. The remote
// envelope's code wins when it names a known code.
func (c *Client) statusError(status int, data []byte) error {
	code := types.ErrToolExecution
	message := fmt.Sprintf("tool pool returned status %d", status)
	retryable := status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500

	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.Error.Code != "" {
		switch types.ErrorCode(env.Error.Code) {
		case types.ErrValidation, types.ErrToolExecution, types.ErrTimeout,
			types.ErrMapping, types.ErrCompositionNotFound, types.ErrStorage, types.ErrInternal:
			code = types.ErrorCode(env.Error.Code)
		}
		if env.Error.Message != "" {
			message = env.Error.Message
		}
		retryable = retryable || env.Error.Retryable
	} else if status == http.StatusNotFound {
		code = types.ErrCompositionNotFound
	} else if status == http.StatusBadRequest || status == http.StatusUnprocessableEntity {
		code = types.ErrValidation
	}

	return types.NewError(code, message).WithRetryable(retryable)
}

func (c *Client) contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.NewError(types.ErrTimeout, "tool pool call exceeded deadline").WithCause(ctx.Err())
	}
	return types.NewError(types.ErrToolExecution, "tool pool call canceled").WithCause(ctx.Err())
}

func backoff(attempt int) time.Duration {
	d := time.Duration(attempt) * 200 * time.Millisecond
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}

var _ types.ToolExecutor = (*Client)(nil)
