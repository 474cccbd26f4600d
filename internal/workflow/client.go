package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"agenda-agent/internal/domain"
)

// turnRequest is the wire shape sent to the agenda pipeline for one turn.
type turnRequest struct {
	UserID      string         `json:"user_id"`
	HubLocation string         `json:"hub_location"`
	ThreadID    string         `json:"thread_id"`
	Message     string         `json:"message"`
	Fields      map[string]any `json:"fields"`
}

// turnResponse is the wire shape returned by the pipeline.
type turnResponse struct {
	Reply  string         `json:"reply"`
	Fields map[string]any `json:"fields"`
}

// tokenPayload is the expected JSON shape stored in SSM for the service token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("workflow: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client calls the remote multi-agent agenda pipeline. The pipeline content
// is owned by another service; this client only moves the turn across the
// wire.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	tokenOnce sync.Once
	token     string
	tokenErr  error
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client for the pipeline at baseURL. The bearer token is
// fetched from SSM on the first call to Run and reused for the lifetime of
// the process.
func NewClient(baseURL string, ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("workflow: base URL must not be empty")
	}
	if ps == nil {
		return nil, errors.New("workflow: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("workflow: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.tokenOnce.Do(func() {
		c.token, c.tokenErr = fetchTokenFromParamStore(ctx, c.getter, c.paramPrefix+"/workflow-token")
	})
	return c.token, c.tokenErr
}

// Run delegates one turn to the pipeline and returns its reply and updated
// fields. Fields on the request are passed through verbatim.
func (c *Client) Run(ctx context.Context, in domain.WorkflowRequest) (domain.WorkflowResult, error) {
	token, err := c.resolveToken(ctx)
	if err != nil {
		return domain.WorkflowResult{}, err
	}

	fields := in.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	body, err := json.Marshal(turnRequest{
		UserID:      in.UserID,
		HubLocation: in.HubLocation,
		ThreadID:    in.ThreadID,
		Message:     in.Message,
		Fields:      fields,
	})
	if err != nil {
		return domain.WorkflowResult{}, fmt.Errorf("workflow: marshal request: %w", err)
	}

	url := c.baseURL + "/v1/turns"

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return domain.WorkflowResult{}, fmt.Errorf("workflow: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, doErr := c.httpClient.Do(req)
	if doErr != nil {
		return domain.WorkflowResult{}, fmt.Errorf("workflow: request failed: %w", doErr)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return domain.WorkflowResult{}, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return domain.WorkflowResult{}, fmt.Errorf("workflow: read response body: %w", err)
	}

	var payload turnResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return domain.WorkflowResult{}, fmt.Errorf("workflow: decode response: %w", decErr)
	}
	if strings.TrimSpace(payload.Reply) == "" {
		return domain.WorkflowResult{}, errors.New("workflow: empty reply in response")
	}
	if payload.Fields == nil {
		payload.Fields = map[string]any{}
	}
	return domain.WorkflowResult{Reply: payload.Reply, Fields: payload.Fields}, nil
}

func fetchTokenFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("workflow: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("workflow: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("workflow: service token is empty")
	}
	return tp.Token, nil
}
