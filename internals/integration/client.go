package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/romakot321/higgsfieldai-api/internals/tasks"
)

const DefaultRequestTimeout = 30 * time.Second

type Client struct {
	baseURL        string
	httpClient     *http.Client
	requestTimeout time.Duration
	logger         *slog.Logger

	mu    sync.RWMutex
	token *oauth2.Token
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRequestTimeout bounds each result query. Start is bounded only by the
// caller's context.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = timeout
	}
}

func WithToken(token *oauth2.Token) Option {
	return func(c *Client) {
		c.token = token
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	client := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{},
		requestTimeout: DefaultRequestTimeout,
		logger:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// SetToken replaces the credential used by subsequent calls on this client.
func (c *Client) SetToken(token *oauth2.Token) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

type startRequest struct {
	ID     string         `json:"id"`
	Prompt string         `json:"prompt"`
	Model  string         `json:"model,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

func (c *Client) Start(ctx context.Context, taskID uuid.UUID, command tasks.TaskRun) (*Response, error) {
	payload := startRequest{
		ID:     taskID.String(),
		Prompt: command.Prompt,
		Model:  command.Model,
		Params: command.Params,
	}

	var body io.Reader
	var contentType string
	if command.HasImage() {
		buf, ct, err := multipartBody(payload, command)
		if err != nil {
			return nil, err
		}
		body = buf
		contentType = ct
	} else {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode start request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	c.logger.Debug("Starting remote job", slog.String("task_id", taskID.String()), slog.Bool("image", command.HasImage()))
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/jobs", body, contentType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return nil, responseError(resp)
	}
	return decodeResponse(resp)
}

func (c *Client) GetResult(ctx context.Context, taskID uuid.UUID) (*Response, error) {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(taskID.String()), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	return decodeResponse(resp)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != nil && token.AccessToken != "" {
		token.SetAuthHeader(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func multipartBody(payload startRequest, command tasks.TaskRun) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	params, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode start request: %w", err)
	}
	if err := writer.WriteField("params", string(params)); err != nil {
		return nil, "", err
	}

	name := command.ImageName
	if name == "" {
		name = "image"
	}
	part, err := writer.CreateFormFile("image", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(command.Image); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf, writer.FormDataContentType(), nil
}

func decodeResponse(resp *http.Response) (*Response, error) {
	var payload Response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding runner response: %w", err)
	}
	return &payload, nil
}

type errorResponse struct {
	Detail  any    `json:"detail"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func responseError(resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrUnauthorized
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &RequestError{StatusCode: resp.StatusCode, Message: resp.Status}
	}

	var payload errorResponse
	if err := json.Unmarshal(body, &payload); err == nil {
		if detail, ok := payload.Detail.(string); ok && detail != "" {
			return &RequestError{StatusCode: resp.StatusCode, Message: detail}
		}
		if payload.Detail != nil {
			if encoded, err := json.Marshal(payload.Detail); err == nil {
				return &RequestError{StatusCode: resp.StatusCode, Message: string(encoded)}
			}
		}
		if payload.Error != "" {
			return &RequestError{StatusCode: resp.StatusCode, Message: payload.Error}
		}
		if payload.Message != "" {
			return &RequestError{StatusCode: resp.StatusCode, Message: payload.Message}
		}
	}

	message := strings.TrimSpace(string(body))
	if len(message) > 200 {
		message = message[:200] + "..."
	}
	if message == "" {
		message = resp.Status
	}
	return &RequestError{StatusCode: resp.StatusCode, Message: message}
}
