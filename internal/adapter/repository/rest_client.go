package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gigchat/pkg/errors"
)

const defaultTimeout = 15 * time.Second

// Client talks to the marketplace REST API and unwraps its response envelope.
type Client struct {
	baseURL    string
	token      string
	userID     string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithCurrentUser is needed to pick the caller's entry out of per-user unread maps.
func WithCurrentUser(userID string) ClientOption {
	return func(c *Client) {
		c.userID = userID
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Internal("Failed to encode request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Internal("Failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.New("NETWORK_ERROR", fmt.Sprintf("%s %s failed", method, path), http.StatusBadGateway, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.New("NETWORK_ERROR", "Failed to read response", http.StatusBadGateway, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && env.Error != nil {
			return errors.Upstream(resp.StatusCode, env.Error.Code, env.Error.Message)
		}
		return errors.Upstream(resp.StatusCode, "", strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	if decodeErr != nil {
		return errors.Internal("Failed to decode response", decodeErr)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return errors.Internal("Response carried no data", nil)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errors.Internal("Failed to decode response data", err)
	}
	return nil
}
