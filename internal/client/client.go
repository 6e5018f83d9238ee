// Package client talks to a running coursebot server over the same HTTP contract the chat widget uses.
package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"coursebot/internal/chat"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int            `json:"-"`
	Code    string         `json:"error"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%d)", e.Code, e.Status)
}

// Retryable reports whether the server asked the caller to try again.
func (e *APIError) Retryable() bool {
	return e.Status == 502 || e.Status == 503 || e.Details["retryable"] == true
}

// Client is a thin resty wrapper around /chat, /search and /content.
type Client struct {
	http *resty.Client
}

// New returns a client for the server at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	return &Client{http: c}
}

// Chat posts one question.
func (c *Client) Chat(ctx context.Context, req chat.Request) (*chat.Response, error) {
	var out chat.Response
	if err := c.post(ctx, "/chat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search posts one search query.
func (c *Client) Search(ctx context.Context, req chat.SearchRequest) ([]chat.SearchResult, error) {
	var out []chat.SearchResult
	if err := c.post(ctx, "/search", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Content fetches the whole text of one chunk.
func (c *Client) Content(ctx context.Context, id string) (*chat.ContentResponse, error) {
	var out chat.ContentResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		SetError(&APIError{}).
		Get("/content/{id}")
	if err := decodeError(resp, err, "/content"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		SetError(&APIError{}).
		Post(path)
	return decodeError(resp, err, path)
}

func decodeError(resp *resty.Response, err error, path string) error {
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	if !resp.IsError() {
		return nil
	}
	if apiErr, ok := resp.Error().(*APIError); ok && apiErr != nil && apiErr.Code != "" {
		apiErr.Status = resp.StatusCode()
		return apiErr
	}
	return &APIError{Status: resp.StatusCode(), Code: "http_error", Message: strings.TrimSpace(resp.String())}
}
