// Package enhance calls the backend's text enhancement endpoints.
package enhance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrEmptyText is returned before any request when the input is blank.
var ErrEmptyText = errors.New("no text to enhance")

type request struct {
	Text string `json:"text"`
}

type askResponse struct {
	Answer string `json:"answer"`
}

// Client talks to the readability, correctness and ask_ai endpoints.
type Client struct {
	http *resty.Client
}

// New creates a client for the API rooted at baseURL, e.g.
// http://localhost:3005/api/v1.
func New(baseURL string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json")
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &Client{http: c}
}

// Readability rewrites text for readability. The response is copied to w
// as it streams in; the full text is returned.
func (c *Client) Readability(ctx context.Context, text string, w io.Writer) (string, error) {
	return c.stream(ctx, "/readability", text, w)
}

// Correctness checks text for factual errors, streaming like Readability.
func (c *Client) Correctness(ctx context.Context, text string, w io.Writer) (string, error) {
	return c.stream(ctx, "/correctness", text, w)
}

// AskAI sends text as a question and returns the answer.
func (c *Client) AskAI(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(request{Text: text}).
		Post("/ask_ai")
	if err != nil {
		return "", fmt.Errorf("ask_ai: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("ask_ai: unexpected status %d", resp.StatusCode())
	}

	var out askResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("ask_ai: decode response: %w", err)
	}
	return out.Answer, nil
}

func (c *Client) stream(ctx context.Context, path, text string, w io.Writer) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(request{Text: text}).
		SetDoNotParseResponse(true).
		Post(path)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.IsError() {
		return "", fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode())
	}

	var full strings.Builder
	dst := io.Writer(&full)
	if w != nil {
		dst = io.MultiWriter(&full, w)
	}
	if _, err := io.Copy(dst, body); err != nil {
		return full.String(), fmt.Errorf("%s: read response: %w", path, err)
	}
	return full.String(), nil
}
