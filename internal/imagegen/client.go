// Package imagegen calls the Pollinations text-to-image endpoint.
package imagegen

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxImageBytes bounds how much of an upstream response is buffered
const maxImageBytes = 20 << 20

// Config configures the client
type Config struct {
	Endpoint string
	Timeout  time.Duration
	Width    int
	Height   int
}

// Client fetches generated images
type Client struct {
	httpClient *http.Client
	endpoint   string
	width      int
	height     int
}

// NewClient creates an image generation client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	width, height := cfg.Width, cfg.Height
	if width == 0 {
		width = 1024
	}
	if height == 0 {
		height = 1024
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		width:    width,
		height:   height,
	}
}

// URL returns the request URL for a prompt
func (c *Client) URL(prompt string) string {
	return fmt.Sprintf("%s/%s?nologo=true&width=%d&height=%d",
		c.endpoint, url.PathEscape(prompt), c.width, c.height)
}

// Generate returns the image bytes for prompt. The body is read completely
// before returning, so a timeout never yields a truncated image.
func (c *Client) Generate(ctx context.Context, prompt string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("pollinations status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image body: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image body")
	}
	return data, nil
}
