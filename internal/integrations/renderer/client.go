// Package renderer turns a parsed presentation into a .pptx file by calling
// the template render service.
package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chatppt/internal/domain"
	"chatppt/internal/storage"
)

const (
	defaultTimeout = 60 * time.Second

	// ContentType is the media type of rendered presentations.
	ContentType = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
)

// HTTPStatusError captures non-2xx responses from the render service.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("renderer: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type renderRequest struct {
	Template     string              `json:"template"`
	Presentation domain.Presentation `json:"presentation"`
}

// Client posts presentations to the render service and stores the returned
// file.
type Client struct {
	baseURL    string
	httpClient *http.Client
	files      storage.FileStore
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func New(baseURL string, files storage.FileStore, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("renderer: base url must not be empty")
	}
	if files == nil {
		return nil, errors.New("renderer: file store must not be nil")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		files:      files,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Render renders pres with the template at templatePath and writes the
// result to outputPath, replacing any previous file.
func (c *Client) Render(ctx context.Context, pres domain.Presentation, templatePath, outputPath string) error {
	if strings.TrimSpace(outputPath) == "" {
		return errors.New("renderer: output path must not be empty")
	}
	body, err := json.Marshal(renderRequest{Template: templatePath, Presentation: pres})
	if err != nil {
		return fmt.Errorf("renderer: marshal request: %w", err)
	}

	url := c.baseURL + "/v1/render"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("renderer: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", ContentType)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("renderer: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}

	if err := c.files.Put(ctx, outputPath, res.Body, ContentType); err != nil {
		return fmt.Errorf("renderer: store %s: %w", outputPath, err)
	}
	return nil
}
