// Package imagesearch finds and downloads pictures for slides by scraping an
// image search results page.
package imagesearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultBaseURL   = "https://www.bing.com"
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	// MaxImageSize bounds a single download.
	MaxImageSize = 10 << 20
)

// ErrNotImage is returned by Download when the response is not a picture.
var ErrNotImage = errors.New("imagesearch: response is not an image")

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("imagesearch: unexpected status %d from %s", e.StatusCode, e.URL)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Image is a downloaded picture.
type Image struct {
	Data        []byte
	ContentType string
	// Ext is the file extension including the dot, derived from the content
	// type or the source URL.
	Ext string
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// resultMeta is the JSON carried in the "m" attribute of each result anchor.
type resultMeta struct {
	MediaURL string `json:"murl"`
	ThumbURL string `json:"turl"`
}

// Search returns up to limit picture URLs for query, best match first.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("imagesearch: query must not be empty")
	}
	if limit <= 0 {
		limit = 5
	}

	u := c.baseURL + "/images/search?" + url.Values{"q": {query}, "form": {"HDRSC2"}}.Encode()
	res, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, fmt.Errorf("imagesearch: parse results: %w", err)
	}

	seen := make(map[string]bool)
	var urls []string
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if len(urls) >= limit || raw == "" || seen[raw] {
			return
		}
		if p, err := url.Parse(raw); err != nil || (p.Scheme != "http" && p.Scheme != "https") {
			return
		}
		seen[raw] = true
		urls = append(urls, raw)
	}

	doc.Find("a.iusc").Each(func(_ int, sel *goquery.Selection) {
		m, ok := sel.Attr("m")
		if !ok {
			return
		}
		var meta resultMeta
		if err := json.Unmarshal([]byte(m), &meta); err != nil {
			return
		}
		add(meta.MediaURL)
	})
	if len(urls) == 0 {
		doc.Find("img.mimg").Each(func(_ int, sel *goquery.Selection) {
			if src, ok := sel.Attr("src"); ok {
				add(src)
				return
			}
			if src, ok := sel.Attr("data-src"); ok {
				add(src)
			}
		})
	}
	return urls, nil
}

// Download fetches one picture. Responses that are not image/* are rejected
// with ErrNotImage.
func (c *Client) Download(ctx context.Context, rawURL string) (Image, error) {
	res, err := c.get(ctx, rawURL)
	if err != nil {
		return Image{}, err
	}
	defer func() { _ = res.Body.Close() }()

	ct, _, _ := mime.ParseMediaType(res.Header.Get("Content-Type"))
	if !strings.HasPrefix(ct, "image/") {
		return Image{}, fmt.Errorf("%w: %s is %q", ErrNotImage, rawURL, ct)
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, MaxImageSize+1))
	if err != nil {
		return Image{}, fmt.Errorf("imagesearch: read %s: %w", rawURL, err)
	}
	if len(data) > MaxImageSize {
		return Image{}, fmt.Errorf("imagesearch: %s exceeds %d bytes", rawURL, MaxImageSize)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%w: %s is empty", ErrNotImage, rawURL)
	}
	return Image{Data: data, ContentType: ct, Ext: extension(ct, rawURL)}, nil
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("imagesearch: create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("imagesearch: request failed: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		_ = res.Body.Close()
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: u}
	}
	return res, nil
}

var extensions = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/bmp":     ".bmp",
	"image/svg+xml": ".svg",
}

func extension(contentType, rawURL string) string {
	if ext, ok := extensions[contentType]; ok {
		return ext
	}
	if p, err := url.Parse(rawURL); err == nil {
		if ext := strings.ToLower(path.Ext(p.Path)); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	return ".img"
}
