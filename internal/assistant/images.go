package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"unicode"

	"github.com/kaptinlin/jsonrepair"
	"golang.org/x/sync/errgroup"

	"chatppt/internal/integrations/imagesearch"
	"chatppt/internal/storage"
)

const (
	defaultCandidates  = 5
	defaultConcurrency = 4

	// ImageDir is the storage prefix for pictures found by search.
	ImageDir = "images"
)

// ErrNoImage is returned when no slide got a picture.
var ErrNoImage = errors.New("assistant: no suitable image found")

type ImageSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
	Download(ctx context.Context, url string) (imagesearch.Image, error)
}

// ImageAdvisor asks the model for search keywords per slide, fetches one
// picture for each slide in parallel and places it under the slide heading.
type ImageAdvisor struct {
	llm    LLMClient
	cfg    *Config
	search ImageSearcher
	files  storage.FileStore
	logger *slog.Logger

	candidates  int
	concurrency int
}

func NewImageAdvisor(llm LLMClient, cfg *Config, search ImageSearcher, files storage.FileStore, logger *slog.Logger) (*ImageAdvisor, error) {
	switch {
	case llm == nil:
		return nil, errors.New("assistant: llm client must not be nil")
	case cfg == nil:
		return nil, errors.New("assistant: config must not be nil")
	case search == nil:
		return nil, errors.New("assistant: image searcher must not be nil")
	case files == nil:
		return nil, errors.New("assistant: file store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageAdvisor{
		llm:         llm,
		cfg:         cfg,
		search:      search,
		files:       files,
		logger:      logger,
		candidates:  defaultCandidates,
		concurrency: defaultConcurrency,
	}, nil
}

type slideQuery struct {
	title    string
	keywords string
	found    string
}

// SuggestImages returns content with a ![title](path) line after each slide
// heading that got a picture, plus the title to path mapping.
func (a *ImageAdvisor) SuggestImages(ctx context.Context, content string) (string, map[string]string, error) {
	s, err := a.cfg.ensureConfig(ctx)
	if err != nil {
		return "", nil, err
	}
	raw, err := a.llm.ChatJSON(ctx, s.chatModel, promptMessages(s.imageAdvisorPrompt, content))
	if err != nil {
		return "", nil, fmt.Errorf("assistant: image keywords: %w", err)
	}
	keywords, err := parseKeywords(raw)
	if err != nil {
		return "", nil, err
	}

	var queries []*slideQuery
	for _, title := range slideTitles(content) {
		if kw, ok := keywords[title]; ok && kw != "" {
			queries = append(queries, &slideQuery{title: title, keywords: kw})
		}
	}
	if len(queries) == 0 {
		return "", nil, fmt.Errorf("%w: no keywords matched a slide", ErrNoImage)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(a.concurrency)
	for _, q := range queries {
		eg.Go(func() error {
			q.found = a.fetch(egCtx, q)
			return egCtx.Err()
		})
	}
	if err := eg.Wait(); err != nil {
		return "", nil, fmt.Errorf("assistant: image search: %w", err)
	}

	images := make(map[string]string)
	for _, q := range queries {
		if q.found != "" {
			images[q.title] = q.found
		}
	}
	if len(images) == 0 {
		return "", nil, ErrNoImage
	}
	a.logger.InfoContext(ctx, "images placed",
		slog.Int("slides", len(queries)),
		slog.Int("found", len(images)),
	)
	return insertImages(content, images), images, nil
}

// fetch stores the first candidate that downloads as a picture and returns
// its storage path, or "" when none did.
func (a *ImageAdvisor) fetch(ctx context.Context, q *slideQuery) string {
	urls, err := a.search.Search(ctx, q.keywords, a.candidates)
	if err != nil {
		a.logger.WarnContext(ctx, "image search failed",
			slog.String("slide", q.title),
			slog.String("err", err.Error()),
		)
		return ""
	}
	for i, u := range urls {
		if ctx.Err() != nil {
			return ""
		}
		img, err := a.search.Download(ctx, u)
		if err != nil {
			a.logger.DebugContext(ctx, "image candidate skipped",
				slog.String("slide", q.title),
				slog.String("url", u),
				slog.String("err", err.Error()),
			)
			continue
		}
		dest := path.Join(ImageDir, slug(q.title), fmt.Sprintf("%d%s", i+1, img.Ext))
		if err := a.files.Put(ctx, dest, bytes.NewReader(img.Data), img.ContentType); err != nil {
			a.logger.WarnContext(ctx, "image store failed",
				slog.String("slide", q.title),
				slog.String("path", dest),
				slog.String("err", err.Error()),
			)
			continue
		}
		return dest
	}
	return ""
}

// parseKeywords decodes the model's {"slide title": "keywords"} object,
// repairing malformed JSON first. Array values are joined with spaces.
func parseKeywords(raw string) (map[string]string, error) {
	raw = stripFence(raw)
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		var syntaxErr *json.SyntaxError
		if !errors.As(err, &syntaxErr) {
			return nil, fmt.Errorf("assistant: decode keywords: %w", err)
		}
		fixed, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, fmt.Errorf("assistant: repair keywords: %w", repairErr)
		}
		if err := json.Unmarshal([]byte(fixed), &obj); err != nil {
			return nil, fmt.Errorf("assistant: decode keywords: %w", err)
		}
	}

	out := make(map[string]string, len(obj))
	for title, v := range obj {
		title = strings.TrimSpace(title)
		switch kw := v.(type) {
		case string:
			out[title] = strings.TrimSpace(kw)
		case []any:
			var parts []string
			for _, p := range kw {
				if s, ok := p.(string); ok && strings.TrimSpace(s) != "" {
					parts = append(parts, strings.TrimSpace(s))
				}
			}
			out[title] = strings.Join(parts, " ")
		}
	}
	return out, nil
}

// headingTitle returns the slide title of a "## " line with any trailing
// [layout] tag removed.
func headingTitle(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "## ") {
		return "", false
	}
	title := strings.TrimSpace(line[3:])
	if i := strings.LastIndex(title, " ["); i > 0 && strings.HasSuffix(title, "]") {
		title = strings.TrimSpace(title[:i])
	}
	return title, title != ""
}

func slideTitles(content string) []string {
	var titles []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(content, "\n") {
		if title, ok := headingTitle(line); ok && !seen[title] {
			seen[title] = true
			titles = append(titles, title)
		}
	}
	return titles
}

func insertImages(content string, images map[string]string) string {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines)+len(images))
	for _, line := range lines {
		out = append(out, line)
		if title, ok := headingTitle(line); ok {
			if p, ok := images[title]; ok {
				out = append(out, "!["+title+"]("+p+")")
			}
		}
	}
	return strings.Join(out, "\n")
}

// slug makes a storage-safe directory name from a slide title. Letters of
// any script are kept.
func slug(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimRight(b.String(), "-")
	if s == "" {
		return "slide"
	}
	return s
}
