// Package app assembles the generation pipeline from configuration. Both the
// Lambda entry point and the local CLI build their service here.
package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"chatppt/internal/assistant"
	"chatppt/internal/config"
	"chatppt/internal/integrations/docx"
	"chatppt/internal/integrations/imagesearch"
	"chatppt/internal/integrations/openai"
	"chatppt/internal/integrations/renderer"
	"chatppt/internal/slides"
	"chatppt/internal/storage"
	"chatppt/internal/usecase"
)

// Backends are the stateful dependencies chosen by the entry point.
type Backends struct {
	Store  usecase.HistoryStore
	Files  storage.FileStore
	Params assistant.ParamGetter
	Logger *slog.Logger

	// HTTPClient overrides the client used for upstream calls when set.
	HTTPClient *http.Client
}

func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func NewService(cfg *config.Config, b Backends) (*usecase.Service, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if b.Store == nil || b.Files == nil || b.Params == nil {
		return nil, errors.New("app: store, files and params must be set")
	}
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	openaiOpts := []openai.Option{openai.WithBaseURL(cfg.OpenAIBaseURL)}
	searchOpts := []imagesearch.Option{imagesearch.WithBaseURL(cfg.ImageSearchURL)}
	var renderOpts []renderer.Option
	if b.HTTPClient != nil {
		openaiOpts = append(openaiOpts, openai.WithHTTPClient(b.HTTPClient))
		searchOpts = append(searchOpts, imagesearch.WithHTTPClient(b.HTTPClient))
		renderOpts = append(renderOpts, renderer.WithHTTPClient(b.HTTPClient))
	}

	llm, err := openai.NewClient(b.Params, cfg.ParamPrefix, openaiOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: openai client: %w", err)
	}
	prompts, err := assistant.NewConfig(b.Params, cfg.ParamPrefix)
	if err != nil {
		return nil, fmt.Errorf("app: prompts: %w", err)
	}

	chatbot, err := assistant.NewChatBot(llm, prompts, logger)
	if err != nil {
		return nil, err
	}
	transcriber, err := assistant.NewTranscriber(llm, b.Files, prompts)
	if err != nil {
		return nil, err
	}
	formatter, err := assistant.NewContentFormatter(llm, prompts)
	if err != nil {
		return nil, err
	}
	adjuster, err := assistant.NewContentAssistant(llm, prompts)
	if err != nil {
		return nil, err
	}
	advisor, err := assistant.NewImageAdvisor(llm, prompts, imagesearch.New(searchOpts...), b.Files, logger)
	if err != nil {
		return nil, err
	}
	extractor, err := docx.New(b.Files, logger)
	if err != nil {
		return nil, err
	}
	layouts, err := slides.LoadLayouts(cfg.LayoutFile)
	if err != nil {
		return nil, fmt.Errorf("app: layouts: %w", err)
	}
	render, err := renderer.New(cfg.RendererURL, b.Files, renderOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: renderer: %w", err)
	}

	return usecase.NewService(usecase.Deps{
		Store:       b.Store,
		Synthesizer: chatbot,
		Transcriber: transcriber,
		Extractor:   extractor,
		Formatter:   formatter,
		Adjuster:    adjuster,
		Images:      advisor,
		Parser:      slides.NewParser(),
		Layouts:     layouts,
		Renderer:    render,
		Logger:      logger,
	}, usecase.Options{
		OutputDir:    cfg.OutputDir,
		OutputExt:    cfg.OutputExt,
		TemplatePath: cfg.TemplatePath,
	})
}
