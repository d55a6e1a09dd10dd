package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatppt/internal/usecase"
)

// ContentFormatter rewrites an extracted document outline into the slide
// markdown format.
type ContentFormatter struct {
	llm LLMClient
	cfg *Config
}

func NewContentFormatter(llm LLMClient, cfg *Config) (*ContentFormatter, error) {
	if llm == nil || cfg == nil {
		return nil, errors.New("assistant: llm client and config must not be nil")
	}
	return &ContentFormatter{llm: llm, cfg: cfg}, nil
}

func (f *ContentFormatter) FormatContent(ctx context.Context, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("assistant: format: %w", usecase.ErrEmptyInput)
	}
	s, err := f.cfg.ensureConfig(ctx)
	if err != nil {
		return "", err
	}
	reply, err := f.llm.Chat(ctx, s.chatModel, promptMessages(s.formatterPrompt, raw))
	if err != nil {
		return "", fmt.Errorf("assistant: format: %w", err)
	}
	return stripFence(reply), nil
}

// ContentAssistant reshapes formatted slides so each slide keeps at most one
// picture.
type ContentAssistant struct {
	llm LLMClient
	cfg *Config
}

func NewContentAssistant(llm LLMClient, cfg *Config) (*ContentAssistant, error) {
	if llm == nil || cfg == nil {
		return nil, errors.New("assistant: llm client and config must not be nil")
	}
	return &ContentAssistant{llm: llm, cfg: cfg}, nil
}

func (a *ContentAssistant) AdjustSinglePicture(ctx context.Context, formatted string) (string, error) {
	if strings.TrimSpace(formatted) == "" {
		return "", fmt.Errorf("assistant: adjust: %w", usecase.ErrEmptyInput)
	}
	s, err := a.cfg.ensureConfig(ctx)
	if err != nil {
		return "", err
	}
	reply, err := a.llm.Chat(ctx, s.chatModel, promptMessages(s.assistantPrompt, formatted))
	if err != nil {
		return "", fmt.Errorf("assistant: adjust: %w", err)
	}
	return stripFence(reply), nil
}
