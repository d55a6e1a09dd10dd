package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"chatppt/internal/domain"
	"chatppt/internal/usecase"
)

// ChatBot turns a requirement into slide markdown, continuing the session's
// earlier turns.
type ChatBot struct {
	llm    LLMClient
	cfg    *Config
	logger *slog.Logger
}

func NewChatBot(llm LLMClient, cfg *Config, logger *slog.Logger) (*ChatBot, error) {
	if llm == nil {
		return nil, errors.New("assistant: llm client must not be nil")
	}
	if cfg == nil {
		return nil, errors.New("assistant: config must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatBot{llm: llm, cfg: cfg, logger: logger}, nil
}

// Synthesize drafts a deck for requirement. Each earlier turn is replayed as
// the user requirement it answered, if any, followed by the draft itself, so
// follow-up requests refine with the full exchange in view.
func (b *ChatBot) Synthesize(ctx context.Context, requirement string, history domain.History) (string, error) {
	if strings.TrimSpace(strings.TrimPrefix(requirement, usecase.RequirementPrefix)) == "" {
		return "", fmt.Errorf("assistant: synthesize: %w", usecase.ErrEmptyInput)
	}
	s, err := b.cfg.ensureConfig(ctx)
	if err != nil {
		return "", err
	}

	messages := make([]domain.ChatMessage, 0, 2*len(history)+2)
	messages = append(messages, domain.ChatMessage{Role: "system", Content: s.chatbotPrompt})
	for _, turn := range history {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		if strings.TrimSpace(turn.Requirement) != "" {
			messages = append(messages, domain.ChatMessage{Role: string(domain.RoleUser), Content: turn.Requirement})
		}
		messages = append(messages, domain.ChatMessage{Role: string(turn.Role), Content: turn.Content})
	}
	messages = append(messages, domain.ChatMessage{Role: "user", Content: requirement})

	reply, err := b.llm.Chat(ctx, s.chatModel, messages)
	if err != nil {
		return "", fmt.Errorf("assistant: synthesize: %w", err)
	}
	b.logger.DebugContext(ctx, "synthesized",
		slog.Int("history_turns", len(history)),
		slog.Int("reply_bytes", len(reply)),
	)
	return stripFence(reply), nil
}
