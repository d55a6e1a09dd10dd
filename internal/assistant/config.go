// Package assistant holds the LLM-backed collaborators of the generation
// pipeline: synthesis, document formatting, picture adjustment, image
// advice and speech transcription.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"chatppt/internal/domain"
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// batchGetter is implemented by parameter stores that can resolve several
// names in one round trip.
type batchGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
	ChatJSON(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

type settings struct {
	chatbotPrompt      string
	formatterPrompt    string
	assistantPrompt    string
	imageAdvisorPrompt string
	chatModel          string
	transcriptionModel string
}

// Config loads prompts and model names from the parameter store on first use
// and caches them for the lifetime of the process.
type Config struct {
	params ParamGetter
	prefix string

	cacheMu     sync.RWMutex
	cacheLoaded bool
	cached      settings
}

func NewConfig(params ParamGetter, paramPrefix string) (*Config, error) {
	if params == nil {
		return nil, errors.New("assistant: param getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("assistant: parameter prefix must not be empty")
	}
	return &Config{params: params, prefix: paramPrefix}, nil
}

func (c *Config) names() []string {
	return []string{
		c.prefix + "/prompts/chatbot",
		c.prefix + "/prompts/formatter",
		c.prefix + "/prompts/assistant",
		c.prefix + "/prompts/image_advisor",
		c.prefix + "/config/openai_model",
		c.prefix + "/config/transcription_model",
	}
}

func (c *Config) ensureConfig(ctx context.Context) (settings, error) {
	c.cacheMu.RLock()
	if c.cacheLoaded {
		s := c.cached
		c.cacheMu.RUnlock()
		return s, nil
	}
	c.cacheMu.RUnlock()

	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if c.cacheLoaded {
		return c.cached, nil
	}

	s, err := c.loadParams(ctx)
	if err != nil {
		return settings{}, err
	}
	c.cached = s
	c.cacheLoaded = true
	return s, nil
}

func (c *Config) loadParams(ctx context.Context) (settings, error) {
	names := c.names()
	values := make(map[string]string, len(names))
	if bg, ok := c.params.(batchGetter); ok {
		got, err := bg.GetParameters(ctx, names...)
		if err != nil {
			return settings{}, fmt.Errorf("assistant: load parameters: %w", err)
		}
		values = got
	} else {
		for _, name := range names {
			v, err := c.params.GetParameter(ctx, name)
			if err != nil {
				return settings{}, fmt.Errorf("assistant: load %s: %w", name, err)
			}
			values[name] = v
		}
	}

	s := settings{
		chatbotPrompt:      strings.TrimSpace(values[names[0]]),
		formatterPrompt:    strings.TrimSpace(values[names[1]]),
		assistantPrompt:    strings.TrimSpace(values[names[2]]),
		imageAdvisorPrompt: strings.TrimSpace(values[names[3]]),
		chatModel:          strings.TrimSpace(values[names[4]]),
		transcriptionModel: strings.TrimSpace(values[names[5]]),
	}
	if s.chatModel == "" {
		return settings{}, errors.New("assistant: openai model is empty")
	}
	if s.transcriptionModel == "" {
		return settings{}, errors.New("assistant: transcription model is empty")
	}
	return s, nil
}

// stripFence removes a markdown code fence wrapping the whole reply.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	nl := strings.IndexByte(s, '\n')
	if nl < 0 {
		return strings.TrimSpace(strings.Trim(s, "`"))
	}
	body := s[nl+1:]
	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}

func promptMessages(system, user string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}
