package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"chatppt/internal/storage"
)

type SpeechClient interface {
	Transcribe(ctx context.Context, model, filename string, audio io.Reader) (string, error)
}

// Transcriber reads an uploaded recording from storage and returns its text.
type Transcriber struct {
	speech SpeechClient
	files  storage.FileStore
	cfg    *Config
}

func NewTranscriber(speech SpeechClient, files storage.FileStore, cfg *Config) (*Transcriber, error) {
	switch {
	case speech == nil:
		return nil, errors.New("assistant: speech client must not be nil")
	case files == nil:
		return nil, errors.New("assistant: file store must not be nil")
	case cfg == nil:
		return nil, errors.New("assistant: config must not be nil")
	}
	return &Transcriber{speech: speech, files: files, cfg: cfg}, nil
}

func (t *Transcriber) Transcribe(ctx context.Context, path string) (string, error) {
	s, err := t.cfg.ensureConfig(ctx)
	if err != nil {
		return "", err
	}
	rc, err := t.files.Open(ctx, path)
	if err != nil {
		return "", fmt.Errorf("assistant: open %s: %w", path, err)
	}
	defer func() { _ = rc.Close() }()

	text, err := t.speech.Transcribe(ctx, s.transcriptionModel, path, rc)
	if err != nil {
		return "", fmt.Errorf("assistant: transcribe %s: %w", path, err)
	}
	return strings.TrimSpace(text), nil
}
