package usecase

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"chatppt/internal/domain"
)

const (
	defaultOutputDir = "outputs"
	defaultOutputExt = "pptx"
)

type HistoryStore interface {
	GetHistory(ctx context.Context, sessionID string) (domain.History, error)
	AppendTurn(ctx context.Context, sessionID string, seq int, turn domain.Turn, state domain.State) error
	GetState(ctx context.Context, sessionID string) (domain.State, error)
	SetState(ctx context.Context, sessionID string, state domain.State) error
}

type Synthesizer interface {
	Synthesize(ctx context.Context, requirement string, history domain.History) (string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

type DocumentExtractor interface {
	ExtractDocument(ctx context.Context, path string) (string, error)
}

type ContentFormatter interface {
	FormatContent(ctx context.Context, raw string) (string, error)
}

type PictureAdjuster interface {
	AdjustSinglePicture(ctx context.Context, formatted string) (string, error)
}

type ImageAdvisor interface {
	SuggestImages(ctx context.Context, content string) (string, map[string]string, error)
}

type SlideParser interface {
	ParseSlides(content string, layouts domain.LayoutResolver) (domain.Presentation, error)
}

type Renderer interface {
	Render(ctx context.Context, pres domain.Presentation, templatePath, outputPath string) error
}

// Deps carries every collaborator of the Service. It is built once at startup.
type Deps struct {
	Store       HistoryStore
	Synthesizer Synthesizer
	Transcriber Transcriber
	Extractor   DocumentExtractor
	Formatter   ContentFormatter
	Adjuster    PictureAdjuster
	Images      ImageAdvisor
	Parser      SlideParser
	Layouts     domain.LayoutResolver
	Renderer    Renderer
	Logger      *slog.Logger
}

type Options struct {
	OutputDir    string
	OutputExt    string
	TemplatePath string
}

// Service coordinates synthesis, augmentation and rendering over session
// histories. Actions on the same session run one at a time in arrival order.
type Service struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	locks  *sessionLocks
}

type SubmitInput struct {
	SessionID string
	Message   domain.Message
}

type SubmitOutput struct {
	SessionID string
	Turn      domain.Turn
}

type SessionInput struct {
	SessionID string
}

type AugmentOutput struct {
	SessionID string
	History   domain.History
	Images    map[string]string
}

type RenderOutput struct {
	SessionID    string
	Path         string
	Presentation domain.Presentation
}

type HistoryOutput struct {
	SessionID string
	State     domain.State
	History   domain.History
}

func NewService(deps Deps, opts Options) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("usecase: history store must not be nil")
	case deps.Synthesizer == nil:
		return nil, errors.New("usecase: synthesizer must not be nil")
	case deps.Transcriber == nil:
		return nil, errors.New("usecase: transcriber must not be nil")
	case deps.Extractor == nil:
		return nil, errors.New("usecase: document extractor must not be nil")
	case deps.Formatter == nil:
		return nil, errors.New("usecase: content formatter must not be nil")
	case deps.Adjuster == nil:
		return nil, errors.New("usecase: picture adjuster must not be nil")
	case deps.Images == nil:
		return nil, errors.New("usecase: image advisor must not be nil")
	case deps.Parser == nil:
		return nil, errors.New("usecase: slide parser must not be nil")
	case deps.Layouts == nil:
		return nil, errors.New("usecase: layout resolver must not be nil")
	case deps.Renderer == nil:
		return nil, errors.New("usecase: renderer must not be nil")
	}
	if strings.TrimSpace(opts.TemplatePath) == "" {
		return nil, errors.New("usecase: template path must not be empty")
	}
	opts.OutputDir = strings.TrimRight(strings.TrimSpace(opts.OutputDir), "/")
	if opts.OutputDir == "" {
		opts.OutputDir = defaultOutputDir
	}
	opts.OutputExt = strings.TrimPrefix(strings.TrimSpace(opts.OutputExt), ".")
	if opts.OutputExt == "" {
		opts.OutputExt = defaultOutputExt
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{deps: deps, opts: opts, logger: logger, locks: newSessionLocks()}, nil
}

// Submit turns a message into a new assistant turn. A message with a document
// is answered from the document alone; otherwise typed text and audio
// transcriptions are merged into a requirement for synthesis.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (SubmitOutput, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = newSessionID()
	}
	held, err := s.locks.acquire(ctx, sessionID)
	if err != nil {
		return SubmitOutput{}, s.convert(ctx, StageSynthesis, sessionID, failed("session_wait_cancelled", err))
	}
	defer held.release()
	held.enter(domain.StateSynthesizing)

	var turn domain.Turn
	err = s.guard(ctx, StageSynthesis, sessionID, func(ctx context.Context) error {
		history, err := s.deps.Store.GetHistory(ctx, sessionID)
		if err != nil {
			return failed("history_read_error", err)
		}
		turn, err = s.generate(ctx, in.Message, history)
		if err != nil {
			return err
		}
		if err := s.deps.Store.AppendTurn(ctx, sessionID, len(history), turn, domain.StateSynthesized); err != nil {
			return failed("history_write_error", err)
		}
		return nil
	})
	if err != nil {
		return SubmitOutput{}, err
	}
	return SubmitOutput{SessionID: sessionID, Turn: turn}, nil
}

// generate drafts the next assistant turn. Synthesized turns keep the
// requirement they answer so later syntheses see the whole exchange.
func (s *Service) generate(ctx context.Context, msg domain.Message, history domain.History) (domain.Turn, error) {
	artifacts := ClassifyMessage(msg)
	if doc, ok := firstDocument(artifacts); ok {
		content, err := s.fromDocument(ctx, doc.Path)
		if err != nil {
			return domain.Turn{}, err
		}
		return domain.Turn{Role: domain.RoleAssistant, Content: content}, nil
	}

	fragments, err := s.gatherFragments(ctx, msg, artifacts)
	if err != nil {
		return domain.Turn{}, failed("transcription_error", err)
	}
	requirement := BuildRequirement(fragments)
	s.logger.InfoContext(ctx, "user requirement", slog.String("requirement", requirement))

	content, err := s.deps.Synthesizer.Synthesize(ctx, requirement, history)
	if err != nil {
		return domain.Turn{}, failed("synthesis_error", err)
	}
	if strings.TrimSpace(content) == "" {
		return domain.Turn{}, failed("empty_synthesis", errors.New("synthesizer returned no content"))
	}
	return domain.Turn{Role: domain.RoleAssistant, Content: content, Requirement: requirement}, nil
}

func (s *Service) fromDocument(ctx context.Context, docPath string) (string, error) {
	raw, err := s.deps.Extractor.ExtractDocument(ctx, docPath)
	if err != nil {
		return "", failed("extraction_error", err)
	}
	formatted, err := s.deps.Formatter.FormatContent(ctx, raw)
	if err != nil {
		return "", failed("format_error", err)
	}
	adjusted, err := s.deps.Adjuster.AdjustSinglePicture(ctx, formatted)
	if err != nil {
		return "", failed("adjust_error", err)
	}
	if strings.TrimSpace(adjusted) == "" {
		return "", failed("empty_document_content", errors.New("document produced no content"))
	}
	return adjusted, nil
}

// Augment appends an image-augmented copy of the last turn and returns the
// updated history.
func (s *Service) Augment(ctx context.Context, in SessionInput) (AugmentOutput, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	held, err := s.locks.acquire(ctx, sessionID)
	if err != nil {
		return AugmentOutput{}, s.convert(ctx, StageAugmentation, sessionID, failed("session_wait_cancelled", err))
	}
	defer held.release()

	out := AugmentOutput{SessionID: sessionID}
	err = s.guard(ctx, StageAugmentation, sessionID, func(ctx context.Context) error {
		history, last, err := s.lastTurn(ctx, sessionID)
		if err != nil {
			return err
		}
		held.enter(domain.StateAugmenting)
		content, images, err := s.deps.Images.SuggestImages(ctx, last.Content)
		if err != nil {
			return failed("image_advisor_error", err)
		}
		if strings.TrimSpace(content) == "" {
			return failed("empty_augmentation", errors.New("image advisor returned no content"))
		}
		turn := domain.Turn{Role: domain.RoleAssistant, Content: content}
		if err := s.deps.Store.AppendTurn(ctx, sessionID, len(history), turn, domain.StateAugmented); err != nil {
			return failed("history_write_error", err)
		}
		updated := make(domain.History, 0, len(history)+1)
		out.History = append(append(updated, history...), turn)
		out.Images = images
		return nil
	})
	if err != nil {
		return AugmentOutput{}, err
	}
	return out, nil
}

// Render writes the last turn as a presentation file and returns its path.
func (s *Service) Render(ctx context.Context, in SessionInput) (RenderOutput, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	held, err := s.locks.acquire(ctx, sessionID)
	if err != nil {
		return RenderOutput{}, s.convert(ctx, StageRendering, sessionID, failed("session_wait_cancelled", err))
	}
	defer held.release()

	out := RenderOutput{SessionID: sessionID}
	err = s.guard(ctx, StageRendering, sessionID, func(ctx context.Context) error {
		_, last, err := s.lastTurn(ctx, sessionID)
		if err != nil {
			return err
		}
		held.enter(domain.StateRendering)
		pres, err := s.deps.Parser.ParseSlides(last.Content, s.deps.Layouts)
		if err != nil {
			return failed("parse_error", err)
		}
		outputPath := s.OutputPath(pres.Title)
		if err := s.deps.Renderer.Render(ctx, pres, s.opts.TemplatePath, outputPath); err != nil {
			return failed("render_error", err)
		}
		if err := s.deps.Store.SetState(ctx, sessionID, domain.StateRendered); err != nil {
			s.logger.WarnContext(ctx, "rendered state not recorded",
				slog.String("session_id", sessionID), slog.Any("err", err))
		}
		out.Path = outputPath
		out.Presentation = pres
		return nil
	})
	if err != nil {
		return RenderOutput{}, err
	}
	return out, nil
}

// History returns the session's turns and current state without queueing
// behind running actions.
func (s *Service) History(ctx context.Context, in SessionInput) (HistoryOutput, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	out := HistoryOutput{SessionID: sessionID}
	err := s.guard(ctx, StageHistory, sessionID, func(ctx context.Context) error {
		if sessionID == "" {
			return failed("missing_session", ErrNoContent)
		}
		history, err := s.deps.Store.GetHistory(ctx, sessionID)
		if err != nil {
			return failed("history_read_error", err)
		}
		state, err := s.State(ctx, sessionID)
		if err != nil {
			return failed("state_read_error", err)
		}
		out.History = history
		out.State = state
		return nil
	})
	if err != nil {
		return HistoryOutput{}, err
	}
	return out, nil
}

// State reports the in-flight state of a running action, or the persisted
// rest state otherwise.
func (s *Service) State(ctx context.Context, sessionID string) (domain.State, error) {
	if st, ok := s.locks.inFlight(sessionID); ok {
		return st, nil
	}
	st, err := s.deps.Store.GetState(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if st == "" {
		return domain.StateIdle, nil
	}
	return st, nil
}

// OutputPath is where a presentation titled title is written.
func (s *Service) OutputPath(title string) string {
	return path.Join(s.opts.OutputDir, outputName(title)+"."+s.opts.OutputExt)
}

func (s *Service) lastTurn(ctx context.Context, sessionID string) (domain.History, domain.Turn, error) {
	if sessionID == "" {
		return nil, domain.Turn{}, failed("missing_session", ErrNoContent)
	}
	history, err := s.deps.Store.GetHistory(ctx, sessionID)
	if err != nil {
		return nil, domain.Turn{}, failed("history_read_error", err)
	}
	last, ok := history.Last()
	if !ok {
		return nil, domain.Turn{}, failed("empty_history", ErrNoContent)
	}
	return history, last, nil
}

var titleReplacer = strings.NewReplacer("/", "_", "\\", "_", "\x00", "")

func outputName(title string) string {
	name := strings.TrimLeft(strings.TrimSpace(titleReplacer.Replace(title)), ".")
	if name == "" {
		return "presentation"
	}
	return name
}

var newSessionID = func() string {
	return uuid.NewString()
}
