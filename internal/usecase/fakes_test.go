package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"chatppt/internal/domain"
)

type fakeStore struct {
	mu        sync.Mutex
	histories map[string]domain.History
	states    map[string]domain.State
	getErr    error
	appendErr error
	stateErr  error
	appends   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{histories: map[string]domain.History{}, states: map[string]domain.State{}}
}

func (f *fakeStore) seed(sessionID string, turns ...domain.Turn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histories[sessionID] = append(domain.History(nil), turns...)
	f.states[sessionID] = domain.StateSynthesized
}

func (f *fakeStore) GetHistory(_ context.Context, sessionID string) (domain.History, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return append(domain.History(nil), f.histories[sessionID]...), nil
}

func (f *fakeStore) AppendTurn(_ context.Context, sessionID string, seq int, turn domain.Turn, state domain.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	if seq != len(f.histories[sessionID]) {
		return fmt.Errorf("conflict: seq %d, have %d", seq, len(f.histories[sessionID]))
	}
	f.histories[sessionID] = append(f.histories[sessionID], turn)
	f.states[sessionID] = state
	f.appends++
	return nil
}

func (f *fakeStore) GetState(_ context.Context, sessionID string) (domain.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[sessionID], f.stateErr
}

func (f *fakeStore) SetState(_ context.Context, sessionID string, state domain.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return f.stateErr
	}
	f.states[sessionID] = state
	return nil
}

func (f *fakeStore) history(sessionID string) domain.History {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append(domain.History(nil), f.histories[sessionID]...)
}

type fakeSynth struct {
	mu           sync.Mutex
	out          string
	err          error
	panicWith    any
	requirements []string
	histories    []domain.History
	gate         chan struct{}
	entered      chan struct{}
}

func (f *fakeSynth) Synthesize(_ context.Context, requirement string, history domain.History) (string, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requirements = append(f.requirements, requirement)
	f.histories = append(f.histories, history)
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	return f.out, f.err
}

func (f *fakeSynth) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requirements)
}

type fakeTranscriber struct {
	texts map[string]string
	err   error
	paths []string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, path string) (string, error) {
	f.paths = append(f.paths, path)
	if f.err != nil {
		return "", f.err
	}
	return f.texts[path], nil
}

type fakeExtractor struct {
	err   error
	paths []string
}

func (f *fakeExtractor) ExtractDocument(_ context.Context, path string) (string, error) {
	f.paths = append(f.paths, path)
	if f.err != nil {
		return "", f.err
	}
	return "raw:" + path, nil
}

type fakeFormatter struct{ err error }

func (f *fakeFormatter) FormatContent(_ context.Context, raw string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "formatted(" + raw + ")", nil
}

type fakeAdjuster struct{ err error }

func (f *fakeAdjuster) AdjustSinglePicture(_ context.Context, formatted string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "adjusted(" + formatted + ")", nil
}

type fakeImages struct {
	err   error
	calls int
	input string
}

func (f *fakeImages) SuggestImages(_ context.Context, content string) (string, map[string]string, error) {
	f.calls++
	f.input = content
	if f.err != nil {
		return "", nil, f.err
	}
	return content + "\n![Slide 1](images/slide-1/0.png)", map[string]string{"Slide 1": "images/slide-1/0.png"}, nil
}

type fakeParser struct {
	title  string
	err    error
	inputs []string
}

func (f *fakeParser) ParseSlides(content string, layouts domain.LayoutResolver) (domain.Presentation, error) {
	f.inputs = append(f.inputs, content)
	if f.err != nil {
		return domain.Presentation{}, f.err
	}
	slide := domain.Slide{Title: "Slide 1"}
	layout, err := layouts.ResolveLayout(slide)
	if err != nil {
		return domain.Presentation{}, err
	}
	slide.Layout = layout
	return domain.Presentation{Title: f.title, Slides: []domain.Slide{slide}}, nil
}

type fakeLayouts struct{}

func (fakeLayouts) ResolveLayout(domain.Slide) (domain.Layout, error) {
	return domain.Layout{Name: "Title, Content 1", Index: 1}, nil
}

type renderCall struct {
	pres     domain.Presentation
	template string
	output   string
}

type fakeRenderer struct {
	err   error
	calls []renderCall
}

func (f *fakeRenderer) Render(_ context.Context, pres domain.Presentation, templatePath, outputPath string) error {
	f.calls = append(f.calls, renderCall{pres: pres, template: templatePath, output: outputPath})
	return f.err
}

type fixture struct {
	store     *fakeStore
	synth     *fakeSynth
	audio     *fakeTranscriber
	extractor *fakeExtractor
	formatter *fakeFormatter
	adjuster  *fakeAdjuster
	images    *fakeImages
	parser    *fakeParser
	renderer  *fakeRenderer
	svc       *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     newFakeStore(),
		synth:     &fakeSynth{out: "# Deck\n## Slide 1\n- point"},
		audio:     &fakeTranscriber{texts: map[string]string{}},
		extractor: &fakeExtractor{},
		formatter: &fakeFormatter{},
		adjuster:  &fakeAdjuster{},
		images:    &fakeImages{},
		parser:    &fakeParser{title: "Sales Review"},
		renderer:  &fakeRenderer{},
	}
	svc, err := NewService(f.deps(), Options{TemplatePath: "templates/MasterTemplate.pptx"})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) deps() Deps {
	return Deps{
		Store:       f.store,
		Synthesizer: f.synth,
		Transcriber: f.audio,
		Extractor:   f.extractor,
		Formatter:   f.formatter,
		Adjuster:    f.adjuster,
		Images:      f.images,
		Parser:      f.parser,
		Layouts:     fakeLayouts{},
		Renderer:    f.renderer,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func expectStageError(t *testing.T, err error, code ErrorCode, stage Stage, message string) *Error {
	t.Helper()
	var ue *Error
	require.ErrorAs(t, err, &ue)
	require.Equal(t, code, ue.Code)
	require.Equal(t, stage, ue.Stage)
	require.Equal(t, message, ue.Message)
	return ue
}

var errBoom = errors.New("boom")
