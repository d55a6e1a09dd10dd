package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"chatppt/internal/domain"
	"chatppt/internal/integrations/imagesearch"
)

const testPrefix = "/chatppt"

func testParams() map[string]string {
	return map[string]string{
		testPrefix + "/prompts/chatbot":           "chatbot prompt",
		testPrefix + "/prompts/formatter":         "formatter prompt",
		testPrefix + "/prompts/assistant":         "assistant prompt",
		testPrefix + "/prompts/image_advisor":     "image prompt",
		testPrefix + "/config/openai_model":       "gpt-test",
		testPrefix + "/config/transcription_model": "whisper-test",
	}
}

type fakeParams struct {
	mu     sync.Mutex
	values map[string]string
	calls  int
}

func (f *fakeParams) GetParameter(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	v, ok := f.values[name]
	if !ok {
		return "", fmt.Errorf("missing %s", name)
	}
	return v, nil
}

// fakeBatchParams also implements GetParameters.
type fakeBatchParams struct {
	fakeParams
	batchCalls int
}

func (f *fakeBatchParams) GetParameters(ctx context.Context, names ...string) (map[string]string, error) {
	f.batchCalls++
	out := make(map[string]string, len(names))
	for _, n := range names {
		v, ok := f.values[n]
		if !ok {
			return nil, fmt.Errorf("missing %s", n)
		}
		out[n] = v
	}
	return out, nil
}

func newTestConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := NewConfig(&fakeParams{values: testParams()}, testPrefix)
	require.NoError(t, err)
	return cfg
}

type fakeLLM struct {
	mu        sync.Mutex
	reply     string
	jsonReply string
	err       error

	lastModel    string
	lastMessages []domain.ChatMessage
	lastJSON     bool
}

func (f *fakeLLM) Chat(_ context.Context, model string, messages []domain.ChatMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastModel, f.lastMessages, f.lastJSON = model, messages, false
	return f.reply, f.err
}

func (f *fakeLLM) ChatJSON(_ context.Context, model string, messages []domain.ChatMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastModel, f.lastMessages, f.lastJSON = model, messages, true
	return f.jsonReply, f.err
}

type fakeSpeech struct {
	text      string
	err       error
	lastModel string
	lastName  string
	lastAudio string
}

func (f *fakeSpeech) Transcribe(_ context.Context, model, filename string, audio io.Reader) (string, error) {
	raw, _ := io.ReadAll(audio)
	f.lastModel, f.lastName, f.lastAudio = model, filename, string(raw)
	return f.text, f.err
}

var errNotFound = errors.New("not found")

// fakeSearcher maps queries to candidate URLs and URLs to images. URLs
// without an image fail to download.
type fakeSearcher struct {
	mu        sync.Mutex
	results   map[string][]string
	images    map[string]imagesearch.Image
	searchErr error
	queries   []string
}

func (f *fakeSearcher) Search(_ context.Context, query string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	urls := f.results[query]
	if len(urls) > limit {
		urls = urls[:limit]
	}
	return urls, nil
}

func (f *fakeSearcher) Download(_ context.Context, url string) (imagesearch.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[url]
	if !ok {
		return imagesearch.Image{}, errNotFound
	}
	return img, nil
}
