package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"chatppt/internal/config"
	"chatppt/internal/domain"
	"chatppt/internal/integrations/paramstore"
	"chatppt/internal/repository"
	"chatppt/internal/storage"
	"chatppt/internal/usecase"
)

const deck = "# Sales Review\n## Revenue\n- Up 12%"

// upstream fakes the OpenAI, image search and render services on one server.
type upstream struct {
	*httptest.Server

	mu          sync.Mutex
	lastRequest string
	renders     int
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages       []domain.ChatMessage `json:"messages"`
			ResponseFormat *struct{}            `json:"response_format"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		reply := deck
		if req.ResponseFormat != nil {
			reply = `{"Revenue": "revenue chart"}`
		} else {
			u.mu.Lock()
			u.lastRequest = req.Messages[len(req.Messages)-1].Content
			u.mu.Unlock()
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": reply}}},
		})
	})
	mux.HandleFunc("/v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"focus on APAC"}`))
	})
	mux.HandleFunc("/images/search", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<a class="iusc" m='{"murl":"`+u.URL+`/img/rev.png"}'></a>`)
	})
	mux.HandleFunc("/img/rev.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("PNG"))
	})
	mux.HandleFunc("/v1/render", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.renders++
		u.mu.Unlock()
		_, _ = w.Write([]byte("PPTX"))
	})
	u.Server = httptest.NewServer(mux)
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) lastUserMessage() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastRequest
}

func writeParams(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	params := map[string]string{
		"chatppt/open-ai-token":               `{"token":"sk-test"}`,
		"chatppt/prompts/chatbot":             "chatbot",
		"chatppt/prompts/formatter":           "formatter",
		"chatppt/prompts/assistant":           "assistant",
		"chatppt/prompts/image_advisor":       "image advisor",
		"chatppt/config/openai_model":         "gpt-test",
		"chatppt/config/transcription_model":  "whisper-1",
	}
	for name, v := range params {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(v+"\n"), 0o600))
	}
	return root
}

func newTestService(t *testing.T, u *upstream) (*usecase.Service, *storage.Local) {
	t.Helper()
	params, err := paramstore.NewDir(writeParams(t))
	require.NoError(t, err)
	files, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	cfg := &config.Config{
		ParamPrefix:    "/chatppt",
		OpenAIBaseURL:  u.URL,
		ImageSearchURL: u.URL,
		RendererURL:    u.URL,
		OutputDir:      "outputs",
		OutputExt:      "pptx",
		TemplatePath:   "templates/SimpleTemplate.pptx",
	}
	svc, err := NewService(cfg, Backends{
		Store:      repository.NewMemory(),
		Files:      files,
		Params:     params,
		HTTPClient: u.Client(),
	})
	require.NoError(t, err)
	return svc, files
}

func TestPipeline_EndToEnd(t *testing.T) {
	u := newUpstream(t)
	svc, files := newTestService(t, u)
	ctx := context.Background()

	sub, err := svc.Submit(ctx, usecase.SubmitInput{Message: domain.Message{Text: "sales review"}})
	require.NoError(t, err)
	require.NotEmpty(t, sub.SessionID)
	require.Equal(t, deck, sub.Turn.Content)
	require.Equal(t, usecase.RequirementPrefix+"sales review", u.lastUserMessage())

	aug, err := svc.Augment(ctx, usecase.SessionInput{SessionID: sub.SessionID})
	require.NoError(t, err)
	require.Len(t, aug.History, 2)
	require.Equal(t, map[string]string{"Revenue": "images/revenue/1.png"}, aug.Images)
	require.Contains(t, aug.History[1].Content, "## Revenue\n![Revenue](images/revenue/1.png)")

	out, err := svc.Render(ctx, usecase.SessionInput{SessionID: sub.SessionID})
	require.NoError(t, err)
	require.Equal(t, "outputs/Sales Review.pptx", out.Path)
	require.Equal(t, "images/revenue/1.png", out.Presentation.Slides[0].Image)
	require.Equal(t, domain.Layout{Name: "Content with Picture", Index: 7}, out.Presentation.Slides[0].Layout)

	data, err := storage.ReadFile(ctx, files, out.Path)
	require.NoError(t, err)
	require.Equal(t, "PPTX", string(data))

	hist, err := svc.History(ctx, usecase.SessionInput{SessionID: sub.SessionID})
	require.NoError(t, err)
	require.Equal(t, domain.StateRendered, hist.State)
	require.Len(t, hist.History, 2)
}

func TestPipeline_AudioJoinsRequirement(t *testing.T) {
	u := newUpstream(t)
	svc, files := newTestService(t, u)
	ctx := context.Background()
	require.NoError(t, files.Put(ctx, "uploads/memo.mp3", strings.NewReader("ID3"), "audio/mpeg"))

	_, err := svc.Submit(ctx, usecase.SubmitInput{Message: domain.Message{Text: "sales review", Files: []string{"uploads/memo.mp3"}}})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(u.lastUserMessage(), usecase.RequirementPrefix))
	require.Contains(t, u.lastUserMessage(), "sales review")
	require.Contains(t, u.lastUserMessage(), "focus on APAC")
}

func TestPipeline_EmptyInputIsUsageError(t *testing.T) {
	u := newUpstream(t)
	svc, _ := newTestService(t, u)

	_, err := svc.Submit(context.Background(), usecase.SubmitInput{})
	var ue *usecase.Error
	require.ErrorAs(t, err, &ue)
	require.Equal(t, usecase.ErrorUsage, ue.Code)
	require.Equal(t, usecase.MsgNeedTopic, usecase.UserMessage(err))
	require.Empty(t, u.lastUserMessage())
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(nil, Backends{})
	require.Error(t, err)
	_, err = NewService(&config.Config{}, Backends{})
	require.Error(t, err)

	files, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	_, err = NewService(&config.Config{ParamPrefix: "/p", RendererURL: "http://r", TemplatePath: "t", LayoutFile: filepath.Join(t.TempDir(), "missing.yaml")}, Backends{
		Store: repository.NewMemory(), Files: files, Params: &paramstore.Dir{},
	})
	require.ErrorContains(t, err, "layouts")
}
