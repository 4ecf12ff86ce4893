package usecase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iamvkosarev/groq-chat/config"
	"github.com/iamvkosarev/groq-chat/internal/model"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type capturedRequest struct {
	Model       string            `json:"model"`
	Temperature float32           `json:"temperature"`
	MaxTokens   int               `json:"max_tokens"`
	TopP        float32           `json:"top_p"`
	Messages    []capturedMessage `json:"messages"`
}

type capturedTranscription struct {
	Model    string
	Filename string
	Data     []byte
}

type fakeGroq struct {
	mu             sync.Mutex
	status         int
	reply          string
	requests       []capturedRequest
	transcriptions []capturedTranscription
}

func (f *fakeGroq) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status != 0 && f.status != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_, _ = io.WriteString(w, `{"error":{"message":"model overloaded","type":"server_error"}}`)
		return
	}

	switch r.URL.Path {
	case "/chat/completions":
		var req capturedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.requests = append(f.requests, req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(
			map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion",
				"created": 1,
				"model":   req.Model,
				"choices": []map[string]any{
					{
						"index":         0,
						"message":       map[string]string{"role": "assistant", "content": f.reply},
						"finish_reason": "stop",
					},
				},
			},
		)
	case "/audio/transcriptions":
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		f.transcriptions = append(
			f.transcriptions, capturedTranscription{
				Model:    r.FormValue("model"),
				Filename: header.Filename,
				Data:     data,
			},
		)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"  hello world  "}`)
	default:
		http.NotFound(w, r)
	}
}

type perMessageCounter struct {
	tokens int
}

func (p perMessageCounter) CountTokens(messages []openai.ChatCompletionMessage, _ string) (int, error) {
	return len(messages) * p.tokens, nil
}

func newTestOpenAI(t *testing.T, groq *fakeGroq, tokens TokenCounter) *OpenAIUsecase {
	t.Helper()
	srv := httptest.NewServer(groq)
	t.Cleanup(srv.Close)
	return NewOpenAIUsecase(
		config.Groq{
			APIKey:            "gsk_test",
			BaseURL:           srv.URL,
			SystemPrompt:      "be helpful",
			ChatTemperature:   0.7,
			VisionTemperature: 0.5,
			MaxTokens:         8192,
			RequestTimeout:    5 * time.Second,
		}, tokens,
	)
}

func textModel(t *testing.T) model.AIModel {
	t.Helper()
	aiModel, err := newTestRegistry(t).GetModel("gemma2-9b-it")
	require.NoError(t, err)
	return aiModel
}

func TestChatSendsSystemPromptAndFlattenedHistory(t *testing.T) {
	groq := &fakeGroq{reply: "hi!"}
	gpt := newTestOpenAI(t, groq, nil)

	history := []model.Message{
		model.NewTextMessage(model.RoleUser, "hello"),
		model.NewTextMessage(model.RoleAssistant, "hey"),
		{
			Role: model.RoleUser,
			Content: model.Parts{
				model.TextPart{Text: "and this"},
				model.ImagePart{URL: "data:image/png;base64,AAAA"},
			},
		},
		{Role: model.RoleUser, Content: model.Parts{model.ImagePart{URL: "data:image/png;base64,AAAA"}}},
	}
	reply, trimmed, err := gpt.Chat(context.Background(), history, textModel(t))
	require.NoError(t, err)

	assert.Equal(t, model.NewTextMessage(model.RoleAssistant, "hi!"), reply)
	assert.False(t, trimmed)
	require.Len(t, groq.requests, 1)
	req := groq.requests[0]
	assert.Equal(t, "gemma2-9b-it", req.Model)
	assert.InDelta(t, 0.7, req.Temperature, 1e-6)
	assert.Equal(t, 8192, req.MaxTokens)
	assert.InDelta(t, 1, req.TopP, 1e-6)

	want := []capturedMessage{
		{Role: "system", Content: json.RawMessage(`"be helpful"`)},
		{Role: "user", Content: json.RawMessage(`"hello"`)},
		{Role: "assistant", Content: json.RawMessage(`"hey"`)},
		{Role: "user", Content: json.RawMessage(`"and this"`)},
	}
	assert.Equal(t, want, req.Messages)
}

func TestChatTrimsOldestMessagesToFitContext(t *testing.T) {
	groq := &fakeGroq{reply: "ok"}
	gpt := newTestOpenAI(t, groq, perMessageCounter{tokens: 100})
	gpt.cfg.MaxTokens = 100
	aiModel := model.NewAIModel("tiny", "Tiny", "", model.CategoryText, model.Limits{ContextWindow: 400})

	history := []model.Message{
		model.NewTextMessage(model.RoleUser, "one"),
		model.NewTextMessage(model.RoleAssistant, "two"),
		model.NewTextMessage(model.RoleUser, "three"),
		model.NewTextMessage(model.RoleAssistant, "four"),
	}
	_, trimmed, err := gpt.Chat(context.Background(), history, aiModel)
	require.NoError(t, err)

	assert.True(t, trimmed)
	require.Len(t, groq.requests, 1)
	assert.Equal(
		t, []capturedMessage{
			{Role: "system", Content: json.RawMessage(`"be helpful"`)},
			{Role: "user", Content: json.RawMessage(`"three"`)},
			{Role: "assistant", Content: json.RawMessage(`"four"`)},
		}, groq.requests[0].Messages,
	)
}

func TestChatUpstreamErrorIsWrapped(t *testing.T) {
	groq := &fakeGroq{status: http.StatusInternalServerError}
	gpt := newTestOpenAI(t, groq, nil)

	_, _, err := gpt.Chat(context.Background(), []model.Message{model.NewTextMessage(model.RoleUser, "hi")}, textModel(t))
	require.ErrorIs(t, err, model.ErrUpstream)

	var apiErr *openai.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.HTTPStatusCode)
}

func TestMissingAPIKeyIsConfigurationError(t *testing.T) {
	gpt := NewOpenAIUsecase(config.Groq{}, nil)
	aiModel := textModel(t)

	_, _, err := gpt.Chat(context.Background(), []model.Message{model.NewTextMessage(model.RoleUser, "hi")}, aiModel)
	assert.ErrorIs(t, err, model.ErrConfiguration)
	_, err = gpt.AnalyzeImage(context.Background(), "", "data:image/jpeg;base64,AAAA", aiModel)
	assert.ErrorIs(t, err, model.ErrConfiguration)
	_, err = gpt.Transcribe(context.Background(), nil, "a.ogg", aiModel)
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestAnalyzeImageSendsSingleTwoPartMessage(t *testing.T) {
	groq := &fakeGroq{reply: "a cat"}
	gpt := newTestOpenAI(t, groq, nil)
	vision, err := newTestRegistry(t).GetModel(model.DefaultVisionModelID)
	require.NoError(t, err)

	reply, err := gpt.AnalyzeImage(context.Background(), "", "data:image/jpeg;base64,AAAA", vision)
	require.NoError(t, err)

	assert.Equal(t, "a cat", model.TextOf(reply.Content))
	require.Len(t, groq.requests, 1)
	req := groq.requests[0]
	assert.InDelta(t, 0.5, req.Temperature, 1e-6)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.JSONEq(
		t,
		`[{"type":"text","text":"Analyze this image and provide insights..."},{"type":"image_url","image_url":{"url":"data:image/jpeg;base64,AAAA"}}]`,
		string(req.Messages[0].Content),
	)
}

func TestTranscribeUploadsAudio(t *testing.T) {
	groq := &fakeGroq{}
	gpt := newTestOpenAI(t, groq, nil)
	whisper, err := newTestRegistry(t).GetModel("whisper-large-v3")
	require.NoError(t, err)

	text, err := gpt.Transcribe(context.Background(), strings.NewReader("OggS"), "voice.ogg", whisper)
	require.NoError(t, err)

	assert.Equal(t, "hello world", text)
	require.Len(t, groq.transcriptions, 1)
	assert.Equal(
		t, capturedTranscription{Model: "whisper-large-v3", Filename: "voice.ogg", Data: []byte("OggS")},
		groq.transcriptions[0],
	)

	_, err = gpt.Transcribe(context.Background(), strings.NewReader("OggS"), "voice.ogg", textModel(t))
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestTokenBudget(t *testing.T) {
	assert.Equal(t, 0, tokenBudget(0, 8192))
	assert.Equal(t, 6144, tokenBudget(8192, 8192))
	assert.Equal(t, 131072-8192, tokenBudget(131072, 8192))
}
