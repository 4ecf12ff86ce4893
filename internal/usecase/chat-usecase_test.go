package usecase

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/iamvkosarev/groq-chat/internal/model"
	in_memory "github.com/iamvkosarev/groq-chat/internal/storage/in-memory"
	data_url "github.com/iamvkosarev/groq-chat/pkg/data-url"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type visionCall struct {
	instruction string
	imageURL    string
	modelID     string
}

type transcribeCall struct {
	data     []byte
	filename string
	modelID  string
}

type fakeInference struct {
	mu sync.Mutex

	chatReply     string
	chatErr       error
	visionReply   string
	visionErr     error
	transcript    string
	transcribeErr error

	chatCalls       [][]model.Message
	chatModels      []string
	visionCalls     []visionCall
	transcribeCalls []transcribeCall
}

func (f *fakeInference) Chat(_ context.Context, history []model.Message, aiModel model.AIModel) (
	model.Message,
	bool,
	error,
) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCalls = append(f.chatCalls, history)
	f.chatModels = append(f.chatModels, aiModel.ID)
	if f.chatErr != nil {
		return model.Message{}, false, f.chatErr
	}
	return model.NewTextMessage(model.RoleAssistant, f.chatReply), false, nil
}

func (f *fakeInference) AnalyzeImage(_ context.Context, instruction string, imageURL string, aiModel model.AIModel) (
	model.Message,
	error,
) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visionCalls = append(f.visionCalls, visionCall{instruction: instruction, imageURL: imageURL, modelID: aiModel.ID})
	if f.visionErr != nil {
		return model.Message{}, f.visionErr
	}
	return model.NewTextMessage(model.RoleAssistant, f.visionReply), nil
}

func (f *fakeInference) Transcribe(_ context.Context, audio io.Reader, filename string, aiModel model.AIModel) (
	string,
	error,
) {
	data, err := io.ReadAll(audio)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcribeCalls = append(f.transcribeCalls, transcribeCall{data: data, filename: filename, modelID: aiModel.ID})
	if f.transcribeErr != nil {
		return "", f.transcribeErr
	}
	return f.transcript, nil
}

type fakeUploads map[string]model.MediaFile

func (f fakeUploads) Resolve(_ context.Context, url string) (model.MediaFile, error) {
	file, ok := f[url]
	if !ok {
		return model.MediaFile{}, fmt.Errorf("%w: %s", model.ErrNotFound, url)
	}
	return file, nil
}

func newTestChat(t *testing.T, inference *fakeInference, uploads fakeUploads) (*ChatUsecase, *AiChatUsecase) {
	t.Helper()
	if uploads == nil {
		uploads = fakeUploads{}
	}
	chat := NewChatUsecase(
		ChatUsecaseDeps{
			Models:    newTestRegistry(t),
			Inference: inference,
			Uploads:   uploads,
		},
	)
	return chat, newTestAiChat(t, in_memory.NewAIChatStorage())
}

func TestSendTextCreatesSessionAndRecordsBothSides(t *testing.T) {
	inference := &fakeInference{chatReply: "x = 2 or x = 3"}
	chat, aiChat := newTestChat(t, inference, nil)

	result, err := chat.Send(context.Background(), aiChat, model.PlainText("solve x^2-5x+6=0"))
	require.NoError(t, err)

	assert.Equal(t, model.DefaultTextModelID, result.Session.ModelID)
	assert.Equal(t, RouteModeChat, result.Route.Mode)
	assert.Equal(t, model.NewTextMessage(model.RoleAssistant, "x = 2 or x = 3"), result.Reply)
	require.Len(t, result.Session.Messages, 2)
	assert.Equal(t, model.NewTextMessage(model.RoleUser, "solve x^2-5x+6=0"), result.Session.Messages[0])
	assert.Equal(t, result.Reply, result.Session.Messages[1])
	require.Len(t, inference.chatCalls, 1)
	assert.Len(t, inference.chatCalls[0], 1)
}

func TestSendUpstreamFailureIsContained(t *testing.T) {
	inference := &fakeInference{chatErr: fmt.Errorf("%w: status 500", model.ErrUpstream)}
	chat, aiChat := newTestChat(t, inference, nil)
	session, err := aiChat.CreateSession(context.Background(), "gemma2-9b-it")
	require.NoError(t, err)

	result, err := chat.Send(context.Background(), aiChat, model.PlainText("hello"))
	require.NoError(t, err)

	assert.Equal(t, session.ID, result.Session.ID)
	require.Len(t, result.Session.Messages, 2)
	assert.Equal(t, model.NewTextMessage(model.RoleUser, "hello"), result.Session.Messages[0])
	assert.Equal(t, model.NewTextMessage(model.RoleAssistant, ChatErrorMessage), result.Session.Messages[1])

	stored, err := aiChat.ActiveSession()
	require.NoError(t, err)
	assert.Equal(t, result.Session, stored)
}

func TestSendConfigurationFailureIsContained(t *testing.T) {
	inference := &fakeInference{chatErr: fmt.Errorf("%w: GROQ_API_KEY is not set", model.ErrConfiguration)}
	chat, aiChat := newTestChat(t, inference, nil)

	result, err := chat.Send(context.Background(), aiChat, model.PlainText("hello"))
	require.NoError(t, err)
	assert.Equal(t, model.NewTextMessage(model.RoleAssistant, ConfigurationErrorMessage), result.Reply)
}

func TestSendRejectsInvalidContent(t *testing.T) {
	chat, aiChat := newTestChat(t, &fakeInference{}, nil)

	_, err := chat.Send(
		context.Background(), aiChat, model.Parts{model.ImagePart{URL: "a"}, model.ImagePart{URL: "b"}},
	)
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Empty(t, aiChat.ListSessions())
}

func TestSendImageToTextModelIsAnsweredByVisionModel(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	inference := &fakeInference{visionReply: "a tiny png"}
	chat, aiChat := newTestChat(
		t, inference, fakeUploads{
			"http://localhost:3000/uploads/1-cat.png": {Name: "1-cat.png", MIME: "image/png", Data: png},
		},
	)
	_, err := aiChat.CreateSession(context.Background(), "mixtral-8x7b-32768")
	require.NoError(t, err)

	content := model.Parts{
		model.TextPart{Text: "what is this?"},
		model.ImagePart{URL: "http://localhost:3000/uploads/1-cat.png"},
	}
	result, err := chat.Send(context.Background(), aiChat, content)
	require.NoError(t, err)

	assert.True(t, result.Route.Overridden)
	assert.Equal(t, model.DefaultVisionModelID, result.Route.Effective.ID)
	assert.Equal(t, "mixtral-8x7b-32768", result.Session.ModelID)
	require.Len(t, inference.visionCalls, 1)
	assert.Equal(
		t, visionCall{
			instruction: "what is this?",
			imageURL:    data_url.Encode("image/png", png),
			modelID:     model.DefaultVisionModelID,
		}, inference.visionCalls[0],
	)
	assert.Empty(t, inference.chatCalls)
	assert.Equal(t, content, result.Session.Messages[0].Content)
}

func TestSendBareBase64ImageGetsCanonicalPrefix(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("jpeg bytes"))
	inference := &fakeInference{visionReply: "ok"}
	chat, aiChat := newTestChat(t, inference, nil)

	_, err := chat.Send(context.Background(), aiChat, model.Parts{model.ImagePart{URL: payload}})
	require.NoError(t, err)

	require.Len(t, inference.visionCalls, 1)
	assert.Equal(t, "data:image/jpeg;base64,"+payload, inference.visionCalls[0].imageURL)
	assert.Empty(t, inference.visionCalls[0].instruction)
}

func TestSendVisionFailureUsesImageMessage(t *testing.T) {
	inference := &fakeInference{visionErr: fmt.Errorf("%w: timeout", model.ErrUpstream)}
	chat, aiChat := newTestChat(t, inference, nil)

	result, err := chat.Send(
		context.Background(), aiChat, model.Parts{model.ImagePart{URL: "data:image/png;base64,AAAA"}},
	)
	require.NoError(t, err)
	assert.Equal(t, model.NewTextMessage(model.RoleAssistant, ImageErrorMessage), result.Reply)
	assert.Len(t, result.Session.Messages, 2)
}

func TestSendAudioToTextModelFoldsTranscript(t *testing.T) {
	audio := []byte("OggS fake voice")
	inference := &fakeInference{transcript: "what time is it", chatReply: "noon"}
	chat, aiChat := newTestChat(t, inference, nil)
	_, err := aiChat.CreateSession(context.Background(), "llama-3.1-8b-instant")
	require.NoError(t, err)

	audioPart := model.AudioPart{URL: data_url.Encode("audio/ogg", audio)}
	result, err := chat.Send(context.Background(), aiChat, model.Parts{audioPart})
	require.NoError(t, err)

	require.Len(t, inference.transcribeCalls, 1)
	assert.Equal(
		t, transcribeCall{data: audio, filename: "recording.ogg", modelID: model.DefaultAudioModelID},
		inference.transcribeCalls[0],
	)
	wantUser := model.Message{
		Role:    model.RoleUser,
		Content: model.Parts{audioPart, model.TextPart{Text: "what time is it"}},
	}
	assert.Equal(t, wantUser, result.Session.Messages[0])
	require.Len(t, inference.chatCalls, 1)
	assert.Equal(t, []model.Message{wantUser}, inference.chatCalls[0])
	assert.Equal(t, []string{"llama-3.1-8b-instant"}, inference.chatModels)
	assert.Equal(t, "noon", model.TextOf(result.Reply.Content))
}

func TestSendAudioToAudioModelRepliesWithTranscript(t *testing.T) {
	inference := &fakeInference{transcript: "hello there"}
	chat, aiChat := newTestChat(t, inference, nil)
	_, err := aiChat.CreateSession(context.Background(), "whisper-large-v3-turbo")
	require.NoError(t, err)

	result, err := chat.Send(
		context.Background(), aiChat, model.Parts{model.AudioPart{URL: data_url.Encode("audio/webm", []byte("x"))}},
	)
	require.NoError(t, err)

	assert.Equal(t, RouteModeTranscription, result.Route.Mode)
	assert.Equal(t, model.NewTextMessage(model.RoleAssistant, "hello there"), result.Reply)
	require.Len(t, inference.transcribeCalls, 1)
	assert.Equal(t, model.DefaultAudioModelID, inference.transcribeCalls[0].modelID)
	assert.Empty(t, inference.chatCalls)
}

func TestSendSilentAudioRepliesWithNoSpeech(t *testing.T) {
	inference := &fakeInference{transcript: "  "}
	chat, aiChat := newTestChat(t, inference, nil)
	_, err := aiChat.CreateSession(context.Background(), model.DefaultAudioModelID)
	require.NoError(t, err)

	result, err := chat.Send(
		context.Background(), aiChat, model.Parts{model.AudioPart{URL: data_url.Encode("audio/webm", []byte("x"))}},
	)
	require.NoError(t, err)

	assert.Equal(t, model.NewTextMessage(model.RoleAssistant, NoSpeechMessage), result.Reply)
	require.Len(t, result.Session.Messages, 2)
	assert.Equal(t, result.Reply, result.Session.Messages[1])
}

func TestSendOversizedAudioIsRejectedBeforeUpload(t *testing.T) {
	inference := &fakeInference{}
	chat, aiChat := newTestChat(t, inference, nil)
	_, err := aiChat.CreateSession(context.Background(), "whisper-large-v3")
	require.NoError(t, err)
	limit := newTestRegistry(t).DefaultAudioModel().Limits.MaxAudioSize
	require.Positive(t, limit)

	big := make([]byte, limit+1)
	result, err := chat.Send(
		context.Background(), aiChat, model.Parts{model.AudioPart{URL: data_url.Encode("audio/wav", big)}},
	)
	require.NoError(t, err)

	assert.Equal(t, model.NewTextMessage(model.RoleAssistant, AudioErrorMessage), result.Reply)
	assert.Empty(t, inference.transcribeCalls)
	assert.Len(t, result.Session.Messages, 2)
}

func TestCompletePassesClientHistory(t *testing.T) {
	inference := &fakeInference{chatReply: "4"}
	chat, _ := newTestChat(t, inference, nil)
	history := []model.Message{
		model.NewTextMessage(model.RoleUser, "2+2?"),
		model.NewTextMessage(model.RoleAssistant, "Let me think"),
		model.NewTextMessage(model.RoleUser, "just the number"),
	}

	reply, decision, err := chat.Complete(context.Background(), history, "gemma2-9b-it")
	require.NoError(t, err)

	assert.Equal(t, "4", model.TextOf(reply.Content))
	assert.Equal(t, "gemma2-9b-it", decision.Effective.ID)
	require.Len(t, inference.chatCalls, 1)
	assert.Equal(t, history, inference.chatCalls[0])
}

func TestCompleteValidation(t *testing.T) {
	chat, _ := newTestChat(t, &fakeInference{}, nil)

	_, _, err := chat.Complete(context.Background(), nil, "gemma2-9b-it")
	assert.ErrorIs(t, err, model.ErrValidation)

	_, _, err = chat.Complete(
		context.Background(), []model.Message{model.NewTextMessage(model.RoleAssistant, "hi")}, "gemma2-9b-it",
	)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestCompleteRejectsExtraMediaInHistory(t *testing.T) {
	inference := &fakeInference{chatReply: "ok"}
	chat, _ := newTestChat(t, inference, nil)
	history := []model.Message{
		{
			Role:    model.RoleUser,
			Content: model.Parts{model.ImagePart{URL: "a"}, model.ImagePart{URL: "b"}},
		},
		model.NewTextMessage(model.RoleUser, "and now?"),
	}

	_, _, err := chat.Complete(context.Background(), history, "gemma2-9b-it")
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Empty(t, inference.chatCalls)
}

func TestCompleteReturnsUpstreamError(t *testing.T) {
	inference := &fakeInference{chatErr: fmt.Errorf("%w: status 503", model.ErrUpstream)}
	chat, _ := newTestChat(t, inference, nil)

	_, _, err := chat.Complete(
		context.Background(), []model.Message{model.NewTextMessage(model.RoleUser, "hi")}, "gemma2-9b-it",
	)
	assert.ErrorIs(t, err, model.ErrUpstream)
}

func TestAnalyzeImageRequiresImage(t *testing.T) {
	inference := &fakeInference{visionReply: "a cat"}
	chat, _ := newTestChat(t, inference, nil)

	_, err := chat.AnalyzeImage(context.Background(), []model.Message{model.NewTextMessage(model.RoleUser, "hi")})
	assert.ErrorIs(t, err, model.ErrValidation)

	reply, err := chat.AnalyzeImage(
		context.Background(), []model.Message{
			model.NewTextMessage(model.RoleUser, "earlier"),
			{
				Role:    model.RoleUser,
				Content: model.Parts{model.ImagePart{URL: "data:image/webp;base64,AAAA"}},
			},
		},
	)
	require.NoError(t, err)
	assert.Equal(t, "a cat", model.TextOf(reply.Content))
	require.Len(t, inference.visionCalls, 1)
	assert.Equal(t, "data:image/webp;base64,AAAA", inference.visionCalls[0].imageURL)
	assert.Equal(t, model.DefaultVisionModelID, inference.visionCalls[0].modelID)
}

func TestTranscribeFallsBackToDefaultAudioModel(t *testing.T) {
	inference := &fakeInference{transcript: "hi"}
	chat, _ := newTestChat(t, inference, nil)

	text, err := chat.Transcribe(
		context.Background(), model.MediaFile{Name: "a.mp3", Data: []byte("mp3")}, "llama-3.3-70b-versatile",
	)
	require.NoError(t, err)
	assert.Equal(t, "hi", text)
	require.Len(t, inference.transcribeCalls, 1)
	assert.Equal(t, model.DefaultAudioModelID, inference.transcribeCalls[0].modelID)
	assert.Equal(t, "a.mp3", inference.transcribeCalls[0].filename)

	_, err = chat.Transcribe(context.Background(), model.MediaFile{Name: "empty.mp3"}, "whisper-large-v3")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestFailureText(t *testing.T) {
	upstream := fmt.Errorf("%w: boom", model.ErrUpstream)
	config := fmt.Errorf("%w: no key", model.ErrConfiguration)

	assert.Equal(t, ChatErrorMessage, FailureText(upstream, RouteModeChat))
	assert.Equal(t, ImageErrorMessage, FailureText(upstream, RouteModeVision))
	assert.Equal(t, AudioErrorMessage, FailureText(upstream, RouteModeTranscription))
	assert.Equal(t, ConfigurationErrorMessage, FailureText(config, RouteModeVision))
}
