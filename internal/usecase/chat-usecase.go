package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"

	"github.com/iamvkosarev/groq-chat/internal/model"
	data_url "github.com/iamvkosarev/groq-chat/pkg/data-url"
	"github.com/sourcegraph/conc"
)

const (
	ConfigurationErrorMessage = "API key not configured. Please set GROQ_API_KEY environment variable."
	ChatErrorMessage          = "Sorry, there was an error processing your request."
	ImageErrorMessage         = "Sorry, there was an error processing your image. Please try again."
	AudioErrorMessage         = "Sorry, there was an error transcribing your audio. Please try again."
	NoSpeechMessage           = "No speech was detected in your audio."

	defaultAudioName = "recording.webm"
)

var audioExtensions = map[string]string{
	"audio/ogg":   ".ogg",
	"audio/webm":  ".webm",
	"audio/mpeg":  ".mp3",
	"audio/mp4":   ".m4a",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/flac":  ".flac",
}

type Inference interface {
	Chat(ctx context.Context, history []model.Message, aiModel model.AIModel) (model.Message, bool, error)
	AnalyzeImage(ctx context.Context, instruction string, imageURL string, aiModel model.AIModel) (
		model.Message,
		error,
	)
	Transcribe(ctx context.Context, audio io.Reader, filename string, aiModel model.AIModel) (string, error)
}

// UploadStorage resolves links it handed out. Foreign links yield
// model.ErrNotFound.
type UploadStorage interface {
	Resolve(ctx context.Context, url string) (model.MediaFile, error)
}

type ChatUsecaseDeps struct {
	Models    ModelRegistry
	Inference Inference
	Uploads   UploadStorage
}

// ChatUsecase runs a conversational turn: route the outgoing content, prepare
// its media, call the model and record both sides in the session.
type ChatUsecase struct {
	ChatUsecaseDeps
	router *RoutingUsecase
}

type SendResult struct {
	Session        model.ChatSession `json:"session"`
	Reply          model.Message     `json:"reply"`
	Route          RouteDecision     `json:"route"`
	ContextTrimmed bool              `json:"context_trimmed"`
}

func NewChatUsecase(deps ChatUsecaseDeps) *ChatUsecase {
	return &ChatUsecase{
		ChatUsecaseDeps: deps,
		router:          NewRoutingUsecase(deps.Models),
	}
}

// Send posts content to the active session of aiChat, creating one when
// there is none. Only invalid content and storage failures are returned as
// errors; a failed model call is recorded as an assistant message.
func (c *ChatUsecase) Send(ctx context.Context, aiChat *AiChatUsecase, content model.Content) (SendResult, error) {
	if err := model.ValidateContent(content); err != nil {
		return SendResult{}, err
	}

	session, err := aiChat.ActiveSession()
	if errors.Is(err, model.ErrNotFound) {
		session, err = aiChat.CreateSession(ctx, c.Models.DefaultTextModel().ID)
	}
	if err != nil {
		return SendResult{}, err
	}

	decision := c.router.Route(content, session.ModelID)
	turn := c.prepare(ctx, content, decision)

	session, err = aiChat.AppendMessage(ctx, session.ID, turn.message)
	if err != nil {
		return SendResult{}, err
	}

	var (
		reply          model.Message
		contextTrimmed bool
	)
	if turn.err != nil {
		reply = failureMessage(turn.err, turn.failedMode)
	} else {
		reply, contextTrimmed, err = c.answer(ctx, session.Messages, turn, decision)
		if err != nil {
			slog.Error(
				"inference failed", "session", session.ID, "model", decision.Effective.ID,
				"mode", decision.Mode, "err", err,
			)
			reply = failureMessage(err, decision.Mode)
		}
	}

	session, err = aiChat.AppendMessage(ctx, session.ID, reply)
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{
		Session:        session,
		Reply:          reply,
		Route:          decision,
		ContextTrimmed: contextTrimmed,
	}, nil
}

// Complete answers a history that lives on the client. The last message must
// come from the user; it is routed starting from modelID.
func (c *ChatUsecase) Complete(ctx context.Context, messages []model.Message, modelID string) (
	model.Message,
	RouteDecision,
	error,
) {
	if len(messages) == 0 {
		return model.Message{}, RouteDecision{}, fmt.Errorf("%w: messages are required", model.ErrValidation)
	}
	last := messages[len(messages)-1]
	if last.Role != model.RoleUser {
		return model.Message{}, RouteDecision{}, fmt.Errorf(
			"%w: last message must have role %q", model.ErrValidation, model.RoleUser,
		)
	}
	if err := model.ValidateContent(last.Content); err != nil {
		return model.Message{}, RouteDecision{}, err
	}
	for i, message := range messages[:len(messages)-1] {
		if err := model.ValidateMedia(message.Content); err != nil {
			return model.Message{}, RouteDecision{}, fmt.Errorf("message %d: %w", i, err)
		}
	}

	decision := c.router.Route(last.Content, modelID)
	turn := c.prepare(ctx, last.Content, decision)
	if turn.err != nil {
		return model.Message{}, decision, turn.err
	}

	history := make([]model.Message, 0, len(messages))
	history = append(history, messages[:len(messages)-1]...)
	history = append(history, turn.message)
	reply, _, err := c.answer(ctx, history, turn, decision)
	if err != nil {
		return model.Message{}, decision, err
	}
	return reply, decision, nil
}

// AnalyzeImage answers the last message of messages with the default vision
// model. That message has to carry an image.
func (c *ChatUsecase) AnalyzeImage(ctx context.Context, messages []model.Message) (model.Message, error) {
	if len(messages) == 0 {
		return model.Message{}, fmt.Errorf("%w: messages are required", model.ErrValidation)
	}
	if _, ok := model.ImageOf(messages[len(messages)-1].Content); !ok {
		return model.Message{}, fmt.Errorf("%w: last message has no image", model.ErrValidation)
	}
	reply, _, err := c.Complete(ctx, messages[len(messages)-1:], c.Models.DefaultVisionModel().ID)
	return reply, err
}

// Transcribe sends a standalone audio file to modelID, or to the default
// audio model when modelID cannot take audio.
func (c *ChatUsecase) Transcribe(ctx context.Context, file model.MediaFile, modelID string) (string, error) {
	aiModel, err := c.Models.GetModel(modelID)
	if err != nil || !aiModel.Capabilities.SupportsAudio {
		aiModel = c.Models.DefaultAudioModel()
	}
	return c.transcribe(ctx, file, aiModel)
}

func FailureText(err error, mode RouteMode) string {
	switch {
	case errors.Is(err, model.ErrConfiguration):
		return ConfigurationErrorMessage
	case mode == RouteModeVision:
		return ImageErrorMessage
	case mode == RouteModeTranscription:
		return AudioErrorMessage
	default:
		return ChatErrorMessage
	}
}

type preparedTurn struct {
	message    model.Message
	imageURL   string
	transcript string
	err        error
	failedMode RouteMode
}

// prepare inlines the image and transcribes the audio of content in
// parallel. A transcript produced for a non-audio model is kept on the
// recorded message as an extra text part.
func (c *ChatUsecase) prepare(ctx context.Context, content model.Content, decision RouteDecision) preparedTurn {
	turn := preparedTurn{
		message: model.Message{Role: model.RoleUser, Content: model.CloneContent(content)},
	}

	var (
		imageErr error
		audioErr error
	)
	wg := conc.NewWaitGroup()
	if image, ok := model.ImageOf(content); ok && decision.Mode == RouteModeVision {
		wg.Go(
			func() {
				turn.imageURL, imageErr = c.inlineImage(ctx, image.URL)
			},
		)
	}
	if audio, ok := model.AudioOf(content); ok {
		transcriber := decision.Effective
		if decision.Transcriber != nil {
			transcriber = *decision.Transcriber
		}
		wg.Go(
			func() {
				var file model.MediaFile
				file, audioErr = c.fetchMedia(ctx, audio.URL)
				if audioErr != nil {
					return
				}
				turn.transcript, audioErr = c.transcribe(ctx, file, transcriber)
			},
		)
	}
	wg.Wait()

	switch {
	case audioErr != nil:
		slog.Error("audio preparation failed", "err", audioErr)
		turn.err, turn.failedMode = audioErr, RouteModeTranscription
	case imageErr != nil:
		slog.Error("image preparation failed", "err", imageErr)
		turn.err, turn.failedMode = imageErr, RouteModeVision
	}

	if decision.Transcriber != nil && turn.transcript != "" {
		parts := model.Parts{}
		if existing, ok := turn.message.Content.(model.Parts); ok {
			parts = existing
		}
		turn.message.Content = append(parts, model.TextPart{Text: turn.transcript})
	}
	return turn
}

func (c *ChatUsecase) answer(
	ctx context.Context,
	history []model.Message,
	turn preparedTurn,
	decision RouteDecision,
) (model.Message, bool, error) {
	switch decision.Mode {
	case RouteModeTranscription:
		if strings.TrimSpace(turn.transcript) == "" {
			return model.NewTextMessage(model.RoleAssistant, NoSpeechMessage), false, nil
		}
		return model.NewTextMessage(model.RoleAssistant, turn.transcript), false, nil
	case RouteModeVision:
		reply, err := c.Inference.AnalyzeImage(ctx, model.TextOf(turn.message.Content), turn.imageURL, decision.Effective)
		return reply, false, err
	default:
		return c.Inference.Chat(ctx, history, decision.Effective)
	}
}

// inlineImage turns an image reference into the inline form the provider
// accepts: data URLs and bare base64 are re-wrapped, our upload links are
// read back, remote links are forwarded untouched.
func (c *ChatUsecase) inlineImage(ctx context.Context, url string) (string, error) {
	if data_url.IsDataURL(url) {
		canonical, err := data_url.CanonicalImage(url)
		if err != nil {
			return "", fmt.Errorf("%w: %w", model.ErrValidation, err)
		}
		return canonical, nil
	}
	file, err := c.Uploads.Resolve(ctx, url)
	if errors.Is(err, model.ErrNotFound) {
		if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
			return url, nil
		}
		canonical, err := data_url.CanonicalImage(url)
		if err != nil {
			return "", fmt.Errorf("%w: %w", model.ErrValidation, err)
		}
		return canonical, nil
	}
	if err != nil {
		return "", err
	}
	if len(file.Data) == 0 {
		return "", fmt.Errorf("%w: uploaded image %s is empty", model.ErrValidation, file.Name)
	}
	mimeType := file.MIME
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = data_url.DefaultImageMIME
	}
	return data_url.Encode(mimeType, file.Data), nil
}

func (c *ChatUsecase) fetchMedia(ctx context.Context, url string) (model.MediaFile, error) {
	if !data_url.IsDataURL(url) {
		return c.Uploads.Resolve(ctx, url)
	}
	decoded, err := data_url.Decode(url)
	if err != nil {
		return model.MediaFile{}, fmt.Errorf("%w: %w", model.ErrValidation, err)
	}
	name := defaultAudioName
	if ext, ok := audioExtensions[decoded.MIME]; ok {
		name = "recording" + ext
	} else if extensions, _ := mime.ExtensionsByType(decoded.MIME); len(extensions) > 0 {
		name = "recording" + extensions[0]
	}
	return model.MediaFile{Name: name, MIME: decoded.MIME, Data: decoded.Data}, nil
}

func (c *ChatUsecase) transcribe(ctx context.Context, file model.MediaFile, aiModel model.AIModel) (string, error) {
	if len(file.Data) == 0 {
		return "", fmt.Errorf("%w: audio %s is empty", model.ErrValidation, file.Name)
	}
	if limit := aiModel.Limits.MaxAudioSize; limit > 0 && int64(len(file.Data)) > limit {
		return "", fmt.Errorf(
			"%w: audio %s is %d bytes, %s accepts at most %d", model.ErrValidation, file.Name,
			len(file.Data), aiModel.ID, limit,
		)
	}
	name := file.Name
	if name == "" {
		name = defaultAudioName
	}
	return c.Inference.Transcribe(ctx, bytes.NewReader(file.Data), name, aiModel)
}

func failureMessage(err error, mode RouteMode) model.Message {
	return model.NewTextMessage(model.RoleAssistant, FailureText(err, mode))
}
