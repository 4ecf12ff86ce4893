package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/iamvkosarev/groq-chat/config"
	"github.com/iamvkosarev/groq-chat/internal/model"
	"github.com/sashabaranov/go-openai"
)

const (
	OpenAIRoleUser      = "user"
	OpenAIRoleAssistant = "assistant"
	OpenAIRoleSystem    = "system"

	DefaultImagePrompt = "Analyze this image and provide insights..."
)

type TokenCounter interface {
	CountTokens(messages []openai.ChatCompletionMessage, modelName string) (int, error)
}

// OpenAIUsecase talks to the Groq OpenAI-compatible API. Without an API key
// every call fails with model.ErrConfiguration.
type OpenAIUsecase struct {
	cfg    config.Groq
	client *openai.Client
	tokens TokenCounter
}

func NewOpenAIUsecase(cfg config.Groq, tokens TokenCounter) *OpenAIUsecase {
	gpt := &OpenAIUsecase{
		cfg:    cfg,
		tokens: tokens,
	}
	if cfg.APIKey == "" {
		slog.Error("GROQ_API_KEY is not set, inference calls will fail")
		return gpt
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}
	gpt.client = openai.NewClientWithConfig(clientConfig)
	return gpt
}

// Chat sends the history to a text model and returns the reply. The bool is
// true when old messages were dropped to fit the context window.
func (gpt *OpenAIUsecase) Chat(ctx context.Context, history []model.Message, aiModel model.AIModel) (
	model.Message,
	bool,
	error,
) {
	if gpt.client == nil {
		return model.Message{}, false, fmt.Errorf("%w: GROQ_API_KEY is not set", model.ErrConfiguration)
	}

	messageHistory := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if gpt.cfg.SystemPrompt != "" {
		messageHistory = append(
			messageHistory, openai.ChatCompletionMessage{
				Role:    OpenAIRoleSystem,
				Content: gpt.cfg.SystemPrompt,
			},
		)
	}
	for _, message := range history {
		text := model.TextOf(message.Content)
		if strings.TrimSpace(text) == "" {
			continue
		}
		messageHistory = append(
			messageHistory, openai.ChatCompletionMessage{
				Role:    parseRoleToOpenAI(message.Role),
				Content: text,
			},
		)
	}
	messageHistory, contextTrimmed := gpt.trimHistory(messageHistory, aiModel)

	req := openai.ChatCompletionRequest{
		Model:       aiModel.ID,
		Temperature: gpt.cfg.ChatTemperature,
		MaxTokens:   gpt.cfg.MaxTokens,
		TopP:        1,
		N:           1,
		Messages:    messageHistory,
	}
	reply, err := gpt.complete(ctx, req)
	return reply, contextTrimmed, err
}

// AnalyzeImage sends a single two-part message: the instruction and the
// image. imageURL must already be in the form the provider accepts.
func (gpt *OpenAIUsecase) AnalyzeImage(
	ctx context.Context,
	instruction string,
	imageURL string,
	aiModel model.AIModel,
) (model.Message, error) {
	if gpt.client == nil {
		return model.Message{}, fmt.Errorf("%w: GROQ_API_KEY is not set", model.ErrConfiguration)
	}
	if strings.TrimSpace(instruction) == "" {
		instruction = DefaultImagePrompt
	}

	req := openai.ChatCompletionRequest{
		Model:       aiModel.ID,
		Temperature: gpt.cfg.VisionTemperature,
		MaxTokens:   gpt.cfg.MaxTokens,
		TopP:        1,
		N:           1,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: OpenAIRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: instruction,
					},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: imageURL},
					},
				},
			},
		},
	}
	return gpt.complete(ctx, req)
}

// Transcribe uploads audio as a multipart request and returns the text.
func (gpt *OpenAIUsecase) Transcribe(
	ctx context.Context,
	audio io.Reader,
	filename string,
	aiModel model.AIModel,
) (string, error) {
	if gpt.client == nil {
		return "", fmt.Errorf("%w: GROQ_API_KEY is not set", model.ErrConfiguration)
	}
	if !aiModel.Capabilities.SupportsAudio {
		return "", fmt.Errorf("%w: model %s does not accept audio", model.ErrValidation, aiModel.ID)
	}

	resp, err := gpt.client.CreateTranscription(
		ctx, openai.AudioRequest{
			Model:    aiModel.ID,
			FilePath: filename,
			Reader:   audio,
			Format:   openai.AudioResponseFormatJSON,
		},
	)
	if err != nil {
		return "", fmt.Errorf("%w: transcription with %s: %w", model.ErrUpstream, aiModel.ID, err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (gpt *OpenAIUsecase) complete(ctx context.Context, req openai.ChatCompletionRequest) (model.Message, error) {
	resp, err := gpt.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			slog.Error(
				"chat completion rejected", "model", req.Model, "status", apiErr.HTTPStatusCode,
				"message", apiErr.Message,
			)
		}
		return model.Message{}, fmt.Errorf("%w: chat completion with %s: %w", model.ErrUpstream, req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return model.Message{}, fmt.Errorf("%w: no response from %s", model.ErrUpstream, req.Model)
	}
	return model.NewTextMessage(model.RoleAssistant, resp.Choices[0].Message.Content), nil
}

// trimHistory drops the oldest non-system messages until the prompt leaves
// room for a reply. The newest message is always kept.
func (gpt *OpenAIUsecase) trimHistory(
	messages []openai.ChatCompletionMessage,
	aiModel model.AIModel,
) ([]openai.ChatCompletionMessage, bool) {
	budget := tokenBudget(aiModel.Limits.ContextWindow, gpt.cfg.MaxTokens)
	if budget <= 0 || gpt.tokens == nil {
		return messages, false
	}

	var trimmed bool
	for {
		tokenCount, err := gpt.tokens.CountTokens(messages, aiModel.ID)
		if err != nil {
			slog.Warn("count token error, sending history untrimmed", "model", aiModel.ID, "err", err)
			return messages, trimmed
		}
		if tokenCount <= budget {
			return messages, trimmed
		}
		idx := slices.IndexFunc(
			messages, func(m openai.ChatCompletionMessage) bool {
				return m.Role != OpenAIRoleSystem
			},
		)
		if idx < 0 || idx == len(messages)-1 {
			return messages, trimmed
		}
		messages = slices.Delete(messages, idx, idx+1)
		trimmed = true
		slog.Info("history trimmed due to token limit", "model", aiModel.ID, "tokens", tokenCount, "budget", budget)
	}
}

func tokenBudget(contextWindow, maxTokens int) int {
	if contextWindow <= 0 {
		return 0
	}
	return contextWindow - min(maxTokens, contextWindow/4)
}

func parseRoleToOpenAI(role model.Role) string {
	switch role {
	case model.RoleUser:
		return OpenAIRoleUser
	case model.RoleAssistant:
		return OpenAIRoleAssistant
	case model.RoleSystem:
		return OpenAIRoleSystem
	default:
		return OpenAIRoleUser
	}
}
