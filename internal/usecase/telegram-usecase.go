package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamvkosarev/groq-chat/internal/model"
	data_url "github.com/iamvkosarev/groq-chat/pkg/data-url"
)

const (
	MessageServerError           = "Something wrong with me. Try later"
	MessageContextTrimmed        = "Context was trimmed"
	MessageCommandStart          = "Welcome! Write something, send a photo or a voice message to start a conversation. Use /new to pick a model for a new chat."
	MessageCommandHelp           = "Write something, send a photo or a voice message. Use /new to start a chat with another model and /chats to see your chats."
	MessageCommandUnknown        = "I don't know that command"
	MessageSelectModel           = "Select model to create new chat"
	MessageSelectedModelFormat   = "Started new chat with %s model"
	MessageModelOverriddenFormat = "%s can't read this message, %s answered instead"
	MessageUnsupportedInput      = "I can read text, photos and voice messages only"
	MessageFileTooLarge          = "This file is too large for me"

	CommandStart = "start"
	CommandHelp  = "help"
	CommandNew   = "new"
	CommandChats = "chats"

	telegramClientPrefix = "telegram_"
	telegramVoiceMIME    = "audio/ogg"
	// Bot API refuses to serve files above 20MB and messages above 4096 chars.
	maxTelegramFileSize    = 20 << 20
	maxTelegramMessageSize = 4096
	maxButtonsInRow        = 2
)

type TelegramUsecaseDeps struct {
	Bot      *api.BotAPI
	Models   *ModelUsecase
	Chat     *ChatUsecase
	Sessions *SessionHubUsecase
}

// TelegramUsecase serves the chat over a Telegram bot. Every Telegram chat is
// its own client with its own session set.
type TelegramUsecase struct {
	TelegramUsecaseDeps
	httpClient *http.Client
}

func NewTelegramUsecase(deps TelegramUsecaseDeps) (*TelegramUsecase, error) {
	_, err := deps.Bot.Request(
		api.NewSetMyCommands(
			[]api.BotCommand{
				{
					Command:     CommandHelp,
					Description: "Get help",
				},
				{
					Command:     CommandNew,
					Description: "Start a new chat with a model",
				},
				{
					Command:     CommandChats,
					Description: "Show chats",
				},
			}...,
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set bot commands: %w", err)
	}

	return &TelegramUsecase{
		TelegramUsecaseDeps: deps,
		httpClient:          &http.Client{Timeout: time.Minute},
	}, nil
}

// Run handles updates one at a time until ctx is cancelled.
func (t *TelegramUsecase) Run(ctx context.Context) error {
	u := api.NewUpdate(0)
	u.Timeout = 60

	updates := t.Bot.GetUpdatesChan(u)
	defer t.Bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil {
				if err := t.handleMessage(ctx, update); err != nil {
					slog.Error("error handling message", "err", err)
				}
			}
			if update.CallbackQuery != nil {
				if err := t.handleCallbackQuery(ctx, update); err != nil {
					slog.Error("error handling callback query", "err", err)
				}
			}
		}
	}
}

func (t *TelegramUsecase) handleCallbackQuery(ctx context.Context, update api.Update) error {
	chatID := update.CallbackQuery.Message.Chat.ID
	modelID := update.CallbackQuery.Data
	callback := api.NewCallback(update.CallbackQuery.ID, modelID)
	if _, err := t.Bot.Request(callback); err != nil {
		return fmt.Errorf("failed to request callback: %w", err)
	}

	aiChat, err := t.Sessions.ForClient(ctx, telegramClientID(chatID))
	if err != nil {
		t.sendMessageAndHandleErr(chatID, MessageServerError)
		return fmt.Errorf("failed to get sessions of chat %d: %w", chatID, err)
	}
	session, err := aiChat.CreateSession(ctx, modelID)
	if err != nil {
		t.sendMessageAndHandleErr(chatID, MessageServerError)
		return fmt.Errorf("failed to create session: %w", err)
	}
	t.sendMessageAndHandleErr(chatID, fmt.Sprintf(MessageSelectedModelFormat, session.ModelID))
	return nil
}

func (t *TelegramUsecase) handleMessage(ctx context.Context, update api.Update) error {
	chatID := update.Message.Chat.ID

	aiChat, err := t.Sessions.ForClient(ctx, telegramClientID(chatID))
	if err != nil {
		t.sendMessageAndHandleErr(chatID, MessageServerError)
		return fmt.Errorf("failed to get sessions of chat %d: %w", chatID, err)
	}

	if update.Message.IsCommand() {
		var answerText string
		switch update.Message.Command() {
		case CommandStart:
			answerText = MessageCommandStart
		case CommandHelp:
			answerText = MessageCommandHelp
		case CommandChats:
			answerText = prepareSessionsList(aiChat.ListSessions())
		case CommandNew:
			if err = t.sendSelectModelsKeyboard(chatID); err != nil {
				return fmt.Errorf("failed to send select models keyboard: %w", err)
			}
			return nil
		default:
			answerText = MessageCommandUnknown
		}
		t.sendMessageAndHandleErr(chatID, answerText)
		return nil
	}

	content, err := t.contentOf(ctx, update.Message)
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			t.sendMessageAndHandleErr(chatID, MessageFileTooLarge)
			return nil
		}
		if errors.Is(err, errUnsupportedTelegramInput) {
			t.sendMessageAndHandleErr(chatID, MessageUnsupportedInput)
			return nil
		}
		t.sendMessageAndHandleErr(chatID, MessageServerError)
		return fmt.Errorf("failed to read message content: %w", err)
	}

	if _, err = t.Bot.Request(api.NewChatAction(chatID, api.ChatTyping)); err != nil {
		slog.Warn("failed to send chat action", "chat", chatID, "err", err)
	}

	result, err := t.Chat.Send(ctx, aiChat, content)
	if err != nil {
		t.sendMessageAndHandleErr(chatID, MessageServerError)
		return fmt.Errorf("failed to send message: %w", err)
	}
	if result.Route.Overridden {
		t.sendMessageAndHandleErr(
			chatID,
			fmt.Sprintf(MessageModelOverriddenFormat, result.Route.Preferred.ID, result.Route.Effective.ID),
		)
	}
	for _, chunk := range splitMessage(model.TextOf(result.Reply.Content), maxTelegramMessageSize) {
		t.sendMessageAndHandleErr(chatID, chunk)
	}
	if result.ContextTrimmed {
		t.sendMessageAndHandleErr(chatID, MessageContextTrimmed)
	}
	return nil
}

var errUnsupportedTelegramInput = errors.New("unsupported telegram input")

// contentOf converts a Telegram message into outgoing content. Photos and
// voice notes are downloaded and inlined so the bot token never leaves the
// process.
func (t *TelegramUsecase) contentOf(ctx context.Context, message *api.Message) (model.Content, error) {
	switch {
	case len(message.Photo) > 0:
		photo := message.Photo[len(message.Photo)-1]
		data, err := t.download(ctx, photo.FileID)
		if err != nil {
			return nil, err
		}
		parts := model.Parts{}
		if strings.TrimSpace(message.Caption) != "" {
			parts = append(parts, model.TextPart{Text: message.Caption})
		}
		return append(parts, model.ImagePart{URL: data_url.Encode(data_url.DefaultImageMIME, data)}), nil
	case message.Voice != nil:
		data, err := t.download(ctx, message.Voice.FileID)
		if err != nil {
			return nil, err
		}
		mimeType := message.Voice.MimeType
		if mimeType == "" {
			mimeType = telegramVoiceMIME
		}
		return model.Parts{model.AudioPart{URL: data_url.Encode(mimeType, data)}}, nil
	case strings.TrimSpace(message.Text) != "":
		return model.PlainText(message.Text), nil
	default:
		return nil, errUnsupportedTelegramInput
	}
}

func (t *TelegramUsecase) download(ctx context.Context, fileID string) ([]byte, error) {
	link, err := t.Bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get file link %s: %w", fileID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build file request %s: %w", fileID, err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file %s: status %d", fileID, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTelegramFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", fileID, err)
	}
	if len(data) > maxTelegramFileSize {
		return nil, fmt.Errorf("%w: file %s is larger than %d bytes", model.ErrValidation, fileID, maxTelegramFileSize)
	}
	return data, nil
}

func (t *TelegramUsecase) sendSelectModelsKeyboard(chatID int64) error {
	msg := api.NewMessage(chatID, MessageSelectModel)
	inlineRows := make([][]api.InlineKeyboardButton, 0)
	inlineButtons := make([]api.InlineKeyboardButton, 0, maxButtonsInRow)
	for _, aiModel := range t.Models.ListModels() {
		if len(inlineButtons) == maxButtonsInRow {
			inlineRows = append(inlineRows, inlineButtons)
			inlineButtons = make([]api.InlineKeyboardButton, 0, maxButtonsInRow)
		}
		inlineButtons = append(inlineButtons, api.NewInlineKeyboardButtonData(aiModel.DisplayName, aiModel.ID))
	}
	if len(inlineButtons) > 0 {
		inlineRows = append(inlineRows, inlineButtons)
	}
	msg.ReplyMarkup = api.NewInlineKeyboardMarkup(inlineRows...)
	if _, err := t.Bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send message to bot: %w", err)
	}
	return nil
}

func (t *TelegramUsecase) sendMessageAndHandleErr(chatID int64, message string) {
	if _, err := t.Bot.Send(api.NewMessage(chatID, message)); err != nil {
		slog.Error("failed to send new message to bot", "chat", chatID, "err", err)
	}
}

func telegramClientID(chatID int64) string {
	return telegramClientPrefix + strconv.FormatInt(chatID, 10)
}

func prepareSessionsList(sessions []model.ChatSession) string {
	result := strings.Builder{}
	result.WriteString(fmt.Sprintf("Now you have %v chats.\n", len(sessions)))
	for i, session := range sessions {
		result.WriteString(
			fmt.Sprintf(
				"%v) %s, Messages: %v, Model: %s\n", i+1, session.Name, len(session.Messages), session.ModelID,
			),
		)
	}
	return result.String()
}

// splitMessage cuts text into chunks of at most limit runes, preferring line
// breaks.
func splitMessage(text string, limit int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	chunks := make([]string, 0, 1)
	for utf8.RuneCountInString(text) > limit {
		runes := []rune(text)
		cut := limit
		if idx := strings.LastIndex(string(runes[:limit]), "\n"); idx > 0 {
			cut = utf8.RuneCountInString(string(runes[:limit])[:idx])
		}
		chunks = append(chunks, string(runes[:cut]))
		text = strings.TrimLeft(string(runes[cut:]), "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
