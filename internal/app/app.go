package app

import (
	"context"
	"fmt"
	"log/slog"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamvkosarev/groq-chat/config"
	"github.com/iamvkosarev/groq-chat/internal/model"
	"github.com/iamvkosarev/groq-chat/internal/server"
	in_memory "github.com/iamvkosarev/groq-chat/internal/storage/in-memory"
	key_value "github.com/iamvkosarev/groq-chat/internal/storage/key-value"
	"github.com/iamvkosarev/groq-chat/internal/storage/uploads"
	"github.com/iamvkosarev/groq-chat/internal/usecase"
	openai_tools "github.com/iamvkosarev/groq-chat/pkg/openai-tools"
	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc/pool"
)

func Run(ctx context.Context, cfg *config.Config) error {
	modelUsecase, err := usecase.NewModelUsecase(model.Catalog(), cfg.Models)
	if err != nil {
		return fmt.Errorf("failed to create model registry: %w", err)
	}

	aiChatStorage, closeStorage, err := newAIChatStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStorage()

	uploadStorage, err := uploads.NewUploadStorage(cfg.HTTP.UploadDir, cfg.HTTP.PublicBaseURL)
	if err != nil {
		return err
	}

	openAIUsecase := usecase.NewOpenAIUsecase(cfg.Groq, openai_tools.Counter{})

	chatUsecase := usecase.NewChatUsecase(
		usecase.ChatUsecaseDeps{
			Models:    modelUsecase,
			Inference: openAIUsecase,
			Uploads:   uploadStorage,
		},
	)

	sessionHubUsecase := usecase.NewSessionHubUsecase(
		usecase.SessionHubUsecaseDeps{
			AiChatStorage: aiChatStorage,
			Models:        modelUsecase,
		}, cfg.Storage,
	)

	srv, err := server.New(
		cfg.HTTP, server.Deps{
			Models:   modelUsecase,
			Chat:     chatUsecase,
			Sessions: sessionHubUsecase,
			Uploads:  uploadStorage,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError()
	p.Go(srv.Run)
	if cfg.Telegram.APIToken != "" {
		telegramUsecase, err := newTelegramUsecase(cfg.Telegram, modelUsecase, chatUsecase, sessionHubUsecase)
		if err != nil {
			return err
		}
		p.Go(telegramUsecase.Run)
	}
	return p.Wait()
}

func newTelegramUsecase(
	cfg config.Telegram,
	models *usecase.ModelUsecase,
	chat *usecase.ChatUsecase,
	sessions *usecase.SessionHubUsecase,
) (*usecase.TelegramUsecase, error) {
	bot, err := api.NewBotAPI(cfg.APIToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create new bot: %w", err)
	}
	slog.Info("authorized on telegram", "account", bot.Self.UserName)

	telegramUsecase, err := usecase.NewTelegramUsecase(
		usecase.TelegramUsecaseDeps{
			Bot:      bot,
			Models:   models,
			Chat:     chat,
			Sessions: sessions,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram usecase: %w", err)
	}
	return telegramUsecase, nil
}

// newAIChatStorage picks Redis when an endpoint is configured and falls back
// to process memory otherwise.
func newAIChatStorage(ctx context.Context, cfg config.Storage) (usecase.AiChatStorage, func(), error) {
	if cfg.RedisEndpoint == "" {
		slog.Warn("REDIS_ENDPOINT is not set, sessions are kept in memory")
		return in_memory.NewAIChatStorage(), func() {}, nil
	}

	rdb := redis.NewClient(
		&redis.Options{
			Addr: cfg.RedisEndpoint,
		},
	)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis %s: %w", cfg.RedisEndpoint, err)
	}
	slog.Info("sessions are stored in redis", "endpoint", cfg.RedisEndpoint)
	return key_value.NewAIChatStorage(rdb), func() {
		if err := rdb.Close(); err != nil {
			slog.Error("failed to close redis client", "err", err)
		}
	}, nil
}
