package usecase

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/iamvkosarev/groq-chat/config"
	"github.com/iamvkosarev/groq-chat/internal/model"
)

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

type SessionHubUsecaseDeps struct {
	AiChatStorage AiChatStorage
	Models        ModelRegistry
	Clock         func() time.Time
}

// SessionHubUsecase hands out one AiChatUsecase per client. Each client's
// sessions live under their own namespace key and are read once, on first use.
type SessionHubUsecase struct {
	SessionHubUsecaseDeps
	cfg config.Storage

	mu      sync.Mutex
	clients map[string]*AiChatUsecase
}

func NewSessionHubUsecase(deps SessionHubUsecaseDeps, cfg config.Storage) *SessionHubUsecase {
	return &SessionHubUsecase{
		SessionHubUsecaseDeps: deps,
		cfg:                   cfg,
		clients:               make(map[string]*AiChatUsecase),
	}
}

func (s *SessionHubUsecase) ForClient(ctx context.Context, clientID string) (*AiChatUsecase, error) {
	if !clientIDPattern.MatchString(clientID) {
		return nil, fmt.Errorf("%w: invalid client id %q", model.ErrValidation, clientID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if aiChat, ok := s.clients[clientID]; ok {
		return aiChat, nil
	}
	aiChat, err := NewAiChatUsecase(
		ctx, AiChatUsecaseDeps{
			AiChatStorage: s.AiChatStorage,
			Models:        s.Models,
			Clock:         s.Clock,
		}, s.namespace(clientID),
	)
	if err != nil {
		return nil, err
	}
	s.clients[clientID] = aiChat
	return aiChat, nil
}

func (s *SessionHubUsecase) namespace(clientID string) string {
	return fmt.Sprintf("%s_%s", s.cfg.NamespacePrefix, clientID)
}
