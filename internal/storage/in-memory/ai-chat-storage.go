package in_memory

import (
	"context"
	"sync"

	"github.com/iamvkosarev/groq-chat/internal/model"
)

// AIChatStorage keeps session sets per namespace for the life of the
// process. Reads and writes copy, so callers never share slices with it.
type AIChatStorage struct {
	mu       sync.RWMutex
	sessions map[string][]model.ChatSession
}

func NewAIChatStorage() *AIChatStorage {
	return &AIChatStorage{
		sessions: make(map[string][]model.ChatSession),
	}
}

func (a *AIChatStorage) ReadSessions(_ context.Context, namespace string) ([]model.ChatSession, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return cloneSessions(a.sessions[namespace]), nil
}

func (a *AIChatStorage) WriteSessions(_ context.Context, namespace string, sessions []model.ChatSession) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[namespace] = cloneSessions(sessions)
	return nil
}

func cloneSessions(sessions []model.ChatSession) []model.ChatSession {
	cloned := make([]model.ChatSession, 0, len(sessions))
	for _, session := range sessions {
		cloned = append(cloned, session.Clone())
	}
	return cloned
}
