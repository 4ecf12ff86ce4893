package key_value

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iamvkosarev/groq-chat/internal/model"
	"github.com/redis/go-redis/v9"
)

type messageInternal struct {
	Role    model.Role      `json:"role"`
	Content json.RawMessage `json:"content"`
}

type sessionInternal struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	ModelID     string            `json:"model_id"`
	Messages    []messageInternal `json:"messages"`
	CreatedAt   time.Time         `json:"created_at"`
	LastUpdated time.Time         `json:"last_updated"`
}

// AIChatStorage keeps every session of a namespace as one JSON array under
// the namespace key.
type AIChatStorage struct {
	rdb *redis.Client
}

func NewAIChatStorage(rdb *redis.Client) *AIChatStorage {
	return &AIChatStorage{
		rdb: rdb,
	}
}

func (a *AIChatStorage) ReadSessions(ctx context.Context, namespace string) ([]model.ChatSession, error) {
	raw, err := a.rdb.Get(ctx, namespace).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return make([]model.ChatSession, 0), nil
		}
		return nil, fmt.Errorf("failed to get sessions %s: %w", namespace, err)
	}
	var sessionsInt []sessionInternal
	if err = json.Unmarshal(raw, &sessionsInt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sessions %s: %w", namespace, err)
	}

	sessions := make([]model.ChatSession, 0, len(sessionsInt))
	for _, sessionInt := range sessionsInt {
		session, err := fromSessionInternal(sessionInt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse session in %s: %w", namespace, err)
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (a *AIChatStorage) WriteSessions(ctx context.Context, namespace string, sessions []model.ChatSession) error {
	sessionsInt := make([]sessionInternal, 0, len(sessions))
	for _, session := range sessions {
		sessionInt, err := toSessionInternal(session)
		if err != nil {
			return fmt.Errorf("failed to convert session %s: %w", session.ID, err)
		}
		sessionsInt = append(sessionsInt, sessionInt)
	}
	sessionsJSON, err := json.Marshal(sessionsInt)
	if err != nil {
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}
	if err = a.rdb.Set(ctx, namespace, sessionsJSON, 0).Err(); err != nil {
		return fmt.Errorf("failed to save sessions %s: %w", namespace, err)
	}
	return nil
}

func toSessionInternal(session model.ChatSession) (sessionInternal, error) {
	messages := make([]messageInternal, 0, len(session.Messages))
	for i, msg := range session.Messages {
		content, err := model.MarshalContent(msg.Content)
		if err != nil {
			return sessionInternal{}, fmt.Errorf("message %d: %w", i, err)
		}
		messages = append(messages, messageInternal{Role: msg.Role, Content: content})
	}
	return sessionInternal{
		ID:          session.ID.String(),
		Name:        session.Name,
		ModelID:     session.ModelID,
		Messages:    messages,
		CreatedAt:   session.CreatedAt,
		LastUpdated: session.LastUpdated,
	}, nil
}

func fromSessionInternal(sessionInt sessionInternal) (model.ChatSession, error) {
	sessionID, err := uuid.Parse(sessionInt.ID)
	if err != nil {
		return model.ChatSession{}, fmt.Errorf("failed to parse session id %s: %w", sessionInt.ID, err)
	}
	messages := make([]model.Message, 0, len(sessionInt.Messages))
	for i, msg := range sessionInt.Messages {
		role, err := model.ParseRole(string(msg.Role))
		if err != nil {
			return model.ChatSession{}, fmt.Errorf("session %s message %d: %w", sessionID, i, err)
		}
		content, err := model.UnmarshalContent(msg.Content)
		if err != nil {
			return model.ChatSession{}, fmt.Errorf("session %s message %d: %w", sessionID, i, err)
		}
		messages = append(messages, model.Message{Role: role, Content: content})
	}
	return model.ChatSession{
		ID:          sessionID,
		Name:        sessionInt.Name,
		ModelID:     sessionInt.ModelID,
		Messages:    messages,
		CreatedAt:   sessionInt.CreatedAt,
		LastUpdated: sessionInt.LastUpdated,
	}, nil
}
