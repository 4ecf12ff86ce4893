package usecase

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/iamvkosarev/groq-chat/internal/model"
)

const (
	DefaultSessionName   = "New Chat"
	maxSessionNameLength = 30
)

// AiChatStorage persists the whole session set of one namespace at a time.
type AiChatStorage interface {
	ReadSessions(ctx context.Context, namespace string) ([]model.ChatSession, error)
	WriteSessions(ctx context.Context, namespace string, sessions []model.ChatSession) error
}

type AiChatUsecaseDeps struct {
	AiChatStorage AiChatStorage
	Models        ModelRegistry
	Clock         func() time.Time
}

// AiChatUsecase owns the chat sessions of a single client and the pointer to
// the active one. Every mutation rewrites the full set in storage; state is
// only changed after the write succeeded.
type AiChatUsecase struct {
	AiChatUsecaseDeps
	namespace string

	mu       sync.Mutex
	sessions []model.ChatSession
	activeID uuid.UUID
}

func NewAiChatUsecase(ctx context.Context, deps AiChatUsecaseDeps, namespace string) (*AiChatUsecase, error) {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	sessions, err := deps.AiChatStorage.ReadSessions(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions %s: %w", namespace, err)
	}
	a := &AiChatUsecase{
		AiChatUsecaseDeps: deps,
		namespace:         namespace,
		sessions:          sessions,
	}
	if listed := a.listSessions(); len(listed) > 0 {
		a.activeID = listed[0].ID
	}
	return a, nil
}

func (a *AiChatUsecase) CreateSession(ctx context.Context, modelID string) (model.ChatSession, error) {
	aiModel, err := a.Models.GetModel(modelID)
	if err != nil {
		aiModel = a.Models.DefaultTextModel()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.createSession(ctx, aiModel.ID)
}

// SwitchModel binds the active session to newModelID. A session that already
// has messages is left untouched and a new one is started instead.
func (a *AiChatUsecase) SwitchModel(ctx context.Context, newModelID string) (model.ChatSession, error) {
	if _, err := a.Models.GetModel(newModelID); err != nil {
		return model.ChatSession{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	idx := a.indexOf(a.activeID)
	if idx < 0 {
		return a.createSession(ctx, newModelID)
	}
	active := a.sessions[idx]
	if active.ModelID == newModelID {
		return active.Clone(), nil
	}
	if !active.IsEmpty() {
		return a.createSession(ctx, newModelID)
	}

	next := a.cloneSessions()
	next[idx].ModelID = newModelID
	next[idx].LastUpdated = a.Clock()
	if err := a.commit(ctx, next); err != nil {
		return model.ChatSession{}, err
	}
	return next[idx].Clone(), nil
}

// AppendMessage does not deduplicate; sending the same message twice stores
// it twice.
func (a *AiChatUsecase) AppendMessage(
	ctx context.Context,
	sessionID uuid.UUID,
	message model.Message,
) (model.ChatSession, error) {
	if _, err := model.ParseRole(string(message.Role)); err != nil {
		return model.ChatSession{}, err
	}
	if message.Content == nil {
		return model.ChatSession{}, fmt.Errorf("%w: message content is required", model.ErrValidation)
	}
	if err := model.ValidateMedia(message.Content); err != nil {
		return model.ChatSession{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	idx := a.indexOf(sessionID)
	if idx < 0 {
		return model.ChatSession{}, fmt.Errorf("%w: session %s", model.ErrNotFound, sessionID)
	}
	next := a.cloneSessions()
	session := &next[idx]
	if session.Name == DefaultSessionName && message.Role == model.RoleUser {
		if name := sessionNameFrom(message.Content); name != "" {
			session.Name = name
		}
	}
	session.Messages = append(session.Messages, message.Clone())
	session.LastUpdated = a.Clock()
	if err := a.commit(ctx, next); err != nil {
		return model.ChatSession{}, err
	}
	return next[idx].Clone(), nil
}

// LoadSession makes sessionID active. On error the active session is kept.
func (a *AiChatUsecase) LoadSession(sessionID uuid.UUID) (model.ChatSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := a.indexOf(sessionID)
	if idx < 0 {
		return model.ChatSession{}, fmt.Errorf("%w: session %s", model.ErrNotFound, sessionID)
	}
	a.activeID = sessionID
	return a.sessions[idx].Clone(), nil
}

func (a *AiChatUsecase) ActiveSession() (model.ChatSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := a.indexOf(a.activeID)
	if idx < 0 {
		return model.ChatSession{}, fmt.Errorf("%w: no active session", model.ErrNotFound)
	}
	return a.sessions[idx].Clone(), nil
}

// ListSessions returns the sessions, most recently updated first.
func (a *AiChatUsecase) ListSessions() []model.ChatSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listSessions()
}

func (a *AiChatUsecase) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := a.indexOf(sessionID)
	if idx < 0 {
		return fmt.Errorf("%w: session %s", model.ErrNotFound, sessionID)
	}
	next := a.cloneSessions()
	next = slices.Delete(next, idx, idx+1)
	if err := a.commit(ctx, next); err != nil {
		return err
	}
	if a.activeID == sessionID {
		a.activeID = uuid.Nil
	}
	return nil
}

func (a *AiChatUsecase) createSession(ctx context.Context, modelID string) (model.ChatSession, error) {
	sessionID, err := uuid.NewV7()
	if err != nil {
		return model.ChatSession{}, fmt.Errorf("failed to generate session id: %w", err)
	}
	now := a.Clock()
	session := model.ChatSession{
		ID:          sessionID,
		Name:        DefaultSessionName,
		ModelID:     modelID,
		Messages:    make([]model.Message, 0),
		CreatedAt:   now,
		LastUpdated: now,
	}
	next := append(a.cloneSessions(), session)
	if err = a.commit(ctx, next); err != nil {
		return model.ChatSession{}, err
	}
	a.activeID = sessionID
	return session.Clone(), nil
}

func (a *AiChatUsecase) commit(ctx context.Context, next []model.ChatSession) error {
	if err := a.AiChatStorage.WriteSessions(ctx, a.namespace, next); err != nil {
		return fmt.Errorf("failed to write sessions %s: %w", a.namespace, err)
	}
	a.sessions = next
	return nil
}

func (a *AiChatUsecase) listSessions() []model.ChatSession {
	listed := a.cloneSessions()
	slices.SortStableFunc(
		listed, func(x, y model.ChatSession) int {
			return y.LastUpdated.Compare(x.LastUpdated)
		},
	)
	return listed
}

func (a *AiChatUsecase) cloneSessions() []model.ChatSession {
	cloned := make([]model.ChatSession, len(a.sessions), len(a.sessions)+1)
	for i, session := range a.sessions {
		cloned[i] = session.Clone()
	}
	return cloned
}

func (a *AiChatUsecase) indexOf(sessionID uuid.UUID) int {
	if sessionID == uuid.Nil {
		return -1
	}
	return slices.IndexFunc(
		a.sessions, func(s model.ChatSession) bool {
			return s.ID == sessionID
		},
	)
}

func sessionNameFrom(content model.Content) string {
	name := strings.Join(strings.Fields(model.TextOf(content)), " ")
	if utf8.RuneCountInString(name) <= maxSessionNameLength {
		return name
	}
	runes := []rune(name)
	return strings.TrimSpace(string(runes[:maxSessionNameLength])) + "..."
}
