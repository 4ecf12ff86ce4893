package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      = Role("user")
	RoleAssistant = Role("assistant")
	RoleSystem    = Role("system")
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAssistant, RoleSystem:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: invalid role %q", ErrValidation, s)
	}
}

type Message struct {
	Role    Role
	Content Content
}

func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: PlainText(text)}
}

func (m Message) Clone() Message {
	return Message{Role: m.Role, Content: CloneContent(m.Content)}
}

func (m Message) MarshalJSON() ([]byte, error) {
	content, err := MarshalContent(m.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(
		struct {
			Role    Role            `json:"role"`
			Content json.RawMessage `json:"content"`
		}{
			Role:    m.Role,
			Content: content,
		},
	)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: decode message: %v", ErrValidation, err)
	}
	role, err := ParseRole(raw.Role)
	if err != nil {
		return err
	}
	content, err := UnmarshalContent(raw.Content)
	if err != nil {
		return err
	}
	m.Role = role
	m.Content = content
	return nil
}

// ChatSession is one conversation. Once it holds a message its ModelID
// never changes.
type ChatSession struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	ModelID     string    `json:"model_id"`
	Messages    []Message `json:"messages"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

func (s ChatSession) IsEmpty() bool {
	return len(s.Messages) == 0
}

func (s ChatSession) Clone() ChatSession {
	cloned := s
	cloned.Messages = make([]Message, len(s.Messages))
	for i, msg := range s.Messages {
		cloned.Messages[i] = msg.Clone()
	}
	return cloned
}
