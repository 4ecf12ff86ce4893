package model

type ModelCategory string

const (
	CategoryText    = ModelCategory("Text Models")
	CategoryVision  = ModelCategory("Vision Models")
	CategoryAudio   = ModelCategory("Audio Models")
	CategoryToolUse = ModelCategory("Tool Use Models")
)

type Capabilities struct {
	SupportsImage bool `json:"supports_image"`
	SupportsAudio bool `json:"supports_audio"`
}

// Limits are declared by the provider and reported to clients as is.
type Limits struct {
	RequestsPerDay int `json:"requests_per_day"`
	ContextWindow  int `json:"context_window"`
	// MaxAudioSize is in bytes, zero for models without audio input.
	MaxAudioSize int64 `json:"max_audio_size,omitempty"`
}

type AIModel struct {
	ID           string        `json:"id"`
	DisplayName  string        `json:"name"`
	Description  string        `json:"description"`
	Category     ModelCategory `json:"category"`
	Capabilities Capabilities  `json:"capabilities"`
	Limits       Limits        `json:"limits"`
}

// CapabilitiesOf maps every category to a capability set. Unknown and plain
// text categories get the zero value.
func CapabilitiesOf(category ModelCategory) Capabilities {
	switch category {
	case CategoryVision:
		return Capabilities{SupportsImage: true}
	case CategoryAudio:
		return Capabilities{SupportsAudio: true}
	default:
		return Capabilities{}
	}
}

func NewAIModel(id, displayName, description string, category ModelCategory, limits Limits) AIModel {
	return AIModel{
		ID:           id,
		DisplayName:  displayName,
		Description:  description,
		Category:     category,
		Capabilities: CapabilitiesOf(category),
		Limits:       limits,
	}
}
