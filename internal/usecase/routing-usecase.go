package usecase

import (
	"log/slog"

	"github.com/iamvkosarev/groq-chat/internal/model"
)

type RouteMode string

const (
	RouteModeChat          = RouteMode("chat")
	RouteModeVision        = RouteMode("vision")
	RouteModeTranscription = RouteMode("transcription")
)

type ModelRegistry interface {
	GetModel(id string) (model.AIModel, error)
	DefaultTextModel() model.AIModel
	DefaultVisionModel() model.AIModel
	DefaultAudioModel() model.AIModel
}

// RouteDecision tells the caller which model answers the turn and whether the
// user's choice was replaced.
type RouteDecision struct {
	RequestedModelID string         `json:"requested_model_id"`
	Preferred        model.AIModel  `json:"preferred"`
	Effective        model.AIModel  `json:"effective"`
	Transcriber      *model.AIModel `json:"transcriber,omitempty"`
	Mode             RouteMode      `json:"mode"`
	FellBack         bool           `json:"fell_back"`
	Overridden       bool           `json:"overridden"`
}

type RoutingUsecase struct {
	registry ModelRegistry
}

func NewRoutingUsecase(registry ModelRegistry) *RoutingUsecase {
	return &RoutingUsecase{
		registry: registry,
	}
}

// Route applies the selection policy: unknown models fall back to the default
// text model, images force a vision model, and audio only ever reaches the
// default audio model. Images are checked before audio.
func (r *RoutingUsecase) Route(content model.Content, preferredModelID string) RouteDecision {
	decision := RouteDecision{
		RequestedModelID: preferredModelID,
		Mode:             RouteModeChat,
	}

	preferred, err := r.registry.GetModel(preferredModelID)
	if err != nil {
		preferred = r.registry.DefaultTextModel()
		decision.FellBack = true
		slog.Warn("unknown model requested, using default", "requested", preferredModelID, "model", preferred.ID)
	}
	decision.Preferred = preferred
	target := preferred

	if _, hasImage := model.ImageOf(content); hasImage {
		if !target.Capabilities.SupportsImage {
			target = r.registry.DefaultVisionModel()
			decision.Overridden = true
		}
		decision.Mode = RouteModeVision
	}

	if _, hasAudio := model.AudioOf(content); hasAudio {
		if target.Capabilities.SupportsAudio {
			audioModel := r.registry.DefaultAudioModel()
			if audioModel.ID != target.ID {
				target = audioModel
				decision.Overridden = true
			}
			decision.Mode = RouteModeTranscription
		} else {
			transcriber := r.registry.DefaultAudioModel()
			decision.Transcriber = &transcriber
		}
	}

	decision.Effective = target
	return decision
}
