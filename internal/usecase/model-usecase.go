package usecase

import (
	"fmt"
	"log/slog"

	"github.com/iamvkosarev/groq-chat/config"
	"github.com/iamvkosarev/groq-chat/internal/model"
)

// ModelUsecase is the read-only model registry.
type ModelUsecase struct {
	models        []model.AIModel
	byID          map[string]model.AIModel
	defaultText   model.AIModel
	defaultVision model.AIModel
	defaultAudio  model.AIModel
}

func NewModelUsecase(catalog []model.AIModel, cfg config.Models) (*ModelUsecase, error) {
	m := &ModelUsecase{
		models: make([]model.AIModel, len(catalog)),
		byID:   make(map[string]model.AIModel, len(catalog)),
	}
	copy(m.models, catalog)
	for _, aiModel := range catalog {
		if _, ok := m.byID[aiModel.ID]; ok {
			return nil, fmt.Errorf("duplicate model %q in catalog", aiModel.ID)
		}
		m.byID[aiModel.ID] = aiModel
	}

	var err error
	if m.defaultText, err = m.resolveDefault(cfg.DefaultText, model.DefaultTextModelID, model.CategoryText); err != nil {
		return nil, fmt.Errorf("resolve default text model: %w", err)
	}
	if m.defaultVision, err = m.resolveDefault(
		cfg.DefaultVision, model.DefaultVisionModelID, model.CategoryVision,
	); err != nil {
		return nil, fmt.Errorf("resolve default vision model: %w", err)
	}
	if m.defaultAudio, err = m.resolveDefault(cfg.DefaultAudio, model.DefaultAudioModelID, model.CategoryAudio); err != nil {
		return nil, fmt.Errorf("resolve default audio model: %w", err)
	}
	return m, nil
}

func (m *ModelUsecase) ListModels() []model.AIModel {
	result := make([]model.AIModel, len(m.models))
	copy(result, m.models)
	return result
}

func (m *ModelUsecase) GetModel(id string) (model.AIModel, error) {
	aiModel, ok := m.byID[id]
	if !ok {
		return model.AIModel{}, fmt.Errorf("%w: model %q", model.ErrNotFound, id)
	}
	return aiModel, nil
}

func (m *ModelUsecase) ModelsByCategory(category model.ModelCategory) []model.AIModel {
	result := make([]model.AIModel, 0)
	for _, aiModel := range m.models {
		if aiModel.Category == category {
			result = append(result, aiModel)
		}
	}
	return result
}

func (m *ModelUsecase) CapabilitiesOf(aiModel model.AIModel) model.Capabilities {
	return model.CapabilitiesOf(aiModel.Category)
}

func (m *ModelUsecase) DefaultTextModel() model.AIModel {
	return m.defaultText
}

func (m *ModelUsecase) DefaultVisionModel() model.AIModel {
	return m.defaultVision
}

func (m *ModelUsecase) DefaultAudioModel() model.AIModel {
	return m.defaultAudio
}

func (m *ModelUsecase) resolveDefault(
	configured, builtin string,
	category model.ModelCategory,
) (model.AIModel, error) {
	want := model.CapabilitiesOf(category)
	for _, id := range []string{configured, builtin} {
		if id == "" {
			continue
		}
		aiModel, ok := m.byID[id]
		if ok && m.CapabilitiesOf(aiModel) == want {
			return aiModel, nil
		}
		if id == configured {
			slog.Warn("configured default model is unusable", "model", id, "category", category)
		}
	}
	if candidates := m.ModelsByCategory(category); len(candidates) > 0 {
		return candidates[0], nil
	}
	return model.AIModel{}, fmt.Errorf("%w: no model in category %q", model.ErrNotFound, category)
}
