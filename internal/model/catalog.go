package model

const (
	DefaultTextModelID   = "llama-3.3-70b-versatile"
	DefaultVisionModelID = "llama-3.2-11b-vision-preview"
	DefaultAudioModelID  = "whisper-large-v3"

	groqMaxAudioSize = 25 << 20
)

// Catalog returns the Groq models offered to clients, in display order.
func Catalog() []AIModel {
	return []AIModel{
		NewAIModel(
			"llama-3.3-70b-versatile", "Llama 3.3 70B", "Versatile model for complex tasks",
			CategoryText, Limits{RequestsPerDay: 1000, ContextWindow: 131072},
		),
		NewAIModel(
			"llama-3.1-8b-instant", "Llama 3.1 8B", "Fast model for everyday chat",
			CategoryText, Limits{RequestsPerDay: 14400, ContextWindow: 131072},
		),
		NewAIModel(
			"mixtral-8x7b-32768", "Mixtral 8x7B", "Powerful model for complex tasks",
			CategoryText, Limits{RequestsPerDay: 14400, ContextWindow: 32768},
		),
		NewAIModel(
			"gemma2-9b-it", "Gemma 2 9B", "Efficient model for general purposes",
			CategoryText, Limits{RequestsPerDay: 14400, ContextWindow: 8192},
		),
		NewAIModel(
			"llama-3.2-11b-vision-preview", "Llama Vision", "Vision-capable model for image and text analysis",
			CategoryVision, Limits{RequestsPerDay: 7000, ContextWindow: 8192},
		),
		NewAIModel(
			"llama-3.2-90b-vision-preview", "Llama Vision 90B", "Larger vision model for detailed image analysis",
			CategoryVision, Limits{RequestsPerDay: 3500, ContextWindow: 8192},
		),
		NewAIModel(
			"whisper-large-v3", "Whisper Large v3", "Multilingual speech recognition",
			CategoryAudio, Limits{RequestsPerDay: 2000, MaxAudioSize: groqMaxAudioSize},
		),
		NewAIModel(
			"whisper-large-v3-turbo", "Whisper Large v3 Turbo", "Faster multilingual speech recognition",
			CategoryAudio, Limits{RequestsPerDay: 2000, MaxAudioSize: groqMaxAudioSize},
		),
		NewAIModel(
			"distil-whisper-large-v3-en", "Distil Whisper", "English-only speech recognition",
			CategoryAudio, Limits{RequestsPerDay: 2000, MaxAudioSize: groqMaxAudioSize},
		),
		NewAIModel(
			"llama3-groq-70b-8192-tool-use-preview", "Llama 3 Groq 70B Tool Use", "Fine-tuned for function calling",
			CategoryToolUse, Limits{RequestsPerDay: 14400, ContextWindow: 8192},
		),
		NewAIModel(
			"llama3-groq-8b-8192-tool-use-preview", "Llama 3 Groq 8B Tool Use", "Small model tuned for function calling",
			CategoryToolUse, Limits{RequestsPerDay: 14400, ContextWindow: 8192},
		),
	}
}
