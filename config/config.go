package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Groq struct {
	APIKey            string        `env:"GROQ_API_KEY"`
	BaseURL           string        `yaml:"base_url" env:"GROQ_BASE_URL" env-default:"https://api.groq.com/openai/v1"`
	SystemPrompt      string        `yaml:"system_prompt" env:"GROQ_SYSTEM_PROMPT" env-default:"You are a helpful assistant. When analyzing questions or problems, break them down step by step and provide clear explanations. For mathematical problems, show your work and explain each step of the solution process."`
	ChatTemperature   float32       `yaml:"chat_temperature" env:"GROQ_CHAT_TEMPERATURE" env-default:"0.7"`
	VisionTemperature float32       `yaml:"vision_temperature" env:"GROQ_VISION_TEMPERATURE" env-default:"0.5"`
	MaxTokens         int           `yaml:"max_tokens" env:"GROQ_MAX_TOKENS" env-default:"8192"`
	RequestTimeout    time.Duration `yaml:"request_timeout" env:"GROQ_REQUEST_TIMEOUT" env-default:"60s"`
}

type Models struct {
	DefaultText   string `yaml:"default_text" env:"DEFAULT_TEXT_MODEL" env-default:"llama-3.3-70b-versatile"`
	DefaultVision string `yaml:"default_vision" env:"DEFAULT_VISION_MODEL" env-default:"llama-3.2-11b-vision-preview"`
	DefaultAudio  string `yaml:"default_audio" env:"DEFAULT_AUDIO_MODEL" env-default:"whisper-large-v3"`
}

type HTTP struct {
	Port          int    `yaml:"port" env:"PORT" env-default:"3000"`
	UploadDir     string `yaml:"upload_dir" env:"UPLOAD_DIR" env-default:"public/uploads"`
	PublicBaseURL string `yaml:"public_base_url" env:"PUBLIC_BASE_URL"`
	MaxBodyBytes  int64  `yaml:"max_body_bytes" env:"MAX_BODY_BYTES" env-default:"33554432"`
}

type Storage struct {
	RedisEndpoint   string `yaml:"redis_endpoint" env:"REDIS_ENDPOINT"`
	NamespacePrefix string `yaml:"namespace_prefix" env:"SESSION_NAMESPACE_PREFIX" env-default:"chat_sessions"`
}

// Telegram enables the bot front end when APIToken is set.
type Telegram struct {
	APIToken string `yaml:"api_token" env:"TELEGRAM_API_TOKEN"`
}

type Config struct {
	Groq     Groq     `yaml:"groq"`
	Models   Models   `yaml:"models"`
	HTTP     HTTP     `yaml:"http"`
	Storage  Storage  `yaml:"storage"`
	Telegram Telegram `yaml:"telegram"`
}

// LoadConfig reads cfgPath when given, then lets the environment override it.
func LoadConfig(cfgPath string) (*Config, error) {
	var cfg Config
	if cfgPath != "" {
		if err := cleanenv.ReadConfig(cfgPath, &cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
