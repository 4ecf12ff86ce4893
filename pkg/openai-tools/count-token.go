package openai_tools

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sashabaranov/go-openai"
)

const (
	tokensPerMessage = 3
	tokensPerName    = 1
	tokensPerReply   = 3
	// Flat estimate for an image part; the real cost depends on resolution.
	tokensPerImage = 85
)

var (
	encodingsMu sync.Mutex
	encodings   = make(map[string]*tiktoken.Tiktoken)
)

// CountToken estimates the prompt size of messages. Models tiktoken does not
// know, which is every non-OpenAI model, are counted with cl100k_base.
func CountToken(messages []openai.ChatCompletionMessage, modelName string) (int, error) {
	tkm, err := encodingFor(modelName)
	if err != nil {
		return 0, err
	}

	numTokens := 0
	for _, message := range messages {
		numTokens += tokensPerMessage
		numTokens += len(tkm.Encode(message.Role, nil, nil))
		numTokens += len(tkm.Encode(message.Content, nil, nil))
		for _, part := range message.MultiContent {
			switch part.Type {
			case openai.ChatMessagePartTypeText:
				numTokens += len(tkm.Encode(part.Text, nil, nil))
			case openai.ChatMessagePartTypeImageURL:
				numTokens += tokensPerImage
			}
		}
		if message.Name != "" {
			numTokens += tokensPerName
			numTokens += len(tkm.Encode(message.Name, nil, nil))
		}
	}
	numTokens += tokensPerReply
	return numTokens, nil
}

// Counter adapts CountToken to an injectable dependency.
type Counter struct{}

func (Counter) CountTokens(messages []openai.ChatCompletionMessage, modelName string) (int, error) {
	return CountToken(messages, modelName)
}

func encodingFor(modelName string) (*tiktoken.Tiktoken, error) {
	encodingsMu.Lock()
	defer encodingsMu.Unlock()

	if tkm, ok := encodings[modelName]; ok {
		return tkm, nil
	}
	tkm, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		tkm, err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			return nil, fmt.Errorf("failed to load encoding for %s: %w", modelName, err)
		}
	}
	encodings[modelName] = tkm
	return tkm, nil
}
