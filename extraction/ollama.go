package extraction

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms/ollama"
)

// NewOllamaExtractor builds an LLMExtractor backed by a local Ollama server.
func NewOllamaExtractor(serverURL, model string, timeout time.Duration, logger logrus.FieldLogger) (*LLMExtractor, error) {
	opts := []ollama.Option{ollama.WithModel(model), ollama.WithFormat("json")}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	return NewLLMExtractor(llm, timeout, logger), nil
}
