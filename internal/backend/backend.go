// Package backend connects to the language-model server.
package backend

import (
	"fmt"
	"net/http"

	"PromptChat/internal/config"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Ollama ignores the key but the OpenAI client refuses to start without one.
const ollamaAPIKey = "ollama"

// New builds the model client for cfg.Provider.
// The openai provider talks to Ollama's OpenAI-compatible API under <BaseURL>/v1.
func New(cfg config.LLMConfig, httpClient *http.Client) (llms.Model, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	switch cfg.Provider {
	case config.ProviderOpenAI:
		llm, err := openai.New(
			openai.WithBaseURL(cfg.BaseURL+"/v1"),
			openai.WithToken(ollamaAPIKey),
			openai.WithModel(cfg.Model),
			openai.WithHTTPClient(httpClient),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		return llm, nil
	case config.ProviderOllama:
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
			ollama.WithHTTPClient(httpClient),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}
