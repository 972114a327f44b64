package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	tagsPath     = "/api/tags"
	maxErrorBody = 4 << 10
)

// OllamaTagsResponse represents the response from Ollama /api/tags endpoint
type OllamaTagsResponse struct {
	Models []OllamaModel `json:"models"`
}

// OllamaModel represents a single model in the Ollama tags response
type OllamaModel struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
}

// SizeGB reports the model size in gigabytes.
func (m OllamaModel) SizeGB() float64 {
	return float64(m.Size) / (1024 * 1024 * 1024)
}

// ListModels asks the Ollama server at baseURL which models it has pulled.
func ListModels(ctx context.Context, client *http.Client, baseURL string) ([]OllamaModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+tagsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s (is Ollama running?): %w", baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("API error: %s - %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	var tags OllamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}
	return tags.Models, nil
}
