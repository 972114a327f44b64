package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"PromptChat/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
		LLM: config.LLMConfig{
			Provider:       config.ProviderOpenAI,
			BaseURL:        baseURL,
			Model:          "llama3",
			SystemPrompt:   config.DefaultSystemPrompt,
			PromptTemplate: config.DefaultPromptTemplate,
		},
		Memory: config.MemoryConfig{
			Backend: config.MemoryBackendBuffer,
			Scope:   config.ScopeShared,
		},
		Telemetry: config.TelemetryConfig{LogDir: t.TempDir(), LogLevel: "error"},
		App:       config.AppConfig{Name: "promptchat", Environment: "test", Version: "test"},
	}
}

func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3:latest","size":4661224676},{"name":"mistral:latest","size":4109865159}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestServeRejectsInvalidPort(t *testing.T) {
	t.Setenv("PORT", "")

	app := newApp()
	app.Writer = io.Discard
	app.ErrWriter = io.Discard

	err := app.Run([]string{"promptchat", "serve", "--port", "not-a-port"})
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidPort)

	t.Setenv("PORT", "70000")
	err = app.Run([]string{"promptchat", "serve"})
	assert.ErrorIs(t, err, config.ErrInvalidPort)
}

func TestServeIsTheDefaultCommand(t *testing.T) {
	t.Setenv("PORT", "not-a-port")

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard

	err := app.Run([]string{"promptchat"})
	assert.ErrorIs(t, err, config.ErrInvalidPort, "bare invocation should start the server")
	assert.NotContains(t, out.String(), "USAGE")
}

func TestBuildServesHealth(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	ollama := fakeOllama(t)
	app, err := build(context.Background(), testConfig(t, ollama.URL))
	require.NoError(t, err)
	defer app.Close()

	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "up", body["backend"])
}

func TestBuildRejectsUnreachableRedis(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Memory.Backend = config.MemoryBackendRedis
	cfg.Memory.RedisAddr = "127.0.0.1:1"

	_, err := build(context.Background(), cfg)
	assert.ErrorContains(t, err, "failed to initialize memory")
}

func TestListModels(t *testing.T) {
	ollama := fakeOllama(t)
	cfg := testConfig(t, ollama.URL)

	var out bytes.Buffer
	require.NoError(t, listModels(context.Background(), &out, cfg))

	assert.Contains(t, out.String(), "1. llama3:latest - 4.34 GB (current)")
	assert.Contains(t, out.String(), "2. mistral:latest - 3.83 GB\n")
}

func TestListModelsUnreachable(t *testing.T) {
	err := listModels(context.Background(), io.Discard, testConfig(t, "http://127.0.0.1:1"))
	assert.ErrorContains(t, err, "failed to list Ollama models")
}
