package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"PromptChat/internal/backend"
	"PromptChat/internal/cache"
	"PromptChat/internal/chain"
	"PromptChat/internal/config"
	"PromptChat/internal/memory"
	"PromptChat/internal/server"
	"PromptChat/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
)

// loadConfig reads the environment and applies any flags that were set.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if c.IsSet("port") {
		port, err := config.ParsePort(c.String("port"))
		if err != nil {
			return nil, err
		}
		cfg.Server.Port = port
	}
	if c.IsSet("host") {
		cfg.Server.Host = c.String("host")
	}
	if c.IsSet("model") {
		cfg.LLM.Model = c.String("model")
	}
	if c.IsSet("base-url") {
		cfg.LLM.BaseURL = strings.TrimRight(c.String("base-url"), "/")
	}
	if c.IsSet("provider") {
		cfg.LLM.Provider = strings.ToLower(c.String("provider"))
	}
	if c.IsSet("stream") {
		cfg.Server.Stream = c.Bool("stream")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// application is everything serve wires together.
type application struct {
	router  *gin.Engine
	logger  *slog.Logger
	closers []func()
}

func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build is the composition root: it creates the session once and hands it to the router.
func build(ctx context.Context, cfg *config.Config) (*application, error) {
	app := &application{}
	fail := func(err error) (*application, error) {
		app.Close()
		return nil, err
	}

	logger, closeLog, err := telemetry.InitLogger(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.logger = logger
	app.closers = append(app.closers, closeLog)

	tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, cfg.Telemetry, cfg.App)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize telemetry: %w", err))
	}
	app.closers = append(app.closers, shutdown)

	store, err := memory.New(ctx, cfg.Memory)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize memory: %w", err))
	}
	app.closers = append(app.closers, func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close memory store", "error", err)
		}
	})

	llm, err := backend.New(cfg.LLM, nil)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize backend: %w", err))
	}

	var responses *cache.ResponseCache
	if cfg.Cache.Enabled {
		responses = cache.NewResponseCache(cfg.Cache.TTL)
	}

	conversation, err := chain.New(chain.Options{
		Model:        llm,
		Memory:       store,
		SystemPrompt: cfg.LLM.SystemPrompt,
		Template:     cfg.LLM.PromptTemplate,
		Cache:        responses,
		Logger:       logger,
		Tracer:       tracer,
		Meter:        meter,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to build conversation chain: %w", err))
	}

	probeClient := &http.Client{}
	server.SetGinMode(cfg.App.Environment)
	app.router = server.New(server.Deps{
		Session:        conversation,
		Logger:         logger,
		ServiceName:    cfg.App.Name,
		Version:        cfg.App.Version,
		Stream:         cfg.Server.Stream,
		Scope:          cfg.Memory.Scope,
		StaticDir:      cfg.Server.StaticDir,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		BackendProbe: func(ctx context.Context) error {
			_, err := backend.ListModels(ctx, probeClient, cfg.LLM.BaseURL)
			return err
		},
	})

	logger.Info("conversation chain ready",
		"provider", cfg.LLM.Provider,
		"base_url", cfg.LLM.BaseURL,
		"model", cfg.LLM.Model,
		"memory", cfg.Memory.Backend,
		"max_messages", cfg.Memory.MaxMessages,
		"scope", cfg.Memory.Scope,
		"stream", cfg.Server.Stream,
	)
	return app, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", cfg.Addr(), err)
	}

	srv := &http.Server{
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	app.logger.Info(fmt.Sprintf("Application running on http://localhost:%d", cfg.Server.Port))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	app.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

func listModels(ctx context.Context, w io.Writer, cfg *config.Config) error {
	models, err := backend.ListModels(ctx, &http.Client{Timeout: 10 * time.Second}, cfg.LLM.BaseURL)
	if err != nil {
		return fmt.Errorf("failed to list Ollama models: %w", err)
	}

	fmt.Fprintln(w, "Available Ollama models:")
	for i, model := range models {
		current := ""
		if model.Name == cfg.LLM.Model || strings.TrimSuffix(model.Name, ":latest") == cfg.LLM.Model {
			current = " (current)"
		}
		fmt.Fprintf(w, "%d. %s - %.2f GB%s\n", i+1, model.Name, model.SizeGB(), current)
	}
	return nil
}
