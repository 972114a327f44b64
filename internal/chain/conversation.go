// Package chain couples a model backend, a prompt template and a memory store into a
// conversational session that remembers prior exchanges.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"PromptChat/internal/cache"
	"PromptChat/internal/memory"
	"PromptChat/internal/session"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InputKey is the only variable the human prompt template receives.
const InputKey = "input"

const instrumentationName = "PromptChat/internal/chain"

var ErrEmptyResponse = errors.New("empty response from model")

// Options configures a Conversation. Model and Memory are required.
type Options struct {
	Model        llms.Model
	Memory       memory.Store
	SystemPrompt string
	Template     string // Go template over {{.input}}; empty renders the question as is
	Cache        *cache.ResponseCache
	Logger       *slog.Logger
	Tracer       trace.Tracer
	Meter        metric.Meter
}

// Conversation is the session shared by every request. It is safe for concurrent use;
// concurrent exchanges on the same conversation are appended in completion order.
type Conversation struct {
	model        llms.Model
	memory       memory.Store
	systemPrompt string
	template     prompts.PromptTemplate
	cache        *cache.ResponseCache
	logger       *slog.Logger
	tracer       trace.Tracer

	requests metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

// New builds a Conversation from opts.
func New(opts Options) (*Conversation, error) {
	if opts.Model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if opts.Memory == nil {
		return nil, fmt.Errorf("memory is required")
	}
	if opts.Template == "" {
		opts.Template = "{{." + InputKey + "}}"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(instrumentationName)
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter(instrumentationName)
	}

	tmpl := prompts.NewPromptTemplate(opts.Template, []string{InputKey})
	const probe = "\x00probe\x00"
	rendered, err := tmpl.Format(map[string]any{InputKey: probe})
	if err != nil {
		return nil, fmt.Errorf("invalid prompt template: %w", err)
	}
	if !strings.Contains(rendered, probe) {
		return nil, fmt.Errorf("prompt template must reference {{.%s}}", InputKey)
	}

	requests, err := opts.Meter.Int64Counter("chain.requests",
		metric.WithDescription("Completions requested from the model"))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	failures, err := opts.Meter.Int64Counter("chain.errors",
		metric.WithDescription("Completions that failed"))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	duration, err := opts.Meter.Float64Histogram("chain.request.duration",
		metric.WithDescription("Completion duration in milliseconds"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram: %w", err)
	}

	return &Conversation{
		model:        opts.Model,
		memory:       opts.Memory,
		systemPrompt: opts.SystemPrompt,
		template:     tmpl,
		cache:        opts.Cache,
		logger:       opts.Logger,
		tracer:       opts.Tracer,
		requests:     requests,
		failures:     failures,
		duration:     duration,
	}, nil
}

// Invoke answers question in the context of the conversation selected by ctx and
// remembers the exchange.
func (c *Conversation) Invoke(ctx context.Context, question string) (string, error) {
	conversationID := session.ConversationID(ctx)
	ctx, span := c.tracer.Start(ctx, "chain.invoke",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer span.End()

	start := time.Now()
	answer, err := c.invoke(ctx, conversationID, question)
	c.record(ctx, span, "invoke", start, err)
	return answer, err
}

func (c *Conversation) invoke(ctx context.Context, conversationID, question string) (string, error) {
	history, err := c.memory.Messages(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("failed to load memory: %w", err)
	}

	cacheKey, cached, ok := c.lookup(history, question)
	if ok {
		return cached, c.remember(ctx, conversationID, question, cached)
	}

	msgs, err := c.buildMessages(history, question)
	if err != nil {
		return "", err
	}

	resp, err := c.model.GenerateContent(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("model call failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	answer := resp.Choices[0].Content

	c.store(cacheKey, answer)
	if err := c.remember(ctx, conversationID, question, answer); err != nil {
		return "", err
	}
	return answer, nil
}

// History returns the remembered messages of the conversation selected by ctx.
func (c *Conversation) History(ctx context.Context) (session.Transcript, error) {
	conversationID := session.ConversationID(ctx)
	msgs, err := c.memory.Messages(ctx, conversationID)
	if err != nil {
		return session.Transcript{}, fmt.Errorf("failed to load memory: %w", err)
	}
	return session.Transcript{ConversationID: conversationID, Messages: msgs}, nil
}

// Reset forgets the conversation selected by ctx.
func (c *Conversation) Reset(ctx context.Context) error {
	conversationID := session.ConversationID(ctx)
	if err := c.memory.Clear(ctx, conversationID); err != nil {
		return fmt.Errorf("failed to clear memory: %w", err)
	}
	c.logger.Info("conversation reset", "conversation_id", conversationID)
	return nil
}

// buildMessages lays out the prompt: system instruction, prior turns, then the rendered question.
func (c *Conversation) buildMessages(history []session.Message, question string) ([]llms.MessageContent, error) {
	human, err := c.template.Format(map[string]any{InputKey: question})
	if err != nil {
		return nil, fmt.Errorf("failed to render prompt: %w", err)
	}

	msgs := make([]llms.MessageContent, 0, len(history)+2)
	if c.systemPrompt != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, c.systemPrompt))
	}
	for _, m := range history {
		role := llms.ChatMessageTypeHuman
		if m.Role == session.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		msgs = append(msgs, llms.TextParts(role, m.Content))
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, human))
	return msgs, nil
}

func (c *Conversation) remember(ctx context.Context, conversationID, question, answer string) error {
	if err := c.memory.Append(ctx, conversationID, session.Exchange(question, answer)...); err != nil {
		return fmt.Errorf("failed to save memory: %w", err)
	}
	return nil
}

func (c *Conversation) lookup(history []session.Message, question string) (string, string, bool) {
	if c.cache == nil {
		return "", "", false
	}
	key := cache.GenerateCacheKey(append(history, session.Message{Role: session.RoleUser, Content: question}))
	answer, ok := c.cache.Load(key)
	if ok {
		c.logger.Info("cache hit", "key", key[:16])
	}
	return key, answer, ok
}

func (c *Conversation) store(key, answer string) {
	if c.cache == nil || key == "" {
		return
	}
	c.cache.Store(key, answer)
}

func (c *Conversation) record(ctx context.Context, span trace.Span, mode string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("mode", mode))
	c.requests.Add(ctx, 1, attrs)
	c.duration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)

	if err != nil {
		c.failures.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("completion failed", "mode", mode, "error", err)
		return
	}
	c.logger.Info("completion finished", "mode", mode, "duration_ms", time.Since(start).Milliseconds())
}
