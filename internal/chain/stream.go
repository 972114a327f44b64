package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"PromptChat/internal/session"

	"github.com/tmc/langchaingo/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Chunk is one fragment of a streamed answer.
type Chunk struct {
	Content string
}

// Stream is a pull-based sequence of answer fragments. Call Next until it returns false,
// then check Err. Close stops the producer early; it is safe to call more than once.
type Stream struct {
	events  <-chan Chunk
	pending *Chunk
	cancel  context.CancelFunc
	result  error // written by the producer before it closes events

	cur      Chunk
	err      error
	text     strings.Builder
	finished bool

	closeOnce sync.Once
}

// Next advances to the next fragment. It returns false at the end of the sequence,
// on failure, or when ctx is cancelled.
func (s *Stream) Next(ctx context.Context) bool {
	if s.finished {
		return false
	}

	var chunk Chunk
	if s.pending != nil {
		chunk, s.pending = *s.pending, nil
	} else {
		select {
		case c, ok := <-s.events:
			if !ok {
				s.err = s.result
				s.finished = true
				return false
			}
			chunk = c
		case <-ctx.Done():
			s.err = ctx.Err()
			s.finished = true
			s.Close()
			return false
		}
	}

	s.cur = chunk
	s.text.WriteString(chunk.Content)
	return true
}

// Chunk returns the fragment produced by the last successful Next.
func (s *Stream) Chunk() Chunk {
	return s.cur
}

// Err returns the failure that ended the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

// Text returns everything received so far.
func (s *Stream) Text() string {
	return s.text.String()
}

// Close cancels the producer and waits for it to stop.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		for range s.events {
		}
	})
	return nil
}

// Collect drains the stream and returns the full answer.
func (s *Stream) Collect(ctx context.Context) (string, error) {
	defer s.Close()
	for s.Next(ctx) {
	}
	return s.Text(), s.Err()
}

// Stream answers question fragment by fragment. It blocks until the first fragment
// arrives so that a backend that cannot produce anything is reported here rather than
// mid-stream. The exchange is remembered once the backend finishes successfully.
func (c *Conversation) Stream(ctx context.Context, question string) (*Stream, error) {
	conversationID := session.ConversationID(ctx)
	pctx, cancel := context.WithCancel(ctx)
	pctx, span := c.tracer.Start(pctx, "chain.stream",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	start := time.Now()

	fail := func(err error) (*Stream, error) {
		c.record(pctx, span, "stream", start, err)
		span.End()
		cancel()
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	history, err := c.memory.Messages(pctx, conversationID)
	if err != nil {
		return fail(fmt.Errorf("failed to load memory: %w", err))
	}

	events := make(chan Chunk)
	s := &Stream{events: events, cancel: cancel}

	cacheKey, cached, ok := c.lookup(history, question)
	if ok {
		go func() {
			defer close(events)
			defer span.End()
			var err error
			if send(pctx, events, Chunk{Content: cached}) {
				err = c.remember(context.WithoutCancel(pctx), conversationID, question, cached)
			} else {
				err = pctx.Err()
			}
			c.record(pctx, span, "stream", start, err)
			s.result = err
		}()
	} else {
		msgs, err := c.buildMessages(history, question)
		if err != nil {
			return fail(err)
		}
		go func() {
			defer close(events)
			defer span.End()
			err := c.produce(pctx, events, conversationID, question, msgs, cacheKey)
			c.record(pctx, span, "stream", start, err)
			s.result = err
		}()
	}

	select {
	case chunk, ok := <-events:
		if !ok {
			if s.result != nil {
				cancel()
				return nil, s.result
			}
			s.finished = true
			return s, nil
		}
		s.pending = &chunk
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}

	return s, nil
}

// produce runs the model with a streaming callback and forwards each fragment.
func (c *Conversation) produce(ctx context.Context, events chan<- Chunk, conversationID, question string, msgs []llms.MessageContent, cacheKey string) error {
	var full strings.Builder
	resp, err := c.model.GenerateContent(ctx, msgs,
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			full.Write(chunk)
			if !send(ctx, events, Chunk{Content: string(chunk)}) {
				return ctx.Err()
			}
			return nil
		}))
	if err != nil {
		return fmt.Errorf("model call failed: %w", err)
	}

	// some backends return the whole answer without invoking the callback
	if full.Len() == 0 {
		if resp == nil || len(resp.Choices) == 0 {
			return ErrEmptyResponse
		}
		full.WriteString(resp.Choices[0].Content)
		if full.Len() > 0 && !send(ctx, events, Chunk{Content: full.String()}) {
			return ctx.Err()
		}
	}

	answer := full.String()
	c.store(cacheKey, answer)
	return c.remember(context.WithoutCancel(ctx), conversationID, question, answer)
}

func send(ctx context.Context, events chan<- Chunk, chunk Chunk) bool {
	select {
	case events <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
