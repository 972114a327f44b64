// Package chaintest provides a scripted llms.Model for tests.
package chaintest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// ErrBroken is returned by a Model whose FailAfter limit is reached.
var ErrBroken = errors.New("connection reset by backend")

// Model answers every prompt with Reply. When streaming, the answer is delivered word by word.
type Model struct {
	// Reply computes the answer; nil answers "ok".
	Reply func(prompt []llms.MessageContent) (string, error)
	// FailAfter breaks the stream after that many fragments; 0 never breaks.
	FailAfter int
	// SkipCallback returns the answer without invoking the streaming callback.
	SkipCallback bool

	mu    sync.Mutex
	calls [][]llms.MessageContent
}

func (m *Model) GenerateContent(ctx context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	m.mu.Lock()
	m.calls = append(m.calls, msgs)
	m.mu.Unlock()

	answer := "ok"
	if m.Reply != nil {
		var err error
		if answer, err = m.Reply(msgs); err != nil {
			return nil, err
		}
	}

	if opts.StreamingFunc != nil && !m.SkipCallback {
		for i, word := range strings.SplitAfter(answer, " ") {
			if m.FailAfter > 0 && i == m.FailAfter {
				return nil, ErrBroken
			}
			if err := opts.StreamingFunc(ctx, []byte(word)); err != nil {
				return nil, err
			}
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: answer}},
	}, nil
}

func (m *Model) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// Calls returns the prompts the model has received.
func (m *Model) Calls() [][]llms.MessageContent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]llms.MessageContent, len(m.calls))
	copy(out, m.calls)
	return out
}

// Texts flattens a prompt into "role: text" lines.
func Texts(msgs []llms.MessageContent) []string {
	out := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		var b strings.Builder
		for _, part := range msg.Parts {
			if t, ok := part.(llms.TextContent); ok {
				b.WriteString(t.Text)
			}
		}
		out = append(out, string(msg.Role)+": "+b.String())
	}
	return out
}

// LastQuestion returns the text of the final message in a prompt.
func LastQuestion(msgs []llms.MessageContent) string {
	if len(msgs) == 0 {
		return ""
	}
	texts := Texts(msgs[len(msgs)-1:])
	_, text, _ := strings.Cut(texts[0], ": ")
	return text
}
