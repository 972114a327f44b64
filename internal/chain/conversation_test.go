package chain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"PromptChat/internal/cache"
	"PromptChat/internal/chain/chaintest"
	"PromptChat/internal/memory"
	"PromptChat/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

const systemPrompt = "You are a technical writer."

func newConversation(t *testing.T, model llms.Model, store memory.Store, opts ...func(*Options)) *Conversation {
	t.Helper()
	o := Options{
		Model:        model,
		Memory:       store,
		SystemPrompt: systemPrompt,
	}
	for _, fn := range opts {
		fn(&o)
	}
	c, err := New(o)
	require.NoError(t, err)
	return c
}

func TestNewValidation(t *testing.T) {
	model := &chaintest.Model{}
	store := memory.NewBuffer(memory.Policy{})

	_, err := New(Options{Memory: store})
	assert.ErrorContains(t, err, "model is required")

	_, err = New(Options{Model: model})
	assert.ErrorContains(t, err, "memory is required")

	_, err = New(Options{Model: model, Memory: store, Template: "Answer briefly."})
	assert.ErrorContains(t, err, "must reference")

	_, err = New(Options{Model: model, Memory: store, Template: "Answer briefly: {{.question}}"})
	assert.ErrorContains(t, err, "invalid prompt template")

	_, err = New(Options{Model: model, Memory: store, Template: "{{.input"})
	assert.ErrorContains(t, err, "invalid prompt template")
}

func TestInvokeBuildsPrompt(t *testing.T) {
	model := &chaintest.Model{Reply: func([]llms.MessageContent) (string, error) {
		return "Ownership is a set of rules.", nil
	}}
	c := newConversation(t, model, memory.NewBuffer(memory.Policy{}), func(o *Options) {
		o.Template = "Question: {{.input}}"
	})

	answer, err := c.Invoke(context.Background(), "What is ownership?")
	require.NoError(t, err)
	assert.Equal(t, "Ownership is a set of rules.", answer)

	calls := model.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{
		"system: " + systemPrompt,
		"human: Question: What is ownership?",
	}, chaintest.Texts(calls[0]))
}

func TestInvokeRemembersExchanges(t *testing.T) {
	model := &chaintest.Model{Reply: func(msgs []llms.MessageContent) (string, error) {
		return "answer to " + chaintest.LastQuestion(msgs), nil
	}}
	store := memory.NewBuffer(memory.Policy{})
	c := newConversation(t, model, store)
	ctx := context.Background()

	_, err := c.Invoke(ctx, "What is ownership?")
	require.NoError(t, err)
	_, err = c.Invoke(ctx, "Why does it matter?")
	require.NoError(t, err)

	calls := model.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{
		"system: " + systemPrompt,
		"human: What is ownership?",
		"ai: answer to What is ownership?",
		"human: Why does it matter?",
	}, chaintest.Texts(calls[1]))

	transcript, err := c.History(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.DefaultConversationID, transcript.ConversationID)
	assert.Len(t, transcript.Messages, 4)
}

func TestInvokeScopesConversations(t *testing.T) {
	model := &chaintest.Model{}
	c := newConversation(t, model, memory.NewBuffer(memory.Policy{}))

	alice := session.WithConversation(context.Background(), "alice")
	bob := session.WithConversation(context.Background(), "bob")

	_, err := c.Invoke(alice, "first")
	require.NoError(t, err)
	_, err = c.Invoke(bob, "second")
	require.NoError(t, err)

	calls := model.Calls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[1], 2, "bob must not see alice's exchange")

	transcript, err := c.History(alice)
	require.NoError(t, err)
	assert.Equal(t, "alice", transcript.ConversationID)
	assert.Len(t, transcript.Messages, 2)
}

func TestInvokeRetention(t *testing.T) {
	model := &chaintest.Model{}
	c := newConversation(t, model, memory.NewBuffer(memory.Policy{MaxMessages: 2}))
	ctx := context.Background()

	for _, q := range []string{"one", "two", "three"} {
		_, err := c.Invoke(ctx, q)
		require.NoError(t, err)
	}

	calls := model.Calls()
	assert.Equal(t, []string{
		"system: " + systemPrompt,
		"human: two",
		"ai: ok",
		"human: three",
	}, chaintest.Texts(calls[2]))
}

func TestInvokeFailureLeavesMemoryUntouched(t *testing.T) {
	backendErr := errors.New("dial tcp 127.0.0.1:11434: connect: connection refused")
	model := &chaintest.Model{Reply: func([]llms.MessageContent) (string, error) {
		return "", backendErr
	}}
	c := newConversation(t, model, memory.NewBuffer(memory.Policy{}))

	_, err := c.Invoke(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, backendErr)

	transcript, err := c.History(context.Background())
	require.NoError(t, err)
	assert.Empty(t, transcript.Messages)
}

type emptyModel struct{ chaintest.Model }

func (*emptyModel) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{}, nil
}

func TestInvokeEmptyResponse(t *testing.T) {
	c := newConversation(t, &emptyModel{}, memory.NewBuffer(memory.Policy{}))

	_, err := c.Invoke(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestInvokeUsesCache(t *testing.T) {
	model := &chaintest.Model{}
	store := memory.NewBuffer(memory.Policy{})
	rc := cache.NewResponseCache(time.Minute)
	c := newConversation(t, model, store, func(o *Options) { o.Cache = rc })

	alice := session.WithConversation(context.Background(), "alice")
	bob := session.WithConversation(context.Background(), "bob")

	_, err := c.Invoke(alice, "hello")
	require.NoError(t, err)
	answer, err := c.Invoke(bob, "hello")
	require.NoError(t, err)

	assert.Equal(t, "ok", answer)
	assert.Len(t, model.Calls(), 1, "identical transcript should be served from cache")

	transcript, err := c.History(bob)
	require.NoError(t, err)
	assert.Len(t, transcript.Messages, 2)
}

func TestReset(t *testing.T) {
	c := newConversation(t, &chaintest.Model{}, memory.NewBuffer(memory.Policy{}))
	ctx := context.Background()

	_, err := c.Invoke(ctx, "hello")
	require.NoError(t, err)
	require.NoError(t, c.Reset(ctx))

	transcript, err := c.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, transcript.Messages)
}

func TestStreamDeliversFragments(t *testing.T) {
	model := &chaintest.Model{Reply: func([]llms.MessageContent) (string, error) {
		return "Ownership is a set of rules.", nil
	}}
	c := newConversation(t, model, memory.NewBuffer(memory.Policy{}))
	ctx := context.Background()

	s, err := c.Stream(ctx, "What is ownership?")
	require.NoError(t, err)
	defer s.Close()

	var fragments []string
	for s.Next(ctx) {
		fragments = append(fragments, s.Chunk().Content)
	}
	require.NoError(t, s.Err())
	assert.Greater(t, len(fragments), 1)
	assert.Equal(t, "Ownership is a set of rules.", strings.Join(fragments, ""))
	assert.Equal(t, "Ownership is a set of rules.", s.Text())
	assert.False(t, s.Next(ctx), "finished stream stays finished")

	transcript, err := c.History(ctx)
	require.NoError(t, err)
	require.Len(t, transcript.Messages, 2)
	assert.Equal(t, "Ownership is a set of rules.", transcript.Messages[1].Content)
}

func TestStreamWithoutCallback(t *testing.T) {
	model := &chaintest.Model{SkipCallback: true, Reply: func([]llms.MessageContent) (string, error) {
		return "whole answer", nil
	}}
	c := newConversation(t, model, memory.NewBuffer(memory.Policy{}))

	s, err := c.Stream(context.Background(), "hi")
	require.NoError(t, err)
	text, err := s.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "whole answer", text)
}

func TestStreamCreationFailure(t *testing.T) {
	backendErr := errors.New("connection refused")
	model := &chaintest.Model{Reply: func([]llms.MessageContent) (string, error) {
		return "", backendErr
	}}
	c := newConversation(t, model, memory.NewBuffer(memory.Policy{}))

	s, err := c.Stream(context.Background(), "hi")
	assert.Nil(t, s)
	assert.ErrorIs(t, err, backendErr)
}

func TestStreamMidStreamFailure(t *testing.T) {
	model := &chaintest.Model{FailAfter: 2, Reply: func([]llms.MessageContent) (string, error) {
		return "one two three four", nil
	}}
	c := newConversation(t, model, memory.NewBuffer(memory.Policy{}))
	ctx := context.Background()

	s, err := c.Stream(ctx, "count")
	require.NoError(t, err)

	text, err := s.Collect(ctx)
	assert.ErrorIs(t, err, chaintest.ErrBroken)
	assert.Equal(t, "one two ", text)

	transcript, err := c.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, transcript.Messages, "failed exchange is not remembered")
}

func TestStreamCloseStopsProducer(t *testing.T) {
	model := &chaintest.Model{Reply: func([]llms.MessageContent) (string, error) {
		return strings.Repeat("word ", 100), nil
	}}
	c := newConversation(t, model, memory.NewBuffer(memory.Policy{}))
	ctx := context.Background()

	s, err := c.Stream(ctx, "talk")
	require.NoError(t, err)
	require.True(t, s.Next(ctx))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	transcript, err := c.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, transcript.Messages)
}

func TestStreamHonoursCancellation(t *testing.T) {
	model := &chaintest.Model{Reply: func([]llms.MessageContent) (string, error) {
		return strings.Repeat("word ", 100), nil
	}}
	c := newConversation(t, model, memory.NewBuffer(memory.Policy{}))

	ctx, cancel := context.WithCancel(context.Background())
	s, err := c.Stream(ctx, "talk")
	require.NoError(t, err)
	require.True(t, s.Next(ctx))

	cancel()
	for s.Next(ctx) {
	}
	assert.ErrorIs(t, s.Err(), context.Canceled)
	s.Close()
}

func TestStreamUsesCache(t *testing.T) {
	model := &chaintest.Model{}
	c := newConversation(t, model, memory.NewBuffer(memory.Policy{}), func(o *Options) {
		o.Cache = cache.NewResponseCache(0)
	})

	a := session.WithConversation(context.Background(), "a")
	b := session.WithConversation(context.Background(), "b")

	s, err := c.Stream(a, "hello")
	require.NoError(t, err)
	_, err = s.Collect(a)
	require.NoError(t, err)

	s, err = c.Stream(b, "hello")
	require.NoError(t, err)
	text, err := s.Collect(b)
	require.NoError(t, err)

	assert.Equal(t, "ok", text)
	assert.Len(t, model.Calls(), 1)
}

// gatedStore holds Append until gate is closed, when a gate is set.
type gatedStore struct {
	memory.Store
	gate chan struct{}
}

func (g *gatedStore) Append(ctx context.Context, conversationID string, msgs ...session.Message) error {
	if g.gate != nil {
		<-g.gate
	}
	return g.Store.Append(ctx, conversationID, msgs...)
}

func TestStreamCacheHitDeliversBeforeRemembering(t *testing.T) {
	model := &chaintest.Model{}
	store := &gatedStore{Store: memory.NewBuffer(memory.Policy{})}
	c := newConversation(t, model, store, func(o *Options) {
		o.Cache = cache.NewResponseCache(0)
	})

	a := session.WithConversation(context.Background(), "a")
	b := session.WithConversation(context.Background(), "b")

	s, err := c.Stream(a, "hello")
	require.NoError(t, err)
	_, err = s.Collect(a)
	require.NoError(t, err)

	store.gate = make(chan struct{})
	s, err = c.Stream(b, "hello")
	require.NoError(t, err, "cached fragment must arrive while the save is still pending")
	require.True(t, s.Next(b))
	assert.Equal(t, "ok", s.Chunk().Content)

	close(store.gate)
	assert.False(t, s.Next(b))
	require.NoError(t, s.Err())

	transcript, err := c.History(b)
	require.NoError(t, err)
	assert.Len(t, transcript.Messages, 2)
}

func TestStreamCacheHitAbandonedIsNotRemembered(t *testing.T) {
	model := &chaintest.Model{}
	c := newConversation(t, model, memory.NewBuffer(memory.Policy{}), func(o *Options) {
		o.Cache = cache.NewResponseCache(0)
	})

	a := session.WithConversation(context.Background(), "a")
	s, err := c.Stream(a, "hello")
	require.NoError(t, err)
	_, err = s.Collect(a)
	require.NoError(t, err)

	b, cancel := context.WithCancel(session.WithConversation(context.Background(), "b"))
	cancel()
	_, err = c.Stream(b, "hello")
	assert.ErrorIs(t, err, context.Canceled)

	transcript, err := c.History(session.WithConversation(context.Background(), "b"))
	require.NoError(t, err)
	assert.Empty(t, transcript.Messages)
}
