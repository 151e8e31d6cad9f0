package session

import (
	"context"
	"io"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/malonaz/chatsync/model"
	"github.com/malonaz/chatsync/provider"
)

// scriptedStream replays a fixed sequence of chunks.
type scriptedStream struct {
	chunks []*provider.Chunk
	err    error
	cursor int
}

func (s *scriptedStream) Recv() (*provider.Chunk, error) {
	if s.cursor >= len(s.chunks) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	chunk := s.chunks[s.cursor]
	s.cursor++
	return chunk, nil
}

func (s *scriptedStream) Close() {}

type scriptedClient struct {
	stream      *scriptedStream
	createErr   error
	lastRequest *provider.Request
}

func (c *scriptedClient) CreateChatStream(ctx context.Context, request *provider.Request) (provider.Stream, error) {
	c.lastRequest = request
	if c.createErr != nil {
		return nil, c.createErr
	}
	return c.stream, nil
}

func TestSendMessage(t *testing.T) {
	t.Parallel()
	s, b, user := newHarness(t)
	ctx := context.Background()

	tabA := newTab(t, s, b)
	tabB := newTab(t, s, b)
	chat, err := tabA.CreateChat(ctx, user.ID, "openai/gpt-4o")
	require.NoError(t, err)
	require.NoError(t, tabA.LoadMessages(chat.ID))
	require.NoError(t, tabB.LoadMessages(chat.ID))

	client := &scriptedClient{stream: &scriptedStream{chunks: []*provider.Chunk{
		{Content: "Hel"},
		{Content: "lo!"},
		{Finished: true, FinishReason: "stop", Usage: &provider.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12}},
	}}}

	message, err := tabA.SendMessage(ctx, client, chat.ID, "greet me", nil)
	require.NoError(t, err)
	require.Equal(t, model.RoleAssistant, message.Role)
	require.Equal(t, "Hello!", message.Content)
	require.Equal(t, 12, message.Tokens)
	require.Greater(t, message.Cost, 0.0)
	require.False(t, message.Streaming)
	require.False(t, message.Error)

	// Exactly two rows: prompt and response.
	rows, err := s.ListMessages(chat.ID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, model.RoleUser, rows[0].Role)
	require.Equal(t, "greet me", rows[0].Content)

	// The sibling tab converges on the finished response.
	eventually(t, func() bool {
		messages := tabB.Messages()
		return len(messages) == 2 && messages[1].Content == "Hello!" && !messages[1].Streaming
	}, "response never converged on the sibling tab")

	// First completed exchange names the chat after the prompt.
	fetched, err := s.GetChat(chat.ID)
	require.NoError(t, err)
	require.Equal(t, "greet me", fetched.Title)
}

func TestSendMessageTruncatesLongTitle(t *testing.T) {
	t.Parallel()
	s, b, user := newHarness(t)
	ctx := context.Background()

	tab := newTab(t, s, b)
	chat, err := tab.CreateChat(ctx, user.ID, "openai/gpt-4o")
	require.NoError(t, err)
	require.NoError(t, tab.LoadMessages(chat.ID))

	client := &scriptedClient{stream: &scriptedStream{chunks: []*provider.Chunk{
		{Content: "ok", Finished: true, Usage: &provider.Usage{TotalTokens: 1}},
	}}}
	prompt := strings.Repeat("a", 80)
	_, err = tab.SendMessage(ctx, client, chat.ID, prompt, nil)
	require.NoError(t, err)

	fetched, err := s.GetChat(chat.ID)
	require.NoError(t, err)
	require.Equal(t, prompt[:chatTitleLimit]+"...", fetched.Title)
}

func TestSendMessageTruncatesTitleOnRunes(t *testing.T) {
	t.Parallel()
	s, b, user := newHarness(t)
	ctx := context.Background()

	tab := newTab(t, s, b)
	chat, err := tab.CreateChat(ctx, user.ID, "openai/gpt-4o")
	require.NoError(t, err)
	require.NoError(t, tab.LoadMessages(chat.ID))

	client := &scriptedClient{stream: &scriptedStream{chunks: []*provider.Chunk{
		{Content: "ok", Finished: true, Usage: &provider.Usage{TotalTokens: 1}},
	}}}
	// Multi-byte runes: truncation must never split one mid-sequence.
	prompt := strings.Repeat("é", 80)
	_, err = tab.SendMessage(ctx, client, chat.ID, prompt, nil)
	require.NoError(t, err)

	fetched, err := s.GetChat(chat.ID)
	require.NoError(t, err)
	require.True(t, utf8.ValidString(fetched.Title))
	require.Equal(t, strings.Repeat("é", chatTitleLimit)+"...", fetched.Title)
}

func TestSendMessageIncludesSystemPromptAndHistory(t *testing.T) {
	t.Parallel()
	s, b, user := newHarness(t)
	ctx := context.Background()

	tab := newTab(t, s, b)
	chat, err := tab.CreateChat(ctx, user.ID, "openai/gpt-4o")
	require.NoError(t, err)
	chat.Settings.SystemPrompt = "be terse"
	require.NoError(t, tab.UpdateChat(ctx, chat, []string{"settings"}))
	require.NoError(t, tab.LoadMessages(chat.ID))

	client := &scriptedClient{stream: &scriptedStream{chunks: []*provider.Chunk{
		{Content: "first", Finished: true, Usage: &provider.Usage{TotalTokens: 1}},
	}}}
	_, err = tab.SendMessage(ctx, client, chat.ID, "one", nil)
	require.NoError(t, err)

	client.stream = &scriptedStream{chunks: []*provider.Chunk{
		{Content: "second", Finished: true, Usage: &provider.Usage{TotalTokens: 1}},
	}}
	_, err = tab.SendMessage(ctx, client, chat.ID, "two", nil)
	require.NoError(t, err)

	request := client.lastRequest
	require.Equal(t, "openai/gpt-4o", request.Model)
	require.True(t, request.Stream)
	require.Len(t, request.Messages, 4)
	require.Equal(t, model.RoleSystem, request.Messages[0].Role)
	require.Equal(t, "be terse", request.Messages[0].Content)
	require.Equal(t, "one", request.Messages[1].Content)
	require.Equal(t, "first", request.Messages[2].Content)
	require.Equal(t, "two", request.Messages[3].Content)
}

func TestSendMessagePersistsProviderError(t *testing.T) {
	t.Parallel()
	s, b, user := newHarness(t)
	ctx := context.Background()

	tab := newTab(t, s, b)
	chat, err := tab.CreateChat(ctx, user.ID, "openai/gpt-4o")
	require.NoError(t, err)
	require.NoError(t, tab.LoadMessages(chat.ID))

	client := &scriptedClient{stream: &scriptedStream{
		chunks: []*provider.Chunk{{Content: "par"}},
		err:    errors.New("upstream exploded"),
	}}
	message, err := tab.SendMessage(ctx, client, chat.ID, "boom", nil)
	require.NoError(t, err)
	require.True(t, message.Error)
	require.False(t, message.Streaming)
	require.Equal(t, providerErrorContent, message.Content)

	// The error message is a durable row like any other.
	rows, err := s.ListMessages(chat.ID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.True(t, rows[1].Error)

	// The chat keeps its default title: the exchange never completed.
	fetched, err := s.GetChat(chat.ID)
	require.NoError(t, err)
	require.Equal(t, model.DefaultChatTitle, fetched.Title)
}

func TestSendMessageFailsFastWhenStreamCannotOpen(t *testing.T) {
	t.Parallel()
	s, b, user := newHarness(t)
	ctx := context.Background()

	tab := newTab(t, s, b)
	chat, err := tab.CreateChat(ctx, user.ID, "openai/gpt-4o")
	require.NoError(t, err)
	require.NoError(t, tab.LoadMessages(chat.ID))

	client := &scriptedClient{createErr: errors.New("dns failure")}
	message, err := tab.SendMessage(ctx, client, chat.ID, "hello?", nil)
	require.NoError(t, err)
	require.True(t, message.Error)
	require.Equal(t, providerErrorContent, message.Content)
}
