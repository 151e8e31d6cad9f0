package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamRoundTrip(t *testing.T) {
	t.Parallel()
	var buffer bytes.Buffer
	chunks := []*Chunk{
		{Content: "Hel"},
		{Content: "lo"},
		{Finished: true, FinishReason: "stop", Usage: &Usage{PromptTokens: 4, CompletionTokens: 2, TotalTokens: 6}},
	}
	for _, chunk := range chunks {
		require.NoError(t, WriteChunk(&buffer, chunk))
	}

	stream := NewSSEStream(io.NopCloser(&buffer))
	defer stream.Close()

	for _, expected := range chunks {
		chunk, err := stream.Recv()
		require.NoError(t, err)
		require.Equal(t, expected.Content, chunk.Content)
		require.Equal(t, expected.Finished, chunk.Finished)
		if expected.Usage != nil {
			require.Equal(t, expected.Usage.TotalTokens, chunk.Usage.TotalTokens)
		}
	}
	_, err := stream.Recv()
	require.ErrorIs(t, err, io.EOF)
}

func TestStreamSkipsNonDataLines(t *testing.T) {
	t.Parallel()
	body := ": comment\n\ndata: {\"content\":\"hi\"}\n\n"
	stream := NewSSEStream(io.NopCloser(bytes.NewBufferString(body)))
	defer stream.Close()

	chunk, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "hi", chunk.Content)
	_, err = stream.Recv()
	require.ErrorIs(t, err, io.EOF)
}

func TestHTTPClientStreamsResponse(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		request := &Request{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(request))
		require.True(t, request.Stream)
		require.Equal(t, "openai/gpt-4o", request.Model)

		w.Header().Set("Content-Type", "text/event-stream")
		require.NoError(t, WriteChunk(w, &Chunk{Content: "pong"}))
		require.NoError(t, WriteChunk(w, &Chunk{Finished: true, Usage: &Usage{TotalTokens: 2}}))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	stream, err := client.CreateChatStream(context.Background(), &Request{
		Model:    "openai/gpt-4o",
		Messages: []*Message{{Role: "user", Content: "ping"}},
	})
	require.NoError(t, err)
	defer stream.Close()

	chunk, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "pong", chunk.Content)
	chunk, err = stream.Recv()
	require.NoError(t, err)
	require.True(t, chunk.Finished)
}

func TestHTTPClientRejectsBadStatus(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	_, err := client.CreateChatStream(context.Background(), &Request{Model: "openai/gpt-4o"})
	require.Error(t, err)
}
