// Package provider speaks to the LLM completion backend. The backend is an
// external collaborator consumed through a request/stream contract: a chat
// completion request answered by a finite sequence of content chunks ending
// in a completion marker (finish reason plus usage) or an error marker.
package provider

import (
	"context"
)

// Message is one turn of the conversation sent to the backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one chat completion call.
type Request struct {
	Messages    []*Message `json:"messages"`
	Model       string     `json:"model"`
	Temperature float32    `json:"temperature"`
	MaxTokens   int        `json:"maxTokens"`
	Stream      bool       `json:"stream"`
}

// Usage reports token consumption for a finished response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Chunk is one item of a response stream. Content-bearing chunks have
// Finished=false; the terminal chunk carries Finished=true with either a
// finish reason and usage, or a provider-side error.
type Chunk struct {
	Content      string `json:"content"`
	Finished     bool   `json:"finished"`
	FinishReason string `json:"finishReason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Stream is a lazy sequence of chunks. Recv returns io.EOF once the stream
// is exhausted; Close releases the underlying transport and cancels an
// in-flight response.
type Stream interface {
	Recv() (*Chunk, error)
	Close()
}

// Client creates completion streams.
type Client interface {
	CreateChatStream(ctx context.Context, request *Request) (Stream, error)
}
