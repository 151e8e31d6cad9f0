package provider

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient talks to any OpenAI-compatible completion backend.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient instantiates a client against the given host.
func NewOpenAIClient(apiKey, apiHost string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if apiHost != "" {
		config.BaseURL = apiHost
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(config)}
}

// CreateChatStream starts a streaming chat completion.
func (c *OpenAIClient) CreateChatStream(ctx context.Context, request *Request) (Stream, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(request.Messages))
	for _, message := range request.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: message.Role, Content: message.Content})
	}
	openAIRequest := openai.ChatCompletionRequest{
		Model:       request.Model,
		Messages:    messages,
		Temperature: request.Temperature,
		MaxTokens:   request.MaxTokens,
		Stream:      true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	stream, err := c.client.CreateChatCompletionStream(ctx, openAIRequest)
	if err != nil {
		return nil, fmt.Errorf("creating completion stream: %w", err)
	}
	return &chatStreamWrapper{stream: stream}, nil
}

type chatStreamWrapper struct {
	stream *openai.ChatCompletionStream
}

func (s *chatStreamWrapper) Close() { s.stream.Close() }

func (s *chatStreamWrapper) Recv() (*Chunk, error) {
	response, err := s.stream.Recv()
	if err != nil {
		return nil, err
	}

	chunk := &Chunk{}
	if len(response.Choices) > 0 {
		chunk.Content = response.Choices[0].Delta.Content
		chunk.FinishReason = string(response.Choices[0].FinishReason)
		chunk.Finished = chunk.FinishReason != ""
	}
	// With IncludeUsage the usage arrives on a trailing chunk with no choices.
	if response.Usage != nil {
		chunk.Finished = true
		chunk.Usage = &Usage{
			PromptTokens:     response.Usage.PromptTokens,
			CompletionTokens: response.Usage.CompletionTokens,
			TotalTokens:      response.Usage.TotalTokens,
		}
	}
	return chunk, nil
}
