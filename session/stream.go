package session

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/malonaz/chatsync/bus"
	"github.com/malonaz/chatsync/model"
	"github.com/malonaz/chatsync/provider"
)

// providerErrorContent is persisted, error-flagged, when the backend fails.
const providerErrorContent = "Sorry, there was an error processing your request. Please try again."

const chatTitleLimit = 50

// SendMessage runs one full exchange: it persists the user message, streams
// the assistant response while relaying accumulated content to sibling tabs,
// and persists the finished response with its usage. A provider failure is
// converted into an error-flagged assistant message, never surfaced as a
// failure of the exchange itself. Cancelling ctx aborts the stream.
func (s *Session) SendMessage(ctx context.Context, client provider.Client, chatID int64, content string, attachments []*model.Attachment) (*model.Message, error) {
	chat, err := s.store.GetChat(chatID)
	if err != nil {
		return nil, errors.Wrap(err, "getting chat")
	}

	userMessage := &model.Message{
		ChatID:      chatID,
		Content:     content,
		Role:        model.RoleUser,
		Attachments: attachments,
	}
	if _, err := s.AddMessage(ctx, userMessage); err != nil {
		return nil, err
	}

	request, err := s.buildRequest(chat)
	if err != nil {
		return nil, err
	}

	// The placeholder is the one store write of the streaming phase; tokens
	// flow to other tabs as transient chunks against its id.
	placeholder := &model.Message{
		ChatID:    chatID,
		Role:      model.RoleAssistant,
		Model:     chat.Model,
		Streaming: true,
	}
	placeholder, err = s.AddMessage(ctx, placeholder)
	if err != nil {
		return nil, err
	}

	s.SetTyping(true)
	defer s.SetTyping(false)

	stream, err := client.CreateChatStream(ctx, request)
	if err != nil {
		s.logger.Warn("creating provider stream", zap.Error(err))
		return s.finalizeError(ctx, placeholder.ID)
	}
	defer stream.Close()

	fullContent, finishReason, usage, err := s.relay(placeholder.ID, chatID, stream)
	if err != nil {
		s.logger.Warn("streaming provider response", zap.Error(err))
		return s.finalizeError(ctx, placeholder.ID)
	}

	if err := s.finalize(ctx, chat, placeholder.ID, content, fullContent, usage); err != nil {
		return nil, err
	}
	s.logger.Debug("exchange complete",
		zap.Int64("chat_id", chatID),
		zap.String("finish_reason", finishReason))
	return s.store.GetMessage(placeholder.ID)
}

func (s *Session) buildRequest(chat *model.Chat) (*provider.Request, error) {
	history, err := s.store.ListMessages(chat.ID, 0)
	if err != nil {
		return nil, errors.Wrap(err, "listing messages")
	}

	messages := make([]*provider.Message, 0, len(history)+1)
	if chat.Settings.SystemPrompt != "" {
		messages = append(messages, &provider.Message{Role: model.RoleSystem, Content: chat.Settings.SystemPrompt})
	}
	for _, message := range history {
		// Skip empty system messages and unfinished placeholders.
		if message.Role == model.RoleSystem && strings.TrimSpace(message.Content) == "" {
			continue
		}
		if message.Streaming {
			continue
		}
		messages = append(messages, &provider.Message{Role: message.Role, Content: message.Content})
	}

	return &provider.Request{
		Messages:    messages,
		Model:       chat.Model,
		Temperature: chat.Settings.Temperature,
		MaxTokens:   chat.Settings.MaxTokens,
		Stream:      true,
	}, nil
}

// relay drains the provider stream, broadcasting the accumulated content
// after every chunk. It stops on the completion marker, an error marker or
// stream exhaustion.
func (s *Session) relay(messageID, chatID int64, stream provider.Stream) (string, string, *provider.Usage, error) {
	var fullContent strings.Builder
	var finishReason string
	var usage *provider.Usage

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", "", nil, err
		}
		if chunk.Error != "" {
			return "", "", nil, errors.Errorf("provider error: %s", chunk.Error)
		}

		if chunk.Content != "" {
			fullContent.WriteString(chunk.Content)
			s.mu.Lock()
			for _, message := range s.messages {
				if message.ID == messageID {
					message.Content = fullContent.String()
					break
				}
			}
			s.mu.Unlock()
			s.bus.Publish(bus.Envelope{
				Type:    bus.TypeStreamingChunk,
				ChatID:  chatID,
				Origin:  s.origin,
				Payload: &bus.StreamingChunk{MessageID: messageID, FullContent: fullContent.String()},
			})
		}

		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if chunk.Finished && usage != nil {
			break
		}
	}
	return fullContent.String(), finishReason, usage, nil
}

func (s *Session) finalize(ctx context.Context, chat *model.Chat, messageID int64, prompt, fullContent string, usage *provider.Usage) error {
	notStreaming := false
	updates := bus.MessageUpdates{
		Content:   &fullContent,
		Streaming: &notStreaming,
	}
	if usage != nil {
		tokens := usage.TotalTokens
		updates.Tokens = &tokens
		if m, err := provider.GetModel(chat.Model); err == nil {
			cost, _ := m.CalculateCost(usage.PromptTokens, usage.CompletionTokens).Float64()
			updates.Cost = &cost
		}
	}
	if err := s.UpdateMessage(ctx, messageID, updates); err != nil {
		return err
	}

	// First completed exchange names the chat after the prompt.
	if chat.Title == model.DefaultChatTitle && fullContent != "" {
		title := prompt
		if runes := []rune(title); len(runes) > chatTitleLimit {
			title = string(runes[:chatTitleLimit]) + "..."
		}
		chat.Title = title
		if err := s.UpdateChat(ctx, chat, []string{"title"}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) finalizeError(ctx context.Context, messageID int64) (*model.Message, error) {
	content := providerErrorContent
	flagged := true
	notStreaming := false
	err := s.UpdateMessage(ctx, messageID, bus.MessageUpdates{
		Content:   &content,
		Error:     &flagged,
		Streaming: &notStreaming,
	})
	if err != nil {
		return nil, err
	}
	return s.store.GetMessage(messageID)
}
