// Package session holds one tab's in-memory view of the chat state: the
// chat list, the open chat's messages and who is typing. Tabs share nothing
// but the local store and the broadcast bus; every local write goes to the
// store first, then out over the bus so sibling tabs converge.
package session

import (
	"context"
	"sync"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/malonaz/chatsync/bus"
	"github.com/malonaz/chatsync/model"
	"github.com/malonaz/chatsync/store"
	"github.com/malonaz/chatsync/syncer"
)

// typingExpiry is how long a typing indicator stays active without being
// superseded.
const typingExpiry = 5000 * time.Millisecond

const chatPageSize = 100

type typingState struct {
	isTyping  bool
	timestamp int64
}

// Session is one tab's state. The origin id is generated once per session
// and threaded through every broadcast; it is how a tab recognizes, and
// discards, its own envelopes.
type Session struct {
	origin      string
	store       *store.Store
	bus         *bus.Bus
	coordinator *syncer.Coordinator
	logger      *zap.Logger

	mu            sync.Mutex
	currentChatID int64
	chats         []*model.Chat
	messages      []*model.Message
	typing        map[string]*typingState

	envelopes <-chan bus.Envelope
	done      chan struct{}
}

// New opens a session on the shared store and bus. The coordinator may be
// nil for a tab that never syncs remotely.
func New(localStore *store.Store, broadcastBus *bus.Bus, coordinator *syncer.Coordinator, logger *zap.Logger) *Session {
	s := &Session{
		origin:      uuid.New().String(),
		store:       localStore,
		bus:         broadcastBus,
		coordinator: coordinator,
		logger:      logger,
		typing:      map[string]*typingState{},
		done:        make(chan struct{}),
	}
	s.envelopes = broadcastBus.Subscribe()
	go s.receive()
	return s
}

// Close detaches the session from the bus.
func (s *Session) Close() {
	close(s.done)
	s.bus.Unsubscribe(s.envelopes)
}

// Origin returns the tab's origin identifier.
func (s *Session) Origin() string { return s.origin }

// CurrentChatID returns the open chat, zero when none is open.
func (s *Session) CurrentChatID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentChatID
}

// Chats returns a snapshot of the in-memory chat list.
func (s *Session) Chats() []*model.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	chats := make([]*model.Chat, len(s.chats))
	copy(chats, s.chats)
	return chats
}

// Messages returns a snapshot of the open chat's in-memory messages.
func (s *Session) Messages() []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := make([]*model.Message, len(s.messages))
	copy(messages, s.messages)
	return messages
}

func (s *Session) receive() {
	for {
		select {
		case <-s.done:
			return
		case envelope, ok := <-s.envelopes:
			if !ok {
				return
			}
			s.Apply(envelope)
		}
	}
}

// Apply folds one envelope into the session state. Self-origin envelopes are
// discarded: the originating tab already applied the mutation before
// broadcasting.
func (s *Session) Apply(envelope bus.Envelope) {
	if envelope.Origin == s.origin {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch payload := envelope.Payload.(type) {
	case *bus.MessageAdded:
		s.applyMessageAdded(envelope.ChatID, payload)
	case *bus.MessageUpdated:
		s.applyMessageUpdated(envelope.ChatID, payload)
	case *bus.StreamingChunk:
		s.applyStreamingChunk(envelope.ChatID, payload)
	case *bus.ChatCreated:
		s.chats = append([]*model.Chat{payload.Chat}, s.chats...)
	case *bus.ChatUpdated:
		s.applyChatUpdated(payload)
	case *bus.ChatDeleted:
		s.applyChatDeleted(payload.ChatID)
	case *bus.TypingIndicator:
		s.applyTypingIndicator(payload)
	}
}

func (s *Session) applyMessageAdded(chatID int64, payload *bus.MessageAdded) {
	if chatID != s.currentChatID {
		return
	}
	message := payload.Message
	for _, existing := range s.messages {
		if existing.ID == message.ID {
			return
		}
	}
	s.messages = append(s.messages, message)

	// The store is shared between tabs, so the row usually exists already;
	// mirror it only when it does not.
	if _, err := s.store.GetMessage(message.ID); errors.Is(err, store.ErrNotFound) {
		if err := s.store.PutMessage(message); err != nil {
			s.logger.Warn("mirroring broadcast message", zap.Int64("message_id", message.ID), zap.Error(err))
		}
	}
}

func (s *Session) applyMessageUpdated(chatID int64, payload *bus.MessageUpdated) {
	if chatID != s.currentChatID {
		return
	}
	for _, message := range s.messages {
		if message.ID == payload.MessageID {
			payload.Updates.Apply(message)
			break
		}
	}
	if err := s.mirrorMessageUpdate(payload); err != nil {
		s.logger.Warn("mirroring broadcast update", zap.Int64("message_id", payload.MessageID), zap.Error(err))
	}
}

func (s *Session) mirrorMessageUpdate(payload *bus.MessageUpdated) error {
	message, err := s.store.GetMessage(payload.MessageID)
	if err != nil {
		return err
	}
	payload.Updates.Apply(message)
	var mask []string
	if payload.Updates.Content != nil {
		mask = append(mask, "content")
	}
	if payload.Updates.Tokens != nil {
		mask = append(mask, "tokens")
	}
	if payload.Updates.Cost != nil {
		mask = append(mask, "cost")
	}
	if payload.Updates.Error != nil {
		mask = append(mask, "error")
	}
	if payload.Updates.Streaming != nil {
		mask = append(mask, "streaming")
	}
	return s.store.UpdateMessage(&store.UpdateMessageRequest{Message: message, UpdateMask: mask})
}

// Streaming chunks are transient: in-memory content only, no store write.
func (s *Session) applyStreamingChunk(chatID int64, payload *bus.StreamingChunk) {
	if chatID != s.currentChatID {
		return
	}
	for _, message := range s.messages {
		if message.ID == payload.MessageID {
			message.Content = payload.FullContent
			break
		}
	}
}

func (s *Session) applyChatUpdated(payload *bus.ChatUpdated) {
	for _, chat := range s.chats {
		if chat.ID == payload.Chat.ID {
			if err := mergo.Merge(chat, payload.Chat, mergo.WithOverride); err != nil {
				s.logger.Warn("merging broadcast chat", zap.Int64("chat_id", chat.ID), zap.Error(err))
			}
			break
		}
	}
}

func (s *Session) applyChatDeleted(chatID int64) {
	filtered := s.chats[:0]
	for _, chat := range s.chats {
		if chat.ID != chatID {
			filtered = append(filtered, chat)
		}
	}
	s.chats = filtered
	if s.currentChatID == chatID {
		s.currentChatID = 0
		s.messages = nil
	}
}

func (s *Session) applyTypingIndicator(payload *bus.TypingIndicator) {
	s.typing[payload.Origin] = &typingState{isTyping: payload.IsTyping, timestamp: payload.Timestamp}

	// Expire unless a newer indicator for the same origin supersedes this one.
	timestamp := payload.Timestamp
	origin := payload.Origin
	time.AfterFunc(typingExpiry, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if current, ok := s.typing[origin]; ok && current.timestamp == timestamp {
			delete(s.typing, origin)
		}
	})
}

// AnyoneTyping reports whether any unexpired indicator is active.
func (s *Session) AnyoneTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UnixMilli() - typingExpiry.Milliseconds()
	for _, state := range s.typing {
		if state.isTyping && state.timestamp > cutoff {
			return true
		}
	}
	return false
}

// LoadChats loads a user's chat list from the local store.
func (s *Session) LoadChats(userID int64) error {
	chats, err := s.store.ListChats(userID, chatPageSize)
	if err != nil {
		return errors.Wrap(err, "listing chats")
	}
	s.mu.Lock()
	s.chats = chats
	s.mu.Unlock()
	return nil
}

// LoadMessages opens a chat and loads its main-branch messages.
func (s *Session) LoadMessages(chatID int64) error {
	messages, err := s.store.ListMessages(chatID, 0)
	if err != nil {
		return errors.Wrap(err, "listing messages")
	}
	s.mu.Lock()
	s.currentChatID = chatID
	s.messages = messages
	s.mu.Unlock()
	return nil
}

// CreateChat persists a new chat, prepends it to the chat list and
// broadcasts it. If online, the chat is pushed to the remote store in the
// background.
func (s *Session) CreateChat(ctx context.Context, userID int64, modelID string) (*model.Chat, error) {
	chat := &model.Chat{
		UserID: userID,
		Model:  modelID,
		Settings: model.ChatSettings{
			Temperature: 0.7,
			MaxTokens:   4000,
		},
	}
	chat, err := s.store.CreateChat(&store.CreateChatRequest{Chat: chat})
	if err != nil {
		return nil, errors.Wrap(err, "creating chat")
	}

	s.mu.Lock()
	s.chats = append([]*model.Chat{chat}, s.chats...)
	s.mu.Unlock()

	s.bus.Publish(bus.Envelope{
		Type:    bus.TypeChatCreated,
		ChatID:  chat.ID,
		Origin:  s.origin,
		Payload: &bus.ChatCreated{Chat: chat},
	})
	s.pushChatAsync(ctx, chat)
	return chat, nil
}

// UpdateChat applies masked fields to a chat, merges them into the in-memory
// list and broadcasts the new state.
func (s *Session) UpdateChat(ctx context.Context, chat *model.Chat, updateMask []string) error {
	if err := s.store.UpdateChat(&store.UpdateChatRequest{Chat: chat, UpdateMask: updateMask}); err != nil {
		return errors.Wrap(err, "updating chat")
	}

	s.mu.Lock()
	for _, existing := range s.chats {
		if existing.ID == chat.ID {
			if err := mergo.Merge(existing, chat, mergo.WithOverride); err != nil {
				s.logger.Warn("merging chat update", zap.Int64("chat_id", chat.ID), zap.Error(err))
			}
			break
		}
	}
	s.mu.Unlock()

	s.bus.Publish(bus.Envelope{
		Type:    bus.TypeChatUpdated,
		ChatID:  chat.ID,
		Origin:  s.origin,
		Payload: &bus.ChatUpdated{Chat: chat},
	})
	s.pushChatAsync(ctx, chat)
	return nil
}

// DeleteChat removes a chat everywhere and broadcasts the removal. The
// remote mirror delete is best-effort inside the coordinator.
func (s *Session) DeleteChat(ctx context.Context, chatID int64) error {
	if s.coordinator != nil {
		if err := s.coordinator.DeleteChat(ctx, chatID); err != nil {
			return err
		}
	} else if err := s.store.DeleteChatCascade(chatID); err != nil {
		return err
	}

	s.mu.Lock()
	s.applyChatDeleted(chatID)
	s.mu.Unlock()

	s.bus.Publish(bus.Envelope{
		Type:    bus.TypeChatDeleted,
		ChatID:  chatID,
		Origin:  s.origin,
		Payload: &bus.ChatDeleted{ChatID: chatID},
	})
	return nil
}

// AddMessage persists a message, appends it to the open chat's view and
// broadcasts it. If online, the message is pushed in the background.
func (s *Session) AddMessage(ctx context.Context, message *model.Message) (*model.Message, error) {
	message, err := s.store.AddMessage(&store.AddMessageRequest{Message: message})
	if err != nil {
		return nil, errors.Wrap(err, "adding message")
	}

	s.mu.Lock()
	if message.ChatID == s.currentChatID {
		s.messages = append(s.messages, message)
	}
	s.mu.Unlock()

	s.bus.Publish(bus.Envelope{
		Type:    bus.TypeMessageAdded,
		ChatID:  message.ChatID,
		Origin:  s.origin,
		Payload: &bus.MessageAdded{Message: message},
	})
	s.pushMessageAsync(ctx, message)
	return message, nil
}

// UpdateMessage applies a partial update, mirrors it in-memory and
// broadcasts it.
func (s *Session) UpdateMessage(ctx context.Context, messageID int64, updates bus.MessageUpdates) error {
	payload := &bus.MessageUpdated{MessageID: messageID, Updates: updates}

	s.mu.Lock()
	if err := s.mirrorMessageUpdate(payload); err != nil {
		s.mu.Unlock()
		return errors.Wrap(err, "updating message")
	}
	var chatID int64
	for _, message := range s.messages {
		if message.ID == messageID {
			updates.Apply(message)
			chatID = message.ChatID
			break
		}
	}
	if chatID == 0 {
		if message, err := s.store.GetMessage(messageID); err == nil {
			chatID = message.ChatID
		}
	}
	s.mu.Unlock()

	s.bus.Publish(bus.Envelope{
		Type:    bus.TypeMessageUpdated,
		ChatID:  chatID,
		Origin:  s.origin,
		Payload: payload,
	})
	return nil
}

// SetTyping broadcasts a typing indicator for the open chat.
func (s *Session) SetTyping(isTyping bool) {
	now := time.Now().UnixMilli()
	s.bus.Publish(bus.Envelope{
		Type:      bus.TypeTypingIndicator,
		ChatID:    s.CurrentChatID(),
		Origin:    s.origin,
		Timestamp: now,
		Payload:   &bus.TypingIndicator{Origin: s.origin, IsTyping: isTyping, Timestamp: now},
	})
}

func (s *Session) pushChatAsync(ctx context.Context, chat *model.Chat) {
	if s.coordinator == nil || !s.coordinator.Online() {
		return
	}
	go func() {
		if err := s.coordinator.PushChat(ctx, chat); err != nil {
			s.logger.Warn("pushing chat", zap.Int64("chat_id", chat.ID), zap.Error(err))
		}
	}()
}

func (s *Session) pushMessageAsync(ctx context.Context, message *model.Message) {
	if s.coordinator == nil || !s.coordinator.Online() {
		return
	}
	go func() {
		if _, err := s.coordinator.PushMessage(ctx, message); err != nil {
			s.logger.Warn("pushing message", zap.Int64("message_id", message.ID), zap.Error(err))
		}
	}()
}
