package bus

import (
	"encoding/json"
	"fmt"

	"github.com/malonaz/chatsync/model"
)

// Type tags an envelope's payload variant.
type Type string

// Envelope types.
const (
	TypeMessageAdded    Type = "MESSAGE_ADDED"
	TypeMessageUpdated  Type = "MESSAGE_UPDATED"
	TypeStreamingChunk  Type = "STREAMING_CHUNK"
	TypeChatCreated     Type = "CHAT_CREATED"
	TypeChatUpdated     Type = "CHAT_UPDATED"
	TypeChatDeleted     Type = "CHAT_DELETED"
	TypeTypingIndicator Type = "TYPING_INDICATOR"
)

// Payload is the closed set of envelope payload variants; receivers switch
// on the concrete type rather than on strings.
type Payload interface {
	payloadType() Type
}

// MessageAdded announces a message persisted by the sending tab.
type MessageAdded struct {
	Message *model.Message `json:"message"`
}

// MessageUpdates is the partial update carried by a MessageUpdated envelope.
// Nil fields are left untouched on the receiver.
type MessageUpdates struct {
	Content   *string  `json:"content,omitempty"`
	Tokens    *int     `json:"tokens,omitempty"`
	Cost      *float64 `json:"cost,omitempty"`
	Error     *bool    `json:"error,omitempty"`
	Streaming *bool    `json:"streaming,omitempty"`
}

// Apply writes the non-nil fields onto a message.
func (u *MessageUpdates) Apply(message *model.Message) {
	if u.Content != nil {
		message.Content = *u.Content
	}
	if u.Tokens != nil {
		message.Tokens = *u.Tokens
	}
	if u.Cost != nil {
		message.Cost = *u.Cost
	}
	if u.Error != nil {
		message.Error = *u.Error
	}
	if u.Streaming != nil {
		message.Streaming = *u.Streaming
	}
}

// MessageUpdated announces a partial edit of a persisted message.
type MessageUpdated struct {
	MessageID int64          `json:"messageId"`
	Updates   MessageUpdates `json:"updates"`
}

// StreamingChunk mirrors an in-progress assistant response: the accumulated
// content so far, not a delta. Transient; never written to the local store.
type StreamingChunk struct {
	MessageID   int64  `json:"messageId"`
	FullContent string `json:"fullContent"`
}

// ChatCreated announces a new chat.
type ChatCreated struct {
	Chat *model.Chat `json:"chat"`
}

// ChatUpdated announces edited chat fields.
type ChatUpdated struct {
	Chat *model.Chat `json:"chat"`
}

// ChatDeleted announces a chat removal.
type ChatDeleted struct {
	ChatID int64 `json:"chatId"`
}

// TypingIndicator announces that a tab started or stopped typing. Expires
// five seconds after its timestamp unless superseded.
type TypingIndicator struct {
	Origin    string `json:"originId"`
	IsTyping  bool   `json:"isTyping"`
	Timestamp int64  `json:"timestamp"`
}

func (MessageAdded) payloadType() Type    { return TypeMessageAdded }
func (MessageUpdated) payloadType() Type  { return TypeMessageUpdated }
func (StreamingChunk) payloadType() Type  { return TypeStreamingChunk }
func (ChatCreated) payloadType() Type     { return TypeChatCreated }
func (ChatUpdated) payloadType() Type     { return TypeChatUpdated }
func (ChatDeleted) payloadType() Type     { return TypeChatDeleted }
func (TypingIndicator) payloadType() Type { return TypeTypingIndicator }

// Envelope is the unit exchanged over the broadcast channel. Origin is the
// sending tab's identifier; receivers discard their own envelopes.
type Envelope struct {
	Type      Type
	ChatID    int64
	Origin    string
	Timestamp int64
	Payload   Payload
}

// wireEnvelope is the named-channel JSON shape.
type wireEnvelope struct {
	Type      Type            `json:"type"`
	ChatID    int64           `json:"chatId"`
	Data      json.RawMessage `json:"data"`
	OriginID  string          `json:"originId"`
	Timestamp int64           `json:"timestamp"`
}

// MarshalJSON encodes the envelope in the wire shape.
func (e Envelope) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	return json.Marshal(wireEnvelope{
		Type:      e.Type,
		ChatID:    e.ChatID,
		Data:      data,
		OriginID:  e.Origin,
		Timestamp: e.Timestamp,
	})
}

// UnmarshalJSON decodes the wire shape back into the tagged union.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	var payload Payload
	switch wire.Type {
	case TypeMessageAdded:
		payload = &MessageAdded{}
	case TypeMessageUpdated:
		payload = &MessageUpdated{}
	case TypeStreamingChunk:
		payload = &StreamingChunk{}
	case TypeChatCreated:
		payload = &ChatCreated{}
	case TypeChatUpdated:
		payload = &ChatUpdated{}
	case TypeChatDeleted:
		payload = &ChatDeleted{}
	case TypeTypingIndicator:
		payload = &TypingIndicator{}
	default:
		return fmt.Errorf("unknown envelope type '%s'", wire.Type)
	}
	if err := json.Unmarshal(wire.Data, payload); err != nil {
		return fmt.Errorf("unmarshaling %s payload: %w", wire.Type, err)
	}

	e.Type = wire.Type
	e.ChatID = wire.ChatID
	e.Origin = wire.OriginID
	e.Timestamp = wire.Timestamp
	e.Payload = payload
	return nil
}
