package bus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malonaz/chatsync/model"
)

func receive(t *testing.T, ch <-chan Envelope) Envelope {
	t.Helper()
	select {
	case envelope := <-ch:
		return envelope
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
		return Envelope{}
	}
}

func TestPublishFansOutToEverySubscriber(t *testing.T) {
	t.Parallel()
	b := New()
	defer b.Close()

	first := b.Subscribe()
	second := b.Subscribe()

	b.Publish(Envelope{
		Type:    TypeChatDeleted,
		ChatID:  7,
		Origin:  "tab-a",
		Payload: &ChatDeleted{ChatID: 7},
	})

	for _, ch := range []<-chan Envelope{first, second} {
		envelope := receive(t, ch)
		require.Equal(t, TypeChatDeleted, envelope.Type)
		require.Equal(t, "tab-a", envelope.Origin)
		require.NotZero(t, envelope.Timestamp)
	}
}

func TestPublishDeliversIndependentCopies(t *testing.T) {
	t.Parallel()
	b := New()
	defer b.Close()

	first := b.Subscribe()
	second := b.Subscribe()

	original := &model.Message{ID: 5, ChatID: 3, Content: "draft", Role: model.RoleAssistant, Streaming: true}
	b.Publish(Envelope{
		Type:    TypeMessageAdded,
		ChatID:  3,
		Origin:  "tab-a",
		Payload: &MessageAdded{Message: original},
	})

	received := receive(t, first).Payload.(*MessageAdded).Message
	sibling := receive(t, second).Payload.(*MessageAdded).Message
	require.NotSame(t, original, received)
	require.NotSame(t, received, sibling)

	// A receiver-side mutation stays in that receiver.
	received.Content = "mutated"
	require.Equal(t, "draft", original.Content)
	require.Equal(t, "draft", sibling.Content)

	// A sender-side mutation after publish never reaches receivers.
	original.Content = "rewritten"
	require.Equal(t, "draft", sibling.Content)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	b := New()
	defer b.Close()

	ch := b.Subscribe()
	b.Unsubscribe(ch)

	_, open := <-ch
	require.False(t, open)

	// Publishing after unsubscribe must not panic.
	b.Publish(Envelope{Type: TypeChatDeleted, Payload: &ChatDeleted{ChatID: 1}})
}

func TestSlowSubscriberNeverBlocksPublisher(t *testing.T) {
	t.Parallel()
	b := New()
	defer b.Close()

	ch := b.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			b.Publish(Envelope{Type: TypeChatDeleted, Payload: &ChatDeleted{ChatID: int64(i)}})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
	// The receiver still sees the buffered prefix.
	envelope := receive(t, ch)
	require.Equal(t, int64(0), envelope.Payload.(*ChatDeleted).ChatID)
}

func TestCloseShutsDownSubscribers(t *testing.T) {
	t.Parallel()
	b := New()
	ch := b.Subscribe()
	b.Close()

	_, open := <-ch
	require.False(t, open)
	// Subscribing after close yields a closed channel.
	_, open = <-b.Subscribe()
	require.False(t, open)
}

func TestEnvelopeWireFormat(t *testing.T) {
	t.Parallel()
	envelope := Envelope{
		Type:      TypeMessageAdded,
		ChatID:    3,
		Origin:    "tab-a",
		Timestamp: 1700000000000,
		Payload: &MessageAdded{Message: &model.Message{
			ID: 5, ChatID: 3, Content: "hello", Role: model.RoleUser,
		}},
	}

	data, err := json.Marshal(envelope)
	require.NoError(t, err)

	// The wire shape uses the channel's field names.
	var wire map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &wire))
	require.Contains(t, wire, "type")
	require.Contains(t, wire, "chatId")
	require.Contains(t, wire, "data")
	require.Contains(t, wire, "originId")
	require.Contains(t, wire, "timestamp")

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, envelope.Type, decoded.Type)
	require.Equal(t, envelope.ChatID, decoded.ChatID)
	require.Equal(t, envelope.Origin, decoded.Origin)
	payload, ok := decoded.Payload.(*MessageAdded)
	require.True(t, ok)
	require.Equal(t, "hello", payload.Message.Content)
}

func TestEnvelopeRejectsUnknownType(t *testing.T) {
	t.Parallel()
	var decoded Envelope
	err := json.Unmarshal([]byte(`{"type":"BOGUS","chatId":1,"data":{},"originId":"x","timestamp":1}`), &decoded)
	require.Error(t, err)
}

func TestMessageUpdatesApplyIsPartial(t *testing.T) {
	t.Parallel()
	content := "done"
	streaming := false
	updates := MessageUpdates{Content: &content, Streaming: &streaming}

	message := &model.Message{Content: "partial", Tokens: 9, Streaming: true}
	updates.Apply(message)
	require.Equal(t, "done", message.Content)
	require.False(t, message.Streaming)
	require.Equal(t, 9, message.Tokens)
}
