package syncer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/malonaz/chatsync/model"
	"github.com/malonaz/chatsync/remote"
	"github.com/malonaz/chatsync/store"
)

// fakeRemote is an in-memory RemoteStore recording every call.
type fakeRemote struct {
	mu             sync.Mutex
	nextID         int
	chats          map[string]*model.Chat
	messages       map[string]*model.Message
	chatInserts    int
	messageInserts int
	failWith       error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		chats:    map[string]*model.Chat{},
		messages: map[string]*model.Message{},
	}
}

func (f *fakeRemote) issueID() string {
	f.nextID++
	return fmt.Sprintf("uuid-%d", f.nextID)
}

func (f *fakeRemote) InsertChat(ctx context.Context, userRemoteID string, chat *model.Chat) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", f.failWith
	}
	remoteID := f.issueID()
	copied := *chat
	copied.RemoteID = remoteID
	f.chats[remoteID] = &copied
	f.chatInserts++
	return remoteID, nil
}

func (f *fakeRemote) UpdateChat(ctx context.Context, chat *model.Chat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	copied := *chat
	f.chats[chat.RemoteID] = &copied
	return nil
}

func (f *fakeRemote) DeleteChat(ctx context.Context, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	delete(f.chats, remoteID)
	return nil
}

func (f *fakeRemote) ListChats(ctx context.Context, userRemoteID string) ([]*model.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var chats []*model.Chat
	for _, chat := range f.chats {
		copied := *chat
		chats = append(chats, &copied)
	}
	return chats, nil
}

func (f *fakeRemote) InsertMessage(ctx context.Context, chatRemoteID string, message *model.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", f.failWith
	}
	if _, ok := f.chats[chatRemoteID]; !ok {
		return "", fmt.Errorf("unknown chat '%s'", chatRemoteID)
	}
	remoteID := f.issueID()
	copied := *message
	copied.RemoteID = remoteID
	f.messages[remoteID] = &copied
	f.messageInserts++
	return remoteID, nil
}

func (f *fakeRemote) UpdateMessage(ctx context.Context, message *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	copied := *message
	f.messages[message.RemoteID] = &copied
	return nil
}

func (f *fakeRemote) ListMessages(ctx context.Context, chatRemoteID string) ([]*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var messages []*model.Message
	for _, message := range f.messages {
		copied := *message
		messages = append(messages, &copied)
	}
	return messages, nil
}

func (f *fakeRemote) setFailure(err error) {
	f.mu.Lock()
	f.failWith = err
	f.mu.Unlock()
}

func newTestCoordinator(t *testing.T) (*Coordinator, *store.Store, *fakeRemote, *model.User) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	user, err := s.CreateUser(&model.User{Email: "test@test.com"})
	require.NoError(t, err)

	fake := newFakeRemote()
	coordinator, err := New(s, fake, zap.NewNop())
	require.NoError(t, err)
	coordinator.SetAuthenticated(user.ID, "user-remote")
	return coordinator, s, fake, user
}

func TestDrainPushesChatsBeforeMessages(t *testing.T) {
	t.Parallel()
	coordinator, s, fake, user := newTestCoordinator(t)
	ctx := context.Background()

	chat, err := s.CreateChat(&store.CreateChatRequest{Chat: &model.Chat{UserID: user.ID}})
	require.NoError(t, err)
	message, err := s.AddMessage(&store.AddMessageRequest{Message: &model.Message{
		ChatID: chat.ID, Content: "offline", Role: model.RoleUser,
	}})
	require.NoError(t, err)

	coordinator.SetOnline(ctx, true)

	require.Equal(t, 1, fake.chatInserts)
	require.Equal(t, 1, fake.messageInserts)

	// Canonical ids written back, everything marked synced.
	fetchedChat, err := s.GetChat(chat.ID)
	require.NoError(t, err)
	require.True(t, fetchedChat.Synced)
	require.NotEmpty(t, fetchedChat.RemoteID)
	fetchedMessage, err := s.GetMessage(message.ID)
	require.NoError(t, err)
	require.True(t, fetchedMessage.Synced)
	require.NotEmpty(t, fetchedMessage.RemoteID)
}

func TestDrainIsIdempotent(t *testing.T) {
	t.Parallel()
	coordinator, s, fake, user := newTestCoordinator(t)
	ctx := context.Background()

	chat, err := s.CreateChat(&store.CreateChatRequest{Chat: &model.Chat{UserID: user.ID}})
	require.NoError(t, err)
	_, err = s.AddMessage(&store.AddMessageRequest{Message: &model.Message{
		ChatID: chat.ID, Content: "once", Role: model.RoleUser,
	}})
	require.NoError(t, err)

	coordinator.SetOnline(ctx, true)
	require.NoError(t, coordinator.Drain(ctx))
	require.NoError(t, coordinator.Drain(ctx))

	// Replayed drains never duplicate a record remotely.
	require.Equal(t, 1, fake.chatInserts)
	require.Equal(t, 1, fake.messageInserts)
}

func TestDrainDefersMessageWithoutCanonicalChat(t *testing.T) {
	t.Parallel()
	coordinator, s, fake, user := newTestCoordinator(t)
	ctx := context.Background()

	chat, err := s.CreateChat(&store.CreateChatRequest{Chat: &model.Chat{UserID: user.ID}})
	require.NoError(t, err)
	message, err := s.AddMessage(&store.AddMessageRequest{Message: &model.Message{
		ChatID: chat.ID, Content: "waiting", Role: model.RoleUser,
	}})
	require.NoError(t, err)

	coordinator.SetOnline(ctx, true)
	pushed, err := coordinator.PushMessage(ctx, &model.Message{ID: message.ID, ChatID: 999})
	require.NoError(t, err)
	require.False(t, pushed)

	require.Equal(t, 1, fake.messageInserts)
}

func TestDrainPausesOnAuthError(t *testing.T) {
	t.Parallel()
	coordinator, s, fake, user := newTestCoordinator(t)
	ctx := context.Background()

	_, err := s.CreateChat(&store.CreateChatRequest{Chat: &model.Chat{UserID: user.ID}})
	require.NoError(t, err)

	fake.setFailure(&remote.AuthError{Err: fmt.Errorf("token expired")})
	coordinator.SetOnline(ctx, true)

	// Sync is paused: further drains are no-ops until re-authentication.
	fake.setFailure(nil)
	require.NoError(t, coordinator.Drain(ctx))
	require.Equal(t, 0, fake.chatInserts)

	coordinator.SetAuthenticated(user.ID, "user-remote")
	require.NoError(t, coordinator.Drain(ctx))
	require.Equal(t, 1, fake.chatInserts)
}

func TestDrainContinuesPastNetworkError(t *testing.T) {
	t.Parallel()
	coordinator, s, fake, user := newTestCoordinator(t)
	ctx := context.Background()

	_, err := s.CreateChat(&store.CreateChatRequest{Chat: &model.Chat{UserID: user.ID}})
	require.NoError(t, err)

	fake.setFailure(&remote.NetworkError{Err: fmt.Errorf("connection refused")})
	coordinator.SetOnline(ctx, true)
	require.Equal(t, 0, fake.chatInserts)

	// The record stays queued for the next drain.
	fake.setFailure(nil)
	require.NoError(t, coordinator.Drain(ctx))
	require.Equal(t, 1, fake.chatInserts)
}

func TestRefreshMergesRemoteOnlyRecords(t *testing.T) {
	t.Parallel()
	coordinator, s, fake, user := newTestCoordinator(t)
	ctx := context.Background()

	// Seed the remote with a chat and message this machine has never seen.
	remoteChatID, err := fake.InsertChat(ctx, "user-remote", &model.Chat{Title: "from another device"})
	require.NoError(t, err)
	_, err = fake.InsertMessage(ctx, remoteChatID, &model.Message{Content: "hello", Role: model.RoleUser})
	require.NoError(t, err)

	coordinator.SetOnline(ctx, true)
	require.NoError(t, coordinator.Refresh(ctx))

	chats, err := s.ListChats(user.ID, 10)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.Equal(t, "from another device", chats[0].Title)
	require.True(t, chats[0].Synced)

	messages, err := s.ListMessages(chats[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "hello", messages[0].Content)
	require.True(t, messages[0].Synced)

	// A second refresh discovers nothing new.
	require.NoError(t, coordinator.Refresh(ctx))
	chats, err = s.ListChats(user.ID, 10)
	require.NoError(t, err)
	require.Len(t, chats, 1)
}

func TestRefreshPullsMessagesDespiteUndrainedChats(t *testing.T) {
	t.Parallel()
	coordinator, s, fake, user := newTestCoordinator(t)
	ctx := context.Background()

	remoteChatID, err := fake.InsertChat(ctx, "user-remote", &model.Chat{Title: "older remote chat"})
	require.NoError(t, err)
	_, err = fake.InsertMessage(ctx, remoteChatID, &model.Message{Content: "pulled", Role: model.RoleUser})
	require.NoError(t, err)

	// Two newer local chats the drain has not pushed yet.
	for i := 0; i < 2; i++ {
		_, err := s.CreateChat(&store.CreateChatRequest{Chat: &model.Chat{UserID: user.ID}})
		require.NoError(t, err)
	}
	fake.setFailure(&remote.NetworkError{Err: fmt.Errorf("connection refused")})
	coordinator.SetOnline(ctx, true)
	fake.setFailure(nil)

	require.NoError(t, coordinator.Refresh(ctx))

	chats, err := s.ListChats(user.ID, 10)
	require.NoError(t, err)
	require.Len(t, chats, 3)

	// The merged chat's messages come through even though the undrained
	// chats sort ahead of it.
	merged, err := s.GetChatByRemoteID(remoteChatID)
	require.NoError(t, err)
	messages, err := s.ListMessages(merged.ID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "pulled", messages[0].Content)
}

func TestDeleteChatRemovesEverywhere(t *testing.T) {
	t.Parallel()
	coordinator, s, fake, user := newTestCoordinator(t)
	ctx := context.Background()

	chat, err := s.CreateChat(&store.CreateChatRequest{Chat: &model.Chat{UserID: user.ID}})
	require.NoError(t, err)
	coordinator.SetOnline(ctx, true)

	fetched, err := s.GetChat(chat.ID)
	require.NoError(t, err)
	remoteID := fetched.RemoteID
	require.NotEmpty(t, remoteID)

	require.NoError(t, coordinator.DeleteChat(ctx, chat.ID))
	_, err = s.GetChat(chat.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	fake.mu.Lock()
	_, stillThere := fake.chats[remoteID]
	fake.mu.Unlock()
	require.False(t, stillThere)
	_, ok := coordinator.Identities().ChatRemoteID(chat.ID)
	require.False(t, ok)
}

func TestIdentityMapperSurvivesRestart(t *testing.T) {
	t.Parallel()
	coordinator, s, fake, user := newTestCoordinator(t)
	ctx := context.Background()

	chat, err := s.CreateChat(&store.CreateChatRequest{Chat: &model.Chat{UserID: user.ID}})
	require.NoError(t, err)
	coordinator.SetOnline(ctx, true)
	fetched, err := s.GetChat(chat.ID)
	require.NoError(t, err)

	// A new coordinator over the same store re-hydrates the same mapping.
	restarted, err := New(s, fake, zap.NewNop())
	require.NoError(t, err)
	remoteID, ok := restarted.Identities().ChatRemoteID(chat.ID)
	require.True(t, ok)
	require.Equal(t, fetched.RemoteID, remoteID)
	localID, ok := restarted.Identities().ChatLocalID(fetched.RemoteID)
	require.True(t, ok)
	require.Equal(t, chat.ID, localID)
}
