// Package syncer reconciles the local SQLite store with the remote Postgres
// store. Local writes never wait on the network: they are drained to the
// remote store asynchronously, in dependency order, whenever connectivity
// allows. A failed push leaves the record unsynced for the next drain.
package syncer

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/malonaz/chatsync/model"
	"github.com/malonaz/chatsync/remote"
	"github.com/malonaz/chatsync/store"
)

// RemoteStore is the authoritative store contract the coordinator drains
// into. Inserts return the canonical id. Operations fail with
// remote.NetworkError when unreachable and remote.AuthError when credentials
// are rejected; idempotence across retries is this package's responsibility,
// not the remote's.
type RemoteStore interface {
	InsertChat(ctx context.Context, userRemoteID string, chat *model.Chat) (string, error)
	UpdateChat(ctx context.Context, chat *model.Chat) error
	DeleteChat(ctx context.Context, remoteID string) error
	ListChats(ctx context.Context, userRemoteID string) ([]*model.Chat, error)
	InsertMessage(ctx context.Context, chatRemoteID string, message *model.Message) (string, error)
	UpdateMessage(ctx context.Context, message *model.Message) error
	ListMessages(ctx context.Context, chatRemoteID string) ([]*model.Message, error)
}

// Coordinator owns the sync state machine for one client.
type Coordinator struct {
	store      *store.Store
	remote     RemoteStore
	identities *IdentityMapper
	logger     *zap.Logger

	mu            sync.Mutex
	online        bool
	syncing       bool
	authenticated bool
	userID        int64
	userRemoteID  string
}

// New instantiates a coordinator. The identity mapper is hydrated from the
// local store so merge de-duplication survives restarts.
func New(localStore *store.Store, remoteStore RemoteStore, logger *zap.Logger) (*Coordinator, error) {
	identities, err := NewIdentityMapper(localStore)
	if err != nil {
		return nil, errors.Wrap(err, "hydrating identity mapper")
	}
	return &Coordinator{
		store:      localStore,
		remote:     remoteStore,
		identities: identities,
		logger:     logger,
	}, nil
}

// Identities exposes the identity mapper.
func (c *Coordinator) Identities() *IdentityMapper { return c.identities }

// Online reports the last recorded reachability state.
func (c *Coordinator) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Syncing reports whether a drain is in flight.
func (c *Coordinator) Syncing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncing
}

// SetAuthenticated links the coordinator to an authenticated remote user.
// Sync is paused until this is called, and again after any AuthError.
func (c *Coordinator) SetAuthenticated(userID int64, userRemoteID string) {
	c.mu.Lock()
	c.authenticated = true
	c.userID = userID
	c.userRemoteID = userRemoteID
	c.mu.Unlock()
}

// SetOnline records a reachability transition. A transition to online
// triggers a drain; if one is already running this is a no-op.
func (c *Coordinator) SetOnline(ctx context.Context, online bool) {
	c.mu.Lock()
	wasOnline := c.online
	c.online = online
	c.mu.Unlock()

	if online && !wasOnline {
		if err := c.Drain(ctx); err != nil {
			c.logger.Warn("drain on reconnect failed", zap.Error(err))
		}
	}
}

// beginDrain engages the mutual-exclusion flag. It returns false when a
// drain is already running or the coordinator cannot reach the remote store.
func (c *Coordinator) beginDrain() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.syncing || !c.online || !c.authenticated {
		return false
	}
	c.syncing = true
	return true
}

func (c *Coordinator) endDrain() {
	c.mu.Lock()
	c.syncing = false
	c.mu.Unlock()
}

// Drain pushes every unsynced local record to the remote store: chats first,
// oldest first, then messages. A message whose parent chat has no canonical
// id yet is skipped and retried on the next drain; a failing record is
// logged and never blocks the rest of the queue. An AuthError pauses sync
// entirely until SetAuthenticated is called again.
func (c *Coordinator) Drain(ctx context.Context) error {
	if !c.beginDrain() {
		return nil
	}
	defer c.endDrain()

	chats, err := c.store.ListUnsyncedChats()
	if err != nil {
		return errors.Wrap(err, "listing unsynced chats")
	}
	for _, chat := range chats {
		if err := c.PushChat(ctx, chat); err != nil {
			if remote.IsAuth(err) {
				c.pauseAuth()
				return err
			}
			c.logger.Warn("pushing chat", zap.Int64("chat_id", chat.ID), zap.Error(err))
		}
	}

	messages, err := c.store.ListUnsyncedMessages()
	if err != nil {
		return errors.Wrap(err, "listing unsynced messages")
	}
	for _, message := range messages {
		pushed, err := c.PushMessage(ctx, message)
		if err != nil {
			if remote.IsAuth(err) {
				c.pauseAuth()
				return err
			}
			c.logger.Warn("pushing message", zap.Int64("message_id", message.ID), zap.Error(err))
			continue
		}
		if !pushed {
			c.logger.Debug("deferring message, chat has no canonical id",
				zap.Int64("message_id", message.ID), zap.Int64("chat_id", message.ChatID))
		}
	}
	return nil
}

func (c *Coordinator) pauseAuth() {
	c.mu.Lock()
	c.authenticated = false
	c.mu.Unlock()
	c.logger.Warn("remote store rejected credentials, sync paused")
}

// PushChat syncs one chat. A chat that already carries a canonical id is
// updated in place; otherwise it is inserted and the issued canonical id is
// written back to the local store. Re-invoking on a pushed chat with no local
// delta is a no-op aside from the remote update itself.
func (c *Coordinator) PushChat(ctx context.Context, chat *model.Chat) error {
	if chat.RemoteID != "" {
		if err := c.remote.UpdateChat(ctx, chat); err != nil {
			return err
		}
		chat.Synced = true
		if err := c.store.MarkChatSynced(chat.ID, chat.RemoteID); err != nil {
			return err
		}
		return nil
	}

	c.mu.Lock()
	userRemoteID := c.userRemoteID
	c.mu.Unlock()

	remoteID, err := c.remote.InsertChat(ctx, userRemoteID, chat)
	if err != nil {
		return err
	}
	chat.RemoteID = remoteID
	chat.Synced = true
	if err := c.store.MarkChatSynced(chat.ID, remoteID); err != nil {
		return err
	}
	c.identities.PutChat(chat.ID, remoteID)
	return nil
}

// PushMessage syncs one message. It reports false, without error, when the
// parent chat has no canonical id yet: pushing first would orphan the
// message remotely.
func (c *Coordinator) PushMessage(ctx context.Context, message *model.Message) (bool, error) {
	if message.RemoteID != "" {
		if err := c.remote.UpdateMessage(ctx, message); err != nil {
			return false, err
		}
		message.Synced = true
		if err := c.store.MarkMessageSynced(message.ID, message.RemoteID); err != nil {
			return false, err
		}
		return true, nil
	}

	chatRemoteID, ok := c.identities.ChatRemoteID(message.ChatID)
	if !ok {
		return false, nil
	}

	remoteID, err := c.remote.InsertMessage(ctx, chatRemoteID, message)
	if err != nil {
		return false, err
	}
	message.RemoteID = remoteID
	message.Synced = true
	if err := c.store.MarkMessageSynced(message.ID, remoteID); err != nil {
		return false, err
	}
	c.identities.PutMessage(message.ID, remoteID)
	return true, nil
}

// MergeRemoteChats inserts remote chats not yet known locally, marked synced.
// Records whose canonical id is already mapped are left untouched: the remote
// copy is not authoritative over a local edit that has already synced once.
// Returns the newly discovered chats with their local ids assigned.
func (c *Coordinator) MergeRemoteChats(userID int64, remoteChats []*model.Chat) ([]*model.Chat, error) {
	var merged []*model.Chat
	for _, chat := range remoteChats {
		if _, ok := c.identities.ChatLocalID(chat.RemoteID); ok {
			continue
		}
		chat.UserID = userID
		chat.Synced = true
		created, err := c.store.CreateChat(&store.CreateChatRequest{Chat: chat})
		if err != nil {
			return nil, errors.Wrapf(err, "inserting remote chat '%s'", chat.RemoteID)
		}
		c.identities.PutChat(created.ID, created.RemoteID)
		merged = append(merged, created)
	}
	return merged, nil
}

// MergeRemoteMessages inserts remote messages not yet known locally under the
// given local chat, marked synced.
func (c *Coordinator) MergeRemoteMessages(chatID int64, remoteMessages []*model.Message) ([]*model.Message, error) {
	var merged []*model.Message
	for _, message := range remoteMessages {
		if _, ok := c.identities.MessageLocalID(message.RemoteID); ok {
			continue
		}
		message.ChatID = chatID
		message.Synced = true
		added, err := c.store.AddMessage(&store.AddMessageRequest{Message: message})
		if err != nil {
			return nil, errors.Wrapf(err, "inserting remote message '%s'", message.RemoteID)
		}
		c.identities.PutMessage(added.ID, added.RemoteID)
		merged = append(merged, added)
	}
	return merged, nil
}

// Refresh pulls the remote state for the authenticated user and merges
// remote-only records into the local store: the chat list first, then the
// messages of every chat holding a canonical id, a few chats at a time.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.mu.Lock()
	online, authenticated := c.online, c.authenticated
	userID, userRemoteID := c.userID, c.userRemoteID
	c.mu.Unlock()
	if !online || !authenticated {
		return nil
	}

	remoteChats, err := c.remote.ListChats(ctx, userRemoteID)
	if err != nil {
		return errors.Wrap(err, "listing remote chats")
	}
	if _, err := c.MergeRemoteChats(userID, remoteChats); err != nil {
		return err
	}

	// Local-only chats have no canonical id and nothing to pull.
	identities, err := c.store.ListChatIdentities()
	if err != nil {
		return errors.Wrap(err, "listing chat identities")
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(4)
	var mergeMu sync.Mutex
	for _, identity := range identities {
		identity := identity
		group.Go(func() error {
			remoteMessages, err := c.remote.ListMessages(ctx, identity.RemoteID)
			if err != nil {
				return errors.Wrapf(err, "listing remote messages for chat '%s'", identity.RemoteID)
			}
			// The local store serializes writers.
			mergeMu.Lock()
			defer mergeMu.Unlock()
			_, err = c.MergeRemoteMessages(identity.LocalID, remoteMessages)
			return err
		})
	}
	return group.Wait()
}

// DeleteChat removes a chat everywhere. The remote delete is best-effort and
// attempted first; its failure is logged and never blocks or reverses the
// local cascade.
func (c *Coordinator) DeleteChat(ctx context.Context, chatID int64) error {
	c.mu.Lock()
	online, authenticated := c.online, c.authenticated
	c.mu.Unlock()

	if remoteID, ok := c.identities.ChatRemoteID(chatID); ok && online && authenticated {
		if err := c.remote.DeleteChat(ctx, remoteID); err != nil {
			c.logger.Warn("deleting remote chat", zap.String("remote_id", remoteID), zap.Error(err))
		}
	}

	if err := c.store.DeleteChatCascade(chatID); err != nil {
		return errors.Wrap(err, "deleting chat locally")
	}
	c.identities.DeleteChat(chatID)
	return nil
}
