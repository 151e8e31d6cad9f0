package syncer

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/malonaz/chatsync/store"
)

// IdentityMapper maps canonical remote ids to local ids and back, per table.
// It is hydrated from the local store's remote_id columns at startup and kept
// current by the coordinator on every successful push and merge; both
// directions are O(1).
type IdentityMapper struct {
	mu              sync.RWMutex
	chatByRemote    map[string]int64
	chatByLocal     map[int64]string
	messageByRemote map[string]int64
	messageByLocal  map[int64]string
}

// NewIdentityMapper hydrates the mapper from the local store.
func NewIdentityMapper(localStore *store.Store) (*IdentityMapper, error) {
	mapper := &IdentityMapper{
		chatByRemote:    map[string]int64{},
		chatByLocal:     map[int64]string{},
		messageByRemote: map[string]int64{},
		messageByLocal:  map[int64]string{},
	}

	chatIdentities, err := localStore.ListChatIdentities()
	if err != nil {
		return nil, errors.Wrap(err, "listing chat identities")
	}
	for _, identity := range chatIdentities {
		mapper.chatByRemote[identity.RemoteID] = identity.LocalID
		mapper.chatByLocal[identity.LocalID] = identity.RemoteID
	}

	messageIdentities, err := localStore.ListMessageIdentities()
	if err != nil {
		return nil, errors.Wrap(err, "listing message identities")
	}
	for _, identity := range messageIdentities {
		mapper.messageByRemote[identity.RemoteID] = identity.LocalID
		mapper.messageByLocal[identity.LocalID] = identity.RemoteID
	}
	return mapper, nil
}

// PutChat records a chat identity pair.
func (m *IdentityMapper) PutChat(localID int64, remoteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatByRemote[remoteID] = localID
	m.chatByLocal[localID] = remoteID
}

// DeleteChat drops a chat identity pair by local id.
func (m *IdentityMapper) DeleteChat(localID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if remoteID, ok := m.chatByLocal[localID]; ok {
		delete(m.chatByRemote, remoteID)
		delete(m.chatByLocal, localID)
	}
}

// ChatLocalID resolves a chat's canonical id to its local id.
func (m *IdentityMapper) ChatLocalID(remoteID string) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	localID, ok := m.chatByRemote[remoteID]
	return localID, ok
}

// ChatRemoteID resolves a chat's local id to its canonical id.
func (m *IdentityMapper) ChatRemoteID(localID int64) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	remoteID, ok := m.chatByLocal[localID]
	return remoteID, ok
}

// PutMessage records a message identity pair.
func (m *IdentityMapper) PutMessage(localID int64, remoteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messageByRemote[remoteID] = localID
	m.messageByLocal[localID] = remoteID
}

// MessageLocalID resolves a message's canonical id to its local id.
func (m *IdentityMapper) MessageLocalID(remoteID string) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	localID, ok := m.messageByRemote[remoteID]
	return localID, ok
}

// MessageRemoteID resolves a message's local id to its canonical id.
func (m *IdentityMapper) MessageRemoteID(localID int64) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	remoteID, ok := m.messageByLocal[localID]
	return remoteID, ok
}
