package store

import (
	"fmt"
)

// Identity pairs a record's local id with its canonical remote id.
type Identity struct {
	LocalID  int64
	RemoteID string
}

// ListChatIdentities returns the (local id, remote id) pair of every chat
// that has been issued a canonical id.
func (s *Store) ListChatIdentities() ([]Identity, error) {
	return s.listIdentities("chats")
}

// ListMessageIdentities returns the (local id, remote id) pair of every
// message that has been issued a canonical id.
func (s *Store) ListMessageIdentities() ([]Identity, error) {
	return s.listIdentities("messages")
}

func (s *Store) listIdentities(table string) ([]Identity, error) {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT id, remote_id FROM %s WHERE remote_id != ''`, table))
	if err != nil {
		return nil, fmt.Errorf("querying %s identities: %w", table, err)
	}
	defer rows.Close()

	var identities []Identity
	for rows.Next() {
		var identity Identity
		if err := rows.Scan(&identity.LocalID, &identity.RemoteID); err != nil {
			return nil, fmt.Errorf("scanning identity row: %w", err)
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating identity rows: %w", err)
	}
	return identities, nil
}
