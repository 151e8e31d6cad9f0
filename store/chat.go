package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/malonaz/chatsync/model"
)

// CreateChatRequest represents a request to create a new chat.
type CreateChatRequest struct {
	Chat *model.Chat
}

// CreateChat inserts a chat and assigns its local id. The chat starts
// unsynced unless the caller says otherwise (sync-driven discovery inserts
// remote records already synced).
func (s *Store) CreateChat(req *CreateChatRequest) (*model.Chat, error) {
	if req.Chat == nil {
		return nil, fmt.Errorf("chat cannot be nil")
	}
	chat := req.Chat

	now := time.Now().UnixMicro()
	if chat.CreationTimestamp == 0 {
		chat.CreationTimestamp = now
	}
	if chat.UpdateTimestamp == 0 {
		chat.UpdateTimestamp = now
	}
	if chat.Title == "" {
		chat.Title = model.DefaultChatTitle
	}

	settingsJSON, err := json.Marshal(chat.Settings)
	if err != nil {
		return nil, fmt.Errorf("marshaling settings: %w", err)
	}

	result, err := s.db.Exec(`
INSERT INTO chats (
    remote_id,
    user_id,
    title,
    model,
    settings,
    is_shared,
    share_id,
    creation_timestamp,
    update_timestamp,
    synced
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chat.RemoteID,
		chat.UserID,
		chat.Title,
		chat.Model,
		string(settingsJSON),
		boolToInt(chat.IsShared),
		chat.ShareID,
		chat.CreationTimestamp,
		chat.UpdateTimestamp,
		boolToInt(chat.Synced),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting into chats table: %w", err)
	}

	chat.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading last insert id: %w", err)
	}
	return chat, nil
}

// GetChat returns a chat by local id.
func (s *Store) GetChat(chatID int64) (*model.Chat, error) {
	row := s.db.QueryRow(fmt.Sprintf(`SELECT %s FROM chats WHERE id = ?`, chatColumns), chatID)
	chat, err := scanChat(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying chat: %w", err)
	}
	return chat, nil
}

// GetChatByRemoteID returns a chat by its canonical remote id.
func (s *Store) GetChatByRemoteID(remoteID string) (*model.Chat, error) {
	row := s.db.QueryRow(fmt.Sprintf(`SELECT %s FROM chats WHERE remote_id = ?`, chatColumns), remoteID)
	chat, err := scanChat(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying chat: %w", err)
	}
	return chat, nil
}

// ListChats returns a user's chats, most recently updated first.
func (s *Store) ListChats(userID int64, pageSize int) ([]*model.Chat, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
SELECT %s FROM chats
WHERE user_id = ?
ORDER BY update_timestamp DESC
LIMIT ?`, chatColumns), userID, pageSize)
	if err != nil {
		return nil, fmt.Errorf("querying chats: %w", err)
	}
	defer rows.Close()
	return scanChats(rows)
}

// ListUnsyncedChats returns every chat with synced=false, oldest first.
// Insertion order is the drain order.
func (s *Store) ListUnsyncedChats() ([]*model.Chat, error) {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT %s FROM chats WHERE synced = 0 ORDER BY id ASC`, chatColumns))
	if err != nil {
		return nil, fmt.Errorf("querying unsynced chats: %w", err)
	}
	defer rows.Close()
	return scanChats(rows)
}

// UpdateChatRequest represents a request to update a chat with specific fields.
type UpdateChatRequest struct {
	Chat       *model.Chat
	UpdateMask []string
}

// UpdateChat applies the masked fields. Unless the mask contains "synced" or
// "remote_id" the chat is marked unsynced, since any local edit invalidates
// the remote copy. The update timestamp is always bumped.
func (s *Store) UpdateChat(req *UpdateChatRequest) error {
	if req.Chat == nil {
		return fmt.Errorf("chat cannot be nil")
	}
	chat := req.Chat
	chat.UpdateTimestamp = time.Now().UnixMicro()

	var setClauses []string
	var args []interface{}
	shouldUpdate := func(field string) bool {
		for _, f := range req.UpdateMask {
			if f == field {
				return true
			}
		}
		return false
	}

	syncTracked := false
	if shouldUpdate("title") {
		setClauses = append(setClauses, "title = ?")
		args = append(args, chat.Title)
	}
	if shouldUpdate("model") {
		setClauses = append(setClauses, "model = ?")
		args = append(args, chat.Model)
	}
	if shouldUpdate("settings") {
		settingsJSON, err := json.Marshal(chat.Settings)
		if err != nil {
			return fmt.Errorf("marshaling settings: %w", err)
		}
		setClauses = append(setClauses, "settings = ?")
		args = append(args, string(settingsJSON))
	}
	if shouldUpdate("is_shared") {
		setClauses = append(setClauses, "is_shared = ?")
		args = append(args, boolToInt(chat.IsShared))
	}
	if shouldUpdate("share_id") {
		setClauses = append(setClauses, "share_id = ?")
		args = append(args, chat.ShareID)
	}
	if shouldUpdate("remote_id") {
		setClauses = append(setClauses, "remote_id = ?")
		args = append(args, chat.RemoteID)
		syncTracked = true
	}
	if shouldUpdate("synced") {
		setClauses = append(setClauses, "synced = ?")
		args = append(args, boolToInt(chat.Synced))
		syncTracked = true
	}

	if len(setClauses) == 0 {
		return nil
	}

	// A content edit leaves the record dirty for the next drain.
	if !syncTracked {
		setClauses = append(setClauses, "synced = 0")
		chat.Synced = false
	}
	setClauses = append(setClauses, "update_timestamp = ?")
	args = append(args, chat.UpdateTimestamp)
	args = append(args, chat.ID)

	query := fmt.Sprintf("UPDATE chats SET %s WHERE id = ?", strings.Join(setClauses, ", "))
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("updating chat in database: %w", err)
	}
	return nil
}

// MarkChatSynced records the canonical id issued by the remote store.
func (s *Store) MarkChatSynced(chatID int64, remoteID string) error {
	if _, err := s.db.Exec(`UPDATE chats SET remote_id = ?, synced = 1 WHERE id = ?`, remoteID, chatID); err != nil {
		return fmt.Errorf("marking chat synced: %w", err)
	}
	return nil
}

// DeleteChatCascade removes a chat, its messages, their attachments and its
// branches in one transaction. Partial deletion is never observable.
func (s *Store) DeleteChatCascade(chatID int64) error {
	return s.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
DELETE FROM attachments WHERE message_id IN (SELECT id FROM messages WHERE chat_id = ?)`, chatID); err != nil {
			return fmt.Errorf("deleting attachments: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
			return fmt.Errorf("deleting messages: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM branches WHERE chat_id = ?`, chatID); err != nil {
			return fmt.Errorf("deleting branches: %w", err)
		}
		result, err := tx.Exec(`DELETE FROM chats WHERE id = ?`, chatID)
		if err != nil {
			return fmt.Errorf("deleting chat: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ChatStats aggregates a user's usage.
type ChatStats struct {
	TotalChats    int
	TotalMessages int
	TotalTokens   int
}

// GetChatStats returns aggregate counts for a user.
func (s *Store) GetChatStats(userID int64) (*ChatStats, error) {
	stats := &ChatStats{}
	row := s.db.QueryRow(`SELECT COUNT(*) FROM chats WHERE user_id = ?`, userID)
	if err := row.Scan(&stats.TotalChats); err != nil {
		return nil, fmt.Errorf("counting chats: %w", err)
	}
	row = s.db.QueryRow(`
SELECT COUNT(*), COALESCE(SUM(tokens), 0)
FROM messages
WHERE chat_id IN (SELECT id FROM chats WHERE user_id = ?)`, userID)
	if err := row.Scan(&stats.TotalMessages, &stats.TotalTokens); err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}
	return stats, nil
}
