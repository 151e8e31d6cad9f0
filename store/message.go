package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/malonaz/chatsync/model"
)

// AddMessageRequest represents a request to add a message to a chat.
type AddMessageRequest struct {
	Message *model.Message
}

// AddMessage inserts a message and its attachments in one transaction.
func (s *Store) AddMessage(req *AddMessageRequest) (*model.Message, error) {
	if req.Message == nil {
		return nil, fmt.Errorf("message cannot be nil")
	}
	message := req.Message
	if message.CreationTimestamp == 0 {
		message.CreationTimestamp = time.Now().UnixMicro()
	}

	err := s.Transaction(func(tx *sql.Tx) error {
		result, err := tx.Exec(`
INSERT INTO messages (
    remote_id,
    chat_id,
    content,
    role,
    model,
    tokens,
    cost,
    parent_id,
    branch_id,
    error,
    streaming,
    creation_timestamp,
    synced
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			message.RemoteID,
			message.ChatID,
			message.Content,
			message.Role,
			message.Model,
			message.Tokens,
			message.Cost,
			message.ParentID,
			message.BranchID,
			boolToInt(message.Error),
			boolToInt(message.Streaming),
			message.CreationTimestamp,
			boolToInt(message.Synced),
		)
		if err != nil {
			return fmt.Errorf("inserting into messages table: %w", err)
		}
		message.ID, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading last insert id: %w", err)
		}

		for _, attachment := range message.Attachments {
			attachment.MessageID = message.ID
			result, err := tx.Exec(`
INSERT INTO attachments (remote_id, message_id, filename, url, type, size, extracted_text, analysis)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				attachment.RemoteID,
				attachment.MessageID,
				attachment.Filename,
				attachment.URL,
				attachment.Type,
				attachment.Size,
				attachment.ExtractedText,
				attachment.Analysis,
			)
			if err != nil {
				return fmt.Errorf("inserting into attachments table: %w", err)
			}
			attachment.ID, err = result.LastInsertId()
			if err != nil {
				return fmt.Errorf("reading last insert id: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return message, nil
}

// PutMessage writes a message under its existing local id, inserting or
// replacing. Used when mirroring a record another tab already persisted.
func (s *Store) PutMessage(message *model.Message) error {
	if message == nil || message.ID == 0 {
		return fmt.Errorf("message must carry a local id")
	}
	_, err := s.db.Exec(`
REPLACE INTO messages (
    id, remote_id, chat_id, content, role, model, tokens, cost,
    parent_id, branch_id, error, streaming, creation_timestamp, synced
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID,
		message.RemoteID,
		message.ChatID,
		message.Content,
		message.Role,
		message.Model,
		message.Tokens,
		message.Cost,
		message.ParentID,
		message.BranchID,
		boolToInt(message.Error),
		boolToInt(message.Streaming),
		message.CreationTimestamp,
		boolToInt(message.Synced),
	)
	if err != nil {
		return fmt.Errorf("writing message to database: %w", err)
	}
	return nil
}

// GetMessage returns a message by local id, attachments included.
func (s *Store) GetMessage(messageID int64) (*model.Message, error) {
	row := s.db.QueryRow(fmt.Sprintf(`SELECT %s FROM messages WHERE id = ?`, messageColumns), messageID)
	message, err := scanMessage(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying message: %w", err)
	}
	message.Attachments, err = s.ListMessageAttachments(message.ID)
	if err != nil {
		return nil, err
	}
	return message, nil
}

// ListMessages returns a chat's messages in creation order. A zero branchID
// selects the main branch.
func (s *Store) ListMessages(chatID, branchID int64) ([]*model.Message, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
SELECT %s FROM messages
WHERE chat_id = ? AND branch_id = ?
ORDER BY creation_timestamp ASC, id ASC`, messageColumns), chatID, branchID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListUnsyncedMessages returns every message with synced=false, oldest first.
func (s *Store) ListUnsyncedMessages() ([]*model.Message, error) {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT %s FROM messages WHERE synced = 0 ORDER BY id ASC`, messageColumns))
	if err != nil {
		return nil, fmt.Errorf("querying unsynced messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// UpdateMessageRequest represents a request to update a message with specific
// fields. Role is immutable and deliberately absent from the mask.
type UpdateMessageRequest struct {
	Message    *model.Message
	UpdateMask []string
}

// UpdateMessage applies the masked fields. Content edits mark the message
// unsynced; sync bookkeeping fields do not.
func (s *Store) UpdateMessage(req *UpdateMessageRequest) error {
	if req.Message == nil {
		return fmt.Errorf("message cannot be nil")
	}
	message := req.Message

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
	if shouldUpdate("content") {
		setClauses = append(setClauses, "content = ?")
		args = append(args, message.Content)
	}
	if shouldUpdate("tokens") {
		setClauses = append(setClauses, "tokens = ?")
		args = append(args, message.Tokens)
	}
	if shouldUpdate("cost") {
		setClauses = append(setClauses, "cost = ?")
		args = append(args, message.Cost)
	}
	if shouldUpdate("error") {
		setClauses = append(setClauses, "error = ?")
		args = append(args, boolToInt(message.Error))
	}
	if shouldUpdate("streaming") {
		setClauses = append(setClauses, "streaming = ?")
		args = append(args, boolToInt(message.Streaming))
	}
	if shouldUpdate("remote_id") {
		setClauses = append(setClauses, "remote_id = ?")
		args = append(args, message.RemoteID)
		syncTracked = true
	}
	if shouldUpdate("synced") {
		setClauses = append(setClauses, "synced = ?")
		args = append(args, boolToInt(message.Synced))
		syncTracked = true
	}

	if len(setClauses) == 0 {
		return nil
	}
	if !syncTracked {
		setClauses = append(setClauses, "synced = 0")
		message.Synced = false
	}
	args = append(args, message.ID)

	query := fmt.Sprintf("UPDATE messages SET %s WHERE id = ?", strings.Join(setClauses, ", "))
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("updating message in database: %w", err)
	}
	return nil
}

// MarkMessageSynced records the canonical id issued by the remote store.
func (s *Store) MarkMessageSynced(messageID int64, remoteID string) error {
	if _, err := s.db.Exec(`UPDATE messages SET remote_id = ?, synced = 1 WHERE id = ?`, remoteID, messageID); err != nil {
		return fmt.Errorf("marking message synced: %w", err)
	}
	return nil
}

// SearchMessages returns messages across a user's chats whose content matches
// the query, case-insensitively.
func (s *Store) SearchMessages(userID int64, query string, limit int) ([]*model.Message, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
SELECT %s FROM messages
WHERE chat_id IN (SELECT id FROM chats WHERE user_id = ?)
  AND content LIKE '%%' || ? || '%%'
ORDER BY creation_timestamp DESC
LIMIT ?`, messageColumns), userID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}
