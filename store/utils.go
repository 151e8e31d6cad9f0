package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/malonaz/chatsync/model"
)

func boolToInt(val bool) int {
	if val {
		return 1
	}
	return 0
}

func scanChat(row interface{ Scan(...interface{}) error }) (*model.Chat, error) {
	chat := &model.Chat{}
	var settingsJSON string
	var isShared, synced int

	if err := row.Scan(&chat.ID, &chat.RemoteID, &chat.UserID, &chat.Title, &chat.Model,
		&settingsJSON, &isShared, &chat.ShareID, &chat.CreationTimestamp,
		&chat.UpdateTimestamp, &synced); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(settingsJSON), &chat.Settings); err != nil {
		return nil, fmt.Errorf("unmarshaling settings: %w", err)
	}
	chat.IsShared = isShared != 0
	chat.Synced = synced != 0
	return chat, nil
}

// scanChats helps avoid duplicate chat scanning code.
func scanChats(rows *sql.Rows) ([]*model.Chat, error) {
	var chats []*model.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chat row: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat rows: %w", err)
	}
	return chats, nil
}

func scanMessage(row interface{ Scan(...interface{}) error }) (*model.Message, error) {
	message := &model.Message{}
	var errorFlag, streaming, synced int

	if err := row.Scan(&message.ID, &message.RemoteID, &message.ChatID, &message.Content,
		&message.Role, &message.Model, &message.Tokens, &message.Cost, &message.ParentID,
		&message.BranchID, &errorFlag, &streaming, &message.CreationTimestamp, &synced); err != nil {
		return nil, err
	}

	message.Error = errorFlag != 0
	message.Streaming = streaming != 0
	message.Synced = synced != 0
	return message, nil
}

func scanMessages(rows *sql.Rows) ([]*model.Message, error) {
	var messages []*model.Message
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

func scanAttachments(rows *sql.Rows) ([]*model.Attachment, error) {
	var attachments []*model.Attachment
	for rows.Next() {
		attachment := &model.Attachment{}
		if err := rows.Scan(&attachment.ID, &attachment.RemoteID, &attachment.MessageID,
			&attachment.Filename, &attachment.URL, &attachment.Type, &attachment.Size,
			&attachment.ExtractedText, &attachment.Analysis); err != nil {
			return nil, fmt.Errorf("scanning attachment row: %w", err)
		}
		attachments = append(attachments, attachment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attachment rows: %w", err)
	}
	return attachments, nil
}

const chatColumns = `id, remote_id, user_id, title, model, settings, is_shared, share_id, creation_timestamp, update_timestamp, synced`

const messageColumns = `id, remote_id, chat_id, content, role, model, tokens, cost, parent_id, branch_id, error, streaming, creation_timestamp, synced`

const attachmentColumns = `id, remote_id, message_id, filename, url, type, size, extracted_text, analysis`
