package store

import (
	"fmt"
	"time"

	"github.com/malonaz/chatsync/model"
)

// ListMessageAttachments returns a message's attachments.
func (s *Store) ListMessageAttachments(messageID int64) ([]*model.Attachment, error) {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT %s FROM attachments WHERE message_id = ? ORDER BY id ASC`, attachmentColumns), messageID)
	if err != nil {
		return nil, fmt.Errorf("querying attachments: %w", err)
	}
	defer rows.Close()
	return scanAttachments(rows)
}

// CreateBranch forks a chat off a message.
func (s *Store) CreateBranch(branch *model.Branch) (*model.Branch, error) {
	if branch == nil {
		return nil, fmt.Errorf("branch cannot be nil")
	}
	if branch.CreationTimestamp == 0 {
		branch.CreationTimestamp = time.Now().UnixMicro()
	}
	result, err := s.db.Exec(`
INSERT INTO branches (chat_id, parent_message_id, title, creation_timestamp)
VALUES (?, ?, ?, ?)`,
		branch.ChatID,
		branch.ParentMessageID,
		branch.Title,
		branch.CreationTimestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting into branches table: %w", err)
	}
	branch.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading last insert id: %w", err)
	}
	return branch, nil
}

// ListChatBranches returns a chat's branches.
func (s *Store) ListChatBranches(chatID int64) ([]*model.Branch, error) {
	rows, err := s.db.Query(`
SELECT id, chat_id, parent_message_id, title, creation_timestamp
FROM branches
WHERE chat_id = ?
ORDER BY id ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("querying branches: %w", err)
	}
	defer rows.Close()

	var branches []*model.Branch
	for rows.Next() {
		branch := &model.Branch{}
		if err := rows.Scan(&branch.ID, &branch.ChatID, &branch.ParentMessageID,
			&branch.Title, &branch.CreationTimestamp); err != nil {
			return nil, fmt.Errorf("scanning branch row: %w", err)
		}
		branches = append(branches, branch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating branch rows: %w", err)
	}
	return branches, nil
}
