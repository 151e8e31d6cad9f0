package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/malonaz/chatsync/model"
)

// messageRecord mirrors the remote messages table. Attachments travel as an
// embedded json column rather than a joined table.
type messageRecord struct {
	ID          string    `db:"id"`
	ChatID      string    `db:"chat_id"`
	Content     string    `db:"content"`
	Role        string    `db:"role"`
	Model       *string   `db:"model"`
	ParentID    *string   `db:"parent_id"`
	BranchID    *string   `db:"branch_id"`
	Tokens      *int      `db:"tokens"`
	Cost        *float64  `db:"cost"`
	Attachments []byte    `db:"attachments"`
	Error       bool      `db:"error"`
	Streaming   bool      `db:"streaming"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r *messageRecord) toModel() (*model.Message, error) {
	message := &model.Message{
		RemoteID:          r.ID,
		Content:           r.Content,
		Role:              r.Role,
		Error:             r.Error,
		Streaming:         r.Streaming,
		CreationTimestamp: r.CreatedAt.UnixMicro(),
		Synced:            true,
	}
	if r.Model != nil {
		message.Model = *r.Model
	}
	if r.Tokens != nil {
		message.Tokens = *r.Tokens
	}
	if r.Cost != nil {
		message.Cost = *r.Cost
	}
	if len(r.Attachments) > 0 {
		if err := json.Unmarshal(r.Attachments, &message.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshaling attachments: %w", err)
		}
	}
	return message, nil
}

// InsertMessage creates a remote message under the chat's canonical id and
// returns the message's canonical id.
func (s *Store) InsertMessage(ctx context.Context, chatRemoteID string, message *model.Message) (string, error) {
	attachmentsJSON, err := json.Marshal(message.Attachments)
	if err != nil {
		return "", fmt.Errorf("marshaling attachments: %w", err)
	}

	var remoteID string
	err = s.pool.QueryRow(ctx, `
INSERT INTO messages (chat_id, content, role, model, tokens, cost, attachments, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`,
		chatRemoteID, message.Content, message.Role, message.Model,
		message.Tokens, message.Cost, attachmentsJSON, message.Error).Scan(&remoteID)
	if err != nil {
		return "", classify(err)
	}
	return remoteID, nil
}

// UpdateMessage updates a remote message by canonical id.
func (s *Store) UpdateMessage(ctx context.Context, message *model.Message) error {
	_, err := s.pool.Exec(ctx, `
UPDATE messages
SET content = $2, tokens = $3, cost = $4, error = $5
WHERE id = $1`,
		message.RemoteID, message.Content, message.Tokens, message.Cost, message.Error)
	if err != nil {
		return classify(err)
	}
	return nil
}

// ListMessages returns a chat's remote messages in creation order.
func (s *Store) ListMessages(ctx context.Context, chatRemoteID string) ([]*model.Message, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, chat_id, content, role, model, parent_id, branch_id, tokens, cost, attachments, error, streaming, created_at
FROM messages
WHERE chat_id = $1
ORDER BY created_at ASC`, chatRemoteID)
	if err != nil {
		return nil, classify(err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByNameLax[messageRecord])
	if err != nil {
		return nil, classify(err)
	}

	messages := make([]*model.Message, 0, len(records))
	for _, record := range records {
		message, err := record.toModel()
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}
