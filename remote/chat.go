package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/malonaz/chatsync/model"
)

// chatRecord mirrors the remote chats table.
type chatRecord struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Title     string    `db:"title"`
	Model     string    `db:"model"`
	Settings  []byte    `db:"settings"`
	IsShared  bool      `db:"is_shared"`
	ShareID   *string   `db:"share_id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *chatRecord) toModel() (*model.Chat, error) {
	chat := &model.Chat{
		RemoteID:          r.ID,
		Title:             r.Title,
		Model:             r.Model,
		IsShared:          r.IsShared,
		CreationTimestamp: r.CreatedAt.UnixMicro(),
		UpdateTimestamp:   r.UpdatedAt.UnixMicro(),
		Synced:            true,
	}
	if r.ShareID != nil {
		chat.ShareID = *r.ShareID
	}
	if len(r.Settings) > 0 {
		if err := json.Unmarshal(r.Settings, &chat.Settings); err != nil {
			return nil, fmt.Errorf("unmarshaling settings: %w", err)
		}
	}
	return chat, nil
}

// InsertChat creates a remote chat and returns its canonical id.
func (s *Store) InsertChat(ctx context.Context, userRemoteID string, chat *model.Chat) (string, error) {
	settingsJSON, err := json.Marshal(chat.Settings)
	if err != nil {
		return "", fmt.Errorf("marshaling settings: %w", err)
	}

	var remoteID string
	err = s.pool.QueryRow(ctx, `
INSERT INTO chats (user_id, title, model, settings, is_shared)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`,
		userRemoteID, chat.Title, chat.Model, settingsJSON, chat.IsShared).Scan(&remoteID)
	if err != nil {
		return "", classify(err)
	}
	return remoteID, nil
}

// UpdateChat updates a remote chat by canonical id.
func (s *Store) UpdateChat(ctx context.Context, chat *model.Chat) error {
	settingsJSON, err := json.Marshal(chat.Settings)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
UPDATE chats
SET title = $2, model = $3, settings = $4, is_shared = $5, updated_at = now()
WHERE id = $1`,
		chat.RemoteID, chat.Title, chat.Model, settingsJSON, chat.IsShared)
	if err != nil {
		return classify(err)
	}
	return nil
}

// DeleteChat removes a remote chat by canonical id.
func (s *Store) DeleteChat(ctx context.Context, remoteID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1`, remoteID); err != nil {
		return classify(err)
	}
	return nil
}

// ListChats returns a user's remote chats, most recently updated first.
func (s *Store) ListChats(ctx context.Context, userRemoteID string) ([]*model.Chat, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, user_id, title, model, settings, is_shared, share_id, created_at, updated_at
FROM chats
WHERE user_id = $1
ORDER BY updated_at DESC`, userRemoteID)
	if err != nil {
		return nil, classify(err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByNameLax[chatRecord])
	if err != nil {
		return nil, classify(err)
	}

	chats := make([]*model.Chat, 0, len(records))
	for _, record := range records {
		chat, err := record.toModel()
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, nil
}
