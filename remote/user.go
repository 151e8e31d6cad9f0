package remote

import (
	"context"

	"github.com/malonaz/chatsync/model"
)

// UpsertUser creates or refreshes a remote user record and returns its
// canonical id.
func (s *Store) UpsertUser(ctx context.Context, user *model.User) (string, error) {
	var remoteID string
	err := s.pool.QueryRow(ctx, `
INSERT INTO users (email, name, avatar_url)
VALUES ($1, $2, $3)
ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, avatar_url = EXCLUDED.avatar_url, updated_at = now()
RETURNING id`,
		user.Email, user.Name, user.AvatarURL).Scan(&remoteID)
	if err != nil {
		return "", classify(err)
	}
	return remoteID, nil
}
