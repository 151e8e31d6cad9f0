package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/malonaz/chatsync/model"
)

// CreateUser inserts a user and assigns its local id.
func (s *Store) CreateUser(user *model.User) (*model.User, error) {
	if user == nil {
		return nil, fmt.Errorf("user cannot be nil")
	}
	if user.CreationTimestamp == 0 {
		user.CreationTimestamp = time.Now().UnixMicro()
	}
	result, err := s.db.Exec(`
INSERT INTO users (remote_id, email, name, avatar_url, creation_timestamp)
VALUES (?, ?, ?, ?, ?)`,
		user.RemoteID, user.Email, user.Name, user.AvatarURL, user.CreationTimestamp)
	if err != nil {
		return nil, fmt.Errorf("inserting into users table: %w", err)
	}
	user.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading last insert id: %w", err)
	}
	return user, nil
}

// GetUserByRemoteID returns the user linked to the given authenticated
// identity.
func (s *Store) GetUserByRemoteID(remoteID string) (*model.User, error) {
	row := s.db.QueryRow(`
SELECT id, remote_id, email, name, avatar_url, creation_timestamp
FROM users
WHERE remote_id = ?`, remoteID)
	user := &model.User{}
	err := row.Scan(&user.ID, &user.RemoteID, &user.Email, &user.Name, &user.AvatarURL, &user.CreationTimestamp)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return user, nil
}

// GetUserByEmail returns the user with the given email.
func (s *Store) GetUserByEmail(email string) (*model.User, error) {
	row := s.db.QueryRow(`
SELECT id, remote_id, email, name, avatar_url, creation_timestamp
FROM users
WHERE email = ?`, email)
	user := &model.User{}
	err := row.Scan(&user.ID, &user.RemoteID, &user.Email, &user.Name, &user.AvatarURL, &user.CreationTimestamp)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return user, nil
}

// GetOrCreateUser returns the user with the given email, creating it on
// first use.
func (s *Store) GetOrCreateUser(email string) (*model.User, error) {
	user, err := s.GetUserByEmail(email)
	if err == nil {
		return user, nil
	}
	if err != ErrNotFound {
		return nil, err
	}
	return s.CreateUser(&model.User{Email: email})
}

// LinkUser sets the remote identity on a local user record.
func (s *Store) LinkUser(userID int64, remoteID string) error {
	if _, err := s.db.Exec(`UPDATE users SET remote_id = ? WHERE id = ?`, remoteID, userID); err != nil {
		return fmt.Errorf("linking user: %w", err)
	}
	return nil
}
