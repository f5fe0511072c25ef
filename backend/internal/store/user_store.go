package store

import (
	"context"
	"database/sql"
)

type UserRecord struct {
	ID    string
	Name  string
	Email string
}

type UserStore struct{ db *sql.DB }

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) GetUser(ctx context.Context, userID string) (UserRecord, error) {
	var u UserRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email FROM users WHERE id = ?`,
		userID,
	).Scan(&u.ID, &u.Name, &u.Email)
	return u, err
}
