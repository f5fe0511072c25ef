package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

// SnapshotStore 追加式快照历史，一个房间关闭记一行。
type SnapshotStore struct{ db *sql.DB }

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) SaveRoomSnapshot(ctx context.Context, contentID string, revision uint64, body string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO room_snapshots (content_id, revision, body)
		VALUES (?, ?, ?)`,
		contentID,
		revision,
		body,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		// 同一 (content_id, revision) 重复落地视为已完成
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil
		}
		return err
	}
	return nil
}
