package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ContentRecord 房间落地的内容记录。房间关闭时最终文本写回这里，
// 下一次 join 从这里起步。
type ContentRecord struct {
	ContentID   string    `gorm:"column:content_id;primaryKey"`
	ContentType string    `gorm:"column:content_type;primaryKey"`
	Body        string    `gorm:"column:body;type:longtext"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (ContentRecord) TableName() string { return "content_records" }

type ContentStore struct{ db *gorm.DB }

func NewContentStore(db *gorm.DB) *ContentStore {
	return &ContentStore{db: db}
}

// LoadContent 没有记录按空文档处理，协作可以从零开始。
func (s *ContentStore) LoadContent(ctx context.Context, contentID, contentType string) (string, error) {
	var rec ContentRecord
	err := s.db.WithContext(ctx).
		Where("content_id = ? AND content_type = ?", contentID, contentType).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return rec.Body, nil
}

func (s *ContentStore) SaveContent(ctx context.Context, contentID, contentType, body string) error {
	rec := ContentRecord{
		ContentID:   contentID,
		ContentType: contentType,
		Body:        body,
		UpdatedAt:   time.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "content_id"}, {Name: "content_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
		}).
		Create(&rec).Error
}
