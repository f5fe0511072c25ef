package collab

import (
	"time"

	"contentcollab/backend/internal/ot"
)

// 房间生命周期和操作流事件，发往 Kafka 供下游（审计、分析）消费。
// 事件流是尽力而为的，不承诺每条必达。
const (
	EventRoomOpened       = "ROOM_OPENED"
	EventRoomClosed       = "ROOM_CLOSED"
	EventOpApplied        = "OP_APPLIED"
	EventConflictDetected = "CONFLICT_DETECTED"
	EventConflictResolved = "CONFLICT_RESOLVED"
	EventCommentAdded     = "COMMENT_ADDED"
	EventCommentResolved  = "COMMENT_RESOLVED"
)

type RoomEvent struct {
	EventType   string         `json:"eventType"`
	ContentID   string         `json:"contentId"`
	ContentType string         `json:"contentType,omitempty"`
	AuthorID    string         `json:"authorId,omitempty"`
	CommentID   string         `json:"commentId,omitempty"`
	Revision    uint64         `json:"revision,omitempty"`
	Ops         []ot.Operation `json:"operations,omitempty"`
	OccurredAt  time.Time      `json:"occurredAt"`
}
