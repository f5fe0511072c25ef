package collab

import "errors"

var (
	ErrRoomNotFound    = errors.New("ROOM_NOT_FOUND")
	ErrNotParticipant  = errors.New("NOT_PARTICIPANT")
	ErrContentConflict = errors.New("CONTENT_CONFLICT")
	// 已有未解决冲突时继续提交会被拒绝
	ErrConflictPending = errors.New("CONFLICT_PENDING")
	ErrNoIdentity      = errors.New("UNAUTHENTICATED")

	ErrCommentEmpty   = errors.New("COMMENT_EMPTY")
	ErrCommentTooLong = errors.New("COMMENT_TOO_LONG")
	ErrCommentGone    = errors.New("COMMENT_NOT_FOUND")
)

// ConflictError 携带分歧双方的文本，路由进冲突解决状态机，
// 对房间而言不算硬错误。Pending 表示这是冻结期间的重复提交，
// 不是新检测到的分歧。
type ConflictError struct {
	Session *ConflictSession
	Pending bool
}

func (e *ConflictError) Error() string {
	if e.Pending {
		return ErrConflictPending.Error()
	}
	return ErrContentConflict.Error()
}

func (e *ConflictError) Unwrap() []error {
	if e.Pending {
		return []error{ErrContentConflict, ErrConflictPending}
	}
	return []error{ErrContentConflict}
}
