package collab

import (
	"time"

	"contentcollab/backend/internal/ot"
)

// Collaborator 房间参与者。离开后仍保留在房间里（IsOnline=false），
// 用于 last-seen 展示，直到房间整体销毁。
type Collaborator struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	IsOnline       bool      `json:"isOnline"`
	LastSeen       time.Time `json:"lastSeen"`
	CurrentSection string    `json:"currentSection,omitempty"`
}

// Comment 只会被创建和 resolve，不会被删除。Resolved 单向 false→true。
type Comment struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	AuthorID  string    `json:"authorId"`
	Timestamp time.Time `json:"timestamp"`
	Section   string    `json:"section,omitempty"`
	Resolved  bool      `json:"resolved"`
}

// RoomState join 时返回给客户端的权威快照
type RoomState struct {
	Content  string         `json:"content"`
	Comments []Comment      `json:"comments"`
	Users    []Collaborator `json:"users"`
}

// ConflictSession 冲突检测到解决之间的临时状态，不落库。
// resolution 应用并广播之后即销毁。
type ConflictSession struct {
	LocalText   string         `json:"localContent"`
	RemoteText  string         `json:"remoteContent"`
	PendingOps  []ot.Operation `json:"operations"`
	DetectedAt  time.Time      `json:"-"`
	Participant string         `json:"-"`
}

// Applied 一次成功提交的结果，用于向房间内其他参与者转播。
type Applied struct {
	Content   string         `json:"content"`
	Ops       []ot.Operation `json:"operations"`
	UpdatedBy string         `json:"updatedBy"`
	Revision  uint64         `json:"-"`
	Timestamp time.Time      `json:"timestamp"`
}
