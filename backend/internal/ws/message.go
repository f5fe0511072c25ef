package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"contentcollab/backend/internal/collab"
	"contentcollab/backend/internal/ot"
)

// 协议事件名是封闭集合，边界处按名字解码成各自的 payload 结构，
// 未知类型直接拒绝，不会有 any 类型的 payload 流进房间权威。
const (
	EvtJoinRoom        = "join-room"
	EvtLeaveRoom       = "leave-room"
	EvtHeartbeat       = "heartbeat"
	EvtRoomState       = "room-state"
	EvtContentChange   = "content-change"
	EvtContentConflict = "content-conflict"
	EvtContentResolved = "content-resolved"
	EvtNewComment      = "new-comment"
	EvtCommentResolved = "comment-resolved"
	EvtUserActivity    = "user-activity"
	EvtUserJoined      = "user-joined"
	EvtUserLeft        = "user-left"
	EvtError           = "error"
)

type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message 双向协议消息的公共接口
type Message interface {
	EventType() string
}

/////////////////////////////
/// 客户端 → 服务端
/////////////////////////////

type JoinRoomPayload struct {
	ContentID   string `json:"contentId"`
	ContentType string `json:"contentType"`
}

type LeaveRoomPayload struct{}

type HeartbeatPayload struct{}

type ContentChangePayload struct {
	Content string `json:"content"`
	// 编辑前文本的 SHA-1，权威端用它做分歧检测
	BaseHash   string         `json:"baseHash,omitempty"`
	Operations []ot.Operation `json:"operations"`
	Section    string         `json:"section,omitempty"`
}

type ContentResolvedPayload struct {
	Content string `json:"content"`
}

type NewCommentPayload struct {
	Content string `json:"content"`
	Section string `json:"section,omitempty"`
}

type CommentResolvedPayload struct {
	CommentID string `json:"commentId"`
}

type UserActivityPayload struct {
	Section  string `json:"section,omitempty"`
	Activity string `json:"activity,omitempty"`
}

func (JoinRoomPayload) EventType() string        { return EvtJoinRoom }
func (LeaveRoomPayload) EventType() string       { return EvtLeaveRoom }
func (HeartbeatPayload) EventType() string       { return EvtHeartbeat }
func (ContentChangePayload) EventType() string   { return EvtContentChange }
func (ContentResolvedPayload) EventType() string { return EvtContentResolved }
func (NewCommentPayload) EventType() string      { return EvtNewComment }
func (CommentResolvedPayload) EventType() string { return EvtCommentResolved }
func (UserActivityPayload) EventType() string    { return EvtUserActivity }

/////////////////////////////
/// 服务端 → 客户端
/////////////////////////////

type RoomStateMessage struct {
	Content  string                `json:"content"`
	Comments []collab.Comment      `json:"comments"`
	Users    []collab.Collaborator `json:"users"`
}

type ContentChangeMessage struct {
	Content    string         `json:"content"`
	UpdatedBy  string         `json:"updatedBy"`
	Timestamp  time.Time      `json:"timestamp"`
	Operations []ot.Operation `json:"operations"`
}

type ContentConflictMessage struct {
	LocalContent  string         `json:"localContent"`
	RemoteContent string         `json:"remoteContent"`
	Operations    []ot.Operation `json:"operations"`
}

type ContentResolvedMessage struct {
	Content    string    `json:"content"`
	ResolvedBy string    `json:"resolvedBy"`
	Timestamp  time.Time `json:"timestamp"`
}

type CommentMessage struct {
	collab.Comment
}

type CommentResolvedMessage struct {
	CommentID string `json:"commentId"`
}

type UserJoinedMessage struct {
	collab.Collaborator
}

type UserLeftMessage struct {
	collab.Collaborator
}

type UserActivityMessage struct {
	UserID   string `json:"userId"`
	Section  string `json:"section,omitempty"`
	Activity string `json:"activity,omitempty"`
}

type ErrorMessage struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (RoomStateMessage) EventType() string       { return EvtRoomState }
func (ContentChangeMessage) EventType() string   { return EvtContentChange }
func (ContentConflictMessage) EventType() string { return EvtContentConflict }
func (ContentResolvedMessage) EventType() string { return EvtContentResolved }
func (CommentMessage) EventType() string         { return EvtNewComment }
func (CommentResolvedMessage) EventType() string { return EvtCommentResolved }
func (UserJoinedMessage) EventType() string      { return EvtUserJoined }
func (UserLeftMessage) EventType() string        { return EvtUserLeft }
func (UserActivityMessage) EventType() string    { return EvtUserActivity }
func (ErrorMessage) EventType() string           { return EvtError }

// Marshal 把消息包进 {type, payload} 信封
func Marshal(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msg.EventType(), Payload: payload})
}

// DecodePayload 按信封类型解码 payload，类型不在集合内时报错。
func DecodePayload(env Envelope) (Message, error) {
	var msg Message
	switch env.Type {
	case EvtJoinRoom:
		msg = &JoinRoomPayload{}
	case EvtLeaveRoom:
		return &LeaveRoomPayload{}, nil
	case EvtHeartbeat:
		return &HeartbeatPayload{}, nil
	case EvtContentChange:
		msg = &ContentChangePayload{}
	case EvtContentResolved:
		msg = &ContentResolvedPayload{}
	case EvtNewComment:
		msg = &NewCommentPayload{}
	case EvtCommentResolved:
		msg = &CommentResolvedPayload{}
	case EvtUserActivity:
		msg = &UserActivityPayload{}
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, msg); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
	}
	return msg, nil
}
