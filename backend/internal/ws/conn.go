package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"contentcollab/backend/internal/collab"
)

const submitTimeout = 200 * time.Millisecond

// Conn 一条参与者连接。"已连接"和"已加入房间"是两回事：
// 连接建立后要先发 join-room 才算进房间。
type Conn struct {
	ws  *websocket.Conn
	hub *Hub
	svc collab.Service
	sem *collab.SemaphoreControl

	// 握手带进来的身份
	user collab.Collaborator

	// 当前所在房间，未加入时为空
	contentID    string
	heartbeatTTL time.Duration

	// 广播方快照到的连接可能在读循环退房之后才 Enqueue，
	// 关闭和入队必须互斥，否则往已关闭的 channel 发送会 panic
	sendMu sync.Mutex
	closed bool
	send   chan Message
}

func NewConn(ws *websocket.Conn, hub *Hub, svc collab.Service, sem *collab.SemaphoreControl, user collab.Collaborator, heartbeatTTL time.Duration) *Conn {
	return &Conn{
		ws:           ws,
		hub:          hub,
		svc:          svc,
		sem:          sem,
		user:         user,
		heartbeatTTL: heartbeatTTL,
		send:         make(chan Message, 32),
	}
}

// Enqueue 入队出站消息，队列满则丢弃（慢消费者不拖垮房间广播）。
// 连接已关闭时静默丢弃。
func (c *Conn) Enqueue(msg Message) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		log.Debug().Str("user_id", c.user.ID).Str("event", msg.EventType()).Msg("send queue full, drop")
	}
}

// closeSend 幂等关闭出站队列，写循环随之退出。
func (c *Conn) closeSend() {
	c.sendMu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.sendMu.Unlock()
}

func (c *Conn) writeLoop() {
	for msg := range c.send {
		b, err := Marshal(msg)
		if err != nil {
			log.Error().Err(err).Str("event", msg.EventType()).Msg("marshal outbound message")
			continue
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	defer func() {
		c.leaveRoom(ctx)
		c.closeSend()
	}()

	for {
		var env Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			log.Debug().Err(err).Str("user_id", c.user.ID).Str("content_id", c.contentID).Msg("read loop closed")
			return
		}
		msg, err := DecodePayload(env)
		if err != nil {
			c.Enqueue(ErrorMessage{Code: "BAD_EVENT", Message: err.Error()})
			continue
		}

		switch m := msg.(type) {
		case *JoinRoomPayload:
			c.handleJoin(ctx, m)
		case *LeaveRoomPayload:
			c.leaveRoom(ctx)
		case *HeartbeatPayload:
			c.handleHeartbeat(ctx)
		case *ContentChangePayload:
			c.handleContentChange(ctx, m)
		case *ContentResolvedPayload:
			c.handleContentResolved(ctx, m)
		case *NewCommentPayload:
			c.handleNewComment(ctx, m)
		case *CommentResolvedPayload:
			c.handleCommentResolved(ctx, m)
		case *UserActivityPayload:
			c.handleActivity(ctx, m)
		}
	}
}

func (c *Conn) handleJoin(ctx context.Context, m *JoinRoomPayload) {
	if m.ContentID == "" {
		c.Enqueue(ErrorMessage{Code: "BAD_EVENT", Message: "missing contentId"})
		return
	}
	// 换房间要先退出旧房间
	if c.contentID != "" && c.contentID != m.ContentID {
		c.leaveRoom(ctx)
	}

	state, err := c.svc.Join(ctx, m.ContentID, m.ContentType, c.user)
	if err != nil {
		c.Enqueue(ErrorMessage{Code: "JOIN_FAILED", Message: err.Error()})
		return
	}
	c.contentID = m.ContentID
	c.hub.Join(c.contentID, c)
	if err := c.hub.presence.AddMember(ctx, c.contentID, c.user.ID, c.user.Name, c.heartbeatTTL); err != nil {
		log.Warn().Err(err).Msg("presence add member")
	}

	c.Enqueue(RoomStateMessage{Content: state.Content, Comments: state.Comments, Users: state.Users})

	joined := c.user
	joined.IsOnline = true
	c.hub.BroadcastExcept(c.contentID, c, UserJoinedMessage{Collaborator: joined})
}

func (c *Conn) leaveRoom(ctx context.Context) {
	if c.contentID == "" {
		return
	}
	contentID := c.contentID
	c.contentID = ""

	c.hub.Leave(contentID, c)

	left, emptied, err := c.svc.Leave(ctx, contentID, c.user.ID)
	if err != nil {
		log.Warn().Err(err).Str("content_id", contentID).Str("user_id", c.user.ID).Msg("leave room")
		return
	}
	if emptied {
		if err := c.hub.presence.Clear(ctx, contentID); err != nil {
			log.Warn().Err(err).Msg("presence clear")
		}
		return
	}
	if err := c.hub.presence.MarkOffline(ctx, contentID, c.user.ID, left.LastSeen); err != nil {
		log.Warn().Err(err).Msg("presence mark offline")
	}
	c.hub.BroadcastAll(contentID, UserLeftMessage{Collaborator: *left})
}

func (c *Conn) handleHeartbeat(ctx context.Context) {
	if c.contentID == "" {
		return
	}
	if err := c.hub.presence.AddMember(ctx, c.contentID, c.user.ID, c.user.Name, c.heartbeatTTL); err != nil {
		log.Warn().Err(err).Msg("presence heartbeat")
	}
}

func (c *Conn) handleContentChange(ctx context.Context, m *ContentChangePayload) {
	if c.contentID == "" {
		c.Enqueue(ErrorMessage{Code: "NOT_IN_ROOM", Message: "join a room first"})
		return
	}

	submitCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()
	if err := c.sem.Acquire(submitCtx); err != nil {
		c.Enqueue(ErrorMessage{Code: "BUSY", Message: "server busy, retry"})
		return
	}
	defer func() { _ = c.sem.Release() }()

	applied, err := c.svc.SubmitChange(submitCtx, c.contentID, c.user.ID, m.BaseHash, m.Content, m.Operations, m.Section)
	if err != nil {
		var conflict *collab.ConflictError
		if errors.As(err, &conflict) {
			// 冲突只通知发起者，房间其他人不受影响
			c.Enqueue(ContentConflictMessage{
				LocalContent:  conflict.Session.LocalText,
				RemoteContent: conflict.Session.RemoteText,
				Operations:    conflict.Session.PendingOps,
			})
			return
		}
		c.Enqueue(ErrorMessage{Code: "SUBMIT_REJECTED", Message: err.Error()})
		return
	}

	// 不回发给发起者，避免回声
	c.hub.BroadcastExcept(c.contentID, c, ContentChangeMessage{
		Content:    applied.Content,
		UpdatedBy:  applied.UpdatedBy,
		Timestamp:  applied.Timestamp,
		Operations: applied.Ops,
	})
}

func (c *Conn) handleContentResolved(ctx context.Context, m *ContentResolvedPayload) {
	if c.contentID == "" {
		c.Enqueue(ErrorMessage{Code: "NOT_IN_ROOM", Message: "join a room first"})
		return
	}
	applied, err := c.svc.ResolveConflict(ctx, c.contentID, c.user.ID, m.Content)
	if err != nil {
		c.Enqueue(ErrorMessage{Code: "RESOLVE_FAILED", Message: err.Error()})
		return
	}
	// 解决结果广播给全员（含发起者），所有副本以此 Reset 对齐
	c.hub.BroadcastAll(c.contentID, ContentResolvedMessage{
		Content:    applied.Content,
		ResolvedBy: applied.UpdatedBy,
		Timestamp:  applied.Timestamp,
	})
}

func (c *Conn) handleNewComment(ctx context.Context, m *NewCommentPayload) {
	if c.contentID == "" {
		c.Enqueue(ErrorMessage{Code: "NOT_IN_ROOM", Message: "join a room first"})
		return
	}
	comment, err := c.svc.AddComment(ctx, c.contentID, c.user.ID, m.Content, m.Section)
	if err != nil {
		// 校验失败只报给发起者，客户端保留草稿
		c.Enqueue(ErrorMessage{Code: "COMMENT_REJECTED", Message: err.Error()})
		return
	}
	c.hub.BroadcastAll(c.contentID, CommentMessage{Comment: comment})
}

func (c *Conn) handleCommentResolved(ctx context.Context, m *CommentResolvedPayload) {
	if c.contentID == "" {
		return
	}
	_, changed, err := c.svc.ResolveComment(ctx, c.contentID, m.CommentID)
	if err != nil {
		c.Enqueue(ErrorMessage{Code: "RESOLVE_FAILED", Message: err.Error()})
		return
	}
	// 重复 resolve 不再广播
	if changed {
		c.hub.BroadcastAll(c.contentID, CommentResolvedMessage{CommentID: m.CommentID})
	}
}

func (c *Conn) handleActivity(ctx context.Context, m *UserActivityPayload) {
	if c.contentID == "" {
		return
	}
	if _, err := c.svc.Activity(ctx, c.contentID, c.user.ID, m.Section, m.Activity); err != nil {
		return
	}
	if m.Section != "" {
		if err := c.hub.presence.SetSection(ctx, c.contentID, c.user.ID, m.Section, c.heartbeatTTL); err != nil {
			log.Debug().Err(err).Msg("presence set section")
		}
	}
	c.hub.BroadcastExcept(c.contentID, c, UserActivityMessage{
		UserID:   c.user.ID,
		Section:  m.Section,
		Activity: m.Activity,
	})
}
