package client

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"contentcollab/backend/internal/collab"
	"contentcollab/backend/internal/ot"
	"contentcollab/backend/internal/ws"
)

const (
	// 本地编辑到操作提交的去抖窗口
	DefaultDebounce = 300 * time.Millisecond
	// 打字指示自动过期时间，与网络确认无关
	DefaultTypingTTL = 2 * time.Second

	// merge 结果：local + 分隔符 + remote，刻意用肉眼可见的拼接
	// 而不是自动三方合并
	mergeSeparator = "\n\n---\n\n"
)

var (
	ErrNoConflict = errors.New("no conflict to resolve")
	ErrNotJoined  = errors.New("not joined to a room")
)

type Resolution string

const (
	ResolutionLocal  Resolution = "local"
	ResolutionRemote Resolution = "remote"
	ResolutionMerge  Resolution = "merge"
)

// MergeTexts 冲突的 merge 选项。
func MergeTexts(local, remote string) string {
	return local + mergeSeparator + remote
}

// Transport Session 对连接的全部要求，*Socket 是线上实现。
type Transport interface {
	Send(msg ws.Message) error
	On(event string, h Handler)
}

// Callbacks UI 层挂进来的回调，全部可选。
type Callbacks struct {
	// 权威文本更新（join 快照、远端变更、冲突解决）
	OnText func(text string)
	// 本端进入冲突态，需要用户三选一
	OnConflict func(sess collab.ConflictSession)
	OnComment  func(c collab.Comment)
	OnResolved func(commentID string)
	OnJoined   func(u collab.Collaborator)
	OnLeft     func(u collab.Collaborator)
	OnState    func(state ws.RoomStateMessage)
	OnError    func(code, message string)
}

// Session 客户端协作会话：持有自己的 OT 引擎副本、去抖定时器和
// 冲突状态。本地应用一律视为临时结果，权威端的转播才是准绳。
type Session struct {
	sock Transport
	user collab.Collaborator
	cb   Callbacks

	debounceDelay time.Duration
	typingTTL     time.Duration

	mu          sync.Mutex
	contentID   string
	contentType string
	joined      bool
	engine      *ot.Engine
	// 最近一次与权威对齐的文本，下次提交的 baseHash 来源
	lastSynced  string
	pendingText string
	hasPending  bool
	debounce    *time.Timer
	section     string
	conflict    *collab.ConflictSession
	// userID -> 最近一次 typing 的时间
	typingSeen map[string]time.Time
	lastTyping time.Time
}

type SessionOption func(*Session)

func WithDebounce(d time.Duration) SessionOption {
	return func(s *Session) { s.debounceDelay = d }
}

func WithTypingTTL(d time.Duration) SessionOption {
	return func(s *Session) { s.typingTTL = d }
}

func NewSession(sock Transport, user collab.Collaborator, cb Callbacks, opts ...SessionOption) *Session {
	s := &Session{
		sock:          sock,
		user:          user,
		cb:            cb,
		debounceDelay: DefaultDebounce,
		typingTTL:     DefaultTypingTTL,
		engine:        ot.NewEngine(""),
		typingSeen:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.register()
	return s
}

func (s *Session) register() {
	s.sock.On(ws.EvtRoomState, s.onRoomState)
	s.sock.On(ws.EvtContentChange, s.onContentChange)
	s.sock.On(ws.EvtContentConflict, s.onContentConflict)
	s.sock.On(ws.EvtContentResolved, s.onContentResolved)
	s.sock.On(ws.EvtNewComment, s.onComment)
	s.sock.On(ws.EvtCommentResolved, s.onCommentResolved)
	s.sock.On(ws.EvtUserActivity, s.onActivity)
	s.sock.On(ws.EvtUserJoined, s.onUserJoined)
	s.sock.On(ws.EvtUserLeft, s.onUserLeft)
	s.sock.On(ws.EvtError, s.onError)
}

func (s *Session) JoinRoom(contentID, contentType string) error {
	s.mu.Lock()
	s.contentID = contentID
	s.contentType = contentType
	s.mu.Unlock()
	return s.sock.Send(ws.JoinRoomPayload{ContentID: contentID, ContentType: contentType})
}

// LeaveRoom 退出房间并取消所有待发的去抖提交，
// 离开之后不会再有半截操作发出去。
func (s *Session) LeaveRoom() error {
	s.mu.Lock()
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	s.hasPending = false
	s.joined = false
	s.conflict = nil
	s.mu.Unlock()
	return s.sock.Send(ws.LeaveRoomPayload{})
}

// Edit 每次内容变化都调用。去抖窗口内的连续按键合并成一个 diff，
// 新的调用会顶掉还没触发的旧定时器。
func (s *Session) Edit(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined || s.conflict != nil {
		// 冲突未解决时冻结出站编辑，本地文本先留着
		s.pendingText = text
		s.hasPending = s.joined
		return
	}
	s.pendingText = text
	s.hasPending = true
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.debounceDelay, s.flush)

	// 顺手发 typing 指示，typingTTL 内不重发。
	// section 要在锁内拷贝，goroutine 里不能再碰共享字段
	if time.Since(s.lastTyping) >= s.typingTTL {
		s.lastTyping = time.Now()
		section := s.section
		go func() {
			_ = s.sock.Send(ws.UserActivityPayload{Section: section, Activity: "typing"})
		}()
	}
}

// SetSection 光标所在小节变化时上报。
func (s *Session) SetSection(section string) error {
	s.mu.Lock()
	s.section = section
	s.mu.Unlock()
	return s.sock.Send(ws.UserActivityPayload{Section: section, Activity: "editing"})
}

func (s *Session) flush() {
	s.mu.Lock()
	if !s.joined || s.conflict != nil || !s.hasPending {
		s.mu.Unlock()
		return
	}
	base := s.lastSynced
	text := s.pendingText
	s.hasPending = false

	ops := Diff(base, text, s.user.ID, time.Now())
	if len(ops) == 0 {
		s.mu.Unlock()
		return
	}

	// 本地临时应用；权威端若有分歧，下一次提交会撞上哈希检查
	for _, op := range ops {
		if _, err := s.engine.Apply(op); err != nil {
			log.Warn().Err(err).Msg("local apply failed, resync from text")
			s.engine.Reset(text)
			break
		}
	}
	s.lastSynced = text
	section := s.section
	s.mu.Unlock()

	err := s.sock.Send(ws.ContentChangePayload{
		Content:    text,
		BaseHash:   collab.TextHash(base),
		Operations: ops,
		Section:    section,
	})
	if err != nil {
		log.Warn().Err(err).Msg("content change send failed")
	}
}

// Text 当前本地视图。
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Text()
}

// Conflicted 是否处于冲突待解决状态。
func (s *Session) Conflicted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conflict != nil
}

// TypingUsers 返回 typingTTL 内活跃过的参与者，指示器自然过期。
func (s *Session) TypingUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-s.typingTTL)
	var out []string
	for uid, seen := range s.typingSeen {
		if seen.After(cutoff) {
			out = append(out, uid)
		} else {
			delete(s.typingSeen, uid)
		}
	}
	return out
}

// Resolve 三选一解决当前冲突。实际的引擎 Reset 发生在
// content-resolved 广播回来时，所有副本同一份文本对齐。
func (s *Session) Resolve(r Resolution) error {
	s.mu.Lock()
	sess := s.conflict
	s.mu.Unlock()
	if sess == nil {
		return ErrNoConflict
	}

	var text string
	switch r {
	case ResolutionLocal:
		text = sess.LocalText
	case ResolutionRemote:
		text = sess.RemoteText
	case ResolutionMerge:
		text = MergeTexts(sess.LocalText, sess.RemoteText)
	default:
		return errors.New("unknown resolution")
	}
	return s.sock.Send(ws.ContentResolvedPayload{Content: text})
}

// AddComment 评论校验失败由服务端回 error 事件，草稿由 UI 层保留。
func (s *Session) AddComment(content, section string) error {
	s.mu.Lock()
	joined := s.joined
	s.mu.Unlock()
	if !joined {
		return ErrNotJoined
	}
	return s.sock.Send(ws.NewCommentPayload{Content: content, Section: section})
}

func (s *Session) ResolveComment(commentID string) error {
	return s.sock.Send(ws.CommentResolvedPayload{CommentID: commentID})
}

/////////////////////////////
/// 服务端事件处理
/////////////////////////////

func (s *Session) onRoomState(payload json.RawMessage) {
	var m ws.RoomStateMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return
	}
	s.mu.Lock()
	s.engine.Reset(m.Content)
	s.lastSynced = m.Content
	s.joined = true
	s.conflict = nil
	s.mu.Unlock()

	if s.cb.OnState != nil {
		s.cb.OnState(m)
	}
	if s.cb.OnText != nil {
		s.cb.OnText(m.Content)
	}
}

func (s *Session) onContentChange(payload json.RawMessage) {
	var m ws.ContentChangeMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return
	}
	s.mu.Lock()
	// 远端操作过自己的 OT 引擎重放；引擎报错说明本地已经脏了，
	// 直接采用权威文本
	ok := true
	for _, op := range m.Operations {
		if _, err := s.engine.Apply(op); err != nil {
			ok = false
			break
		}
	}
	if !ok || s.engine.Text() != m.Content {
		// 权威转播是准绳
		s.engine.Reset(m.Content)
	}
	s.lastSynced = s.engine.Text()
	text := s.lastSynced
	s.mu.Unlock()

	if s.cb.OnText != nil {
		s.cb.OnText(text)
	}
}

func (s *Session) onContentConflict(payload json.RawMessage) {
	var m ws.ContentConflictMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return
	}
	sess := collab.ConflictSession{
		LocalText:  m.LocalContent,
		RemoteText: m.RemoteContent,
		PendingOps: m.Operations,
	}
	s.mu.Lock()
	s.conflict = &sess
	// 冻结期间停掉待发的去抖提交
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	s.hasPending = false
	s.mu.Unlock()

	if s.cb.OnConflict != nil {
		s.cb.OnConflict(sess)
	}
}

func (s *Session) onContentResolved(payload json.RawMessage) {
	var m ws.ContentResolvedMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return
	}
	s.mu.Lock()
	s.engine.Reset(m.Content)
	s.lastSynced = m.Content
	s.conflict = nil
	s.mu.Unlock()

	if s.cb.OnText != nil {
		s.cb.OnText(m.Content)
	}
}

func (s *Session) onComment(payload json.RawMessage) {
	var m ws.CommentMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return
	}
	if s.cb.OnComment != nil {
		s.cb.OnComment(m.Comment)
	}
}

func (s *Session) onCommentResolved(payload json.RawMessage) {
	var m ws.CommentResolvedMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return
	}
	if s.cb.OnResolved != nil {
		s.cb.OnResolved(m.CommentID)
	}
}

func (s *Session) onActivity(payload json.RawMessage) {
	var m ws.UserActivityMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return
	}
	if m.Activity == "typing" {
		s.mu.Lock()
		s.typingSeen[m.UserID] = time.Now()
		s.mu.Unlock()
	}
}

func (s *Session) onUserJoined(payload json.RawMessage) {
	var m ws.UserJoinedMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return
	}
	if s.cb.OnJoined != nil {
		s.cb.OnJoined(m.Collaborator)
	}
}

func (s *Session) onUserLeft(payload json.RawMessage) {
	var m ws.UserLeftMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return
	}
	if s.cb.OnLeft != nil {
		s.cb.OnLeft(m.Collaborator)
	}
}

func (s *Session) onError(payload json.RawMessage) {
	var m ws.ErrorMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return
	}
	log.Warn().Str("code", m.Code).Str("message", m.Message).Msg("server error event")
	if s.cb.OnError != nil {
		s.cb.OnError(m.Code, m.Message)
	}
}
