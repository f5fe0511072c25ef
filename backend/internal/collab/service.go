package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"contentcollab/backend/internal/ot"
)

// 协作引擎接口：每个 contentID 对应一个房间，房间是该内容实时文本的
// 唯一权威。所有修改都走这里，别的组件不直接碰房间状态。
type Service interface {
	Join(ctx context.Context, contentID, contentType string, user Collaborator) (RoomState, error)
	Leave(ctx context.Context, contentID, userID string) (left *Collaborator, emptied bool, err error)

	// SubmitChange 校验 baseHash 后把操作批次喂给 OT 引擎。
	// 哈希不匹配时返回 *ConflictError（冲突不推进权威文本）。
	SubmitChange(ctx context.Context, contentID, authorID, baseHash, content string,
		ops []ot.Operation, section string) (Applied, error)

	// ResolveConflict 应用用户选择的解决文本并重置引擎。
	ResolveConflict(ctx context.Context, contentID, userID, content string) (Applied, error)

	Activity(ctx context.Context, contentID, userID, section, activity string) (*Collaborator, error)

	AddComment(ctx context.Context, contentID, authorID, content, section string) (Comment, error)
	// ResolveComment 幂等：重复 resolve 返回 changed=false，不产生事件。
	ResolveComment(ctx context.Context, contentID, commentID string) (comment Comment, changed bool, err error)

	Snapshot(ctx context.Context, contentID string) (RoomState, error)
}

// ContentStore 房间落地接口：首个参与者 join 时读入，最后一个离开时写回。
type ContentStore interface {
	LoadContent(ctx context.Context, contentID, contentType string) (string, error)
	SaveContent(ctx context.Context, contentID, contentType, body string) error
}

// SnapshotStore 追加式快照历史，房间关闭时各记一行。
type SnapshotStore interface {
	SaveRoomSnapshot(ctx context.Context, contentID string, revision uint64, body string) error
}

// 单个房间的全部可变状态。锁粒度是房间：同房间操作串行，
// 不同房间并发互不影响。
type roomState struct {
	mu          sync.Mutex
	contentID   string
	contentType string
	engine      *ot.Engine
	participant map[string]*Collaborator
	comments    []Comment
	// userID -> 未解决的冲突会话
	conflicts map[string]*ConflictSession
	revision  uint64
	flushed   bool
}

func (r *roomState) onlineCount() int {
	n := 0
	for _, p := range r.participant {
		if p.IsOnline {
			n++
		}
	}
	return n
}

func (r *roomState) snapshotLocked() RoomState {
	users := make([]Collaborator, 0, len(r.participant))
	for _, p := range r.participant {
		users = append(users, *p)
	}
	comments := make([]Comment, len(r.comments))
	copy(comments, r.comments)
	return RoomState{Content: r.engine.Text(), Comments: comments, Users: users}
}

// InMemoryService 内存实现：持有所有在线房间的状态
type InMemoryService struct {
	mu    sync.RWMutex
	rooms map[string]*roomState

	store     ContentStore
	snapshots SnapshotStore
	events    *KafkaDispatcher
}

func NewInMemoryService(store ContentStore, snapshots SnapshotStore, events *KafkaDispatcher) *InMemoryService {
	return &InMemoryService{
		rooms:     make(map[string]*roomState),
		store:     store,
		snapshots: snapshots,
		events:    events,
	}
}

func (s *InMemoryService) room(contentID string) (*roomState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.rooms[contentID]
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, contentID)
	}
	return r, nil
}

func (s *InMemoryService) Join(ctx context.Context, contentID, contentType string, user Collaborator) (RoomState, error) {
	if user.ID == "" {
		return RoomState{}, ErrNoIdentity
	}

	for {
		s.mu.Lock()
		r := s.rooms[contentID]
		created := false
		if r == nil {
			r = &roomState{
				contentID:   contentID,
				contentType: contentType,
				participant: make(map[string]*Collaborator),
				conflicts:   make(map[string]*ConflictSession),
			}
			s.rooms[contentID] = r
			created = true
		}
		s.mu.Unlock()

		r.mu.Lock()
		// 等 r.mu 的间隙里最后一个参与者可能已经 flush 并摘除了房间，
		// 加入已销毁的房间等于加入幽灵房，换一个新房间重来
		if r.flushed {
			r.mu.Unlock()
			continue
		}

		if created {
			// 新房间从持久化内容起步，绝不复用已销毁房间的旧状态
			body := ""
			if s.store != nil {
				loaded, err := s.store.LoadContent(ctx, contentID, contentType)
				if err != nil {
					// 标记 flushed 让并发 Join 不会落在这个半成品上
					r.flushed = true
					r.mu.Unlock()
					s.dropRoom(contentID)
					return RoomState{}, fmt.Errorf("load content %s: %w", contentID, err)
				}
				body = loaded
			}
			r.engine = ot.NewEngine(body)
			s.emit(ctx, RoomEvent{EventType: EventRoomOpened, ContentID: contentID, ContentType: contentType})
		}

		now := time.Now()
		user.IsOnline = true
		user.LastSeen = now
		r.participant[user.ID] = &user
		state := r.snapshotLocked()
		r.mu.Unlock()

		log.Info().Str("content_id", contentID).Str("user_id", user.ID).Msg("participant joined")
		return state, nil
	}
}

func (s *InMemoryService) Leave(ctx context.Context, contentID, userID string) (*Collaborator, bool, error) {
	r, err := s.room(contentID)
	if err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	p := r.participant[userID]
	if p == nil {
		r.mu.Unlock()
		return nil, false, fmt.Errorf("%w: %s", ErrNotParticipant, userID)
	}
	p.IsOnline = false
	p.LastSeen = time.Now()
	// 离开即放弃未解决的冲突会话
	delete(r.conflicts, userID)
	left := *p

	emptied := r.onlineCount() == 0
	if !emptied {
		r.mu.Unlock()
		return &left, false, nil
	}

	// 最后一个人走了：先从表里摘掉房间，再落地，保证 flush 只发生一次，
	// 且后续 join 一定开新房间。
	s.dropRoom(contentID)
	err = s.flushLocked(ctx, r)
	r.mu.Unlock()
	if err != nil {
		return &left, true, err
	}
	return &left, true, nil
}

func (s *InMemoryService) dropRoom(contentID string) {
	s.mu.Lock()
	delete(s.rooms, contentID)
	s.mu.Unlock()
}

func (s *InMemoryService) flushLocked(ctx context.Context, r *roomState) error {
	if r.flushed {
		return nil
	}
	r.flushed = true

	body := r.engine.Text()
	if s.store != nil {
		if err := s.store.SaveContent(ctx, r.contentID, r.contentType, body); err != nil {
			return fmt.Errorf("flush room %s: %w", r.contentID, err)
		}
	}
	if s.snapshots != nil {
		if err := s.snapshots.SaveRoomSnapshot(ctx, r.contentID, r.revision, body); err != nil {
			// 快照历史是附加记录，失败只记日志
			log.Warn().Err(err).Str("content_id", r.contentID).Msg("room snapshot failed")
		}
	}
	s.emit(ctx, RoomEvent{
		EventType:   EventRoomClosed,
		ContentID:   r.contentID,
		ContentType: r.contentType,
		Revision:    r.revision,
	})
	log.Info().Str("content_id", r.contentID).Uint64("revision", r.revision).Msg("room flushed")
	return nil
}

func (s *InMemoryService) SubmitChange(ctx context.Context, contentID, authorID, baseHash, content string, ops []ot.Operation, section string) (Applied, error) {
	r, err := s.room(contentID)
	if err != nil {
		return Applied{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.participant[authorID]
	if p == nil || !p.IsOnline {
		return Applied{}, fmt.Errorf("%w: %s", ErrNotParticipant, authorID)
	}
	if sess := r.conflicts[authorID]; sess != nil {
		// 冲突未解决前冻结该参与者的提交
		return Applied{}, &ConflictError{Session: sess, Pending: true}
	}

	authoritative := r.engine.Text()
	if baseHash != "" && baseHash != TextHash(authoritative) {
		sess := &ConflictSession{
			LocalText:   content,
			RemoteText:  authoritative,
			PendingOps:  ops,
			DetectedAt:  time.Now(),
			Participant: authorID,
		}
		r.conflicts[authorID] = sess
		s.emit(ctx, RoomEvent{
			EventType: EventConflictDetected,
			ContentID: contentID,
			AuthorID:  authorID,
			Revision:  r.revision,
		})
		log.Warn().Str("content_id", contentID).Str("user_id", authorID).Msg("content conflict detected")
		return Applied{}, &ConflictError{Session: sess}
	}

	// 先在副本上试算整批操作，任何一个非法就整批拒绝
	trial := r.engine.Clone()
	text := authoritative
	for _, op := range ops {
		if text, err = trial.Apply(op); err != nil {
			return Applied{}, err
		}
	}
	*r.engine = *trial

	r.revision++
	now := time.Now()
	p.LastSeen = now
	if section != "" {
		p.CurrentSection = section
	}

	applied := Applied{
		Content:   text,
		Ops:       ops,
		UpdatedBy: authorID,
		Revision:  r.revision,
		Timestamp: now,
	}
	s.emit(ctx, RoomEvent{
		EventType: EventOpApplied,
		ContentID: contentID,
		AuthorID:  authorID,
		Revision:  r.revision,
		Ops:       ops,
	})
	return applied, nil
}

func (s *InMemoryService) ResolveConflict(ctx context.Context, contentID, userID, content string) (Applied, error) {
	r, err := s.room(contentID)
	if err != nil {
		return Applied{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p := r.participant[userID]; p == nil {
		return Applied{}, fmt.Errorf("%w: %s", ErrNotParticipant, userID)
	}
	// 解决文本成为新的权威种子，历史清空，所有副本随广播 Reset 对齐
	r.engine.Reset(content)
	delete(r.conflicts, userID)
	r.revision++

	s.emit(ctx, RoomEvent{
		EventType: EventConflictResolved,
		ContentID: contentID,
		AuthorID:  userID,
		Revision:  r.revision,
	})
	log.Info().Str("content_id", contentID).Str("user_id", userID).Msg("conflict resolved")
	return Applied{
		Content:   content,
		UpdatedBy: userID,
		Revision:  r.revision,
		Timestamp: time.Now(),
	}, nil
}

func (s *InMemoryService) Activity(ctx context.Context, contentID, userID, section, activity string) (*Collaborator, error) {
	r, err := s.room(contentID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.participant[userID]
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotParticipant, userID)
	}
	p.LastSeen = time.Now()
	if section != "" {
		p.CurrentSection = section
	}
	out := *p
	return &out, nil
}

func (s *InMemoryService) AddComment(ctx context.Context, contentID, authorID, content, section string) (Comment, error) {
	r, err := s.room(contentID)
	if err != nil {
		return Comment{}, err
	}

	clean, err := ValidateComment(content)
	if err != nil {
		return Comment{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p := r.participant[authorID]; p == nil {
		return Comment{}, fmt.Errorf("%w: %s", ErrNotParticipant, authorID)
	}

	c := Comment{
		ID:        uuid.NewString(),
		Content:   clean,
		AuthorID:  authorID,
		Timestamp: time.Now(),
		Section:   section,
	}
	r.comments = append(r.comments, c)
	s.emit(ctx, RoomEvent{
		EventType: EventCommentAdded,
		ContentID: contentID,
		AuthorID:  authorID,
		CommentID: c.ID,
	})
	return c, nil
}

func (s *InMemoryService) ResolveComment(ctx context.Context, contentID, commentID string) (Comment, bool, error) {
	r, err := s.room(contentID)
	if err != nil {
		return Comment{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.comments {
		if r.comments[i].ID != commentID {
			continue
		}
		if r.comments[i].Resolved {
			// 幂等：已 resolved 的评论保持原样
			return r.comments[i], false, nil
		}
		r.comments[i].Resolved = true
		s.emit(ctx, RoomEvent{
			EventType: EventCommentResolved,
			ContentID: contentID,
			CommentID: commentID,
		})
		return r.comments[i], true, nil
	}
	return Comment{}, false, fmt.Errorf("%w: %s", ErrCommentGone, commentID)
}

func (s *InMemoryService) Snapshot(ctx context.Context, contentID string) (RoomState, error) {
	r, err := s.room(contentID)
	if err != nil {
		return RoomState{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(), nil
}

func (s *InMemoryService) emit(ctx context.Context, evt RoomEvent) {
	if s.events == nil {
		return
	}
	evt.OccurredAt = time.Now()
	if err := s.events.Enqueue(ctx, evt); err != nil && !errors.Is(err, context.Canceled) {
		log.Debug().Err(err).Str("event", evt.EventType).Msg("event dropped")
	}
}
