package collab

import (
	"context"
	"errors"
	"sync"
	"testing"

	"contentcollab/backend/internal/ot"
)

// 内存假存储，记录每次读写供断言
type fakeStore struct {
	mu    sync.Mutex
	body  map[string]string
	loads int
	saves int
}

func newFakeStore() *fakeStore {
	return &fakeStore{body: make(map[string]string)}
}

func (f *fakeStore) LoadContent(_ context.Context, contentID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.body[contentID], nil
}

func (f *fakeStore) SaveContent(_ context.Context, contentID, _, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.body[contentID] = body
	return nil
}

type fakeSnapshots struct {
	mu   sync.Mutex
	rows int
}

func (f *fakeSnapshots) SaveRoomSnapshot(_ context.Context, _ string, _ uint64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows++
	return nil
}

func user(id, name string) Collaborator {
	return Collaborator{ID: id, Name: name, Email: id + "@example.com"}
}

func insertAt(id string, pos int, text string, ts int64, author string) ot.Operation {
	return ot.Operation{ID: id, Type: ot.OpInsert, Position: pos, Text: text, Timestamp: ts, AuthorID: author}
}

func TestService_JoinLoadsPersistedContent(t *testing.T) {
	store := newFakeStore()
	store.body["doc1"] = "persisted body"
	svc := NewInMemoryService(store, nil, nil)

	state, err := svc.Join(context.Background(), "doc1", "article", user("u1", "Alice"))
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if state.Content != "persisted body" {
		t.Fatalf("Content = %q", state.Content)
	}
	if len(state.Users) != 1 || !state.Users[0].IsOnline {
		t.Fatalf("Users = %+v", state.Users)
	}

	// 第二个人进来不再读库
	if _, err := svc.Join(context.Background(), "doc1", "article", user("u2", "Bob")); err != nil {
		t.Fatalf("second Join: %v", err)
	}
	if store.loads != 1 {
		t.Fatalf("loads = %d, want 1", store.loads)
	}
}

func TestService_JoinRequiresIdentity(t *testing.T) {
	svc := NewInMemoryService(newFakeStore(), nil, nil)
	if _, err := svc.Join(context.Background(), "doc1", "article", Collaborator{}); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("err = %v, want ErrNoIdentity", err)
	}
}

func TestService_LastLeaveFlushesOnce(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	snaps := &fakeSnapshots{}
	svc := NewInMemoryService(store, snaps, nil)

	if _, err := svc.Join(ctx, "doc1", "article", user("u1", "Alice")); err != nil {
		t.Fatalf("Join u1: %v", err)
	}
	if _, err := svc.Join(ctx, "doc1", "article", user("u2", "Bob")); err != nil {
		t.Fatalf("Join u2: %v", err)
	}

	if _, err := svc.SubmitChange(ctx, "doc1", "u1", "", "hi", []ot.Operation{
		insertAt("op1", 0, "hi", 1, "u1"),
	}, ""); err != nil {
		t.Fatalf("SubmitChange: %v", err)
	}

	left, emptied, err := svc.Leave(ctx, "doc1", "u1")
	if err != nil {
		t.Fatalf("Leave u1: %v", err)
	}
	if emptied || left.IsOnline {
		t.Fatalf("first leave: emptied=%v online=%v", emptied, left.IsOnline)
	}
	if store.saves != 0 {
		t.Fatalf("flushed before room emptied")
	}

	_, emptied, err = svc.Leave(ctx, "doc1", "u2")
	if err != nil {
		t.Fatalf("Leave u2: %v", err)
	}
	if !emptied {
		t.Fatalf("last leave must empty the room")
	}
	if store.saves != 1 || store.body["doc1"] != "hi" {
		t.Fatalf("saves = %d body = %q", store.saves, store.body["doc1"])
	}
	if snaps.rows != 1 {
		t.Fatalf("snapshot rows = %d", snaps.rows)
	}

	// 房间已销毁
	if _, _, err := svc.Leave(ctx, "doc1", "u2"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}

	// 再次 join 开新房间：从落地内容读入，不复用旧状态
	state, err := svc.Join(ctx, "doc1", "article", user("u3", "Carol"))
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if state.Content != "hi" {
		t.Fatalf("rejoin Content = %q", state.Content)
	}
	if len(state.Users) != 1 {
		t.Fatalf("rejoin Users = %+v", state.Users)
	}
}

// 最后一个人离开和新人加入赛跑：新人绝不能落在已 flush 的幽灵房间上，
// 加入成功后的提交必须可用
func TestService_JoinDuringTeardownLandsOnLiveRoom(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(newFakeStore(), nil, nil)

	for i := 0; i < 200; i++ {
		if _, err := svc.Join(ctx, "doc1", "article", user("u1", "Alice")); err != nil {
			t.Fatalf("iter %d: Join u1: %v", i, err)
		}

		var wg sync.WaitGroup
		var joinErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, _ = svc.Leave(ctx, "doc1", "u1")
		}()
		go func() {
			defer wg.Done()
			_, joinErr = svc.Join(ctx, "doc1", "article", user("u2", "Bob"))
		}()
		wg.Wait()

		if joinErr != nil {
			t.Fatalf("iter %d: Join u2: %v", i, joinErr)
		}
		// u2 加入成功就必须在活房间里
		if _, err := svc.SubmitChange(ctx, "doc1", "u2", "", "x", []ot.Operation{
			insertAt("op", 0, "x", int64(i), "u2"),
		}, ""); err != nil {
			t.Fatalf("iter %d: SubmitChange after join: %v", i, err)
		}
		if _, _, err := svc.Leave(ctx, "doc1", "u2"); err != nil {
			t.Fatalf("iter %d: Leave u2: %v", i, err)
		}
		if _, _, err := svc.Leave(ctx, "doc1", "u1"); err != nil && !errors.Is(err, ErrRoomNotFound) && !errors.Is(err, ErrNotParticipant) {
			t.Fatalf("iter %d: Leave u1 cleanup: %v", i, err)
		}
	}
}

func TestService_SubmitChangeAdvancesText(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(newFakeStore(), nil, nil)
	if _, err := svc.Join(ctx, "doc1", "article", user("u1", "Alice")); err != nil {
		t.Fatalf("Join: %v", err)
	}

	applied, err := svc.SubmitChange(ctx, "doc1", "u1", TextHash(""), "hello", []ot.Operation{
		insertAt("op1", 0, "hello", 1, "u1"),
	}, "intro")
	if err != nil {
		t.Fatalf("SubmitChange: %v", err)
	}
	if applied.Content != "hello" || applied.UpdatedBy != "u1" {
		t.Fatalf("applied = %+v", applied)
	}

	state, err := svc.Snapshot(ctx, "doc1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if state.Content != "hello" {
		t.Fatalf("Content = %q", state.Content)
	}
	if state.Users[0].CurrentSection != "intro" {
		t.Fatalf("CurrentSection = %q", state.Users[0].CurrentSection)
	}
}

func TestService_SubmitChangeRejectsNonParticipant(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(newFakeStore(), nil, nil)
	if _, err := svc.Join(ctx, "doc1", "article", user("u1", "Alice")); err != nil {
		t.Fatalf("Join: %v", err)
	}
	_, err := svc.SubmitChange(ctx, "doc1", "ghost", "", "x", []ot.Operation{
		insertAt("op1", 0, "x", 1, "ghost"),
	}, "")
	if !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}
}

func TestService_BaseHashMismatchRaisesConflict(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(newFakeStore(), nil, nil)
	for _, u := range []Collaborator{user("u1", "Alice"), user("u2", "Bob")} {
		if _, err := svc.Join(ctx, "doc1", "article", u); err != nil {
			t.Fatalf("Join %s: %v", u.ID, err)
		}
	}

	// u2 先推进权威文本
	if _, err := svc.SubmitChange(ctx, "doc1", "u2", TextHash(""), "bob wrote this", []ot.Operation{
		insertAt("op1", 0, "bob wrote this", 1, "u2"),
	}, ""); err != nil {
		t.Fatalf("u2 submit: %v", err)
	}

	// u1 基于过期的空文本提交
	pending := []ot.Operation{insertAt("op2", 0, "alice version", 2, "u1")}
	_, err := svc.SubmitChange(ctx, "doc1", "u1", TextHash(""), "alice version", pending, "")

	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *ConflictError", err)
	}
	if !errors.Is(err, ErrContentConflict) {
		t.Fatalf("ConflictError must wrap ErrContentConflict, got %v", err)
	}
	// 首次检测不是 pending
	if errors.Is(err, ErrConflictPending) {
		t.Fatalf("fresh conflict flagged as pending")
	}
	if ce.Session.LocalText != "alice version" || ce.Session.RemoteText != "bob wrote this" {
		t.Fatalf("session = %+v", ce.Session)
	}
	if len(ce.Session.PendingOps) != 1 {
		t.Fatalf("PendingOps = %+v", ce.Session.PendingOps)
	}

	// 冲突不推进权威文本
	state, _ := svc.Snapshot(ctx, "doc1")
	if state.Content != "bob wrote this" {
		t.Fatalf("conflict advanced authority: %q", state.Content)
	}
}

func TestService_ConflictFreezesUntilResolved(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(newFakeStore(), nil, nil)
	for _, u := range []Collaborator{user("u1", "Alice"), user("u2", "Bob")} {
		if _, err := svc.Join(ctx, "doc1", "article", u); err != nil {
			t.Fatalf("Join %s: %v", u.ID, err)
		}
	}
	if _, err := svc.SubmitChange(ctx, "doc1", "u2", "", "base", []ot.Operation{
		insertAt("op1", 0, "base", 1, "u2"),
	}, ""); err != nil {
		t.Fatalf("u2 submit: %v", err)
	}

	if _, err := svc.SubmitChange(ctx, "doc1", "u1", TextHash("stale"), "mine", []ot.Operation{
		insertAt("op2", 0, "mine", 2, "u1"),
	}, ""); !errors.Is(err, ErrContentConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}

	// 冻结中：即使带上正确哈希也被拒，且带 pending 标记
	_, err := svc.SubmitChange(ctx, "doc1", "u1", TextHash("base"), "base more", []ot.Operation{
		insertAt("op3", 4, " more", 3, "u1"),
	}, "")
	if !errors.Is(err, ErrContentConflict) {
		t.Fatalf("frozen submit: err = %v, want conflict", err)
	}
	if !errors.Is(err, ErrConflictPending) {
		t.Fatalf("frozen submit: err = %v, want ErrConflictPending", err)
	}

	// 解决后恢复
	applied, err := svc.ResolveConflict(ctx, "doc1", "u1", "merged text")
	if err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	if applied.Content != "merged text" {
		t.Fatalf("resolved content = %q", applied.Content)
	}

	if _, err := svc.SubmitChange(ctx, "doc1", "u1", TextHash("merged text"), "merged text!", []ot.Operation{
		insertAt("op4", 11, "!", 4, "u1"),
	}, ""); err != nil {
		t.Fatalf("post-resolve submit: %v", err)
	}
	state, _ := svc.Snapshot(ctx, "doc1")
	if state.Content != "merged text!" {
		t.Fatalf("Content = %q", state.Content)
	}
}

func TestService_InvalidBatchRejectedWhole(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(newFakeStore(), nil, nil)
	if _, err := svc.Join(ctx, "doc1", "article", user("u1", "Alice")); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := svc.SubmitChange(ctx, "doc1", "u1", "", "seed", []ot.Operation{
		insertAt("op1", 0, "seed", 1, "u1"),
	}, ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// 第二个操作越界：第一个也不能落地
	_, err := svc.SubmitChange(ctx, "doc1", "u1", "", "x", []ot.Operation{
		insertAt("op2", 0, "x", 2, "u1"),
		insertAt("op3", 99, "y", 3, "u1"),
	}, "")
	if !errors.Is(err, ot.ErrInvalidOperation) {
		t.Fatalf("err = %v, want ErrInvalidOperation", err)
	}
	state, _ := svc.Snapshot(ctx, "doc1")
	if state.Content != "seed" {
		t.Fatalf("partial batch applied: %q", state.Content)
	}
}

func TestService_Comments(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(newFakeStore(), nil, nil)
	if _, err := svc.Join(ctx, "doc1", "article", user("u1", "Alice")); err != nil {
		t.Fatalf("Join: %v", err)
	}

	c, err := svc.AddComment(ctx, "doc1", "u1", "  looks good  ", "intro")
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if c.Content != "looks good" || c.ID == "" || c.Resolved {
		t.Fatalf("comment = %+v", c)
	}

	if _, err := svc.AddComment(ctx, "doc1", "u1", "   ", ""); !errors.Is(err, ErrCommentEmpty) {
		t.Fatalf("err = %v, want ErrCommentEmpty", err)
	}
	if _, err := svc.AddComment(ctx, "doc1", "ghost", "hi", ""); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}

	resolved, changed, err := svc.ResolveComment(ctx, "doc1", c.ID)
	if err != nil || !changed || !resolved.Resolved {
		t.Fatalf("resolve: %+v changed=%v err=%v", resolved, changed, err)
	}
	// 幂等
	resolved, changed, err = svc.ResolveComment(ctx, "doc1", c.ID)
	if err != nil || changed || !resolved.Resolved {
		t.Fatalf("second resolve: changed=%v err=%v", changed, err)
	}
	if _, _, err := svc.ResolveComment(ctx, "doc1", "nope"); !errors.Is(err, ErrCommentGone) {
		t.Fatalf("err = %v, want ErrCommentGone", err)
	}
}

func TestService_Activity(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(newFakeStore(), nil, nil)
	if _, err := svc.Join(ctx, "doc1", "article", user("u1", "Alice")); err != nil {
		t.Fatalf("Join: %v", err)
	}

	p, err := svc.Activity(ctx, "doc1", "u1", "body", "typing")
	if err != nil {
		t.Fatalf("Activity: %v", err)
	}
	if p.CurrentSection != "body" {
		t.Fatalf("CurrentSection = %q", p.CurrentSection)
	}
	if _, err := svc.Activity(ctx, "doc1", "ghost", "", "typing"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}
}
