package cache

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// 需要本地 redis，跑不起来就跳过
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = rdb.FlushDB(context.Background()).Err()
		_ = rdb.Close()
	})
	return rdb
}

func TestRedisPresence_Lifecycle(t *testing.T) {
	ctx := context.Background()
	p := NewRedisPresence(testRedis(t))

	if err := p.AddMember(ctx, "doc1", "u1", "Alice", time.Minute); err != nil {
		t.Fatalf("AddMember u1: %v", err)
	}
	if err := p.AddMember(ctx, "doc1", "u2", "Bob", time.Minute); err != nil {
		t.Fatalf("AddMember u2: %v", err)
	}
	if err := p.SetSection(ctx, "doc1", "u1", "intro", time.Minute); err != nil {
		t.Fatalf("SetSection: %v", err)
	}

	members, err := p.GetAliveMembersWithNames(ctx, "doc1")
	if err != nil {
		t.Fatalf("GetAliveMembersWithNames: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("members = %+v", members)
	}
	byID := make(map[string]PresenceMember, len(members))
	for _, m := range members {
		byID[m.UserID] = m
	}
	if byID["u1"].Username != "Alice" || byID["u1"].Section != "intro" {
		t.Fatalf("u1 = %+v", byID["u1"])
	}
	if byID["u2"].Username != "Bob" || byID["u2"].Section != "" {
		t.Fatalf("u2 = %+v", byID["u2"])
	}

	// 下线只摘心跳键，并记录 last-seen
	before := time.Now()
	if err := p.MarkOffline(ctx, "doc1", "u1", before); err != nil {
		t.Fatalf("MarkOffline: %v", err)
	}
	members, err = p.GetAliveMembersWithNames(ctx, "doc1")
	if err != nil {
		t.Fatalf("after offline: %v", err)
	}
	if len(members) != 1 || members[0].UserID != "u2" {
		t.Fatalf("members = %+v", members)
	}
	seen, err := p.GetLastSeen(ctx, "doc1", "u1")
	if err != nil {
		t.Fatalf("GetLastSeen: %v", err)
	}
	if !seen.Equal(before) {
		t.Fatalf("last seen = %v, want %v", seen, before)
	}

	docs, err := p.GetDocuments(ctx)
	if err != nil {
		t.Fatalf("GetDocuments: %v", err)
	}
	if len(docs) != 1 || docs[0] != "doc1" {
		t.Fatalf("docs = %v", docs)
	}

	if err := p.Clear(ctx, "doc1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	members, err = p.GetAliveMembersWithNames(ctx, "doc1")
	if err != nil {
		t.Fatalf("after clear: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("members after clear = %+v", members)
	}
	docs, err = p.GetDocuments(ctx)
	if err != nil {
		t.Fatalf("GetDocuments after clear: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("docs after clear = %v", docs)
	}
}

func TestRedisPresence_HeartbeatExpiry(t *testing.T) {
	ctx := context.Background()
	p := NewRedisPresence(testRedis(t))

	if err := p.AddMember(ctx, "doc2", "u1", "Alice", 100*time.Millisecond); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	members, err := p.GetAliveMembersWithNames(ctx, "doc2")
	if err != nil {
		t.Fatalf("GetAliveMembersWithNames: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expired member still alive: %+v", members)
	}
}
