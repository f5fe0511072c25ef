package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type PresenceMember struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Section  string `json:"section,omitempty"`
}

// PresenceCache 房间在线状态的跨实例视图。权威房间自己在内存里
// 记参与者，这里只负责心跳 TTL、名字表和 last-seen 的共享存储。
type PresenceCache interface {
	AddMember(ctx context.Context, contentID, userID, username string, ttl time.Duration) error
	MarkOffline(ctx context.Context, contentID, userID string, lastSeen time.Time) error
	GetAliveMembersWithNames(ctx context.Context, contentID string) ([]PresenceMember, error)
	GetLastSeen(ctx context.Context, contentID, userID string) (time.Time, error)
	SetSection(ctx context.Context, contentID, userID, section string, ttl time.Duration) error
	GetDocuments(ctx context.Context) ([]string, error)
	// Clear 房间销毁时清掉全部键
	Clear(ctx context.Context, contentID string) error
}

// 基于 redis 的实现
type redisPresence struct {
	rdb redis.Cmdable
}

func NewRedisPresence(rdb redis.Cmdable) PresenceCache {
	return &redisPresence{rdb: rdb}
}

func (p *redisPresence) AddMember(ctx context.Context, contentID, userID, username string, ttl time.Duration) error {
	pipe := p.rdb.Pipeline()
	// 房间成员集合
	pipe.SAdd(ctx, roomKey(contentID), userID)
	// 心跳键
	pipe.Set(ctx, memberKey(contentID, userID), "1", ttl)
	// 名字表（哈希）
	pipe.HSet(ctx, namesKey(contentID), userID, username)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *redisPresence) MarkOffline(ctx context.Context, contentID, userID string, lastSeen time.Time) error {
	pipe := p.rdb.Pipeline()
	pipe.Del(ctx, memberKey(contentID, userID))
	pipe.Del(ctx, sectionKey(contentID, userID))
	// 成员保留在集合里用于 last-seen 展示，只摘心跳键
	pipe.HSet(ctx, lastSeenKey(contentID), userID, lastSeen.Format(time.RFC3339Nano))
	_, err := pipe.Exec(ctx)
	return err
}

func (p *redisPresence) GetLastSeen(ctx context.Context, contentID, userID string) (time.Time, error) {
	v, err := p.rdb.HGet(ctx, lastSeenKey(contentID), userID).Result()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, v)
}

func (p *redisPresence) SetSection(ctx context.Context, contentID, userID, section string, ttl time.Duration) error {
	return p.rdb.Set(ctx, sectionKey(contentID, userID), section, ttl).Err()
}

func (p *redisPresence) GetDocuments(ctx context.Context) ([]string, error) {
	var out []string
	iter := p.rdb.Scan(ctx, 0, "presence:room:*", 0).Iterator()
	const prefix = "presence:room:"
	for iter.Next(ctx) {
		key := iter.Val()
		// names 哈希和 room 集合共享前缀，跳过 names 键
		if strings.HasPrefix(key, prefix+"names:") {
			continue
		}
		out = append(out, strings.TrimPrefix(key, prefix))
	}
	return out, iter.Err()
}

func (p *redisPresence) GetAliveMembersWithNames(ctx context.Context, contentID string) ([]PresenceMember, error) {
	// step1: 取候选成员
	userIDs, err := p.rdb.SMembers(ctx, roomKey(contentID)).Result()
	if err != nil {
		return nil, err
	}
	if len(userIDs) == 0 {
		return nil, nil
	}

	// step2: 心跳键还在的才算在线
	pipe := p.rdb.Pipeline()
	existsCmds := make([]*redis.IntCmd, 0, len(userIDs))
	sectionCmds := make([]*redis.StringCmd, 0, len(userIDs))
	for _, uid := range userIDs {
		existsCmds = append(existsCmds, pipe.Exists(ctx, memberKey(contentID, uid)))
		sectionCmds = append(sectionCmds, pipe.Get(ctx, sectionKey(contentID, uid)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	aliveIDs := make([]string, 0, len(userIDs))
	aliveSections := make([]string, 0, len(userIDs))
	for i, cmd := range existsCmds {
		if cmd.Val() == 1 {
			aliveIDs = append(aliveIDs, userIDs[i])
			aliveSections = append(aliveSections, sectionCmds[i].Val())
		}
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}

	// step3: 补名字
	names, err := p.rdb.HMGet(ctx, namesKey(contentID), aliveIDs...).Result()
	if err != nil {
		return nil, err
	}
	members := make([]PresenceMember, 0, len(aliveIDs))
	for i, v := range names {
		name := ""
		if v != nil {
			name, _ = v.(string)
		}
		members = append(members, PresenceMember{UserID: aliveIDs[i], Username: name, Section: aliveSections[i]})
	}
	return members, nil
}

func (p *redisPresence) Clear(ctx context.Context, contentID string) error {
	userIDs, err := p.rdb.SMembers(ctx, roomKey(contentID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	pipe := p.rdb.Pipeline()
	for _, uid := range userIDs {
		pipe.Del(ctx, memberKey(contentID, uid))
		pipe.Del(ctx, sectionKey(contentID, uid))
	}
	pipe.Del(ctx, roomKey(contentID))
	pipe.Del(ctx, namesKey(contentID))
	pipe.Del(ctx, lastSeenKey(contentID))
	_, err = pipe.Exec(ctx)
	return err
}
