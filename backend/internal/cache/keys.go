package cache

import "fmt"

// 键语义：
// - roomKey(contentID):            房间候选成员集合（Set<userId>）
// - memberKey(contentID,userID):   成员心跳键（String，占位"1"，带 TTL）
// - namesKey(contentID):           房间内 userId→username 映射（Hash）
// - sectionKey(contentID,userID):  成员正在编辑的小节（String，带 TTL）
// - lastSeenKey(contentID):        userId→最后活跃时间 RFC3339（Hash）

const (
	keyRoomFmt     = "presence:room:%s"       // Set<userId>
	keyMemberFmt   = "presence:member:%s:%s"  // String "1" with TTL
	keyNamesFmt    = "presence:room:names:%s" // Hash<userId -> username>
	keySectionFmt  = "presence:section:%s:%s" // String with TTL
	keyLastSeenFmt = "presence:lastseen:%s"   // Hash<userId -> RFC3339>
)

func roomKey(contentID string) string            { return fmt.Sprintf(keyRoomFmt, contentID) }
func memberKey(contentID, userID string) string  { return fmt.Sprintf(keyMemberFmt, contentID, userID) }
func namesKey(contentID string) string           { return fmt.Sprintf(keyNamesFmt, contentID) }
func sectionKey(contentID, userID string) string { return fmt.Sprintf(keySectionFmt, contentID, userID) }
func lastSeenKey(contentID string) string        { return fmt.Sprintf(keyLastSeenFmt, contentID) }
