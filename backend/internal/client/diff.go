package client

import (
	"time"

	"github.com/google/uuid"

	"contentcollab/backend/internal/ot"
)

// Diff 把一轮 debounce 窗口里攒下的文本变化折算成最多两个操作：
// 公共前后缀之外的部分先删后插。不是逐键一个操作。
// insert 的时间戳比 delete 大 1ms，保证重放定序时先删后插。
func Diff(old, new string, authorID string, at time.Time) []ot.Operation {
	if old == new {
		return nil
	}
	o := []rune(old)
	n := []rune(new)

	prefix := 0
	for prefix < len(o) && prefix < len(n) && o[prefix] == n[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(o)-prefix && suffix < len(n)-prefix &&
		o[len(o)-1-suffix] == n[len(n)-1-suffix] {
		suffix++
	}

	ts := at.UnixMilli()
	var ops []ot.Operation
	if deleted := len(o) - prefix - suffix; deleted > 0 {
		ops = append(ops, ot.Operation{
			ID:        uuid.NewString(),
			Type:      ot.OpDelete,
			Position:  prefix,
			Length:    deleted,
			Timestamp: ts,
			AuthorID:  authorID,
		})
	}
	if inserted := n[prefix : len(n)-suffix]; len(inserted) > 0 {
		ops = append(ops, ot.Operation{
			ID:        uuid.NewString(),
			Type:      ot.OpInsert,
			Position:  prefix,
			Text:      string(inserted),
			Timestamp: ts + 1,
			AuthorID:  authorID,
		})
	}
	return ops
}
