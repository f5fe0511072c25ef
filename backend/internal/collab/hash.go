package collab

import (
	"crypto/sha1"
	"encoding/hex"
)

// TextHash 客户端提交时带上编辑前文本的哈希，权威端用它判断
// 双方是否从同一份文本出发。不匹配即进入冲突流程。
func TextHash(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
