package collab

import (
	"fmt"
	"regexp"
	"strings"
)

const maxCommentLen = 1000

// 评论入库前做最小化清洗：去掉 script 标签、javascript: 协议和内联事件
// 处理器。这里不是完整的 HTML sanitizer，只拦截最常见的注入形态。
var (
	scriptTagRe  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	scriptOpenRe = regexp.MustCompile(`(?i)<\s*/?\s*script\b[^>]*>`)
	jsSchemeRe   = regexp.MustCompile(`(?i)javascript\s*:`)
	eventAttrRe  = regexp.MustCompile(`(?i)\bon[a-z]+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
)

func sanitizeComment(content string) string {
	content = scriptTagRe.ReplaceAllString(content, "")
	content = scriptOpenRe.ReplaceAllString(content, "")
	content = jsSchemeRe.ReplaceAllString(content, "")
	content = eventAttrRe.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}

// ValidateComment 清洗并校验评论内容，返回清洗后的文本。
// 空白内容和超过 1000 字符的内容都会被拒绝（恰好 1000 接受）。
func ValidateComment(content string) (string, error) {
	clean := sanitizeComment(content)
	if clean == "" {
		return "", ErrCommentEmpty
	}
	if n := len([]rune(clean)); n > maxCommentLen {
		return "", fmt.Errorf("%w: %d > %d", ErrCommentTooLong, n, maxCommentLen)
	}
	return clean, nil
}
