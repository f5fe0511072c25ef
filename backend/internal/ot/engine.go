package ot

import "sort"

// Engine 是简化版 OT：不做 intention preservation，而是每次 Apply 都把
// 全量操作按 (timestamp, authorId, id) 重新排序后从种子文本整体重放。
// 只要所有副本拿到同一批操作（允许乱序到达），重放结果必然一致。
// 文档规模是交互编辑级别的，O(n) 重放成本可以接受。
type Engine struct {
	// 种子文本，Reset 时更新；重放始终从这里开始
	base string
	// 当前重放结果
	text string
	ops  []Operation
}

func NewEngine(base string) *Engine {
	return &Engine{base: base, text: base}
}

// Apply 接收一个操作并返回重放后的最新文本。
// 操作先按当前文本做边界校验，校验失败时历史不变。
func (e *Engine) Apply(op Operation) (string, error) {
	if err := op.Validate(len([]rune(e.text))); err != nil {
		return e.text, err
	}
	e.ops = append(e.ops, op)
	e.text = e.replay()
	return e.text, nil
}

// Reset 清空历史并重置种子文本。客户端 join 拿到权威快照、
// 或冲突解决后全员重新对齐时调用。
func (e *Engine) Reset(text string) {
	e.base = text
	e.text = text
	e.ops = nil
}

func (e *Engine) Text() string { return e.text }

// Clone 深拷贝引擎状态。权威端用它先在副本上试算一批操作，
// 全部合法才替换原引擎，保证非法批次不会污染权威文本。
func (e *Engine) Clone() *Engine {
	ops := make([]Operation, len(e.ops))
	copy(ops, e.ops)
	return &Engine{base: e.base, text: e.text, ops: ops}
}

// History 返回操作日志的副本（按应用顺序排序后的视图）。
func (e *Engine) History() []Operation {
	out := make([]Operation, len(e.ops))
	copy(out, e.ops)
	sortOperations(out)
	return out
}

// replay 从种子文本整体重放。
// 每应用一个操作，就把它后面所有 position 更大的操作平移
// （insert 平移 +len(text)，delete 平移 -length），保证旧位置依然有效。
// 同一位置的并发 insert 按时间戳、authorId 定序，这是有意的简化。
func (e *Engine) replay() string {
	ordered := make([]Operation, len(e.ops))
	copy(ordered, e.ops)
	sortOperations(ordered)

	var buf Buffer = NewPieceTable(e.base)
	for i, op := range ordered {
		switch op.Type {
		case OpInsert:
			buf.Insert(op.Position, op.Text)
		case OpDelete:
			buf.Delete(op.Position, op.Length)
		}
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j].Position > op.Position {
				ordered[j].Position += op.delta()
				if ordered[j].Position < 0 {
					ordered[j].Position = 0
				}
			}
		}
	}
	return buf.String()
}

// 主键 timestamp，timestamp 相同用 authorId、再用操作 ID 兜底，
// 保证所有副本排序结果完全一致。
func sortOperations(ops []Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].Timestamp != ops[j].Timestamp {
			return ops[i].Timestamp < ops[j].Timestamp
		}
		if ops[i].AuthorID != ops[j].AuthorID {
			return ops[i].AuthorID < ops[j].AuthorID
		}
		return ops[i].ID < ops[j].ID
	})
}
