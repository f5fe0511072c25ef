package ot

import (
	"errors"
	"fmt"
)

type OpType string

const (
	OpInsert OpType = "insert"
	OpDelete OpType = "delete"
)

var (
	ErrInvalidOperation = errors.New("INVALID_OPERATION")
)

// Operation 位置均按 rune 计（与 PieceTable 一致），不是字节偏移。
type Operation struct {
	ID       string `json:"id"`
	Type     OpType `json:"type"`
	Position int    `json:"position"`
	// insert 的文本
	Text string `json:"text,omitempty"`
	// delete 的长度
	Length int `json:"length,omitempty"`
	// unix 毫秒时间戳，排序主键
	Timestamp int64  `json:"timestamp"`
	AuthorID  string `json:"authorId"`
}

// Validate 按当前文档长度校验边界。非法操作直接拒绝，不做截断。
func (op Operation) Validate(docLen int) error {
	if op.Position < 0 {
		return fmt.Errorf("%w: negative position %d", ErrInvalidOperation, op.Position)
	}
	switch op.Type {
	case OpInsert:
		if op.Text == "" {
			return fmt.Errorf("%w: empty insert", ErrInvalidOperation)
		}
		if op.Position > docLen {
			return fmt.Errorf("%w: insert at %d beyond length %d", ErrInvalidOperation, op.Position, docLen)
		}
	case OpDelete:
		if op.Length <= 0 {
			return fmt.Errorf("%w: delete length %d", ErrInvalidOperation, op.Length)
		}
		if op.Position+op.Length > docLen {
			return fmt.Errorf("%w: delete [%d,%d) beyond length %d", ErrInvalidOperation, op.Position, op.Position+op.Length, docLen)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, op.Type)
	}
	return nil
}

// delta 返回该操作对文档长度的影响。
func (op Operation) delta() int {
	if op.Type == OpInsert {
		return len([]rune(op.Text))
	}
	return -op.Length
}
