package ot

import "testing"

func TestPieceTable_InsertMiddle(t *testing.T) {
	pt := NewPieceTable("hello world")
	pt.Insert(5, ",")
	if got := pt.String(); got != "hello, world" {
		t.Fatalf("got %q, want %q", got, "hello, world")
	}
	if pt.Len() != 12 {
		t.Fatalf("Len() = %d, want 12", pt.Len())
	}
}

func TestPieceTable_InsertEnds(t *testing.T) {
	pt := NewPieceTable("abc")
	pt.Insert(0, ">")
	pt.Insert(pt.Len(), "<")
	if got := pt.String(); got != ">abc<" {
		t.Fatalf("got %q", got)
	}
	// 越界位置按追加处理
	pt.Insert(100, "!")
	if got := pt.String(); got != ">abc<!" {
		t.Fatalf("got %q", got)
	}
}

func TestPieceTable_DeleteMiddle(t *testing.T) {
	pt := NewPieceTable("hello world")
	pt.Delete(5, 6)
	if got := pt.String(); got != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

// 删除跨越多个 piece：先插一段把文档切碎，再一次删过边界
func TestPieceTable_DeleteAcrossPieces(t *testing.T) {
	pt := NewPieceTable("aaabbb")
	pt.Insert(3, "XYZ") // aaaXYZbbb
	pt.Delete(2, 5)     // 覆盖 original 尾部 + add 整段 + original 头部
	if got := pt.String(); got != "aabb" {
		t.Fatalf("got %q, want %q", got, "aabb")
	}
	if pt.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", pt.Len())
	}
}

func TestPieceTable_DeleteClamps(t *testing.T) {
	pt := NewPieceTable("abc")
	pt.Delete(2, 10)
	if got := pt.String(); got != "ab" {
		t.Fatalf("got %q", got)
	}
	pt.Delete(5, 3) // 起点越界，忽略
	if got := pt.String(); got != "ab" {
		t.Fatalf("got %q", got)
	}
}

// 重放路径通过 Buffer 接口使用 piece table
func TestPieceTable_AsBuffer(t *testing.T) {
	var b Buffer = NewPieceTable("ab")
	b.Insert(1, "X")
	b.Delete(0, 1)
	if b.String() != "Xb" || b.Len() != 2 {
		t.Fatalf("got %q len %d", b.String(), b.Len())
	}
}

func TestPieceTable_Unicode(t *testing.T) {
	pt := NewPieceTable("你好世界")
	pt.Insert(2, "，")
	pt.Delete(3, 1)
	if got := pt.String(); got != "你好，界" {
		t.Fatalf("got %q", got)
	}
}
