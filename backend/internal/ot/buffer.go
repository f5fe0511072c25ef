package ot

// 抽象文档内容缓冲区接口
type Buffer interface {
	Len() int
	Insert(pos int, text string)
	Delete(pos int, n int)
	String() string
}
