package contract

// Index: 全序列内稳定递增的记录序号（0..n-1）。
type Index int64

// Chunk: 来自源的不透明字节块；长度任意，按到达顺序交付。
// 所有权随交付转移：源在交付后不得复用底层数组。
type Chunk []byte

// Record: 原子文本记录（以分隔符终结的一段文本）。
// 身份 = 内容 + 全序列内的序号；Text 不含分隔符本身。
type Record struct {
	Index Index
	Text  string
}

// Batch: 定长有序记录组（仅最后一批允许更短，且永不为空）。
type Batch struct {
	// BatchIndex: 全序列内的批序（0..n-1，严格递增）。
	// 仅用于诊断与顺序断言；不影响批内 Records 顺序与语义。
	BatchIndex int64
	Records    []Record
}
