package cache

import "math"

// Accounting 维护缓存目录的当前占用与预算。
// 自身不加锁，所有调用都发生在 Manager.mu 之内。
type Accounting struct {
	maxBytes     uint64
	currentBytes uint64
}

// NewAccounting 创建预算为 maxBytes 的计数器，占用从 0 开始。
func NewAccounting(maxBytes uint64) *Accounting {
	return &Accounting{maxBytes: maxBytes}
}

// Initialize 以 dir 下普通文件（不递归）的大小之和重置当前占用。
func (a *Accounting) Initialize(dir string) (uint64, error) {
	files, err := scanDir(dir)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, f := range files {
		total = addClamped(total, uint64(f.SizeBytes))
	}
	a.currentBytes = total
	return total, nil
}

// WouldFit 判断再增加 additional 字节后是否仍在预算之内。
func (a *Accounting) WouldFit(additional uint64) bool {
	if additional > math.MaxUint64-a.currentBytes {
		return false
	}
	return additional+a.currentBytes <= a.maxBytes
}

func (a *Accounting) RecordIncrease(n uint64) {
	a.currentBytes = addClamped(a.currentBytes, n)
}

// RecordDecrease 扣减占用并在 0 处截断，防止计数漂移产生负值。
func (a *Accounting) RecordDecrease(n uint64) {
	if n >= a.currentBytes {
		a.currentBytes = 0
		return
	}
	a.currentBytes -= n
}

func (a *Accounting) Used() uint64 {
	return a.currentBytes
}

func (a *Accounting) Budget() uint64 {
	return a.maxBytes
}

func addClamped(a, b uint64) uint64 {
	if b > math.MaxUint64-a {
		return math.MaxUint64
	}
	return a + b
}
