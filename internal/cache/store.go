package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/cache/<%08x SetID>    # 归档正文
//	<StoragePath>/tmp/.stage-*          # 写入中转
//
// 每个条目仅由正文文件组成，文件的 ModTime/Size 由文件系统提供。
type Store interface {
	// Stage 将正文写入临时目录并返回其大小，此时尚未占用缓存预算。
	Stage(ctx context.Context, body io.Reader) (*Staged, error)

	// Commit 将 Stage 产物 rename 到 SetID 对应的位置。
	Commit(staged *Staged, setID int) error

	// Discard 删除未提交的 Stage 产物。
	Discard(staged *Staged)

	// Get 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, setID int) (*ReadResult, error)

	// Stat 返回正文大小；文件不存在时 exists 为 false 且不返回错误。
	Stat(setID int) (size int64, exists bool, err error)

	// Remove 删除正文文件，不存在时视为成功。
	Remove(setID int) error

	// Scan 列出缓存目录下直接包含的普通文件。
	Scan() ([]FileInfo, error)

	// Dir 返回缓存目录绝对路径。
	Dir() string
}

// Staged 描述一个已写入临时目录、等待提交的正文。
type Staged struct {
	Path      string
	SizeBytes int64
}

// FileInfo 是 Scan 的结果项。SetID 仅在文件名可解析为 8 位十六进制时有效。
type FileInfo struct {
	Name      string
	SetID     int
	ValidName bool
	SizeBytes int64
	ModTime   time.Time
}

// Entry 表示一次缓存命中结果，包含绝对文件路径及文件信息。
type Entry struct {
	SetID     int       `json:"set_id"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// ReadResult 组合 Entry 与正文 Reader，便于 HTTP 层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrBudgetExceeded 表示淘汰后仍无法为新条目腾出空间，写入被拒绝。
	ErrBudgetExceeded = errors.New("cache budget exceeded")
)
