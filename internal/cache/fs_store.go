package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// FileName 返回 SetID 对应的缓存文件名（8 位小写十六进制，负数按 32 位补码）。
func FileName(setID int) string {
	return fmt.Sprintf("%08x", uint32(setID))
}

// parseFileName 是 FileName 的逆操作，仅接受恰好 8 位十六进制的文件名。
func parseFileName(name string) (int, bool) {
	if len(name) != 8 {
		return 0, false
	}
	v, err := strconv.ParseUint(name, 16, 32)
	if err != nil {
		return 0, false
	}
	return int(int32(uint32(v))), true
}

// NewStore 以 cacheDir 存放归档、tempDir 存放写入中转，整站复用一份实例。
func NewStore(cacheDir, tempDir string) (Store, error) {
	if cacheDir == "" {
		return nil, errors.New("cache path required")
	}
	if tempDir == "" {
		return nil, errors.New("temp path required")
	}

	absCache, err := filepath.Abs(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache path: %w", err)
	}
	absTemp, err := filepath.Abs(tempDir)
	if err != nil {
		return nil, fmt.Errorf("resolve temp path: %w", err)
	}

	for _, dir := range []string{absCache, absTemp} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage path: %w", err)
		}
	}

	return &fileStore{cacheDir: absCache, tempDir: absTemp}, nil
}

// fileStore 不做并发控制，写入与删除的互斥由 Manager 负责。
type fileStore struct {
	cacheDir string
	tempDir  string
}

func (s *fileStore) Dir() string {
	return s.cacheDir
}

func (s *fileStore) Stage(ctx context.Context, body io.Reader) (*Staged, error) {
	tempFile, err := os.CreateTemp(s.tempDir, ".stage-*")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return nil, err
	}

	return &Staged{Path: tempName, SizeBytes: written}, nil
}

func (s *fileStore) Commit(staged *Staged, setID int) error {
	if staged == nil {
		return errors.New("nothing staged")
	}
	if err := os.Rename(staged.Path, s.entryPath(setID)); err != nil {
		os.Remove(staged.Path)
		return err
	}
	return nil
}

func (s *fileStore) Discard(staged *Staged) {
	if staged != nil {
		os.Remove(staged.Path)
	}
}

func (s *fileStore) Get(ctx context.Context, setID int) (*ReadResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath := s.entryPath(setID)
	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, ErrNotFound
	}

	return &ReadResult{
		Entry: Entry{
			SetID:     setID,
			FilePath:  filePath,
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		},
		Reader: f,
	}, nil
}

func (s *fileStore) Stat(setID int) (int64, bool, error) {
	info, err := os.Stat(s.entryPath(setID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if !info.Mode().IsRegular() {
		return 0, false, nil
	}
	return info.Size(), true, nil
}

func (s *fileStore) Remove(setID int) error {
	if err := os.Remove(s.entryPath(setID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) Scan() ([]FileInfo, error) {
	return scanDir(s.cacheDir)
}

func (s *fileStore) entryPath(setID int) string {
	return filepath.Join(s.cacheDir, FileName(setID))
}

// scanDir 只统计目录下直接包含的普通文件，不递归。
func scanDir(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	result := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		setID, ok := parseFileName(entry.Name())
		result = append(result, FileInfo{
			Name:      entry.Name(),
			SetID:     setID,
			ValidName: ok,
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
	}
	return result, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
