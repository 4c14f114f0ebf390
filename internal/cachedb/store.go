package cachedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Chimu-moe/pisstaube/internal/database"
)

// ErrNotFound 表示元数据行不存在。
var ErrNotFound = errors.New("cache entry not found")

// Entry 对应一条缓存使用记录。
type Entry struct {
	SetID         int
	DownloadCount int64
	LastDownload  time.Time
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cache_beatmap_sets (
		set_id INTEGER PRIMARY KEY,
		download_count INTEGER NOT NULL DEFAULT 0,
		last_download INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_last_download ON cache_beatmap_sets (last_download, download_count)`,
}

const selectColumns = `SELECT set_id, download_count, last_download FROM cache_beatmap_sets`

// Store 是基于 SQLite 的元数据表实现。
type Store struct {
	db *sql.DB
}

// NewStore 创建表结构并返回 Store。
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("database required")
	}
	if err := database.Migrate(ctx, db, schema...); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, setID int) (Entry, error) {
	return scanOne(s.db.QueryRowContext(ctx, selectColumns+` WHERE set_id = ?`, setID))
}

// Upsert 插入或整体覆盖一行。
func (s *Store) Upsert(ctx context.Context, entry Entry) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO cache_beatmap_sets (set_id, download_count, last_download)
	VALUES (?, ?, ?)
	ON CONFLICT(set_id) DO UPDATE SET
		download_count = excluded.download_count,
		last_download = excluded.last_download
	`, entry.SetID, entry.DownloadCount, toUnix(entry.LastDownload))
	if err != nil {
		return fmt.Errorf("upsert cache entry %d: %w", entry.SetID, err)
	}
	return nil
}

// Touch 记录一次下载：计数加一并刷新时间，行不存在时以计数 1 创建。
func (s *Store) Touch(ctx context.Context, setID int, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO cache_beatmap_sets (set_id, download_count, last_download)
	VALUES (?, 1, ?)
	ON CONFLICT(set_id) DO UPDATE SET
		download_count = download_count + 1,
		last_download = excluded.last_download
	`, setID, toUnix(at))
	if err != nil {
		return fmt.Errorf("touch cache entry %d: %w", setID, err)
	}
	return nil
}

// Delete 删除一行，不存在时视为成功。
func (s *Store) Delete(ctx context.Context, setID int) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_beatmap_sets WHERE set_id = ?`, setID); err != nil {
		return fmt.Errorf("delete cache entry %d: %w", setID, err)
	}
	return nil
}

// FirstDownloadedBefore 按主键顺序返回第一条 last_download 早于 cutoff 的记录。
func (s *Store) FirstDownloadedBefore(ctx context.Context, cutoff time.Time) (Entry, error) {
	return scanOne(s.db.QueryRowContext(ctx,
		selectColumns+` WHERE last_download < ? ORDER BY set_id ASC LIMIT 1`, toUnix(cutoff)))
}

// FirstByUsage 按 last_download、download_count 同向排序后取第一条。
func (s *Store) FirstByUsage(ctx context.Context, ascending bool) (Entry, error) {
	query := selectColumns + ` ORDER BY last_download DESC, download_count DESC, set_id ASC LIMIT 1`
	if ascending {
		query = selectColumns + ` ORDER BY last_download ASC, download_count ASC, set_id ASC LIMIT 1`
	}
	return scanOne(s.db.QueryRowContext(ctx, query))
}

// IDs 返回全部 SetID（升序）。
func (s *Store) IDs(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT set_id FROM cache_beatmap_sets ORDER BY set_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_beatmap_sets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}

// Clear 清空全部元数据，用于整体重建。
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_beatmap_sets`); err != nil {
		return fmt.Errorf("clear cache entries: %w", err)
	}
	return nil
}

func scanOne(row *sql.Row) (Entry, error) {
	var (
		entry Entry
		last  int64
	)
	if err := row.Scan(&entry.SetID, &entry.DownloadCount, &last); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	entry.LastDownload = fromUnix(last)
	return entry, nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}
