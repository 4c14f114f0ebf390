package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Chimu-moe/pisstaube/internal/database"
)

// ErrNotFound 表示目录中不存在该谱面集。
var ErrNotFound = errors.New("beatmap set not found")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS beatmap_sets (
		set_id INTEGER PRIMARY KEY,
		ranked_status INTEGER NOT NULL DEFAULT 0,
		approved_date INTEGER,
		last_update INTEGER,
		last_checked INTEGER,
		artist TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		creator TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '',
		has_video INTEGER NOT NULL DEFAULT 0,
		genre INTEGER NOT NULL DEFAULT 0,
		language INTEGER NOT NULL DEFAULT 0,
		favourites INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS beatmaps (
		beatmap_id INTEGER PRIMARY KEY,
		parent_set_id INTEGER NOT NULL,
		diff_name TEXT NOT NULL DEFAULT '',
		file_md5 TEXT NOT NULL DEFAULT '',
		mode INTEGER NOT NULL DEFAULT 0,
		bpm REAL NOT NULL DEFAULT 0,
		ar REAL NOT NULL DEFAULT 0,
		od REAL NOT NULL DEFAULT 0,
		cs REAL NOT NULL DEFAULT 0,
		hp REAL NOT NULL DEFAULT 0,
		total_length INTEGER NOT NULL DEFAULT 0,
		hit_length INTEGER NOT NULL DEFAULT 0,
		playcount INTEGER NOT NULL DEFAULT 0,
		passcount INTEGER NOT NULL DEFAULT 0,
		max_combo INTEGER NOT NULL DEFAULT 0,
		difficulty_rating REAL NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_beatmaps_parent ON beatmaps (parent_set_id, beatmap_id)`,
}

const (
	setColumns = `set_id, ranked_status, approved_date, last_update, last_checked,
		artist, title, creator, source, tags, has_video, genre, language, favourites`
	childColumns = `beatmap_id, parent_set_id, diff_name, file_md5, mode, bpm, ar, od, cs, hp,
		total_length, hit_length, playcount, passcount, max_combo, difficulty_rating`

	insertSetSQL   = `INSERT INTO beatmap_sets (` + setColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	upsertSetSQL   = insertSetSQL + ` ON CONFLICT(set_id) DO UPDATE SET
		ranked_status = excluded.ranked_status,
		approved_date = excluded.approved_date,
		last_update = excluded.last_update,
		last_checked = excluded.last_checked,
		artist = excluded.artist,
		title = excluded.title,
		creator = excluded.creator,
		source = excluded.source,
		tags = excluded.tags,
		has_video = excluded.has_video,
		genre = excluded.genre,
		language = excluded.language,
		favourites = excluded.favourites`
	insertChildSQL  = `INSERT INTO beatmaps (` + childColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	replaceChildSQL = `INSERT OR REPLACE INTO beatmaps (` + childColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// Store 是谱面集目录的 SQLite 实现。
type Store struct {
	db *sql.DB
}

// NewStore 创建目录表结构。
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("database required")
	}
	if err := database.Migrate(ctx, db, schema...); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Get 返回谱面集及其全部子谱面。
func (s *Store) Get(ctx context.Context, setID int) (*BeatmapSet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+setColumns+` FROM beatmap_sets WHERE set_id = ?`, setID)
	if err != nil {
		return nil, fmt.Errorf("query beatmap set %d: %w", setID, err)
	}
	sets, err := scanSets(rows)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, ErrNotFound
	}

	set := &sets[0]
	if set.ChildrenBeatmaps, err = loadChildren(ctx, s.db, setID); err != nil {
		return nil, err
	}
	return set, nil
}

// Put 写入或覆盖一个谱面集，子谱面整体替换。
func (s *Store) Put(ctx context.Context, set *BeatmapSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := upsertSet(ctx, tx, set); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	return countSets(ctx, s.db)
}

// Clear 清空谱面集与子谱面。
func (s *Store) Clear(ctx context.Context) error {
	return clearAll(ctx, s.db)
}

func countSets(ctx context.Context, q database.Querier) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM beatmap_sets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count beatmap sets: %w", err)
	}
	return n, nil
}

func clearAll(ctx context.Context, q database.Querier) error {
	for _, stmt := range []string{`DELETE FROM beatmaps`, `DELETE FROM beatmap_sets`} {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear catalog: %w", err)
		}
	}
	return nil
}

// listSetsAfter 按 set_id 升序返回 after 之后的至多 limit 个谱面集（不含子谱面）。
func listSetsAfter(ctx context.Context, q database.Querier, after, limit int) ([]BeatmapSet, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+setColumns+` FROM beatmap_sets WHERE set_id > ? ORDER BY set_id ASC LIMIT ?`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list beatmap sets: %w", err)
	}
	return scanSets(rows)
}

func loadChildren(ctx context.Context, q database.Querier, setID int) ([]ChildrenBeatmap, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+childColumns+` FROM beatmaps WHERE parent_set_id = ? ORDER BY beatmap_id ASC`, setID)
	if err != nil {
		return nil, fmt.Errorf("query beatmaps of set %d: %w", setID, err)
	}
	defer rows.Close()

	var children []ChildrenBeatmap
	for rows.Next() {
		var (
			c                  ChildrenBeatmap
			bpm, ar, od, cs, hp float64
		)
		if err := rows.Scan(&c.BeatmapID, &c.ParentSetID, &c.DiffName, &c.FileMD5, &c.Mode,
			&bpm, &ar, &od, &cs, &hp,
			&c.TotalLength, &c.HitLength, &c.Playcount, &c.Passcount, &c.MaxCombo, &c.DifficultyRating); err != nil {
			return nil, err
		}
		c.BPM, c.AR, c.OD, c.CS, c.HP = float32(bpm), float32(ar), float32(od), float32(cs), float32(hp)
		children = append(children, c)
	}
	return children, rows.Err()
}

// insertSet 直接插入，调用方保证目标表中不存在相同主键。
func insertSet(ctx context.Context, q database.Querier, set *BeatmapSet) error {
	if _, err := q.ExecContext(ctx, insertSetSQL, setArgs(set)...); err != nil {
		return fmt.Errorf("insert beatmap set %d: %w", set.SetID, err)
	}
	for i := range set.ChildrenBeatmaps {
		if _, err := q.ExecContext(ctx, insertChildSQL, childArgs(set.SetID, &set.ChildrenBeatmaps[i])...); err != nil {
			return fmt.Errorf("insert beatmap %d: %w", set.ChildrenBeatmaps[i].BeatmapID, err)
		}
	}
	return nil
}

// upsertSet 原地更新已有谱面集，并以记录中的子谱面替换原有子谱面。
func upsertSet(ctx context.Context, q database.Querier, set *BeatmapSet) error {
	if _, err := q.ExecContext(ctx, upsertSetSQL, setArgs(set)...); err != nil {
		return fmt.Errorf("upsert beatmap set %d: %w", set.SetID, err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM beatmaps WHERE parent_set_id = ?`, set.SetID); err != nil {
		return fmt.Errorf("replace beatmaps of set %d: %w", set.SetID, err)
	}
	for i := range set.ChildrenBeatmaps {
		if _, err := q.ExecContext(ctx, replaceChildSQL, childArgs(set.SetID, &set.ChildrenBeatmaps[i])...); err != nil {
			return fmt.Errorf("upsert beatmap %d: %w", set.ChildrenBeatmaps[i].BeatmapID, err)
		}
	}
	return nil
}

func setArgs(set *BeatmapSet) []any {
	return []any{
		set.SetID, int32(set.RankedStatus),
		nullTime(set.ApprovedDate), nullTime(set.LastUpdate), nullTime(set.LastChecked),
		set.Artist, set.Title, set.Creator, set.Source, set.Tags,
		set.HasVideo, int32(set.Genre), int32(set.Language), set.Favourites,
	}
}

// childArgs 以所属谱面集为准写入 parent_set_id，忽略记录中携带的值。
func childArgs(setID int, c *ChildrenBeatmap) []any {
	return []any{
		c.BeatmapID, setID, c.DiffName, c.FileMD5, int32(c.Mode),
		float64(c.BPM), float64(c.AR), float64(c.OD), float64(c.CS), float64(c.HP),
		c.TotalLength, c.HitLength, c.Playcount, c.Passcount, c.MaxCombo, c.DifficultyRating,
	}
}

func scanSets(rows *sql.Rows) ([]BeatmapSet, error) {
	defer rows.Close()

	var sets []BeatmapSet
	for rows.Next() {
		var (
			set                             BeatmapSet
			approved, lastUpdate, lastCheck sql.NullInt64
		)
		if err := rows.Scan(&set.SetID, &set.RankedStatus, &approved, &lastUpdate, &lastCheck,
			&set.Artist, &set.Title, &set.Creator, &set.Source, &set.Tags,
			&set.HasVideo, &set.Genre, &set.Language, &set.Favourites); err != nil {
			return nil, err
		}
		set.ApprovedDate = fromNullTime(approved)
		set.LastUpdate = fromNullTime(lastUpdate)
		set.LastChecked = fromNullTime(lastCheck)
		sets = append(sets, set)
	}
	return sets, rows.Err()
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
