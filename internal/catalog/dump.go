package catalog

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/sirupsen/logrus"
	"github.com/tinylib/msgp/msgp"
	"golang.org/x/sync/semaphore"

	"github.com/Chimu-moe/pisstaube/internal/database"
)

// DumpFileName 是 HTTP 上传/下载时使用的文件名。
const DumpFileName = "dump.piss"

const (
	// dumpPageSize 控制 Dump 时单次读取的谱面集数量。
	dumpPageSize = 256
	// maxFieldBytes 限制 restore 时单个字符串或扩展负载的长度。
	maxFieldBytes = 1 << 20
	// lz4Extension 是 LZ4 压缩记录使用的 MessagePack 扩展类型。
	lz4Extension = 99
)

var (
	// ErrBusy 表示已有 dump/restore 在进行。
	ErrBusy = errors.New("catalog dump or restore already in progress")
	// ErrMalformedDump 表示输入流不是合法的 dump。
	ErrMalformedDump = errors.New("malformed catalog dump")
)

// Dumper 负责目录的整体导出与导入，同一时刻只允许一个操作。
type Dumper struct {
	db     *sql.DB
	logger *logrus.Logger
	sem    *semaphore.Weighted
}

// NewDumper 基于 store 所在数据库构造 Dumper。
func NewDumper(store *Store, logger *logrus.Logger) *Dumper {
	return &Dumper{
		db:     store.db,
		logger: logger,
		sem:    semaphore.NewWeighted(1),
	}
}

func (d *Dumper) acquire() error {
	if !d.sem.TryAcquire(1) {
		return ErrBusy
	}
	return nil
}

// Dump 在同一个读事务内写出记录数与全部谱面集，返回写出的记录数。
func (d *Dumper) Dump(ctx context.Context, w io.Writer) (int, error) {
	if err := d.acquire(); err != nil {
		return 0, err
	}
	defer d.sem.Release(1)

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	total, err := countSets(ctx, tx)
	if err != nil {
		return 0, err
	}
	if total > math.MaxInt32 {
		return 0, fmt.Errorf("catalog too large to dump: %d sets", total)
	}

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(int32(total)))
	if _, err := w.Write(header[:]); err != nil {
		return 0, err
	}

	written, err := writeRecords(ctx, tx, msgp.NewWriter(w), total)
	if err != nil {
		return written, err
	}

	d.logger.WithFields(logrus.Fields{"action": "catalog_dump", "records": written}).Info("catalog dumped")
	return written, nil
}

func writeRecords(ctx context.Context, q database.Querier, en *msgp.Writer, total int) (int, error) {
	written := 0
	after := math.MinInt
	for written < total {
		page, err := listSetsAfter(ctx, q, after, dumpPageSize)
		if err != nil {
			return written, err
		}
		if len(page) == 0 {
			break
		}
		for i := range page {
			set := &page[i]
			if set.ChildrenBeatmaps, err = loadChildren(ctx, q, set.SetID); err != nil {
				return written, err
			}
			if err := set.EncodeMsg(en); err != nil {
				return written, fmt.Errorf("encode beatmap set %d: %w", set.SetID, err)
			}
			written++
			after = set.SetID
		}
		// 逐页刷出，避免整份目录堆积在缓冲区。
		if err := en.Flush(); err != nil {
			return written, err
		}
	}
	if written != total {
		return written, fmt.Errorf("catalog changed during dump: expected %d sets, wrote %d", total, written)
	}
	return written, en.Flush()
}

// Restore 读取 dump 并写入目录。drop 为 true 时直接插入，否则按主键原地更新。
// 遇到格式或写入错误时，已导入的部分会被提交，返回值为已导入的记录数。
func (d *Dumper) Restore(ctx context.Context, r io.Reader, drop bool) (int, error) {
	if err := d.acquire(); err != nil {
		return 0, err
	}
	defer d.sem.Release(1)
	return d.restore(ctx, r, drop, false)
}

// Replace 清空目录后导入 dump，清空与导入位于同一事务。
func (d *Dumper) Replace(ctx context.Context, r io.Reader) (int, error) {
	if err := d.acquire(); err != nil {
		return 0, err
	}
	defer d.sem.Release(1)
	return d.restore(ctx, r, true, true)
}

func (d *Dumper) restore(ctx context.Context, r io.Reader, drop, clearFirst bool) (int, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, fmt.Errorf("%w: read record count: %v", ErrMalformedDump, err)
	}
	total := int32(binary.LittleEndian.Uint32(header[:]))
	if total < 0 {
		return 0, fmt.Errorf("%w: negative record count %d", ErrMalformedDump, total)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	if clearFirst {
		if err := clearAll(ctx, tx); err != nil {
			tx.Rollback()
			return 0, err
		}
	}

	applied, applyErr := applyRecords(ctx, tx, msgp.NewReader(r), int(total), drop)
	if err := tx.Commit(); err != nil {
		if applyErr != nil {
			return 0, errors.Join(applyErr, err)
		}
		return 0, fmt.Errorf("commit restore: %w", err)
	}

	fields := logrus.Fields{"action": "catalog_restore", "records": applied, "expected": total, "drop": drop}
	if applyErr != nil {
		d.logger.WithFields(fields).WithError(applyErr).Warn("catalog restore aborted")
		return applied, applyErr
	}
	d.logger.WithFields(fields).Info("catalog restored")
	return applied, nil
}

func applyRecords(ctx context.Context, q database.Querier, dc *msgp.Reader, total int, drop bool) (int, error) {
	apply := upsertSet
	if drop {
		apply = insertSet
	}

	dc.SetMaxElements(maxFieldBytes)
	dc.SetMaxStringLength(maxFieldBytes)

	for i := 0; i < total; i++ {
		if err := checkRecordType(dc); err != nil {
			return i, fmt.Errorf("%w: record %d: %v", ErrMalformedDump, i, err)
		}
		var set BeatmapSet
		if err := set.DecodeMsg(dc); err != nil {
			return i, fmt.Errorf("%w: record %d: %v", ErrMalformedDump, i, err)
		}
		if err := applyRecord(ctx, q, &set, apply); err != nil {
			return i, err
		}
	}
	return total, nil
}

// checkRecordType 拒绝 LZ4 压缩的记录，未压缩的数组记录才可解码。
func checkRecordType(dc *msgp.Reader) error {
	typ, err := dc.NextType()
	if err != nil {
		return err
	}
	if typ == msgp.ExtensionType {
		return fmt.Errorf("compressed record (extension %d) is not supported", lz4Extension)
	}
	return nil
}

// applyRecord 在保存点内写入一条记录，失败时撤销该记录已写入的行。
func applyRecord(ctx context.Context, q database.Querier, set *BeatmapSet, apply func(context.Context, database.Querier, *BeatmapSet) error) error {
	if _, err := q.ExecContext(ctx, `SAVEPOINT restore_record`); err != nil {
		return err
	}
	if err := apply(ctx, q, set); err != nil {
		if _, rbErr := q.ExecContext(ctx, `ROLLBACK TO restore_record`); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		if _, relErr := q.ExecContext(ctx, `RELEASE restore_record`); relErr != nil {
			return errors.Join(err, relErr)
		}
		return err
	}
	_, err := q.ExecContext(ctx, `RELEASE restore_record`)
	return err
}
