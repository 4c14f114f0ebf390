package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Chimu-moe/pisstaube/internal/cachedb"
	"github.com/Chimu-moe/pisstaube/internal/logging"
)

// EntryStore 是 Manager 依赖的元数据能力，由 cachedb.Store 实现。
type EntryStore interface {
	Get(ctx context.Context, setID int) (cachedb.Entry, error)
	Upsert(ctx context.Context, entry cachedb.Entry) error
	Touch(ctx context.Context, setID int, at time.Time) error
	Delete(ctx context.Context, setID int) error
	FirstDownloadedBefore(ctx context.Context, cutoff time.Time) (cachedb.Entry, error)
	FirstByUsage(ctx context.Context, ascending bool) (cachedb.Entry, error)
	IDs(ctx context.Context) ([]int, error)
}

// Options 汇总构造 Manager 所需的依赖。
type Options struct {
	Files      Store
	Entries    EntryStore
	MaxBytes   uint64
	Policy     Policy
	StaleAfter time.Duration
	Logger     *logrus.Logger
	// Now 仅供测试注入时钟，默认 time.Now。
	Now func() time.Time
}

// Manager 串联磁盘正文、元数据与容量计数。mu 覆盖所有影响占用的读改写。
type Manager struct {
	files      Store
	entries    EntryStore
	policy     Policy
	staleAfter time.Duration
	logger     *logrus.Logger
	now        func() time.Time

	mu   sync.Mutex
	acct *Accounting
}

// Stats 是管理接口输出的容量概览。
type Stats struct {
	BytesUsed   uint64  `json:"bytes_used"`
	BytesBudget uint64  `json:"bytes_budget"`
	PercentUsed float64 `json:"percent_used"`
}

// ReconcileReport 汇总一次对账的结果。
type ReconcileReport struct {
	RemovedRows  int    `json:"removed_rows"`
	AdoptedFiles int    `json:"adopted_files"`
	BytesUsed    uint64 `json:"bytes_used"`
}

// NewManager 在返回前完成缓存目录扫描，调用方拿到实例后即可接受写入请求。
func NewManager(opts Options) (*Manager, error) {
	if opts.Files == nil {
		return nil, errors.New("file store is required")
	}
	if opts.Entries == nil {
		return nil, errors.New("entry store is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	policy, err := ParsePolicy(string(opts.Policy))
	if err != nil {
		return nil, err
	}
	if opts.StaleAfter <= 0 {
		return nil, fmt.Errorf("invalid stale threshold: %s", opts.StaleAfter)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	m := &Manager{
		files:      opts.Files,
		entries:    opts.Entries,
		policy:     policy,
		staleAfter: opts.StaleAfter,
		logger:     opts.Logger,
		now:        now,
		acct:       NewAccounting(opts.MaxBytes),
	}

	used, err := m.acct.Initialize(m.files.Dir())
	if err != nil {
		return nil, fmt.Errorf("scan cache directory: %w", err)
	}
	publishUsage(m.acct)

	fields := logCleanerFields("cleaner_init", m.acct)
	fields["policy"] = string(policy)
	fields["stale_after"] = opts.StaleAfter.String()
	fields["dir"] = m.files.Dir()
	m.logger.WithFields(fields).Infof("cache directory scanned, %d bytes in use", used)
	return m, nil
}

// Put 以两阶段方式写入归档：先在锁外落盘到临时目录，再在锁内腾挪空间、rename 并提交元数据行。
func (m *Manager) Put(ctx context.Context, setID int, body io.Reader) (*Entry, error) {
	staged, err := m.files.Stage(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("stage archive %d: %w", setID, err)
	}
	size := uint64(staged.SizeBytes)

	m.mu.Lock()
	defer m.mu.Unlock()

	// 旧行可能在腾挪空间时被当作候选删除，先记下下载次数。
	var prevCount int64
	prev, err := m.entries.Get(ctx, setID)
	switch {
	case err == nil:
		prevCount = prev.DownloadCount
	case !errors.Is(err, cachedb.ErrNotFound):
		m.files.Discard(staged)
		return nil, fmt.Errorf("load cache entry %d: %w", setID, err)
	}

	replaced, err := m.dropFileLocked(setID)
	if err != nil {
		m.files.Discard(staged)
		return nil, err
	}

	ok, err := m.freeLocked(ctx, size)
	if err != nil {
		m.files.Discard(staged)
		return nil, err
	}
	if !ok {
		m.files.Discard(staged)
		promCounterRejectedWrites.Inc()
		if replaced {
			if err := m.entries.Delete(ctx, setID); err != nil {
				m.logger.WithError(err).WithField("set_id", setID).Warn("cache_row_cleanup_failed")
			}
		}
		m.logger.WithFields(logCleanerFields("cache_put_rejected", m.acct)).
			WithFields(logrus.Fields{"set_id": setID, "size": size}).
			Warn("budget could not be satisfied")
		return nil, ErrBudgetExceeded
	}

	if err := m.files.Commit(staged, setID); err != nil {
		return nil, fmt.Errorf("commit archive %d: %w", setID, err)
	}
	m.acct.RecordIncrease(size)
	publishUsage(m.acct)

	now := m.now().UTC()
	row := cachedb.Entry{SetID: setID, DownloadCount: prevCount, LastDownload: now}
	if err := m.entries.Upsert(ctx, row); err != nil {
		// 正文已落盘但行未提交，留给 Reconcile 收养。
		return nil, err
	}

	return &Entry{
		SetID:     setID,
		SizeBytes: staged.SizeBytes,
		ModTime:   now,
	}, nil
}

// dropFileLocked 删除旧正文并扣减占用，返回是否存在旧正文。
func (m *Manager) dropFileLocked(setID int) (bool, error) {
	oldSize, exists, err := m.files.Stat(setID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	if err := m.files.Remove(setID); err != nil {
		return false, err
	}
	m.acct.RecordDecrease(uint64(oldSize))
	return true, nil
}

// Open 返回缓存正文并记录一次下载。
func (m *Manager) Open(ctx context.Context, setID int) (*ReadResult, error) {
	result, err := m.files.Get(ctx, setID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	_, stillExists, statErr := m.files.Stat(setID)
	if statErr == nil && stillExists {
		statErr = m.entries.Touch(ctx, setID, m.now().UTC())
	}
	m.mu.Unlock()
	if statErr != nil {
		m.logger.WithError(statErr).WithField("set_id", setID).Warn("cache_touch_failed")
	}

	promCounterHits.Inc()
	return result, nil
}

// Stats 返回当前占用、预算与占用百分比（保留两位小数）。
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	used, budget := m.acct.Used(), m.acct.Budget()
	percent := 0.0
	if budget > 0 {
		percent = math.Round(float64(used)/float64(budget)*100*100) / 100
	}
	return Stats{BytesUsed: used, BytesBudget: budget, PercentUsed: percent}
}

// Reconcile 修复元数据与磁盘的漂移：删除无正文的行，为无行的正文补行，并重新扫描占用。
func (m *Manager) Reconcile(ctx context.Context) (ReconcileReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var report ReconcileReport

	ids, err := m.entries.IDs(ctx)
	if err != nil {
		return report, err
	}
	files, err := m.files.Scan()
	if err != nil {
		return report, err
	}

	onDisk := make(map[int]FileInfo, len(files))
	for _, f := range files {
		if f.ValidName {
			onDisk[f.SetID] = f
		}
	}

	rows := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		rows[id] = struct{}{}
		if _, ok := onDisk[id]; ok {
			continue
		}
		if err := m.entries.Delete(ctx, id); err != nil {
			return report, err
		}
		report.RemovedRows++
	}

	for id, f := range onDisk {
		if _, ok := rows[id]; ok {
			continue
		}
		if err := m.entries.Upsert(ctx, cachedb.Entry{SetID: id, LastDownload: f.ModTime.UTC()}); err != nil {
			return report, err
		}
		report.AdoptedFiles++
	}

	used, err := m.acct.Initialize(m.files.Dir())
	if err != nil {
		return report, err
	}
	publishUsage(m.acct)
	report.BytesUsed = used

	m.logger.WithFields(logCleanerFields("cache_reconcile", m.acct)).
		WithFields(logrus.Fields{"removed_rows": report.RemovedRows, "adopted_files": report.AdoptedFiles}).
		Info("cache reconciled")
	return report, nil
}

func logCleanerFields(action string, a *Accounting) logrus.Fields {
	return logging.CleanerFields(action, a.Used(), a.Budget())
}
