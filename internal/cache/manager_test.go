package cache

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chimu-moe/pisstaube/internal/cachedb"
	"github.com/Chimu-moe/pisstaube/internal/logging"
)

func TestNewManagerValidatesOptions(t *testing.T) {
	_, err := NewManager(Options{})
	assert.Error(t, err)

	root := t.TempDir()
	files, err := NewStore(filepath.Join(root, "cache"), filepath.Join(root, "tmp"))
	require.NoError(t, err)
	_, err = NewManager(Options{
		Files:      files,
		Entries:    &endlessEntries{},
		Logger:     logging.Discard(),
		Policy:     "random",
		StaleAfter: week,
	})
	assert.Error(t, err)
}

func TestNewManagerSeedsUsageFromDisk(t *testing.T) {
	env := newTestEnv(t, 1<<30, PolicyLRU, func(files Store, entries *cachedb.Store) {
		writeCached(t, files, 1, "12345")
		writeCached(t, files, 2, "123")
	})
	stats := env.manager.Stats()
	assert.Equal(t, uint64(8), stats.BytesUsed)
	assert.Equal(t, uint64(1<<30), stats.BytesBudget)
}

func TestPutStoresArchiveAndRow(t *testing.T) {
	env := newTestEnv(t, 100, PolicyLRU, nil)
	ctx := context.Background()

	entry, err := env.manager.Put(ctx, 42, strings.NewReader("archive"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), entry.SizeBytes)

	row, err := env.entries.Get(ctx, 42)
	require.NoError(t, err)
	assert.Zero(t, row.DownloadCount)
	assert.True(t, row.LastDownload.Equal(testNow))
	assert.Equal(t, uint64(7), env.manager.Stats().BytesUsed)

	tmp, err := os.ReadDir(filepath.Join(filepath.Dir(env.files.Dir()), "tmp"))
	require.NoError(t, err)
	assert.Empty(t, tmp)
}

func TestPutReplacesWithoutDoubleCounting(t *testing.T) {
	env := newTestEnv(t, 100, PolicyLRU, nil)
	ctx := context.Background()

	_, err := env.manager.Put(ctx, 1, strings.NewReader("0123456789"))
	require.NoError(t, err)
	require.NoError(t, env.entries.Upsert(ctx, cachedb.Entry{SetID: 1, DownloadCount: 4, LastDownload: testNow.Add(-time.Hour)}))

	_, err = env.manager.Put(ctx, 1, strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), env.manager.Stats().BytesUsed)

	row, err := env.entries.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), row.DownloadCount)
	assert.True(t, row.LastDownload.Equal(testNow))
}

func TestPutReplacementKeepsCountWhenOwnRowIsEvicted(t *testing.T) {
	env := newTestEnv(t, 10, PolicyLRU, func(files Store, entries *cachedb.Store) {
		writeCached(t, files, 1, "123456")
		require.NoError(t, entries.Upsert(context.Background(), cachedb.Entry{SetID: 1, DownloadCount: 9, LastDownload: testNow.Add(-30 * 24 * time.Hour)}))
		seedEntry(t, files, entries, 2, 4, testNow)
	})
	ctx := context.Background()

	// 旧正文删除后，过期的 1 号行会先被当作候选删掉，随后 2 号被兜底淘汰。
	_, err := env.manager.Put(ctx, 1, strings.NewReader("12345678"))
	require.NoError(t, err)
	assert.Equal(t, []int{1}, remainingIDs(t, env.entries))
	assert.Equal(t, uint64(8), env.manager.Stats().BytesUsed)

	row, err := env.entries.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(9), row.DownloadCount)
	assert.True(t, row.LastDownload.Equal(testNow))
}

func TestPutEvictsToMakeRoom(t *testing.T) {
	env := newTestEnv(t, 10, PolicyLRU, func(files Store, entries *cachedb.Store) {
		seedEntry(t, files, entries, 1, 6, testNow.Add(-30*24*time.Hour))
	})

	_, err := env.manager.Put(context.Background(), 2, strings.NewReader("123456"))
	require.NoError(t, err)
	assert.Equal(t, []int{2}, remainingIDs(t, env.entries))
	assert.Equal(t, uint64(6), env.manager.Stats().BytesUsed)
}

func TestPutRejectsOversizedArchive(t *testing.T) {
	env := newTestEnv(t, 5, PolicyLRU, nil)

	_, err := env.manager.Put(context.Background(), 3, bytes.NewReader(make([]byte, 10)))
	assert.ErrorIs(t, err, ErrBudgetExceeded)

	_, exists, err := env.files.Stat(3)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Zero(t, env.manager.Stats().BytesUsed)

	tmp, err := os.ReadDir(filepath.Join(filepath.Dir(env.files.Dir()), "tmp"))
	require.NoError(t, err)
	assert.Empty(t, tmp)
}

func TestOpenTouchesEntry(t *testing.T) {
	env := newTestEnv(t, 100, PolicyLRU, func(files Store, entries *cachedb.Store) {
		seedEntry(t, files, entries, 8, 4, testNow.Add(-time.Hour))
	})
	ctx := context.Background()

	result, err := env.manager.Open(ctx, 8)
	require.NoError(t, err)
	body, err := io.ReadAll(result.Reader)
	require.NoError(t, err)
	require.NoError(t, result.Reader.Close())
	assert.Len(t, body, 4)

	row, err := env.entries.Get(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(2), row.DownloadCount)
	assert.True(t, row.LastDownload.Equal(testNow))
}

func TestOpenMissing(t *testing.T) {
	env := newTestEnv(t, 100, PolicyLRU, nil)
	_, err := env.manager.Open(context.Background(), 77)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.entries.Get(context.Background(), 77)
	assert.ErrorIs(t, err, cachedb.ErrNotFound)
}

func TestStatsPercentRounding(t *testing.T) {
	env := newTestEnv(t, 3, PolicyLRU, func(files Store, entries *cachedb.Store) {
		writeCached(t, files, 1, "x")
	})
	assert.Equal(t, 33.33, env.manager.Stats().PercentUsed)

	empty := newTestEnv(t, 0, PolicyLRU, nil)
	assert.Zero(t, empty.manager.Stats().PercentUsed)
}

func TestReconcileRepairsDrift(t *testing.T) {
	orphanTime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	env := newTestEnv(t, 100, PolicyLRU, func(files Store, entries *cachedb.Store) {
		seedEntry(t, files, entries, 1, 3, testNow)
		require.NoError(t, entries.Upsert(context.Background(), cachedb.Entry{SetID: 2, DownloadCount: 5, LastDownload: testNow}))
		writeCached(t, files, 3, "orphan")
		require.NoError(t, os.Chtimes(filepath.Join(files.Dir(), FileName(3)), orphanTime, orphanTime))
	})
	ctx := context.Background()

	// 运行期间外部写入的文件只有在对账后才计入占用。
	writeCached(t, env.files, 4, "late")

	report, err := env.manager.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.RemovedRows)
	assert.Equal(t, 2, report.AdoptedFiles)
	assert.Equal(t, uint64(13), report.BytesUsed)
	assert.Equal(t, []int{1, 3, 4}, remainingIDs(t, env.entries))

	adopted, err := env.entries.Get(ctx, 3)
	require.NoError(t, err)
	assert.Zero(t, adopted.DownloadCount)
	assert.True(t, adopted.LastDownload.Equal(orphanTime))
}
