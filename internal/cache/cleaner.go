package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Chimu-moe/pisstaube/internal/cachedb"
)

// MaxEvictionIterations 限制单次腾挪空间时的最大淘汰次数。
const MaxEvictionIterations = 1000

// Policy 决定淘汰候选的挑选方式。
type Policy string

const (
	// PolicyLRU 优先淘汰超过 StaleAfter 未被下载的条目，兜底淘汰最久未下载者。
	PolicyLRU Policy = "lru"
	// PolicyLegacy 保留历史行为：阈值落在未来，兜底淘汰最近下载者。
	PolicyLegacy Policy = "legacy"
)

// ParsePolicy 解析策略名，空串视为 PolicyLRU。
func ParsePolicy(raw string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicyLRU:
		return PolicyLRU, nil
	case PolicyLegacy:
		return PolicyLegacy, nil
	default:
		return "", fmt.Errorf("unknown eviction policy: %q", raw)
	}
}

// FreeStorage 在不写入新数据的前提下，把占用压回预算之内。
// 返回 false 表示候选耗尽或达到迭代上限。
func (m *Manager) FreeStorage(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freeLocked(ctx, 0)
}

// freeLocked 淘汰条目直到 needed 字节可以放入预算。调用方必须持有 m.mu。
func (m *Manager) freeLocked(ctx context.Context, needed uint64) (bool, error) {
	if m.acct.WouldFit(needed) {
		return true, nil
	}

	evicted := 0
	for i := 0; i < MaxEvictionIterations; i++ {
		if m.acct.WouldFit(needed) {
			m.logEviction("cleaner_done", evicted, needed).Info("storage within budget")
			return true, nil
		}

		victim, err := m.pickVictim(ctx)
		if err != nil {
			if errors.Is(err, cachedb.ErrNotFound) {
				promCounterEvictionFailures.Inc()
				m.logEviction("cleaner_no_victim", evicted, needed).Warn("no eviction candidate left")
				return false, nil
			}
			return false, fmt.Errorf("select eviction victim: %w", err)
		}

		if err := m.entries.Delete(ctx, victim.SetID); err != nil {
			return false, fmt.Errorf("delete cache entry %d: %w", victim.SetID, err)
		}

		size, exists, err := m.files.Stat(victim.SetID)
		if err != nil {
			return false, fmt.Errorf("stat cache file %d: %w", victim.SetID, err)
		}
		if exists {
			if err := m.files.Remove(victim.SetID); err != nil {
				return false, fmt.Errorf("remove cache file %d: %w", victim.SetID, err)
			}
			m.acct.RecordDecrease(uint64(size))
			publishUsage(m.acct)
		}

		evicted++
		promCounterEvictions.Inc()
		m.logger.WithFields(logCleanerFields("cleaner_evict", m.acct)).
			WithFields(logrus.Fields{
				"set_id":         victim.SetID,
				"size":           size,
				"download_count": victim.DownloadCount,
				"last_download":  victim.LastDownload,
			}).
			Debug("cache entry evicted")
	}

	if m.acct.WouldFit(needed) {
		m.logEviction("cleaner_done", evicted, needed).Info("storage within budget")
		return true, nil
	}
	promCounterEvictionFailures.Inc()
	m.logEviction("cleaner_iteration_limit", evicted, needed).Warn("eviction iteration limit reached")
	return false, nil
}

// pickVictim 先取超过阈值的条目（按 SetID 顺序），否则按使用情况兜底。
func (m *Manager) pickVictim(ctx context.Context) (cachedb.Entry, error) {
	now := m.now().UTC()
	cutoff := now.Add(-m.staleAfter)
	ascending := true
	if m.policy == PolicyLegacy {
		cutoff = now.Add(m.staleAfter)
		ascending = false
	}

	victim, err := m.entries.FirstDownloadedBefore(ctx, cutoff)
	if err == nil {
		return victim, nil
	}
	if !errors.Is(err, cachedb.ErrNotFound) {
		return cachedb.Entry{}, err
	}
	return m.entries.FirstByUsage(ctx, ascending)
}

func (m *Manager) logEviction(action string, evicted int, needed uint64) *logrus.Entry {
	return m.logger.WithFields(logCleanerFields(action, m.acct)).
		WithFields(logrus.Fields{
			"evicted": evicted,
			"needed":  needed,
			"policy":  string(m.policy),
		})
}

// RunHousekeeping 按 interval 周期性执行 FreeStorage，直到 ctx 结束。
func (m *Manager) RunHousekeeping(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.FreeStorage(ctx); err != nil {
				m.logger.WithError(err).WithField("action", "cache_housekeeping").Error("free storage failed")
			}
		}
	}
}
