package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/Chimu-moe/pisstaube/internal/cache"
)

var (
	// ErrUpstreamDisabled 表示未配置回源地址。
	ErrUpstreamDisabled = errors.New("mirror upstream disabled")
	// ErrUpstreamStatus 表示上游返回了非 200 状态。
	ErrUpstreamStatus = errors.New("unexpected upstream status")
)

var promCounterFetches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pisstaube_mirror_fetches_total",
	Help: "The total number of upstream archive fetches by result",
}, []string{"result"})

// Archives 是 Fetcher 依赖的缓存能力，由 cache.Manager 实现。
type Archives interface {
	Open(ctx context.Context, setID int) (*cache.ReadResult, error)
	Put(ctx context.Context, setID int, body io.Reader) (*cache.Entry, error)
}

// Fetcher 在缓存未命中时回源下载并写入缓存。
type Fetcher struct {
	archives Archives
	client   *http.Client
	upstream string
	logger   *logrus.Logger
	group    singleflight.Group
}

// NewFetcher 构造 Fetcher；upstream 为空时只提供缓存命中。
func NewFetcher(archives Archives, client *http.Client, upstream string, logger *logrus.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		archives: archives,
		client:   client,
		upstream: strings.TrimSpace(upstream),
		logger:   logger,
	}
}

// Open 返回缓存中的归档，未命中时回源。hit 表示是否直接命中缓存。
func (f *Fetcher) Open(ctx context.Context, setID int) (result *cache.ReadResult, hit bool, err error) {
	result, err = f.archives.Open(ctx, setID)
	if err == nil {
		return result, true, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		return nil, false, err
	}
	if f.upstream == "" {
		return nil, false, ErrUpstreamDisabled
	}

	// 同一 SetID 的并发未命中只回源一次；首个请求方断开不应影响其余等待者。
	fetchCtx := context.WithoutCancel(ctx)
	_, err, _ = f.group.Do(strconv.Itoa(setID), func() (any, error) {
		return nil, f.fetch(fetchCtx, setID)
	})
	if err != nil {
		return nil, false, err
	}

	result, err = f.archives.Open(ctx, setID)
	return result, false, err
}

func (f *Fetcher) fetch(ctx context.Context, setID int) error {
	started := time.Now()
	target := fmt.Sprintf(f.upstream, setID)
	fields := logrus.Fields{"action": "mirror_fetch", "set_id": setID, "upstream": target}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		promCounterFetches.WithLabelValues("error").Inc()
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		promCounterFetches.WithLabelValues("error").Inc()
		f.logger.WithFields(fields).WithError(err).Warn("upstream request failed")
		return fmt.Errorf("fetch set %d: %w", setID, err)
	}
	defer resp.Body.Close()

	fields["status"] = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		promCounterFetches.WithLabelValues("status").Inc()
		f.logger.WithFields(fields).Warn("upstream returned non-200")
		return fmt.Errorf("%w: %d for set %d", ErrUpstreamStatus, resp.StatusCode, setID)
	}

	entry, err := f.archives.Put(ctx, setID, resp.Body)
	if err != nil {
		promCounterFetches.WithLabelValues("store").Inc()
		f.logger.WithFields(fields).WithError(err).Warn("store fetched archive failed")
		return err
	}

	promCounterFetches.WithLabelValues("ok").Inc()
	fields["size"] = entry.SizeBytes
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	f.logger.WithFields(fields).Info("archive fetched")
	return nil
}
