package mirror

import (
	"net"
	"net/http"
	"time"

	"github.com/Chimu-moe/pisstaube/internal/config"
)

const defaultUpstreamTimeout = 30 * time.Second

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   16,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamClient 返回共享 http.Client，用于所有回源请求。
func NewUpstreamClient(cfg config.MirrorConfig) *http.Client {
	timeout := defaultUpstreamTimeout
	if cfg.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.UpstreamTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}
