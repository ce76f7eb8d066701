// Package metrics 暴露缓存命中率与上游健康度相关的 Prometheus 指标，
// 采集端通过 /-/metrics 抓取。标签 backend 对应配置里的实例名。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artifact_vault_cache_hits_total",
		Help: "Number of requests served entirely from cache.",
	}, []string{"backend"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artifact_vault_cache_misses_total",
		Help: "Number of requests that triggered an upstream fetch.",
	}, []string{"backend"})

	UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artifact_vault_upstream_errors_total",
		Help: "Upstream and cache-write failures by error kind.",
	}, []string{"backend", "kind"})

	DownloadBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artifact_vault_download_bytes_total",
		Help: "Bytes streamed from upstream sources.",
	}, []string{"backend"})
)
