package lsmt

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// 读路径上的采样点，全部是建议性的
type Metrics struct {
	HandleAcquire prometheus.Histogram
	ModelQuery    prometheus.Histogram
	BlockRead     prometheus.Histogram
	BinarySearch  prometheus.Histogram

	FilterMiss        prometheus.Counter
	LearnedReads      prometheus.Counter
	ConventionalReads prometheus.Counter
	BoundsProvided    prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	histogram := func(name, help string) prometheus.Histogram {
		return prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "learnedkv",
			Subsystem: "table_cache",
			Name:      name,
			Help:      help,
			Buckets:   prometheus.ExponentialBuckets(1e-6, 2, 20),
		})
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "learnedkv",
			Subsystem: "table_cache",
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		HandleAcquire: histogram("handle_acquire_seconds", "缓存handle获取耗时"),
		ModelQuery:    histogram("model_query_seconds", "学习模型位置查询耗时"),
		BlockRead:     histogram("block_read_seconds", "data block读取耗时"),
		BinarySearch:  histogram("binary_search_seconds", "块内二分查找耗时"),

		FilterMiss:        counter("filter_miss_total", "filter判定key不存在的次数"),
		LearnedReads:      counter("learned_reads_total", "走学习路径的点查次数"),
		ConventionalReads: counter("conventional_reads_total", "走常规路径的点查次数"),
		BoundsProvided:    counter("bounds_provided_total", "调用方自带位置区间的次数"),
	}
	if reg != nil {
		reg.MustRegister(
			m.HandleAcquire, m.ModelQuery, m.BlockRead, m.BinarySearch,
			m.FilterMiss, m.LearnedReads, m.ConventionalReads, m.BoundsProvided,
		)
	}
	return m
}

// 采样一段耗时
func (m *Metrics) observeSince(h prometheus.Histogram, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
