package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DepthSource exposes the live occupancy counts the collector scrapes.
type DepthSource interface {
	QueueDepths(ctx context.Context) (pending, delayed, inProgress int64, err error)
	StatusCounts(ctx context.Context) (map[string]int64, error)
}

type queueCollector struct {
	src    DepthSource
	logger *slog.Logger

	queueDepth  *prometheus.Desc
	statusCount *prometheus.Desc
}

// RegisterQueueCollector registers a collector that reads queue depth and
// per-status task counts from Redis on every scrape.
func RegisterQueueCollector(src DepthSource, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	prometheus.MustRegister(&queueCollector{
		src:    src,
		logger: logger,
		queueDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "queue_depth"),
			"Current number of jobs per queue segment.",
			[]string{"segment"}, nil,
		),
		statusCount: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "tasks_by_status"),
			"Current number of tasks per status.",
			[]string{"status"}, nil,
		),
	})
}

func (c *queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepth
	ch <- c.statusCount
}

func (c *queueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pending, delayed, inprog, err := c.src.QueueDepths(ctx)
	if err != nil {
		c.logger.Warn("queue depth scrape failed", "err", err)
	} else {
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(pending), "pending")
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(delayed), "delayed")
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(inprog), "in_progress")
	}

	counts, err := c.src.StatusCounts(ctx)
	if err != nil {
		c.logger.Warn("status count scrape failed", "err", err)
		return
	}
	for status, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.statusCount, prometheus.GaugeValue, float64(n), status)
	}
}
