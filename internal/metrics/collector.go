package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// QueueStats provides the metrics collector access to job queue state.
type QueueStats interface {
	Pending() int
	Active() int
	Tracked() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	stats QueueStats

	// Descriptors for scrape-time gauges.
	jobsPending *prometheus.Desc
	jobsActive  *prometheus.Desc
	jobsTracked *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// stats may be nil if no job queue is running (metrics will report 0).
func NewCollector(stats QueueStats) *Collector {
	return &Collector{
		stats: stats,
		jobsPending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "jobs", "pending"),
			"Jobs waiting in the queue.",
			nil, nil,
		),
		jobsActive: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "jobs", "active"),
			"Jobs currently being processed.",
			nil, nil,
		),
		jobsTracked: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "jobs", "tracked"),
			"Jobs held in the status store, including finished ones.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobsPending
	ch <- c.jobsActive
	ch <- c.jobsTracked
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var pending, active, tracked int
	if c.stats != nil {
		pending = c.stats.Pending()
		active = c.stats.Active()
		tracked = c.stats.Tracked()
	}
	ch <- prometheus.MustNewConstMetric(c.jobsPending, prometheus.GaugeValue, float64(pending))
	ch <- prometheus.MustNewConstMetric(c.jobsActive, prometheus.GaugeValue, float64(active))
	ch <- prometheus.MustNewConstMetric(c.jobsTracked, prometheus.GaugeValue, float64(tracked))
}
