package blockwatch

import (
	"github.com/prometheus/client_golang/prometheus"

	"blockwatch/sampler"
)

// Collector exports a canary's counters to Prometheus.
type Collector struct {
	canary *Canary

	blocksDesc       *prometheus.Desc
	filteredDesc     *prometheus.Desc
	lastBlockDesc    *prometheus.Desc
	samplerTicks     *prometheus.Desc
	samplerFailures  *prometheus.Desc
	samplerRetained  *prometheus.Desc
	thresholdSeconds *prometheus.Desc
}

func NewCollector(c *Canary) *Collector {
	return &Collector{
		canary: c,
		blocksDesc: prometheus.NewDesc(
			"blockwatch_blocks_total",
			"Units of work that ran longer than the block threshold.",
			nil, nil),
		filteredDesc: prometheus.NewDesc(
			"blockwatch_blocks_filtered_total",
			"Block reports dropped by the concern or white-list filter.",
			nil, nil),
		lastBlockDesc: prometheus.NewDesc(
			"blockwatch_last_block_duration_seconds",
			"Wall-clock duration of the most recent block.",
			nil, nil),
		samplerTicks: prometheus.NewDesc(
			"blockwatch_sampler_ticks_total",
			"Sampler ticks executed.",
			[]string{"sampler"}, nil),
		samplerFailures: prometheus.NewDesc(
			"blockwatch_sampler_failures_total",
			"Sampler ticks that produced no entry because capture failed.",
			[]string{"sampler"}, nil),
		samplerRetained: prometheus.NewDesc(
			"blockwatch_sampler_entries",
			"Entries currently retained in the sampler ring.",
			[]string{"sampler"}, nil),
		thresholdSeconds: prometheus.NewDesc(
			"blockwatch_block_threshold_seconds",
			"Configured block threshold.",
			nil, nil),
	}
}

// Describe implements the prometheus.Collector interface
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.blocksDesc
	ch <- c.filteredDesc
	ch <- c.lastBlockDesc
	ch <- c.samplerTicks
	ch <- c.samplerFailures
	ch <- c.samplerRetained
	ch <- c.thresholdSeconds
}

// Collect implements the prometheus.Collector interface
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	blocks, filtered := c.canary.Stats()
	ch <- prometheus.MustNewConstMetric(c.blocksDesc, prometheus.CounterValue, float64(blocks))
	ch <- prometheus.MustNewConstMetric(c.filteredDesc, prometheus.CounterValue, float64(filtered))
	ch <- prometheus.MustNewConstMetric(c.lastBlockDesc, prometheus.GaugeValue, c.canary.LastBlockDuration().Seconds())
	ch <- prometheus.MustNewConstMetric(c.thresholdSeconds, prometheus.GaugeValue, c.canary.Monitor().Threshold().Seconds())

	c.collectSampler(ch, "stack", c.canary.StackSampler().Stats())
	c.collectSampler(ch, "cpu", c.canary.CPUSampler().Stats())
}

func (c *Collector) collectSampler(ch chan<- prometheus.Metric, name string, st sampler.Stats) {
	ch <- prometheus.MustNewConstMetric(c.samplerTicks, prometheus.CounterValue, float64(st.Ticks), name)
	ch <- prometheus.MustNewConstMetric(c.samplerFailures, prometheus.CounterValue, float64(st.Failures), name)
	ch <- prometheus.MustNewConstMetric(c.samplerRetained, prometheus.GaugeValue, float64(st.Entries), name)
}
