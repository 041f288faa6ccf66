// Package metrics is a minimal Prometheus-text-format collector: counters,
// gauges, and fixed-bucket histograms kept in sync.Maps, exposed by an
// http.Handler. No client library, no registry indirection.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Collector holds all metric series for the process.
type Collector struct {
	counters   sync.Map // name -> *atomic.Int64
	gauges     sync.Map // name -> *atomic.Int64
	histograms sync.Map // name -> *histogram
	started    time.Time
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []int64
	sum     float64
	total   int64
}

// New creates a Collector with the process start time recorded for uptime.
func New() *Collector {
	return &Collector{started: time.Now()}
}

// Inc adds one to a counter.
func (c *Collector) Inc(name string) {
	c.Add(name, 1)
}

// Add adds delta to a counter.
func (c *Collector) Add(name string, delta int64) {
	v, _ := c.counters.LoadOrStore(name, &atomic.Int64{})
	v.(*atomic.Int64).Add(delta)
}

// SetGauge sets a gauge to value.
func (c *Collector) SetGauge(name string, value int64) {
	v, _ := c.gauges.LoadOrStore(name, &atomic.Int64{})
	v.(*atomic.Int64).Store(value)
}

// Observe records a histogram sample in seconds.
func (c *Collector) Observe(name string, seconds float64) {
	v, _ := c.histograms.LoadOrStore(name, &histogram{
		buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
	h := v.(*histogram)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.counts == nil {
		h.counts = make([]int64, len(h.buckets))
	}
	for i, ub := range h.buckets {
		if seconds <= ub {
			h.counts[i]++
		}
	}
	h.sum += seconds
	h.total++
}

// Handler serves all series in Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		fmt.Fprintf(w, "# TYPE minibridge_uptime_seconds gauge\n")
		fmt.Fprintf(w, "minibridge_uptime_seconds %.0f\n", time.Since(c.started).Seconds())

		for _, name := range c.sortedKeys(&c.counters) {
			v, _ := c.counters.Load(name)
			fmt.Fprintf(w, "# TYPE %s counter\n%s %d\n", name, name, v.(*atomic.Int64).Load())
		}
		for _, name := range c.sortedKeys(&c.gauges) {
			v, _ := c.gauges.Load(name)
			fmt.Fprintf(w, "# TYPE %s gauge\n%s %d\n", name, name, v.(*atomic.Int64).Load())
		}
		for _, name := range c.sortedKeys(&c.histograms) {
			v, _ := c.histograms.Load(name)
			h := v.(*histogram)
			h.mu.Lock()
			fmt.Fprintf(w, "# TYPE %s histogram\n", name)
			for i, ub := range h.buckets {
				var count int64
				if i < len(h.counts) {
					count = h.counts[i]
				}
				fmt.Fprintf(w, "%s_bucket{le=%q} %d\n", name, fmt.Sprintf("%g", ub), count)
			}
			fmt.Fprintf(w, "%s_bucket{le=\"+Inf\"} %d\n", name, h.total)
			fmt.Fprintf(w, "%s_sum %g\n", name, h.sum)
			fmt.Fprintf(w, "%s_count %d\n", name, h.total)
			h.mu.Unlock()
		}
	})
}

func (c *Collector) sortedKeys(m *sync.Map) []string {
	var keys []string
	m.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

// Metric names used across the bridge.
const (
	PollsTotal          = "minibridge_polls_total"
	PollErrorsTotal     = "minibridge_poll_errors_total"
	UpdatesTotal        = "minibridge_updates_total"
	UpdatesSkipped      = "minibridge_updates_skipped_total"
	UpdatesFailed       = "minibridge_updates_failed_total"
	RepliesTotal        = "minibridge_replies_total"
	ReplyFailuresTotal  = "minibridge_reply_failures_total"
	MediaDownloads      = "minibridge_media_downloads_total"
	MediaDownloadErrors = "minibridge_media_download_errors_total"
	ActiveAccounts      = "minibridge_active_accounts"
	PollLatencySeconds  = "minibridge_poll_latency_seconds"
)
