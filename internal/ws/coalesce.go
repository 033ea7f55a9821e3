package ws

import (
	"log/slog"
	"math"
	"strconv"
	"sync"

	"github.com/watchr/watchr/internal/metrics"
)

// thresholdSlack absorbs float error in decimal steps such as 10.0 -> 10.1.
const thresholdSlack = 1e-9

// Coalescer drops position restatements that are too close to the last value
// sent. Only the configured property names are coalesced; everything else is
// always forwarded.
type Coalescer struct {
	mu        sync.Mutex
	names     map[string]bool
	threshold float64
	last      map[string]float64
	log       *slog.Logger
	metrics   *metrics.Metrics
}

func NewCoalescer(names []string, threshold float64, log *slog.Logger, m *metrics.Metrics) *Coalescer {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return &Coalescer{
		names:     set,
		threshold: threshold,
		last:      make(map[string]float64),
		log:       log,
		metrics:   m,
	}
}

// Admit reports whether u should be sent. A value lower than the last one
// sent is a seek and always passes. Suppressed values leave the baseline
// where it was, so slow drift still crosses the threshold eventually.
func (c *Coalescer) Admit(u Update) bool {
	if !c.names[u.Property] {
		return true
	}

	v, err := strconv.ParseFloat(u.Value, 64)
	if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
		err = strconv.ErrRange
	}
	if err != nil {
		c.log.Warn("coalesce: non-numeric value, forwarding",
			"property", u.Property, "value", u.Value, "error", err)
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	last, seen := c.last[u.Property]
	if !seen || v < last || v-last >= c.threshold-thresholdSlack {
		c.last[u.Property] = v
		return true
	}

	c.metrics.IncCoalesced()
	return false
}

// Reset forgets the baseline for name.
func (c *Coalescer) Reset(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, name)
}
