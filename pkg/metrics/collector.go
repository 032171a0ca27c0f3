package metrics

import (
	"context"
	"time"
)

// StatusCounts reports the number of flights currently in each terminal and
// non-terminal status. Implemented by pkg/journal.Journal.
type StatusCounts interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// LeaderChecker reports whether this instance currently holds the
// retention-janitor leadership. Implemented by pkg/cluster.Elector.
type LeaderChecker interface {
	IsLeader() bool
}

// Collector periodically refreshes the gauge metrics that have no natural
// call site of their own: flight counts by status and cluster leadership.
// Counters and histograms are updated inline by the packages that own the
// operations they measure.
type Collector struct {
	counts StatusCounts
	leader LeaderChecker
	stopCh chan struct{}
}

// NewCollector builds a Collector. leader may be nil when the engine runs
// without cluster leader election, in which case ClusterIsLeader is never
// updated.
func NewCollector(counts StatusCounts, leader LeaderChecker) *Collector {
	return &Collector{
		counts: counts,
		leader: leader,
		stopCh: make(chan struct{}),
	}
}

// Start begins the periodic collection loop in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop ends the collection loop. Safe to call once.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectFlightCounts()
	c.collectLeader()
}

func (c *Collector) collectFlightCounts() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	counts, err := c.counts.CountByStatus(ctx)
	if err != nil {
		return
	}

	for status, n := range counts {
		FlightsTotal.WithLabelValues(status).Set(float64(n))
	}
}

func (c *Collector) collectLeader() {
	if c.leader == nil {
		return
	}
	if c.leader.IsLeader() {
		ClusterIsLeader.Set(1)
	} else {
		ClusterIsLeader.Set(0)
	}
}
