package metrics

import (
	"time"

	"github.com/finbase/stockpulse/pkg/types"
)

// TaskLister provides the task snapshots the collector samples.
// Implemented by the task manager.
type TaskLister interface {
	ListTasks() []*types.Task
}

// Collector periodically samples task-status gauges from the manager
type Collector struct {
	lister   TaskLister
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(lister TaskLister) *Collector {
	return &Collector{
		lister:   lister,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
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

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	counts := make(map[types.Status]int)
	for _, task := range c.lister.ListTasks() {
		counts[task.Status]++
	}

	for _, status := range []types.Status{
		types.StatusPending,
		types.StatusRunning,
		types.StatusPaused,
		types.StatusStopped,
		types.StatusCompleted,
		types.StatusFailed,
		types.StatusCancelled,
	} {
		TasksTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
