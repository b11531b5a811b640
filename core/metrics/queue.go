package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/certflow/core/queue"
)

// TaskCounter reports how many tasks of a queue are in a status.
type TaskCounter interface {
	CountTasks(ctx context.Context, queue string, status queue.TaskStatus) (int, error)
}

var queueTasksDesc = prometheus.NewDesc(
	"certflow_queue_tasks",
	"Tasks per queue and status at scrape time",
	[]string{"queue", "status"}, nil,
)

var trackedStatuses = []queue.TaskStatus{
	queue.TaskStatusPending,
	queue.TaskStatusWaitingChildren,
	queue.TaskStatusProcessing,
	queue.TaskStatusFailed,
}

// QueueCollector reads queue depth from storage on every scrape.
type QueueCollector struct {
	counter TaskCounter
	queues  []string
	timeout time.Duration
}

// NewQueueCollector creates a collector for queues.
func NewQueueCollector(counter TaskCounter, queues ...string) *QueueCollector {
	return &QueueCollector{counter: counter, queues: queues, timeout: 5 * time.Second}
}

func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- queueTasksDesc
}

// Collect skips a sample whose count query failed.
func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	for _, q := range c.queues {
		for _, status := range trackedStatuses {
			n, err := c.counter.CountTasks(ctx, q, status)
			if err != nil {
				continue
			}
			ch <- prometheus.MustNewConstMetric(queueTasksDesc, prometheus.GaugeValue, float64(n), q, string(status))
		}
	}
}
