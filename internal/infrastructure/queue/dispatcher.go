package queue

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/deliverly/marketplace-api/internal/core/ports"
	"github.com/deliverly/marketplace-api/internal/pkg/metrics"
)

const (
	defaultWorkers     = 4
	channelBuffer      = 256
	defaultTaskTimeout = 5 * time.Second
)

type job struct {
	key  string
	name string
	task ports.Task
}

// Dispatcher runs background tasks on a fixed set of workers, sharding by key
// with consistent hashing so tasks for the same key run in enqueue order.
type Dispatcher struct {
	mu      sync.RWMutex
	closed  bool
	workers []chan job
	timeout time.Duration
	log     zerolog.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers: make([]chan job, numWorkers),
		timeout: defaultTaskTimeout,
		log:     log,
	}
	for i := range d.workers {
		d.workers[i] = make(chan job, channelBuffer)
	}
	return d
}

// Start launches all worker goroutines. Tasks inherit ctx values but not its
// cancellation, so Stop can drain them after the server context is done.
func (d *Dispatcher) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	for i, ch := range d.workers {
		d.wg.Add(1)
		go d.runWorker(base, i, ch)
	}
}

// Enqueue hands a task to the worker responsible for key. It never blocks:
// a full shard or a stopped dispatcher drops the task and returns false.
func (d *Dispatcher) Enqueue(key, name string, task ports.Task) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.TasksDroppedTotal.WithLabelValues(name).Inc()
		return false
	}

	idx := d.shardIndex(key)
	select {
	case d.workers[idx] <- job{key: key, name: name, task: task}:
		metrics.TasksQueueDepth.WithLabelValues(strconv.Itoa(idx)).Inc()
		return true
	default:
		metrics.TasksDroppedTotal.WithLabelValues(name).Inc()
		d.log.Warn().Str("task", name).Str("key", key).Int("worker_id", idx).Msg("worker queue full, task dropped")
		return false
	}
}

// Stop refuses new tasks, lets the workers drain what is queued and waits
// for them to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, ch := range d.workers {
			close(ch)
		}
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// shardIndex maps a key deterministically to a worker index.
func (d *Dispatcher) shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan job) {
	defer d.wg.Done()
	workerID := strconv.Itoa(id)
	for j := range ch {
		metrics.TasksQueueDepth.WithLabelValues(workerID).Dec()
		d.run(ctx, id, j)
	}
}

func (d *Dispatcher) run(ctx context.Context, id int, j job) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := j.task(ctx)
	result := "ok"
	if err != nil {
		result = "error"
		d.log.Error().Err(err).
			Str("task", j.name).
			Str("key", j.key).
			Int("worker_id", id).
			Msg("background task failed")
	}
	metrics.TaskDuration.WithLabelValues(j.name, result).Observe(time.Since(start).Seconds())
}
