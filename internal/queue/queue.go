// Package queue serializes local generation work: jobs run one at a time in
// arrival order on a worker goroutine that exists only while there is work.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// ErrQueueFull is returned by Enqueue when MaxDepth jobs are already pending.
var ErrQueueFull = errors.New("generation queue is full")

var (
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "proofduck",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Jobs waiting for the local worker",
	})
	jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proofduck",
		Subsystem: "queue",
		Name:      "jobs_total",
		Help:      "Jobs by outcome (ok, error, dropped, rejected)",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(queueDepth, jobsTotal)
}

// Job is one unit of local work. Run's context is cancelled by Reset.
type Job struct {
	ID  string
	Run func(ctx context.Context) error
}

// Config configures a Queue. Hooks run on the worker goroutine.
type Config struct {
	// MaxDepth bounds pending jobs; zero means unbounded.
	MaxDepth int
	// OnError receives the error or recovered panic of a failed job.
	OnError func(Job, error)
	// OnDrop receives each pending job discarded by Reset.
	OnDrop func(Job)
	Logger zerolog.Logger
}

// Queue is a strict FIFO with a single lazily started worker.
type Queue struct {
	cfg Config

	mu         sync.Mutex
	pending    []Job
	running    bool
	processing bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func New(cfg Config) *Queue {
	return &Queue{cfg: cfg}
}

// Enqueue appends job and starts the worker if it is not running.
func (q *Queue) Enqueue(job Job) error {
	if job.Run == nil {
		return errors.New("queue: job has no Run func")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cfg.MaxDepth > 0 && len(q.pending) >= q.cfg.MaxDepth {
		jobsTotal.WithLabelValues("rejected").Inc()
		return ErrQueueFull
	}
	q.pending = append(q.pending, job)
	queueDepth.Set(float64(len(q.pending)))
	if !q.running {
		q.running = true
		q.wg.Add(1)
		go q.work()
	}
	return nil
}

// Len returns the number of pending jobs, excluding the running one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// IsProcessing reports whether a job is running.
func (q *Queue) IsProcessing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// Reset drops pending jobs, reporting each to OnDrop, and cancels the
// running job's context. The worker moves on once that job returns.
func (q *Queue) Reset() {
	q.mu.Lock()
	dropped := q.pending
	q.pending = nil
	queueDepth.Set(0)
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()

	if len(dropped) > 0 {
		q.cfg.Logger.Info().Int("dropped", len(dropped)).Msg("queue event=reset")
	}
	for _, j := range dropped {
		jobsTotal.WithLabelValues("dropped").Inc()
		if q.cfg.OnDrop != nil {
			q.cfg.OnDrop(j)
		}
	}
}

// Drain blocks until the worker goroutine has exited. Callers must stop
// enqueueing first.
func (q *Queue) Drain() { q.wg.Wait() }

// Close resets the queue and waits for the worker.
func (q *Queue) Close() {
	q.Reset()
	q.Drain()
}

func (q *Queue) work() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.processing = false
			q.mu.Unlock()
			return
		}
		job := q.pending[0]
		q.pending[0] = Job{}
		q.pending = q.pending[1:]
		queueDepth.Set(float64(len(q.pending)))
		ctx, cancel := context.WithCancel(context.Background())
		q.cancel = cancel
		q.processing = true
		q.mu.Unlock()

		err := runJob(ctx, job)
		cancel()

		q.mu.Lock()
		q.cancel = nil
		q.processing = false
		q.mu.Unlock()

		if err != nil {
			jobsTotal.WithLabelValues("error").Inc()
			q.cfg.Logger.Debug().Err(err).Str("job", job.ID).Msg("queue event=job_error")
			q.report(job, err)
			continue
		}
		jobsTotal.WithLabelValues("ok").Inc()
	}
}

func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return job.Run(ctx)
}

// report calls OnError, keeping a panicking hook from killing the worker.
func (q *Queue) report(job Job, err error) {
	if q.cfg.OnError == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			q.cfg.Logger.Error().Interface("panic", p).Str("job", job.ID).Msg("queue event=hook_panic")
		}
	}()
	q.cfg.OnError(job, err)
}
