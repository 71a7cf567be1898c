// Package queue schedules consensus jobs: a priority queue with per-question
// deduplication, a fixed worker pool, and exponential-backoff retries for
// transient failures. The queue is optional; when disabled, jobs run inline
// on the caller with the same contract.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dev.swarm.consensus/internal/config"
	"dev.swarm.consensus/internal/engine"
)

// State is the lifecycle state of a job.
type State string

const (
	StateIdle      State = "idle"
	StateQueued    State = "queued"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job is one scheduled consensus run.
type Job struct {
	ID          string
	Request     engine.Request
	Priority    int
	Attempts    int
	EnqueuedAt  time.Time
	NotBefore   time.Time // earliest execution time, moved by backoff
	State       State
	CompletedAt *time.Time
	FailReason  string

	index int // heap position
}

// EnqueueResult is returned from Enqueue. When a job for the question is
// already in flight, the existing job's id is returned with StateQueued.
type EnqueueResult struct {
	JobID       string
	State       State
	EstimatedMs int64
}

// Status describes the most recent job for a question.
type Status struct {
	State       State
	CompletedAt *time.Time
	FailReason  string
}

// Stats exposes queue occupancy for observability.
type Stats struct {
	Waiting   int
	Active    int
	Completed int64
	Failed    int64
}

// Queue runs consensus jobs through the engine.
type Queue struct {
	cfg    config.QueueConfig
	engine *engine.Engine
	log    *logrus.Logger

	mu         sync.Mutex
	waiting    jobHeap
	byQuestion map[string]*Job // jobs in {queued, active}
	lastDone   map[string]*Job // latest terminal job per question
	completed  int64
	failed     int64

	wake    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates a queue. Start must be called before jobs are processed
// unless the queue is disabled.
func New(cfg config.QueueConfig, eng *engine.Engine, log *logrus.Logger) *Queue {
	if log == nil {
		log = logrus.New()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	return &Queue{
		cfg:        cfg,
		engine:     eng,
		log:        log,
		byQuestion: make(map[string]*Job),
		lastDone:   make(map[string]*Job),
		wake:       make(chan struct{}, 1),
	}
}

// Start launches the worker pool.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return fmt.Errorf("queue already started")
	}
	q.started = true
	q.ctx, q.cancel = context.WithCancel(ctx)

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.log.WithField("workers", q.cfg.Workers).Info("Consensus queue started")
	return nil
}

// Stop cancels all workers and waits for in-flight jobs to release.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	cancel := q.cancel
	q.mu.Unlock()

	cancel()
	q.wg.Wait()
	q.log.Info("Consensus queue stopped")
}

// Enqueue schedules a consensus run. At most one job per question may be
// waiting or active; a duplicate submission returns the existing job.
// When the queue is disabled the job runs synchronously on ctx, retries
// included.
func (q *Queue) Enqueue(ctx context.Context, req engine.Request, priority int) (*EnqueueResult, error) {
	if !q.cfg.Enabled {
		return q.runInline(ctx, req)
	}

	q.mu.Lock()
	if existing, ok := q.byQuestion[req.QuestionID]; ok {
		res := &EnqueueResult{
			JobID:       existing.ID,
			State:       StateQueued,
			EstimatedMs: q.estimateLocked(),
		}
		q.mu.Unlock()
		return res, nil
	}

	job := &Job{
		ID:         uuid.New().String(),
		Request:    req,
		Priority:   priority,
		EnqueuedAt: time.Now(),
		State:      StateQueued,
	}
	q.byQuestion[req.QuestionID] = job
	heap.Push(&q.waiting, job)
	depthGauge.Set(float64(q.waiting.Len()))
	est := q.estimateLocked()
	q.mu.Unlock()

	q.kick()
	return &EnqueueResult{JobID: job.ID, State: StateQueued, EstimatedMs: est}, nil
}

// Status reports the state of the most recent job for a question.
func (q *Queue) Status(questionID string) Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job, ok := q.byQuestion[questionID]; ok {
		return Status{State: job.State}
	}
	if job, ok := q.lastDone[questionID]; ok {
		return Status{State: job.State, CompletedAt: job.CompletedAt, FailReason: job.FailReason}
	}
	return Status{State: StateIdle}
}

// Stats returns queue occupancy counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	active := 0
	for _, job := range q.byQuestion {
		if job.State == StateActive {
			active++
		}
	}
	return Stats{
		Waiting:   q.waiting.Len(),
		Active:    active,
		Completed: q.completed,
		Failed:    q.failed,
	}
}

// estimateLocked guesses completion latency from queue depth and pool size.
func (q *Queue) estimateLocked() int64 {
	perJob := int64(500)
	depth := int64(q.waiting.Len())/int64(q.cfg.Workers) + 1
	return depth * perJob
}

func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	log := q.log.WithField("worker", id)

	for {
		job, wait := q.pop()
		if job == nil {
			if q.ctx.Err() != nil {
				return
			}
			timer := time.NewTimer(wait)
			select {
			case <-q.ctx.Done():
				timer.Stop()
				return
			case <-q.wake:
				timer.Stop()
			case <-timer.C:
			}
			continue
		}

		q.execute(job, log)
	}
}

// pop returns the best ready job (priority descending, then enqueue time), or
// nil and the duration to sleep before checking again. A job backing off at
// the top of the heap never blocks ready jobs behind it.
func (q *Queue) pop() (*Job, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.waiting.Len() == 0 {
		return nil, time.Minute
	}

	now := time.Now()
	best := -1
	wait := time.Minute
	for i, j := range q.waiting {
		if j.NotBefore.After(now) {
			if d := j.NotBefore.Sub(now); d < wait {
				wait = d
			}
			continue
		}
		if best < 0 || q.waiting.Less(i, best) {
			best = i
		}
	}
	if best < 0 {
		return nil, wait
	}

	job := heap.Remove(&q.waiting, best).(*Job)
	job.State = StateActive
	depthGauge.Set(float64(q.waiting.Len()))
	return job, 0
}

func (q *Queue) execute(job *Job, log *logrus.Entry) {
	_, err := q.engine.Run(q.ctx, job.Request)
	job.Attempts++

	if err == nil {
		q.finish(job, StateCompleted, "")
		jobsTotal.WithLabelValues("completed").Inc()
		return
	}

	if engine.Retryable(err) && job.Attempts < q.cfg.MaxAttempts {
		backoff := q.cfg.BackoffBase * (1 << uint(job.Attempts))
		log.WithError(err).WithFields(logrus.Fields{
			"question": job.Request.QuestionID,
			"attempt":  job.Attempts,
			"backoff":  backoff,
		}).Warn("Consensus job failed, retrying")

		q.mu.Lock()
		job.State = StateQueued
		job.NotBefore = time.Now().Add(backoff)
		heap.Push(&q.waiting, job)
		depthGauge.Set(float64(q.waiting.Len()))
		q.mu.Unlock()
		jobsTotal.WithLabelValues("retried").Inc()
		return
	}

	log.WithError(err).WithField("question", job.Request.QuestionID).
		Error("Consensus job failed permanently")
	q.finish(job, StateFailed, engine.Reason(err))
	jobsTotal.WithLabelValues("failed").Inc()
	q.engine.PublishFailure(q.ctx, job.Request.QuestionID, err, job.Attempts)
}

func (q *Queue) finish(job *Job, state State, reason string) {
	now := time.Now()
	q.mu.Lock()
	defer q.mu.Unlock()

	job.State = state
	job.CompletedAt = &now
	job.FailReason = reason
	delete(q.byQuestion, job.Request.QuestionID)
	q.lastDone[job.Request.QuestionID] = job
	if state == StateCompleted {
		q.completed++
	} else {
		q.failed++
	}
}

// runInline executes the job synchronously with the queue's retry contract.
// Dedup still applies: a concurrent inline run for the same question joins
// as a duplicate.
func (q *Queue) runInline(ctx context.Context, req engine.Request) (*EnqueueResult, error) {
	q.mu.Lock()
	if existing, ok := q.byQuestion[req.QuestionID]; ok {
		res := &EnqueueResult{JobID: existing.ID, State: StateQueued}
		q.mu.Unlock()
		return res, nil
	}
	job := &Job{
		ID:         uuid.New().String(),
		Request:    req,
		EnqueuedAt: time.Now(),
		State:      StateActive,
	}
	q.byQuestion[req.QuestionID] = job
	q.mu.Unlock()

	var err error
	for {
		_, err = q.engine.Run(ctx, req)
		job.Attempts++
		if err == nil {
			q.finish(job, StateCompleted, "")
			return &EnqueueResult{JobID: job.ID, State: StateCompleted}, nil
		}
		if !engine.Retryable(err) || job.Attempts >= q.cfg.MaxAttempts {
			break
		}
		backoff := q.cfg.BackoffBase * (1 << uint(job.Attempts))
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			q.finish(job, StateFailed, engine.ReasonCancelled)
			q.engine.PublishFailure(ctx, req.QuestionID, err, job.Attempts)
			return nil, err
		case <-timer.C:
		}
	}

	q.finish(job, StateFailed, engine.Reason(err))
	q.engine.PublishFailure(ctx, req.QuestionID, err, job.Attempts)
	return nil, err
}

// jobHeap orders jobs by priority descending, then enqueue time ascending.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x interface{}) {
	job := x.(*Job)
	job.index = len(*h)
	*h = append(*h, job)
}

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}

