package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"raidwatch/internal/apperr"
	"raidwatch/internal/config"
)

// State is the lifecycle stage of a job. Terminal states never change.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// RunFunc is the unit of work a job executes. It receives the job context,
// which is canceled on Cancel and bounded by the job timeout.
type RunFunc func(ctx context.Context) (any, error)

// Job is the internal record; consumers observe it through Status.
type Job struct {
	ID          string
	Fingerprint string
	CreatedAt   time.Time

	mu         sync.Mutex
	state      State
	startedAt  time.Time
	finishedAt time.Time
	result     any
	err        error

	run    RunFunc
	cancel context.CancelFunc
	done   chan struct{}
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Result returns the terminal outcome; valid only after Done is closed.
func (j *Job) Result() (any, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.err
}

// Status is the caller-visible view of a job. Position is 0 while running,
// the 1-based queue index while queued, and absent once terminal.
type Status struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	State       State     `json:"state"`
	Position    *int      `json:"position,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Result      any       `json:"result,omitempty"`
}

// Queue is a bounded worker pool with FIFO admission. Jobs run strictly in
// admission order; completed jobs linger for the configured retention and
// are then garbage collected.
type Queue struct {
	logger       zerolog.Logger
	workers      int
	jobTimeout   time.Duration
	completedTTL time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	jobs    map[string]*Job
	pending []*Job
	closed  bool

	wg       sync.WaitGroup
	gcStop   chan struct{}
	gcTicker *time.Ticker
	now      func() time.Time
}

func New(cfg *config.Config, logger zerolog.Logger) *Queue {
	q := &Queue{
		logger:       logger,
		workers:      cfg.MaxConcurrentReports,
		jobTimeout:   cfg.JobTimeout,
		completedTTL: cfg.CompletedJobTTL,
		jobs:         map[string]*Job{},
		gcStop:       make(chan struct{}),
		now:          time.Now,
	}
	q.cond = sync.NewCond(&q.mu)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.gcTicker = time.NewTicker(time.Minute)
	q.wg.Add(1)
	go q.gcLoop()

	return q
}

// Submit admits a job at the tail of the queue and returns immediately.
func (q *Queue) Submit(fingerprint string, run RunFunc) *Job {
	job := &Job{
		ID:          uuid.New().String(),
		Fingerprint: fingerprint,
		CreatedAt:   q.now(),
		state:       StateQueued,
		run:         run,
		done:        make(chan struct{}),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		job.finish(nil, apperr.New(apperr.KindCanceled, "queue is shutting down"))
		return job
	}
	q.jobs[job.ID] = job
	q.pending = append(q.pending, job)
	q.mu.Unlock()
	q.cond.Signal()

	q.logger.Debug().Str("job_id", job.ID).Str("fingerprint", fingerprint).Msg("job admitted")
	return job
}

// WaitInline blocks up to d for the job to finish. It reports whether the
// job reached a terminal state within the window.
func (q *Queue) WaitInline(job *Job, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-job.Done():
		return true
	case <-timer.C:
		return false
	}
}

// Status returns the caller-visible state of a job.
func (q *Queue) Status(id string) (Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return Status{}, false
	}

	job.mu.Lock()
	defer job.mu.Unlock()

	st := Status{
		ID:          job.ID,
		Fingerprint: job.Fingerprint,
		State:       job.state,
		CreatedAt:   job.CreatedAt,
	}
	switch job.state {
	case StateRunning:
		pos := 0
		st.Position = &pos
	case StateQueued:
		for i, p := range q.pending {
			if p.ID == id {
				pos := i + 1
				st.Position = &pos
				break
			}
		}
	case StateCompleted:
		st.Result = job.result
	case StateFailed:
		if job.err != nil {
			st.Error = job.err.Error()
		}
	}
	return st, true
}

// Cancel marks a queued job failed immediately; for a running job it
// cancels the job context, and how the job stops is left to its RunFunc.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return false
	}

	job.mu.Lock()
	switch job.state {
	case StateQueued:
		for i, p := range q.pending {
			if p.ID == id {
				q.pending = append(q.pending[:i], q.pending[i+1:]...)
				break
			}
		}
		job.state = StateFailed
		job.err = apperr.New(apperr.KindCanceled, "job canceled while queued")
		job.finishedAt = q.now()
		close(job.done)
		job.mu.Unlock()
		q.mu.Unlock()
		q.logger.Info().Str("job_id", id).Msg("queued job canceled")
		return true
	case StateRunning:
		cancel := job.cancel
		job.mu.Unlock()
		q.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		q.logger.Info().Str("job_id", id).Msg("running job cancellation requested")
		return true
	default:
		job.mu.Unlock()
		q.mu.Unlock()
		return false
	}
}

// Close stops the workers after their current job and ends the GC loop.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	// Queued jobs will never run.
	for _, job := range q.pending {
		job.finish(nil, apperr.New(apperr.KindCanceled, "queue is shutting down"))
	}
	q.pending = nil
	q.mu.Unlock()

	q.cond.Broadcast()
	close(q.gcStop)
	q.gcTicker.Stop()
	q.wg.Wait()
}

func (q *Queue) worker(n int) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		job := q.pending[0]
		q.pending = q.pending[1:]

		ctx, cancel := context.WithTimeout(context.Background(), q.jobTimeout)
		job.mu.Lock()
		job.state = StateRunning
		job.startedAt = q.now()
		job.cancel = cancel
		job.mu.Unlock()
		q.mu.Unlock()

		q.logger.Debug().Str("job_id", job.ID).Int("worker", n).Msg("job started")
		result, err := job.run(ctx)
		cancel()

		if err != nil && !isAppClassified(err) {
			if errors.Is(err, context.DeadlineExceeded) {
				err = apperr.Wrap(apperr.KindTimeout, err, "job exceeded wall-clock budget")
			} else if errors.Is(err, context.Canceled) {
				err = apperr.Wrap(apperr.KindCanceled, err, "job canceled")
			}
		}
		job.finish(result, err)

		if err != nil {
			q.logger.Warn().Str("job_id", job.ID).Err(err).Msg("job failed")
		} else {
			q.logger.Debug().Str("job_id", job.ID).Msg("job completed")
		}
	}
}

func (q *Queue) gcLoop() {
	defer q.wg.Done()
	for {
		select {
		case <-q.gcStop:
			return
		case <-q.gcTicker.C:
			q.collect()
		}
	}
}

func (q *Queue) collect() {
	cutoff := q.now().Add(-q.completedTTL)
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, job := range q.jobs {
		job.mu.Lock()
		expired := (job.state == StateCompleted || job.state == StateFailed) && job.finishedAt.Before(cutoff)
		job.mu.Unlock()
		if expired {
			delete(q.jobs, id)
		}
	}
}

func (j *Job) finish(result any, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == StateCompleted || j.state == StateFailed {
		return
	}
	j.finishedAt = time.Now()
	if err != nil {
		j.state = StateFailed
		j.err = err
	} else {
		j.state = StateCompleted
		j.result = result
	}
	close(j.done)
}

func isAppClassified(err error) bool {
	return apperr.KindOf(err) != ""
}
