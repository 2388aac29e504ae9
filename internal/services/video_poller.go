// internal/services/video_poller.go
package services

import (
	"context"
	"sync"
	"time"

	"github.com/Corphon/ShelfTalk/internal/models"
	"github.com/Corphon/ShelfTalk/internal/utils"
)

// PollState is the lifecycle of one polling task.
type PollState string

const (
	PollPending   PollState = "pending"
	PollSucceeded PollState = "succeeded"
	PollFailed    PollState = "failed"
)

const (
	maxPollErrors   = 5
	maxPollAttempts = 200
)

// VideoStatusChecker is satisfied by VideoService.
type VideoStatusChecker interface {
	Status(ctx context.Context, jobID models.VideoJobID) (*models.VideoJob, error)
}

// PollUpdate is delivered whenever a task observes a status change or ends.
type PollUpdate struct {
	JobID models.VideoJobID `json:"job_id"`
	State PollState         `json:"state"`
	Job   models.VideoJob   `json:"job"`
}

// PollTask polls one job until it reaches a terminal status, fails, or is
// cancelled. Cancelling leaves the state pending.
type PollTask struct {
	JobID models.VideoJobID

	mu     sync.Mutex
	state  PollState
	job    models.VideoJob
	cancel context.CancelFunc
	done   chan struct{}
}

// State returns the current task state.
func (t *PollTask) State() PollState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Job returns the last observed job status.
func (t *PollTask) Job() models.VideoJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job
}

// Cancel stops polling. It does not wait for the goroutine.
func (t *PollTask) Cancel() { t.cancel() }

// Done is closed when the task goroutine exits.
func (t *PollTask) Done() <-chan struct{} { return t.done }

func (t *PollTask) set(state PollState, job models.VideoJob) (changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	changed = t.state != state || t.job.Status != job.Status || t.job.ResultURL != job.ResultURL
	t.state = state
	t.job = job
	return changed
}

// VideoPoller starts independent polling tasks.
type VideoPoller struct {
	checker  VideoStatusChecker
	interval time.Duration
	metrics  *utils.APIMetrics
}

func NewVideoPoller(checker VideoStatusChecker, interval time.Duration) *VideoPoller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &VideoPoller{checker: checker, interval: interval, metrics: utils.NewAPIMetrics()}
}

// Start launches a task for jobID bound to parent. onUpdate may be nil; it is
// called from the task goroutine.
func (p *VideoPoller) Start(parent context.Context, jobID models.VideoJobID, onUpdate func(PollUpdate)) *PollTask {
	ctx, cancel := context.WithCancel(parent)
	task := &PollTask{
		JobID:  jobID,
		state:  PollPending,
		job:    models.VideoJob{ID: jobID, Status: models.VideoStatusCreated},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	p.metrics.PollTasksActive(1)
	go func() {
		defer close(task.done)
		defer p.metrics.PollTasksActive(-1)
		defer cancel()
		p.run(ctx, task, onUpdate)
	}()
	return task
}

func (p *VideoPoller) run(ctx context.Context, task *PollTask, onUpdate func(PollUpdate)) {
	notify := func(state PollState, job models.VideoJob) {
		if task.set(state, job) && onUpdate != nil {
			onUpdate(PollUpdate{JobID: task.JobID, State: state, Job: job})
		}
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	errorsInRow := 0
	for attempt := 1; ; attempt++ {
		job, err := p.checker.Status(ctx, task.JobID)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			errorsInRow++
			if errorsInRow >= maxPollErrors {
				last := task.Job()
				last.Status = models.VideoStatusError
				last.Error = err.Error()
				notify(PollFailed, last)
				return
			}
		default:
			errorsInRow = 0
			switch job.Status {
			case models.VideoStatusDone:
				notify(PollSucceeded, *job)
				return
			case models.VideoStatusError:
				notify(PollFailed, *job)
				return
			default:
				notify(PollPending, *job)
			}
		}

		if attempt >= maxPollAttempts {
			last := task.Job()
			last.Status = models.VideoStatusError
			last.Error = "video did not finish in time"
			notify(PollFailed, last)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
