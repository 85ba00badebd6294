// Package admission implements C7: accepts new jobs, decides when and
// how the executor runs them, and bounds concurrency. The worker-pool
// shape is grounded on Aback231-video_chunk_processor's Run() loop in
// internal/app/app.go; sentinel-error conventions follow
// stream_gateway's admission controller.
package admission

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"forensic-pipeline/internal/apierr"
	"forensic-pipeline/internal/jobstore"
	"forensic-pipeline/internal/metrics"
	"forensic-pipeline/internal/model"
)

// RunFunc drives one job to completion; normally executor.Executor.Run.
type RunFunc func(ctx context.Context, jobID string)

// Scheduler is a bounded FIFO worker pool over job IDs (spec §4.7, §5).
type Scheduler struct {
	jobs    *jobstore.Store
	run     RunFunc
	log     *logrus.Logger
	queue   chan string
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// New starts poolSize worker goroutines draining a FIFO queue.
func New(jobs *jobstore.Store, run RunFunc, poolSize int, log *logrus.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{jobs: jobs, run: run, log: log, queue: make(chan string, 1024), ctx: ctx, cancel: cancel}
	for i := 0; i < poolSize; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	return s
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case jobID, ok := <-s.queue:
			if !ok {
				return
			}
			metrics.JobsInFlight.Inc()
			s.run(s.ctx, jobID)
			metrics.JobsInFlight.Dec()
		}
	}
}

// Admit places a job onto the queue. If the pool is saturated, the job
// waits FIFO (spec §4.7).
func (s *Scheduler) Admit(jobID string) {
	select {
	case s.queue <- jobID:
		metrics.JobsAdmitted.Inc()
	case <-s.ctx.Done():
	}
}

// Reset implements spec §4.7's reset operation: allowed when job state
// is Pending, Failed, or Completed.
func (s *Scheduler) Reset(ctx context.Context, jobID string) (*model.Job, error) {
	job, _, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == model.JobRunning {
		return nil, apierr.Conflict("job %s is running", jobID)
	}
	reset, _, err := s.jobs.ResetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.Admit(jobID)
	return reset, nil
}

// Reprocess is Reset but rejected with Conflict if the job is Running
// (spec §4.7) — the same precondition Reset already enforces, exposed
// under the name the job-query HTTP endpoint uses (spec §6.3).
func (s *Scheduler) Reprocess(ctx context.Context, jobID string) (*model.Job, error) {
	return s.Reset(ctx, jobID)
}

// Bootstrap re-admits jobs that were Running when the process last
// exited (spec §4.7 "Bootstrapping").
func (s *Scheduler) Bootstrap(ctx context.Context) error {
	running, err := s.jobs.ListRunningJobs(ctx)
	if err != nil {
		return err
	}
	for _, job := range running {
		s.log.WithField("job_id", job.ID).Info("re-admitting job that was running at last shutdown")
		s.Admit(job.ID)
	}
	return nil
}

// Shutdown cancels the scheduler's context, so no further queued jobs are
// picked up, and waits for every worker goroutine to return. A job
// already inside run is waited for until run returns; it sees the
// cancelled context but is not interrupted mid-stage.
func (s *Scheduler) Shutdown() {
	s.cancel()
	s.wg.Wait()
}
