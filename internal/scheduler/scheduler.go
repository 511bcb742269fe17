package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"crm-google-sync-go/internal/config"
	"crm-google-sync-go/internal/models"
	"crm-google-sync-go/internal/processor"
)

// Processor runs one claimed sync job.
type Processor interface {
	Kind() string
	Run(ctx context.Context, job *models.Job) (*processor.RunStats, error)
}

// jobQueue is the job repository surface the scheduler needs.
type jobQueue interface {
	ClaimPending(ctx context.Context, kinds []string, limit int) ([]models.Job, error)
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, errMsg string) error
	Requeue(ctx context.Context, jobID string, errMsg string) error
}

// Scheduler polls the job table for pending sync jobs and dispatches them
// to the registered processors.
type Scheduler struct {
	cron       *cron.Cron
	config     *config.SchedulerConfig
	jobs       jobQueue
	processors map[string]Processor
	kinds      []string
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	isRunning  bool
	mu         sync.RWMutex
}

// NewScheduler creates a scheduler over the given processors.
func NewScheduler(cfg *config.SchedulerConfig, jobs jobQueue, processors ...Processor) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	byKind := make(map[string]Processor, len(processors))
	kinds := make([]string, 0, len(processors))
	for _, p := range processors {
		byKind[p.Kind()] = p
		kinds = append(kinds, p.Kind())
	}

	return &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		config:     cfg,
		jobs:       jobs,
		processors: byKind,
		kinds:      kinds,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start starts the polling loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	schedule := fmt.Sprintf("*/%d * * * * *", s.config.IntervalSeconds)
	if _, err := s.cron.AddFunc(schedule, s.poll); err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started with interval: %d seconds", s.config.IntervalSeconds)
	return nil
}

// Stop stops the scheduler and waits for in-flight polls to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}

	s.cancel()
	cronCtx := s.cron.Stop()
	s.isRunning = false
	s.mu.Unlock()

	select {
	case <-cronCtx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	// Wait with the lock released: a cron fire racing with Stop joins the
	// WaitGroup before it can observe isRunning, then blocks on the lock.
	s.wg.Wait()
	return nil
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) poll() {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		return
	}
	s.mu.RUnlock()

	if err := s.RunOnce(s.ctx); err != nil {
		logrus.WithError(err).Error("Job poll failed")
	}
}

// RunOnce claims one batch of pending jobs and runs them sequentially.
// Exposed for manual triggering and tests.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	jobs, err := s.jobs.ClaimPending(ctx, s.kinds, s.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to claim jobs: %w", err)
	}

	for i := range jobs {
		s.runJob(ctx, &jobs[i])
	}
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, job *models.Job) {
	log := logrus.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"user_id":  job.UserID,
		"kind":     job.Kind,
		"attempts": job.Attempts,
	})

	proc, ok := s.processors[job.Kind]
	if !ok {
		log.Error("No processor registered for job kind")
		if err := s.jobs.MarkFailed(ctx, job.ID, "no processor for kind "+job.Kind); err != nil {
			log.WithError(err).Error("Failed to mark job failed")
		}
		return
	}

	stats, runErr := proc.Run(ctx, job)
	if runErr == nil {
		if err := s.jobs.MarkCompleted(ctx, job.ID); err != nil {
			log.WithError(err).Error("Failed to mark job completed")
		}
		if stats != nil {
			log.WithFields(logrus.Fields{
				"batch_id": stats.BatchID,
				"inserted": stats.Inserted,
			}).Info("Job completed")
		}
		return
	}

	log.WithError(runErr).Warn("Job run failed")
	if job.Attempts >= s.config.MaxAttempts {
		if err := s.jobs.MarkFailed(ctx, job.ID, runErr.Error()); err != nil {
			log.WithError(err).Error("Failed to mark job failed")
		}
		return
	}
	if err := s.jobs.Requeue(ctx, job.ID, runErr.Error()); err != nil {
		log.WithError(err).Error("Failed to requeue job")
	}
}
