package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"crm-google-sync-go/internal/models"
)

// ErrJobNotFound is returned when a job id does not exist.
var ErrJobNotFound = errors.New("job not found")

// JobRepository persists background jobs. Sync jobs are claimed by the
// scheduler; normalize jobs are only enqueued here and consumed downstream.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Enqueue inserts a new pending job.
func (r *JobRepository) Enqueue(ctx context.Context, job *models.Job) error {
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// ClaimPending picks up to limit pending jobs of the given kinds, oldest
// first, and flips them to processing so a second poll does not re-dispatch
// them.
func (r *JobRepository) ClaimPending(ctx context.Context, kinds []string, limit int) ([]models.Job, error) {
	var jobs []models.Job

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("kind IN ? AND status = ?", kinds, models.JobStatusPending).
			Order("created_at ASC").
			Limit(limit).
			Find(&jobs).Error; err != nil {
			return err
		}

		for i := range jobs {
			if err := tx.Model(&models.Job{}).
				Where("id = ?", jobs[i].ID).
				Updates(map[string]interface{}{
					"status":     models.JobStatusProcessing,
					"attempts":   gorm.Expr("attempts + 1"),
					"updated_at": time.Now(),
				}).Error; err != nil {
				return err
			}
			jobs[i].Status = models.JobStatusProcessing
			jobs[i].Attempts++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending jobs: %w", err)
	}

	return jobs, nil
}

// MarkCompleted marks a job completed and stamps processed_at.
func (r *JobRepository) MarkCompleted(ctx context.Context, jobID string) error {
	now := time.Now()
	err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":       models.JobStatusCompleted,
			"last_error":   nil,
			"processed_at": now,
			"updated_at":   now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	return nil
}

// MarkFailed records the failure message and stamps processed_at.
func (r *JobRepository) MarkFailed(ctx context.Context, jobID string, errMsg string) error {
	now := time.Now()
	err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":       models.JobStatusFailed,
			"last_error":   errMsg,
			"processed_at": now,
			"updated_at":   now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// Requeue returns a claimed job to pending after a retryable failure,
// recording the error. Attempts already counted stay counted.
func (r *JobRepository) Requeue(ctx context.Context, jobID string, errMsg string) error {
	err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":     models.JobStatusPending,
			"last_error": errMsg,
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by id.
func (r *JobRepository) GetByID(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// CountByKindStatus returns the number of jobs matching kind and status.
func (r *JobRepository) CountByKindStatus(ctx context.Context, kind, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("kind = ? AND status = ?", kind, status).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}
