package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"crm-google-sync-go/internal/config"
	"crm-google-sync-go/internal/googleauth"
	"crm-google-sync-go/internal/metrics"
	"crm-google-sync-go/internal/models"
	"crm-google-sync-go/internal/processor"
	"crm-google-sync-go/internal/ratelimit"
	"crm-google-sync-go/internal/repository"
	"crm-google-sync-go/internal/scheduler"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	db        *gorm.DB
	jobs      *repository.JobRepository
	prefs     *repository.PreferenceRepository
	clients   *processor.GoogleClients
	limiter   *ratelimit.Limiter
	scheduler *scheduler.Scheduler
	metrics   *metrics.Metrics
	syncCfg   config.SyncConfig
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, jobs *repository.JobRepository, prefs *repository.PreferenceRepository, clients *processor.GoogleClients, limiter *ratelimit.Limiter, s *scheduler.Scheduler, m *metrics.Metrics, syncCfg config.SyncConfig) *Handlers {
	return &Handlers{
		db:        db,
		jobs:      jobs,
		prefs:     prefs,
		clients:   clients,
		limiter:   limiter,
		scheduler: s,
		metrics:   m,
		syncCfg:   syncCfg,
	}
}

// errorResponse maps domain errors to HTTP status codes and writes the
// error body.
func errorResponse(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	var denied *ratelimit.DeniedError
	switch {
	case errors.Is(err, googleauth.ErrNotConnected):
		status = http.StatusUnauthorized
		code = "not_connected"
	case errors.Is(err, googleauth.ErrServiceNotApproved):
		status = http.StatusForbidden
		code = "service_not_approved"
	case errors.As(err, &denied):
		status = http.StatusTooManyRequests
		code = "rate_limited"
	case errors.Is(err, repository.ErrJobNotFound):
		status = http.StatusNotFound
		code = "job_not_found"
	}

	c.JSON(status, models.ErrorResponse{
		Error:   code,
		Message: err.Error(),
		Code:    status,
	})
}
