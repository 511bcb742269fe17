package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"crm-google-sync-go/internal/models"
)

// syncTriggerRequest is the body for manual sync triggers.
type syncTriggerRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// TriggerGmailSync enqueues a Gmail sync job for the user.
func (h *Handlers) TriggerGmailSync(c *gin.Context) {
	h.triggerSync(c, models.JobKindSyncGmail)
}

// TriggerCalendarSync enqueues a Calendar sync job for the user.
func (h *Handlers) TriggerCalendarSync(c *gin.Context) {
	h.triggerSync(c, models.JobKindSyncCalendar)
}

func (h *Handlers) triggerSync(c *gin.Context, kind string) {
	var req syncTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
		return
	}

	job := &models.Job{
		ID:      uuid.NewString(),
		UserID:  req.UserID,
		Kind:    kind,
		Status:  models.JobStatusPending,
		BatchID: uuid.NewString(),
	}
	if err := h.jobs.Enqueue(c.Request.Context(), job); err != nil {
		errorResponse(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"job_id":  job.ID,
		"user_id": req.UserID,
		"kind":    kind,
	}).Info("Sync job enqueued")

	c.JSON(http.StatusAccepted, models.SyncTriggerResponse{
		JobID:   job.ID,
		BatchID: job.BatchID,
		Kind:    kind,
		Status:  job.Status,
	})
}

// GetJob returns the status of one job.
func (h *Handlers) GetJob(c *gin.Context) {
	job, err := h.jobs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}
