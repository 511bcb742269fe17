package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crm-google-sync-go/internal/fetcher"
	"crm-google-sync-go/internal/models"
)

// PreviewGmail samples candidate messages for the user's current filters.
func (h *Handlers) PreviewGmail(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "user_id query parameter is required",
			Code:    http.StatusBadRequest,
		})
		return
	}
	ctx := c.Request.Context()

	pref, err := h.prefs.Get(ctx, userID)
	if err != nil {
		errorResponse(c, err)
		return
	}

	api, err := h.clients.GmailAPIFor(ctx, userID)
	if err != nil {
		errorResponse(c, err)
		return
	}

	f := fetcher.NewGmailFetcher(api, h.limiter, userID, h.retryConfig(), h.syncCfg.PageSize)
	preview, err := f.Preview(ctx, pref, h.syncCfg.PreviewLimit)
	if err != nil {
		errorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, preview)
}

// PreviewCalendar samples candidate events for the user's current filters.
func (h *Handlers) PreviewCalendar(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "user_id query parameter is required",
			Code:    http.StatusBadRequest,
		})
		return
	}
	ctx := c.Request.Context()

	pref, err := h.prefs.Get(ctx, userID)
	if err != nil {
		errorResponse(c, err)
		return
	}

	api, err := h.clients.CalendarAPIFor(ctx, userID)
	if err != nil {
		errorResponse(c, err)
		return
	}

	f := fetcher.NewCalendarFetcher(api, h.limiter, userID, h.retryConfig(), h.syncCfg.PageSize)
	preview, err := f.Preview(ctx, pref, h.syncCfg.PreviewLimit)
	if err != nil {
		errorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, preview)
}

func (h *Handlers) retryConfig() fetcher.RetryConfig {
	return fetcher.RetryConfig{
		Attempts:    h.syncCfg.RetryAttempts,
		BaseDelay:   h.syncCfg.RetryBaseDelay,
		CallTimeout: h.syncCfg.CallTimeout,
	}
}
