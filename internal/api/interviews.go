package api

import (
	"net/http"

	apperrors "formation-review/internal/common/errors"
	"formation-review/internal/interview"
	"formation-review/internal/models"

	"github.com/gin-gonic/gin"
)

type scheduleRequest struct {
	ApplicationID string `json:"application_id"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Duration      int    `json:"duration"`
	MeetingType   string `json:"meeting_type"`
	Location      string `json:"location"`
	Notes         string `json:"notes"`
}

type rescheduleRequest struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	Duration int    `json:"duration"`
}

type interviewHandler struct {
	interviews InterviewService
}

func (h *interviewHandler) Schedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewValidationError("Invalid JSON format", err.Error()))
		return
	}

	iv, err := h.interviews.Schedule(c.Request.Context(), identity(c), interview.ScheduleInput{
		ApplicationID: req.ApplicationID,
		Date:          req.Date,
		Time:          req.Time,
		Duration:      req.Duration,
		MeetingType:   req.MeetingType,
		Location:      req.Location,
		Notes:         req.Notes,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, iv)
}

func (h *interviewHandler) Cancel(c *gin.Context) {
	iv, err := h.interviews.Cancel(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, iv)
}

func (h *interviewHandler) Reschedule(c *gin.Context) {
	var req rescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewValidationError("Invalid JSON format", err.Error()))
		return
	}

	iv, err := h.interviews.Reschedule(c.Request.Context(), identity(c), c.Param("id"), interview.RescheduleInput{
		Date:     req.Date,
		Time:     req.Time,
		Duration: req.Duration,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, iv)
}

func (h *interviewHandler) Complete(c *gin.Context) {
	iv, err := h.interviews.Complete(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, iv)
}

func (h *interviewHandler) ListForApplication(c *gin.Context) {
	list, err := h.interviews.ListForApplication(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if list == nil {
		list = []models.Interview{}
	}
	c.JSON(http.StatusOK, gin.H{"interviews": list})
}
