package api

import (
	"net/http"
	"strconv"

	"formation-review/internal/models"
	"formation-review/internal/notification"

	"github.com/gin-gonic/gin"
)

// notificationHandler serves the caller's own notifications only.
type notificationHandler struct {
	notifications NotificationService
}

func (h *notificationHandler) List(c *gin.Context) {
	limit, offset := page(c)
	unread, _ := strconv.ParseBool(c.Query("unread"))

	list, err := h.notifications.List(c.Request.Context(), identity(c).UserID, notification.ListFilter{
		UnreadOnly: unread,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if list == nil {
		list = []models.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (h *notificationHandler) MarkAsRead(c *gin.Context) {
	n, err := h.notifications.MarkAsRead(c.Request.Context(), identity(c).UserID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *notificationHandler) MarkAllAsRead(c *gin.Context) {
	count, err := h.notifications.MarkAllAsRead(c.Request.Context(), identity(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *notificationHandler) UnreadCount(c *gin.Context) {
	count, err := h.notifications.UnreadCount(c.Request.Context(), identity(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}
