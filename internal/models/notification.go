// internal/models/notification.go
package models

import "time"

type NotificationType string

const (
	NotificationApplicationSubmitted NotificationType = "application_submitted"
	NotificationApplicationApproved  NotificationType = "application_approved"
	NotificationApplicationRejected  NotificationType = "application_rejected"
	NotificationApplicationWithdrawn NotificationType = "application_withdrawn"
	NotificationInterviewScheduled   NotificationType = "interview_scheduled"
	NotificationInterviewCancelled   NotificationType = "interview_cancelled"
	NotificationInterviewRescheduled NotificationType = "interview_rescheduled"
)

// IsInterview reports whether the type concerns an interview.
func (t NotificationType) IsInterview() bool {
	return t == NotificationInterviewScheduled ||
		t == NotificationInterviewCancelled ||
		t == NotificationInterviewRescheduled
}

// Notification is the durable per-recipient record of a domain event.
type Notification struct {
	ID            string           `json:"id"`
	RecipientID   string           `json:"recipient_id"`
	Type          NotificationType `json:"type"`
	Title         string           `json:"title"`
	Message       string           `json:"message"`
	IsRead        bool             `json:"is_read"`
	ReadAt        *time.Time       `json:"read_at,omitempty"`
	ApplicationID *string          `json:"application_id,omitempty"`
	InterviewID   *string          `json:"interview_id,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`

	// Derived from the referenced application and interview.
	FormationTitle *string    `json:"formation_title,omitempty"`
	InterviewDate  *time.Time `json:"interview_date,omitempty"`
}

type DeliveryChannel string

const (
	ChannelEmail DeliveryChannel = "email"
	ChannelSMS   DeliveryChannel = "sms"
)

type DeliveryStatus string

const (
	DeliverySent     DeliveryStatus = "sent"
	DeliveryFailed   DeliveryStatus = "failed"
	DeliveryDisabled DeliveryStatus = "disabled"
	DeliverySkipped  DeliveryStatus = "skipped"
)

// NotificationDelivery records one email or SMS side-channel attempt.
type NotificationDelivery struct {
	ID             string          `json:"id"`
	NotificationID string          `json:"notification_id"`
	Channel        DeliveryChannel `json:"channel"`
	Status         DeliveryStatus  `json:"status"`
	Error          string          `json:"error,omitempty"`
	AttemptedAt    time.Time       `json:"attempted_at"`
}
