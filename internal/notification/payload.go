package notification

import (
	"encoding/json"

	"formation-review/internal/models"
)

// Live message types.
const (
	MessageNotification          = "notification"
	MessageConnectionEstablished = "connection_established"
	MessagePong                  = "pong"
	MessageError                 = "error"
)

// TimestampLayout keeps microseconds at a fixed width so that timestamps of
// the same second still sort in creation order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Payload is the wire shape of a notification pushed to live clients.
// Nullable fields are always present and serialize as null.
type Payload struct {
	ID             string                  `json:"id"`
	Type           models.NotificationType `json:"type"`
	Title          string                  `json:"title"`
	Message        string                  `json:"message"`
	IsRead         bool                    `json:"is_read"`
	CreatedAt      string                  `json:"created_at"`
	ApplicationID  *string                 `json:"application_id"`
	FormationTitle *string                 `json:"formation_title"`
	InterviewID    *string                 `json:"interview_id"`
	InterviewDate  *string                 `json:"interview_date"`
}

// Message is one frame sent over the live channel.
type Message struct {
	Type         string   `json:"type"`
	Message      string   `json:"message,omitempty"`
	UserID       string   `json:"user_id,omitempty"`
	Notification *Payload `json:"notification,omitempty"`
}

func ToPayload(n *models.Notification) Payload {
	p := Payload{
		ID:             n.ID,
		Type:           n.Type,
		Title:          n.Title,
		Message:        n.Message,
		IsRead:         n.IsRead,
		CreatedAt:      n.CreatedAt.UTC().Format(TimestampLayout),
		ApplicationID:  n.ApplicationID,
		FormationTitle: n.FormationTitle,
		InterviewID:    n.InterviewID,
	}
	if n.InterviewDate != nil {
		s := n.InterviewDate.UTC().Format(TimestampLayout)
		p.InterviewDate = &s
	}
	return p
}

// EncodeNotification renders the live frame for n.
func EncodeNotification(n *models.Notification) ([]byte, error) {
	p := ToPayload(n)
	return json.Marshal(Message{Type: MessageNotification, Notification: &p})
}

func encodeControl(typ, text string) []byte {
	b, _ := json.Marshal(Message{Type: typ, Message: text})
	return b
}
