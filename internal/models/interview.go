package models

import "time"

type MeetingType string

const (
	MeetingOnline   MeetingType = "online"
	MeetingInPerson MeetingType = "in_person"
	MeetingPhone    MeetingType = "phone"
)

func (m MeetingType) Valid() bool {
	return m == MeetingOnline || m == MeetingInPerson || m == MeetingPhone
}

type InterviewStatus string

const (
	InterviewScheduled   InterviewStatus = "scheduled"
	InterviewCompleted   InterviewStatus = "completed"
	InterviewCancelled   InterviewStatus = "cancelled"
	InterviewRescheduled InterviewStatus = "rescheduled"
)

// DefaultInterviewDuration is used when a schedule request omits the duration.
const DefaultInterviewDuration = 60

type Interview struct {
	ID              string          `json:"id"`
	ApplicationID   string          `json:"application_id"`
	ScheduledBy     string          `json:"scheduled_by"`
	ScheduledDate   time.Time       `json:"scheduled_date"`
	Duration        int             `json:"duration"`
	MeetingType     MeetingType     `json:"meeting_type"`
	MeetingLink     string          `json:"meeting_link,omitempty"`
	Location        string          `json:"location,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Status          InterviewStatus `json:"status"`
	CalendarEventID string          `json:"calendar_event_id,omitempty"`
	RescheduledFrom *string         `json:"rescheduled_from,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`

	// Read-side joins.
	CandidateName  string `json:"candidate_name,omitempty"`
	FormationTitle string `json:"formation_title,omitempty"`
}

// End is the scheduled end of the interview.
func (i Interview) End() time.Time {
	return i.ScheduledDate.Add(time.Duration(i.Duration) * time.Minute)
}
