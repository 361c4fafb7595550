// internal/models/application.go
package models

import (
	"encoding/json"
	"time"
)

type ApplicationStatus string

const (
	ApplicationPending   ApplicationStatus = "pending"
	ApplicationApproved  ApplicationStatus = "approved"
	ApplicationRejected  ApplicationStatus = "rejected"
	ApplicationWithdrawn ApplicationStatus = "withdrawn"
)

// Terminal reports whether no further review transition is possible.
func (s ApplicationStatus) Terminal() bool {
	return s == ApplicationApproved || s == ApplicationRejected || s == ApplicationWithdrawn
}

func (s ApplicationStatus) Valid() bool {
	return s == ApplicationPending || s.Terminal()
}

// Application is one candidate's submission to one formation.
type Application struct {
	ID            string            `json:"id"`
	CandidateID   string            `json:"candidate_id"`
	FormationID   string            `json:"formation_id"`
	QuizAttemptID *string           `json:"quiz_attempt_id,omitempty"`
	QuizScore     *int              `json:"quiz_score,omitempty"`
	Status        ApplicationStatus `json:"status"`
	Message       string            `json:"message,omitempty"`
	CVPath        string            `json:"-"`
	HasCV         bool              `json:"has_cv"`

	ExtractedText *string         `json:"extracted_text,omitempty"`
	Score         *int            `json:"score,omitempty"`
	Summary       *string         `json:"summary,omitempty"`
	Analysis      json.RawMessage `json:"analysis,omitempty"`
	Resume        *string         `json:"resume,omitempty"`

	ReviewedBy  *string    `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes string     `json:"review_notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// Read-side joins.
	CandidateName  string `json:"candidate_name,omitempty"`
	CandidateEmail string `json:"candidate_email,omitempty"`
	FormationTitle string `json:"formation_title,omitempty"`
	InstructorID   string `json:"instructor_id,omitempty"`
}

// CVAnalysis is the structured part of a scoring result stored in Analysis.
type CVAnalysis struct {
	Analysis        string   `json:"analysis"`
	Strengths       []string `json:"strengths"`
	Weaknesses      []string `json:"weaknesses"`
	Recommendations []string `json:"recommendations"`
}

// ClampScore bounds a provider score to 0..100.
func ClampScore(score int) int {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}
