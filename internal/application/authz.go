package application

import (
	"formation-review/internal/common/auth"
	"formation-review/internal/models"
)

// CanSubmit reports whether the caller may apply to a formation.
func CanSubmit(id *auth.Identity) bool {
	if id == nil {
		return false
	}
	switch id.Role {
	case auth.RoleCandidate:
		return true
	case auth.RoleAdmin, auth.RoleRecruiter:
		return false
	}
	return false
}

// CanReview reports whether the caller may decide on applications to a
// formation instructed by instructorID. It also gates scoring, interviews
// and exports.
func CanReview(id *auth.Identity, instructorID string) bool {
	if id == nil {
		return false
	}
	switch id.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleRecruiter:
		return instructorID != "" && id.UserID == instructorID
	case auth.RoleCandidate:
		return false
	}
	return false
}

func CanWithdraw(id *auth.Identity, a *models.Application) bool {
	if id == nil || a == nil {
		return false
	}
	switch id.Role {
	case auth.RoleCandidate:
		return a.CandidateID == id.UserID
	case auth.RoleAdmin, auth.RoleRecruiter:
		return false
	}
	return false
}

func CanView(id *auth.Identity, a *models.Application) bool {
	if id == nil || a == nil {
		return false
	}
	switch id.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleRecruiter:
		return a.InstructorID == id.UserID
	case auth.RoleCandidate:
		return a.CandidateID == id.UserID
	}
	return false
}

// CanListPending reports whether the caller sees a review queue at all.
// Recruiters are further restricted to the formations they instruct.
func CanListPending(id *auth.Identity) bool {
	if id == nil {
		return false
	}
	switch id.Role {
	case auth.RoleAdmin, auth.RoleRecruiter:
		return true
	case auth.RoleCandidate:
		return false
	}
	return false
}
