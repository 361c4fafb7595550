package models

// Formation is the course offering an application targets.
type Formation struct {
	ID                  string `json:"id"`
	Title               string `json:"title"`
	Description         string `json:"description"`
	InstructorID        string `json:"instructor_id"`
	MaxParticipants     int    `json:"max_participants"`
	CurrentParticipants int    `json:"current_participants"`
}

// HasCapacity is true when the formation is unbounded or below its limit.
func (f Formation) HasCapacity() bool {
	return f.MaxParticipants == 0 || f.CurrentParticipants < f.MaxParticipants
}
