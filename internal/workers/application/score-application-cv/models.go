// internal/workers/application/score-application-cv/models.go
package scoreapplicationcv

type Input struct {
	ApplicationID string `json:"applicationId"`
}

type Output struct {
	ApplicationID string `json:"applicationId"`
	Score         int    `json:"cvScore"`
	Summary       string `json:"cvSummary"`
	ScoredAt      string `json:"cvScoredAt"`
}

// variables is what the process instance receives on completion.
func (o *Output) variables() map[string]interface{} {
	return map[string]interface{}{
		"applicationId": o.ApplicationID,
		"cvScore":       o.Score,
		"cvSummary":     o.Summary,
		"cvScoredAt":    o.ScoredAt,
	}
}
