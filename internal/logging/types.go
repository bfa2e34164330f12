package logging

import "time"

// #region event-kinds
const (
	KindSelect           = "select"
	KindFeedback         = "feedback"
	KindFeedbackNotFound = "feedback_not_found"
)
// #endregion event-kinds

// #region event
// Event is a single row in the decision_events table.
type Event struct {
	ID         int64     `json:"id"`
	DecisionID string    `json:"decision_id,omitempty"`
	SubjectID  string    `json:"subject_id"`
	Arm        int       `json:"arm"`
	Kind       string    `json:"kind"`
	Reward     *float64  `json:"reward,omitempty"`
	ScoresJSON string    `json:"scores,omitempty"` // per-arm UCB breakdown at selection time
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
// #endregion event
