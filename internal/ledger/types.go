package ledger

import (
	"errors"
	"time"
)

// #region errors
// ErrFeedbackNotFound is returned when no unresolved decision matches a
// (subject, arm) pair. Callers must not update the engine in that case.
var ErrFeedbackNotFound = errors.New("ledger: no unresolved decision for feedback")
// #endregion errors

// #region decision-record
// DecisionRecord is one recommendation awaiting, or holding, its reward.
// Reward is nil while unresolved and set exactly once.
type DecisionRecord struct {
	ID         string
	SubjectID  string
	Arm        int
	Context    []float64
	Timestamp  time.Time
	Reward     *float64
	ResolvedAt *time.Time
	Seq        int64 // creation order; breaks timestamp ties
}

// Resolved reports whether the reward has been recorded.
func (r DecisionRecord) Resolved() bool { return r.Reward != nil }

func (r DecisionRecord) clone() DecisionRecord {
	out := r
	out.Context = append([]float64(nil), r.Context...)
	if r.Reward != nil {
		v := *r.Reward
		out.Reward = &v
	}
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}

// newer orders records by timestamp, then by creation sequence.
func (r *DecisionRecord) newer(o *DecisionRecord) bool {
	if !r.Timestamp.Equal(o.Timestamp) {
		return r.Timestamp.After(o.Timestamp)
	}
	return r.Seq > o.Seq
}
// #endregion decision-record

// #region journal
// Journal persists decisions so pending ones survive a restart.
type Journal interface {
	Append(rec DecisionRecord) error
	MarkResolved(id string, reward float64, at time.Time) error
	Pending() ([]DecisionRecord, error)
}
// #endregion journal
