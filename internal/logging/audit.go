package logging

import (
	"database/sql"
	"fmt"
	"time"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS decision_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	decision_id  TEXT,
	subject_id   TEXT NOT NULL,
	arm          INTEGER NOT NULL,
	kind         TEXT NOT NULL,
	reward       REAL,
	scores_json  TEXT,
	reason       TEXT,
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decision_events_subject ON decision_events (subject_id);
`

// EnsureSchema creates the decision_events table if needed.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate decision_events: %w", err)
	}
	return nil
}
// #endregion schema

// #region log-event
// LogEvent writes an audit event to the decision_events table.
func LogEvent(db *sql.DB, ev Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	var reward interface{}
	if ev.Reward != nil {
		reward = *ev.Reward
	}

	_, err := db.Exec(
		`INSERT INTO decision_events (decision_id, subject_id, arm, kind, reward, scores_json, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nullIfEmpty(ev.DecisionID),
		ev.SubjectID,
		ev.Arm,
		ev.Kind,
		reward,
		nullIfEmpty(ev.ScoresJSON),
		nullIfEmpty(ev.Reason),
		ev.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}
// #endregion log-event

// #region list-events
// ListEvents returns the most recent events, newest first. A non-empty
// subjectID restricts the result to that subject.
func ListEvents(db *sql.DB, subjectID string, limit int) ([]Event, error) {
	q := `SELECT id, decision_id, subject_id, arm, kind, reward, scores_json, reason, created_at
		  FROM decision_events`
	args := []interface{}{}
	if subjectID != "" {
		q += ` WHERE subject_id = ?`
		args = append(args, subjectID)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var decisionID, scoresJSON, reason sql.NullString
		var reward sql.NullFloat64
		var createdStr string
		if err := rows.Scan(&ev.ID, &decisionID, &ev.SubjectID, &ev.Arm, &ev.Kind,
			&reward, &scoresJSON, &reason, &createdStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.DecisionID = decisionID.String
		ev.ScoresJSON = scoresJSON.String
		ev.Reason = reason.String
		if reward.Valid {
			r := reward.Float64
			ev.Reward = &r
		}
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		events = append(events, ev)
	}
	return events, rows.Err()
}
// #endregion list-events

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers
