package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/danielpatrickdp/nudge-engine/internal/blob"
)

// #region schema
const journalSchema = `
CREATE TABLE IF NOT EXISTS decisions (
	decision_id  TEXT PRIMARY KEY,
	seq          INTEGER NOT NULL,
	subject_id   TEXT NOT NULL,
	arm          INTEGER NOT NULL,
	context      BLOB NOT NULL,
	created_at   TEXT NOT NULL,
	reward       REAL,
	resolved_at  TEXT
);

CREATE INDEX IF NOT EXISTS idx_decisions_subject_arm ON decisions (subject_id, arm);
`
// #endregion schema

// #region journal-struct
// SQLiteJournal persists decisions in the decisions table of a shared
// database handle.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal creates the decisions table if needed.
func NewSQLiteJournal(db *sql.DB) (*SQLiteJournal, error) {
	if _, err := db.Exec(journalSchema); err != nil {
		return nil, fmt.Errorf("migrate decisions: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}
// #endregion journal-struct

// #region append
// Append inserts a new unresolved decision.
func (j *SQLiteJournal) Append(rec DecisionRecord) error {
	_, err := j.db.Exec(
		`INSERT INTO decisions (decision_id, seq, subject_id, arm, context, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Seq, rec.SubjectID, rec.Arm, blob.EncodeFloats(rec.Context),
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}
// #endregion append

// #region mark-resolved
// MarkResolved records the reward of a pending decision. Resolving an
// unknown or already resolved decision is an error.
func (j *SQLiteJournal) MarkResolved(id string, reward float64, at time.Time) error {
	res, err := j.db.Exec(
		`UPDATE decisions SET reward = ?, resolved_at = ?
		 WHERE decision_id = ? AND reward IS NULL`,
		reward, at.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("resolve decision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve decision: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("decision %s not pending", id)
	}
	return nil
}
// #endregion mark-resolved

// #region pending
// Pending returns every unresolved decision, oldest first.
func (j *SQLiteJournal) Pending() ([]DecisionRecord, error) {
	return j.query(
		`SELECT decision_id, seq, subject_id, arm, context, created_at, reward, resolved_at
		 FROM decisions WHERE reward IS NULL ORDER BY created_at ASC, seq ASC`,
	)
}

// Subject returns a subject's full decision history, oldest first.
func (j *SQLiteJournal) Subject(subjectID string) ([]DecisionRecord, error) {
	return j.query(
		`SELECT decision_id, seq, subject_id, arm, context, created_at, reward, resolved_at
		 FROM decisions WHERE subject_id = ? ORDER BY created_at ASC, seq ASC`,
		subjectID,
	)
}

// Resolved returns the most recent limit resolved decisions, oldest first.
// A limit of 0 or less returns all of them.
func (j *SQLiteJournal) Resolved(limit int) ([]DecisionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	return j.query(
		`SELECT * FROM (
			SELECT decision_id, seq, subject_id, arm, context, created_at, reward, resolved_at
			FROM decisions WHERE reward IS NOT NULL
			ORDER BY created_at DESC, seq DESC LIMIT ?
		) ORDER BY created_at ASC, seq ASC`,
		limit,
	)
}

func (j *SQLiteJournal) query(q string, args ...any) ([]DecisionRecord, error) {
	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var rec DecisionRecord
		var ctxBlob []byte
		var createdStr string
		var reward sql.NullFloat64
		var resolvedStr sql.NullString

		if err := rows.Scan(&rec.ID, &rec.Seq, &rec.SubjectID, &rec.Arm, &ctxBlob,
			&createdStr, &reward, &resolvedStr); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if rec.Context, err = blob.DecodeFloats(ctxBlob); err != nil {
			return nil, fmt.Errorf("decision %s context: %w", rec.ID, err)
		}
		if rec.Timestamp, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
			return nil, fmt.Errorf("decision %s created_at: %w", rec.ID, err)
		}
		if reward.Valid {
			r := reward.Float64
			rec.Reward = &r
		}
		if resolvedStr.Valid {
			if at, err := time.Parse(time.RFC3339Nano, resolvedStr.String); err == nil {
				rec.ResolvedAt = &at
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
// #endregion pending
