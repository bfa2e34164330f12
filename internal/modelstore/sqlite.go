package modelstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/nudge-engine/internal/bandit"
	"github.com/danielpatrickdp/nudge-engine/internal/blob"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS model_snapshots (
	snapshot_id     TEXT PRIMARY KEY,
	parent_id       TEXT,
	format_version  INTEGER NOT NULL,
	num_arms        INTEGER NOT NULL,
	context_dim     INTEGER NOT NULL,
	alpha           REAL NOT NULL,
	feature_layout  TEXT,
	created_at      TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES model_snapshots(snapshot_id)
);

CREATE TABLE IF NOT EXISTS arm_statistics (
	snapshot_id  TEXT NOT NULL,
	arm          INTEGER NOT NULL,
	a_matrix     BLOB NOT NULL,
	b_vector     BLOB NOT NULL,
	pulls        INTEGER NOT NULL,
	PRIMARY KEY (snapshot_id, arm),
	FOREIGN KEY (snapshot_id) REFERENCES model_snapshots(snapshot_id)
);

CREATE TABLE IF NOT EXISTS active_model (
	id           INTEGER PRIMARY KEY CHECK (id = 1),
	snapshot_id  TEXT NOT NULL,
	FOREIGN KEY (snapshot_id) REFERENCES model_snapshots(snapshot_id)
);
`
// #endregion schema

// #region store-struct
// SQLiteStore keeps every saved snapshot and an active pointer to the one
// Load returns.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// SnapshotInfo describes one stored snapshot without its matrices.
type SnapshotInfo struct {
	ID            string    `json:"id"`
	ParentID      string    `json:"parent_id,omitempty"`
	NumArms       int       `json:"num_arms"`
	ContextDim    int       `json:"context_dim"`
	Alpha         float64   `json:"alpha"`
	FeatureLayout string    `json:"feature_layout,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	TotalPulls    int64     `json:"total_pulls"`
	Active        bool      `json:"active"`
}
// #endregion store-struct

// #region constructor
// OpenDB opens a SQLite database in WAL mode with foreign keys enforced.
func OpenDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	return db, nil
}

// NewSQLiteStore opens a SQLite database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := OpenDB(dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB so the ledger journal and audit log can
// share the file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}
// #endregion constructor

// #region save
// Save inserts st as a new snapshot, parented on the current active one, and
// moves the active pointer to it in the same transaction.
func (s *SQLiteStore) Save(ctx context.Context, st bandit.EngineState) error {
	_, err := s.Commit(ctx, st)
	return err
}

// Commit is Save returning the new snapshot id.
func (s *SQLiteStore) Commit(ctx context.Context, st bandit.EngineState) (string, error) {
	if len(st.Arms) != st.NumArms {
		return "", fmt.Errorf("%w: %d arms for num_arms %d", bandit.ErrInvalidConfig, len(st.Arms), st.NumArms)
	}
	id := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%w: begin tx: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	var parent any
	var activeID string
	err = tx.QueryRowContext(ctx, `SELECT snapshot_id FROM active_model WHERE id = 1`).Scan(&activeID)
	switch {
	case err == nil:
		parent = activeID
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("%w: read active: %v", ErrUnavailable, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO model_snapshots (snapshot_id, parent_id, format_version, num_arms, context_dim, alpha, feature_layout, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, parent, FormatVersion, st.NumArms, st.ContextDim, st.Alpha, nullIfEmpty(st.FeatureLayout),
		s.now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert snapshot: %v", ErrUnavailable, err)
	}

	for a, arm := range st.Arms {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO arm_statistics (snapshot_id, arm, a_matrix, b_vector, pulls) VALUES (?, ?, ?, ?, ?)`,
			id, a, blob.EncodeMatrix(arm.A), blob.EncodeFloats(arm.B), arm.Pulls,
		)
		if err != nil {
			return "", fmt.Errorf("%w: insert arm %d: %v", ErrUnavailable, a, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO active_model (id, snapshot_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET snapshot_id = excluded.snapshot_id`,
		id,
	)
	if err != nil {
		return "", fmt.Errorf("%w: set active: %v", ErrUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return id, nil
}
// #endregion save

// #region load
// Load returns the active snapshot.
func (s *SQLiteStore) Load(ctx context.Context) (bandit.EngineState, error) {
	id, err := s.ActiveID(ctx)
	if err != nil {
		return bandit.EngineState{}, err
	}
	st, _, err := s.Snapshot(ctx, id)
	return st, err
}

// ActiveID returns the id of the active snapshot, or ErrAbsent.
func (s *SQLiteStore) ActiveID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot_id FROM active_model WHERE id = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrAbsent
	}
	if err != nil {
		return "", fmt.Errorf("%w: get active: %v", ErrUnavailable, err)
	}
	return id, nil
}

// Snapshot reads one snapshot by id and validates it.
func (s *SQLiteStore) Snapshot(ctx context.Context, id string) (bandit.EngineState, SnapshotInfo, error) {
	var info SnapshotInfo
	var parentID, layout sql.NullString
	var version int
	var createdStr string

	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot_id, parent_id, format_version, num_arms, context_dim, alpha, feature_layout, created_at
		 FROM model_snapshots WHERE snapshot_id = ?`, id,
	).Scan(&info.ID, &parentID, &version, &info.NumArms, &info.ContextDim, &info.Alpha, &layout, &createdStr)
	if errors.Is(err, sql.ErrNoRows) {
		return bandit.EngineState{}, SnapshotInfo{}, fmt.Errorf("%w: snapshot %s not found", ErrAbsent, id)
	}
	if err != nil {
		return bandit.EngineState{}, SnapshotInfo{}, fmt.Errorf("%w: get snapshot %s: %v", ErrUnavailable, id, err)
	}
	if version != FormatVersion {
		return bandit.EngineState{}, SnapshotInfo{}, fmt.Errorf("%w: snapshot %s has version %d", ErrCorrupt, id, version)
	}
	if info.NumArms <= 0 || info.NumArms > MaxArms || info.ContextDim <= 0 || info.ContextDim > MaxContextDim {
		return bandit.EngineState{}, SnapshotInfo{}, fmt.Errorf("%w: snapshot %s header num_arms=%d context_dim=%d",
			ErrCorrupt, id, info.NumArms, info.ContextDim)
	}
	info.ParentID = parentID.String
	info.FeatureLayout = layout.String
	info.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)

	st := bandit.EngineState{
		NumArms:       info.NumArms,
		ContextDim:    info.ContextDim,
		Alpha:         info.Alpha,
		FeatureLayout: info.FeatureLayout,
		Arms:          make([]bandit.ArmStatistics, info.NumArms),
	}
	seen := make([]bool, info.NumArms)

	rows, err := s.db.QueryContext(ctx,
		`SELECT arm, a_matrix, b_vector, pulls FROM arm_statistics WHERE snapshot_id = ? ORDER BY arm`, id,
	)
	if err != nil {
		return bandit.EngineState{}, SnapshotInfo{}, fmt.Errorf("%w: get arms: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var arm int
		var aBlob, bBlob []byte
		var pulls int64
		if err := rows.Scan(&arm, &aBlob, &bBlob, &pulls); err != nil {
			return bandit.EngineState{}, SnapshotInfo{}, fmt.Errorf("%w: scan arm: %v", ErrUnavailable, err)
		}
		if arm < 0 || arm >= info.NumArms {
			return bandit.EngineState{}, SnapshotInfo{}, fmt.Errorf("%w: arm %d out of range", ErrCorrupt, arm)
		}
		a, err := blob.DecodeMatrix(aBlob, info.ContextDim)
		if err != nil {
			return bandit.EngineState{}, SnapshotInfo{}, fmt.Errorf("%w: arm %d A: %v", ErrCorrupt, arm, err)
		}
		b, err := blob.DecodeFloats(bBlob)
		if err != nil {
			return bandit.EngineState{}, SnapshotInfo{}, fmt.Errorf("%w: arm %d b: %v", ErrCorrupt, arm, err)
		}
		st.Arms[arm] = bandit.ArmStatistics{A: a, B: b, Pulls: pulls}
		seen[arm] = true
		info.TotalPulls += pulls
	}
	if err := rows.Err(); err != nil {
		return bandit.EngineState{}, SnapshotInfo{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for a, ok := range seen {
		if !ok {
			return bandit.EngineState{}, SnapshotInfo{}, fmt.Errorf("%w: arm %d missing", ErrCorrupt, a)
		}
	}
	if err := bandit.Validate(st); err != nil {
		return bandit.EngineState{}, SnapshotInfo{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if active, err := s.ActiveID(ctx); err == nil {
		info.Active = active == id
	}
	return st, info, nil
}
// #endregion load

// #region rollback
// Rollback points the active snapshot back at an earlier one.
func (s *SQLiteStore) Rollback(ctx context.Context, snapshotID string) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM model_snapshots WHERE snapshot_id = ?`, snapshotID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check snapshot: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: snapshot %s not found", ErrAbsent, snapshotID)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO active_model (id, snapshot_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET snapshot_id = excluded.snapshot_id`,
		snapshotID,
	)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}
// #endregion rollback

// #region list-snapshots
// ListSnapshots returns the most recent snapshots, newest first.
func (s *SQLiteStore) ListSnapshots(ctx context.Context, limit int) ([]SnapshotInfo, error) {
	active, err := s.ActiveID(ctx)
	if err != nil && !errors.Is(err, ErrAbsent) {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT m.snapshot_id, m.parent_id, m.num_arms, m.context_dim, m.alpha, m.feature_layout, m.created_at,
		        COALESCE((SELECT SUM(pulls) FROM arm_statistics a WHERE a.snapshot_id = m.snapshot_id), 0)
		 FROM model_snapshots m ORDER BY m.rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		var parentID, layout sql.NullString
		var createdStr string
		if err := rows.Scan(&info.ID, &parentID, &info.NumArms, &info.ContextDim, &info.Alpha,
			&layout, &createdStr, &info.TotalPulls); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		info.ParentID = parentID.String
		info.FeatureLayout = layout.String
		info.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		info.Active = info.ID == active
		out = append(out, info)
	}
	return out, rows.Err()
}
// #endregion list-snapshots

// #region helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers
