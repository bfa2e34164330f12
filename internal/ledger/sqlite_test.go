package ledger

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func tempJournal(t *testing.T) (*SQLiteJournal, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	j, err := NewSQLiteJournal(db)
	require.NoError(t, err)
	return j, db
}

func TestSQLiteJournalRoundTrip(t *testing.T) {
	j, _ := tempJournal(t)
	l := New(WithJournal(j), WithClock(stepClock(base, base.Add(time.Second), base.Add(2*time.Second))))

	first := l.RecordDecision("u1", 0, []float64{0.25, 0.5})
	l.RecordDecision("u1", 0, []float64{0.75, 1})
	_, err := l.ResolveFeedback("u1", 0, 0.4)
	require.NoError(t, err)

	pending, err := j.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first, pending[0].ID)
	assert.Equal(t, []float64{0.25, 0.5}, pending[0].Context)
	assert.True(t, base.Equal(pending[0].Timestamp))
	assert.Nil(t, pending[0].Reward)

	hist, err := j.Subject("u1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.NotNil(t, hist[1].Reward)
	assert.Equal(t, 0.4, *hist[1].Reward)
	assert.NotNil(t, hist[1].ResolvedAt)
}

func TestSQLiteJournalRejectsDoubleResolve(t *testing.T) {
	j, _ := tempJournal(t)
	rec := DecisionRecord{ID: "d1", SubjectID: "u1", Arm: 1, Timestamp: base, Seq: 1}
	require.NoError(t, j.Append(rec))
	require.NoError(t, j.MarkResolved("d1", 1, base))
	assert.Error(t, j.MarkResolved("d1", 0, base))
	assert.Error(t, j.MarkResolved("missing", 0, base))
}

func TestRestoreReloadsPendingDecisions(t *testing.T) {
	j, _ := tempJournal(t)
	l := New(WithJournal(j), WithClock(stepClock(base, base.Add(time.Second))))
	older := l.RecordDecision("u1", 2, []float64{1})
	newer := l.RecordDecision("u1", 2, []float64{2})

	restored, err := Restore(j)
	require.NoError(t, err)
	assert.Equal(t, 2, restored.Pending("u1", 2))

	rec, err := restored.ResolveFeedback("u1", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, newer, rec.ID)
	assert.Equal(t, []float64{2}, rec.Context)

	next := restored.RecordDecision("u1", 2, nil)
	got, ok := restored.Get(next)
	require.True(t, ok)
	assert.Greater(t, got.Seq, int64(2), "sequence continues after restore")

	pending, err := j.Pending()
	require.NoError(t, err)
	ids := make([]string, len(pending))
	for i, p := range pending {
		ids[i] = p.ID
	}
	assert.ElementsMatch(t, []string{older, next}, ids)
}

func TestRestoreDropsStaleContexts(t *testing.T) {
	j, _ := tempJournal(t)
	l := New(WithJournal(j), WithClock(stepClock(base, base.Add(time.Second))))
	current := l.RecordDecision("u1", 0, []float64{1, 2})
	l.RecordDecision("u1", 0, []float64{1, 2, 3})

	restored, err := Restore(j, WithContextDim(2))
	require.NoError(t, err)
	assert.Equal(t, 1, restored.Pending("u1", 0))

	rec, err := restored.ResolveFeedback("u1", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, current, rec.ID, "newer decision with the old width is skipped")
	_, err = restored.ResolveFeedback("u1", 0, 1)
	assert.ErrorIs(t, err, ErrFeedbackNotFound)
}

func TestSQLiteJournalResolvedReturnsLatestOldestFirst(t *testing.T) {
	j, _ := tempJournal(t)
	l := New(WithJournal(j), WithClock(stepClock(
		base, base.Add(time.Second), base.Add(2*time.Second), base.Add(3*time.Second))))

	l.RecordDecision("u1", 0, []float64{1})
	l.RecordDecision("u1", 1, []float64{2})
	l.RecordDecision("u2", 0, []float64{3})
	for _, fb := range []struct {
		subject string
		arm     int
	}{{"u1", 0}, {"u1", 1}, {"u2", 0}} {
		_, err := l.ResolveFeedback(fb.subject, fb.arm, 1)
		require.NoError(t, err)
	}

	all, err := j.Resolved(0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	last, err := j.Resolved(2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, []float64{2}, last[0].Context)
	assert.Equal(t, []float64{3}, last[1].Context)
	require.NotNil(t, last[1].Reward)
	assert.Equal(t, 1.0, *last[1].Reward)
}
