package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// #region helpers
// stepClock returns the given instants in order, then repeats the last one.
func stepClock(ts ...time.Time) func() time.Time {
	var mu sync.Mutex
	i := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := ts[i]
		if i < len(ts)-1 {
			i++
		}
		return t
	}
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type failingJournal struct{ appends, resolves int }

func (f *failingJournal) Append(DecisionRecord) error {
	f.appends++
	return errors.New("disk full")
}

func (f *failingJournal) MarkResolved(string, float64, time.Time) error {
	f.resolves++
	return errors.New("disk full")
}

func (f *failingJournal) Pending() ([]DecisionRecord, error) { return nil, nil }
// #endregion helpers

// #region resolve-tests
func TestResolveSingleDecision(t *testing.T) {
	l := New()
	ctx := []float64{0.1, 0.2}
	id := l.RecordDecision("u1", 0, ctx)

	rec, err := l.ResolveFeedback("u1", 0, 0.7)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	require.NotNil(t, rec.Reward)
	assert.Equal(t, 0.7, *rec.Reward)
	assert.Equal(t, ctx, rec.Context)
	assert.NotNil(t, rec.ResolvedAt)

	_, err = l.ResolveFeedback("u1", 0, 0.9)
	assert.ErrorIs(t, err, ErrFeedbackNotFound)

	stored, ok := l.Get(id)
	require.True(t, ok)
	assert.Equal(t, 0.7, *stored.Reward, "a resolved record keeps its first reward")
}

func TestResolveLatestFirst(t *testing.T) {
	l := New(WithClock(stepClock(base, base.Add(time.Minute))))
	first := l.RecordDecision("u1", 2, []float64{1})
	second := l.RecordDecision("u1", 2, []float64{2})

	rec, err := l.ResolveFeedback("u1", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, second, rec.ID)

	rec, err = l.ResolveFeedback("u1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, first, rec.ID)

	_, err = l.ResolveFeedback("u1", 2, 0)
	assert.ErrorIs(t, err, ErrFeedbackNotFound)
}

func TestResolveTimestampTieUsesCreationOrder(t *testing.T) {
	l := New(WithClock(stepClock(base)))
	l.RecordDecision("u1", 0, nil)
	second := l.RecordDecision("u1", 0, nil)

	rec, err := l.ResolveFeedback("u1", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, second, rec.ID)
}

func TestResolveOrdersByTimestampNotInsertion(t *testing.T) {
	// a skewed clock hands the second decision an earlier timestamp
	l := New(WithClock(stepClock(base.Add(time.Hour), base)))
	later := l.RecordDecision("u1", 1, nil)
	l.RecordDecision("u1", 1, nil)

	rec, err := l.ResolveFeedback("u1", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, later, rec.ID)
}

func TestResolveUnknownKey(t *testing.T) {
	l := New()
	l.RecordDecision("u1", 0, nil)

	_, err := l.ResolveFeedback("u2", 0, 1)
	assert.ErrorIs(t, err, ErrFeedbackNotFound)
	_, err = l.ResolveFeedback("u1", 1, 1)
	assert.ErrorIs(t, err, ErrFeedbackNotFound)
	assert.Equal(t, 1, l.Pending("u1", 0))
}

func TestRecordCopiesContext(t *testing.T) {
	l := New()
	ctx := []float64{1, 2}
	id := l.RecordDecision("u1", 0, ctx)
	ctx[0] = 99

	rec, ok := l.Get(id)
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2}, rec.Context)
}

func TestHistoryIsChronological(t *testing.T) {
	l := New(WithClock(stepClock(base.Add(2*time.Minute), base, base.Add(time.Minute))))
	a := l.RecordDecision("u1", 0, nil)
	b := l.RecordDecision("u1", 1, nil)
	c := l.RecordDecision("u1", 0, nil)
	l.RecordDecision("u2", 0, nil)

	_, err := l.ResolveFeedback("u1", 0, 0.5)
	require.NoError(t, err)

	hist := l.History("u1")
	require.Len(t, hist, 3)
	assert.Equal(t, []string{b, c, a}, []string{hist[0].ID, hist[1].ID, hist[2].ID})
	assert.True(t, hist[2].Resolved(), "later timestamp on arm 0 resolves first")
	assert.False(t, hist[1].Resolved())
}
// #endregion resolve-tests

// #region journal-tests
func TestFailingJournalDoesNotFailCalls(t *testing.T) {
	j := &failingJournal{}
	var ops []string
	l := New(WithJournal(j), WithErrorHook(func(op string) { ops = append(ops, op) }))
	id := l.RecordDecision("u1", 0, []float64{1})
	rec, err := l.ResolveFeedback("u1", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, 1, j.appends)
	assert.Equal(t, 1, j.resolves)
	assert.Equal(t, []string{"journal", "journal"}, ops)
}
// #endregion journal-tests

// #region concurrency-tests
func TestConcurrentResolveResolvesEachRecordOnce(t *testing.T) {
	l := New()
	const n = 50
	for i := 0; i < n; i++ {
		l.RecordDecision("u1", 3, []float64{float64(i)})
	}

	var (
		mu       sync.Mutex
		seen     = make(map[string]int)
		notFound int
		wg       sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; i++ {
				rec, err := l.ResolveFeedback("u1", 3, 1)
				mu.Lock()
				if err != nil {
					notFound++
				} else {
					seen[rec.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, "decision %s", id)
	}
	assert.Equal(t, 8*n-n, notFound)
	assert.Equal(t, 0, l.Pending("u1", 3))
}

func TestConcurrentRecordAcrossKeys(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(arm int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l.RecordDecision("u1", arm, nil)
			}
		}(w)
	}
	wg.Wait()
	for arm := 0; arm < 4; arm++ {
		assert.Equal(t, 100, l.Pending("u1", arm))
	}
	assert.Len(t, l.History("u1"), 400)
}
// #endregion concurrency-tests
