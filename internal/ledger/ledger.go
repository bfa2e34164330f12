package ledger

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// #region ledger-struct
type key struct {
	subject string
	arm     int
}

// bucket holds the unresolved decisions of one (subject, arm) key, oldest
// first. Its mutex also guards the mutable fields of every record that ever
// belonged to the key.
type bucket struct {
	mu      sync.Mutex
	pending []*DecisionRecord
}

// Ledger correlates delayed rewards with the decisions that earned them.
// It never touches the bandit engine; it only yields the (context, reward)
// pair to feed into it.
type Ledger struct {
	mu       sync.RWMutex
	buckets  map[key]*bucket
	records  map[string]*DecisionRecord
	subjects map[string][]*DecisionRecord

	seq        atomic.Int64
	journal    Journal
	now        func() time.Time
	log        *zap.Logger
	onError    func(op string)
	contextDim int
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithJournal persists every record and resolution.
func WithJournal(j Journal) Option { return func(l *Ledger) { l.journal = j } }

// WithClock overrides time.Now for decision timestamps.
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

// WithLogger attaches a logger for journal failures.
func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}
// WithErrorHook is called with "journal" after every failed journal write.
func WithErrorHook(fn func(op string)) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.onError = fn
		}
	}
}

// WithContextDim makes Restore drop pending decisions whose context length
// differs from d. Those can no longer train the engine.
func WithContextDim(d int) Option { return func(l *Ledger) { l.contextDim = d } }
// #endregion ledger-struct

// #region constructor
// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		buckets:  make(map[key]*bucket),
		records:  make(map[string]*DecisionRecord),
		subjects: make(map[string][]*DecisionRecord),
		now:      func() time.Time { return time.Now().UTC() },
		log:      zap.NewNop(),
		onError:  func(string) {},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Restore creates a ledger backed by j and reloads its pending decisions.
func Restore(j Journal, opts ...Option) (*Ledger, error) {
	l := New(append(opts, WithJournal(j))...)
	pending, err := j.Pending()
	if err != nil {
		return nil, fmt.Errorf("restore pending decisions: %w", err)
	}
	var maxSeq int64
	var restored, stale int
	for i := range pending {
		rec := pending[i].clone()
		if rec.Resolved() {
			continue
		}
		if rec.Seq > maxSeq {
			maxSeq = rec.Seq
		}
		if l.contextDim > 0 && len(rec.Context) != l.contextDim {
			stale++
			l.log.Warn("dropping pending decision with stale context",
				zap.String("decision_id", rec.ID),
				zap.Int("context_dim", len(rec.Context)),
				zap.Int("want", l.contextDim))
			continue
		}
		restored++
		l.index(&rec)
		b := l.bucket(key{rec.SubjectID, rec.Arm})
		b.mu.Lock()
		b.insert(&rec)
		b.mu.Unlock()
	}
	l.seq.Store(maxSeq)
	l.log.Info("ledger restored", zap.Int("pending", restored), zap.Int("stale", stale))
	return l, nil
}
// #endregion constructor

// #region record
// RecordDecision stores an unresolved decision and returns its id.
// It always succeeds; a failing journal is logged and the decision is kept
// in memory.
func (l *Ledger) RecordDecision(subjectID string, arm int, context []float64) string {
	rec := &DecisionRecord{
		ID:        uuid.New().String(),
		SubjectID: subjectID,
		Arm:       arm,
		Context:   append([]float64(nil), context...),
		Timestamp: l.now(),
		Seq:       l.seq.Add(1),
	}
	l.index(rec)

	b := l.bucket(key{subjectID, arm})
	b.mu.Lock()
	defer b.mu.Unlock()
	b.insert(rec)
	if l.journal != nil {
		if err := l.journal.Append(rec.clone()); err != nil {
			l.onError("journal")
			l.log.Error("journal append failed",
				zap.String("decision_id", rec.ID),
				zap.String("subject_id", subjectID),
				zap.Error(err))
		}
	}
	return rec.ID
}
// #endregion record

// #region resolve
// ResolveFeedback attaches reward to the most recent unresolved decision for
// (subjectID, arm) and returns a copy of it. A resolved record is never
// resolved again; repeated calls walk back through older pending decisions
// until ErrFeedbackNotFound.
func (l *Ledger) ResolveFeedback(subjectID string, arm int, reward float64) (DecisionRecord, error) {
	l.mu.RLock()
	b, ok := l.buckets[key{subjectID, arm}]
	l.mu.RUnlock()
	if !ok {
		return DecisionRecord{}, fmt.Errorf("%w: subject=%s arm=%d", ErrFeedbackNotFound, subjectID, arm)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.pending)
	if n == 0 {
		return DecisionRecord{}, fmt.Errorf("%w: subject=%s arm=%d", ErrFeedbackNotFound, subjectID, arm)
	}
	rec := b.pending[n-1]
	b.pending[n-1] = nil
	b.pending = b.pending[:n-1]

	at := l.now()
	r := reward
	rec.Reward = &r
	rec.ResolvedAt = &at

	if l.journal != nil {
		if err := l.journal.MarkResolved(rec.ID, reward, at); err != nil {
			l.onError("journal")
			l.log.Error("journal resolve failed",
				zap.String("decision_id", rec.ID),
				zap.Error(err))
		}
	}
	return rec.clone(), nil
}
// #endregion resolve

// #region queries
// Get returns a copy of the decision with the given id.
func (l *Ledger) Get(id string) (DecisionRecord, bool) {
	l.mu.RLock()
	rec, ok := l.records[id]
	var b *bucket
	if ok {
		b = l.buckets[key{rec.SubjectID, rec.Arm}]
	}
	l.mu.RUnlock()
	if !ok {
		return DecisionRecord{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return rec.clone(), true
}

// Pending counts unresolved decisions for (subjectID, arm).
func (l *Ledger) Pending(subjectID string, arm int) int {
	l.mu.RLock()
	b, ok := l.buckets[key{subjectID, arm}]
	l.mu.RUnlock()
	if !ok {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// History returns every decision recorded for a subject in this process,
// oldest first, resolved or not.
func (l *Ledger) History(subjectID string) []DecisionRecord {
	l.mu.RLock()
	recs := append([]*DecisionRecord(nil), l.subjects[subjectID]...)
	bs := make([]*bucket, len(recs))
	for i, rec := range recs {
		bs[i] = l.buckets[key{rec.SubjectID, rec.Arm}]
	}
	l.mu.RUnlock()

	out := make([]DecisionRecord, len(recs))
	for i, rec := range recs {
		bs[i].mu.Lock()
		out[i] = rec.clone()
		bs[i].mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[j].newer(&out[i]) })
	return out
}
// #endregion queries

// #region helpers
func (l *Ledger) index(rec *DecisionRecord) {
	k := key{rec.SubjectID, rec.Arm}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.buckets[k]; !ok {
		l.buckets[k] = &bucket{}
	}
	l.records[rec.ID] = rec
	l.subjects[rec.SubjectID] = append(l.subjects[rec.SubjectID], rec)
}

func (l *Ledger) bucket(k key) *bucket {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.buckets[k]
}

// insert keeps pending ordered oldest to newest. Timestamps are normally
// monotonic, so this is an append in the common case.
func (b *bucket) insert(rec *DecisionRecord) {
	i := sort.Search(len(b.pending), func(i int) bool { return b.pending[i].newer(rec) })
	b.pending = append(b.pending, nil)
	copy(b.pending[i+1:], b.pending[i:])
	b.pending[i] = rec
}
// #endregion helpers
