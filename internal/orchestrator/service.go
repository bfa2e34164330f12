package orchestrator

// #region imports
import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/nudge-engine/internal/bandit"
	"github.com/danielpatrickdp/nudge-engine/internal/features"
	"github.com/danielpatrickdp/nudge-engine/internal/ledger"
	"github.com/danielpatrickdp/nudge-engine/internal/logging"
	"github.com/danielpatrickdp/nudge-engine/internal/metrics"
	"github.com/danielpatrickdp/nudge-engine/internal/modelstore"
)

// #endregion

// #region service-struct

// Service is the caller-facing entry point: it turns raw attributes into a
// recommendation and folds delayed rewards back into the engine.
type Service struct {
	builder *features.Builder
	engine  *bandit.Engine
	ledger  *ledger.Ledger
	store   modelstore.Store
	audit   *sql.DB
	log     *zap.Logger

	persistAfterUpdate bool

	saveMu    sync.Mutex
	persistCh chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// #endregion

// #region constructor

// New validates the wiring and starts the background persister when a store
// is configured.
func New(d Deps) (*Service, error) {
	if d.Builder == nil || d.Engine == nil || d.Ledger == nil {
		return nil, errors.New("orchestrator: builder, engine and ledger are required")
	}
	if d.Builder.Dim() != d.Engine.ContextDim() {
		return nil, fmt.Errorf("%w: builder produces %d features, engine expects %d",
			bandit.ErrDimensionMismatch, d.Builder.Dim(), d.Engine.ContextDim())
	}
	if layout := d.Engine.FeatureLayout(); layout != "" && layout != d.Builder.Layout() {
		return nil, fmt.Errorf("%w: engine %s, builder %s", ErrLayoutMismatch, layout, d.Builder.Layout())
	}
	if d.Audit != nil {
		if err := logging.EnsureSchema(d.Audit); err != nil {
			return nil, err
		}
	}
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Service{
		builder:            d.Builder,
		engine:             d.Engine,
		ledger:             d.Ledger,
		store:              d.Store,
		audit:              d.Audit,
		log:                log,
		persistAfterUpdate: d.PersistAfterUpdate,
		persistCh:          make(chan struct{}, 1),
		stop:               make(chan struct{}),
		done:               make(chan struct{}),
	}
	if s.store != nil {
		go s.persistLoop()
	} else {
		close(s.done)
	}
	return s, nil
}

// Engine exposes the live engine for read-only inspection.
func (s *Service) Engine() *bandit.Engine { return s.engine }

// Ledger exposes the decision ledger for read-only inspection.
func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

// #endregion

// #region decide

// Decide builds the context for attrs, selects an arm and records the
// decision so a later Feedback can find it.
func (s *Service) Decide(ctx context.Context, subjectID string, attrs features.RawAttributes) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	if subjectID == "" {
		return Decision{}, ErrEmptySubject
	}
	start := time.Now()

	x, err := s.builder.Build(attrs)
	if err != nil {
		return Decision{}, fmt.Errorf("build context: %w", err)
	}
	scores, err := s.engine.Scores(x)
	if err != nil {
		s.log.Error("selection failed", zap.String("subject_id", subjectID), zap.Error(err))
		return Decision{}, err
	}
	arm := bandit.Argmax(scores)
	id := s.ledger.RecordDecision(subjectID, arm, x)
	metrics.ObserveDecision(arm, time.Since(start))

	s.log.Debug("decision",
		zap.String("decision_id", id),
		zap.String("subject_id", subjectID),
		zap.Int("arm", arm),
		zap.Float64("score", scores[arm].Score))

	scoresJSON, err := json.Marshal(scores)
	if err != nil {
		s.log.Debug("encode scores for audit", zap.String("decision_id", id), zap.Error(err))
	}
	s.recordEvent(logging.Event{
		DecisionID: id,
		SubjectID:  subjectID,
		Arm:        arm,
		Kind:       logging.KindSelect,
		ScoresJSON: string(scoresJSON),
	})

	return Decision{ID: id, SubjectID: subjectID, Arm: arm, Context: x, Scores: scores}, nil
}

// #endregion

// #region feedback

// Feedback resolves the latest pending decision for (subjectID, arm) and
// trains the engine on it. Invalid input is rejected before the ledger is
// touched; ledger.ErrFeedbackNotFound leaves the engine unchanged.
func (s *Service) Feedback(ctx context.Context, subjectID string, arm int, reward float64) (ledger.DecisionRecord, error) {
	if err := ctx.Err(); err != nil {
		return ledger.DecisionRecord{}, err
	}
	if subjectID == "" {
		return ledger.DecisionRecord{}, ErrEmptySubject
	}
	if arm < 0 || arm >= s.engine.NumArms() {
		metrics.ObserveFeedback(metrics.FeedbackInvalid, reward)
		return ledger.DecisionRecord{}, fmt.Errorf("%w: %d not in [0, %d)", bandit.ErrInvalidArm, arm, s.engine.NumArms())
	}
	if math.IsNaN(reward) || math.IsInf(reward, 0) {
		metrics.ObserveFeedback(metrics.FeedbackInvalid, reward)
		return ledger.DecisionRecord{}, fmt.Errorf("%w: reward %v", bandit.ErrInvalidValue, reward)
	}

	rec, err := s.ledger.ResolveFeedback(subjectID, arm, reward)
	if err != nil {
		metrics.ObserveFeedback(metrics.FeedbackNotFound, reward)
		s.log.Info("feedback without pending decision",
			zap.String("subject_id", subjectID), zap.Int("arm", arm))
		s.recordEvent(logging.Event{
			SubjectID: subjectID,
			Arm:       arm,
			Kind:      logging.KindFeedbackNotFound,
			Reward:    &reward,
		})
		return ledger.DecisionRecord{}, err
	}

	if err := s.engine.Update(arm, rec.Context, reward); err != nil {
		metrics.ObserveFeedback(metrics.FeedbackUpdateFail, reward)
		s.log.Error("engine update failed",
			zap.String("decision_id", rec.ID), zap.Int("arm", arm), zap.Error(err))
		return rec, err
	}
	metrics.ObserveFeedback(metrics.FeedbackApplied, reward)
	s.recordEvent(logging.Event{
		DecisionID: rec.ID,
		SubjectID:  subjectID,
		Arm:        arm,
		Kind:       logging.KindFeedback,
		Reward:     &reward,
	})

	if s.persistAfterUpdate {
		s.requestPersist()
	}
	return rec, nil
}

// #endregion

// #region persistence

// Save snapshots the engine and writes it synchronously. Without a store it
// does nothing.
func (s *Service) Save(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	// snapshot under saveMu so writes land in the order they were taken
	snap := s.engine.Snapshot()
	if err := s.store.Save(ctx, snap); err != nil {
		metrics.ObservePersistError("save")
		return fmt.Errorf("save model: %w", err)
	}
	metrics.ObserveSave()
	return nil
}

// requestPersist queues a background save; requests made while one is
// already queued collapse into it.
func (s *Service) requestPersist() {
	if s.store == nil {
		return
	}
	select {
	case s.persistCh <- struct{}{}:
	default:
	}
}

func (s *Service) persistLoop() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.persistCh:
			if err := s.Save(context.Background()); err != nil {
				s.log.Error("background save failed", zap.Error(err))
			}
		}
	}
}

// Close stops the persister and writes a final snapshot. Calls after the
// first return nil.
func (s *Service) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		select {
		case <-s.done:
		case <-ctx.Done():
			err = ctx.Err()
			return
		}
		err = s.Save(ctx)
	})
	return err
}

// #endregion

// #region audit

func (s *Service) recordEvent(ev logging.Event) {
	if s.audit == nil {
		return
	}
	if err := logging.LogEvent(s.audit, ev); err != nil {
		metrics.ObservePersistError("audit")
		s.log.Warn("audit write failed", zap.String("kind", ev.Kind), zap.Error(err))
	}
}

// #endregion
