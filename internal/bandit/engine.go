package bandit

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
)

// #region engine-struct
// Engine is a LinUCB contextual bandit. Each arm's statistics sit behind
// their own lock, so operations on different arms never contend.
type Engine struct {
	cfg        Config
	layout     string
	arms       []*armSlot
	log        *zap.Logger
	onFallback func(arm int)
}

type armSlot struct {
	mu    sync.RWMutex
	stats ArmStatistics
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger attaches a logger; the engine logs regularization fallbacks.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithFallbackHook is called with the arm index whenever inversion needed
// the ridge fallback.
func WithFallbackHook(fn func(arm int)) Option {
	return func(e *Engine) { e.onFallback = fn }
}

// WithFeatureLayout records the feature layout fingerprint carried in snapshots.
func WithFeatureLayout(layout string) Option {
	return func(e *Engine) { e.layout = layout }
}
// #endregion engine-struct

// #region constructor
// NewEngine creates an untouched engine: A = I and b = 0 for every arm.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	st := NewState(cfg)
	return build(cfg, st, opts), nil
}

// FromState restores an engine from a snapshot. The snapshot is validated
// and deep-copied; regularization comes from reg since it is not persisted.
func FromState(st EngineState, regularization float64, opts ...Option) (*Engine, error) {
	if err := Validate(st); err != nil {
		return nil, err
	}
	cfg := Config{
		NumArms:        st.NumArms,
		ContextDim:     st.ContextDim,
		Alpha:          st.Alpha,
		Regularization: regularization,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := build(cfg, st.Clone(), opts)
	if e.layout == "" {
		e.layout = st.FeatureLayout
	}
	return e, nil
}

func build(cfg Config, st EngineState, opts []Option) *Engine {
	e := &Engine{
		cfg:  cfg,
		arms: make([]*armSlot, cfg.NumArms),
		log:  zap.NewNop(),
	}
	for a := range e.arms {
		e.arms[a] = &armSlot{stats: st.Arms[a]}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}
// #endregion constructor

// #region accessors
// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// NumArms returns the number of arms.
func (e *Engine) NumArms() int { return e.cfg.NumArms }

// ContextDim returns the expected context length.
func (e *Engine) ContextDim() int { return e.cfg.ContextDim }

// FeatureLayout returns the layout fingerprint the engine was built for.
func (e *Engine) FeatureLayout() string { return e.layout }
// #endregion accessors

// #region select
// Select returns the arm with the highest upper confidence bound for x.
// Ties go to the lowest arm index. Select never mutates state.
func (e *Engine) Select(x []float64) (int, error) {
	scores, err := e.Scores(x)
	if err != nil {
		return 0, err
	}
	return Argmax(scores), nil
}

// Argmax returns the index of the highest score, preferring the lowest index
// on ties.
func Argmax(scores []ArmScore) int {
	best := 0
	for a := 1; a < len(scores); a++ {
		if scores[a].Score > scores[best].Score {
			best = a
		}
	}
	return best
}

// Scores computes theta'x + alpha*sqrt(x' A^-1 x) for every arm.
func (e *Engine) Scores(x []float64) ([]ArmScore, error) {
	if err := e.checkContext(x); err != nil {
		return nil, err
	}
	scores := make([]ArmScore, len(e.arms))
	for a := range e.arms {
		s, err := e.scoreArm(a, x)
		if err != nil {
			return nil, err
		}
		scores[a] = s
	}
	return scores, nil
}

func (e *Engine) scoreArm(a int, x []float64) (ArmScore, error) {
	slot := e.arms[a]
	slot.mu.RLock()
	inv, fellBack, err := regularizedInvert(slot.stats.A, e.cfg.Regularization)
	var theta []float64
	if err == nil {
		theta = matVec(inv, slot.stats.B)
	}
	slot.mu.RUnlock()

	if fellBack {
		e.log.Warn("inversion fell back to ridge",
			zap.Int("arm", a),
			zap.Float64("ridge", e.cfg.Regularization),
			zap.Bool("recovered", err == nil))
		if e.onFallback != nil {
			e.onFallback(a)
		}
	}
	if err != nil {
		return ArmScore{}, fmt.Errorf("%w: arm %d: %v", ErrNumericalInstability, a, err)
	}

	expected := dot(theta, x)
	variance := dot(x, matVec(inv, x))
	if variance < 0 {
		variance = 0
	}
	bonus := e.cfg.Alpha * math.Sqrt(variance)
	score := expected + bonus
	if !finite(score) {
		return ArmScore{}, fmt.Errorf("%w: arm %d: non-finite score", ErrNumericalInstability, a)
	}
	return ArmScore{Arm: a, Expected: expected, Bonus: bonus, Score: score}, nil
}
// #endregion select

// #region update
// Update folds an observed reward into the chosen arm:
// A += x x', b += reward * x. Invalid input leaves state untouched.
func (e *Engine) Update(arm int, x []float64, reward float64) error {
	if err := e.checkArm(arm); err != nil {
		return err
	}
	if err := e.checkContext(x); err != nil {
		return err
	}
	if !finite(reward) {
		return fmt.Errorf("%w: reward %v", ErrInvalidValue, reward)
	}

	slot := e.arms[arm]
	slot.mu.Lock()
	defer slot.mu.Unlock()
	for i, xi := range x {
		row := slot.stats.A[i]
		for j, xj := range x {
			row[j] += xi * xj
		}
		slot.stats.B[i] += reward * xi
	}
	slot.stats.Pulls++
	return nil
}
// #endregion update

// #region theta
// Theta returns the ridge-regression coefficients A^-1 b of an arm.
func (e *Engine) Theta(arm int) ([]float64, error) {
	if err := e.checkArm(arm); err != nil {
		return nil, err
	}
	slot := e.arms[arm]
	slot.mu.RLock()
	defer slot.mu.RUnlock()
	inv, _, err := regularizedInvert(slot.stats.A, e.cfg.Regularization)
	if err != nil {
		return nil, fmt.Errorf("%w: arm %d: %v", ErrNumericalInstability, arm, err)
	}
	return matVec(inv, slot.stats.B), nil
}
// #endregion theta

// #region snapshot
// Snapshot deep-copies the current state. Each arm is copied under its own
// read lock, so the copy never observes a half-applied update.
func (e *Engine) Snapshot() EngineState {
	st := EngineState{
		NumArms:       e.cfg.NumArms,
		ContextDim:    e.cfg.ContextDim,
		Alpha:         e.cfg.Alpha,
		FeatureLayout: e.layout,
		Arms:          make([]ArmStatistics, len(e.arms)),
	}
	for a, slot := range e.arms {
		slot.mu.RLock()
		st.Arms[a] = slot.stats.clone()
		slot.mu.RUnlock()
	}
	return st
}
// #endregion snapshot

// #region validation
func (e *Engine) checkArm(arm int) error {
	if arm < 0 || arm >= e.cfg.NumArms {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidArm, arm, e.cfg.NumArms)
	}
	return nil
}

func (e *Engine) checkContext(x []float64) error {
	if len(x) != e.cfg.ContextDim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(x), e.cfg.ContextDim)
	}
	if !allFiniteVec(x) {
		return fmt.Errorf("%w: context contains NaN or Inf", ErrInvalidValue)
	}
	return nil
}

// Validate checks a snapshot for structural and numerical soundness:
// positive sizes, one statistics block per arm, square finite symmetric A
// with a positive diagonal, and b of the right length.
func Validate(st EngineState) error {
	if st.NumArms <= 0 || st.ContextDim <= 0 {
		return fmt.Errorf("%w: num_arms=%d context_dim=%d", ErrInvalidConfig, st.NumArms, st.ContextDim)
	}
	if !finite(st.Alpha) || st.Alpha < 0 {
		return fmt.Errorf("%w: alpha %v", ErrInvalidConfig, st.Alpha)
	}
	if len(st.Arms) != st.NumArms {
		return fmt.Errorf("%w: %d arm blocks for %d arms", ErrInvalidConfig, len(st.Arms), st.NumArms)
	}
	d := st.ContextDim
	for a, arm := range st.Arms {
		if len(arm.A) != d || len(arm.B) != d {
			return fmt.Errorf("%w: arm %d: A has %d rows, b has %d entries, want %d",
				ErrDimensionMismatch, a, len(arm.A), len(arm.B), d)
		}
		for i, row := range arm.A {
			if len(row) != d {
				return fmt.Errorf("%w: arm %d: row %d has %d columns, want %d",
					ErrDimensionMismatch, a, i, len(row), d)
			}
			if !(row[i] > 0) {
				return fmt.Errorf("%w: arm %d: non-positive diagonal at %d", ErrInvalidConfig, a, i)
			}
		}
		if !allFinite(arm.A) || !allFiniteVec(arm.B) {
			return fmt.Errorf("%w: arm %d: non-finite statistics", ErrInvalidValue, a)
		}
		if !symmetric(arm.A) {
			return fmt.Errorf("%w: arm %d: A is not symmetric", ErrInvalidConfig, a)
		}
		if arm.Pulls < 0 {
			return fmt.Errorf("%w: arm %d: negative pull count", ErrInvalidConfig, a)
		}
	}
	return nil
}
// #endregion validation
