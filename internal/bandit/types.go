package bandit

import (
	"errors"
	"fmt"
	"math"
)

// #region errors
var (
	// ErrDimensionMismatch: context length differs from the configured dimension.
	ErrDimensionMismatch = errors.New("bandit: context dimension mismatch")
	// ErrInvalidArm: arm index outside [0, NumArms).
	ErrInvalidArm = errors.New("bandit: invalid arm")
	// ErrNumericalInstability: A could not be inverted even after regularization.
	ErrNumericalInstability = errors.New("bandit: numerical instability")
	// ErrInvalidValue: NaN or Inf in a context or reward.
	ErrInvalidValue = errors.New("bandit: non-finite value")
	// ErrInvalidConfig: engine configuration or state fails validation.
	ErrInvalidConfig = errors.New("bandit: invalid configuration")
)
// #endregion errors

// #region config
// Config fixes the engine geometry at construction time.
type Config struct {
	NumArms        int
	ContextDim     int
	Alpha          float64 // exploration weight on the confidence bonus
	Regularization float64 // ridge added to A when plain inversion fails
}

// DefaultConfig returns 5 arms, alpha 0.1 and a 1e-6 ridge fallback.
// ContextDim is left for the caller to take from the feature builder.
func DefaultConfig() Config {
	return Config{
		NumArms:        5,
		Alpha:          0.1,
		Regularization: 1e-6,
	}
}

// Validate checks that the configuration describes a usable engine.
func (c Config) Validate() error {
	if c.NumArms <= 0 {
		return fmt.Errorf("%w: num_arms must be positive, got %d", ErrInvalidConfig, c.NumArms)
	}
	if c.ContextDim <= 0 {
		return fmt.Errorf("%w: context_dim must be positive, got %d", ErrInvalidConfig, c.ContextDim)
	}
	if math.IsNaN(c.Alpha) || math.IsInf(c.Alpha, 0) || c.Alpha < 0 {
		return fmt.Errorf("%w: alpha must be finite and >= 0, got %v", ErrInvalidConfig, c.Alpha)
	}
	if math.IsNaN(c.Regularization) || math.IsInf(c.Regularization, 0) || c.Regularization < 0 {
		return fmt.Errorf("%w: regularization must be finite and >= 0, got %v", ErrInvalidConfig, c.Regularization)
	}
	return nil
}
// #endregion config

// #region state
// ArmStatistics holds the ridge-regression sufficient statistics of one arm.
type ArmStatistics struct {
	A     [][]float64 `json:"a"`     // D x D, starts at identity
	B     []float64   `json:"b"`     // D, starts at zero
	Pulls int64       `json:"pulls"` // number of updates applied
}

// EngineState is the full serializable snapshot of an engine.
type EngineState struct {
	NumArms       int             `json:"num_arms"`
	ContextDim    int             `json:"context_dim"`
	Alpha         float64         `json:"alpha"`
	FeatureLayout string          `json:"feature_layout,omitempty"`
	Arms          []ArmStatistics `json:"arms"`
}

// NewState returns the untouched state for cfg: every A = I, every b = 0.
func NewState(cfg Config) EngineState {
	st := EngineState{
		NumArms:    cfg.NumArms,
		ContextDim: cfg.ContextDim,
		Alpha:      cfg.Alpha,
		Arms:       make([]ArmStatistics, cfg.NumArms),
	}
	for a := range st.Arms {
		st.Arms[a] = ArmStatistics{
			A: identity(cfg.ContextDim),
			B: make([]float64, cfg.ContextDim),
		}
	}
	return st
}

// Clone deep-copies the state.
func (s EngineState) Clone() EngineState {
	out := s
	out.Arms = make([]ArmStatistics, len(s.Arms))
	for i, arm := range s.Arms {
		out.Arms[i] = arm.clone()
	}
	return out
}

func (a ArmStatistics) clone() ArmStatistics {
	return ArmStatistics{
		A:     cloneMatrix(a.A),
		B:     append([]float64(nil), a.B...),
		Pulls: a.Pulls,
	}
}
// #endregion state

// #region score
// ArmScore breaks a UCB score into its estimate and exploration bonus.
type ArmScore struct {
	Arm      int     `json:"arm"`
	Expected float64 `json:"expected"` // theta . x
	Bonus    float64 `json:"bonus"`    // alpha * sqrt(x' A^-1 x)
	Score    float64 `json:"score"`
}
// #endregion score
