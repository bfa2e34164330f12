package modelstore

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/nudge-engine/internal/bandit"
)

// #region load-or-init
// LoadOrInit restores the engine from store, or falls back to a fresh one
// when the snapshot is absent, corrupt, incompatible with cfg and layout, or
// the store is unreachable. Only an invalid cfg is an error.
//
// The configured alpha replaces the persisted one.
func LoadOrInit(ctx context.Context, store Store, cfg bandit.Config, layout string, log *zap.Logger, opts ...bandit.Option) (*bandit.Engine, Outcome, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, OutcomeFresh, err
	}
	opts = append(opts, bandit.WithFeatureLayout(layout))

	outcome := OutcomeFresh
	if store != nil {
		st, err := store.Load(ctx)
		switch {
		case err == nil:
			if reason := incompatibility(st, cfg, layout); reason != "" {
				log.Warn("snapshot incompatible, starting fresh",
					zap.String("reason", reason),
					zap.Int("num_arms", st.NumArms),
					zap.Int("context_dim", st.ContextDim),
					zap.String("feature_layout", st.FeatureLayout))
				outcome = OutcomeIncompatible
				break
			}
			if st.Alpha != cfg.Alpha {
				log.Info("overriding persisted alpha",
					zap.Float64("persisted", st.Alpha),
					zap.Float64("configured", cfg.Alpha))
				st.Alpha = cfg.Alpha
			}
			e, err := bandit.FromState(st, cfg.Regularization, opts...)
			if err != nil {
				// Load validated already; this only trips on a Store that does not.
				log.Error("snapshot rejected, starting fresh", zap.Error(err))
				outcome = OutcomeCorrupt
				break
			}
			log.Info("engine restored",
				zap.Int("num_arms", st.NumArms),
				zap.Int("context_dim", st.ContextDim),
				zap.Int64("total_pulls", totalPulls(st)))
			return e, OutcomeLoaded, nil
		case errors.Is(err, ErrAbsent):
			log.Info("no snapshot, starting fresh")
		case errors.Is(err, ErrCorrupt):
			log.Error("snapshot corrupt, starting fresh", zap.Error(err))
			outcome = OutcomeCorrupt
		default:
			log.Error("model store unavailable, starting fresh", zap.Error(err))
			outcome = OutcomeUnavailable
		}
	}

	e, err := bandit.NewEngine(cfg, opts...)
	if err != nil {
		return nil, outcome, err
	}
	return e, outcome, nil
}

func incompatibility(st bandit.EngineState, cfg bandit.Config, layout string) string {
	switch {
	case st.NumArms != cfg.NumArms:
		return "num_arms differs"
	case st.ContextDim != cfg.ContextDim:
		return "context_dim differs"
	case st.FeatureLayout != "" && layout != "" && st.FeatureLayout != layout:
		return "feature layout differs"
	}
	return ""
}

func totalPulls(st bandit.EngineState) int64 {
	var n int64
	for _, arm := range st.Arms {
		n += arm.Pulls
	}
	return n
}
// #endregion load-or-init
