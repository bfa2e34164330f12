package replay

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/nudge-engine/internal/bandit"
	"github.com/danielpatrickdp/nudge-engine/internal/features"
	"github.com/danielpatrickdp/nudge-engine/internal/ledger"
)

const defaultSubject = "replay"

// #region types

// Step is the outcome of replaying one interaction.
type Step struct {
	Index            int     `json:"index"`
	SubjectID        string  `json:"subject_id"`
	Arm              int     `json:"arm"`
	Reward           float64 `json:"reward"`
	BestArm          int     `json:"best_arm"`
	BestReward       float64 `json:"best_reward"`
	CumulativeRegret float64 `json:"cumulative_regret"`
}

// Summary aggregates a replay run. OracleReward is what always picking each
// interaction's best arm would earn; RandomBaseline is the expected reward
// of a uniform random policy.
type Summary struct {
	Interactions   int                `json:"interactions"`
	Alpha          float64            `json:"alpha"`
	TotalReward    float64            `json:"total_reward"`
	MeanReward     float64            `json:"mean_reward"`
	OracleReward   float64            `json:"oracle_reward"`
	RandomBaseline float64            `json:"random_baseline"`
	Regret         float64            `json:"regret"`
	ArmPicks       []int              `json:"arm_picks"`
	FinalState     bandit.EngineState `json:"-"`
}

// SweepResult pairs an alpha with the summary it produced.
type SweepResult struct {
	Alpha   float64 `json:"alpha"`
	Summary Summary `json:"summary"`
}

// #endregion types

// #region replay

// Replay runs every interaction through a fresh engine and ledger:
// build, select, record, resolve with the chosen arm's reward, update.
func Replay(f *Fixture, cfg bandit.Config) (Summary, []Step, error) {
	builder := features.DefaultBuilder()
	cfg.ContextDim = builder.Dim()
	if err := validate(f, cfg.NumArms); err != nil {
		return Summary{}, nil, err
	}
	engine, err := bandit.NewEngine(cfg, bandit.WithFeatureLayout(builder.Layout()))
	if err != nil {
		return Summary{}, nil, err
	}
	led := ledger.New()

	sum := Summary{
		Interactions: len(f.Interactions),
		Alpha:        cfg.Alpha,
		ArmPicks:     make([]int, cfg.NumArms),
	}
	steps := make([]Step, 0, len(f.Interactions))

	for i, inter := range f.Interactions {
		subject := inter.SubjectID
		if subject == "" {
			subject = defaultSubject
		}
		x, err := contextFor(builder, inter)
		if err != nil {
			return Summary{}, nil, fmt.Errorf("interaction %d: %w", i, err)
		}
		arm, err := engine.Select(x)
		if err != nil {
			return Summary{}, nil, fmt.Errorf("interaction %d: %w", i, err)
		}
		led.RecordDecision(subject, arm, x)

		reward := inter.Rewards[arm]
		rec, err := led.ResolveFeedback(subject, arm, reward)
		if err != nil {
			return Summary{}, nil, fmt.Errorf("interaction %d: %w", i, err)
		}
		if err := engine.Update(arm, rec.Context, reward); err != nil {
			return Summary{}, nil, fmt.Errorf("interaction %d: %w", i, err)
		}

		bestArm, bestReward, mean := oracle(inter.Rewards, cfg.NumArms)
		sum.ArmPicks[arm]++
		sum.TotalReward += reward
		sum.OracleReward += bestReward
		sum.RandomBaseline += mean
		steps = append(steps, Step{
			Index:            i,
			SubjectID:        subject,
			Arm:              arm,
			Reward:           reward,
			BestArm:          bestArm,
			BestReward:       bestReward,
			CumulativeRegret: sum.OracleReward - sum.TotalReward,
		})
	}

	sum.Regret = sum.OracleReward - sum.TotalReward
	if sum.Interactions > 0 {
		sum.MeanReward = sum.TotalReward / float64(sum.Interactions)
	}
	sum.FinalState = engine.Snapshot()
	return sum, steps, nil
}

func validate(f *Fixture, numArms int) error {
	if f == nil {
		return fmt.Errorf("nil fixture")
	}
	for i, inter := range f.Interactions {
		for arm, r := range inter.Rewards {
			if arm < 0 || arm >= numArms {
				return fmt.Errorf("interaction %d: %w: reward for arm %d", i, bandit.ErrInvalidArm, arm)
			}
			if math.IsNaN(r) || math.IsInf(r, 0) {
				return fmt.Errorf("interaction %d: %w: reward %v", i, bandit.ErrInvalidValue, r)
			}
		}
	}
	return nil
}

func contextFor(builder *features.Builder, inter FixtureInteraction) ([]float64, error) {
	if len(inter.Context) == 0 {
		return builder.Build(inter.Attrs())
	}
	if len(inter.Context) != builder.Dim() {
		return nil, fmt.Errorf("%w: context has %d values, want %d",
			bandit.ErrDimensionMismatch, len(inter.Context), builder.Dim())
	}
	return append([]float64(nil), inter.Context...), nil
}

// oracle returns the best arm (lowest index on ties), its reward and the mean
// reward over all arms.
func oracle(rewards map[int]float64, numArms int) (int, float64, float64) {
	best, bestReward, total := 0, rewards[0], 0.0
	for a := 0; a < numArms; a++ {
		r := rewards[a]
		total += r
		if r > bestReward {
			best, bestReward = a, r
		}
	}
	return best, bestReward, total / float64(numArms)
}

// #endregion replay

// #region sweep

// Sweep replays f once per alpha in parallel. Results keep the order of
// alphas.
func Sweep(ctx context.Context, f *Fixture, base bandit.Config, alphas []float64) ([]SweepResult, error) {
	results := make([]SweepResult, len(alphas))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, alpha := range alphas {
		i, alpha := i, alpha
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cfg := base
			cfg.Alpha = alpha
			sum, _, err := Replay(f, cfg)
			if err != nil {
				return fmt.Errorf("alpha %v: %w", alpha, err)
			}
			results[i] = SweepResult{Alpha: alpha, Summary: sum}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Best returns the result with the highest total reward, preferring the
// earlier entry on ties.
func Best(results []SweepResult) (SweepResult, bool) {
	if len(results) == 0 {
		return SweepResult{}, false
	}
	best := results[0]
	for _, r := range results[1:] {
		if r.Summary.TotalReward > best.Summary.TotalReward {
			best = r
		}
	}
	return best, true
}

// #endregion sweep
