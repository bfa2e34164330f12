package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/nudge-engine/internal/ledger"
	"github.com/danielpatrickdp/nudge-engine/internal/modelstore"
	"github.com/danielpatrickdp/nudge-engine/internal/replay"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to nudge.db")
	last := flag.Int("last", 100, "number of most recent resolved decisions to export (0 for all)")
	arms := flag.Int("arms", 0, "number of arms (default: active snapshot, else highest logged arm + 1)")
	outPath := flag.String("out", "", "output fixture path (.json or .yaml)")
	flag.Parse()

	if *dbPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db path/to/nudge.db --out path/to/fixture.json [--last N] [--arms K]")
		os.Exit(2)
	}

	if err := run(*dbPath, *last, *arms, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region extract

func run(dbPath string, last, arms int, outPath string) error {
	store, err := modelstore.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	journal, err := ledger.NewSQLiteJournal(store.DB())
	if err != nil {
		return err
	}
	recs, err := journal.Resolved(last)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return fmt.Errorf("no resolved decisions in %s", dbPath)
	}
	fmt.Printf("Found %d resolved decisions\n", len(recs))

	var alpha *float64
	st, err := store.Load(context.Background())
	switch {
	case err == nil:
		if arms == 0 {
			arms = st.NumArms
		}
		alpha = &st.Alpha
	case errors.Is(err, modelstore.ErrAbsent):
	default:
		return fmt.Errorf("load active snapshot: %w", err)
	}

	fixture, err := buildFixture(recs, arms, alpha)
	if err != nil {
		return err
	}
	if err := replay.WriteFixture(outPath, fixture); err != nil {
		return err
	}
	fmt.Printf("Wrote fixture to %s (%d interactions, %d arms)\n", outPath, len(fixture.Interactions), fixture.Config.NumArms)
	return nil
}

// #endregion extract

// #region output

// buildFixture turns logged decisions into interactions. Only the chosen
// arm's reward was observed, so every other arm is left at 0.
func buildFixture(recs []ledger.DecisionRecord, arms int, alpha *float64) (*replay.Fixture, error) {
	if arms == 0 {
		for _, r := range recs {
			if r.Arm+1 > arms {
				arms = r.Arm + 1
			}
		}
	}

	interactions := make([]replay.FixtureInteraction, 0, len(recs))
	for _, r := range recs {
		if r.Reward == nil {
			continue
		}
		if r.Arm >= arms {
			return nil, fmt.Errorf("decision %s uses arm %d, only %d arms", r.ID, r.Arm, arms)
		}
		interactions = append(interactions, replay.FixtureInteraction{
			SubjectID: r.SubjectID,
			Context:   r.Context,
			Rewards:   map[int]float64{r.Arm: *r.Reward},
		})
	}

	return &replay.Fixture{
		Description: fmt.Sprintf("Logged export: %d resolved decisions, observed arm rewards only", len(interactions)),
		Config: replay.FixtureConfig{
			NumArms: arms,
			Alpha:   alpha,
		},
		Interactions: interactions,
	}, nil
}

// #endregion output
