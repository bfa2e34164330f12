package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/nudge-engine/internal/bandit"
	"github.com/danielpatrickdp/nudge-engine/internal/replay"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to fixture (.json, .yaml)")
	alphas := flag.String("alphas", "", "comma-separated alphas to sweep, e.g. 0.05,0.1,0.5 (default: fixture alpha)")
	steps := flag.Bool("steps", false, "print every step of the best run")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json [--alphas 0.05,0.1,0.5] [--steps] [--json]")
		os.Exit(2)
	}
	os.Exit(run(*fixturePath, *alphas, *steps, *jsonOut))
}

// #endregion main

// #region run

type output struct {
	Description string               `json:"description,omitempty"`
	Results     []replay.SweepResult `json:"results"`
	BestAlpha   float64              `json:"best_alpha"`
	Steps       []replay.Step        `json:"steps,omitempty"`
}

func run(fixturePath, alphaList string, showSteps, jsonOut bool) int {
	f, err := replay.LoadFixture(fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}
	base := f.Config.ToConfig(bandit.DefaultConfig())

	alphas := []float64{base.Alpha}
	if alphaList != "" {
		if alphas, err = parseAlphas(alphaList); err != nil {
			fmt.Fprintf(os.Stderr, "parse --alphas: %v\n", err)
			return 2
		}
	}

	results, err := replay.Sweep(context.Background(), f, base, alphas)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 1
	}
	best, _ := replay.Best(results)

	out := output{Description: f.Description, Results: results, BestAlpha: best.Alpha}
	if showSteps {
		cfg := base
		cfg.Alpha = best.Alpha
		if _, out.Steps, err = replay.Replay(f, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "replay: %v\n", err)
			return 1
		}
	}

	if jsonOut {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "marshal json: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}
	printTable(out)
	return 0
}

func parseAlphas(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, err
		}
		if v < 0 {
			return nil, fmt.Errorf("alpha %v is negative", v)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no alphas in %q", s)
	}
	return out, nil
}

// #endregion run

// #region output

func printTable(out output) {
	if out.Description != "" {
		fmt.Printf("Fixture: %s\n\n", out.Description)
	}
	fmt.Printf("%8s  %6s  %10s  %8s  %10s  %10s  %10s  %s\n",
		"Alpha", "N", "Reward", "Mean", "Oracle", "Random", "Regret", "Picks")
	for _, r := range out.Results {
		marker := ""
		if r.Alpha == out.BestAlpha {
			marker = "  <- best"
		}
		s := r.Summary
		fmt.Printf("%8.4f  %6d  %10.4f  %8.4f  %10.4f  %10.4f  %10.4f  %v%s\n",
			r.Alpha, s.Interactions, s.TotalReward, s.MeanReward, s.OracleReward,
			s.RandomBaseline, s.Regret, s.ArmPicks, marker)
	}

	if len(out.Steps) == 0 {
		return
	}
	fmt.Printf("\nSteps (alpha %.4f):\n", out.BestAlpha)
	fmt.Printf("%5s  %-12s  %4s  %8s  %4s  %8s  %10s\n", "#", "Subject", "Arm", "Reward", "Best", "BestRwd", "CumRegret")
	for _, st := range out.Steps {
		fmt.Printf("%5d  %-12s  %4d  %8.4f  %4d  %8.4f  %10.4f\n",
			st.Index, st.SubjectID, st.Arm, st.Reward, st.BestArm, st.BestReward, st.CumulativeRegret)
	}
}

// #endregion output
