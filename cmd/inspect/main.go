package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/danielpatrickdp/nudge-engine/internal/bandit"
	"github.com/danielpatrickdp/nudge-engine/internal/features"
	"github.com/danielpatrickdp/nudge-engine/internal/logging"
	"github.com/danielpatrickdp/nudge-engine/internal/modelstore"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to nudge.db (snapshot history, events)")
	modelPath := flag.String("model", "", "path to a model.json snapshot")
	last := flag.Int("last", 20, "show N most recent snapshots")
	snapshot := flag.String("snapshot", "", "show single snapshot detail")
	events := flag.Int("events", 0, "show N most recent audit events instead of snapshots")
	subject := flag.String("subject", "", "filter events to one subject")
	top := flag.Int("top", 5, "strongest features to show per arm in detail mode")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if (*dbPath == "") == (*modelPath == "") {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/nudge.db [--last N] [--snapshot id] [--events N [--subject id]] [--json]")
		fmt.Fprintln(os.Stderr, "       inspect --model path/to/model.json [--top K] [--json]")
		os.Exit(2)
	}

	ctx := context.Background()
	if *modelPath != "" {
		st, err := modelstore.NewFileStore(*modelPath).Load(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load model: %v\n", err)
			os.Exit(1)
		}
		info := modelstore.SnapshotInfo{
			ID:            *modelPath,
			NumArms:       st.NumArms,
			ContextDim:    st.ContextDim,
			Alpha:         st.Alpha,
			FeatureLayout: st.FeatureLayout,
			Active:        true,
		}
		if err := printDetail(st, info, *top, *jsonOut); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	store, err := modelstore.NewSQLiteStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	switch {
	case *events > 0:
		err = runEventsMode(store, *events, *subject, *jsonOut)
	case *snapshot != "":
		err = runDetailMode(ctx, store, *snapshot, *top, *jsonOut)
	default:
		err = runListMode(ctx, store, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

func runListMode(ctx context.Context, store *modelstore.SQLiteStore, last int, jsonOut bool) error {
	snaps, err := store.ListSnapshots(ctx, last)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Fprintln(os.Stderr, "no snapshots found")
		return nil
	}

	// store returns newest first, reverse for chronological
	rows := make([]modelstore.SnapshotInfo, len(snaps))
	for i, s := range snaps {
		rows[len(snaps)-1-i] = s
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-10s  %-10s  %4s  %4s  %8s  %10s  %-6s  %s\n",
		"Snapshot", "Parent", "Arms", "Dim", "Alpha", "Pulls", "Active", "Time")
	fmt.Printf("%-10s+-%-10s+-%4s+-%4s+-%8s+-%10s+-%-6s+-%s\n",
		"----------", "----------", "----", "----", "--------", "----------", "------", "--------------------")
	for _, r := range rows {
		parent := "-"
		if r.ParentID != "" {
			parent = shortID(r.ParentID)
		}
		active := ""
		if r.Active {
			active = "*"
		}
		fmt.Printf("%-10s  %-10s  %4d  %4d  %8.4f  %10d  %-6s  %s\n",
			shortID(r.ID), parent, r.NumArms, r.ContextDim, r.Alpha, r.TotalPulls, active,
			r.CreatedAt.Format("2006-01-02T15:04:05Z"))
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	Snapshot modelstore.SnapshotInfo `json:"snapshot"`
	Arms     []armDetail             `json:"arms"`
}

type armDetail struct {
	Arm       int          `json:"arm"`
	Pulls     int64        `json:"pulls"`
	TraceA    float64      `json:"trace_a"`
	ThetaNorm float64      `json:"theta_norm"`
	Theta     []float64    `json:"theta"`
	Strongest []featWeight `json:"strongest,omitempty"`
}

type featWeight struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
}

func runDetailMode(ctx context.Context, store *modelstore.SQLiteStore, id string, top int, jsonOut bool) error {
	st, info, err := store.Snapshot(ctx, id)
	if err != nil {
		return err
	}
	return printDetail(st, info, top, jsonOut)
}

func printDetail(st bandit.EngineState, info modelstore.SnapshotInfo, top int, jsonOut bool) error {
	engine, err := bandit.FromState(st, 1e-6)
	if err != nil {
		return err
	}

	// feature names are only meaningful when the snapshot was trained on
	// the current layout
	var fields []string
	if b := features.DefaultBuilder(); st.FeatureLayout == b.Layout() {
		fields = b.Fields()
	}

	out := detailOutput{Snapshot: info}
	out.Snapshot.TotalPulls = 0
	for a := 0; a < st.NumArms; a++ {
		theta, err := engine.Theta(a)
		if err != nil {
			return fmt.Errorf("arm %d: %w", a, err)
		}
		out.Snapshot.TotalPulls += st.Arms[a].Pulls
		out.Arms = append(out.Arms, armDetail{
			Arm:       a,
			Pulls:     st.Arms[a].Pulls,
			TraceA:    trace(st.Arms[a].A),
			ThetaNorm: norm(theta),
			Theta:     theta,
			Strongest: strongest(theta, fields, top),
		})
	}
	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Snapshot:   %s\n", out.Snapshot.ID)
	if out.Snapshot.ParentID != "" {
		fmt.Printf("Parent:     %s\n", out.Snapshot.ParentID)
	}
	if !out.Snapshot.CreatedAt.IsZero() {
		fmt.Printf("Created:    %s\n", out.Snapshot.CreatedAt.Format("2006-01-02T15:04:05Z"))
	}
	fmt.Printf("Layout:     %s\n", out.Snapshot.FeatureLayout)
	fmt.Printf("Arms x Dim: %d x %d\n", out.Snapshot.NumArms, out.Snapshot.ContextDim)
	fmt.Printf("Alpha:      %.4f\n", out.Snapshot.Alpha)
	fmt.Printf("Pulls:      %d\n", out.Snapshot.TotalPulls)

	fmt.Printf("\n%-4s  %8s  %12s  %10s\n", "Arm", "Pulls", "Trace(A)", "|theta|")
	for _, a := range out.Arms {
		fmt.Printf("%-4d  %8d  %12.4f  %10.4f\n", a.Arm, a.Pulls, a.TraceA, a.ThetaNorm)
	}
	for _, a := range out.Arms {
		if len(a.Strongest) == 0 {
			continue
		}
		fmt.Printf("\nArm %d strongest features:\n", a.Arm)
		for _, fw := range a.Strongest {
			fmt.Printf("  %-24s %+.4f\n", fw.Feature, fw.Weight)
		}
	}
	return nil
}

// #endregion detail-mode

// #region events-mode

func runEventsMode(store *modelstore.SQLiteStore, limit int, subject string, jsonOut bool) error {
	if err := logging.EnsureSchema(store.DB()); err != nil {
		return err
	}
	events, err := logging.ListEvents(store.DB(), subject, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stderr, "no events found")
		return nil
	}
	if jsonOut {
		return printJSON(events)
	}

	fmt.Printf("%-20s  %-20s  %-10s  %-12s  %4s  %8s\n", "Time", "Kind", "Decision", "Subject", "Arm", "Reward")
	for _, ev := range events {
		reward := "-"
		if ev.Reward != nil {
			reward = fmt.Sprintf("%.4f", *ev.Reward)
		}
		decision := "-"
		if ev.DecisionID != "" {
			decision = shortID(ev.DecisionID)
		}
		fmt.Printf("%-20s  %-20s  %-10s  %-12s  %4d  %8s\n",
			ev.CreatedAt.Format("2006-01-02T15:04:05Z"), ev.Kind, decision, ev.SubjectID, ev.Arm, reward)
	}
	return nil
}

// #endregion events-mode

// #region metrics

func trace(m [][]float64) float64 {
	var sum float64
	for i := range m {
		sum += m[i][i]
	}
	return sum
}

func norm(v []float64) float64 {
	var sum float64
	for _, f := range v {
		sum += f * f
	}
	return math.Sqrt(sum)
}

// strongest returns the k largest-magnitude weights, or nil without names.
func strongest(theta []float64, fields []string, k int) []featWeight {
	if len(fields) != len(theta) || k <= 0 {
		return nil
	}
	out := make([]featWeight, len(theta))
	for i, w := range theta {
		out[i] = featWeight{Feature: fields[i], Weight: w}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Weight) > math.Abs(out[j].Weight)
	})
	if k < len(out) {
		out = out[:k]
	}
	return out
}

// #endregion metrics

// #region output

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
