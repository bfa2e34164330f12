package modelstore

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/danielpatrickdp/nudge-engine/internal/bandit"
)

// #region helpers
func trainedState(t *testing.T) bandit.EngineState {
	t.Helper()
	e, err := bandit.NewEngine(bandit.Config{NumArms: 3, ContextDim: 2, Alpha: 0.1, Regularization: 1e-6},
		bandit.WithFeatureLayout("v1:abcdef"))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	updates := []struct {
		arm    int
		x      []float64
		reward float64
	}{
		{1, []float64{1, 0}, 1},
		{2, []float64{0.3, 0.7}, 0.1},
		{1, []float64{0.1, 1.0 / 3}, -0.25},
	}
	for _, u := range updates {
		if err := e.Update(u.arm, u.x, u.reward); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	return e.Snapshot()
}

func tempSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "model.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type brokenStore struct{ err error }

func (b brokenStore) Save(context.Context, bandit.EngineState) error { return b.err }

func (b brokenStore) Load(context.Context) (bandit.EngineState, error) {
	return bandit.EngineState{}, b.err
}
// #endregion helpers

// #region file-store-tests
func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := NewFileStore(filepath.Join(t.TempDir(), "nested", "model.json"))
	st := trainedState(t)

	if err := fs.Save(ctx, st); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := fs.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(st, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFileStoreAbsent(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "missing.json"))
	_, err := fs.Load(context.Background())
	if !errors.Is(err, ErrAbsent) {
		t.Fatalf("expected ErrAbsent, got %v", err)
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	ctx := context.Background()
	st := trainedState(t)

	cases := map[string]func(t *testing.T, path string){
		"garbage": func(t *testing.T, path string) {
			writeFile(t, path, []byte("{not json"))
		},
		"checksum": func(t *testing.T, path string) {
			editDocument(t, path, func(d *document) { d.State.Arms[0].B[0] = 42 })
		},
		"format": func(t *testing.T, path string) {
			editDocument(t, path, func(d *document) { d.Format = "other" })
		},
		"version": func(t *testing.T, path string) {
			editDocument(t, path, func(d *document) { d.Version = FormatVersion + 1 })
		},
		"structure": func(t *testing.T, path string) {
			editDocument(t, path, func(d *document) {
				d.State.Arms = d.State.Arms[:2]
				d.Checksum, _ = checksum(d.State)
			})
		},
	}
	for name, corrupt := range cases {
		t.Run(name, func(t *testing.T) {
			fs := NewFileStore(filepath.Join(t.TempDir(), "model.json"))
			if err := fs.Save(ctx, st); err != nil {
				t.Fatalf("Save: %v", err)
			}
			corrupt(t, fs.Path())
			if _, err := fs.Load(ctx); !errors.Is(err, ErrCorrupt) {
				t.Fatalf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

func TestFileStoreFailedSaveKeepsPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	fs := NewFileStore(filepath.Join(t.TempDir(), "model.json"))
	st := trainedState(t)
	if err := fs.Save(ctx, st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	bad := st.Clone()
	bad.Arms[0].B[0] = math.NaN()
	if err := fs.Save(ctx, bad); err == nil {
		t.Fatal("expected error saving non-finite state")
	}

	got, err := fs.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(st, got); diff != "" {
		t.Fatalf("previous snapshot changed (-want +got):\n%s", diff)
	}
	entries, _ := os.ReadDir(filepath.Dir(fs.Path()))
	if len(entries) != 1 {
		t.Fatalf("expected only the snapshot file, got %d entries", len(entries))
	}
}

func TestFileStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fs := NewFileStore(filepath.Join(t.TempDir(), "model.json"))
	if err := fs.Save(ctx, trainedState(t)); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func editDocument(t *testing.T, path string, edit func(*document)) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	edit(&doc)
	out, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	writeFile(t, path, out)
}
// #endregion file-store-tests

// #region sqlite-store-tests
func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := tempSQLite(t)

	if _, err := s.Load(ctx); !errors.Is(err, ErrAbsent) {
		t.Fatalf("expected ErrAbsent on empty store, got %v", err)
	}

	st := trainedState(t)
	if err := s.Save(ctx, st); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(st, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteStoreVersionsAndRollback(t *testing.T) {
	ctx := context.Background()
	s := tempSQLite(t)

	first := trainedState(t)
	firstID, err := s.Commit(ctx, first)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	second := first.Clone()
	second.Arms[0].Pulls = 9
	secondID, err := s.Commit(ctx, second)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	list, err := s.ListSnapshots(ctx, 10)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(list))
	}
	if list[0].ID != secondID || !list[0].Active || list[0].ParentID != firstID {
		t.Fatalf("unexpected newest snapshot: %+v", list[0])
	}
	if list[1].Active {
		t.Fatal("older snapshot should not be active")
	}
	if list[0].TotalPulls != 9+2+1 {
		t.Fatalf("expected 12 total pulls, got %d", list[0].TotalPulls)
	}

	if err := s.Rollback(ctx, firstID); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(first, got); diff != "" {
		t.Fatalf("rollback mismatch (-want +got):\n%s", diff)
	}

	if err := s.Rollback(ctx, "nope"); !errors.Is(err, ErrAbsent) {
		t.Fatalf("expected ErrAbsent for unknown snapshot, got %v", err)
	}
}

func TestSQLiteStoreCorruptBlob(t *testing.T) {
	ctx := context.Background()
	s := tempSQLite(t)
	id, err := s.Commit(ctx, trainedState(t))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := s.DB().Exec(`UPDATE arm_statistics SET a_matrix = ? WHERE snapshot_id = ? AND arm = 1`,
		[]byte{1, 2, 3}, id); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	if _, err := s.Load(ctx); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}
func TestSQLiteStoreCorruptHeader(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name string
		set  string
	}{
		{"negative arms", "num_arms = -1"},
		{"zero arms", "num_arms = 0"},
		{"huge arms", "num_arms = 1000000000"},
		{"negative dim", "context_dim = -3"},
		{"huge dim", "context_dim = 1000000000"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := tempSQLite(t)
			id, err := s.Commit(ctx, trainedState(t))
			if err != nil {
				t.Fatalf("Commit: %v", err)
			}
			if _, err := s.DB().Exec(`UPDATE model_snapshots SET `+tc.set+` WHERE snapshot_id = ?`, id); err != nil {
				t.Fatalf("corrupt: %v", err)
			}
			if _, err := s.Load(ctx); !errors.Is(err, ErrCorrupt) {
				t.Fatalf("expected ErrCorrupt, got %v", err)
			}
			cfg := bandit.Config{NumArms: 3, ContextDim: 2, Alpha: 0.1, Regularization: 1e-6}
			e, outcome, err := LoadOrInit(ctx, s, cfg, "v1:abcdef", nil)
			if err != nil {
				t.Fatalf("LoadOrInit: %v", err)
			}
			if outcome != OutcomeCorrupt || e.Snapshot().Arms[0].Pulls != 0 {
				t.Fatalf("expected fresh engine after corrupt header, got %v", outcome)
			}
		})
	}
}
// #endregion sqlite-store-tests

// #region load-or-init-tests
func TestLoadOrInit(t *testing.T) {
	ctx := context.Background()
	cfg := bandit.Config{NumArms: 3, ContextDim: 2, Alpha: 0.1, Regularization: 1e-6}
	st := trainedState(t)

	saved := func(t *testing.T, st bandit.EngineState) Store {
		fs := NewFileStore(filepath.Join(t.TempDir(), "model.json"))
		if err := fs.Save(ctx, st); err != nil {
			t.Fatalf("Save: %v", err)
		}
		return fs
	}
	wider := bandit.NewState(bandit.Config{NumArms: 3, ContextDim: 4, Alpha: 0.1})

	tests := []struct {
		name   string
		store  func(t *testing.T) Store
		layout string
		want   Outcome
	}{
		{"loaded", func(t *testing.T) Store { return saved(t, st) }, "v1:abcdef", OutcomeLoaded},
		{"absent", func(t *testing.T) Store { return NewFileStore(filepath.Join(t.TempDir(), "x.json")) }, "v1:abcdef", OutcomeFresh},
		{"nil store", func(t *testing.T) Store { return nil }, "v1:abcdef", OutcomeFresh},
		{"dimension", func(t *testing.T) Store { return saved(t, wider) }, "v1:abcdef", OutcomeIncompatible},
		{"layout", func(t *testing.T) Store { return saved(t, st) }, "v1:000000", OutcomeIncompatible},
		{"corrupt", func(t *testing.T) Store { return brokenStore{ErrCorrupt} }, "v1:abcdef", OutcomeCorrupt},
		{"unavailable", func(t *testing.T) Store { return brokenStore{errors.New("disk gone")} }, "v1:abcdef", OutcomeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, outcome, err := LoadOrInit(ctx, tt.store(t), cfg, tt.layout, nil)
			if err != nil {
				t.Fatalf("LoadOrInit: %v", err)
			}
			if outcome != tt.want {
				t.Fatalf("expected outcome %s, got %s", tt.want, outcome)
			}
			if e.FeatureLayout() != tt.layout {
				t.Fatalf("expected layout %s, got %s", tt.layout, e.FeatureLayout())
			}
			got := e.Snapshot()
			if outcome == OutcomeLoaded {
				if diff := cmp.Diff(st.Arms, got.Arms); diff != "" {
					t.Fatalf("restored arms mismatch (-want +got):\n%s", diff)
				}
				return
			}
			if diff := cmp.Diff(bandit.NewState(cfg).Arms, got.Arms); diff != "" {
				t.Fatalf("expected fresh arms (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadOrInitUsesConfiguredAlpha(t *testing.T) {
	ctx := context.Background()
	fs := NewFileStore(filepath.Join(t.TempDir(), "model.json"))
	if err := fs.Save(ctx, trainedState(t)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cfg := bandit.Config{NumArms: 3, ContextDim: 2, Alpha: 0.5, Regularization: 1e-6}
	e, outcome, err := LoadOrInit(ctx, fs, cfg, "", nil)
	if err != nil || outcome != OutcomeLoaded {
		t.Fatalf("expected loaded, got %s (%v)", outcome, err)
	}
	if e.Config().Alpha != 0.5 {
		t.Fatalf("expected alpha 0.5, got %v", e.Config().Alpha)
	}
}

func TestLoadOrInitRejectsInvalidConfig(t *testing.T) {
	_, _, err := LoadOrInit(context.Background(), nil, bandit.Config{NumArms: 0, ContextDim: 2}, "", nil)
	if !errors.Is(err, bandit.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
// #endregion load-or-init-tests
