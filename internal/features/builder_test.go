package features

import (
	"errors"
	"math"
	"strings"
	"testing"
)

// #region helpers
func field(t *testing.T, b *Builder, vec []float64, name string) float64 {
	t.Helper()
	for i, f := range b.Fields() {
		if f == name {
			return vec[i]
		}
	}
	t.Fatalf("unknown field %q", name)
	return 0
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

type brokenEncoder struct{}

func (brokenEncoder) Name() string { return "broken" }
func (brokenEncoder) Fields() []string { return []string{"a", "b"} }
func (brokenEncoder) Encode(RawAttributes) []float64 { return []float64{1} }
// #endregion helpers

// #region empty-input
func TestBuildEmptyAttributesIsNeutral(t *testing.T) {
	b := DefaultBuilder()
	vec, err := b.Build(RawAttributes{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(vec) != 48 || b.Dim() != 48 {
		t.Fatalf("expected 48 features, got len=%d dim=%d", len(vec), b.Dim())
	}

	for i, name := range b.Fields() {
		v := vec[i]
		parts := strings.Split(name, ".")
		switch {
		case len(parts) == 3 && parts[2] == OtherSlot:
			if v != 1 {
				t.Errorf("%s: expected other slot set, got %f", name, v)
			}
		case len(parts) == 3:
			if v != 0 {
				t.Errorf("%s: expected 0, got %f", name, v)
			}
		default:
			if v != Neutral {
				t.Errorf("%s: expected neutral %f, got %f", name, Neutral, v)
			}
		}
	}
}

func TestBuildNilAttributes(t *testing.T) {
	vec, err := DefaultBuilder().Build(nil)
	if err != nil {
		t.Fatalf("Build(nil): %v", err)
	}
	if len(vec) != 48 {
		t.Fatalf("expected 48 features, got %d", len(vec))
	}
}
// #endregion empty-input

// #region encodings
func TestBuildFullProfile(t *testing.T) {
	b := DefaultBuilder()
	vec, err := b.Build(RawAttributes{
		"age":                 54,
		"sex":                 "Female",
		"diet_type":           "vegan",
		"goal_type":           "Lower BP",
		"nudge_style":         "humorous",
		"readiness_stage":     "action",
		"chronic_conditions":  "T2D, HTN",
		"wake_time":           "06:00",
		"sleep_time":          "22:30",
		"work_hours":          "22:00-06:00",
		"device_type":         "iOS",
		"os_version":          "17.2",
		"mood":                "5",
		"stress_level":        1,
		"energy_level":        3.0,
		"steps_today":         10000,
		"total_sleep_minutes": 480,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	cases := map[string]float64{
		"demographics.age":           0.5,
		"demographics.sex.female":    1,
		"demographics.sex.other":     0,
		"preferences.diet.vegan":     1,
		"preferences.goal.lower_bp":  1,
		"preferences.style.humorous": 1,
		"preferences.style.other":    0,
		"readiness.stage.action":     1,
		"readiness.conditions":       0.4,
		"schedule.wake":              0.25,
		"schedule.sleep":             (22*60 + 30) / 1440.0,
		"schedule.work":              8.0 / 24.0,
		"device.type.ios":            1,
		"device.os_version":          (17 + 0.2) / 20,
		"checkin.mood":               1,
		"checkin.stress":             0,
		"checkin.energy":             0.5,
		"checkin.hunger":             Neutral,
		"sensors.steps_today":        0.5,
		"sensors.sleep_minutes":      0.5,
		"sensors.heart_rate":         Neutral,
	}
	for name, want := range cases {
		if got := field(t, b, vec, name); !approx(got, want) {
			t.Errorf("%s: expected %f, got %f", name, want, got)
		}
	}
}

func TestBuildMalformedFallsBack(t *testing.T) {
	b := DefaultBuilder()
	vec, err := b.Build(RawAttributes{
		"age":             "unknown",
		"sex":             42,
		"diet_type":       "carnivore",
		"stage_of_change": 9,
		"wake_time":       "7am",
		"work_hours":      "nine to five",
		"os_version":      "beta",
		"mood":            []string{"happy"},
		"heart_rate":      math.NaN(),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	cases := map[string]float64{
		"demographics.age":       Neutral,
		"demographics.sex.other": 1,
		"preferences.diet.other": 1,
		"readiness.stage.other":  1,
		"schedule.wake":          Neutral,
		"schedule.work":          Neutral,
		"device.os_version":      Neutral,
		"checkin.mood":           Neutral,
		"sensors.heart_rate":     Neutral,
	}
	for name, want := range cases {
		if got := field(t, b, vec, name); !approx(got, want) {
			t.Errorf("%s: expected %f, got %f", name, want, got)
		}
	}
}

func TestNormalizeIsUnclamped(t *testing.T) {
	if got := Normalize(120, 18, 90); got <= 1 {
		t.Fatalf("expected value above 1, got %f", got)
	}
	if got := Normalize(5, 18, 90); got >= 0 {
		t.Fatalf("expected value below 0, got %f", got)
	}
	if got := Normalize(3, 2, 2); got != Neutral {
		t.Fatalf("expected neutral for degenerate range, got %f", got)
	}
}

func TestStageOfChangeNumeric(t *testing.T) {
	b := DefaultBuilder()
	vec, _ := b.Build(RawAttributes{"stage_of_change": 2})
	if got := field(t, b, vec, "readiness.stage.contemplation"); got != 1 {
		t.Fatalf("expected contemplation slot set, got %f", got)
	}
}

func TestConditionsList(t *testing.T) {
	b := DefaultBuilder()
	vec, _ := b.Build(RawAttributes{"chronic_conditions": []any{"t2d", "htn", "ckd", ""}})
	if got := field(t, b, vec, "readiness.conditions"); !approx(got, 0.6) {
		t.Fatalf("expected 0.6, got %f", got)
	}
	vec, _ = b.Build(RawAttributes{"chronic_conditions": ""})
	if got := field(t, b, vec, "readiness.conditions"); got != 0 {
		t.Fatalf("expected 0 for empty list, got %f", got)
	}
}
// #endregion encodings

// #region layout
func TestLayoutFingerprint(t *testing.T) {
	a := DefaultBuilder().Layout()
	if !strings.HasPrefix(a, LayoutVersion+":") {
		t.Fatalf("expected version prefix, got %s", a)
	}
	if a != DefaultBuilder().Layout() {
		t.Fatal("layout fingerprint is not stable")
	}
	reordered := NewBuilder(LayoutVersion, Preferences{}, Demographics{})
	swapped := NewBuilder(LayoutVersion, Demographics{}, Preferences{})
	if reordered.Layout() == swapped.Layout() {
		t.Fatal("reordering encoders must change the fingerprint")
	}
}

func TestBuildStructuralError(t *testing.T) {
	b := NewBuilder("test", Demographics{}, brokenEncoder{})
	_, err := b.Build(RawAttributes{})
	if !errors.Is(err, ErrStructural) {
		t.Fatalf("expected ErrStructural, got %v", err)
	}
}
// #endregion layout
