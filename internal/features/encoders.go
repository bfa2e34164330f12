package features

import (
	"fmt"
	"strconv"
	"strings"
)

// #region categories
var (
	sexCategories    = []string{"male", "female"}
	dietCategories   = []string{"omnivore", "vegetarian", "vegan", "pescatarian", "dash"}
	goalCategories   = []string{"weight_loss", "lower_bp", "better_labs", "more_energy", "better_mood"}
	styleCategories  = []string{"gentle", "motivating", "directive", "humorous"}
	stageCategories  = []string{"precontemplation", "contemplation", "preparation", "action", "maintenance"}
	deviceCategories = []string{"ios", "android"}
)
// #endregion categories

// #region demographics
// Demographics encodes age and sex. Zip code is accepted but not encoded.
type Demographics struct{}

func (Demographics) Name() string { return "demographics" }

func (Demographics) Fields() []string {
	return append([]string{"age"}, oneHotFields("sex", sexCategories)...)
}

func (Demographics) Encode(a RawAttributes) []float64 {
	out := []float64{a.Scaled("age", 18, 90)}
	sex, ok := a.Text("sex")
	return append(out, OneHot(sex, ok, sexCategories)...)
}
// #endregion demographics

// #region preferences
// Preferences encodes stated diet, goal and preferred nudge style.
type Preferences struct{}

func (Preferences) Name() string { return "preferences" }

func (Preferences) Fields() []string {
	fields := oneHotFields("diet", dietCategories)
	fields = append(fields, oneHotFields("goal", goalCategories)...)
	return append(fields, oneHotFields("style", styleCategories)...)
}

func (Preferences) Encode(a RawAttributes) []float64 {
	diet, dok := a.Text("diet_type")
	goal, gok := a.Text("goal_type")
	style, sok := a.Text("nudge_style")
	out := OneHot(diet, dok, dietCategories)
	out = append(out, OneHot(goal, gok, goalCategories)...)
	return append(out, OneHot(style, sok, styleCategories)...)
}
// #endregion preferences

// #region readiness
// Readiness encodes the transtheoretical stage of change and the number of
// reported chronic conditions.
type Readiness struct{}

func (Readiness) Name() string { return "readiness" }

func (Readiness) Fields() []string {
	return append(oneHotFields("stage", stageCategories), "conditions")
}

func (Readiness) Encode(a RawAttributes) []float64 {
	stage, ok := readinessStage(a)
	out := OneHot(stage, ok, stageCategories)

	conditions := Neutral
	if items, present := a.List("chronic_conditions"); present {
		conditions = Normalize(float64(len(items)), 0, 5)
	}
	return append(out, conditions)
}

// readinessStage accepts a stage name under readiness_stage or a 1-5 stage
// number under stage_of_change.
func readinessStage(a RawAttributes) (string, bool) {
	if s, ok := a.Text("readiness_stage"); ok {
		return s, true
	}
	if n, ok := a.Float("stage_of_change"); ok {
		idx := int(n)
		if float64(idx) == n && idx >= 1 && idx <= len(stageCategories) {
			return stageCategories[idx-1], true
		}
	}
	return "", false
}
// #endregion readiness

// #region schedule
// Schedule encodes wake and sleep times as day fractions and the work block
// duration as a fraction of a day.
type Schedule struct{}

func (Schedule) Name() string { return "schedule" }

func (Schedule) Fields() []string { return []string{"wake", "sleep", "work"} }

func (Schedule) Encode(a RawAttributes) []float64 {
	return []float64{
		clockFeature(a, "wake_time"),
		clockFeature(a, "sleep_time"),
		workDuration(a),
	}
}

func clockFeature(a RawAttributes, key string) float64 {
	s, ok := a[key].(string)
	if !ok {
		return Neutral
	}
	f, ok := DayFraction(s)
	if !ok {
		return Neutral
	}
	return f
}

// workDuration parses "HH:MM-HH:MM"; shifts past midnight wrap.
func workDuration(a RawAttributes) float64 {
	s, ok := a["work_hours"].(string)
	if !ok {
		return Neutral
	}
	start, end, found := strings.Cut(s, "-")
	if !found {
		return Neutral
	}
	from, ok1 := DayFraction(start)
	to, ok2 := DayFraction(end)
	if !ok1 || !ok2 {
		return Neutral
	}
	d := to - from
	if d < 0 {
		d += 1.0
	}
	return d
}
// #endregion schedule

// #region device
// Device encodes platform and OS version.
type Device struct{}

func (Device) Name() string { return "device" }

func (Device) Fields() []string {
	return append(oneHotFields("type", deviceCategories), "os_version")
}

func (Device) Encode(a RawAttributes) []float64 {
	kind, ok := a.Text("device_type")
	out := OneHot(kind, ok, deviceCategories)
	return append(out, osVersion(a))
}

// osVersion maps "major.minor" to (major + minor/10) / 20.
func osVersion(a RawAttributes) float64 {
	var s string
	switch v := a["os_version"].(type) {
	case string:
		s = strings.TrimSpace(v)
	case float64, float32, int, int64:
		s = fmt.Sprint(v)
	default:
		return Neutral
	}
	parts := strings.Split(s, ".")
	major, err := strconv.Atoi(parts[0])
	if err != nil || major < 0 {
		return Neutral
	}
	minor := 0
	if len(parts) > 1 {
		minor, err = strconv.Atoi(parts[1])
		if err != nil || minor < 0 {
			return Neutral
		}
	}
	return (float64(major) + float64(minor)/10.0) / 20.0
}
// #endregion device

// #region checkin
// Checkin encodes the self-reported 1-5 daily check-in scales.
type Checkin struct{}

var checkinKeys = [][2]string{
	{"mood", "mood"},
	{"stress", "stress_level"},
	{"hunger", "hunger"},
	{"cravings", "cravings"},
	{"energy", "energy_level"},
}

func (Checkin) Name() string { return "checkin" }

func (Checkin) Fields() []string {
	fields := make([]string, len(checkinKeys))
	for i, k := range checkinKeys {
		fields[i] = k[0]
	}
	return fields
}

func (Checkin) Encode(a RawAttributes) []float64 {
	out := make([]float64, len(checkinKeys))
	for i, k := range checkinKeys {
		out[i] = a.Scaled(k[1], 1, 5)
	}
	return out
}
// #endregion checkin

// #region sensors
// Sensors encodes passive wearable and phone readings against fixed
// reference maxima.
type Sensors struct{}

type sensorField struct {
	field string
	key   string
	scale float64
}

var sensorFields = []sensorField{
	{"steps_today", "steps_today", 20000},
	{"steps_last_hour", "steps_last_hour", 1000},
	{"sedentary_minutes", "sedentary_minutes", 600},
	{"heart_rate", "heart_rate", 200},
	{"resting_hr", "resting_hr", 100},
	{"max_hr", "max_hr", 220},
	{"sleep_minutes", "total_sleep_minutes", 960},
	{"sleep_efficiency", "sleep_efficiency", 100},
}

func (Sensors) Name() string { return "sensors" }

func (Sensors) Fields() []string {
	fields := make([]string, len(sensorFields))
	for i, f := range sensorFields {
		fields[i] = f.field
	}
	return fields
}

func (Sensors) Encode(a RawAttributes) []float64 {
	out := make([]float64, len(sensorFields))
	for i, f := range sensorFields {
		out[i] = a.Scaled(f.key, 0, f.scale)
	}
	return out
}
// #endregion sensors
