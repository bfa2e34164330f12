package features

import "errors"

// #region constants
// LayoutVersion names the default encoder order. Bump it whenever an
// encoder is added, removed, reordered or resized: persisted arm
// statistics are tied to feature positions.
const LayoutVersion = "v1"

// Neutral is the fallback for a missing or malformed scalar feature.
const Neutral = 0.5

// OtherSlot is the trailing one-hot category for unknown values.
const OtherSlot = "other"
// #endregion constants

// #region errors
// ErrStructural is returned when an encoder emits a sub-vector whose length
// differs from its declared field list. It signals a programming defect,
// never bad input.
var ErrStructural = errors.New("features: structural encoder defect")
// #endregion errors

// #region raw-attributes
// RawAttributes maps attribute names to raw values as received from onboarding,
// check-ins, device metadata and sensors. Any key may be absent and any value
// may be malformed; encoders fall back to neutral defaults.
type RawAttributes map[string]any
// #endregion raw-attributes

// #region encoder
// Encoder maps raw attributes to a fixed-length sub-vector.
// len(Encode(x)) must equal len(Fields()) for every input.
type Encoder interface {
	Name() string
	Fields() []string
	Encode(attrs RawAttributes) []float64
}
// #endregion encoder
