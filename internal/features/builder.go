package features

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// #region builder
// Builder concatenates encoder outputs in a fixed order.
type Builder struct {
	version  string
	encoders []Encoder
	fields   []string
}

// NewBuilder creates a builder over the given encoders. The order of encoders
// is part of the layout contract.
func NewBuilder(version string, encoders ...Encoder) *Builder {
	b := &Builder{version: version, encoders: encoders}
	for _, e := range encoders {
		for _, f := range e.Fields() {
			b.fields = append(b.fields, e.Name()+"."+f)
		}
	}
	return b
}

// DefaultBuilder returns the v1 layout: demographics, preferences, readiness,
// schedule, device, checkin, sensors.
func DefaultBuilder() *Builder {
	return NewBuilder(LayoutVersion,
		Demographics{},
		Preferences{},
		Readiness{},
		Schedule{},
		Device{},
		Checkin{},
		Sensors{},
	)
}
// #endregion builder

// #region build
// Build returns the context vector for attrs. Missing and malformed
// attributes are encoded with neutral defaults; only an encoder that breaks
// its declared width returns an error.
func (b *Builder) Build(attrs RawAttributes) ([]float64, error) {
	if attrs == nil {
		attrs = RawAttributes{}
	}
	vec := make([]float64, 0, len(b.fields))
	for _, e := range b.encoders {
		part := e.Encode(attrs)
		if want := len(e.Fields()); len(part) != want {
			return nil, fmt.Errorf("%w: encoder %s produced %d values, want %d",
				ErrStructural, e.Name(), len(part), want)
		}
		vec = append(vec, part...)
	}
	return vec, nil
}
// #endregion build

// #region layout
// Dim returns the context vector length.
func (b *Builder) Dim() int { return len(b.fields) }

// Fields returns the qualified feature names in vector order.
func (b *Builder) Fields() []string {
	out := make([]string, len(b.fields))
	copy(out, b.fields)
	return out
}

// Layout fingerprints the version and field order, e.g. "v1:3f2a9c01b7d4".
func (b *Builder) Layout() string {
	sum := sha256.Sum256([]byte(strings.Join(b.fields, "\n")))
	return b.version + ":" + hex.EncodeToString(sum[:6])
}
// #endregion layout
