package modelstore

import (
	"context"
	"errors"

	"github.com/danielpatrickdp/nudge-engine/internal/bandit"
)

// #region errors
var (
	// ErrAbsent: no snapshot has been saved yet.
	ErrAbsent = errors.New("modelstore: no snapshot")
	// ErrCorrupt: a snapshot exists but fails decoding or validation.
	ErrCorrupt = errors.New("modelstore: snapshot corrupt")
	// ErrUnavailable: the backing storage could not be read or written.
	ErrUnavailable = errors.New("modelstore: storage unavailable")
)
// #endregion errors

// #region store
// Store persists engine snapshots. Save must leave the previous snapshot
// intact if it fails midway.
type Store interface {
	Save(ctx context.Context, st bandit.EngineState) error
	Load(ctx context.Context) (bandit.EngineState, error)
}
// #endregion store

// #region format
const (
	// FormatName tags every serialized snapshot.
	FormatName = "nudge-engine/linucb"
	// FormatVersion is bumped on incompatible encoding changes.
	FormatVersion = 1

	// MaxArms and MaxContextDim bound snapshot headers read back from
	// storage.
	MaxArms       = 1 << 12
	MaxContextDim = 1 << 10
)
// #endregion format

// #region outcome
// Outcome reports how LoadOrInit obtained its engine.
type Outcome int

const (
	OutcomeLoaded Outcome = iota
	OutcomeFresh
	OutcomeCorrupt
	OutcomeIncompatible
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLoaded:
		return "loaded"
	case OutcomeFresh:
		return "fresh"
	case OutcomeCorrupt:
		return "corrupt"
	case OutcomeIncompatible:
		return "incompatible"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}
// #endregion outcome
