package orchestrator

// #region imports
import (
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/nudge-engine/internal/bandit"
	"github.com/danielpatrickdp/nudge-engine/internal/features"
	"github.com/danielpatrickdp/nudge-engine/internal/ledger"
	"github.com/danielpatrickdp/nudge-engine/internal/modelstore"
)

// #endregion

// #region errors

var (
	// ErrEmptySubject: Decide and Feedback need a subject id to correlate on.
	ErrEmptySubject = errors.New("orchestrator: empty subject id")
	// ErrLayoutMismatch: the engine was trained on a different feature layout.
	ErrLayoutMismatch = errors.New("orchestrator: feature layout mismatch")
)

// #endregion

// #region deps

// Deps wires a Service. Builder, Engine and Ledger are required; Store,
// Audit and Logger are optional.
type Deps struct {
	Builder *features.Builder
	Engine  *bandit.Engine
	Ledger  *ledger.Ledger
	Store   modelstore.Store
	Audit   *sql.DB
	Logger  *zap.Logger

	// PersistAfterUpdate schedules a background snapshot after every
	// applied reward.
	PersistAfterUpdate bool
}

// #endregion

// #region decision

// Decision is the outcome of one Decide call.
type Decision struct {
	ID        string            `json:"decision_id"`
	SubjectID string            `json:"subject_id"`
	Arm       int               `json:"arm"`
	Context   []float64         `json:"context"`
	Scores    []bandit.ArmScore `json:"scores"`
}

// #endregion
