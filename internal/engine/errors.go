package engine

import (
	"fmt"
	"net/http"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
)

// CodeIllegalMove marks an action the rules reject.
const CodeIllegalMove xerrors.Code = "ILLEGAL_MOVE"

// ErrIllegalMove matches every rejection returned by Apply via errors.Is.
var ErrIllegalMove = xerrors.New(CodeIllegalMove, "illegal move")

func init() {
	xerrors.Register(CodeIllegalMove, xerrors.Attributes{
		Message:  "illegal move",
		Severity: xerrors.SeverityInfo,
		Status:   http.StatusUnprocessableEntity,
	})
}

// Reason explains why an action was rejected.
type Reason string

const (
	ReasonCollision      Reason = "collision"
	ReasonOutOfBounds    Reason = "out_of_bounds"
	ReasonGameOver       Reason = "game_over"
	ReasonUnknownAction  Reason = "unknown_action"
	ReasonMalformedState Reason = "malformed_state"
)

func illegal(a Action, reason Reason) error {
	return xerrors.New(CodeIllegalMove, fmt.Sprintf("%s rejected: %s", a, reason),
		xerrors.WithMetadata("action", a.String()),
		xerrors.WithMetadata("reason", string(reason)),
	)
}

// ReasonOf extracts the rejection reason from an error returned by Apply.
func ReasonOf(err error) Reason {
	v, _ := xerrors.MetadataOf(err, "reason")
	return Reason(v)
}
