package lifecycle

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/selectivedca/internal/domain"
)

// Action is what the engine did with a position.
type Action string

const (
	ActionPlaced   Action = "placed"
	ActionRevised  Action = "revised"
	ActionKeep     Action = "keep"
	ActionSkip     Action = "skip"
	ActionRejected Action = "rejected"
	ActionFailed   Action = "failed"
	ActionSold     Action = "sold"
	ActionCleared  Action = "cleared"
	ActionPending  Action = "pending"
)

// Decision explains one step of the lifecycle for the run summary.
type Decision struct {
	PositionID int64
	Market     domain.Pair
	Action     Action
	Reason     string
	Target     decimal.Decimal
	Quantity   decimal.Decimal
}

func (d Decision) String() string {
	s := fmt.Sprintf("%s %3d %-8s", d.Market.Symbol(), d.PositionID, d.Action)
	if !d.Target.IsZero() {
		s += fmt.Sprintf(" %s @ %s", d.Quantity.String(), d.Target.String())
	}
	if d.Reason != "" {
		s += " | " + d.Reason
	}
	return s
}
