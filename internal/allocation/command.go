package allocation

import (
	"context"
	"fmt"

	"bay-allocation-backend/internal/model"
)

// Action names a command accepted over the long-lived connection.
type Action string

const (
	ActionSubmit       Action = "submit"
	ActionApprove      Action = "approve"
	ActionDeny         Action = "deny"
	ActionSuggest      Action = "suggest"
	ActionAccept       Action = "accept"
	ActionCancel       Action = "cancel"
	ActionForceRelease Action = "force_release"
)

// Command is the decoded body of a COMMAND frame. Fields not used by the
// action are ignored.
type Command struct {
	Action         Action `json:"action"`
	RequestID      int64  `json:"requestId,omitempty"`
	BayID          int64  `json:"bayId,omitempty"`
	FlightCallsign string `json:"flightCallsign,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

// Cancelled is the result of a successful cancel command.
type Cancelled struct {
	RequestID int64 `json:"requestId"`
}

// Execute runs cmd on behalf of caller and returns the updated record.
func (c *Coordinator) Execute(ctx context.Context, caller model.Caller, cmd Command) (any, error) {
	switch cmd.Action {
	case ActionSubmit:
		if caller.UserID == "" {
			return nil, invalid("userId", "identify before submitting")
		}
		return c.Submit(ctx, SubmitInput{
			UserID:         caller.UserID,
			FlightCallsign: cmd.FlightCallsign,
			BayID:          cmd.BayID,
			Notes:          cmd.Notes,
		})
	case ActionApprove, ActionDeny, ActionSuggest, ActionAccept, ActionCancel:
		if cmd.RequestID <= 0 {
			return nil, invalid("requestId", "is required")
		}
	case ActionForceRelease:
		if cmd.BayID <= 0 {
			return nil, invalid("bayId", "is required")
		}
		return c.ForceRelease(ctx, cmd.BayID, caller.Role)
	default:
		return nil, invalid("action", fmt.Sprintf("unknown action %q", cmd.Action))
	}

	switch cmd.Action {
	case ActionApprove:
		return c.Approve(ctx, cmd.RequestID)
	case ActionDeny:
		return c.Deny(ctx, cmd.RequestID)
	case ActionSuggest:
		return c.SuggestAlternative(ctx, cmd.RequestID, cmd.BayID, cmd.Notes)
	case ActionAccept:
		return c.AcceptAlternative(ctx, cmd.RequestID)
	default:
		if err := c.Cancel(ctx, cmd.RequestID); err != nil {
			return nil, err
		}
		return Cancelled{RequestID: cmd.RequestID}, nil
	}
}
