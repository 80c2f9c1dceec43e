package transport

import (
	"fmt"
	"strconv"
	"strings"

	id "trustdesk/pkg/domain"
	dErrors "trustdesk/pkg/domain-errors"
)

// ActionType is the verb of a button payload.
type ActionType string

const (
	ActionStart   ActionType = "start"
	ActionCancel  ActionType = "cancel"
	ActionApprove ActionType = "approve"
	ActionReject  ActionType = "reject"
	ActionInfo    ActionType = "info"
	ActionRespond ActionType = "respond"
	ActionDecline ActionType = "decline"
	ActionPage    ActionType = "page"
)

// Registry list names used by page actions.
const (
	ListWhitelist = "whitelist"
	ListScams     = "scams"
)

// Action is a decoded button payload. Which fields are set depends on Type:
//
//	start:<kind>                  Kind
//	cancel
//	approve|reject|info:<kind>:<id>  Kind, SubmissionID
//	respond|decline:<requestID>   RequestID
//	page:<whitelist|scams>:<n>    List, Page
type Action struct {
	Type         ActionType
	Kind         id.Kind
	SubmissionID id.SubmissionID
	RequestID    id.InfoRequestID
	List         string
	Page         int
}

// ParseAction decodes a button payload received from the transport.
//
// Errors: CodeInvalidInput for anything that is not a well-formed payload.
// Payloads come from buttons we rendered, but they cross a trust boundary and
// a client can forge them.
func ParseAction(payload string) (Action, error) {
	parts := strings.Split(strings.TrimSpace(payload), ":")
	verb := ActionType(parts[0])
	args := parts[1:]

	switch verb {
	case ActionCancel:
		if len(args) != 0 {
			return Action{}, invalidAction(payload)
		}
		return Action{Type: verb}, nil

	case ActionStart:
		if len(args) != 1 {
			return Action{}, invalidAction(payload)
		}
		kind, err := id.ParseKind(args[0])
		if err != nil {
			return Action{}, err
		}
		return Action{Type: verb, Kind: kind}, nil

	case ActionApprove, ActionReject, ActionInfo:
		if len(args) != 2 {
			return Action{}, invalidAction(payload)
		}
		kind, err := id.ParseKind(args[0])
		if err != nil {
			return Action{}, err
		}
		subID, err := id.ParseSubmissionID(args[1])
		if err != nil {
			return Action{}, err
		}
		return Action{Type: verb, Kind: kind, SubmissionID: subID}, nil

	case ActionRespond, ActionDecline:
		if len(args) != 1 {
			return Action{}, invalidAction(payload)
		}
		reqID, err := id.ParseInfoRequestID(args[0])
		if err != nil {
			return Action{}, err
		}
		return Action{Type: verb, RequestID: reqID}, nil

	case ActionPage:
		if len(args) != 2 || (args[0] != ListWhitelist && args[0] != ListScams) {
			return Action{}, invalidAction(payload)
		}
		page, err := strconv.Atoi(args[1])
		if err != nil || page < 1 {
			return Action{}, invalidAction(payload)
		}
		return Action{Type: verb, List: args[0], Page: page}, nil
	}
	return Action{}, invalidAction(payload)
}

// Payload encodes the action into its wire form.
func (a Action) Payload() string {
	switch a.Type {
	case ActionStart:
		return fmt.Sprintf("%s:%s", a.Type, a.Kind)
	case ActionApprove, ActionReject, ActionInfo:
		return fmt.Sprintf("%s:%s:%d", a.Type, a.Kind, a.SubmissionID)
	case ActionRespond, ActionDecline:
		return fmt.Sprintf("%s:%d", a.Type, a.RequestID)
	case ActionPage:
		return fmt.Sprintf("%s:%s:%d", a.Type, a.List, a.Page)
	}
	return string(a.Type)
}

func StartAction(kind id.Kind) Action {
	return Action{Type: ActionStart, Kind: kind}
}

func CancelAction() Action {
	return Action{Type: ActionCancel}
}

func ApproveAction(kind id.Kind, subID id.SubmissionID) Action {
	return Action{Type: ActionApprove, Kind: kind, SubmissionID: subID}
}

func RejectAction(kind id.Kind, subID id.SubmissionID) Action {
	return Action{Type: ActionReject, Kind: kind, SubmissionID: subID}
}

func InfoAction(kind id.Kind, subID id.SubmissionID) Action {
	return Action{Type: ActionInfo, Kind: kind, SubmissionID: subID}
}

func RespondAction(reqID id.InfoRequestID) Action {
	return Action{Type: ActionRespond, RequestID: reqID}
}

func DeclineAction(reqID id.InfoRequestID) Action {
	return Action{Type: ActionDecline, RequestID: reqID}
}

func PageAction(list string, page int) Action {
	return Action{Type: ActionPage, List: list, Page: page}
}

// Button pairs a label with this action's payload.
func (a Action) Button(label string) Affordance {
	return Affordance{Label: label, Payload: a.Payload()}
}

func invalidAction(payload string) error {
	return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid action payload %q", payload))
}
