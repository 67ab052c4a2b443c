package models

import (
	"slices"

	dErrors "checkpoint/pkg/domain-errors"
)

// Scenario classifies a resolved code for the console.
type Scenario string

const (
	ScenarioConfirmCheckin Scenario = "A_CONFIRM_CHECKIN"
	ScenarioMissingRef     Scenario = "B_MISSING_REF"
	ScenarioNotRegistered  Scenario = "C_NOT_REGISTERED"
	ScenarioNotFound       Scenario = "D_NOT_FOUND"
	ScenarioCheckout       Scenario = "E_CHECKOUT"
	ScenarioAlreadyOut     Scenario = "F_ALREADY_OUT"
)

type Action string

const (
	ActionConfirmCheckin      Action = "confirm_checkin"
	ActionConfirmCheckout     Action = "confirm_checkout"
	ActionConfirmRefCheckin   Action = "confirm_ref_checkin"
	ActionConfirmNoRefCheckin Action = "confirm_noref_checkin"
	ActionRegisterCheckin     Action = "register_checkin"
	ActionRefUpdate           Action = "ref_update"
	ActionVestUpdate          Action = "vest_update"
	ActionVestCheckout        Action = "vest_checkout"
	ActionGetRecentAttendees  Action = "get_recent_attendees"
)

func (a Action) IsValid() bool {
	switch a {
	case ActionConfirmCheckin, ActionConfirmCheckout, ActionConfirmRefCheckin, ActionConfirmNoRefCheckin,
		ActionRegisterCheckin, ActionRefUpdate, ActionVestUpdate, ActionVestCheckout, ActionGetRecentAttendees:
		return true
	}
	return false
}

// IsMutating reports whether the action writes and therefore needs an idempotency token.
func (a Action) IsMutating() bool {
	return a.IsValid() && a != ActionGetRecentAttendees
}

func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown action "+s)
	}
	return a, nil
}

// Resolution is what the console shows after a scan.
type Resolution struct {
	Scenario       Scenario      `json:"scenario"`
	User           *User         `json:"user,omitempty"`
	Registration   *Registration `json:"registration,omitempty"`
	AllowedActions []Action      `json:"allowed_actions"`
}

// Allows reports whether action is offered for this resolution.
func (r *Resolution) Allows(action Action) bool {
	return slices.Contains(r.AllowedActions, action)
}

// Classify picks the scenario for a found user and their registration, if any.
func Classify(user *User, reg *Registration) Scenario {
	switch {
	case user == nil:
		return ScenarioNotFound
	case reg == nil:
		return ScenarioNotRegistered
	case reg.Status == StatusCheckedIn:
		return ScenarioCheckout
	case reg.Status == StatusCheckedOut:
		return ScenarioAlreadyOut
	case reg.HasReference():
		return ScenarioConfirmCheckin
	default:
		return ScenarioMissingRef
	}
}

// AllowedActions lists the operator actions for a scenario.
func AllowedActions(scenario Scenario, reg *Registration) []Action {
	switch scenario {
	case ScenarioConfirmCheckin:
		return []Action{ActionConfirmCheckin, ActionRefUpdate}
	case ScenarioMissingRef:
		return []Action{ActionConfirmRefCheckin, ActionConfirmNoRefCheckin, ActionRefUpdate}
	case ScenarioNotRegistered:
		return []Action{ActionRegisterCheckin}
	case ScenarioCheckout:
		return []Action{ActionConfirmCheckout, ActionVestCheckout, ActionVestUpdate, ActionRefUpdate}
	case ScenarioAlreadyOut:
		actions := []Action{ActionConfirmCheckin}
		if reg != nil && !reg.VestReturnRecorded() {
			actions = append(actions, ActionVestCheckout)
		}
		return append(actions, ActionVestUpdate, ActionRefUpdate)
	default:
		return []Action{}
	}
}

// NewResolution classifies and attaches the allowed actions.
func NewResolution(user *User, reg *Registration) *Resolution {
	scenario := Classify(user, reg)
	return &Resolution{
		Scenario:       scenario,
		User:           user,
		Registration:   reg,
		AllowedActions: AllowedActions(scenario, reg),
	}
}
