package workflow

import (
	"fmt"

	"trustdesk/internal/session"
	id "trustdesk/pkg/domain"
)

// Steps of the three forms. A step's name is also the key of the field it
// captures in session.Fields.
const (
	StepActivity    session.Step = "activity"
	StepLocale      session.Step = "locale"
	StepLink        session.Step = "link"
	StepRationale   session.Step = "rationale"
	StepAccused     session.Step = "accused"
	StepDescription session.Step = "description"
	StepExplanation session.Step = "explanation"
	StepEvidence    session.Step = "evidence"
	StepConfirm     session.Step = "confirm"
	// StepDone is terminal; a session never rests on it.
	StepDone session.Step = "done"
)

// input is what a step accepts.
type input int

const (
	inputText     input = iota // non-empty text
	inputHandle                // non-empty text, normalized as a handle
	inputEvidence              // text and/or one file
	inputKeyword               // the confirmation keyword
)

// check runs after a step's input is captured and before advancing.
type check int

const (
	checkNone check = iota
	// checkActiveScam requires the accused handle to be an active scam entry.
	checkActiveScam
)

type transition struct {
	accepts input
	next    session.Step
	check   check
}

// transitions is the complete state machine: kind -> step -> (accepted input,
// next step). Cancel is accepted at every step and is handled before lookup.
var transitions = map[id.Kind]map[session.Step]transition{
	id.KindApplication: {
		StepActivity:  {accepts: inputText, next: StepLocale},
		StepLocale:    {accepts: inputText, next: StepLink},
		StepLink:      {accepts: inputText, next: StepRationale},
		StepRationale: {accepts: inputText, next: StepEvidence},
		StepEvidence:  {accepts: inputEvidence, next: StepConfirm},
		StepConfirm:   {accepts: inputKeyword, next: StepDone},
	},
	id.KindReport: {
		StepAccused:     {accepts: inputHandle, next: StepDescription},
		StepDescription: {accepts: inputText, next: StepEvidence},
		StepEvidence:    {accepts: inputEvidence, next: StepConfirm},
		StepConfirm:     {accepts: inputKeyword, next: StepDone},
	},
	id.KindAppeal: {
		StepAccused:     {accepts: inputHandle, next: StepExplanation, check: checkActiveScam},
		StepExplanation: {accepts: inputText, next: StepEvidence},
		StepEvidence:    {accepts: inputEvidence, next: StepConfirm},
		StepConfirm:     {accepts: inputKeyword, next: StepDone},
	},
}

var firstStep = map[id.Kind]session.Step{
	id.KindApplication: StepActivity,
	id.KindReport:      StepAccused,
	id.KindAppeal:      StepAccused,
}

// Path returns the steps of a kind in order, ending with StepConfirm.
func Path(kind id.Kind) []session.Step {
	var out []session.Step
	for step := firstStep[kind]; step != "" && step != StepDone; step = transitions[kind][step].next {
		out = append(out, step)
	}
	return out
}

// fieldSteps are the steps that capture a value, in order (Path minus confirm).
func fieldSteps(kind id.Kind) []session.Step {
	path := Path(kind)
	if len(path) == 0 {
		return nil
	}
	return path[:len(path)-1]
}

// validateTransitions checks that every kind walks from its first step to
// StepDone through StepEvidence and StepConfirm, visiting every step once.
func validateTransitions() error {
	for _, kind := range id.Kinds {
		table, ok := transitions[kind]
		if !ok {
			return fmt.Errorf("no transitions for %s", kind)
		}
		start, ok := firstStep[kind]
		if !ok {
			return fmt.Errorf("no first step for %s", kind)
		}
		seen := make(map[session.Step]bool)
		step := start
		for step != StepDone {
			if seen[step] {
				return fmt.Errorf("%s: cycle at %s", kind, step)
			}
			seen[step] = true
			t, ok := table[step]
			if !ok {
				return fmt.Errorf("%s: step %s has no transition", kind, step)
			}
			if step == StepConfirm && (t.accepts != inputKeyword || t.next != StepDone) {
				return fmt.Errorf("%s: confirm must accept the keyword and finish", kind)
			}
			if t.next == StepConfirm && t.accepts != inputEvidence {
				return fmt.Errorf("%s: confirm must follow evidence", kind)
			}
			step = t.next
		}
		if len(seen) != len(table) {
			return fmt.Errorf("%s: %d steps unreachable", kind, len(table)-len(seen))
		}
	}
	return nil
}

func init() {
	if err := validateTransitions(); err != nil {
		panic("workflow: " + err.Error())
	}
}
