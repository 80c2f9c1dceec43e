package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustdesk/internal/session"
	id "trustdesk/pkg/domain"
)

func TestTransitions_AreWellFormed(t *testing.T) {
	require.NoError(t, validateTransitions())
}

func TestPath(t *testing.T) {
	assert.Equal(t, []session.Step{StepActivity, StepLocale, StepLink, StepRationale, StepEvidence, StepConfirm}, Path(id.KindApplication))
	assert.Equal(t, []session.Step{StepAccused, StepDescription, StepEvidence, StepConfirm}, Path(id.KindReport))
	assert.Equal(t, []session.Step{StepAccused, StepExplanation, StepEvidence, StepConfirm}, Path(id.KindAppeal))
	assert.Empty(t, Path(id.Kind("other")))
}

func TestValidateTransitions_DetectsBrokenTables(t *testing.T) {
	saved := transitions[id.KindReport]
	t.Cleanup(func() { transitions[id.KindReport] = saved })

	transitions[id.KindReport] = map[session.Step]transition{
		StepAccused:     {accepts: inputHandle, next: StepDescription},
		StepDescription: {accepts: inputText, next: StepConfirm},
		StepConfirm:     {accepts: inputKeyword, next: StepDone},
	}
	assert.ErrorContains(t, validateTransitions(), "confirm must follow evidence")

	transitions[id.KindReport] = map[session.Step]transition{
		StepAccused:     {accepts: inputHandle, next: StepEvidence},
		StepDescription: {accepts: inputText, next: StepEvidence},
		StepEvidence:    {accepts: inputEvidence, next: StepConfirm},
		StepConfirm:     {accepts: inputKeyword, next: StepDone},
	}
	assert.ErrorContains(t, validateTransitions(), "unreachable")
}
