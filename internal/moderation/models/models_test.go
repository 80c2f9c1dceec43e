package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "trustdesk/pkg/domain"
	dErrors "trustdesk/pkg/domain-errors"
)

func validDraft() Draft {
	return Draft{
		FinalizeKey: "key-1",
		Submitter:   Submitter{ID: 10, Handle: "alice"},
		Details:     ReportDetails{AccusedHandle: "bob", Description: "took the money"},
		Evidence:    "screenshot",
	}
}

func TestDraft_Validate(t *testing.T) {
	t.Run("valid draft", func(t *testing.T) {
		require.NoError(t, validDraft().Validate())
	})

	t.Run("file evidence alone is enough", func(t *testing.T) {
		d := validDraft()
		d.Evidence = ""
		d.FileRefs = []string{"photo:abc"}
		require.NoError(t, d.Validate())
	})

	t.Run("missing evidence", func(t *testing.T) {
		d := validDraft()
		d.Evidence = "  "
		err := d.Validate()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("missing detail field", func(t *testing.T) {
		d := validDraft()
		d.Details = ApplicationDetails{Activity: "reseller", Locale: "city", Link: "", Rationale: "5 years"}
		err := d.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "link")
	})

	t.Run("missing finalize key", func(t *testing.T) {
		d := validDraft()
		d.FinalizeKey = ""
		require.Error(t, d.Validate())
	})
}

func TestDetails_EncodeDecode(t *testing.T) {
	for _, d := range []Details{
		ApplicationDetails{Activity: "a", Locale: "b", Link: "нет", Rationale: "d"},
		ReportDetails{AccusedHandle: "x", Description: "y"},
		AppealDetails{AccusedHandle: "x", Explanation: "z"},
	} {
		raw, err := EncodeDetails(d)
		require.NoError(t, err)
		back, err := DecodeDetails(d.Kind(), raw)
		require.NoError(t, err)
		assert.Equal(t, d, back)
	}

	_, err := DecodeDetails(id.Kind("other"), []byte(`{}`))
	require.Error(t, err)
}

func TestSubmission_ApplyOnlyFromPending(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sub := NewSubmission(validDraft(), now)
	require.Equal(t, StatusPending, sub.Status)
	require.Equal(t, id.KindReport, sub.Kind)

	require.NoError(t, sub.Apply(Decision{Status: StatusApproved, Reviewer: 1001, At: now}))
	assert.Equal(t, StatusApproved, sub.Status)
	assert.Equal(t, id.SubmitterID(1001), sub.DecidedBy)

	err := sub.Apply(Decision{Status: StatusRejected, Reviewer: 1002, At: now})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	assert.Equal(t, StatusApproved, sub.Status, "first decision wins")
}

func TestInfoRequest_Expired(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	req := &InfoRequest{Status: InfoAwaiting, CreatedAt: now}
	assert.False(t, req.Expired(now.Add(1000*time.Hour), 0))
	assert.False(t, req.Expired(now.Add(time.Hour), 2*time.Hour))
	assert.True(t, req.Expired(now.Add(2*time.Hour), 2*time.Hour))

	req.Status = InfoAnswered
	assert.False(t, req.Expired(now.Add(2*time.Hour), 2*time.Hour))
}
