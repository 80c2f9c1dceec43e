package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "trustdesk/pkg/domain"
	dErrors "trustdesk/pkg/domain-errors"
)

func TestParseAction_RoundTripsEveryShape(t *testing.T) {
	actions := []Action{
		StartAction(id.KindReport),
		CancelAction(),
		ApproveAction(id.KindApplication, 12),
		RejectAction(id.KindReport, 7),
		InfoAction(id.KindAppeal, 3),
		RespondAction(41),
		DeclineAction(41),
		PageAction(ListScams, 2),
	}
	for _, a := range actions {
		t.Run(a.Payload(), func(t *testing.T) {
			parsed, err := ParseAction(a.Payload())
			require.NoError(t, err)
			assert.Equal(t, a, parsed)
		})
	}
}

func TestParseAction_RejectsForgedPayloads(t *testing.T) {
	for _, payload := range []string{
		"",
		"approve",
		"approve:report",
		"approve:whitelist:1",
		"approve:report:0",
		"approve:report:abc",
		"respond:",
		"respond:-3",
		"page:users:1",
		"page:scams:0",
		"cancel:now",
		"delete:report:1",
	} {
		t.Run(payload, func(t *testing.T) {
			_, err := ParseAction(payload)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

func TestFirstFile_Precedence(t *testing.T) {
	files := []FileRef{
		{Kind: FileAudio, ID: "a1"},
		{Kind: FileDocument, ID: "d1"},
		{Kind: FileVideo, ID: "v1"},
	}
	got := FirstFile(files)
	require.NotNil(t, got)
	assert.Equal(t, "document:d1", got.Token())

	files = append(files, FileRef{Kind: FilePhoto, ID: "p1"})
	assert.Equal(t, "photo:p1", FirstFile(files).Token())

	assert.Nil(t, FirstFile(nil))
	assert.Nil(t, Turn{Text: "hi"}.File())
}

func TestParseFileRef(t *testing.T) {
	ref, err := ParseFileRef("photo:abc:123")
	require.NoError(t, err)
	assert.Equal(t, FilePhoto, ref.Kind)
	assert.Equal(t, "abc:123", ref.ID)

	_, err = ParseFileRef("sticker:x")
	require.Error(t, err)
	_, err = ParseFileRef("photo:")
	require.Error(t, err)
}
