package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventCategory(t *testing.T) {
	assert.Equal(t, CategorySecurity, EventIntakeThrottled.Category())
	assert.Equal(t, CategorySecurity, EventReviewerDenied.Category())
	assert.Equal(t, CategoryModeration, EventSubmissionApproved.Category())
	assert.Equal(t, CategoryModeration, AuditEvent("something_new").Category())
}
