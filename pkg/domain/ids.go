package domain

import (
	"strconv"
	"strings"

	dErrors "trustdesk/pkg/domain-errors"
)

// SubmitterID is the transport-supplied identity of a chat participant.
// Reviewers are submitters whose id is in the configured reviewer set.
type SubmitterID int64

// SubmissionID is assigned by the durable store when a submission is finalized.
type SubmissionID int64

// InfoRequestID is assigned by the durable store when a reviewer asks a question.
type InfoRequestID int64

func (id SubmitterID) String() string   { return strconv.FormatInt(int64(id), 10) }
func (id SubmissionID) String() string  { return strconv.FormatInt(int64(id), 10) }
func (id InfoRequestID) String() string { return strconv.FormatInt(int64(id), 10) }

func (id SubmitterID) Int64() int64   { return int64(id) }
func (id SubmissionID) Int64() int64  { return int64(id) }
func (id InfoRequestID) Int64() int64 { return int64(id) }

// IsZero reports whether the id was never set.
func (id SubmitterID) IsZero() bool { return id == 0 }

// ParseSubmitterID parses a decimal chat id from external input.
func ParseSubmitterID(s string) (SubmitterID, error) {
	v, err := parsePositive(s)
	if err != nil {
		return 0, err
	}
	return SubmitterID(v), nil
}

// ParseSubmissionID parses a submission id from external input.
func ParseSubmissionID(s string) (SubmissionID, error) {
	v, err := parsePositive(s)
	if err != nil {
		return 0, err
	}
	return SubmissionID(v), nil
}

// ParseInfoRequestID parses an info request id from external input.
func ParseInfoRequestID(s string) (InfoRequestID, error) {
	v, err := parsePositive(s)
	if err != nil {
		return 0, err
	}
	return InfoRequestID(v), nil
}

func parsePositive(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid id format")
	}
	if v <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "id must be positive")
	}
	return v, nil
}
