// Package handler exposes the moderation queue to reviewers over HTTP. Every
// route expects auth.RequireReviewer in front of it.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"trustdesk/internal/moderation"
	"trustdesk/internal/moderation/models"
	id "trustdesk/pkg/domain"
	dErrors "trustdesk/pkg/domain-errors"
	"trustdesk/pkg/platform/httputil"
	"trustdesk/pkg/requestcontext"
)

// Queue is the moderation surface the handler drives.
type Queue interface {
	IsReviewer(caller id.SubmitterID) bool
	ListPending(ctx context.Context, reviewer id.SubmitterID, kind id.Kind) ([]*models.Submission, error)
	Get(ctx context.Context, reviewer id.SubmitterID, kind id.Kind, subID id.SubmissionID) (*models.Submission, error)
	InfoRequests(ctx context.Context, reviewer id.SubmitterID, kind id.Kind, subID id.SubmissionID) ([]*models.InfoRequest, error)
	Approve(ctx context.Context, reviewer id.SubmitterID, kind id.Kind, subID id.SubmissionID) (moderation.Outcome, error)
	Reject(ctx context.Context, reviewer id.SubmitterID, kind id.Kind, subID id.SubmissionID, notes string) (moderation.Outcome, error)
	RequestInfo(ctx context.Context, reviewer id.SubmitterID, kind id.Kind, subID id.SubmissionID, question string) (*models.InfoRequest, error)
	Stats(ctx context.Context, reviewer id.SubmitterID) (models.Stats, error)
}

// Flags lifts intake restrictions.
type Flags interface {
	Reset(ctx context.Context, reviewerID, submitterID id.SubmitterID) (bool, error)
	Flagged(ctx context.Context) ([]id.SubmitterID, error)
}

type Handler struct {
	queue  Queue
	flags  Flags
	logger *slog.Logger
}

func New(queue Queue, flags Flags, logger *slog.Logger) *Handler {
	return &Handler{queue: queue, flags: flags, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/reviewer/submissions", h.HandleListPending)
	r.Get("/reviewer/submissions/{kind}/{id}", h.HandleGet)
	r.Post("/reviewer/submissions/{kind}/{id}/approve", h.HandleApprove)
	r.Post("/reviewer/submissions/{kind}/{id}/reject", h.HandleReject)
	r.Post("/reviewer/submissions/{kind}/{id}/info", h.HandleRequestInfo)
	r.Get("/reviewer/submissions/{kind}/{id}/info", h.HandleListInfo)
	r.Get("/reviewer/stats", h.HandleStats)
	r.Get("/reviewer/flags", h.HandleListFlags)
	r.Delete("/reviewer/flags/{submitter}", h.HandleResetFlag)
}

// SubmissionResponse is the JSON view of a submission.
type SubmissionResponse struct {
	ID            int64             `json:"id"`
	Kind          string            `json:"kind"`
	SubmitterID   int64             `json:"submitter_id"`
	Handle        string            `json:"submitter_handle,omitempty"`
	Fields        map[string]string `json:"fields"`
	Evidence      string            `json:"evidence,omitempty"`
	FileRefs      []string          `json:"file_refs"`
	Status        string            `json:"status"`
	ReviewerNotes string            `json:"reviewer_notes,omitempty"`
	DecidedBy     int64             `json:"decided_by,omitempty"`
	DecidedAt     *time.Time        `json:"decided_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

func toSubmissionResponse(sub *models.Submission) SubmissionResponse {
	fields := make(map[string]string)
	for _, f := range sub.Details.Fields() {
		fields[f.Name] = f.Value
	}
	refs := sub.FileRefs
	if refs == nil {
		refs = []string{}
	}
	return SubmissionResponse{
		ID:            sub.ID.Int64(),
		Kind:          string(sub.Kind),
		SubmitterID:   sub.Submitter.ID.Int64(),
		Handle:        sub.Submitter.Handle,
		Fields:        fields,
		Evidence:      sub.Evidence,
		FileRefs:      refs,
		Status:        string(sub.Status),
		ReviewerNotes: sub.ReviewerNotes,
		DecidedBy:     sub.DecidedBy.Int64(),
		DecidedAt:     sub.DecidedAt,
		CreatedAt:     sub.CreatedAt,
	}
}

type InfoRequestResponse struct {
	ID             int64      `json:"id"`
	SubmissionKind string     `json:"submission_kind"`
	SubmissionID   int64      `json:"submission_id"`
	SubmitterID    int64      `json:"submitter_id"`
	ReviewerID     int64      `json:"reviewer_id"`
	Question       string     `json:"question"`
	Answer         string     `json:"answer,omitempty"`
	AnswerFileRefs []string   `json:"answer_file_refs,omitempty"`
	Status         string     `json:"status"`
	Delivered      *bool      `json:"delivered,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	AnsweredAt     *time.Time `json:"answered_at,omitempty"`
}

func toInfoRequestResponse(req *models.InfoRequest) InfoRequestResponse {
	return InfoRequestResponse{
		ID:             req.ID.Int64(),
		SubmissionKind: string(req.SubmissionKind),
		SubmissionID:   req.SubmissionID.Int64(),
		SubmitterID:    req.TargetSubmitter.Int64(),
		ReviewerID:     req.ReviewerID.Int64(),
		Question:       req.Question,
		Answer:         req.Answer,
		AnswerFileRefs: req.AnswerFileRefs,
		Status:         string(req.Status),
		CreatedAt:      req.CreatedAt,
		AnsweredAt:     req.AnsweredAt,
	}
}

type DecisionResponse struct {
	Kind    string `json:"kind"`
	ID      int64  `json:"id"`
	Outcome string `json:"outcome"`
}

type RejectRequest struct {
	Notes string `json:"notes"`
}

type InfoRequestRequest struct {
	Question string `json:"question"`
}

type StatsResponse struct {
	Pending      map[string]int `json:"pending"`
	Whitelisted  int            `json:"whitelisted"`
	ActiveScams  int            `json:"active_scams"`
	RemovedScams int            `json:"removed_scams"`
	TotalUsers   int            `json:"total_users"`
}

type FlagResetResponse struct {
	SubmitterID int64 `json:"submitter_id"`
	WasFlagged  bool  `json:"was_flagged"`
}

func (h *Handler) HandleListPending(w http.ResponseWriter, r *http.Request) {
	var kind id.Kind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		k, err := id.ParseKind(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		kind = k
	}
	subs, err := h.queue.ListPending(r.Context(), requestcontext.ReviewerID(r.Context()), kind)
	if err != nil {
		h.fail(r, w, "list pending failed", err)
		return
	}
	out := make([]SubmissionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toSubmissionResponse(sub))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	kind, subID, err := submissionParams(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	sub, err := h.queue.Get(r.Context(), requestcontext.ReviewerID(r.Context()), kind, subID)
	if err != nil {
		h.fail(r, w, "get submission failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSubmissionResponse(sub))
}

func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	kind, subID, err := submissionParams(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	outcome, err := h.queue.Approve(r.Context(), requestcontext.ReviewerID(r.Context()), kind, subID)
	if err != nil {
		h.fail(r, w, "approve failed", err)
		return
	}
	writeDecision(w, kind, subID, outcome)
}

func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	kind, subID, err := submissionParams(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var notes string
	if r.ContentLength != 0 {
		req, err := httputil.DecodeJSON[RejectRequest](r)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		notes = req.Notes
	}
	outcome, err := h.queue.Reject(r.Context(), requestcontext.ReviewerID(r.Context()), kind, subID, notes)
	if err != nil {
		h.fail(r, w, "reject failed", err)
		return
	}
	writeDecision(w, kind, subID, outcome)
}

// writeDecision reports no-effect outcomes with their own status so clients
// can tell a lost race from a missing submission.
func writeDecision(w http.ResponseWriter, kind id.Kind, subID id.SubmissionID, outcome moderation.Outcome) {
	status := http.StatusOK
	switch outcome {
	case moderation.OutcomeNotFound:
		status = http.StatusNotFound
	case moderation.OutcomeAlreadyDecided:
		status = http.StatusConflict
	}
	httputil.WriteJSON(w, status, DecisionResponse{Kind: string(kind), ID: subID.Int64(), Outcome: string(outcome)})
}

func (h *Handler) HandleRequestInfo(w http.ResponseWriter, r *http.Request) {
	kind, subID, err := submissionParams(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	body, err := httputil.DecodeJSON[InfoRequestRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := h.queue.RequestInfo(r.Context(), requestcontext.ReviewerID(r.Context()), kind, subID, body.Question)
	delivered := err == nil
	if err != nil && !errors.Is(err, moderation.ErrQuestionNotDelivered) {
		h.fail(r, w, "request info failed", err)
		return
	}
	resp := toInfoRequestResponse(req)
	resp.Delivered = &delivered
	httputil.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) HandleListInfo(w http.ResponseWriter, r *http.Request) {
	kind, subID, err := submissionParams(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	reqs, err := h.queue.InfoRequests(r.Context(), requestcontext.ReviewerID(r.Context()), kind, subID)
	if err != nil {
		h.fail(r, w, "list info requests failed", err)
		return
	}
	out := make([]InfoRequestResponse, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, toInfoRequestResponse(req))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context(), requestcontext.ReviewerID(r.Context()))
	if err != nil {
		h.fail(r, w, "stats failed", err)
		return
	}
	pending := make(map[string]int, len(stats.PendingByKind))
	for k, n := range stats.PendingByKind {
		pending[string(k)] = n
	}
	httputil.WriteJSON(w, http.StatusOK, StatsResponse{
		Pending:      pending,
		Whitelisted:  stats.Whitelisted,
		ActiveScams:  stats.ActiveScams,
		RemovedScams: stats.RemovedScams,
		TotalUsers:   stats.TotalUsers,
	})
}

func (h *Handler) HandleListFlags(w http.ResponseWriter, r *http.Request) {
	if !h.requireReviewer(w, r) {
		return
	}
	flagged, err := h.flags.Flagged(r.Context())
	if err != nil {
		h.fail(r, w, "list flags failed", err)
		return
	}
	out := make([]int64, 0, len(flagged))
	for _, f := range flagged {
		out = append(out, f.Int64())
	}
	httputil.WriteJSON(w, http.StatusOK, map[string][]int64{"flagged": out})
}

func (h *Handler) HandleResetFlag(w http.ResponseWriter, r *http.Request) {
	if !h.requireReviewer(w, r) {
		return
	}
	submitter, err := id.ParseSubmitterID(chi.URLParam(r, "submitter"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	wasFlagged, err := h.flags.Reset(r.Context(), requestcontext.ReviewerID(r.Context()), submitter)
	if err != nil {
		h.fail(r, w, "reset flag failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FlagResetResponse{SubmitterID: submitter.Int64(), WasFlagged: wasFlagged})
}

// requireReviewer guards the routes that do not go through the queue.
func (h *Handler) requireReviewer(w http.ResponseWriter, r *http.Request) bool {
	reviewer := requestcontext.ReviewerID(r.Context())
	if h.queue.IsReviewer(reviewer) {
		return true
	}
	h.logger.WarnContext(r.Context(), "reviewer access denied",
		"reviewer_id", reviewer,
		"request_id", requestcontext.RequestID(r.Context()),
	)
	httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "reviewer access required"))
	return false
}

func (h *Handler) fail(r *http.Request, w http.ResponseWriter, msg string, err error) {
	ctx := r.Context()
	h.logger.ErrorContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}

func submissionParams(r *http.Request) (id.Kind, id.SubmissionID, error) {
	kind, err := id.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return "", 0, err
	}
	subID, err := id.ParseSubmissionID(chi.URLParam(r, "id"))
	if err != nil {
		return "", 0, err
	}
	return kind, subID, nil
}
