package dispatch

import (
	"context"
	"strconv"
	"strings"

	"trustdesk/internal/messages"
	"trustdesk/internal/transport"
	id "trustdesk/pkg/domain"
	dErrors "trustdesk/pkg/domain-errors"
)

// parseCommand splits "/name@bot arg" into a lowercase name and the trimmed
// argument. ok is false for anything that does not start with a slash.
func parseCommand(text string) (name, arg string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) == 1 {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

func (p *Pipeline) handleCommand(ctx context.Context, turn transport.Turn, name, arg string) error {
	caller := turn.SubmitterID
	switch name {
	case "start", "help":
		p.welcome(ctx, turn)
		return nil
	case "rules":
		p.send(ctx, caller, p.catalog.Text(messages.Rules))
		return nil
	case "about":
		p.send(ctx, caller, p.catalog.Text(messages.About))
		return nil
	case "apply":
		return p.deps.Workflow.Start(ctx, submitterOf(turn), id.KindApplication)
	case "report":
		return p.deps.Workflow.Start(ctx, submitterOf(turn), id.KindReport)
	case "appeal":
		return p.deps.Workflow.Start(ctx, submitterOf(turn), id.KindAppeal)
	case "cancel":
		return p.handleCancel(ctx, caller)
	case "whitelist":
		return p.deps.Registry.Send(ctx, caller, transport.ListWhitelist, 1)
	case "scamlist", "scams":
		return p.deps.Registry.Send(ctx, caller, transport.ListScams, 1)
	case "pending":
		return p.pending(ctx, caller, arg)
	case "stats":
		return p.stats(ctx, caller)
	case "unflag":
		return p.unflag(ctx, caller, arg)
	}
	p.send(ctx, caller, p.catalog.Text(messages.Unknown))
	return nil
}

// welcome records the visitor before greeting. A directory failure only
// costs the statistics, so the greeting goes out regardless.
func (p *Pipeline) welcome(ctx context.Context, turn transport.Turn) {
	to := turn.SubmitterID
	if err := p.deps.Users.Record(ctx, to, turn.Handle); err != nil {
		p.logger.WarnContext(ctx, "failed to record user",
			"submitter_id", to,
			"error", err,
		)
	}
	buttons := make([]transport.Affordance, 0, len(id.Kinds))
	for _, kind := range id.Kinds {
		buttons = append(buttons, transport.StartAction(kind).Button(p.catalog.Text(messages.Label(string(kind)))))
	}
	p.send(ctx, to, p.catalog.Text(messages.Welcome), buttons...)
	if p.deps.Moderation.IsReviewer(to) {
		p.send(ctx, to, p.catalog.Text(messages.ReviewerWelcome))
	}
}

// pending lists open submissions as individual cards, oldest first. An
// optional argument narrows the list to one kind.
func (p *Pipeline) pending(ctx context.Context, reviewer id.SubmitterID, arg string) error {
	var kind id.Kind
	if arg != "" {
		k, err := id.ParseKind(arg)
		if err != nil {
			return err
		}
		kind = k
	}
	subs, err := p.deps.Moderation.ListPending(ctx, reviewer, kind)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		p.send(ctx, reviewer, p.catalog.Text(messages.PendingEmpty))
		return nil
	}
	p.send(ctx, reviewer, p.catalog.Text(messages.PendingHeader, "count", strconv.Itoa(len(subs))))
	if len(subs) > maxPendingCards {
		subs = subs[:maxPendingCards]
	}
	for _, sub := range subs {
		if err := p.deps.Cards.SendCard(ctx, reviewer, sub); err != nil {
			p.logger.WarnContext(ctx, "failed to send pending card",
				"reviewer_id", reviewer,
				"target", sub.Target(),
				"error", err,
			)
		}
	}
	return nil
}

func (p *Pipeline) stats(ctx context.Context, reviewer id.SubmitterID) error {
	st, err := p.deps.Moderation.Stats(ctx, reviewer)
	if err != nil {
		return err
	}
	p.send(ctx, reviewer, p.catalog.Text(messages.StatsSummary,
		"users", strconv.Itoa(st.TotalUsers),
		"whitelisted", strconv.Itoa(st.Whitelisted),
		"active_scams", strconv.Itoa(st.ActiveScams),
		"removed_scams", strconv.Itoa(st.RemovedScams),
		"pending_application", strconv.Itoa(st.PendingByKind[id.KindApplication]),
		"pending_report", strconv.Itoa(st.PendingByKind[id.KindReport]),
		"pending_appeal", strconv.Itoa(st.PendingByKind[id.KindAppeal]),
	))
	return nil
}

func (p *Pipeline) unflag(ctx context.Context, reviewer id.SubmitterID, arg string) error {
	if !p.deps.Moderation.IsReviewer(reviewer) {
		return dErrors.New(dErrors.CodeUnauthorized, "reviewer access required")
	}
	target, err := id.ParseSubmitterID(arg)
	if err != nil {
		return err
	}
	if _, err := p.deps.Guard.Reset(ctx, reviewer, target); err != nil {
		return err
	}
	p.send(ctx, reviewer, p.catalog.Text(messages.Unflagged, "submitter_id", target.String()))
	return nil
}
