package notify

import (
	"fmt"
	"strings"

	"trustdesk/internal/messages"
	"trustdesk/internal/moderation/models"
	"trustdesk/internal/transport"
)

// Attachment is a file re-sent after the card text.
type Attachment struct {
	File    transport.FileRef
	Caption string
}

// Card is everything one reviewer receives for a submission.
type Card struct {
	Text        string
	Affordances []transport.Affordance
	Files       []Attachment
}

// RenderCard builds the review card of sub. When answered is set the card
// carries the original question and the submitter's answer, and the answer's
// files follow the submission's own. Pending submissions get approve, reject
// and request-info buttons.
func RenderCard(catalog *messages.Catalog, sub *models.Submission, answered *models.InfoRequest) Card {
	var b strings.Builder
	b.WriteString(catalog.Text(messages.CardTitle(string(sub.Kind)), "id", sub.ID.String()))
	b.WriteString("\n")

	submitter := sub.Submitter.ID.String()
	if sub.Submitter.Handle != "" {
		submitter = "@" + strings.TrimPrefix(sub.Submitter.Handle, "@") + " (" + submitter + ")"
	}
	fmt.Fprintf(&b, "\n%s: %s", catalog.Text(messages.Field("submitter")), submitter)
	for _, f := range sub.Details.Fields() {
		fmt.Fprintf(&b, "\n%s: %s", catalog.Text(messages.Field(f.Name)), f.Value)
	}
	if sub.Evidence != "" {
		fmt.Fprintf(&b, "\n%s: %s", catalog.Text(messages.Field("evidence")), sub.Evidence)
	}
	if n := len(sub.FileRefs); n > 0 {
		fmt.Fprintf(&b, "\n%s: %d", catalog.Text(messages.Field("files")), n)
	}

	card := Card{}
	kindLabel := catalog.Text(messages.Label(string(sub.Kind)))
	for _, token := range sub.FileRefs {
		if ref, err := transport.ParseFileRef(token); err == nil {
			card.Files = append(card.Files, Attachment{
				File:    ref,
				Caption: catalog.Text(messages.CardFileCaption, "kind", kindLabel, "id", sub.ID.String()),
			})
		}
	}

	if answered != nil {
		answer := answered.Answer
		if strings.TrimSpace(answer) == "" {
			answer = catalog.Text(messages.CardNoAnswerText)
		}
		b.WriteString("\n\n")
		b.WriteString(catalog.Text(messages.CardAnswered,
			"request_id", answered.ID.String(),
			"question", answered.Question,
			"answer", answer,
		))
		for _, token := range answered.AnswerFileRefs {
			if ref, err := transport.ParseFileRef(token); err == nil {
				card.Files = append(card.Files, Attachment{
					File: ref,
					Caption: catalog.Text(messages.CardAnswerFileCaption,
						"submitter_id", answered.TargetSubmitter.String(),
						"request_id", answered.ID.String(),
					),
				})
			}
		}
	}

	if sub.Status == models.StatusPending {
		card.Affordances = []transport.Affordance{
			transport.ApproveAction(sub.Kind, sub.ID).Button(catalog.Text(messages.LabelApprove)),
			transport.RejectAction(sub.Kind, sub.ID).Button(catalog.Text(messages.LabelReject)),
			transport.InfoAction(sub.Kind, sub.ID).Button(catalog.Text(messages.LabelInfo)),
		}
	}
	card.Text = b.String()
	return card
}
