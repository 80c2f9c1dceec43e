// Package messages holds every user-visible text of the chat surface.
//
// The catalog ships embedded (messages.yaml) and may be partially overridden by
// a deploy-specific YAML file with the same layout. Keys are the dotted paths
// of the YAML tree, e.g. "prompt.report.accused".
package messages

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed messages.yaml
var defaultCatalog []byte

// Key addresses one catalog entry.
type Key string

const (
	Welcome          Key = "common.welcome"
	ReviewerWelcome  Key = "common.reviewer_welcome"
	Unknown          Key = "common.unknown"
	Cancelled        Key = "common.cancelled"
	NothingToCancel  Key = "common.nothing_to_cancel"
	TryLater         Key = "common.try_later"
	Throttled        Key = "common.throttled"
	Suspicious       Key = "common.suspicious"
	TooLong          Key = "common.too_long"
	Denied           Key = "common.denied"
	EmptyInput       Key = "common.empty_input"
	EvidenceRequired Key = "common.evidence_required"
	EvidenceViaFile  Key = "common.evidence_via_file"
	SessionExpired   Key = "common.session_expired"
	Rules            Key = "common.rules"
	About            Key = "common.about"

	LabelCancel  Key = "labels.cancel"
	LabelApprove Key = "labels.approve"
	LabelReject  Key = "labels.reject"
	LabelInfo    Key = "labels.info"
	LabelRespond Key = "labels.respond"
	LabelDecline Key = "labels.decline"
	LabelPrev    Key = "labels.prev"
	LabelNext    Key = "labels.next"

	ConfirmSummaryHeader Key = "confirm.summary_header"
	ConfirmRetry         Key = "confirm.retry"
	ConfirmMissingField  Key = "confirm.missing_field"
	Submitted            Key = "confirm.submitted"

	AppealNotFound     Key = "appeal.not_found"
	AppealLookupFailed Key = "appeal.lookup_failed"

	CardAnswered          Key = "card.answered"
	CardNoAnswerText      Key = "card.no_answer_text"
	CardFileCaption       Key = "card.file_caption"
	CardAnswerFileCaption Key = "card.answer_file_caption"

	DecisionApproved          Key = "decision.approved"
	DecisionRejected          Key = "decision.rejected"
	DecisionNotFound          Key = "decision.not_found"
	DecisionAlreadyDecided    Key = "decision.already_decided"
	DecisionSubmitterApproved Key = "decision.submitter_approved"
	DecisionSubmitterRejected Key = "decision.submitter_rejected"
	PendingEmpty              Key = "decision.pending_empty"
	PendingHeader             Key = "decision.pending_header"

	InfoQuestionPrompt  Key = "info.question_prompt"
	InfoQuestionSent    Key = "info.question_sent"
	InfoQuestionFailed  Key = "info.question_failed"
	InfoQuestionEmpty   Key = "info.question_empty"
	InfoToSubmitter     Key = "info.to_submitter"
	InfoAnswerPrompt    Key = "info.answer_prompt"
	InfoAnswerThanks    Key = "info.answer_thanks"
	InfoDeclined        Key = "info.declined"
	InfoNotFound        Key = "info.not_found"
	InfoAlreadyAnswered Key = "info.already_answered"
	InfoExpired         Key = "info.expired"

	WhitelistHeader Key = "registry.whitelist_header"
	WhitelistEmpty  Key = "registry.whitelist_empty"
	WhitelistRow    Key = "registry.whitelist_row"
	ScamsHeader     Key = "registry.scams_header"
	ScamsEmpty      Key = "registry.scams_empty"
	ScamsRow        Key = "registry.scams_row"
	PageFooter      Key = "registry.page_footer"

	StatsSummary Key = "stats.summary"
	Unflagged    Key = "intake.unflagged"
)

// Prompt returns the key of the prompt for a workflow step.
func Prompt(kind, step string) Key {
	return Key("prompt." + kind + "." + step)
}

// Field returns the key of a card or summary field label.
func Field(name string) Key {
	return Key("field." + name)
}

// Label returns the key of a display label, e.g. a submission kind.
func Label(name string) Key {
	return Key("labels." + name)
}

// CardTitle returns the key of a review card headline for a kind.
func CardTitle(kind string) Key {
	return Key("card." + kind)
}

// Catalog renders texts by key. It is immutable after Load.
type Catalog struct {
	entries map[Key]string
}

// Default returns the embedded catalog. It panics if the embedded file is
// malformed, which a test guards against.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("messages: embedded catalog: %v", err))
	}
	return c
}

// Load returns the embedded catalog with entries from overridePath applied on
// top. An empty path returns the embedded catalog.
func Load(overridePath string) (*Catalog, error) {
	base, err := Parse(defaultCatalog)
	if err != nil {
		return nil, fmt.Errorf("messages: embedded catalog: %w", err)
	}
	if overridePath == "" {
		return base, nil
	}
	content, err := os.ReadFile(overridePath)
	if err != nil {
		return nil, fmt.Errorf("messages: read %s: %w", overridePath, err)
	}
	override, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("messages: %s: %w", overridePath, err)
	}
	for k, v := range override.entries {
		if _, known := base.entries[k]; !known {
			return nil, fmt.Errorf("messages: %s: unknown key %q", overridePath, k)
		}
		base.entries[k] = v
	}
	return base, nil
}

// Parse decodes a YAML tree of strings into a flat catalog.
func Parse(data []byte) (*Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("catalog payload is empty")
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	c := &Catalog{entries: make(map[Key]string)}
	if err := flatten("", tree, c.entries); err != nil {
		return nil, err
	}
	return c, nil
}

func flatten(prefix string, node map[string]any, out map[Key]string) error {
	for k, v := range node {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch val := v.(type) {
		case string:
			out[Key(path)] = val
		case map[string]any:
			if err := flatten(path, val, out); err != nil {
				return err
			}
		default:
			return fmt.Errorf("key %q: expected text or section, got %T", path, v)
		}
	}
	return nil
}

// Text renders key with placeholders substituted from kv pairs, e.g.
// Text(Submitted, "id", "42"). Unknown keys render as the key itself so a
// missing entry is visible instead of silent.
func (c *Catalog) Text(key Key, kv ...string) string {
	tmpl, ok := c.entries[key]
	if !ok {
		return string(key)
	}
	if len(kv) < 2 {
		return tmpl
	}
	pairs := make([]string, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		pairs = append(pairs, "{"+kv[i]+"}", kv[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// Has reports whether key is present.
func (c *Catalog) Has(key Key) bool {
	_, ok := c.entries[key]
	return ok
}

// Keys lists every key in sorted order.
func (c *Catalog) Keys() []Key {
	keys := make([]Key, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
