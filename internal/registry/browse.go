package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"trustdesk/internal/messages"
	"trustdesk/internal/transport"
	id "trustdesk/pkg/domain"
)

const dateLayout = "02.01.2006"

// Browser renders registry pages into chat messages with paging buttons.
type Browser struct {
	service *Service
	sender  transport.Sender
	catalog *messages.Catalog
}

func NewBrowser(service *Service, sender transport.Sender, catalog *messages.Catalog) (*Browser, error) {
	if service == nil {
		return nil, errors.New("registry service is required")
	}
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	if catalog == nil {
		catalog = messages.Default()
	}
	return &Browser{service: service, sender: sender, catalog: catalog}, nil
}

// Send delivers page n of list (transport.ListWhitelist or ListScams) to to.
func (b *Browser) Send(ctx context.Context, to id.SubmitterID, list string, n int) error {
	var (
		text    string
		buttons []transport.Affordance
	)
	switch list {
	case transport.ListWhitelist:
		page, err := b.service.Whitelist(ctx, n)
		if err != nil {
			return err
		}
		text = b.RenderWhitelist(page)
		buttons = b.pager(list, page.Number, page.Pages)
	case transport.ListScams:
		page, err := b.service.Scams(ctx, n)
		if err != nil {
			return err
		}
		text = b.RenderScams(page)
		buttons = b.pager(list, page.Number, page.Pages)
	default:
		return fmt.Errorf("unknown registry list %q", list)
	}
	return b.sender.SendText(ctx, to, text, buttons...)
}

func (b *Browser) RenderWhitelist(page Page[WhitelistEntry]) string {
	if page.Total == 0 {
		return b.catalog.Text(messages.WhitelistEmpty)
	}
	size := b.service.PageSize()
	lines := []string{b.catalog.Text(messages.WhitelistHeader), ""}
	for i, e := range page.Items {
		lines = append(lines, b.catalog.Text(messages.WhitelistRow,
			"n", strconv.Itoa(page.Offset(size)+i+1),
			"handle", e.Handle,
			"activity", e.Activity,
			"link", linkLine(e.Link),
			"date", e.CreatedAt.Format(dateLayout),
		))
	}
	return b.withFooter(lines, page.Number, page.Pages)
}

func (b *Browser) RenderScams(page Page[ScamEntry]) string {
	if page.Total == 0 {
		return b.catalog.Text(messages.ScamsEmpty)
	}
	size := b.service.PageSize()
	lines := []string{b.catalog.Text(messages.ScamsHeader), ""}
	for i, e := range page.Items {
		lines = append(lines, b.catalog.Text(messages.ScamsRow,
			"n", strconv.Itoa(page.Offset(size)+i+1),
			"handle", e.Handle,
			"description", e.Description,
			"date", e.CreatedAt.Format(dateLayout),
		))
	}
	return b.withFooter(lines, page.Number, page.Pages)
}

func (b *Browser) withFooter(lines []string, number, pages int) string {
	if pages > 1 {
		lines = append(lines, "", b.catalog.Text(messages.PageFooter,
			"page", strconv.Itoa(number),
			"pages", strconv.Itoa(pages),
		))
	}
	return strings.Join(lines, "\n")
}

func (b *Browser) pager(list string, number, pages int) []transport.Affordance {
	var buttons []transport.Affordance
	if number > 1 {
		buttons = append(buttons, transport.PageAction(list, number-1).Button(b.catalog.Text(messages.LabelPrev)))
	}
	if number < pages {
		buttons = append(buttons, transport.PageAction(list, number+1).Button(b.catalog.Text(messages.LabelNext)))
	}
	return buttons
}

func linkLine(link string) string {
	if link = strings.TrimSpace(link); link == "" {
		return ""
	}
	return "\n   🔗 " + link
}
