package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/akmatori/ticketbot/internal/database"
	"github.com/akmatori/ticketbot/internal/utils"
)

// maxSummaryLength bounds the excerpt of the original message on the form
const maxSummaryLength = 200

// Message is a rendered chat message: fallback text plus Block Kit blocks.
type Message struct {
	Text   string
	Blocks []slack.Block
}

// FormView is everything the ticket form shows. Labels are resolved by the
// caller; empty labels render as placeholders.
type FormView struct {
	Ticket         *database.Ticket
	Escalations    []EscalationView
	Summary        string
	TeamLabel      string
	ImpactLabel    string
	TagLabels      []string
	AssigneeLabel  string
	RequesterLabel string
	// AssignmentEnabled shows the "Assign to me" button.
	AssignmentEnabled bool
	Now               time.Time
}

// EscalationView is one line of the form's escalation summary.
type EscalationView struct {
	ID        uint
	TeamLabel string
	Open      bool
	Permalink string
}

// RenderTicketForm renders the canonical ticket form. The result depends only
// on the view, so repeated renders of the same state are identical.
func RenderTicketForm(v FormView) Message {
	t := v.Ticket
	blocks := []slack.Block{
		slack.NewSectionBlock(markdown(formHeader(t)), nil, nil),
	}

	if v.Summary != "" {
		blocks = append(blocks, slack.NewContextBlock("",
			markdown(">"+utils.TruncateText(v.Summary, maxSummaryLength)),
		))
	}

	blocks = append(blocks, slack.NewSectionBlock(nil, []*slack.TextBlockObject{
		markdown("*Team*\n" + orPlaceholder(v.TeamLabel)),
		markdown("*Impact*\n" + orPlaceholder(v.ImpactLabel)),
		markdown("*Assignee*\n" + orPlaceholder(v.AssigneeLabel)),
		markdown("*Requester*\n" + orPlaceholder(v.RequesterLabel)),
		markdown("*Tags*\n" + orPlaceholder(strings.Join(v.TagLabels, ", "))),
		markdown("*Open for*\n" + openFor(t, v.Now)),
	}, nil))

	if len(v.Escalations) > 0 {
		blocks = append(blocks, slack.NewDividerBlock())
		blocks = append(blocks, escalationBlocks(v.Escalations)...)
	}

	blocks = append(blocks, slack.NewActionBlock("ticket_actions", formButtons(v)...))

	return Message{
		Text:   fmt.Sprintf("Ticket #%d is %s", t.ID, t.Status),
		Blocks: blocks,
	}
}

func formHeader(t *database.Ticket) string {
	return fmt.Sprintf("%s *Ticket #%d* · %s", getStatusEmoji(t.Status), t.ID, statusTitle(t.Status))
}

func openFor(t *database.Ticket, now time.Time) string {
	if now.IsZero() {
		now = time.Now()
	}
	opened := t.OpenedAt()
	if t.Status == database.TicketStatusClosed && len(t.StatusLog) > 0 {
		now = t.StatusLog[len(t.StatusLog)-1].At
	}
	if opened.IsZero() || now.Before(opened) {
		return "-"
	}
	return utils.FormatAge(now.Sub(opened))
}

func escalationBlocks(escalations []EscalationView) []slack.Block {
	blocks := []slack.Block{
		slack.NewSectionBlock(markdown(fmt.Sprintf("*Escalations* (%d open)", countOpen(escalations))), nil, nil),
	}
	for _, e := range escalations {
		line := fmt.Sprintf("%s %s", getEscalationEmoji(e.Open), e.TeamLabel)
		if e.Permalink != "" {
			line += fmt.Sprintf(" · <%s|thread>", e.Permalink)
		}
		if !e.Open {
			line += " · _resolved_"
			blocks = append(blocks, slack.NewSectionBlock(markdown(line), nil, nil))
			continue
		}
		resolve := slack.NewButtonBlockElement(ActionResolveEscalation, fmt.Sprintf("%d", e.ID), plain("Resolve"))
		blocks = append(blocks, slack.NewSectionBlock(markdown(line), nil, slack.NewAccessory(resolve)))
	}
	return blocks
}

func formButtons(v FormView) []slack.BlockElement {
	t := v.Ticket
	id := fmt.Sprintf("%d", t.ID)

	toggle := slack.NewButtonBlockElement(ActionToggleStatus, EncodeKey(t.Key()), plain("Close"))
	toggle.Style = slack.StylePrimary
	if t.Status == database.TicketStatusClosed {
		toggle = slack.NewButtonBlockElement(ActionToggleStatus, EncodeKey(t.Key()), plain("Reopen"))
	}

	buttons := []slack.BlockElement{toggle}
	if v.AssignmentEnabled && t.Status != database.TicketStatusClosed {
		buttons = append(buttons, slack.NewButtonBlockElement(ActionAssignSelf, id, plain("Assign to me")))
	}
	buttons = append(buttons, slack.NewButtonBlockElement(ActionEditTicket, id, plain("Edit")))
	if t.Status != database.TicketStatusClosed {
		escalate := slack.NewButtonBlockElement(ActionOpenEscalation, id, plain("Escalate"))
		escalate.Style = slack.StyleDanger
		buttons = append(buttons, escalate)
	}
	return buttons
}

func countOpen(escalations []EscalationView) int {
	n := 0
	for _, e := range escalations {
		if e.Open {
			n++
		}
	}
	return n
}

func statusTitle(status database.TicketStatus) string {
	s := string(status)
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func orPlaceholder(s string) string {
	if s == "" {
		return "_not set_"
	}
	return s
}

func markdown(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, text, false, false)
}

func plain(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, text, false, false)
}

// getStatusEmoji returns an emoji for the given ticket status
func getStatusEmoji(status database.TicketStatus) string {
	switch status {
	case database.TicketStatusOpened:
		return "🎫"
	case database.TicketStatusStale:
		return "💤"
	case database.TicketStatusClosed:
		return "✅"
	default:
		return "📋"
	}
}

func getEscalationEmoji(open bool) string {
	if open {
		return "🔺"
	}
	return "☑️"
}
