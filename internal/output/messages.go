package output

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"
)

// RatingPrompt asks the requester to rate how a closed ticket was handled.
func RatingPrompt(ticketID uint) Message {
	buttons := make([]slack.BlockElement, 0, 5)
	for rating := 1; rating <= 5; rating++ {
		buttons = append(buttons, slack.NewButtonBlockElement(
			ActionRate,
			EncodeRating(ticketID, rating),
			plain(strings.Repeat("⭐", rating)),
		))
	}

	return Message{
		Text: fmt.Sprintf("How did we do on ticket #%d?", ticketID),
		Blocks: []slack.Block{
			slack.NewSectionBlock(markdown(fmt.Sprintf("Ticket #%d was closed. How did we do?", ticketID)), nil, nil),
			slack.NewActionBlock("ticket_rating", buttons...),
		},
	}
}

// RatingThanks replaces the rating prompt once a rating is recorded.
func RatingThanks(rating int) Message {
	text := fmt.Sprintf("Thanks for the feedback! You rated this ticket %s", strings.Repeat("⭐", rating))
	return Message{
		Text:   text,
		Blocks: []slack.Block{slack.NewSectionBlock(markdown(text), nil, nil)},
	}
}

// EscalationNotice announces a new escalation in its discussion thread.
func EscalationNotice(ticketID uint, teamLabel string, tagLabels []string, requestedBy string) Message {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🔺 *Ticket #%d escalated to %s*", ticketID, teamLabel))
	if requestedBy != "" {
		sb.WriteString(fmt.Sprintf(" by <@%s>", requestedBy))
	}
	if len(tagLabels) > 0 {
		sb.WriteString(fmt.Sprintf("\n*Tags*: %s", strings.Join(tagLabels, ", ")))
	}
	text := sb.String()
	return Message{
		Text:   text,
		Blocks: []slack.Block{slack.NewSectionBlock(markdown(text), nil, nil)},
	}
}

// EscalationHeadsUp tells a team channel about an escalation discussed elsewhere.
func EscalationHeadsUp(ticketID uint, teamLabel, threadLink string) Message {
	text := fmt.Sprintf("🔺 Ticket #%d was escalated to *%s*.", ticketID, teamLabel)
	if threadLink != "" {
		text += fmt.Sprintf(" <%s|Join the thread>", threadLink)
	}
	return Message{
		Text:   text,
		Blocks: []slack.Block{slack.NewSectionBlock(markdown(text), nil, nil)},
	}
}

// EscalationResolvedNotice is posted in the escalation thread on resolution.
func EscalationResolvedNotice(ticketID uint, teamLabel string) Message {
	text := fmt.Sprintf("☑️ Escalation of ticket #%d to %s was resolved.", ticketID, teamLabel)
	return Message{
		Text:   text,
		Blocks: []slack.Block{slack.NewSectionBlock(markdown(text), nil, nil)},
	}
}
