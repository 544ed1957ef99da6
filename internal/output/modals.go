package output

import (
	"fmt"

	"github.com/slack-go/slack"

	"github.com/akmatori/ticketbot/internal/database"
	"github.com/akmatori/ticketbot/internal/registry"
)

var editableStatuses = []database.TicketStatus{
	database.TicketStatusOpened,
	database.TicketStatusStale,
	database.TicketStatusClosed,
}

// TicketEditModal renders the modal used to change a ticket's fields. Inputs
// are prefilled from the current ticket so that an untouched field submits
// its current value.
func TicketEditModal(t *database.Ticket, reg *registry.Registry) slack.ModalViewRequest {
	statusOptions := make([]*slack.OptionBlockObject, 0, len(editableStatuses))
	var initialStatus *slack.OptionBlockObject
	for _, s := range editableStatuses {
		opt := slack.NewOptionBlockObject(string(s), plain(statusTitle(s)), nil)
		statusOptions = append(statusOptions, opt)
		if s == t.Status {
			initialStatus = opt
		}
	}
	status := slack.NewOptionsSelectBlockElement(slack.OptTypeStatic, plain("Status"), FieldStatus, statusOptions...)
	status.InitialOption = initialStatus

	blocks := []slack.Block{
		slack.NewInputBlock(FieldStatus, plain("Status"), nil, status),
	}

	teams := []*slack.OptionBlockObject{
		slack.NewOptionBlockObject(registry.UnknownTeam, plain("Unknown"), nil),
	}
	for _, team := range reg.Teams() {
		teams = append(teams, slack.NewOptionBlockObject(team.Code, plain(reg.TeamName(team.Code)), nil))
	}
	teamSelect := slack.NewOptionsSelectBlockElement(slack.OptTypeStatic, plain("Team"), FieldTeam, teams...)
	teamSelect.InitialOption = findOption(teams, t.TeamCode())
	blocks = append(blocks, optional(slack.NewInputBlock(FieldTeam, plain("Team"), nil, teamSelect)))

	if impacts := entryOptions(reg.Impacts()); len(impacts) > 0 {
		impactSelect := slack.NewOptionsSelectBlockElement(slack.OptTypeStatic, plain("Impact"), FieldImpact, impacts...)
		impactSelect.InitialOption = findOption(impacts, t.ImpactCode())
		blocks = append(blocks, optional(slack.NewInputBlock(FieldImpact, plain("Impact"), nil, impactSelect)))
	}

	if tags := entryOptions(reg.Tags()); len(tags) > 0 {
		tagSelect := slack.NewOptionsMultiSelectBlockElement(slack.MultiOptTypeStatic, plain("Tags"), FieldTags, tags...)
		for _, code := range t.Tags {
			if opt := findOption(tags, code); opt != nil {
				tagSelect.InitialOptions = append(tagSelect.InitialOptions, opt)
			}
		}
		blocks = append(blocks, optional(slack.NewInputBlock(FieldTags, plain("Tags"), nil, tagSelect)))
	}

	assignee := slack.NewOptionsSelectBlockElement(slack.OptTypeUser, plain("Responder"), FieldAssignee)
	assignee.InitialUser = t.Assignee()
	blocks = append(blocks, optional(slack.NewInputBlock(FieldAssignee, plain("Assignee"), nil, assignee)))

	return slack.ModalViewRequest{
		Type:            slack.VTModal,
		CallbackID:      CallbackTicketEdit,
		PrivateMetadata: fmt.Sprintf("%d", t.ID),
		Title:           plain(fmt.Sprintf("Ticket #%d", t.ID)),
		Submit:          plain("Save"),
		Close:           plain("Cancel"),
		Blocks:          slack.Blocks{BlockSet: blocks},
	}
}

// EscalationModal renders the modal used to escalate a ticket to a team.
func EscalationModal(t *database.Ticket, reg *registry.Registry) slack.ModalViewRequest {
	teams := make([]*slack.OptionBlockObject, 0, len(reg.Teams()))
	for _, team := range reg.Teams() {
		teams = append(teams, slack.NewOptionBlockObject(team.Code, plain(reg.TeamName(team.Code)), nil))
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(markdown(fmt.Sprintf("Hand ticket #%d to another team. The ticket stays open until it is closed here.", t.ID)), nil, nil),
	}
	if len(teams) > 0 {
		teamSelect := slack.NewOptionsSelectBlockElement(slack.OptTypeStatic, plain("Team"), FieldTeam, teams...)
		blocks = append(blocks, slack.NewInputBlock(FieldTeam, plain("Team"), nil, teamSelect))
	}
	if tags := entryOptions(reg.Tags()); len(tags) > 0 {
		tagSelect := slack.NewOptionsMultiSelectBlockElement(slack.MultiOptTypeStatic, plain("Tags"), FieldTags, tags...)
		blocks = append(blocks, optional(slack.NewInputBlock(FieldTags, plain("Tags"), nil, tagSelect)))
	}

	return slack.ModalViewRequest{
		Type:            slack.VTModal,
		CallbackID:      CallbackEscalate,
		PrivateMetadata: fmt.Sprintf("%d", t.ID),
		Title:           plain("Escalate ticket"),
		Submit:          plain("Escalate"),
		Close:           plain("Cancel"),
		Blocks:          slack.Blocks{BlockSet: blocks},
	}
}

// ConfirmCloseModal asks the user to acknowledge that closing resolves the
// ticket's open escalations. Submitting it replays meta.Fields confirmed.
func ConfirmCloseModal(meta ConfirmCloseMetadata, openEscalations int64) slack.ModalViewRequest {
	noun := "escalation"
	if openEscalations != 1 {
		noun = "escalations"
	}
	text := fmt.Sprintf(
		":warning: Ticket #%d has *%d open %s*. Closing it will resolve %s.",
		meta.TicketID, openEscalations, noun, pronoun(openEscalations),
	)

	return slack.ModalViewRequest{
		Type:            slack.VTModal,
		CallbackID:      CallbackConfirmClose,
		PrivateMetadata: meta.Encode(),
		Title:           plain("Close ticket?"),
		Submit:          plain("Close and resolve"),
		Close:           plain("Keep open"),
		Blocks: slack.Blocks{BlockSet: []slack.Block{
			slack.NewSectionBlock(markdown(text), nil, nil),
		}},
	}
}

func pronoun(n int64) string {
	if n == 1 {
		return "it"
	}
	return "all of them"
}

func entryOptions(entries []registry.Entry) []*slack.OptionBlockObject {
	opts := make([]*slack.OptionBlockObject, 0, len(entries))
	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = e.Code
		}
		opts = append(opts, slack.NewOptionBlockObject(e.Code, plain(name), nil))
	}
	return opts
}

func findOption(opts []*slack.OptionBlockObject, value string) *slack.OptionBlockObject {
	if value == "" {
		return nil
	}
	for _, opt := range opts {
		if opt.Value == value {
			return opt
		}
	}
	return nil
}

func optional(b *slack.InputBlock) *slack.InputBlock {
	b.Optional = true
	return b
}
