package discord

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/ticketbooth/internal/ticket"
)

// Component custom IDs. They survive restarts, so buttons on old messages
// keep working.
const (
	openButtonID  = "ticket:open"
	claimButtonID = "ticket:claim"
	closeButtonID = "ticket:close"
)

const (
	embedColor  = 0x2b2d31
	logFooter   = "Ticket System"
	dmFooter    = "Thank you for contacting support"
	welcomeBody = "Hi %s! Explain your issue and a staff member will respond.\n\n" +
		"Use the buttons below to manage this ticket."
)

func mention(userID string) string { return "<@" + userID + ">" }

func channelMention(channelID string) string { return "<#" + channelID + ">" }

func timestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}

// panelMessage is the message /panel posts.
func panelMessage() *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Support Tickets",
			Description: "Press the button below to open a private support ticket.",
		}},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Open Ticket",
					Style:    discordgo.SuccessButton,
					Emoji:    &discordgo.ComponentEmoji{Name: "🎫"},
					CustomID: openButtonID,
				},
			}},
		},
	}
}

func ticketButtons() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{
				Label:    "Claim Ticket",
				Style:    discordgo.PrimaryButton,
				Emoji:    &discordgo.ComponentEmoji{Name: "✅"},
				CustomID: claimButtonID,
			},
			discordgo.Button{
				Label:    "Close Ticket",
				Style:    discordgo.DangerButton,
				Emoji:    &discordgo.ComponentEmoji{Name: "🔒"},
				CustomID: closeButtonID,
			},
		}},
	}
}

// welcomeMessage greets the opener inside a new ticket channel.
func welcomeMessage(evt ticket.Event) *discordgo.MessageSend {
	opener := mention(evt.Ticket.OpenerID)
	return &discordgo.MessageSend{
		Content: opener,
		Embeds: []*discordgo.MessageEmbed{{
			Title:       fmt.Sprintf("🎫 Support Ticket #%d", evt.Ticket.TicketNumber),
			Description: fmt.Sprintf(welcomeBody, opener),
		}},
		Components: ticketButtons(),
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Users: []string{evt.Ticket.OpenerID},
		},
	}
}

// claimedEmbed returns a copy of the welcome embed with the claim recorded.
func claimedEmbed(orig *discordgo.MessageEmbed, claimerID string) *discordgo.MessageEmbed {
	var e discordgo.MessageEmbed
	if orig != nil {
		e = *orig
		e.Fields = append([]*discordgo.MessageEmbedField(nil), orig.Fields...)
	} else {
		e.Title = "🎫 Support Ticket"
	}
	e.Fields = append(e.Fields,
		&discordgo.MessageEmbedField{Name: "Status", Value: "Claimed", Inline: true},
		&discordgo.MessageEmbedField{Name: "Claimed by", Value: mention(claimerID), Inline: true},
	)
	return &e
}

// logMessage renders evt for the log channel.
func logMessage(evt ticket.Event) *discordgo.MessageSend {
	name := evt.Channel.Name
	if name == "" {
		name = evt.Ticket.ChannelName()
	}

	switch evt.Kind {
	case ticket.EventOpened:
		return &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{{
			Title:     "🟢 Ticket Opened",
			Color:     embedColor,
			Timestamp: timestamp(evt.Time),
			Footer:    &discordgo.MessageEmbedFooter{Text: logFooter},
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Ticket", Value: name, Inline: true},
				{Name: "Opened by", Value: mention(evt.Ticket.OpenerID), Inline: true},
				{Name: "Status", Value: "Open", Inline: true},
			},
		}}}

	case ticket.EventClaimed:
		return &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{{
			Title:     "🟡 Ticket Claimed",
			Color:     embedColor,
			Timestamp: timestamp(evt.Time),
			Footer:    &discordgo.MessageEmbedFooter{Text: logFooter},
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Ticket", Value: name, Inline: true},
				{Name: "Opened by", Value: mention(evt.Ticket.OpenerID), Inline: true},
				{Name: "Claimed by", Value: mention(evt.Actor.ID), Inline: true},
			},
		}}}

	case ticket.EventClosed:
		claimedBy := "Not claimed"
		if evt.Ticket.Claimed() {
			claimedBy = mention(evt.Ticket.ClaimedByID())
		}
		transcript := "❌ Failed"
		if evt.Transcript != nil {
			transcript = "✅ Attached"
		}
		msg := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{{
			Title:     "🔴 Ticket Closed",
			Color:     embedColor,
			Timestamp: timestamp(evt.Time),
			Footer:    &discordgo.MessageEmbedFooter{Text: logFooter},
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Ticket", Value: name, Inline: true},
				{Name: "Opened by", Value: mention(evt.Ticket.OpenerID), Inline: true},
				{Name: "Claimed by", Value: claimedBy, Inline: true},
				{Name: "Closed by", Value: mention(evt.Actor.ID), Inline: true},
				{Name: "Transcript", Value: transcript},
			},
		}}}
		attach(msg, evt.Transcript)
		return msg

	case ticket.EventDeliveryFailed:
		if errors.Is(evt.Err, ticket.ErrUnreachable) {
			return &discordgo.MessageSend{
				Content: fmt.Sprintf("⚠️ Could not DM transcript to %s (DMs closed).", mention(evt.Ticket.OpenerID)),
			}
		}
		return &discordgo.MessageSend{
			Content: fmt.Sprintf("⚠️ Failed to DM transcript to %s: %v", mention(evt.Ticket.OpenerID), evt.Err),
		}
	}
	return nil
}

// directMessage renders the closing notice sent to the opener.
func directMessage(evt ticket.Event) *discordgo.MessageSend {
	name := evt.Channel.Name
	if name == "" {
		name = evt.Ticket.ChannelName()
	}
	desc := fmt.Sprintf("Your support ticket **%s** has been successfully closed.", name)
	if evt.Transcript != nil {
		desc += "\n\n📄 **Transcript**\nA full transcript of the conversation is attached above for your records."
	}
	msg := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{{
		Title:       "🎫 Ticket Closed",
		Description: desc,
		Color:       embedColor,
		Timestamp:   timestamp(evt.Time),
		Footer:      &discordgo.MessageEmbedFooter{Text: dmFooter},
	}}}
	attach(msg, evt.Transcript)
	return msg
}

func attach(msg *discordgo.MessageSend, doc *ticket.Document) {
	if doc == nil {
		return
	}
	msg.Files = append(msg.Files, &discordgo.File{
		Name:        doc.Filename,
		ContentType: doc.ContentType,
		Reader:      bytes.NewReader(doc.Data),
	})
}

// userMessage maps an engine error to the ephemeral reply shown to the user.
func userMessage(err error) string {
	var (
		ve *ticket.ValidationError
		ce *ticket.ConflictError
		ae *ticket.AuthorizationError
	)
	switch {
	case errors.Is(err, ticket.ErrTicketNotFound):
		return "Ticket data not found."
	case errors.As(err, &ve):
		return capitalize(ve.Reason) + "."
	case errors.As(err, &ce):
		switch ce.Kind {
		case ticket.ConflictOpenTicket:
			return "You already have a ticket: " + channelMention(ce.ChannelID)
		case ticket.ConflictAlreadyClaimed:
			return fmt.Sprintf("This ticket is already claimed by %s.", mention(ce.UserID))
		case ticket.ConflictClaimedByOther:
			return fmt.Sprintf("This ticket is claimed by %s. Only they (or an admin) can close it.", mention(ce.UserID))
		default:
			return "That ticket is busy, try again in a moment."
		}
	case errors.As(err, &ae):
		if ae.Action == "claim tickets" {
			return "Only support staff can claim tickets."
		}
		return "You don't have permission to " + ae.Action + "."
	default:
		return "Something went wrong, please try again later."
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	if s[0] >= 'a' && s[0] <= 'z' {
		return string(s[0]-'a'+'A') + s[1:]
	}
	return s
}
