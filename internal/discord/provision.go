package discord

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/ticketbooth/internal/ticket"
	"github.com/zulandar/ticketbooth/internal/transcript"
)

// memberAccess is granted to everyone allowed into a ticket channel.
const memberAccess = discordgo.PermissionViewChannel |
	discordgo.PermissionSendMessages |
	discordgo.PermissionReadMessageHistory

// CheckCategory verifies that categoryID is a category in the configured guild.
func (a *Adapter) CheckCategory(ctx context.Context, categoryID string) error {
	var ch *discordgo.Channel
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = a.sess.Channel(categoryID)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: lookup category %s: %w", categoryID, err)
	}
	if ch.Type != discordgo.ChannelTypeGuildCategory {
		return fmt.Errorf("discord: channel %s is not a category", categoryID)
	}
	if ch.GuildID != a.guildID {
		return fmt.Errorf("discord: category %s belongs to another guild", categoryID)
	}
	return nil
}

// CreatePrivateChannel creates a text channel under spec.ParentID visible
// only to the access list and the bot itself.
func (a *Adapter) CreatePrivateChannel(ctx context.Context, spec ticket.ChannelSpec) (ticket.Channel, error) {
	data := discordgo.GuildChannelCreateData{
		Name:                 spec.Name,
		Type:                 discordgo.ChannelTypeGuildText,
		ParentID:             spec.ParentID,
		PermissionOverwrites: a.overwrites(spec.Access),
	}

	var ch *discordgo.Channel
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = a.sess.GuildChannelCreateComplex(a.guildID, data, discordgo.WithAuditLogReason(spec.Reason))
		return apiErr
	})
	if err != nil {
		return ticket.Channel{}, fmt.Errorf("discord: create channel %s: %w", spec.Name, err)
	}
	return ticket.Channel{ID: ch.ID, Name: ch.Name}, nil
}

// overwrites translates an access list into permission overwrites. The
// guild's @everyone role shares the guild ID.
func (a *Adapter) overwrites(acl ticket.AccessList) []*discordgo.PermissionOverwrite {
	var out []*discordgo.PermissionOverwrite
	if acl.DenyEveryone {
		out = append(out, &discordgo.PermissionOverwrite{
			ID:   a.guildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionViewChannel,
		})
	}
	for _, id := range acl.UserIDs {
		out = append(out, &discordgo.PermissionOverwrite{
			ID:    id,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: memberAccess,
		})
	}
	if bot := a.BotUserID(); bot != "" {
		out = append(out, &discordgo.PermissionOverwrite{
			ID:    bot,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: memberAccess,
		})
	}
	for _, id := range acl.RoleIDs {
		out = append(out, &discordgo.PermissionOverwrite{
			ID:    id,
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: memberAccess,
		})
	}
	return out
}

// DeleteChannel deletes a ticket channel. A channel that is already gone is
// not an error.
func (a *Adapter) DeleteChannel(ctx context.Context, channelID, reason string) error {
	err := a.retryOnRateLimit(ctx, func() error {
		_, apiErr := a.sess.ChannelDelete(channelID, discordgo.WithAuditLogReason(reason))
		return apiErr
	})
	if err != nil && !isMissingChannel(err) {
		return fmt.Errorf("discord: delete channel %s: %w", channelID, err)
	}
	return nil
}

// ChannelExists reports whether channelID still exists.
func (a *Adapter) ChannelExists(ctx context.Context, channelID string) (bool, error) {
	var ch *discordgo.Channel
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = a.sess.Channel(channelID)
		return apiErr
	})
	if err != nil {
		if isMissingChannel(err) {
			return false, nil
		}
		return false, fmt.Errorf("discord: lookup channel %s: %w", channelID, err)
	}
	return ch != nil && ch.Type == discordgo.ChannelTypeGuildText, nil
}

func isMissingChannel(err error) bool {
	return isStatus(err, http.StatusNotFound) || isCode(err, discordgo.ErrCodeUnknownChannel)
}

// History fetches up to limit of the most recent messages in channelID,
// newest first, paging backwards.
func (a *Adapter) History(ctx context.Context, channelID string, limit int) ([]transcript.Message, error) {
	var all []transcript.Message
	beforeID := ""

	pageSize := defaultPageSize
	if limit > 0 && limit < pageSize {
		pageSize = limit
	}

	for {
		var msgs []*discordgo.Message
		err := a.retryOnRateLimit(ctx, func() error {
			var apiErr error
			msgs, apiErr = a.sess.ChannelMessages(channelID, pageSize, beforeID, "", "")
			return apiErr
		})
		if err != nil {
			return nil, fmt.Errorf("discord: channel messages: %w", err)
		}
		if len(msgs) == 0 {
			break
		}

		for _, m := range msgs {
			all = append(all, toTranscriptMessage(m))
		}
		if limit > 0 && len(all) >= limit {
			all = all[:limit]
			break
		}

		// Paginate backwards: use the last message ID as the "before" cursor.
		beforeID = msgs[len(msgs)-1].ID
		if len(msgs) < pageSize {
			break
		}
	}
	return all, nil
}

func toTranscriptMessage(m *discordgo.Message) transcript.Message {
	out := transcript.Message{
		ID:        m.ID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		out.AuthorID = m.Author.ID
		out.AuthorName = m.Author.Username
		out.Bot = m.Author.Bot
	}
	for _, att := range m.Attachments {
		out.Attachments = append(out.Attachments, transcript.Attachment{Filename: att.Filename, URL: att.URL})
	}
	for _, emb := range m.Embeds {
		if emb.Title != "" {
			out.Content += "\n\n**" + emb.Title + "**"
		}
		if emb.Description != "" {
			out.Content += "\n\n" + emb.Description
		}
	}
	return out
}
