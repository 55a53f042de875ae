package discord

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/ticketbooth/internal/models"
	"github.com/zulandar/ticketbooth/internal/ticket"
	"go.uber.org/zap"
)

// Lifecycle is the part of ticket.Engine the bot drives.
type Lifecycle interface {
	Open(ctx context.Context, actor ticket.Actor) (*ticket.OpenResult, error)
	Claim(ctx context.Context, channelID string, actor ticket.Actor) (*models.Ticket, error)
	CheckClose(ctx context.Context, channelID string, actor ticket.Actor) (*models.Ticket, error)
	Close(ctx context.Context, channelID string, actor ticket.Actor) (*ticket.CloseResult, error)
}

// errNotInGuild rejects interactions from DMs.
var errNotInGuild = &ticket.ValidationError{Reason: "this only works in a server"}

// Bot routes the /panel command and the ticket buttons to the engine.
type Bot struct {
	adapter       *Adapter
	engine        Lifecycle
	supportRoleID string
	closeDelay    time.Duration
	log           *zap.Logger

	ctx context.Context
}

// BotOpts holds parameters for creating a Bot.
type BotOpts struct {
	Adapter       *Adapter
	Engine        Lifecycle
	SupportRoleID string
	CloseDelay    time.Duration // announced to the user when a close starts
	Logger        *zap.Logger
}

// NewBot creates a Bot.
func NewBot(opts BotOpts) (*Bot, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("discord: adapter is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("discord: engine is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Bot{
		adapter:       opts.Adapter,
		engine:        opts.Engine,
		supportRoleID: opts.SupportRoleID,
		closeDelay:    opts.CloseDelay,
		log:           log,
		ctx:           context.Background(),
	}, nil
}

// Start registers the bot's handlers on the adapter. It must be called
// before Adapter.Connect. ctx is passed to the engine for every action.
func (b *Bot) Start(ctx context.Context) error {
	b.ctx = ctx
	if _, err := b.adapter.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.registerCommands(r)
	}); err != nil {
		return err
	}
	if _, err := b.adapter.AddHandler(func(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
		b.handleInteraction(ic.Interaction)
	}); err != nil {
		return err
	}
	return nil
}

func panelCommand() *discordgo.ApplicationCommand {
	perms := int64(discordgo.PermissionManageChannels)
	return &discordgo.ApplicationCommand{
		Name:                     "panel",
		Description:              "Post the ticket panel (staff only).",
		DefaultMemberPermissions: &perms,
	}
}

// registerCommands installs /panel as a guild command, which takes effect
// immediately unlike global commands.
func (b *Bot) registerCommands(r *discordgo.Ready) {
	appID := r.User.ID
	if r.Application != nil && r.Application.ID != "" {
		appID = r.Application.ID
	}
	err := b.adapter.retryOnRateLimit(b.ctx, func() error {
		_, apiErr := b.adapter.sess.ApplicationCommandCreate(appID, b.adapter.guildID, panelCommand())
		return apiErr
	})
	if err != nil {
		b.log.Error("register /panel command", zap.Error(err))
		return
	}
	b.log.Info("registered slash commands", zap.String("guild", b.adapter.guildID))
}

func (b *Bot) handleInteraction(i *discordgo.Interaction) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		if i.ApplicationCommandData().Name == "panel" {
			b.handlePanel(i)
		}
	case discordgo.InteractionMessageComponent:
		switch i.MessageComponentData().CustomID {
		case openButtonID:
			b.handleOpen(i)
		case claimButtonID:
			b.handleClaim(i)
		case closeButtonID:
			b.handleClose(i)
		}
	}
}

func (b *Bot) handlePanel(i *discordgo.Interaction) {
	actor, err := b.actorFrom(i)
	if err != nil {
		b.reply(i, userMessage(err))
		return
	}
	if !actor.IsAdmin {
		b.reply(i, "You don't have permission to use this.")
		return
	}
	if err := b.adapter.send(b.ctx, i.ChannelID, panelMessage()); err != nil {
		b.log.Warn("post panel", zap.String("channel", i.ChannelID), zap.Error(err))
		b.reply(i, "Could not post the panel here.")
		return
	}
	b.reply(i, "✅ Panel posted.")
}

func (b *Bot) handleOpen(i *discordgo.Interaction) {
	actor, err := b.actorFrom(i)
	if err != nil {
		b.reply(i, userMessage(err))
		return
	}
	if err := b.deferReply(i); err != nil {
		b.log.Warn("defer open interaction", zap.Error(err))
		return
	}

	res, err := b.engine.Open(b.ctx, actor)
	if err != nil {
		b.logFailure("open", actor, err)
		b.followup(i, userMessage(err))
		return
	}
	b.followup(i, "🎫 Ticket created: "+channelMention(res.Channel.ID))
}

func (b *Bot) handleClaim(i *discordgo.Interaction) {
	actor, err := b.actorFrom(i)
	if err != nil {
		b.reply(i, userMessage(err))
		return
	}

	if _, err := b.engine.Claim(b.ctx, i.ChannelID, actor); err != nil {
		b.logFailure("claim", actor, err)
		b.reply(i, userMessage(err))
		return
	}
	b.reply(i, "✅ Ticket claimed.")

	if i.Message == nil {
		return
	}
	var orig *discordgo.MessageEmbed
	if len(i.Message.Embeds) > 0 {
		orig = i.Message.Embeds[0]
	}
	edit := discordgo.NewMessageEdit(i.ChannelID, i.Message.ID).
		SetEmbeds([]*discordgo.MessageEmbed{claimedEmbed(orig, actor.ID)})
	err = b.adapter.retryOnRateLimit(b.ctx, func() error {
		_, apiErr := b.adapter.sess.ChannelMessageEditComplex(edit)
		return apiErr
	})
	if err != nil {
		b.log.Warn("update ticket message", zap.String("channel", i.ChannelID), zap.Error(err))
	}
}

func (b *Bot) handleClose(i *discordgo.Interaction) {
	actor, err := b.actorFrom(i)
	if err != nil {
		b.reply(i, userMessage(err))
		return
	}
	if _, err := b.engine.CheckClose(b.ctx, i.ChannelID, actor); err != nil {
		b.logFailure("close", actor, err)
		b.reply(i, userMessage(err))
		return
	}
	b.reply(i, fmt.Sprintf("Closing ticket in %d seconds...", int(b.closeDelay/time.Second)))

	res, err := b.engine.Close(b.ctx, i.ChannelID, actor)
	if err != nil {
		b.logFailure("close", actor, err)
		b.followup(i, userMessage(err))
		return
	}
	if res.TranscriptErr != nil {
		b.followup(i, fmt.Sprintf("Transcript error: %v", res.TranscriptErr))
	}
}

// actorFrom resolves the interacting member and their role flags.
func (b *Bot) actorFrom(i *discordgo.Interaction) (ticket.Actor, error) {
	if i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		return ticket.Actor{}, errNotInGuild
	}
	m := i.Member
	perms := m.Permissions
	return ticket.Actor{
		ID:      m.User.ID,
		Name:    m.User.Username,
		IsStaff: b.supportRoleID != "" && slices.Contains(m.Roles, b.supportRoleID),
		IsAdmin: perms&discordgo.PermissionManageChannels != 0 || perms&discordgo.PermissionAdministrator != 0,
	}, nil
}

func (b *Bot) logFailure(action string, actor ticket.Actor, err error) {
	var ae *ticket.AdapterError
	if errors.As(err, &ae) || !isUserError(err) {
		b.log.Error(action+" failed", zap.String("user", actor.ID), zap.Error(err))
		return
	}
	b.log.Debug(action+" rejected", zap.String("user", actor.ID), zap.Error(err))
}

func isUserError(err error) bool {
	var (
		ve *ticket.ValidationError
		ce *ticket.ConflictError
		ae *ticket.AuthorizationError
	)
	return errors.Is(err, ticket.ErrTicketNotFound) ||
		errors.As(err, &ve) || errors.As(err, &ce) || errors.As(err, &ae)
}

// reply answers the interaction with an ephemeral message.
func (b *Bot) reply(i *discordgo.Interaction, content string) {
	err := b.adapter.sess.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		b.log.Warn("interaction reply", zap.Error(err))
	}
}

// deferReply acknowledges the interaction; the answer follows via followup.
func (b *Bot) deferReply(i *discordgo.Interaction) error {
	return b.adapter.sess.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
}

func (b *Bot) followup(i *discordgo.Interaction, content string) {
	_, err := b.adapter.sess.FollowupMessageCreate(i, false, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		b.log.Warn("interaction followup", zap.Error(err))
	}
}
