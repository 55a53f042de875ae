package discord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/ticketbooth/internal/models"
	"github.com/zulandar/ticketbooth/internal/ticket"
)

type fakeLifecycle struct {
	mu       sync.Mutex
	calls    []string
	openErr  error
	claimErr error
	checkErr error
	closeErr error
	closeRes *ticket.CloseResult
	actors   []ticket.Actor
}

func (f *fakeLifecycle) record(call string, actor ticket.Actor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	f.actors = append(f.actors, actor)
}

func (f *fakeLifecycle) Open(ctx context.Context, actor ticket.Actor) (*ticket.OpenResult, error) {
	f.record("open", actor)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &ticket.OpenResult{Channel: ticket.Channel{ID: "C42", Name: "ticket-0042"}}, nil
}

func (f *fakeLifecycle) Claim(ctx context.Context, channelID string, actor ticket.Actor) (*models.Ticket, error) {
	f.record("claim "+channelID, actor)
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return &models.Ticket{ChannelID: channelID}, nil
}

func (f *fakeLifecycle) CheckClose(ctx context.Context, channelID string, actor ticket.Actor) (*models.Ticket, error) {
	f.record("check "+channelID, actor)
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	return &models.Ticket{ChannelID: channelID}, nil
}

func (f *fakeLifecycle) Close(ctx context.Context, channelID string, actor ticket.Actor) (*ticket.CloseResult, error) {
	f.record("close "+channelID, actor)
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	if f.closeRes != nil {
		return f.closeRes, nil
	}
	return &ticket.CloseResult{}, nil
}

func newTestBot(t *testing.T) (*Bot, *fakeLifecycle, *mockSession) {
	t.Helper()
	a, sess := newTestAdapter(t)
	life := &fakeLifecycle{}
	b, err := NewBot(BotOpts{
		Adapter:       a,
		Engine:        life,
		SupportRoleID: "R_SUPPORT",
		CloseDelay:    3 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewBot: %v", err)
	}
	return b, life, sess
}

func member(id string, perms int64, roles ...string) *discordgo.Member {
	return &discordgo.Member{User: &discordgo.User{ID: id, Username: "user-" + id}, Roles: roles, Permissions: perms}
}

func buttonPress(customID string, m *discordgo.Member) *discordgo.Interaction {
	return &discordgo.Interaction{
		Type:      discordgo.InteractionMessageComponent,
		GuildID:   testGuild,
		ChannelID: "C7",
		Member:    m,
		Data:      discordgo.MessageComponentInteractionData{CustomID: customID},
		Message: &discordgo.Message{
			ID:     "WELCOME",
			Embeds: []*discordgo.MessageEmbed{{Title: "🎫 Support Ticket #7"}},
		},
	}
}

func lastContent(sess *mockSession) string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if n := len(sess.followups); n > 0 {
		return sess.followups[n-1].Content
	}
	if n := len(sess.responses); n > 0 && sess.responses[n-1].Data != nil {
		return sess.responses[n-1].Data.Content
	}
	return ""
}

func TestNewBot_Validation(t *testing.T) {
	a, _ := newTestAdapter(t)
	if _, err := NewBot(BotOpts{Engine: &fakeLifecycle{}}); err == nil {
		t.Error("expected error without adapter")
	}
	if _, err := NewBot(BotOpts{Adapter: a}); err == nil {
		t.Error("expected error without engine")
	}
}

func TestStart_RegistersPanelOnReady(t *testing.T) {
	b, _, sess := newTestBot(t)
	before := len(sess.handlers)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(sess.handlers) != before+2 {
		t.Fatalf("handlers = %d, want %d", len(sess.handlers), before+2)
	}
	ready := sess.handlers[before].(func(*discordgo.Session, *discordgo.Ready))
	ready(nil, &discordgo.Ready{User: &discordgo.User{ID: testBot}})

	if len(sess.commands) != 1 {
		t.Fatalf("commands = %d, want 1", len(sess.commands))
	}
	cmd := sess.commands[0]
	if cmd.Name != "panel" {
		t.Errorf("command = %q, want panel", cmd.Name)
	}
	if cmd.DefaultMemberPermissions == nil || *cmd.DefaultMemberPermissions != discordgo.PermissionManageChannels {
		t.Errorf("default permissions = %v, want manage channels", cmd.DefaultMemberPermissions)
	}
}

func TestOpenButton_DefersThenReportsChannel(t *testing.T) {
	b, life, sess := newTestBot(t)
	b.handleInteraction(buttonPress(openButtonID, member("U1", 0)))

	if len(life.calls) != 1 || life.calls[0] != "open" {
		t.Fatalf("calls = %v, want [open]", life.calls)
	}
	if life.actors[0].ID != "U1" || life.actors[0].IsStaff || life.actors[0].IsAdmin {
		t.Errorf("actor = %+v", life.actors[0])
	}
	if sess.responses[0].Type != discordgo.InteractionResponseDeferredChannelMessageWithSource {
		t.Errorf("response type = %v, want deferred", sess.responses[0].Type)
	}
	if got := lastContent(sess); got != "🎫 Ticket created: <#C42>" {
		t.Errorf("followup = %q", got)
	}
}

func TestOpenButton_ExistingTicket(t *testing.T) {
	b, life, sess := newTestBot(t)
	life.openErr = &ticket.ConflictError{Kind: ticket.ConflictOpenTicket, ChannelID: "C3", UserID: "U1"}
	b.handleInteraction(buttonPress(openButtonID, member("U1", 0)))

	if got := lastContent(sess); got != "You already have a ticket: <#C3>" {
		t.Errorf("followup = %q", got)
	}
}

func TestButtons_OutsideGuild(t *testing.T) {
	b, life, sess := newTestBot(t)
	i := buttonPress(openButtonID, nil)
	i.GuildID = ""
	i.User = &discordgo.User{ID: "U1"}
	b.handleInteraction(i)

	if len(life.calls) != 0 {
		t.Errorf("engine called from DM: %v", life.calls)
	}
	if got := lastContent(sess); got != "This only works in a server." {
		t.Errorf("reply = %q", got)
	}
	if sess.responses[0].Data.Flags != discordgo.MessageFlagsEphemeral {
		t.Error("reply should be ephemeral")
	}
}

func TestClaimButton_UpdatesWelcomeEmbed(t *testing.T) {
	b, life, sess := newTestBot(t)
	b.handleInteraction(buttonPress(claimButtonID, member("S1", 0, "R_SUPPORT")))

	if life.calls[0] != "claim C7" {
		t.Fatalf("calls = %v", life.calls)
	}
	if !life.actors[0].IsStaff {
		t.Error("support role holder should be staff")
	}
	if got := lastContent(sess); got != "✅ Ticket claimed." {
		t.Errorf("reply = %q", got)
	}
	if len(sess.edits) != 1 {
		t.Fatalf("edits = %d, want 1", len(sess.edits))
	}
	edit := sess.edits[0]
	if edit.ID != "WELCOME" || edit.Channel != "C7" {
		t.Errorf("edited %s/%s, want C7/WELCOME", edit.Channel, edit.ID)
	}
	embed := (*edit.Embeds)[0]
	if embed.Title != "🎫 Support Ticket #7" {
		t.Errorf("title = %q, want original title kept", embed.Title)
	}
	last := embed.Fields[len(embed.Fields)-1]
	if last.Name != "Claimed by" || last.Value != "<@S1>" {
		t.Errorf("claimed field = %+v", last)
	}
}

func TestClaimButton_Rejected(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not staff", &ticket.AuthorizationError{Action: "claim tickets"}, "Only support staff can claim tickets."},
		{"already claimed", &ticket.ConflictError{Kind: ticket.ConflictAlreadyClaimed, UserID: "S2"}, "This ticket is already claimed by <@S2>."},
		{"no record", ticket.ErrTicketNotFound, "Ticket data not found."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, life, sess := newTestBot(t)
			life.claimErr = tt.err
			b.handleInteraction(buttonPress(claimButtonID, member("U1", 0)))
			if got := lastContent(sess); got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
			if len(sess.edits) != 0 {
				t.Error("embed edited after rejected claim")
			}
		})
	}
}

func TestCloseButton_AcknowledgesThenCloses(t *testing.T) {
	b, life, sess := newTestBot(t)
	b.handleInteraction(buttonPress(closeButtonID, member("U1", 0)))

	want := []string{"check C7", "close C7"}
	if strings.Join(life.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", life.calls, want)
	}
	if got := sess.responses[0].Data.Content; got != "Closing ticket in 3 seconds..." {
		t.Errorf("ack = %q", got)
	}
	if len(sess.followups) != 0 {
		t.Errorf("unexpected followups: %d", len(sess.followups))
	}
}

func TestCloseButton_TranscriptErrorReported(t *testing.T) {
	b, life, sess := newTestBot(t)
	life.closeRes = &ticket.CloseResult{TranscriptErr: errors.New("history unavailable")}
	b.handleInteraction(buttonPress(closeButtonID, member("S1", 0, "R_SUPPORT")))

	if got := lastContent(sess); got != "Transcript error: history unavailable" {
		t.Errorf("followup = %q", got)
	}
}

func TestCloseButton_ClaimedByOther(t *testing.T) {
	b, life, sess := newTestBot(t)
	life.checkErr = &ticket.ConflictError{Kind: ticket.ConflictClaimedByOther, UserID: "S1"}
	b.handleInteraction(buttonPress(closeButtonID, member("S2", 0, "R_SUPPORT")))

	if len(life.calls) != 1 {
		t.Errorf("calls = %v, want only the check", life.calls)
	}
	want := "This ticket is claimed by <@S1>. Only they (or an admin) can close it."
	if got := lastContent(sess); got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
}

func TestPanelCommand(t *testing.T) {
	panel := func(m *discordgo.Member) *discordgo.Interaction {
		return &discordgo.Interaction{
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   testGuild,
			ChannelID: "HELP",
			Member:    m,
			Data:      discordgo.ApplicationCommandInteractionData{Name: "panel"},
		}
	}

	t.Run("allowed", func(t *testing.T) {
		b, _, sess := newTestBot(t)
		b.handleInteraction(panel(member("A1", discordgo.PermissionManageChannels)))

		posted := sess.sentTo("HELP")
		if len(posted) != 1 {
			t.Fatalf("panel posts = %d, want 1", len(posted))
		}
		row := posted[0].data.Components[0].(discordgo.ActionsRow)
		if row.Components[0].(discordgo.Button).CustomID != openButtonID {
			t.Error("panel missing open button")
		}
		if got := lastContent(sess); got != "✅ Panel posted." {
			t.Errorf("reply = %q", got)
		}
	})

	t.Run("denied", func(t *testing.T) {
		b, _, sess := newTestBot(t)
		b.handleInteraction(panel(member("U1", 0, "R_SUPPORT")))
		if len(sess.sentTo("HELP")) != 0 {
			t.Error("panel posted without permission")
		}
		if got := lastContent(sess); got != "You don't have permission to use this." {
			t.Errorf("reply = %q", got)
		}
	})
}

func TestActorFrom_AdminFlags(t *testing.T) {
	b, _, _ := newTestBot(t)
	tests := []struct {
		perms int64
		admin bool
	}{
		{0, false},
		{discordgo.PermissionManageChannels, true},
		{discordgo.PermissionAdministrator, true},
		{discordgo.PermissionSendMessages, false},
	}
	for _, tt := range tests {
		actor, err := b.actorFrom(buttonPress(openButtonID, member("U1", tt.perms)))
		if err != nil {
			t.Fatalf("actorFrom: %v", err)
		}
		if actor.IsAdmin != tt.admin {
			t.Errorf("perms %d: IsAdmin = %v, want %v", tt.perms, actor.IsAdmin, tt.admin)
		}
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&ticket.ValidationError{Reason: "ticket category is not set correctly"}, "Ticket category is not set correctly."},
		{&ticket.ConflictError{Kind: ticket.ConflictInProgress}, "That ticket is busy, try again in a moment."},
		{&ticket.AuthorizationError{Action: "close this ticket"}, "You don't have permission to close this ticket."},
		{&ticket.AdapterError{Op: "create channel", Err: errors.New("403")}, "Something went wrong, please try again later."},
	}
	for _, tt := range tests {
		if got := userMessage(tt.err); got != tt.want {
			t.Errorf("userMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
