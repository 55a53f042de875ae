package slackmirror

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/ticketbooth/internal/models"
	"github.com/zulandar/ticketbooth/internal/ticket"
)

type mockSlackClient struct {
	mu      sync.Mutex
	posts   []string
	postErr error
	calls   int
}

func (m *mockSlackClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.postErr != nil {
		return "", "", m.postErr
	}
	m.posts = append(m.posts, channelID)
	return channelID, "1700000000.000100", nil
}

func newTestMirror(t *testing.T) (*Mirror, *ticket.MockPlatform, *mockSlackClient) {
	t.Helper()
	inner := ticket.NewMockPlatform()
	client := &mockSlackClient{}
	m, err := New(Opts{Next: inner, ChannelID: "C_SUPPORT", Client: client})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, inner, client
}

func TestNew_Validation(t *testing.T) {
	inner := ticket.NewMockPlatform()
	tests := []struct {
		name string
		opts Opts
		want string
	}{
		{"no next", Opts{ChannelID: "C", BotToken: "xoxb"}, "next notifier"},
		{"no channel", Opts{Next: inner, BotToken: "xoxb"}, "channel"},
		{"no token", Opts{Next: inner, ChannelID: "C"}, "bot token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want to mention %q", err, tt.want)
			}
		})
	}

	if _, err := New(Opts{Next: inner, ChannelID: "C", BotToken: "xoxb-test"}); err != nil {
		t.Errorf("New with token: %v", err)
	}
}

func TestNotify_ForwardsAndMirrors(t *testing.T) {
	m, inner, client := newTestMirror(t)
	evt := ticket.Event{Kind: ticket.EventOpened, Ticket: models.Ticket{TicketNumber: 3, OpenerID: "U1"}}

	if err := m.Notify(context.Background(), evt); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(inner.Events()) != 1 {
		t.Errorf("inner events = %d, want 1", len(inner.Events()))
	}
	if len(client.posts) != 1 || client.posts[0] != "C_SUPPORT" {
		t.Errorf("posts = %v, want [C_SUPPORT]", client.posts)
	}
}

func TestNotify_InnerErrorReturnedSlackErrorSwallowed(t *testing.T) {
	m, inner, client := newTestMirror(t)
	inner.NotifyErr = errors.New("discord down")
	client.postErr = errors.New("invalid_auth")

	err := m.Notify(context.Background(), ticket.Event{Kind: ticket.EventClaimed})
	if err == nil || err.Error() != "discord down" {
		t.Errorf("error = %v, want inner error", err)
	}
	if client.calls != 1 {
		t.Errorf("slack calls = %d, want 1 (no retry on non rate-limit error)", client.calls)
	}

	inner.NotifyErr = nil
	if err := m.Notify(context.Background(), ticket.Event{Kind: ticket.EventClaimed}); err != nil {
		t.Errorf("slack failure leaked: %v", err)
	}
}

func TestDirectMessage_PassesThrough(t *testing.T) {
	m, inner, client := newTestMirror(t)
	if err := m.DirectMessage(context.Background(), "U1", ticket.Event{Kind: ticket.EventClosed}); err != nil {
		t.Fatalf("DirectMessage: %v", err)
	}
	if len(inner.DMs("U1")) != 1 {
		t.Errorf("inner dms = %d, want 1", len(inner.DMs("U1")))
	}
	if client.calls != 0 {
		t.Errorf("slack calls = %d, want 0", client.calls)
	}
}

func TestEventToAttachment(t *testing.T) {
	claimer := "S1"
	tk := models.Ticket{TicketNumber: 12, OpenerID: "U1", ClaimedBy: &claimer, Status: models.StatusClaimed}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	att := eventToAttachment(ticket.Event{
		Kind:       ticket.EventClosed,
		Ticket:     tk,
		Actor:      ticket.Actor{ID: "S1"},
		Transcript: &ticket.Document{},
		Time:       at,
	})
	if att.Title != "Ticket closed" {
		t.Errorf("title = %q", att.Title)
	}
	if att.Fallback != "Ticket closed: ticket-0012" {
		t.Errorf("fallback = %q", att.Fallback)
	}
	if string(att.Ts) != "1714564800" {
		t.Errorf("ts = %q, want 1714564800", att.Ts)
	}
	fields := map[string]string{}
	for _, f := range att.Fields {
		fields[f.Title] = f.Value
	}
	if fields["Closed by"] != "S1" || fields["Transcript"] != "attached in Discord" {
		t.Errorf("fields = %v", fields)
	}

	failed := eventToAttachment(ticket.Event{Kind: ticket.EventDeliveryFailed, Ticket: tk, Err: ticket.ErrUnreachable})
	if failed.Text != ticket.ErrUnreachable.Error() {
		t.Errorf("text = %q", failed.Text)
	}
}

func TestRetryOnRateLimit_HonoursRetryAfter(t *testing.T) {
	calls := 0
	err := retryOnRateLimit(context.Background(), func() error {
		calls++
		if calls == 1 {
			return &slackapi.RateLimitedError{RetryAfter: time.Millisecond}
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Errorf("err = %v, calls = %d; want nil after 2 calls", err, calls)
	}
}
