// Package slackmirror copies ticket lifecycle notices into a Slack channel
// so staff who live in Slack see tickets open and close.
package slackmirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/ticketbooth/internal/ticket"
	"go.uber.org/zap"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Mirror is a ticket.Notifier that forwards to an inner Notifier and then
// posts a summary of each notice to Slack. Slack failures are logged and
// never reported to the engine.
type Mirror struct {
	next      ticket.Notifier
	client    slackClient
	channelID string
	log       *zap.Logger
}

// Opts holds parameters for creating a Mirror.
type Opts struct {
	Next      ticket.Notifier
	BotToken  string // xoxb-... Slack bot token
	ChannelID string
	Logger    *zap.Logger
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Mirror.
func New(opts Opts) (*Mirror, error) {
	if opts.Next == nil {
		return nil, fmt.Errorf("slackmirror: next notifier is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slackmirror: channel is required")
	}
	client := opts.Client
	if client == nil {
		if opts.BotToken == "" {
			return nil, fmt.Errorf("slackmirror: bot token is required")
		}
		client = slackapi.New(opts.BotToken)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Mirror{next: opts.Next, client: client, channelID: opts.ChannelID, log: log}, nil
}

// Notify delivers evt through the inner notifier, then mirrors it.
func (m *Mirror) Notify(ctx context.Context, evt ticket.Event) error {
	err := m.next.Notify(ctx, evt)

	postErr := retryOnRateLimit(ctx, func() error {
		_, _, apiErr := m.client.PostMessage(m.channelID, buildMessageOptions(evt)...)
		return apiErr
	})
	if postErr != nil {
		m.log.Warn("mirror to slack", zap.String("event", string(evt.Kind)), zap.Error(postErr))
	}
	return err
}

// DirectMessage is not mirrored.
func (m *Mirror) DirectMessage(ctx context.Context, userID string, evt ticket.Event) error {
	return m.next.DirectMessage(ctx, userID, evt)
}

// buildMessageOptions translates a lifecycle notice into Slack MsgOptions.
func buildMessageOptions(evt ticket.Event) []slackapi.MsgOption {
	att := eventToAttachment(evt)
	return []slackapi.MsgOption{
		slackapi.MsgOptionText(att.Fallback, false),
		slackapi.MsgOptionAttachments(att),
	}
}

// eventToAttachment converts a lifecycle notice to a Slack Attachment.
func eventToAttachment(evt ticket.Event) slackapi.Attachment {
	name := evt.Channel.Name
	if name == "" {
		name = evt.Ticket.ChannelName()
	}
	att := slackapi.Attachment{
		Fields: []slackapi.AttachmentField{
			{Title: "Ticket", Value: name, Short: true},
			{Title: "Opened by", Value: evt.Ticket.OpenerID, Short: true},
		},
	}

	switch evt.Kind {
	case ticket.EventOpened:
		att.Title = "Ticket opened"
		att.Color = "#36a64f"
	case ticket.EventClaimed:
		att.Title = "Ticket claimed"
		att.Color = "#daa038"
		att.Fields = append(att.Fields, slackapi.AttachmentField{Title: "Claimed by", Value: evt.Actor.ID, Short: true})
	case ticket.EventClosed:
		att.Title = "Ticket closed"
		att.Color = "#a30200"
		transcript := "failed"
		if evt.Transcript != nil {
			transcript = "attached in Discord"
		}
		att.Fields = append(att.Fields,
			slackapi.AttachmentField{Title: "Closed by", Value: evt.Actor.ID, Short: true},
			slackapi.AttachmentField{Title: "Transcript", Value: transcript, Short: true},
		)
	case ticket.EventDeliveryFailed:
		att.Title = "Transcript DM failed"
		att.Color = "#a30200"
		if evt.Err != nil {
			att.Text = evt.Err.Error()
		}
	default:
		att.Title = string(evt.Kind)
	}
	att.Fallback = fmt.Sprintf("%s: %s", att.Title, name)
	if !evt.Time.IsZero() {
		att.Ts = json.Number(strconv.FormatInt(evt.Time.Unix(), 10))
	}
	return att
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
