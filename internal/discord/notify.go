package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/ticketbooth/internal/ticket"
)

// Notify posts evt to the log channel. An opened ticket also gets its
// welcome message, with the claim and close buttons, inside the new channel.
func (a *Adapter) Notify(ctx context.Context, evt ticket.Event) error {
	var errs []error
	if evt.Kind == ticket.EventOpened && evt.Channel.ID != "" {
		if err := a.send(ctx, evt.Channel.ID, welcomeMessage(evt)); err != nil {
			errs = append(errs, fmt.Errorf("welcome: %w", err))
		}
	}
	if msg := logMessage(evt); msg != nil {
		if err := a.send(ctx, a.logChannelID, msg); err != nil {
			errs = append(errs, fmt.Errorf("log channel: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("discord: notify %s: %w", evt.Kind, err)
	}
	return nil
}

// DirectMessage sends the closing notice to userID. A recipient who does not
// accept direct messages yields an error wrapping ticket.ErrUnreachable.
func (a *Adapter) DirectMessage(ctx context.Context, userID string, evt ticket.Event) error {
	var dm *discordgo.Channel
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		dm, apiErr = a.sess.UserChannelCreate(userID)
		return apiErr
	})
	if err != nil {
		return dmError(userID, err)
	}
	if err := a.send(ctx, dm.ID, directMessage(evt)); err != nil {
		return dmError(userID, err)
	}
	return nil
}

func dmError(userID string, err error) error {
	if isCode(err, discordgo.ErrCodeCannotSendMessagesToThisUser) || isStatus(err, http.StatusForbidden) {
		return fmt.Errorf("discord: dm %s: %w: %v", userID, ticket.ErrUnreachable, err)
	}
	return fmt.Errorf("discord: dm %s: %w", userID, err)
}

// send posts msg to channelID. Attachment readers are rewound before each
// attempt so a rate-limited retry resends the whole file.
func (a *Adapter) send(ctx context.Context, channelID string, msg *discordgo.MessageSend) error {
	return a.retryOnRateLimit(ctx, func() error {
		for _, f := range msg.Files {
			if s, ok := f.Reader.(io.Seeker); ok {
				if _, err := s.Seek(0, io.SeekStart); err != nil {
					return err
				}
			}
		}
		_, err := a.sess.ChannelMessageSendComplex(channelID, msg)
		return err
	})
}
