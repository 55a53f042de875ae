// Package discord connects the ticket engine to Discord using the Gateway
// WebSocket. The Adapter provisions ticket channels, delivers notices and
// fetches history for transcripts; the Bot routes slash commands and button
// presses to the engine.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
	// defaultPageSize is the number of messages fetched per history page.
	defaultPageSize = 100
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	Channel(channelID string) (*discordgo.Channel, error)
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ApplicationCommandCreate(appID string, guildID string, cmd *discordgo.ApplicationCommand, options ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error)
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}

// Channel consults the gateway state cache before falling back to REST.
func (r *realSession) Channel(channelID string) (*discordgo.Channel, error) {
	if ch, err := r.s.State.Channel(channelID); err == nil {
		return ch, nil
	}
	return r.s.Channel(channelID)
}
func (r *realSession) GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.GuildChannelCreateComplex(guildID, data, options...)
}
func (r *realSession) ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.ChannelDelete(channelID, options...)
}
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageEditComplex(m, options...)
}
func (r *realSession) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	return r.s.ChannelMessages(channelID, limit, beforeID, afterID, aroundID, options...)
}
func (r *realSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.UserChannelCreate(recipientID, options...)
}
func (r *realSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	return r.s.InteractionRespond(interaction, resp, options...)
}
func (r *realSession) FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.FollowupMessageCreate(interaction, wait, data, options...)
}
func (r *realSession) ApplicationCommandCreate(appID string, guildID string, cmd *discordgo.ApplicationCommand, options ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error) {
	return r.s.ApplicationCommandCreate(appID, guildID, cmd, options...)
}

// Adapter implements ticket.Provisioner, ticket.Notifier and
// transcript.Source for one Discord guild.
type Adapter struct {
	sess         session
	botToken     string
	guildID      string
	logChannelID string
	log          *zap.Logger

	mu          sync.Mutex
	connected   bool
	closed      bool
	botUserID   string
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken     string // Discord bot token
	GuildID      string // guild hosting the ticket channels
	LogChannelID string // channel receiving lifecycle notices
	Logger       *zap.Logger
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.GuildID == "" {
		return nil, fmt.Errorf("discord: guild ID is required")
	}
	if opts.LogChannelID == "" {
		return nil, fmt.Errorf("discord: log channel ID is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	a := &Adapter{
		sess:         opts.Session,
		botToken:     opts.BotToken,
		guildID:      opts.GuildID,
		logChannelID: opts.LogChannelID,
		log:          log,
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
	}
	return a, nil
}

// Connect establishes the Discord Gateway WebSocket connection. Handlers
// registered with AddHandler before Connect are attached to the session.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if err := a.ensureSessionLocked(); err != nil {
		return err
	}

	// Capture the bot user ID on connect/reconnect.
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.mu.Unlock()
		a.log.Info("connected", zap.String("user", r.User.Username), zap.String("id", r.User.ID))
	})
	a.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		a.log.Warn("gateway disconnected, discordgo will auto-reconnect")
	})
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Resumed) {
		a.log.Info("gateway session resumed")
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	a.connected = true
	return nil
}

// AddHandler registers a discordgo event handler, creating the session if
// needed.
func (a *Adapter) AddHandler(handler interface{}) (func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensureSessionLocked(); err != nil {
		return nil, err
	}
	return a.sess.AddHandler(handler), nil
}

func (a *Adapter) ensureSessionLocked() error {
	if a.sess != nil {
		return nil
	}
	dg, err := discordgo.New("Bot " + a.botToken)
	if err != nil {
		return fmt.Errorf("discord: create session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds
	a.sess = &realSession{s: dg}
	return nil
}

// Close gracefully shuts down the gateway connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's user ID (available after the Ready event).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// SetBotUserID sets the bot user ID.
func (a *Adapter) SetBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		if !isStatus(err, http.StatusTooManyRequests) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		a.log.Warn("rate limited, retrying",
			zap.Int("attempt", attempt+1), zap.Int("max", maxRetries), zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

// isStatus reports whether err is a Discord REST error with the given HTTP status.
func isStatus(err error, status int) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return false
	}
	return restErr.Response.StatusCode == status
}

// isCode reports whether err is a Discord REST error with the given JSON error code.
func isCode(err error, code int) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Message == nil {
		return false
	}
	return restErr.Message.Code == code
}
