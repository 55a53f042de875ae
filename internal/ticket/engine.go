package ticket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/ticketbooth/internal/models"
	"github.com/zulandar/ticketbooth/internal/store"
	"go.uber.org/zap"
)

// DefaultMessageLimit caps how many messages a transcript covers.
const DefaultMessageLimit = 500

// Engine runs the ticket state machine.
type Engine struct {
	store       *store.Store
	seq         *Sequencer
	channels    Provisioner
	transcripts Transcriber
	notifier    Notifier
	archiver    Archiver

	categoryID    string
	supportRoleID string
	messageLimit  int
	location      *time.Location
	closeDelay    time.Duration

	log   *zap.Logger
	now   func() time.Time
	sleep func(time.Duration)

	mu      sync.Mutex
	opening map[string]struct{} // user IDs with an Open in flight
	closing map[string]struct{} // channel IDs with a Close in flight
}

// EngineOpts holds parameters for creating an Engine.
type EngineOpts struct {
	Store       *store.Store
	Provisioner Provisioner
	Transcriber Transcriber
	Notifier    Notifier
	Archiver    Archiver // optional; nil disables transcript archival

	CategoryID    string
	SupportRoleID string
	MessageLimit  int            // defaults to DefaultMessageLimit
	Location      *time.Location // transcript timezone; defaults to UTC
	CloseDelay    time.Duration  // pause before deleting a closed channel

	Logger *zap.Logger
	// For testing.
	Now   func() time.Time
	Sleep func(time.Duration)
}

// NewEngine creates an Engine with the given options.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("ticket: store is required")
	}
	if opts.Provisioner == nil {
		return nil, fmt.Errorf("ticket: provisioner is required")
	}
	if opts.Transcriber == nil {
		return nil, fmt.Errorf("ticket: transcriber is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("ticket: notifier is required")
	}
	if opts.CategoryID == "" {
		return nil, fmt.Errorf("ticket: category ID is required")
	}

	e := &Engine{
		store:         opts.Store,
		seq:           NewSequencer(opts.Store),
		channels:      opts.Provisioner,
		transcripts:   opts.Transcriber,
		notifier:      opts.Notifier,
		archiver:      opts.Archiver,
		categoryID:    opts.CategoryID,
		supportRoleID: opts.SupportRoleID,
		messageLimit:  opts.MessageLimit,
		location:      opts.Location,
		closeDelay:    opts.CloseDelay,
		log:           opts.Logger,
		now:           opts.Now,
		sleep:         opts.Sleep,
		opening:       make(map[string]struct{}),
		closing:       make(map[string]struct{}),
	}
	if e.messageLimit <= 0 {
		e.messageLimit = DefaultMessageLimit
	}
	if e.location == nil {
		e.location = time.UTC
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.sleep == nil {
		e.sleep = time.Sleep
	}
	return e, nil
}

// OpenResult describes a newly opened ticket.
type OpenResult struct {
	Ticket  models.Ticket
	Channel Channel
}

// Open creates a ticket for actor. A user whose indexed ticket channel still
// exists gets a ConflictError naming it; a stale index entry (channel gone
// from the platform) is replaced.
//
// If channel creation fails the allocated number stays consumed.
func (e *Engine) Open(ctx context.Context, actor Actor) (*OpenResult, error) {
	if actor.ID == "" {
		return nil, &ValidationError{Reason: "missing user"}
	}
	if !e.begin(e.opening, actor.ID) {
		return nil, &ConflictError{Kind: ConflictInProgress, UserID: actor.ID}
	}
	defer e.end(e.opening, actor.ID)
	ctx = context.WithoutCancel(ctx)

	if err := e.channels.CheckCategory(ctx, e.categoryID); err != nil {
		return nil, &ValidationError{Reason: "ticket category is not set correctly", Err: err}
	}

	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	stale := ""
	if existing, ok := snap.OpenTicketsByUser[actor.ID]; ok {
		exists, err := e.channels.ChannelExists(ctx, existing)
		if err != nil {
			// Unknown is treated as present so a flaky lookup cannot yield a second ticket.
			e.log.Warn("check existing ticket channel", zap.String("channel", existing), zap.Error(err))
			exists = true
		}
		if exists {
			return nil, &ConflictError{Kind: ConflictOpenTicket, ChannelID: existing, UserID: actor.ID}
		}
		stale = existing
	}

	number, err := e.seq.Next(ctx)
	if err != nil {
		return nil, err
	}

	name := models.FormatTicketName(number)
	ch, err := e.channels.CreatePrivateChannel(ctx, ChannelSpec{
		Name:     name,
		ParentID: e.categoryID,
		Access:   e.accessFor(actor),
		Reason:   fmt.Sprintf("Ticket #%d opened by %s (%s)", number, actor.Name, actor.ID),
	})
	if err != nil {
		e.log.Warn("create ticket channel", zap.Int("ticket", number), zap.Error(err))
		return nil, &AdapterError{Op: "create channel", Err: err}
	}
	if ch.Name == "" {
		ch.Name = name
	}

	rec := models.Ticket{
		TicketNumber: number,
		ChannelID:    ch.ID,
		OpenerID:     actor.ID,
		Status:       models.StatusOpen,
	}
	err = e.store.Update(ctx, func(st *models.State) error {
		if cur, ok := st.OpenTicketsByUser[actor.ID]; ok && cur != stale {
			return &ConflictError{Kind: ConflictOpenTicket, ChannelID: cur, UserID: actor.ID}
		}
		if stale != "" {
			st.Remove(stale)
			delete(st.OpenTicketsByUser, actor.ID)
		}
		t := rec
		st.Insert(&t)
		return nil
	})
	if err != nil {
		if delErr := e.channels.DeleteChannel(ctx, ch.ID, "ticket could not be recorded"); delErr != nil {
			e.log.Warn("delete unrecorded ticket channel", zap.String("channel", ch.ID), zap.Error(delErr))
		}
		return nil, err
	}

	e.log.Info("ticket opened",
		zap.Int("ticket", number), zap.String("channel", ch.ID), zap.String("opener", actor.ID))
	if stale != "" {
		e.log.Info("replaced stale ticket reference", zap.String("channel", stale), zap.String("opener", actor.ID))
	}

	e.notify(ctx, Event{Kind: EventOpened, Ticket: rec, Channel: ch, Actor: actor})
	return &OpenResult{Ticket: rec, Channel: ch}, nil
}

// Claim assigns the ticket in channelID to actor. The first claim wins;
// later claims are rejected with a ConflictError naming the claimer.
func (e *Engine) Claim(ctx context.Context, channelID string, actor Actor) (*models.Ticket, error) {
	var claimed models.Ticket
	err := e.store.Update(ctx, func(st *models.State) error {
		// Checked under the store lock so a Close that has started sees
		// either the committed claim or none at all.
		if e.inFlight(e.closing, channelID) {
			return &ConflictError{Kind: ConflictInProgress, ChannelID: channelID}
		}
		t, ok := st.TicketsByChannel[channelID]
		if !ok {
			return ErrTicketNotFound
		}
		if !actor.IsStaff {
			return &AuthorizationError{Action: "claim tickets"}
		}
		if t.Claimed() {
			return &ConflictError{Kind: ConflictAlreadyClaimed, ChannelID: channelID, UserID: t.ClaimedByID()}
		}
		id := actor.ID
		t.ClaimedBy = &id
		t.Status = models.StatusClaimed
		claimed = *t
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("ticket claimed",
		zap.Int("ticket", claimed.TicketNumber), zap.String("channel", channelID), zap.String("staff", actor.ID))
	e.notify(ctx, Event{
		Kind:    EventClaimed,
		Ticket:  claimed,
		Channel: Channel{ID: channelID, Name: claimed.ChannelName()},
		Actor:   actor,
	})
	return &claimed, nil
}

// CloseResult reports the best-effort steps of a close. A non-nil error
// field means that step failed without stopping the close.
type CloseResult struct {
	Ticket           models.Ticket
	Transcript       *Document
	TranscriptErr    error
	ArchivePath      string
	ArchiveErr       error
	NotifyErr        error
	DirectMessageErr error
	DeleteErr        error
}

// Close exports the transcript, delivers the closing notices, removes the
// ticket record and finally deletes the channel after the close delay.
//
// Only store failures abort the sequence. The record is removed before the
// channel is deleted, so a crash in between leaves an orphan channel rather
// than an orphan record.
func (e *Engine) Close(ctx context.Context, channelID string, actor Actor) (*CloseResult, error) {
	if !e.begin(e.closing, channelID) {
		return nil, &ConflictError{Kind: ConflictInProgress, ChannelID: channelID}
	}
	defer e.end(e.closing, channelID)

	t, err := e.closable(ctx, channelID, actor)
	if err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	ch := Channel{ID: channelID, Name: t.ChannelName()}
	res := &CloseResult{Ticket: *t}
	log := e.log.With(zap.Int("ticket", t.TicketNumber), zap.String("channel", channelID))

	doc, err := e.transcripts.Export(ctx, ch, e.messageLimit, e.location)
	if err != nil {
		log.Warn("export transcript", zap.Error(err))
		res.TranscriptErr = err
		doc = nil
	}
	res.Transcript = doc

	if doc != nil && e.archiver != nil {
		path, err := e.archiver.Archive(ctx, ch.Name, doc)
		if err != nil {
			log.Warn("archive transcript", zap.Error(err))
			res.ArchiveErr = err
		} else {
			res.ArchivePath = path
		}
	}

	evt := Event{Kind: EventClosed, Ticket: *t, Channel: ch, Actor: actor, Transcript: doc, Time: e.now()}
	if err := e.notifier.Notify(ctx, evt); err != nil {
		log.Warn("post close notice", zap.Error(err))
		res.NotifyErr = err
	}
	if err := e.notifier.DirectMessage(ctx, t.OpenerID, evt); err != nil {
		log.Warn("direct message opener", zap.String("opener", t.OpenerID), zap.Error(err))
		res.DirectMessageErr = err
		e.notify(ctx, Event{Kind: EventDeliveryFailed, Ticket: *t, Channel: ch, Actor: actor, Err: err})
	}

	if err := e.store.Update(ctx, func(st *models.State) error {
		cur, ok := st.TicketsByChannel[channelID]
		if !ok {
			return nil
		}
		if err := authorizeClose(cur, actor); err != nil {
			return err
		}
		st.Remove(channelID)
		return nil
	}); err != nil {
		log.Warn("remove ticket record", zap.Error(err))
		return res, err
	}
	log.Info("ticket closed", zap.String("closed_by", actor.ID))

	e.sleep(e.closeDelay)
	reason := fmt.Sprintf("Ticket closed by %s (%s)", actor.Name, actor.ID)
	if err := e.channels.DeleteChannel(ctx, channelID, reason); err != nil {
		log.Warn("delete ticket channel", zap.Error(err))
		res.DeleteErr = err
	}
	return res, nil
}

// CheckClose reports whether actor may close the ticket in channelID right
// now, without changing anything. Callers use it to acknowledge a close
// request before the slow part of Close runs.
func (e *Engine) CheckClose(ctx context.Context, channelID string, actor Actor) (*models.Ticket, error) {
	if e.inFlight(e.closing, channelID) {
		return nil, &ConflictError{Kind: ConflictInProgress, ChannelID: channelID}
	}
	return e.closable(ctx, channelID, actor)
}

func (e *Engine) closable(ctx context.Context, channelID string, actor Actor) (*models.Ticket, error) {
	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	t, ok := snap.TicketsByChannel[channelID]
	if !ok {
		return nil, ErrTicketNotFound
	}
	if err := authorizeClose(t, actor); err != nil {
		return nil, err
	}
	return t, nil
}

// Tickets returns the active tickets ordered by number.
func (e *Engine) Tickets(ctx context.Context) ([]models.Ticket, error) {
	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return SortedTickets(snap), nil
}

// authorizeClose: a claimed ticket may only be closed by its claimer or an
// admin. An unclaimed ticket may be closed by anyone who can reach it.
func authorizeClose(t *models.Ticket, actor Actor) error {
	if t.Claimed() && t.ClaimedByID() != actor.ID && !actor.IsAdmin {
		return &ConflictError{Kind: ConflictClaimedByOther, ChannelID: t.ChannelID, UserID: t.ClaimedByID()}
	}
	return nil
}

func (e *Engine) accessFor(actor Actor) AccessList {
	acl := AccessList{DenyEveryone: true, UserIDs: []string{actor.ID}}
	if e.supportRoleID != "" {
		acl.RoleIDs = []string{e.supportRoleID}
	}
	return acl
}

func (e *Engine) notify(ctx context.Context, evt Event) {
	if evt.Time.IsZero() {
		evt.Time = e.now()
	}
	if err := e.notifier.Notify(ctx, evt); err != nil {
		e.log.Warn("notify", zap.String("event", string(evt.Kind)),
			zap.String("channel", evt.Channel.ID), zap.Error(err))
	}
}

func (e *Engine) begin(set map[string]struct{}, key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := set[key]; busy {
		return false
	}
	set[key] = struct{}{}
	return true
}

func (e *Engine) end(set map[string]struct{}, key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(set, key)
}

func (e *Engine) inFlight(set map[string]struct{}, key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, busy := set[key]
	return busy
}
