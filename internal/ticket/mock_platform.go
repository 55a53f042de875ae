package ticket

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockPlatform implements Provisioner, Transcriber, Notifier and Archiver for
// testing. It records every call and lets tests inject failures.
type MockPlatform struct {
	mu sync.Mutex

	// Failure injection.
	CategoryErr error
	CreateErr   error
	DeleteErr   error
	ExistsErr   error
	ExportErr   error
	NotifyErr   error
	DMErr       error
	ArchiveErr  error

	// CreateHook, if set, runs inside CreatePrivateChannel before it returns.
	CreateHook func(spec ChannelSpec)
	// ExportHook, if set, runs inside Export before it returns.
	ExportHook func(ch Channel)

	nextID   int
	channels map[string]string // live channel ID -> name
	created  []ChannelSpec
	deleted  []string
	events   []Event
	dms      map[string][]Event
	archived map[string]*Document
}

// NewMockPlatform creates an empty MockPlatform.
func NewMockPlatform() *MockPlatform {
	return &MockPlatform{
		nextID:   1000,
		channels: make(map[string]string),
		dms:      make(map[string][]Event),
		archived: make(map[string]*Document),
	}
}

// CheckCategory returns CategoryErr.
func (m *MockPlatform) CheckCategory(ctx context.Context, categoryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CategoryErr
}

// CreatePrivateChannel records spec and returns a fresh channel.
func (m *MockPlatform) CreatePrivateChannel(ctx context.Context, spec ChannelSpec) (Channel, error) {
	m.mu.Lock()
	hook := m.CreateHook
	m.created = append(m.created, spec)
	if m.CreateErr != nil {
		err := m.CreateErr
		m.mu.Unlock()
		return Channel{}, err
	}
	m.nextID++
	id := fmt.Sprintf("%d", m.nextID)
	m.channels[id] = spec.Name
	m.mu.Unlock()

	if hook != nil {
		hook(spec)
	}
	return Channel{ID: id, Name: spec.Name}, nil
}

// DeleteChannel removes the channel unless DeleteErr is set.
func (m *MockPlatform) DeleteChannel(ctx context.Context, channelID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.channels, channelID)
	m.deleted = append(m.deleted, channelID)
	return nil
}

// ChannelExists reports whether channelID is live.
func (m *MockPlatform) ChannelExists(ctx context.Context, channelID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ExistsErr != nil {
		return false, m.ExistsErr
	}
	_, ok := m.channels[channelID]
	return ok, nil
}

// Export returns a small HTML document naming the channel.
func (m *MockPlatform) Export(ctx context.Context, ch Channel, limit int, loc *time.Location) (*Document, error) {
	m.mu.Lock()
	hook := m.ExportHook
	m.mu.Unlock()
	if hook != nil {
		hook(ch)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ExportErr != nil {
		return nil, m.ExportErr
	}
	return &Document{
		Filename:    "transcript-" + ch.Name + ".html",
		ContentType: "text/html",
		Data:        []byte("<html>" + ch.Name + "</html>"),
	}, nil
}

// Notify records evt.
func (m *MockPlatform) Notify(ctx context.Context, evt Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return m.NotifyErr
}

// DirectMessage records evt for userID unless DMErr is set.
func (m *MockPlatform) DirectMessage(ctx context.Context, userID string, evt Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DMErr != nil {
		return m.DMErr
	}
	m.dms[userID] = append(m.dms[userID], evt)
	return nil
}

// Archive records doc under channelName.
func (m *MockPlatform) Archive(ctx context.Context, channelName string, doc *Document) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ArchiveErr != nil {
		return "", m.ArchiveErr
	}
	m.archived[channelName] = doc
	return "/archive/transcript-" + channelName + ".html", nil
}

// --- Test helpers ---

// AddChannel registers a live channel, e.g. one created before the test.
func (m *MockPlatform) AddChannel(id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[id] = name
}

// RemoveChannel simulates a channel deleted outside the bot.
func (m *MockPlatform) RemoveChannel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, id)
}

// Created returns a copy of all channel creation requests.
func (m *MockPlatform) Created() []ChannelSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChannelSpec, len(m.created))
	copy(out, m.created)
	return out
}

// Deleted returns a copy of the deleted channel IDs.
func (m *MockPlatform) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.deleted))
	copy(out, m.deleted)
	return out
}

// Events returns a copy of all notified events.
func (m *MockPlatform) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// EventsOf returns the notified events of the given kind.
func (m *MockPlatform) EventsOf(kind EventKind) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// DMs returns the direct messages sent to userID.
func (m *MockPlatform) DMs(userID string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.dms[userID]))
	copy(out, m.dms[userID])
	return out
}

// Archived returns the archived document for channelName, if any.
func (m *MockPlatform) Archived(channelName string) (*Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.archived[channelName]
	return d, ok
}
