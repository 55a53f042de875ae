package transcript

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/ticketbooth/internal/ticket"
)

type fakeSource struct {
	msgs     []Message
	err      error
	gotLimit int
	gotID    string
}

func (f *fakeSource) History(ctx context.Context, channelID string, limit int) ([]Message, error) {
	f.gotID = channelID
	f.gotLimit = limit
	return f.msgs, f.err
}

func TestExport_RendersMessagesOldestFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{msgs: []Message{
		{ID: "2", AuthorID: "200", AuthorName: "sam", Content: "On it **now**", Timestamp: base.Add(time.Minute)},
		{ID: "1", AuthorID: "100", AuthorName: "alice", Content: "My order is missing", Timestamp: base},
	}}
	e := NewExporter(src)
	e.now = func() time.Time { return base.Add(time.Hour) }

	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	doc, err := e.Export(context.Background(), ticket.Channel{ID: "900", Name: "ticket-0001"}, 500, loc)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	if src.gotID != "900" || src.gotLimit != 500 {
		t.Errorf("History called with (%q, %d), want (900, 500)", src.gotID, src.gotLimit)
	}
	if doc.Filename != "transcript-ticket-0001.html" {
		t.Errorf("Filename = %q", doc.Filename)
	}
	if !strings.HasPrefix(doc.ContentType, "text/html") {
		t.Errorf("ContentType = %q", doc.ContentType)
	}

	html := string(doc.Data)
	first := strings.Index(html, "My order is missing")
	second := strings.Index(html, "On it")
	if first < 0 || second < 0 || first > second {
		t.Errorf("messages missing or out of order (first=%d, second=%d)", first, second)
	}
	if !strings.Contains(html, "<strong>now</strong>") {
		t.Error("markdown not rendered")
	}
	if !strings.Contains(html, "#ticket-0001") {
		t.Error("channel name missing from header")
	}
	if !strings.Contains(html, "2 messages") {
		t.Error("message count missing")
	}
	if !strings.Contains(html, "Europe/London") {
		t.Error("timezone missing")
	}
}

func TestExport_EscapesRawHTML(t *testing.T) {
	src := &fakeSource{msgs: []Message{
		{ID: "1", AuthorName: "<b>eve</b>", Content: "<script>alert(1)</script>", Timestamp: time.Now()},
	}}
	doc, err := NewExporter(src).Export(context.Background(), ticket.Channel{ID: "1", Name: "ticket-0002"}, 10, nil)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	html := string(doc.Data)
	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Error("raw script tag passed through")
	}
	if strings.Contains(html, "<b>eve</b>") {
		t.Error("author name not escaped")
	}
}

func TestExport_Attachments(t *testing.T) {
	src := &fakeSource{msgs: []Message{{
		ID: "1", AuthorName: "alice", Timestamp: time.Now(),
		Attachments: []Attachment{{Filename: "receipt.png", URL: "https://cdn.example/receipt.png"}},
	}}}
	doc, err := NewExporter(src).Export(context.Background(), ticket.Channel{ID: "1", Name: "ticket-0003"}, 10, time.UTC)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.Contains(string(doc.Data), `href="https://cdn.example/receipt.png"`) {
		t.Error("attachment link missing")
	}
}

func TestExport_SourceError(t *testing.T) {
	src := &fakeSource{err: errors.New("missing access")}
	_, err := NewExporter(src).Export(context.Background(), ticket.Channel{ID: "1", Name: "ticket-0004"}, 10, time.UTC)
	if err == nil || !strings.Contains(err.Error(), "missing access") {
		t.Fatalf("error = %v, want wrapped source error", err)
	}
}

func TestArchive_WritesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "transcripts")
	a := NewArchive(dir)
	doc := &ticket.Document{Data: []byte("<html>hi</html>")}

	path, err := a.Archive(context.Background(), "ticket-0007", doc)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if path != filepath.Join(dir, "transcript-ticket-0007.html") {
		t.Errorf("path = %q", path)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "<html>hi</html>" {
		t.Errorf("content = %q", got)
	}
}

func TestArchive_StripsPathComponents(t *testing.T) {
	dir := t.TempDir()
	path, err := NewArchive(dir).Archive(context.Background(), "../../etc/ticket-0001", &ticket.Document{})
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("path = %q escaped %q", path, dir)
	}
}
