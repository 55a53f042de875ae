package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/ticketbooth/internal/models"
)

// legacyDoc is a tickets.json in the established on-disk layout.
const legacyDoc = `{
    "last_ticket_number": 3,
    "open_tickets_by_user": {
        "111": "900",
        "222": "901"
    },
    "tickets_by_channel": {
        "900": {
            "ticket_number": 2,
            "channel_id": "900",
            "opener_id": "111",
            "claimed_by": null,
            "status": "open"
        },
        "901": {
            "ticket_number": 3,
            "channel_id": "901",
            "opener_id": "222",
            "claimed_by": "555",
            "status": "claimed"
        }
    }
}
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tickets.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileBackend_MissingFileIsZeroState(t *testing.T) {
	b := NewFileBackend(filepath.Join(t.TempDir(), "absent.json"))
	st, err := b.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.LastTicketNumber != 0 || len(st.OpenTicketsByUser) != 0 || len(st.TicketsByChannel) != 0 {
		t.Errorf("state = %+v, want zero", st)
	}
	if st.OpenTicketsByUser == nil || st.TicketsByChannel == nil {
		t.Error("maps must be non-nil")
	}
}

func TestFileBackend_LoadLegacyDocument(t *testing.T) {
	b := NewFileBackend(writeFile(t, legacyDoc))
	st, err := b.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.LastTicketNumber != 3 {
		t.Errorf("LastTicketNumber = %d, want 3", st.LastTicketNumber)
	}
	open := st.TicketsByChannel["900"]
	if open == nil || open.Claimed() || open.Status != models.StatusOpen {
		t.Errorf("ticket 900 = %+v, want unclaimed open", open)
	}
	claimed := st.TicketsByChannel["901"]
	if claimed == nil || claimed.ClaimedByID() != "555" || claimed.Status != models.StatusClaimed {
		t.Errorf("ticket 901 = %+v, want claimed by 555", claimed)
	}
}

func TestFileBackend_SaveLoadIsFixedPoint(t *testing.T) {
	path := writeFile(t, legacyDoc)
	b := NewFileBackend(path)
	ctx := context.Background()

	st, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := b.Save(ctx, st); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != legacyDoc {
		t.Errorf("saved document differs:\n got: %s\nwant: %s", got, legacyDoc)
	}

	// A second round trip must not change anything either.
	st2, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if err := b.Save(ctx, st2); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	again, _ := os.ReadFile(path)
	if string(again) != string(got) {
		t.Error("second round trip changed the document")
	}
}

func TestFileBackend_MissingMapsDefaulted(t *testing.T) {
	b := NewFileBackend(writeFile(t, `{"last_ticket_number": 5}`))
	st, err := b.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.LastTicketNumber != 5 {
		t.Errorf("LastTicketNumber = %d, want 5", st.LastTicketNumber)
	}
	if st.OpenTicketsByUser == nil || st.TicketsByChannel == nil {
		t.Error("maps must be defaulted")
	}
}

func TestFileBackend_CorruptDocuments(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"truncated", `{"last_ticket_number": 3, "open_tick`},
		{"empty", ""},
		{"wrong type", `{"last_ticket_number": "three"}`},
		{"bad status", `{"tickets_by_channel": {"9": {"ticket_number": 1, "channel_id": "9", "opener_id": "1", "status": "closed"}}}`},
		{"zero number", `{"tickets_by_channel": {"9": {"ticket_number": 0, "channel_id": "9", "opener_id": "1", "status": "open"}}}`},
		{"null record", `{"tickets_by_channel": {"9": null}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewFileBackend(writeFile(t, tt.content))
			_, err := b.Load(context.Background())
			var ce *CorruptError
			if !errors.As(err, &ce) {
				t.Fatalf("error = %v, want *CorruptError", err)
			}
			if !strings.Contains(ce.Error(), "corrupt state") {
				t.Errorf("message = %q", ce.Error())
			}
		})
	}
}

func TestFileBackend_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	b := NewFileBackend(filepath.Join(dir, "nested", "tickets.json"))
	if err := b.Save(context.Background(), models.NewState()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(dir, "nested"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "tickets.json" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("dir entries = %v, want [tickets.json]", names)
	}
}
