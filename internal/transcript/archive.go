package transcript

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zulandar/ticketbooth/internal/ticket"
)

// Archive writes transcripts into a directory. It implements ticket.Archiver.
type Archive struct {
	dir string
}

// NewArchive returns an Archive rooted at dir. The directory is created on
// first use.
func NewArchive(dir string) *Archive {
	return &Archive{dir: dir}
}

// Archive writes doc as transcript-<channelName>.html and returns its path.
func (a *Archive) Archive(ctx context.Context, channelName string, doc *ticket.Document) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("transcript: create %s: %w", a.dir, err)
	}
	path := filepath.Join(a.dir, Filename(filepath.Base(channelName)))
	if err := os.WriteFile(path, doc.Data, 0o644); err != nil {
		return "", fmt.Errorf("transcript: write %s: %w", path, err)
	}
	return path, nil
}
