// Package transcript renders a ticket channel's message history into a
// standalone HTML document and archives it to disk.
package transcript

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sort"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/zulandar/ticketbooth/internal/ticket"
)

// Message is one chat message as fetched from the platform.
type Message struct {
	ID          string
	AuthorID    string
	AuthorName  string
	Bot         bool
	Content     string
	Timestamp   time.Time
	Attachments []Attachment
}

// Attachment is a file attached to a message.
type Attachment struct {
	Filename string
	URL      string
}

// Source fetches up to limit of the most recent messages in a channel, in any order.
type Source interface {
	History(ctx context.Context, channelID string, limit int) ([]Message, error)
}

// Exporter implements ticket.Transcriber.
type Exporter struct {
	src  Source
	md   goldmark.Markdown
	tmpl *template.Template
	now  func() time.Time
}

// NewExporter returns an Exporter reading history from src.
func NewExporter(src Source) *Exporter {
	return &Exporter{
		src: src,
		md: goldmark.New(
			goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		tmpl: template.Must(template.New("transcript").Parse(pageTemplate)),
		now:  time.Now,
	}
}

type pageData struct {
	Channel     string
	GeneratedAt string
	Timezone    string
	Count       int
	Messages    []messageView
}

type messageView struct {
	Author      string
	AuthorID    string
	Bot         bool
	Time        string
	Body        template.HTML
	Attachments []Attachment
}

// Export renders the channel history, oldest message first, with timestamps
// in loc.
func (e *Exporter) Export(ctx context.Context, ch ticket.Channel, limit int, loc *time.Location) (*ticket.Document, error) {
	if loc == nil {
		loc = time.UTC
	}
	msgs, err := e.src.History(ctx, ch.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("transcript: fetch history for %s: %w", ch.ID, err)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })

	data := pageData{
		Channel:     ch.Name,
		GeneratedAt: e.now().In(loc).Format("2006-01-02 15:04:05 MST"),
		Timezone:    loc.String(),
		Count:       len(msgs),
	}
	for _, m := range msgs {
		body, err := e.renderContent(m.Content)
		if err != nil {
			return nil, fmt.Errorf("transcript: render message %s: %w", m.ID, err)
		}
		data.Messages = append(data.Messages, messageView{
			Author:      m.AuthorName,
			AuthorID:    m.AuthorID,
			Bot:         m.Bot,
			Time:        m.Timestamp.In(loc).Format("2006-01-02 15:04:05"),
			Body:        body,
			Attachments: m.Attachments,
		})
	}

	var buf bytes.Buffer
	if err := e.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("transcript: render page: %w", err)
	}
	return &ticket.Document{
		Filename:    Filename(ch.Name),
		ContentType: "text/html; charset=utf-8",
		Data:        buf.Bytes(),
	}, nil
}

// renderContent converts message markdown to HTML. Raw HTML in the source is
// escaped by goldmark's default renderer.
func (e *Exporter) renderContent(src string) (template.HTML, error) {
	if src == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := e.md.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

// Filename returns the transcript file name for a ticket channel.
func Filename(channelName string) string {
	return "transcript-" + channelName + ".html"
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Transcript - {{.Channel}}</title>
<style>
body { background: #313338; color: #dbdee1; font-family: sans-serif; margin: 0; padding: 24px; }
header { border-bottom: 1px solid #3f4147; margin-bottom: 16px; padding-bottom: 8px; }
.msg { padding: 6px 0; }
.author { font-weight: 600; color: #f2f3f5; }
.bot { background: #5865f2; border-radius: 3px; color: #fff; font-size: 10px; margin-left: 4px; padding: 1px 4px; }
.time { color: #949ba4; font-size: 12px; margin-left: 6px; }
.body p { margin: 2px 0; }
a { color: #00a8fc; }
</style>
</head>
<body>
<header>
<h1>#{{.Channel}}</h1>
<div>{{.Count}} messages &middot; exported {{.GeneratedAt}} ({{.Timezone}})</div>
</header>
{{range .Messages}}<div class="msg">
<div><span class="author" title="{{.AuthorID}}">{{.Author}}</span>{{if .Bot}}<span class="bot">BOT</span>{{end}}<span class="time">{{.Time}}</span></div>
<div class="body">{{.Body}}</div>
{{range .Attachments}}<div class="attachment"><a href="{{.URL}}">{{.Filename}}</a></div>
{{end}}</div>
{{end}}</body>
</html>
`
