// Package dashboard serves a small read-only view of the active tickets:
// an HTML page for staff, a JSON API and a server-sent event stream.
package dashboard

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/ticketbooth/internal/models"
	"go.uber.org/zap"
)

// TicketLister returns the active tickets ordered by number.
type TicketLister interface {
	Tickets(ctx context.Context) ([]models.Ticket, error)
}

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Tickets TicketLister
	Port    int
	Logger  *zap.Logger
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Tickets == nil {
		return fmt.Errorf("dashboard: ticket source is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router, err := newRouter(opts.Tickets, log)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("dashboard listening", zap.String("addr", fmt.Sprintf("http://localhost:%d", opts.Port)))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

func newRouter(tickets TicketLister, log *zap.Logger) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	router.SetHTMLTemplate(tmpl)

	registerRoutes(router, tickets, log)
	return router, nil
}

// parseTemplates loads the HTML templates.
func parseTemplates() (*template.Template, error) {
	tmpl, err := template.New("index.html").Parse(indexTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return tmpl, nil
}

const indexTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Ticketbooth</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; background: #2b2d31; color: #dbdee1; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: 6px 10px; border-bottom: 1px solid #3f4147; }
.claimed { color: #f0b232; }
.open { color: #23a55a; }
</style>
</head>
<body>
<h1>Ticketbooth</h1>
<p>{{.Summary.Total}} active &middot; {{.Summary.Open}} open &middot; {{.Summary.Claimed}} claimed</p>
{{if .Tickets}}
<table>
<thead><tr><th>Ticket</th><th>Channel</th><th>Opened by</th><th>Status</th><th>Claimed by</th></tr></thead>
<tbody>
{{range .Tickets}}<tr>
<td>{{.ChannelName}}</td>
<td>{{.ChannelID}}</td>
<td>{{.OpenerID}}</td>
<td class="{{.Status}}">{{.Status}}</td>
<td>{{with .ClaimedByID}}{{.}}{{else}}-{{end}}</td>
</tr>
{{end}}</tbody>
</table>
{{else}}
<p>No active tickets.</p>
{{end}}
</body>
</html>
`
