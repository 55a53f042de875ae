package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultPollInterval = 3 * time.Second
	defaultHeartbeat    = 15 * time.Second
)

// handleSSE streams a "summary" event whenever the ticket counts change,
// plus periodic heartbeats.
func handleSSE(tickets TicketLister, poll, beat time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		ctx := c.Request.Context()
		var last *Summary
		push := func() {
			list, err := tickets.Tickets(ctx)
			if err != nil {
				return
			}
			s := Summarize(list)
			if last != nil && *last == s {
				return
			}
			last = &s
			writeSSE(c.Writer, "summary", s)
			c.Writer.Flush()
		}
		push()

		ticker := time.NewTicker(poll)
		heartbeat := time.NewTicker(beat)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				push()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
