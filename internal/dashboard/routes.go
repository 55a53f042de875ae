package dashboard

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, tickets TicketLister, log *zap.Logger) {
	router.GET("/", handleIndex(tickets, log))
	router.GET("/healthz", handleHealth())

	api := router.Group("/api")
	api.GET("/tickets", handleTicketList(tickets, log))
	api.GET("/tickets/:channel", handleTicketDetail(tickets, log))
	api.GET("/events", handleSSE(tickets, defaultPollInterval, defaultHeartbeat))
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleIndex(tickets TicketLister, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := tickets.Tickets(c.Request.Context())
		if err != nil {
			log.Warn("dashboard: list tickets", zap.Error(err))
			c.String(http.StatusInternalServerError, "ticket store unavailable")
			return
		}
		c.HTML(http.StatusOK, "index.html", gin.H{
			"Tickets": list,
			"Summary": Summarize(list),
		})
	}
}

func handleTicketList(tickets TicketLister, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := tickets.Tickets(c.Request.Context())
		if err != nil {
			log.Warn("dashboard: list tickets", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ticket store unavailable"})
			return
		}

		status := c.Query("status")
		views := make([]TicketView, 0, len(list))
		for _, t := range list {
			if status != "" && string(t.Status) != status {
				continue
			}
			views = append(views, toView(t))
		}
		c.JSON(http.StatusOK, gin.H{
			"tickets": views,
			"summary": Summarize(list),
		})
	}
}

func handleTicketDetail(tickets TicketLister, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := tickets.Tickets(c.Request.Context())
		if err != nil {
			log.Warn("dashboard: list tickets", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ticket store unavailable"})
			return
		}
		t, ok := findTicket(list, c.Param("channel"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
			return
		}
		c.JSON(http.StatusOK, toView(t))
	}
}
