// Package server exposes the monitor's status over HTTP
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"dexwatch/models"
	"dexwatch/monitor"
	"dexwatch/stats"
)

const (
	pollTimeout   = 2 * time.Minute
	keepAlivePing = 15 * time.Second
)

// Poller is the part of the monitor the server needs
type Poller interface {
	State() monitor.State
	Interval() time.Duration
	Trigger(ctx context.Context) error
}

type ServerConfig struct {
	Poller Poller

	// Snapshot returns the current run statistics
	Snapshot func() stats.RunStats

	// Seen returns the number of remembered identities for a kind
	Seen func(kind models.FeedKind) int

	// Broadcast channel for SSE clients
	Broadcaster *Broadcaster

	// Comma separated origins allowed to call the API from a browser
	AllowOrigins string
}

type StatusResponse struct {
	State    monitor.State           `json:"state"`
	Interval string                  `json:"interval"`
	Uptime   string                  `json:"uptime"`
	Stats    stats.RunStats          `json:"stats"`
	Seen     map[models.FeedKind]int `json:"seen"`
	Clients  int                     `json:"clients"`
}

func status(config *ServerConfig) StatusResponse {
	snapshot := config.Snapshot()
	seen := make(map[models.FeedKind]int, len(models.AllFeedKinds))
	if config.Seen != nil {
		for _, kind := range models.AllFeedKinds {
			seen[kind] = config.Seen(kind)
		}
	}

	return StatusResponse{
		State:    config.Poller.State(),
		Interval: config.Poller.Interval().String(),
		Uptime:   snapshot.Uptime(time.Now()).Round(time.Second).String(),
		Stats:    snapshot,
		Seen:     seen,
		Clients:  config.Broadcaster.Len(),
	}
}

// Server returns a fiber.App serving the status API
func Server(config *ServerConfig) *fiber.App {
	bc := config.Broadcaster

	app := fiber.New(fiber.Config{
		AppName:               "dexwatch",
		DisableStartupMessage: true,
	})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"status":  c.Response().StatusCode(),
			"latency": time.Since(start),
		}).Debug("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New(compress.Config{
		Next: func(c *fiber.Ctx) bool {
			// Compressing would buffer the event stream
			return strings.HasSuffix(c.Path(), "/sse")
		},
	}))

	if config.AllowOrigins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins: config.AllowOrigins,
			AllowHeaders: "Cache-Control",
		}))
	}

	app.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(status(config))
	})

	app.Post("/poll", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), pollTimeout)
		defer cancel()

		if err := config.Poller.Trigger(ctx); err != nil {
			log.WithError(err).Error("Manual poll failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(status(config))
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Delete("/notifications/sse", func(c *fiber.Ctx) error {
		key := c.Query("key", "")
		if key == "" {
			return c.Status(fiber.StatusBadRequest).SendString("Missing key")
		}
		if !bc.RemoveClient(key) {
			return c.Status(fiber.StatusNotFound).SendString("Unknown key")
		}
		return c.SendString("OK")
	})

	app.Get("/notifications/sse", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		key := uuid.New().String()
		events := bc.AddClient(key)

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer bc.RemoveClient(key)
			streamEvents(w, key, events)
		}))

		return nil
	})

	return app
}

func streamEvents(w *bufio.Writer, key string, events <-chan models.NotificationEvent) {
	alive := time.NewTicker(keepAlivePing)
	defer alive.Stop()

	// Send initial event with client key
	fmt.Fprintf(w, "event: init\ndata: %s\n\n", key)
	if err := w.Flush(); err != nil {
		log.WithField("key", key).Warn("Failed to send init event")
		return
	}

	for {
		select {
		case <-alive.C:
			fmt.Fprintf(w, "event: ping\ndata: \n\n")
			if err := w.Flush(); err != nil {
				log.WithField("key", key).Debug("Client went away")
				return
			}

		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				log.WithFields(log.Fields{
					"key":   key,
					"error": err,
				}).Error("Error marshalling notification")
				continue
			}
			fmt.Fprintf(w, "event: notification\ndata: %s\n\n", data)
			if err := w.Flush(); err != nil {
				log.WithField("key", key).Debug("Client went away")
				return
			}
		}
	}
}
