package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"streamhub/delivery"
	"streamhub/feeds"
	"streamhub/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Ingestor is the delivery side the HTTP layer drives
type Ingestor interface {
	IngestPushed(ctx context.Context, stream string, item models.Item) (int64, error)
	TriggerSync() string
	TriggerHandshake() string
	Tasks() []delivery.Task
}

type ServerConfig struct {
	// Query side for users and items
	Feeds *feeds.Service

	// Webhook ingestion and admin triggers
	Ingestor Ingestor

	// Broadcast channel to pass items to SSE clients
	Broadcaster *Broadcaster

	// Origins allowed by CORS, comma separated
	AllowOrigins string
}

// Returns a fiber.App instance to be used as the HTTP server of the aggregator
func Server(config *ServerConfig) *fiber.App {
	bc := config.Broadcaster
	svc := config.Feeds
	ingestor := config.Ingestor

	app := fiber.New(fiber.Config{
		AppName: "streamhub",
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
		}).Info("Request")
		return err
	})

	app.Use(recover.New())
	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())

	allowOrigins := config.AllowOrigins
	if allowOrigins == "" {
		allowOrigins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Cache-Control, Content-Type",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"message": "Stream aggregator is running",
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/items/all", func(c *fiber.Ctx) error {
		items, err := svc.GetAllItems(c.UserContext(), parseLimit(c))
		if err != nil {
			log.WithError(err).Error("Error getting items")
			return fail(c, fiber.StatusInternalServerError, "Error getting items")
		}
		return c.JSON(items)
	})

	app.Get("/users/:userId/items", func(c *fiber.Ctx) error {
		userID := c.Params("userId")
		items, err := svc.GetSubscribedItems(c.UserContext(), userID, parseLimit(c))
		if err != nil {
			log.WithFields(log.Fields{
				"user_id": userID,
				"error":   err,
			}).Error("Error getting subscribed items")
			return fail(c, fiber.StatusInternalServerError, "Error getting subscribed items")
		}
		return c.JSON(items)
	})

	app.Get("/users/:userId/subscriptions", func(c *fiber.Ctx) error {
		topics, err := svc.GetSubscribedTopics(c.UserContext(), c.Params("userId"))
		if err != nil {
			log.WithError(err).Error("Error getting subscriptions")
			return fail(c, fiber.StatusInternalServerError, "Error getting subscriptions")
		}
		return c.JSON(fiber.Map{
			"user_id": c.Params("userId"),
			"topics":  topics,
		})
	})

	app.Post("/subscriptions", func(c *fiber.Ctx) error {
		var req struct {
			UserID string `json:"user_id"`
			Topic  string `json:"topic"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fail(c, fiber.StatusBadRequest, "Invalid request body")
		}
		if req.UserID == "" {
			return fail(c, fiber.StatusUnprocessableEntity, "user_id is required")
		}

		sub, err := svc.Subscribe(c.UserContext(), req.UserID, req.Topic)
		switch {
		case errors.Is(err, models.ErrUnknownTopic):
			return fail(c, fiber.StatusUnprocessableEntity, err.Error())
		case err != nil:
			log.WithError(err).Error("Error subscribing")
			return fail(c, fiber.StatusInternalServerError, "Error subscribing")
		}
		return c.Status(fiber.StatusCreated).JSON(sub)
	})

	app.Post("/webhooks/:stream", func(c *fiber.Ctx) error {
		// Callback URLs path-escape the stream name
		stream, err := url.PathUnescape(c.Params("stream"))
		if err != nil {
			return fail(c, fiber.StatusBadRequest, "Invalid stream name")
		}
		item, err := models.ParseItem(c.Body())
		if err != nil {
			return fail(c, fiber.StatusUnprocessableEntity, err.Error())
		}

		persisted, err := ingestor.IngestPushed(c.UserContext(), stream, item)
		switch {
		case errors.Is(err, delivery.ErrStreamMismatch):
			return fail(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, models.ErrInvalidItem):
			return fail(c, fiber.StatusUnprocessableEntity, err.Error())
		case err != nil:
			log.WithFields(log.Fields{
				"stream": stream,
				"error":  err,
			}).Error("Error ingesting pushed item")
			return fail(c, fiber.StatusInternalServerError, "Error ingesting item")
		}

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"status":    "accepted",
			"persisted": persisted,
		})
	})

	admin := app.Group("/admin")

	admin.Post("/sync", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"task_id": ingestor.TriggerSync()})
	})

	admin.Post("/handshake", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"task_id": ingestor.TriggerHandshake()})
	})

	admin.Get("/tasks", func(c *fiber.Ctx) error {
		return c.JSON(ingestor.Tasks())
	})

	app.Get("/items/sse", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		// Unique client key
		key := uuid.New().String()
		itemChannel := make(chan models.Item, 64)
		bc.AddClient(key, itemChannel)

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer bc.RemoveClient(key)

			alive := time.NewTicker(15 * time.Second)
			defer alive.Stop()

			fmt.Fprintf(w, "event: init\ndata: %s\n\n", key)
			if err := w.Flush(); err != nil {
				log.Errorf("Failed to send init event: %v", err)
				return
			}

			for {
				select {
				case <-alive.C:
					// Keep-alive ping, also detects closed connections
					if _, err := fmt.Fprintf(w, "event: ping\ndata: \n\n"); err != nil {
						return
					}
					if err := w.Flush(); err != nil {
						log.Debugf("SSE client %s went away: %v", key, err)
						return
					}

				case item, ok := <-itemChannel:
					if !ok {
						return
					}
					data, err := json.Marshal(item)
					if err != nil {
						log.Errorf("Error marshalling item for client %s: %v", key, err)
						continue
					}
					if _, err := fmt.Fprintf(w, "event: item\ndata: %s\n\n", data); err != nil {
						return
					}
					if err := w.Flush(); err != nil {
						log.Debugf("SSE client %s went away: %v", key, err)
						return
					}
				}
			}
		}))

		return nil
	})

	return app
}

// parseLimit reads ?limit=N, falling back to the default for missing or
// out of range values
func parseLimit(c *fiber.Ctx) int {
	limit, err := strconv.Atoi(c.Query("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit < 1 || limit > maxLimit {
		return defaultLimit
	}
	return limit
}

func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}
