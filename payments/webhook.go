package payments

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/m3rciful/charmbot/core/logger"
)

// reconcileTimeout bounds one asynchronous reconciliation run, provider
// retries included.
const reconcileTimeout = 30 * time.Second

// WebhookServer receives provider notifications over HTTP. Deliveries are
// acknowledged immediately and reconciled asynchronously: the provider only
// needs the 200, and it redelivers if we crash mid-reconcile.
type WebhookServer struct {
	app *fiber.App
	rec *Reconciler
}

// NewWebhookServer builds the fiber app with the webhook and health routes.
func NewWebhookServer(rec *Reconciler) *WebhookServer {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
	})
	app.Use(fiberrecover.New())

	s := &WebhookServer{app: app, rec: rec}
	app.Post("/payments/webhook", s.handleNotification)
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return s
}

// App exposes the underlying fiber app, mainly for tests.
func (s *WebhookServer) App() *fiber.App {
	return s.app
}

// Listen blocks serving HTTP until Shutdown.
func (s *WebhookServer) Listen(addr string) error {
	logger.Info(context.Background(), "payments.webhook", "listen",
		slog.String("listen", addr),
	)
	return s.app.Listen(addr)
}

// Shutdown drains in-flight requests and stops the listener.
func (s *WebhookServer) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// webhookBody covers the JSON body variants Mercado Pago sends. Query
// parameters are the older delivery form and are checked first.
type webhookBody struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	ID     string `json:"id"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (s *WebhookServer) handleNotification(c *fiber.Ctx) error {
	n := extractNotification(c)
	if n.ID == "" {
		logger.Warn(context.Background(), "payments.webhook", "notification.unparseable",
			slog.String("payload", logger.SanitizeLimit(string(c.Body()), 256)),
		)
		// Still 200: redelivering a malformed payload will never help.
		return c.SendStatus(fiber.StatusOK)
	}

	logger.Info(context.Background(), "payments.webhook", "notification.received",
		slog.String("payload", logger.SanitizeLimit(n.Topic, 64)),
		slog.String("payment_id", n.ID),
	)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
		defer cancel()
		if err := s.rec.Process(ctx, n); err != nil {
			logger.Warn(ctx, "payments.webhook", "reconcile.dropped",
				slog.String("payment_id", n.ID),
				slog.String("err", err.Error()),
			)
		}
	}()

	return c.SendStatus(fiber.StatusOK)
}

// extractNotification accepts both delivery shapes: query parameters
// (?topic=payment&id=123) and the JSON body with type/action + data.id.
func extractNotification(c *fiber.Ctx) Notification {
	if id := c.Query("id"); id != "" {
		topic := c.Query("topic")
		if topic == "" {
			topic = c.Query("type")
		}
		return Notification{Topic: topic, ID: id}
	}
	if id := c.Query("data.id"); id != "" {
		return Notification{Topic: c.Query("type"), ID: id}
	}

	var body webhookBody
	if err := c.BodyParser(&body); err != nil {
		return Notification{}
	}
	topic := body.Type
	if topic == "" {
		topic = body.Topic
	}
	if topic == "" {
		topic = body.Action
	}
	id := body.Data.ID
	if id == "" {
		id = body.ID
	}
	return Notification{Topic: topic, ID: id}
}
