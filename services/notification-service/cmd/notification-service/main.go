package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mounasabet/platform/libs/config"
	"github.com/mounasabet/platform/libs/db"
	"github.com/mounasabet/platform/libs/httpx"
	"github.com/mounasabet/platform/libs/inbox"
	"github.com/mounasabet/platform/libs/kafkax"
	otelx "github.com/mounasabet/platform/libs/otel"
	"github.com/mounasabet/platform/libs/outbox"
	"github.com/mounasabet/platform/libs/runtime"
	"github.com/mounasabet/platform/services/notification-service/internal/email"
	"github.com/mounasabet/platform/services/notification-service/internal/sms"
	"github.com/mounasabet/platform/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// notifier delivers one message over the configured channel and records the
// result, both in the notifications log and on the event bus.
type notifier struct {
	pool        *db.Pool
	repo        *storage.Repository
	outboxRepo  *outbox.Repository
	emailSender email.Sender
	smsSender   sms.Sender
	failSuffix  string
}

type delivery struct {
	BookingID  string
	ProviderID string
	Kind       string
	Channel    string
	Recipient  string
	Subject    string
	Body       string
	Payload    map[string]any
}

func (n *notifier) deliver(ctx context.Context, d delivery) (string, string) {
	if n.failSuffix != "" && strings.HasSuffix(d.Recipient, n.failSuffix) {
		return "failed", "simulated failure"
	}
	switch strings.ToLower(d.Channel) {
	case "email":
		if err := n.emailSender.Send(d.Recipient, d.Subject, d.Body); err != nil {
			return "failed", err.Error()
		}
		return "sent", "smtp"
	case "sms":
		if err := n.smsSender.Send(ctx, d.Recipient, d.Body); err != nil {
			return "failed", err.Error()
		}
		return "sent", n.smsSender.ProviderID()
	default:
		return "failed", "unsupported channel: " + d.Channel
	}
}

func (n *notifier) process(ctx context.Context, d delivery) error {
	status, detail := n.deliver(ctx, d)

	if err := n.repo.Insert(ctx, storage.Notification{
		BookingID:  d.BookingID,
		ProviderID: d.ProviderID,
		Kind:       d.Kind,
		Channel:    d.Channel,
		Recipient:  d.Recipient,
		Payload:    d.Payload,
		Status:     status,
	}); err != nil {
		return err
	}

	tx, err := n.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	eventType := "notification.sent.v1"
	eventBody := map[string]any{
		"booking_id":  d.BookingID,
		"provider_id": d.ProviderID,
		"kind":        d.Kind,
		"channel":     d.Channel,
	}
	if status == "failed" {
		eventType = "notification.failed.v1"
		eventBody["error_reason"] = detail
		eventBody["failed_at"] = time.Now().UTC().Format(time.RFC3339)
	} else {
		eventBody["delivery_provider"] = detail
		eventBody["sent_at"] = time.Now().UTC().Format(time.RFC3339)
	}

	eventPayload, err := json.Marshal(eventBody)
	if err != nil {
		return err
	}
	if err := n.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   d.BookingID,
		EventType:     eventType,
		Payload:       eventPayload,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type bookingEvent struct {
	BookingID     string `json:"booking_id"`
	ProviderID    string `json:"provider_id"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	StartTime     string `json:"start_time"`
}

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	inboxRepo := inbox.NewRepository(pool)
	notificationsRepo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	smtpHost := config.String("SMTP_HOST", "mailpit")
	smtpPort := config.String("SMTP_PORT", "1025")
	smtpFrom := config.String("SMTP_FROM", "no-reply@mounasabet.local")
	emailSender := email.NewSMTPSender(smtpHost, smtpPort, smtpFrom)

	smsProvider := strings.ToLower(config.String("SMS_PROVIDER", "noop"))
	smsWebhookURL := config.String("SMS_WEBHOOK_URL", "")
	smsWebhookToken := config.String("SMS_WEBHOOK_TOKEN", "")
	var smsSender sms.Sender
	switch smsProvider {
	case "webhook":
		smsSender = sms.NewWebhookSender(smsWebhookURL, smsWebhookToken)
	default:
		smsSender = sms.NewNoopSender()
	}

	n := &notifier{
		pool:        pool,
		repo:        notificationsRepo,
		outboxRepo:  outboxRepo,
		emailSender: emailSender,
		smsSender:   smsSender,
		failSuffix:  config.String("NOTIFICATION_FAIL_SUFFIX", ""),
	}

	startConsumer := func(topic string, handler kafkax.Handler) {
		if topic == "" {
			return
		}
		c := kafkax.NewConsumer(logger, inboxRepo, kafkax.ConsumerConfig{
			Brokers: config.String("KAFKA_BROKERS", ""),
			GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
			Topic:   topic,
		}, handler)
		go c.Run(ctx)
	}

	startConsumer("scheduler.reminder.due.v1", func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			BookingID    string         `json:"booking_id"`
			ProviderID   string         `json:"provider_id"`
			Channel      string         `json:"channel"`
			Recipient    string         `json:"recipient"`
			RemindAt     string         `json:"remind_at"`
			TemplateData map[string]any `json:"template_data"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid reminder payload", "err", err)
			return nil
		}
		if payload.BookingID == "" || payload.Channel == "" || payload.Recipient == "" {
			logger.Error("missing reminder fields", "booking_id", payload.BookingID)
			return nil
		}

		startTime, _ := payload.TemplateData["start_time"].(string)
		if startTime == "" {
			startTime = payload.RemindAt
		}
		body := fmt.Sprintf("Reminder: your event starts at %s.", startTime)
		if name, ok := payload.TemplateData["customer_name"].(string); ok && name != "" {
			body = fmt.Sprintf("Hi %s! %s", name, body)
		}

		if err := n.process(ctx, delivery{
			BookingID:  payload.BookingID,
			ProviderID: payload.ProviderID,
			Kind:       "reminder",
			Channel:    payload.Channel,
			Recipient:  payload.Recipient,
			Subject:    "Event reminder",
			Body:       body,
			Payload:    payload.TemplateData,
		}); err != nil {
			logger.Error("reminder delivery failed", "err", err, "booking_id", payload.BookingID)
			return err
		}
		logger.Info("reminder processed", "booking_id", payload.BookingID, "channel", payload.Channel)
		return nil
	})

	bookingEmail := func(kind, subject, bodyFmt string) kafkax.Handler {
		return func(ctx context.Context, msg kafka.Message) error {
			var payload bookingEvent
			if err := json.Unmarshal(msg.Value, &payload); err != nil {
				logger.Error("invalid booking event payload", "err", err, "topic", msg.Topic)
				return nil
			}
			if payload.BookingID == "" || payload.CustomerEmail == "" {
				return nil
			}

			body := fmt.Sprintf(bodyFmt, payload.StartTime)
			if payload.CustomerName != "" {
				body = fmt.Sprintf("Hi %s! %s", payload.CustomerName, body)
			}

			if err := n.process(ctx, delivery{
				BookingID:  payload.BookingID,
				ProviderID: payload.ProviderID,
				Kind:       kind,
				Channel:    "email",
				Recipient:  payload.CustomerEmail,
				Subject:    subject,
				Body:       body,
				Payload:    map[string]any{"start_time": payload.StartTime},
			}); err != nil {
				logger.Error("booking email failed", "err", err, "booking_id", payload.BookingID, "kind", kind)
				return err
			}
			logger.Info("booking email processed", "booking_id", payload.BookingID, "kind", kind)
			return nil
		}
	}

	startConsumer("booking.created.v1", bookingEmail("booking_created",
		"Booking request received",
		"We received your booking request for %s. Pay the deposit to confirm it."))
	startConsumer("booking.confirmed.v1", bookingEmail("booking_confirmed",
		"Booking confirmed",
		"Your booking for %s is confirmed. See you there!"))
	startConsumer("booking.cancelled.v1", bookingEmail("booking_cancelled",
		"Booking cancelled",
		"Your booking for %s has been cancelled."))

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
