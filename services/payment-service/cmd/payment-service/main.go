package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mounasabet/platform/libs/config"
	"github.com/mounasabet/platform/libs/db"
	"github.com/mounasabet/platform/libs/httpx"
	"github.com/mounasabet/platform/libs/inbox"
	"github.com/mounasabet/platform/libs/kafkax"
	otelx "github.com/mounasabet/platform/libs/otel"
	"github.com/mounasabet/platform/libs/outbox"
	"github.com/mounasabet/platform/libs/runtime"
	"github.com/mounasabet/platform/services/payment-service/internal/handlers"
	"github.com/mounasabet/platform/services/payment-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "payment-service")
	port, err := config.Port("PORT", "8084")
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

	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	// Every new booking gets a pending deposit row to charge against.
	inboxRepo := inbox.NewRepository(pool)
	if brokers := config.String("KAFKA_BROKERS", ""); brokers != "" {
		c := kafkax.NewConsumer(logger, inboxRepo, kafkax.ConsumerConfig{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "payment-service"),
			Topic:   "booking.created.v1",
		}, func(ctx context.Context, msg kafka.Message) error {
			var payload struct {
				BookingID    string `json:"booking_id"`
				ProviderID   string `json:"provider_id"`
				CustomerID   string `json:"customer_id"`
				DepositCents int64  `json:"deposit_cents"`
			}
			if err := json.Unmarshal(msg.Value, &payload); err != nil || payload.BookingID == "" {
				logger.Error("invalid booking created payload", "err", err, "topic", msg.Topic)
				return nil
			}
			return repo.CreatePending(ctx, storage.Payment{
				BookingID:    payload.BookingID,
				ProviderID:   payload.ProviderID,
				CustomerID:   payload.CustomerID,
				DepositCents: payload.DepositCents,
				Currency:     config.String("PAYMENT_CURRENCY", "usd"),
			})
		})
		go c.Run(ctx)
	}

	tolSeconds, err := config.Int("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300)
	if err != nil || tolSeconds <= 0 {
		tolSeconds = 300
	}
	h := handlers.New(repo, outboxRepo, logger, handlers.Config{
		StripeWebhookSecret:           config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookToleranceSeconds: tolSeconds,
		StripeSecretKey:               config.String("STRIPE_SECRET_KEY", ""),
		CheckoutSuccessURL:            config.String("CHECKOUT_SUCCESS_URL", ""),
		CheckoutCancelURL:             config.String("CHECKOUT_CANCEL_URL", ""),
	})

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/payments/checkout", h.Checkout)
	mux.HandleFunc("/api/v1/payments/status", h.Status)
	mux.HandleFunc("/api/v1/payments/webhooks/stripe", h.StripeWebhook)
	mux.HandleFunc("/api/v1/payments/webhooks/local", h.LocalWebhook)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "payment")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
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
