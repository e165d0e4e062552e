package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
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
	"github.com/mounasabet/platform/services/booking-service/internal/directory"
	"github.com/mounasabet/platform/services/booking-service/internal/handlers"
	"github.com/mounasabet/platform/services/booking-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
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

	bookingRepo := storage.NewBookingRepository(pool)
	slotRepo := storage.NewSlotRepository(pool)
	dirRepo := storage.NewDirectoryRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	statusFallback, err := directory.NewProvider(config.String("PROVIDER_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("provider directory client init failed; relying on event cache", "err", err)
		statusFallback = nil
	}

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	inboxRepo := inbox.NewRepository(pool)
	startConsumer := func(topic string, handler kafkax.Handler) {
		if topic == "" {
			return
		}
		c := kafkax.NewConsumer(logger, inboxRepo, kafkax.ConsumerConfig{
			Brokers: config.String("KAFKA_BROKERS", ""),
			GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
			Topic:   topic,
		}, handler)
		go c.Run(ctx)
	}

	// Deposit payments confirm pending bookings.
	startConsumer("payment.deposit.paid.v1", func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			BookingID string `json:"booking_id"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil || payload.BookingID == "" {
			logger.Error("invalid deposit event payload", "err", err, "topic", msg.Topic)
			return nil
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		booking, err := bookingRepo.GetForUpdate(ctx, tx, payload.BookingID)
		if err != nil {
			if storage.IsNotFound(err) {
				logger.Warn("deposit paid for unknown booking", "booking_id", payload.BookingID)
				return nil
			}
			return err
		}
		changed, err := bookingRepo.UpdateStatus(ctx, tx, booking.ID, "pending", "confirmed")
		if err != nil {
			return err
		}
		if !changed {
			logger.Info("deposit paid but booking not pending", "booking_id", booking.ID, "status", booking.Status)
			return tx.Commit(ctx)
		}

		evtPayload, err := json.Marshal(map[string]any{
			"booking_id":     booking.ID,
			"provider_id":    booking.ProviderID,
			"customer_id":    booking.CustomerID,
			"customer_email": booking.CustomerEmail,
			"customer_phone": booking.CustomerPhone,
			"start_time":     booking.StartTime.UTC().Format(time.RFC3339),
			"end_time":       booking.EndTime.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		if err := outboxRepo.Insert(ctx, tx, outbox.Event{
			AggregateType: "booking",
			AggregateID:   booking.ID,
			EventType:     "booking.confirmed.v1",
			Payload:       evtPayload,
		}); err != nil {
			return err
		}

		// Confirmed bookings get reminder requests for the scheduler.
		offsets := parseOffsets(config.String("REMINDER_OFFSETS_MINUTES", "1440,60"))
		for _, mins := range offsets {
			remindAt := booking.StartTime.Add(-time.Duration(mins) * time.Minute).UTC()
			if !remindAt.After(time.Now().UTC()) {
				continue
			}
			channels := map[string]string{"email": booking.CustomerEmail}
			if booking.CustomerPhone != "" {
				channels["sms"] = booking.CustomerPhone
			}
			for channel, recipient := range channels {
				if recipient == "" {
					continue
				}
				reminderPayload, err := json.Marshal(map[string]any{
					"booking_id":  booking.ID,
					"provider_id": booking.ProviderID,
					"channel":     channel,
					"recipient":   recipient,
					"remind_at":   remindAt.Format(time.RFC3339),
					"template_data": map[string]any{
						"customer_name": booking.CustomerName,
						"start_time":    booking.StartTime.UTC().Format(time.RFC3339),
					},
				})
				if err != nil {
					return err
				}
				if err := outboxRepo.Insert(ctx, tx, outbox.Event{
					AggregateType: "booking",
					AggregateID:   booking.ID,
					EventType:     "booking.reminder.requested.v1",
					Payload:       reminderPayload,
				}); err != nil {
					return err
				}
			}
		}
		return tx.Commit(ctx)
	})

	// Moderation events keep the provider directory cache current.
	directoryHandler := func(status string) kafkax.Handler {
		return func(ctx context.Context, msg kafka.Message) error {
			var payload struct {
				ProviderID  string `json:"provider_id"`
				DisplayName string `json:"display_name"`
			}
			if err := json.Unmarshal(msg.Value, &payload); err != nil || payload.ProviderID == "" {
				logger.Error("invalid provider event payload", "err", err, "topic", msg.Topic)
				return nil
			}
			tx, err := pool.Begin(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = tx.Rollback(ctx) }()
			if err := dirRepo.Upsert(ctx, tx, storage.ProviderEntry{
				ProviderID:  payload.ProviderID,
				DisplayName: payload.DisplayName,
				Status:      status,
			}); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}
	}
	startConsumer("provider.approved.v1", directoryHandler("approved"))
	startConsumer("provider.suspended.v1", directoryHandler("suspended"))

	availabilityStore := storage.NewAvailabilityStore(slotRepo, bookingRepo)
	availabilityHandler := handlers.NewAvailabilityHandler(availabilityStore, logger)
	depositPercent, _ := config.Int("DEPOSIT_PERCENT", 20)
	bookingHandler := handlers.NewBookingHandler(bookingRepo, slotRepo, dirRepo, statusFallback, outboxRepo, logger, depositPercent)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/public/availability", availabilityHandler.Get)
	mux.HandleFunc("/api/v1/providers/availability", availabilityHandler.Set)
	mux.HandleFunc("/api/v1/bookings", bookingHandler.Bookings)
	mux.HandleFunc("/api/v1/bookings/cancel", bookingHandler.Cancel)
	mux.HandleFunc("/api/v1/providers/bookings", bookingHandler.ListForProvider)
	mux.HandleFunc("/api/v1/providers/bookings/complete", bookingHandler.Complete)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
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

func parseOffsets(raw string) []int {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mins, err := strconv.Atoi(part)
		if err != nil || mins <= 0 {
			continue
		}
		out = append(out, mins)
	}
	if len(out) == 0 {
		out = []int{1440}
	}
	return out
}
