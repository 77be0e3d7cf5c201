package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/saeid-a/minicoachy/internal/config"
	"github.com/saeid-a/minicoachy/internal/database"
	"github.com/saeid-a/minicoachy/internal/events"
	"github.com/saeid-a/minicoachy/internal/logger"
	"github.com/saeid-a/minicoachy/internal/mq"
	"github.com/saeid-a/minicoachy/internal/notify"
	"github.com/saeid-a/minicoachy/internal/repository"
)

func main() {
	logger.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load config", map[string]any{"error": err})
	}
	if !cfg.BrokerEnabled() {
		logger.Fatal("RABBIT_URL is required for the notifier", nil)
	}

	// Reminders re-read the session, so the notifier needs the database.
	pool, err := database.ConnectDB(ctx, cfg.DBUrl, database.Options{
		MaxConns:     cfg.DBMaxConns,
		QueryTimeout: cfg.DBQueryTimeout,
	})
	if err != nil {
		logger.Fatal("failed to connect to database", map[string]any{"error": err})
	}
	defer pool.Close()

	publisher, err := mq.NewPublisher(cfg.RabbitURL, cfg.MQExchange)
	if err != nil {
		logger.Fatal("failed to connect to rabbitmq", map[string]any{"error": err})
	}
	defer publisher.Close()

	consumer, err := mq.NewConsumer(cfg.RabbitURL, cfg.MQExchange, cfg.NotifyQueue, []string{"session.*"})
	if err != nil {
		logger.Fatal("failed to connect to rabbitmq", map[string]any{"error": err})
	}
	defer consumer.Close()

	deliveries, err := consumer.Deliveries(ctx)
	if err != nil {
		logger.Fatal("failed to consume", map[string]any{"error": err})
	}

	mailer := notify.ConsoleMailer{}
	w := &worker{
		created: []notify.Sink{
			notify.NewMailSink(mailer),
			notify.NewReminderScheduler(publisher, cfg.ReminderDelay),
		},
		reminders: notify.NewReminderSender(
			repository.NewSessionRepository(pool),
			repository.NewUserRepository(pool),
			mailer,
		),
	}

	logger.Info("notifier started", map[string]any{"queue": cfg.NotifyQueue, "exchange": cfg.MQExchange})
	err = mq.Serve(ctx, deliveries, w.handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("notifier stopped", map[string]any{"error": err})
		return
	}
	logger.Info("notifier stopped", nil)
}

type reminderSender interface {
	Send(ctx context.Context, reminder events.SessionReminder) error
}

type worker struct {
	// created runs in order for every SessionCreated; the first failure
	// stops the chain and the delivery is retried.
	created   []notify.Sink
	reminders reminderSender
}

func (w *worker) handle(ctx context.Context, d amqp.Delivery) error {
	switch d.RoutingKey {
	case events.RKSessionCreated:
		event, err := events.Decode[events.SessionCreated](d.Body)
		if err != nil {
			return fmt.Errorf("%w: %v", mq.ErrPermanent, err)
		}
		for _, sink := range w.created {
			if err := sink.Notify(ctx, event); err != nil {
				return fmt.Errorf("%s: %w", sink.Name(), err)
			}
		}
		return nil
	case events.RKSessionReminder:
		reminder, err := events.Decode[events.SessionReminder](d.Body)
		if err != nil {
			return fmt.Errorf("%w: %v", mq.ErrPermanent, err)
		}
		return w.reminders.Send(ctx, reminder)
	default:
		return fmt.Errorf("%w: unhandled routing key %q", mq.ErrPermanent, d.RoutingKey)
	}
}
