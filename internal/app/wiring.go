package app

import (
	"context"
	"fmt"
	"log/slog"
	netmail "net/mail"

	"student-records/internal/busy"
	"student-records/internal/changefeed"
	"student-records/internal/config"
	"student-records/internal/mail"
	"student-records/internal/metrics"

	"github.com/redis/go-redis/v9"
)

// newChangeFeed returns the publisher the platform writes to and the
// listener feeding hub.
func newChangeFeed(cfg config.ChangeFeedConfig, hub *changefeed.Hub, logger *slog.Logger, m *metrics.Metrics) (changefeed.Publisher, changefeed.Listener, error) {
	switch cfg.Driver {
	case "nats":
		n, err := changefeed.NewNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix, hub, logger, m)
		if err != nil {
			return nil, nil, err
		}
		return n, n, nil
	case "kafka":
		pub, err := changefeed.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger, m)
		if err != nil {
			return nil, nil, err
		}
		lis, err := changefeed.NewKafkaListener(cfg.Kafka.Brokers, cfg.Kafka.Topic, hub, logger, m)
		if err != nil {
			pub.Close()
			return nil, nil, err
		}
		return pub, lis, nil
	default:
		l := changefeed.NewLocal(hub, logger)
		return l, l, nil
	}
}

func newMailer(cfg config.MailConfig, logger *slog.Logger) mail.Sender {
	from := netmail.Address{Name: cfg.FromName, Address: cfg.FromAddress}
	if cfg.Driver == "sendgrid" {
		return mail.NewSendGrid(cfg.APIKey, ServiceName, from, logger)
	}
	return mail.NewConsole(ServiceName, from, logger)
}

// newGuard returns the busy guard and, for the redis driver, its client.
func newGuard(ctx context.Context, cfg config.BusyConfig, logger *slog.Logger) (busy.Guard, *redis.Client, error) {
	if cfg.Driver != "redis" {
		return busy.NewMemory(), nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	guard := busy.NewRedis(client, cfg.TTL, logger)
	if err := guard.Ping(ctx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return guard, client, nil
}
