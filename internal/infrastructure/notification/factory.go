package notification

import (
	"fmt"

	"github.com/erp/reconciler/internal/infrastructure/config"
	"go.uber.org/zap"
)

// NewFromConfig builds the notifier for the configured backend
func NewFromConfig(cfg *config.Config, logger *zap.Logger) (*Notifier, error) {
	logger = logger.Named("notification")

	var (
		publisher Publisher
		err       error
	)
	switch cfg.Notification.Backend {
	case config.NotificationBackendRedis:
		publisher, err = NewRedisPublisher(RedisOptions{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Notification.Channel, logger)
	case config.NotificationBackendKafka:
		publisher, err = NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Notification.Channel, cfg.Kafka.BatchTimeout, logger)
	case config.NotificationBackendLog, "":
		publisher = NewLogPublisher(logger)
	default:
		return nil, fmt.Errorf("unknown notification backend %q", cfg.Notification.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s notification publisher: %w", cfg.Notification.Backend, err)
	}

	delivery := DefaultDeliveryConfig()
	delivery.MaxRetries = cfg.Notification.MaxRetries
	if cfg.Notification.RetryBackoff > 0 {
		delivery.InitialInterval = cfg.Notification.RetryBackoff
	}
	if cfg.Notification.QueueSize > 0 {
		delivery.QueueSize = cfg.Notification.QueueSize
	}
	if cfg.Notification.DrainTimeout > 0 {
		delivery.DrainTimeout = cfg.Notification.DrainTimeout
	}

	return NewNotifier(publisher, delivery, logger), nil
}
