package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when a notification is dropped because delivery is backed up.
	ErrQueueFull = errors.New("notification queue full")
	// ErrClosed is returned for notifications submitted after Close.
	ErrClosed = errors.New("notifier closed")
)

// Publisher delivers an encoded message to a backend. key groups messages of one account.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}

// DeliveryConfig bounds the delivery queue and the retries of each message
type DeliveryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	QueueSize       int
	// DrainTimeout caps how long Close waits for queued messages.
	DrainTimeout time.Duration
}

// DefaultDeliveryConfig returns default delivery settings
func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		QueueSize:       256,
		DrainTimeout:    5 * time.Second,
	}
}

// Notifier queues account notifications and delivers them from a single
// background goroutine, so callers never wait on the backend. Messages are
// dropped with a warning when the queue is full.
type Notifier struct {
	publisher Publisher
	config    DeliveryConfig
	logger    *zap.Logger
	now       func() time.Time

	queue  chan Message
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewNotifier starts the delivery goroutine; Close stops it
func NewNotifier(publisher Publisher, config DeliveryConfig, logger *zap.Logger) *Notifier {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultDeliveryConfig().QueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		publisher: publisher,
		config:    config,
		logger:    logger,
		now:       time.Now,
		queue:     make(chan Message, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go n.run()
	return n
}

// NotifyPlanChanged queues a plan_changed message for the account
func (n *Notifier) NotifyPlanChanged(_ context.Context, accountID uuid.UUID) error {
	return n.enqueue(MessageTypePlanChanged, accountID)
}

// NotifyRefreshCredentials queues a refresh_credentials message for the account
func (n *Notifier) NotifyRefreshCredentials(_ context.Context, accountID uuid.UUID) error {
	return n.enqueue(MessageTypeRefreshCredentials, accountID)
}

func (n *Notifier) enqueue(msgType MessageType, accountID uuid.UUID) error {
	msg := Message{Type: msgType, AccountID: accountID, SentAt: n.now().UTC()}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrClosed
	}
	select {
	case n.queue <- msg:
		return nil
	default:
		n.logger.Warn("Notification queue full, dropping message",
			zap.String("type", string(msgType)),
			zap.String("account_id", accountID.String()))
		return ErrQueueFull
	}
}

// Close stops accepting messages, waits up to DrainTimeout for the queue to
// empty, then abandons the rest and closes the publisher
func (n *Notifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	timer := time.NewTimer(n.config.DrainTimeout)
	defer timer.Stop()
	select {
	case <-n.done:
	case <-timer.C:
		n.logger.Warn("Notification queue not drained in time, dropping pending messages",
			zap.Int("pending", len(n.queue)))
		n.cancel()
		<-n.done
	}
	n.cancel()

	return n.publisher.Close()
}

func (n *Notifier) run() {
	defer close(n.done)
	for msg := range n.queue {
		if n.ctx.Err() != nil {
			continue
		}
		if err := n.deliver(n.ctx, msg); err != nil {
			n.logger.Warn("Notification dropped", zap.Error(err))
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, msg Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	key := msg.AccountID.String()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = n.config.InitialInterval
	b.MaxInterval = n.config.MaxInterval
	b.MaxElapsedTime = 0

	operation := func() error {
		err := n.publisher.Publish(ctx, key, payload)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		n.logger.Warn("Notification delivery failed, retrying",
			zap.String("type", string(msg.Type)),
			zap.String("account_id", key),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, n.config.MaxRetries), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
		return fmt.Errorf("failed to deliver %s notification for account %s: %w", msg.Type, key, err)
	}
	return nil
}
