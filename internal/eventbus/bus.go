package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/grachmannico95/palette-cheque/pkg/logger"
	"github.com/grachmannico95/palette-cheque/pkg/retry"
)

// Publisher is the side of the bus the core services see. Publish never
// blocks on consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type EventBus interface {
	Publisher
	Subscribe(eventType EventType, consumer Consumer) error
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Discard drops every event. Used when a service is built without a bus.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, Event) error { return nil }

// subscription gives each consumer its own queue so that every consumer of
// an event type sees every event of that type.
type subscription struct {
	consumer Consumer
	ch       chan Event
}

type eventBus struct {
	subscriptions map[EventType][]*subscription
	mu            sync.RWMutex
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	logger        *logger.Logger
	channelBuffer int
	maxRetries    int
	retryDelay    time.Duration
	started       bool
}

type Config struct {
	ChannelBuffer  int
	MaxRetries     int
	RetryBaseDelay time.Duration
}

func New(log *logger.Logger, cfg *Config) EventBus {
	if cfg == nil {
		cfg = &Config{
			ChannelBuffer:  1000,
			MaxRetries:     5,
			RetryBaseDelay: time.Second,
		}
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}

	return &eventBus{
		subscriptions: make(map[EventType][]*subscription),
		logger:        log,
		channelBuffer: cfg.ChannelBuffer,
		maxRetries:    cfg.MaxRetries,
		retryDelay:    cfg.RetryBaseDelay,
	}
}

func (eb *eventBus) Subscribe(eventType EventType, consumer Consumer) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	sub := &subscription{
		consumer: consumer,
		ch:       make(chan Event, eb.channelBuffer),
	}
	eb.subscriptions[eventType] = append(eb.subscriptions[eventType], sub)

	if eb.started {
		eb.startWorkers(eventType, sub)
	}

	return nil
}

func (eb *eventBus) Start(ctx context.Context) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.started {
		return nil
	}

	eb.ctx, eb.cancel = context.WithCancel(ctx)

	for eventType, subs := range eb.subscriptions {
		for _, sub := range subs {
			eb.startWorkers(eventType, sub)
		}
	}

	eb.started = true
	eb.logger.Info(eb.ctx, "Event bus started")

	return nil
}

// startWorkers must be called with eb.mu held.
func (eb *eventBus) startWorkers(eventType EventType, sub *subscription) {
	workerCount := sub.consumer.GetWorkerCount()
	if workerCount < 1 {
		workerCount = 1
	}

	eb.logger.Info(eb.ctx, "Starting workers",
		"event_type", eventType,
		"worker_count", workerCount,
	)

	for i := 0; i < workerCount; i++ {
		eb.wg.Add(1)
		go eb.worker(eb.ctx, sub.ch, sub.consumer, i)
	}
}

func (eb *eventBus) worker(ctx context.Context, ch <-chan Event, consumer Consumer, workerID int) {
	defer eb.wg.Done()

	eb.logger.Debug(ctx, "Worker started", "worker_id", workerID)

	for {
		select {
		case <-ctx.Done():
			eb.logger.Debug(ctx, "Worker stopping", "worker_id", workerID)
			return
		case event, ok := <-ch:
			if !ok {
				eb.logger.Debug(ctx, "Channel closed, worker stopping", "worker_id", workerID)
				return
			}

			eb.processEvent(ctx, event, consumer, workerID)
		}
	}
}

func (eb *eventBus) processEvent(ctx context.Context, event Event, consumer Consumer, workerID int) {
	eventCtx := ctx
	if event.ID != "" {
		eventCtx = logger.WithTraceID(ctx, event.ID)
	}

	eb.logger.Debug(eventCtx, "Processing event",
		"event_id", event.ID,
		"event_type", event.Type,
		"worker_id", workerID,
	)

	attempt := 0
	err := retry.Do(eventCtx, func() error {
		event.Retries = attempt
		attempt++
		return consumer.Consume(eventCtx, event)
	}, retry.WithMaxAttempts(eb.maxRetries), retry.WithBaseDelay(eb.retryDelay))

	if err != nil {
		eb.logger.Error(eventCtx, "Failed to process event after retries",
			"event_id", event.ID,
			"event_type", event.Type,
			"worker_id", workerID,
			"error", err,
		)
	} else {
		eb.logger.Debug(eventCtx, "Event processed successfully",
			"event_id", event.ID,
			"event_type", event.Type,
			"worker_id", workerID,
		)
	}
}

func (eb *eventBus) Publish(ctx context.Context, event Event) error {
	eb.mu.RLock()
	subs := eb.subscriptions[event.Type]
	eb.mu.RUnlock()

	if len(subs) == 0 {
		eb.logger.Debug(ctx, "No subscribers for event type",
			"event_type", event.Type,
			"event_id", event.ID,
		)
		return nil
	}

	for _, sub := range subs {
		// Non-blocking send
		select {
		case sub.ch <- event:
			eb.logger.Debug(ctx, "Event published",
				"event_type", event.Type,
				"event_id", event.ID,
			)
		case <-ctx.Done():
			return ctx.Err()
		default:
			eb.logger.Warn(ctx, "Event channel full, event dropped",
				"event_type", event.Type,
				"event_id", event.ID,
			)
		}
	}

	return nil
}

func (eb *eventBus) Shutdown(ctx context.Context) error {
	eb.logger.Info(ctx, "Shutting down event bus")

	eb.mu.Lock()
	if eb.cancel != nil {
		eb.cancel()
	}
	eb.mu.Unlock()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Info(ctx, "Event bus shutdown complete")
		return nil
	case <-ctx.Done():
		eb.logger.Warn(ctx, "Event bus shutdown timeout")
		return ctx.Err()
	}
}
