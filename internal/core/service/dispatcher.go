package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go"

	"github.com/ndquoc/course-checkout/internal/core/domain"
	"github.com/ndquoc/course-checkout/internal/metrics"
	"github.com/ndquoc/course-checkout/internal/port"
)

// DispatcherConfig bounds the delivery effort. Publishing is fire-and-forget
// from the settlement's point of view; exhausted retries drop the event.
type DispatcherConfig struct {
	Workers        int
	QueueSize      int
	Attempts       uint
	Delay          time.Duration
	MaxDelay       time.Duration
	PublishTimeout time.Duration
}

func (c *DispatcherConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.Attempts == 0 {
		c.Attempts = 3
	}
	if c.Delay <= 0 {
		c.Delay = 200 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
}

// Dispatcher drains settlement events from a buffered queue and publishes
// them to the bus with bounded backoff. It never blocks its producers.
type Dispatcher struct {
	cfg  DispatcherConfig
	pub  port.EventPublisher
	log  *slog.Logger
	jobs chan domain.SettlementEvent
	wg   sync.WaitGroup
}

func NewDispatcher(pub port.EventPublisher, cfg DispatcherConfig, log *slog.Logger) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		cfg:  cfg,
		pub:  pub,
		log:  log,
		jobs: make(chan domain.SettlementEvent, cfg.QueueSize),
	}
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// Enqueue hands an event to the workers without blocking. False means the
// queue was full and the event is gone.
func (d *Dispatcher) Enqueue(evt domain.SettlementEvent) bool {
	select {
	case d.jobs <- evt:
		return true
	default:
		return false
	}
}

// Close stops accepting events and waits for in-flight publishes.
func (d *Dispatcher) Close() {
	close(d.jobs)
	d.wg.Wait()
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for evt := range d.jobs {
		err := retry.Do(
			func() error {
				ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PublishTimeout)
				defer cancel()
				return d.pub.PublishJSON(ctx, domain.RKPaymentSettled, evt)
			},
			retry.Attempts(d.cfg.Attempts),
			retry.Delay(d.cfg.Delay),
			retry.MaxDelay(d.cfg.MaxDelay),
		)
		if err != nil {
			metrics.NotificationsDropped.Inc()
			d.log.Error("publish failed after retries",
				slog.Int("worker", id),
				slog.String("session_id", evt.SessionID),
				slog.Any("error", err))
			continue
		}
		metrics.NotificationsPublished.Inc()
	}
}
