package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"dexwatch/models"
)

// Sink delivers one notification
type Sink interface {
	Send(ctx context.Context, n models.Notification) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ctx context.Context, n models.Notification) error

func (f SinkFunc) Send(ctx context.Context, n models.Notification) error {
	return f(ctx, n)
}

// RetryRecorder is told about every retried attempt
type RetryRecorder interface {
	RecordRetry()
}

// DispatcherConfig bounds retries of transient failures
type DispatcherConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Dispatcher sends notifications to a sink, retrying transient failures.
// Delivery is at-least-once: a retry after a timeout may duplicate a
// message that the sink did receive.
type Dispatcher struct {
	sink     Sink
	cfg      DispatcherConfig
	recorder RetryRecorder
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(sink Sink, cfg DispatcherConfig, recorder RetryRecorder) *Dispatcher {
	return &Dispatcher{
		sink:     sink,
		cfg:      cfg,
		recorder: recorder,
		sleep:    sleepContext,
	}
}

// Send delivers n. Transient errors are retried up to MaxRetries times with
// exponential backoff; permanent errors are returned immediately.
func (d *Dispatcher) Send(ctx context.Context, n models.Notification) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialInterval
	b.MaxInterval = d.cfg.MaxInterval
	b.Multiplier = 2
	b.MaxElapsedTime = 0 // Attempts are bounded by MaxRetries instead
	b.Reset()

	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := b.NextBackOff()
			log.WithFields(log.Fields{
				"identity": n.Identity,
				"attempt":  attempt,
				"backoff":  wait,
				"error":    lastErr,
			}).Warn("Retrying notification")

			if err := d.sleep(ctx, wait); err != nil {
				return err
			}
			if d.recorder != nil {
				d.recorder.RecordRetry()
			}
		}

		err := d.sink.Send(ctx, n)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			return err
		}
	}

	return fmt.Errorf("giving up after %d attempts: %w", d.cfg.MaxRetries+1, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
