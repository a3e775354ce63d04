package latch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
)

// notifyJob is one outbound code delivery.
type notifyJob struct {
	address     string
	displayName string
	code        string
	purpose     OTPPurpose
}

// notifyDispatcher hands code deliveries to the [Notifier] on worker
// goroutines so the request path never blocks on (or fails because of)
// outbound delivery. The queue is bounded; when it is full the job is
// dropped and counted rather than stalling the caller.
type notifyDispatcher struct {
	cfg      NotifyConfig
	notifier Notifier
	logger   *log.Logger
	metrics  *Metrics

	ch        chan notifyJob
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newNotifyDispatcher(cfg NotifyConfig, notifier Notifier, logger *log.Logger, metrics *Metrics) *notifyDispatcher {
	if logger == nil {
		logger = &log.DefaultLogger
	}

	d := &notifyDispatcher{
		cfg:      cfg,
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,
		ch:       make(chan notifyJob, cfg.BufferSize),
		done:     make(chan struct{}),
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.run()
	}

	return d
}

func (d *notifyDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case job := <-d.ch:
			d.deliver(job)
		case <-d.done:
			for {
				select {
				case job := <-d.ch:
					d.deliver(job)
				default:
					return
				}
			}
		}
	}
}

func (d *notifyDispatcher) deliver(job notifyJob) {
	var lastErr error

	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(d.cfg.RetryDelay):
			case <-d.done:
			}
		}

		delivered, err := d.notifier.SendCode(context.Background(), job.address, job.displayName, job.code, job.purpose)
		if err == nil && delivered {
			d.metrics.Inc(MetricNotifyDelivered)
			return
		}
		lastErr = err
	}

	// Delivery failure never rolls back code generation; it is logged
	// and counted here instead.
	d.metrics.Inc(MetricNotifyFailed)
	d.logger.Warn().
		Err(lastErr).
		Str("address", job.address).
		Str("purpose", job.purpose.String()).
		Int("retries", d.cfg.MaxRetries).
		Msg("code delivery failed")
}

// Emit queues a delivery without blocking the caller.
func (d *notifyDispatcher) Emit(job notifyJob) {
	if d == nil || d.closed.Load() {
		return
	}

	select {
	case d.ch <- job:
	case <-d.done:
	default:
		d.dropped.Add(1)
		d.logger.Warn().
			Str("purpose", job.purpose.String()).
			Msg("notify queue full, delivery dropped")
	}
}

// Close drains queued deliveries and stops the workers.
func (d *notifyDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports deliveries discarded due to backpressure.
func (d *notifyDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
