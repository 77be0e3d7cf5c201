// Package notify delivers SessionCreated events to sinks off the request path.
// A failing or slow sink never affects the scheduling result.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/saeid-a/minicoachy/internal/events"
	"github.com/saeid-a/minicoachy/internal/logger"
)

type Sink interface {
	Name() string
	Notify(ctx context.Context, event events.SessionCreated) error
}

type Dispatcher struct {
	queue       chan events.SessionCreated
	sinks       []Sink
	sinkTimeout time.Duration
	wg          sync.WaitGroup
}

func NewDispatcher(buffer int, sinkTimeout time.Duration, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	if sinkTimeout <= 0 {
		sinkTimeout = 5 * time.Second
	}
	return &Dispatcher{
		queue:       make(chan events.SessionCreated, buffer),
		sinks:       sinks,
		sinkTimeout: sinkTimeout,
	}
}

// Publish enqueues event without blocking. A full queue drops the event and
// logs it.
func (d *Dispatcher) Publish(event events.SessionCreated) {
	select {
	case d.queue <- event:
	default:
		logger.Warn("notification queue full, dropping event", map[string]any{
			"event_id":   event.EventID,
			"session_id": event.Session.ID,
		})
	}
}

// Start delivers queued events on a worker goroutine until ctx is done, then
// drains what is already queued.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.run(ctx)
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-ctx.Done():
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until the worker started by Start has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(event events.SessionCreated) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.sinkTimeout)
		err := sink.Notify(ctx, event)
		cancel()
		if err != nil {
			logger.Error("notification sink failed", map[string]any{
				"sink":       sink.Name(),
				"event_id":   event.EventID,
				"session_id": event.Session.ID,
				"error":      err,
			})
		}
	}
}
