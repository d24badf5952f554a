package processor

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/phamtuthu/bitrix-call-relay/internal/apperr"
	"github.com/phamtuthu/bitrix-call-relay/internal/bitrix"
	"github.com/phamtuthu/bitrix-call-relay/internal/config"
)

// CRMClient is the slice of the Bitrix API the processor depends on.
type CRMClient interface {
	GetCallStatistics(ctx context.Context, callID string) ([]bitrix.CallStatistic, error)
	ListDealsByContact(ctx context.Context, contactID string) ([]bitrix.Deal, error)
	UpdateDeal(ctx context.Context, dealID string, fields map[string]interface{}) error
	UpdateContact(ctx context.Context, contactID string, fields map[string]interface{}) error
}

// PendingEvent is a validated call notification waiting in the queue. Its
// result channel is completed exactly once, success or failure.
type PendingEvent struct {
	ID     uuid.UUID
	CallID string
	done   chan error
}

// Wait blocks until the event finishes processing and returns its outcome.
func (e *PendingEvent) Wait() error {
	return <-e.done
}

// Processor serializes call-event handling through a single worker draining a
// FIFO queue: at most one statistics-fetch/CRM-update sequence is in flight
// at any time.
type Processor struct {
	crm     CRMClient
	fields  config.FieldConfig
	logger  *zap.Logger
	queue   chan *PendingEvent
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	started bool

	// mu orders Submit against Stop: nothing may enqueue once closed is
	// set, and Stop fails everything enqueued before it.
	mu     sync.Mutex
	closed bool
}

// New creates a processor with a bounded FIFO queue.
func New(crm CRMClient, fields config.FieldConfig, queueCapacity int, logger *zap.Logger) *Processor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		crm:     crm,
		fields:  fields,
		logger:  logger,
		queue:   make(chan *PendingEvent, queueCapacity),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (p *Processor) Start() error {
	if p.started {
		return errors.New("processor already started")
	}
	p.started = true

	go p.run()

	p.logger.Info("Event processor started",
		zap.Int("queue_capacity", cap(p.queue)),
	)
	return nil
}

// Stop shuts down the worker. Events still in the queue are completed with a
// shutdown error so no caller is left waiting.
func (p *Processor) Stop() error {
	if !p.started {
		return nil
	}
	p.cancel()
	<-p.stopped

	// The worker is gone; refuse new submissions and fail whatever is
	// still queued, including anything that raced past the cancellation.
	p.mu.Lock()
	p.closed = true
	for {
		select {
		case event := <-p.queue:
			event.done <- errors.New("processor is shutting down")
		default:
			p.mu.Unlock()
			p.logger.Info("Event processor stopped")
			return nil
		}
	}
}

// Submit validates a notification and appends it to the queue. Validation
// failures are rejected synchronously and never enqueued.
func (p *Processor) Submit(callID string) (*PendingEvent, error) {
	if strings.TrimSpace(callID) == "" {
		return nil, &apperr.ValidationError{Msg: "Invalid request: Missing CALL_ID."}
	}

	event := &PendingEvent{
		ID:     uuid.New(),
		CallID: callID,
		done:   make(chan error, 1),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("processor is shutting down")
	}
	select {
	case p.queue <- event:
	default:
		p.mu.Unlock()
		return nil, errors.New("event queue is full")
	}
	p.mu.Unlock()

	p.logger.Info("Call event enqueued",
		zap.String("event_id", event.ID.String()),
		zap.String("call_id", event.CallID),
		zap.Int("queue_depth", len(p.queue)),
	)
	return event, nil
}

// QueueDepth reports how many events are waiting.
func (p *Processor) QueueDepth() int {
	return len(p.queue)
}

// run is the drain loop. A failed event completes its own result channel and
// never stops the loop.
func (p *Processor) run() {
	defer close(p.stopped)

	for {
		select {
		case <-p.ctx.Done():
			return
		case event := <-p.queue:
			err := p.processEvent(p.ctx, event)
			if err != nil {
				p.logger.Error("Failed to process call event",
					zap.String("event_id", event.ID.String()),
					zap.String("call_id", event.CallID),
					zap.Error(err),
				)
			} else {
				p.logger.Info("Call event processed",
					zap.String("event_id", event.ID.String()),
					zap.String("call_id", event.CallID),
				)
			}
			// Sole completion point for events the worker picks up.
			event.done <- err
		}
	}
}
