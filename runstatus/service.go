package runstatus

import (
	"context"

	"github.com/evalgo/regwatch/common"
	"github.com/evalgo/regwatch/db"
	"github.com/evalgo/regwatch/events"
	"github.com/evalgo/regwatch/queue"
)

const consumerGroup = "run-status-aggregator"

// Service drives two independent consumer loops — run.status and delivery.result —
// against a single Aggregator, matching the stage Runner's one-goroutine-per-topic
// shape. Separating the topics here (rather than letting the stage Runner's
// registry own them) keeps the aggregator's Run-status writes out of the stage
// registry, since no stage ever waits on a reply from it.
type Service struct {
	bus        queue.Bus
	aggregator *Aggregator
	log        *common.ContextLogger
}

// NewService builds a Service over bus and a fresh Aggregator backed by runs.
func NewService(bus queue.Bus, runs *db.RunStore) *Service {
	return &Service{
		bus:        bus,
		aggregator: NewAggregator(runs),
		log:        common.NewContextLogger(common.Logger, map[string]interface{}{"component": "runstatus.service"}),
	}
}

// Start subscribes to run.status and delivery.result and processes each topic on
// its own goroutine until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	statusDeliveries, err := s.bus.Subscribe(events.TopicRunStatus, consumerGroup)
	if err != nil {
		return err
	}
	go s.runStatusLoop(ctx, statusDeliveries)

	deliveryDeliveries, err := s.bus.Subscribe(events.TopicDeliveryResult, consumerGroup)
	if err != nil {
		return err
	}
	go s.deliveryResultLoop(ctx, deliveryDeliveries)

	return nil
}

func (s *Service) runStatusLoop(ctx context.Context, deliveries <-chan queue.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			s.processRunStatus(ctx, d)
		}
	}
}

func (s *Service) deliveryResultLoop(ctx context.Context, deliveries <-chan queue.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			s.processDeliveryResult(ctx, d)
		}
	}
}

func (s *Service) processRunStatus(ctx context.Context, d queue.Delivery) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.WithField("panic", rec).Error("run.status handler panicked")
			d.Nack(false)
		}
	}()

	var evt events.RunStatusEvent
	if err := d.Envelope.Decode(&evt); err != nil {
		s.log.WithField("error", err.Error()).Error("decode run.status")
		d.Nack(false)
		return
	}
	if err := s.aggregator.HandleRunStatus(ctx, evt); err != nil {
		s.log.WithField("error", err.Error()).Error("handle run.status")
		d.Nack(common.ClassOf(err) == common.ClassTransient)
		return
	}
	d.Ack()
}

func (s *Service) processDeliveryResult(ctx context.Context, d queue.Delivery) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.WithField("panic", rec).Error("delivery.result handler panicked")
			d.Nack(false)
		}
	}()

	var evt events.DeliveryResult
	if err := d.Envelope.Decode(&evt); err != nil {
		s.log.WithField("error", err.Error()).Error("decode delivery.result")
		d.Nack(false)
		return
	}
	if err := s.aggregator.HandleDeliveryResult(ctx, evt); err != nil {
		s.log.WithField("error", err.Error()).Error("handle delivery.result")
		d.Nack(common.ClassOf(err) == common.ClassTransient)
		return
	}
	d.Ack()
}
