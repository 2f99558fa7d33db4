package stages

import (
	"context"

	"github.com/evalgo/regwatch/common"
	"github.com/evalgo/regwatch/queue"
)

const consumerGroup = "stage-workers"

// Runner drives one consumer loop per registered topic, matching the worker
// pool's one-goroutine-per-worker shape but with the bus subscription standing in
// for the dequeue loop. Each loop is single-flight: a delivery is fully Acked or
// Nacked before the loop reads the next one from that topic, satisfying the
// per-consumer-group-partition ordering guarantee in the concurrency model.
type Runner struct {
	bus      queue.Bus
	registry *Registry
	log      *common.ContextLogger
}

// NewRunner builds a Runner over bus and registry.
func NewRunner(bus queue.Bus, registry *Registry) *Runner {
	return &Runner{
		bus:      bus,
		registry: registry,
		log:      common.NewContextLogger(common.Logger, map[string]interface{}{"component": "stages.runner"}),
	}
}

// Start subscribes to every registered topic and spawns one consumer goroutine
// per topic. It returns immediately; each loop runs until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	for _, topic := range r.registry.Topics() {
		deliveries, err := r.bus.Subscribe(topic, consumerGroup)
		if err != nil {
			return err
		}
		go r.loop(ctx, topic, deliveries)
	}
	return nil
}

func (r *Runner) loop(ctx context.Context, topic string, deliveries <-chan queue.Delivery) {
	handler := r.registry.Lookup(topic)
	log := r.log.WithField("topic", topic)

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			r.process(ctx, handler, d, log)
		}
	}
}

// process runs handler against one delivery, recovering a panic into a Nack
// (without requeue — a handler crash is a programmer error, not something a
// redelivery would fix) so one bad message never takes down the consumer loop.
func (r *Runner) process(ctx context.Context, handler Handler, d queue.Delivery, log *common.ContextLogger) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", rec).Error("stage handler panicked")
			d.Nack(false)
		}
	}()

	if err := handler.Handle(ctx, d.Envelope); err != nil {
		log.WithField("error", err.Error()).Error("stage handler failed")
		requeue := common.ClassOf(err) == common.ClassTransient
		d.Nack(requeue)
		return
	}
	d.Ack()
}
