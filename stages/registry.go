// Package stages implements the five stage-worker handlers (J0 subscription
// scheduled, J1 crawler, J2 parser, J3 versioner, J4 deliverer) behind a static
// registry: register(topic, handler) at process init, consumers read from the map
// without downcasting payloads, since each topic has exactly one payload shape
// (events.SubsSchedule, events.CrawlRequest, ...), rather than a job_type lookup
// with duck-typed dispatch.
package stages

import (
	"context"
	"fmt"

	"github.com/evalgo/regwatch/common"
	"github.com/evalgo/regwatch/events"
	"github.com/evalgo/regwatch/queue"
)

// Handler processes one decoded bus message for a stage. Implementations emit
// their own run.started/next-stage/run.failed events and must not let a panic
// escape — the runner recovers but a handler that does its own recovery can log
// richer context first.
type Handler interface {
	// Topic is the input topic this handler subscribes to.
	Topic() string
	// Handle processes one envelope already known to match Topic().
	Handle(ctx context.Context, env events.Envelope) error
}

// Registry maps topic -> Handler, populated once at startup and read-only after.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds h under h.Topic(). Registering two handlers for the same topic is
// a programmer error and panics at init time rather than silently overwriting.
func (r *Registry) Register(h Handler) {
	if _, exists := r.handlers[h.Topic()]; exists {
		panic(fmt.Sprintf("stages: handler already registered for topic %q", h.Topic()))
	}
	r.handlers[h.Topic()] = h
}

// Lookup returns the handler for topic, or nil if none is registered.
func (r *Registry) Lookup(topic string) Handler {
	return r.handlers[topic]
}

// Topics returns every topic with a registered handler, used by the runner to
// subscribe to each one.
func (r *Registry) Topics() []string {
	topics := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		topics = append(topics, t)
	}
	return topics
}

// emitRunStarted publishes run.started for runID/traceID. The aggregator dedupes
// repeated run.started events by run_id, so handlers call this unconditionally on
// first execution rather than tracking whether they already emitted it.
func emitRunStarted(bus queue.Bus, log *common.ContextLogger, runID int64, traceID string) {
	err := bus.Publish(events.TopicRunStatus, events.RunStatusEvent{
		RunID:   runID,
		TraceID: traceID,
		Event:   events.RunEventStarted,
	})
	if err != nil {
		log.WithFields(map[string]interface{}{
			"run_id": runID,
			"error":  err.Error(),
		}).Warn("failed to publish run.started")
	}
}

// emitRunFailed publishes run.failed with errMsg for runID/traceID, halting the
// pipeline for this run (no next-stage event follows).
func emitRunFailed(bus queue.Bus, log *common.ContextLogger, runID int64, traceID, errMsg string) {
	err := bus.Publish(events.TopicRunStatus, events.RunStatusEvent{
		RunID:        runID,
		TraceID:      traceID,
		Event:        events.RunEventFailed,
		ErrorMessage: errMsg,
	})
	if err != nil {
		log.WithFields(map[string]interface{}{
			"run_id": runID,
			"error":  err.Error(),
		}).Warn("failed to publish run.failed")
	}
}
