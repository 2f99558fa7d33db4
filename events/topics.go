// Package events defines the bus envelope and per-topic payload shapes that connect
// the scheduler, dispatcher and stage workers. Every payload carries run_id and
// trace_id so a consumer can always attribute a message to a run without consulting
// the database.
package events

import "encoding/json"

// Topic names used for publish/subscribe on the event bus. These double as AMQP
// routing keys when the bus is backed by a topic exchange.
const (
	TopicSubsSchedule     = "subs.schedule"
	TopicCrawlRequest     = "crawl.request"
	TopicCrawlResult      = "crawl.result"
	TopicParseResult      = "parse.result"
	TopicVersioningResult = "versioning.result"
	TopicDeliveryRequest  = "delivery.request"
	TopicDeliveryResult   = "delivery.result"
	TopicRunStatus        = "run.status"
)

// Envelope wraps every published message: {"event": "<topic>", "data": {...}}.
// Consumers decode Data into the payload shape their topic declares and must
// tolerate unknown fields in Data (json.Unmarshal does this by default).
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewEnvelope marshals payload into Data and stamps it with topic.
func NewEnvelope(topic string, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: topic, Data: data}, nil
}

// Decode unmarshals the envelope's Data into target.
func (e Envelope) Decode(target interface{}) error {
	return json.Unmarshal(e.Data, target)
}
