// Package queue implements the event bus: a single topic exchange carrying every
// stage event, with one durable queue per (consumer group, topic) pair bound to it
// by routing key. The
// connection lifecycle (dial, open channel, declare, clean up on error) supports an
// arbitrary set of topics rather than one fixed queue.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/evalgo/regwatch/events"
	"github.com/streadway/amqp"
)

const exchangeName = "regwatch.events"

// Bus publishes and subscribes to named topics over a topic exchange. Every message
// carries the envelope {"event": "<topic>", "data": {...}}; consumers decode Data
// into the payload type their topic declares.
type Bus interface {
	// Publish sends payload on topic, wrapped in an Envelope.
	Publish(topic string, payload interface{}) error

	// Subscribe starts a consumer bound to topic on the durable queue
	// "<consumerGroup>.<topic>" (so multiple processes sharing a group split the
	// work, and at-least-once delivery survives a process restart via queue
	// durability). It returns a channel of Deliveries; the caller Acks or Nacks
	// each one through its Ack/Nack methods once it has been handled.
	Subscribe(topic, consumerGroup string) (<-chan Delivery, error)

	// Close tears down the channel and connection.
	Close() error
}

// Delivery pairs a decoded Envelope with the underlying amqp.Delivery so a consumer
// can Ack or Nack it once the stage handler has run.
type Delivery struct {
	Envelope events.Envelope
	raw      amqp.Delivery
}

// Ack acknowledges successful processing.
func (d Delivery) Ack() error {
	return d.raw.Ack(false)
}

// Nack rejects the message. requeue controls whether the broker redelivers it;
// stage workers requeue transient failures and drop (log-and-skip) contract
// failures, per the error taxonomy in common/errors.go.
func (d Delivery) Nack(requeue bool) error {
	return d.raw.Nack(false, requeue)
}

// AMQPBus is the Bus implementation backed by the AMQPConnection/AMQPChannel
// interfaces, so tests can inject MockAMQPDialer instead of dialing a real broker.
type AMQPBus struct {
	conn AMQPConnection
	ch   AMQPChannel
}

// NewAMQPBus dials url with the real AMQP client and declares the topic exchange.
func NewAMQPBus(url string) (*AMQPBus, error) {
	return NewAMQPBusWithDialer(url, &RealAMQPDialer{})
}

// NewAMQPBusWithDialer dials url with dialer, allowing a mock dialer in tests.
func NewAMQPBusWithDialer(url string, dialer AMQPDialer) (*AMQPBus, error) {
	conn, err := dialer.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("queue: dial bus: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("queue: declare exchange: %w", err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("queue: set qos: %w", err)
	}

	return &AMQPBus{conn: conn, ch: ch}, nil
}

// Publish marshals payload into an Envelope and publishes it with routing key topic.
func (b *AMQPBus) Publish(topic string, payload interface{}) error {
	env, err := events.NewEnvelope(topic, payload)
	if err != nil {
		return fmt.Errorf("queue: encode envelope for %s: %w", topic, err)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("queue: marshal envelope for %s: %w", topic, err)
	}

	err = b.ch.Publish(exchangeName, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("queue: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe declares a durable queue named consumerGroup+"."+topic, binds it to
// topic on the exchange, and starts consuming. Two processes using the same
// consumerGroup split deliveries from the same queue (competing consumers); two
// different groups each get their own copy, matching the fan-out needed when more
// than one stage listens to the same topic.
func (b *AMQPBus) Subscribe(topic, consumerGroup string) (<-chan Delivery, error) {
	queueName := consumerGroup + "." + topic

	if _, err := b.ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("queue: declare queue %s: %w", queueName, err)
	}

	if err := b.ch.QueueBind(queueName, topic, exchangeName, false, nil); err != nil {
		return nil, fmt.Errorf("queue: bind queue %s to %s: %w", queueName, topic, err)
	}

	raw, err := b.ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("queue: consume %s: %w", queueName, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for msg := range raw {
			var env events.Envelope
			if err := json.Unmarshal(msg.Body, &env); err != nil {
				// malformed envelope: can't attribute to a run, drop without requeue
				msg.Nack(false, false)
				continue
			}
			out <- Delivery{Envelope: env, raw: msg}
		}
	}()

	return out, nil
}

// Close closes the channel then the connection.
func (b *AMQPBus) Close() error {
	chErr := b.ch.Close()
	connErr := b.conn.Close()
	if chErr != nil {
		return chErr
	}
	return connErr
}
