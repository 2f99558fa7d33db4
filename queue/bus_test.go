package queue

import (
	"encoding/json"
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schedulePayload struct {
	RunID          int64 `json:"run_id"`
	SubscriptionID int64 `json:"subscription_id"`
}

func TestAMQPBus_Publish_WrapsEnvelopeAndSetsRoutingKey(t *testing.T) {
	dialer, channel, _ := SetupMockDialerForTest()

	bus, err := NewAMQPBusWithDialer("amqp://test", dialer)
	require.NoError(t, err)

	err = bus.Publish("subs.schedule", schedulePayload{RunID: 1, SubscriptionID: 7})
	require.NoError(t, err)

	require.Len(t, channel.PublishedMessages, 1)
	assert.Equal(t, "subs.schedule", channel.PublishedKeys[0])
	assert.Equal(t, exchangeName, channel.LastExchange)

	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(channel.PublishedMessages[0].Body, &env))
	assert.Equal(t, "subs.schedule", env.Event)

	var decoded schedulePayload
	require.NoError(t, json.Unmarshal(env.Data, &decoded))
	assert.Equal(t, int64(1), decoded.RunID)
	assert.Equal(t, int64(7), decoded.SubscriptionID)
}

func TestAMQPBus_Publish_PropagatesChannelError(t *testing.T) {
	dialer, channel, _ := SetupMockDialerForTest()
	channel.PublishErr = assert.AnError

	bus, err := NewAMQPBusWithDialer("amqp://test", dialer)
	require.NoError(t, err)

	err = bus.Publish("crawl.request", schedulePayload{})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestNewAMQPBusWithDialer_DeclaresExchangeAndQos(t *testing.T) {
	dialer, channel, _ := SetupMockDialerForTest()

	_, err := NewAMQPBusWithDialer("amqp://test", dialer)
	require.NoError(t, err)

	assert.True(t, channel.ExchangeDeclareCalled)
	assert.True(t, channel.QosCalled)
	assert.Equal(t, exchangeName, channel.LastExchange)
}

func TestAMQPBus_Subscribe_BindsQueueAndDecodesEnvelopes(t *testing.T) {
	dialer, channel, _ := SetupMockDialerForTest()

	bus, err := NewAMQPBusWithDialer("amqp://test", dialer)
	require.NoError(t, err)

	deliveries, err := bus.Subscribe("crawl.result", "parser")
	require.NoError(t, err)

	assert.True(t, channel.QueueDeclareCalled)
	assert.True(t, channel.QueueBindCalled)
	assert.Equal(t, "parser.crawl.result", channel.LastQueueName)
	assert.Equal(t, "crawl.result", channel.LastKey)

	body, err := json.Marshal(map[string]interface{}{
		"event": "crawl.result",
		"data":  map[string]interface{}{"run_id": 42},
	})
	require.NoError(t, err)
	channel.ConsumeChan <- amqpDeliveryWithBody(body)

	d := <-deliveries
	assert.Equal(t, "crawl.result", d.Envelope.Event)
}

// noopAcknowledger satisfies amqp.Acknowledger so test deliveries can be Acked
// without a real channel attached.
type noopAcknowledger struct{}

func (noopAcknowledger) Ack(tag uint64, multiple bool) error           { return nil }
func (noopAcknowledger) Nack(tag uint64, multiple, requeue bool) error { return nil }
func (noopAcknowledger) Reject(tag uint64, requeue bool) error         { return nil }

func amqpDeliveryWithBody(body []byte) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: noopAcknowledger{},
		Body:         body,
	}
}
