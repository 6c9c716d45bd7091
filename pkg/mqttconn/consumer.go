package mqttconn

import (
	"context"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler processes one message from a topic. Returning an error only logs
// it; the subscription stays up.
type Handler func(topic string, msg mqtt.Message) error

// IConsumer lets services swap in a fake during tests.
type IConsumer interface {
	SetHandler(h Handler)
	Consume(ctx context.Context)
}

// Consumer subscribes to a single topic filter on a shared client.
type Consumer struct {
	client  mqtt.Client
	topic   string
	handler Handler
}

func NewConsumer(client mqtt.Client, topic string) *Consumer {
	return &Consumer{client: client, topic: topic}
}

func (c *Consumer) SetHandler(h Handler) {
	c.handler = h
}

// Consume subscribes and blocks until ctx is done, then unsubscribes.
func (c *Consumer) Consume(ctx context.Context) {
	token := c.client.Subscribe(c.topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		if c.handler == nil {
			log.Printf("mqtt: no handler for topic %s", c.topic)
			return
		}
		if err := c.handler(msg.Topic(), msg); err != nil {
			log.Printf("mqtt: handler error on %s: %v", msg.Topic(), err)
		}
	})
	if token.Wait() && token.Error() != nil {
		log.Printf("mqtt: subscribe %s: %v", c.topic, token.Error())
		return
	}
	log.Printf("mqtt: subscribed to %s", c.topic)

	<-ctx.Done()

	unsub := c.client.Unsubscribe(c.topic)
	unsub.Wait()
}
