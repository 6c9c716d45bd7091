// Package bridge feeds readings published on an MQTT topic through the
// same ingest pipeline as the HTTP push path. The broker connection is the
// trust boundary; no shared-secret check happens here.
package bridge

import (
	"context"
	"encoding/json"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/monit-agro/monit-agro/internal/ingest"
	"github.com/monit-agro/monit-agro/pkg/mqttconn"
)

type Bridge struct {
	consumer mqttconn.IConsumer
	ingestor *ingest.Ingestor
}

func New(consumer mqttconn.IConsumer, ingestor *ingest.Ingestor) *Bridge {
	return &Bridge{consumer: consumer, ingestor: ingestor}
}

// Start consumes until ctx is cancelled. Malformed or unroutable messages
// are logged and dropped so one bad device cannot stall the stream.
func (b *Bridge) Start(ctx context.Context) {
	b.consumer.SetHandler(func(topic string, msg mqtt.Message) error {
		var raw map[string]any
		if err := json.Unmarshal(msg.Payload(), &raw); err != nil {
			log.Printf("bridge: invalid JSON on %s: %v", topic, err)
			return nil
		}
		ictx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, err := b.ingestor.IngestPush(ictx, raw, "mqtt"); err != nil {
			log.Printf("bridge: ingest from %s: %v", topic, err)
		}
		return nil
	})
	b.consumer.Consume(ctx)
}
