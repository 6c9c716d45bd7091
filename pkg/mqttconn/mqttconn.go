// Package mqttconn wraps the paho client: connection with exponential
// backoff and a topic consumer that blocks until its context is done.
package mqttconn

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string
}

// Connect dials the broker, retrying with exponential backoff. The client
// is disconnected when ctx is cancelled.
func Connect(ctx context.Context, cfg Config) (mqtt.Client, error) {
	addr := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(addr)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Printf("mqtt: connect to %s failed: %v", addr, token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithMaxRetries(bo, 4))
	if err != nil {
		return nil, fmt.Errorf("mqtt connect after retries: %w", err)
	}

	log.Printf("mqtt: connected to %s", addr)
	go func() {
		<-ctx.Done()
		client.Disconnect(250)
		log.Printf("mqtt: connection closed")
	}()
	return client, nil
}
