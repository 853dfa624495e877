package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const defaultMQTTTimeout = 5 * time.Second

// MQTTSink publishes each record as a retained message on
// <prefix><identity>, so the broker holds the latest record per
// subscriber. It connects and disconnects per call.
type MQTTSink struct {
	broker  string
	prefix  string
	qos     byte
	timeout time.Duration
}

// NewMQTT returns a sink publishing to broker (e.g. tcp://host:1883).
func NewMQTT(broker, prefix string, timeout time.Duration) (*MQTTSink, error) {
	if broker == "" {
		return nil, fmt.Errorf("mqtt sink: broker is required")
	}

	if timeout <= 0 {
		timeout = defaultMQTTTimeout
	}

	return &MQTTSink{broker: broker, prefix: prefix, qos: 1, timeout: timeout}, nil
}

// Topic returns the topic records for identity are published on.
func (s *MQTTSink) Topic(identity int64) string {
	return s.prefix + strconv.FormatInt(identity, 10)
}

// Persist publishes r as retained JSON.
func (s *MQTTSink) Persist(ctx context.Context, r Record) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("mqtt sink: marshal: %w", err)
	}

	timeout := s.timeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < timeout {
			timeout = d
		}
	}

	opts := mqtt.NewClientOptions().
		AddBroker(s.broker).
		SetClientID("sv-subscriber-" + strconv.FormatInt(r.Identity, 10)).
		SetConnectTimeout(timeout).
		SetAutoReconnect(false).
		SetConnectRetry(false)

	client := mqtt.NewClient(opts)

	if err := waitToken(client.Connect(), timeout); err != nil {
		return fmt.Errorf("mqtt sink: connect %s: %w", s.broker, err)
	}
	defer client.Disconnect(250)

	if err := waitToken(client.Publish(s.Topic(r.Identity), s.qos, true, payload), timeout); err != nil {
		return fmt.Errorf("mqtt sink: publish %s: %w", s.Topic(r.Identity), err)
	}

	return nil
}

func waitToken(tok mqtt.Token, timeout time.Duration) error {
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("timed out after %s", timeout)
	}

	return tok.Error()
}
