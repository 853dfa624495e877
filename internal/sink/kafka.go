package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
)

// KafkaSink publishes records keyed by identity. On a log-compacted topic
// the broker retains the latest record per subscriber.
type KafkaSink struct {
	brokers []string
	topic   string
	cfg     *sarama.Config

	newProducer func(addrs []string, cfg *sarama.Config) (sarama.SyncProducer, error)
}

// NewKafka returns a sink producing to topic on brokers.
func NewKafka(brokers []string, topic string, timeout time.Duration) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink: at least one broker is required")
	}

	if topic == "" {
		return nil, fmt.Errorf("kafka sink: topic is required")
	}

	cfg := sarama.NewConfig()
	cfg.ClientID = "sv-subscriber"
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 1

	if timeout > 0 {
		cfg.Net.DialTimeout = timeout
		cfg.Producer.Timeout = timeout
	}

	return &KafkaSink{
		brokers:     brokers,
		topic:       topic,
		cfg:         cfg,
		newProducer: sarama.NewSyncProducer,
	}, nil
}

// Persist sends r as JSON with the decimal identity as message key.
func (s *KafkaSink) Persist(_ context.Context, r Record) (err error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("kafka sink: marshal: %w", err)
	}

	producer, err := s.newProducer(s.brokers, s.cfg)
	if err != nil {
		return fmt.Errorf("kafka sink: connect: %w", err)
	}
	defer func() { err = errors.Join(err, producer.Close()) }()

	if _, _, err := producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(r.Identity, 10)),
		Value: sarama.ByteEncoder(payload),
	}); err != nil {
		return fmt.Errorf("kafka sink: send to %s: %w", s.topic, err)
	}

	return nil
}
