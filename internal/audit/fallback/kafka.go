package fallback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"phiguard/internal/audit"
)

const defaultKafkaDeliveryTimeout = 2 * time.Second

// KafkaChannel produces undelivered entries to a Kafka topic.
type KafkaChannel struct {
	client          *kgo.Client
	topic           string
	clock           func() time.Time
	deliveryTimeout time.Duration
}

// KafkaOption configures a KafkaChannel.
type KafkaOption func(*KafkaChannel)

// WithDeliveryTimeout caps how long one record may wait for an ack,
// including retries while brokers are unreachable.
func WithDeliveryTimeout(d time.Duration) KafkaOption {
	return func(c *KafkaChannel) {
		if d > 0 {
			c.deliveryTimeout = d
		}
	}
}

// NewKafkaChannel connects to brokers. Call EnsureTopic before first use when
// the cluster does not auto-create topics.
func NewKafkaChannel(brokers []string, topic string, opts ...KafkaOption) (*KafkaChannel, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	c := &KafkaChannel{topic: topic, clock: time.Now, deliveryTimeout: defaultKafkaDeliveryTimeout}
	for _, opt := range opts {
		opt(c)
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RecordDeliveryTimeout(c.deliveryTimeout),
		kgo.ProduceRequestTimeout(c.deliveryTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	c.client = client
	return c, nil
}

// EnsureTopic creates the topic if it does not exist.
func (c *KafkaChannel) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(c.client)
	resp, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, c.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", c.topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

func (c *KafkaChannel) Notify(ctx context.Context, entry audit.Entry, cause error) error {
	payload, err := encode(entry, cause, c.clock())
	if err != nil {
		return fmt.Errorf("encode emergency record: %w", err)
	}
	record := &kgo.Record{
		Topic: c.topic,
		Key:   []byte(entry.ResourceType + ":" + entry.ResourceID),
		Value: payload,
	}
	ctx, cancel := context.WithTimeout(ctx, c.deliveryTimeout)
	defer cancel()
	if err := c.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce emergency record: %w", err)
	}
	return nil
}

func (c *KafkaChannel) Close() {
	c.client.Close()
}
