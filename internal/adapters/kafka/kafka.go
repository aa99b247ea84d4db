package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/IBM/sarama"

	"realtime-service/internal/store"
	"realtime-service/pkg/logger"
)

// changeMessage is the wire shape of an externally produced change event.
type changeMessage struct {
	Resource string       `json:"resource"`
	Event    string       `json:"event"`
	Data     store.Record `json:"data"`
}

// PublishFunc receives decoded change events, normally the hub's
// PublishChange.
type PublishFunc func(resource string, event store.EventKind, record store.Record)

// Bridge consumes a change-event topic and feeds it into the fan-out
// path, so mutations made outside this process still reach subscribers.
type Bridge struct {
	consumer sarama.Consumer
	topic    string
	publish  PublishFunc
	logger   *logger.Logger
	wg       sync.WaitGroup
}

func NewBridge(brokers []string, topic string, publish PublishFunc, log *logger.Logger) (*Bridge, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true
	config.Version = sarama.V2_0_0_0
	config.ClientID = "realtime-service"

	consumer, err := sarama.NewConsumer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &Bridge{
		consumer: consumer,
		topic:    topic,
		publish:  publish,
		logger:   log,
	}, nil
}

// Run consumes every partition of the topic until the context is
// cancelled. Only events produced after startup matter, so consumption
// starts at the newest offset.
func (b *Bridge) Run(ctx context.Context) error {
	partitions, err := b.consumer.Partitions(b.topic)
	if err != nil {
		return fmt.Errorf("failed to list partitions for %s: %w", b.topic, err)
	}

	for _, partition := range partitions {
		pc, err := b.consumer.ConsumePartition(b.topic, partition, sarama.OffsetNewest)
		if err != nil {
			return fmt.Errorf("failed to consume partition %d: %w", partition, err)
		}

		b.wg.Add(1)
		go b.consumeLoop(ctx, pc, partition)
	}

	b.logger.Info("kafka bridge started", "topic", b.topic, "partitions", len(partitions))
	return nil
}

func (b *Bridge) consumeLoop(ctx context.Context, pc sarama.PartitionConsumer, partition int32) {
	defer func() {
		pc.Close()
		b.wg.Done()
	}()

	for {
		select {
		case msg, ok := <-pc.Messages():
			if !ok {
				return
			}
			b.handle(msg)
		case err, ok := <-pc.Errors():
			if !ok {
				return
			}
			b.logger.Error("kafka consume error", "topic", b.topic, "partition", partition, "error", err)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) handle(msg *sarama.ConsumerMessage) {
	var change changeMessage
	if err := json.Unmarshal(msg.Value, &change); err != nil {
		b.logger.Warn("dropping undecodable change event", "topic", b.topic, "offset", msg.Offset, "error", err)
		return
	}

	switch store.EventKind(change.Event) {
	case store.EventInsert, store.EventUpdate, store.EventDelete:
	default:
		b.logger.Warn("dropping change event with unknown kind", "event", change.Event, "offset", msg.Offset)
		return
	}
	if change.Resource == "" || change.Data == nil {
		b.logger.Warn("dropping incomplete change event", "offset", msg.Offset)
		return
	}

	b.publish(change.Resource, store.EventKind(change.Event), change.Data)
}

// Close stops consumption and waits for the partition loops to exit.
func (b *Bridge) Close() error {
	err := b.consumer.Close()
	b.wg.Wait()
	return err
}
