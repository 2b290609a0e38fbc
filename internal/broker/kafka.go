package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// message is the wire format published to the jobs topic.
type message struct {
	JobID    string     `json:"job_id"`
	NotBefore *time.Time `json:"not_before,omitempty"`
}

// KafkaAdapter is the production Adapter (C3), grounded on
// github.com/segmentio/kafka-go. Publishing and consuming both target a
// single topic; not_before is carried in the message body and re-checked by
// the consumer at receive time, since Kafka itself has no notion of
// delayed delivery.
type KafkaAdapter struct {
	writer *kafkago.Writer
	reader *kafkago.Reader
	logger *slog.Logger

	out    chan Delivery
	wg     sync.WaitGroup
	once   sync.Once
	closed chan struct{}
}

// NewKafkaAdapter prepares a writer and a consumer-group reader (groupID)
// for topic. The consume loop starts on the first Receive call.
func NewKafkaAdapter(brokers []string, topic, groupID string, logger *slog.Logger) *KafkaAdapter {
	if logger == nil {
		logger = slog.Default()
	}

	return &KafkaAdapter{
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafkago.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
		reader: kafkago.NewReader(kafkago.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		}),
		logger: logger,
		out:    make(chan Delivery),
		closed: make(chan struct{}),
	}
}

// Enqueue publishes a {job_id, not_before} message to the jobs topic.
// Publication failure is surfaced to the caller but is never fatal to the
// enqueue operation that invoked it (spec.md §4.3, §4.4).
func (a *KafkaAdapter) Enqueue(ctx context.Context, jobID string, runAt *time.Time) error {
	body, err := json.Marshal(message{JobID: jobID, NotBefore: runAt})
	if err != nil {
		return fmt.Errorf("broker: kafka: marshal: %w", err)
	}

	if err := a.writer.WriteMessages(ctx, kafkago.Message{Key: []byte(jobID), Value: body}); err != nil {
		return fmt.Errorf("broker: kafka: write: %w", err)
	}

	return nil
}

// Receive starts the consumer loop on first call and returns its delivery
// channel. Each message is decoded and, if its not_before is still in the
// future, delivery is delayed in its own goroutine so a single slow message
// never blocks the rest of the topic from being consumed.
func (a *KafkaAdapter) Receive(ctx context.Context) (<-chan Delivery, error) {
	a.once.Do(func() {
		a.wg.Add(1)
		go a.consumeLoop(ctx)
	})

	return a.out, nil
}

func (a *KafkaAdapter) consumeLoop(ctx context.Context) {
	defer a.wg.Done()
	defer close(a.out)

	for {
		msg, err := a.reader.ReadMessage(ctx)
		if err != nil {
			select {
			case <-a.closed:
				return
			default:
			}

			if errors.Is(err, context.Canceled) {
				return
			}

			a.logger.Error("broker: kafka: read failed", slog.String("error", err.Error()))

			continue
		}

		var m message
		if err := json.Unmarshal(msg.Value, &m); err != nil {
			a.logger.Error("broker: kafka: malformed message, dropping",
				slog.String("error", err.Error()))

			continue
		}

		a.deliver(ctx, m)
	}
}

// deliver honors not_before: if the message arrived early it is handed off
// after the remaining delay elapses, never before (spec.md §4.3).
func (a *KafkaAdapter) deliver(ctx context.Context, m message) {
	if m.NotBefore == nil || !m.NotBefore.After(time.Now()) {
		select {
		case a.out <- Delivery{JobID: m.JobID}:
		case <-ctx.Done():
		}

		return
	}

	delay := time.Until(*m.NotBefore)

	a.wg.Add(1)

	go func() {
		defer a.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			select {
			case a.out <- Delivery{JobID: m.JobID}:
			case <-ctx.Done():
			}
		case <-ctx.Done():
		}
	}()
}

// HealthCheck verifies the writer's broker connection can still resolve
// topic metadata, for use by GET /health (spec.md §4.7).
func (a *KafkaAdapter) HealthCheck(ctx context.Context) error {
	if _, err := kafkago.LookupPartitions(ctx, "tcp", a.writer.Addr.String(), a.writer.Topic); err != nil {
		return fmt.Errorf("broker: kafka: health check: %w", err)
	}

	return nil
}

// Close stops the consumer loop and closes the underlying writer/reader.
func (a *KafkaAdapter) Close() error {
	close(a.closed)

	writerErr := a.writer.Close()
	readerErr := a.reader.Close()

	a.wg.Wait()

	if writerErr != nil {
		return fmt.Errorf("broker: kafka: close writer: %w", writerErr)
	}

	if readerErr != nil {
		return fmt.Errorf("broker: kafka: close reader: %w", readerErr)
	}

	return nil
}
