package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-payments/internal/events"
	"github.com/ariefcatur/go-realtime-payments/internal/shop"
)

var _ events.Publisher = (*Producer)(nil)

var ErrProducerClosed = errors.New("kafka: producer closed")

// writer is the part of *kafka.Writer the producer needs.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes to any topic; the topic travels on each message.
type Producer struct {
	w       writer
	log     *zap.Logger
	inbox   chan kafka.Message
	closeCh chan struct{}
}

func NewProducer(brokers []string, buf int, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Warn("kafka_write_failed", zap.Int("messages", len(msgs)), zap.Error(err))
			}
		},
	}
	return newProducer(w, buf, log)
}

func newProducer(w writer, buf int, log *zap.Logger) *Producer {
	return &Producer{
		w:       w,
		log:     log,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start runs the write loop until ctx is done, then flushes what is left in
// the inbox and closes the writer.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.drain()
				if err := p.w.Close(); err != nil {
					p.log.Warn("kafka_writer_close", zap.Error(err))
				}
				return
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

func (p *Producer) drain() {
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.log.Warn("kafka_publish_failed", zap.String("topic", m.Topic), zap.Error(err))
	}
}

// Publish queues a raw message for topic.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error {
	m := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	select {
	case <-p.closeCh:
		return ErrProducerClosed
	default:
	}
	select {
	case p.inbox <- m:
		return nil
	case <-p.closeCh:
		return ErrProducerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishEvent encodes env and queues it, tagging the event type as a header.
func (p *Producer) PublishEvent(ctx context.Context, topic string, key []byte, env shop.Envelope) error {
	b, err := Encode(env)
	if err != nil {
		return err
	}
	return p.Publish(ctx, topic, key, b, kafka.Header{Key: "event_type", Value: []byte(env.EventType)})
}

// WaitClosed blocks until the write loop has flushed and exited.
func (p *Producer) WaitClosed() { <-p.closeCh }
