package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler returns nil only when the message was processed and its offset may
// be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       reader
	workers int
	log     *zap.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r reader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{r: r, workers: workers, log: log}
}

// Start fetches until ctx is done, fanning messages out to the workers. A
// message whose handler fails is not committed and will be redelivered.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, 1024)
	errs := make(chan error, c.workers)

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				if err := h(ctx, m); err != nil {
					c.log.Warn("kafka_handler_failed",
						zap.String("topic", m.Topic),
						zap.Int("partition", m.Partition),
						zap.Int64("offset", m.Offset),
						zap.Error(err))
					select {
					case errs <- err:
					default:
					}
					continue
				}
				if err := c.r.CommitMessages(ctx, m); err != nil {
					select {
					case errs <- err:
					default:
					}
				}
			}
		}()
	}
	stop := func() {
		close(jobs)
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			stop()
			return nil
		}

		// light backoff while workers are failing
		select {
		case e := <-errs:
			c.log.Debug("kafka_worker_backoff", zap.Error(e))
			time.Sleep(200 * time.Millisecond)
		default:
		}
	}
}
