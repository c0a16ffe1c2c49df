package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	defaultMaxRetries   = 3
	defaultRetryDelay   = 5 * time.Second
	defaultDrainTimeout = 4 * time.Minute
)

// Handler processes one job. Returning a Retryable error schedules a
// redelivery; any other error dead-letters the message.
type Handler func(ctx context.Context, msg JobMessage) error

type Consumer struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	queue       string
	concurrency int
	maxRetries  int
	retryDelay  time.Duration
	drain       time.Duration
	log         *zap.Logger
}

func NewConsumer(url, queue string, concurrency int, log *zap.Logger) (*Consumer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := declareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	// strict concurrency control: at most one unacked delivery per worker
	if err := ch.Qos(concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Consumer{
		conn:        conn,
		ch:          ch,
		queue:       queue,
		concurrency: concurrency,
		maxRetries:  defaultMaxRetries,
		retryDelay:  defaultRetryDelay,
		drain:       defaultDrainTimeout,
		log:         log,
	}, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// SetDrainTimeout bounds how long Run waits for in-flight jobs on shutdown.
func (c *Consumer) SetDrainTimeout(d time.Duration) {
	if d > 0 {
		c.drain = d
	}
}

// Run dispatches deliveries to a fixed pool of workers until ctx is done or
// the broker closes the delivery channel. Cancelling ctx stops intake only:
// in-flight jobs keep running until they finish or the drain timeout passes.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	c.log.Info("consumer started", zap.String("queue", c.queue), zap.Int("concurrency", c.concurrency))

	return runPool(ctx, msgs, c.concurrency, c.drain, c.log, func(workCtx context.Context, workerID int, d amqp.Delivery) {
		c.deliver(workCtx, workerID, d, handle)
	})
}

// runPool feeds msgs to workers. Workers run on a context detached from ctx
// that is cancelled only once drain has elapsed after shutdown. Hand-off is
// unbuffered, so no delivery waits in the pool when intake stops; one caught
// mid hand-off is requeued without using a retry attempt.
func runPool(ctx context.Context, msgs <-chan amqp.Delivery, workers int, drain time.Duration, log *zap.Logger,
	work func(ctx context.Context, workerID int, d amqp.Delivery)) error {
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	jobs := make(chan amqp.Delivery)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				work(workCtx, workerID, d)
			}
		}(i)
	}

	defer func() {
		close(jobs)
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(drain):
			log.Warn("drain timeout, cancelling in-flight jobs", zap.Duration("drain", drain))
			cancelWork()
			<-done
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("consumer shutting down")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			select {
			case jobs <- d:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				log.Info("consumer shutting down")
				return nil
			}
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, workerID int, d amqp.Delivery, handle Handler) {
	log := c.log.With(zap.Int("worker", workerID))

	var m JobMessage
	if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
		log.Warn("bad message", zap.ByteString("body", d.Body), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	log = log.With(zap.String("job_id", m.JobID))

	start := time.Now()
	err := handle(ctx, m)
	switch {
	case err == nil:
		if err := d.Ack(false); err != nil {
			log.Warn("ack failed", zap.Error(err))
		}
		log.Debug("job done", zap.Duration("took", time.Since(start)))
	case IsRetryable(err) && retryCount(d.Headers) < c.maxRetries:
		attempt := retryCount(d.Headers) + 1
		if perr := publishRetry(ctx, c.ch, c.queue, d.Body, attempt, c.retryDelay); perr != nil {
			log.Error("schedule retry", zap.Error(perr))
			_ = d.Nack(false, false)
			return
		}
		_ = d.Ack(false)
		log.Warn("job retry scheduled", zap.Int("attempt", attempt), zap.Error(err))
	default:
		log.Error("job failed", zap.Duration("took", time.Since(start)), zap.Error(err))
		_ = d.Nack(false, false)
	}
}
