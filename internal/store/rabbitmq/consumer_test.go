package rabbitmq

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func delivery(id string) amqp.Delivery {
	return amqp.Delivery{Body: []byte(`{"job_id":"` + id + `"}`)}
}

func TestRunPool_ShutdownLetsInFlightJobFinish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs := make(chan amqp.Delivery, 1)
	msgs <- delivery("j1")

	started := make(chan struct{})
	release := make(chan struct{})
	var workErr error
	errc := make(chan error, 1)
	go func() {
		errc <- runPool(ctx, msgs, 1, time.Minute, zap.NewNop(), func(wctx context.Context, _ int, _ amqp.Delivery) {
			close(started)
			<-release
			workErr = wctx.Err()
		})
	}()

	<-started
	cancel()
	select {
	case <-errc:
		t.Fatal("pool returned while a job was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-errc)
	assert.NoError(t, workErr, "the job context outlives the shutdown signal")
}

func TestRunPool_DrainTimeoutCancelsStuckJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	msgs := make(chan amqp.Delivery, 1)
	msgs <- delivery("j1")

	started := make(chan struct{})
	var workErr error
	errc := make(chan error, 1)
	go func() {
		errc <- runPool(ctx, msgs, 1, 20*time.Millisecond, zap.NewNop(), func(wctx context.Context, _ int, _ amqp.Delivery) {
			close(started)
			<-wctx.Done()
			workErr = wctx.Err()
		})
	}()

	<-started
	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not give up after the drain timeout")
	}
	assert.ErrorIs(t, workErr, context.Canceled)
}

func TestRunPool_NoNewWorkAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	msgs := make(chan amqp.Delivery, 2)
	msgs <- delivery("j1")

	started := make(chan struct{})
	release := make(chan struct{})
	var handled atomic.Int32
	errc := make(chan error, 1)
	go func() {
		errc <- runPool(ctx, msgs, 1, time.Minute, zap.NewNop(), func(context.Context, int, amqp.Delivery) {
			if handled.Add(1) == 1 {
				close(started)
			}
			<-release
		})
	}()

	<-started
	msgs <- delivery("j2")
	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-errc)
	assert.EqualValues(t, 1, handled.Load(), "the second delivery is requeued, not run")
}

func TestRunPool_BrokerClosed(t *testing.T) {
	msgs := make(chan amqp.Delivery)
	close(msgs)
	err := runPool(context.Background(), msgs, 2, time.Second, zap.NewNop(), func(context.Context, int, amqp.Delivery) {})
	assert.EqualError(t, err, "delivery channel closed")
}
