package stream

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/notifyhub/pkg/bus"
	"github.com/notifyhub/notifyhub/pkg/notify"
)

func TestConsumerObservesPublishOrder(t *testing.T) {
	b := bus.New()
	g := NewGateway(b, "ch")

	consumer := g.Attach()
	defer consumer.Close()

	const n = 100
	for i := 0; i < n; i++ {
		b.Publish("ch", notify.NotificationRecord{ID: fmt.Sprintf("n%d", i)})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < n; i++ {
		rec, err := consumer.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("n%d", i), rec.ID)
	}
}

func TestNextBlocksUntilPublish(t *testing.T) {
	b := bus.New()
	g := NewGateway(b, "ch")

	consumer := g.Attach()
	defer consumer.Close()

	got := make(chan notify.NotificationRecord, 1)
	go func() {
		rec, err := consumer.Next(context.Background())
		if err == nil {
			got <- rec
		}
	}()

	// Give the consumer time to reach the blocking wait.
	time.Sleep(20 * time.Millisecond)
	b.Publish("ch", notify.NotificationRecord{ID: "n1"})

	select {
	case rec := <-got:
		assert.Equal(t, "n1", rec.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not resume after publish")
	}
}

func TestNextReturnsOnContextCancel(t *testing.T) {
	b := bus.New()
	g := NewGateway(b, "ch")

	consumer := g.Attach()
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := consumer.Next(ctx)
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after cancel")
	}
}

func TestCloseWakesBlockedNext(t *testing.T) {
	b := bus.New()
	g := NewGateway(b, "ch")

	consumer := g.Attach()

	errs := make(chan error, 1)
	go func() {
		_, err := consumer.Next(context.Background())
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	consumer.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestCloseDetachesFromBus(t *testing.T) {
	b := bus.New()
	g := NewGateway(b, "ch")

	consumer := g.Attach()
	require.Equal(t, 1, b.SubscriberCount("ch"))

	consumer.Close()
	assert.Equal(t, 0, b.SubscriberCount("ch"))

	// Records published after close are discarded, not queued.
	b.Publish("ch", notify.NotificationRecord{ID: "n1"})
	_, err := consumer.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestIndependentConsumersEachSeeEverything(t *testing.T) {
	b := bus.New()
	g := NewGateway(b, "ch")

	first := g.Attach()
	defer first.Close()
	second := g.Attach()
	defer second.Close()

	b.Publish("ch", notify.NotificationRecord{ID: "n1"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rec, err := first.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "n1", rec.ID)

	rec, err = second.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "n1", rec.ID)
}
