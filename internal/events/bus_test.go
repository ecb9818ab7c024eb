package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func TestBus_DeliversByTypeAndWildcard(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 16)

	trades := &recorder{}
	all := &recorder{}
	bus.Subscribe(TradeCreated, trades.handle)
	bus.SubscribeAll(all.handle)

	assert.True(t, bus.Publish(TradeCreated, map[string]int{"id": 1}))
	assert.True(t, bus.Publish(SettingsUpdated, nil))
	require.NoError(t, bus.Shutdown(context.Background()))

	assert.Equal(t, []string{TradeCreated}, trades.types())
	assert.Equal(t, []string{TradeCreated, SettingsUpdated}, all.types())

	first := all.events[0]
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.Timestamp.IsZero())

	stats := bus.Stats()
	assert.Equal(t, uint64(2), stats.Published)
	assert.Equal(t, uint64(3), stats.Delivered)
	assert.Equal(t, 2, stats.Subscribers)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 16)
	rec := &recorder{}
	id := bus.Subscribe(BotStarted, rec.handle)
	bus.Unsubscribe(id)

	require.NoError(t, bus.PublishSync(BotStarted, nil))
	assert.Empty(t, rec.types())
	assert.Equal(t, 0, bus.Stats().Subscribers)
}

func TestBus_PublishDropsWhenFull(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 1)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.SubscribeAll(func(Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	require.True(t, bus.Publish(BotStarted, nil))
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not pick up the first event")
	}

	assert.True(t, bus.Publish(BotStopped, nil), "one slot is free")
	assert.False(t, bus.Publish(BotError, nil), "queue is full")
	assert.Equal(t, uint64(1), bus.Stats().Dropped)

	close(release)
	require.NoError(t, bus.Shutdown(context.Background()))
}

func TestBus_RecoversFromPanickingHandler(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 4)
	rec := &recorder{}
	bus.Subscribe(TradeDeleted, func(Event) { panic("boom") })
	bus.Subscribe(TradeDeleted, rec.handle)

	require.NoError(t, bus.PublishSync(TradeDeleted, nil))
	assert.Equal(t, []string{TradeDeleted}, rec.types())
}

func TestBus_ClosedRejectsPublish(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 4)
	require.NoError(t, bus.Shutdown(context.Background()))
	require.NoError(t, bus.Shutdown(context.Background()), "shutdown is idempotent")

	assert.False(t, bus.Publish(TradeCreated, nil))
	assert.ErrorIs(t, bus.PublishSync(TradeCreated, nil), ErrBusClosed)
}
