package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crypto-trading-bot-go/internal/events"
	"crypto-trading-bot-go/internal/models"
	"crypto-trading-bot-go/internal/trader"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRunner struct {
	ticks   int
	tickErr error
	exitErr error
	started chan struct{}
}

func (r *fakeRunner) Run(ctx context.Context, onTick trader.TickFunc) error {
	for i := 0; i < r.ticks; i++ {
		onTick(trader.TickResult{At: time.Now().UTC(), Strategy: "dip"}, r.tickErr)
	}
	close(r.started)
	if r.exitErr != nil {
		return r.exitErr
	}
	<-ctx.Done()
	return ctx.Err()
}

type fakeSettings struct{}

func (fakeSettings) Snapshot(context.Context) (models.BotSettings, error) {
	return models.BotSettings{Strategy: "dip", DryRun: true}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(eventType string, _ interface{}) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return true
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func newTestController(runner *fakeRunner) (*Controller, *recordingPublisher) {
	runner.started = make(chan struct{})
	pub := &recordingPublisher{}
	return NewController(runner, fakeSettings{}, pub, zap.NewNop()), pub
}

func TestController_StartStop(t *testing.T) {
	// Arrange
	runner := &fakeRunner{ticks: 2}
	ctrl, pub := newTestController(runner)
	ctx := context.Background()

	// Act
	status, err := ctrl.Start(ctx)
	require.NoError(t, err)
	<-runner.started

	// Assert
	assert.Equal(t, StateRunning, status.State)
	assert.NotNil(t, status.StartedAt)
	assert.Equal(t, "dip", status.Strategy)
	assert.True(t, status.DryRun)
	assert.True(t, ctrl.Running())

	running := ctrl.Status(ctx)
	assert.Equal(t, uint64(2), running.Ticks)
	assert.NotNil(t, running.LastTick)

	_, err = ctrl.Start(ctx)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	status, err = ctrl.Stop(stopCtx)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, status.State)
	assert.Nil(t, status.StartedAt)
	assert.False(t, ctrl.Running())

	assert.Equal(t, []string{events.BotStarted, events.BotStopped}, pub.Types())
}

func TestController_StopWhenStopped(t *testing.T) {
	ctrl, _ := newTestController(&fakeRunner{})

	status, err := ctrl.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.Equal(t, StateStopped, status.State)
}

func TestController_StartOutlivesRequestContext(t *testing.T) {
	runner := &fakeRunner{}
	ctrl, _ := newTestController(runner)

	reqCtx, cancel := context.WithCancel(context.Background())
	_, err := ctrl.Start(reqCtx)
	require.NoError(t, err)
	<-runner.started
	cancel()

	time.Sleep(20 * time.Millisecond)
	assert.True(t, ctrl.Running())

	_, err = ctrl.Stop(context.Background())
	require.NoError(t, err)
}

func TestController_RunnerError(t *testing.T) {
	runner := &fakeRunner{exitErr: errors.New("could not get exchange info")}
	ctrl, pub := newTestController(runner)

	_, err := ctrl.Start(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return !ctrl.Running() }, time.Second, 5*time.Millisecond)

	status := ctrl.Status(context.Background())
	assert.Equal(t, StateStopped, status.State)
	assert.Equal(t, "could not get exchange info", status.LastError)
	assert.Eventually(t, func() bool {
		types := pub.Types()
		return len(types) == 3 && types[1] == events.BotError && types[2] == events.BotStopped
	}, time.Second, 5*time.Millisecond)

	// A failed run can be restarted.
	runner.exitErr = nil
	runner.started = make(chan struct{})
	_, err = ctrl.Start(context.Background())
	require.NoError(t, err)
	<-runner.started
	_, err = ctrl.Stop(context.Background())
	require.NoError(t, err)
}

func TestController_TickErrorsAreRecorded(t *testing.T) {
	runner := &fakeRunner{ticks: 1, tickErr: errors.New("API down")}
	ctrl, pub := newTestController(runner)

	_, err := ctrl.Start(context.Background())
	require.NoError(t, err)
	<-runner.started

	status := ctrl.Status(context.Background())
	assert.Equal(t, "API down", status.LastError)
	assert.Equal(t, uint64(1), status.Ticks)
	assert.Contains(t, pub.Types(), events.BotError)

	_, err = ctrl.Stop(context.Background())
	require.NoError(t, err)
}
