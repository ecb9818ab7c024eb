package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"crypto-trading-bot-go/internal/events"
	"crypto-trading-bot-go/internal/models"
	"crypto-trading-bot-go/internal/trader"

	"go.uber.org/zap"
)

const (
	StateStopped  = "stopped"
	StateRunning  = "running"
	StateStopping = "stopping"
)

var (
	ErrAlreadyRunning = errors.New("bot is already running")
	ErrNotRunning     = errors.New("bot is not running")
)

// Runner is the trading loop driven by the controller. trader.Engine implements it.
type Runner interface {
	Run(ctx context.Context, onTick trader.TickFunc) error
}

// SettingsSource supplies the settings shown in the status.
type SettingsSource interface {
	Snapshot(ctx context.Context) (models.BotSettings, error)
}

// Status is a point-in-time view of the bot.
type Status struct {
	State     string     `json:"state"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Uptime    string     `json:"uptime,omitempty"`
	Strategy  string     `json:"strategy"`
	DryRun    bool       `json:"dry_run"`
	LastTick  *time.Time `json:"last_tick,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Ticks     uint64     `json:"ticks"`
}

// Controller starts and stops the trading engine in a background goroutine.
type Controller struct {
	runner    Runner
	settings  SettingsSource
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	state     string
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	lastTick  time.Time
	lastError string
	ticks     uint64
}

func NewController(runner Runner, settings SettingsSource, publisher events.Publisher, logger *zap.Logger) *Controller {
	return &Controller{
		runner:    runner,
		settings:  settings,
		publisher: publisher,
		logger:    logger.Named("bot"),
		now:       func() time.Time { return time.Now().UTC() },
		state:     StateStopped,
	}
}

// Start launches the engine. The engine outlives ctx; only Stop ends it.
func (c *Controller) Start(ctx context.Context) (Status, error) {
	c.mu.Lock()
	if c.state != StateStopped {
		c.mu.Unlock()
		return c.Status(ctx), ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.state = StateRunning
	c.cancel = cancel
	c.done = done
	c.startedAt = c.now()
	c.lastTick = time.Time{}
	c.lastError = ""
	c.ticks = 0
	c.mu.Unlock()

	go c.run(runCtx, done)

	c.logger.Info("Bot started")
	status := c.Status(ctx)
	c.publisher.Publish(events.BotStarted, status)
	return status, nil
}

func (c *Controller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	err := c.runner.Run(ctx, c.onTick)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	c.mu.Lock()
	stopping := c.state == StateStopping
	c.state = StateStopped
	c.cancel = nil
	if err != nil {
		c.lastError = err.Error()
	}
	c.mu.Unlock()

	switch {
	case err != nil:
		c.logger.Error("Bot stopped with error", zap.Error(err))
		c.publisher.Publish(events.BotError, map[string]string{"error": err.Error()})
	case !stopping:
		c.logger.Warn("Bot exited on its own")
	}
	c.publisher.Publish(events.BotStopped, c.Status(context.Background()))
}

func (c *Controller) onTick(result trader.TickResult, err error) {
	c.mu.Lock()
	c.ticks++
	c.lastTick = result.At
	if err != nil {
		c.lastError = err.Error()
	} else {
		c.lastError = ""
	}
	c.mu.Unlock()

	if err != nil {
		c.publisher.Publish(events.BotError, map[string]interface{}{"error": err.Error(), "tick": result})
	}
}

// Stop cancels the engine and waits for it to return or for ctx to expire.
func (c *Controller) Stop(ctx context.Context) (Status, error) {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return c.Status(ctx), ErrNotRunning
	}
	c.state = StateStopping
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	c.logger.Info("Stopping bot...")
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return c.Status(context.Background()), ctx.Err()
	}

	c.logger.Info("Bot stopped")
	return c.Status(ctx), nil
}

// Running reports whether the engine goroutine is alive.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != StateStopped
}

func (c *Controller) Status(ctx context.Context) Status {
	c.mu.Lock()
	status := Status{
		State:     c.state,
		LastError: c.lastError,
		Ticks:     c.ticks,
	}
	if c.state != StateStopped {
		started := c.startedAt
		status.StartedAt = &started
		status.Uptime = c.now().Sub(started).Round(time.Second).String()
	}
	if !c.lastTick.IsZero() {
		tick := c.lastTick
		status.LastTick = &tick
	}
	c.mu.Unlock()

	if settings, err := c.settings.Snapshot(ctx); err == nil {
		status.Strategy = settings.Strategy
		status.DryRun = settings.DryRun
	}
	return status
}
