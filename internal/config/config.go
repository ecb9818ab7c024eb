package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Binance   Binance   `mapstructure:"binance"`
	Trading   Trading   `mapstructure:"trading"`
	Logger    Logger    `mapstructure:"logger"`
	Server    Server    `mapstructure:"server"`
	Database  Database  `mapstructure:"database"`
	WebSocket WebSocket `mapstructure:"websocket"`
}

// Binance holds the configuration for the Binance API.
type Binance struct {
	ApiKey         string        `mapstructure:"apiKey"`
	SecretKey      string        `mapstructure:"secretKey"`
	Testnet        bool          `mapstructure:"testnet"`
	BaseURL        string        `mapstructure:"base_url"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	RecvWindow     int           `mapstructure:"recv_window"`
	MaxRetries     int           `mapstructure:"max_retries"`
	SymbolCacheTTL time.Duration `mapstructure:"symbol_cache_ttl"`
}

// HasCredentials reports whether signed endpoints can be called.
func (b Binance) HasCredentials() bool {
	return b.ApiKey != "" && b.SecretKey != ""
}

// Server holds the configuration for the web server.
type Server struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// Database holds the configuration for the database.
type Database struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// Trading holds the defaults used to seed the bot settings row.
type Trading struct {
	QuoteAsset    string   `mapstructure:"quote_asset"`
	Symbols       []string `mapstructure:"symbols"`
	TradeAmount   float64  `mapstructure:"trade_amount"`
	TakeProfit    float64  `mapstructure:"take_profit"`
	StopLoss      float64  `mapstructure:"stop_loss"`
	EntryDrop     float64  `mapstructure:"entry_drop"`
	MaxOpenTrades int      `mapstructure:"max_open_trades"`
	FeeRate       float64  `mapstructure:"fee_rate"`
	DryRun        bool     `mapstructure:"dry_run"`
	TickInterval  int      `mapstructure:"tick_interval"`
	Strategy      string   `mapstructure:"strategy"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	BufferSize int    `mapstructure:"buffer_size"`
	SpillFile  string `mapstructure:"spill_file"`
}

// WebSocket holds the configuration for the live event stream.
type WebSocket struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	SendBuffer        int           `mapstructure:"send_buffer"`
	Backlog           int           `mapstructure:"backlog"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("binance.rate_limit", 20)      // requests per second
	v.SetDefault("binance.rate_limit_burst", 5) // burst size
	v.SetDefault("binance.recv_window", 5000)
	v.SetDefault("binance.max_retries", 3)
	v.SetDefault("binance.symbol_cache_ttl", 10*time.Minute)

	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/trading_bot.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.buffer_size", 1000)

	v.SetDefault("websocket.heartbeat_interval", 30*time.Second)
	v.SetDefault("websocket.stale_after", 90*time.Second)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.backlog", 50)

	v.SetDefault("trading.quote_asset", "USDT")
	v.SetDefault("trading.symbols", []string{"BTCUSDT", "ETHUSDT"})
	v.SetDefault("trading.trade_amount", 50)
	v.SetDefault("trading.take_profit", 2)
	v.SetDefault("trading.stop_loss", 1)
	v.SetDefault("trading.entry_drop", 1)
	v.SetDefault("trading.max_open_trades", 3)
	v.SetDefault("trading.fee_rate", 0.001)
	v.SetDefault("trading.dry_run", true)
	v.SetDefault("trading.tick_interval", 30)
	v.SetDefault("trading.strategy", "dip")
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is not an error; defaults and the environment still apply.
func LoadConfig(path string) (config Config, err error) {
	// .env is optional, it only seeds the process environment.
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("failed to read config: %w", err)
		}
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("failed to decode config: %w", err)
	}

	return config, config.Validate()
}

// Validate checks the values that would otherwise fail late at runtime.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.WebSocket.HeartbeatInterval <= 0 {
		return errors.New("websocket.heartbeat_interval must be positive")
	}
	if c.WebSocket.StaleAfter <= c.WebSocket.HeartbeatInterval {
		return errors.New("websocket.stale_after must exceed the heartbeat interval")
	}
	if c.Trading.TickInterval <= 0 {
		return errors.New("trading.tick_interval must be positive")
	}
	return nil
}
