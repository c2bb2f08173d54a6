package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"

	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

type Config struct {
	HTTPAddr      string        `env:"HTTP_ADDR" envDefault:":8080"`
	DBDSN         string        `env:"DB_DSN"`
	StoreDriver   string        `env:"STORE_DRIVER" envDefault:"postgres"`
	SQLitePath    string        `env:"SQLITE_PATH" envDefault:"riskengine.db"`
	JWTIssuer     string        `env:"JWT_ISSUER" envDefault:"lv-riskengine"`
	JWTSecret     string        `env:"JWT_SECRET"`
	JWTTTL        time.Duration `env:"JWT_TTL" envDefault:"24h"`
	InternalToken string        `env:"INTERNAL_API_TOKEN"`
	WSOrigin      string        `env:"WS_ORIGIN" envDefault:"*"`
	Mode          string        `env:"ENGINE_MODE" envDefault:"development"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`

	QuoteStaleAfter    time.Duration `env:"QUOTE_STALE_AFTER" envDefault:"10s"`
	PriorityInterval   time.Duration `env:"PRIORITY_INTERVAL" envDefault:"400ms"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" envDefault:"2s"`
	SecondaryInterval  time.Duration `env:"SECONDARY_INTERVAL" envDefault:"1s"`
	FetchTimeout       time.Duration `env:"FETCH_TIMEOUT" envDefault:"1500ms"`
	SweepBatchSize     int           `env:"SWEEP_BATCH_SIZE" envDefault:"5"`
	SecondaryFreshness time.Duration `env:"SECONDARY_FRESHNESS" envDefault:"5s"`
	PrioritySymbols    []string      `env:"PRIORITY_SYMBOLS" envSeparator:"," envDefault:"EURUSD,GBPUSD,USDJPY,XAUUSD"`
	MonitorInterval    time.Duration `env:"MONITOR_INTERVAL"`

	PrimaryFeedURL string  `env:"PRIMARY_FEED_URL"`
	PrimaryFeedRPS float64 `env:"PRIMARY_FEED_RPS" envDefault:"20"`
	BinanceBaseURL string  `env:"BINANCE_BASE_URL"`
	BinanceEnabled bool    `env:"BINANCE_ENABLED" envDefault:"true"`

	InstrumentsFile string        `env:"INSTRUMENTS_FILE"`
	PolicyFile      string        `env:"POLICY_FILE"`
	PolicyCacheTTL  time.Duration `env:"POLICY_CACHE_TTL" envDefault:"5s"`

	DefaultLeverage    int64   `env:"DEFAULT_LEVERAGE" envDefault:"100"`
	StopOutLevel       float64 `env:"STOP_OUT_LEVEL" envDefault:"20"`
	TieBreak           string  `env:"TIE_BREAK" envDefault:"stop_loss"`
	PartialClosePolicy string  `env:"PARTIAL_CLOSE_POLICY" envDefault:"retain"`
	TriggerOnSynthetic bool    `env:"TRIGGER_ON_SYNTHETIC" envDefault:"false"`

	KafkaBrokers  []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic    string   `env:"KAFKA_TOPIC" envDefault:"risk-events"`
	PyroscopeAddr string   `env:"PYROSCOPE_ADDR"`
}

func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return c, fmt.Errorf("parse env: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Config) normalize() {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	c.TieBreak = strings.ToLower(strings.TrimSpace(c.TieBreak))
	c.PartialClosePolicy = strings.ToLower(strings.TrimSpace(c.PartialClosePolicy))
	symbols := c.PrioritySymbols[:0]
	for _, s := range c.PrioritySymbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			symbols = append(symbols, s)
		}
	}
	c.PrioritySymbols = symbols
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = 5
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = c.PriorityInterval
	}
}

func (c Config) Validate() error {
	if c.Mode != ModeDevelopment && c.Mode != ModeProduction {
		return errors.New("invalid ENGINE_MODE: use development or production")
	}
	if c.StoreDriver != StoreDriverPostgres && c.StoreDriver != StoreDriverSQLite {
		return errors.New("invalid STORE_DRIVER: use postgres or sqlite")
	}
	if c.TieBreak != "stop_loss" && c.TieBreak != "take_profit" {
		return errors.New("invalid TIE_BREAK: use stop_loss or take_profit")
	}
	if c.PartialClosePolicy != "retain" && c.PartialClosePolicy != "rebase" {
		return errors.New("invalid PARTIAL_CLOSE_POLICY: use retain or rebase")
	}
	var missing []string
	if c.StoreDriver == StoreDriverPostgres && c.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}
	if c.Mode == ModeProduction {
		if c.JWTSecret == "" {
			missing = append(missing, "JWT_SECRET")
		}
		if c.InternalToken == "" {
			missing = append(missing, "INTERNAL_API_TOKEN")
		}
	}
	if len(missing) > 0 {
		return errors.New("missing required env: " + strings.Join(missing, ","))
	}
	return nil
}
