package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // report.timezone must resolve on hosts without zoneinfo

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		SlowRequest     time.Duration `yaml:"slow_request" default:"2s"`
		CORSOrigins     []string      `yaml:"cors_origins"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Logging struct {
		Level           string        `yaml:"level" default:"info"`
		Format          string        `yaml:"format" default:"json" validate:"oneof=json console"`
		Output          string        `yaml:"output" default:"stdout"`
		CollectErrors   bool          `yaml:"collect_errors"`
		CollectInterval time.Duration `yaml:"collect_interval" default:"1m"`
		CollectTopic    string        `yaml:"collect_topic" default:"error_logs"`
	} `yaml:"logging"`
	// Transport selects how instructions reach the dispatch guard: "inline" or "kafka".
	Transport string `yaml:"transport" default:"inline" validate:"oneof=inline kafka"`
	Kafka     struct {
		Brokers          []string `yaml:"brokers"`
		InstructionTopic string   `yaml:"instruction_topic" default:"trade.instructions"`
		RequiredAcks     int      `yaml:"required_acks" default:"-1"`
		Compression      string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
		Producer         struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID     string        `yaml:"group_id" default:"tradefusion-dispatch"`
			RetryMax    int           `yaml:"retry_max" default:"3"`
			BackoffMin  time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax  time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic    string        `yaml:"dlq_topic"`
			MinBytes    int           `yaml:"min_bytes" default:"1"`
			MaxBytes    int           `yaml:"max_bytes" default:"10485760"`
			BatchSize   int           `yaml:"batch_size" default:"50"`
			BatchLinger time.Duration `yaml:"batch_linger" default:"500ms"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"tradefusion"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Postgres struct {
		Enabled bool   `yaml:"enabled"`
		DSN     string `yaml:"dsn"`
	} `yaml:"postgres"`
	Redis struct {
		Enabled   bool   `yaml:"enabled"`
		Addr      string `yaml:"addr" default:"localhost:6379"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		KeyPrefix string `yaml:"key_prefix" default:"tradefusion"`
	} `yaml:"redis"`
	Ticker struct {
		Enabled        bool              `yaml:"enabled"`
		APIKey         string            `yaml:"api_key"`
		WebSocketURL   string            `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
		Symbols        map[string]string `yaml:"symbols"`
		ReconnectDelay time.Duration     `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration     `yaml:"ping_interval" default:"30s"`
		ThrottleRPS    float64           `yaml:"throttle_rps" default:"20"`
		RecordBatch    int               `yaml:"record_batch" default:"500"`
		RecordInterval time.Duration     `yaml:"record_interval" default:"5s"`
	} `yaml:"ticker"`
	Analytics struct {
		IndicatorURL string        `yaml:"indicator_url"`
		ForecastURL  string        `yaml:"forecast_url"`
		SentimentURL string        `yaml:"sentiment_url"`
		Timeout      time.Duration `yaml:"timeout" default:"10s"`
		Retries      int           `yaml:"retries" default:"3"`
	} `yaml:"analytics"`
	Exchange struct {
		// Mode is "paper" for simulated fills or "live". PaperSpread synthesizes bid/ask
		// around the last trade when the feed carries no book.
		Mode        string        `yaml:"mode" default:"paper" validate:"oneof=paper live"`
		BaseURL     string        `yaml:"base_url"`
		APIKey      string        `yaml:"api_key"`
		SecretKey   string        `yaml:"secret_key"`
		Timeout     time.Duration `yaml:"timeout" default:"10s"`
		RPS         float64       `yaml:"rps" default:"8"`
		Burst       int           `yaml:"burst" default:"8"`
		PaperCash   float64       `yaml:"paper_cash" default:"50000"`
		PaperSpread float64       `yaml:"paper_spread" default:"0.001"`
		QuoteAsset  string        `yaml:"quote_asset" default:"JPY"`
	} `yaml:"exchange"`
	Notify struct {
		WebhookURL string        `yaml:"webhook_url"`
		Workers    int           `yaml:"workers" default:"2"`
		QueueSize  int           `yaml:"queue_size" default:"256"`
		RetryLimit int           `yaml:"retry_limit" default:"3"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"5s"`
	} `yaml:"notify"`
	Report struct {
		// DailyAt is the local HH:MM the daily report is sent. Empty disables it.
		DailyAt  string `yaml:"daily_at" default:"23:00"`
		Timezone string `yaml:"timezone" default:"UTC"`
	} `yaml:"report"`
	Strategy Strategy `yaml:"strategy"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func decode(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.Strategy.fillTables()
	return &c, nil
}

// Default returns a validated configuration built from defaults only.
func Default() *Config {
	c, err := Parse([]byte("{}"))
	if err != nil {
		panic(err)
	}
	return c
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	applyEnv(c)
	c.Strategy.fillTables()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func applyEnv(c *Config) {
	if v := os.Getenv("TRADEFUSION_ASSETS"); v != "" {
		c.Strategy.Assets = strings.Split(v, ",")
	}
	if v := os.Getenv("TRADEFUSION_TRANSPORT"); v != "" {
		c.Transport = v
	}
	if v := os.Getenv("TRADEFUSION_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("TRADEFUSION_POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("TRADEFUSION_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("TRADEFUSION_EXCHANGE_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("TRADEFUSION_EXCHANGE_SECRET_KEY"); v != "" {
		c.Exchange.SecretKey = v
	}
	if v := os.Getenv("TRADEFUSION_TICKER_API_KEY"); v != "" {
		c.Ticker.APIKey = v
	}
	if v := os.Getenv("TRADEFUSION_NOTIFY_WEBHOOK"); v != "" {
		c.Notify.WebhookURL = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Transport == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when transport is kafka")
	}
	if c.Exchange.Mode == "live" {
		if c.Exchange.BaseURL == "" || c.Exchange.APIKey == "" || c.Exchange.SecretKey == "" {
			return fmt.Errorf("exchange.base_url, api_key and secret_key are required in live mode")
		}
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required when postgres is enabled")
	}
	if c.Ticker.Enabled && c.Ticker.APIKey == "" {
		return fmt.Errorf("ticker.api_key is required when ticker is enabled")
	}
	if c.Report.DailyAt != "" {
		if _, err := time.Parse("15:04", c.Report.DailyAt); err != nil {
			return fmt.Errorf("report.daily_at must be HH:MM: %w", err)
		}
	}
	if _, err := time.LoadLocation(c.Report.Timezone); err != nil {
		return fmt.Errorf("report.timezone: %w", err)
	}
	if err := c.Strategy.Validate(); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	return nil
}

// UntilDailyReport returns the wait from now to the next daily report and the local date
// it covers. The wait is zero when the report is disabled.
func (c *Config) UntilDailyReport(now time.Time) (time.Duration, string) {
	if c.Report.DailyAt == "" {
		return 0, ""
	}
	at, err := time.Parse("15:04", c.Report.DailyAt)
	if err != nil {
		return 0, ""
	}
	local := now.In(c.reportLocation())
	next := time.Date(local.Year(), local.Month(), local.Day(), at.Hour(), at.Minute(), 0, 0, local.Location())
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(local), next.Format("2006-01-02")
}

// ReportDate is the calendar date of now in the report timezone.
func (c *Config) ReportDate(now time.Time) string {
	return now.In(c.reportLocation()).Format("2006-01-02")
}

func (c *Config) reportLocation() *time.Location {
	loc, err := time.LoadLocation(c.Report.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
