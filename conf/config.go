package conf

import (
	"fmt"
	"gopkg.in/yaml.v3"
	"os"
	"time"
)

// 配置加载（API密钥等）

type WebhookConfig struct {
	// 为空时不校验 X-Signature
	Secret string `yaml:"secret"`
}

type Okx struct {
	ApiKey    string        `yaml:"apiKey"`
	SecretKey string        `yaml:"secretKey"`
	Password  string        `yaml:"password"`
	Simulated bool          `yaml:"simulated"`
	BaseURL   string        `yaml:"base-url"`
	Timeout   time.Duration `yaml:"timeout"`
}

type Db struct {
	DbName   string `yaml:"dbname"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TradingConfig 下单、风控相关配置
type TradingConfig struct {
	DefaultAmount   float64       `yaml:"default-amount"`  // 首次买入默认使用的USDT
	QuoteCurrency   string        `yaml:"quote-currency"`  // 计价币，默认 USDT
	Cooldown        time.Duration `yaml:"cooldown"`        // 相同 symbol+action+scat 的最小间隔
	DailyTradeLimit int           `yaml:"daily-limit"`     // 每日最大成交笔数，0 表示不限制
	StopLossPct     float64       `yaml:"stop-loss-pct"`   // 止损百分比，0.5 表示 0.5%
	TakeProfitPct   float64       `yaml:"take-profit-pct"` // 止盈百分比
	KeyPrefix       string        `yaml:"key-prefix"`      // redis key 前缀
	ReservationTTL  time.Duration `yaml:"reservation-ttl"` // 开仓预占的过期时间
	DryRun          bool          `yaml:"dry-run"`         // 使用模拟交易所
}

type LogConfig struct {
	Level      string `yaml:"level"`
	FileName   string `yaml:"file-name"`
	TimeFormat string `yaml:"time-format"`
	MaxSize    int    `yaml:"max-size"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAge     int    `yaml:"max-age"`
	Compress   bool   `yaml:"compress"`
	LocalTime  bool   `yaml:"local-time"`
	Console    bool   `yaml:"console"`
}

// RedisConfig is used to configure redis
type RedisConfig struct {
	Addr         string `yaml:"address"`
	Password     string `yaml:"password"`
	Db           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool-size"`
	MinIdleConns int    `yaml:"min-idle-conns"`
	IdleTimeout  int    `yaml:"idle-timeout"`
}

type JwtConfig struct {
	Secret string `yaml:"secret"`
	JwtTtl int64  `yaml:"ttl"` // token 有效期（秒）
}

type KafkaConfig struct {
	Broker string `yaml:"broker"`
	Topic  string `yaml:"topic"`
}

// RecorderConfig 成交记录落盘
type RecorderConfig struct {
	Path string `yaml:"path"`
}

type Config struct {
	AppName      string `yaml:"app_name"`
	Listen       string `yaml:"listen"`
	Mode         string `yaml:"mode"`
	Language     string `yaml:"language"`
	MaxPingCount int    `yaml:"max-ping-count"`
	NodeId       int64  `yaml:"node-id"` // snowflake 节点，多实例部署时需要不同

	Webhook  WebhookConfig  `yaml:"webhook"`
	Okx      Okx            `yaml:"okx"`
	Db       Db             `yaml:"database"`
	Trading  TradingConfig  `yaml:"trading"`
	Log      LogConfig      `yaml:"log"`
	Jwt      JwtConfig      `yaml:"jwt"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Recorder RecorderConfig `yaml:"recorder"`
}

var AppConfig Config

func LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("Read config file error %w", err)
	}
	return Parse(data, &AppConfig)
}

// Parse 解析yaml并补齐默认值
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("Unmarshal config yaml error: %w", err)
	}
	cfg.applyDefaults()
	return nil
}

func (c *Config) applyDefaults() {
	if c.AppName == "" {
		c.AppName = "tradeflow"
	}
	if c.Listen == "" {
		c.Listen = ":12180"
	}
	if c.MaxPingCount == 0 {
		c.MaxPingCount = 10
	}
	if c.Okx.BaseURL == "" {
		c.Okx.BaseURL = "https://www.okx.com"
	}
	if c.Okx.Timeout == 0 {
		c.Okx.Timeout = 10 * time.Second
	}
	t := &c.Trading
	if t.QuoteCurrency == "" {
		t.QuoteCurrency = "USDT"
	}
	if t.DefaultAmount == 0 {
		t.DefaultAmount = 10
	}
	if t.KeyPrefix == "" {
		t.KeyPrefix = "tradeflow"
	}
	if t.ReservationTTL == 0 {
		t.ReservationTTL = 2 * time.Minute
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "trade_executed"
	}
	if c.Jwt.JwtTtl == 0 {
		c.Jwt.JwtTtl = 7 * 24 * 3600
	}
}
