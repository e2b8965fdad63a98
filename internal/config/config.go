// 包 config 负责加载与校验应用配置（settings.yaml），
// 对外提供结构体 Config、站点连接配置 Connection 及默认值/合法性校验。
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 环境变量覆盖（优先级高于 settings.yaml），便于不把凭据写进配置文件。
const (
	EnvURL      = "PRESS_SYNC_URL"
	EnvUsername = "PRESS_SYNC_USERNAME"
	EnvSecret   = "PRESS_SYNC_SECRET"
)

type Config struct {
	Site        Connection  `yaml:"SITE"`
	Database    Database    `yaml:"DATABASE"`
	Concurrency Concurrency `yaml:"CONCURRENCY"`
	Proxy       Proxy       `yaml:"PROXY"`
	Content     Content     `yaml:"CONTENT"`
	HTTP        HTTP        `yaml:"HTTP"`
	LogLevel    string      `yaml:"LOG_LEVEL"`
	LogFormat   string      `yaml:"LOG_FORMAT"` // text|json|pretty
	LogLocale   string      `yaml:"LOG_LOCALE"` // zh-CN|en
	LogColor    string      `yaml:"LOG_COLOR"`  // auto|always|never
}

type Database struct {
	Type string `yaml:"type"` // sqlite (default)
	DSN  string `yaml:"dsn"`  // ./press-sync.db
}

// Concurrency 控制单次远端调用与条目级重试。
type Concurrency struct {
	Retry             int           `yaml:"retry"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 表示不限速
	ClaimLease        time.Duration `yaml:"claim_lease"`
	BreakerFailures   int           `yaml:"breaker_failures"`
	PageSize          int           `yaml:"page_size"`
}

type Proxy struct {
	HTTP  string `yaml:"http"`
	HTTPS string `yaml:"https"`
}

// Content 为内容归一化规则：摘要长度与需要剔除的 CSS 选择器（如分享按钮、相关文章挂件）。
type Content struct {
	ExcerptLength  int      `yaml:"excerpt_length"`
	StripSelectors []string `yaml:"strip_selectors"`
}

type HTTP struct {
	Addr string `yaml:"addr"`
}

// Default 返回带默认开关的配置；Load 在其基础上反序列化，未出现的键保持默认。
func Default() *Config {
	return &Config{
		Site: Connection{
			SyncEnabled: true,
			Sync:        Toggles{Categories: true, Tags: true, Media: true},
		},
	}
}

func Load(path string) (*Config, error) {
	// Load 从文件读取 YAML 并反序列化为 Config，同时进行基础校验与默认值填充。
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadEnvFile 读取可选的 .env 文件到进程环境；文件不存在时静默跳过。
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvURL)); v != "" {
		c.Site.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvUsername)); v != "" {
		c.Site.Username = v
	}
	if v := os.Getenv(EnvSecret); v != "" {
		c.Site.Secret = v
	}
}

func (c *Config) Validate() error {
	// Validate 负责合法性检查与默认值设置，避免在业务层分散判空逻辑。
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Type != "sqlite" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "./press-sync.db"
	}
	if c.Concurrency.Retry < 0 {
		return errors.New("CONCURRENCY.retry must be >= 0")
	}
	if c.Concurrency.RequestsPerSecond < 0 {
		return errors.New("CONCURRENCY.requests_per_second must be >= 0")
	}
	if c.Concurrency.RequestTimeout <= 0 {
		c.Concurrency.RequestTimeout = 20 * time.Second
	}
	if c.Concurrency.ClaimLease <= 0 {
		c.Concurrency.ClaimLease = 10 * time.Minute
	}
	if c.Concurrency.BreakerFailures <= 0 {
		c.Concurrency.BreakerFailures = 5
	}
	if c.Concurrency.PageSize <= 0 || c.Concurrency.PageSize > 100 {
		c.Concurrency.PageSize = 100
	}
	if c.Content.ExcerptLength <= 0 {
		c.Content.ExcerptLength = 55
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.LogFormat == "" {
		c.LogFormat = "pretty"
	}
	if c.LogLocale == "" {
		c.LogLocale = "zh-CN"
	}
	if c.LogColor == "" {
		c.LogColor = "auto"
	}
	// 站点未配置时允许加载成功，由各操作以 ConfigurationMissing 快速失败
	if c.Site.BaseURL == "" {
		return nil
	}
	return c.Site.Validate()
}
