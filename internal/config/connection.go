package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"go-press-sync/internal/errs"
	"go-press-sync/internal/model"
)

// DefaultAPIPath 为远端 REST API 相对站点根的默认路径。
const DefaultAPIPath = "/wp-json/wp/v2"

// Connection 为单个站点的连接配置。引擎只读，显式传入每次适配器/编排器调用。
// 凭据不会出现在日志或 String() 输出中。
type Connection struct {
	Name         string        `yaml:"name" json:"name"`
	BaseURL      string        `yaml:"url" json:"remote_base_url"`
	APIPath      string        `yaml:"api_path" json:"api_path,omitempty"`
	Username     string        `yaml:"username" json:"username"`
	Secret       string        `yaml:"secret" json:"credential_secret"`
	SyncEnabled  bool          `yaml:"sync_enabled" json:"sync_enabled"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	Sync         Toggles       `yaml:"sync" json:"sync"`
	Backup       Backup        `yaml:"backup" json:"backup"`
}

// Toggles 为各实体种类的同步开关。文章始终同步。
type Toggles struct {
	Categories bool `yaml:"categories" json:"categories"`
	Tags       bool `yaml:"tags" json:"tags"`
	Media      bool `yaml:"media" json:"media"`
	Comments   bool `yaml:"comments" json:"comments"`
}

// Backup 为定时备份设置。Frequency: hourly|daily|weekly。
type Backup struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Frequency string `yaml:"frequency" json:"frequency"`
	Dir       string `yaml:"dir" json:"dir"`
	Keep      int    `yaml:"keep" json:"keep"` // 保留的备份文件数
}

// Validate 检查站点地址为合法的绝对 http(s) URL，并填充默认值。
func (c *Connection) Validate() error {
	if c.BaseURL == "" {
		return errors.New("SITE.url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("parse SITE.url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("SITE.url must be an absolute http(s) URL, got %q", c.BaseURL)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.APIPath == "" {
		c.APIPath = DefaultAPIPath
	}
	if c.Name == "" {
		c.Name = u.Host
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Minute
	}
	if c.Backup.Frequency == "" {
		c.Backup.Frequency = "daily"
	}
	if _, err := c.Backup.Period(); err != nil {
		return err
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = "./backups"
	}
	if c.Backup.Keep <= 0 {
		c.Backup.Keep = 14
	}
	return nil
}

// Configured 报告连接是否具备发起请求的最少信息。
func (c Connection) Configured() bool {
	return c.BaseURL != "" && c.Username != "" && c.Secret != ""
}

// APIRoot 返回 REST API 根地址（不带结尾斜杠）。
func (c Connection) APIRoot() string {
	p := c.APIPath
	if p == "" {
		p = DefaultAPIPath
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(p, "/")
}

// Enabled 报告某实体种类是否参与同步。
func (c Connection) Enabled(t model.EntityType) bool {
	switch t {
	case model.EntityPost:
		return true
	case model.EntityCategory:
		return c.Sync.Categories
	case model.EntityTag:
		return c.Sync.Tags
	case model.EntityMedia:
		return c.Sync.Media
	}
	return false
}

// Period 将备份频率解析为时间间隔。
func (b Backup) Period() (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(b.Frequency)) {
	case "hourly":
		return time.Hour, nil
	case "daily", "":
		return 24 * time.Hour, nil
	case "weekly":
		return 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unsupported backup frequency: %s", b.Frequency)
}

// String 输出不含凭据的摘要。
func (c Connection) String() string {
	return fmt.Sprintf("%s(%s user=%s secret=%s)", c.Name, c.BaseURL, c.Username, redact(c.Secret))
}

// LogValue 让 slog 输出时自动脱敏。
func (c Connection) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", c.Name),
		slog.String("url", c.BaseURL),
		slog.String("username", c.Username),
		slog.String("secret", redact(c.Secret)),
	)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// Connection 返回 scope 对应的站点连接；空 scope 表示默认站点。
// 未配置时返回 ErrConfigurationMissing 标记的错误。
func (c *Config) Connection(scope string) (Connection, error) {
	if c == nil || !c.Site.Configured() {
		return Connection{}, errs.ConfigurationMissing(scope)
	}
	if scope != "" && !strings.EqualFold(scope, c.Site.Name) {
		return Connection{}, errs.ConfigurationMissing(scope)
	}
	return c.Site, nil
}
