// 包 logx 是对标准库 slog 的薄封装：
// - 支持级别/格式/语言/颜色配置
// - 提供 pretty 中文输出（[调试]/[信息]/[警告]/[错误]）
// - 通过 Debugf/Infof/Warnf/Errorf 暴露格式化日志，Info/Warn 等暴露结构化日志
// - 键名为 secret/password/authorization 等的属性一律输出为 ***，
//   config.Connection 另通过 slog.LogValuer 自行脱敏
package logx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Init 根据 level/format/locale/colorMode 初始化全局日志器，输出到标准输出。
func Init(level, format, locale, colorMode string) {
	InitWriter(os.Stdout, level, format, locale, colorMode)
}

// InitWriter 同 Init，但输出到指定 Writer（测试或重定向到文件时使用）。
func InitWriter(w io.Writer, level, format, locale, colorMode string) {
	lv := parseSlogLevel(level)
	opts := &slog.HandlerOptions{Level: lv, ReplaceAttr: redactAttr}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "pretty", "":
		handler = NewPrettyHandler(w, lv, locale, colorMode)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// sensitiveKeys 为需要脱敏的属性键（小写，匹配最后一级键名）。
var sensitiveKeys = map[string]bool{
	"secret":            true,
	"credential_secret": true,
	"password":          true,
	"app_password":      true,
	"authorization":     true,
	"token":             true,
}

// redactAttr 为 slog.HandlerOptions.ReplaceAttr，PrettyHandler 也复用它。
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] && a.Value.Kind() != slog.KindGroup {
		if a.Value.String() == "" {
			return a
		}
		return slog.String(a.Key, "***")
	}
	return a
}

// parseSlogLevel 将字符串级别解析为 slog.Leveler。
func parseSlogLevel(s string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "none", "silent", "off":
		var l slog.Level = 100 // silence all
		return l
	case "info", "":
		fallthrough
	default:
		return slog.LevelInfo
	}
}

// 便捷函数：格式化并按级别输出
func Debugf(format string, v ...any) { slog.Debug(fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { slog.Info(fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { slog.Warn(fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { slog.Error(fmt.Sprintf(format, v...)) }

// 结构化：消息 + 键值对，例如 logx.Warn("推送失败", "entity", "post", "local_id", id)
func Debug(msg string, args ...any) { slog.Debug(msg, args...) }
func Info(msg string, args ...any)  { slog.Info(msg, args...) }
func Warn(msg string, args ...any)  { slog.Warn(msg, args...) }
func Error(msg string, args ...any) { slog.Error(msg, args...) }

// With 返回携带固定属性的 Logger，例如按实体种类区分的编排器日志。
func With(args ...any) *slog.Logger { return slog.Default().With(args...) }

// PrettyHandler：最小可用的中文美化输出（可选彩色），仅用于人读；支持中英文标签。
type PrettyHandler struct {
	w      io.Writer
	level  slog.Leveler
	locale string
	color  bool
	mu     *sync.Mutex
	attrs  []slog.Attr
	group  string
}

// NewPrettyHandler 创建中文美化 Handler。
func NewPrettyHandler(w io.Writer, lv slog.Leveler, locale string, colorMode string) slog.Handler {
	if w == nil {
		w = os.Stdout
	}
	if locale == "" {
		locale = "zh-CN"
	}
	ph := &PrettyHandler{w: w, level: lv, locale: locale, mu: &sync.Mutex{}}
	ph.color = shouldColor(w, colorMode)
	return ph
}

// Enabled 根据配置的最低级别判定是否输出。
func (h *PrettyHandler) Enabled(_ context.Context, l slog.Level) bool {
	if ll, ok := h.level.(slog.Level); ok {
		return l >= ll && ll < 100
	}
	return true
}

// Handle 格式化输出：时间 + 等级 + 消息 + 扁平化属性
func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var buf bytes.Buffer
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	buf.WriteString(ts.Format("2006-01-02 15:04:05"))
	buf.WriteString(" ")
	lvl := levelLabel(h.locale, r.Level)
	if h.color {
		lvl = colorize(lvl, r.Level)
	}
	buf.WriteString(lvl)
	buf.WriteString(" ")
	buf.WriteString(r.Message)
	attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, h.qualify(a))
		return true
	})
	for _, a := range attrs {
		writeAttr(&buf, "", a)
	}
	buf.WriteByte('\n')
	_, err := h.w.Write(buf.Bytes())
	return err
}

// writeAttr 将属性展平成 k=v；分组与 LogValuer 递归展开。
func writeAttr(buf *bytes.Buffer, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			writeAttr(buf, key, ga)
		}
		return
	}
	a = redactAttr(nil, slog.Attr{Key: a.Key, Value: v})
	fmt.Fprintf(buf, " %s=%s", key, a.Value.String())
}

func (h *PrettyHandler) qualify(a slog.Attr) slog.Attr {
	if h.group != "" {
		a.Key = h.group + "." + a.Key
	}
	return a
}

// WithAttrs 附加属性。
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	cp.attrs = append(cp.attrs, h.attrs...)
	for _, a := range attrs {
		cp.attrs = append(cp.attrs, h.qualify(a))
	}
	return &cp
}

// WithGroup 属性分组：后续属性键带 group 前缀。
func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	cp := *h
	if cp.group == "" {
		cp.group = name
	} else {
		cp.group += "." + name
	}
	return &cp
}

type label struct{ zh, en, color string }

var labels = map[slog.Level]label{
	slog.LevelDebug: {"[调试]", "[DEBUG]", "90"},
	slog.LevelInfo:  {"[信息]", "[INFO]", "36"},
	slog.LevelWarn:  {"[警告]", "[WARN]", "33"},
	slog.LevelError: {"[错误]", "[ERROR]", "31"},
}

func levelLabel(locale string, l slog.Level) string {
	lb, ok := labels[l]
	if !ok {
		return fmt.Sprintf("[L%d]", l)
	}
	if strings.HasPrefix(strings.ToLower(locale), "zh") {
		return lb.zh
	}
	return lb.en
}

// shouldColor 判断是否启用颜色：遵循 LOG_COLOR 与 NO_COLOR。
func shouldColor(w io.Writer, mode string) bool {
	if v := os.Getenv("NO_COLOR"); v != "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "always":
		return true
	case "never":
		return false
	case "auto", "":
		// 仅在字符设备上启用彩色输出
		if f, ok := w.(*os.File); ok {
			if fi, err := f.Stat(); err == nil {
				return (fi.Mode() & os.ModeCharDevice) != 0
			}
		}
		return false
	default:
		return false
	}
}

func colorize(s string, l slog.Level) string {
	code := "0"
	if lb, ok := labels[l]; ok {
		code = lb.color
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}
