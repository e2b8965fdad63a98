// 包 content 提供拉取内容的归一化：
// - 按配置的 CSS 选择器剔除远端渲染时注入的挂件（分享按钮、相关文章等）
// - HTML 转纯文本（实体解码）与按词数截断的摘要
// - 相对 URL 绝对化与 slug 生成
package content

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// Normalizer 为内容归一化规则。零值可用：不剔除任何元素，摘要 55 个词。
type Normalizer struct {
	ExcerptLength  int
	StripSelectors []string
}

// DefaultExcerptLength 与远端默认摘要长度一致。
const DefaultExcerptLength = 55

// Clean 剔除匹配 StripSelectors 的元素，返回 body 内的 HTML。
func (n Normalizer) Clean(html string) (string, error) {
	if strings.TrimSpace(html) == "" || len(n.StripSelectors) == 0 {
		return html, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse content html: %w", err)
	}
	for _, sel := range n.StripSelectors {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		doc.Find(sel).Remove()
	}
	out, err := doc.Find("body").Html()
	if err != nil {
		return "", fmt.Errorf("render content html: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// PlainText 返回 HTML 片段的纯文本（合并空白，解码实体）。
func PlainText(html string) string {
	if !strings.ContainsAny(html, "<&") {
		return collapse(html)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return collapse(html)
	}
	var parts []string
	doc.Find("body").Contents().Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "script" || goquery.NodeName(s) == "style" {
			return
		}
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return collapse(strings.Join(parts, " "))
}

// Excerpt 由正文生成摘要：取前 ExcerptLength 个词，截断时以 " …" 结尾。
func (n Normalizer) Excerpt(html string) string {
	limit := n.ExcerptLength
	if limit <= 0 {
		limit = DefaultExcerptLength
	}
	words := strings.Fields(PlainText(html))
	if len(words) <= limit {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:limit], " ") + " …"
}

func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }

// AbsURL 将 ref 按 base 解析为绝对地址；无法解析时原样返回。
func AbsURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	bu, err := url.Parse(base)
	if err != nil {
		return ref
	}
	ru, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return bu.ResolveReference(ru).String()
}

// Slugify 生成小写、以连字符分隔的 slug；非 ASCII 字母数字（如中文）原样保留。
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(PlainText(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
