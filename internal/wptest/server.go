// 包 wptest 提供内存版远端 CMS（REST 协议子集），供各包测试使用：
// 分页响应头、slug 去重、multipart 上传、评论审核与按资源注入故障。
package wptest

import (
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"go-press-sync/internal/config"
	"go-press-sync/internal/content"
	"go-press-sync/internal/remote"
)

const (
	Username = "editor"
	Secret   = "app-password"
)

type fault struct {
	method    string
	resource  string
	status    int
	remaining int
	// after 为真时先正常处理请求再丢弃响应，模拟"已生效但响应丢失"
	after bool
}

// Server 为内存站点。所有导出方法并发安全。
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	clock      time.Time
	nextID     int64
	posts      map[int64]*remote.Post
	categories map[int64]*remote.Category
	tags       map[int64]*remote.Tag
	media      map[int64]*remote.Media
	comments   map[int64]*remote.Comment
	uploads    map[int64][]byte
	faults     []*fault
	hits       map[string]int
	latency    time.Duration
	slow       map[string]time.Duration
}

// New 启动内存站点，测试结束时自动关闭。
func New(t interface {
	Helper()
	Cleanup(func())
}) *Server {
	t.Helper()
	s := &Server{
		clock:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		nextID:     100,
		posts:      map[int64]*remote.Post{},
		categories: map[int64]*remote.Category{},
		tags:       map[int64]*remote.Tag{},
		media:      map[int64]*remote.Media{},
		comments:   map[int64]*remote.Comment{},
		uploads:    map[int64][]byte{},
		hits:       map[string]int{},
		slow:       map[string]time.Duration{},
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

// Conn 返回指向本站点、启用全部种类的连接配置。
func (s *Server) Conn() config.Connection {
	return config.Connection{
		Name:        "test",
		BaseURL:     s.URL,
		APIPath:     config.DefaultAPIPath,
		Username:    Username,
		Secret:      Secret,
		SyncEnabled: true,
		Sync:        config.Toggles{Categories: true, Tags: true, Media: true, Comments: true},
	}
}

// Fail 让 method+resource 的后续 times 次请求返回 status；times<0 表示一直失败。
func (s *Server) Fail(method, resource string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, &fault{method: method, resource: resource, status: status, remaining: times})
}

// FailAfter 与 Fail 相同，但请求会先在站点上生效。
func (s *Server) FailAfter(method, resource string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, &fault{method: method, resource: resource, status: status, remaining: times, after: true})
}

// ClearFaults 清除全部故障注入。
func (s *Server) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = nil
}

// SetLatency 为每个请求增加固定延迟。
func (s *Server) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// Slow 为某资源的请求增加延迟，用于模拟超时。
func (s *Server) Slow(resource string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slow[resource] = d
}

// Hits 返回 method+resource 收到的请求数（含失败）。
func (s *Server) Hits(method, resource string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[method+" "+resource]
}

// TotalHits 返回全部请求数。
func (s *Server) TotalHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.hits {
		n += v
	}
	return n
}

func (s *Server) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *Server) id() int64 {
	s.nextID++
	return s.nextID
}

// ---- 测试数据 ----

// AddPost 直接写入一篇远端文章，返回分配 id 后的副本。
func (s *Server) AddPost(p remote.Post) remote.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.id()
	p.Modified = remote.Time{Time: s.tick()}
	if p.Date.IsZero() {
		p.Date = p.Modified
	}
	if p.Status == "" {
		p.Status = "publish"
	}
	if p.Slug == "" {
		p.Slug = s.uniqueSlug("posts", content.Slugify(p.Title.Text()), 0)
	}
	if p.Title.Rendered == "" {
		p.Title.Rendered = p.Title.Raw
	}
	if p.Content.Rendered == "" {
		p.Content.Rendered = p.Content.Raw
	}
	s.posts[p.ID] = &p
	return p
}

// EditPost 修改远端文章并推进修改时间。
func (s *Server) EditPost(id int64, fn func(*remote.Post)) remote.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.posts[id]
	fn(p)
	p.Modified = remote.Time{Time: s.tick()}
	return *p
}

// AddCategory 直接写入一个远端分类。
func (s *Server) AddCategory(c remote.Category) remote.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.id()
	if c.Slug == "" {
		c.Slug = s.uniqueSlug("categories", content.Slugify(c.Name), 0)
	}
	s.categories[c.ID] = &c
	return c
}

// EditCategory 修改远端分类。
func (s *Server) EditCategory(id int64, fn func(*remote.Category)) remote.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.categories[id]
	fn(c)
	return *c
}

// AddTag 直接写入一个远端标签。
func (s *Server) AddTag(t remote.Tag) remote.Tag {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.id()
	if t.Slug == "" {
		t.Slug = s.uniqueSlug("tags", content.Slugify(t.Name), 0)
	}
	s.tags[t.ID] = &t
	return t
}

// AddMedia 直接写入一个远端媒体条目。
func (s *Server) AddMedia(m remote.Media) remote.Media {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.id()
	m.Modified = remote.Time{Time: s.tick()}
	if m.Slug == "" {
		name := path.Base(m.SourceURL)
		m.Slug = s.uniqueSlug("media", content.Slugify(strings.TrimSuffix(name, path.Ext(name))), 0)
	}
	s.media[m.ID] = &m
	return m
}

// AddComment 直接写入一条评论。
func (s *Server) AddComment(c remote.Comment) remote.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.id()
	if c.Status == "" {
		c.Status = "hold"
	}
	c.Date = remote.Time{Time: s.tick()}
	s.comments[c.ID] = &c
	return c
}

// Posts 返回全部远端文章（按 id 升序）。
func (s *Server) Posts() []remote.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.posts, func(p remote.Post) int64 { return p.ID })
}

// Categories 返回全部远端分类。
func (s *Server) Categories() []remote.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.categories, func(c remote.Category) int64 { return c.ID })
}

// Tags 返回全部远端标签。
func (s *Server) Tags() []remote.Tag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.tags, func(t remote.Tag) int64 { return t.ID })
}

// Media 返回全部远端媒体。
func (s *Server) Media() []remote.Media {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.media, func(m remote.Media) int64 { return m.ID })
}

// Comment 返回指定评论。
func (s *Server) Comment(id int64) (remote.Comment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok {
		return remote.Comment{}, false
	}
	return *c, true
}

// Upload 返回上传到媒体 id 的二进制内容。
func (s *Server) Upload(id int64) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads[id]
}

func sortedValues[T any](m map[int64]*T, key func(T) int64) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, *v)
	}
	slices.SortFunc(out, func(a, b T) int { return int(key(a) - key(b)) })
	return out
}

// uniqueSlug 与远端行为一致：冲突时追加 -2、-3 …
func (s *Server) uniqueSlug(resource, slug string, self int64) string {
	if slug == "" {
		slug = "item"
	}
	taken := func(c string) bool {
		switch resource {
		case "posts":
			for id, p := range s.posts {
				if id != self && p.Slug == c {
					return true
				}
			}
		case "categories":
			for id, v := range s.categories {
				if id != self && v.Slug == c {
					return true
				}
			}
		case "tags":
			for id, v := range s.tags {
				if id != self && v.Slug == c {
					return true
				}
			}
		case "media":
			for id, v := range s.media {
				if id != self && v.Slug == c {
					return true
				}
			}
		}
		return false
	}
	c := slug
	for n := 2; taken(c); n++ {
		c = fmt.Sprintf("%s-%d", slug, n)
	}
	return c
}

// ---- HTTP ----

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.middleware)
	r.Get("/feed/", s.feed)
	r.Route(config.DefaultAPIPath, func(r chi.Router) {
		r.Get("/users/me", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, remote.User{ID: 1, Name: "Editor", Slug: Username})
		})
		r.Get("/users", func(w http.ResponseWriter, r *http.Request) {
			writeList(w, r, []remote.User{{ID: 1, Name: "Editor", Slug: Username}})
		})
		r.Get("/settings", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, remote.Settings{Title: "Test Site", URL: s.URL, Timezone: "UTC", PostsPerPage: 10})
		})

		r.Get("/posts", s.listPosts)
		r.Post("/posts", s.savePost)
		r.Put("/posts/{id}", s.savePost)
		r.Post("/posts/{id}", s.savePost)
		r.Get("/posts/{id}", s.getPost)
		r.Delete("/posts/{id}", s.deletePost)

		r.Get("/categories", s.listCategories)
		r.Post("/categories", s.saveCategory)
		r.Put("/categories/{id}", s.saveCategory)
		r.Post("/categories/{id}", s.saveCategory)

		r.Get("/tags", s.listTags)
		r.Post("/tags", s.saveTag)
		r.Put("/tags/{id}", s.saveTag)
		r.Post("/tags/{id}", s.saveTag)

		r.Get("/media", s.listMedia)
		r.Post("/media", s.uploadMedia)
		r.Put("/media/{id}", s.updateMedia)
		r.Post("/media/{id}", s.updateMedia)

		r.Get("/comments", s.listComments)
		r.Put("/comments/{id}", s.moderateComment)
		r.Post("/comments/{id}", s.moderateComment)
	})
	return r
}

// feed 输出已发布文章的 RSS（公开，无需认证）。
func (s *Server) feed(w http.ResponseWriter, r *http.Request) {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Test Site</title>`)
	for _, p := range s.Posts() {
		if p.Status != "publish" {
			continue
		}
		fmt.Fprintf(&b, `<item><title>%s</title><link>%s/?p=%d</link><pubDate>%s</pubDate></item>`,
			html.EscapeString(p.Title.Text()), s.URL, p.ID, p.Date.UTC().Format(time.RFC1123Z))
	}
	b.WriteString(`</channel></rss>`)
	w.Header().Set("Content-Type", "application/rss+xml; charset=UTF-8")
	_, _ = io.WriteString(w, b.String())
}

func resourceOf(p string) string {
	p = strings.TrimPrefix(p, config.DefaultAPIPath+"/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return p
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := resourceOf(r.URL.Path)
		s.mu.Lock()
		s.hits[r.Method+" "+res]++
		latency := s.latency + s.slow[res]
		status, after := 0, false
		for _, f := range s.faults {
			if f.remaining != 0 && f.method == r.Method && f.resource == res {
				if f.remaining > 0 {
					f.remaining--
				}
				status, after = f.status, f.after
				break
			}
		}
		s.mu.Unlock()
		if latency > 0 {
			select {
			case <-time.After(latency):
			case <-r.Context().Done():
				return
			}
		}
		if status != 0 && !after {
			writeError(w, status, "injected", "injected failure")
			return
		}
		api := strings.HasPrefix(r.URL.Path, config.DefaultAPIPath+"/")
		if u, p, ok := r.BasicAuth(); api && (!ok || u != Username || p != Secret) {
			writeError(w, http.StatusUnauthorized, "rest_not_logged_in", "invalid credentials")
			return
		}
		if after {
			next.ServeHTTP(httptest.NewRecorder(), r)
			writeError(w, status, "injected", "injected failure after commit")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"code": code, "message": msg, "data": map[string]int{"status": status}})
}

// writeList 按 page/per_page 分页并写入 X-WP-Total 响应头。
func writeList[T any](w http.ResponseWriter, r *http.Request, items []T) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	per, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if per <= 0 {
		per = 10
	}
	total := len(items)
	pages := (total + per - 1) / per
	if page > 1 && page > pages {
		writeError(w, http.StatusBadRequest, "rest_post_invalid_page_number", "page out of range")
		return
	}
	lo := min((page-1)*per, total)
	hi := min(lo+per, total)
	w.Header().Set("X-WP-Total", strconv.Itoa(total))
	w.Header().Set("X-WP-TotalPages", strconv.Itoa(pages))
	out := items[lo:hi]
	if out == nil {
		out = []T{}
	}
	writeJSON(w, http.StatusOK, out)
}

func pathID(r *http.Request) (int64, bool) {
	s := chi.URLParam(r, "id")
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil
}

func bySlug[T any](items []T, slug string, get func(T) string) []T {
	if slug == "" {
		return items
	}
	var out []T
	for _, it := range items {
		if get(it) == slug {
			out = append(out, it)
		}
	}
	return out
}

func (s *Server) listPosts(w http.ResponseWriter, r *http.Request) {
	items := s.Posts()
	if st := r.URL.Query().Get("status"); st != "any" {
		want := strings.Split(st, ",")
		if st == "" {
			want = []string{"publish"}
		}
		items = slices.DeleteFunc(items, func(p remote.Post) bool { return !slices.Contains(want, p.Status) })
	}
	writeList(w, r, bySlug(items, r.URL.Query().Get("slug"), func(p remote.Post) string { return p.Slug }))
}

func (s *Server) getPost(w http.ResponseWriter, r *http.Request) {
	id, _ := pathID(r)
	s.mu.Lock()
	p, ok := s.posts[id]
	var out remote.Post
	if ok {
		out = *p
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "rest_post_invalid_id", "invalid post id")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) savePost(w http.ResponseWriter, r *http.Request) {
	var in remote.PostInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "rest_invalid_json", err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, update := pathID(r)
	p := &remote.Post{}
	if update {
		var ok bool
		if p, ok = s.posts[id]; !ok {
			writeError(w, http.StatusNotFound, "rest_post_invalid_id", "invalid post id")
			return
		}
	} else {
		p.ID = s.id()
		p.Author = 1
	}
	switch in.Status {
	case "draft", "pending", "publish", "future", "private":
	default:
		writeError(w, http.StatusBadRequest, "rest_invalid_param", "invalid status")
		return
	}
	p.Title = remote.Rendered{Raw: in.Title, Rendered: in.Title}
	p.Content = remote.Rendered{Raw: in.Content, Rendered: in.Content}
	p.Excerpt = remote.Rendered{Raw: in.Excerpt, Rendered: in.Excerpt}
	p.Status = in.Status
	p.FeaturedMedia = in.FeaturedMedia
	p.Categories = in.Categories
	p.Tags = in.Tags
	slug := in.Slug
	if slug == "" {
		slug = content.Slugify(in.Title)
	}
	p.Slug = s.uniqueSlug("posts", slug, p.ID)
	p.Modified = remote.Time{Time: s.tick()}
	if in.Date != nil {
		p.Date = *in.Date
	} else if p.Date.IsZero() {
		p.Date = p.Modified
	}
	s.posts[p.ID] = p
	status := http.StatusOK
	if !update {
		status = http.StatusCreated
	}
	writeJSON(w, status, p)
}

func (s *Server) deletePost(w http.ResponseWriter, r *http.Request) {
	id, _ := pathID(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		writeError(w, http.StatusNotFound, "rest_post_invalid_id", "invalid post id")
		return
	}
	if r.URL.Query().Get("force") == "true" {
		delete(s.posts, id)
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "previous": p})
		return
	}
	p.Status = "trash"
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	writeList(w, r, bySlug(s.Categories(), r.URL.Query().Get("slug"), func(c remote.Category) string { return c.Slug }))
}

func (s *Server) saveCategory(w http.ResponseWriter, r *http.Request) {
	var in remote.TermInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.Name) == "" {
		writeError(w, http.StatusBadRequest, "rest_missing_callback_param", "name required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, update := pathID(r)
	c := &remote.Category{}
	if update {
		var ok bool
		if c, ok = s.categories[id]; !ok {
			writeError(w, http.StatusNotFound, "rest_term_invalid", "term does not exist")
			return
		}
	} else {
		c.ID = s.id()
	}
	c.Name = in.Name
	c.Description = in.Description
	if in.Parent != nil {
		c.Parent = *in.Parent
	}
	slug := in.Slug
	if slug == "" {
		slug = content.Slugify(in.Name)
	}
	c.Slug = s.uniqueSlug("categories", slug, c.ID)
	s.categories[c.ID] = c
	status := http.StatusOK
	if !update {
		status = http.StatusCreated
	}
	writeJSON(w, status, c)
}

func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	writeList(w, r, bySlug(s.Tags(), r.URL.Query().Get("slug"), func(t remote.Tag) string { return t.Slug }))
}

func (s *Server) saveTag(w http.ResponseWriter, r *http.Request) {
	var in remote.TermInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.Name) == "" {
		writeError(w, http.StatusBadRequest, "rest_missing_callback_param", "name required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, update := pathID(r)
	t := &remote.Tag{}
	if update {
		var ok bool
		if t, ok = s.tags[id]; !ok {
			writeError(w, http.StatusNotFound, "rest_term_invalid", "term does not exist")
			return
		}
	} else {
		t.ID = s.id()
	}
	t.Name = in.Name
	t.Description = in.Description
	slug := in.Slug
	if slug == "" {
		slug = content.Slugify(in.Name)
	}
	t.Slug = s.uniqueSlug("tags", slug, t.ID)
	s.tags[t.ID] = t
	status := http.StatusOK
	if !update {
		status = http.StatusCreated
	}
	writeJSON(w, status, t)
}

func (s *Server) listMedia(w http.ResponseWriter, r *http.Request) {
	writeList(w, r, bySlug(s.Media(), r.URL.Query().Get("slug"), func(m remote.Media) string { return m.Slug }))
}

func (s *Server) uploadMedia(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "rest_upload_no_data", err.Error())
		return
	}
	f, fh, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "rest_upload_no_data", "no data supplied")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil || len(data) == 0 {
		writeError(w, http.StatusBadRequest, "rest_upload_no_data", "empty file")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	name := fh.Filename
	base := strings.TrimSuffix(name, path.Ext(name))
	m := &remote.Media{
		ID:        s.id(),
		Slug:      s.uniqueSlug("media", content.Slugify(base), 0),
		MimeType:  fh.Header.Get("Content-Type"),
		MediaType: "file",
		AltText:   r.FormValue("alt_text"),
		SourceURL: "/wp-content/uploads/" + name,
	}
	if strings.HasPrefix(m.MimeType, "image/") {
		m.MediaType = "image"
	}
	title := r.FormValue("title")
	if title == "" {
		title = base
	}
	m.Title = remote.Rendered{Raw: title, Rendered: title}
	m.Caption = remote.Rendered{Raw: r.FormValue("caption"), Rendered: r.FormValue("caption")}
	m.Modified = remote.Time{Time: s.tick()}
	m.Date = m.Modified
	s.media[m.ID] = m
	s.uploads[m.ID] = data
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) updateMedia(w http.ResponseWriter, r *http.Request) {
	var in remote.MediaInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "rest_invalid_json", err.Error())
		return
	}
	id, _ := pathID(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.media[id]
	if !ok {
		writeError(w, http.StatusNotFound, "rest_post_invalid_id", "invalid media id")
		return
	}
	m.Title = remote.Rendered{Raw: in.Title, Rendered: in.Title}
	m.AltText = in.AltText
	m.Caption = remote.Rendered{Raw: in.Caption, Rendered: in.Caption}
	m.Modified = remote.Time{Time: s.tick()}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) listComments(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	items := sortedValues(s.comments, func(c remote.Comment) int64 { return c.ID })
	s.mu.Unlock()
	if st := r.URL.Query().Get("status"); st != "" && st != "any" {
		items = slices.DeleteFunc(items, func(c remote.Comment) bool { return c.Status != st })
	}
	if post, _ := strconv.ParseInt(r.URL.Query().Get("post"), 10, 64); post > 0 {
		items = slices.DeleteFunc(items, func(c remote.Comment) bool { return c.Post != post })
	}
	writeList(w, r, items)
}

func (s *Server) moderateComment(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "rest_invalid_json", err.Error())
		return
	}
	id, _ := pathID(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok {
		writeError(w, http.StatusNotFound, "rest_comment_invalid_id", "invalid comment id")
		return
	}
	c.Status = in.Status
	writeJSON(w, http.StatusOK, c)
}
