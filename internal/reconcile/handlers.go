package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"go-press-sync/internal/content"
	"go-press-sync/internal/errs"
	"go-press-sync/internal/logx"
	"go-press-sync/internal/model"
	"go-press-sync/internal/remote"
	"go-press-sync/internal/status"
)

// item 为归一化后的远端实体。Modified 为零的种类（分类/标签）以 Fingerprint 判断变更。
type item struct {
	RemoteID    int64
	Slug        string
	Modified    time.Time
	Fingerprint string
	payload     any
}

// local 为推送候选的本地实体摘要。
type local struct {
	ID        string
	Slug      string
	UpdatedAt time.Time
}

// detail 为单条处理的附加信息：状态回退警告与未解析的引用数。
type detail struct {
	unresolved int
	warnings   []string
}

func (d *detail) warn(err error) {
	logx.Warnf("%v", err)
	d.warnings = append(d.warnings, err.Error())
}

func (d detail) message() string {
	parts := append([]string(nil), d.warnings...)
	if d.unresolved > 0 {
		parts = append(parts, fmt.Sprintf("%d unresolved reference(s), will retry", d.unresolved))
	}
	return strings.Join(parts, "; ")
}

func joinMessage(a, b string) string {
	if b == "" {
		return a
	}
	return a + "; " + b
}

// handler 为单个实体种类的读写与载荷转换。远端调用经 pass 的熔断与重试策略执行。
type handler interface {
	list(ctx context.Context, page, perPage int) ([]item, bool, error)
	findBySlug(ctx context.Context, slug string) (item, bool, error)
	locals(ctx context.Context) ([]local, error)
	apply(ctx context.Context, localID string, it item, stamp time.Time) (detail, error)
	create(ctx context.Context, localID string) (item, detail, error)
	update(ctx context.Context, localID string, remoteID int64) (item, detail, error)
}

func (p *pass) handler() handler {
	switch p.kind {
	case model.EntityCategory:
		return categoryHandler{p}
	case model.EntityTag:
		return tagHandler{p}
	case model.EntityMedia:
		return mediaHandler{p}
	default:
		return postHandler{p}
	}
}

func fingerprint(fields ...string) string {
	return strconv.FormatUint(xxhash.Sum64String(strings.Join(fields, "\x1f")), 16)
}

// remoteRefs 将本地引用翻译为远端 id；未映射的引用被丢弃，目标种类启用同步时计为未解析。
func (p *pass) remoteRefs(ctx context.Context, t model.EntityType, ids []string, d *detail) ([]int64, error) {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		m, err := p.o.maps.Find(ctx, t, id)
		if err != nil {
			return nil, errs.Wrapf(err, errs.ErrLocalPersistence, "resolve %s %s", t, id)
		}
		if m.Linked() {
			out = append(out, m.RemoteID)
			continue
		}
		if p.conn.Enabled(t) {
			d.unresolved++
		}
	}
	return out, nil
}

// localRefs 将远端引用翻译为本地 id，规则同 remoteRefs。
func (p *pass) localRefs(ctx context.Context, t model.EntityType, ids []int64, d *detail) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		m, err := p.o.maps.FindByRemote(ctx, t, id)
		if err != nil {
			return nil, errs.Wrapf(err, errs.ErrLocalPersistence, "resolve %s #%d", t, id)
		}
		if m != nil {
			out = append(out, m.LocalID)
			continue
		}
		if p.conn.Enabled(t) {
			d.unresolved++
		}
	}
	return out, nil
}

func first[T any](xs []T) (T, bool) {
	var zero T
	if len(xs) == 0 {
		return zero, false
	}
	return xs[0], true
}

func notFound(t model.EntityType, id string) error {
	return errs.Newf(errs.ErrLocalPersistence, "local %s %s not found", t, id)
}

func slugOr(slug, title string) string {
	if slug != "" {
		return slug
	}
	return content.Slugify(title)
}

// ---- posts ----

type postHandler struct{ p *pass }

func postItem(rp remote.Post) item {
	return item{RemoteID: rp.ID, Slug: rp.Slug, Modified: rp.Modified.Time, payload: rp}
}

func (h postHandler) list(ctx context.Context, page, perPage int) ([]item, bool, error) {
	var pg remote.Page[remote.Post]
	err := h.p.idempotent(ctx, func(ctx context.Context) error {
		var err error
		pg, err = h.p.o.remote.ListPosts(ctx, h.p.conn, remote.ListFilter{
			Page: page, PerPage: perPage, Status: []string{"any"}, Context: "edit", OrderBy: "id", Order: "asc",
		})
		return err
	})
	if err != nil {
		return nil, false, err
	}
	out := make([]item, 0, len(pg.Items))
	for _, rp := range pg.Items {
		out = append(out, postItem(rp))
	}
	return out, pg.More(), nil
}

func (h postHandler) findBySlug(ctx context.Context, slug string) (item, bool, error) {
	var pg remote.Page[remote.Post]
	err := h.p.idempotent(ctx, func(ctx context.Context) error {
		var err error
		pg, err = h.p.o.remote.ListPosts(ctx, h.p.conn, remote.ListFilter{Slug: slug, Status: []string{"any"}, Context: "edit", PerPage: 1})
		return err
	})
	if err != nil {
		return item{}, false, err
	}
	rp, ok := first(pg.Items)
	return postItem(rp), ok, nil
}

func (h postHandler) locals(ctx context.Context) ([]local, error) {
	ps, err := h.p.o.repo.ListPosts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]local, 0, len(ps))
	for _, lp := range ps {
		out = append(out, local{ID: lp.ID, Slug: slugOr(lp.Slug, lp.Title), UpdatedAt: lp.UpdatedAt})
	}
	return out, nil
}

func (h postHandler) apply(ctx context.Context, localID string, it item, stamp time.Time) (detail, error) {
	rp := it.payload.(remote.Post)
	var d detail
	st, err := status.CheckLocal(status.Remote(rp.Status))
	if err != nil {
		d.warn(fmt.Errorf("post #%d: %w", rp.ID, err))
	}
	cats, err := h.p.localRefs(ctx, model.EntityCategory, rp.Categories, &d)
	if err != nil {
		return d, err
	}
	tags, err := h.p.localRefs(ctx, model.EntityTag, rp.Tags, &d)
	if err != nil {
		return d, err
	}
	media, err := h.p.localRefs(ctx, model.EntityMedia, []int64{rp.FeaturedMedia}, &d)
	if err != nil {
		return d, err
	}
	featured, _ := first(media)

	norm := h.p.o.opts.Normalizer
	body := rp.Content.Raw
	if body == "" {
		if body, err = norm.Clean(rp.Content.Rendered); err != nil {
			body = rp.Content.Rendered
		}
	}
	title := rp.Title.Raw
	if title == "" {
		title = content.PlainText(rp.Title.Rendered)
	}
	excerpt := rp.Excerpt.Raw
	if excerpt == "" {
		excerpt = content.PlainText(rp.Excerpt.Rendered)
	}
	if excerpt == "" {
		excerpt = norm.Excerpt(body)
	}
	var author string
	if rp.Author > 0 {
		author = strconv.FormatInt(rp.Author, 10)
	}
	return d, h.p.o.repo.SavePost(ctx, model.Post{
		ID:              localID,
		Title:           title,
		Content:         body,
		Excerpt:         excerpt,
		Slug:            rp.Slug,
		Status:          st,
		Author:          author,
		CategoryIDs:     cats,
		TagIDs:          tags,
		FeaturedMediaID: featured,
		PublishedAt:     rp.Date.Time,
		UpdatedAt:       stamp,
	})
}

func (h postHandler) input(ctx context.Context, localID string) (remote.PostInput, detail, error) {
	var d detail
	lp, err := h.p.o.repo.GetPost(ctx, localID)
	if err != nil {
		return remote.PostInput{}, d, errs.Mark(err, errs.ErrLocalPersistence)
	}
	if lp == nil {
		return remote.PostInput{}, d, notFound(model.EntityPost, localID)
	}
	rs, err := status.CheckRemote(lp.Status)
	if err != nil {
		d.warn(fmt.Errorf("post %s: %w", lp.ID, err))
	}
	cats, err := h.p.remoteRefs(ctx, model.EntityCategory, lp.CategoryIDs, &d)
	if err != nil {
		return remote.PostInput{}, d, err
	}
	tags, err := h.p.remoteRefs(ctx, model.EntityTag, lp.TagIDs, &d)
	if err != nil {
		return remote.PostInput{}, d, err
	}
	media, err := h.p.remoteRefs(ctx, model.EntityMedia, []string{lp.FeaturedMediaID}, &d)
	if err != nil {
		return remote.PostInput{}, d, err
	}
	featured, _ := first(media)
	in := remote.PostInput{
		Title:         lp.Title,
		Content:       lp.Content,
		Excerpt:       lp.Excerpt,
		Slug:          lp.Slug,
		Status:        string(rs),
		FeaturedMedia: featured,
		Categories:    cats,
		Tags:          tags,
	}
	if !lp.PublishedAt.IsZero() && (rs == status.RemotePublish || rs == status.RemoteFuture) {
		in.Date = &remote.Time{Time: lp.PublishedAt}
	}
	return in, d, nil
}

func (h postHandler) create(ctx context.Context, localID string) (item, detail, error) {
	in, d, err := h.input(ctx, localID)
	if err != nil {
		return item{}, d, err
	}
	var rp remote.Post
	err = h.p.once(ctx, func(ctx context.Context) error {
		var err error
		rp, err = h.p.o.remote.CreatePost(ctx, h.p.conn, in)
		return err
	})
	return postItem(rp), d, err
}

func (h postHandler) update(ctx context.Context, localID string, remoteID int64) (item, detail, error) {
	in, d, err := h.input(ctx, localID)
	if err != nil {
		return item{}, d, err
	}
	var rp remote.Post
	err = h.p.idempotent(ctx, func(ctx context.Context) error {
		var err error
		rp, err = h.p.o.remote.UpdatePost(ctx, h.p.conn, remoteID, in)
		return err
	})
	return postItem(rp), d, err
}

// ---- categories ----

type categoryHandler struct{ p *pass }

func categoryItem(rc remote.Category) item {
	return item{
		RemoteID:    rc.ID,
		Slug:        rc.Slug,
		Fingerprint: fingerprint(rc.Name, rc.Slug, rc.Description, strconv.FormatInt(rc.Parent, 10)),
		payload:     rc,
	}
}

func (h categoryHandler) list(ctx context.Context, page, perPage int) ([]item, bool, error) {
	var pg remote.Page[remote.Category]
	err := h.p.idempotent(ctx, func(ctx context.Context) error {
		var err error
		pg, err = h.p.o.remote.ListCategories(ctx, h.p.conn, remote.ListFilter{Page: page, PerPage: perPage, OrderBy: "id", Order: "asc"})
		return err
	})
	if err != nil {
		return nil, false, err
	}
	out := make([]item, 0, len(pg.Items))
	for _, rc := range pg.Items {
		out = append(out, categoryItem(rc))
	}
	return out, pg.More(), nil
}

func (h categoryHandler) findBySlug(ctx context.Context, slug string) (item, bool, error) {
	var pg remote.Page[remote.Category]
	err := h.p.idempotent(ctx, func(ctx context.Context) error {
		var err error
		pg, err = h.p.o.remote.ListCategories(ctx, h.p.conn, remote.ListFilter{Slug: slug, PerPage: 1})
		return err
	})
	if err != nil {
		return item{}, false, err
	}
	rc, ok := first(pg.Items)
	return categoryItem(rc), ok, nil
}

func (h categoryHandler) locals(ctx context.Context) ([]local, error) {
	cs, err := h.p.o.repo.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]local, 0, len(cs))
	for _, c := range cs {
		out = append(out, local{ID: c.ID, Slug: slugOr(c.Slug, c.Name), UpdatedAt: c.UpdatedAt})
	}
	return out, nil
}

func (h categoryHandler) apply(ctx context.Context, localID string, it item, stamp time.Time) (detail, error) {
	rc := it.payload.(remote.Category)
	var d detail
	parents, err := h.p.localRefs(ctx, model.EntityCategory, []int64{rc.Parent}, &d)
	if err != nil {
		return d, err
	}
	parent, _ := first(parents)
	return d, h.p.o.repo.SaveCategory(ctx, model.Category{
		ID:          localID,
		Name:        content.PlainText(rc.Name),
		Slug:        rc.Slug,
		Description: rc.Description,
		ParentID:    parent,
		UpdatedAt:   stamp,
	})
}

func (h categoryHandler) input(ctx context.Context, localID string) (remote.TermInput, detail, error) {
	var d detail
	c, err := h.p.o.repo.GetCategory(ctx, localID)
	if err != nil {
		return remote.TermInput{}, d, errs.Mark(err, errs.ErrLocalPersistence)
	}
	if c == nil {
		return remote.TermInput{}, d, notFound(model.EntityCategory, localID)
	}
	parents, err := h.p.remoteRefs(ctx, model.EntityCategory, []string{c.ParentID}, &d)
	if err != nil {
		return remote.TermInput{}, d, err
	}
	parent, _ := first(parents)
	return remote.TermInput{Name: c.Name, Slug: c.Slug, Description: c.Description, Parent: &parent}, d, nil
}

func (h categoryHandler) create(ctx context.Context, localID string) (item, detail, error) {
	in, d, err := h.input(ctx, localID)
	if err != nil {
		return item{}, d, err
	}
	var rc remote.Category
	err = h.p.once(ctx, func(ctx context.Context) error {
		var err error
		rc, err = h.p.o.remote.CreateCategory(ctx, h.p.conn, in)
		return err
	})
	return categoryItem(rc), d, err
}

func (h categoryHandler) update(ctx context.Context, localID string, remoteID int64) (item, detail, error) {
	in, d, err := h.input(ctx, localID)
	if err != nil {
		return item{}, d, err
	}
	var rc remote.Category
	err = h.p.idempotent(ctx, func(ctx context.Context) error {
		var err error
		rc, err = h.p.o.remote.UpdateCategory(ctx, h.p.conn, remoteID, in)
		return err
	})
	return categoryItem(rc), d, err
}

// ---- tags ----

type tagHandler struct{ p *pass }

func tagItem(rt remote.Tag) item {
	return item{
		RemoteID:    rt.ID,
		Slug:        rt.Slug,
		Fingerprint: fingerprint(rt.Name, rt.Slug, rt.Description),
		payload:     rt,
	}
}

func (h tagHandler) list(ctx context.Context, page, perPage int) ([]item, bool, error) {
	var pg remote.Page[remote.Tag]
	err := h.p.idempotent(ctx, func(ctx context.Context) error {
		var err error
		pg, err = h.p.o.remote.ListTags(ctx, h.p.conn, remote.ListFilter{Page: page, PerPage: perPage, OrderBy: "id", Order: "asc"})
		return err
	})
	if err != nil {
		return nil, false, err
	}
	out := make([]item, 0, len(pg.Items))
	for _, rt := range pg.Items {
		out = append(out, tagItem(rt))
	}
	return out, pg.More(), nil
}

func (h tagHandler) findBySlug(ctx context.Context, slug string) (item, bool, error) {
	var pg remote.Page[remote.Tag]
	err := h.p.idempotent(ctx, func(ctx context.Context) error {
		var err error
		pg, err = h.p.o.remote.ListTags(ctx, h.p.conn, remote.ListFilter{Slug: slug, PerPage: 1})
		return err
	})
	if err != nil {
		return item{}, false, err
	}
	rt, ok := first(pg.Items)
	return tagItem(rt), ok, nil
}

func (h tagHandler) locals(ctx context.Context) ([]local, error) {
	ts, err := h.p.o.repo.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]local, 0, len(ts))
	for _, t := range ts {
		out = append(out, local{ID: t.ID, Slug: slugOr(t.Slug, t.Name), UpdatedAt: t.UpdatedAt})
	}
	return out, nil
}

func (h tagHandler) apply(ctx context.Context, localID string, it item, stamp time.Time) (detail, error) {
	rt := it.payload.(remote.Tag)
	return detail{}, h.p.o.repo.SaveTag(ctx, model.Tag{
		ID:          localID,
		Name:        content.PlainText(rt.Name),
		Slug:        rt.Slug,
		Description: rt.Description,
		UpdatedAt:   stamp,
	})
}

func (h tagHandler) input(ctx context.Context, localID string) (remote.TermInput, error) {
	t, err := h.p.o.repo.GetTag(ctx, localID)
	if err != nil {
		return remote.TermInput{}, errs.Mark(err, errs.ErrLocalPersistence)
	}
	if t == nil {
		return remote.TermInput{}, notFound(model.EntityTag, localID)
	}
	return remote.TermInput{Name: t.Name, Slug: t.Slug, Description: t.Description}, nil
}

func (h tagHandler) create(ctx context.Context, localID string) (item, detail, error) {
	in, err := h.input(ctx, localID)
	if err != nil {
		return item{}, detail{}, err
	}
	var rt remote.Tag
	err = h.p.once(ctx, func(ctx context.Context) error {
		var err error
		rt, err = h.p.o.remote.CreateTag(ctx, h.p.conn, in)
		return err
	})
	return tagItem(rt), detail{}, err
}

func (h tagHandler) update(ctx context.Context, localID string, remoteID int64) (item, detail, error) {
	in, err := h.input(ctx, localID)
	if err != nil {
		return item{}, detail{}, err
	}
	var rt remote.Tag
	err = h.p.idempotent(ctx, func(ctx context.Context) error {
		var err error
		rt, err = h.p.o.remote.UpdateTag(ctx, h.p.conn, remoteID, in)
		return err
	})
	return tagItem(rt), detail{}, err
}

// ---- media ----

type mediaHandler struct{ p *pass }

func mediaItem(rm remote.Media) item {
	return item{RemoteID: rm.ID, Slug: rm.Slug, Modified: rm.Modified.Time, payload: rm}
}

// mediaSlug 与远端一致：文件名去掉扩展名。
func mediaSlug(m model.Media) string {
	name := m.FileName
	if name == "" {
		return content.Slugify(m.Title)
	}
	return content.Slugify(strings.TrimSuffix(name, path.Ext(name)))
}

func (h mediaHandler) list(ctx context.Context, page, perPage int) ([]item, bool, error) {
	var pg remote.Page[remote.Media]
	err := h.p.idempotent(ctx, func(ctx context.Context) error {
		var err error
		pg, err = h.p.o.remote.ListMedia(ctx, h.p.conn, remote.ListFilter{Page: page, PerPage: perPage, Context: "edit", OrderBy: "id", Order: "asc"})
		return err
	})
	if err != nil {
		return nil, false, err
	}
	out := make([]item, 0, len(pg.Items))
	for _, rm := range pg.Items {
		out = append(out, mediaItem(rm))
	}
	return out, pg.More(), nil
}

func (h mediaHandler) findBySlug(ctx context.Context, slug string) (item, bool, error) {
	var pg remote.Page[remote.Media]
	err := h.p.idempotent(ctx, func(ctx context.Context) error {
		var err error
		pg, err = h.p.o.remote.ListMedia(ctx, h.p.conn, remote.ListFilter{Slug: slug, Context: "edit", PerPage: 1})
		return err
	})
	if err != nil {
		return item{}, false, err
	}
	rm, ok := first(pg.Items)
	return mediaItem(rm), ok, nil
}

func (h mediaHandler) locals(ctx context.Context) ([]local, error) {
	ms, err := h.p.o.repo.ListMedia(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]local, 0, len(ms))
	for _, m := range ms {
		out = append(out, local{ID: m.ID, Slug: mediaSlug(m), UpdatedAt: m.UpdatedAt})
	}
	return out, nil
}

func (h mediaHandler) apply(ctx context.Context, localID string, it item, stamp time.Time) (detail, error) {
	rm := it.payload.(remote.Media)
	src := content.AbsURL(h.p.conn.BaseURL, rm.SourceURL)
	var fileName string
	if u, err := url.Parse(src); err == nil && u.Path != "" {
		fileName = path.Base(u.Path)
	}
	title := rm.Title.Raw
	if title == "" {
		title = content.PlainText(rm.Title.Rendered)
	}
	caption := rm.Caption.Raw
	if caption == "" {
		caption = content.PlainText(rm.Caption.Rendered)
	}
	// 二进制内容不随拉取下载，SaveMedia 保留库中已有内容
	return detail{}, h.p.o.repo.SaveMedia(ctx, model.Media{
		ID:        localID,
		Title:     title,
		AltText:   rm.AltText,
		Caption:   caption,
		MimeType:  rm.MimeType,
		FileName:  fileName,
		SourceURL: src,
		UpdatedAt: stamp,
	})
}

func (h mediaHandler) get(ctx context.Context, localID string) (*model.Media, error) {
	m, err := h.p.o.repo.GetMedia(ctx, localID)
	if err != nil {
		return nil, errs.Mark(err, errs.ErrLocalPersistence)
	}
	if m == nil {
		return nil, notFound(model.EntityMedia, localID)
	}
	return m, nil
}

var errNoMediaData = errors.New("media has no binary content to upload")

func (h mediaHandler) create(ctx context.Context, localID string) (item, detail, error) {
	m, err := h.get(ctx, localID)
	if err != nil {
		return item{}, detail{}, err
	}
	if len(m.Data) == 0 {
		return item{}, detail{}, fmt.Errorf("media %s: %w", localID, errNoMediaData)
	}
	var rm remote.Media
	err = h.p.once(ctx, func(ctx context.Context) error {
		var err error
		rm, err = h.p.o.remote.UploadMedia(ctx, h.p.conn, remote.MediaUpload{
			FileName: m.FileName,
			MimeType: m.MimeType,
			Data:     m.Data,
			Title:    m.Title,
			AltText:  m.AltText,
			Caption:  m.Caption,
		})
		return err
	})
	return mediaItem(rm), detail{}, err
}

func (h mediaHandler) update(ctx context.Context, localID string, remoteID int64) (item, detail, error) {
	m, err := h.get(ctx, localID)
	if err != nil {
		return item{}, detail{}, err
	}
	var rm remote.Media
	err = h.p.idempotent(ctx, func(ctx context.Context) error {
		var err error
		rm, err = h.p.o.remote.UpdateMedia(ctx, h.p.conn, remoteID, remote.MediaInput{Title: m.Title, AltText: m.AltText, Caption: m.Caption})
		return err
	})
	return mediaItem(rm), detail{}, err
}
