package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go-press-sync/internal/model"
)

// 本地内容仓库：编排器通过 reconcile.Repository 接口访问，
// 实际系统中由内容管理界面写入，这里提供 SQLite 实现供 CLI/服务与测试使用。

func encodeIDs(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

func decodeIDs(s string) []string {
	var ids []string
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil
	}
	return ids
}

// SavePost 插入或更新文章（id 唯一约束）。
func (s *SQLite) SavePost(ctx context.Context, p model.Post) error {
	if p.ID == "" {
		return errors.New("post.id required")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO posts(id, title, content, excerpt, slug, status, author, category_ids, tag_ids,
        featured_media_id, published_at, updated_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET title=excluded.title, content=excluded.content, excerpt=excluded.excerpt,
        slug=excluded.slug, status=excluded.status, author=excluded.author, category_ids=excluded.category_ids,
        tag_ids=excluded.tag_ids, featured_media_id=excluded.featured_media_id, published_at=excluded.published_at,
        updated_at=excluded.updated_at`,
		p.ID, p.Title, p.Content, p.Excerpt, p.Slug, p.Status, p.Author, encodeIDs(p.CategoryIDs), encodeIDs(p.TagIDs),
		p.FeaturedMediaID, nullTime(p.PublishedAt), nowOr(p.UpdatedAt, s.now()).UTC())
	if err != nil {
		return fmt.Errorf("upsert post %s: %w", p.ID, err)
	}
	return nil
}

const postCols = `id, COALESCE(title,''), COALESCE(content,''), COALESCE(excerpt,''), COALESCE(slug,''), COALESCE(status,''),
    COALESCE(author,''), COALESCE(category_ids,''), COALESCE(tag_ids,''), COALESCE(featured_media_id,''), published_at, updated_at`

func scanPost(r rowScanner) (model.Post, error) {
	var p model.Post
	var cats, tags string
	var published, updated sql.NullTime
	if err := r.Scan(&p.ID, &p.Title, &p.Content, &p.Excerpt, &p.Slug, &p.Status, &p.Author, &cats, &tags,
		&p.FeaturedMediaID, &published, &updated); err != nil {
		return p, err
	}
	p.CategoryIDs = decodeIDs(cats)
	p.TagIDs = decodeIDs(tags)
	p.PublishedAt = timeOf(published)
	p.UpdatedAt = timeOf(updated)
	return p, nil
}

// GetPost 读取文章；不存在时返回 nil。
func (s *SQLite) GetPost(ctx context.Context, id string) (*model.Post, error) {
	p, err := scanPost(s.db.QueryRowContext(ctx, `SELECT `+postCols+` FROM posts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get post %s: %w", id, err)
	}
	return &p, nil
}

// ListPosts 返回全部文章，按写入顺序。
func (s *SQLite) ListPosts(ctx context.Context) ([]model.Post, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+postCols+` FROM posts ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()
	var out []model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan posts: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return out, nil
}

// SaveCategory 插入或更新分类。
func (s *SQLite) SaveCategory(ctx context.Context, c model.Category) error {
	if c.ID == "" {
		return errors.New("category.id required")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO categories(id, name, slug, description, parent_id, updated_at)
        VALUES(?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET name=excluded.name, slug=excluded.slug, description=excluded.description,
        parent_id=excluded.parent_id, updated_at=excluded.updated_at`,
		c.ID, c.Name, c.Slug, c.Description, c.ParentID, nowOr(c.UpdatedAt, s.now()).UTC())
	if err != nil {
		return fmt.Errorf("upsert category %s: %w", c.ID, err)
	}
	return nil
}

const categoryCols = `id, COALESCE(name,''), COALESCE(slug,''), COALESCE(description,''), COALESCE(parent_id,''), updated_at`

func scanCategory(r rowScanner) (model.Category, error) {
	var c model.Category
	var updated sql.NullTime
	if err := r.Scan(&c.ID, &c.Name, &c.Slug, &c.Description, &c.ParentID, &updated); err != nil {
		return c, err
	}
	c.UpdatedAt = timeOf(updated)
	return c, nil
}

// GetCategory 读取分类；不存在时返回 nil。
func (s *SQLite) GetCategory(ctx context.Context, id string) (*model.Category, error) {
	c, err := scanCategory(s.db.QueryRowContext(ctx, `SELECT `+categoryCols+` FROM categories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get category %s: %w", id, err)
	}
	return &c, nil
}

// ListCategories 返回全部分类。
func (s *SQLite) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+categoryCols+` FROM categories ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()
	var out []model.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan categories: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return out, nil
}

// SaveTag 插入或更新标签。
func (s *SQLite) SaveTag(ctx context.Context, t model.Tag) error {
	if t.ID == "" {
		return errors.New("tag.id required")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO tags(id, name, slug, description, updated_at)
        VALUES(?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET name=excluded.name, slug=excluded.slug, description=excluded.description,
        updated_at=excluded.updated_at`,
		t.ID, t.Name, t.Slug, t.Description, nowOr(t.UpdatedAt, s.now()).UTC())
	if err != nil {
		return fmt.Errorf("upsert tag %s: %w", t.ID, err)
	}
	return nil
}

const tagCols = `id, COALESCE(name,''), COALESCE(slug,''), COALESCE(description,''), updated_at`

func scanTag(r rowScanner) (model.Tag, error) {
	var t model.Tag
	var updated sql.NullTime
	if err := r.Scan(&t.ID, &t.Name, &t.Slug, &t.Description, &updated); err != nil {
		return t, err
	}
	t.UpdatedAt = timeOf(updated)
	return t, nil
}

// GetTag 读取标签；不存在时返回 nil。
func (s *SQLite) GetTag(ctx context.Context, id string) (*model.Tag, error) {
	t, err := scanTag(s.db.QueryRowContext(ctx, `SELECT `+tagCols+` FROM tags WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tag %s: %w", id, err)
	}
	return &t, nil
}

// ListTags 返回全部标签。
func (s *SQLite) ListTags(ctx context.Context) ([]model.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tagCols+` FROM tags ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()
	var out []model.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tags: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return out, nil
}

// SaveMedia 插入或更新媒体。Data 为空时保留库中已有的二进制内容。
func (s *SQLite) SaveMedia(ctx context.Context, m model.Media) error {
	if m.ID == "" {
		return errors.New("media.id required")
	}
	var data any
	if len(m.Data) > 0 {
		data = m.Data
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO media(id, title, alt_text, caption, mime_type, file_name, source_url, data, updated_at)
        VALUES(?,?,?,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET title=excluded.title, alt_text=excluded.alt_text, caption=excluded.caption,
        mime_type=excluded.mime_type, file_name=excluded.file_name, source_url=excluded.source_url,
        data=COALESCE(excluded.data, media.data), updated_at=excluded.updated_at`,
		m.ID, m.Title, m.AltText, m.Caption, m.MimeType, m.FileName, m.SourceURL, data, nowOr(m.UpdatedAt, s.now()).UTC())
	if err != nil {
		return fmt.Errorf("upsert media %s: %w", m.ID, err)
	}
	return nil
}

const mediaCols = `id, COALESCE(title,''), COALESCE(alt_text,''), COALESCE(caption,''), COALESCE(mime_type,''),
    COALESCE(file_name,''), COALESCE(source_url,''), updated_at`

func scanMedia(r rowScanner, extra ...any) (model.Media, error) {
	var m model.Media
	var updated sql.NullTime
	dest := append([]any{&m.ID, &m.Title, &m.AltText, &m.Caption, &m.MimeType, &m.FileName, &m.SourceURL, &updated}, extra...)
	if err := r.Scan(dest...); err != nil {
		return m, err
	}
	m.UpdatedAt = timeOf(updated)
	return m, nil
}

// GetMedia 读取媒体（含二进制内容）；不存在时返回 nil。
func (s *SQLite) GetMedia(ctx context.Context, id string) (*model.Media, error) {
	var data []byte
	m, err := scanMedia(s.db.QueryRowContext(ctx, `SELECT `+mediaCols+`, data FROM media WHERE id = ?`, id), &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get media %s: %w", id, err)
	}
	m.Data = data
	return &m, nil
}

// ListMedia 返回全部媒体的元数据（不含二进制内容）。
func (s *SQLite) ListMedia(ctx context.Context) ([]model.Media, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+mediaCols+` FROM media ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query media: %w", err)
	}
	defer rows.Close()
	var out []model.Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate media: %w", err)
	}
	return out, nil
}

// Count 返回某实体种类的本地数量。
func (s *SQLite) Count(ctx context.Context, t model.EntityType) (int, error) {
	table := map[model.EntityType]string{
		model.EntityPost:     "posts",
		model.EntityCategory: "categories",
		model.EntityTag:      "tags",
		model.EntityMedia:    "media",
	}[t]
	if table == "" {
		return 0, fmt.Errorf("unknown entity type %q", t)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
