package reconcile

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"go-press-sync/internal/fetch"
	"go-press-sync/internal/model"
	"go-press-sync/internal/remote"
	"go-press-sync/internal/store"
	"go-press-sync/internal/wptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func openStore(t *testing.T, path string) *store.SQLite {
	t.Helper()
	db, err := store.OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newOrchestrator(t *testing.T, repo Repository, maps MappingStore, opts Options) *Orchestrator {
	t.Helper()
	hc, err := fetch.New(fetch.Options{Timeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(hc.CloseIdleConnections)
	if opts.Backoff == nil {
		opts.Backoff = func(int) time.Duration { return time.Millisecond }
	}
	return New(remote.New(hc, remote.Options{Timeout: 2 * time.Second}), repo, maps, opts)
}

type fixture struct {
	srv  *wptest.Server
	db   *store.SQLite
	orch *Orchestrator
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	srv := wptest.New(t)
	db := openStore(t, filepath.Join(t.TempDir(), "sync.db"))
	return &fixture{srv: srv, db: db, orch: newOrchestrator(t, db, db, opts)}
}

func (f *fixture) sync(t *testing.T, types ...model.EntityType) *model.Report {
	t.Helper()
	if len(types) == 0 {
		types = model.AllEntityTypes
	}
	return f.orch.Sync(context.Background(), f.srv.Conn(), types...)
}

func (f *fixture) mapping(t *testing.T, et model.EntityType, localID string) *model.Mapping {
	t.Helper()
	m, err := f.db.Find(context.Background(), et, localID)
	require.NoError(t, err)
	require.NotNil(t, m)
	return m
}

func changed(rep *model.Report) int {
	return rep.Count(model.OutcomeCreated) + rep.Count(model.OutcomeUpdated)
}

func TestPullCreatesLocalEntitiesAndIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	cat := f.srv.AddCategory(remote.Category{Name: "News"})
	tag := f.srv.AddTag(remote.Tag{Name: "golang"})
	rp := f.srv.AddPost(remote.Post{
		Title:      remote.Rendered{Raw: "Hello"},
		Content:    remote.Rendered{Raw: "<p>World</p>"},
		Status:     "publish",
		Categories: []int64{cat.ID},
		Tags:       []int64{tag.ID},
	})

	rep := f.sync(t, model.EntityCategory, model.EntityTag)
	require.True(t, rep.Succeeded(), "%+v", rep)
	assert.Equal(t, 2, rep.Count(model.OutcomeCreated))

	rep = f.sync(t, model.EntityPost)
	require.True(t, rep.Succeeded(), "%+v", rep)
	assert.Equal(t, 1, rep.Count(model.OutcomeCreated))

	ctx := context.Background()
	pm, err := f.db.FindByRemote(ctx, model.EntityPost, rp.ID)
	require.NoError(t, err)
	require.NotNil(t, pm)
	assert.Equal(t, model.SyncSynced, pm.Status)
	assert.Equal(t, model.DirectionPull, pm.Direction)

	lp, err := f.db.GetPost(ctx, pm.LocalID)
	require.NoError(t, err)
	require.NotNil(t, lp)
	cm, err := f.db.FindByRemote(ctx, model.EntityCategory, cat.ID)
	require.NoError(t, err)
	tm, err := f.db.FindByRemote(ctx, model.EntityTag, tag.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", lp.Title)
	assert.Equal(t, model.StatusPublished, lp.Status)
	assert.Equal(t, "World", lp.Excerpt)
	if diff := cmp.Diff([]string{cm.LocalID}, lp.CategoryIDs); diff != "" {
		t.Fatalf("category ids (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{tm.LocalID}, lp.TagIDs)

	for i := 0; i < 2; i++ {
		rep = f.sync(t)
		require.True(t, rep.Succeeded(), "%+v", rep)
		assert.Zero(t, changed(rep), "pass %d should be a no-op: %+v", i, rep.Results)
	}
	assert.Zero(t, f.srv.Hits(http.MethodPost, "posts"))
	assert.Zero(t, f.srv.Hits(http.MethodPut, "posts"))

	n, err := f.db.Count(ctx, model.EntityPost)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPushCreatesRemoteThenConverges(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.db.SaveCategory(ctx, model.Category{ID: "cat-1", Name: "Guides", UpdatedAt: time.Now().UTC()}))
	require.NoError(t, f.db.SavePost(ctx, model.Post{
		ID:          "post-1",
		Title:       "Draft for review",
		Content:     "<p>body</p>",
		Status:      model.StatusReview,
		CategoryIDs: []string{"cat-1"},
		UpdatedAt:   time.Now().UTC(),
	}))

	rep := f.sync(t)
	require.True(t, rep.Succeeded(), "%+v", rep)
	assert.Equal(t, 2, rep.Count(model.OutcomeCreated), "%+v", rep.Results)

	for i := 0; i < 2; i++ {
		rep = f.sync(t)
		require.True(t, rep.Succeeded(), "%+v", rep)
		assert.Zero(t, changed(rep), "pass %d: %+v", i, rep.Results)
	}

	posts := f.srv.Posts()
	cats := f.srv.Categories()
	require.Len(t, posts, 1)
	require.Len(t, cats, 1)
	assert.Equal(t, "pending", posts[0].Status)
	assert.Equal(t, []int64{cats[0].ID}, posts[0].Categories)
	assert.Equal(t, 1, f.srv.Hits(http.MethodPost, "posts"))

	m := f.mapping(t, model.EntityPost, "post-1")
	assert.Equal(t, posts[0].ID, m.RemoteID)
	assert.Equal(t, model.SyncSynced, m.Status)

	// 拉取不会为刚推送的实体生成第二个本地副本
	n, err := f.db.Count(ctx, model.EntityPost)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRemoteWinsOverConcurrentLocalEdit(t *testing.T) {
	f := newFixture(t, Options{})
	rp := f.srv.AddPost(remote.Post{Title: remote.Rendered{Raw: "v1"}, Content: remote.Rendered{Raw: "a"}})
	require.True(t, f.sync(t, model.EntityPost).Succeeded())

	ctx := context.Background()
	pm, err := f.db.FindByRemote(ctx, model.EntityPost, rp.ID)
	require.NoError(t, err)
	lp, err := f.db.GetPost(ctx, pm.LocalID)
	require.NoError(t, err)
	lp.Title = "local edit"
	lp.UpdatedAt = time.Now().UTC()
	require.NoError(t, f.db.SavePost(ctx, *lp))
	edited := f.srv.EditPost(rp.ID, func(p *remote.Post) { p.Title = remote.Rendered{Raw: "remote edit", Rendered: "remote edit"} })

	rep := f.sync(t, model.EntityPost)
	require.True(t, rep.Succeeded(), "%+v", rep)
	assert.Equal(t, 1, rep.Count(model.OutcomeUpdated))

	lp, err = f.db.GetPost(ctx, pm.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "remote edit", lp.Title)
	assert.Zero(t, f.srv.Hits(http.MethodPut, "posts"))

	m := f.mapping(t, model.EntityPost, pm.LocalID)
	assert.Equal(t, model.SyncSynced, m.Status)
	assert.True(t, m.LastSyncedAt.Equal(edited.Modified.Time), "last synced %s, remote modified %s", m.LastSyncedAt, edited.Modified.Time)
	assert.True(t, m.LocalModifiedAt.Equal(edited.Modified.Time))
	assert.True(t, lp.UpdatedAt.Equal(edited.Modified.Time))

	// 本地的并发修改已被覆盖，下一轮不会再推送
	rep = f.sync(t, model.EntityPost)
	assert.Zero(t, changed(rep), "%+v", rep.Results)
	assert.Zero(t, f.srv.Hits(http.MethodPut, "posts"))
}

func TestLocalEditIsPushed(t *testing.T) {
	f := newFixture(t, Options{})
	rp := f.srv.AddPost(remote.Post{Title: remote.Rendered{Raw: "v1"}})
	require.True(t, f.sync(t, model.EntityPost).Succeeded())

	ctx := context.Background()
	pm, err := f.db.FindByRemote(ctx, model.EntityPost, rp.ID)
	require.NoError(t, err)
	lp, err := f.db.GetPost(ctx, pm.LocalID)
	require.NoError(t, err)
	lp.Title = "v2"
	lp.Status = model.StatusArchived
	lp.UpdatedAt = time.Now().UTC()
	require.NoError(t, f.db.SavePost(ctx, *lp))

	rep := f.sync(t, model.EntityPost)
	require.True(t, rep.Succeeded(), "%+v", rep)
	assert.Equal(t, 1, rep.Count(model.OutcomeUpdated))
	posts := f.srv.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, "v2", posts[0].Title.Raw)
	assert.Equal(t, "private", posts[0].Status)

	rep = f.sync(t, model.EntityPost)
	assert.Zero(t, changed(rep), "%+v", rep.Results)
}

func TestUnknownRemoteStatusFallsBackToDraft(t *testing.T) {
	f := newFixture(t, Options{})
	rp := f.srv.AddPost(remote.Post{Title: remote.Rendered{Raw: "odd"}, Status: "inherit"})

	rep := f.sync(t, model.EntityPost)
	require.True(t, rep.Succeeded(), "%+v", rep)
	require.Len(t, rep.Results, 1)
	assert.Equal(t, model.OutcomeCreated, rep.Results[0].Outcome)
	assert.Contains(t, rep.Results[0].Message, "inherit")

	pm, err := f.db.FindByRemote(context.Background(), model.EntityPost, rp.ID)
	require.NoError(t, err)
	lp, err := f.db.GetPost(context.Background(), pm.LocalID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, lp.Status)
}

func TestUnconfiguredConnectionAbortsWithoutRequests(t *testing.T) {
	f := newFixture(t, Options{})
	conn := f.srv.Conn()
	conn.Secret = ""

	rep := f.orch.SyncAll(context.Background(), conn)
	assert.Len(t, rep.Aborted, len(model.AllEntityTypes))
	for _, reason := range rep.Aborted {
		assert.Contains(t, reason, "configuration_missing")
	}
	assert.Empty(t, rep.Results)
	assert.Zero(t, f.srv.TotalHits())
}

func TestAuthFailureOnFirstListAbortsKind(t *testing.T) {
	f := newFixture(t, Options{Retry: 3})
	require.NoError(t, f.db.SavePost(context.Background(), model.Post{ID: "p", Title: "x", UpdatedAt: time.Now().UTC()}))
	f.srv.Fail(http.MethodGet, "posts", http.StatusUnauthorized, -1)

	rep := f.sync(t, model.EntityPost, model.EntityTag)
	require.Contains(t, rep.Aborted, model.EntityPost)
	assert.Contains(t, rep.Aborted[model.EntityPost], "authentication")
	assert.NotContains(t, rep.Aborted, model.EntityTag)
	assert.Equal(t, 1, f.srv.Hits(http.MethodGet, "posts"), "authentication errors are not retried")
	assert.Zero(t, f.srv.Hits(http.MethodPost, "posts"))
}

type flakyRepo struct {
	*store.SQLite
	mu       sync.Mutex
	failOn   string
	disabled bool
}

func (r *flakyRepo) SavePost(ctx context.Context, p model.Post) error {
	r.mu.Lock()
	fail := !r.disabled && p.Title == r.failOn
	r.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return r.SQLite.SavePost(ctx, p)
}

func TestSingleItemFailureDoesNotAbortPass(t *testing.T) {
	srv := wptest.New(t)
	db := openStore(t, filepath.Join(t.TempDir(), "sync.db"))
	repo := &flakyRepo{SQLite: db, failOn: "bad"}
	orch := newOrchestrator(t, repo, db, Options{})
	for _, title := range []string{"one", "bad", "three"} {
		srv.AddPost(remote.Post{Title: remote.Rendered{Raw: title}})
	}

	rep := orch.SyncEntityType(context.Background(), srv.Conn(), model.EntityPost)
	assert.Empty(t, rep.Aborted)
	assert.Equal(t, 2, rep.Count(model.OutcomeCreated))
	failed := rep.Failed()
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Message, "local_persistence")

	m, err := db.FindByRemote(context.Background(), model.EntityPost, failed[0].RemoteID)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, model.SyncError, m.Status)
	assert.Contains(t, m.LastError, "disk full")

	repo.mu.Lock()
	repo.disabled = true
	repo.mu.Unlock()
	rep = orch.SyncEntityType(context.Background(), srv.Conn(), model.EntityPost)
	assert.True(t, rep.Succeeded(), "%+v", rep)
	assert.Equal(t, 1, rep.Count(model.OutcomeUpdated))
	n, err := db.Count(context.Background(), model.EntityPost)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCreateIsNotRetried(t *testing.T) {
	f := newFixture(t, Options{Retry: 3})
	ctx := context.Background()
	require.NoError(t, f.db.SavePost(ctx, model.Post{ID: "p1", Title: "Fresh", Status: model.StatusDraft, UpdatedAt: time.Now().UTC()}))
	f.srv.Fail(http.MethodPost, "posts", http.StatusBadGateway, 1)

	rep := f.sync(t, model.EntityPost)
	require.Len(t, rep.Failed(), 1)
	assert.Contains(t, rep.Failed()[0].Message, "connection")
	assert.Equal(t, 1, f.srv.Hits(http.MethodPost, "posts"))
	m := f.mapping(t, model.EntityPost, "p1")
	assert.Equal(t, model.SyncError, m.Status)
	assert.False(t, m.Linked())

	rep = f.sync(t, model.EntityPost)
	require.True(t, rep.Succeeded(), "%+v", rep)
	assert.Equal(t, 1, rep.Count(model.OutcomeCreated))
	assert.Len(t, f.srv.Posts(), 1)
}

func TestLostCreateResponseIsAdoptedBySlug(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.db.SavePost(ctx, model.Post{ID: "p1", Title: "Hello", Slug: "hello", Status: model.StatusPublished, UpdatedAt: time.Now().UTC()}))
	f.srv.FailAfter(http.MethodPost, "posts", http.StatusBadGateway, 1)

	rep := f.sync(t, model.EntityPost)
	require.Len(t, rep.Failed(), 1)
	require.Len(t, f.srv.Posts(), 1, "create reached the remote")

	rep = f.sync(t, model.EntityPost)
	assert.Empty(t, rep.Failed(), "%+v", rep.Results)
	assert.Equal(t, 1, rep.Count(model.OutcomeSkipped), "pull defers the unlinked remote post")
	assert.Equal(t, 1, rep.Count(model.OutcomeUpdated))
	assert.Equal(t, 1, f.srv.Hits(http.MethodPost, "posts"))

	rep = f.sync(t, model.EntityPost)
	assert.True(t, rep.Succeeded())
	assert.Zero(t, changed(rep))
	assert.Len(t, f.srv.Posts(), 1)
	n, err := f.db.Count(ctx, model.EntityPost)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, f.srv.Posts()[0].ID, f.mapping(t, model.EntityPost, "p1").RemoteID)
}

func TestConcurrentOrchestratorsDoNotDuplicateCreates(t *testing.T) {
	srv := wptest.New(t)
	srv.SetLatency(10 * time.Millisecond)
	path := filepath.Join(t.TempDir(), "shared.db")
	db1 := openStore(t, path)
	db2 := openStore(t, path)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, db1.SavePost(ctx, model.Post{ID: id, Title: "post " + id, Status: model.StatusDraft, UpdatedAt: time.Now().UTC()}))
	}
	orchs := []*Orchestrator{
		newOrchestrator(t, db1, db1, Options{}),
		newOrchestrator(t, db2, db2, Options{}),
	}

	var wg sync.WaitGroup
	reports := make([]*model.Report, len(orchs))
	for i, o := range orchs {
		wg.Add(1)
		go func(i int, o *Orchestrator) {
			defer wg.Done()
			reports[i] = o.SyncEntityType(ctx, srv.Conn(), model.EntityPost)
		}(i, o)
	}
	wg.Wait()
	for _, rep := range reports {
		assert.Empty(t, rep.Failed(), "%+v", rep.Results)
	}
	assert.Zero(t, pulledCreates(reports), "no remote post is pulled back as a second local copy")
	assert.Equal(t, 5, reports[0].Count(model.OutcomeCreated)+reports[1].Count(model.OutcomeCreated))

	rep := orchs[0].SyncEntityType(ctx, srv.Conn(), model.EntityPost)
	assert.Empty(t, rep.Failed())
	assert.Len(t, srv.Posts(), 5)
	assert.Equal(t, 5, srv.Hits(http.MethodPost, "posts"))
	n, err := db1.Count(ctx, model.EntityPost)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func pulledCreates(reps []*model.Report) int {
	n := 0
	for _, rep := range reps {
		for _, r := range rep.Results {
			if r.Outcome == model.OutcomeCreated && r.Direction == model.DirectionPull {
				n++
			}
		}
	}
	return n
}

func TestBreakerStopsCallsAfterRepeatedConnectionErrors(t *testing.T) {
	f := newFixture(t, Options{BreakerFailures: 3})
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3", "4", "5", "6"} {
		require.NoError(t, f.db.SaveTag(ctx, model.Tag{ID: id, Name: "tag " + id, UpdatedAt: time.Now().UTC()}))
	}
	f.srv.Fail(http.MethodPost, "tags", http.StatusServiceUnavailable, -1)

	rep := f.sync(t, model.EntityTag)
	assert.Len(t, rep.Failed(), 6)
	assert.Equal(t, 3, f.srv.Hits(http.MethodPost, "tags"))
	assert.Contains(t, rep.Failed()[5].Message, "circuit open")
}

func TestListRetriesTransientErrors(t *testing.T) {
	f := newFixture(t, Options{Retry: 2})
	f.srv.AddPost(remote.Post{Title: remote.Rendered{Raw: "x"}})
	f.srv.Fail(http.MethodGet, "posts", http.StatusServiceUnavailable, 2)

	rep := f.sync(t, model.EntityPost)
	require.True(t, rep.Succeeded(), "%+v", rep)
	assert.Equal(t, 1, rep.Count(model.OutcomeCreated))
	assert.Equal(t, 3, f.srv.Hits(http.MethodGet, "posts"))
}

func TestCancellationStopsBetweenItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := wptest.New(t)
	db := openStore(t, filepath.Join(t.TempDir(), "sync.db"))
	orch := newOrchestrator(t, db, db, Options{OnResult: func(model.SyncResult) { cancel() }})
	for i := 0; i < 3; i++ {
		srv.AddPost(remote.Post{Title: remote.Rendered{Raw: "p"}})
	}

	rep := orch.SyncEntityType(ctx, srv.Conn(), model.EntityPost)
	assert.Len(t, rep.Results, 1)
	require.Contains(t, rep.Aborted, model.EntityPost)
	assert.Contains(t, rep.Aborted[model.EntityPost], "context canceled")
	n, err := db.Count(context.Background(), model.EntityPost)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDisabledKindIsSkipped(t *testing.T) {
	f := newFixture(t, Options{})
	f.srv.AddTag(remote.Tag{Name: "ignored"})
	conn := f.srv.Conn()
	conn.Sync.Tags = false

	rep := f.orch.SyncAll(context.Background(), conn)
	assert.True(t, rep.Succeeded())
	assert.Zero(t, f.srv.Hits(http.MethodGet, "tags"))
	n, err := f.db.Count(context.Background(), model.EntityTag)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMediaUploadAndPull(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	data := []byte("\x89PNG fake image")
	require.NoError(t, f.db.SaveMedia(ctx, model.Media{
		ID: "m1", Title: "Logo", AltText: "logo", MimeType: "image/png", FileName: "logo.png", Data: data, UpdatedAt: time.Now().UTC(),
	}))
	existing := f.srv.AddMedia(remote.Media{Title: remote.Rendered{Raw: "Banner"}, MimeType: "image/jpeg", SourceURL: "/wp-content/uploads/banner.jpg"})

	rep := f.sync(t, model.EntityMedia)
	require.True(t, rep.Succeeded(), "%+v", rep)
	assert.Equal(t, 2, rep.Count(model.OutcomeCreated))

	m := f.mapping(t, model.EntityMedia, "m1")
	assert.Equal(t, data, f.srv.Upload(m.RemoteID))

	pm, err := f.db.FindByRemote(ctx, model.EntityMedia, existing.ID)
	require.NoError(t, err)
	lm, err := f.db.GetMedia(ctx, pm.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "Banner", lm.Title)
	assert.Equal(t, "banner.jpg", lm.FileName)
	assert.Equal(t, f.srv.URL+"/wp-content/uploads/banner.jpg", lm.SourceURL)
	assert.Empty(t, lm.Data)

	rep = f.sync(t, model.EntityMedia)
	assert.Zero(t, changed(rep), "%+v", rep.Results)
}

func TestCategoryFingerprintDetectsRemoteChange(t *testing.T) {
	f := newFixture(t, Options{})
	parent := f.srv.AddCategory(remote.Category{Name: "Parent"})
	child := f.srv.AddCategory(remote.Category{Name: "Child", Parent: parent.ID})
	require.True(t, f.sync(t, model.EntityCategory).Succeeded())

	ctx := context.Background()
	pm, err := f.db.FindByRemote(ctx, model.EntityCategory, parent.ID)
	require.NoError(t, err)
	cm, err := f.db.FindByRemote(ctx, model.EntityCategory, child.ID)
	require.NoError(t, err)
	lc, err := f.db.GetCategory(ctx, cm.LocalID)
	require.NoError(t, err)
	assert.Equal(t, pm.LocalID, lc.ParentID)

	rep := f.sync(t, model.EntityCategory)
	assert.Zero(t, changed(rep))

	f.srv.EditCategory(child.ID, func(c *remote.Category) { c.Description = "now described" })
	rep = f.sync(t, model.EntityCategory)
	assert.Equal(t, 1, rep.Count(model.OutcomeUpdated))
	lc, err = f.db.GetCategory(ctx, cm.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "now described", lc.Description)
}

func TestRemoteNewer(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		m    model.Mapping
		it   item
		want bool
	}{
		{"same timestamp", model.Mapping{LastSyncedAt: base}, item{Modified: base}, false},
		{"later timestamp", model.Mapping{LastSyncedAt: base}, item{Modified: base.Add(time.Second)}, true},
		{"never synced", model.Mapping{}, item{Modified: base}, true},
		{"same fingerprint", model.Mapping{Fingerprint: "ab"}, item{Fingerprint: "ab"}, false},
		{"new fingerprint", model.Mapping{Fingerprint: "ab"}, item{Fingerprint: "cd"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, remoteNewer(tc.m, tc.it))
		})
	}
}

func TestDetailMessage(t *testing.T) {
	assert.Empty(t, detail{}.message())
	d := detail{unresolved: 2, warnings: []string{"status fallback"}}
	assert.Equal(t, "status fallback; 2 unresolved reference(s), will retry", d.message())
	assert.Equal(t, "a; b", joinMessage("a", "b"))
	assert.Equal(t, "a", joinMessage("a", ""))
}

func TestFullSyncWithCrossReferencesSettlesInOnePass(t *testing.T) {
	t.Run("pull", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.srv.Slow("categories", 50*time.Millisecond)
		child := f.srv.AddCategory(remote.Category{Name: "Child"})
		parent := f.srv.AddCategory(remote.Category{Name: "Parent"})
		f.srv.EditCategory(child.ID, func(c *remote.Category) { c.Parent = parent.ID })
		tag := f.srv.AddTag(remote.Tag{Name: "go"})
		f.srv.AddPost(remote.Post{
			Title:      remote.Rendered{Raw: "Cross"},
			Categories: []int64{child.ID},
			Tags:       []int64{tag.ID},
		})

		rep := f.orch.SyncAll(context.Background(), f.srv.Conn())
		require.True(t, rep.Succeeded(), "%+v", rep)
		assert.Equal(t, 4, rep.Count(model.OutcomeCreated), "%+v", rep.Results)
		for _, r := range rep.Results {
			assert.NotContains(t, r.Message, "unresolved", "%+v", r)
		}

		rep = f.orch.SyncAll(context.Background(), f.srv.Conn())
		require.True(t, rep.Succeeded(), "%+v", rep)
		assert.Zero(t, changed(rep), "%+v", rep.Results)

		ctx := context.Background()
		cm, err := f.db.FindByRemote(ctx, model.EntityCategory, child.ID)
		require.NoError(t, err)
		pm, err := f.db.FindByRemote(ctx, model.EntityCategory, parent.ID)
		require.NoError(t, err)
		lc, err := f.db.GetCategory(ctx, cm.LocalID)
		require.NoError(t, err)
		assert.Equal(t, pm.LocalID, lc.ParentID)
		assert.Equal(t, model.SyncSynced, cm.Status)
	})

	t.Run("push", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.srv.Slow("categories", 50*time.Millisecond)
		ctx := context.Background()
		now := time.Now().UTC()
		require.NoError(t, f.db.SaveCategory(ctx, model.Category{ID: "child", Name: "Child", ParentID: "parent", UpdatedAt: now}))
		require.NoError(t, f.db.SaveCategory(ctx, model.Category{ID: "parent", Name: "Parent", UpdatedAt: now}))
		require.NoError(t, f.db.SaveTag(ctx, model.Tag{ID: "tag-1", Name: "go", UpdatedAt: now}))
		require.NoError(t, f.db.SavePost(ctx, model.Post{
			ID:          "post-1",
			Title:       "Cross",
			Status:      model.StatusDraft,
			CategoryIDs: []string{"child"},
			TagIDs:      []string{"tag-1"},
			UpdatedAt:   now,
		}))

		rep := f.orch.SyncAll(ctx, f.srv.Conn())
		require.True(t, rep.Succeeded(), "%+v", rep)
		assert.Equal(t, 4, rep.Count(model.OutcomeCreated), "%+v", rep.Results)

		rep = f.orch.SyncAll(ctx, f.srv.Conn())
		require.True(t, rep.Succeeded(), "%+v", rep)
		assert.Zero(t, changed(rep), "%+v", rep.Results)

		posts := f.srv.Posts()
		require.Len(t, posts, 1)
		cm := f.mapping(t, model.EntityCategory, "child")
		pm := f.mapping(t, model.EntityCategory, "parent")
		assert.Equal(t, []int64{cm.RemoteID}, posts[0].Categories)
		for _, c := range f.srv.Categories() {
			if c.ID == cm.RemoteID {
				assert.Equal(t, pm.RemoteID, c.Parent)
			}
		}
		assert.Equal(t, 1, f.srv.Hits(http.MethodPost, "posts"))
	})
}

func TestInDoubtCreateDefersOnlyMatchingSlug(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, f.db.SavePost(ctx, model.Post{ID: "post-x", Title: "In flight", Slug: "in-flight", Status: model.StatusDraft, UpdatedAt: now}))
	_, err := f.db.Upsert(ctx, model.Mapping{
		EntityType: model.EntityPost,
		LocalID:    "post-x",
		Status:     model.SyncError,
		Direction:  model.DirectionPush,
		ClaimedAt:  now,
		Attempts:   1,
	})
	require.NoError(t, err)
	same := f.srv.AddPost(remote.Post{Title: remote.Rendered{Raw: "In flight"}, Slug: "in-flight", Status: "draft"})
	other := f.srv.AddPost(remote.Post{Title: remote.Rendered{Raw: "Unrelated"}, Slug: "unrelated"})

	rep := f.sync(t, model.EntityPost)
	require.True(t, rep.Succeeded(), "%+v", rep)

	byRemote := map[int64]model.SyncResult{}
	for _, r := range rep.Results {
		if r.Direction == model.DirectionPull {
			byRemote[r.RemoteID] = r
		}
	}
	assert.Equal(t, model.OutcomeCreated, byRemote[other.ID].Outcome, "unrelated remote post is pulled")
	assert.Equal(t, model.OutcomeSkipped, byRemote[same.ID].Outcome, "possible duplicate of the in-flight create waits")

	// 推送侧按 slug 认领远端已有实体，不会再创建
	m := f.mapping(t, model.EntityPost, "post-x")
	assert.Equal(t, same.ID, m.RemoteID)
	assert.Zero(t, f.srv.Hits(http.MethodPost, "posts"))

	n, err := f.db.Count(ctx, model.EntityPost)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
