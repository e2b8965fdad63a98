package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"go-press-sync/internal/config"
	"go-press-sync/internal/errs"
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

type harness struct {
	eng *Engine
	srv *wptest.Server
	db  *store.SQLite
	cfg *config.Config
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	srv := wptest.New(t)
	cfg := config.Default()
	cfg.Site = srv.Conn()
	cfg.Site.PollInterval = time.Hour
	cfg.Site.Backup = config.Backup{Dir: t.TempDir(), Keep: 2}
	cfg.Database.DSN = filepath.Join(t.TempDir(), "engine.db")
	cfg.Concurrency.RequestTimeout = 2 * time.Second
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	db, err := store.OpenSQLite(cfg.Database.DSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	eng, err := New(cfg, db, nil)
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return &harness{eng: eng, srv: srv, db: db, cfg: cfg}
}

func (h *harness) scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.eng.Metrics().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestTriggerSyncRecordsRunAndMetrics(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.srv.AddPost(remote.Post{Title: remote.Rendered{Raw: "Hello"}})

	rep, err := h.eng.TriggerSync(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, rep.Aborted)
	assert.Equal(t, 1, rep.Count(model.OutcomeCreated))

	st, err := h.eng.GetStats(ctx, "test")
	require.NoError(t, err)
	require.NotNil(t, st.LastSuccessfulAt)
	assert.Equal(t, 1, st.Entities[model.EntityPost].Local)
	assert.Equal(t, 1, st.Entities[model.EntityPost].Mappings.Synced)

	body := h.scrape(t)
	assert.Contains(t, body, `press_sync_results_total{direction="pull",entity_type="post",outcome="created"} 1`)
	assert.Contains(t, body, `press_sync_remote_requests_total{code="200",method="GET",resource="posts"}`)
	assert.Contains(t, body, `press_sync_last_success_timestamp_seconds{scope="test"}`)
}

func TestTriggerSyncSingleType(t *testing.T) {
	h := newHarness(t, nil)
	h.srv.AddTag(remote.Tag{Name: "go"})
	h.srv.AddPost(remote.Post{Title: remote.Rendered{Raw: "ignored"}})

	rep, err := h.eng.TriggerSync(context.Background(), "test", model.EntityTag)
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)
	assert.Equal(t, model.EntityTag, rep.Results[0].EntityType)
	assert.Zero(t, h.srv.Hits(http.MethodGet, "posts"))
}

func TestTriggerSyncUnconfiguredAbortsWithoutRequests(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Site.Secret = "" })

	rep, err := h.eng.TriggerSync(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, rep.Aborted, len(model.AllEntityTypes))
	for _, reason := range rep.Aborted {
		assert.Contains(t, reason, "configuration_missing")
	}
	assert.Zero(t, h.srv.TotalHits())

	st, err := h.eng.GetStats(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, st.Connection.OK)
	assert.Nil(t, st.LastSuccessfulAt)
}

func TestTriggerSyncDisabled(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Site.SyncEnabled = false })
	_, err := h.eng.TriggerSync(context.Background(), "")
	assert.ErrorIs(t, err, ErrSyncDisabled)
	assert.Zero(t, h.srv.TotalHits())
}

func TestTestConnectionUsesGivenCredentials(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	ok := h.eng.TestConnection(ctx, h.srv.Conn())
	assert.True(t, ok.OK)
	assert.Equal(t, "Editor", ok.Identity)

	h.srv.Fail(http.MethodGet, "users", http.StatusUnauthorized, 1)
	bad := h.eng.TestConnection(ctx, h.srv.Conn())
	assert.False(t, bad.OK)
	assert.Contains(t, bad.Message, "401")
	assert.NotContains(t, bad.Message, wptest.Secret)
}

func TestCreateAndSaveBackupKeepsNewest(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.srv.AddPost(remote.Post{Title: remote.Rendered{Raw: "p"}})

	var paths []string
	for i := 0; i < 3; i++ {
		snap, err := h.eng.CreateBackup(ctx, "")
		require.NoError(t, err)
		assert.False(t, snap.Partial)
		assert.Len(t, snap.Collections.Posts, 1)
		p, err := h.eng.SaveBackup(snap, "")
		require.NoError(t, err)
		paths = append(paths, p)
	}
	files, err := filepath.Glob(filepath.Join(h.cfg.Site.Backup.Dir, "backup-*.json"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.Contains(t, h.scrape(t), `press_sync_backups_total{partial="false"} 3`)

	out := t.TempDir()
	snap, err := h.eng.CreateBackup(ctx, "")
	require.NoError(t, err)
	p, err := h.eng.SaveBackup(snap, out)
	require.NoError(t, err)
	assert.Equal(t, out, filepath.Dir(p))
}

func TestCreateBackupUnconfigured(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Site.Username = "" })
	_, err := h.eng.CreateBackup(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrConfigurationMissing))
	assert.Zero(t, h.srv.TotalHits())
}

func TestMarkDirty(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	err := h.eng.MarkDirty(ctx, model.EntityPost, "nope")
	assert.ErrorIs(t, err, ErrNotMapped)

	h.srv.AddPost(remote.Post{Title: remote.Rendered{Raw: "p"}})
	_, err = h.eng.TriggerSync(ctx, "")
	require.NoError(t, err)
	posts, err := h.db.ListPosts(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 1)

	require.NoError(t, h.eng.MarkDirty(ctx, model.EntityPost, posts[0].ID))
	m, err := h.db.Find(ctx, model.EntityPost, posts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncPending, m.Status)
	assert.Equal(t, model.DirectionPush, m.Direction)
}

func TestCommentModeration(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	c := h.srv.AddComment(remote.Comment{Post: 1, AuthorName: "visitor", Content: remote.Rendered{Rendered: "<p>hi</p>"}})
	h.srv.AddComment(remote.Comment{Post: 1, Status: "approved"})

	page, err := h.eng.ListComments(ctx, "", "hold", 1)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, c.ID, page.Items[0].ID)

	got, err := h.eng.ModerateComment(ctx, "", c.ID, "approved")
	require.NoError(t, err)
	assert.Equal(t, "approved", got.Status)
	stored, ok := h.srv.Comment(c.ID)
	require.True(t, ok)
	assert.Equal(t, "approved", stored.Status)

	before := h.srv.TotalHits()
	_, err = h.eng.ModerateComment(ctx, "", c.ID, "deleted")
	assert.True(t, errs.Is(err, errs.ErrRemoteValidation))
	assert.Equal(t, before, h.srv.TotalHits())
}

func TestCommentsDisabled(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Site.Sync.Comments = false })
	_, err := h.eng.ListComments(context.Background(), "", "", 1)
	assert.ErrorIs(t, err, ErrCommentsDisabled)
	_, err = h.eng.ModerateComment(context.Background(), "", 1, "spam")
	assert.ErrorIs(t, err, ErrCommentsDisabled)
	assert.Zero(t, h.srv.TotalHits())
}

func TestRunPollsAndBacksUpUntilCancelled(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Site.PollInterval = 20 * time.Millisecond
		c.Site.Backup.Enabled = true
		c.Site.Backup.Keep = 100
	})
	h.eng.period = func(config.Backup) (time.Duration, error) { return 30 * time.Millisecond, nil }
	h.srv.AddPost(remote.Post{Title: remote.Rendered{Raw: "p"}})

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.eng.Run(ctx, "") }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.GreaterOrEqual(t, h.srv.Hits(http.MethodGet, "posts"), 2)
	entries, err := os.ReadDir(h.cfg.Site.Backup.Dir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	posts, err := h.db.ListPosts(context.Background())
	require.NoError(t, err)
	assert.Len(t, posts, 1, "repeated polls must not duplicate")
}

func TestRunUnconfiguredReturnsError(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Site.Secret = "" })
	err := h.eng.Run(context.Background(), "")
	assert.True(t, errs.Is(err, errs.ErrConfigurationMissing))
}
