package health

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-press-sync/internal/fetch"
	"go-press-sync/internal/model"
	"go-press-sync/internal/remote"
	"go-press-sync/internal/store"
	"go-press-sync/internal/wptest"
)

func setup(t *testing.T) (*wptest.Server, *store.SQLite, *Reporter) {
	t.Helper()
	srv := wptest.New(t)
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	hc, err := fetch.New(fetch.Options{Timeout: 3 * time.Second})
	require.NoError(t, err)
	t.Cleanup(hc.CloseIdleConnections)
	return srv, db, New(remote.New(hc, remote.Options{Timeout: 2 * time.Second}), db, hc)
}

func TestStatsCombinesLocalRemoteAndMappings(t *testing.T) {
	srv, db, rep := setup(t)
	ctx := context.Background()
	published := time.Date(2024, 2, 2, 10, 0, 0, 0, time.UTC)
	srv.AddPost(remote.Post{Title: remote.Rendered{Raw: "a"}, Date: remote.Time{Time: published}})
	srv.AddPost(remote.Post{Title: remote.Rendered{Raw: "b"}, Status: "draft"})
	srv.AddTag(remote.Tag{Name: "t"})

	require.NoError(t, db.SavePost(ctx, model.Post{ID: "p1", Title: "local"}))
	_, err := db.Upsert(ctx, model.Mapping{EntityType: model.EntityPost, LocalID: "p1", RemoteID: 7, Status: model.SyncSynced})
	require.NoError(t, err)
	_, err = db.Upsert(ctx, model.Mapping{EntityType: model.EntityPost, LocalID: "p2", Status: model.SyncError})
	require.NoError(t, err)
	finished := time.Date(2024, 3, 3, 3, 3, 3, 0, time.UTC)
	_, err = db.RecordRun(ctx, model.Run{Scope: "test", EntityType: "all", StartedAt: finished.Add(-time.Minute), FinishedAt: finished})
	require.NoError(t, err)

	st, err := rep.Stats(ctx, srv.Conn())
	require.NoError(t, err)
	assert.True(t, st.Connection.OK)
	assert.Equal(t, "Editor", st.Connection.Identity)
	assert.Equal(t, model.EntityStats{Local: 1, Remote: 2, Mappings: model.MappingCounts{Synced: 1, Error: 1}}, st.Entities[model.EntityPost])
	assert.Equal(t, 1, st.Entities[model.EntityTag].Remote)
	assert.Equal(t, 0, st.Entities[model.EntityMedia].Remote)
	require.NotNil(t, st.LastSuccessfulAt)
	assert.True(t, st.LastSuccessfulAt.Equal(finished))
	require.NotNil(t, st.FeedLatestAt)
	assert.True(t, st.FeedLatestAt.Equal(published))
}

func TestStatsWhenRemoteUnreachable(t *testing.T) {
	srv, _, rep := setup(t)
	srv.Fail(http.MethodGet, "users", http.StatusUnauthorized, -1)

	st, err := rep.Stats(context.Background(), srv.Conn())
	require.NoError(t, err)
	assert.False(t, st.Connection.OK)
	assert.Contains(t, st.Connection.Message, "401")
	for _, t2 := range model.AllEntityTypes {
		assert.Equal(t, -1, st.Entities[t2].Remote, "remote count for %s", t2)
	}
	assert.Nil(t, st.FeedLatestAt)
	assert.Zero(t, srv.Hits(http.MethodGet, "posts"))
}

func TestStatsUnconfigured(t *testing.T) {
	srv, _, rep := setup(t)
	conn := srv.Conn()
	conn.Secret = ""
	st, err := rep.Stats(context.Background(), conn)
	require.NoError(t, err)
	assert.False(t, st.Connection.OK)
	assert.Equal(t, "未配置站点连接", st.Connection.Message)
	assert.Zero(t, srv.TotalHits())
}

type brokenStore struct{ Store }

func (brokenStore) Count(context.Context, model.EntityType) (int, error) {
	return 0, errors.New("database is locked")
}

func TestStatsLocalFailure(t *testing.T) {
	srv, db, _ := setup(t)
	hc, err := fetch.New(fetch.Options{})
	require.NoError(t, err)
	t.Cleanup(hc.CloseIdleConnections)
	rep := New(remote.New(hc, remote.Options{}), brokenStore{db}, nil)
	_, err = rep.Stats(context.Background(), srv.Conn())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
}
