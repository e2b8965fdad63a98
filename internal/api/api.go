// 包 api 为同步引擎的 HTTP 接口（chi 路由），供后台界面与运维调用：
// 连接测试、触发同步、统计、备份、标记待推送、评论审核，以及 /metrics 与 /healthz。
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"go-press-sync/internal/config"
	"go-press-sync/internal/engine"
	"go-press-sync/internal/errs"
	"go-press-sync/internal/logx"
	"go-press-sync/internal/metrics"
	"go-press-sync/internal/model"
	"go-press-sync/internal/remote"
)

// Engine 为接口层使用的引擎操作，由 *engine.Engine 实现。
type Engine interface {
	Connection(scope string) (config.Connection, error)
	TestConnection(ctx context.Context, conn config.Connection) model.ConnectionStatus
	TriggerSync(ctx context.Context, scope string, types ...model.EntityType) (*model.Report, error)
	GetStats(ctx context.Context, scope string) (model.Stats, error)
	CreateBackup(ctx context.Context, scope string) (model.Snapshot, error)
	SaveBackup(snap model.Snapshot, dir string) (string, error)
	MarkDirty(ctx context.Context, t model.EntityType, localID string) error
	ListComments(ctx context.Context, scope, status string, page int) (remote.Page[remote.Comment], error)
	ModerateComment(ctx context.Context, scope string, id int64, status string) (remote.Comment, error)
	Ping(ctx context.Context) error
	Metrics() *metrics.Metrics
}

type handler struct {
	eng Engine
}

// New 返回挂好全部路由的处理器。
func New(eng Engine) http.Handler {
	h := &handler{eng: eng}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", eng.Metrics().Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/connection/test", h.testConnection)
		r.Post("/sync", h.sync)
		r.Post("/sync/{type}", h.sync)
		r.Get("/stats", h.stats)
		r.Post("/backup", h.backup)
		r.Post("/dirty/{type}/{id}", h.markDirty)
		r.Get("/comments", h.listComments)
		r.Put("/comments/{id}", h.moderateComment)
	})
	return r
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logx.Debugf("HTTP %s %s -> %d 耗时=%s id=%s", r.Method, r.URL.Path, ww.Status(),
			time.Since(start).Round(time.Millisecond), middleware.GetReqID(r.Context()))
	})
}

type errorBody struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Hints   []string `json:"hints,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Warnf("写入响应失败：%v", err)
	}
}

// statusOf 将错误类别映射为 HTTP 状态码。
func statusOf(err error) int {
	switch {
	case errs.Is(err, engine.ErrNotMapped):
		return http.StatusNotFound
	case errs.Is(err, engine.ErrSyncDisabled), errs.Is(err, engine.ErrCommentsDisabled):
		return http.StatusConflict
	case errs.Is(err, errs.ErrConfigurationMissing):
		return http.StatusPreconditionFailed
	case errs.Is(err, errs.ErrRemoteValidation):
		return http.StatusUnprocessableEntity
	case errs.Is(err, errs.ErrConnection):
		return http.StatusGatewayTimeout
	case errs.Is(err, errs.ErrAuthentication), errs.Is(err, errs.ErrRemoteStatus), errs.Is(err, errs.ErrMalformedResponse):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	kind := errs.Kind(err)
	switch {
	case errs.Is(err, engine.ErrNotMapped):
		kind = "not_mapped"
	case errs.Is(err, engine.ErrSyncDisabled):
		kind = "sync_disabled"
	case errs.Is(err, engine.ErrCommentsDisabled):
		kind = "comments_disabled"
	}
	code := statusOf(err)
	if code >= 500 {
		logx.Warnf("请求失败：%s %v", kind, err)
	}
	writeJSON(w, code, errorBody{Error: kind, Message: err.Error(), Hints: errs.Hints(err)})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: msg})
}

func scopeOf(r *http.Request) string { return strings.TrimSpace(r.URL.Query().Get("scope")) }

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.eng.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// connectionInput 为待测试的连接。url 为空或与已保存站点相同时，空字段沿用已保存配置；
// 指向其他地址时只使用请求中给出的凭据。
type connectionInput struct {
	URL      string `json:"url"`
	APIPath  string `json:"api_path"`
	Username string `json:"username"`
	Secret   string `json:"secret"`
}

func (h *handler) testConnection(w http.ResponseWriter, r *http.Request) {
	var in connectionInput
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			badRequest(w, "invalid JSON body: "+err.Error())
			return
		}
	}
	conn, _ := h.eng.Connection(scopeOf(r))
	if in.URL != "" && !sameSite(in.URL, conn.BaseURL) {
		conn = config.Connection{BaseURL: in.URL}
	}
	if in.APIPath != "" {
		conn.APIPath = in.APIPath
	}
	if in.Username != "" {
		conn.Username = in.Username
	}
	if in.Secret != "" {
		conn.Secret = in.Secret
	}
	if conn.BaseURL != "" {
		if err := conn.Validate(); err != nil {
			badRequest(w, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, h.eng.TestConnection(r.Context(), conn))
}

// sameSite 报告两个站点地址是否相同，忽略结尾斜杠与 scheme/host 的大小写。
func sameSite(a, b string) bool {
	if b == "" {
		return false
	}
	ua, err := url.Parse(strings.TrimSpace(a))
	if err != nil {
		return false
	}
	ub, err := url.Parse(strings.TrimSpace(b))
	if err != nil {
		return false
	}
	return strings.EqualFold(ua.Scheme, ub.Scheme) && strings.EqualFold(ua.Host, ub.Host) &&
		strings.TrimRight(ua.Path, "/") == strings.TrimRight(ub.Path, "/")
}

// syncResponse 为同步报告加上按结果类型的计数。
type syncResponse struct {
	*model.Report
	Counts map[model.Outcome]int `json:"counts"`
}

func (h *handler) sync(w http.ResponseWriter, r *http.Request) {
	var types []model.EntityType
	if raw := chi.URLParam(r, "type"); raw != "" {
		t, ok := model.ParseEntityType(raw)
		if !ok {
			badRequest(w, "unknown entity type: "+raw)
			return
		}
		types = append(types, t)
	}
	rep, err := h.eng.TriggerSync(r.Context(), scopeOf(r), types...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{Report: rep, Counts: rep.Counts()})
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.eng.GetStats(r.Context(), scopeOf(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// backup 返回快照；?save=1 时同时写入备份目录，路径放在 X-Backup-Path 响应头。
func (h *handler) backup(w http.ResponseWriter, r *http.Request) {
	snap, err := h.eng.CreateBackup(r.Context(), scopeOf(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if save, _ := strconv.ParseBool(r.URL.Query().Get("save")); save {
		path, err := h.eng.SaveBackup(snap, "")
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("X-Backup-Path", path)
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) markDirty(w http.ResponseWriter, r *http.Request) {
	t, ok := model.ParseEntityType(chi.URLParam(r, "type"))
	if !ok {
		badRequest(w, "unknown entity type: "+chi.URLParam(r, "type"))
		return
	}
	if err := h.eng.MarkDirty(r.Context(), t, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listComments(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			badRequest(w, "invalid page: "+raw)
			return
		}
		page = n
	}
	res, err := h.eng.ListComments(r.Context(), scopeOf(r), r.URL.Query().Get("status"), page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) moderateComment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "invalid comment id")
		return
	}
	var in struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	c, err := h.eng.ModerateComment(r.Context(), scopeOf(r), id, in.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
