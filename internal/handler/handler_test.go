package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shyim/perfaudit/internal/models"
	"github.com/shyim/perfaudit/internal/scheduler"
)

type fakeTasks struct {
	site    int
	debug   bool
	reports []*scheduler.Report
	err     error
	cleared bool
}

func (f *fakeTasks) AuditSite(_ context.Context, siteID int, debug bool) (*scheduler.Report, error) {
	f.site, f.debug = siteID, debug
	if f.err != nil {
		return nil, f.err
	}
	return &scheduler.Report{SiteID: siteID, Debug: debug, Audits: 3}, nil
}

func (f *fakeTasks) AuditAllSites(_ context.Context, debug bool) []*scheduler.Report {
	f.debug = debug
	return f.reports
}

func (f *fakeTasks) ClearTaskRunningFlag(context.Context) (bool, error) {
	return f.cleared, f.err
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func newServer(tasks Tasks, db Pinger, token string) http.Handler {
	h := NewHandler(tasks, db, token, zerolog.Nop())
	mux := http.NewServeMux()
	h.Routes(mux)
	return h.AuthMiddleware(mux)
}

func TestAuthMiddleware(t *testing.T) {
	srv := newServer(&fakeTasks{}, nil, "secret")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/task-flag", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodDelete, "/api/task-flag", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/task-flag", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleCheck(t *testing.T) {
	tasks := &fakeTasks{reports: []*scheduler.Report{
		{SiteID: 1, Lines: []string{"[debug] Debug mode enabled", "[info] done"}},
		{SiteID: 2, Lines: []string{"[warning] Performance Audit task for site 2 has no URLs to check"}, HasProblems: true},
	}}
	srv := newServer(tasks, nil, "")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/check", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, tasks.debug)

	var resp models.CheckResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.HasErrorInOutput)
	assert.Len(t, resp.LogOutput, 3)
	assert.Equal(t, "[debug] Debug mode enabled", resp.LogOutput[0])
}

func TestHandleCheckWithoutSites(t *testing.T) {
	srv := newServer(&fakeTasks{}, nil, "")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/check", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"hasErrorInOutput":false,"logOutput":[]}`, rec.Body.String())
}

func TestHandleAuditSite(t *testing.T) {
	tasks := &fakeTasks{}
	srv := newServer(tasks, nil, "")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sites/7/audit?debug=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, tasks.site)
	assert.True(t, tasks.debug)

	var resp models.AuditResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 3, resp.Report.Audits)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sites/abc/audit", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	tasks.err = errors.New("flag store unavailable")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sites/7/audit", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, tasks.debug)
	assert.Contains(t, rec.Body.String(), "flag store unavailable")
}

func TestHandleClearTaskFlag(t *testing.T) {
	srv := newServer(&fakeTasks{cleared: true}, nil, "")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/task-flag", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cleared":true}`, rec.Body.String())
}

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newServer(&fakeTasks{}, fakePinger{}, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	newServer(&fakeTasks{}, fakePinger{err: errors.New("down")}, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
