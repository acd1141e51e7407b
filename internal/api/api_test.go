// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/cruxlive/cruxd/internal/auth"
	"github.com/cruxlive/cruxd/internal/backup"
	"github.com/cruxlive/cruxd/internal/config"
	"github.com/cruxlive/cruxd/internal/hub"
	"github.com/cruxlive/cruxd/internal/live"
	"github.com/cruxlive/cruxd/internal/ratelimit"
	"github.com/cruxlive/cruxd/internal/registry"
	"github.com/cruxlive/cruxd/internal/store"
)

type testEnv struct {
	srv    *httptest.Server
	tokens *auth.TokenService
	users  *auth.UserService
	live   *live.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Config{
		JWTSecret:            "test-secret",
		AccessTokenExpiry:    time.Hour,
		StorageDir:           t.TempDir(),
		BackupDir:            t.TempDir(),
		BackupRetention:      5,
		MaxAuditFileSizeMB:   50,
		ServerSideTimer:      true,
		DefaultAdminPassword: "admin-pass",
	}

	st, err := store.New(cfg.StorageDir, cfg.MaxAuditFileSizeMB)
	require.NoError(t, err)

	users, err := auth.NewUserService(st)
	require.NoError(t, err)
	require.NoError(t, users.EnsureDefaultAdmin(cfg.DefaultAdminPassword, false))

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.AccessTokenExpiry)
	require.NoError(t, err)

	limCfg := ratelimit.DefaultConfig()
	limCfg.PerSecond = rate.Limit(100000)
	limCfg.Burst = 100000
	limCfg.PerMinute = 1000000
	limCfg.PerType = nil

	fanout := hub.New()
	svc, err := live.New(registry.New(), st, fanout, ratelimit.New(limCfg), cfg.ServerSideTimer)
	require.NoError(t, err)

	backups := backup.NewRunner(cfg.BackupDir, 0, cfg.BackupRetention, svc.CollectBackup)

	server, err := New(cfg, svc, fanout, tokens, users, st, backups)
	require.NoError(t, err)

	srv := httptest.NewServer(server.Routes())
	t.Cleanup(func() {
		fanout.CloseAll()
		srv.Close()
	})
	return &testEnv{srv: srv, tokens: tokens, users: users, live: svc}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	}
	return resp, out
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	token, err := e.tokens.Issue("admin", auth.RoleAdmin, nil)
	require.NoError(t, err)
	return token
}

func (e *testEnv) judgeToken(t *testing.T, boxes ...int) string {
	t.Helper()
	token, err := e.tokens.Issue("judge", auth.RoleJudge, boxes)
	require.NoError(t, err)
	return token
}

func initBody(boxID int) map[string]any {
	return map[string]any{
		"type":        "INIT_ROUTE",
		"boxId":       boxID,
		"routeIndex":  1,
		"holdsCount":  10,
		"timerPreset": "05:00",
		"competitors": []map[string]any{{"name": "Anna"}, {"name": "Ben"}},
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	resp, body := e.request(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestLogin(t *testing.T) {
	e := newTestEnv(t)

	resp, body := e.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "admin", "password": "admin-pass",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, auth.RoleAdmin, body["role"])
	assert.NotEmpty(t, body["accessToken"])

	var sessionCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == auth.TokenCookie {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie, "login must set the session cookie")
	assert.True(t, sessionCookie.HttpOnly)

	resp, body = e.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "admin", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_credentials", body["error"])
}

func TestAuthMe(t *testing.T) {
	e := newTestEnv(t)
	token := e.judgeToken(t, 1, 2)

	resp, body := e.request(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "judge", body["username"])
	assert.Equal(t, auth.RoleJudge, body["role"])
}

func TestCommandAuth(t *testing.T) {
	e := newTestEnv(t)

	// no token
	resp, body := e.request(t, http.MethodPost, "/api/cmd", "", initBody(1))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "token_required", body["error"])

	// spectator may not command
	spectator, err := e.tokens.Spectator()
	require.NoError(t, err)
	resp, body = e.request(t, http.MethodPost, "/api/cmd", spectator, initBody(1))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden_role", body["error"])

	// judge outside the assigned boxes
	resp, body = e.request(t, http.MethodPost, "/api/cmd", e.judgeToken(t, 2), initBody(1))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden_box", body["error"])

	// assigned judge succeeds
	resp, body = e.request(t, http.MethodPost, "/api/cmd", e.judgeToken(t, 1), initBody(1))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestCommandValidationErrors(t *testing.T) {
	e := newTestEnv(t)
	token := e.adminToken(t)

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/api/cmd", strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	r2, body := e.request(t, http.MethodPost, "/api/cmd", token, map[string]any{
		"type": "NO_SUCH_TYPE", "boxId": 1,
	})
	assert.Equal(t, http.StatusBadRequest, r2.StatusCode)
	assert.Equal(t, "unknown_type", body["error"])
}

func TestStateEndpoint(t *testing.T) {
	e := newTestEnv(t)
	admin := e.adminToken(t)

	resp, body := e.request(t, http.MethodGet, "/api/state/5", admin, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "box_not_found", body["error"])

	resp, _ = e.request(t, http.MethodPost, "/api/cmd", admin, initBody(5))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = e.request(t, http.MethodGet, "/api/state/5", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "STATE_SNAPSHOT", body["type"])
	assert.Equal(t, float64(5), body["boxId"])
	assert.Equal(t, true, body["initiated"])

	// judges read only their boxes
	resp, _ = e.request(t, http.MethodGet, "/api/state/5", e.judgeToken(t, 5), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = e.request(t, http.MethodGet, "/api/state/5", e.judgeToken(t, 6), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = e.request(t, http.MethodGet, "/api/state/notanumber", admin, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPublicToken(t *testing.T) {
	e := newTestEnv(t)

	resp, body := e.request(t, http.MethodPost, "/api/public/token", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bearer", body["tokenType"])

	claims, err := e.tokens.Decode(body["accessToken"].(string))
	require.NoError(t, err)
	assert.Equal(t, auth.RoleSpectator, claims.Role)
}

func TestPublicBoxes(t *testing.T) {
	e := newTestEnv(t)
	admin := e.adminToken(t)

	resp, _ := e.request(t, http.MethodGet, "/api/public/boxes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	spectator, err := e.tokens.Spectator()
	require.NoError(t, err)

	resp, body := e.request(t, http.MethodGet, "/api/public/boxes", spectator, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["boxes"])

	e.request(t, http.MethodPost, "/api/cmd", admin, initBody(1))

	resp, body = e.request(t, http.MethodGet, "/api/public/boxes", spectator, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	boxes := body["boxes"].([]any)
	require.Len(t, boxes, 1)
	assert.Equal(t, float64(1), boxes[0].(map[string]any)["boxId"])
}

func TestAdminGate(t *testing.T) {
	e := newTestEnv(t)

	resp, body := e.request(t, http.MethodGet, "/api/admin/ops/status", e.judgeToken(t, 1), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden_role", body["error"])

	resp, body = e.request(t, http.MethodGet, "/api/admin/ops/status", e.adminToken(t), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "wsConnections")
}

func TestAdminBoxPassword(t *testing.T) {
	e := newTestEnv(t)
	admin := e.adminToken(t)

	resp, body := e.request(t, http.MethodPost, "/api/admin/auth/boxes/3/password", admin, map[string]string{
		"password": "judge-pw",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Box 3", body["username"])

	resp, body = e.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "box 3", "password": "judge-pw",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, auth.RoleJudge, body["role"])
}

func TestAdminAuditEvents(t *testing.T) {
	e := newTestEnv(t)
	admin := e.adminToken(t)
	e.request(t, http.MethodPost, "/api/cmd", admin, initBody(1))
	e.request(t, http.MethodPost, "/api/cmd", admin, initBody(2))

	resp, body := e.request(t, http.MethodGet, "/api/admin/audit/events?boxId=2", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := body["events"].([]any)
	require.Len(t, events, 1)
	ev := events[0].(map[string]any)
	assert.Equal(t, float64(2), ev["boxId"])
	_, hasPayload := ev["payload"]
	assert.False(t, hasPayload, "payload stripped unless requested")

	resp, body = e.request(t, http.MethodGet, "/api/admin/audit/events?includePayload=true", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ev = body["events"].([]any)[0].(map[string]any)
	assert.NotEmpty(t, ev["payload"])
}

func TestBackupAndRestoreFlow(t *testing.T) {
	e := newTestEnv(t)
	admin := e.adminToken(t)
	e.request(t, http.MethodPost, "/api/cmd", admin, initBody(1))

	resp, body := e.request(t, http.MethodGet, "/api/admin/backup/full", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snaps := body["snapshots"].([]any)
	require.Len(t, snaps, 1)

	resp, _ = e.request(t, http.MethodPost, "/api/admin/ops/backup/now", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = e.request(t, http.MethodGet, "/api/admin/backup/last", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["file"])

	// advance the live version so the captured snapshot conflicts
	_, state := e.request(t, http.MethodGet, "/api/state/1", admin, nil)
	sid := state["sessionId"].(string)
	e.request(t, http.MethodPost, "/api/cmd", admin, map[string]any{
		"type": "PROGRESS_UPDATE", "boxId": 1, "sessionId": sid, "delta": 1,
	})

	resp, body = e.request(t, http.MethodPost, "/api/admin/restore", admin, map[string]any{
		"snapshots": snaps,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	conflicts := body["conflicts"].([]any)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "lower_version", conflicts[0].(map[string]any)["reason"])

	resp, body = e.request(t, http.MethodPost, "/api/admin/restore", admin, map[string]any{
		"snapshots": snaps, "force": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["restored"].([]any), 1)
}

func TestBoxWebSocket(t *testing.T) {
	e := newTestEnv(t)
	admin := e.adminToken(t)
	e.request(t, http.MethodPost, "/api/cmd", admin, initBody(1))

	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/ws/1?token=" + admin
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	msg := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "STATE_SNAPSHOT", msg["type"])
	assert.Equal(t, float64(1), msg["boxId"])
}

func TestBoxWebSocketAuthFailures(t *testing.T) {
	e := newTestEnv(t)
	base := "ws" + strings.TrimPrefix(e.srv.URL, "http")

	// missing token: upgrade succeeds, then 4401
	conn, _, err := websocket.DefaultDialer.Dial(base+"/api/ws/1", nil)
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, hub.CloseUnauthorized, closeErr.Code)
	_ = conn.Close()

	// wrong box: 4403
	judge := e.judgeToken(t, 2)
	conn, _, err = websocket.DefaultDialer.Dial(base+"/api/ws/1?token="+judge, nil)
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, hub.CloseForbidden, closeErr.Code)
	_ = conn.Close()
}

func TestPublicWebSocket(t *testing.T) {
	e := newTestEnv(t)
	admin := e.adminToken(t)
	e.request(t, http.MethodPost, "/api/cmd", admin, initBody(1))

	spectator, err := e.tokens.Spectator()
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/public/ws?token=" + spectator
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	msg := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "PUBLIC_STATE_SNAPSHOT", msg["type"])

	boxes := msg["boxes"].([]any)
	require.Len(t, boxes, 1)
	box := boxes[0].(map[string]any)
	_, hasRoster := box["competitors"]
	assert.False(t, hasRoster, "spectator payloads carry no roster")
}
