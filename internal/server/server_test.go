package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/bhandras/termhub/internal/audit"
	"github.com/bhandras/termhub/internal/config"
	"github.com/bhandras/termhub/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type nopChannel struct{}

func (nopChannel) Emit(string, ...any) {}

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.LimitGlobal = 4
	cfg.LimitPerUser = 2
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	srv, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, srv.Close(ctx))
	})
	return srv
}

func addSession(t *testing.T, srv *Server, id session.Identity) *session.Session {
	t.Helper()

	sess := session.New(id, nopChannel{}, session.Config{LimitPerUser: 2}, session.Deps{
		Counter:  srv.Counter(),
		Registry: srv.Registry(),
	})
	require.Nil(t, srv.Registry().Register(sess))
	return sess
}

func do(t *testing.T, h http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv.Handler(), "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStats(t *testing.T) {
	srv := newTestServer(t, nil)
	addSession(t, srv, srv.Registry().NextGenerated())

	require.True(t, srv.Counter().TryAcquire())
	defer srv.Counter().Release()

	rec := do(t, srv.Handler(), "/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, 1, stats.Sessions)
	require.Equal(t, 1, stats.LiveTerminals)
	require.Equal(t, 4, stats.LimitGlobal)
	require.Equal(t, 2, stats.LimitPerUser)
}

func TestSessionsListing(t *testing.T) {
	srv := newTestServer(t, nil)
	addSession(t, srv, session.Authenticated("alice"))
	addSession(t, srv, srv.Registry().NextGenerated())

	rec := do(t, srv.Handler(), "/v1/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sessions []SessionView `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sessions, 2)

	ids := []string{body.Sessions[0].ID, body.Sessions[1].ID}
	require.ElementsMatch(t, []string{"alice", "0"}, ids)
	for _, v := range body.Sessions {
		require.Empty(t, v.Terminals)
	}
}

func TestAuthScopesSessions(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.AuthSecret = "test-secret"
	})
	addSession(t, srv, session.Authenticated("alice"))
	addSession(t, srv, session.Authenticated("bob"))

	rec := do(t, srv.Handler(), "/v1/sessions", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := srv.JWT().CreateToken("alice", time.Hour)
	require.NoError(t, err)

	rec = do(t, srv.Handler(), "/v1/sessions", token)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sessions []SessionView `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sessions, 1)
	require.Equal(t, "alice", body.Sessions[0].ID)
	require.Equal(t, "authenticated", body.Sessions[0].Identity)

	// Health and metrics stay public.
	require.Equal(t, http.StatusOK, do(t, srv.Handler(), "/healthz", "").Code)
	require.Equal(t, http.StatusOK, do(t, srv.Handler(), "/metrics", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv.Handler(), "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "termhub_live_terminals 0")
	require.Contains(t, body, "termhub_terminal_limit 4")
}

func TestAuditEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	require.Equal(t, http.StatusNotFound, do(t, srv.Handler(), "/v1/audit", "").Code)

	srv = newTestServer(t, func(cfg *config.Config) {
		cfg.AuditDatabasePath = filepath.Join(t.TempDir(), "audit.db")
	})
	require.Equal(t, http.StatusBadRequest, do(t, srv.Handler(), "/v1/audit?limit=-1", "").Code)

	rec := do(t, srv.Handler(), "/v1/audit?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"events"`)
}

func TestAuditScopedByIdentity(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.AuthSecret = "test-secret"
		cfg.AuditDatabasePath = filepath.Join(t.TempDir(), "audit.db")
	})

	ctx := context.Background()
	now := time.Now()
	for i, owner := range []string{"alice", "bob", "alice"} {
		require.NoError(t, srv.store.Insert(ctx, audit.Event{
			ID:        fmt.Sprintf("%s-%d", owner, i),
			Time:      now.Add(time.Duration(i) * time.Second),
			Kind:      audit.KindOpened,
			SessionID: owner,
		}))
	}

	token, err := srv.JWT().CreateToken("alice", time.Hour)
	require.NoError(t, err)

	rec := do(t, srv.Handler(), "/v1/audit", token)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Events []audit.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 2)
	for _, ev := range body.Events {
		require.Equal(t, "alice", ev.SessionID)
	}
}

func TestUseRegistersMiddleware(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.Use(func(c *gin.Context) {
		c.Header("X-Termhub", "1")
		c.Next()
	})

	rec := do(t, srv.Handler(), "/healthz", "")
	require.Equal(t, "1", rec.Header().Get("X-Termhub"))

	// Too late; the router is already built.
	srv.Use(func(c *gin.Context) {
		c.Header("X-Late", "1")
		c.Next()
	})
	rec = do(t, srv.Handler(), "/healthz", "")
	require.Empty(t, rec.Header().Get("X-Late"))
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.AllowedOrigins = []string{"https://term.example.com"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/v1/stats", nil)
	req.Header.Set("Origin", "https://term.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, "https://term.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	cfg := config.Default()
	srv, err := New(cfg)
	require.NoError(t, err)
	addSession(t, srv, srv.Registry().NextGenerated())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(ShutdownTimeout):
		t.Fatal("server did not shut down")
	}
	require.Zero(t, srv.Registry().Len())

	_, err = http.Get(url)
	require.Error(t, err)
}
