package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `[
  {
    "id": "capitals",
    "name": "Capital cities",
    "controller": "static",
    "settings": {
      "questions": [
        {"text": "Capital of France?", "options": ["Paris", "Lyon"], "correct_option_index": 0}
      ]
    }
  }
]`

func makeServer(t *testing.T, modify ...func(*Config)) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "general"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "general", "quizzes.json"), []byte(testCatalog), 0o600))

	c := DefaultConfig()
	c.Game.QuizDir = dir
	for _, m := range modify {
		m(&c)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s, err := Init(ctx, c)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.service.session.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		s.eb.Stop()
		s.closeInfra()
	})

	return s
}

func withLeaderboard(t *testing.T) func(*Config) {
	mr := miniredis.RunT(t)
	return func(c *Config) {
		c.Redis.Leaderboard.Addrs = []string{mr.Addr()}
	}
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.http.Handler.ServeHTTP(rec, req)
	return rec
}

func TestInit_InvalidHostPolicy(t *testing.T) {
	c := DefaultConfig()
	c.Game.QuizDir = t.TempDir()
	c.Game.HostPolicy = "democracy"

	_, err := Init(context.Background(), c)
	require.Error(t, err)
}

func TestServer_Routes(t *testing.T) {
	tests := map[string]struct {
		modify   []func(*Config)
		arrange  func(t *testing.T, s *Server)
		path     string
		wantCode int
		assert   func(t *testing.T, rec *httptest.ResponseRecorder)
	}{
		"healthz": {
			path:     "/healthz",
			wantCode: http.StatusOK,
			assert: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
			},
		},
		"session snapshot": {
			path:     "/session",
			wantCode: http.StatusOK,
			assert: func(t *testing.T, rec *httptest.ResponseRecorder) {
				var snap struct {
					SessionID string `json:"session_id"`
					Status    int    `json:"status"`
				}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
				assert.NotEmpty(t, snap.SessionID)
				assert.Equal(t, 0, snap.Status)
			},
		},
		"quizzes": {
			path:     "/quizzes",
			wantCode: http.StatusOK,
			assert: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.JSONEq(t, `{"quizzes":[{"id":"capitals","name":"Capital cities"}]}`, rec.Body.String())
			},
		},
		"leaderboard not configured": {
			path:     "/leaderboard/s1",
			wantCode: http.StatusServiceUnavailable,
		},
		"leaderboard unknown session": {
			modify:   []func(*Config){withLeaderboard(t)},
			path:     "/leaderboard/nope",
			wantCode: http.StatusNotFound,
		},
		"leaderboard": {
			modify: []func(*Config){withLeaderboard(t)},
			arrange: func(t *testing.T, s *Server) {
				require.NoError(t, s.service.leaderboard.UpdateLeaderboard(context.Background(), "s1", "alice", 2))
			},
			path:     "/leaderboard/s1",
			wantCode: http.StatusOK,
			assert: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Contains(t, rec.Body.String(), `"alice"`)
			},
		},
		"results not configured": {
			path:     "/results/s1",
			wantCode: http.StatusServiceUnavailable,
			assert: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Contains(t, rec.Body.String(), "results archive is not configured")
			},
		},
		"qr from request host": {
			path:     "/qr",
			wantCode: http.StatusOK,
			assert: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
				assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
			},
		},
		"qr from public url": {
			modify: []func(*Config){func(c *Config) {
				c.HTTP.PublicURL = "https://quiz.example.com/"
			}},
			path:     "/qr",
			wantCode: http.StatusOK,
		},
		"metrics": {
			path:     "/metrics",
			wantCode: http.StatusOK,
			assert: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Contains(t, rec.Body.String(), "livequiz_websocket_connections")
				assert.Contains(t, rec.Body.String(), "go_goroutines")
			},
		},
		"unknown route": {
			path:     "/nope",
			wantCode: http.StatusNotFound,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s := makeServer(t, tt.modify...)
			if tt.arrange != nil {
				tt.arrange(t, s)
			}

			rec := get(t, s, tt.path)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.assert != nil {
				tt.assert(t, rec)
			}
		})
	}
}

func TestServer_WebsocketJoin(t *testing.T) {
	s := makeServer(t)

	srv := httptest.NewServer(s.http.Handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "player_connected", "username": "alice"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var types []string
	for len(types) < 2 {
		var msg struct {
			Type string `json:"type"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		types = append(types, msg.Type)
	}

	require.ElementsMatch(t, []string{"connected_game_status", "player_connected"}, types)
	require.Eventually(t, func() bool { return s.ws.Connections() == 1 }, time.Second, 10*time.Millisecond)
}

func TestConfig_Validate(t *testing.T) {
	tests := map[string]struct {
		modify  func(c *Config)
		wantErr string
	}{
		"defaults": {
			modify: func(*Config) {},
		},
		"shared port": {
			modify:  func(c *Config) { c.GRPC.Port = c.HTTP.Port },
			wantErr: "share port",
		},
		"zero port": {
			modify:  func(c *Config) { c.HTTP.Port = 0 },
			wantErr: "ports must be positive",
		},
		"no quiz dir": {
			modify:  func(c *Config) { c.Game.QuizDir = "" },
			wantErr: "quiz_dir",
		},
		"zero time step": {
			modify:  func(c *Config) { c.Game.TimeLimitStep = 0 },
			wantErr: "time_limit_step",
		},
		"negative tier": {
			modify:  func(c *Config) { c.Game.MaxTimeLimitTier = -1 },
			wantErr: "max_time_limit_tier",
		},
		"unknown host policy": {
			modify:  func(c *Config) { c.Game.HostPolicy = "democracy" },
			wantErr: "host policy",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			c := DefaultConfig()
			tt.modify(&c)

			err := c.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
