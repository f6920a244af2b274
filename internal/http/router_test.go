package httpapi

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-chat-server/internal/broadcast"
	"github.com/tbourn/go-chat-server/internal/config"
)

func newTestRouter(t *testing.T) (*gin.Engine, *broadcast.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{}
	cfg.OTEL.ServiceName = "go-chat-server-test"

	registry := broadcast.NewRegistry(zerolog.Nop())
	r := gin.New()
	RegisterRoutes(r, registry, cfg)
	return r, registry
}

func addBoundSession(t *testing.T, registry *broadcast.Registry, id int64, username string) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	t.Cleanup(func() {
		_ = clientSide.Close()
		_ = serverSide.Close()
	})
	registry.Add(broadcast.NewClient(id, serverSide))
	registry.Bind(id, username)
}

func doGet(t *testing.T, r *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doGet(t, r, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("response must carry a request id")
	}
}

func TestOnlineSnapshot(t *testing.T) {
	r, registry := newTestRouter(t)
	addBoundSession(t, registry, 1, "alice")
	addBoundSession(t, registry, 2, "bob")
	addBoundSession(t, registry, 3, "bob") // second session, same user

	w := doGet(t, r, "/online")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body struct {
		OnlineCount int      `json:"onlineCount"`
		Users       []string `json:"users"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v (body %s)", err, w.Body.String())
	}
	if body.OnlineCount != 2 || !reflect.DeepEqual(body.Users, []string{"alice", "bob"}) {
		t.Fatalf("snapshot = %+v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doGet(t, r, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.Len() == 0 {
		t.Fatal("metrics body must not be empty")
	}
}
