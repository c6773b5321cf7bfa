package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/strealome/internal/adapters/auth"
	"github.com/dkeye/strealome/internal/adapters/signal"
	"github.com/dkeye/strealome/internal/adapters/userstore"
	"github.com/dkeye/strealome/internal/app"
	"github.com/dkeye/strealome/internal/config"
	"github.com/dkeye/strealome/internal/core"
	"github.com/dkeye/strealome/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	lobby  *app.Lobby
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := userstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rooms, err := app.NewRegistry(app.Options{SendTimeout: 100 * time.Millisecond})
	require.NoError(t, err)

	cfg := &config.Config{Mode: "test", ReadLimit: 4096, WriteTimeout: time.Second}
	lobby := &app.Lobby{Rooms: rooms, Users: store}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := SetupRouter(ctx, cfg, &Services{
		Lobby:    lobby,
		Accounts: store,
		Auth:     auth.NewManager("test-secret", time.Hour),
		Pump:     signal.NewPump(rooms, store, signal.NewChatRateLimiter(10, time.Second), 32),
	})
	return &testServer{t: t, router: r, lobby: lobby}
}

func (s *testServer) do(method, path, token string, body any) (int, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func (s *testServer) register(name string) tokenResponse {
	s.t.Helper()
	code, env := s.do(http.MethodPost, "/api/user/register", "", gin.H{"name": name})
	require.Equal(s.t, http.StatusOK, code, env.Error)
	return decodeData[tokenResponse](s.t, env)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.OK)
	assert.JSONEq(t, `{"rooms":0}`, string(env.Data))
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(http.MethodGet, "/api/room/my", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, env.OK)

	code, _ = s.do(http.MethodGet, "/api/room/my", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	alice := s.register("alice")
	gw, genv := s.do(http.MethodGet, "/api/chat/gateway", alice.Token, nil)
	require.Equal(t, http.StatusOK, gw)
	chatToken := decodeData[tokenResponse](t, genv).Token

	code, env = s.do(http.MethodGet, "/api/room/my", chatToken, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, auth.ErrWrongDomain.Error(), env.Error)
}

func TestTokenCookie(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice")

	req := httptest.NewRequest(http.MethodGet, "/api/user/me", nil)
	req.AddCookie(&http.Cookie{Name: tokenCookie, Value: alice.Token})
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"alice"`)
}

func TestRoomLifecycle(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice")
	bob := s.register("bob")

	code, env := s.do(http.MethodPost, "/api/room/create", alice.Token, gin.H{"name": "Room1"})
	require.Equal(t, http.StatusOK, code, env.Error)
	room := decodeData[domain.RoomSummary](t, env)
	assert.Equal(t, "Room1", room.Name)
	assert.Equal(t, "alice", room.HostName)
	assert.True(t, room.Hosting)

	code, env = s.do(http.MethodGet, "/api/room/detail?room="+string(room.ShareLink), bob.Token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, decodeData[domain.RoomSummary](t, env).Hosting)

	code, env = s.do(http.MethodGet, "/api/room/detail?room=missing1", bob.Token, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, core.ErrRoomNotFound.Error(), env.Error)

	code, env = s.do(http.MethodPost, "/api/room/rename", bob.Token, gin.H{"room": room.ShareLink, "name": "mine"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, app.ErrNotHost.Error(), env.Error)

	code, _ = s.do(http.MethodPost, "/api/room/rename", alice.Token, gin.H{"room": room.ShareLink, "name": "Renamed"})
	require.Equal(t, http.StatusOK, code)

	code, env = s.do(http.MethodGet, "/api/room/my", alice.Token, nil)
	require.Equal(t, http.StatusOK, code)
	mine := decodeData[[]domain.RoomSummary](t, env)
	require.Len(t, mine, 1)
	assert.Equal(t, "Renamed", mine[0].Name)

	code, _ = s.do(http.MethodPost, "/api/room/users", alice.Token, gin.H{"room": room.ShareLink})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(http.MethodPost, "/api/room/create", alice.Token, gin.H{"name": "   "})
	assert.Equal(t, http.StatusBadRequest, code)
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialChat(t *testing.T, srv *httptest.Server, s *testServer, httpToken string, link domain.RoomLink) *wsClient {
	t.Helper()
	_, env := s.do(http.MethodGet, "/api/chat/gateway", httpToken, nil)
	token := decodeData[tokenResponse](t, env).Token

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/chat/" + string(link) + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) next() *core.Signal {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	sig, err := core.Decode(data)
	require.NoError(c.t, err)
	return sig
}

func TestChatOverSocket(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	alice := s.register("alice")
	bob := s.register("bob")
	_, env := s.do(http.MethodPost, "/api/room/create", alice.Token, gin.H{"name": "Room1"})
	link := decodeData[domain.RoomSummary](t, env).ShareLink

	a := dialChat(t, srv, s, alice.Token, link)
	assert.Equal(t, core.Handshake{ID: int64(alice.User.ID)}, a.next().Payload)

	b := dialChat(t, srv, s, bob.Token, link)
	assert.IsType(t, core.Handshake{}, b.next().Payload)
	assert.Equal(t, core.JoinEvent{UserID: bob.User.ID, NewMemberCount: 2}, a.next().Payload)

	code, env := s.do(http.MethodPost, "/api/room/users", bob.Token, gin.H{"room": link})
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, []domain.User{alice.User, bob.User}, decodeData[[]domain.User](t, env))

	code, _ = s.do(http.MethodPost, "/api/chat/message", bob.Token, gin.H{"room": link, "content": "hi"})
	require.Equal(t, http.StatusOK, code)
	chat := a.next()
	assert.Equal(t, bob.User.ID, chat.Author)
	assert.Equal(t, "hi", chat.Payload.(core.ChatEvent).Message.Content)

	code, _ = s.do(http.MethodPost, "/api/room/transfer", alice.Token, gin.H{"room": link, "target_id": bob.User.ID})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, core.TransferEvent{NewHostID: bob.User.ID}, b.next().Payload)
	assert.Equal(t, core.TransferEvent{NewHostID: bob.User.ID}, a.next().Payload)

	require.NoError(t, b.conn.WriteMessage(websocket.TextMessage, []byte(`{"id":1,"a":0,"t":"2","p":{"id":4,"sn":9}}`)))
	assert.Equal(t, core.Pong{ID: 4, SN: 9}, b.next().Payload)
}

func TestChatSocketUnknownRoom(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice")
	_, env := s.do(http.MethodGet, "/api/chat/gateway", alice.Token, nil)
	token := decodeData[tokenResponse](t, env).Token

	code, env := s.do(http.MethodGet, "/api/ws/chat/missing1?token="+token, "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, env.OK)
}
