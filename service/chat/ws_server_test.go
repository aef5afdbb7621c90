package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"SocialChat/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type wsEnv struct {
	srv *Server
	ts  *httptest.Server
	url string
}

func newWSEnv(t *testing.T, opts Options) *wsEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NewConnID == nil {
		var seq atomic.Int64
		opts.NewConnID = func() string { return "conn-" + strconv.FormatInt(seq.Add(1), 10) }
	}
	srv := NewServer(opts)
	r := gin.New()
	r.GET("/socket", srv.HandleWS)
	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		ts.Close()
	})
	return &wsEnv{srv: srv, ts: ts, url: "ws" + strings.TrimPrefix(ts.URL, "http") + "/socket"}
}

func (e *wsEnv) dial(t *testing.T, userID string, header http.Header) *websocket.Conn {
	t.Helper()
	u := e.url
	if userID != "" {
		u += "?userId=" + userID
	}
	conn, resp, err := websocket.DefaultDialer.Dial(u, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f wireFrame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func sendFrame(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := EncodeFrame(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func TestWS_PresenceAndDirectMessage(t *testing.T) {
	req := require.New(t)
	env := newWSEnv(t, Options{})

	a := env.dial(t, "A", nil)
	req.Equal([]string{"A"}, onlineUsers(t, readFrame(t, a)))

	b := env.dial(t, "B", nil)
	req.Equal([]string{"A", "B"}, onlineUsers(t, readFrame(t, a)))
	req.Equal([]string{"A", "B"}, onlineUsers(t, readFrame(t, b)))

	n := env.srv.Dispatcher().Deliver(testMessage{ID: "m1", Sender: "A", Body: "hello"}, DirectUser{UserID: "B"})
	req.Equal(1, n)
	f := readFrame(t, b)
	req.Equal(EventNewMessage, f.Event)
	got := messages(t, []wireFrame{f})
	req.Equal("hello", got[0].Body)

	req.NoError(b.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	req.Equal([]string{"A"}, onlineUsers(t, readFrame(t, a)))
	req.Eventually(func() bool { return env.srv.Conns().Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	req.Zero(env.srv.Dispatcher().Deliver(testMessage{ID: "m2"}, DirectUser{UserID: "B"}))
}

func TestWS_GroupRoom(t *testing.T) {
	req := require.New(t)
	env := newWSEnv(t, Options{})

	var members []*websocket.Conn
	for _, id := range []string{"A", "B", "C"} {
		members = append(members, env.dial(t, id, nil))
	}
	outsider := env.dial(t, "D", nil)
	req.Eventually(func() bool { return env.srv.Presence().Len() == 4 }, 2*time.Second, 10*time.Millisecond)

	sendFrame(t, members[0], EventJoinRoom, "G1")
	sendFrame(t, members[1], EventJoinRoom, map[string]string{"roomId": "G1"})
	sendFrame(t, members[2], EventJoinRoom, map[string]string{"chatId": "G1"})
	req.Eventually(func() bool { return len(env.srv.Rooms().MembersOf("G1")) == 3 }, 2*time.Second, 10*time.Millisecond)

	req.Equal(3, env.srv.Dispatcher().Deliver(testMessage{ID: "g1", ChatID: "G1", Sender: "A"}, Room{RoomID: "G1"}))
	for _, c := range members {
		for {
			f := readFrame(t, c)
			if f.Event == EventNewMessage {
				req.Equal("g1", messages(t, []wireFrame{f})[0].ID)
				break
			}
		}
	}

	// outsider 只会收到在线列表
	req.NoError(outsider.SetReadDeadline(time.Now().Add(200 * time.Millisecond)))
	for {
		_, data, err := outsider.ReadMessage()
		if err != nil {
			break
		}
		var f wireFrame
		req.NoError(json.Unmarshal(data, &f))
		req.Equal(EventGetOnlineUsers, f.Event)
	}
}

func TestWS_UntrackedHandshake(t *testing.T) {
	req := require.New(t)
	env := newWSEnv(t, Options{})
	a := env.dial(t, "A", nil)
	readFrame(t, a)

	anon := env.dial(t, "undefined", nil)

	req.Equal([]string{"A"}, onlineUsers(t, readFrame(t, anon)))
	req.Eventually(func() bool { return env.srv.Conns().Len() == 2 }, 2*time.Second, 10*time.Millisecond)
	req.Equal(1, env.srv.Presence().Len())
}

func TestWS_IdentifyOverridesQuery(t *testing.T) {
	req := require.New(t)
	env := newWSEnv(t, Options{
		Identify: headerIdentify,
	})

	conn := env.dial(t, "spoofed", http.Header{"X-Test-User": []string{"real"}})

	req.Equal([]string{"real"}, onlineUsers(t, readFrame(t, conn)))
}

// headerIdentify X-Test-User 充当 token，值为 "bad" 时视为校验失败
func headerIdentify(r *http.Request) (string, error) {
	switch v := r.Header.Get("X-Test-User"); v {
	case "":
		return "", errs.ErrTokenMissing.Wrap()
	case "bad":
		return "", errs.ErrTokenInvalid.WrapMsg("signature mismatch")
	default:
		return v, nil
	}
}

func TestWS_RejectedTokenFallsBackWithLog(t *testing.T) {
	req := require.New(t)
	log, logs := observed(zapcore.InfoLevel)
	env := newWSEnv(t, Options{Identify: headerIdentify, Logger: log})

	conn := env.dial(t, "A", http.Header{"X-Test-User": []string{"bad"}})

	req.Equal([]string{"A"}, onlineUsers(t, readFrame(t, conn)))
	entries := logs.FilterMessage("[WS] token rejected, using query userId").All()
	req.Len(entries, 1)
	req.Equal(zapcore.InfoLevel, entries[0].Level)
	req.Equal("A", entries[0].ContextMap()["query"])
}

func TestWS_MissingTokenFallsBackQuietly(t *testing.T) {
	req := require.New(t)
	log, logs := observed(zapcore.InfoLevel)
	env := newWSEnv(t, Options{Identify: headerIdentify, Logger: log})

	conn := env.dial(t, "A", nil)

	req.Equal([]string{"A"}, onlineUsers(t, readFrame(t, conn)))
	req.Zero(logs.FilterMessage("[WS] token rejected, using query userId").Len())
}

func TestWS_OriginRejected(t *testing.T) {
	env := newWSEnv(t, Options{AllowedOrigins: []string{"http://chat.example.com/"}})

	_, resp, err := websocket.DefaultDialer.Dial(env.url+"?userId=A",
		http.Header{"Origin": []string{"http://evil.example.com"}})

	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	ok := env.dial(t, "A", http.Header{"Origin": []string{"http://CHAT.example.com"}})
	require.Equal(t, []string{"A"}, onlineUsers(t, readFrame(t, ok)))
}

func TestWS_BadFramesIgnored(t *testing.T) {
	req := require.New(t)
	env := newWSEnv(t, Options{})
	a := env.dial(t, "A", nil)
	readFrame(t, a)

	req.NoError(a.WriteMessage(websocket.TextMessage, []byte("not json")))
	sendFrame(t, a, "unknownEvent", 1)
	sendFrame(t, a, EventJoinRoom, map[string]string{})
	sendFrame(t, a, EventJoinRoom, 42)

	req.Eventually(func() bool { return len(env.srv.Rooms().MembersOf("42")) == 1 }, 2*time.Second, 10*time.Millisecond)
	req.Equal(1, env.srv.Conns().Len())
}

func TestWS_ShutdownClosesEverything(t *testing.T) {
	req := require.New(t)
	env := newWSEnv(t, Options{})
	a := env.dial(t, "A", nil)
	readFrame(t, a)
	b := env.dial(t, "B", nil)
	readFrame(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req.NoError(env.srv.Shutdown(ctx))

	req.Zero(env.srv.Conns().Len())
	req.Zero(env.srv.Presence().Len())
	req.Zero(env.srv.Stats().Connections)
}

func TestHandshakeUserID(t *testing.T) {
	require.Equal(t, "", handshakeUserID("undefined"))
	require.Equal(t, "", handshakeUserID("null"))
	require.Equal(t, "", handshakeUserID("  "))
	require.Equal(t, "u1", handshakeUserID(" u1 "))
}
