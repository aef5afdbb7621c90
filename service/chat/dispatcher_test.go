package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type harness struct {
	conns *ConnManager
	rooms *RoomTracker
	fan   *Fanout
	life  *Lifecycle
	disp  *Dispatcher
}

func newHarness(log *zap.Logger, conf LifecycleConf) *harness {
	if log == nil {
		log = zap.NewNop()
	}
	conf.Logger = log
	h := &harness{conns: NewConnManager(), rooms: NewRoomTracker(), fan: NewFanout(log)}
	h.life = NewLifecycle(h.conns, h.rooms, h.fan, conf)
	h.disp = NewDispatcher(h.life.Presence(), h.rooms, h.conns, h.fan, log)
	return h
}

// connect 登记连接并清空它收到的在线列表帧
func (h *harness) connect(t *testing.T, connID, userID string) *Client {
	t.Helper()
	c := newTestClient(connID, userID)
	require.NoError(t, h.life.Connect(c))
	return c
}

type testMessage struct {
	ID     string `json:"_id"`
	ChatID string `json:"chatId"`
	Sender string `json:"sender"`
	Body   string `json:"message"`
}

func messages(t *testing.T, frames []wireFrame) []testMessage {
	t.Helper()
	var out []testMessage
	for _, f := range frames {
		if f.Event != EventNewMessage {
			continue
		}
		var m testMessage
		require.NoError(t, json.Unmarshal(f.Data, &m))
		out = append(out, m)
	}
	return out
}

func TestDispatcher_DirectUser(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil, LifecycleConf{})
	a := h.connect(t, "c1", "A")
	b := h.connect(t, "c2", "B")
	drain(t, a)
	drain(t, b)

	n := h.disp.Deliver(testMessage{ID: "m1", Sender: "A", Body: "hi"}, DirectUser{UserID: "B"})

	req.Equal(1, n)
	got := messages(t, drain(t, b))
	req.Len(got, 1)
	req.Equal("A", got[0].Sender)
	req.Empty(drain(t, a))
}

func TestDispatcher_DirectUserOffline(t *testing.T) {
	h := newHarness(nil, LifecycleConf{})
	a := h.connect(t, "c1", "A")
	drain(t, a)

	n := h.disp.Deliver(testMessage{ID: "m1"}, DirectUser{UserID: "B"})

	require.Zero(t, n)
	require.Empty(t, drain(t, a))
}

func TestDispatcher_DirectUserFollowsLatestConnection(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil, LifecycleConf{})
	old := h.connect(t, "c1", "B")
	fresh := h.connect(t, "c2", "B")
	drain(t, old)
	drain(t, fresh)

	req.Equal(1, h.disp.Deliver(testMessage{ID: "m1"}, DirectUser{UserID: "B"}))

	req.Empty(messages(t, drain(t, old)))
	req.Len(messages(t, drain(t, fresh)), 1)
}

func TestDispatcher_RoomIncludesSenderEcho(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil, LifecycleConf{})
	sender := h.connect(t, "c1", "A")
	m2 := h.connect(t, "c2", "B")
	m3 := h.connect(t, "c3", "C")
	outsider := h.connect(t, "c4", "D")
	for _, c := range []*Client{sender, m2, m3} {
		h.life.JoinRoom(c, "G1")
	}
	for _, c := range []*Client{sender, m2, m3, outsider} {
		drain(t, c)
	}

	n := h.disp.Deliver(testMessage{ID: "m1", ChatID: "G1", Sender: "A"}, Room{RoomID: "G1"})

	req.Equal(3, n)
	for _, c := range []*Client{sender, m2, m3} {
		req.Len(messages(t, drain(t, c)), 1, c.ConnID)
	}
	req.Empty(drain(t, outsider))
}

func TestDispatcher_NoDedup(t *testing.T) {
	h := newHarness(nil, LifecycleConf{})
	b := h.connect(t, "c2", "B")
	drain(t, b)

	msg := testMessage{ID: "m1"}
	h.disp.Deliver(msg, DirectUser{UserID: "B"})
	h.disp.Deliver(msg, DirectUser{UserID: "B"})

	require.Len(t, messages(t, drain(t, b)), 2)
}

func TestDispatcher_PreservesCallOrder(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil, LifecycleConf{})
	b := h.connect(t, "c2", "B")
	h.life.JoinRoom(b, "G1")
	drain(t, b)

	h.disp.Deliver(testMessage{ID: "m1"}, DirectUser{UserID: "B"})
	h.disp.Deliver(testMessage{ID: "m2"}, Room{RoomID: "G1"})
	h.disp.Deliver(testMessage{ID: "m3"}, DirectUser{UserID: "B"})

	got := messages(t, drain(t, b))
	req.Len(got, 3)
	req.Equal([]string{"m1", "m2", "m3"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestDispatcher_EmptyRoomAndUnknownTarget(t *testing.T) {
	h := newHarness(nil, LifecycleConf{})
	require.Zero(t, h.disp.Deliver(testMessage{}, Room{RoomID: "nobody"}))
	require.Zero(t, h.disp.Deliver(testMessage{}, nil))
}

func TestDispatcher_UnencodablePayload(t *testing.T) {
	h := newHarness(nil, LifecycleConf{})
	b := h.connect(t, "c2", "B")
	drain(t, b)

	require.Zero(t, h.disp.Deliver(make(chan int), DirectUser{UserID: "B"}))
	require.Empty(t, drain(t, b))
}

func TestFanout_SlowConsumerDropsFrame(t *testing.T) {
	req := require.New(t)
	log, logs := observed(zapcore.WarnLevel)
	h := newHarness(log, LifecycleConf{})
	slow := NewClient("c9", "S", nil, 1)
	req.NoError(h.life.Connect(slow)) // fills the only slot with getOnlineUsers

	n := h.disp.Deliver(testMessage{ID: "m1"}, DirectUser{UserID: "S"})

	req.Zero(n)
	req.Equal(int64(1), slow.Dropped())
	req.Equal(int64(1), h.fan.Stats().Dropped)
	req.Equal(1, logs.FilterMessage("[fanout] send queue full, frame dropped").Len())
}

func TestTarget_String(t *testing.T) {
	require.Equal(t, "user:A", DirectUser{UserID: "A"}.String())
	require.Equal(t, "room:G1", Room{RoomID: "G1"}.String())
}
