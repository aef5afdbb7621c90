package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type mockLastActive struct{ mock.Mock }

func (m *mockLastActive) TouchLastActive(ctx context.Context, userID string, at time.Time) error {
	return m.Called(userID, at).Error(0)
}

type mockMirror struct{ mock.Mock }

func (m *mockMirror) Online(ctx context.Context, userID, connID string) error {
	return m.Called(userID, connID).Error(0)
}

func (m *mockMirror) Offline(ctx context.Context, userID, connID string) error {
	return m.Called(userID, connID).Error(0)
}

func (m *mockMirror) Refresh(ctx context.Context, userID, connID string) error {
	return m.Called(userID, connID).Error(0)
}

type recordingPublisher struct{ got chan PresenceChange }

func (p *recordingPublisher) PublishPresence(ctx context.Context, ch PresenceChange) error {
	p.got <- ch
	return nil
}

// slowMirror 进程外镜像的内存版：Online 有延迟，Offline/Refresh 校验归属
type slowMirror struct {
	mu        sync.Mutex
	owner     map[string]string
	refreshed []string
	delay     time.Duration
}

func newSlowMirror(delay time.Duration) *slowMirror {
	return &slowMirror{owner: map[string]string{}, delay: delay}
}

func (m *slowMirror) Online(ctx context.Context, userID, connID string) error {
	time.Sleep(m.delay)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owner[userID] = connID
	return nil
}

func (m *slowMirror) Offline(ctx context.Context, userID, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner[userID] == connID {
		delete(m.owner, userID)
	}
	return nil
}

func (m *slowMirror) Refresh(ctx context.Context, userID, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner[userID] == connID {
		m.refreshed = append(m.refreshed, userID+"/"+connID)
	}
	return nil
}

func (m *slowMirror) lookup(userID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.owner[userID]
	return c, ok
}

// gatedPublisher 第一次调用阻塞到 release 关闭，记录完成顺序
type gatedPublisher struct {
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	done    []PresenceChange
}

func (p *gatedPublisher) PublishPresence(ctx context.Context, ch PresenceChange) error {
	first := false
	p.once.Do(func() { first = true })
	if first {
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = append(p.done, ch)
	return nil
}

func fixedClock(ts time.Time) func() time.Time { return func() time.Time { return ts } }

func waitBackground(t *testing.T, l *Lifecycle) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, l.Wait(ctx))
}

func TestLifecycle_ScenarioTwoUsers(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil, LifecycleConf{})

	// Given A then B connect
	a := h.connect(t, "c1", "A")
	b := h.connect(t, "c2", "B")

	// Then both end up with ["A","B"]
	aFrames := drain(t, a)
	req.Len(aFrames, 2)
	req.Equal([]string{"A"}, onlineUsers(t, aFrames[0]))
	req.Equal([]string{"A", "B"}, onlineUsers(t, aFrames[1]))
	bFrames := drain(t, b)
	req.Len(bFrames, 1)
	req.Equal([]string{"A", "B"}, onlineUsers(t, bFrames[0]))

	// When A sends B a direct message
	req.Equal(1, h.disp.Deliver(testMessage{ID: "m1", Sender: "A"}, DirectUser{UserID: "B"}))
	got := messages(t, drain(t, b))
	req.Len(got, 1)
	req.Equal("A", got[0].Sender)

	// When B disconnects
	h.life.Disconnect(b)

	// Then A sees ["A"] and further direct messages to B produce no push
	aFrames = drain(t, a)
	req.Len(aFrames, 1)
	req.Equal([]string{"A"}, onlineUsers(t, aFrames[0]))
	req.Zero(h.disp.Deliver(testMessage{ID: "m2", Sender: "A"}, DirectUser{UserID: "B"}))
	req.Equal(StateClosed, b.State())
}

func TestLifecycle_UntrackedConnection(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil, LifecycleConf{})
	a := h.connect(t, "c1", "A")
	drain(t, a)

	// When an anonymous connection arrives
	anon := h.connect(t, "c2", "")

	// Then it gets the current list, nobody else is notified, presence unchanged
	frames := drain(t, anon)
	req.Len(frames, 1)
	req.Equal([]string{"A"}, onlineUsers(t, frames[0]))
	req.Empty(drain(t, a))
	req.Equal([]string{"A"}, h.life.Presence().Snapshot())

	// And it still receives room broadcasts and later presence changes
	h.life.JoinRoom(anon, "G1")
	req.Equal(1, h.disp.Deliver(testMessage{ID: "m1"}, Room{RoomID: "G1"}))
	h.connect(t, "c3", "B")
	frames = drain(t, anon)
	req.Len(frames, 2)
	req.Equal([]string{"A", "B"}, onlineUsers(t, frames[1]))

	// Disconnect of an untracked connection broadcasts nothing
	drain(t, a)
	h.life.Disconnect(anon)
	req.Empty(drain(t, a))
}

func TestLifecycle_PersistsLastActiveOnConnectAndDisconnect(t *testing.T) {
	req := require.New(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := &mockLastActive{}
	store.On("TouchLastActive", "A", ts).Return(nil).Twice()
	h := newHarness(nil, LifecycleConf{Store: store, Clock: fixedClock(ts)})

	a := h.connect(t, "c1", "A")
	h.life.Disconnect(a)
	waitBackground(t, h.life)

	store.AssertExpectations(t)
	req.Zero(h.conns.Len())
}

func TestLifecycle_PersistFailureDoesNotBlockTeardown(t *testing.T) {
	req := require.New(t)
	log, logs := observed(zapcore.WarnLevel)
	store := &mockLastActive{}
	store.On("TouchLastActive", "A", mock.Anything).Return(errors.New("mongo down"))
	h := newHarness(log, LifecycleConf{Store: store})

	a := h.connect(t, "c1", "A")
	h.life.JoinRoom(a, "G1")
	h.life.Disconnect(a)
	waitBackground(t, h.life)

	_, ok := h.life.Presence().Lookup("A")
	req.False(ok)
	req.Empty(h.rooms.MembersOf("G1"))
	req.Zero(h.conns.Len())
	req.Equal(2, logs.FilterMessage("[lifecycle] persist lastActive failed").Len())
}

func TestLifecycle_UntrackedSkipsPersistence(t *testing.T) {
	store := &mockLastActive{}
	h := newHarness(nil, LifecycleConf{Store: store})

	anon := h.connect(t, "c1", "")
	h.life.Disconnect(anon)
	waitBackground(t, h.life)

	store.AssertNotCalled(t, "TouchLastActive", mock.Anything, mock.Anything)
}

func TestLifecycle_DisconnectIsIdempotent(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil, LifecycleConf{})
	a := h.connect(t, "c1", "A")
	watcher := h.connect(t, "c2", "W")
	drain(t, watcher)

	h.life.Disconnect(a)
	h.life.Disconnect(a)

	req.Len(drain(t, watcher), 1)
	select {
	case <-a.Done():
	default:
		t.Fatal("client not shut down")
	}
}

func TestLifecycle_StaleDisconnectAfterReconnect(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil, LifecycleConf{})
	watcher := h.connect(t, "w", "W")

	// Given A reconnects (c2) before the old socket (c1) reports closure
	old := h.connect(t, "c1", "A")
	fresh := h.connect(t, "c2", "A")
	h.life.JoinRoom(old, "G1")
	drain(t, watcher)

	// When the old socket finally closes
	h.life.Disconnect(old)

	// Then A stays online through c2, no presence broadcast, and c1 left its rooms
	conn, ok := h.life.Presence().Lookup("A")
	req.True(ok)
	req.Equal("c2", conn)
	req.Empty(drain(t, watcher))
	req.Empty(h.rooms.MembersOf("G1"))
	req.Equal(StateActive, fresh.State())
}

func TestLifecycle_JoinAfterCloseIgnored(t *testing.T) {
	h := newHarness(nil, LifecycleConf{})
	a := h.connect(t, "c1", "A")
	h.life.Disconnect(a)

	h.life.JoinRoom(a, "G1")

	require.Empty(t, h.rooms.MembersOf("G1"))
}

func TestLifecycle_DuplicateConnID(t *testing.T) {
	h := newHarness(nil, LifecycleConf{})
	h.connect(t, "c1", "A")

	err := h.life.Connect(newTestClient("c1", "B"))

	require.Error(t, err)
	_, ok := h.life.Presence().Lookup("B")
	require.False(t, ok)
}

func TestLifecycle_MirrorAndPublisher(t *testing.T) {
	req := require.New(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mirror := &mockMirror{}
	mirror.On("Online", "A", "c1").Return(nil).Once()
	mirror.On("Offline", "A", "c1").Return(errors.New("redis down")).Once()
	pub := &recordingPublisher{got: make(chan PresenceChange, 4)}
	h := newHarness(nil, LifecycleConf{Mirror: mirror, Publisher: pub, Clock: fixedClock(ts)})

	a := h.connect(t, "c1", "A")
	h.life.Disconnect(a)
	waitBackground(t, h.life)

	mirror.AssertExpectations(t)
	req.Len(pub.got, 2)
	first, second := <-pub.got, <-pub.got
	req.Equal(PresenceChange{Seq: 1, UserID: "A", ConnID: "c1", Online: true, Snapshot: []string{"A"}, At: ts}, first)
	req.Equal(PresenceChange{Seq: 2, UserID: "A", ConnID: "c1", Online: false, Snapshot: []string{}, At: ts}, second)
}

func TestLifecycle_MirrorFollowsMutationOrder(t *testing.T) {
	req := require.New(t)
	mirror := newSlowMirror(30 * time.Millisecond)
	h := newHarness(nil, LifecycleConf{Mirror: mirror})

	// Online 还没写完时连接就断开了
	a := h.connect(t, "c1", "A")
	h.life.Disconnect(a)
	waitBackground(t, h.life)

	_, ok := mirror.lookup("A")
	req.False(ok)
}

func TestLifecycle_MirrorKeepsNewestConnection(t *testing.T) {
	req := require.New(t)
	mirror := newSlowMirror(20 * time.Millisecond)
	h := newHarness(nil, LifecycleConf{Mirror: mirror})

	old := h.connect(t, "c1", "A")
	h.connect(t, "c2", "A")
	h.life.Disconnect(old)
	waitBackground(t, h.life)

	conn, ok := mirror.lookup("A")
	req.True(ok)
	req.Equal("c2", conn)
}

func TestLifecycle_StaleDisconnectSkipsMirror(t *testing.T) {
	mirror := &mockMirror{}
	mirror.On("Online", "A", mock.Anything).Return(nil).Twice()
	h := newHarness(nil, LifecycleConf{Mirror: mirror})

	old := h.connect(t, "c1", "A")
	h.connect(t, "c2", "A")
	h.life.Disconnect(old)
	waitBackground(t, h.life)

	mirror.AssertExpectations(t)
	mirror.AssertNotCalled(t, "Offline", mock.Anything, mock.Anything)
}

func TestLifecycle_PublishFollowsSeq(t *testing.T) {
	req := require.New(t)
	pub := &gatedPublisher{release: make(chan struct{})}
	h := newHarness(nil, LifecycleConf{Publisher: pub})

	// 第一次发布卡住，后面的变更不能越过它
	h.connect(t, "c1", "A")
	b := h.connect(t, "c2", "B")
	h.life.Disconnect(b)
	close(pub.release)
	waitBackground(t, h.life)

	req.Len(pub.done, 3)
	for i, ch := range pub.done {
		req.Equal(uint64(i+1), ch.Seq)
	}
	req.Equal([]string{"A"}, pub.done[0].Snapshot)
	req.Equal([]string{"A", "B"}, pub.done[1].Snapshot)
	req.Equal([]string{"A"}, pub.done[2].Snapshot)
	req.False(pub.done[2].Online)
}

func TestLifecycle_SinkPanicDoesNotStopQueue(t *testing.T) {
	log, logs := observed(zapcore.WarnLevel)
	mirror := &mockMirror{}
	mirror.On("Online", "A", "c1").Run(func(mock.Arguments) { panic("boom") }).Return(nil).Once()
	mirror.On("Online", "B", "c2").Return(nil).Once()
	h := newHarness(log, LifecycleConf{Mirror: mirror})

	h.connect(t, "c1", "A")
	h.connect(t, "c2", "B")
	waitBackground(t, h.life)

	mirror.AssertExpectations(t)
	require.Equal(t, 1, logs.FilterMessage("[lifecycle] mirror online panic").Len())
}

func TestLifecycle_RefreshMirror(t *testing.T) {
	req := require.New(t)
	mirror := newSlowMirror(0)
	h := newHarness(nil, LifecycleConf{Mirror: mirror, MirrorRefresh: 10 * time.Millisecond})
	h.connect(t, "c1", "A")
	gone := h.connect(t, "c2", "B")
	h.life.Disconnect(gone)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.life.RunMirrorRefresh(ctx)
		close(done)
	}()
	req.Eventually(func() bool {
		mirror.mu.Lock()
		defer mirror.mu.Unlock()
		return len(mirror.refreshed) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
	waitBackground(t, h.life)

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	for _, r := range mirror.refreshed {
		req.Equal("A/c1", r)
	}
}

func TestLifecycle_RefreshDisabledWithoutInterval(t *testing.T) {
	h := newHarness(nil, LifecycleConf{Mirror: newSlowMirror(0)})

	done := make(chan struct{})
	go func() {
		h.life.RunMirrorRefresh(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunMirrorRefresh should return immediately")
	}
}
