package worker

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ilyaf835/lamb2-dev/internal/v1/chat"
	"github.com/ilyaf835/lamb2-dev/internal/v1/types"
	"github.com/ilyaf835/lamb2-dev/internal/v1/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeBot is a scripted runner. stopAfter makes Running flip false after
// that many ticks; tickErr fails the pipeline once armed.
type fakeBot struct {
	mu sync.Mutex

	loginErr error
	joinErr  error
	tickErr  error
	state    types.BotState

	running   bool
	stopAfter int
	ticks     int

	returnedHost bool
	leftRoom     bool
	loggedOut    bool
	shutdown     bool
}

func (f *fakeBot) Login(ctx context.Context) error    { return f.loginErr }
func (f *fakeBot) JoinRoom(ctx context.Context) error { return f.joinErr }

func (f *fakeBot) Start() {
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
}

func (f *fakeBot) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeBot) RunOnce(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks++
	if f.tickErr != nil {
		return f.tickErr
	}
	if f.stopAfter > 0 && f.ticks >= f.stopAfter {
		f.running = false
	}
	return nil
}

func (f *fakeBot) tickCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticks
}

func (f *fakeBot) ReturnHost(ctx context.Context) {
	f.mu.Lock()
	f.returnedHost = true
	f.mu.Unlock()
}

func (f *fakeBot) LeaveRoom(ctx context.Context) error {
	f.mu.Lock()
	f.leftRoom = true
	f.mu.Unlock()
	return nil
}

func (f *fakeBot) Logout(ctx context.Context) error {
	f.mu.Lock()
	f.loggedOut = true
	f.mu.Unlock()
	return nil
}

func (f *fakeBot) Shutdown() {
	f.mu.Lock()
	f.shutdown = true
	f.mu.Unlock()
}

func (f *fakeBot) Snapshot() (types.BotState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

// harness runs a manager against the balancer side of a pipe.
type harness struct {
	m     *Manager
	codec *wire.Codec
	sigs  chan wire.Signal
	runCh chan error
}

func newHarness(t *testing.T, build func(session *types.Session) (runner, error)) *harness {
	t.Helper()
	balancerSide, managerSide := net.Pipe()

	m := newManager(managerSide)
	m.heartbeatEvery = 50 * time.Millisecond
	m.newBot = build

	h := &harness{
		m:     m,
		codec: wire.NewCodec(balancerSide),
		sigs:  make(chan wire.Signal, 32),
		runCh: make(chan error, 1),
	}
	go func() {
		for {
			var sig wire.Signal
			if err := h.codec.Receive(&sig); err != nil {
				close(h.sigs)
				return
			}
			h.sigs <- sig
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.runCh <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		m.Close()
		<-h.runCh
		balancerSide.Close()
	})
	return h
}

func (h *harness) send(t *testing.T, cmd wire.Command) {
	t.Helper()
	require.NoError(t, h.codec.Send(&cmd))
}

func (h *harness) nextSignal(t *testing.T, names ...string) wire.Signal {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case sig, ok := <-h.sigs:
			require.True(t, ok, "control connection closed while waiting for a signal")
			for _, name := range names {
				if sig.Name == name {
					return sig
				}
			}
			// Heartbeats interleave with lifecycle signals; skip the rest.
			require.Equal(t, types.SignalUpdate, sig.Name, "unexpected signal")
		case <-deadline:
			t.Fatalf("no %v signal within timeout", names)
			return wire.Signal{}
		}
	}
}

func testSession() *types.Session {
	return &types.Session{
		User: types.UserInfo{ID: 7, Name: "alice", FullName: "alice#trip"},
		Bot:  types.BotState{Name: "lamb", FullName: "lamb#trip"},
		Room: types.RoomInfo{ID: "roomABC123"},
	}
}

func TestCreate_ReportsConnectedAndTicks(t *testing.T) {
	fb := &fakeBot{}
	h := newHarness(t, func(session *types.Session) (runner, error) { return fb, nil })

	h.send(t, wire.Command{Cmd: types.CommandCreate, SID: "sid-1", Session: testSession()})
	sig := h.nextSignal(t, types.SignalConnected)
	assert.Equal(t, "sid-1", sig.SID)
	require.NotNil(t, sig.Session)
	assert.Equal(t, "lamb#trip", sig.Session.Bot.FullName)

	require.Eventually(t, func() bool { return fb.tickCount() > 2 },
		2*time.Second, 10*time.Millisecond, "the scheduler keeps ticking the bot")
}

func TestCreate_ChatRejectionTravelsVerbatim(t *testing.T) {
	fb := &fakeBot{joinErr: chat.RequestError("Room not found")}
	h := newHarness(t, func(session *types.Session) (runner, error) { return fb, nil })

	h.send(t, wire.Command{Cmd: types.CommandCreate, SID: "sid-1", Session: testSession()})
	sig := h.nextSignal(t, types.SignalFailed)
	assert.Equal(t, "Room not found", sig.Error)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.True(t, fb.shutdown, "a bot that never connected still releases its pools")
}

func TestCreate_UnexpectedErrorIsInternal(t *testing.T) {
	fb := &fakeBot{loginErr: errors.New("connection reset")}
	h := newHarness(t, func(session *types.Session) (runner, error) { return fb, nil })

	h.send(t, wire.Command{Cmd: types.CommandCreate, SID: "sid-1", Session: testSession()})
	sig := h.nextSignal(t, types.SignalFailed)
	assert.Equal(t, internalError, sig.Error)
}

func TestDelete_TearsDownGracefully(t *testing.T) {
	fb := &fakeBot{state: types.BotState{Name: "lamb", FullName: "lamb#trip", Whitelist: []byte(`{"bob":1}`)}}
	h := newHarness(t, func(session *types.Session) (runner, error) { return fb, nil })

	h.send(t, wire.Command{Cmd: types.CommandCreate, SID: "sid-1", Session: testSession()})
	h.nextSignal(t, types.SignalConnected)

	h.send(t, wire.Command{Cmd: types.CommandDelete, SID: "sid-1"})
	sig := h.nextSignal(t, types.SignalDeleted)
	assert.Empty(t, sig.Error)
	require.NotNil(t, sig.Session)
	assert.JSONEq(t, `{"bob":1}`, string(sig.Session.Bot.Whitelist), "the final state snapshot rides along")

	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.True(t, fb.returnedHost)
	assert.True(t, fb.leftRoom)
	assert.True(t, fb.loggedOut)
	assert.True(t, fb.shutdown)
}

func TestDelete_UnknownSID(t *testing.T) {
	h := newHarness(t, func(session *types.Session) (runner, error) { return &fakeBot{}, nil })

	h.send(t, wire.Command{Cmd: types.CommandDelete, SID: "sid-ghost"})
	sig := h.nextSignal(t, types.SignalDeleted)
	assert.Equal(t, string(types.ErrNoBot), sig.Error)
	assert.Nil(t, sig.Session)
}

func TestStoppedBotReportsDisconnected(t *testing.T) {
	fb := &fakeBot{stopAfter: 3}
	h := newHarness(t, func(session *types.Session) (runner, error) { return fb, nil })

	h.send(t, wire.Command{Cmd: types.CommandCreate, SID: "sid-1", Session: testSession()})
	h.nextSignal(t, types.SignalConnected)

	sig := h.nextSignal(t, types.SignalDisconnected)
	assert.Equal(t, "sid-1", sig.SID)
	require.NotNil(t, sig.Session)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.False(t, fb.leftRoom, "a bot that stopped on its own already left the room")
	assert.True(t, fb.loggedOut)
	assert.True(t, fb.shutdown)
}

func TestPipelineFailureEvictsWithRoomExit(t *testing.T) {
	fb := &fakeBot{}
	h := newHarness(t, func(session *types.Session) (runner, error) { return fb, nil })

	h.send(t, wire.Command{Cmd: types.CommandCreate, SID: "sid-1", Session: testSession()})
	h.nextSignal(t, types.SignalConnected)

	fb.mu.Lock()
	fb.tickErr = errors.New("chat api gone")
	fb.mu.Unlock()

	h.nextSignal(t, types.SignalDisconnected)
	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.True(t, fb.returnedHost, "a crashed pipeline exits the room cleanly")
	assert.True(t, fb.leftRoom)
}

func TestHeartbeatCarriesStateSnapshots(t *testing.T) {
	fb := &fakeBot{state: types.BotState{Name: "lamb", FullName: "lamb#trip", Groups: []byte(`{"dj":{}}`)}}
	h := newHarness(t, func(session *types.Session) (runner, error) { return fb, nil })

	h.send(t, wire.Command{Cmd: types.CommandCreate, SID: "sid-1", Session: testSession()})
	h.nextSignal(t, types.SignalConnected)

	sig := h.nextSignal(t, types.SignalUpdate)
	assert.Equal(t, "sid-1", sig.SID)
	require.NotNil(t, sig.Session)
	assert.JSONEq(t, `{"dj":{}}`, string(sig.Session.Bot.Groups))
}

func TestStopCommandEndsRun(t *testing.T) {
	h := newHarness(t, func(session *types.Session) (runner, error) { return &fakeBot{}, nil })

	h.send(t, wire.Command{Cmd: "stop"})
	select {
	case err := <-h.runCh:
		require.NoError(t, err)
		h.runCh <- nil
	case <-time.After(2 * time.Second):
		t.Fatal("manager kept running after stop")
	}
}

func TestControlLossEndsRun(t *testing.T) {
	balancerSide, managerSide := net.Pipe()
	m := newManager(managerSide)
	m.newBot = func(session *types.Session) (runner, error) { return &fakeBot{}, nil }

	runCh := make(chan error, 1)
	go func() { runCh <- m.Run(context.Background()) }()
	t.Cleanup(m.Close)

	balancerSide.Close()
	select {
	case err := <-runCh:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("manager kept running after losing the control connection")
	}
}
