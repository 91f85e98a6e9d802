// Package worker hosts bots inside one worker process. The manager receives
// lifecycle commands from its balancer over the length-prefixed control
// connection, drives every hosted bot on a single cooperative scheduler
// goroutine and reports lifecycle transitions back as signals.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ilyaf835/lamb2-dev/internal/v1/bot"
	"github.com/ilyaf835/lamb2-dev/internal/v1/chat"
	"github.com/ilyaf835/lamb2-dev/internal/v1/demux"
	"github.com/ilyaf835/lamb2-dev/internal/v1/logging"
	"github.com/ilyaf835/lamb2-dev/internal/v1/metrics"
	"github.com/ilyaf835/lamb2-dev/internal/v1/pool"
	"github.com/ilyaf835/lamb2-dev/internal/v1/types"
	"github.com/ilyaf835/lamb2-dev/internal/v1/wire"
)

const (
	commandWorkers = 4
	commandBacklog = 16

	// tickInterval paces the scheduler between pipeline passes; the demuxer
	// wakes it early when a bot is installed.
	tickInterval = 100 * time.Millisecond

	heartbeatInterval = 5 * time.Second

	internalError = "Internal service error"
)

// runner is the slice of *bot.Bot the manager drives. Tests substitute
// scripted bots through the newBot seam.
type runner interface {
	Login(ctx context.Context) error
	JoinRoom(ctx context.Context) error
	Start()
	Running() bool
	RunOnce(ctx context.Context) error
	ReturnHost(ctx context.Context)
	LeaveRoom(ctx context.Context) error
	Logout(ctx context.Context) error
	Shutdown()
	Snapshot() (types.BotState, error)
}

type instance struct {
	bot     runner
	session *types.Session
}

type eviction struct {
	sid   string
	inst  *instance
	leave bool
}

// Manager owns the hosted bot table and the control connection. Bots are
// ticked one at a time on the Run goroutine; creates and deletes run on a
// bounded command pool so a slow chat service cannot stall the scheduler.
type Manager struct {
	conn  net.Conn
	codec *wire.Codec

	newBot func(session *types.Session) (runner, error)

	heartbeatEvery time.Duration

	commands  *pool.Pool
	sched     *demux.Demuxer
	evictions chan eviction
	stopped   chan struct{}
	once      sync.Once

	mu   sync.Mutex
	bots map[string]*instance
}

// Connect dials the balancer's control listener and prepares a manager that
// builds real bots against the given chat service and track source.
func Connect(controlAddr, chatURL string, source bot.TrackSource) (*Manager, error) {
	conn, err := net.Dial("tcp", controlAddr)
	if err != nil {
		return nil, fmt.Errorf("worker: dial control: %w", err)
	}
	m := newManager(conn)
	m.newBot = func(session *types.Session) (runner, error) {
		return bot.New(session, chat.NewClient(chatURL), source)
	}
	return m, nil
}

func newManager(conn net.Conn) *Manager {
	m := &Manager{
		conn:           conn,
		codec:          wire.NewCodec(conn),
		heartbeatEvery: heartbeatInterval,
		sched:          demux.New(),
		evictions:      make(chan eviction, 64),
		stopped:        make(chan struct{}),
		bots:           make(map[string]*instance),
	}
	m.commands = pool.New(commandWorkers, commandBacklog, func(err error) {
		logging.Error(context.Background(), "bot lifecycle command failed", zap.Error(err))
	})
	return m
}

// Run drives the scheduler until the balancer sends stop, the control
// connection dies or the context ends. The control receiver, the disconnect
// reporter and the heartbeat run alongside it.
func (m *Manager) Run(ctx context.Context) error {
	recvErr := make(chan error, 1)
	go m.receiveCommands(ctx, recvErr)
	go m.reportDisconnected(ctx)
	go m.heartbeat(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stopped:
			select {
			case err := <-recvErr:
				return err
			default:
				return nil
			}
		default:
		}
		m.tickBots(ctx)
		m.sched.Wait(tickInterval)
	}
}

// receiveCommands pumps control frames into the command pool. A read
// failure means the balancer is gone; the worker has no reason to outlive
// it.
func (m *Manager) receiveCommands(ctx context.Context, recvErr chan<- error) {
	for {
		var cmd wire.Command
		if err := m.codec.Receive(&cmd); err != nil {
			select {
			case <-m.stopped:
			default:
				recvErr <- fmt.Errorf("worker: control receive: %w", err)
				m.stop()
			}
			return
		}
		switch cmd.Cmd {
		case "stop":
			m.stop()
			return
		case types.CommandCreate:
			sid, session := cmd.SID, cmd.Session
			_ = m.commands.Submit(func() error {
				m.create(ctx, sid, session)
				return nil
			})
		case types.CommandDelete:
			sid := cmd.SID
			_ = m.commands.Submit(func() error {
				m.delete(ctx, sid)
				return nil
			})
		default:
			logging.Warn(ctx, "unknown control command", zap.String("cmd", cmd.Cmd))
		}
	}
}

func (m *Manager) stop() {
	m.once.Do(func() { close(m.stopped) })
}

// create builds a bot from its session document, signs it in and installs
// it on the scheduler. Chat-service rejections travel back verbatim in the
// failed signal; anything else is an internal error.
func (m *Manager) create(ctx context.Context, sid string, session *types.Session) {
	if session == nil {
		m.sendSignal(ctx, types.SignalFailed, sid, nil, internalError)
		return
	}
	b, err := m.newBot(session)
	if err != nil {
		logging.Error(ctx, "bot assembly failed", zap.String("sid", sid), zap.Error(err))
		m.sendSignal(ctx, types.SignalFailed, sid, session, internalError)
		return
	}
	if err := b.Login(ctx); err == nil {
		err = b.JoinRoom(ctx)
	}
	if err != nil {
		b.Shutdown()
		msg := internalError
		var apiErr *chat.APIError
		if errors.As(err, &apiErr) {
			msg = apiErr.Message
		} else {
			logging.Error(ctx, "bot connect failed", zap.String("sid", sid), zap.Error(err))
		}
		m.sendSignal(ctx, types.SignalFailed, sid, session, msg)
		return
	}
	b.Start()

	m.mu.Lock()
	m.bots[sid] = &instance{bot: b, session: session}
	m.sched.Register(sid)
	m.mu.Unlock()
	m.sched.Notify(sid)
	metrics.ActiveBots.Inc()

	m.sendSignal(ctx, types.SignalConnected, sid, session, "")
}

// delete tears one bot down gracefully and reports deleted. An unknown sid
// still gets a deleted signal so the balancer can settle its reply.
func (m *Manager) delete(ctx context.Context, sid string) {
	m.mu.Lock()
	inst := m.bots[sid]
	delete(m.bots, sid)
	m.sched.Unregister(sid)
	m.mu.Unlock()

	if inst == nil {
		m.sendSignal(ctx, types.SignalDeleted, sid, nil, string(types.ErrNoBot))
		return
	}
	m.shutdownBot(ctx, inst, true)
	metrics.ActiveBots.Dec()
	m.sendSignal(ctx, types.SignalDeleted, sid, m.sessionCopy(inst), "")
}

// sessionCopy snapshots the session document under the table lock so
// signal marshalling never races the heartbeat or a shutdown write.
func (m *Manager) sessionCopy(inst *instance) *types.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := *inst.session
	return &session
}

// shutdownBot folds the bot's mutable state into its session document and
// releases the chat presence. Failures past this point change nothing.
func (m *Manager) shutdownBot(ctx context.Context, inst *instance, leave bool) {
	if state, err := inst.bot.Snapshot(); err == nil {
		m.mu.Lock()
		inst.session.Bot = state
		m.mu.Unlock()
	} else {
		logging.Warn(ctx, "bot state snapshot failed", zap.Error(err))
	}
	if leave {
		inst.bot.ReturnHost(ctx)
		if err := inst.bot.LeaveRoom(ctx); err != nil {
			logging.Warn(ctx, "leave room failed", zap.Error(err))
		}
	}
	if err := inst.bot.Logout(ctx); err != nil {
		logging.Warn(ctx, "logout failed", zap.Error(err))
	}
	inst.bot.Shutdown()
}

// tickBots walks every hosted bot through one pipeline pass. A pipeline
// error evicts the bot with a room exit; a bot that stopped on its own
// (admin leave command, room closed) is evicted without one.
func (m *Manager) tickBots(ctx context.Context) {
	m.mu.Lock()
	sids := make([]string, 0, len(m.bots))
	for sid := range m.bots {
		sids = append(sids, sid)
	}
	m.mu.Unlock()

	for _, sid := range sids {
		m.mu.Lock()
		inst := m.bots[sid]
		m.mu.Unlock()
		if inst == nil {
			continue
		}
		err := inst.bot.RunOnce(ctx)
		if err != nil && ctx.Err() != nil {
			return
		}
		if err != nil {
			logging.Error(ctx, "bot pipeline failed", zap.String("sid", sid), zap.Error(err))
			m.evict(sid, true)
		} else if !inst.bot.Running() {
			m.evict(sid, false)
		}
	}
}

func (m *Manager) evict(sid string, leave bool) {
	m.mu.Lock()
	inst := m.bots[sid]
	delete(m.bots, sid)
	m.sched.Unregister(sid)
	m.mu.Unlock()
	if inst == nil {
		return
	}
	metrics.ActiveBots.Dec()
	select {
	case m.evictions <- eviction{sid: sid, inst: inst, leave: leave}:
	case <-m.stopped:
	}
}

// reportDisconnected shuts evicted bots down off the scheduler goroutine
// and reports them so the balancer can release their slots.
func (m *Manager) reportDisconnected(ctx context.Context) {
	for {
		select {
		case <-m.stopped:
			return
		case ev := <-m.evictions:
			m.shutdownBot(ctx, ev.inst, ev.leave)
			m.sendSignal(ctx, types.SignalDisconnected, ev.sid, m.sessionCopy(ev.inst), "")
		}
	}
}

// heartbeat reports every hosted bot's state snapshot so the balancer can
// refresh session TTLs and persist profiles.
func (m *Manager) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(m.heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopped:
			return
		case <-ticker.C:
		}
		m.mu.Lock()
		snapshot := make(map[string]*instance, len(m.bots))
		for sid, inst := range m.bots {
			snapshot[sid] = inst
		}
		m.mu.Unlock()

		for sid, inst := range snapshot {
			state, err := inst.bot.Snapshot()
			if err != nil {
				logging.Warn(ctx, "heartbeat snapshot failed", zap.String("sid", sid), zap.Error(err))
				continue
			}
			session := m.sessionCopy(inst)
			session.Bot = state
			m.sendSignal(ctx, types.SignalUpdate, sid, session, "")
		}
	}
}

func (m *Manager) sendSignal(ctx context.Context, name, sid string, session *types.Session, errMsg string) {
	err := m.codec.Send(&wire.Signal{Name: name, SID: sid, Session: session, Error: errMsg})
	if err != nil {
		logging.Warn(ctx, "control signal send failed",
			zap.String("signal", name), zap.String("sid", sid), zap.Error(err))
	}
}

// Close stops the command pool and shuts every remaining bot down with a
// room exit. Signals are not sent; the balancer reconciles owned sessions
// itself when it stops its workers.
func (m *Manager) Close() {
	m.stop()
	m.commands.Close()

	m.mu.Lock()
	bots := m.bots
	m.bots = make(map[string]*instance)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for sid, inst := range bots {
		m.sched.Unregister(sid)
		m.shutdownBot(ctx, inst, true)
		metrics.ActiveBots.Dec()
	}
	m.conn.Close()
}
