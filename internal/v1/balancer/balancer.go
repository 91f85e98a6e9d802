// Package balancer routes bot lifecycle commands from the broker to worker
// processes and reconciles Redis and Postgres as workers report lifecycle
// transitions. One balancer owns a fixed set of workers connected over the
// length-prefixed control protocol.
package balancer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/ilyaf835/lamb2-dev/internal/v1/locks"
	"github.com/ilyaf835/lamb2-dev/internal/v1/logging"
	"github.com/ilyaf835/lamb2-dev/internal/v1/router"
	"github.com/ilyaf835/lamb2-dev/internal/v1/store"
	"github.com/ilyaf835/lamb2-dev/internal/v1/types"
	"github.com/ilyaf835/lamb2-dev/internal/v1/wire"
)

// internalError is the failure body sent when a create never reached a
// healthy worker.
const internalError = "Internal service error"

// botWriter is the slice of the Postgres repository the balancer needs for
// state write-back.
type botWriter interface {
	SaveBotState(ctx context.Context, userID int64, bot types.BotState) error
}

type replyFunc func(body string)

type signalEvent struct {
	worker *workerEntry
	sig    wire.Signal
	err    error
}

// Balancer owns the worker table, the pending broker replies and the
// signal pump. All worker-table mutation happens on the Run goroutine or
// under mu.
type Balancer struct {
	store *store.Store
	repo  botWriter
	ttl   time.Duration

	conn       *amqp.Connection
	channel    *amqp.Channel
	queueName  string
	deliveries <-chan amqp.Delivery

	locks   *locks.Keyed
	signals chan signalEvent
	stopped chan struct{}
	once    sync.Once

	mu       sync.Mutex
	workers  workerHeap
	sessions map[string]*workerEntry
	replies  map[string]replyFunc
}

// Connect declares this balancer's exclusive broker queue, registers its
// capacity in the Redis balancer registry and returns a balancer ready to
// accept workers.
func Connect(amqpURL string, st *store.Store, repo botWriter, capacity int, ttl time.Duration) (*Balancer, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("balancer: dial broker: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("balancer: open channel: %w", err)
	}
	if err := channel.Qos(100, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("balancer: set qos: %w", err)
	}
	if err := channel.ExchangeDeclare(router.ExchangeName, "direct", false, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("balancer: declare exchange: %w", err)
	}
	queue, err := channel.QueueDeclare("", false, false, true, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("balancer: declare queue: %w", err)
	}
	if err := channel.QueueBind(queue.Name, queue.Name, router.ExchangeName, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("balancer: bind queue: %w", err)
	}
	deliveries, err := channel.Consume(queue.Name, "", false, true, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("balancer: consume: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := st.RegisterBalancer(ctx, queue.Name, capacity); err != nil {
		conn.Close()
		return nil, fmt.Errorf("balancer: register capacity: %w", err)
	}

	b := newBalancer(st, repo, ttl)
	b.conn = conn
	b.channel = channel
	b.queueName = queue.Name
	b.deliveries = deliveries
	return b, nil
}

func newBalancer(st *store.Store, repo botWriter, ttl time.Duration) *Balancer {
	return &Balancer{
		store:    st,
		repo:     repo,
		ttl:      ttl,
		locks:    locks.NewKeyed(),
		signals:  make(chan signalEvent, 64),
		stopped:  make(chan struct{}),
		sessions: make(map[string]*workerEntry),
		replies:  make(map[string]replyFunc),
	}
}

// QueueName is the broker queue other processes publish commands to.
func (b *Balancer) QueueName() string { return b.queueName }

// StartWorkers spawns count worker subprocesses and waits for each to dial
// the control listener.
func (b *Balancer) StartWorkers(ln net.Listener, count int, bin, extractorAddr string) error {
	for i := 0; i < count; i++ {
		w, err := spawnWorker(ln, bin, extractorAddr)
		if err != nil {
			return fmt.Errorf("balancer: spawn worker %d: %w", i, err)
		}
		b.addWorker(w)
	}
	return nil
}

func (b *Balancer) addWorker(w *workerEntry) {
	b.mu.Lock()
	b.workers = append(b.workers, w)
	b.mu.Unlock()
	go b.readSignals(w)
}

// readSignals pumps one worker's control frames into the signal channel.
// A read failure is the worker declaring its control path dead.
func (b *Balancer) readSignals(w *workerEntry) {
	for {
		var sig wire.Signal
		if err := w.codec.Receive(&sig); err != nil {
			select {
			case b.signals <- signalEvent{worker: w, err: err}:
			case <-b.stopped:
			}
			return
		}
		select {
		case b.signals <- signalEvent{worker: w, sig: sig}:
		case <-b.stopped:
			return
		}
		if sig.Name == types.SignalCrashed {
			return
		}
	}
}

// Run processes broker commands and worker signals until the context ends,
// the broker channel closes or a worker control path dies.
func (b *Balancer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-b.deliveries:
			if !ok {
				return errors.New("balancer: broker channel closed")
			}
			go b.handleDelivery(ctx, d)
		case ev := <-b.signals:
			if ev.err != nil {
				return fmt.Errorf("balancer: worker control failed: %w", ev.err)
			}
			if ev.sig.Name == types.SignalCrashed {
				return errors.New("balancer: worker crashed")
			}
			b.handleSignal(ctx, ev.worker, &ev.sig)
		}
	}
}

func (b *Balancer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	cmd, sid, ok := strings.Cut(string(d.Body), "/")
	if !ok {
		logging.Warn(ctx, "malformed broker command", zap.String("body", string(d.Body)))
		_ = d.Ack(false)
		return
	}
	b.HandleCommand(ctx, cmd, sid, func(body string) {
		b.sendReply(ctx, d, body)
	})
}

// HandleCommand dispatches one broker command under the per-sid lock. The
// reply callback fires exactly once, either here or from the matching
// worker signal.
func (b *Balancer) HandleCommand(ctx context.Context, cmd, sid string, reply replyFunc) {
	b.locks.With(sid, func() {
		switch cmd {
		case types.CommandCreate:
			b.createInstance(ctx, sid, reply)
		case types.CommandDelete:
			b.deleteInstance(sid, reply)
		default:
			reply(string(types.ErrNoCommand))
		}
	})
}

// createInstance hands the session to the least-loaded worker. The broker
// reply is parked until the worker signals connected or failed.
func (b *Balancer) createInstance(ctx context.Context, sid string, reply replyFunc) {
	session, err := b.store.GetSession(ctx, sid)
	if err != nil {
		logging.Warn(ctx, "create: session load failed",
			zap.String("sid", sid), zap.Error(err))
		reply(internalError)
		return
	}

	b.mu.Lock()
	if len(b.workers) == 0 {
		b.mu.Unlock()
		reply(string(types.ErrNoWorkers))
		return
	}
	w := leastLoaded(b.workers)
	b.replies[sid] = reply
	err = w.sendCreate(sid, session)
	if err != nil {
		delete(b.replies, sid)
	}
	b.mu.Unlock()
	if err != nil {
		logging.Error(ctx, "create: control send failed", zap.String("sid", sid), zap.Error(err))
		reply(internalError)
	}
}

// deleteInstance tells the owning worker to tear the bot down; with no
// owner the command is trivially complete.
func (b *Balancer) deleteInstance(sid string, reply replyFunc) {
	b.mu.Lock()
	w := b.sessions[sid]
	if w == nil {
		b.mu.Unlock()
		reply("")
		return
	}
	delete(b.sessions, sid)
	b.replies[sid] = reply
	err := w.sendDelete(sid)
	if err != nil {
		delete(b.replies, sid)
	}
	b.mu.Unlock()
	if err != nil {
		reply("")
	}
}

func (b *Balancer) takeReply(sid string) replyFunc {
	b.mu.Lock()
	defer b.mu.Unlock()
	reply := b.replies[sid]
	delete(b.replies, sid)
	return reply
}

// handleSignal applies one worker lifecycle signal to the session table,
// Redis and Postgres, and completes the pending broker reply when one is
// parked for the sid.
func (b *Balancer) handleSignal(ctx context.Context, w *workerEntry, sig *wire.Signal) {
	sid := sig.SID
	switch sig.Name {
	case types.SignalConnected:
		b.mu.Lock()
		b.sessions[sid] = w
		b.mu.Unlock()
		if err := b.store.ExpireSession(ctx, sid, b.ttl); err != nil {
			logging.Warn(ctx, "connected: ttl refresh failed", zap.String("sid", sid), zap.Error(err))
		}
		if reply := b.takeReply(sid); reply != nil {
			reply("")
		}

	case types.SignalFailed:
		b.mu.Lock()
		w.running--
		b.mu.Unlock()
		if reply := b.takeReply(sid); reply != nil {
			reply(sig.Error)
		}

	case types.SignalDeleted:
		if sig.Error == "" {
			b.writeBack(ctx, sig.Session)
			if err := b.store.DeleteSession(ctx, sid); err != nil {
				logging.Warn(ctx, "deleted: session cleanup failed", zap.String("sid", sid), zap.Error(err))
			}
		}
		if reply := b.takeReply(sid); reply != nil {
			reply("")
		}

	case types.SignalDisconnected:
		b.mu.Lock()
		if owner, ok := b.sessions[sid]; ok {
			delete(b.sessions, sid)
			owner.running--
		}
		b.mu.Unlock()
		if err := b.store.ClearAssignment(ctx, sid); err != nil {
			logging.Warn(ctx, "disconnected: assignment cleanup failed", zap.String("sid", sid), zap.Error(err))
		}
		if err := b.store.AdjustCapacity(ctx, b.queueName, 1); err != nil {
			logging.Warn(ctx, "disconnected: capacity restore failed", zap.Error(err))
		}
		b.writeBack(ctx, sig.Session)
		if err := b.store.DeleteSession(ctx, sid); err != nil {
			logging.Warn(ctx, "disconnected: session cleanup failed", zap.String("sid", sid), zap.Error(err))
		}

	case types.SignalUpdate:
		if err := b.store.ExpireSession(ctx, sid, b.ttl); err != nil {
			logging.Warn(ctx, "update: ttl refresh failed", zap.String("sid", sid), zap.Error(err))
		}
		if sig.Session != nil {
			if err := b.store.SetBotState(ctx, sid, sig.Session.Bot); err != nil {
				logging.Warn(ctx, "update: bot state write failed", zap.String("sid", sid), zap.Error(err))
			}
		}
		b.writeBack(ctx, sig.Session)

	default:
		logging.Warn(ctx, "unknown worker signal", zap.String("signal", sig.Name), zap.String("sid", sid))
	}
}

// writeBack persists the mutable bot profile to Postgres.
func (b *Balancer) writeBack(ctx context.Context, session *types.Session) {
	if session == nil {
		return
	}
	if err := b.repo.SaveBotState(ctx, session.User.ID, session.Bot); err != nil {
		logging.Warn(ctx, "bot state write-back failed",
			zap.Int64("user_id", session.User.ID), zap.Error(err))
	}
}

// sendReply answers one broker message on its reply queue and acks it.
// Messages without reply_to are ack-only.
func (b *Balancer) sendReply(ctx context.Context, d amqp.Delivery, body string) {
	if d.ReplyTo != "" && b.channel != nil {
		err := b.channel.PublishWithContext(ctx, router.ExchangeName, d.ReplyTo, false, false,
			amqp.Publishing{
				ContentType:   "text/plain",
				CorrelationId: d.CorrelationId,
				Body:          []byte(body),
			})
		if err != nil {
			logging.Warn(ctx, "broker reply failed", zap.Error(err))
		}
	}
	_ = d.Ack(false)
}

// Shutdown stops the workers, withdraws this balancer from the registry
// and reconciles every still-owned session into Postgres before closing
// the broker connection.
func (b *Balancer) Shutdown(ctx context.Context) {
	b.once.Do(func() { close(b.stopped) })

	b.mu.Lock()
	workers := append(workerHeap(nil), b.workers...)
	sids := make([]string, 0, len(b.sessions))
	for sid := range b.sessions {
		sids = append(sids, sid)
	}
	b.mu.Unlock()

	for _, w := range workers {
		if err := w.sendStop(); err != nil {
			logging.Warn(ctx, "worker stop failed", zap.Error(err))
		}
	}

	if b.queueName != "" {
		if err := b.store.RemoveBalancer(ctx, b.queueName); err != nil {
			logging.Warn(ctx, "balancer deregistration failed", zap.Error(err))
		}
	}
	for _, sid := range sids {
		if session, err := b.store.GetSession(ctx, sid); err == nil {
			b.writeBack(ctx, session)
		}
		if err := b.store.ClearAssignment(ctx, sid); err != nil {
			logging.Warn(ctx, "shutdown: assignment cleanup failed", zap.String("sid", sid), zap.Error(err))
		}
		if err := b.store.DeleteSession(ctx, sid); err != nil {
			logging.Warn(ctx, "shutdown: session cleanup failed", zap.String("sid", sid), zap.Error(err))
		}
	}

	for _, w := range workers {
		w.conn.Close()
		if w.proc != nil {
			_ = w.proc.Wait()
		}
	}
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		b.conn.Close()
	}
}
