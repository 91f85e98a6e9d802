// Package router is the frontend's broker client. It publishes create and
// delete commands to balancer queues over RabbitMQ, correlates replies
// through an exclusive reply queue and keeps the Redis capacity accounting
// consistent when a publish fails.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/ilyaf835/lamb2-dev/internal/v1/locks"
	"github.com/ilyaf835/lamb2-dev/internal/v1/logging"
	"github.com/ilyaf835/lamb2-dev/internal/v1/metrics"
	"github.com/ilyaf835/lamb2-dev/internal/v1/store"
	"github.com/ilyaf835/lamb2-dev/internal/v1/types"
)

// ExchangeName is the direct exchange balancer queues bind to.
const ExchangeName = "balancers"

// reply is the outcome of one RPC future. A cancelled future means the
// command may or may not have reached a balancer; callers report
// PUBLISH_ERROR and leave retries to the client.
type reply struct {
	body      string
	cancelled bool
}

// Router holds one channel, one exclusive reply queue and the in-flight
// future table. Per-sid locks serialize the selection protocol so a create
// and a concurrent delete cannot interleave their Redis writes.
type Router struct {
	store *store.Store
	locks *locks.Keyed

	conn    *amqp.Connection
	channel *amqp.Channel
	replyTo string

	mu      sync.Mutex
	futures map[string]chan reply

	// publish performs one command round trip; a field so tests can run
	// the selection protocol without a live broker.
	publish func(ctx context.Context, body, queueName string) (string, error)

	done chan struct{}
}

// Connect dials the broker, declares the exchange and the reply queue, and
// starts the reply dispatcher.
func Connect(url string, st *store.Store) (*Router, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("router: dial broker: %w", err)
	}
	r, err := fromConnection(conn, st)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return r, nil
}

func fromConnection(conn *amqp.Connection, st *store.Store) (*Router, error) {
	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("router: open channel: %w", err)
	}
	if err := channel.Confirm(false); err != nil {
		return nil, fmt.Errorf("router: enable confirms: %w", err)
	}
	if err := channel.ExchangeDeclare(ExchangeName, "direct", false, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("router: declare exchange: %w", err)
	}

	queue, err := channel.QueueDeclare("", false, false, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("router: declare reply queue: %w", err)
	}
	if err := channel.QueueBind(queue.Name, queue.Name, ExchangeName, false, nil); err != nil {
		return nil, fmt.Errorf("router: bind reply queue: %w", err)
	}
	deliveries, err := channel.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("router: consume replies: %w", err)
	}

	r := &Router{
		store:   st,
		locks:   locks.NewKeyed(),
		conn:    conn,
		channel: channel,
		replyTo: queue.Name,
		futures: make(map[string]chan reply),
		done:    make(chan struct{}),
	}
	r.publish = r.roundTrip
	returns := channel.NotifyReturn(make(chan amqp.Return, 8))
	closed := channel.NotifyClose(make(chan *amqp.Error, 1))
	go r.dispatch(deliveries, returns, closed)
	return r, nil
}

// dispatch routes reply deliveries into futures. A returned message or a
// channel close cancels the affected futures; the callers translate that
// into PUBLISH_ERROR.
func (r *Router) dispatch(deliveries <-chan amqp.Delivery, returns <-chan amqp.Return, closed <-chan *amqp.Error) {
	defer close(r.done)
	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				r.cancelAll()
				return
			}
			r.resolve(d.CorrelationId, string(d.Body))
		case ret, ok := <-returns:
			if !ok {
				returns = nil
				continue
			}
			r.cancel(ret.CorrelationId)
		case amqpErr := <-closed:
			if amqpErr != nil {
				logging.Warn(context.Background(), "broker channel closed", zap.Error(amqpErr))
			}
			r.cancelAll()
			return
		}
	}
}

func (r *Router) newFuture() (string, chan reply) {
	id := uuid.NewString()
	fut := make(chan reply, 1)
	r.mu.Lock()
	r.futures[id] = fut
	r.mu.Unlock()
	return id, fut
}

func (r *Router) take(id string) (chan reply, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fut, ok := r.futures[id]
	if ok {
		delete(r.futures, id)
	}
	return fut, ok
}

func (r *Router) resolve(id, body string) {
	if fut, ok := r.take(id); ok {
		fut <- reply{body: body}
	}
}

func (r *Router) cancel(id string) {
	if fut, ok := r.take(id); ok {
		fut <- reply{cancelled: true}
	}
}

func (r *Router) cancelAll() {
	r.mu.Lock()
	futures := r.futures
	r.futures = make(map[string]chan reply)
	r.mu.Unlock()
	for _, fut := range futures {
		fut <- reply{cancelled: true}
	}
}

// roundTrip publishes one command body to a balancer queue and waits for
// the correlated reply. The mandatory flag makes a missing queue bounce the
// message back instead of dropping it.
func (r *Router) roundTrip(ctx context.Context, body, queueName string) (string, error) {
	id, fut := r.newFuture()
	confirm, err := r.channel.PublishWithDeferredConfirmWithContext(ctx, ExchangeName, queueName, true, false,
		amqp.Publishing{
			ContentType:   "text/plain",
			CorrelationId: id,
			ReplyTo:       r.replyTo,
			Body:          []byte(body),
		})
	if err != nil {
		r.cancel(id)
	} else if acked, err := confirm.WaitContext(ctx); err != nil || !acked {
		r.cancel(id)
	}

	select {
	case rep := <-fut:
		if rep.cancelled {
			return "", types.ErrPublishError
		}
		return rep.body, nil
	case <-ctx.Done():
		r.cancel(id)
		<-fut
		return "", types.ErrPublishError
	}
}

// Publish runs one named command for a session. Unknown commands fail with
// NO_COMMAND, matching the reply a balancer would give.
func (r *Router) Publish(ctx context.Context, command, sid string) error {
	start := time.Now()
	var err error
	switch command {
	case types.CommandCreate:
		err = r.create(ctx, sid)
	case types.CommandDelete:
		err = r.delete(ctx, sid)
	default:
		return types.ErrNoCommand
	}
	metrics.BrokerRPCDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
	status := "success"
	if err != nil {
		status = string(types.CodeOf(err))
		if status == "" {
			status = "error"
		}
	}
	metrics.BrokerRPCResults.WithLabelValues(command, status).Inc()
	return err
}

// create picks the balancer with the most free capacity, charges one slot
// to it and publishes the command. Any failure after the charge reverts it.
func (r *Router) create(ctx context.Context, sid string) error {
	var queueName string
	var selErr error
	r.locks.With(sid, func() {
		if _, err := r.store.Assignment(ctx, sid); err == nil {
			selErr = types.ErrAlreadyCreated
			return
		} else if !errors.Is(err, store.ErrNotFound) {
			selErr = err
			return
		}
		name, capacity, ok, err := r.store.TopBalancer(ctx)
		if err != nil {
			selErr = err
			return
		}
		if !ok {
			selErr = types.ErrNoBalancers
			return
		}
		if capacity <= 0 {
			selErr = types.ErrNoWorkers
			return
		}
		if err := r.store.AssignSession(ctx, sid, name); err != nil {
			selErr = err
			return
		}
		if err := r.store.AdjustCapacity(ctx, name, -1); err != nil {
			selErr = err
			return
		}
		queueName = name
	})
	if selErr != nil {
		return selErr
	}

	body, err := r.publish(ctx, types.CommandCreate+"/"+sid, queueName)
	if err != nil || body != "" {
		r.revertCreate(sid, queueName)
		if err != nil {
			return err
		}
		return types.ErrorCode(body)
	}
	return nil
}

// revertCreate undoes the capacity charge after a failed create. Cleanup
// runs on a fresh context so a cancelled caller cannot leak the slot.
func (r *Router) revertCreate(sid, queueName string) {
	ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFn()
	r.locks.With(sid, func() {
		if _, err := r.store.TakeAssignment(ctx, sid); err != nil && !errors.Is(err, store.ErrNotFound) {
			logging.Warn(ctx, "create revert: drop assignment", zap.Error(err))
		}
		if err := r.store.AdjustCapacity(ctx, queueName, 1); err != nil {
			logging.Warn(ctx, "create revert: restore capacity", zap.Error(err))
		}
	})
}

// delete releases the session's slot and tells its balancer to tear the
// bot down. NO_BOT means no balancer owned the session.
func (r *Router) delete(ctx context.Context, sid string) error {
	var queueName string
	var selErr error
	r.locks.With(sid, func() {
		name, err := r.store.TakeAssignment(ctx, sid)
		if errors.Is(err, store.ErrNotFound) {
			selErr = types.ErrNoBot
			return
		}
		if err != nil {
			selErr = err
			return
		}
		if err := r.store.AdjustCapacity(ctx, name, 1); err != nil {
			selErr = err
			return
		}
		queueName = name
	})
	if selErr != nil {
		return selErr
	}

	body, err := r.publish(ctx, types.CommandDelete+"/"+sid, queueName)
	if err != nil {
		return err
	}
	if body != "" {
		return types.ErrorCode(body)
	}
	return nil
}

// IsClosed reports whether the broker connection is gone; readiness probes
// use it.
func (r *Router) IsClosed() bool {
	return r.conn == nil || r.conn.IsClosed()
}

// Close tears down the channel and connection; outstanding futures are
// cancelled by the dispatcher.
func (r *Router) Close() error {
	err := r.channel.Close()
	if connErr := r.conn.Close(); err == nil {
		err = connErr
	}
	<-r.done
	return err
}
