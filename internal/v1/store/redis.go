// Package store handles all interaction with Redis: session documents under
// session:{sid} and the balancer capacity registry (the balancers:queue
// sorted set plus per-session assignment keys).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/ilyaf835/lamb2-dev/internal/v1/metrics"
	"github.com/ilyaf835/lamb2-dev/internal/v1/types"
)

const (
	sessionKeyPrefix  = "session:"
	balancerKeyPrefix = "balancers:"
	balancerQueueKey  = "balancers:queue"
)

// ErrNotFound is returned when a session or assignment key does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps the Redis client behind a circuit breaker.
type Store struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client.
func (s *Store) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// New creates a Redis connection and verifies it with a ping.
func New(addr, password string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0, // Default DB
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Ping to verify connection immediately
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Connected to Redis", "addr", addr)
	return FromClient(rdb), nil
}

// FromClient wraps an existing client; tests inject miniredis through here.
func FromClient(rdb *redis.Client) *Store {
	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}
	return &Store{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}
}

func (s *Store) execute(fn func() (any, error)) (any, error) {
	res, err := s.cb.Execute(fn)
	if err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
	}
	return res, err
}

func SessionKey(sid string) string  { return sessionKeyPrefix + sid }
func BalancerKey(sid string) string { return balancerKeyPrefix + sid }

// --- Session documents ---

// SetSession stores the session JSON under session:{sid} with a TTL.
func (s *Store) SetSession(ctx context.Context, sid string, session *types.Session, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.execute(func() (any, error) {
		return nil, s.client.Set(ctx, SessionKey(sid), data, ttl).Err()
	})
	return err
}

// GetSession loads a session document, returning ErrNotFound when absent.
func (s *Store) GetSession(ctx context.Context, sid string) (*types.Session, error) {
	res, err := s.execute(func() (any, error) {
		return s.client.Get(ctx, SessionKey(sid)).Bytes()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var session types.Session
	if err := json.Unmarshal(res.([]byte), &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

// SessionExists reports whether session:{sid} is present.
func (s *Store) SessionExists(ctx context.Context, sid string) (bool, error) {
	res, err := s.execute(func() (any, error) {
		return s.client.Exists(ctx, SessionKey(sid)).Result()
	})
	if err != nil {
		return false, err
	}
	return res.(int64) > 0, nil
}

// DeleteSession removes session:{sid}.
func (s *Store) DeleteSession(ctx context.Context, sid string) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.client.Del(ctx, SessionKey(sid)).Err()
	})
	return err
}

// ExpireSession refreshes the TTL of session:{sid}.
func (s *Store) ExpireSession(ctx context.Context, sid string, ttl time.Duration) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.client.Expire(ctx, SessionKey(sid), ttl).Err()
	})
	return err
}

// SetBotState replaces the bot sub-document of session:{sid}, keeping the
// remaining fields and the key's TTL intact.
func (s *Store) SetBotState(ctx context.Context, sid string, bot types.BotState) error {
	session, err := s.GetSession(ctx, sid)
	if err != nil {
		return err
	}
	session.Bot = bot
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.execute(func() (any, error) {
		return nil, s.client.Set(ctx, SessionKey(sid), data, redis.KeepTTL).Err()
	})
	return err
}

// --- Balancer registry ---

// RegisterBalancer announces a balancer with its remaining capacity.
func (s *Store) RegisterBalancer(ctx context.Context, name string, capacity int) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.client.ZAdd(ctx, balancerQueueKey, redis.Z{Score: float64(capacity), Member: name}).Err()
	})
	return err
}

// RemoveBalancer withdraws a balancer from the registry.
func (s *Store) RemoveBalancer(ctx context.Context, name string) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.client.ZRem(ctx, balancerQueueKey, name).Err()
	})
	return err
}

// TopBalancer returns the balancer with the most remaining capacity. The
// second return is false when no balancer is registered.
func (s *Store) TopBalancer(ctx context.Context) (string, float64, bool, error) {
	res, err := s.execute(func() (any, error) {
		return s.client.ZRevRangeWithScores(ctx, balancerQueueKey, 0, 0).Result()
	})
	if err != nil {
		return "", 0, false, err
	}
	entries := res.([]redis.Z)
	if len(entries) == 0 {
		return "", 0, false, nil
	}
	name, _ := entries[0].Member.(string)
	return name, entries[0].Score, true, nil
}

// AdjustCapacity shifts a balancer's remaining capacity by delta.
func (s *Store) AdjustCapacity(ctx context.Context, name string, delta int) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.client.ZIncrBy(ctx, balancerQueueKey, float64(delta), name).Err()
	})
	return err
}

// Capacity reads a balancer's remaining capacity; false when unregistered.
func (s *Store) Capacity(ctx context.Context, name string) (float64, bool, error) {
	res, err := s.execute(func() (any, error) {
		return s.client.ZScore(ctx, balancerQueueKey, name).Result()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return res.(float64), true, nil
}

// AssignSession records which balancer owns a session.
func (s *Store) AssignSession(ctx context.Context, sid, balancer string) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.client.Set(ctx, BalancerKey(sid), balancer, 0).Err()
	})
	return err
}

// Assignment reads the owning balancer of a session without consuming it.
func (s *Store) Assignment(ctx context.Context, sid string) (string, error) {
	res, err := s.execute(func() (any, error) {
		return s.client.Get(ctx, BalancerKey(sid)).Result()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", err
	}
	return res.(string), nil
}

// TakeAssignment atomically reads and clears the owning balancer of a
// session. ErrNotFound means no balancer owned it.
func (s *Store) TakeAssignment(ctx context.Context, sid string) (string, error) {
	res, err := s.execute(func() (any, error) {
		return s.client.GetDel(ctx, BalancerKey(sid)).Result()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", err
	}
	return res.(string), nil
}

// ClearAssignment removes the assignment key of a session.
func (s *Store) ClearAssignment(ctx context.Context, sid string) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.client.Del(ctx, BalancerKey(sid)).Err()
	})
	return err
}

// Ping checks Redis connectivity. Used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

// Close shuts down the Redis connection.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
