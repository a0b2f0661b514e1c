// Package lock provides best-effort mutual exclusion across processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker grants short-lived named locks. A lock that is not acquired means
// another holder is working on the same key.
type Locker interface {
	TryLock(ctx context.Context, key string) (release func(context.Context) error, acquired bool, err error)
}

// Noop grants every lock. It is used when no Redis is configured.
type Noop struct{}

func (Noop) TryLock(context.Context, string) (func(context.Context) error, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}

// Local refuses a key while another goroutine in this process holds it.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocal() *Local { return &Local{held: map[string]struct{}{}} }

func (l *Local) TryLock(_ context.Context, key string) (func(context.Context) error, bool, error) {
	if key == "" {
		return nil, false, errors.New("lock: key cannot be empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	l.held[key] = struct{}{}
	var once sync.Once
	release := func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}
	return release, true, nil
}

var ErrLockConnection = errors.New("lock: connection failed")

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg Config) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrLockConnection, err)
	}
	return NewRedisWithClient(client, cfg.Prefix, cfg.TTL), nil
}

func NewRedisWithClient(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if prefix == "" {
		prefix = "certlock:"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) TryLock(ctx context.Context, key string) (func(context.Context) error, bool, error) {
	if key == "" {
		return nil, false, errors.New("lock: key cannot be empty")
	}
	k := r.prefix + key
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, r.client, []string{k}, token).Err()
	}
	return release, true, nil
}

func (r *Redis) Close() error { return r.client.Close() }
