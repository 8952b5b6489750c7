package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jrsteele09/cids/internal/errors"
)

const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// Config is the connection configuration. Addrs with more than one entry
// selects a cluster client; MasterName selects Sentinel failover.
type Config struct {
	Addrs        []string
	MasterName   string
	Username     string
	Password     string
	DB           int
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Store keeps the short-lived, high-churn state in Redis: refresh families,
// revoked token ids and pending logins. Expiry is left to key TTLs.
type Store struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

type Option func(*Store)

func WithNowTime(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "redis address is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		MasterName:   cfg.MasterName,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis")
	}
	return New(client, cfg.KeyPrefix, opts...), nil
}

// New wraps an existing client, as used with miniredis in tests.
func New(client redis.UniversalClient, keyPrefix string, opts ...Option) *Store {
	s := &Store{client: client, prefix: keyPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) key(kind, id string) string {
	return s.prefix + kind + ":" + id
}

// ttl is the time left until at, never less than a millisecond so that a
// record written right at its expiry still gets a TTL.
func (s *Store) ttl(at time.Time) time.Duration {
	d := at.Sub(s.now())
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}
