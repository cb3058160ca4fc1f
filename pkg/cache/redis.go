package cache

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the Redis connection options. The ledger only uses Redis for
// shared counters (the distributed transfer rate limiter), so everything here
// is optional: an empty Addr means the caller runs without Redis entirely.
type Config struct {
	Addr            string
	Username        string
	Password        string
	DB              int
	UseTLS          bool
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PoolSize        int
	MinIdleConns    int
	MaxRetries      int
	MaxRetryBackoff time.Duration
	MinRetryBackoff time.Duration
}

// New returns a connected redis.Client plus a closer for shutdown. The PING
// up front turns a bad address into a startup failure instead of a runtime
// one.
func New(ctx context.Context, cfg Config) (*redis.Client, func(), error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  defaultDuration(cfg.DialTimeout, 3*time.Second),
		ReadTimeout:  defaultDuration(cfg.ReadTimeout, 2*time.Second),
		WriteTimeout: defaultDuration(cfg.WriteTimeout, 2*time.Second),
		PoolSize:     defaultInt(cfg.PoolSize, 10),
		MinIdleConns: defaultInt(cfg.MinIdleConns, 2),
		MaxRetries:   defaultInt(cfg.MaxRetries, 3),
	}

	// Retry backoff bounds
	if cfg.MinRetryBackoff > 0 {
		opts.MinRetryBackoff = cfg.MinRetryBackoff
	} else {
		opts.MinRetryBackoff = 50 * time.Millisecond
	}
	if cfg.MaxRetryBackoff > 0 {
		opts.MaxRetryBackoff = cfg.MaxRetryBackoff
	} else {
		opts.MaxRetryBackoff = 500 * time.Millisecond
	}

	// Managed Redis providers generally require TLS.
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	closer := func() {
		_ = client.Close()
	}

	return client, closer, nil
}

func defaultDuration(v, d time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return d
}

func defaultInt(v, d int) int {
	if v > 0 {
		return v
	}
	return d
}
