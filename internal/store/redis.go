package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Key prefixes for snapshots and their session leases.
const (
	RedisKeyPrefix   = "kitchensync:snapshot:"
	RedisLeasePrefix = "kitchensync:lease:"
)

// saveScript writes the snapshot only while the lease is free or ours.
//
//	KEYS[1] lease, KEYS[2] snapshot
//	ARGV[1] owner, ARGV[2] ttl ms, ARGV[3] snapshot
var saveScript = redis.NewScript(`
local holder = redis.call('GET', KEYS[1])
if holder and holder ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('SET', KEYS[2], ARGV[3])
return 1
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore keeps session snapshots as plain redis strings. The session
// lease is a key holding the owner id with a TTL.
type RedisStore struct {
	client   *redis.Client
	key      string
	leaseKey string
	owner    string
	ttl      time.Duration
}

// OpenRedis connects to the redis server at url, pings it and takes the
// session's lease. It fails with ErrLocked while another engine holds it.
func OpenRedis(ctx context.Context, url, session string) (*RedisStore, error) {
	return OpenRedisWithLease(ctx, url, session, DefaultLeaseTTL)
}

// OpenRedisWithLease is OpenRedis with an explicit lease TTL.
func OpenRedisWithLease(ctx context.Context, url, session string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	r := NewRedisStore(client, session)
	if ttl > 0 {
		r.ttl = ttl
	}
	ok, err := client.SetNX(ctx, r.leaseKey, r.owner, r.ttl).Result()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("acquire lease %s: %w", session, err)
	}
	if !ok {
		client.Close()
		return nil, fmt.Errorf("%w: %s", ErrLocked, session)
	}
	return r, nil
}

// NewRedisStore wraps an existing client. The lease is taken by the first Save.
func NewRedisStore(client *redis.Client, session string) *RedisStore {
	return &RedisStore{
		client:   client,
		key:      RedisKeyPrefix + session,
		leaseKey: RedisLeasePrefix + session,
		owner:    uuid.NewString(),
		ttl:      DefaultLeaseTTL,
	}
}

// Save writes the snapshot with no expiry and renews the lease; staleness is
// judged on decode.
func (r *RedisStore) Save(ctx context.Context, data []byte) error {
	n, err := saveScript.Run(ctx, r.client,
		[]string{r.leaseKey, r.key},
		r.owner, r.ttl.Milliseconds(), data,
	).Int()
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", r.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLeaseLost, r.key)
	}
	return nil
}

// Load returns the snapshot or ErrNotFound.
func (r *RedisStore) Load(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", r.key, err)
	}
	return data, nil
}

// Close releases the lease and closes the client.
func (r *RedisStore) Close() error {
	err := releaseScript.Run(context.Background(), r.client, []string{r.leaseKey}, r.owner).Err()
	if errors.Is(err, redis.Nil) {
		err = nil
	}
	return errors.Join(err, r.client.Close())
}
