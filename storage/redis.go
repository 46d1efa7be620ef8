package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	_ Backend = (*RedisBackend)(nil)
	_ Watcher = (*RedisBackend)(nil)
	_ Closer  = (*RedisBackend)(nil)
)

const (
	DefaultRedisPrefix  = "storefront:"
	DefaultRedisChannel = "storefront:storage-changes"
)

// RedisBackend stores keys in Redis so that several processes share one
// session. Every write is followed by a change message on a pub/sub channel,
// which is how other processes learn about it.
type RedisBackend struct {
	client  *redis.Client
	prefix  string
	channel string
	origin  string
}

type RedisOption func(*RedisBackend)

func WithRedisPrefix(prefix string) RedisOption {
	return func(r *RedisBackend) { r.prefix = prefix }
}

func WithRedisChannel(channel string) RedisOption {
	return func(r *RedisBackend) { r.channel = channel }
}

// NewRedisBackend wraps an existing client and pings it.
func NewRedisBackend(ctx context.Context, client *redis.Client, opts ...RedisOption) (*RedisBackend, error) {
	r := &RedisBackend{
		client:  client,
		prefix:  DefaultRedisPrefix,
		channel: DefaultRedisChannel,
		origin:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "NewRedisBackend client.Ping")
	}
	return r, nil
}

func (r *RedisBackend) key(k string) string {
	return r.prefix + k
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "RedisBackend client.Get")
	}
	return val, true, nil
}

func (r *RedisBackend) GetMulti(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	vals, err := r.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "RedisBackend client.MGet")
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

func (r *RedisBackend) SetMulti(ctx context.Context, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}
	pairs := make([]any, 0, len(entries)*2)
	keys := make([]string, 0, len(entries))
	for k, v := range entries {
		pairs = append(pairs, r.key(k), v)
		keys = append(keys, k)
	}
	if _, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.MSet(ctx, pairs...)
		return nil
	}); err != nil {
		return errors.Wrap(err, "RedisBackend MSET")
	}
	r.publish(ctx, keys)
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return errors.Wrap(err, "RedisBackend client.Del")
	}
	r.publish(ctx, keys)
	return nil
}

// CompareAndSwap watches key, so a write by any other client between the read
// and the transaction aborts the swap.
func (r *RedisBackend) CompareAndSwap(ctx context.Context, key string, old, value []byte) (bool, error) {
	full := r.key(key)
	swapped := false
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, full).Bytes()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		if !bytes.Equal(cur, old) {
			return nil
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, full, value, 0)
			return nil
		}); err != nil {
			return err
		}
		swapped = true
		return nil
	}, full)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "RedisBackend CompareAndSwap")
	}
	if swapped {
		r.publish(ctx, []string{key})
	}
	return swapped, nil
}

// publish is best effort: the write already landed, a missed notification
// only delays other processes until their next read.
func (r *RedisBackend) publish(ctx context.Context, keys []string) {
	msg, err := json.Marshal(Change{Origin: r.origin, Keys: keys})
	if err != nil {
		return
	}
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		log.Err(err).Str("channel", r.channel).Msg("failed to publish storage change")
	}
}

// Watch subscribes to the change channel and calls fn for every change made
// by another RedisBackend.
func (r *RedisBackend) Watch(ctx context.Context, fn func(Change)) (func(), error) {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, errors.Wrap(err, "RedisBackend Subscribe")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range sub.Channel() {
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				log.Warn().Err(err).Msg("ignoring malformed storage change")
				continue
			}
			if change.Origin == r.origin {
				continue
			}
			fn(change)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.Close()
			<-done
		})
	}, nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
