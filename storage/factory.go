package storage

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
)

// Options selects and configures a Backend.
type Options struct {
	Driver        string
	FilePath      string
	SealingKeyHex string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	RedisChannel  string
}

// NewBackend builds the Backend named by opts.Driver. An unreachable Redis
// falls back to the file driver so the client keeps working offline.
func NewBackend(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Driver {
	case DriverMemory, "":
		return NewMemoryBackend(), nil
	case DriverFile:
		return newFileFromOptions(opts)
	case DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		var ropts []RedisOption
		if opts.RedisPrefix != "" {
			ropts = append(ropts, WithRedisPrefix(opts.RedisPrefix))
		}
		if opts.RedisChannel != "" {
			ropts = append(ropts, WithRedisChannel(opts.RedisChannel))
		}
		backend, err := NewRedisBackend(ctx, client, ropts...)
		if err != nil {
			client.Close()
			if opts.FilePath == "" {
				return nil, err
			}
			log.Warn().Err(err).Str("addr", opts.RedisAddr).Msg("redis unavailable, falling back to file storage")
			return newFileFromOptions(opts)
		}
		return backend, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
}

func newFileFromOptions(opts Options) (Backend, error) {
	if opts.FilePath == "" {
		return nil, fmt.Errorf("file storage requires a path")
	}
	var key []byte
	if opts.SealingKeyHex != "" {
		k, err := hex.DecodeString(opts.SealingKeyHex)
		if err != nil {
			return nil, fmt.Errorf("decode sealing key: %w", err)
		}
		key = k
	}
	return NewFileBackend(opts.FilePath, key)
}
