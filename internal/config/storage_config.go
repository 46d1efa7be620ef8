package config

import (
	"encoding/hex"
	"fmt"

	"github.com/jrsteele09/storefront-session/storage"
)

type StorageConfig interface {
	GetStorageOptions() storage.Options
}

type Storage struct {
	Driver        string `env:"STOREFRONT_STORAGE" envDefault:"memory"`
	FilePath      string `env:"STOREFRONT_STORAGE_FILE" envDefault:"./data/session.json"`
	SealingKeyHex string `env:"STOREFRONT_STORAGE_KEY"`
	RedisAddr     string `env:"STOREFRONT_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"STOREFRONT_REDIS_PASSWORD"`
	RedisDB       int    `env:"STOREFRONT_REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"STOREFRONT_REDIS_PREFIX"`
	RedisChannel  string `env:"STOREFRONT_REDIS_CHANNEL"`
}

var _ StorageConfig = Storage{}

func (s Storage) GetStorageOptions() storage.Options {
	return storage.Options{
		Driver:        s.Driver,
		FilePath:      s.FilePath,
		SealingKeyHex: s.SealingKeyHex,
		RedisAddr:     s.RedisAddr,
		RedisPassword: s.RedisPassword,
		RedisDB:       s.RedisDB,
		RedisPrefix:   s.RedisPrefix,
		RedisChannel:  s.RedisChannel,
	}
}

func (s Storage) validate() error {
	switch s.Driver {
	case storage.DriverMemory, storage.DriverFile, storage.DriverRedis:
	default:
		return fmt.Errorf("unknown STOREFRONT_STORAGE %q", s.Driver)
	}
	if s.SealingKeyHex != "" {
		key, err := hex.DecodeString(s.SealingKeyHex)
		if err != nil || len(key) != 32 {
			return fmt.Errorf("STOREFRONT_STORAGE_KEY must be 32 bytes of hex")
		}
	}
	return nil
}
