package main

import (
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/lateral/codec"
	"github.com/unkn0wn-root/lateral/config"
	"github.com/unkn0wn-root/lateral/provider"
	"github.com/unkn0wn-root/lateral/provider/bigcache"
	"github.com/unkn0wn-root/lateral/provider/redis"
	"github.com/unkn0wn-root/lateral/provider/ristretto"
)

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}

func newCodec(name string) (codec.Codec[string], error) {
	if name == "cbor" {
		name = "cbor-det"
	}
	return codec.Lookup[string](name)
}

func redisOptions(c *config.Config) *goredis.Options {
	return &goredis.Options{
		Password:     c.Redis.Password,
		DB:           c.Redis.DB,
		DialTimeout:  c.Redis.Timeout,
		ReadTimeout:  c.Redis.Timeout,
		WriteTimeout: c.Redis.Timeout,
	}
}

// newStore builds the byte store behind this node's local copy of every region.
func newStore(c *config.Config) (provider.Provider, error) {
	switch c.Store.Kind {
	case "ristretto":
		return ristretto.New(ristretto.DefaultConfig(c.Store.MaxBytes))
	case "bigcache":
		return bigcache.New(bigcache.Config{LifeWindow: c.Store.Life})
	case "redis":
		o := redisOptions(c)
		o.Addr = c.Store.Addr
		return redis.New(redis.Config{
			Client:      goredis.NewClient(o),
			Prefix:      fmt.Sprintf("node-%d:", c.NodeID),
			CloseClient: true,
		})
	default:
		return nil, fmt.Errorf("unknown store kind %q", c.Store.Kind)
	}
}
