package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/settings"
)

const (
	keyPrefix     = "bhorti:"
	settingsKey   = keyPrefix + "settings"
	serialsPrefix = keyPrefix + "serial:"
	settingsTTL   = 10 * time.Minute
)

// Open connects to the redis server at `url` (redis://[:password@]host:port/db).
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parsing redis url")
	}
	client := redis.NewClient(opts)
	if err = client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return client, nil
}

type SettingsCache struct {
	client redis.Cmdable
}

var _ settings.Cache = (*SettingsCache)(nil) // interface compliance check

func NewSettingsCache(client redis.Cmdable) *SettingsCache {
	return &SettingsCache{client: client}
}

func (c SettingsCache) GetSettings(ctx context.Context) (settings.Settings, bool, error) {
	val, err := c.client.Get(ctx, settingsKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return settings.Settings{}, false, nil
		}
		return settings.Settings{}, false, errors.Wrap(err, "reading cached settings")
	}
	var s settings.Settings
	if err = json.Unmarshal(val, &s); err != nil {
		return settings.Settings{}, false, errors.Wrap(err, "decoding cached settings")
	}
	return s, true, nil
}

func (c SettingsCache) SetSettings(ctx context.Context, s settings.Settings) error {
	val, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encoding settings")
	}
	return errors.Wrap(c.client.Set(ctx, settingsKey, val, settingsTTL).Err(), "caching settings")
}

// CounterStore is the durable copy of the counters (see sqlxrepos.SerialCounter).
type CounterStore interface {
	Current(ctx context.Context, scope string) (int, error)
	Observe(ctx context.Context, scope string, serial int) error
}

// SerialAllocator hands out serials with INCR. A missing key is seeded from the store,
// and every allocated serial is recorded back, so a flushed redis never reuses a serial.
type SerialAllocator struct {
	client redis.Cmdable
	store  CounterStore
	logger core.Logger
}

var _ core.SerialAllocator = (*SerialAllocator)(nil) // interface compliance check

func NewSerialAllocator(client redis.Cmdable, store CounterStore, logger core.Logger) *SerialAllocator {
	return &SerialAllocator{client: client, store: store, logger: logger}
}

func (sa SerialAllocator) Next(ctx context.Context, scope string) (int, error) {
	key := serialsPrefix + scope

	n, err := sa.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrap(err, "checking serial key")
	}
	if n == 0 {
		cur, err := sa.store.Current(ctx, scope)
		if err != nil {
			return 0, errors.Wrap(err, "seeding serial counter")
		}
		// another instance may have seeded it meanwhile
		if err = sa.client.SetNX(ctx, key, cur, 0).Err(); err != nil {
			return 0, errors.Wrap(err, "seeding serial counter")
		}
	}

	serial, err := sa.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "incrementing serial %q", scope)
	}
	if err = sa.store.Observe(ctx, scope, int(serial)); err != nil {
		sa.logger.Warn("recording serial "+scope, err)
	}
	return int(serial), nil
}
