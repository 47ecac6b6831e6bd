// Package redismarker keeps the fee rollover's "last run" date in Redis so
// that several server or worker processes share one once-per-day gate.
package redismarker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warp/billing-ledger/billing"
)

// DefaultKey is used when Marker.Key is empty.
const DefaultKey = "billing:rollover:last"

// Marker implements billing.RolloverMarker on a Redis string key.
type Marker struct {
	Client *redis.Client
	Key    string
}

func New(client *redis.Client, prefix string) *Marker {
	return &Marker{Client: client, Key: prefix + DefaultKey}
}

// Connect opens a client and checks it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

func (m *Marker) key() string {
	if m.Key == "" {
		return DefaultKey
	}
	return m.Key
}

func (m *Marker) LastRollover(ctx context.Context) (billing.Date, bool, error) {
	v, err := m.Client.Get(ctx, m.key()).Result()
	if errors.Is(err, redis.Nil) {
		return billing.Date{}, false, nil
	}
	if err != nil {
		return billing.Date{}, false, fmt.Errorf("get %s: %w", m.key(), err)
	}
	d, err := billing.ParseDate(v)
	if err != nil {
		return billing.Date{}, false, fmt.Errorf("corrupt rollover marker %q: %w", v, err)
	}
	return d, true, nil
}

// SetLastRollover never moves the marker backwards.
func (m *Marker) SetLastRollover(ctx context.Context, d billing.Date) error {
	key := m.key()
	err := m.Client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			if prev, perr := billing.ParseDate(cur); perr == nil && prev.After(d) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, d.String(), 0)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
