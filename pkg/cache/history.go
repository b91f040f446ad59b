package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const historyKey = "modelcache:metrics:history"

// MetricsHistory persists metric snapshots so trend analysis survives
// restarts.
type MetricsHistory interface {
	// Append stores a snapshot and prunes anything older than retention
	Append(ctx context.Context, snapshot Metrics, retention time.Duration) error

	// Range returns snapshots between from and to, oldest first
	Range(ctx context.Context, from, to time.Time) ([]Metrics, error)

	// Clear drops all snapshots
	Clear(ctx context.Context) error
}

// RedisHistory keeps snapshots in a sorted set scored by unix timestamp
type RedisHistory struct {
	client *redis.Client
}

// NewRedisHistory wraps a connected client
func NewRedisHistory(client *redis.Client) *RedisHistory {
	return &RedisHistory{client: client}
}

func (h *RedisHistory) Append(ctx context.Context, snapshot Metrics, retention time.Duration) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "marshal metrics snapshot")
	}

	score := float64(snapshot.Timestamp.Unix())
	pipe := h.client.TxPipeline()
	pipe.ZAdd(ctx, historyKey, redis.Z{Score: score, Member: payload})
	if retention > 0 {
		cutoff := snapshot.Timestamp.Add(-retention).Unix()
		pipe.ZRemRangeByScore(ctx, historyKey, "-inf", strconv.FormatInt(cutoff, 10))
	}
	_, err = pipe.Exec(ctx)
	return errors.Wrap(err, "append metrics snapshot")
}

func (h *RedisHistory) Range(ctx context.Context, from, to time.Time) ([]Metrics, error) {
	members, err := h.client.ZRangeByScore(ctx, historyKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(from.Unix(), 10),
		Max: strconv.FormatInt(to.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "range metrics snapshots")
	}

	snapshots := make([]Metrics, 0, len(members))
	for _, member := range members {
		var m Metrics
		if err := json.Unmarshal([]byte(member), &m); err != nil {
			continue
		}
		snapshots = append(snapshots, m)
	}
	return snapshots, nil
}

func (h *RedisHistory) Clear(ctx context.Context) error {
	return errors.Wrap(h.client.Del(ctx, historyKey).Err(), "clear metrics history")
}
