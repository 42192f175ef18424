package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage persists history buckets in Redis sorted sets, one per
// metric, scored by bucket start time.
type RedisStorage struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStorage connects to url and pings it.
func NewRedisStorage(url string) (*RedisStorage, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisStorage{
		client: client,
		prefix: "face:metrics:",
		ttl:    24 * time.Hour,
	}, nil
}

// member encodes a point so equal values in different buckets stay distinct
// set members.
func member(dp DataPoint) string {
	return strconv.FormatInt(dp.Timestamp.Unix(), 10) + ":" + strconv.FormatFloat(dp.Value, 'f', 2, 64)
}

func parseMember(s string) (float64, error) {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	return strconv.ParseFloat(s, 64)
}

// SaveDataPoint stores dp and trims points older than the TTL.
func (rs *RedisStorage) SaveDataPoint(ctx context.Context, metric string, dp DataPoint) error {
	return rs.SaveBatch(ctx, metric, []DataPoint{dp})
}

// SaveBatch stores several points in one pipeline.
func (rs *RedisStorage) SaveBatch(ctx context.Context, metric string, points []DataPoint) error {
	if len(points) == 0 {
		return nil
	}
	key := rs.prefix + metric

	members := make([]redis.Z, len(points))
	for i, dp := range points {
		members[i] = redis.Z{Score: float64(dp.Timestamp.Unix()), Member: member(dp)}
	}

	pipe := rs.client.Pipeline()
	pipe.ZAdd(ctx, key, members...)
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(time.Now().Add(-rs.ttl).Unix(), 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving data points: %w", err)
	}
	return nil
}

// LoadHistory returns points at or after since, oldest first.
func (rs *RedisStorage) LoadHistory(ctx context.Context, metric string, since time.Time) ([]DataPoint, error) {
	results, err := rs.client.ZRangeByScoreWithScores(ctx, rs.prefix+metric, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	points := make([]DataPoint, 0, len(results))
	for _, z := range results {
		s, ok := z.Member.(string)
		if !ok {
			continue
		}
		value, err := parseMember(s)
		if err != nil {
			continue
		}
		points = append(points, DataPoint{Timestamp: time.Unix(int64(z.Score), 0), Value: value})
	}
	return points, nil
}

// DeleteMetric removes all points of metric.
func (rs *RedisStorage) DeleteMetric(ctx context.Context, metric string) error {
	if err := rs.client.Del(ctx, rs.prefix+metric).Err(); err != nil {
		return fmt.Errorf("deleting metric: %w", err)
	}
	return nil
}

// SetTTL sets how long points are retained.
func (rs *RedisStorage) SetTTL(ttl time.Duration) {
	rs.ttl = ttl
}

// Close closes the Redis connection.
func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}
