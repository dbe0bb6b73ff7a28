package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ridepulse/ridepulse/pkg/config"
)

// Client wraps the Redis client
type Client struct {
	*redis.Client
}

// NewClient creates a new Redis client and verifies connectivity.
func NewClient(cfg *config.RedisConfig) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}

	return &Client{Client: client}, nil
}

// Wrap adapts a raw go-redis client. Used by tests with redismock.
func Wrap(client *redis.Client) *Client {
	return &Client{Client: client}
}

// SetWithExpiration sets a key-value pair with expiration
func (c *Client) SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.Set(ctx, key, value, expiration).Err()
}

// GetString gets a string value by key
func (c *Client) GetString(ctx context.Context, key string) (string, error) {
	return c.Get(ctx, key).Result()
}

// Delete deletes a key
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.Del(ctx, keys...).Err()
}

// Exists checks if a key exists
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	result, err := c.Client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// Close closes the Redis client
func (c *Client) Close() error {
	return c.Client.Close()
}

// GeoResult is one member of a radius query, ordered by ascending distance.
type GeoResult struct {
	Member     string
	DistanceKm float64
}

// GeoAdd adds a location to a geospatial index
func (c *Client) GeoAdd(ctx context.Context, key string, longitude, latitude float64, member string) error {
	return c.Client.GeoAdd(ctx, key, &redis.GeoLocation{
		Longitude: longitude,
		Latitude:  latitude,
		Name:      member,
	}).Err()
}

// GeoRadius searches for members within a radius, ascending by distance.
func (c *Client) GeoRadius(ctx context.Context, key string, longitude, latitude, radiusKm float64, count int) ([]GeoResult, error) {
	locations, err := c.Client.GeoRadius(ctx, key, longitude, latitude, &redis.GeoRadiusQuery{
		Radius:   radiusKm,
		Unit:     "km",
		WithDist: true,
		Count:    count,
		Sort:     "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}

	results := make([]GeoResult, 0, len(locations))
	for _, loc := range locations {
		results = append(results, GeoResult{Member: loc.Name, DistanceKm: loc.Dist})
	}
	return results, nil
}

// GeoRemove removes a member from geospatial index
func (c *Client) GeoRemove(ctx context.Context, key string, member string) error {
	return c.Client.ZRem(ctx, key, member).Err()
}

// HashSetValues writes field/value pairs in the order given
func (c *Client) HashSetValues(ctx context.Context, key string, values ...interface{}) error {
	return c.Client.HSet(ctx, key, values...).Err()
}

// HashGetAll reads all fields of a hash; empty map when missing or expired
func (c *Client) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.Client.HGetAll(ctx, key).Result()
}

// HashSetField writes a single hash field, leaving the key TTL untouched
func (c *Client) HashSetField(ctx context.Context, key, field, value string) error {
	return c.Client.HSet(ctx, key, field, value).Err()
}

// HashGetField reads a single hash field; redis.Nil error when absent
func (c *Client) HashGetField(ctx context.Context, key, field string) (string, error) {
	return c.Client.HGet(ctx, key, field).Result()
}

// HashSetFieldNX writes a hash field only when absent
func (c *Client) HashSetFieldNX(ctx context.Context, key, field, value string) error {
	return c.Client.HSetNX(ctx, key, field, value).Err()
}

// Expire sets an expiration on a key
func (c *Client) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return c.Client.Expire(ctx, key, expiration).Err()
}

// SortedSetAdd inserts a scored member into a sorted set
func (c *Client) SortedSetAdd(ctx context.Context, key string, score float64, member string) error {
	return c.Client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// SortedSetTrimBelow removes members with score strictly below min
func (c *Client) SortedSetTrimBelow(ctx context.Context, key string, maxScore float64) error {
	return c.Client.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%f", maxScore)).Err()
}

// SortedSetRangeWithScores returns all members ascending by score
func (c *Client) SortedSetRangeWithScores(ctx context.Context, key string) ([]redis.Z, error) {
	return c.Client.ZRangeWithScores(ctx, key, 0, -1).Result()
}

// SetIfAbsent performs SET key value NX PX ttl, the single-writer primitive
// behind the distributed mutex.
func (c *Client) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.Client.SetNX(ctx, key, value, ttl).Result()
}
