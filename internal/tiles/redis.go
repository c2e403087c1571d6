package tiles

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/haruyam15/meomok/internal/domain"
)

const redisTilePrefix = "meomok:tile:"

// RedisStore keeps fetch times in Redis as RFC3339Nano strings. Unlike the database stores it
// purges rows: each key expires at twice the TTL, after which a tile reads as never fetched.
// That is the same answer a stale row gives, and freshness is still decided by Cache.
type RedisStore struct {
	client *redis.Client
	expiry time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, expiry: 2 * ttl}
}

func (r *RedisStore) GetTile(ctx context.Context, tileID string, radiusM int) (domain.FetchTile, bool, error) {
	value, err := r.client.Get(ctx, redisTilePrefix+TileKey(tileID, radiusM)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.FetchTile{}, false, nil
		}
		return domain.FetchTile{}, false, err
	}
	fetchedAt, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return domain.FetchTile{}, false, err
	}
	return domain.FetchTile{TileID: tileID, RadiusM: radiusM, FetchedAt: fetchedAt}, true, nil
}

func (r *RedisStore) UpsertTile(ctx context.Context, tile domain.FetchTile) error {
	key := redisTilePrefix + TileKey(tile.TileID, tile.RadiusM)
	return r.client.Set(ctx, key, tile.FetchedAt.UTC().Format(time.RFC3339Nano), r.expiry).Err()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
