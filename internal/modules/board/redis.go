// README: Board backed by Redis sets, shared by every API instance.
package board

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"foodrun/internal/types"
)

const viewersKeyPrefix = "board:shop_order:%s:viewers"

type Redis struct {
	redis *redis.Client
}

var _ Board = (*Redis)(nil)

func NewRedis(client *redis.Client) *Redis {
	return &Redis{redis: client}
}

// MarkSeen adds the courier to each job's viewer set and refreshes its TTL.
func (r *Redis) MarkSeen(ctx context.Context, courierID types.ID, shopOrderIDs ...types.ID) error {
	if len(shopOrderIDs) == 0 {
		return nil
	}
	pipe := r.redis.Pipeline()
	for _, id := range shopOrderIDs {
		key := viewersKey(id)
		pipe.SAdd(ctx, key, string(courierID))
		pipe.Expire(ctx, key, keyTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) Viewers(ctx context.Context, shopOrderID types.ID) ([]types.ID, error) {
	members, err := r.redis.SMembers(ctx, viewersKey(shopOrderID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(members))
	for i, m := range members {
		ids[i] = types.ID(m)
	}
	return ids, nil
}

func (r *Redis) Forget(ctx context.Context, shopOrderID types.ID) error {
	return r.redis.Del(ctx, viewersKey(shopOrderID)).Err()
}

func viewersKey(id types.ID) string {
	return fmt.Sprintf(viewersKeyPrefix, string(id))
}
