package repository

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const markerTTL = 7 * 24 * time.Hour

// SyncMarkerRepository 在 Redis 中记录远程产物上尚未完成的操作，
// 例如上传失败等待补传、删除失败等待补删。kind 区分操作类型。
type SyncMarkerRepository interface {
	Mark(ctx context.Context, tenantID, kind string) error
	Clear(ctx context.Context, tenantID, kind string) error
	Has(ctx context.Context, tenantID, kind string) (bool, error)
}

type syncMarkerRepository struct {
	redisClient *redis.Client
}

// NewSyncMarkerRepository 创建一个新的 SyncMarkerRepository 实例。
func NewSyncMarkerRepository(redisClient *redis.Client) SyncMarkerRepository {
	return &syncMarkerRepository{redisClient: redisClient}
}

func (r *syncMarkerRepository) key(tenantID, kind string) string {
	return "duplike:artifacts:" + kind + ":" + tenantID
}

func (r *syncMarkerRepository) Mark(ctx context.Context, tenantID, kind string) error {
	return r.redisClient.Set(ctx, r.key(tenantID, kind), time.Now().Unix(), markerTTL).Err()
}

func (r *syncMarkerRepository) Clear(ctx context.Context, tenantID, kind string) error {
	return r.redisClient.Del(ctx, r.key(tenantID, kind)).Err()
}

func (r *syncMarkerRepository) Has(ctx context.Context, tenantID, kind string) (bool, error) {
	n, err := r.redisClient.Exists(ctx, r.key(tenantID, kind)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
