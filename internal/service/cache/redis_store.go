package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/kapu/bilibili-danmaku-go/internal/constants"
	"github.com/kapu/bilibili-danmaku-go/internal/domain"
	"github.com/kapu/bilibili-danmaku-go/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// RedisBundleStore keeps bundles as JSON strings plus an index set of bvids.
type RedisBundleStore struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisBundleStore(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisBundleStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, constants.RedisConfig.ReadyTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.NewCacheError("failed to connect to Redis", "ping", "", err)
	}

	logger.Info("Redis connected",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		zap.Int("db", cfg.DB),
	)

	return NewRedisBundleStoreWithClient(client, logger), nil
}

func NewRedisBundleStoreWithClient(client *redis.Client, logger *zap.Logger) *RedisBundleStore {
	return &RedisBundleStore{client: client, logger: logger}
}

func bundleKey(bvid string) string {
	return constants.CacheKeys.BundlePrefix + bvid
}

func (s *RedisBundleStore) Exists(ctx context.Context, bvid string) (bool, error) {
	key := bundleKey(bvid)
	count, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		s.logger.Error("Cache exists failed", zap.String("key", key), zap.Error(err))
		return false, errors.NewCacheError("exists failed", "exists", key, err)
	}
	return count > 0, nil
}

func (s *RedisBundleStore) Load(ctx context.Context, bvid string) (*domain.VideoDanmakuBundle, error) {
	key := bundleKey(bvid)
	value, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, errors.NewCacheError("bundle missing", "get", key, ErrBundleNotFound)
	}
	if err != nil {
		s.logger.Error("Cache get failed", zap.String("key", key), zap.Error(err))
		return nil, errors.NewCacheError("get failed", "get", key, err)
	}
	return decodeBundle(key, value)
}

func (s *RedisBundleStore) Save(ctx context.Context, bundle *domain.VideoDanmakuBundle) error {
	if err := bundle.Validate(); err != nil {
		return err
	}
	key := bundleKey(bundle.Video.BVID)

	data, err := json.Marshal(normalized(bundle))
	if err != nil {
		return errors.NewCacheError("marshal failed", "set", key, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		pipe.SAdd(ctx, constants.CacheKeys.BundleIndex, bundle.Video.BVID)
		return nil
	})
	if err != nil {
		s.logger.Error("Cache set failed", zap.String("key", key), zap.Error(err))
		return errors.NewCacheError("set failed", "set", key, err)
	}
	return nil
}

// LoadAll returns indexed bundles ordered by bvid. Index entries whose
// document has disappeared are skipped.
func (s *RedisBundleStore) LoadAll(ctx context.Context) ([]*domain.VideoDanmakuBundle, error) {
	indexKey := constants.CacheKeys.BundleIndex
	bvids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		s.logger.Error("Cache smembers failed", zap.String("key", indexKey), zap.Error(err))
		return nil, errors.NewCacheError("smembers failed", "smembers", indexKey, err)
	}
	if len(bvids) == 0 {
		return []*domain.VideoDanmakuBundle{}, nil
	}
	sort.Strings(bvids)

	keys := make([]string, len(bvids))
	for i, bvid := range bvids {
		keys[i] = bundleKey(bvid)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		s.logger.Error("Cache mget failed", zap.Int("count", len(keys)), zap.Error(err))
		return nil, errors.NewCacheError("mget failed", "mget", indexKey, err)
	}

	bundles := make([]*domain.VideoDanmakuBundle, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			s.logger.Warn("Indexed bundle missing", zap.String("bvid", bvids[i]))
			continue
		}
		bundle, err := decodeBundle(keys[i], []byte(raw))
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, bundle)
	}
	return bundles, nil
}

func (s *RedisBundleStore) Close() error {
	if err := s.client.Close(); err != nil {
		s.logger.Error("Failed to close Redis connection", zap.Error(err))
		return err
	}
	s.logger.Info("Redis disconnected")
	return nil
}

func decodeBundle(key string, data []byte) (*domain.VideoDanmakuBundle, error) {
	var bundle domain.VideoDanmakuBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, errors.NewCacheError("unmarshal failed", "get", key, err)
	}
	return normalized(&bundle), nil
}
