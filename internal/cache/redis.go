package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/emrgen/storysync/internal/compress"
	"github.com/emrgen/storysync/internal/model"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	indexVersionHash = "index:version"
	indexTTL         = time.Hour
)

func indexKey(db string) string {
	return "index:" + db
}

var _ IndexCache = (*RedisIndexCache)(nil)

// RedisIndexCache shares cached indexes between processes serving the same user.
type RedisIndexCache struct {
	client  *redis.Client
	encoder compress.Compress
}

// RedisOptions configures the redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisIndexCache(opts RedisOptions) *RedisIndexCache {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		Protocol: 2, // Connection protocol
	})

	return &RedisIndexCache{client: client, encoder: compress.NewGZip()}
}

// NewRedisIndexCacheWithClient wraps an existing client.
func NewRedisIndexCacheWithClient(client *redis.Client) *RedisIndexCache {
	return &RedisIndexCache{client: client, encoder: compress.NewGZip()}
}

// Ping checks the connection.
func (r *RedisIndexCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisIndexCache) GetIndex(ctx context.Context, db string) (*model.MetadataIndex, error) {
	res := r.client.Get(ctx, indexKey(db))
	if res.Err() != nil {
		if errors.Is(res.Err(), redis.Nil) {
			return nil, nil
		} else {
			return nil, res.Err()
		}
	}

	buf, err := res.Bytes()
	if err != nil {
		return nil, err
	}

	data, err := r.encoder.Decode(buf)
	if err != nil {
		logrus.Warnf("dropping undecodable cached index for %s: %v", db, err)
		return nil, r.DeleteIndex(ctx, db)
	}

	index := model.NewMetadataIndex()
	err = json.Unmarshal(data, index)
	if err != nil {
		return nil, err
	}

	return index, nil
}

func (r *RedisIndexCache) SetIndex(ctx context.Context, db string, index *model.MetadataIndex) error {
	marshal, err := json.Marshal(index)
	if err != nil {
		return err
	}

	encoded, err := r.encoder.Encode(marshal)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if err := p.Set(ctx, indexKey(db), encoded, indexTTL).Err(); err != nil {
			return err
		}

		if err := p.HSet(ctx, indexVersionHash, db, index.Rev).Err(); err != nil {
			return err
		}

		return nil
	})

	return err
}

func (r *RedisIndexCache) DeleteIndex(ctx context.Context, db string) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if err := p.Del(ctx, indexKey(db)).Err(); err != nil {
			return err
		}
		return p.HDel(ctx, indexVersionHash, db).Err()
	})
	return err
}

// Close closes the redis connection.
func (r *RedisIndexCache) Close() error {
	return r.client.Close()
}
