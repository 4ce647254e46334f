package queue

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var _ IndexQueue = (*RedisQueue)(nil)

// RedisQueue keeps tasks in a redis list so they survive restarts.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client, key: IndexUpdateQueue}
}

func (q *RedisQueue) Publish(ctx context.Context, task *IndexTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, q.key, data).Err()
}

func (q *RedisQueue) Drain(ctx context.Context, max int) ([]*IndexTask, error) {
	if max <= 0 {
		max = 100
	}

	values, err := q.client.LPopCount(ctx, q.key, max).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	tasks := make([]*IndexTask, 0, len(values))
	for _, v := range values {
		task := &IndexTask{}
		if err := json.Unmarshal([]byte(v), task); err != nil {
			logrus.Errorf("dropping undecodable index task: %v", err)
			continue
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	return int(n), err
}
