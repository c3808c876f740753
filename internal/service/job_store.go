package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/studio/internal/model"
)

const (
	jobKeyPrefix = "job:"
	jobTTL       = 24 * time.Hour

	jobUpdateRetries = 16
)

// JobStore persists generation job records
type JobStore interface {
	Save(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, jobID string) (*model.Job, error)
	// Update applies fn to the stored job atomically. If fn returns an
	// error nothing is written.
	Update(ctx context.Context, jobID string, fn func(job *model.Job) error) (*model.Job, error)
}

// RedisJobStore keeps jobs as JSON strings with a 24h TTL
type RedisJobStore struct {
	client *redis.Client
}

// NewRedisJobStore creates a Redis-backed job store
func NewRedisJobStore(client *redis.Client) *RedisJobStore {
	return &RedisJobStore{client: client}
}

func jobKey(jobID string) string { return jobKeyPrefix + jobID }

func (s *RedisJobStore) Save(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, jobKey(job.ID), data, jobTTL).Err()
}

func (s *RedisJobStore) Get(ctx context.Context, jobID string) (*model.Job, error) {
	return decodeJob(s.client.Get(ctx, jobKey(jobID)))
}

func (s *RedisJobStore) Update(ctx context.Context, jobID string, fn func(job *model.Job) error) (*model.Job, error) {
	key := jobKey(jobID)
	var updated *model.Job
	var fnErr error

	txf := func(tx *redis.Tx) error {
		job, err := decodeJob(tx.Get(ctx, key))
		if err != nil {
			fnErr = err
			return err
		}
		if err := fn(job); err != nil {
			fnErr = err
			return err
		}
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, jobTTL)
			return nil
		})
		if err == nil {
			updated = job
		}
		return err
	}

	for i := 0; i < jobUpdateRetries; i++ {
		fnErr = nil
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if fnErr != nil {
			return nil, fnErr
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("job %s: too much contention", jobID)
}

func decodeJob(cmd *redis.StringCmd) (*model.Job, error) {
	data, err := cmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}
