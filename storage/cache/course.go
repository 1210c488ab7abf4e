// Package cache decorates repositories with a Redis read-through cache.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/kbhujbal/edunexus/core"
	"github.com/kbhujbal/edunexus/core/course"
)

const courseKeyPrefix = "edunexus:course:"

func courseKey(id string) string {
	return courseKeyPrefix + id
}

// versionKey holds a counter bumped by every write to the course.
func versionKey(id string) string {
	return courseKeyPrefix + id + ":v"
}

// courseRepository caches single courses. Lists are always read from the wrapped repository.
// Every write bumps the course version and evicts it after reaching the wrapped repository.
// A reader only populates the cache if the version it saw before loading is still current,
// so a load that raced a write is never cached.
type courseRepository struct {
	course.Repository
	client *redis.Client
	ttl    time.Duration
	logger core.Logger
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(repo course.Repository, client *redis.Client, ttl time.Duration, logger core.Logger) *courseRepository {
	return &courseRepository{Repository: repo, client: client, ttl: ttl, logger: logger}
}

// NewClient connects to the configured Redis server.
func NewClient(ctx context.Context, conf core.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return client, nil
}

func (repo *courseRepository) warn(msg string, err error) {
	if repo.logger != nil {
		repo.logger.Warn(msg, err)
	}
}

func (repo *courseRepository) versionTTL() time.Duration {
	if ttl := 2 * repo.ttl; ttl > time.Minute {
		return ttl
	}
	return time.Minute
}

func (repo *courseRepository) evict(ctx context.Context, id string) {
	_, err := repo.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(id))
		pipe.Expire(ctx, versionKey(id), repo.versionTTL())
		pipe.Del(ctx, courseKey(id))
		return nil
	})
	if err != nil {
		repo.warn("evicting cached course", err)
	}
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (repo *courseRepository) version(ctx context.Context, rdb getter, id string) (int64, error) {
	v, err := rdb.Get(ctx, versionKey(id)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// store caches c unless its version moved since seen was read.
func (repo *courseRepository) store(ctx context.Context, c course.Course, seen int64) {
	data, err := json.Marshal(c)
	if err != nil {
		repo.warn("encoding course", err)
		return
	}
	err = repo.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := repo.version(ctx, tx, c.ID)
		if err != nil || current != seen {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, courseKey(c.ID), data, repo.ttl)
			return nil
		})
		return err
	}, versionKey(c.ID))
	if err != nil && err != redis.TxFailedErr {
		repo.warn("caching course", err)
	}
}

func (repo *courseRepository) GetCourse(ctx context.Context, id string) (course.Course, error) {
	data, err := repo.client.Get(ctx, courseKey(id)).Bytes()
	if err == nil {
		var c course.Course
		if err = json.Unmarshal(data, &c); err == nil {
			return c, nil
		}
		repo.warn("decoding cached course", err)
	} else if err != redis.Nil {
		repo.warn("reading cached course", err)
	}

	seen, verr := repo.version(ctx, repo.client, id)
	c, err := repo.Repository.GetCourse(ctx, id)
	if err != nil {
		return course.Course{}, err
	}
	if verr != nil {
		repo.warn("reading course version", verr)
		return c, nil
	}
	repo.store(ctx, c, seen)
	return c, nil
}

func (repo *courseRepository) UpdateCourse(ctx context.Context, id string, update func(c *course.Course) error) (course.Course, error) {
	c, err := repo.Repository.UpdateCourse(ctx, id, update)
	repo.evict(ctx, id)
	return c, err
}

func (repo *courseRepository) DeleteCourse(ctx context.Context, id string) error {
	err := repo.Repository.DeleteCourse(ctx, id)
	repo.evict(ctx, id)
	return err
}

func (repo *courseRepository) AddEnrollment(ctx context.Context, courseID, userID string, at time.Time) error {
	err := repo.Repository.AddEnrollment(ctx, courseID, userID, at)
	repo.evict(ctx, courseID)
	return err
}

func (repo *courseRepository) AddTeachingAssistant(ctx context.Context, courseID, userID string, at time.Time) error {
	err := repo.Repository.AddTeachingAssistant(ctx, courseID, userID, at)
	repo.evict(ctx, courseID)
	return err
}
