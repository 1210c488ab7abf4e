package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbhujbal/edunexus/core"
	"github.com/kbhujbal/edunexus/core/course"
	"github.com/kbhujbal/edunexus/core/user"
	"github.com/kbhujbal/edunexus/storage/database/inmem"
	"github.com/kbhujbal/edunexus/tests"
)

func setup(t *testing.T) (*courseRepository, course.Repository, user.Repository) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client, err := NewClient(context.Background(), core.RedisConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	base := inmemdb.NewCourseRepository(db)
	return NewCourseRepository(base, client, time.Minute, nil), base, usrRepo
}

func TestCourseRepository_GetCourse(t *testing.T) {
	repo, base, usrRepo := setup(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, usrRepo, "prof@x.com", "", user.RoleInstructor)
	c := testutil.CreateCourse(t, base, owner.ID, "Intro")
	t.Cleanup(func() { repo.evict(ctx, c.ID) })

	got, err := repo.GetCourse(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	exists, err := repo.client.Exists(ctx, courseKey(c.ID)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	// served from the cache
	require.NoError(t, base.DeleteCourse(ctx, c.ID))
	got, err = repo.GetCourse(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Intro", got.Title)

	_, err = repo.GetCourse(ctx, "unknown")
	assert.Equal(t, course.ErrNotFound, errors.Cause(err))
}

func TestCourseRepository_evictsOnWrite(t *testing.T) {
	repo, base, usrRepo := setup(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, usrRepo, "prof@x.com", "", user.RoleInstructor)
	student := testutil.CreateUser(t, usrRepo, "student@x.com", "", user.RoleStudent)
	c := testutil.CreateCourse(t, base, owner.ID, "Intro")
	t.Cleanup(func() { repo.evict(ctx, c.ID) })

	_, err := repo.GetCourse(ctx, c.ID)
	require.NoError(t, err)
	require.NoError(t, repo.AddEnrollment(ctx, c.ID, student.ID, time.Now()))

	got, err := repo.GetCourse(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{student.ID}, got.EnrolledStudentIDs)

	_, err = repo.UpdateCourse(ctx, c.ID, func(c *course.Course) error {
		c.Title = "Intro to Go"
		return nil
	})
	require.NoError(t, err)
	got, err = repo.GetCourse(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Intro to Go", got.Title)

	require.NoError(t, repo.DeleteCourse(ctx, c.ID))
	_, err = repo.GetCourse(ctx, c.ID)
	assert.Equal(t, course.ErrNotFound, errors.Cause(err))
}


// racingRepository runs onLoad once, between loading a course and returning it.
type racingRepository struct {
	course.Repository
	onLoad func()
}

func (repo *racingRepository) GetCourse(ctx context.Context, id string) (course.Course, error) {
	c, err := repo.Repository.GetCourse(ctx, id)
	if repo.onLoad != nil {
		fn := repo.onLoad
		repo.onLoad = nil
		fn()
	}
	return c, err
}

func TestCourseRepository_staleLoadNotCached(t *testing.T) {
	cached, base, usrRepo := setup(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, usrRepo, "prof@x.com", "", user.RoleInstructor)
	student := testutil.CreateUser(t, usrRepo, "student@x.com", "", user.RoleStudent)
	c := testutil.CreateCourse(t, base, owner.ID, "Intro")

	racing := &racingRepository{Repository: base}
	repo := NewCourseRepository(racing, cached.client, time.Minute, nil)
	t.Cleanup(func() { repo.evict(ctx, c.ID) })

	// an enrollment commits after the reader loaded the course but before it caches it
	racing.onLoad = func() {
		require.NoError(t, repo.AddEnrollment(ctx, c.ID, student.ID, time.Now()))
	}
	got, err := repo.GetCourse(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, got.EnrolledStudentIDs)

	exists, err := repo.client.Exists(ctx, courseKey(c.ID)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists, "a load that raced a write must not be cached")

	got, err = repo.GetCourse(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{student.ID}, got.EnrolledStudentIDs)
	exists, err = repo.client.Exists(ctx, courseKey(c.ID)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}
