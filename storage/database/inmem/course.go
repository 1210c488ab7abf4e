package inmemdb

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/kbhujbal/edunexus/core"
	"github.com/kbhujbal/edunexus/core/course"
	"github.com/kbhujbal/edunexus/core/user"
)

// courseRecord is a stored course, without its member lists.
type courseRecord struct {
	course.Course
	seq int64
}

type courseRepository struct {
	db *DB
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(db *DB) *courseRepository {
	return &courseRepository{db: db}
}

// load returns a deep copy of the record with its member lists. The caller holds the lock.
func (repo *courseRepository) load(rec *courseRecord) (course.Course, error) {
	c, err := deepCopy(rec.Course)
	if err != nil {
		return course.Course{}, err
	}
	c.TeachingAssistantIDs = members(repo.db.assistants,
		func(m membership) bool { return m.courseID == c.ID },
		func(m membership) string { return m.userID },
	)
	c.EnrolledStudentIDs = members(repo.db.enrollments,
		func(m membership) bool { return m.courseID == c.ID },
		func(m membership) string { return m.userID },
	)
	return c, nil
}

// deepCopy detaches the nested documents from the stored ones, as a round trip to a database would.
func deepCopy(c course.Course) (course.Course, error) {
	buf, err := json.Marshal(c)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "copying course")
	}
	var cp course.Course
	if err = json.Unmarshal(buf, &cp); err != nil {
		return course.Course{}, errors.Wrap(err, "copying course")
	}
	if cp.Modules == nil {
		cp.Modules = []course.Module{}
	}
	if cp.Announcements == nil {
		cp.Announcements = []course.Announcement{}
	}
	if cp.Discussions == nil {
		cp.Discussions = []course.Discussion{}
	}
	return cp, nil
}

func (repo *courseRepository) CreateCourse(_ context.Context, c course.Course) (course.Course, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, ok := repo.db.users[c.OwnerID]; !ok {
		return course.Course{}, errors.New("inserting course: owner does not exist")
	}
	stored, err := deepCopy(c)
	if err != nil {
		return course.Course{}, err
	}
	stored.TeachingAssistantIDs = nil
	stored.EnrolledStudentIDs = nil
	rec := &courseRecord{Course: stored, seq: repo.db.nextSeq()}
	repo.db.courses[c.ID] = rec
	return repo.load(rec)
}

func (repo *courseRepository) QueryCourses(_ context.Context, ordering []core.DBOrdering) ([]course.Course, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	recs := make([]*courseRecord, 0, len(repo.db.courses))
	for _, rec := range repo.db.courses {
		recs = append(recs, rec)
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: false}}
	}
	sort.SliceStable(recs, func(i, j int) bool {
		for _, ord := range ordering {
			if cmp := compareCourses(recs[i], recs[j], ord.Field); cmp != 0 {
				if ord.Ascending {
					return cmp < 0
				}
				return cmp > 0
			}
		}
		return recs[i].seq < recs[j].seq
	})

	courses := make([]course.Course, 0, len(recs))
	for _, rec := range recs {
		c, err := repo.load(rec)
		if err != nil {
			return nil, err
		}
		courses = append(courses, c)
	}
	return courses, nil
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

func compareCourses(a, b *courseRecord, field string) int {
	switch field {
	case "title":
		return strings.Compare(a.Title, b.Title)
	case "created_at":
		return compareTimes(a.CreatedAt, b.CreatedAt)
	case "updated_at":
		return compareTimes(a.UpdatedAt, b.UpdatedAt)
	}
	return 0
}

func (repo *courseRepository) GetCourse(_ context.Context, id string) (course.Course, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	rec, ok := repo.db.courses[id]
	if !ok {
		return course.Course{}, course.ErrNotFound
	}
	return repo.load(rec)
}

func (repo *courseRepository) GetCourses(_ context.Context, ids []string) ([]course.Course, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	courses := make([]course.Course, 0, len(ids))
	for _, id := range ids {
		rec, ok := repo.db.courses[id]
		if !ok {
			continue
		}
		c, err := repo.load(rec)
		if err != nil {
			return nil, err
		}
		courses = append(courses, c)
	}
	return courses, nil
}

func (repo *courseRepository) UpdateCourse(_ context.Context, id string, update func(c *course.Course) error) (course.Course, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	rec, ok := repo.db.courses[id]
	if !ok {
		return course.Course{}, course.ErrNotFound
	}
	c, err := repo.load(rec)
	if err != nil {
		return course.Course{}, err
	}
	if err = update(&c); err != nil {
		return course.Course{}, err
	}

	stored, err := deepCopy(c)
	if err != nil {
		return course.Course{}, err
	}
	// identity and membership are not updatable
	stored.ID = rec.ID
	stored.OwnerID = rec.OwnerID
	stored.CreatedAt = rec.CreatedAt
	stored.TeachingAssistantIDs = nil
	stored.EnrolledStudentIDs = nil
	rec.Course = stored
	return repo.load(rec)
}

func (repo *courseRepository) DeleteCourse(_ context.Context, id string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.courses[id]; !ok {
		return course.ErrNotFound
	}
	delete(repo.db.courses, id)
	repo.db.enrollments = dropCourse(repo.db.enrollments, id)
	repo.db.assistants = dropCourse(repo.db.assistants, id)
	return nil
}

func (repo *courseRepository) addMember(list *[]membership, courseID, userID string, at time.Time, errExists error) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.courses[courseID]; !ok {
		return course.ErrNotFound
	}
	if _, ok := repo.db.users[userID]; !ok {
		return user.ErrNotFound
	}
	if hasMember(*list, courseID, userID) {
		return errExists
	}
	*list = append(*list, membership{courseID: courseID, userID: userID, at: at.UTC(), seq: repo.db.nextSeq()})
	return nil
}

func (repo *courseRepository) AddEnrollment(_ context.Context, courseID, userID string, at time.Time) error {
	return repo.addMember(&repo.db.enrollments, courseID, userID, at, course.ErrAlreadyEnrolled)
}

func (repo *courseRepository) AddTeachingAssistant(_ context.Context, courseID, userID string, at time.Time) error {
	return repo.addMember(&repo.db.assistants, courseID, userID, at, course.ErrAlreadyAssistant)
}
