package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/kbhujbal/edunexus/core"
	"github.com/kbhujbal/edunexus/core/course"
	"github.com/kbhujbal/edunexus/core/user"
)

const courseSelect = `
SELECT c.id, c.title, c.description, c.owner_id, c.modules, c.announcements, c.discussions, c.created_at, c.updated_at,
	ARRAY(
		SELECT a.user_id::text FROM course_teaching_assistants a WHERE a.course_id = c.id ORDER BY a.assigned_at, a.user_id
	) AS teaching_assistant_ids,
	ARRAY(
		SELECT e.user_id::text FROM course_enrollments e WHERE e.course_id = c.id ORDER BY e.enrolled_at, e.user_id
	) AS enrolled_student_ids
FROM courses c`

// orderingColumns whitelists the orderable course fields.
var orderingColumns = map[string]string{
	"title":      "c.title",
	"created_at": "c.created_at",
	"updated_at": "c.updated_at",
}

type courseRow struct {
	ID                   string         `db:"id"`
	Title                string         `db:"title"`
	Description          string         `db:"description"`
	OwnerID              string         `db:"owner_id"`
	Modules              types.JSONText `db:"modules"`
	Announcements        types.JSONText `db:"announcements"`
	Discussions          types.JSONText `db:"discussions"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
	TeachingAssistantIDs pq.StringArray `db:"teaching_assistant_ids"`
	EnrolledStudentIDs   pq.StringArray `db:"enrolled_student_ids"`
}

func (row courseRow) toCourse() (course.Course, error) {
	c := course.Course{
		ID:                   row.ID,
		Title:                row.Title,
		Description:          row.Description,
		OwnerID:              row.OwnerID,
		TeachingAssistantIDs: stringSlice(row.TeachingAssistantIDs),
		EnrolledStudentIDs:   stringSlice(row.EnrolledStudentIDs),
		Modules:              []course.Module{},
		Announcements:        []course.Announcement{},
		Discussions:          []course.Discussion{},
		CreatedAt:            row.CreatedAt.UTC(),
		UpdatedAt:            row.UpdatedAt.UTC(),
	}
	if err := row.Modules.Unmarshal(&c.Modules); err != nil {
		return course.Course{}, errors.Wrap(err, "decoding modules")
	}
	if err := row.Announcements.Unmarshal(&c.Announcements); err != nil {
		return course.Course{}, errors.Wrap(err, "decoding announcements")
	}
	if err := row.Discussions.Unmarshal(&c.Discussions); err != nil {
		return course.Course{}, errors.Wrap(err, "decoding discussions")
	}
	return c, nil
}

// documents encodes the JSONB columns of c.
func documents(c course.Course) (modules, announcements, discussions types.JSONText, err error) {
	if modules, err = json.Marshal(nonNil(c.Modules)); err != nil {
		return nil, nil, nil, errors.Wrap(err, "encoding modules")
	}
	if announcements, err = json.Marshal(nonNil(c.Announcements)); err != nil {
		return nil, nil, nil, errors.Wrap(err, "encoding announcements")
	}
	if discussions, err = json.Marshal(nonNil(c.Discussions)); err != nil {
		return nil, nil, nil, errors.Wrap(err, "encoding discussions")
	}
	return modules, announcements, discussions, nil
}

// nonNil keeps empty documents encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

type courseRepository struct {
	db core.DB
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(db core.DB) *courseRepository {
	return &courseRepository{db: db}
}

func (repo courseRepository) get(ctx context.Context, exec core.DBExecutor, id string) (course.Course, error) {
	if _, err := uuid.Parse(id); err != nil {
		return course.Course{}, course.ErrNotFound
	}
	var row courseRow
	if err := exec.GetContext(ctx, &row, courseSelect+` WHERE c.id = $1`, id); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return course.Course{}, course.ErrNotFound
		}
		return course.Course{}, errors.Wrap(err, "getting course")
	}
	return row.toCourse()
}

func (repo courseRepository) CreateCourse(ctx context.Context, c course.Course) (course.Course, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	modules, announcements, discussions, err := documents(c)
	if err != nil {
		return course.Course{}, err
	}

	q := `
	INSERT INTO courses (id, title, description, owner_id, modules, announcements, discussions, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = repo.db.ExecContext(ctx, q,
		c.ID, c.Title, c.Description, c.OwnerID, modules, announcements, discussions,
		c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	return repo.get(ctx, repo.db, c.ID)
}

func (repo courseRepository) QueryCourses(ctx context.Context, ordering []core.DBOrdering) ([]course.Course, error) {
	orderList := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		if col, ok := orderingColumns[ord.Field]; ok {
			orderList = append(orderList, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
		}
	}
	if len(orderList) == 0 {
		orderList = append(orderList, "c.created_at DESC")
	}
	orderList = append(orderList, "c.id ASC")

	var rows []courseRow
	if err := repo.db.SelectContext(ctx, &rows, courseSelect+` ORDER BY `+strings.Join(orderList, ", ")); err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}

	courses := make([]course.Course, 0, len(rows))
	for _, row := range rows {
		c, err := row.toCourse()
		if err != nil {
			return nil, err
		}
		courses = append(courses, c)
	}
	return courses, nil
}

func (repo courseRepository) GetCourse(ctx context.Context, id string) (course.Course, error) {
	return repo.get(ctx, repo.db, id)
}

func (repo courseRepository) GetCourses(ctx context.Context, ids []string) ([]course.Course, error) {
	ids = validUUIDs(ids)
	if len(ids) == 0 {
		return []course.Course{}, nil
	}

	var rows []courseRow
	if err := repo.db.SelectContext(ctx, &rows, courseSelect+` WHERE c.id = ANY($1::uuid[])`, pq.Array(ids)); err != nil {
		return nil, errors.Wrap(err, "getting courses")
	}

	byID := make(map[string]course.Course, len(rows))
	for _, row := range rows {
		c, err := row.toCourse()
		if err != nil {
			return nil, err
		}
		byID[c.ID] = c
	}
	courses := make([]course.Course, 0, len(rows))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			courses = append(courses, c)
		}
	}
	return courses, nil
}

// UpdateCourse locks the course row for the duration of update.
func (repo courseRepository) UpdateCourse(ctx context.Context, id string, update func(c *course.Course) error) (course.Course, error) {
	if _, err := uuid.Parse(id); err != nil {
		return course.Course{}, course.ErrNotFound
	}

	var updated course.Course
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		var locked string
		if err := tx.GetContext(ctx, &locked, `SELECT id FROM courses WHERE id = $1 FOR UPDATE`, id); err != nil {
			if err == sql.ErrNoRows {
				return course.ErrNotFound
			}
			return errors.Wrap(err, "locking course")
		}

		c, err := repo.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if err = update(&c); err != nil {
			return err
		}

		modules, announcements, discussions, err := documents(c)
		if err != nil {
			return err
		}
		q := `
		UPDATE courses
		SET title = $2, description = $3, modules = $4, announcements = $5, discussions = $6, updated_at = $7
		WHERE id = $1`
		if _, err = tx.ExecContext(ctx, q, id, c.Title, c.Description, modules, announcements, discussions, c.UpdatedAt.UTC()); err != nil {
			return errors.Wrap(err, "updating course")
		}
		updated = c
		return nil
	})
	if err != nil {
		return course.Course{}, err
	}
	return updated, nil
}

func (repo courseRepository) DeleteCourse(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return course.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting course")
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "deleting course")
	} else if n == 0 {
		return course.ErrNotFound
	}
	return nil
}

// addMember inserts a membership row; the (course_id, user_id) primary key turns a duplicate into errExists.
func (repo courseRepository) addMember(ctx context.Context, q, courseID, userID string, at time.Time, errExists error) error {
	res, err := repo.db.ExecContext(ctx, q, courseID, userID, at.UTC())
	if err != nil {
		if pqCode(err) == foreignKeyViolation {
			return memberFKError(err)
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errExists
	}
	return nil
}

// memberFKError tells a missing user from a missing course by the violated constraint.
func memberFKError(err error) error {
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok && strings.HasSuffix(pqErr.Constraint, "_user_id_fkey") {
		return user.ErrNotFound
	}
	return course.ErrNotFound
}

func (repo courseRepository) AddEnrollment(ctx context.Context, courseID, userID string, at time.Time) error {
	q := `
	INSERT INTO course_enrollments (course_id, user_id, enrolled_at) VALUES ($1, $2, $3)
	ON CONFLICT (course_id, user_id) DO NOTHING`
	return errors.Wrap(repo.addMember(ctx, q, courseID, userID, at, course.ErrAlreadyEnrolled), "inserting enrollment")
}

func (repo courseRepository) AddTeachingAssistant(ctx context.Context, courseID, userID string, at time.Time) error {
	q := `
	INSERT INTO course_teaching_assistants (course_id, user_id, assigned_at) VALUES ($1, $2, $3)
	ON CONFLICT (course_id, user_id) DO NOTHING`
	return errors.Wrap(repo.addMember(ctx, q, courseID, userID, at, course.ErrAlreadyAssistant), "inserting teaching assistant")
}
