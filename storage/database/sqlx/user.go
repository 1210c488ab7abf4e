package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/kbhujbal/edunexus/core"
	"github.com/kbhujbal/edunexus/core/user"
)

const userSelect = `
SELECT u.id, u.email, u.first_name, u.last_name, u.roles, u.password_hash, u.created_at, u.updated_at, u.last_login,
	ARRAY(
		SELECT e.course_id::text FROM course_enrollments e WHERE e.user_id = u.id ORDER BY e.enrolled_at, e.course_id
	) AS enrolled_course_ids,
	ARRAY(
		SELECT c.id::text FROM courses c WHERE c.owner_id = u.id ORDER BY c.created_at, c.id
	) AS managed_course_ids
FROM users u`

type userRow struct {
	ID                string         `db:"id"`
	Email             string         `db:"email"`
	FirstName         string         `db:"first_name"`
	LastName          string         `db:"last_name"`
	Roles             pq.StringArray `db:"roles"`
	PasswordHash      []byte         `db:"password_hash"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
	LastLogin         null.Time      `db:"last_login"`
	EnrolledCourseIDs pq.StringArray `db:"enrolled_course_ids"`
	ManagedCourseIDs  pq.StringArray `db:"managed_course_ids"`
}

func (row userRow) toUser() user.User {
	roles := make([]user.Role, 0, len(row.Roles))
	for _, r := range row.Roles {
		roles = append(roles, user.Role(r))
	}
	lastLogin := row.LastLogin
	if lastLogin.Valid {
		lastLogin.Time = lastLogin.Time.UTC()
	}
	return user.User{
		ID:                row.ID,
		Email:             row.Email,
		FirstName:         row.FirstName,
		LastName:          row.LastName,
		Roles:             roles,
		PasswordHash:      row.PasswordHash,
		EnrolledCourseIDs: stringSlice(row.EnrolledCourseIDs),
		ManagedCourseIDs:  stringSlice(row.ManagedCourseIDs),
		CreatedAt:         row.CreatedAt.UTC(),
		UpdatedAt:         row.UpdatedAt.UTC(),
		LastLogin:         lastLogin,
	}
}

func rolesArray(roles []user.Role) pq.StringArray {
	arr := make(pq.StringArray, 0, len(roles))
	for _, r := range roles {
		arr = append(arr, string(r))
	}
	return arr
}

type userRepository struct {
	db core.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db core.DB) *userRepository {
	return &userRepository{db: db}
}

// trapNoRowsErr maps psql "no rows" err to user.ErrNotFound
func (repo userRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo userRepository) CheckEmailUniqueness(ctx context.Context, email string, excludedIDs ...string) error {
	var exists bool
	q := `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1 AND NOT (id = ANY($2::uuid[])))`
	if err := repo.db.GetContext(ctx, &exists, q, email, pq.Array(validUUIDs(excludedIDs))); err != nil {
		return errors.Wrap(err, "checking email uniqueness")
	}
	if exists {
		return user.ErrEmailExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.NewString()
	q := `
	INSERT INTO users (id, email, first_name, last_name, roles, password_hash, created_at, updated_at, last_login)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := repo.db.ExecContext(ctx, q,
		usr.ID, usr.Email, usr.FirstName, usr.LastName, rolesArray(usr.Roles), usr.PasswordHash,
		usr.CreatedAt.UTC(), usr.UpdatedAt.UTC(), usr.LastLogin,
	)
	if err != nil {
		if pqCode(err) == uniqueViolation {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return repo.GetUser(ctx, user.GetFilter{ID: usr.ID})
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	var (
		row userRow
		err error
	)
	switch {
	case filter.ID != "":
		if _, err = uuid.Parse(filter.ID); err != nil {
			return user.User{}, user.ErrNotFound
		}
		err = repo.db.GetContext(ctx, &row, userSelect+` WHERE u.id = $1`, filter.ID)
	case filter.Email != "":
		err = repo.db.GetContext(ctx, &row, userSelect+` WHERE u.email = $1`, filter.Email)
	default:
		return user.User{}, user.ErrNotFound
	}
	if err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "getting user")
	}
	return row.toUser(), nil
}

func (repo userRepository) GetUsers(ctx context.Context, ids []string) ([]user.User, error) {
	ids = validUUIDs(ids)
	if len(ids) == 0 {
		return []user.User{}, nil
	}

	var rows []userRow
	if err := repo.db.SelectContext(ctx, &rows, userSelect+` WHERE u.id = ANY($1::uuid[])`, pq.Array(ids)); err != nil {
		return nil, errors.Wrap(err, "getting users")
	}

	byID := make(map[string]user.User, len(rows))
	for _, row := range rows {
		byID[row.ID] = row.toUser()
	}
	users := make([]user.User, 0, len(rows))
	for _, id := range ids {
		if usr, ok := byID[id]; ok {
			users = append(users, usr)
		}
	}
	return users, nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	q := `
	UPDATE users
	SET email = $2, first_name = $3, last_name = $4, roles = $5, password_hash = $6, updated_at = $7, last_login = $8
	WHERE id = $1`
	res, err := repo.db.ExecContext(ctx, q,
		usr.ID, usr.Email, usr.FirstName, usr.LastName, rolesArray(usr.Roles), usr.PasswordHash,
		usr.UpdatedAt.UTC(), usr.LastLogin,
	)
	if err != nil {
		if pqCode(err) == uniqueViolation {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	} else if n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.GetUser(ctx, user.GetFilter{ID: usr.ID})
}
