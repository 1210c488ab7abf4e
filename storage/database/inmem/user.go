package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/kbhujbal/edunexus/core"
	"github.com/kbhujbal/edunexus/core/user"
)

// userRecord is a stored user, without the derived course lists.
type userRecord struct {
	user.User
}

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) *userRepository {
	return &userRepository{db: db}
}

// load returns a copy of the record with its derived lists. The caller holds the lock.
func (repo *userRepository) load(rec *userRecord) user.User {
	usr := rec.User
	usr.Roles = append([]user.Role(nil), rec.Roles...)
	usr.EnrolledCourseIDs = members(repo.db.enrollments,
		func(m membership) bool { return m.userID == usr.ID },
		func(m membership) string { return m.courseID },
	)

	owned := make([]*courseRecord, 0)
	for _, c := range repo.db.courses {
		if c.OwnerID == usr.ID {
			owned = append(owned, c)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].seq < owned[j].seq
		}
		return owned[i].CreatedAt.Before(owned[j].CreatedAt)
	})
	usr.ManagedCourseIDs = make([]string, 0, len(owned))
	for _, c := range owned {
		usr.ManagedCourseIDs = append(usr.ManagedCourseIDs, c.ID)
	}
	return usr
}

func (repo *userRepository) emailTaken(email string, excludedIDs []string) bool {
	for _, rec := range repo.db.users {
		if rec.Email == email && !core.ContainsString(excludedIDs, rec.ID) {
			return true
		}
	}
	return false
}

func (repo *userRepository) CheckEmailUniqueness(_ context.Context, email string, excludedIDs ...string) error {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if repo.emailTaken(email, excludedIDs) {
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if repo.emailTaken(usr.Email, nil) {
		return user.User{}, user.ErrEmailExists
	}
	usr.ID = uuid.NewString()
	usr.EnrolledCourseIDs = nil
	usr.ManagedCourseIDs = nil
	rec := &userRecord{User: usr}
	repo.db.users[usr.ID] = rec
	return repo.load(rec), nil
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter) (user.User, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	switch {
	case filter.ID != "":
		if rec, ok := repo.db.users[filter.ID]; ok {
			return repo.load(rec), nil
		}
	case filter.Email != "":
		for _, rec := range repo.db.users {
			if rec.Email == filter.Email {
				return repo.load(rec), nil
			}
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) GetUsers(_ context.Context, ids []string) ([]user.User, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	users := make([]user.User, 0, len(ids))
	for _, id := range ids {
		if rec, ok := repo.db.users[id]; ok {
			users = append(users, repo.load(rec))
		}
	}
	return users, nil
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	rec, ok := repo.db.users[usr.ID]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	if repo.emailTaken(usr.Email, []string{usr.ID}) {
		return user.User{}, user.ErrEmailExists
	}

	rec.Email = usr.Email
	rec.FirstName = usr.FirstName
	rec.LastName = usr.LastName
	rec.Roles = append([]user.Role(nil), usr.Roles...)
	rec.PasswordHash = usr.PasswordHash
	rec.UpdatedAt = usr.UpdatedAt
	rec.LastLogin = usr.LastLogin
	return repo.load(rec), nil
}
