package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/kbhujbal/edunexus/core"
	"github.com/kbhujbal/edunexus/core/course"
	"github.com/kbhujbal/edunexus/core/user"
	"github.com/kbhujbal/edunexus/storage/database"
)

// Config returns a TEST configuration with a fixed signing key.
func Config() *core.Config {
	conf := &core.Config{
		Env:                "TEST",
		Build:              "test",
		AppName:            "EduNexus",
		TestMode:           true,
		SecretKey:          "test-secret-key",
		JWTExpirationDelta: 24 * time.Hour,
		DefaultFromEmail:   "EduNexus <noreply@edunexus.test>",
		FrontendBaseURL:    "http://localhost:3000",
		CORSAllowedOrigins: []string{"http://localhost:3000"},
	}
	conf.Server.Host = "localhost"
	conf.Server.AuthRateLimit = 1000
	conf.Server.AuthRateBurst = 1000
	conf.Database.Engine = "memory"
	return conf
}

// OpenDB connects to the database named by TEST_DATABASE_URL, migrates and empties it.
// The test is skipped when the variable is unset.
func OpenDB(t *testing.T) *sqlx.DB {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := database.OpenURL(dbURL)
	require.NoError(t, err, "OpenDB()")
	require.NoError(t, database.Migrate(context.Background(), db.DB, "up"), "OpenDB()")
	t.Cleanup(func() { _ = db.Close() })

	ResetDB(t, db)
	return db
}

// ResetDB empties all tables.
func ResetDB(t *testing.T, db core.DBExecutor) {
	t.Helper()
	_, err := db.ExecContext(context.Background(),
		"TRUNCATE TABLE course_teaching_assistants, course_enrollments, courses, users CASCADE")
	require.NoError(t, err, "ResetDB()")
}

func CreateUser(t *testing.T, repo user.Repository, email, pwd string, roles ...user.Role) user.User {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Microsecond)
	usr := user.User{
		Email:     email,
		FirstName: "Test",
		LastName:  "User",
		Roles:     roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if pwd == "" {
		pwd = "Pa$$w0rd"
	}
	require.NoError(t, usr.SetPassword(pwd), "CreateUser()")

	usr, err := repo.CreateUser(context.Background(), usr)
	require.NoError(t, err, "CreateUser()")
	return usr
}

func CreateCourse(t *testing.T, repo course.Repository, ownerID, title string, createdAt ...time.Time) course.Course {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	tstamp = tstamp.Truncate(time.Microsecond)
	c := course.Course{
		Title:         title,
		Description:   title + " description",
		OwnerID:       ownerID,
		Modules:       []course.Module{},
		Announcements: []course.Announcement{},
		Discussions:   []course.Discussion{},
		CreatedAt:     tstamp,
		UpdatedAt:     tstamp,
	}
	c, err := repo.CreateCourse(context.Background(), c)
	require.NoError(t, err, "CreateCourse()")
	return c
}
