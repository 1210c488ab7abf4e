package echoapi_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/kbhujbal/edunexus/apps/api/echo"
	"github.com/kbhujbal/edunexus/core"
	"github.com/kbhujbal/edunexus/core/course"
	"github.com/kbhujbal/edunexus/core/token"
	"github.com/kbhujbal/edunexus/core/user"
	"github.com/kbhujbal/edunexus/tests"
)

func Test_userApi_register(t *testing.T) {
	app := setup(t)
	testutil.CreateUser(t, app.usrRepo, "taken@test.cd", "")

	newUser := func(email, pwd, role string) []byte {
		return marchallObj(t, map[string]string{
			"email":      email,
			"password":   pwd,
			"first_name": "Jane",
			"last_name":  "Doe",
			"role":       role,
		})
	}

	tests := []httpTest{
		{
			name: "required fields", body: []byte(`{}`), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"email":      "this field is required",
				"password":   "this field is required",
				"first_name": "this field is required",
				"last_name":  "this field is required",
			}),
		},
		{
			name: "blank names", body: []byte(`{"email": "jane@test.cd", "password": "S3cure!pass", "first_name": "  ", "last_name": "Doe"}`),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"first_name": "this field is required"}),
		},
		{
			name: "admin role", body: newUser("jane@test.cd", "S3cure!pass", "ADMIN"), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"role": "role must be one of STUDENT or INSTRUCTOR"}),
		},
		{
			name: "short password", body: newUser("jane@test.cd", "abc", ""), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"password": "password must be at least 6 characters in length"}),
		},
		{
			name: "password like name", body: newUser("jane@test.cd", "JaneDoe", ""), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"password": "password cannot be similar to user attributes"}),
		},
		{
			name: "duplicate email", body: newUser("Taken@Test.cd", "S3cure!pass", ""), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "a user with this email already exists"}),
		},
		{name: "malformed JSON", body: []byte(`{"email": `), wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodPost
			tt.path = "/api/auth/register"
			checkCodeAndData(t, tt, app.serve(tt))
		})
	}

	t.Run("success", func(t *testing.T) {
		rec := app.serve(httpTest{method: http.MethodPost, path: "/api/auth/register", body: newUser(" Jane@Test.cd ", "S3cure!pass", "instructor")})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp AuthResponse
		unmarshal(t, rec, &resp)
		assert.Equal(t, "jane@test.cd", resp.User.Email)
		assert.Equal(t, []user.Role{user.RoleInstructor}, resp.User.Roles)
		assert.Empty(t, resp.User.EnrolledCourseIDs)
		assert.NotContains(t, rec.Body.String(), "password")

		subject, err := app.tokens.Verify(resp.Token)
		require.NoError(t, err)
		assert.Equal(t, resp.User.ID, subject)
		assert.WithinDuration(t, time.Now().Add(24*time.Hour), resp.ExpiresAt, time.Minute)

		sent := app.mailSvc.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, "jane@test.cd", sent[0].To[0].Address)
	})
}

func Test_userApi_login(t *testing.T) {
	app := setup(t)
	usr := testutil.CreateUser(t, app.usrRepo, "jane@test.cd", "S3cure!pass", user.RoleStudent)

	invalidCreds := marchallObj(t, httpErr{Error: "invalid credentials"})
	tests := []httpTest{
		{
			name: "required fields", body: []byte(`{}`), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"email": "this field is required", "password": "this field is required"}),
		},
		{
			name: "wrong password", body: []byte(`{"email": "jane@test.cd", "password": "nope"}`),
			wantCode: http.StatusBadRequest, wantData: invalidCreds,
		},
		{
			name: "unknown email", body: []byte(`{"email": "who@test.cd", "password": "S3cure!pass"}`),
			wantCode: http.StatusBadRequest, wantData: invalidCreds,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodPost
			tt.path = "/api/auth/login"
			checkCodeAndData(t, tt, app.serve(tt))
		})
	}

	t.Run("success", func(t *testing.T) {
		rec := app.serve(httpTest{
			method: http.MethodPost, path: "/api/auth/login",
			body: []byte(`{"email": "JANE@test.cd", "password": "S3cure!pass"}`),
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp AuthResponse
		unmarshal(t, rec, &resp)
		assert.Equal(t, usr.ID, resp.User.ID)
		assert.True(t, resp.User.LastLogin.Valid)

		// the token opens authenticated endpoints
		rec = app.serve(httpTest{path: "/api/users/profile", token: resp.Token})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func Test_userApi_authRateLimit(t *testing.T) {
	app := setup(t, func(conf *core.Config) {
		conf.Server.AuthRateLimit = 0.001
		conf.Server.AuthRateBurst = 1
	})

	tt := httpTest{method: http.MethodPost, path: "/api/auth/login", body: []byte(`{"email": "jane@test.cd", "password": "nope"}`)}
	assert.Equal(t, http.StatusBadRequest, app.serve(tt).Code)

	tt.wantCode = http.StatusTooManyRequests
	tt.wantData = marchallObj(t, httpErr{Error: "too many requests, slow down"})
	checkCodeAndData(t, tt, app.serve(tt))
}

func Test_userApi_profile(t *testing.T) {
	app := setup(t)
	usr := testutil.CreateUser(t, app.usrRepo, "jane@test.cd", "", user.RoleStudent)

	expired, err := token.NewService(app.conf.SecretKey, app.conf.AppName, 24*time.Hour)
	require.NoError(t, err)
	expired.SetClock(func() time.Time { return time.Now().Add(-24*time.Hour - time.Minute) })
	expiredToken, _, err := expired.Issue(usr.ID)
	require.NoError(t, err)

	forged, err := token.NewService("another-key", app.conf.AppName, 24*time.Hour)
	require.NoError(t, err)
	forgedToken, _, err := forged.Issue(usr.ID)
	require.NoError(t, err)

	ghostToken, _, err := app.tokens.Issue("3f1c6f7e-4d3c-4a8e-9b47-000000000000")
	require.NoError(t, err)

	// course references come back with title and description
	prof := testutil.CreateUser(t, app.usrRepo, "prof@test.cd", "", user.RoleInstructor)
	c := testutil.CreateCourse(t, app.courseRepo, prof.ID, "Intro to Go")
	require.NoError(t, app.courseRepo.AddEnrollment(context.Background(), c.ID, usr.ID, time.Now()))
	usr, err = app.usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
	require.NoError(t, err)
	prof, err = app.usrRepo.GetUser(context.Background(), user.GetFilter{ID: prof.ID})
	require.NoError(t, err)
	summary := course.Summary{ID: c.ID, Title: "Intro to Go", Description: c.Description}

	tests := []httpTest{
		{name: "no token", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "garbage token", token: "garbage", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "invalid token"})},
		{name: "forged token", token: forgedToken, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "invalid token"})},
		{name: "expired token", token: expiredToken, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "token expired"})},
		{name: "deleted user", token: ghostToken, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "user not authenticated"})},
		{
			name: "student", token: app.getToken(t, usr), wantCode: http.StatusOK,
			wantData: marchallObj(t, ProfileResponse{User: usr, EnrolledCourses: []course.Summary{summary}, ManagedCourses: []course.Summary{}}),
		},
		{
			name: "instructor", token: app.getToken(t, prof), wantCode: http.StatusOK,
			wantData: marchallObj(t, ProfileResponse{User: prof, EnrolledCourses: []course.Summary{}, ManagedCourses: []course.Summary{summary}}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.path = "/api/users/profile"
			checkCodeAndData(t, tt, app.serve(tt))
		})
	}
}

func Test_userApi_updateProfile(t *testing.T) {
	app := setup(t)
	usr := testutil.CreateUser(t, app.usrRepo, "jane@test.cd", "", user.RoleStudent)
	testutil.CreateUser(t, app.usrRepo, "taken@test.cd", "")
	tkn := app.getToken(t, usr)

	tests := []httpTest{
		{name: "auth required", body: []byte(`{"first_name": "Janet"}`), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "invalid email", body: []byte(`{"email": "nope"}`), token: tkn,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"email": "email must be a valid email address"}),
		},
		{
			name: "email taken", body: []byte(`{"email": "taken@test.cd"}`), token: tkn,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "a user with this email already exists"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodPut
			tt.path = "/api/users/profile"
			checkCodeAndData(t, tt, app.serve(tt))
		})
	}

	t.Run("success", func(t *testing.T) {
		rec := app.serve(httpTest{method: http.MethodPut, path: "/api/users/profile", token: tkn, body: []byte(`{"first_name": " Janet "}`)})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var got user.User
		unmarshal(t, rec, &got)
		assert.Equal(t, "Janet", got.FirstName)
		assert.Equal(t, usr.LastName, got.LastName)
		assert.Equal(t, usr.Email, got.Email)
	})
}

func Test_userApi_changePassword(t *testing.T) {
	app := setup(t)
	usr := testutil.CreateUser(t, app.usrRepo, "jane@test.cd", "S3cure!pass", user.RoleStudent)
	tkn := app.getToken(t, usr)

	tests := []httpTest{
		{
			name: "wrong current password", body: []byte(`{"current_password": "nope", "new_password": "N3w!secret"}`), token: tkn,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"current_password": "current password is incorrect"}),
		},
		{
			name: "short new password", body: []byte(`{"current_password": "S3cure!pass", "new_password": "abc"}`), token: tkn,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"new_password": "new_password must be at least 6 characters in length"}),
		},
		{
			name: "new password too similar to email", body: []byte(`{"current_password": "S3cure!pass", "new_password": "jane@test.cd"}`), token: tkn,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"new_password": "password cannot be similar to user attributes"}),
		},
		{
			name: "success", body: []byte(`{"current_password": "S3cure!pass", "new_password": "N3w!secret"}`), token: tkn,
			wantCode: http.StatusOK, wantData: marchallObj(t, MessageResponse{Message: "Password updated"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodPut
			tt.path = "/api/users/password"
			checkCodeAndData(t, tt, app.serve(tt))
		})
	}

	got, err := app.usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
	require.NoError(t, err)
	assert.NoError(t, got.CheckPassword("N3w!secret"))
}
