package echoapi_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/kbhujbal/edunexus/apps/api/echo"
	"github.com/kbhujbal/edunexus/core/course"
	"github.com/kbhujbal/edunexus/core/user"
	"github.com/kbhujbal/edunexus/services/export"
	"github.com/kbhujbal/edunexus/tests"
)

const unknownCourseID = "7d0e0b43-5c7c-4b8a-a7e0-5c1f6c6f0000"

type courseFixture struct {
	*testApp
	instructor, student, stranger user.User
	course                        course.Course
}

func setupCourse(t *testing.T) *courseFixture {
	app := setup(t)
	f := &courseFixture{
		testApp:    app,
		instructor: testutil.CreateUser(t, app.usrRepo, "prof@test.cd", "", user.RoleInstructor),
		student:    testutil.CreateUser(t, app.usrRepo, "student@test.cd", "", user.RoleStudent),
		stranger:   testutil.CreateUser(t, app.usrRepo, "other@test.cd", "", user.RoleInstructor),
	}
	f.course = testutil.CreateCourse(t, app.courseRepo, f.instructor.ID, "Intro to Go")
	return f
}

func coursePath(id string, rest ...string) string {
	return "/api/courses/" + id + strings.Join(rest, "")
}

func Test_courseApi_query(t *testing.T) {
	app := setup(t)
	owner := testutil.CreateUser(t, app.usrRepo, "prof@test.cd", "", user.RoleInstructor)
	now := time.Now()
	c1 := testutil.CreateCourse(t, app.courseRepo, owner.ID, "Beta", now.Add(-2*time.Hour))
	c2 := testutil.CreateCourse(t, app.courseRepo, owner.ID, "Alpha", now.Add(-1*time.Hour))
	c3 := testutil.CreateCourse(t, app.courseRepo, owner.ID, "Gamma", now)
	// listed courses carry their owner, without the enrolled students
	ownerInfo := owner.Info()
	listed := func(id string) course.Detail {
		return course.Detail{Course: app.reloadCourse(t, id), Owner: &ownerInfo, TeachingAssistants: []user.Info{}}
	}
	d1, d2, d3 := listed(c1.ID), listed(c2.ID), listed(c3.ID)

	tests := []httpTest{
		{name: "newest first", path: "/api/courses", wantCode: http.StatusOK, wantData: marchallList(t, d3, d2, d1)},
		{name: "title", path: "/api/courses?ordering=title", wantCode: http.StatusOK, wantData: marchallList(t, d2, d1, d3)},
		{name: "-title", path: "/api/courses?ordering=-title", wantCode: http.StatusOK, wantData: marchallList(t, d3, d1, d2)},
		{name: "created_at", path: "/api/courses?ordering=created_at", wantCode: http.StatusOK, wantData: marchallList(t, d1, d2, d3)},
		{
			name: "unknown field", path: "/api/courses?ordering=title,-password", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"ordering": "cannot order by password; allowed: title, created_at, updated_at"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, app.serve(tt))
		})
	}
}

func Test_courseApi_retrieve(t *testing.T) {
	f := setupCourse(t)
	ctx := context.Background()
	notFound := marchallObj(t, httpErr{Error: "course not found"})

	ta := testutil.CreateUser(t, f.usrRepo, "ta@test.cd", "", user.RoleStudent)
	require.NoError(t, f.courseRepo.AddTeachingAssistant(ctx, f.course.ID, ta.ID, time.Now()))
	require.NoError(t, f.courseRepo.AddEnrollment(ctx, f.course.ID, f.student.ID, time.Now()))

	ownerInfo := f.instructor.Info()
	want := course.Detail{
		Course:             f.reloadCourse(t, f.course.ID),
		Owner:              &ownerInfo,
		TeachingAssistants: []user.Info{ta.Info()},
		EnrolledStudents:   []user.Info{f.student.Info()},
	}

	tests := []httpTest{
		{name: "ok", path: coursePath(f.course.ID), wantCode: http.StatusOK, wantData: marchallObj(t, want)},
		{name: "unknown", path: coursePath(unknownCourseID), wantCode: http.StatusNotFound, wantData: notFound},
		{name: "malformed id", path: coursePath("intro-to-go"), wantCode: http.StatusNotFound, wantData: notFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, f.serve(tt))
		})
	}
}

func Test_courseApi_create(t *testing.T) {
	f := setupCourse(t)

	tests := []httpTest{
		{name: "auth required", body: []byte(`{}`), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "instructor required", body: []byte(`{"title": "Mine", "description": "desc"}`), token: f.getToken(t, f.student),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "required fields", body: []byte(`{}`), token: f.getToken(t, f.instructor), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"title": "this field is required", "description": "this field is required"}),
		},
		{
			name: "unknown content type",
			body: []byte(`{"title": "T", "description": "D", "modules": [
				{"title": "W1", "description": "d", "contents": [{"title": "c", "type": "PODCAST", "content": "x"}]}
			]}`),
			token: f.getToken(t, f.instructor), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"type": "type must be one of VIDEO, DOCUMENT, ASSIGNMENT, QUIZ or REFERENCE_BOOK"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodPost
			tt.path = "/api/courses"
			checkCodeAndData(t, tt, f.serve(tt))
		})
	}

	t.Run("success", func(t *testing.T) {
		rec := f.serve(httpTest{
			method: http.MethodPost, path: "/api/courses", token: f.getToken(t, f.instructor),
			body: []byte(`{"title": " Concurrency ", "description": "<p>Goroutines</p><script>alert(1)</script>", "modules": [
				{"title": "W1", "description": "d", "due_date": "2030-01-02T03:04:05+02:00", "contents": [{"title": "c", "type": "VIDEO", "content": "x"}]}
			]}`),
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var got course.Course
		unmarshal(t, rec, &got)
		assert.Equal(t, "Concurrency", got.Title)
		assert.Equal(t, "<p>Goroutines</p>", got.Description)
		assert.Equal(t, f.instructor.ID, got.OwnerID)
		require.Len(t, got.Modules, 1)
		assert.True(t, got.Modules[0].Contents[0].Required)
		assert.Equal(t, time.Date(2030, 1, 2, 1, 4, 5, 0, time.UTC), got.Modules[0].DueDate.Time.UTC())

		owner, err := f.usrRepo.GetUser(context.Background(), user.GetFilter{ID: f.instructor.ID})
		require.NoError(t, err)
		assert.Contains(t, owner.ManagedCourseIDs, got.ID)
	})
}

func Test_courseApi_update(t *testing.T) {
	f := setupCourse(t)
	before := f.reloadCourse(t, f.course.ID)

	tests := []httpTest{
		{name: "auth required", path: coursePath(f.course.ID), body: []byte(`{"title": "X"}`), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "not owner", path: coursePath(f.course.ID), body: []byte(`{"title": "Hijacked"}`), token: f.getToken(t, f.stranger),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "student", path: coursePath(f.course.ID), body: []byte(`{"title": "Hijacked"}`), token: f.getToken(t, f.student),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "blank title", path: coursePath(f.course.ID), body: []byte(`{"title": "   "}`), token: f.getToken(t, f.instructor),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"title": "this field cannot be blank"}),
		},
		{
			name: "unknown course", path: coursePath(unknownCourseID), body: []byte(`{"title": "X"}`), token: f.getToken(t, f.instructor),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "course not found"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodPut
			checkCodeAndData(t, tt, f.serve(tt))
		})
	}
	assert.Equal(t, before, f.reloadCourse(t, f.course.ID), "rejected updates must not change the course")

	t.Run("owner", func(t *testing.T) {
		rec := f.serve(httpTest{method: http.MethodPut, path: coursePath(f.course.ID), token: f.getToken(t, f.instructor), body: []byte(`{"title": "Advanced Go"}`)})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var got course.Course
		unmarshal(t, rec, &got)
		assert.Equal(t, "Advanced Go", got.Title)
		assert.Equal(t, before.Description, got.Description)
		assert.Equal(t, f.instructor.ID, got.OwnerID)
	})
}

func Test_courseApi_destroy(t *testing.T) {
	f := setupCourse(t)
	rec := f.serve(httpTest{method: http.MethodPost, path: coursePath(f.course.ID, "/enroll"), token: f.getToken(t, f.student)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	tests := []httpTest{
		{
			name: "not owner", token: f.getToken(t, f.stranger),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "owner", token: f.getToken(t, f.instructor), wantCode: http.StatusOK, wantData: marchallObj(t, MessageResponse{Message: "Course deleted"})},
		{
			name: "gone", token: f.getToken(t, f.instructor),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "course not found"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodDelete
			tt.path = coursePath(f.course.ID)
			checkCodeAndData(t, tt, f.serve(tt))
		})
	}

	student, err := f.usrRepo.GetUser(context.Background(), user.GetFilter{ID: f.student.ID})
	require.NoError(t, err)
	assert.NotContains(t, student.EnrolledCourseIDs, f.course.ID)
}

func Test_courseApi_enroll(t *testing.T) {
	f := setupCourse(t)
	path := coursePath(f.course.ID, "/enroll")
	studentToken := f.getToken(t, f.student)

	rec := f.serve(httpTest{method: http.MethodPost, path: path, token: studentToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp EnrollResponse
	unmarshal(t, rec, &resp)
	assert.Equal(t, "Successfully enrolled in course", resp.Message)
	assert.Equal(t, []string{f.student.ID}, resp.Course.EnrolledStudentIDs)

	after := f.reloadCourse(t, f.course.ID)
	tests := []httpTest{
		{
			name: "twice", token: studentToken,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "already enrolled in this course"}),
		},
		{
			name: "students only", token: f.getToken(t, f.instructor),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "unknown course", path: coursePath(unknownCourseID, "/enroll"), token: studentToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "course not found"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodPost
			if tt.path == "" {
				tt.path = path
			}
			checkCodeAndData(t, tt, f.serve(tt))
		})
	}
	assert.Equal(t, after, f.reloadCourse(t, f.course.ID), "rejected enrollments must not change the course")

	// both sides of the membership agree
	rec = f.serve(httpTest{path: "/api/users/profile", token: studentToken})
	var profile ProfileResponse
	unmarshal(t, rec, &profile)
	assert.Equal(t, []string{f.course.ID}, profile.EnrolledCourseIDs)
	require.Len(t, profile.EnrolledCourses, 1)
	assert.Equal(t, "Intro to Go", profile.EnrolledCourses[0].Title)

	sent := f.mailSvc.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, f.student.Email, sent[0].To[0].Address)
	assert.Contains(t, sent[0].TextContent, `enrolled in "Intro to Go"`)

	rec = f.serve(httpTest{path: "/metrics"})
	assert.Contains(t, rec.Body.String(), `edunexus_enrollment_attempts_total{outcome="success"} 1`)
	assert.Contains(t, rec.Body.String(), `edunexus_enrollment_attempts_total{outcome="conflict"} 1`)
}

func Test_courseApi_assistants(t *testing.T) {
	f := setupCourse(t)
	path := coursePath(f.course.ID, "/assistants")
	ownerToken := f.getToken(t, f.instructor)

	tests := []httpTest{
		{
			name: "owner only", token: f.getToken(t, f.stranger), body: marchallObj(t, map[string]string{"user_id": f.stranger.ID}),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "malformed user id", token: ownerToken, body: []byte(`{"user_id": "bob"}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"user_id": "user_id must be a valid UUID"}),
		},
		{
			name: "owner as assistant", token: ownerToken, body: marchallObj(t, map[string]string{"user_id": f.instructor.ID}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "the course owner cannot be a teaching assistant"}),
		},
		{
			name: "unknown user", token: ownerToken, body: []byte(`{"user_id": "` + unknownCourseID + `"}`),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "user not found"}),
		},
		{name: "ok", token: ownerToken, body: marchallObj(t, map[string]string{"user_id": f.stranger.ID}), wantCode: http.StatusOK},
		{
			name: "twice", token: ownerToken, body: marchallObj(t, map[string]string{"user_id": f.stranger.ID}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "user is already a teaching assistant of this course"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodPost
			tt.path = path
			checkCodeAndData(t, tt, f.serve(tt))
		})
	}

	c := f.reloadCourse(t, f.course.ID)
	assert.Equal(t, []string{f.stranger.ID}, c.TeachingAssistantIDs)

	// the assistant may now edit the course
	rec := f.serve(httpTest{method: http.MethodPut, path: coursePath(f.course.ID), token: f.getToken(t, f.stranger), body: []byte(`{"description": "Updated by TA"}`)})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func Test_courseApi_announcements(t *testing.T) {
	f := setupCourse(t)
	path := coursePath(f.course.ID, "/announcements")

	tests := []httpTest{
		{
			name: "managers only", token: f.getToken(t, f.student), body: []byte(`{"title": "Exam", "content": "Friday"}`),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "required fields", token: f.getToken(t, f.instructor), body: []byte(`{}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"title": "this field is required", "content": "this field is required"}),
		},
		{
			name: "only markup", token: f.getToken(t, f.instructor), body: []byte(`{"title": "Exam", "content": "<script>alert(1)</script>"}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"content": "this field cannot be blank"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodPost
			tt.path = path
			checkCodeAndData(t, tt, f.serve(tt))
		})
	}

	rec := f.serve(httpTest{method: http.MethodPost, path: path, token: f.getToken(t, f.instructor), body: []byte(`{"title": "Exam", "content": "<b>Friday</b>"}`)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var a course.Announcement
	unmarshal(t, rec, &a)
	assert.Equal(t, "<b>Friday</b>", a.Content)
	assert.Equal(t, f.instructor.ID, a.AuthorID)
	assert.Equal(t, []course.Announcement{a}, f.reloadCourse(t, f.course.ID).Announcements)
}

func Test_courseApi_discussions(t *testing.T) {
	f := setupCourse(t)
	studentToken := f.getToken(t, f.student)
	path := coursePath(f.course.ID, "/discussions")
	body := []byte(`{"title": "Help", "content": "Stuck on channels", "is_anonymous": true}`)

	// members only
	rec := f.serve(httpTest{method: http.MethodPost, path: path, token: studentToken, body: body})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.serve(httpTest{method: http.MethodPost, path: coursePath(f.course.ID, "/enroll"), token: studentToken})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.serve(httpTest{method: http.MethodPost, path: path, token: studentToken, body: body})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "author_id")
	var d course.Discussion
	unmarshal(t, rec, &d)
	assert.True(t, d.IsAnonymous)

	// the author is stored but never served
	stored := f.reloadCourse(t, f.course.ID)
	require.Len(t, stored.Discussions, 1)
	assert.Equal(t, f.student.ID, stored.Discussions[0].AuthorID)

	replyPath := coursePath(f.course.ID, "/discussions/", d.ID, "/replies")
	tests := []httpTest{
		{
			name: "outsider", path: replyPath, token: f.getToken(t, f.stranger), body: []byte(`{"content": "hi"}`),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "unknown discussion", path: coursePath(f.course.ID, "/discussions/nope/replies"), token: studentToken, body: []byte(`{"content": "hi"}`),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "discussion not found"}),
		},
		{
			name: "required content", path: replyPath, token: studentToken, body: []byte(`{}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"content": "this field is required"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodPost
			checkCodeAndData(t, tt, f.serve(tt))
		})
	}

	rec = f.serve(httpTest{method: http.MethodPost, path: replyPath, token: f.getToken(t, f.instructor), body: []byte(`{"content": "Use select"}`)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var r course.Reply
	unmarshal(t, rec, &r)
	assert.Equal(t, f.instructor.ID, r.AuthorID)

	rec = f.serve(httpTest{path: coursePath(f.course.ID)})
	var served course.Course
	unmarshal(t, rec, &served)
	require.Len(t, served.Discussions, 1)
	assert.Empty(t, served.Discussions[0].AuthorID)
	require.Len(t, served.Discussions[0].Replies, 1)
	assert.Equal(t, f.instructor.ID, served.Discussions[0].Replies[0].AuthorID)
}

func Test_courseApi_roster(t *testing.T) {
	f := setupCourse(t)
	path := coursePath(f.course.ID, "/roster.xlsx")

	rec := f.serve(httpTest{method: http.MethodPost, path: coursePath(f.course.ID, "/enroll"), token: f.getToken(t, f.student)})
	require.Equal(t, http.StatusOK, rec.Code)

	tests := []httpTest{
		{name: "auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "students cannot export", token: f.getToken(t, f.student),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.path = path
			checkCodeAndData(t, tt, f.serve(tt))
		})
	}

	rec = f.serve(httpTest{path: path, token: f.getToken(t, f.instructor)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, export.XLSXMIME, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "roster-"+f.course.ID)
	assert.NotZero(t, rec.Body.Len())
}
