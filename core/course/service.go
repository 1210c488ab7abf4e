package course

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"

	"github.com/kbhujbal/edunexus/core"
	"github.com/kbhujbal/edunexus/core/user"
)

var (
	// errors
	ErrNotFound           = core.NewError(core.KindNotFound, "course not found")
	ErrDiscussionNotFound = core.NewError(core.KindNotFound, "discussion not found")
	ErrAlreadyEnrolled    = core.NewError(core.KindConflict, "already enrolled in this course")
	ErrAlreadyAssistant   = core.NewError(core.KindConflict, "user is already a teaching assistant of this course")
	ErrOwnerAsAssistant   = core.NewError(core.KindConflict, "the course owner cannot be a teaching assistant")
)

type (
	// Repository is the course store. Membership (enrollments & teaching assistants) lives in its own relation,
	// so that a course's member lists and a user's derived course lists can never disagree.
	Repository interface {
		CreateCourse(ctx context.Context, c Course) (Course, error)
		// QueryCourses lists all courses; an empty ordering means newest first.
		QueryCourses(ctx context.Context, ordering []core.DBOrdering) ([]Course, error)
		// GetCourse returns ErrNotFound for unknown IDs.
		GetCourse(ctx context.Context, id string) (Course, error)
		// GetCourses returns the courses with the given IDs, in the order given; unknown IDs are skipped.
		GetCourses(ctx context.Context, ids []string) ([]Course, error)
		// UpdateCourse applies update to the stored course atomically.
		// If update returns an error nothing is written and that error is returned as is.
		UpdateCourse(ctx context.Context, id string, update func(c *Course) error) (Course, error)
		// DeleteCourse removes the course and all its memberships.
		DeleteCourse(ctx context.Context, id string) error
		// AddEnrollment returns ErrAlreadyEnrolled if userID is already enrolled.
		AddEnrollment(ctx context.Context, courseID, userID string, at time.Time) error
		// AddTeachingAssistant returns ErrAlreadyAssistant if userID already assists the course.
		AddTeachingAssistant(ctx context.Context, courseID, userID string, at time.Time) error
	}

	// Recorder collects course workflow metrics.
	Recorder interface {
		CourseCreated()
		CourseDeleted()
		// EnrollmentAttempt records an enrollment outcome: "success" or an error kind name.
		EnrollmentAttempt(outcome string)
	}

	Service struct {
		repo      Repository
		usrSvc    *user.Service
		mailSvc   core.EmailService
		metrics   Recorder
		sanitizer *bluemonday.Policy
		nowFunc   func() time.Time
	}
)

func NewService(repo Repository, usrSvc *user.Service, mailSvc core.EmailService, metrics Recorder) *Service {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Service{
		repo:      repo,
		usrSvc:    usrSvc,
		mailSvc:   mailSvc,
		metrics:   metrics,
		sanitizer: bluemonday.UGCPolicy(),
		nowFunc:   time.Now,
	}
}

// SetClock replaces the time source, for tests.
func (svc *Service) SetClock(now func() time.Time) {
	svc.nowFunc = now
}

func (svc *Service) now() time.Time {
	return svc.nowFunc().UTC()
}

// Create makes requester the owner of a new course. Only instructors and admins may create courses.
func (svc *Service) Create(ctx context.Context, requester user.User, nc NewCourse) (Course, error) {
	if err := user.RequireRole(requester, user.RoleInstructor, user.RoleAdmin); err != nil {
		return Course{}, err
	}

	now := svc.now()
	c := Course{
		ID:                   uuid.NewString(),
		Title:                nc.Title,
		Description:          svc.sanitizer.Sanitize(nc.Description),
		OwnerID:              requester.ID,
		TeachingAssistantIDs: []string{},
		EnrolledStudentIDs:   []string{},
		Modules:              buildModules(nc.Modules, svc.sanitizer),
		Announcements:        []Announcement{},
		Discussions:          []Discussion{},
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	c, err := svc.repo.CreateCourse(ctx, c)
	if err != nil {
		return Course{}, errors.Wrap(err, "creating course")
	}
	svc.metrics.CourseCreated()
	return c, nil
}

func (svc *Service) Get(ctx context.Context, id string) (Course, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Course{}, ErrNotFound
	}
	return svc.repo.GetCourse(ctx, id)
}

func (svc *Service) List(ctx context.Context, ordering []core.DBOrdering) ([]Course, error) {
	return svc.repo.QueryCourses(ctx, ordering)
}

// GetDetailed returns the course with its owner, teaching assistants and students resolved.
func (svc *Service) GetDetailed(ctx context.Context, id string) (Detail, error) {
	c, err := svc.Get(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	details, err := svc.detail(ctx, []Course{c}, true)
	if err != nil {
		return Detail{}, err
	}
	return details[0], nil
}

// ListDetailed lists courses like List, with owners and teaching assistants resolved.
func (svc *Service) ListDetailed(ctx context.Context, ordering []core.DBOrdering) ([]Detail, error) {
	courses, err := svc.List(ctx, ordering)
	if err != nil {
		return nil, err
	}
	return svc.detail(ctx, courses, false)
}

// Summaries returns the courses with the given IDs in short form, in the order given.
func (svc *Service) Summaries(ctx context.Context, ids []string) ([]Summary, error) {
	courses, err := svc.repo.GetCourses(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "getting courses")
	}
	summaries := make([]Summary, 0, len(courses))
	for _, c := range courses {
		summaries = append(summaries, c.Summary())
	}
	return summaries, nil
}

// detail resolves the members of courses with a single user lookup.
func (svc *Service) detail(ctx context.Context, courses []Course, withStudents bool) ([]Detail, error) {
	var ids []string
	seen := make(map[string]bool)
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, c := range courses {
		add(c.OwnerID)
		for _, id := range c.TeachingAssistantIDs {
			add(id)
		}
		if withStudents {
			for _, id := range c.EnrolledStudentIDs {
				add(id)
			}
		}
	}

	users, err := svc.usrSvc.GetMany(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "getting course members")
	}
	infos := make(map[string]user.Info, len(users))
	for _, usr := range users {
		infos[usr.ID] = usr.Info()
	}
	resolve := func(ids []string) []user.Info {
		resolved := make([]user.Info, 0, len(ids))
		for _, id := range ids {
			if info, ok := infos[id]; ok {
				resolved = append(resolved, info)
			}
		}
		return resolved
	}

	details := make([]Detail, 0, len(courses))
	for _, c := range courses {
		d := Detail{Course: c, TeachingAssistants: resolve(c.TeachingAssistantIDs)}
		if owner, ok := infos[c.OwnerID]; ok {
			d.Owner = &owner
		}
		if withStudents {
			d.EnrolledStudents = resolve(c.EnrolledStudentIDs)
		}
		details = append(details, d)
	}
	return details, nil
}

// Update applies a partial update. Only the owner and teaching assistants may update a course.
func (svc *Service) Update(ctx context.Context, requester user.User, id string, uc UpdateCourse) (Course, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Course{}, ErrNotFound
	}
	if uc.Description != nil {
		desc := svc.sanitizer.Sanitize(*uc.Description)
		uc.Description = &desc
	}

	return svc.repo.UpdateCourse(ctx, id, func(c *Course) error {
		if !c.CanManage(requester.ID) {
			return core.ErrForbidden
		}
		uc.apply(c, svc.sanitizer)
		c.UpdatedAt = svc.now()
		return nil
	})
}

// Delete removes a course. Only its owner may delete it.
func (svc *Service) Delete(ctx context.Context, requester user.User, id string) error {
	c, err := svc.Get(ctx, id)
	if err != nil {
		return err
	}
	if !c.IsOwner(requester.ID) {
		return core.ErrForbidden
	}
	if err = svc.repo.DeleteCourse(ctx, id); err != nil {
		return errors.Wrap(err, "deleting course")
	}
	svc.metrics.CourseDeleted()
	return nil
}

// Enroll adds a student to a course.
// Concurrent enrollments of the same pair resolve to one success and ErrAlreadyEnrolled for the others.
func (svc *Service) Enroll(ctx context.Context, requester user.User, courseID string) (c Course, err error) {
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = core.KindOf(err).String()
		}
		svc.metrics.EnrollmentAttempt(outcome)
	}()

	if err = user.RequireRole(requester, user.RoleStudent); err != nil {
		return Course{}, err
	}
	if c, err = svc.Get(ctx, courseID); err != nil {
		return Course{}, err
	}
	if c.IsEnrolled(requester.ID) {
		return Course{}, ErrAlreadyEnrolled
	}

	if err = svc.repo.AddEnrollment(ctx, c.ID, requester.ID, svc.now()); err != nil {
		return Course{}, errors.Wrap(err, "adding enrollment")
	}
	if c, err = svc.repo.GetCourse(ctx, c.ID); err != nil {
		return Course{}, errors.Wrap(err, "reloading course")
	}

	svc.sendEnrollmentMail(requester, c)
	return c, nil
}

// AddTeachingAssistant lets the owner delegate course management to another user.
func (svc *Service) AddTeachingAssistant(ctx context.Context, requester user.User, courseID string, nta NewTeachingAssistant) (Course, error) {
	c, err := svc.Get(ctx, courseID)
	if err != nil {
		return Course{}, err
	}
	if !c.IsOwner(requester.ID) {
		return Course{}, core.ErrForbidden
	}
	if c.IsOwner(nta.UserID) {
		return Course{}, ErrOwnerAsAssistant
	}
	if c.IsTeachingAssistant(nta.UserID) {
		return Course{}, ErrAlreadyAssistant
	}
	if _, err = svc.usrSvc.GetByID(ctx, nta.UserID); err != nil {
		return Course{}, err
	}

	if err = svc.repo.AddTeachingAssistant(ctx, c.ID, nta.UserID, svc.now()); err != nil {
		return Course{}, errors.Wrap(err, "adding teaching assistant")
	}
	return svc.repo.GetCourse(ctx, c.ID)
}

// PostAnnouncement appends an announcement. Only the owner and teaching assistants may post.
func (svc *Service) PostAnnouncement(ctx context.Context, requester user.User, courseID string, na NewAnnouncement) (Announcement, error) {
	if _, err := uuid.Parse(courseID); err != nil {
		return Announcement{}, ErrNotFound
	}
	content, err := svc.sanitizeContent(na.Content)
	if err != nil {
		return Announcement{}, err
	}

	a := Announcement{
		ID:        uuid.NewString(),
		Title:     na.Title,
		Content:   content,
		AuthorID:  requester.ID,
		CreatedAt: svc.now(),
	}
	_, err = svc.repo.UpdateCourse(ctx, courseID, func(c *Course) error {
		if !c.CanManage(requester.ID) {
			return core.ErrForbidden
		}
		c.Announcements = append(c.Announcements, a)
		return nil
	})
	if err != nil {
		return Announcement{}, err
	}
	return a, nil
}

// StartDiscussion opens a discussion thread. Members of the course (owner, assistants, students) may post.
func (svc *Service) StartDiscussion(ctx context.Context, requester user.User, courseID string, nd NewDiscussion) (Discussion, error) {
	if _, err := uuid.Parse(courseID); err != nil {
		return Discussion{}, ErrNotFound
	}
	content, err := svc.sanitizeContent(nd.Content)
	if err != nil {
		return Discussion{}, err
	}

	d := Discussion{
		ID:          uuid.NewString(),
		Title:       nd.Title,
		Content:     content,
		AuthorID:    requester.ID,
		IsAnonymous: nd.IsAnonymous,
		Replies:     []Reply{},
		CreatedAt:   svc.now(),
	}
	_, err = svc.repo.UpdateCourse(ctx, courseID, func(c *Course) error {
		if !c.CanParticipate(requester.ID) {
			return core.ErrForbidden
		}
		c.Discussions = append(c.Discussions, d)
		return nil
	})
	if err != nil {
		return Discussion{}, err
	}
	return d, nil
}

// Reply answers a discussion thread. Same audience as StartDiscussion.
func (svc *Service) Reply(ctx context.Context, requester user.User, courseID, discussionID string, nr NewReply) (Reply, error) {
	if _, err := uuid.Parse(courseID); err != nil {
		return Reply{}, ErrNotFound
	}
	content, err := svc.sanitizeContent(nr.Content)
	if err != nil {
		return Reply{}, err
	}

	r := Reply{
		ID:          uuid.NewString(),
		Content:     content,
		AuthorID:    requester.ID,
		IsAnonymous: nr.IsAnonymous,
		CreatedAt:   svc.now(),
	}
	_, err = svc.repo.UpdateCourse(ctx, courseID, func(c *Course) error {
		if !c.CanParticipate(requester.ID) {
			return core.ErrForbidden
		}
		d := c.findDiscussion(discussionID)
		if d == nil {
			return ErrDiscussionNotFound
		}
		d.Replies = append(d.Replies, r)
		return nil
	})
	if err != nil {
		return Reply{}, err
	}
	return r, nil
}

// Roster returns the course and its enrolled students, in enrollment order.
// Only the owner and teaching assistants may see it.
func (svc *Service) Roster(ctx context.Context, requester user.User, courseID string) (Course, []user.User, error) {
	c, err := svc.Get(ctx, courseID)
	if err != nil {
		return Course{}, nil, err
	}
	if !c.CanManage(requester.ID) {
		return Course{}, nil, core.ErrForbidden
	}
	students, err := svc.usrSvc.GetMany(ctx, c.EnrolledStudentIDs)
	if err != nil {
		return Course{}, nil, errors.Wrap(err, "getting enrolled students")
	}
	return c, students, nil
}

func (svc *Service) sanitizeContent(content string) (string, error) {
	content = strings.TrimSpace(svc.sanitizer.Sanitize(content))
	if content == "" {
		return "", core.NewValidationError(nil, core.FieldError{Field: "content", Error: "this field cannot be blank"})
	}
	return content, nil
}

func (svc *Service) sendEnrollmentMail(usr user.User, c Course) {
	if svc.mailSvc == nil {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{usr.Address()},
		Subject:      "You are enrolled in " + c.Title,
		TemplateName: "enrollment",
		TemplateData: map[string]interface{}{
			"FirstName":   usr.FirstName,
			"CourseTitle": c.Title,
			"CourseID":    c.ID,
		},
	})
}

type nopRecorder struct{}

func (nopRecorder) CourseCreated()           {}
func (nopRecorder) CourseDeleted()           {}
func (nopRecorder) EnrollmentAttempt(string) {}
