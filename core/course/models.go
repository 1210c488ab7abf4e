package course

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/volatiletech/null/v8"

	"github.com/kbhujbal/edunexus/core"
	"github.com/kbhujbal/edunexus/core/user"
)

type ContentType string

// Module content types
const (
	ContentVideo         ContentType = "VIDEO"
	ContentDocument      ContentType = "DOCUMENT"
	ContentAssignment    ContentType = "ASSIGNMENT"
	ContentQuiz          ContentType = "QUIZ"
	ContentReferenceBook ContentType = "REFERENCE_BOOK"
)

var ContentTypes = []ContentType{ContentVideo, ContentDocument, ContentAssignment, ContentQuiz, ContentReferenceBook}

// OrderingFields are the fields courses can be listed by.
var OrderingFields = []string{"title", "created_at", "updated_at"}

type (
	ModuleContent struct {
		ID       string      `json:"id"`
		Title    string      `json:"title"`
		Type     ContentType `json:"type"`
		Content  string      `json:"content"`
		Required bool        `json:"required"`
	}

	Module struct {
		ID          string          `json:"id"`
		Title       string          `json:"title"`
		Description string          `json:"description"`
		Contents    []ModuleContent `json:"contents"`
		DueDate     null.Time       `json:"due_date"`
	}

	Announcement struct {
		ID        string    `json:"id"`
		Title     string    `json:"title"`
		Content   string    `json:"content"`
		AuthorID  string    `json:"author_id"`
		CreatedAt time.Time `json:"created_at"`
	}

	Reply struct {
		ID          string    `json:"id"`
		Content     string    `json:"content"`
		AuthorID    string    `json:"author_id,omitempty"`
		IsAnonymous bool      `json:"is_anonymous"`
		CreatedAt   time.Time `json:"created_at"`
	}

	Discussion struct {
		ID          string    `json:"id"`
		Title       string    `json:"title"`
		Content     string    `json:"content"`
		AuthorID    string    `json:"author_id,omitempty"`
		IsAnonymous bool      `json:"is_anonymous"`
		Replies     []Reply   `json:"replies"`
		CreatedAt   time.Time `json:"created_at"`
	}
)

// Course is a unit of instructional content with an owner and membership lists.
// TeachingAssistantIDs and EnrolledStudentIDs are maintained by the store, never by updates.
type Course struct {
	ID                   string         `json:"id"`
	Title                string         `json:"title"`
	Description          string         `json:"description"`
	OwnerID              string         `json:"owner_id"`
	TeachingAssistantIDs []string       `json:"teaching_assistant_ids"`
	EnrolledStudentIDs   []string       `json:"enrolled_student_ids"`
	Modules              []Module       `json:"modules"`
	Announcements        []Announcement `json:"announcements"`
	Discussions          []Discussion   `json:"discussions"`
	CreatedAt            time.Time      `json:"created_at"` // UTC
	UpdatedAt            time.Time      `json:"updated_at"` // UTC
}

func (c Course) IsOwner(userID string) bool {
	return userID != "" && c.OwnerID == userID
}

func (c Course) IsTeachingAssistant(userID string) bool {
	return core.ContainsString(c.TeachingAssistantIDs, userID)
}

func (c Course) IsEnrolled(userID string) bool {
	return core.ContainsString(c.EnrolledStudentIDs, userID)
}

// CanManage tells whether userID may edit the course content.
func (c Course) CanManage(userID string) bool {
	return c.IsOwner(userID) || c.IsTeachingAssistant(userID)
}

// CanParticipate tells whether userID may take part in discussions.
func (c Course) CanParticipate(userID string) bool {
	return c.CanManage(userID) || c.IsEnrolled(userID)
}

// Redacted returns a copy of the course with anonymous authors hidden.
func (c Course) Redacted() Course {
	if len(c.Discussions) == 0 {
		return c
	}
	discussions := make([]Discussion, len(c.Discussions))
	for i, d := range c.Discussions {
		discussions[i] = d.Redacted()
	}
	c.Discussions = discussions
	return c
}

func (d Discussion) Redacted() Discussion {
	if d.IsAnonymous {
		d.AuthorID = ""
	}
	replies := make([]Reply, len(d.Replies))
	for i, r := range d.Replies {
		replies[i] = r.Redacted()
	}
	d.Replies = replies
	return d
}

func (r Reply) Redacted() Reply {
	if r.IsAnonymous {
		r.AuthorID = ""
	}
	return r
}

// Detail is a course with its owner and members resolved to their public info.
// EnrolledStudents is only filled for single course reads.
type Detail struct {
	Course
	Owner              *user.Info  `json:"owner"`
	TeachingAssistants []user.Info `json:"teaching_assistants"`
	EnrolledStudents   []user.Info `json:"enrolled_students,omitempty"`
}

// Summary is the short form of a course listed on a user profile.
type Summary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (c Course) Summary() Summary {
	return Summary{ID: c.ID, Title: c.Title, Description: c.Description}
}

func (c *Course) findDiscussion(id string) *Discussion {
	for i := range c.Discussions {
		if c.Discussions[i].ID == id {
			return &c.Discussions[i]
		}
	}
	return nil
}

type NewModuleContent struct {
	Title    string      `json:"title" validate:"required,notblank"`
	Type     ContentType `json:"type" validate:"required,contenttype"`
	Content  string      `json:"content" validate:"required"`
	Required *bool       `json:"required"`
}

type NewModule struct {
	Title       string             `json:"title" validate:"required,notblank"`
	Description string             `json:"description" validate:"required"`
	Contents    []NewModuleContent `json:"contents" validate:"dive"`
	DueDate     null.Time          `json:"due_date"`
}

// buildModules assigns IDs and passes module descriptions and contents through sanitizer.
func buildModules(nms []NewModule, sanitizer *bluemonday.Policy) []Module {
	modules := make([]Module, 0, len(nms))
	for _, nm := range nms {
		contents := make([]ModuleContent, 0, len(nm.Contents))
		for _, nc := range nm.Contents {
			required := true
			if nc.Required != nil {
				required = *nc.Required
			}
			contents = append(contents, ModuleContent{
				ID:       uuid.NewString(),
				Title:    core.CleanString(nc.Title),
				Type:     nc.Type,
				Content:  sanitizer.Sanitize(nc.Content),
				Required: required,
			})
		}
		dueDate := nm.DueDate
		if dueDate.Valid {
			dueDate.Time = dueDate.Time.UTC()
		}
		modules = append(modules, Module{
			ID:          uuid.NewString(),
			Title:       core.CleanString(nm.Title),
			Description: sanitizer.Sanitize(nm.Description),
			Contents:    contents,
			DueDate:     dueDate,
		})
	}
	return modules
}

// NewCourse contains information needed to create a new Course.
type NewCourse struct {
	Title       string      `json:"title" validate:"required,notblank,max=200"`
	Description string      `json:"description" validate:"required,notblank"`
	Modules     []NewModule `json:"modules" validate:"dive"`
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Title = core.CleanString(nc.Title)
	nc.Description = core.CleanString(nc.Description)
	return validate.Struct(nc)
}

// UpdateCourse is a partial update: only the fields present (non-nil) are overwritten.
type UpdateCourse struct {
	Title       *string     `json:"title" validate:"omitempty,notblank,max=200"`
	Description *string     `json:"description" validate:"omitempty,notblank"`
	Modules     []NewModule `json:"modules" validate:"omitempty,dive"`
}

func (uc *UpdateCourse) Validate(validate *validator.Validate) error {
	if uc.Title != nil {
		title := core.CleanString(*uc.Title)
		uc.Title = &title
	}
	if uc.Description != nil {
		desc := core.CleanString(*uc.Description)
		uc.Description = &desc
	}
	return validate.Struct(uc)
}

func (uc UpdateCourse) apply(c *Course, sanitizer *bluemonday.Policy) {
	if uc.Title != nil {
		c.Title = *uc.Title
	}
	if uc.Description != nil {
		c.Description = *uc.Description
	}
	if uc.Modules != nil {
		c.Modules = buildModules(uc.Modules, sanitizer)
	}
}

type NewAnnouncement struct {
	Title   string `json:"title" validate:"required,notblank,max=200"`
	Content string `json:"content" validate:"required,notblank"`
}

func (na *NewAnnouncement) Validate(validate *validator.Validate) error {
	na.Title = core.CleanString(na.Title)
	return validate.Struct(na)
}

type NewDiscussion struct {
	Title       string `json:"title" validate:"required,notblank,max=200"`
	Content     string `json:"content" validate:"required,notblank"`
	IsAnonymous bool   `json:"is_anonymous"`
}

func (nd *NewDiscussion) Validate(validate *validator.Validate) error {
	nd.Title = core.CleanString(nd.Title)
	return validate.Struct(nd)
}

type NewReply struct {
	Content     string `json:"content" validate:"required,notblank"`
	IsAnonymous bool   `json:"is_anonymous"`
}

func (nr *NewReply) Validate(validate *validator.Validate) error {
	return validate.Struct(nr)
}

type NewTeachingAssistant struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

func (nta *NewTeachingAssistant) Validate(validate *validator.Validate) error {
	nta.UserID = core.CleanString(nta.UserID, true /* lower */)
	return validate.Struct(nta)
}
