package user

import (
	"net/mail"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"
	"golang.org/x/crypto/bcrypt"

	"github.com/kbhujbal/edunexus/core"
)

type Role string

// Roles
const (
	RoleStudent    Role = "STUDENT"
	RoleInstructor Role = "INSTRUCTOR"
	RoleAdmin      Role = "ADMIN"
)

var (
	AllRoles = []Role{RoleStudent, RoleInstructor, RoleAdmin}

	// SelfServiceRoles can be picked at registration. Admins are created with the admin CLI.
	SelfServiceRoles = []Role{RoleStudent, RoleInstructor}
)

func (r Role) Valid() bool {
	for _, role := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}

// User is a registered identity.
// EnrolledCourseIDs and ManagedCourseIDs are derived by the store from course memberships and ownership.
type User struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	FirstName         string    `json:"first_name"`
	LastName          string    `json:"last_name"`
	Roles             []Role    `json:"roles"`
	PasswordHash      []byte    `json:"-"`
	EnrolledCourseIDs []string  `json:"enrolled_course_ids"`
	ManagedCourseIDs  []string  `json:"managed_course_ids"`
	CreatedAt         time.Time `json:"created_at"` // UTC
	UpdatedAt         time.Time `json:"updated_at"` // UTC
	LastLogin         null.Time `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (u User) HasAnyRole(roles ...Role) bool {
	for _, role := range roles {
		if u.HasRole(role) {
			return true
		}
	}
	return false
}

func (u User) IsStudent() bool    { return u.HasRole(RoleStudent) }
func (u User) IsInstructor() bool { return u.HasRole(RoleInstructor) }
func (u User) IsAdmin() bool      { return u.HasRole(RoleAdmin) }

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Address is the user's mail address, for notifications.
func (u User) Address() mail.Address {
	return mail.Address{Name: u.FullName(), Address: u.Email}
}

func (u User) IsEnrolledIn(courseID string) bool {
	return core.ContainsString(u.EnrolledCourseIDs, courseID)
}

// Info is the public subset of a User returned alongside tokens.
type Info struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Roles     []Role `json:"roles"`
}

func (u User) Info() Info {
	return Info{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Roles:     u.Roles,
	}
}

// RequireRole fails with core.ErrForbidden unless usr holds at least one of the allowed roles.
func RequireRole(usr User, allowed ...Role) error {
	if usr.HasAnyRole(allowed...) {
		return nil
	}
	return core.ErrForbidden
}

// NewUser contains information needed to register a new User.
type NewUser struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=6"`
	FirstName string `json:"first_name" validate:"required,notblank"`
	LastName  string `json:"last_name" validate:"required,notblank"`
	Role      Role   `json:"role" validate:"omitempty,selfservicerole"`
}

func (nu *NewUser) Validate(validate *validator.Validate) error {
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.FirstName = core.CleanString(nu.FirstName)
	nu.LastName = core.CleanString(nu.LastName)
	nu.Role = Role(strings.ToUpper(core.CleanString(string(nu.Role))))
	return validate.Struct(nu)
}

// Credentials are what a User logs in with.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (c *Credentials) Validate(validate *validator.Validate) error {
	c.Email = core.CleanString(c.Email, true /* lower */)
	return validate.Struct(c)
}

// UpdateProfile defines what information a User may change about themselves. Empty fields are left unchanged.
type UpdateProfile struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email" validate:"omitempty,email"`
}

func (up *UpdateProfile) Validate(validate *validator.Validate) error {
	up.FirstName = core.CleanString(up.FirstName)
	up.LastName = core.CleanString(up.LastName)
	up.Email = core.CleanString(up.Email, true /* lower */)
	return validate.Struct(up)
}

type ChangePassword struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6,nefield=CurrentPassword"`
}

func (cp *ChangePassword) Validate(validate *validator.Validate) error {
	return validate.Struct(cp)
}

// GetFilter selects a single User; the first non-empty field wins.
type GetFilter struct {
	ID    string
	Email string
}
