package user

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/kbhujbal/edunexus/core"
)

var (
	// errors
	ErrNotFound           = core.NewError(core.KindNotFound, "user not found")
	ErrEmailExists        = core.NewError(core.KindConflict, "a user with this email already exists")
	ErrInvalidCredentials = core.NewError(core.KindConflict, "invalid credentials")
	ErrWrongPassword      = core.NewValidationError(nil, core.FieldError{Field: "current_password", Error: "current password is incorrect"})
	ErrPasswordTooSimilar = core.NewValidationError(nil, core.FieldError{Field: "new_password", Error: pwdAttrSimText})
)

type (
	// Repository is the credential store.
	Repository interface {
		// CheckEmailUniqueness returns ErrEmailExists if another user than excludedIDs uses email.
		CheckEmailUniqueness(ctx context.Context, email string, excludedIDs ...string) error
		// CreateUser assigns an ID; it returns ErrEmailExists if the email is taken.
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUser(ctx context.Context, filter GetFilter) (User, error)
		// GetUsers returns the users with the given IDs, in the order given; unknown IDs are skipped.
		GetUsers(ctx context.Context, ids []string) ([]User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
	}

	Service struct {
		repo    Repository
		mailSvc core.EmailService
		nowFunc func() time.Time
	}
)

func NewService(repo Repository, mailSvc core.EmailService) *Service {
	return &Service{
		repo:    repo,
		mailSvc: mailSvc,
		nowFunc: time.Now,
	}
}

func (svc *Service) CheckUniqueness(ctx context.Context, email string, excludedIDs ...string) error {
	return svc.repo.CheckEmailUniqueness(ctx, email, excludedIDs...)
}

// Register creates a new identity from validated input. The role defaults to STUDENT.
func (svc *Service) Register(ctx context.Context, nu NewUser) (User, error) {
	if err := svc.CheckUniqueness(ctx, nu.Email); err != nil {
		return User{}, err
	}

	role := nu.Role
	if role == "" {
		role = RoleStudent
	}
	now := svc.nowFunc().UTC()
	usr := User{
		Email:     nu.Email,
		FirstName: nu.FirstName,
		LastName:  nu.LastName,
		Roles:     []Role{role},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}

	usr, err := svc.repo.CreateUser(ctx, usr)
	if err != nil {
		return User{}, errors.Wrap(err, "creating user")
	}
	svc.sendWelcomeMail(usr)
	return usr, nil
}

// Authenticate checks credentials and stamps the last login.
// Unknown emails and wrong passwords are indistinguishable to the caller.
func (svc *Service) Authenticate(ctx context.Context, creds Credentials) (User, error) {
	usr, err := svc.GetByEmail(ctx, creds.Email)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return User{}, ErrInvalidCredentials
		}
		return User{}, errors.Wrap(err, "finding user by email")
	}
	if err = usr.CheckPassword(creds.Password); err != nil {
		return User{}, ErrInvalidCredentials
	}

	usr.LastLogin = null.TimeFrom(svc.nowFunc().UTC())
	usr, err = svc.repo.UpdateUser(ctx, usr)
	if err != nil {
		return User{}, errors.Wrap(err, "setting lastLogin")
	}
	return usr, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

func (svc *Service) GetMany(ctx context.Context, ids []string) ([]User, error) {
	return svc.repo.GetUsers(ctx, ids)
}

func (svc *Service) UpdateProfile(ctx context.Context, id string, up UpdateProfile) (User, error) {
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		return User{}, errors.Wrap(err, "finding user by ID")
	}

	if up.Email != "" && up.Email != usr.Email {
		if err = svc.CheckUniqueness(ctx, up.Email, usr.ID); err != nil {
			return User{}, err
		}
		usr.Email = up.Email
	}
	if up.FirstName != "" {
		usr.FirstName = up.FirstName
	}
	if up.LastName != "" {
		usr.LastName = up.LastName
	}
	usr.UpdatedAt = svc.nowFunc().UTC()

	usr, err = svc.repo.UpdateUser(ctx, usr)
	return usr, errors.Wrap(err, "updating user")
}

func (svc *Service) ChangePassword(ctx context.Context, id string, cp ChangePassword) error {
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		return errors.Wrap(err, "finding user by ID")
	}
	if err = usr.CheckPassword(cp.CurrentPassword); err != nil {
		return ErrWrongPassword
	}
	if passwordTooSimilar(cp.NewPassword, usr.FirstName, usr.LastName, usr.Email) {
		return ErrPasswordTooSimilar
	}
	if err = usr.SetPassword(cp.NewPassword); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	usr.UpdatedAt = svc.nowFunc().UTC()

	_, err = svc.repo.UpdateUser(ctx, usr)
	return errors.Wrap(err, "updating user")
}

func (svc *Service) sendWelcomeMail(usr User) {
	if svc.mailSvc == nil {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{usr.Address()},
		Subject:      "Welcome to EduNexus",
		TemplateName: "welcome",
		TemplateData: usr.Info(),
	})
}
