package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/kbhujbal/edunexus/core"
	"github.com/kbhujbal/edunexus/core/user"
)

type newAccount struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first" validate:"required,notblank"`
	LastName  string `json:"last" validate:"required,notblank"`
	Role      string `json:"role" validate:"oneof=STUDENT INSTRUCTOR ADMIN"`
	Password  string `json:"password" validate:"min=6"`
}

func (na *newAccount) clean() {
	na.Email = core.CleanString(na.Email, true /* lower */)
	na.FirstName = core.CleanString(na.FirstName)
	na.LastName = core.CleanString(na.LastName)
	na.Role = strings.ToUpper(core.CleanString(na.Role))
}

// addUser creates a user.User, or resets its password and grants it the role when the email is taken.
// This is the only way to get an ADMIN account.
func (cli *commandLine) addUser(na newAccount) error {
	na.clean()
	if err := cli.validate.Struct(na); err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) {
			return invalidAccountError(vErrs)
		}
		return err
	}

	ctx := context.Background()
	now := time.Now().UTC()
	role := user.Role(na.Role)

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Email: na.Email})
	switch {
	case err == nil:
		if !usr.HasRole(role) {
			usr.Roles = append(usr.Roles, role)
		}
		if err = usr.SetPassword(na.Password); err != nil {
			return errors.Wrap(err, "hashing password")
		}
		usr.UpdatedAt = now
		if _, err = cli.usrRepo.UpdateUser(ctx, usr); err != nil {
			return errors.Wrap(err, "updating user")
		}
		logger.Info(fmt.Sprintf("updated user %s", usr.Email))
		return nil
	case errors.Cause(err) != user.ErrNotFound:
		return errors.Wrap(err, "finding user by email")
	}

	usr = user.User{
		Email:     na.Email,
		FirstName: na.FirstName,
		LastName:  na.LastName,
		Roles:     []user.Role{role},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err = usr.SetPassword(na.Password); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	if usr, err = cli.usrRepo.CreateUser(ctx, usr); err != nil {
		return errors.Wrap(err, "creating user")
	}
	logger.Info(fmt.Sprintf("created %s user %s (%s)", role, usr.Email, usr.ID))
	return nil
}

func invalidAccountError(vErrs validator.ValidationErrors) error {
	fields := make([]string, 0, len(vErrs))
	for _, fe := range vErrs {
		fields = append(fields, fe.Field())
	}
	sort.Strings(fields)
	return fmt.Errorf("invalid %s", strings.Join(fields, ", "))
}
