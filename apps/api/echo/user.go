package echoapi

import (
	"net/http"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/kbhujbal/edunexus/core/course"
	"github.com/kbhujbal/edunexus/core/token"
	"github.com/kbhujbal/edunexus/core/user"
)

type userApi struct {
	svc        *user.Service
	courseSvc  *course.Service
	tokens     *token.Service
	validate   *validator.Validate
	translator ut.Translator
}

func newUserApi(deps *Deps) *userApi {
	return &userApi{
		svc:        deps.UserSvc,
		courseSvc:  deps.CourseSvc,
		tokens:     deps.Tokens,
		validate:   deps.Validate,
		translator: deps.Translator,
	}
}

func registerAuthAPI(g *echo.Group, limiter echo.MiddlewareFunc, deps *Deps) {
	api := newUserApi(deps)

	ag := g.Group("/auth", limiter)
	ag.POST("/register", api.register)
	ag.POST("/login", api.login)
}

func registerUserAPI(g *echo.Group, auth echo.MiddlewareFunc, deps *Deps) {
	api := newUserApi(deps)

	ug := g.Group("/users", auth)
	ug.GET("/profile", api.profile)
	ug.PUT("/profile", api.updateProfile)
	ug.PUT("/password", api.changePassword)
}

// Handlers

func (api *userApi) register(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	usr, err := api.svc.Register(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering user")
	}
	resp, err := api.authResponse(usr)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, resp)
}

func (api *userApi) login(ctx echo.Context) error {
	var data user.Credentials
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Credentials")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	usr, err := api.svc.Authenticate(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "authenticating")
	}
	resp, err := api.authResponse(usr)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, resp)
}

// ProfileResponse is the user with the courses they study and manage in short form.
type ProfileResponse struct {
	user.User
	EnrolledCourses []course.Summary `json:"enrolled_courses"`
	ManagedCourses  []course.Summary `json:"managed_courses"`
}

func (api *userApi) profile(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	resp := ProfileResponse{User: usr}
	if resp.EnrolledCourses, err = api.courseSvc.Summaries(ctx.Request().Context(), usr.EnrolledCourseIDs); err != nil {
		return errors.Wrap(err, "getting enrolled courses")
	}
	if resp.ManagedCourses, err = api.courseSvc.Summaries(ctx.Request().Context(), usr.ManagedCourseIDs); err != nil {
		return errors.Wrap(err, "getting managed courses")
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (api *userApi) updateProfile(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	var data user.UpdateProfile
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateProfile")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	usr, err = api.svc.UpdateProfile(ctx.Request().Context(), usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating profile")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) changePassword(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	var data user.ChangePassword
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ChangePassword")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	if err = api.svc.ChangePassword(ctx.Request().Context(), usr.ID, data); err != nil {
		return errors.Wrap(err, "changing password")
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: "Password updated"})
}

func (api *userApi) authResponse(usr user.User) (AuthResponse, error) {
	tkn, claims, err := api.tokens.Issue(usr.ID)
	if err != nil {
		return AuthResponse{}, errors.Wrap(err, "issuing token")
	}
	return AuthResponse{Token: tkn, ExpiresAt: claims.ExpiresAt.Time, User: usr}, nil
}

type (
	AuthResponse struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
		User      user.User `json:"user"`
	}

	MessageResponse struct {
		Message string `json:"message"`
	}
)
