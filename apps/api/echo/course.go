package echoapi

import (
	"net/http"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/kbhujbal/edunexus/core/course"
	"github.com/kbhujbal/edunexus/core/user"
	"github.com/kbhujbal/edunexus/services/export"
)

type courseApi struct {
	svc        *course.Service
	validate   *validator.Validate
	translator ut.Translator
}

func registerCourseAPI(g *echo.Group, auth echo.MiddlewareFunc, deps *Deps) {
	api := courseApi{
		svc:        deps.CourseSvc,
		validate:   deps.Validate,
		translator: deps.Translator,
	}

	cg := g.Group("/courses")

	// un-authed endpoints
	cg.GET("", api.query)
	cg.GET("/:id", api.retrieve)

	// authed endpoints
	cg.POST("", api.create, auth, roleMiddleware(user.RoleInstructor, user.RoleAdmin))
	cg.PUT("/:id", api.update, auth)
	cg.DELETE("/:id", api.destroy, auth)
	cg.POST("/:id/enroll", api.enroll, auth, roleMiddleware(user.RoleStudent))
	cg.POST("/:id/assistants", api.addAssistant, auth)
	cg.POST("/:id/announcements", api.postAnnouncement, auth)
	cg.POST("/:id/discussions", api.startDiscussion, auth)
	cg.POST("/:id/discussions/:did/replies", api.reply, auth)
	cg.GET("/:id/roster.xlsx", api.roster, auth)
}

// Handlers

func (api *courseApi) query(ctx echo.Context) error {
	ordering := new(Ordering)
	ordering.Bind(ctx)
	if err := ordering.Validate(course.OrderingFields); err != nil {
		return err
	}

	courses, err := api.svc.ListDetailed(ctx.Request().Context(), ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	for i := range courses {
		courses[i].Course = courses[i].Course.Redacted()
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *courseApi) retrieve(ctx echo.Context) error {
	d, err := api.svc.GetDetailed(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting course")
	}
	d.Course = d.Course.Redacted()
	return ctx.JSON(http.StatusOK, d)
}

func (api *courseApi) create(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	var data course.NewCourse
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourse")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	c, err := api.svc.Create(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "creating course")
	}
	return ctx.JSON(http.StatusCreated, c.Redacted())
}

func (api *courseApi) update(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	var data course.UpdateCourse
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateCourse")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	c, err := api.svc.Update(ctx.Request().Context(), usr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating course")
	}
	return ctx.JSON(http.StatusOK, c.Redacted())
}

func (api *courseApi) destroy(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	if err = api.svc.Delete(ctx.Request().Context(), usr, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting course")
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: "Course deleted"})
}

func (api *courseApi) enroll(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	c, err := api.svc.Enroll(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "enrolling")
	}
	return ctx.JSON(http.StatusOK, EnrollResponse{Message: "Successfully enrolled in course", Course: c.Redacted()})
}

func (api *courseApi) addAssistant(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	var data course.NewTeachingAssistant
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTeachingAssistant")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	c, err := api.svc.AddTeachingAssistant(ctx.Request().Context(), usr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "adding teaching assistant")
	}
	return ctx.JSON(http.StatusOK, c.Redacted())
}

func (api *courseApi) postAnnouncement(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	var data course.NewAnnouncement
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAnnouncement")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	a, err := api.svc.PostAnnouncement(ctx.Request().Context(), usr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "posting announcement")
	}
	return ctx.JSON(http.StatusCreated, a)
}

func (api *courseApi) startDiscussion(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	var data course.NewDiscussion
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewDiscussion")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	d, err := api.svc.StartDiscussion(ctx.Request().Context(), usr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "starting discussion")
	}
	return ctx.JSON(http.StatusCreated, d.Redacted())
}

func (api *courseApi) reply(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	var data course.NewReply
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewReply")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	r, err := api.svc.Reply(ctx.Request().Context(), usr, ctx.Param("id"), ctx.Param("did"), data)
	if err != nil {
		return errors.Wrap(err, "replying to discussion")
	}
	return ctx.JSON(http.StatusCreated, r.Redacted())
}

func (api *courseApi) roster(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	c, students, err := api.svc.Roster(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting roster")
	}
	buf, err := export.Roster(c, students)
	if err != nil {
		return errors.Wrap(err, "exporting roster")
	}

	ctx.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+export.RosterFilename(c, time.Now())+`"`)
	return ctx.Blob(http.StatusOK, export.XLSXMIME, buf.Bytes())
}

type EnrollResponse struct {
	Message string        `json:"message"`
	Course  course.Course `json:"course"`
}
