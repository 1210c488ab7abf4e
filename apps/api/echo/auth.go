package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/kbhujbal/edunexus/core"
	"github.com/kbhujbal/edunexus/core/token"
	"github.com/kbhujbal/edunexus/core/user"
)

const contextUserKey = "user"

var errMissingToken = core.NewError(core.KindUnauthenticated, "missing or malformed token")

// requireAuthenticated resolves the bearer token to a user and stores it on the context.
func requireAuthenticated(tokens *token.Service, usrSvc *user.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			raw, ok := bearerToken(ctx.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return errMissingToken
			}
			subject, err := tokens.Verify(raw)
			if err != nil {
				return err
			}

			usr, err := usrSvc.GetByID(ctx.Request().Context(), subject)
			if err != nil {
				if errors.Cause(err) == user.ErrNotFound {
					return core.ErrUnauthenticated
				}
				return errors.Wrap(err, "finding user by ID")
			}
			ctx.Set(contextUserKey, usr)
			return next(ctx)
		}
	}
}

func bearerToken(header string) (string, bool) {
	scheme, raw, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func getContextUser(ctx echo.Context) (user.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(user.User); ok {
		return usr, nil
	}
	return user.User{}, core.ErrUnauthenticated
}
