package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/kbhujbal/edunexus/core"
)

var orderingParam = "ordering"

// Ordering binds the `?ordering=field,-other` query parameter.
type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// Validate rejects fields outside of allowed.
func (ord *Ordering) Validate(allowed []string) error {
	for _, o := range ord.Orderings {
		if !core.ContainsString(allowed, o.Field) {
			return core.NewValidationError(nil, core.FieldError{
				Field: orderingParam,
				Error: "cannot order by " + o.Field + "; allowed: " + strings.Join(allowed, ", "),
			})
		}
	}
	return nil
}
