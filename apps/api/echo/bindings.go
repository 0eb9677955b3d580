package echoapi

import (
	"github.com/labstack/echo/v4"

	"github.com/trezcool/engage/core"
)

const orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	if val := ctx.QueryParam(orderingParam); val != "" {
		ord.Orderings = core.ParseOrdering(val)
	}
}
