package echoapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/engage/core/learner"
)

var nowFunc = func() time.Time { return time.Now().UTC() } // mockable

type learnerApi struct {
	svc      learner.ServiceInterface
	validate *validator.Validate
}

func registerLearnerAPI(g *echo.Group, svc learner.ServiceInterface, validate *validator.Validate) {
	api := learnerApi{
		svc:      svc,
		validate: validate,
	}

	lg := g.Group("/learners")
	lg.GET("", api.query)
	lg.POST("", api.create)

	// detail endpoints
	dg := lg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy)
	dg.GET("/events", api.events)
	dg.POST("/nudge", api.nudge)
	dg.POST("/quiz", api.quiz)
}

func registerSimulationAPI(g *echo.Group, svc learner.ServiceInterface, validate *validator.Validate) {
	api := learnerApi{
		svc:      svc,
		validate: validate,
	}
	g.POST("/simulate/run", api.simulate)
}

// Handlers

func (api *learnerApi) create(ctx echo.Context) error {
	var data learner.NewLearner
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewLearner")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	l, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating learner")
	}
	return ctx.JSON(http.StatusCreated, l)
}

func (api *learnerApi) query(ctx echo.Context) error {
	filter := learner.NewQueryFilter()
	if err := ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	if err := filter.Validate(api.validate); err != nil {
		return err
	}
	var ord Ordering
	ord.Bind(ctx)

	learners, err := api.svc.Query(ctx.Request().Context(), filter, ord.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying learners")
	}
	if learners == nil {
		learners = []learner.Learner{}
	}
	return ctx.JSON(http.StatusOK, learners)
}

func (api *learnerApi) retrieve(ctx echo.Context) error {
	detail, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting learner")
	}
	return ctx.JSON(http.StatusOK, detail)
}

func (api *learnerApi) update(ctx echo.Context) error {
	var data learner.UpdateLearner
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateLearner")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	l, err := api.svc.Update(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating learner")
	}
	return ctx.JSON(http.StatusOK, l)
}

func (api *learnerApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting learner")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *learnerApi) events(ctx echo.Context) error {
	events, err := api.svc.Events(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying events")
	}
	return ctx.JSON(http.StatusOK, events)
}

func (api *learnerApi) nudge(ctx echo.Context) error {
	var data learner.NudgeRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NudgeRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.GenerateNudge(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "generating nudge")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *learnerApi) quiz(ctx echo.Context) error {
	var data learner.QuizRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to QuizRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.GenerateQuiz(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "generating quiz")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *learnerApi) simulate(ctx echo.Context) error {
	data := learner.NewSimulationRequest()
	if err := ctx.Bind(data); err != nil {
		return errors.Wrap(err, "binding to SimulationRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.RunSimulation(ctx.Request().Context(), *data)
	if err != nil {
		return errors.Wrap(err, "running simulation")
	}
	return ctx.JSON(http.StatusOK, res)
}
