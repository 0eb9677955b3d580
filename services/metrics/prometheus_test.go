package metricsvc

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/engage/core/risk"
)

func TestRecorder(t *testing.T) {
	r := NewRecorder()

	r.RiskComputed(risk.LabelHigh)
	r.RiskComputed(risk.LabelHigh)
	r.RiskComputed(risk.LabelLow)
	r.NudgeGenerated("email", true)
	r.SimulationRun(8, 150*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.risksComputed.WithLabelValues("high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.risksComputed.WithLabelValues("low")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.nudgesGenerated.WithLabelValues("email", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.simulationRuns))
	assert.Equal(t, 8.0, testutil.ToFloat64(r.simulationLearners))
}

func TestRecorder_Middleware(t *testing.T) {
	r := NewRecorder()
	e := echo.New()
	e.Use(r.Middleware())
	e.GET("/api/learners/:id", func(c echo.Context) error {
		if c.Param("id") == "L404" {
			return echo.NewHTTPError(http.StatusNotFound, "not found")
		}
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(r.Handler()))

	for _, id := range []string{"L001", "L002", "L404"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/learners/"+id, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(r.httpRequests.WithLabelValues("GET", "/api/learners/:id", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.httpRequests.WithLabelValues("GET", "/api/learners/:id", "404")))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `engage_http_requests_total{code="404",method="GET",route="/api/learners/:id"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
