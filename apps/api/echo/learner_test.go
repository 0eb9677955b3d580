package echoapi_test

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/engage/core/learner"
	"github.com/trezcool/engage/core/risk"
)

func fPtr(f float64) *float64 { return &f }
func iPtr(i int) *int         { return &i }

// Without a last login, scores do not depend on the clock.
func seed(t *testing.T, app testApp) (ada, bola, chi learner.Learner) {
	ada = app.createLearner(t, learner.NewLearner{
		ID: "L001", Name: "Ada Obi", Email: "ada@example.com", Program: "Data Science",
		CompletedPercent: fPtr(20), AvgQuizScore: fPtr(30), ConsecutiveMissedSessions: iPtr(7),
	}) // 0.84
	bola = app.createLearner(t, learner.NewLearner{
		ID: "L002", Name: "Bola Ade", Email: "bola@example.com", Program: "Web Development",
		CompletedPercent: fPtr(60), AvgQuizScore: fPtr(80), ConsecutiveMissedSessions: iPtr(2),
	}) // 0.397
	chi = app.createLearner(t, learner.NewLearner{
		ID: "L003", Name: "Chi Eze", Email: "chi@example.com", Program: "data science",
		CompletedPercent: fPtr(40), AvgQuizScore: fPtr(50), ConsecutiveMissedSessions: iPtr(3),
	}) // 0.586
	return ada, bola, chi
}

func TestServer_home(t *testing.T) {
	app := setup(t)

	rec := app.do(t, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Welcome")

	rec = app.do(t, http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	unmarshall(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "learner-engagement-platform", body["service"])
	assert.NotEmpty(t, body["time"])

	checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marshallObj(t, httpErr{Error: "Not Found"})},
		app.do(t, http.MethodGet, "/api/nowhere"))
}

func Test_learnerApi_query(t *testing.T) {
	app := setup(t)
	ada, bola, chi := seed(t, app)
	require.Equal(t, risk.LabelHigh, ada.RiskLabel)
	require.Equal(t, risk.LabelLow, bola.RiskLabel)
	require.Equal(t, risk.LabelMedium, chi.RiskLabel)

	path := func(params ...string) string {
		v := make(url.Values)
		for i := 0; i+1 < len(params); i += 2 {
			v.Add(params[i], params[i+1])
		}
		return "/api/learners?" + v.Encode()
	}

	tests := []httpTest{
		{name: "Get all", path: "/api/learners", wantCode: http.StatusOK, wantData: marshallList(t, ada, bola, chi)},
		{name: "trailing slash", path: "/api/learners/", wantCode: http.StatusOK, wantData: marshallList(t, ada, bola, chi)},
		{name: "risk_filter=high", path: path("risk_filter", "high"), wantCode: http.StatusOK, wantData: marshallList(t, ada)},
		{name: "risk_filter=MEDIUM", path: path("risk_filter", "MEDIUM"), wantCode: http.StatusOK, wantData: marshallList(t, chi)},
		{
			name: "risk_filter (unknown)", path: path("risk_filter", "extreme"), wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string]string{"risk_filter": "must be one of: low, medium, high"}),
		},
		{name: "search (unknown)", path: path("search", "lol"), wantCode: http.StatusOK, wantData: marshallList(t)},
		{name: "search=BOLA", path: path("search", "BOLA"), wantCode: http.StatusOK, wantData: marshallList(t, bola)},
		{name: "search=example.com", path: path("search", "example.com"), wantCode: http.StatusOK, wantData: marshallList(t, ada, bola, chi)},
		{name: "program", path: path("program", "Data Science"), wantCode: http.StatusOK, wantData: marshallList(t, ada, chi)},
		{
			name: "program & risk_filter", path: path("program", "data science", "risk_filter", "medium"),
			wantCode: http.StatusOK, wantData: marshallList(t, chi),
		},
		{name: "ordering=-risk_score", path: path("ordering", "-risk_score"), wantCode: http.StatusOK, wantData: marshallList(t, ada, chi, bola)},
		{name: "ordering=name,unknown", path: path("ordering", "name,-lol"), wantCode: http.StatusOK, wantData: marshallList(t, ada, bola, chi)},
		{name: "limit & offset", path: path("limit", "1", "offset", "1"), wantCode: http.StatusOK, wantData: marshallList(t, bola)},
		{name: "offset past the end", path: path("offset", "10"), wantCode: http.StatusOK, wantData: marshallList(t)},
		{name: "limit=0", path: path("limit", "0"), wantCode: http.StatusBadRequest},
		{name: "limit=1001", path: path("limit", "1001"), wantCode: http.StatusBadRequest},
		{name: "offset=-1", path: path("offset", "-1"), wantCode: http.StatusBadRequest},
		{name: "limit=abc", path: path("limit", "abc"), wantCode: http.StatusBadRequest},
	}
	runHTTPTests(t, app, tests)
}

func Test_learnerApi_create(t *testing.T) {
	app := setup(t)
	seed(t, app)

	required := "this field is required"
	tests := []httpTest{
		{
			name: "required fields", method: http.MethodPost, path: "/api/learners", body: []byte(`{"name":"  "}`),
			wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string]string{"name": required, "email": required, "program": required}),
		},
		{
			name: "email taken", method: http.MethodPost, path: "/api/learners",
			body:     []byte(`{"name":"Ada","email":"ADA@example.com","program":"Design"}`),
			wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string]string{"email": learner.ErrEmailExists.Error()}),
		},
		{
			name: "id taken", method: http.MethodPost, path: "/api/learners",
			body:     []byte(`{"id":"L001","name":"Ada","email":"ada2@example.com","program":"Design"}`),
			wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string]string{"id": learner.ErrIDExists.Error()}),
		},
		{
			name: "bad id", method: http.MethodPost, path: "/api/learners",
			body:     []byte(`{"id":"id/with/slashes","name":"Ada","email":"ada2@example.com","program":"Design"}`),
			wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string]string{"id": "only letters, digits, dashes and underscores are allowed"}),
		},
		{name: "malformed JSON", method: http.MethodPost, path: "/api/learners", body: []byte(`{"name":`), wantCode: http.StatusBadRequest},
		{
			name: "wrong type", method: http.MethodPost, path: "/api/learners",
			body:     []byte(`{"name":"Ada","email":"ada2@example.com","program":"Design","completed_percent":"lots"}`),
			wantCode: http.StatusBadRequest,
		},
	}
	runHTTPTests(t, app, tests)

	t.Run("created", func(t *testing.T) {
		rec := app.do(t, http.MethodPost, "/api/learners", []byte(`{
			"id": "L010",
			"name": " Dayo Bello ",
			"email": "Dayo@Example.com",
			"program": "Design",
			"completed_percent": 100,
			"avg_quiz_score": 100
		}`))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var got learner.Learner
		unmarshall(t, rec, &got)
		assert.Equal(t, "L010", got.ID)
		assert.Equal(t, "Dayo Bello", got.Name)
		assert.Equal(t, "dayo@example.com", got.Email)
		assert.False(t, got.Phone.Valid)
		// never logged in: 0.1
		assert.Equal(t, 0.1, got.RiskScore)
		assert.Equal(t, risk.LabelLow, got.RiskLabel)
		assert.False(t, got.CreatedAt.IsZero())

		_, err := app.repo.GetLearner(context.Background(), "L010")
		assert.NoError(t, err)
	})
}

func Test_learnerApi_retrieve(t *testing.T) {
	app := setup(t)
	ada, _, _ := seed(t, app)

	tests := []httpTest{
		{
			name: "found", path: "/api/learners/L001", wantCode: http.StatusOK,
			wantData: marshallObj(t, learner.Detail{Learner: ada, Nudges: []learner.Nudge{}}),
		},
		{name: "not found", path: "/api/learners/L404", wantCode: http.StatusNotFound, wantData: marshallObj(t, httpErr{Error: "not found"})},
	}
	runHTTPTests(t, app, tests)
}

func Test_learnerApi_update(t *testing.T) {
	app := setup(t)
	_, bola, _ := seed(t, app)

	tests := []httpTest{
		{
			name: "not found", method: http.MethodPut, path: "/api/learners/L404", body: []byte(`{"name":"Nobody"}`),
			wantCode: http.StatusNotFound, wantData: marshallObj(t, httpErr{Error: "not found"}),
		},
		{
			name: "email taken", method: http.MethodPut, path: "/api/learners/L002", body: []byte(`{"email":"ada@example.com"}`),
			wantCode: http.StatusBadRequest, wantData: marshallObj(t, map[string]string{"email": learner.ErrEmailExists.Error()}),
		},
		{
			name: "invalid", method: http.MethodPut, path: "/api/learners/L002", body: []byte(`{"avg_quiz_score":101}`),
			wantCode: http.StatusBadRequest,
		},
	}
	runHTTPTests(t, app, tests)

	t.Run("updated", func(t *testing.T) {
		rec := app.do(t, http.MethodPut, "/api/learners/L002", []byte(`{"completed_percent":100,"avg_quiz_score":100,"consecutive_missed_sessions":0,"name":""}`))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var got learner.Learner
		unmarshall(t, rec, &got)
		assert.Equal(t, bola.Name, got.Name)
		assert.Equal(t, bola.Email, got.Email)
		assert.Equal(t, 100.0, got.CompletedPercent)
		assert.Equal(t, 0.1, got.RiskScore)
		assert.True(t, bola.CreatedAt.Equal(got.CreatedAt))
	})
}

func Test_learnerApi_destroy(t *testing.T) {
	app := setup(t)
	seed(t, app)

	rec := app.do(t, http.MethodPost, "/api/learners/L003/nudge", []byte(`{"channel":"in-app"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	tests := []httpTest{
		{name: "deleted", method: http.MethodDelete, path: "/api/learners/L003", wantCode: http.StatusNoContent},
		{name: "gone", path: "/api/learners/L003", wantCode: http.StatusNotFound, wantData: marshallObj(t, httpErr{Error: "not found"})},
		{name: "twice", method: http.MethodDelete, path: "/api/learners/L003", wantCode: http.StatusNotFound},
		{name: "others kept", path: "/api/learners?search=example", wantCode: http.StatusOK},
	}
	runHTTPTests(t, app, tests)

	nudges, err := app.repo.QueryNudges(context.Background(), "L003")
	require.NoError(t, err)
	assert.Empty(t, nudges)
}

func Test_learnerApi_nudge(t *testing.T) {
	app := setup(t)
	seed(t, app)

	tests := []httpTest{
		{
			name: "channel required", method: http.MethodPost, path: "/api/learners/L001/nudge", body: []byte(`{}`),
			wantCode: http.StatusBadRequest, wantData: marshallObj(t, map[string]string{"channel": "this field is required"}),
		},
		{
			name: "unknown channel", method: http.MethodPost, path: "/api/learners/L001/nudge", body: []byte(`{"channel":"sms"}`),
			wantCode: http.StatusBadRequest, wantData: marshallObj(t, map[string]string{"channel": "must be one of: in-app, whatsapp, email"}),
		},
		{
			name: "not found", method: http.MethodPost, path: "/api/learners/L404/nudge", body: []byte(`{"channel":"in-app"}`),
			wantCode: http.StatusNotFound, wantData: marshallObj(t, httpErr{Error: "not found"}),
		},
	}
	runHTTPTests(t, app, tests)

	t.Run("generated", func(t *testing.T) {
		rec := app.do(t, http.MethodPost, "/api/learners/L001/nudge", []byte(`{"channel":"WhatsApp","type":"quiz_reminder"}`))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var got map[string]interface{}
		unmarshall(t, rec, &got)
		assert.NotEmpty(t, got["nudge_id"])
		assert.Equal(t, "whatsapp", got["channel"])
		assert.Equal(t, true, got["gpt_fallback"])
		assert.Equal(t, "fallback_v1.0", got["prompt_version"])
		assert.True(t, strings.Contains(got["content"].(string), "Ada Obi"))

		rec = app.do(t, http.MethodGet, "/api/learners/L001")
		require.Equal(t, http.StatusOK, rec.Code)
		var detail learner.Detail
		unmarshall(t, rec, &detail)
		require.Len(t, detail.Nudges, 1)
		assert.Equal(t, got["nudge_id"], detail.Nudges[0].ID)
		assert.Equal(t, learner.NudgeTypeQuizReminder, detail.Nudges[0].Type)
	})
}

func Test_learnerApi_quiz(t *testing.T) {
	app := setup(t)
	seed(t, app)

	rec := app.do(t, http.MethodPost, "/api/learners/L404/quiz")
	checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marshallObj(t, httpErr{Error: "not found"})}, rec)

	rec = app.do(t, http.MethodPost, "/api/learners/L001/quiz", []byte(`{"difficulty":"HARD","topic_focus":"pandas"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got learner.QuizResult
	unmarshall(t, rec, &got)
	assert.True(t, got.GPTFallback)
	assert.Equal(t, "Knowledge Check: Data Science", got.Content.Title)
	assert.Len(t, got.Content.Questions, 3)
	assert.Equal(t, 25, got.Content.TotalPoints)

	rec = app.do(t, http.MethodGet, "/api/learners/L001/events")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []learner.Event
	unmarshall(t, rec, &events)
	require.Len(t, events, 1)
	assert.Equal(t, learner.EventQuizGenerated, events[0].Type)
	assert.JSONEq(t, `{"difficulty":"hard","topic_focus":"pandas","gpt_fallback":true}`, string(events[0].Metadata))

	rec = app.do(t, http.MethodGet, "/api/learners/L002/events")
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marshallList(t)}, rec)
}

func Test_simulationApi_run(t *testing.T) {
	app := setup(t)
	seed(t, app)

	tests := []httpTest{
		{name: "bad threshold", method: http.MethodPost, path: "/api/simulate/run", body: []byte(`{"risk_threshold":2}`), wantCode: http.StatusBadRequest},
		{
			name: "defaults", method: http.MethodPost, path: "/api/simulate/run", wantCode: http.StatusOK,
			wantData: marshallObj(t, learner.SimulationResult{ProcessedLearners: 3, HighRiskCount: 1, MediumRiskCount: 1, LowRiskCount: 1}),
		},
		{
			name: "auto nudge", method: http.MethodPost, path: "/api/simulate/run", body: []byte(`{"auto_nudge":true,"risk_threshold":0.5}`),
			wantCode: http.StatusOK,
			wantData: marshallObj(t, learner.SimulationResult{
				ProcessedLearners: 3, HighRiskCount: 1, MediumRiskCount: 1, LowRiskCount: 1, AutoNudgesGenerated: 2,
			}),
		},
	}
	runHTTPTests(t, app, tests)

	rec := app.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `engage_http_requests_total{code="200",method="POST",route="/api/simulate/run"} 2`)
	assert.Contains(t, body, `engage_http_requests_total{code="400",method="POST",route="/api/simulate/run"} 1`)
	assert.Contains(t, body, `engage_nudges_generated_total{channel="in-app",fallback="true"} 2`)
	assert.Contains(t, body, "engage_simulation_runs_total 2")
}
