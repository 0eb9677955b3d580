package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap/zaptest"

	"github.com/trezcool/engage/apps/api/echo"
	"github.com/trezcool/engage/core"
	"github.com/trezcool/engage/core/learner"
	"github.com/trezcool/engage/services/content"
	"github.com/trezcool/engage/services/email"
	"github.com/trezcool/engage/services/logger"
	"github.com/trezcool/engage/services/metrics"
	"github.com/trezcool/engage/storage/database/inmem"
)

type testApp struct {
	echoapi.Server
	svc     *learner.Service
	repo    learner.Repository
	metrics *metricsvc.Recorder
}

func setup(t *testing.T) testApp {
	t.Helper()

	conf := &core.Config{
		AppName:  "Engage",
		TestMode: true,
		Server:   core.ServerConfig{DisableReqLogs: true},
	}
	logger := logsvc.WrapZap(zaptest.NewLogger(t))

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	learner.InitValidators(validate, translator)

	// set up DB & repos
	repo := inmemdb.NewLearnerRepository(inmemdb.Open())

	// set up services
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	generator := contentsvc.NewGenerator(conf, contentsvc.NewFallback(nil), logger)
	recorder := metricsvc.NewRecorder()
	svc := learner.NewService(repo, generator, mailSvc, validate, logger, conf)
	svc.SetRecorder(recorder)

	// set up server
	server := echoapi.NewServer(echoapi.ServerDeps{
		Conf:       conf,
		Logger:     logger,
		LearnerSvc: svc,
		Validate:   validate,
		Translator: translator,
		Metrics:    recorder,
	})
	return testApp{Server: server, svc: svc, repo: repo, metrics: recorder}
}

func (app testApp) createLearner(t *testing.T, nl learner.NewLearner) learner.Learner {
	t.Helper()
	ctx := context.Background()
	l, err := app.svc.Create(ctx, nl)
	if err != nil {
		t.Fatalf("createLearner(): %v", err)
	}
	if l, err = app.repo.GetLearner(ctx, l.ID); err != nil {
		t.Fatalf("createLearner(): %v", err)
	}
	return l
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	wantCode int
	wantData []byte
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	return req, rec
}

func (app testApp) do(t *testing.T, method, path string, data ...[]byte) *httptest.ResponseRecorder {
	t.Helper()
	req, rec := newRequest(method, path, data...)
	app.ServeHTTP(rec, req)
	return rec
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj(): %v", err)
	}
	return data
}

func marshallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marshallList(): %v", err)
	}
	return data
}

func unmarshall(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshall(%s): %v", rec.Body.String(), err)
	}
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, app testApp, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			rec := app.do(t, method, tt.path, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}
}
