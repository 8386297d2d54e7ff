package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/qiniu/quizops/internal/deploy/bundle"
	"github.com/qiniu/quizops/internal/deploy/lock"
	"github.com/qiniu/quizops/internal/deploy/model"
	"github.com/qiniu/quizops/internal/deploy/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService 按需替换各个方法
type fakeService struct {
	DeployFunc   func(ctx context.Context, params *model.DeployParams) (*model.OperationResult, error)
	RollbackFunc func(ctx context.Context, params *model.RollbackParams) (*model.OperationResult, error)
	VerifyFunc   func(ctx context.Context) ([]*model.ProbeResult, error)
	deployments  map[string]*model.Deployment
}

func (f *fakeService) Deploy(ctx context.Context, params *model.DeployParams) (*model.OperationResult, error) {
	return f.DeployFunc(ctx, params)
}

func (f *fakeService) Rollback(ctx context.Context, params *model.RollbackParams) (*model.OperationResult, error) {
	return f.RollbackFunc(ctx, params)
}

func (f *fakeService) Verify(ctx context.Context) ([]*model.ProbeResult, error) {
	return f.VerifyFunc(ctx)
}

func (f *fakeService) Liveness(context.Context) error { return nil }

func (f *fakeService) Status(context.Context) (*model.ServiceStatus, error) {
	return &model.ServiceStatus{Supervisor: "systemd", Instances: 1, Live: true}, nil
}

func (f *fakeService) Logs(_ context.Context, lines int) (string, error) {
	return fmt.Sprintf("last %d lines", lines), nil
}

func (f *fakeService) ListSnapshots(context.Context) ([]*model.Snapshot, error) {
	return []*model.Snapshot{{ID: "backup_20250301_120000"}}, nil
}

func (f *fakeService) PruneSnapshots(_ context.Context, keep int) ([]string, error) {
	return []string{fmt.Sprintf("pruned-beyond-%d", keep)}, nil
}

func (f *fakeService) ListDeployments(context.Context, int) ([]*model.Deployment, error) {
	return nil, nil
}

func (f *fakeService) GetDeployment(_ context.Context, id string) (*model.Deployment, error) {
	if d, ok := f.deployments[id]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s", model.ErrDeploymentNotFound, id)
}

func newTestRouter(t *testing.T, svc *fakeService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	_, err := NewApi(svc, prometheus.NewRegistry(), router)
	require.NoError(t, err)
	return router
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestDeploySuccess(t *testing.T) {
	var got *model.DeployParams
	svc := &fakeService{DeployFunc: func(_ context.Context, params *model.DeployParams) (*model.OperationResult, error) {
		got = params
		return &model.OperationResult{Deployment: &model.Deployment{ID: "d1", Status: model.StateSucceeded}}, nil
	}}
	w := do(newTestRouter(t, svc), http.MethodPost, "/v1/deployments", `{"operator":"alice","strategy":"sftp"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", got.Operator)
	assert.Equal(t, "sftp", got.Strategy)

	var resp model.OperationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, model.StateSucceeded, resp.Deployment.Status)
	assert.Nil(t, resp.Error)
}

func TestDeployRejectsManualStrategy(t *testing.T) {
	called := false
	svc := &fakeService{DeployFunc: func(context.Context, *model.DeployParams) (*model.OperationResult, error) {
		called = true
		return nil, nil
	}}
	w := do(newTestRouter(t, svc), http.MethodPost, "/v1/deployments", `{"strategy":"manual"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), model.ErrorCodeInvalidParameter)
	assert.False(t, called)
}

func TestDeployErrors(t *testing.T) {
	tests := []struct {
		name   string
		result *model.OperationResult
		err    error
		status int
		code   string
	}{
		{"lock held", nil, &lock.HeldError{Holder: "bob"}, http.StatusConflict, model.ErrorCodeConflict},
		{"missing source", &model.OperationResult{Deployment: &model.Deployment{ID: "d2", Status: model.StateFailed, FailedStep: "preflight"}},
			&bundle.MissingSourceError{Paths: []string{"config.py"}}, http.StatusBadRequest, model.ErrorCodeInvalidParameter},
		{"verify failed and rolled back", &model.OperationResult{Deployment: &model.Deployment{ID: "d3", Status: model.StateRolledBack, FailedStep: "verify"}},
			&verify.ProbeError{Probe: verify.ProbeGenerate, StatusCode: 500, Reason: "boom"}, http.StatusBadGateway, model.ErrorCodeProbeFailed},
		{"restart failed", &model.OperationResult{Deployment: &model.Deployment{ID: "d4", Status: model.StateRollbackFailed, FailedStep: "restart"}},
			fmt.Errorf("exit status 1"), http.StatusInternalServerError, model.ErrorCodeOperationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{DeployFunc: func(context.Context, *model.DeployParams) (*model.OperationResult, error) {
				return tt.result, tt.err
			}}
			w := do(newTestRouter(t, svc), http.MethodPost, "/v1/deployments", "")
			assert.Equal(t, tt.status, w.Code)

			var resp model.OperationResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			if tt.result != nil {
				assert.Equal(t, tt.result.Deployment.ID, resp.Error.Deployment)
				assert.Equal(t, tt.result.Deployment.FailedStep, resp.Error.Step)
				assert.Equal(t, tt.result.Deployment.Status, resp.Deployment.Status)
			}
		})
	}
}

func TestDeployBadBody(t *testing.T) {
	w := do(newTestRouter(t, &fakeService{}), http.MethodPost, "/v1/deployments", `{"dry_run": "yes"`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRollback(t *testing.T) {
	var got *model.RollbackParams
	svc := &fakeService{RollbackFunc: func(_ context.Context, params *model.RollbackParams) (*model.OperationResult, error) {
		got = params
		return &model.OperationResult{
			Deployment: &model.Deployment{ID: "r1", Kind: model.KindRollback, Status: model.StateSucceeded, SnapshotID: "backup_20250301_120000"},
			Snapshot:   &model.Snapshot{ID: "backup_20250301_120000"},
		}, nil
	}}
	w := do(newTestRouter(t, svc), http.MethodPost, "/v1/rollbacks", `{"snapshot_id":"latest"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "latest", got.SnapshotID)
	assert.Contains(t, w.Body.String(), "backup_20250301_120000")
}

func TestGetDeployment(t *testing.T) {
	svc := &fakeService{deployments: map[string]*model.Deployment{"d1": {ID: "d1", Status: model.StateSucceeded}}}
	router := newTestRouter(t, svc)

	w := do(router, http.MethodGet, "/v1/deployments/d1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/v1/deployments/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodGet, "/v1/deployments?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodGet, "/v1/deployments", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[]}`, w.Body.String())
}

func TestVerify(t *testing.T) {
	probes := []*model.ProbeResult{{Name: verify.ProbeLiveness, OK: true, StatusCode: 200}}
	svc := &fakeService{VerifyFunc: func(context.Context) ([]*model.ProbeResult, error) { return probes, nil }}
	w := do(newTestRouter(t, svc), http.MethodPost, "/v1/verify", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp model.VerifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Len(t, resp.Probes, 1)

	svc.VerifyFunc = func(context.Context) ([]*model.ProbeResult, error) {
		return probes, &verify.ProbeError{Probe: verify.ProbeChat, Reason: "context lost"}
	}
	w = do(newTestRouter(t, svc), http.MethodPost, "/v1/verify", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, verify.ProbeChat)
}

func TestInstanceRoutes(t *testing.T) {
	router := newTestRouter(t, &fakeService{})

	w := do(router, http.MethodGet, "/v1/status", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"instances":1`)

	w = do(router, http.MethodGet, "/v1/logs?lines=5", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "last 5 lines", w.Body.String())

	w = do(router, http.MethodGet, "/v1/snapshots", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "backup_20250301_120000")

	w = do(router, http.MethodPost, "/v1/snapshots/prune", `{"keep":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/v1/snapshots/prune", `{"keep":3}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pruned-beyond-3")

	w = do(router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
