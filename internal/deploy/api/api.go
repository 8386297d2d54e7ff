package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/qiniu/quizops/internal/deploy/bundle"
	"github.com/qiniu/quizops/internal/deploy/lock"
	"github.com/qiniu/quizops/internal/deploy/model"
	"github.com/qiniu/quizops/internal/deploy/service"
	"github.com/qiniu/quizops/internal/deploy/snapshot"
	"github.com/qiniu/quizops/internal/deploy/transfer"
	"github.com/qiniu/quizops/internal/deploy/verify"
)

type Api struct {
	service  service.DeployService
	gatherer prometheus.Gatherer
	router   *gin.Engine
}

// NewApi gatherer 为 nil 时使用默认 registry
func NewApi(svc service.DeployService, gatherer prometheus.Gatherer, router *gin.Engine) (*Api, error) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	api := &Api{
		service:  svc,
		gatherer: gatherer,
		router:   router,
	}

	api.setupRouters(router)
	return api, nil
}

func (api *Api) setupRouters(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(api.gatherer, promhttp.HandlerOpts{})))

	// 部署和回滚
	api.setupDeployRouters(router)

	// 快照、验证和运行状态
	api.setupInstanceRouters(router)
}

// SendErrorResponse 发送错误响应
func SendErrorResponse(c *gin.Context, statusCode int, errorCode, message string) {
	c.JSON(statusCode, model.ErrorResponse{
		Error: model.ErrorDetail{Code: errorCode, Message: message},
	})
}

// errorStatus 把领域错误映射为 HTTP 状态码和错误码
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, lock.ErrLockHeld):
		return http.StatusConflict, model.ErrorCodeConflict
	case errors.Is(err, model.ErrDeploymentNotFound), errors.Is(err, snapshot.ErrSnapshotNotFound):
		return http.StatusNotFound, model.ErrorCodeNotFound
	case errors.Is(err, bundle.ErrMissingSource), errors.Is(err, bundle.ErrInvalidPath),
		errors.Is(err, transfer.ErrUnknownStrategy), errors.Is(err, snapshot.ErrBundleMismatch):
		return http.StatusBadRequest, model.ErrorCodeInvalidParameter
	case errors.Is(err, verify.ErrProbeFailed), errors.Is(err, verify.ErrInstanceCount), errors.Is(err, verify.ErrNotReady):
		return http.StatusBadGateway, model.ErrorCodeProbeFailed
	default:
		return http.StatusInternalServerError, model.ErrorCodeInternalError
	}
}

func sendError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	SendErrorResponse(c, status, code, err.Error())
}
