package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/qiniu/quizops/internal/deploy/model"
	"github.com/qiniu/quizops/internal/deploy/transfer"
	"github.com/rs/zerolog/log"
)

func (api *Api) setupDeployRouters(router *gin.Engine) {
	router.POST("/v1/deployments", api.Deploy)
	router.GET("/v1/deployments", api.ListDeployments)
	router.GET("/v1/deployments/:id", api.GetDeployment)
	router.POST("/v1/rollbacks", api.Rollback)
}

// Deploy 同步执行一次部署，同一时间只允许一个
func (api *Api) Deploy(c *gin.Context) {
	var params model.DeployParams
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&params); err != nil {
			SendErrorResponse(c, http.StatusBadRequest, model.ErrorCodeInvalidParameter,
				"Invalid request body: "+err.Error())
			return
		}
	}

	// manual 需要在终端上确认，API 请求无法完成
	if params.Strategy == transfer.StrategyManual {
		SendErrorResponse(c, http.StatusBadRequest, model.ErrorCodeInvalidParameter,
			"strategy \"manual\" requires an interactive terminal, use the CLI")
		return
	}

	result, err := api.service.Deploy(c.Request.Context(), &params)
	api.sendOperation(c, result, err)
}

// Rollback 回滚到指定快照，snapshot_id 为空或 latest 时使用最新快照
func (api *Api) Rollback(c *gin.Context) {
	var params model.RollbackParams
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&params); err != nil {
			SendErrorResponse(c, http.StatusBadRequest, model.ErrorCodeInvalidParameter,
				"Invalid request body: "+err.Error())
			return
		}
	}

	result, err := api.service.Rollback(c.Request.Context(), &params)
	api.sendOperation(c, result, err)
}

func (api *Api) sendOperation(c *gin.Context, result *model.OperationResult, err error) {
	if err == nil {
		c.JSON(http.StatusOK, model.OperationResponse{OperationResult: result})
		return
	}
	if result == nil || result.Deployment == nil {
		sendError(c, err)
		return
	}

	// 流程已经开始，返回记录方便调用方查看失败步骤和回滚结果
	status, code := errorStatus(err)
	if code == model.ErrorCodeInternalError {
		status, code = http.StatusInternalServerError, model.ErrorCodeOperationFailed
	}
	d := result.Deployment
	log.Warn().Err(err).Str("deployment", d.ID).Str("status", string(d.Status)).Msg("operation failed")
	c.JSON(status, model.OperationResponse{
		OperationResult: result,
		Error: &model.ErrorDetail{
			Code:       code,
			Message:    err.Error(),
			Deployment: d.ID,
			Step:       d.FailedStep,
		},
	})
}

// ListDeployments 最近的部署和回滚记录
func (api *Api) ListDeployments(c *gin.Context) {
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		SendErrorResponse(c, http.StatusBadRequest, model.ErrorCodeInvalidParameter, err.Error())
		return
	}
	list, err := api.service.ListDeployments(c.Request.Context(), limit)
	if err != nil {
		sendError(c, err)
		return
	}
	if list == nil {
		list = []*model.Deployment{}
	}
	c.JSON(http.StatusOK, gin.H{"items": list})
}

func (api *Api) GetDeployment(c *gin.Context) {
	d, err := api.service.GetDeployment(c.Request.Context(), c.Param("id"))
	if err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}
