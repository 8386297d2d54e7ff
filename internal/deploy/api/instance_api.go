package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/qiniu/quizops/internal/deploy/model"
)

func (api *Api) setupInstanceRouters(router *gin.Engine) {
	router.GET("/v1/snapshots", api.ListSnapshots)
	router.POST("/v1/snapshots/prune", api.PruneSnapshots)
	router.POST("/v1/verify", api.Verify)
	router.GET("/v1/status", api.Status)
	router.GET("/v1/logs", api.Logs)
}

func (api *Api) ListSnapshots(c *gin.Context) {
	snaps, err := api.service.ListSnapshots(c.Request.Context())
	if err != nil {
		sendError(c, err)
		return
	}
	if snaps == nil {
		snaps = []*model.Snapshot{}
	}
	c.JSON(http.StatusOK, gin.H{"items": snaps})
}

func (api *Api) PruneSnapshots(c *gin.Context) {
	var req model.PruneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendErrorResponse(c, http.StatusBadRequest, model.ErrorCodeInvalidParameter,
			"Invalid request body: "+err.Error())
		return
	}
	removed, err := api.service.PruneSnapshots(c.Request.Context(), req.Keep)
	if err != nil {
		sendError(c, err)
		return
	}
	if removed == nil {
		removed = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// Verify 对当前运行的服务执行全部验证请求，不做任何修改
func (api *Api) Verify(c *gin.Context) {
	probes, err := api.service.Verify(c.Request.Context())
	resp := model.VerifyResponse{OK: err == nil, Probes: probes}
	if resp.Probes == nil {
		resp.Probes = []*model.ProbeResult{}
	}
	if err != nil {
		resp.Error = err.Error()
		status, _ := errorStatus(err)
		c.JSON(status, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (api *Api) Status(c *gin.Context) {
	st, err := api.service.Status(c.Request.Context())
	if err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (api *Api) Logs(c *gin.Context) {
	lines, err := queryInt(c, "lines", 100)
	if err != nil {
		SendErrorResponse(c, http.StatusBadRequest, model.ErrorCodeInvalidParameter, err.Error())
		return
	}
	out, err := api.service.Logs(c.Request.Context(), lines)
	if err != nil {
		sendError(c, err)
		return
	}
	c.String(http.StatusOK, out)
}
