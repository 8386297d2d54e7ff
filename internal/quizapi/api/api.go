package api

import (
	"errors"
	"net/http"

	"github.com/fox-gonic/fox"
	"github.com/qiniu/quizops/internal/quizapi/model"
	"github.com/qiniu/quizops/internal/quizapi/service"
	"github.com/rs/zerolog/log"
)

// Api 测验与聊天接口
type Api struct {
	quizService *service.QuizService
	chatService *service.ChatService
	router      *fox.Engine
}

// NewApi 创建新的 API
func NewApi(quizService *service.QuizService, chatService *service.ChatService, router *fox.Engine) (*Api, error) {
	api := &Api{
		quizService: quizService,
		chatService: chatService,
		router:      router,
	}

	api.setupRouters(router)
	return api, nil
}

func (api *Api) setupRouters(router *fox.Engine) {
	router.GET("/", api.Health)
	router.POST("/api/quiz/generate-module", api.GenerateModule)
	router.GET("/api/quiz/:quiz_id", api.GetQuiz)
	router.POST("/api/chat", api.Chat)
}

func (api *Api) Health(c *fox.Context) {
	c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "quiz-api",
	})
}

// GenerateModule 生成模块测验
func (api *Api) GenerateModule(c *fox.Context) {
	var req model.GenerateModuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendErrorResponse(c, http.StatusBadRequest, model.ErrorCodeInvalidParameter,
			"Invalid request body: "+err.Error())
		return
	}
	quiz, err := api.quizService.GenerateModule(c.Request.Context(), &req)
	if err != nil {
		api.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, quiz)
}

func (api *Api) GetQuiz(c *fox.Context) {
	quiz, err := api.quizService.GetQuiz(c.Request.Context(), c.Param("quiz_id"))
	if err != nil {
		api.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, quiz)
}

// Chat 单轮对话，返回 session_id 供下一轮使用
func (api *Api) Chat(c *fox.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendErrorResponse(c, http.StatusBadRequest, model.ErrorCodeInvalidParameter,
			"Invalid request body: "+err.Error())
		return
	}
	resp, err := api.chatService.Chat(c.Request.Context(), &req)
	if err != nil {
		api.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (api *Api) handleError(c *fox.Context, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidQuiz), errors.Is(err, model.ErrEmptyMessage):
		SendErrorResponse(c, http.StatusBadRequest, model.ErrorCodeInvalidParameter, err.Error())
	case errors.Is(err, model.ErrQuizNotFound), errors.Is(err, model.ErrNoMaterial):
		SendErrorResponse(c, http.StatusNotFound, model.ErrorCodeNotFound, err.Error())
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		SendErrorResponse(c, http.StatusInternalServerError, model.ErrorCodeInternalError, "内部服务器错误")
	}
}

// SendErrorResponse 发送错误响应
func SendErrorResponse(c *fox.Context, statusCode int, errorCode, message string) {
	c.JSON(statusCode, model.ErrorResponse{
		Error: model.ErrorDetail{Code: errorCode, Message: message},
	})
}
