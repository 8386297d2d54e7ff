package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn 会话中的一条消息
type ChatTurn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// ChatRequest session_id 为空时创建新会话
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// ChatResponse history_length 为本轮结束后会话中的消息数
type ChatResponse struct {
	SessionID     string   `json:"session_id"`
	Response      string   `json:"response"`
	HistoryLength int      `json:"history_length"`
	Sources       []string `json:"sources"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail 错误详情
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// 错误码
const (
	ErrorCodeInvalidParameter = "INVALID_PARAMETER"
	ErrorCodeNotFound         = "NOT_FOUND"
	ErrorCodeInternalError    = "INTERNAL_ERROR"
)
