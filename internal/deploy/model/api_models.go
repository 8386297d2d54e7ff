package model

// 错误码
const (
	ErrorCodeInvalidParameter = "INVALID_PARAMETER"
	ErrorCodeNotFound         = "NOT_FOUND"
	ErrorCodeConflict         = "CONFLICT"
	ErrorCodeProbeFailed      = "PROBE_FAILED"
	ErrorCodeOperationFailed  = "OPERATION_FAILED"
	ErrorCodeInternalError    = "INTERNAL_ERROR"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail 错误详情
type ErrorDetail struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Deployment string `json:"deployment,omitempty"`
	Step       string `json:"step,omitempty"`
}

// OperationResponse 部署/回滚接口的响应，失败时同时带上记录和错误
type OperationResponse struct {
	*OperationResult
	Error *ErrorDetail `json:"error,omitempty"`
}

// VerifyResponse 验证接口的响应
type VerifyResponse struct {
	OK     bool           `json:"ok"`
	Probes []*ProbeResult `json:"probes"`
	Error  string         `json:"error,omitempty"`
}

// PruneRequest 清理快照请求
type PruneRequest struct {
	Keep int `json:"keep" binding:"required,min=1"`
}
