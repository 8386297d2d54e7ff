package model

import "time"

// ProbeResult 单个验证请求的结果
type ProbeResult struct {
	Name       string        `json:"name"`
	OK         bool          `json:"ok"`
	StatusCode int           `json:"status_code,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	Duration   time.Duration `json:"duration"`
}
