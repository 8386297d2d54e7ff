package model

import "errors"

// ErrDeploymentNotFound 部署记录不存在
var ErrDeploymentNotFound = errors.New("deployment not found")
