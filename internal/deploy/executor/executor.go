package executor

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// RunRet 命令运行结果
type RunRet struct {
	Output   string `json:"output"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// ExitError 命令以非零状态退出
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("command %q exited with status %d", e.Command, e.Code)
	}
	return fmt.Sprintf("command %q exited with status %d: %s", e.Command, e.Code, stderr)
}

// Runner 在目标主机上执行命令，本地实现基于 os/exec，远程实现基于 SSH 会话
type Runner interface {
	// Run 执行命令，非零退出时同时返回结果和 *ExitError
	Run(ctx context.Context, name string, args ...string) (*RunRet, error)
	// RunWithInput 执行命令并把 input 写入标准输入
	RunWithInput(ctx context.Context, input io.Reader, name string, args ...string) (*RunRet, error)
	// Shell 通过 sh -c 执行脚本
	Shell(ctx context.Context, script string) (*RunRet, error)
	// Local 命令是否在本机执行
	Local() bool
}

// Quote 对参数做 POSIX shell 单引号转义
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:@%+,", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// CommandLine 把命令和参数拼成一行 shell 命令
func CommandLine(name string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, Quote(name))
	for _, a := range args {
		parts = append(parts, Quote(a))
	}
	return strings.Join(parts, " ")
}
