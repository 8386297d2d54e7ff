package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
)

// LocalRunner 在本机执行命令
type LocalRunner struct {
	// Dir 命令工作目录，为空时继承当前目录
	Dir string
}

// NewLocalRunner 创建本机命令执行器
func NewLocalRunner() *LocalRunner { return &LocalRunner{} }

func (r *LocalRunner) Run(ctx context.Context, name string, args ...string) (*RunRet, error) {
	return r.run(ctx, nil, name, args...)
}

func (r *LocalRunner) RunWithInput(ctx context.Context, input io.Reader, name string, args ...string) (*RunRet, error) {
	return r.run(ctx, input, name, args...)
}

func (r *LocalRunner) Shell(ctx context.Context, script string) (*RunRet, error) {
	return r.run(ctx, nil, "sh", "-c", script)
}

func (r *LocalRunner) Local() bool { return true }

func (r *LocalRunner) run(ctx context.Context, input io.Reader, name string, args ...string) (*RunRet, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if input != nil {
		cmd.Stdin = input
	}

	err := cmd.Run()
	ret := &RunRet{Output: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			ret.ExitCode = exitErr.ExitCode()
			return ret, &ExitError{Command: CommandLine(name, args...), Code: ret.ExitCode, Stderr: ret.Stderr}
		}
		return nil, err
	}
	return ret, nil
}

var _ Runner = (*LocalRunner)(nil)
