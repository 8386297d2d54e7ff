package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/qiniu/quizops/internal/config"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHRunner 通过 SSH 会话在目标主机执行命令，每条命令使用独立会话
type SSHRunner struct {
	client *ssh.Client
}

// NewSSHRunner 基于已有连接创建执行器
func NewSSHRunner(client *ssh.Client) *SSHRunner {
	return &SSHRunner{client: client}
}

// Dial 建立到目标主机的 SSH 连接
func Dial(ctx context.Context, cfg *config.TargetConfig) (*ssh.Client, error) {
	if cfg.IsLocal() {
		return nil, fmt.Errorf("target host is local, nothing to dial")
	}

	var auths []ssh.AuthMethod
	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file %s: %w", cfg.KeyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auths = append(auths, ssh.Password(cfg.Password))
	}
	if len(auths) == 0 {
		return nil, fmt.Errorf("no ssh auth method configured: set target.keyFile or target.password")
	}

	hostKeyCallback, err := HostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	timeout := config.Duration(cfg.ConnectTimeout, 10*time.Second)
	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auths,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect %s: %w", addr, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}

	log.Info().Str("addr", addr).Str("user", cfg.User).Msg("ssh session established")
	return ssh.NewClient(c, chans, reqs), nil
}

// HostKeyCallback 默认使用 ~/.ssh/known_hosts 校验主机密钥，只有显式配置才跳过
func HostKeyCallback(cfg *config.TargetConfig) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		log.Warn().Str("host", cfg.Host).Msg("host key verification disabled by target.insecureIgnoreHostKey")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := cfg.KnownHosts
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts %s (set target.knownHosts or target.insecureIgnoreHostKey): %w", path, err)
	}
	return cb, nil
}

func (r *SSHRunner) Run(ctx context.Context, name string, args ...string) (*RunRet, error) {
	return r.exec(ctx, nil, CommandLine(name, args...))
}

func (r *SSHRunner) RunWithInput(ctx context.Context, input io.Reader, name string, args ...string) (*RunRet, error) {
	return r.exec(ctx, input, CommandLine(name, args...))
}

func (r *SSHRunner) Shell(ctx context.Context, script string) (*RunRet, error) {
	return r.exec(ctx, nil, "sh -c "+Quote(script))
}

func (r *SSHRunner) Local() bool { return false }

func (r *SSHRunner) exec(ctx context.Context, input io.Reader, cmdline string) (*RunRet, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if input != nil {
		session.Stdin = input
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(cmdline) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case err = <-done:
	}

	ret := &RunRet{Output: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			ret.ExitCode = exitErr.ExitStatus()
			return ret, &ExitError{Command: cmdline, Code: ret.ExitCode, Stderr: ret.Stderr}
		}
		return nil, fmt.Errorf("ssh command %q failed: %w", cmdline, err)
	}
	return ret, nil
}

var _ Runner = (*SSHRunner)(nil)
