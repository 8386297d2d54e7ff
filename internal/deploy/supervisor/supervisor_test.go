package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/qiniu/quizops/internal/config"
	"github.com/qiniu/quizops/internal/deploy/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner 记录执行过的命令，RunFunc 决定返回值
type fakeRunner struct {
	calls   []string
	RunFunc func(cmdline string) (*executor.RunRet, error)
	local   bool
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (*executor.RunRet, error) {
	cmdline := executor.CommandLine(name, args...)
	f.calls = append(f.calls, cmdline)
	if f.RunFunc == nil {
		return &executor.RunRet{}, nil
	}
	return f.RunFunc(cmdline)
}

func (f *fakeRunner) RunWithInput(ctx context.Context, _ io.Reader, name string, args ...string) (*executor.RunRet, error) {
	return f.Run(ctx, name, args...)
}

func (f *fakeRunner) Shell(ctx context.Context, script string) (*executor.RunRet, error) {
	return f.Run(ctx, "sh", "-c", script)
}

func (f *fakeRunner) Local() bool { return f.local }

func reply(out string) func(string) (*executor.RunRet, error) {
	return func(string) (*executor.RunRet, error) { return &executor.RunRet{Output: out}, nil }
}

func TestNew(t *testing.T) {
	r := &fakeRunner{}
	for _, kind := range []string{KindDocker, KindSupervisord, KindSystemd, KindPM2, KindManual} {
		s, err := New(&config.SupervisorConfig{Kind: kind, Name: "quiz-api"}, r)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, s.Name())
	}

	_, err := New(&config.SupervisorConfig{Kind: "runit", Name: "quiz-api"}, r)
	assert.True(t, errors.Is(err, ErrUnknownSupervisor))

	_, err = New(&config.SupervisorConfig{Kind: KindDocker}, r)
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestDocker(t *testing.T) {
	r := &fakeRunner{RunFunc: reply("3f2a1b Up 2 seconds\n")}
	s, err := New(&config.SupervisorConfig{Kind: KindDocker, Name: "quiz-api", StopTimeout: "10s"}, r)
	require.NoError(t, err)

	st, err := s.Inspect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Instances)

	require.NoError(t, s.Restart(context.Background()))
	_, err = s.Logs(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"docker ps --filter 'name=^/quiz-api$' --filter status=running --format '{{.ID}} {{.Status}}'",
		"docker restart -t 10 quiz-api",
		"docker logs --tail 50 quiz-api",
	}, r.calls)
}

func TestSupervisordCountsRunning(t *testing.T) {
	out := "quiz:quiz_00   RUNNING   pid 101, uptime 0:00:03\nquiz:quiz_01   STARTING\n"
	r := &fakeRunner{RunFunc: func(string) (*executor.RunRet, error) {
		// 有进程未运行时 supervisorctl status 以 3 退出
		ret := &executor.RunRet{Output: out, ExitCode: 3}
		return ret, &executor.ExitError{Command: "supervisorctl status", Code: 3}
	}}
	s, err := New(&config.SupervisorConfig{Kind: KindSupervisord, Name: "quiz:*"}, r)
	require.NoError(t, err)

	st, err := s.Inspect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Instances)
}

func TestSystemd(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want int
	}{
		{"active", "ActiveState=active\nSubState=running\nMainPID=4242\n", 1},
		{"activating", "ActiveState=activating\nSubState=start\nMainPID=0\n", 0},
		{"failed", "ActiveState=failed\nSubState=failed\nMainPID=0\n", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{RunFunc: reply(tt.out)}
			s, err := New(&config.SupervisorConfig{Kind: KindSystemd, Name: "quiz-api.service", UseSudo: true}, r)
			require.NoError(t, err)

			st, err := s.Inspect(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, st.Instances)
			assert.True(t, strings.HasPrefix(r.calls[0], "sudo -n systemctl show quiz-api.service"))
		})
	}
}

func TestPM2(t *testing.T) {
	jlist := `[PM2] Spawning PM2 daemon
[{"name":"quiz-api","pid":311,"pm2_env":{"status":"online"}},
 {"name":"worker","pid":312,"pm2_env":{"status":"online"}},
 {"name":"quiz-api","pid":0,"pm2_env":{"status":"stopped"}}]`
	r := &fakeRunner{RunFunc: reply(jlist)}
	s, err := New(&config.SupervisorConfig{Kind: KindPM2, Name: "quiz-api"}, r)
	require.NoError(t, err)

	st, err := s.Inspect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Instances)
	assert.Contains(t, st.Detail, "pid=311 online")
}

func TestManualRemote(t *testing.T) {
	var killed string
	r := &fakeRunner{RunFunc: func(cmdline string) (*executor.RunRet, error) {
		switch {
		case strings.HasPrefix(cmdline, "pgrep"):
			if killed != "" {
				return &executor.RunRet{ExitCode: 1}, &executor.ExitError{Command: cmdline, Code: 1}
			}
			return &executor.RunRet{Output: "101\n102\n"}, nil
		case strings.HasPrefix(cmdline, "kill"):
			killed = cmdline
		}
		return &executor.RunRet{}, nil
	}}
	s, err := New(&config.SupervisorConfig{
		Kind:           KindManual,
		ProcessPattern: "gunicorn app:app",
		StartCommand:   "gunicorn -b 0.0.0.0:5001 app:app",
		WorkDir:        "/opt/quiz",
		LogFile:        "/var/log/quiz.log",
		StopTimeout:    "2s",
	}, r)
	require.NoError(t, err)
	s.(*Manual).poll = time.Millisecond

	st, err := s.Inspect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Instances)

	require.NoError(t, s.Restart(context.Background()))
	assert.Equal(t, "kill -TERM 101 102", killed)
	assert.Equal(t, "sh -c 'cd /opt/quiz && nohup gunicorn -b 0.0.0.0:5001 app:app >> /var/log/quiz.log 2>&1 < /dev/null &'", r.calls[len(r.calls)-1])
}

func TestManualLocalProcess(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("process discovery test runs on linux only")
	}
	logFile := filepath.Join(t.TempDir(), "svc.log")
	marker := fmt.Sprintf("%d", 3000+os.Getpid()%1000)
	s, err := New(&config.SupervisorConfig{
		Kind:           KindManual,
		ProcessPattern: "^sleep " + marker + "$",
		StartCommand:   "sleep " + marker,
		LogFile:        logFile,
		StopTimeout:    "3s",
	}, executor.NewLocalRunner())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	require.Eventually(t, func() bool {
		st, err := s.Inspect(ctx)
		return err == nil && st.Instances == 1
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, s.Stop(ctx))
	require.Eventually(t, func() bool {
		st, err := s.Inspect(ctx)
		return err == nil && st.Instances == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestLastLines(t *testing.T) {
	assert.Equal(t, "c\nd", lastLines("a\nb\nc\nd\n", 2))
	assert.Equal(t, "a", lastLines("a\n", 5))
}
