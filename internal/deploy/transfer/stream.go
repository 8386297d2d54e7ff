package transfer

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/qiniu/quizops/internal/deploy/executor"
	"github.com/qiniu/quizops/internal/deploy/hostfs"
	"github.com/qiniu/quizops/internal/deploy/model"
	"github.com/rs/zerolog/log"
)

// StreamStrategy 通过远程 shell 传输：cat 写入暂存文件，sha256sum 校验，mv 就位
type StreamStrategy struct {
	src    hostfs.FS
	runner executor.Runner
}

func NewStreamStrategy(src hostfs.FS, runner executor.Runner) *StreamStrategy {
	return &StreamStrategy{src: src, runner: runner}
}

func (s *StreamStrategy) Name() string { return StrategySCP }

func (s *StreamStrategy) Transfer(ctx context.Context, b *model.Bundle) ([]model.TransferResult, error) {
	var staged []string
	cleanup := func() {
		if len(staged) == 0 {
			return
		}
		// 使用独立 context，调用方取消后仍要清理
		if _, err := s.runner.Run(context.Background(), "rm", append([]string{"-f"}, staged...)...); err != nil {
			log.Warn().Err(err).Strs("files", staged).Msg("failed to remove staged files")
		}
	}

	results := make([]model.TransferResult, 0, len(b.Files))
	for _, f := range b.Files {
		tmp := f.TargetPath + TmpSuffix
		staged = append(staged, tmp)
		n, err := s.upload(ctx, f, tmp)
		if err != nil {
			cleanup()
			return nil, err
		}

		sum, err := s.remoteSum(ctx, tmp)
		if err != nil {
			cleanup()
			return nil, err
		}
		if f.SHA256 != "" && sum != f.SHA256 {
			cleanup()
			return nil, mismatch(f, sum)
		}
		results = append(results, model.TransferResult{RelPath: f.RelPath, TargetPath: f.TargetPath, SHA256: sum, Bytes: n})
	}

	// 超时或取消后不再改名，目标文件保持原样
	if err := ctx.Err(); err != nil {
		cleanup()
		return nil, err
	}
	for i, f := range b.Files {
		if _, err := s.runner.Run(ctx, "mv", "-f", staged[i], f.TargetPath); err != nil {
			cleanup()
			return results[:i], fmt.Errorf("failed to move %s into place: %w", f.RelPath, err)
		}
	}
	return results, nil
}

func (s *StreamStrategy) upload(ctx context.Context, f *model.BundleFile, tmp string) (int64, error) {
	in, err := s.src.Open(f.SourcePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", f.SourcePath, err)
	}
	defer in.Close()

	counter := &countingReader{r: in}
	script := fmt.Sprintf("mkdir -p %s && cat > %s", executor.Quote(hostfs.Dir(f.TargetPath)), executor.Quote(tmp))
	if _, err := s.runner.RunWithInput(ctx, counter, "sh", "-c", script); err != nil {
		return 0, fmt.Errorf("failed to upload %s: %w", f.RelPath, err)
	}
	return counter.n, nil
}

func (s *StreamStrategy) remoteSum(ctx context.Context, p string) (string, error) {
	ret, err := s.runner.Run(ctx, "sha256sum", p)
	if err != nil {
		return "", fmt.Errorf("failed to checksum %s: %w", p, err)
	}
	fields := strings.Fields(ret.Output)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty sha256sum output for %s", p)
	}
	return fields[0], nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
