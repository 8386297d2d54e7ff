package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/qiniu/quizops/internal/deploy/executor"
	"github.com/qiniu/quizops/internal/deploy/hostfs"
	"github.com/qiniu/quizops/internal/deploy/model"
	"github.com/rs/zerolog/log"
)

// TmpSuffix 暂存文件后缀，所有文件校验通过后才会改名到目标位置
const TmpSuffix = ".quizops-tmp"

const (
	StrategySCP    = "scp"
	StrategySFTP   = "sftp"
	StrategyLocal  = "local"
	StrategyManual = "manual"
)

var (
	ErrChecksumMismatch = errors.New("transferred file checksum mismatch")
	ErrUnknownStrategy  = errors.New("unknown transfer strategy")
	ErrNotConfirmed     = errors.New("manual transfer not confirmed")
)

// Strategy 文件传输方式
type Strategy interface {
	Name() string
	// Transfer 把整个文件集合放到目标位置，失败时目标文件保持不变
	Transfer(ctx context.Context, b *model.Bundle) ([]model.TransferResult, error)
}

// New 按名称创建传输方式，src 为开发环境文件系统，dst/runner 为目标主机
func New(name string, src, dst hostfs.FS, runner executor.Runner) (Strategy, error) {
	switch name {
	case StrategySCP:
		return NewStreamStrategy(src, runner), nil
	case StrategySFTP, StrategyLocal:
		return NewCopyStrategy(name, src, dst), nil
	case StrategyManual:
		return NewManualStrategy(dst, nil), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// ApplyMode 统一设置目标文件权限
func ApplyMode(ctx context.Context, fs hostfs.FS, b *model.Bundle, mode os.FileMode) error {
	for _, f := range b.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fs.Chmod(f.TargetPath, mode); err != nil {
			return fmt.Errorf("failed to chmod %s: %w", f.TargetPath, err)
		}
	}
	log.Debug().Str("mode", fmt.Sprintf("%04o", mode)).Int("files", len(b.Files)).Msg("file permissions applied")
	return nil
}

func mismatch(f *model.BundleFile, got string) error {
	return fmt.Errorf("%w: %s (want %s, got %s)", ErrChecksumMismatch, f.RelPath, f.SHA256, got)
}

// CopyStrategy 通过 hostfs 复制，目标为 SFTP 或本地文件系统
type CopyStrategy struct {
	name string
	src  hostfs.FS
	dst  hostfs.FS
}

func NewCopyStrategy(name string, src, dst hostfs.FS) *CopyStrategy {
	return &CopyStrategy{name: name, src: src, dst: dst}
}

func (s *CopyStrategy) Name() string { return s.name }

func (s *CopyStrategy) Transfer(ctx context.Context, b *model.Bundle) ([]model.TransferResult, error) {
	var staged []string
	cleanup := func() {
		for _, tmp := range staged {
			if err := s.dst.Remove(tmp); err != nil && !os.IsNotExist(err) {
				log.Warn().Err(err).Str("file", tmp).Msg("failed to remove staged file")
			}
		}
	}

	results := make([]model.TransferResult, 0, len(b.Files))
	for _, f := range b.Files {
		if err := ctx.Err(); err != nil {
			cleanup()
			return nil, err
		}
		if err := s.dst.MkdirAll(hostfs.Dir(f.TargetPath), 0o755); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to create %s: %w", hostfs.Dir(f.TargetPath), err)
		}

		tmp := f.TargetPath + TmpSuffix
		staged = append(staged, tmp)
		if _, _, err := hostfs.CopyFile(s.dst, tmp, s.src, f.SourcePath, 0o644); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to upload %s: %w", f.RelPath, err)
		}
		// 从目标端重新读取，确认落盘内容
		sum, n, err := hostfs.SHA256(s.dst, tmp)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to checksum %s: %w", tmp, err)
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
		if err := s.dst.Rename(staged[i], f.TargetPath); err != nil {
			cleanup()
			return results[:i], fmt.Errorf("failed to move %s into place: %w", f.RelPath, err)
		}
	}
	return results, nil
}
