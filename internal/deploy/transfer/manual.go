package transfer

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/qiniu/quizops/internal/deploy/hostfs"
	"github.com/qiniu/quizops/internal/deploy/model"
	"github.com/rs/zerolog/log"
)

// ConfirmFunc 询问操作人员是否已完成操作
type ConfirmFunc func(ctx context.Context, title, description string) (bool, error)

// PromptConfirm 在终端上弹出确认框
func PromptConfirm(ctx context.Context, title, description string) (bool, error) {
	var ok bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Description(description).
			Affirmative("Done").
			Negative("Abort").
			Value(&ok),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return false, err
	}
	return ok, nil
}

// ManualStrategy 操作人员在目标主机上手工编辑文件，确认后逐个校验摘要
type ManualStrategy struct {
	dst     hostfs.FS
	confirm ConfirmFunc
}

// NewManualStrategy confirm 为空时使用终端确认框
func NewManualStrategy(dst hostfs.FS, confirm ConfirmFunc) *ManualStrategy {
	if confirm == nil {
		confirm = PromptConfirm
	}
	return &ManualStrategy{dst: dst, confirm: confirm}
}

func (s *ManualStrategy) Name() string { return StrategyManual }

func (s *ManualStrategy) Transfer(ctx context.Context, b *model.Bundle) ([]model.TransferResult, error) {
	var lines []string
	for _, f := range b.Files {
		lines = append(lines, fmt.Sprintf("%s -> %s", f.SourcePath, f.TargetPath))
	}
	ok, err := s.confirm(ctx, fmt.Sprintf("Copy %d files to the target, then confirm", len(b.Files)), strings.Join(lines, "\n"))
	if err != nil {
		return nil, fmt.Errorf("manual transfer prompt failed: %w", err)
	}
	if !ok {
		return nil, ErrNotConfirmed
	}

	results := make([]model.TransferResult, 0, len(b.Files))
	for _, f := range b.Files {
		sum, n, err := hostfs.SHA256(s.dst, f.TargetPath)
		if err != nil {
			return nil, fmt.Errorf("failed to checksum %s: %w", f.TargetPath, err)
		}
		if f.SHA256 != "" && sum != f.SHA256 {
			return nil, mismatch(f, sum)
		}
		results = append(results, model.TransferResult{RelPath: f.RelPath, TargetPath: f.TargetPath, SHA256: sum, Bytes: n})
	}
	log.Info().Int("files", len(results)).Msg("manual transfer verified")
	return results, nil
}
