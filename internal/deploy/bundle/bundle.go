package bundle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/qiniu/quizops/internal/config"
	"github.com/qiniu/quizops/internal/deploy/hostfs"
	"github.com/qiniu/quizops/internal/deploy/model"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DefaultFiles 默认部署的六个文件，顺序即传输顺序
var DefaultFiles = []string{
	"models/schemas.py",
	"services/quiz_service.py",
	"services/database_service_actual.py",
	"services/rag_service.py",
	"config.py",
	"app_celery.py",
}

var (
	ErrMissingSource = errors.New("bundle source file missing")
	ErrInvalidPath   = errors.New("invalid bundle path")
)

// MissingSourceError 列出全部缺失的源文件
type MissingSourceError struct {
	Paths []string
}

func (e *MissingSourceError) Error() string {
	return fmt.Sprintf("%d bundle source file(s) missing: %s", len(e.Paths), strings.Join(e.Paths, ", "))
}

func (e *MissingSourceError) Unwrap() error { return ErrMissingSource }

// Manifest YAML 清单，字段为空时沿用配置
type Manifest struct {
	SourceRoot string   `yaml:"source_root"`
	AppRoot    string   `yaml:"app_root"`
	BackupRoot string   `yaml:"backup_root"`
	Files      []string `yaml:"files"`
}

// LoadManifest 读取 YAML 清单
func LoadManifest(p string) (*Manifest, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle manifest %s: %w", p, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse bundle manifest %s: %w", p, err)
	}
	return &m, nil
}

// Resolve 根据配置（及可选清单）生成部署文件集合，target 决定目标路径的拼接方式
func Resolve(cfg *config.DeployConfig, target hostfs.FS) (*model.Bundle, error) {
	sourceRoot, appRoot, backupRoot := cfg.SourceRoot, cfg.AppRoot, cfg.BackupRoot
	files := cfg.Files

	if cfg.BundleManifest != "" {
		m, err := LoadManifest(cfg.BundleManifest)
		if err != nil {
			return nil, err
		}
		if m.SourceRoot != "" {
			sourceRoot = m.SourceRoot
		}
		if m.AppRoot != "" {
			appRoot = m.AppRoot
		}
		if m.BackupRoot != "" {
			backupRoot = m.BackupRoot
		}
		if len(m.Files) > 0 {
			files = m.Files
		}
	}
	if len(files) == 0 {
		files = DefaultFiles
	}
	if appRoot == "" {
		return nil, fmt.Errorf("%w: app root is empty", ErrInvalidPath)
	}
	if backupRoot == "" {
		backupRoot = target.Join(appRoot, "backups")
	}

	absSource, err := filepath.Abs(sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source root %s: %w", sourceRoot, err)
	}

	b := &model.Bundle{
		SourceRoot: absSource,
		AppRoot:    appRoot,
		BackupRoot: backupRoot,
	}
	seen := make(map[string]bool, len(files))
	for _, rel := range files {
		if err := ValidateRelPath(rel); err != nil {
			return nil, err
		}
		if seen[rel] {
			return nil, fmt.Errorf("%w: duplicate entry %q", ErrInvalidPath, rel)
		}
		seen[rel] = true
		b.Files = append(b.Files, &model.BundleFile{
			RelPath:    rel,
			SourcePath: filepath.Join(absSource, filepath.FromSlash(rel)),
			TargetPath: target.Join(appRoot, rel),
		})
	}
	return b, nil
}

// ValidateRelPath 路径必须是规范的相对路径且不能逃出根目录
func ValidateRelPath(rel string) error {
	if rel == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.HasPrefix(rel, "/") || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %q is absolute", ErrInvalidPath, rel)
	}
	if path.Clean(rel) != rel {
		return fmt.Errorf("%w: %q is not clean", ErrInvalidPath, rel)
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return fmt.Errorf("%w: %q escapes the root", ErrInvalidPath, rel)
	}
	return nil
}

// Preflight 校验全部源文件存在并记录摘要，任何一个缺失都会中止整个部署
func Preflight(ctx context.Context, src hostfs.FS, b *model.Bundle) error {
	var missing []string
	for _, f := range b.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := src.Stat(f.SourcePath)
		if err != nil {
			if os.IsNotExist(err) {
				missing = append(missing, f.RelPath)
				continue
			}
			return fmt.Errorf("failed to stat %s: %w", f.SourcePath, err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%w: %s is not a regular file", ErrInvalidPath, f.SourcePath)
		}
	}
	if len(missing) > 0 {
		return &MissingSourceError{Paths: missing}
	}

	for _, f := range b.Files {
		sum, size, err := hostfs.SHA256(src, f.SourcePath)
		if err != nil {
			return fmt.Errorf("failed to checksum %s: %w", f.RelPath, err)
		}
		f.SHA256 = sum
		f.Size = size
		log.Debug().Str("file", f.RelPath).Str("sha256", sum).Int64("size", size).Msg("bundle file checked")
	}
	return nil
}
