package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/qiniu/quizops/internal/deploy/hostfs"
	"github.com/qiniu/quizops/internal/deploy/model"
	"github.com/rs/zerolog/log"
)

const (
	// IDPrefix 快照目录名前缀
	IDPrefix = "backup_"
	// TimeFormat 快照目录名中的时间格式
	TimeFormat = "20060102_150405"
	// ManifestName 快照清单文件名，最后写入，没有清单的目录视为不完整
	ManifestName = "manifest.json"
	// Latest 表示最新快照
	Latest = "latest"

	restoreSuffix = ".quizops-restore"
)

var (
	ErrSnapshotExists   = errors.New("snapshot already exists")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")
	ErrBundleMismatch   = errors.New("snapshot does not cover bundle")
)

// Manager 在目标主机上管理部署前快照
type Manager struct {
	fs hostfs.FS
}

// NewManager 创建快照管理器
func NewManager(fs hostfs.FS) *Manager {
	return &Manager{fs: fs}
}

// ID 根据时间生成快照ID
func ID(at time.Time) string {
	return IDPrefix + at.Format(TimeFormat)
}

// Create 把目标主机上当前的文件原样复制到以时间命名的新目录
func (m *Manager) Create(ctx context.Context, b *model.Bundle, at time.Time) (*model.Snapshot, error) {
	id := ID(at)
	dir := m.fs.Join(b.BackupRoot, id)

	exists, err := hostfs.Exists(m.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to check snapshot dir %s: %w", dir, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotExists, dir)
	}
	if err := m.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir %s: %w", dir, err)
	}

	snap := &model.Snapshot{
		ID:        id,
		Dir:       dir,
		AppRoot:   b.AppRoot,
		CreatedAt: at.UTC(),
	}
	for _, f := range b.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sf, err := m.backupFile(dir, f)
		if err != nil {
			return nil, err
		}
		snap.Files = append(snap.Files, sf)
	}

	if err := m.writeManifest(snap); err != nil {
		return nil, err
	}

	log.Info().Str("snapshot", id).Str("dir", dir).Int("files", len(snap.Files)).Msg("snapshot created")
	return snap, nil
}

func (m *Manager) backupFile(dir string, f *model.BundleFile) (*model.SnapshotFile, error) {
	sf := &model.SnapshotFile{RelPath: f.RelPath}
	info, err := m.fs.Stat(f.TargetPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", f.TargetPath).Msg("target file absent, recorded as new in snapshot")
			return sf, nil
		}
		return nil, fmt.Errorf("failed to stat %s: %w", f.TargetPath, err)
	}

	dst := m.fs.Join(dir, f.RelPath)
	if err := m.fs.MkdirAll(hostfs.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", hostfs.Dir(dst), err)
	}
	sum, n, err := hostfs.CopyFile(m.fs, dst, m.fs, f.TargetPath, info.Mode().Perm())
	if err != nil {
		return nil, fmt.Errorf("failed to back up %s: %w", f.RelPath, err)
	}
	stored, _, err := hostfs.SHA256(m.fs, dst)
	if err != nil {
		return nil, fmt.Errorf("failed to verify backup of %s: %w", f.RelPath, err)
	}
	if stored != sum {
		return nil, fmt.Errorf("%w: %s", ErrChecksumMismatch, f.RelPath)
	}

	sf.Existed = true
	sf.SHA256 = sum
	sf.Size = n
	sf.Mode = uint32(info.Mode().Perm())
	return sf, nil
}

func (m *Manager) writeManifest(snap *model.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot manifest: %w", err)
	}
	p := m.fs.Join(snap.Dir, ManifestName)
	w, err := m.fs.Create(p, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create manifest %s: %w", p, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write manifest %s: %w", p, err)
	}
	return w.Close()
}

func (m *Manager) readManifest(dir string) (*model.Snapshot, error) {
	r, err := m.fs.Open(m.fs.Join(dir, ManifestName))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var snap model.Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode manifest in %s: %w", dir, err)
	}
	snap.Dir = dir
	return &snap, nil
}

// Restore 把快照中的文件复制回原位置，备份时不存在的文件会被删除，快照本身不变
func (m *Manager) Restore(ctx context.Context, b *model.Bundle, snap *model.Snapshot) error {
	type staged struct {
		tmp, target string
		mode        os.FileMode
	}
	var (
		stagedFiles []staged
		removals    []string
	)
	cleanup := func() {
		for _, s := range stagedFiles {
			_ = m.fs.Remove(s.tmp)
		}
	}

	for _, f := range b.Files {
		if err := ctx.Err(); err != nil {
			cleanup()
			return err
		}
		sf := snap.File(f.RelPath)
		if sf == nil {
			cleanup()
			return fmt.Errorf("%w: %s has no entry for %s", ErrBundleMismatch, snap.ID, f.RelPath)
		}
		if !sf.Existed {
			removals = append(removals, f.TargetPath)
			continue
		}

		if err := m.fs.MkdirAll(hostfs.Dir(f.TargetPath), 0o755); err != nil {
			cleanup()
			return fmt.Errorf("failed to create %s: %w", hostfs.Dir(f.TargetPath), err)
		}
		tmp := f.TargetPath + restoreSuffix
		sum, _, err := hostfs.CopyFile(m.fs, tmp, m.fs, m.fs.Join(snap.Dir, f.RelPath), os.FileMode(sf.Mode))
		if err != nil {
			cleanup()
			return fmt.Errorf("failed to stage %s: %w", f.RelPath, err)
		}
		stagedFiles = append(stagedFiles, staged{tmp: tmp, target: f.TargetPath, mode: os.FileMode(sf.Mode)})
		if sum != sf.SHA256 {
			cleanup()
			return fmt.Errorf("%w: %s (want %s, got %s)", ErrChecksumMismatch, f.RelPath, sf.SHA256, sum)
		}
	}

	for _, s := range stagedFiles {
		if err := m.fs.Rename(s.tmp, s.target); err != nil {
			return fmt.Errorf("failed to restore %s: %w", s.target, err)
		}
		if err := m.fs.Chmod(s.target, s.mode); err != nil {
			return fmt.Errorf("failed to restore mode of %s: %w", s.target, err)
		}
	}
	for _, p := range removals {
		if err := m.fs.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}

	log.Info().Str("snapshot", snap.ID).Int("restored", len(stagedFiles)).Int("removed", len(removals)).Msg("snapshot restored")
	return nil
}

// List 返回全部完整快照，最新的在前
func (m *Manager) List(ctx context.Context, backupRoot string) ([]*model.Snapshot, error) {
	entries, err := m.fs.ReadDir(backupRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", backupRoot, err)
	}

	var snaps []*model.Snapshot
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || !strings.HasPrefix(e.Name(), IDPrefix) {
			continue
		}
		snap, err := m.readManifest(m.fs.Join(backupRoot, e.Name()))
		if err != nil {
			log.Debug().Err(err).Str("dir", e.Name()).Msg("skipping incomplete snapshot")
			continue
		}
		snaps = append(snaps, snap)
	}

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps, nil
}

// Get 按ID读取快照，"latest" 返回最新的一个
func (m *Manager) Get(ctx context.Context, backupRoot, id string) (*model.Snapshot, error) {
	if id == "" || id == Latest {
		snaps, err := m.List(ctx, backupRoot)
		if err != nil {
			return nil, err
		}
		if len(snaps) == 0 {
			return nil, fmt.Errorf("%w: no snapshots under %s", ErrSnapshotNotFound, backupRoot)
		}
		return snaps[0], nil
	}
	if !strings.HasPrefix(id, IDPrefix) || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("%w: invalid id %q", ErrSnapshotNotFound, id)
	}

	snap, err := m.readManifest(m.fs.Join(backupRoot, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
		}
		return nil, err
	}
	return snap, nil
}

// Prune 只保留最新的 keep 个快照，仅由运维手动触发
func (m *Manager) Prune(ctx context.Context, backupRoot string, keep int) ([]string, error) {
	if keep < 1 {
		return nil, fmt.Errorf("keep must be at least 1, got %d", keep)
	}
	snaps, err := m.List(ctx, backupRoot)
	if err != nil {
		return nil, err
	}
	var removed []string
	for i := keep; i < len(snaps); i++ {
		if err := hostfs.RemoveAll(m.fs, snaps[i].Dir); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", snaps[i].Dir, err)
		}
		removed = append(removed, snaps[i].ID)
	}
	if len(removed) > 0 {
		log.Info().Strs("snapshots", removed).Int("kept", keep).Msg("pruned snapshots")
	}
	return removed, nil
}
