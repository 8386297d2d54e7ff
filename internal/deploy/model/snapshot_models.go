package model

import "time"

// SnapshotFile 快照中记录的单个文件
type SnapshotFile struct {
	RelPath string `json:"rel_path"`
	Existed bool   `json:"existed"` // 备份时目标文件是否存在，不存在的文件回滚时会被删除
	SHA256  string `json:"sha256,omitempty"`
	Mode    uint32 `json:"mode,omitempty"`
	Size    int64  `json:"size,omitempty"`
}

// Snapshot 部署前的文件备份，创建后不再修改
type Snapshot struct {
	ID        string          `json:"id"`  // 形如 backup_20250101_120000
	Dir       string          `json:"dir"` // 快照所在目录
	AppRoot   string          `json:"app_root"`
	CreatedAt time.Time       `json:"created_at"`
	Files     []*SnapshotFile `json:"files"`
}

// File 按相对路径查找快照文件
func (s *Snapshot) File(relPath string) *SnapshotFile {
	for _, f := range s.Files {
		if f.RelPath == relPath {
			return f
		}
	}
	return nil
}
