package model

// BundleFile 部署文件集合中的单个文件
type BundleFile struct {
	RelPath    string `json:"rel_path" yaml:"path"`      // 相对于应用根目录的路径
	SourcePath string `json:"source_path" yaml:"-"`      // 开发环境中的绝对路径
	TargetPath string `json:"target_path" yaml:"-"`      // 目标主机上的绝对路径
	SHA256     string `json:"sha256,omitempty" yaml:"-"` // 源文件摘要，预检时填充
	Size       int64  `json:"size,omitempty" yaml:"-"`
}

// Bundle 一次部署需要一起传输的文件集合
type Bundle struct {
	SourceRoot string        `json:"source_root"` // 开发环境的应用根目录
	AppRoot    string        `json:"app_root"`    // 目标主机的应用根目录
	BackupRoot string        `json:"backup_root"` // 快照目录的父目录
	Files      []*BundleFile `json:"files"`
}

// RelPaths 按顺序返回全部相对路径
func (b *Bundle) RelPaths() []string {
	paths := make([]string, 0, len(b.Files))
	for _, f := range b.Files {
		paths = append(paths, f.RelPath)
	}
	return paths
}

// TransferResult 单个文件的传输结果
type TransferResult struct {
	RelPath    string `json:"rel_path"`
	TargetPath string `json:"target_path"`
	SHA256     string `json:"sha256"`
	Bytes      int64  `json:"bytes"`
}
