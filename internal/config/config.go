package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Logging    LoggingConfig    `json:"logging"`
	Redis      RedisConfig      `json:"redis"`
	Deploy     DeployConfig     `json:"deploy"`
	Target     TargetConfig     `json:"target"`
	Supervisor SupervisorConfig `json:"supervisor"`
	Verify     VerifyConfig     `json:"verify"`
	Prometheus PrometheusConfig `json:"prometheus"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
	QuizAPI    QuizAPIConfig    `json:"quizapi"`
}

type ServerConfig struct {
	BindAddr  string `json:"bindAddr"`
	AuthToken string `json:"authToken"` // empty disables control API auth
}

type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

// DSN 生成 PostgreSQL 连接串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type DeployConfig struct {
	SourceRoot      string   `json:"sourceRoot"`     // 开发环境应用根目录
	AppRoot         string   `json:"appRoot"`        // 目标主机应用根目录
	BackupRoot      string   `json:"backupRoot"`     // 快照父目录，默认 <appRoot>/backups
	Files           []string `json:"files"`          // 为空时使用默认的六个文件
	BundleManifest  string   `json:"bundleManifest"` // 可选的 YAML 清单
	FileMode        string   `json:"fileMode"`       // e.g. "0644"
	Strategy        string   `json:"strategy"`       // scp | sftp | local | manual
	AutoRollback    bool     `json:"autoRollback"`
	ReadyTimeout    string   `json:"readyTimeout"`
	ReadyInterval   string   `json:"readyInterval"`
	StepTimeout     string   `json:"stepTimeout"`
	LockTTL         string   `json:"lockTTL"`
	LockFile        string   `json:"lockFile"`
	ObserveWindow   string   `json:"observeWindow"` // "0s" disables post-deploy observation
	ObserveInterval string   `json:"observeInterval"`
	WindowFile      string   `json:"windowFile"` // 未启用 redis 时的观察窗口文件，默认与锁文件同目录
}

type TargetConfig struct {
	Host           string `json:"host"` // empty or "local" means the deployer runs on the target
	Port           int    `json:"port"`
	User           string `json:"user"`
	KeyFile        string `json:"keyFile"`
	Password       string `json:"password"`
	KnownHosts     string `json:"knownHosts"` // empty means ~/.ssh/known_hosts
	ConnectTimeout string `json:"connectTimeout"`
	// InsecureIgnoreHostKey 跳过主机密钥校验，仅用于测试环境
	InsecureIgnoreHostKey bool `json:"insecureIgnoreHostKey"`
}

// IsLocal 目标是否为本机
func (t *TargetConfig) IsLocal() bool {
	h := strings.TrimSpace(strings.ToLower(t.Host))
	return h == "" || h == "local"
}

type SupervisorConfig struct {
	Kind           string `json:"kind"` // docker | supervisord | systemd | pm2 | manual
	Name           string `json:"name"` // container / program / unit / pm2 app name
	UseSudo        bool   `json:"useSudo"`
	StartCommand   string `json:"startCommand"`   // manual only
	ProcessPattern string `json:"processPattern"` // manual only, pgrep -f pattern
	WorkDir        string `json:"workDir"`        // manual only
	LogFile        string `json:"logFile"`        // manual only
	StopTimeout    string `json:"stopTimeout"`
}

type VerifyConfig struct {
	BaseURL    string `json:"baseURL"`
	Timeout    string `json:"timeout"`
	CourseID   int    `json:"courseId"`
	ModuleWeek int    `json:"moduleWeek"`
}

type PrometheusConfig struct {
	URL           string `json:"url"`
	InstanceQuery string `json:"instanceQuery"`
	QueryTimeout  string `json:"queryTimeout"`
}

type TelemetryConfig struct {
	Tracing     bool   `json:"tracing"`
	ServiceName string `json:"serviceName"`
}

type QuizAPIConfig struct {
	BindAddr     string `json:"bindAddr"`
	DatabaseDSN  string `json:"databaseDSN"` // empty keeps quizzes in memory
	SessionTTL   string `json:"sessionTTL"`
	MaterialFile string `json:"materialFile"` // optional JSON course material
}

// Load 先读取环境变量默认值，再用配置文件覆盖
func Load(configFile string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			BindAddr:  getEnv("SERVER_BIND_ADDR", "0.0.0.0:8080"),
			AuthToken: getEnv("CONTROL_API_TOKEN", ""),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvBool("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "quizops"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Logging: LoggingConfig{
			Level:   getEnv("LOG_LEVEL", "debug"),
			Console: getEnvBool("LOG_CONSOLE", true),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Deploy: DeployConfig{
			SourceRoot:      getEnv("DEPLOY_SOURCE_ROOT", "."),
			AppRoot:         getEnv("DEPLOY_APP_ROOT", "/opt/quiz-api"),
			BackupRoot:      getEnv("DEPLOY_BACKUP_ROOT", ""),
			BundleManifest:  getEnv("DEPLOY_BUNDLE_MANIFEST", ""),
			FileMode:        getEnv("DEPLOY_FILE_MODE", "0644"),
			Strategy:        getEnv("DEPLOY_STRATEGY", "scp"),
			AutoRollback:    getEnvBool("DEPLOY_AUTO_ROLLBACK", true),
			ReadyTimeout:    getEnv("DEPLOY_READY_TIMEOUT", "60s"),
			ReadyInterval:   getEnv("DEPLOY_READY_INTERVAL", "2s"),
			StepTimeout:     getEnv("DEPLOY_STEP_TIMEOUT", "5m"),
			LockTTL:         getEnv("DEPLOY_LOCK_TTL", "30m"),
			LockFile:        getEnv("DEPLOY_LOCK_FILE", ""),
			ObserveWindow:   getEnv("DEPLOY_OBSERVE_WINDOW", "0s"),
			ObserveInterval: getEnv("DEPLOY_OBSERVE_INTERVAL", "30s"),
			WindowFile:      getEnv("DEPLOY_WINDOW_FILE", ""),
		},
		Target: TargetConfig{
			Host:                  getEnv("TARGET_HOST", ""),
			Port:                  getEnvInt("TARGET_PORT", 22),
			User:                  getEnv("TARGET_USER", "root"),
			KeyFile:               getEnv("TARGET_KEY_FILE", ""),
			Password:              getEnv("TARGET_PASSWORD", ""),
			KnownHosts:            getEnv("TARGET_KNOWN_HOSTS", ""),
			ConnectTimeout:        getEnv("TARGET_CONNECT_TIMEOUT", "10s"),
			InsecureIgnoreHostKey: getEnvBool("TARGET_INSECURE_IGNORE_HOST_KEY", false),
		},
		Supervisor: SupervisorConfig{
			Kind:           getEnv("SUPERVISOR_KIND", "systemd"),
			Name:           getEnv("SUPERVISOR_NAME", "quiz-api"),
			UseSudo:        getEnvBool("SUPERVISOR_SUDO", false),
			StartCommand:   getEnv("SUPERVISOR_START_COMMAND", ""),
			ProcessPattern: getEnv("SUPERVISOR_PROCESS_PATTERN", ""),
			WorkDir:        getEnv("SUPERVISOR_WORK_DIR", ""),
			LogFile:        getEnv("SUPERVISOR_LOG_FILE", ""),
			StopTimeout:    getEnv("SUPERVISOR_STOP_TIMEOUT", "15s"),
		},
		Verify: VerifyConfig{
			BaseURL:    getEnv("VERIFY_BASE_URL", "http://localhost:5001"),
			Timeout:    getEnv("VERIFY_TIMEOUT", "30s"),
			CourseID:   getEnvInt("VERIFY_COURSE_ID", 1),
			ModuleWeek: getEnvInt("VERIFY_MODULE_WEEK", 1),
		},
		Prometheus: PrometheusConfig{
			URL:           getEnv("PROMETHEUS_URL", ""),
			InstanceQuery: getEnv("PROMETHEUS_INSTANCE_QUERY", `count(up{job="quiz-api"} == 1)`),
			QueryTimeout:  getEnv("PROMETHEUS_QUERY_TIMEOUT", "10s"),
		},
		Telemetry: TelemetryConfig{
			Tracing:     getEnvBool("TRACING_ENABLED", false),
			ServiceName: getEnv("TRACING_SERVICE_NAME", "quizops"),
		},
		QuizAPI: QuizAPIConfig{
			BindAddr:     getEnv("QUIZAPI_BIND_ADDR", "0.0.0.0:5001"),
			DatabaseDSN:  getEnv("QUIZAPI_DATABASE_DSN", ""),
			SessionTTL:   getEnv("QUIZAPI_SESSION_TTL", "24h"),
			MaterialFile: getEnv("QUIZAPI_MATERIAL_FILE", ""),
		},
	}

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			log.Err(err).Msg("load config file failed")
			return nil, err
		}
	}

	// fill reasonable defaults when fields omitted in file
	if cfg.Server.BindAddr == "" {
		cfg.Server.BindAddr = "0.0.0.0:8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Deploy.BackupRoot == "" && cfg.Deploy.AppRoot != "" {
		cfg.Deploy.BackupRoot = path.Join(cfg.Deploy.AppRoot, "backups")
	}
	if cfg.Deploy.FileMode == "" {
		cfg.Deploy.FileMode = "0644"
	}
	if cfg.Deploy.Strategy == "" {
		cfg.Deploy.Strategy = "scp"
	}
	if cfg.Deploy.LockFile == "" {
		cfg.Deploy.LockFile = filepath.Join(os.TempDir(), "quizops.lock")
	}
	if cfg.Deploy.WindowFile == "" {
		cfg.Deploy.WindowFile = filepath.Join(filepath.Dir(cfg.Deploy.LockFile), "quizops-observation.json")
	}
	if cfg.Target.Port == 0 {
		cfg.Target.Port = 22
	}
	if cfg.Supervisor.Kind == "" {
		cfg.Supervisor.Kind = "systemd"
	}
	if cfg.Verify.BaseURL == "" {
		cfg.Verify.BaseURL = "http://localhost:5001"
	}
	if cfg.Verify.CourseID == 0 {
		cfg.Verify.CourseID = 1
	}
	if cfg.Verify.ModuleWeek == 0 {
		cfg.Verify.ModuleWeek = 1
	}
	if cfg.QuizAPI.BindAddr == "" {
		cfg.QuizAPI.BindAddr = "0.0.0.0:5001"
	}

	if _, err := cfg.Deploy.Mode(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Mode 解析文件权限配置
func (d *DeployConfig) Mode() (os.FileMode, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(d.FileMode), 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid deploy.fileMode %q: %w", d.FileMode, err)
	}
	if v > 0o777 {
		return 0, fmt.Errorf("invalid deploy.fileMode %q: only permission bits allowed", d.FileMode)
	}
	return os.FileMode(v), nil
}

// SetupLogging 根据配置设置全局日志级别和输出
func SetupLogging(c *LoggingConfig) {
	switch strings.ToLower(c.Level) {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if c.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// Duration 解析时长字符串，失败时返回默认值
func Duration(s string, d time.Duration) time.Duration {
	if s == "" {
		return d
	}
	if v, err := time.ParseDuration(s); err == nil {
		return v
	}
	log.Warn().Str("value", s).Dur("default", d).Msg("invalid duration, using default")
	return d
}

func loadFromFile(cfg *Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
