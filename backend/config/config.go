package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Minio     MinioConfig     `yaml:"minio"`
	Extractor ExtractorConfig `yaml:"extractor"`
	LLM       LLMConfig       `yaml:"llm"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Auth      AuthConfig      `yaml:"auth"`
	Store     StoreConfig     `yaml:"store"`
	Users     []User          `yaml:"users"`
}

// StoreConfig bounds the in-memory job store. Completed and failed jobs
// beyond the cap are dropped oldest-first; running jobs are never dropped.
type StoreConfig struct {
	MaxJobs int `yaml:"max_jobs"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig holds the local directories the service writes to and the
// upload limits enforced before a job is created.
type StorageConfig struct {
	UploadDir      string `yaml:"upload_dir"`
	ExportDir      string `yaml:"export_dir"`
	CacheDir       string `yaml:"cache_dir"`
	SummaryDir     string `yaml:"summary_dir"`
	MaxFileSizeMB  int64  `yaml:"max_file_size_mb"`
	MaxFilesPerJob int    `yaml:"max_files_per_job"`
}

// MaxFileSizeBytes returns the per-file upload bound in bytes.
func (s *StorageConfig) MaxFileSizeBytes() int64 {
	return s.MaxFileSizeMB * 1024 * 1024
}

type MinioConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	UseSSL     bool   `yaml:"use_ssl"`
	ExpireDays int    `yaml:"expire_days"`
}

// ExtractorConfig points at the external document extraction service.
type ExtractorConfig struct {
	APIURL              string `yaml:"api_url"`
	APIToken            string `yaml:"api_token"`
	CallbackURL         string `yaml:"callback_url"`
	Seed                string `yaml:"seed"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	PollMaxAttempts     int    `yaml:"poll_max_attempts"`
}

// LLMConfig points at the OpenAI-compatible chat completion API used by
// the analysis agents.
type LLMConfig struct {
	APIURL         string `yaml:"api_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxCharsPerDoc int    `yaml:"max_chars_per_doc"`
}

// AnalysisConfig bounds pipeline concurrency.
type AnalysisConfig struct {
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`
	MaxFileWorkers    int `yaml:"max_file_workers"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = "./uploads"
	}
	if cfg.Storage.ExportDir == "" {
		cfg.Storage.ExportDir = "./exports"
	}
	if cfg.Storage.CacheDir == "" {
		cfg.Storage.CacheDir = "./cache"
	}
	if cfg.Storage.SummaryDir == "" {
		cfg.Storage.SummaryDir = "./summaries"
	}
	if cfg.Storage.MaxFileSizeMB == 0 {
		cfg.Storage.MaxFileSizeMB = 50
	}
	if cfg.Storage.MaxFilesPerJob == 0 {
		cfg.Storage.MaxFilesPerJob = 50
	}
	if cfg.Minio.ExpireDays == 0 {
		cfg.Minio.ExpireDays = 7
	}
	if cfg.Extractor.PollIntervalSeconds == 0 {
		cfg.Extractor.PollIntervalSeconds = 5
	}
	if cfg.Extractor.PollMaxAttempts == 0 {
		cfg.Extractor.PollMaxAttempts = 60
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o"
	}
	if cfg.LLM.TimeoutSeconds == 0 {
		cfg.LLM.TimeoutSeconds = 120
	}
	if cfg.LLM.MaxCharsPerDoc == 0 {
		cfg.LLM.MaxCharsPerDoc = 8000
	}
	if cfg.Analysis.MaxConcurrentJobs == 0 {
		cfg.Analysis.MaxConcurrentJobs = 4
	}
	if cfg.Analysis.MaxFileWorkers == 0 {
		cfg.Analysis.MaxFileWorkers = 5
	}
	if cfg.Auth.TokenExpireHours == 0 {
		cfg.Auth.TokenExpireHours = 24
	}
	if cfg.Store.MaxJobs == 0 {
		cfg.Store.MaxJobs = 200
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Storage.MaxFileSizeMB < 0 {
		return fmt.Errorf("storage.max_file_size_mb must be positive, got %d", c.Storage.MaxFileSizeMB)
	}
	if c.Storage.MaxFilesPerJob < 0 {
		return fmt.Errorf("storage.max_files_per_job must be positive, got %d", c.Storage.MaxFilesPerJob)
	}
	if c.Analysis.MaxConcurrentJobs < 1 {
		return fmt.Errorf("analysis.max_concurrent_jobs must be at least 1, got %d", c.Analysis.MaxConcurrentJobs)
	}
	return nil
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}
