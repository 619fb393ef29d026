package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Dirs names the three working directories a run provisions and tears down.
// Relative entries are resolved against Config.BaseDir.
type Dirs struct {
	Cache    string `yaml:"cache" json:"cache"`
	VectorDB string `yaml:"vector_db" json:"vector_db"`
	Data     string `yaml:"data" json:"data"`
}

type DatasetCfg struct {
	Enabled        *bool  `yaml:"enabled" json:"enabled"`
	Name           string `yaml:"name" json:"name"`
	Subset         string `yaml:"subset" json:"subset"`
	Endpoint       string `yaml:"endpoint" json:"endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	RetryCount     int    `yaml:"retry_count" json:"retry_count"`
}

type TeardownCfg struct {
	Enabled        *bool    `yaml:"enabled" json:"enabled"`
	DryRun         bool     `yaml:"dry_run" json:"dry_run"`
	ProtectedPaths []string `yaml:"protected_paths" json:"protected_paths"` // Added to the built-in protected set
}

type PrometheusCfg struct {
	Port int `yaml:"port" json:"port"` // 0 disables the metrics server
}

type LoggingCfg struct {
	Dir          string `yaml:"dir" json:"dir"`                     // Empty logs to stdout only
	RotationDays int    `yaml:"rotation_days" json:"rotation_days"` // Days to keep logs before rotation
}

type Config struct {
	BaseDir      string        `yaml:"base_dir" json:"base_dir"`
	Dirs         Dirs          `yaml:"dirs" json:"dirs"`
	DirMode      string        `yaml:"dir_mode" json:"dir_mode"`
	Dataset      DatasetCfg    `yaml:"dataset" json:"dataset"`
	Teardown     TeardownCfg   `yaml:"teardown" json:"teardown"`
	DatabasePath string        `yaml:"database_path" json:"database_path"` // Empty disables the run journal
	Prometheus   PrometheusCfg `yaml:"prometheus" json:"prometheus"`
	Logging      LoggingCfg    `yaml:"logging" json:"logging"`

	mode os.FileMode
}

const (
	DefaultCacheDir    = "cache/"
	DefaultVectorDBDir = "vector_db/"
	DefaultDataDir     = "data/"
	DefaultDataset     = "medical_dialog"
	DefaultSubset      = "en"
	DefaultEndpoint    = "https://datasets-server.huggingface.co"
)

var (
	errEmptyDir        = errors.New("directory entry must not be empty")
	errTraversal       = errors.New("directory entry must not contain '..'")
	errDuplicateDir    = errors.New("directory entries must be distinct")
	errOutsideBase     = errors.New("directory entry must lie inside base_dir")
	errInvalidBase     = errors.New("base_dir must resolve to an absolute path")
	errInvalidMode     = errors.New("dir_mode must be an octal permission such as 0755")
	errNegativeTimeout = errors.New("dataset.timeout_seconds cannot be negative")
	errNegativeRetry   = errors.New("dataset.retry_count cannot be negative")
	errNegativeRotate  = errors.New("logging.rotation_days cannot be negative")
	errMissingDataset  = errors.New("dataset.name is required when the dataset is enabled")
)

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, err
	}
	if err := cfg.validateAndDefault(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration rooted at the working directory.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.validateAndDefault(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return cfg, nil
}

func (c *Config) validateAndDefault() error {
	if c.BaseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		c.BaseDir = wd
	}
	base, err := filepath.Abs(c.BaseDir)
	if err != nil || !filepath.IsAbs(base) {
		return fmt.Errorf("%w: %s", errInvalidBase, c.BaseDir)
	}
	c.BaseDir = filepath.Clean(base)

	if c.Dirs.Cache == "" {
		c.Dirs.Cache = DefaultCacheDir
	}
	if c.Dirs.VectorDB == "" {
		c.Dirs.VectorDB = DefaultVectorDBDir
	}
	if c.Dirs.Data == "" {
		c.Dirs.Data = DefaultDataDir
	}

	seen := make(map[string]string, 3)
	for _, d := range []*string{&c.Dirs.Cache, &c.Dirs.VectorDB, &c.Dirs.Data} {
		resolved, err := c.resolve(*d)
		if err != nil {
			return err
		}
		if prev, dup := seen[resolved]; dup {
			return fmt.Errorf("%w: %s and %s", errDuplicateDir, prev, *d)
		}
		seen[resolved] = *d
		*d = resolved
	}

	if c.DirMode == "" {
		c.DirMode = "0755"
	}
	mode, err := strconv.ParseUint(c.DirMode, 8, 32)
	if err != nil || mode > 0o777 {
		return fmt.Errorf("%w: %q", errInvalidMode, c.DirMode)
	}
	c.mode = os.FileMode(mode)

	if c.Dataset.Enabled == nil {
		c.Dataset.Enabled = boolPtr(true)
	}
	if c.Dataset.Name == "" && c.Dataset.Subset == "" {
		c.Dataset.Name = DefaultDataset
		c.Dataset.Subset = DefaultSubset
	}
	if *c.Dataset.Enabled && c.Dataset.Name == "" {
		return errMissingDataset
	}
	if c.Dataset.Endpoint == "" {
		c.Dataset.Endpoint = DefaultEndpoint
	}
	c.Dataset.Endpoint = strings.TrimRight(c.Dataset.Endpoint, "/")
	if c.Dataset.TimeoutSeconds < 0 {
		return errNegativeTimeout
	}
	if c.Dataset.TimeoutSeconds == 0 {
		c.Dataset.TimeoutSeconds = 30
	}
	if c.Dataset.RetryCount < 0 {
		return errNegativeRetry
	}

	if c.Teardown.Enabled == nil {
		c.Teardown.Enabled = boolPtr(true)
	}

	if c.Logging.RotationDays < 0 {
		return errNegativeRotate
	}
	if c.Logging.RotationDays == 0 {
		c.Logging.RotationDays = 30
	}

	if c.DatabasePath != "" {
		dbPath, err := filepath.Abs(c.DatabasePath)
		if err != nil {
			return fmt.Errorf("resolve database_path: %w", err)
		}
		c.DatabasePath = dbPath
	}

	return nil
}

// resolve cleans a directory entry and anchors relative entries at BaseDir.
// The result must be strictly below BaseDir.
func (c *Config) resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errEmptyDir
	}
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %s", errTraversal, p)
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.BaseDir, p)
	}
	p = filepath.Clean(p)

	rel, err := filepath.Rel(c.BaseDir, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s (base_dir %s)", errOutsideBase, p, c.BaseDir)
	}
	return p, nil
}

// Paths returns the working directories in provisioning order.
func (c *Config) Paths() []string {
	return []string{c.Dirs.Cache, c.Dirs.VectorDB, c.Dirs.Data}
}

func (c *Config) Mode() os.FileMode {
	if c.mode == 0 {
		return 0o755
	}
	return c.mode
}

func (c *Config) DatasetTimeout() time.Duration {
	return time.Duration(c.Dataset.TimeoutSeconds) * time.Second
}

func (c *Config) DatasetEnabled() bool {
	return c.Dataset.Enabled == nil || *c.Dataset.Enabled
}

func (c *Config) TeardownEnabled() bool {
	return c.Teardown.Enabled == nil || *c.Teardown.Enabled
}

func (c *Config) PrometheusAddress() string {
	return fmt.Sprintf(":%d", c.Prometheus.Port)
}

func boolPtr(b bool) *bool { return &b }
