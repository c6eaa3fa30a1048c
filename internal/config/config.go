package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalidInput marks configuration problems that must stop a run before any file is touched.
var ErrInvalidInput = errors.New("invalid input")

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "IMAGE_COMPRESSOR"

// Failure policies for a single bad file during traversal.
const (
	OnErrorSkip  = "skip"
	OnErrorAbort = "abort"
)

// Version control backends.
const (
	BackendExec  = "exec"
	BackendGoGit = "gogit"
)

// Config represents the main configuration structure
type Config struct {
	Directory        string        `mapstructure:"directory" yaml:"directory"`
	Quality          int           `mapstructure:"quality" yaml:"quality"`
	FileTypes        []string      `mapstructure:"file_types" yaml:"file_types"`
	OnError          string        `mapstructure:"on_error" yaml:"on_error"`
	PreserveMetadata bool          `mapstructure:"preserve_metadata" yaml:"preserve_metadata"`
	Report           ReportConfig  `mapstructure:"report" yaml:"report"`
	Git              GitConfig     `mapstructure:"git" yaml:"git"`
	GitHub           GitHubConfig  `mapstructure:"github" yaml:"github"`
	Logging          LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ReportConfig contains report persistence settings
type ReportConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// GitConfig contains settings for the commit and push step
type GitConfig struct {
	Backend       string        `mapstructure:"backend" yaml:"backend"`
	Binary        string        `mapstructure:"binary" yaml:"binary"`
	WorkDir       string        `mapstructure:"workdir" yaml:"workdir"`
	Branch        string        `mapstructure:"branch" yaml:"branch"`
	CommitMessage string        `mapstructure:"commit_message" yaml:"commit_message"`
	Remote        string        `mapstructure:"remote" yaml:"remote"`
	AuthorName    string        `mapstructure:"author_name" yaml:"author_name"`
	AuthorEmail   string        `mapstructure:"author_email" yaml:"author_email"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// GitHubConfig contains settings for the pull request comment
type GitHubConfig struct {
	Token      string        `mapstructure:"token" yaml:"token"`
	RepoOwner  string        `mapstructure:"repo_owner" yaml:"repo_owner"`
	RepoName   string        `mapstructure:"repo_name" yaml:"repo_name"`
	PRNumber   int           `mapstructure:"pr_number" yaml:"pr_number"`
	APIURL     string        `mapstructure:"api_url" yaml:"api_url"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	FilePath   string `mapstructure:"file_path" yaml:"file_path"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Directory: ".",
		Quality:   85,
		FileTypes: []string{"jpg", "jpeg", "png", "gif", "webp"},
		OnError:   OnErrorSkip,
		Report: ReportConfig{
			Path: "compression_report.txt",
		},
		Git: GitConfig{
			Backend:       BackendExec,
			Binary:        "git",
			WorkDir:       ".",
			Branch:        "compress-images-branch",
			CommitMessage: "Comprimir imagens e otimizar tamanhos",
			Remote:        "origin",
			Timeout:       2 * time.Minute,
		},
		GitHub: GitHubConfig{
			APIURL:     "https://api.github.com/",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			RetryDelay: time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"directory":  "directory",
	"quality":    "quality",
	"file_types": "file_types",
	"token":      "github.token",
	"repo_owner": "github.repo_owner",
	"repo_name":  "github.repo_name",
	"pr_number":  "github.pr_number",
}

// LoadEnvFile loads variables from a .env file into the process environment.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("error loading env file %s: %w", path, err)
	}
	return nil
}

// LoadConfig builds the configuration from defaults, config file, environment and flags.
// flags may be nil. The returned config is normalized and validated, except for the
// publishing settings which are checked by ValidatePublishing.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v, err := newViper(configPath, flags)
	if err != nil {
		return nil, err
	}

	// setDefaults seeds every key, so decoding starts from a zero value. Decoding
	// over DefaultConfig would merge a shorter file_types list into the defaults.
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ConfigFileUsed reports which config file LoadConfig would read, or "" if none.
func ConfigFileUsed(configPath string) string {
	v, err := newViper(configPath, nil)
	if err != nil {
		return ""
	}
	return v.ConfigFileUsed()
}

func newViper(configPath string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.image-compressor")
	}

	// Defaults make every nested key known to viper, so env overrides reach Unmarshal.
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("github.token", EnvPrefix+"_GITHUB_TOKEN", "GITHUB_TOKEN"); err != nil {
		return nil, fmt.Errorf("error binding token env: %w", err)
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("error binding flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	return v, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("directory", d.Directory)
	v.SetDefault("quality", d.Quality)
	v.SetDefault("file_types", d.FileTypes)
	v.SetDefault("on_error", d.OnError)
	v.SetDefault("preserve_metadata", d.PreserveMetadata)
	v.SetDefault("report.path", d.Report.Path)

	v.SetDefault("git.backend", d.Git.Backend)
	v.SetDefault("git.binary", d.Git.Binary)
	v.SetDefault("git.workdir", d.Git.WorkDir)
	v.SetDefault("git.branch", d.Git.Branch)
	v.SetDefault("git.commit_message", d.Git.CommitMessage)
	v.SetDefault("git.remote", d.Git.Remote)
	v.SetDefault("git.author_name", d.Git.AuthorName)
	v.SetDefault("git.author_email", d.Git.AuthorEmail)
	v.SetDefault("git.timeout", d.Git.Timeout)

	v.SetDefault("github.token", d.GitHub.Token)
	v.SetDefault("github.repo_owner", d.GitHub.RepoOwner)
	v.SetDefault("github.repo_name", d.GitHub.RepoName)
	v.SetDefault("github.pr_number", d.GitHub.PRNumber)
	v.SetDefault("github.api_url", d.GitHub.APIURL)
	v.SetDefault("github.timeout", d.GitHub.Timeout)
	v.SetDefault("github.max_retries", d.GitHub.MaxRetries)
	v.SetDefault("github.retry_delay", d.GitHub.RetryDelay)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file_path", d.Logging.FilePath)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)
}

// Validate validates the configuration and normalizes extensions and enumerations.
func (c *Config) Validate() error {
	if c.Directory == "" {
		return fmt.Errorf("%w: directory is required", ErrInvalidInput)
	}

	if !isValidPath(c.Directory) {
		return fmt.Errorf("%w: directory does not exist or is not accessible: %s", ErrInvalidInput, c.Directory)
	}

	if c.Quality < 0 || c.Quality > 100 {
		return fmt.Errorf("%w: quality must be between 0 and 100, got %d", ErrInvalidInput, c.Quality)
	}

	c.FileTypes = NormalizeExtensions(c.FileTypes)
	if len(c.FileTypes) == 0 {
		return fmt.Errorf("%w: at least one file type is required", ErrInvalidInput)
	}

	c.OnError = strings.ToLower(strings.TrimSpace(c.OnError))
	if c.OnError != OnErrorSkip && c.OnError != OnErrorAbort {
		return fmt.Errorf("%w: invalid on_error policy: %s (valid: skip, abort)", ErrInvalidInput, c.OnError)
	}

	if c.Report.Path == "" {
		c.Report.Path = "compression_report.txt"
	}

	c.Git.Backend = strings.ToLower(strings.TrimSpace(c.Git.Backend))
	if c.Git.Backend != BackendExec && c.Git.Backend != BackendGoGit {
		return fmt.Errorf("%w: invalid git backend: %s (valid: exec, gogit)", ErrInvalidInput, c.Git.Backend)
	}
	if c.Git.Timeout <= 0 {
		c.Git.Timeout = 2 * time.Minute
	}

	if c.GitHub.Timeout <= 0 {
		c.GitHub.Timeout = 30 * time.Second
	}
	if c.GitHub.MaxRetries < 0 {
		c.GitHub.MaxRetries = 0
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("%w: invalid log level: %s (valid: debug, info, warn, error)", ErrInvalidInput, c.Logging.Level)
	}

	return nil
}

// ValidatePublishing checks the settings needed to commit results and comment on the pull request.
func (c *Config) ValidatePublishing() error {
	var missing []string
	if c.GitHub.Token == "" {
		missing = append(missing, "token")
	}
	if c.GitHub.RepoOwner == "" {
		missing = append(missing, "repo_owner")
	}
	if c.GitHub.RepoName == "" {
		missing = append(missing, "repo_name")
	}
	if c.GitHub.PRNumber <= 0 {
		missing = append(missing, "pr_number")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: required settings missing: %s", ErrInvalidInput, strings.Join(missing, ", "))
	}
	if c.Git.Branch == "" {
		return fmt.Errorf("%w: git branch is required", ErrInvalidInput)
	}
	return nil
}

// Redacted returns a copy safe for printing.
func (c *Config) Redacted() *Config {
	cp := *c
	cp.FileTypes = append([]string(nil), c.FileTypes...)
	if cp.GitHub.Token != "" {
		cp.GitHub.Token = "***"
	}
	return &cp
}

// Helper functions

func isValidPath(path string) bool {
	if path == "" {
		return false
	}

	expandedPath := os.ExpandEnv(path)
	if strings.HasPrefix(expandedPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return false
		}
		expandedPath = filepath.Join(home, expandedPath[1:])
	}

	stat, err := os.Stat(expandedPath)
	return err == nil && stat.IsDir()
}

// NormalizeExtensions lower-cases extensions, adds the leading dot and drops blanks and duplicates.
func NormalizeExtensions(extensions []string) []string {
	normalized := make([]string, 0, len(extensions))
	seen := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" || ext == "." {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if seen[ext] {
			continue
		}
		seen[ext] = true
		normalized = append(normalized, ext)
	}
	return normalized
}
