package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("directory", ".", "")
	fs.Int("quality", 85, "")
	fs.StringSlice("file_types", []string{"jpg", "jpeg", "png", "gif", "webp"}, "")
	fs.String("token", "", "")
	fs.String("repo_owner", "", "")
	fs.String("repo_name", "", "")
	fs.Int("pr_number", 0, "")
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return fs
}

func emptyConfigFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(emptyConfigFile(t), newFlags(t))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Directory != "." {
		t.Errorf("Directory = %q, want .", cfg.Directory)
	}
	if cfg.Quality != 85 {
		t.Errorf("Quality = %d, want 85", cfg.Quality)
	}
	want := []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}
	if !reflect.DeepEqual(cfg.FileTypes, want) {
		t.Errorf("FileTypes = %v, want %v", cfg.FileTypes, want)
	}
	if cfg.OnError != OnErrorSkip {
		t.Errorf("OnError = %q, want skip", cfg.OnError)
	}
	if cfg.Report.Path != "compression_report.txt" {
		t.Errorf("Report.Path = %q", cfg.Report.Path)
	}
	if cfg.Git.Branch != "compress-images-branch" || cfg.Git.Remote != "origin" {
		t.Errorf("unexpected git defaults: %+v", cfg.Git)
	}
}

func TestLoadConfigFlagsOverride(t *testing.T) {
	dir := t.TempDir()
	flags := newFlags(t,
		"--directory", dir,
		"--quality", "60",
		"--file_types", "JPG, png",
		"--token", "secret",
		"--repo_owner", "acme",
		"--repo_name", "site",
		"--pr_number", "42",
	)
	cfg, err := LoadConfig(emptyConfigFile(t), flags)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Directory != dir || cfg.Quality != 60 {
		t.Errorf("got directory=%q quality=%d", cfg.Directory, cfg.Quality)
	}
	if !reflect.DeepEqual(cfg.FileTypes, []string{".jpg", ".png"}) {
		t.Errorf("FileTypes = %v", cfg.FileTypes)
	}
	if cfg.GitHub.Token != "secret" || cfg.GitHub.RepoOwner != "acme" || cfg.GitHub.RepoName != "site" || cfg.GitHub.PRNumber != 42 {
		t.Errorf("unexpected github config: %+v", cfg.GitHub)
	}
	if err := cfg.ValidatePublishing(); err != nil {
		t.Errorf("ValidatePublishing: %v", err)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "directory: " + dir + "\nquality: 70\non_error: abort\ngithub:\n  timeout: 5s\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("IMAGE_COMPRESSOR_GIT_BRANCH", "shrink")
	t.Setenv("GITHUB_TOKEN", "from-env")

	cfg, err := LoadConfig(path, nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Quality != 70 || cfg.OnError != OnErrorAbort {
		t.Errorf("got quality=%d on_error=%q", cfg.Quality, cfg.OnError)
	}
	if cfg.GitHub.Timeout != 5*time.Second {
		t.Errorf("GitHub.Timeout = %v", cfg.GitHub.Timeout)
	}
	if cfg.Git.Branch != "shrink" {
		t.Errorf("Git.Branch = %q, want env override", cfg.Git.Branch)
	}
	if cfg.GitHub.Token != "from-env" {
		t.Errorf("GitHub.Token = %q, want GITHUB_TOKEN fallback", cfg.GitHub.Token)
	}
}

func TestLoadConfigFileTypesReplaceDefaults(t *testing.T) {
	yamlFile := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	tests := []struct {
		name  string
		setup func(t *testing.T) (string, *pflag.FlagSet)
		want  []string
	}{
		{
			name: "flag",
			setup: func(t *testing.T) (string, *pflag.FlagSet) {
				return emptyConfigFile(t), newFlags(t, "--file_types", "png")
			},
			want: []string{".png"},
		},
		{
			name: "config file",
			setup: func(t *testing.T) (string, *pflag.FlagSet) {
				return yamlFile(t, "file_types: [gif]\n"), newFlags(t)
			},
			want: []string{".gif"},
		},
		{
			name: "environment",
			setup: func(t *testing.T) (string, *pflag.FlagSet) {
				t.Setenv("IMAGE_COMPRESSOR_FILE_TYPES", "jpg")
				return emptyConfigFile(t), nil
			},
			want: []string{".jpg"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, flags := tt.setup(t)
			cfg, err := LoadConfig(path, flags)
			if err != nil {
				t.Fatalf("LoadConfig: %v", err)
			}
			if !reflect.DeepEqual(cfg.FileTypes, tt.want) {
				t.Errorf("FileTypes = %v, want %v", cfg.FileTypes, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing directory", func(c *Config) { c.Directory = filepath.Join(dir, "nope") }, true},
		{"quality too low", func(c *Config) { c.Quality = -1 }, true},
		{"quality too high", func(c *Config) { c.Quality = 101 }, true},
		{"quality bounds", func(c *Config) { c.Quality = 100 }, false},
		{"no file types", func(c *Config) { c.FileTypes = []string{" ", ""} }, true},
		{"bad policy", func(c *Config) { c.OnError = "retry" }, true},
		{"policy case", func(c *Config) { c.OnError = "ABORT" }, false},
		{"bad backend", func(c *Config) { c.Git.Backend = "svn" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			c.Directory = dir
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("error %v does not wrap ErrInvalidInput", err)
			}
		})
	}
}

func TestValidatePublishing(t *testing.T) {
	c := DefaultConfig()
	err := c.ValidatePublishing()
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	c.GitHub = GitHubConfig{Token: "t", RepoOwner: "o", RepoName: "r", PRNumber: 1}
	if err := c.ValidatePublishing(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNormalizeExtensions(t *testing.T) {
	got := NormalizeExtensions([]string{"JPG", ".png", " gif ", "", "jpg", "."})
	want := []string{".jpg", ".png", ".gif"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeExtensions = %v, want %v", got, want)
	}
}

func TestRedacted(t *testing.T) {
	c := DefaultConfig()
	c.GitHub.Token = "secret"
	r := c.Redacted()
	if r.GitHub.Token != "***" {
		t.Errorf("token not masked: %q", r.GitHub.Token)
	}
	if c.GitHub.Token != "secret" {
		t.Errorf("original config mutated")
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("IMAGE_COMPRESSOR_TEST_VALUE=hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("IMAGE_COMPRESSOR_TEST_VALUE", "")
	os.Unsetenv("IMAGE_COMPRESSOR_TEST_VALUE")
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv("IMAGE_COMPRESSOR_TEST_VALUE"); got != "hello" {
		t.Errorf("env value = %q, want hello", got)
	}
}
