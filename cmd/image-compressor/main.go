package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"image-compressor/internal/compressor"
	"image-compressor/internal/config"
	"image-compressor/internal/github"
	"image-compressor/internal/logger"
	"image-compressor/internal/metadata"
	"image-compressor/internal/pipeline"
	"image-compressor/internal/scanner"
	"image-compressor/internal/statistics"
	"image-compressor/internal/vcs"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	cfgFile string
	envFile string
	verbose bool
	quiet   bool
)

// rootCmd compresses images, commits them and comments on the pull request.
var rootCmd = &cobra.Command{
	Use:   "image-compressor",
	Short: "Compress images in place and report the savings on a pull request",
	Long: `image-compressor walks a directory tree, re-encodes every matching image
in place at the given quality, writes a compression report, commits the
result to a new branch, pushes it and posts the report as a comment on
the pull request.

Configuration is read from flags, IMAGE_COMPRESSOR_* environment variables,
a .env file and config.yaml, in that order of precedence.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd)
	},
}

// scanCmd lists the files a run would compress without touching them.
var scanCmd = &cobra.Command{
	Use:   "scan [directory]",
	Short: "List matching images and show statistics without compressing",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd, args)
	},
}

// probeCmd shows the EXIF information found in one file.
var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Show EXIF information for a single image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProbe(args[0])
	},
}

// configCmd prints the effective configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	defaults := config.DefaultConfig()
	rootCmd.PersistentFlags().String("directory", defaults.Directory, "directory to search for images")
	rootCmd.PersistentFlags().Int("quality", defaults.Quality, "quality of compression (0-100)")
	rootCmd.PersistentFlags().StringSlice("file_types", defaults.FileTypes, "comma-separated list of file types to compress")

	rootCmd.Flags().String("token", "", "GitHub token (or GITHUB_TOKEN)")
	rootCmd.Flags().String("repo_owner", "", "GitHub repository owner")
	rootCmd.Flags().String("repo_name", "", "GitHub repository name")
	rootCmd.Flags().Int("pr_number", 0, "pull request number")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(configCmd)
}

// runCompress executes the full compress, publish and comment run.
func runCompress(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidatePublishing(); err != nil {
		return err
	}

	log := setupLogger(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []compressor.Option{compressor.WithLogger(log)}
	if cfg.PreserveMetadata {
		preserver := metadata.NewExiftoolPreserver()
		defer preserver.Close()
		opts = append(opts, compressor.WithPreserver(preserver))
	}

	stats := statistics.NewStatistics()
	sc := scanner.New(compressor.NewImageCompressor(opts...), log, stats)

	vcsPort, err := vcs.New(cfg.Git, cfg.GitHub.Token, log)
	if err != nil {
		return err
	}
	comments, err := github.NewClient(github.OptionsFromConfig(cfg.GitHub), log)
	if err != nil {
		return err
	}

	if _, err := pipeline.New(cfg, sc, vcsPort, comments, log, os.Stdout).Run(ctx); err != nil {
		return err
	}

	if !quiet {
		fmt.Fprintln(os.Stderr, "\n"+stats.GetSummary())
		if len(stats.Errors) > 0 {
			fmt.Fprintln(os.Stderr, stats.GetErrorSummary())
		}
	}
	return nil
}

// runScan discovers matching files and prints statistics without compressing them.
func runScan(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		if err := cmd.Flags().Set("directory", args[0]); err != nil {
			return err
		}
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Scanning directory: %s\n", cfg.Directory)

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()
	sc := scanner.New(nil, log, stats)

	files, err := sc.Discover(cmd.Context(), cfg.Directory, cfg.FileTypes)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	stats.Finalize()

	for _, f := range files {
		fmt.Println(f)
	}

	if !quiet {
		fmt.Println("\n==================================================")
		fmt.Println("SCAN RESULTS")
		fmt.Println("==================================================")
		fmt.Println("\n" + stats.GetSummary())
		fmt.Println("\n" + stats.GetFileTypeBreakdown())
	}
	return nil
}

// runProbe prints the EXIF information for a given file.
func runProbe(filePath string) error {
	if !fileExists(filePath) {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	fmt.Printf("Probing EXIF data for: %s\n", filePath)

	info, err := metadata.Probe(filePath)
	if err != nil {
		fmt.Printf("Error reading EXIF data: %v\n", err)
		return nil
	}
	if !info.HasEXIF {
		fmt.Println("No EXIF data found")
		return nil
	}

	fmt.Printf("Camera model: %s\n", info.Model)
	fmt.Printf("Software: %s\n", info.Software)
	if !info.Taken.IsZero() {
		fmt.Printf("Taken: %s\n", info.Taken.Format("2006-01-02 15:04:05"))
	}
	if metadata.IsJPEG(filePath) {
		fmt.Println("EXIF can be carried over on compression (preserve_metadata: true)")
	}
	return nil
}

// runConfig prints the effective configuration with secrets masked.
func runConfig(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if used := config.ConfigFileUsed(cfgFile); used != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", used)
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg.Redacted())
}

// loadConfig reads the dotenv file, then defaults, config file, environment and flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(cfgFile, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	log, err := logger.NewLogger(logger.FromConfig(cfg.Logging, verbose, quiet))
	if err != nil {
		log = logrus.New()
		log.SetOutput(os.Stderr)
		log.SetLevel(logrus.InfoLevel)
		log.Warnf("Falling back to default logger: %v", err)
	}
	return log
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
