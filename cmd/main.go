package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/magicjsdev/ark/internal/config"
)

// Version information (can be set at build time)
var (
	version = "0.1.0"
)

var (
	logger     *zap.Logger
	logLevel   zap.AtomicLevel
	cwd        string
	configPath string
	verbose    bool

	// Root mode flags mirror the subcommands.
	modeStart      bool
	modeBuild      bool
	modeInit       bool
	modePublish    string
	modeAddFeature string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ark",
	Short: "Build, serve and publish MagicJS apps",
	Long: `ark compiles a MagicJS app's frontend and backend bundles, runs the app
server behind a live-reloading dev gateway, and scaffolds projects and
features from the template registry.

Usage:
  ark init        Create a project from the base template
  ark start       Run the dev server
  ark build       Compile production bundles
  ark add-feature Install a feature template
  ark publish     Publish a feature template`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ArbitraryArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewDevelopmentConfig()
		zcfg.DisableStacktrace = true
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		if verbose {
			zcfg.Level.SetLevel(zapcore.DebugLevel)
		}
		logLevel = zcfg.Level

		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runRoot,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cwd, "cwd", "", "Project directory (default: current directory)")
	pf.StringVarP(&configPath, "config", "c", "", "Path to "+config.FileName+" (default: <cwd>/"+config.FileName+")")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	f := rootCmd.Flags()
	f.BoolVar(&modeStart, "start", false, "Same as 'ark start'")
	f.BoolVar(&modeBuild, "build", false, "Same as 'ark build'")
	f.BoolVar(&modeInit, "init", false, "Same as 'ark init'")
	f.StringVar(&modePublish, "publish", "", "Same as 'ark publish <feature>'")
	f.StringVar(&modeAddFeature, "add-feature", "", "Same as 'ark add-feature <feature> <packageId>'")
	rootCmd.MarkFlagsMutuallyExclusive("start", "build", "init", "publish", "add-feature")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(addFeatureCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(doctorCmd)
}

func runRoot(cmd *cobra.Command, args []string) error {
	// Subcommands reached through a mode flag were never executed by cobra.
	dispatch := func(sub *cobra.Command, run func(*cobra.Command, []string) error, args []string) error {
		sub.SetContext(cmd.Context())
		return run(sub, args)
	}

	switch {
	case modeStart:
		return dispatch(startCmd, runStart, nil)
	case modeBuild:
		return dispatch(buildCmd, runBuild, nil)
	case modeInit:
		return dispatch(initCmd, runInit, args)
	case modePublish != "":
		return dispatch(publishCmd, runPublish, []string{modePublish})
	case modeAddFeature != "":
		if len(args) != 1 {
			return errors.New("--add-feature needs the packageId as an argument: ark --add-feature <feature> <packageId>")
		}
		return dispatch(addFeatureCmd, runAddFeature, []string{modeAddFeature, args[0]})
	}
	if len(args) > 0 {
		return fmt.Errorf("unknown command %q for ark", args[0])
	}
	return cmd.Help()
}

// projectDir resolves --cwd.
func projectDir() (string, error) {
	if cwd != "" {
		return cwd, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return dir, nil
}

// loadConfig loads the project configuration for --cwd and --config.
func loadConfig() (config.Config, error) {
	dir, err := projectDir()
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(dir, configPath)
	if errors.Is(err, config.ErrNotFound) {
		return cfg, fmt.Errorf("configuration file not found at %s", configPath)
	}
	return cfg, err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
