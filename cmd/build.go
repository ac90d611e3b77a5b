package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/magicjsdev/ark/internal/compiler"
	"github.com/magicjsdev/ark/internal/devserver"
	"github.com/magicjsdev/ark/internal/ui"
)

// buildCmd compiles both bundles once
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Compile the frontend and backend bundles",
	Long: `The build command compiles the frontend and backend bundles once into the
build directory. It exits non-zero when either bundle has compile errors.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringP("mode", "m", string(compiler.Production), "Build mode: development or production")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mode, _ := cmd.Flags().GetString("mode")

	ui.Header(fmt.Sprintf("Building %s (%s)", cfg.Name, mode))
	report, err := devserver.Build(cfg, compiler.Mode(mode), logger)
	if err != nil {
		return err
	}

	s := report.Status()
	fmt.Println(ui.Summary(s))
	fmt.Print(ui.Diagnostics(s))

	if n := report.Errors(); n > 0 {
		return fmt.Errorf("build failed with %d error(s)", n)
	}
	ui.Success(fmt.Sprintf("Bundles written to %s", cfg.BuildPath()))
	return nil
}
