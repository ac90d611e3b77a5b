package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/magicjsdev/ark/internal/scaffold"
	"github.com/magicjsdev/ark/internal/ui"
)

var addFeatureCmd = &cobra.Command{
	Use:   "add-feature <name> <packageId>",
	Short: "Install a feature template from the registry",
	Long: `The add-feature command downloads the template published as packageId
into src/features/<name>. The feature name must not be in use.`,
	Args: cobra.ExactArgs(2),
	RunE: runAddFeature,
}

func runAddFeature(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ui.Info(fmt.Sprintf("Downloading %s", args[1]))
	dir, err := scaffold.New(logger).AddFeature(cmd.Context(), cfg, args[0], args[1])
	if err != nil {
		return err
	}
	ui.Success(fmt.Sprintf("Feature %s added at %s", args[0], dir))
	return nil
}
