package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/magicjsdev/ark/internal/scaffold"
	"github.com/magicjsdev/ark/internal/ui"
)

var publishCmd = &cobra.Command{
	Use:   "publish <name>",
	Short: "Publish a feature template to the registry",
	Long: `The publish command packs src/features/<name> and uploads it to the
registry under the packageId in the feature's config.json.

The secret key is read from --secret-key, then ARK_SECRET_KEY, and is
prompted for on a terminal.`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().String("secret-key", "", "Registry secret key")
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	key, _ := cmd.Flags().GetString("secret-key")
	if key == "" {
		key = os.Getenv("ARK_SECRET_KEY")
	}
	if key == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		key, err = ui.RunTextInputPrompt("Secret key", "Used to authenticate with "+cfg.RegistryURL, "", "", true)
		if err != nil {
			return fmt.Errorf("interactive prompt failed: %w", err)
		}
	}
	if key == "" {
		return errors.New("a secret key is required: pass --secret-key or set ARK_SECRET_KEY")
	}

	ui.Info(fmt.Sprintf("Publishing %s", args[0]))
	id, err := scaffold.New(logger).Publish(cmd.Context(), cfg, args[0], key)
	if err != nil {
		return err
	}
	ui.Success(fmt.Sprintf("Published %s as %s", args[0], id))
	return nil
}
