package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/magicjsdev/ark/internal/scaffold"
	"github.com/magicjsdev/ark/internal/ui"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Create a MagicJS project from the base template",
	Long: `The init command downloads the MagicJS base template into the target
directory (default: the current directory), writes an ark.yaml, installs
dependencies with the detected package manager and makes an initial git
commit.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolP("force", "f", false, "Initialize even if the directory is not empty")
	initCmd.Flags().Bool("skip-install", false, "Do not install dependencies")
	initCmd.Flags().Bool("skip-git", false, "Do not create a git repository")
	initCmd.Flags().String("template", "", "Template tarball URL")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := projectDir()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		dir = args[0]
		if !filepath.IsAbs(dir) && cwd != "" {
			dir = filepath.Join(cwd, dir)
		}
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return err
	}

	force, _ := cmd.Flags().GetBool("force")
	skipInstall, _ := cmd.Flags().GetBool("skip-install")
	skipGit, _ := cmd.Flags().GetBool("skip-git")
	template, _ := cmd.Flags().GetString("template")

	// Confirm on a TTY instead of failing outright.
	if !force && term.IsTerminal(int(os.Stdin.Fd())) {
		if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
			ok, err := ui.RunYesNoPrompt(
				fmt.Sprintf("%s is not empty. Initialize anyway?", dir),
				"Template files overwrite existing files with the same name.",
				false,
			)
			if err != nil {
				return fmt.Errorf("interactive prompt failed: %w", err)
			}
			if !ok {
				return nil
			}
			force = true
		}
	}

	ui.Header("Creating MagicJS project")
	err = scaffold.New(logger).Init(cmd.Context(), scaffold.InitOptions{
		Dir:         dir,
		TemplateURL: template,
		Force:       force,
		SkipInstall: skipInstall,
		SkipGit:     skipGit,
		Output:      os.Stdout,
		Progress:    ui.Step,
	})
	if err != nil {
		return fmt.Errorf("init failed: %w", err)
	}

	ui.Success(fmt.Sprintf("Project created in %s", dir))
	ui.Info("Run 'ark start' to start the dev server")
	return nil
}
