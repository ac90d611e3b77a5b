package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/magicjsdev/ark/internal/doctor"
	"github.com/magicjsdev/ark/internal/ui"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the project and the Node.js toolchain",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d := doctor.Diagnose(cfg)

	ui.Header("Environment")
	if d.Runtime.Installed {
		ui.Highlight("node", d.Runtime.Version)
	} else {
		ui.Highlight("node", "not found")
	}
	if d.Dependencies.Manager != "" {
		ui.Highlight("package manager", d.Dependencies.Manager)
	}

	for _, w := range d.Warnings {
		ui.Warn(w)
	}
	for _, issue := range d.Issues {
		ui.Error(issue)
	}
	if !d.Healthy {
		return errors.New("environment check failed")
	}
	ui.Success(fmt.Sprintf("%s is ready", cfg.Name))
	return nil
}
