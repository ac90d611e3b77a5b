// Package doctor checks that the machine and project can run ark.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/magicjsdev/ark/internal/config"
	"github.com/magicjsdev/ark/internal/ports"
	"github.com/magicjsdev/ark/internal/provisioner"
)

// MinNodeMajor is the oldest Node.js release the app server bundle targets.
const MinNodeMajor = 18

// RuntimePackages must be installed for the bundles to resolve.
var RuntimePackages = []string{"@magicjs.dev/frontend", "@magicjs.dev/backend"}

// RuntimeStatus represents the status of a runtime check
type RuntimeStatus struct {
	Name      string
	Installed bool
	Version   string
	Path      string
}

// DependencyStatus represents the status of project dependencies
type DependencyStatus struct {
	Manager          string
	ConfigFile       string
	Installed        bool
	MissingPackages  []string
	InstallCommand   string
	ManagerInstalled bool
	ManagerHint      string
	IsMonorepo       bool
}

// Diagnosis contains the full health check results. Issues block `ark
// start`; warnings are printed and ignored.
type Diagnosis struct {
	ProjectPath  string
	Runtime      RuntimeStatus
	Dependencies DependencyStatus
	Healthy      bool
	Issues       []string
	Warnings     []string
}

// nodeVersion runs `node --version`. Tests replace it.
var nodeVersion = func() (path, version string, err error) {
	path, err = exec.LookPath("node")
	if err != nil {
		return "", "", err
	}
	out, err := exec.Command(path, "--version").Output()
	if err != nil {
		return path, "", err
	}
	return path, strings.TrimSpace(string(out)), nil
}

// Diagnose checks the project described by cfg.
func Diagnose(cfg config.Config) Diagnosis {
	d := Diagnosis{
		ProjectPath: cfg.Root,
		Runtime:     checkNodeRuntime(),
	}

	if !d.Runtime.Installed {
		d.Issues = append(d.Issues, "Node.js runtime is not installed. Install it from https://nodejs.org")
	} else if major, ok := nodeMajor(d.Runtime.Version); ok && major < MinNodeMajor {
		d.Issues = append(d.Issues, fmt.Sprintf("Node.js %s is too old, %d or newer is required", d.Runtime.Version, MinNodeMajor))
	}

	d.Dependencies = checkNodeDependencies(cfg.Root)
	switch {
	case d.Dependencies.ConfigFile == "":
		d.Issues = append(d.Issues, "package.json not found. Run 'ark init' to create a project")
	case !d.Dependencies.ManagerInstalled:
		d.Issues = append(d.Issues, d.Dependencies.ManagerHint)
	case !d.Dependencies.Installed:
		d.Issues = append(d.Issues, fmt.Sprintf("Dependencies are not installed. Run '%s'", d.Dependencies.InstallCommand))
	case len(d.Dependencies.MissingPackages) > 0:
		d.Issues = append(d.Issues, fmt.Sprintf("Missing packages: %s. Run '%s'",
			strings.Join(d.Dependencies.MissingPackages, ", "), d.Dependencies.InstallCommand))
	}

	entry := filepath.Join(cfg.SrcPath(), "app.tsx")
	if _, err := os.Stat(entry); err != nil {
		d.Issues = append(d.Issues, fmt.Sprintf("%s not found", rel(cfg.Root, entry)))
	}

	manifest := filepath.Join(cfg.SrcPath(), "ark.json")
	if data, err := os.ReadFile(manifest); err != nil {
		d.Warnings = append(d.Warnings, fmt.Sprintf("%s not found, no routes will be registered", rel(cfg.Root, manifest)))
	} else if !json.Valid(data) {
		d.Issues = append(d.Issues, fmt.Sprintf("%s is not valid JSON", rel(cfg.Root, manifest)))
	}

	if refs, err := ScanEnvRefs(cfg.SrcPath()); err == nil {
		for _, r := range MissingSecrets(cfg, refs) {
			d.Warnings = append(d.Warnings, fmt.Sprintf("%s is used at %s:%d but not set in %s",
				r.Name, rel(cfg.Root, r.File), r.Line, strings.Join(cfg.DevServer.EnvFiles, ", ")))
		}
	}

	for _, port := range []int{cfg.DevServer.Port, cfg.DevServer.AppPort} {
		if owner, busy := ports.ProcessOnPort(port); busy {
			d.Warnings = append(d.Warnings, fmt.Sprintf("port %d is in use by %s", port, owner))
		}
	}

	d.Healthy = len(d.Issues) == 0
	return d
}

func checkNodeRuntime() RuntimeStatus {
	status := RuntimeStatus{Name: "Node.js"}
	path, version, err := nodeVersion()
	status.Path = path
	if err == nil {
		status.Installed = true
		status.Version = version
	}
	return status
}

func nodeMajor(version string) (int, bool) {
	major, _, _ := strings.Cut(strings.TrimPrefix(version, "v"), ".")
	n, err := strconv.Atoi(major)
	return n, err == nil
}

func checkNodeDependencies(projectPath string) DependencyStatus {
	status := DependencyStatus{Manager: "npm", ManagerInstalled: true}

	if _, err := os.Stat(filepath.Join(projectPath, "package.json")); err != nil {
		return status
	}
	status.ConfigFile = "package.json"

	pm := provisioner.Check(projectPath)
	status.Manager = string(pm.Manager)
	status.ManagerInstalled = pm.IsAvailable
	status.ManagerHint = pm.InstallHint
	status.IsMonorepo = pm.IsMonorepo
	status.InstallCommand = strings.Join(provisioner.DetectPackageManager(projectPath).InstallCommand, " ")

	if _, err := os.Stat(filepath.Join(projectPath, "node_modules")); err == nil {
		status.Installed = true
	}
	if status.Installed {
		for _, pkg := range RuntimePackages {
			if _, err := os.Stat(filepath.Join(projectPath, "node_modules", pkg, "package.json")); err != nil {
				status.MissingPackages = append(status.MissingPackages, pkg)
			}
		}
	}
	return status
}

func rel(root, path string) string {
	if r, err := filepath.Rel(root, path); err == nil {
		return r
	}
	return path
}
