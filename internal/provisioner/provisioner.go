// Package provisioner detects a project's JavaScript package manager and
// installs its dependencies.
package provisioner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// PackageManager represents a detected package manager
type PackageManager string

const (
	NPM  PackageManager = "npm"
	PNPM PackageManager = "pnpm"
	Yarn PackageManager = "yarn"
	Bun  PackageManager = "bun"
)

// PackageManagerInfo contains details about the detected package manager
type PackageManagerInfo struct {
	Manager        PackageManager
	LockFile       string
	InstallCommand []string
	IsMonorepo     bool
	Installed      bool
	Version        string
}

// lookup order: the first lock file present decides.
var lockFiles = []struct {
	file    string
	manager PackageManager
}{
	{"pnpm-lock.yaml", PNPM},
	{"pnpm-workspace.yaml", PNPM},
	{"bun.lockb", Bun},
	{"bun.lock", Bun},
	{"yarn.lock", Yarn},
	{"package-lock.json", NPM},
}

// versionOf reports whether a command is on PATH and its --version output.
// Tests replace it.
var versionOf = func(name string) (bool, string) {
	out, err := exec.Command(name, "--version").Output()
	if err != nil {
		return false, ""
	}
	return true, strings.TrimSpace(string(out))
}

type packageJSON struct {
	PackageManager string          `json:"packageManager"`
	Workspaces     json.RawMessage `json:"workspaces"`
}

func readPackageJSON(projectPath string) (packageJSON, bool) {
	var pkg packageJSON
	data, err := os.ReadFile(filepath.Join(projectPath, "package.json"))
	if err != nil {
		return pkg, false
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return pkg, false
	}
	return pkg, true
}

// DetectPackageManager picks the package manager from the package.json
// "packageManager" field, then lock files, falling back to npm.
func DetectPackageManager(projectPath string) PackageManagerInfo {
	info := PackageManagerInfo{Manager: NPM, LockFile: "package-lock.json"}
	pkg, hasPkg := readPackageJSON(projectPath)

	found := false
	if hasPkg && pkg.PackageManager != "" {
		name, _, _ := strings.Cut(pkg.PackageManager, "@")
		switch PackageManager(name) {
		case NPM, PNPM, Yarn, Bun:
			info.Manager = PackageManager(name)
			found = true
		}
	}
	for _, lf := range lockFiles {
		if _, err := os.Stat(filepath.Join(projectPath, lf.file)); err != nil {
			continue
		}
		if !found {
			info.Manager = lf.manager
			found = true
		}
		if lf.manager == info.Manager {
			info.LockFile = lf.file
			break
		}
	}

	switch info.Manager {
	case PNPM:
		_, err := os.Stat(filepath.Join(projectPath, "pnpm-workspace.yaml"))
		info.IsMonorepo = err == nil
		if info.LockFile == "pnpm-workspace.yaml" {
			info.LockFile = "pnpm-lock.yaml"
		}
	default:
		info.IsMonorepo = hasPkg && len(pkg.Workspaces) > 0 && string(pkg.Workspaces) != "null"
	}

	info.InstallCommand = []string{string(info.Manager), "install"}
	if info.Manager == PNPM && info.IsMonorepo {
		info.InstallCommand = append(info.InstallCommand, "-r")
	}
	info.Installed, info.Version = versionOf(string(info.Manager))
	return info
}

// CheckResult represents the result of checking package manager availability
type CheckResult struct {
	Manager     PackageManager
	IsAvailable bool
	Version     string
	InstallHint string
	IsMonorepo  bool
}

// Check verifies if the required package manager is available
func Check(projectPath string) CheckResult {
	info := DetectPackageManager(projectPath)

	result := CheckResult{
		Manager:     info.Manager,
		IsAvailable: info.Installed,
		Version:     info.Version,
		IsMonorepo:  info.IsMonorepo,
	}
	if !info.Installed {
		result.InstallHint = InstallHint(info.Manager)
	}
	return result
}

// InstallDependencies runs the install command of the detected package
// manager, streaming its output to out.
func InstallDependencies(ctx context.Context, projectPath string, out io.Writer) error {
	info := DetectPackageManager(projectPath)
	if !info.Installed {
		return fmt.Errorf("%s is not installed. %s", info.Manager, InstallHint(info.Manager))
	}

	cmd := exec.CommandContext(ctx, info.InstallCommand[0], info.InstallCommand[1:]...)
	cmd.Dir = projectPath
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w", strings.Join(info.InstallCommand, " "), err)
	}
	return nil
}

// InstallHint tells the user how to get a missing package manager.
func InstallHint(manager PackageManager) string {
	switch manager {
	case PNPM:
		return "Please run 'corepack enable pnpm' to continue."
	case Yarn:
		return "Please run 'corepack enable yarn' to continue."
	case Bun:
		return "Please install bun from https://bun.sh or run 'curl -fsSL https://bun.sh/install | bash'"
	case NPM:
		return "Please install Node.js from https://nodejs.org"
	default:
		return ""
	}
}
