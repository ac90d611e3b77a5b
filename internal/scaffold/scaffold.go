// Package scaffold creates projects from the base template and moves
// feature templates to and from the registry.
package scaffold

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/magicjsdev/ark/internal/config"
	"github.com/magicjsdev/ark/internal/provisioner"
)

const (
	DownloadPath = "/___service/compass/downloadTemplate"
	PublishPath  = "/___service/compass/publishTemplate"

	// FeatureConfig is the per-feature manifest carrying the packageId.
	FeatureConfig = "config.json"
)

var (
	ErrFeatureExists  = errors.New("feature already exists")
	ErrFeatureMissing = errors.New("feature does not exist")
	ErrDirNotEmpty    = errors.New("directory is not empty")
)

// Step reports progress of a multi-step operation.
type Step func(step, total int, msg string)

// Scaffolder talks to the template sources.
type Scaffolder struct {
	client *http.Client
	logger *zap.Logger
	// Install and git are swapped in tests.
	install func(ctx context.Context, dir string, out io.Writer) error
	git     func(ctx context.Context, dir string, args ...string) error
}

// New creates a Scaffolder.
func New(logger *zap.Logger) *Scaffolder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scaffolder{
		client:  &http.Client{Timeout: 5 * time.Minute},
		logger:  logger.Named("scaffold"),
		install: provisioner.InstallDependencies,
		git:     runGit,
	}
}

// InitOptions controls Init.
type InitOptions struct {
	Dir         string
	TemplateURL string
	Force       bool
	SkipInstall bool
	SkipGit     bool
	// Output receives the package manager's output.
	Output   io.Writer
	Progress Step
}

// Init downloads the base template into opts.Dir, installs dependencies and
// makes the initial commit.
func (s *Scaffolder) Init(ctx context.Context, opts InitOptions) error {
	progress := opts.Progress
	if progress == nil {
		progress = func(int, int, string) {}
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	if opts.TemplateURL == "" {
		opts.TemplateURL = config.Default().TemplateURL
	}
	const total = 4

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return err
	}
	if !opts.Force {
		empty, err := isEmpty(opts.Dir)
		if err != nil {
			return err
		}
		if !empty {
			return fmt.Errorf("%s: %w (use --force to scaffold anyway)", opts.Dir, ErrDirNotEmpty)
		}
	}

	progress(1, total, "Cloning files...")
	body, err := s.download(ctx, opts.TemplateURL)
	if err != nil {
		return err
	}
	n, err := extractTarGz(body, opts.Dir, 1)
	body.Close()
	if err != nil {
		return fmt.Errorf("failed to extract template: %w", err)
	}
	s.logger.Debug("template extracted", zap.Int("files", n), zap.String("dir", opts.Dir))

	progress(2, total, "Writing "+config.FileName+"...")
	cfgPath := filepath.Join(opts.Dir, config.FileName)
	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		cfg := config.Default()
		cfg.Name = filepath.Base(opts.Dir)
		if err := config.Write(cfgPath, cfg); err != nil {
			return err
		}
	}

	if opts.SkipInstall {
		progress(3, total, "Skipping dependency install")
	} else {
		progress(3, total, "Installing dependencies...")
		if err := s.install(ctx, opts.Dir, opts.Output); err != nil {
			return err
		}
	}

	if opts.SkipGit {
		progress(4, total, "Skipping git setup")
		return nil
	}
	progress(4, total, "Setting up git...")
	return s.initRepo(ctx, opts.Dir)
}

func (s *Scaffolder) initRepo(ctx context.Context, dir string) error {
	steps := [][]string{
		{"init"},
		{"config", "--local", "user.email", "bot@skyslit.dev"},
		{"config", "--local", "user.name", "developer"},
		{"add", "-A"},
		{"commit", "-m", "chore: initial commit"},
	}
	for _, args := range steps {
		if err := s.git(ctx, dir, args...); err != nil {
			return err
		}
	}
	return nil
}

func runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// AddFeature downloads the template packageID from the registry into
// src/features/<name>.
func (s *Scaffolder) AddFeature(ctx context.Context, cfg config.Config, name, packageID string) (string, error) {
	dir, err := featureDir(cfg, name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(dir); err == nil {
		return "", fmt.Errorf("feature %q: %w, choose a new name", name, ErrFeatureExists)
	}
	if packageID == "" {
		return "", errors.New("packageId is required")
	}

	u := strings.TrimRight(cfg.RegistryURL, "/") + DownloadPath + "?packageId=" + url.QueryEscape(packageID)
	body, err := s.download(ctx, u)
	if err != nil {
		return "", err
	}
	defer body.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	n, err := extractTarGz(body, dir, 0)
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to extract feature: %w", err)
	}
	s.logger.Debug("feature added", zap.String("feature", name), zap.String("packageId", packageID), zap.Int("files", n))
	return dir, nil
}

// Publish packs src/features/<name> and uploads it under the packageId from
// its config.json.
func (s *Scaffolder) Publish(ctx context.Context, cfg config.Config, name, secretKey string) (string, error) {
	dir, err := featureDir(cfg, name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("feature %q: %w", name, ErrFeatureMissing)
	}

	raw, err := os.ReadFile(filepath.Join(dir, FeatureConfig))
	if err != nil {
		return "", fmt.Errorf("feature %q has no %s", name, FeatureConfig)
	}
	var meta struct {
		PackageID string `json:"packageId"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", fmt.Errorf("%s should be valid JSON: %w", FeatureConfig, err)
	}
	if meta.PackageID == "" {
		return "", fmt.Errorf("packageId is invalid or not found in %s", FeatureConfig)
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	archive, err := form.CreateFormFile("archive", "archive.tar.gz")
	if err != nil {
		return "", err
	}
	if err := packTarGz(archive, dir); err != nil {
		return "", fmt.Errorf("failed to pack feature: %w", err)
	}
	if err := form.WriteField("config", string(raw)); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	u := strings.TrimRight(cfg.RegistryURL, "/") + PublishPath + "?packageId=" + url.QueryEscape(meta.PackageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("secretkey", secretKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("publish failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("publish failed: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	s.logger.Debug("feature published", zap.String("feature", name), zap.String("packageId", meta.PackageID))
	return meta.PackageID, nil
}

func (s *Scaffolder) download(ctx context.Context, u string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download %s failed: %s", u, resp.Status)
	}
	return resp.Body, nil
}

func featureDir(cfg config.Config, name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid feature name %q", name)
	}
	return filepath.Join(cfg.SrcPath(), "features", name), nil
}

func isEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			return false, nil
		}
	}
	return true, nil
}
