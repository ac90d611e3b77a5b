package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the project configuration file looked up in the project root.
const FileName = "ark.yaml"

// ErrNotFound is returned by Read when the configuration file does not exist.
var ErrNotFound = errors.New("config file not found")

// RestartPolicy decides which finished compile passes restart the app server.
type RestartPolicy string

const (
	// RestartAlways restarts after every finished pass, errors included.
	RestartAlways RestartPolicy = "always"
	// RestartNoErrors skips the restart while any error is reported.
	RestartNoErrors RestartPolicy = "no-errors"
	// RestartStrict only restarts on passes with no errors and no warnings.
	RestartStrict RestartPolicy = "strict"
)

// Valid reports whether p is one of the known policies.
func (p RestartPolicy) Valid() bool {
	switch p {
	case RestartAlways, RestartNoErrors, RestartStrict:
		return true
	}
	return false
}

// DevServer holds the settings of `ark start`.
type DevServer struct {
	Port           int           `yaml:"port"`
	AppPort        int           `yaml:"app_port"`
	RuntimeURL     string        `yaml:"runtime_url,omitempty"`
	RestartPolicy  RestartPolicy `yaml:"restart_policy"`
	LivenessGrace  time.Duration `yaml:"liveness_grace"`
	LivenessMarker string        `yaml:"liveness_marker"`
	ReadinessPath  string        `yaml:"readiness_path,omitempty"`
	EnvFiles       []string      `yaml:"env_files,omitempty"`
	TLSCert        string        `yaml:"tls_cert,omitempty"`
	TLSKey         string        `yaml:"tls_key,omitempty"`
}

// Config is the project configuration stored in ark.yaml.
type Config struct {
	Name        string    `yaml:"name"`
	SrcDir      string    `yaml:"src_dir"`
	BuildDir    string    `yaml:"build_dir"`
	RegistryURL string    `yaml:"registry_url"`
	TemplateURL string    `yaml:"template_url"`
	DevServer   DevServer `yaml:"dev_server"`

	// Root is the absolute project directory; it is not persisted.
	Root string `yaml:"-"`
}

// Default returns the configuration used when no ark.yaml is present.
func Default() Config {
	return Config{
		SrcDir:      "src",
		BuildDir:    "build",
		RegistryURL: "https://app.mern.ai",
		TemplateURL: "https://api.github.com/repos/skyslit/magicjs.dev-base/tarball",
		DevServer: DevServer{
			Port:           3001,
			AppPort:        3000,
			RestartPolicy:  RestartAlways,
			LivenessGrace:  3 * time.Second,
			LivenessMarker: "Listening on port",
			EnvFiles:       []string{".env"},
		},
	}
}

// Write writes the configuration as a YAML file.
func Write(path string, cfg Config) error {
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Read reads a YAML file on top of the defaults.
func Read(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, ErrNotFound
		}
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load resolves the configuration for the project in root. An explicit path
// must exist; the implicit root/ark.yaml falls back to defaults.
func Load(root, path string) (Config, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Config{}, err
	}

	explicit := path != ""
	if !explicit {
		path = filepath.Join(abs, FileName)
	}

	cfg, err := Read(path)
	switch {
	case errors.Is(err, ErrNotFound) && !explicit:
		cfg = Default()
	case err != nil:
		return Config{}, err
	}

	if cfg.Name == "" {
		cfg.Name = packageName(abs)
	}
	cfg.Root = abs
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if !c.DevServer.RestartPolicy.Valid() {
		return fmt.Errorf("invalid configuration: unknown restart_policy %q", c.DevServer.RestartPolicy)
	}
	if c.DevServer.Port < 0 || c.DevServer.Port > 65535 {
		return fmt.Errorf("invalid configuration: port %d out of range", c.DevServer.Port)
	}
	if c.DevServer.AppPort < 0 || c.DevServer.AppPort > 65535 {
		return fmt.Errorf("invalid configuration: app_port %d out of range", c.DevServer.AppPort)
	}
	if (c.DevServer.TLSCert == "") != (c.DevServer.TLSKey == "") {
		return errors.New("invalid configuration: tls_cert and tls_key must be set together")
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ARK_RUNTIME_URL"); v != "" {
		c.DevServer.RuntimeURL = v
	}
	if v := os.Getenv("ARK_DEV_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.DevServer.Port = port
		}
	}
}

// SrcPath returns the absolute source directory.
func (c Config) SrcPath() string { return c.abs(c.SrcDir) }

// BuildPath returns the absolute build output directory.
func (c Config) BuildPath() string { return c.abs(c.BuildDir) }

// ServerArtifact is the backend bundle the app server runs from.
func (c Config) ServerArtifact() string {
	return filepath.Join(c.BuildPath(), "server", "main.js")
}

func (c Config) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// LoadEnv reads the configured env files in order; later files win. Missing
// files are skipped.
func (c Config) LoadEnv() (map[string]string, error) {
	env := map[string]string{}
	for _, name := range c.DevServer.EnvFiles {
		path := c.abs(name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		vals, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		for k, v := range vals {
			env[k] = v
		}
	}
	return env, nil
}

// PackageJSON is the subset of package.json the tooling reads.
type PackageJSON struct {
	Name             string            `json:"name"`
	Version          string            `json:"version"`
	Dependencies     map[string]string `json:"dependencies"`
	PeerDependencies map[string]string `json:"peerDependencies"`
	MagicJSConfig    struct {
		CompilerOptions struct {
			ServerBundleAllowList []string `json:"serverBundleAllowList"`
		} `json:"compilerOptions"`
	} `json:"magicjsConfig"`
}

// ReadPackageJSON parses root/package.json.
func ReadPackageJSON(root string) (PackageJSON, error) {
	var pkg PackageJSON
	data, err := os.ReadFile(filepath.Join(root, "package.json"))
	if err != nil {
		return pkg, err
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return pkg, fmt.Errorf("invalid package.json: %w", err)
	}
	return pkg, nil
}

func packageName(root string) string {
	if pkg, err := ReadPackageJSON(root); err == nil && pkg.Name != "" {
		return pkg.Name
	}
	return filepath.Base(root)
}
